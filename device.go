//----------------------------------------------------------------------
// This file is part of netprov.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// netprov is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// netprov is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package netprov

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"
)

// Radio errors
var (
	ErrAuth      = errors.New("authentication failed")
	ErrNoAP      = errors.New("access point not found")
	ErrNoStation = errors.New("station not started")
)

// Device is a hardware abstraction
type Device interface {
	// LED on or off (if applicable)
	LED(on bool)

	// HardwareAddr of the network interface
	HardwareAddr() net.HardwareAddr
}

// Radio is the network transport of a device.
type Radio interface {
	// Station switches the radio to station mode (idempotent).
	Station() error

	// Join a network with the given credentials; returns the address once
	// the link is up. ErrAuth and ErrNoAP classify failures.
	Join(ctx context.Context, cred *Credentials) (netip.Addr, error)

	// Linked returns true while the link is up.
	Linked() bool

	// Disconnect from the network.
	Disconnect() error
}

// stationLink tracks a station join on a chip that reports its own link
// state. The link counts as up only while both agree.
type stationLink struct {
	mu     sync.Mutex
	joined bool
	up     func() bool
}

func (l *stationLink) set(joined bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.joined = joined
}

func (l *stationLink) linked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.joined && l.up()
}

// System offers the terminal power primitives.
type System interface {
	// Reboot the device unconditionally.
	Reboot()

	// DeepSleep for the given time; the device reboots on wake-up with
	// retained memory intact.
	DeepSleep(d time.Duration)
}

// Retained is a word of memory that survives a deep-sleep reboot but not
// a power loss.
type Retained interface {
	Load() (uint32, error)
	Store(uint32) error
}

// retained flag bits
const (
	FlagForced uint32 = 1 << iota // forced provisioning on next boot
	FlagBooted                    // set during the double reset window
)
