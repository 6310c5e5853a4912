//go:build !rp2350

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
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service types
const (
	ServiceTypeProvisioning = "_netprov._tcp"
	ServiceTypeStatus       = "_9p._tcp"
	mdnsDomain              = "local."
)

// MDNSAdvertiser announces one service instance via zeroconf.
type MDNSAdvertiser struct {
	mu      sync.Mutex
	kind    string
	iface   string
	ttl     uint32
	server  *zeroconf.Server
	running string // instance currently announced
}

// NewMDNSAdvertiser for the given service type on an interface (empty
// name = all interfaces).
func NewMDNSAdvertiser(kind, iface string) *MDNSAdvertiser {
	return &MDNSAdvertiser{kind: kind, iface: iface, ttl: 120}
}

func (a *MDNSAdvertiser) interfaces() []net.Interface {
	if a.iface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.iface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// Advertise the service instance; a running announcement is replaced.
func (a *MDNSAdvertiser) Advertise(instance string, port int, txt []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	server, err := zeroconf.Register(
		instance,
		a.kind,
		mdnsDomain,
		port,
		txt,
		a.interfaces(),
		zeroconf.TTL(a.ttl),
	)
	if err != nil {
		return fmt.Errorf("failed to register %s service: %w", a.kind, err)
	}
	a.server, a.running = server, instance
	return nil
}

// Instance returns the announced instance name (empty if none).
func (a *MDNSAdvertiser) Instance() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Shutdown the announcement.
func (a *MDNSAdvertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server, a.running = nil, ""
	}
}
