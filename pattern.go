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
	"time"
)

// indicator timings
const (
	ConnectingInterval = 500 * time.Millisecond // slow blink
	ProvInterval       = 100 * time.Millisecond // fast blink
	ReadyInterval      = 100 * time.Millisecond // pulses after link up
	ReadyPulses        = 3
)

// Pattern is an indicator configuration. An Interval of zero shows a
// steady level (Settle). Otherwise the indicator toggles every Interval
// (on for Interval, off for 3*Interval if not Symmetric); if Repeat > 0
// it stops after Repeat pulses and settles at the Settle level.
type Pattern struct {
	Interval  time.Duration
	Symmetric bool
	Repeat    int
	Settle    bool
}

// Off is the idle pattern.
var Off = Pattern{}

// Steady returns true if the pattern does not blink.
func (p Pattern) Steady() bool {
	return p.Interval <= 0
}

// Duration of a finite pattern until it settles; zero if it blinks forever
// or is steady.
func (p Pattern) Duration() time.Duration {
	if p.Steady() || p.Repeat <= 0 {
		return 0
	}
	return time.Duration(p.Repeat) * (p.Interval + p.OffTime())
}

// OffTime returns how long the indicator stays dark within one pulse.
func (p Pattern) OffTime() time.Duration {
	if p.Symmetric {
		return p.Interval
	}
	return 3 * p.Interval
}

// String returns a compact pattern description
func (p Pattern) String() string {
	if p.Steady() {
		if p.Settle {
			return "on"
		}
		return "off"
	}
	s := fmt.Sprintf("blink(%s", p.Interval)
	if !p.Symmetric {
		s += ",short"
	}
	if p.Repeat > 0 {
		s += fmt.Sprintf(",x%d", p.Repeat)
	}
	return s + ")"
}

// PatternFor maps a phase to its indicator pattern. pulses is the number
// of pulses shown when the link comes up (ReadyPulses if not positive).
func PatternFor(phase Phase, pulses int) Pattern {
	switch phase {
	case PhaseUnprovisioned, PhaseProvisioning, PhaseProvisioningTimedOut:
		return Pattern{Interval: ProvInterval, Symmetric: true}
	case PhaseConnecting, PhaseDisconnected:
		return Pattern{Interval: ConnectingInterval, Symmetric: true}
	case PhaseConnected:
		if pulses <= 0 {
			pulses = ReadyPulses
		}
		return Pattern{Interval: ReadyInterval, Repeat: pulses}
	case PhaseFactoryResetting:
		return Pattern{Settle: true}
	}
	return Off
}
