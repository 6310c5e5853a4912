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
	"sync"
	"time"
)

// Deadline is a single-shot timer for the provisioning session. It is
// never rearmed while armed; Disarm is safe at any time.
type Deadline struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64 // handle of the armed instance (0 = none)
}

// Arm the deadline: fire(gen) is called once after d unless the deadline
// is disarmed first. Arming an armed deadline is ignored.
func (dl *Deadline) Arm(gen uint64, d time.Duration, fire func(gen uint64)) bool {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if dl.timer != nil {
		return false
	}
	dl.gen = gen
	dl.timer = time.AfterFunc(d, func() {
		dl.mu.Lock()
		live := dl.gen == gen && dl.timer != nil
		if live {
			dl.timer = nil
			dl.gen = 0
		}
		dl.mu.Unlock()
		if live {
			fire(gen)
		}
	})
	return true
}

// Disarm the deadline. No-op if it already fired or was never armed.
func (dl *Deadline) Disarm() {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if dl.timer != nil {
		dl.timer.Stop()
		dl.timer = nil
	}
	dl.gen = 0
}

// Armed returns the handle of the armed deadline (0 if none).
func (dl *Deadline) Armed() uint64 {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.gen
}
