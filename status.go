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
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// fatal setup codes (blinked as groups when the device can't run)
const (
	StatUNK     = iota // unknown status (init)
	StatOK             // processing active
	StatDEV            // device failure
	StatCFG            // invalid configuration
	StatNS             // namespace construction failed
	StatSRV            // can't serve namespace
	StatSTORE          // credential store failed
	StatWIFI           // radio init failed
	StatSESSION        // provisioning transport failed
	StatLISTEN         // failed to create listener
	StatEXCP           // exception (panic) occured
)

// Status drives the LED from the current signal pattern. A new pattern
// restarts the sequence; setting the same pattern again is a no-op.
type Status struct {
	dev    Device
	logger *slog.Logger

	mu      sync.Mutex
	pattern Pattern
	change  chan struct{}

	code atomic.Int32 // fatal code (StatOK while running)
	done chan struct{}
}

// NewStatus creates a new status display and starts its driver.
func NewStatus(dev Device, logger *slog.Logger) *Status {
	state := &Status{
		dev:     dev,
		logger:  orDiscard(logger),
		pattern: Off,
		change:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	state.code.Store(StatOK)
	go state.run()
	return state
}

// SetPattern switches the displayed pattern.
func (state *Status) SetPattern(p Pattern) {
	if state == nil {
		return
	}
	state.mu.Lock()
	if state.pattern == p {
		state.mu.Unlock()
		return
	}
	state.pattern = p
	state.mu.Unlock()
	state.logger.Debug("status pattern", slog.String("pattern", p.String()))
	select {
	case state.change <- struct{}{}:
	default:
	}
}

// Pattern returns the current pattern.
func (state *Status) Pattern() Pattern {
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.pattern
}

// Set a fatal code; the LED blinks it until the device is reset.
func (state *Status) Set(code int) {
	if state != nil {
		state.code.Store(int32(code))
		select {
		case state.change <- struct{}{}:
		default:
		}
	}
}

// Code returns the current status code.
func (state *Status) Code() int {
	return int(state.code.Load())
}

// Close stops the driver (LED off).
func (state *Status) Close() {
	close(state.done)
}

// Trap critical failures (panic)
func (state *Status) Trap(t time.Duration) {
	if r := recover(); r != nil {
		fmt.Printf("EXCP: %v\n", r)
		if state.Code() == StatOK {
			state.Set(StatEXCP)
		}
	} else if state.Code() == StatOK {
		state.Set(StatUNK)
	}
	time.Sleep(t)
}

// wait for d; returns false if the pattern changed or the driver closed.
func (state *Status) wait(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-state.change:
		return false
	case <-state.done:
		return false
	}
}

func (state *Status) run() {
	for {
		select {
		case <-state.done:
			state.dev.LED(false)
			return
		default:
		}
		if code := state.Code(); code != StatOK {
			state.blinkCode(code)
			continue
		}
		if !state.play(state.Pattern()) {
			continue
		}
		// pattern settled: wait for the next change
		select {
		case <-state.change:
		case <-state.done:
		}
	}
}

// play the pattern once; returns false if interrupted. Endless patterns
// only return on interrupt.
func (state *Status) play(p Pattern) bool {
	if p.Steady() {
		state.dev.LED(p.Settle)
		return true
	}
	for n := 0; p.Repeat == 0 || n < p.Repeat; n++ {
		state.dev.LED(true)
		if !state.wait(p.Interval) {
			return false
		}
		state.dev.LED(false)
		if !state.wait(p.OffTime()) {
			return false
		}
	}
	state.dev.LED(p.Settle)
	return true
}

// blink LED <code> times (long blink for every 5), pause 5s
func (state *Status) blinkCode(num int) {
	state.dev.LED(false)
	if !state.wait(5 * time.Second) {
		return
	}
	for num > 5 {
		state.dev.LED(true)
		time.Sleep(1000 * time.Millisecond)
		state.dev.LED(false)
		time.Sleep(300 * time.Millisecond)
		num -= 5
	}
	for range num {
		state.dev.LED(true)
		time.Sleep(150 * time.Millisecond)
		state.dev.LED(false)
		time.Sleep(150 * time.Millisecond)
	}
}
