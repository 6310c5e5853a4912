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
	"time"
)

// Error messages
var (
	errThresholds = errors.New("button thresholds must satisfy factory-reset > provision > 0")
)

// ButtonKind of a raw button event.
type ButtonKind int

// button event kinds
const (
	ButtonPressed ButtonKind = iota
	ButtonReleased
)

// ButtonEvent as reported by the input monitor. LongPress is set once the
// press was held past the factory reset threshold (on the Pressed event
// reporting it and on the following release).
type ButtonEvent struct {
	Kind      ButtonKind
	LongPress bool
	Length    time.Duration
}

// Thresholds for classifying button presses.
type Thresholds struct {
	Provision    time.Duration // release after this long requests provisioning
	FactoryReset time.Duration // holding this long requests factory reset
}

// Validate the threshold ordering.
func (th Thresholds) Validate() error {
	if th.Provision <= 0 || th.FactoryReset <= th.Provision {
		return errThresholds
	}
	return nil
}

// Classify a button event. Short releases are plain clicks and never
// touch connectivity.
func Classify(ev ButtonEvent, th Thresholds) Intent {
	switch {
	case ev.Kind == ButtonPressed && ev.LongPress:
		return IntentFactoryReset
	case ev.Kind == ButtonReleased && ev.LongPress:
		// already handled on press
		return IntentNone
	case ev.Kind == ButtonReleased && ev.Length > th.Provision:
		return IntentForceProvisioning
	case ev.Kind == ButtonReleased:
		return IntentClick
	}
	return IntentNone
}

//----------------------------------------------------------------------

// ButtonMonitor polls a button level and reports press/release events.
type ButtonMonitor struct {
	pressed func() bool       // true while the button is held
	long    time.Duration     // long press threshold
	poll    time.Duration     // polling interval
	emit    func(ButtonEvent) // event sink
	now     func() time.Time
}

// NewButtonMonitor creates a monitor; pressed reads the debounced level.
func NewButtonMonitor(pressed func() bool, long time.Duration, emit func(ButtonEvent)) *ButtonMonitor {
	return &ButtonMonitor{
		pressed: pressed,
		long:    long,
		poll:    defaultButtonPollPeriod,
		emit:    emit,
		now:     time.Now,
	}
}

// Run polls the button until the context is cancelled.
func (m *ButtonMonitor) Run(ctx context.Context) {
	tick := time.NewTicker(m.poll)
	defer tick.Stop()
	var (
		down  bool
		long  bool
		start time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		level := m.pressed()
		switch {
		case level && !down:
			down, long, start = true, false, m.now()
			m.emit(ButtonEvent{Kind: ButtonPressed})
		case level && !long && m.now().Sub(start) >= m.long:
			long = true
			m.emit(ButtonEvent{Kind: ButtonPressed, LongPress: true, Length: m.now().Sub(start)})
		case !level && down:
			down = false
			m.emit(ButtonEvent{Kind: ButtonReleased, LongPress: long, Length: m.now().Sub(start)})
		}
	}
}
