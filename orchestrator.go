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
	"log/slog"
	"sync"
	"time"
)

// Error messages
var (
	ErrHalted = errors.New("device halted")
)

// Indicator is the status signal driver.
type Indicator interface {
	SetPattern(Pattern)
}

// Supervision is the reconnection supervisor as seen by the orchestrator.
type Supervision interface {
	Pause()
	Resume()
	Subscribe(func(Event))
}

// Collaborators of the orchestrator.
type Collaborators struct {
	Indicator  Indicator
	Store      CredentialStore
	Radio      Radio
	Supervisor Supervision
	Session    Session
	System     System
	Flags      *BootFlags
}

// Options of the orchestrator.
type Options struct {
	Service        string        // advertised provisioning service name
	Security       Security      // provisioning security level
	Timeout        time.Duration // provisioning deadline
	SettleDelay    time.Duration // grace period before reboot or deep sleep
	DeepSleepDelay time.Duration // deep sleep time for forced provisioning
	Pulses         int           // indicator pulses on link up
}

//----------------------------------------------------------------------

// Orchestrator runs the connectivity state machine. Events from all
// collaborators are queued and handled one at a time by Run; Handle may
// be used directly from a context that is already serialized.
type Orchestrator struct {
	opts     Options
	co       Collaborators
	logger   *slog.Logger
	deadline Deadline

	mu    sync.RWMutex // guards state for readers outside the loop
	state State

	qmu   sync.Mutex
	queue []Event
	ready chan struct{}

	sessionStopped bool // Stop called on the current session
	sessionDeinit  bool // Deinit called on the current session

	// OnClick is called for plain button clicks (application action).
	OnClick func()

	// OnTransition is called after every handled event.
	OnTransition func(ev Event, from, to State, effs Effects)
}

// NewOrchestrator creates an orchestrator and subscribes it to the
// event sources among the collaborators.
func NewOrchestrator(opts Options, co Collaborators, logger *slog.Logger) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProvTimeout
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.DeepSleepDelay <= 0 {
		opts.DeepSleepDelay = DefaultDeepSleepDelay
	}
	o := &Orchestrator{
		opts:   opts,
		co:     co,
		logger: orDiscard(logger),
		ready:  make(chan struct{}, 1),
		state:  State{Pulses: opts.Pulses},
	}
	if co.Supervisor != nil {
		co.Supervisor.Subscribe(o.Post)
	}
	if co.Session != nil {
		co.Session.Subscribe(o.Post)
	}
	return o
}

// State returns a copy of the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Boot reads the persisted provisioning state and the forced-provisioning
// flag (clearing it) and handles the boot event.
func (o *Orchestrator) Boot() {
	var forced bool
	if o.co.Flags != nil {
		var err error
		if forced, err = o.co.Flags.Consume(); err != nil {
			o.logger.Error("boot flags", slog.String("err", err.Error()))
		}
	}
	provisioned := o.co.Store.Provisioned()
	o.logger.Info("boot",
		slog.Bool("provisioned", provisioned),
		slog.Bool("forced", forced))
	o.Handle(Boot{Provisioned: provisioned, Forced: forced})
}

// Post queues an event; it never blocks.
func (o *Orchestrator) Post(ev Event) {
	o.qmu.Lock()
	o.queue = append(o.queue, ev)
	o.qmu.Unlock()
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

// HandleButton classifies a raw button event and posts the intent.
func (o *Orchestrator) HandleButton(ev ButtonEvent, th Thresholds) {
	if in := Classify(ev, th); in != IntentNone {
		o.Post(UserIntent{Intent: in})
	}
}

// Run handles queued events until the context is cancelled or a terminal
// transition was issued (ErrHalted).
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		for {
			ev, ok := o.next()
			if !ok {
				break
			}
			o.Handle(ev)
			if o.State().Halted {
				return ErrHalted
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.ready:
		}
	}
}

func (o *Orchestrator) next() (Event, bool) {
	o.qmu.Lock()
	defer o.qmu.Unlock()
	if len(o.queue) == 0 {
		return nil, false
	}
	ev := o.queue[0]
	o.queue = o.queue[1:]
	return ev, true
}

// Handle one event: compute the transition and apply its effects.
func (o *Orchestrator) Handle(ev Event) {
	o.mu.Lock()
	from := o.state
	to, effs := Transition(from, ev)
	o.state = to
	o.mu.Unlock()

	if from.Phase != to.Phase || len(effs) > 0 {
		o.logger.Info("transition",
			slog.String("event", ev.String()),
			slog.String("from", from.Phase.String()),
			slog.String("to", to.Phase.String()),
			slog.String("effects", effs.String()))
	} else {
		o.logger.Debug("event ignored",
			slog.String("event", ev.String()),
			slog.String("phase", from.Phase.String()))
	}
	for _, eff := range effs {
		o.apply(eff)
	}
	if o.OnTransition != nil {
		o.OnTransition(ev, from, to, effs)
	}
}

// apply a single side effect. Collaborator failures are logged; none of
// them stops the state machine.
func (o *Orchestrator) apply(eff Effect) {
	var err error
	switch eff.Kind {
	case EffStartSession:
		o.sessionStopped, o.sessionDeinit = false, false
		err = o.co.Session.Start(o.opts.Service, o.opts.Security)
	case EffStopSession:
		if !o.sessionStopped && !o.sessionDeinit {
			o.sessionStopped = true
			err = o.co.Session.Stop()
		}
	case EffDeinitSession:
		if !o.sessionDeinit {
			o.sessionDeinit = true
			err = o.co.Session.Deinit()
		}
	case EffArmDeadline:
		o.deadline.Arm(eff.Gen, o.opts.Timeout, func(gen uint64) {
			o.logger.Info("provisioning timeout")
			o.Post(DeadlineExpired{Gen: gen})
		})
	case EffDisarmDeadline:
		o.deadline.Disarm()
	case EffStartStation:
		o.logger.Info("starting wifi in sta mode")
		err = o.co.Radio.Station()
	case EffResume:
		o.co.Supervisor.Resume()
	case EffPause:
		o.co.Supervisor.Pause()
	case EffDisconnect:
		err = o.co.Radio.Disconnect()
	case EffErase:
		o.logger.Warn("erase credentials")
		err = o.co.Store.Erase()
	case EffSetForced:
		if o.co.Flags != nil {
			err = o.co.Flags.Force()
		}
	case EffSettle:
		// let asynchronous disconnects finish
		time.Sleep(o.opts.SettleDelay)
	case EffReboot:
		o.logger.Warn("reboot")
		o.co.System.Reboot()
	case EffDeepSleep:
		o.logger.Warn("deep sleep", slog.Duration("delay", o.opts.DeepSleepDelay))
		o.co.System.DeepSleep(o.opts.DeepSleepDelay)
	case EffPattern:
		o.co.Indicator.SetPattern(eff.Pattern)
	case EffClick:
		o.logger.Info("user click")
		if o.OnClick != nil {
			o.OnClick()
		}
	}
	if err != nil {
		o.logger.Error("effect failed",
			slog.String("effect", eff.Kind.String()),
			slog.String("err", err.Error()))
	}
}
