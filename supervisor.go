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
	"math/rand/v2"
	"net/netip"
	"sync"
	"time"
)

// Backoff defaults
const (
	InitialBackoff = time.Second
	MaxBackoff     = time.Minute
	JitterFactor   = 0.25
	JoinTimeout    = 30 * time.Second
	LinkPoll       = time.Second
)

// Backoff calculates exponential reconnect delays with jitter.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
	current time.Duration
}

// Next returns the next delay and doubles the base delay up to Max.
func (b *Backoff) Next() time.Duration {
	if b.current <= 0 {
		b.current = b.Initial
	}
	d := b.current
	if b.Jitter > 0 {
		d += time.Duration(float64(d) * b.Jitter * rand.Float64())
	}
	if b.current *= 2; b.current > b.Max {
		b.current = b.Max
	}
	return d
}

// Reset the backoff after a successful connect.
func (b *Backoff) Reset() {
	b.current = b.Initial
}

//----------------------------------------------------------------------

// Supervisor is the reconnection supervisor: once resumed it joins the
// stored network, retries with backoff and watches the link forever.
type Supervisor struct {
	mu        sync.Mutex
	radio     Radio
	store     CredentialStore
	logger    *slog.Logger
	backoff   Backoff
	running   bool          // resumed
	connected bool          // link up
	wake      chan struct{} // resume signal
	changed   chan struct{} // closed and replaced on every link change
	emit      func(Event)
}

// NewSupervisor creates a paused supervisor.
func NewSupervisor(radio Radio, store CredentialStore, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		radio:   radio,
		store:   store,
		logger:  orDiscard(logger),
		backoff: Backoff{Initial: InitialBackoff, Max: MaxBackoff, Jitter: JitterFactor},
		wake:    make(chan struct{}, 1),
		changed: make(chan struct{}),
		emit:    func(Event) {},
	}
}

// Subscribe sets the handler for link events (LinkUp, LinkDown).
func (s *Supervisor) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = fn
}

// Pause automatic reconnects.
func (s *Supervisor) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// Resume automatic reconnects.
func (s *Supervisor) Resume() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// IsConnected returns true while the link is up.
func (s *Supervisor) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// WaitForConnection blocks until the link is up or the context is done.
func (s *Supervisor) WaitForConnection(ctx context.Context) bool {
	for {
		s.mu.Lock()
		up, ch := s.connected, s.changed
		s.mu.Unlock()
		if up {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ch:
		}
	}
}

// Run the supervisor loop until the context is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if !s.active() {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}
		var delay time.Duration
		if s.IsConnected() {
			if !s.radio.Linked() {
				s.setLink(false, netip.Addr{}, "link lost")
				continue
			}
			delay = LinkPoll
		} else if s.radio.Linked() {
			// joined by someone else (e.g. a provisioning session)
			s.setLink(true, netip.Addr{}, "")
			continue
		} else if err := s.connect(ctx); err == nil {
			continue
		} else {
			delay = s.backoff.Next()
			s.logger.Info("wifi join failed", slog.String("err", err.Error()), slog.Duration("retry", delay))
		}
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-time.After(delay):
		}
	}
}

func (s *Supervisor) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// connect once with the stored credentials.
func (s *Supervisor) connect(ctx context.Context) error {
	cred, err := s.store.Load()
	if err != nil {
		return err
	}
	if err = s.radio.Station(); err != nil {
		return err
	}
	jctx, cancel := context.WithTimeout(ctx, JoinTimeout)
	defer cancel()
	addr, err := s.radio.Join(jctx, cred)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrNoAP
		}
		return err
	}
	if !s.active() {
		// paused while joining
		s.radio.Disconnect()
		return errors.New("paused")
	}
	s.backoff.Reset()
	s.setLink(true, addr, "")
	return nil
}

func (s *Supervisor) setLink(up bool, addr netip.Addr, reason string) {
	s.mu.Lock()
	s.connected = up
	close(s.changed)
	s.changed = make(chan struct{})
	emit := s.emit
	s.mu.Unlock()
	if up {
		s.logger.Info("wifi connected", slog.String("addr", addr.String()))
		emit(LinkUp{Addr: addr})
	} else {
		s.logger.Warn("wifi disconnected", slog.String("reason", reason))
		emit(LinkDown{Reason: reason})
	}
}
