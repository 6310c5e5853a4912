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
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// fakeRadio records calls; join decides the outcome of Join.
type fakeRadio struct {
	mu          sync.Mutex
	stations    int
	disconnects int
	linked      bool
	joins       []string
	join        func(*Credentials) (netip.Addr, error)
}

func (r *fakeRadio) Station() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stations++
	return nil
}

func (r *fakeRadio) Join(ctx context.Context, cred *Credentials) (netip.Addr, error) {
	r.mu.Lock()
	r.joins = append(r.joins, cred.SSID)
	join := r.join
	r.mu.Unlock()
	addr := netip.MustParseAddr("192.168.1.23")
	var err error
	if join != nil {
		addr, err = join(cred)
	}
	if err != nil {
		return netip.Addr{}, err
	}
	r.mu.Lock()
	r.linked = true
	r.mu.Unlock()
	return addr, nil
}

func (r *fakeRadio) Linked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.linked
}

func (r *fakeRadio) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects++
	r.linked = false
	return nil
}

func (r *fakeRadio) setLinked(up bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.linked = up
}

func (r *fakeRadio) joined() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.joins...)
}

// fakeDevice records LED levels.
type fakeDevice struct {
	mu     sync.Mutex
	levels []bool
}

func (d *fakeDevice) LED(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.levels = append(d.levels, on)
}

func (d *fakeDevice) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr{0x28, 0xcd, 0xc1, 0x0a, 0xbc, 0xde}
}

func (d *fakeDevice) last() (bool, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.levels) == 0 {
		return false, 0
	}
	return d.levels[len(d.levels)-1], len(d.levels)
}

// fakeIndicator records the patterns set.
type fakeIndicator struct {
	mu       sync.Mutex
	patterns []Pattern
}

func (f *fakeIndicator) SetPattern(p Pattern) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = append(f.patterns, p)
}

func (f *fakeIndicator) current() Pattern {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.patterns) == 0 {
		return Off
	}
	return f.patterns[len(f.patterns)-1]
}

// fakeSupervisor counts pause/resume calls.
type fakeSupervisor struct {
	mu      sync.Mutex
	paused  int
	resumed int
	emit    func(Event)
}

func (s *fakeSupervisor) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused++
}

func (s *fakeSupervisor) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumed++
}

func (s *fakeSupervisor) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = fn
}

func (s *fakeSupervisor) counts() (paused, resumed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, s.resumed
}

// mockSession is a provisioning session mock.
type mockSession struct {
	mock.Mock
}

func (m *mockSession) Start(service string, sec Security) error {
	return m.Called(service, sec).Error(0)
}

func (m *mockSession) Stop() error {
	return m.Called().Error(0)
}

func (m *mockSession) Deinit() error {
	return m.Called().Error(0)
}

func (m *mockSession) Subscribe(fn func(Event)) {
	m.Called(fn)
}

// mockSystem records terminal calls.
type mockSystem struct {
	mock.Mock
}

func (m *mockSystem) Reboot() {
	m.Called()
}

func (m *mockSystem) DeepSleep(d time.Duration) {
	m.Called(d)
}

// collect events emitted by a collaborator.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) post(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// typeNames of events, e.g. "SessionEnded".
func typeNames(evs []Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		name := fmt.Sprintf("%T", ev)
		out = append(out, name[strings.LastIndexByte(name, '.')+1:])
	}
	return out
}
