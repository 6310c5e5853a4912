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
	"errors"
	"io"
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idleConduit accepts nothing until closed.
type idleConduit struct {
	once   sync.Once
	closed chan struct{}
}

func newIdleConduit() *idleConduit {
	return &idleConduit{closed: make(chan struct{})}
}

func (c *idleConduit) Accept() (io.ReadWriteCloser, error) {
	<-c.closed
	return nil, net.ErrClosed
}

func (c *idleConduit) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *idleConduit) Port() int { return 5641 }

// fakeAdvertiser records advertisements.
type fakeAdvertiser struct {
	mu       sync.Mutex
	service  string
	port     int
	txt      []string
	shutdown int
}

func (a *fakeAdvertiser) Advertise(service string, port int, txt []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.service, a.port, a.txt = service, port, txt
	return nil
}

func (a *fakeAdvertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdown++
}

// pipeConduit hands out in-memory connections.
type pipeConduit struct {
	idleConduit
	conns chan io.ReadWriteCloser
}

func newPipeConduit() *pipeConduit {
	return &pipeConduit{
		idleConduit: idleConduit{closed: make(chan struct{})},
		conns:       make(chan io.ReadWriteCloser),
	}
}

func (c *pipeConduit) Accept() (io.ReadWriteCloser, error) {
	select {
	case conn := <-c.conns:
		return conn, nil
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *pipeConduit) dial(t *testing.T) *ninepClient {
	t.Helper()
	return dialNamespace(t, func(rwc io.ReadWriteCloser) { c.conns <- rwc })
}

type ninepRig struct {
	sess    *NinepSession
	radio   *fakeRadio
	store   *MemoryStore
	adv     *fakeAdvertiser
	events  *eventLog
	conduit *idleConduit
}

func newNinepRig(t *testing.T) *ninepRig {
	t.Helper()
	r := &ninepRig{
		radio:   new(fakeRadio),
		store:   NewMemoryStore("", ""),
		adv:     new(fakeAdvertiser),
		events:  new(eventLog),
		conduit: newIdleConduit(),
	}
	open := func() (Conduit, error) { return r.conduit, nil }
	r.sess = NewNinepSession(r.radio, r.store, open, r.adv, nil)
	r.sess.Subscribe(r.events.post)
	return r
}

func (r *ninepRig) ctl(t *testing.T) string {
	t.Helper()
	data, err := r.sess.Namespace().ReadFile("/prov/ctl")
	require.NoError(t, err)
	return strings.TrimSpace(string(data))
}

func TestNinepSessionStart(t *testing.T) {
	r := newNinepRig(t)
	require.NoError(t, r.sess.Start("PROV_dev-0abcde", Security1))
	defer r.sess.Deinit()

	ns := r.sess.Namespace()
	require.NotNil(t, ns)
	data, err := ns.ReadFile("/prov/name")
	require.NoError(t, err)
	assert.Equal(t, "PROV_dev-0abcde\n", string(data))
	data, err = ns.ReadFile("/prov/payload")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name":"PROV_dev-0abcde"`)
	assert.Equal(t, "waiting", r.ctl(t))

	assert.Equal(t, "PROV_dev-0abcde", r.adv.service)
	assert.Equal(t, 5641, r.adv.port)
	assert.Contains(t, r.adv.txt, "sec=1")
	assert.Equal(t, []string{"SessionStarted"}, typeNames(r.events.all()))

	assert.ErrorIs(t, r.sess.Start("PROV_dev-0abcde", Security1), ErrSessionActive)
}

func TestNinepSessionCommit(t *testing.T) {
	r := newNinepRig(t)
	require.NoError(t, r.sess.Start("PROV_x", Security0))
	ns := r.sess.Namespace()

	require.NoError(t, ns.WriteFile("/prov/ssid", []byte("home\n")))
	require.NoError(t, ns.WriteFile("/prov/passphrase", []byte("secret\n")))
	require.NoError(t, ns.WriteFile("/prov/ctl", []byte("commit\n")))

	require.Eventually(t, func() bool { return r.ctl(t) == "ok" }, time.Second, time.Millisecond)
	assert.Equal(t, []string{
		"SessionStarted", "CredentialsReceived", "SessionSucceeded", "SessionEnded",
	}, typeNames(r.events.all()))
	cred, err := r.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "home", cred.SSID)
	assert.Equal(t, "secret", cred.Passphrase)

	// teardown after the session ended reports nothing more
	require.NoError(t, r.sess.Stop())
	require.NoError(t, r.sess.Deinit())
	assert.Len(t, r.events.all(), 4)
	assert.Nil(t, r.sess.Namespace())
	assert.Equal(t, 1, r.adv.shutdown)
}

func TestNinepSessionRemoteCommit(t *testing.T) {
	r := newNinepRig(t)
	conduit := newPipeConduit()
	r.sess.open = func() (Conduit, error) { return conduit, nil }
	require.NoError(t, r.sess.Start("PROV_x", Security1))
	defer r.sess.Deinit()
	c := conduit.dial(t)

	name, err := c.readFile("/prov/name")
	require.NoError(t, err)
	assert.Equal(t, "PROV_x\n", name)
	require.NoError(t, c.writeFile("/prov/ssid", "home\n"))
	require.NoError(t, c.writeFile("/prov/passphrase", "secret\n"))
	ssid, err := c.readFile("/prov/ssid")
	require.NoError(t, err)
	assert.Equal(t, "home", ssid)
	pass, err := c.readFile("/prov/passphrase")
	require.NoError(t, err)
	assert.Empty(t, pass)
	assert.ErrorContains(t, c.writeFile("/prov/ctl", "dance"), errCommand.Error())

	require.NoError(t, c.writeFile("/prov/ctl", "commit\n"))
	require.Eventually(t, func() bool { return r.ctl(t) == "ok" }, time.Second, time.Millisecond)
	result, err := c.readFile("/prov/ctl")
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(result))

	assert.Equal(t, []string{
		"SessionStarted", "CredentialsReceived", "SessionSucceeded", "SessionEnded",
	}, typeNames(r.events.all()))
	cred, err := r.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "home", cred.SSID)
	assert.Equal(t, "secret", cred.Passphrase)
}

func TestNinepSessionSaveFails(t *testing.T) {
	events := new(eventLog)
	sess := NewNinepSession(new(fakeRadio), saveFailStore{NewMemoryStore("", "")}, func() (Conduit, error) {
		return newIdleConduit(), nil
	}, nil, nil)
	sess.Subscribe(events.post)
	require.NoError(t, sess.Start("PROV_x", Security1))
	defer sess.Deinit()
	ns := sess.Namespace()

	require.NoError(t, ns.WriteFile("/prov/ssid", []byte("home")))
	require.NoError(t, ns.WriteFile("/prov/ctl", []byte("commit")))
	require.Eventually(t, func() bool { return len(events.all()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"SessionStarted", "CredentialsReceived", "SessionEnded"}, typeNames(events.all()))
	assert.False(t, sess.running())
	require.Eventually(t, func() bool {
		data, err := ns.ReadFile("/prov/ctl")
		return err == nil && strings.HasPrefix(string(data), "failed")
	}, time.Second, time.Millisecond)
}

func TestNinepSessionBadCredentials(t *testing.T) {
	r := newNinepRig(t)
	r.radio.join = func(c *Credentials) (netip.Addr, error) {
		if c.Passphrase != "right" {
			return netip.Addr{}, ErrAuth
		}
		return netip.MustParseAddr("10.1.1.1"), nil
	}
	require.NoError(t, r.sess.Start("PROV_x", Security1))
	defer r.sess.Deinit()
	ns := r.sess.Namespace()

	require.NoError(t, ns.WriteFile("/prov/ssid", []byte("home")))
	require.NoError(t, ns.WriteFile("/prov/passphrase", []byte("wrong")))
	require.NoError(t, ns.WriteFile("/prov/ctl", []byte("commit")))
	require.Eventually(t, func() bool {
		return strings.HasPrefix(r.ctl(t), "failed")
	}, time.Second, time.Millisecond)

	var failed CredentialsFailed
	for _, ev := range r.events.all() {
		if f, ok := ev.(CredentialsFailed); ok {
			failed = f
		}
	}
	assert.Equal(t, FailAuth, failed.Reason)
	assert.False(t, r.store.Provisioned())

	// the session stays open for another attempt
	require.NoError(t, ns.WriteFile("/prov/passphrase", []byte("right")))
	require.NoError(t, ns.WriteFile("/prov/ctl", []byte("commit")))
	require.Eventually(t, func() bool { return r.ctl(t) == "ok" }, time.Second, time.Millisecond)
	assert.True(t, r.store.Provisioned())
}

func TestNinepSessionCommands(t *testing.T) {
	r := newNinepRig(t)
	require.NoError(t, r.sess.Start("PROV_x", Security1))
	ns := r.sess.Namespace()

	assert.ErrorIs(t, ns.WriteFile("/prov/ctl", []byte("commit")), errNoSSID)
	assert.ErrorIs(t, ns.WriteFile("/prov/ctl", []byte("dance")), errCommand)

	require.NoError(t, ns.WriteFile("/prov/ctl", []byte("abort")))
	assert.Equal(t, "aborted", r.ctl(t))
	assert.Equal(t, []string{"SessionStarted", "SessionEnded"}, typeNames(r.events.all()))
	require.NoError(t, r.sess.Deinit())
	assert.Len(t, r.events.all(), 2)

	// restartable
	require.NoError(t, r.sess.Start("PROV_x", Security1))
	require.NoError(t, r.sess.Stop())
	assert.Len(t, r.events.all(), 4)
}

func TestNinepSessionRestart(t *testing.T) {
	r := newNinepRig(t)
	var stale []*Namespace
	for range 10 {
		r.conduit = newIdleConduit()
		require.NoError(t, r.sess.Start("PROV_x", Security1))
		ns := r.sess.Namespace()
		require.NoError(t, ns.WriteFile("/prov/ssid", []byte("home")))
		require.NoError(t, r.sess.Stop())
		stale = append(stale, ns)
	}
	require.NoError(t, r.sess.Start("PROV_x", Security1))
	defer r.sess.Deinit()
	ns := r.sess.Namespace()

	// peers of earlier instances keep writing while the new one runs
	var wg sync.WaitGroup
	for _, old := range stale {
		wg.Add(1)
		go func() {
			defer wg.Done()
			old.WriteFile("/prov/ssid", []byte("stale"))
		}()
	}
	assert.ErrorIs(t, ns.WriteFile("/prov/ctl", []byte("commit")), errNoSSID)
	wg.Wait()
	assert.Equal(t, "waiting", r.ctl(t))
	data, err := ns.ReadFile("/prov/ssid")
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Len(t, r.events.all(), 21)
}

func TestNinepSessionEndpoint(t *testing.T) {
	r := newNinepRig(t)
	r.sess.Endpoint("echo", func(in []byte) ([]byte, error) {
		if len(in) == 0 {
			return nil, errors.New("empty")
		}
		return append([]byte("echo:"), in...), nil
	})
	require.NoError(t, r.sess.Start("PROV_x", Security1))
	defer r.sess.Deinit()
	ns := r.sess.Namespace()

	require.NoError(t, ns.WriteFile("/prov/echo", []byte("hi")))
	data, err := ns.ReadFile("/prov/echo")
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(data))
	assert.Error(t, ns.WriteFile("/prov/echo", []byte("")))
}

func TestNinepSessionOpenFails(t *testing.T) {
	events := new(eventLog)
	sess := NewNinepSession(new(fakeRadio), NewMemoryStore("", ""), func() (Conduit, error) {
		return nil, assert.AnError
	}, nil, nil)
	sess.Subscribe(events.post)
	assert.ErrorIs(t, sess.Start("PROV_x", Security1), assert.AnError)
	// the failed instance ends so the orchestrator leaves provisioning
	assert.Equal(t, []string{"SessionEnded"}, typeNames(events.all()))
	// not stuck in the active state
	sess.open = func() (Conduit, error) { return newIdleConduit(), nil }
	require.NoError(t, sess.Start("PROV_x", Security1))
	require.NoError(t, sess.Stop())
}

func TestDeviceName(t *testing.T) {
	mac := net.HardwareAddr{0x28, 0xcd, 0xc1, 0x0a, 0xbc, 0xde}
	assert.Equal(t, "netprov-0abcde", DeviceName("netprov", mac))
	long := DeviceName(strings.Repeat("p", 40), mac)
	assert.Len(t, long, 32)
	assert.Equal(t, "PROV_netprov-0abcde", ServiceName(DeviceName("netprov", mac)))
	assert.Equal(t, "x-000000", DeviceName("x", nil))
}
