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
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Security level of a provisioning session.
type Security int

// security levels
const (
	Security0 Security = iota // plain transport
	Security1                 // transport with proof of possession
)

// Error messages
var (
	ErrSessionActive = errors.New("provisioning session already active")
	ErrNoSession     = errors.New("no provisioning session")
	errNoSSID        = errors.New("no ssid")
	errCommand       = errors.New("unknown command")
)

// Session is a provisioning transport yielding new credentials. Events
// are delivered to the subscribed handler: SessionStarted,
// CredentialsReceived, CredentialsFailed, SessionSucceeded, SessionEnded.
type Session interface {
	// Start accepting peers under the given service name.
	Start(service string, sec Security) error

	// Stop accepting peers.
	Stop() error

	// Deinit releases all transport resources.
	Deinit() error

	// Subscribe sets the event handler.
	Subscribe(func(Event))
}

// EndpointHandler serves a custom provisioning data endpoint.
type EndpointHandler func(in []byte) (out []byte, err error)

//----------------------------------------------------------------------

// DeviceName returns "<project>-<mac>" (project truncated to 25 chars,
// lower 24 bits of the MAC in hex): at most 32 characters.
func DeviceName(project string, mac net.HardwareAddr) string {
	if len(project) > 25 {
		project = project[:25]
	}
	var suffix uint32
	if n := len(mac); n >= 3 {
		suffix = uint32(mac[n-3])<<16 | uint32(mac[n-2])<<8 | uint32(mac[n-1])
	}
	return fmt.Sprintf("%s-%06x", project, suffix)
}

// ServiceName advertised by a provisioning session.
func ServiceName(device string) string {
	return "PROV_" + device
}

// Payload is the provisioning payload shown to the user (QR code).
func Payload(service, transport string, sec Security) string {
	return fmt.Sprintf(`{"ver":"v1","name":"%s","transport":"%s","security":%d}`,
		strings.ReplaceAll(service, `"`, ``), transport, sec)
}

//----------------------------------------------------------------------

// provisioner is the transport-independent part of a session: it tracks
// the session lifecycle, verifies received credentials on the radio and
// stores them on success.
type provisioner struct {
	mu        sync.Mutex
	id        string
	radio     Radio
	store     CredentialStore
	base      *slog.Logger
	logger    *slog.Logger
	emit      func(Event)
	active    bool
	ended     bool
	endpoints map[string]EndpointHandler
	verify    time.Duration
}

func newProvisioner(radio Radio, store CredentialStore, logger *slog.Logger) provisioner {
	return provisioner{
		radio:     radio,
		store:     store,
		base:      orDiscard(logger),
		logger:    orDiscard(logger),
		emit:      func(Event) {},
		endpoints: make(map[string]EndpointHandler),
		verify:    JoinTimeout,
	}
}

// Subscribe sets the event handler.
func (p *provisioner) Subscribe(fn func(Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emit = fn
}

// Endpoint registers a custom data endpoint.
func (p *provisioner) Endpoint(name string, fn EndpointHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints[name] = fn
}

func (p *provisioner) post(ev Event) {
	p.mu.Lock()
	emit := p.emit
	p.mu.Unlock()
	emit(ev)
}

// begin a session instance
func (p *provisioner) begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return ErrSessionActive
	}
	p.active, p.ended = true, false
	p.id = uuid.NewString()
	p.logger = p.base.With(slog.String("session", p.id))
	return nil
}

// end the session instance (once).
func (p *provisioner) end() {
	p.mu.Lock()
	done := !p.active || p.ended
	p.ended = true
	p.active = false
	logger := p.logger
	p.mu.Unlock()
	if !done {
		logger.Debug("provisioning end")
		p.post(SessionEnded{})
	}
}

// log returns the logger of the current session instance.
func (p *provisioner) log() *slog.Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logger
}

func (p *provisioner) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// apply received credentials: try them on the radio, store them if they
// work. Failures keep the session open.
func (p *provisioner) apply(cred *Credentials) error {
	if !p.running() {
		return ErrNoSession
	}
	p.log().Info("provisioning received ssid", slog.String("ssid", cred.SSID))
	p.post(CredentialsReceived{SSID: cred.SSID})

	ctx, cancel := context.WithTimeout(context.Background(), p.verify)
	defer cancel()
	if err := p.radio.Station(); err != nil {
		return err
	}
	if _, err := p.radio.Join(ctx, cred); err != nil {
		reason := FailNotFound
		if errors.Is(err, ErrAuth) {
			reason = FailAuth
		}
		p.log().Error("provisioning failed", slog.String("reason", reason.String()))
		p.post(CredentialsFailed{Reason: reason})
		return err
	}
	return p.succeed(cred)
}

// succeed stores verified credentials and ends the session. A failing
// store ends the session too.
func (p *provisioner) succeed(cred *Credentials) error {
	if err := p.store.Save(cred); err != nil {
		p.log().Error("storing credentials failed", slog.String("err", err.Error()))
		p.end()
		return err
	}
	p.log().Info("provisioning successful")
	p.post(SessionSucceeded{})
	p.end()
	return nil
}

// handle a custom endpoint request
func (p *provisioner) serveEndpoint(name string, in []byte) ([]byte, error) {
	p.mu.Lock()
	fn, ok := p.endpoints[name]
	p.mu.Unlock()
	if !ok {
		return nil, errNoFile
	}
	return fn(in)
}

// command handles the control commands shared by the transports:
// "commit" verifies the pending credentials in the background, "abort"
// ends the session. report receives the progress.
func (p *provisioner) command(cmd string, cred *Credentials, report func(string)) (string, error) {
	switch cmd {
	case "commit":
		if cred.SSID == "" {
			return "", errNoSSID
		}
		report("verifying " + cred.SSID)
		go func() {
			if err := p.apply(cred); err != nil {
				report("failed: " + err.Error())
				return
			}
			report("ok")
		}()
		return "verifying", nil
	case "abort":
		report("aborted")
		p.end()
		return "aborted", nil
	}
	return "", fmt.Errorf("%w %q", errCommand, cmd)
}
