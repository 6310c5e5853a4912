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
	"io"
	"log/slog"
	"net"
	"sync"
)

// Conduit yields connections carrying the 9p protocol (TCP connections,
// a serial line, ...).
type Conduit interface {
	Accept() (io.ReadWriteCloser, error)
	Close() error
	Port() int
}

type listenerConduit struct {
	lst net.Listener
}

// NewListenerConduit wraps a network listener.
func NewListenerConduit(lst net.Listener) Conduit {
	return &listenerConduit{lst: lst}
}

func (c *listenerConduit) Accept() (io.ReadWriteCloser, error) { return c.lst.Accept() }
func (c *listenerConduit) Close() error                        { return c.lst.Close() }

func (c *listenerConduit) Port() int {
	if addr, ok := c.lst.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Advertiser announces a provisioning service on the local network.
type Advertiser interface {
	Advertise(service string, port int, txt []string) error
	Shutdown()
}

//----------------------------------------------------------------------

// NinepSession is the generic provisioning transport: a peer mounts the
// 9p namespace
//
//	/prov/name        service name (read)
//	/prov/payload     provisioning payload (read)
//	/prov/ssid        network name (read/write)
//	/prov/passphrase  network passphrase (write)
//	/prov/ctl         "commit" or "abort"; read returns the last result
//	/prov/<endpoint>  custom data endpoints
//
// and commits the credentials.
type NinepSession struct {
	provisioner
	open    func() (Conduit, error)
	adv     Advertiser
	mu      sync.Mutex
	conduit Conduit
	ns      *Namespace
	result  string
}

// NewNinepSession creates a generic session. open is called on every
// Start to obtain the conduit; adv is optional.
func NewNinepSession(radio Radio, store CredentialStore, open func() (Conduit, error), adv Advertiser, logger *slog.Logger) *NinepSession {
	return &NinepSession{
		provisioner: newProvisioner(radio, store, logger),
		open:        open,
		adv:         adv,
	}
}

// Namespace of the running session (nil if not started).
func (s *NinepSession) Namespace() *Namespace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ns
}

// Start serving the provisioning namespace.
func (s *NinepSession) Start(service string, sec Security) error {
	if err := s.begin(); err != nil {
		return err
	}
	ns, err := s.buildNamespace(service, sec)
	if err != nil {
		s.end()
		return err
	}
	c, err := s.open()
	if err != nil {
		s.end()
		return fmt.Errorf("open provisioning conduit: %w", err)
	}
	s.mu.Lock()
	s.ns, s.conduit = ns, c
	s.mu.Unlock()

	go s.serve(c, ns, s.log())
	if s.adv != nil {
		txt := []string{"sec=" + fmt.Sprint(int(sec)), "transport=" + TransportGeneric}
		if err = s.adv.Advertise(service, c.Port(), txt); err != nil {
			s.log().Warn("provisioning advertisement failed", slog.String("err", err.Error()))
		}
	}
	s.log().Info("provisioning started",
		slog.String("service", service),
		slog.String("payload", Payload(service, TransportGeneric, sec)))
	s.post(SessionStarted{})
	return nil
}

func (s *NinepSession) buildNamespace(service string, sec Security) (*Namespace, error) {
	ns := NewNamespace("prov", "prov")
	ssid, pass := NewValueFile(false), NewValueFile(true)
	control := func(cmd string) (string, error) {
		cred := &Credentials{SSID: ssid.Value(), Passphrase: pass.Value()}
		return s.command(cmd, cred, s.setResult)
	}
	s.setResult("waiting")
	steps := []error{
		ns.NewDir("/prov", 0555),
		ns.NewFile("/prov/name", 0444, NewTextFile(service+"\n")),
		ns.NewFile("/prov/payload", 0444, NewTextFile(Payload(service, TransportGeneric, sec)+"\n")),
		ns.NewFile("/prov/ssid", 0666, ssid),
		ns.NewFile("/prov/passphrase", 0222, pass),
		ns.NewFile("/prov/ctl", 0666, NewCtlFile(control).WithStatus(s.lastResult)),
	}
	s.provisioner.mu.Lock()
	for name := range s.endpoints {
		steps = append(steps, ns.NewFile("/prov/"+name, 0666, NewCtlFile(func(in string) (string, error) {
			out, err := s.serveEndpoint(name, []byte(in))
			return string(out), err
		})))
	}
	s.provisioner.mu.Unlock()
	for _, err := range steps {
		if err != nil {
			return nil, err
		}
	}
	return ns, nil
}

// serve 9p on every accepted connection until the conduit is closed.
func (s *NinepSession) serve(c Conduit, ns *Namespace, logger *slog.Logger) {
	for {
		rwc, err := c.Accept()
		if err != nil {
			logger.Debug("provisioning conduit closed", slog.String("err", err.Error()))
			return
		}
		go ns.ServeConn(rwc)
	}
}

func (s *NinepSession) setResult(r string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = r
}

func (s *NinepSession) lastResult() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Stop accepting peers and end the session.
func (s *NinepSession) Stop() error {
	err := s.closeConduit()
	s.end()
	return err
}

// Deinit releases the namespace.
func (s *NinepSession) Deinit() error {
	err := s.closeConduit()
	s.mu.Lock()
	s.ns = nil
	s.mu.Unlock()
	s.end()
	return err
}

func (s *NinepSession) closeConduit() (err error) {
	s.mu.Lock()
	c := s.conduit
	s.conduit = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	if s.adv != nil {
		s.adv.Shutdown()
	}
	return c.Close()
}
