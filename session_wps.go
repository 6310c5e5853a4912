//go:build !rp2350

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
	"log/slog"
	"strings"
	"sync"
)

// WPSSession provisions by WPS push button: the supplicant obtains the
// credentials from the access point and joins on its own. The resulting
// network is stored in the supplicant configuration and referenced as
// external credentials.
type WPSSession struct {
	provisioner
	ctrl   WPACtrl
	attach func() (WPAEvents, error)

	mu     sync.Mutex
	cancel context.CancelFunc
	events WPAEvents
}

// NewWPSSession on the given supplicant radio.
func NewWPSSession(radio *WPARadio, store CredentialStore, logger *slog.Logger) *WPSSession {
	return &WPSSession{
		provisioner: newProvisioner(radio, store, logger),
		ctrl:        radio.ctrl,
		attach:      radio.attach,
	}
}

// Start push button configuration.
func (s *WPSSession) Start(service string, sec Security) error {
	if err := s.begin(); err != nil {
		return err
	}
	events, err := s.attach()
	if err != nil {
		s.end()
		return err
	}
	if err = wpaOK(s.ctrl, "WPS_PBC"); err != nil {
		events.Close()
		s.end()
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.events, s.cancel = events, cancel
	s.mu.Unlock()

	s.log().Info("provisioning started",
		slog.String("service", service),
		slog.String("payload", Payload(service, TransportWPS, sec)))
	s.post(SessionStarted{})
	go s.watch(ctx, events)
	return nil
}

// watch supplicant events until the session ends.
func (s *WPSSession) watch(ctx context.Context, events WPAEvents) {
	received := false
	for {
		msg, err := events.Next(ctx)
		if err != nil {
			return
		}
		s.log().Debug("wps event", slog.String("msg", msg))
		switch {
		case strings.HasPrefix(msg, "WPS-CRED-RECEIVED"):
			received = true
			s.post(CredentialsReceived{})
		case strings.HasPrefix(msg, "WPS-FAIL"):
			s.post(CredentialsFailed{Reason: FailAuth})
		case strings.HasPrefix(msg, "WPS-OVERLAP-DETECTED"):
			s.log().Warn("wps overlap: more than one access point in push button mode")
		case strings.HasPrefix(msg, "WPS-TIMEOUT"):
			s.log().Info("wps walk time expired")
			s.end()
			return
		case strings.HasPrefix(msg, "CTRL-EVENT-CONNECTED") && received:
			s.complete()
			return
		}
	}
}

// complete a successful registration: persist the supplicant config and
// store the network reference. The session ends in any case.
func (s *WPSSession) complete() {
	status, err := wpaStatus(s.ctrl)
	if err != nil {
		s.log().Error("wps status", slog.String("err", err.Error()))
		s.post(CredentialsFailed{Reason: FailNotFound})
		s.end()
		return
	}
	if err = wpaOK(s.ctrl, "SAVE_CONFIG"); err != nil {
		s.log().Warn("wps config not saved", slog.String("err", err.Error()))
	}
	s.succeed(&Credentials{SSID: status["ssid"], External: true})
}

// Stop push button mode.
func (s *WPSSession) Stop() error {
	err := s.release()
	s.end()
	return err
}

// Deinit releases the event channel.
func (s *WPSSession) Deinit() error {
	err := s.release()
	s.end()
	return err
}

func (s *WPSSession) release() error {
	s.mu.Lock()
	events, cancel := s.events, s.cancel
	s.events, s.cancel = nil, nil
	s.mu.Unlock()
	if events == nil {
		return nil
	}
	cancel()
	var err error
	if s.running() {
		err = wpaOK(s.ctrl, "WPS_CANCEL")
	}
	events.Close()
	return err
}
