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
	"bytes"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// namespace for the GATT attribute UUIDs (derived by name)
var bleNamespace = uuid.MustParse("5b0f3a52-6c1e-4f7e-9d2b-7a4e0c51d9a3")

// GATT attributes of the provisioning service
var (
	BLEServiceUUID    = bleUUID("service")
	BLESSIDUUID       = bleUUID("ssid")
	BLEPassphraseUUID = bleUUID("passphrase")
	BLEControlUUID    = bleUUID("ctl")
	BLEPayloadUUID    = bleUUID("payload")
)

func bleUUID(name string) bluetooth.UUID {
	return bluetooth.NewUUID([16]byte(uuid.NewSHA1(bleNamespace, []byte("netprov/"+name))))
}

// BLESession provisions over a GATT service: the peer writes the network
// name and passphrase, then "commit" to the control characteristic, which
// notifies the progress.
type BLESession struct {
	provisioner
	adapter *bluetooth.Adapter

	mu          sync.Mutex
	registered  bool
	advertising bool
	ssid        *ValueFile
	pass        *ValueFile
	status      bluetooth.Characteristic
	payload     bluetooth.Characteristic
	ends        []bluetooth.Characteristic
}

// NewBLESession on the given adapter (bluetooth.DefaultAdapter).
func NewBLESession(adapter *bluetooth.Adapter, radio Radio, store CredentialStore, logger *slog.Logger) *BLESession {
	return &BLESession{
		provisioner: newProvisioner(radio, store, logger),
		adapter:     adapter,
		ssid:        NewValueFile(false),
		pass:        NewValueFile(true),
	}
}

// Start advertising the provisioning service.
func (s *BLESession) Start(service string, sec Security) error {
	if err := s.begin(); err != nil {
		return err
	}
	s.ssid.Reset()
	s.pass.Reset()
	if err := s.register(); err != nil {
		s.end()
		return err
	}
	payload := Payload(service, TransportBLE, sec)
	s.payload.Write([]byte(payload))
	s.report("waiting")

	adv := s.adapter.DefaultAdvertisement()
	err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    service,
		ServiceUUIDs: []bluetooth.UUID{BLEServiceUUID},
	})
	if err == nil {
		err = adv.Start()
	}
	if err != nil {
		s.end()
		return err
	}
	s.mu.Lock()
	s.advertising = true
	s.mu.Unlock()
	s.log().Info("provisioning started",
		slog.String("service", service),
		slog.String("payload", payload))
	s.post(SessionStarted{})
	return nil
}

// register the GATT service (once per adapter lifetime).
func (s *BLESession) register() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registered {
		return nil
	}
	if err := s.adapter.Enable(); err != nil {
		return err
	}
	chars := []bluetooth.CharacteristicConfig{
		{
			UUID:       BLESSIDUUID,
			Flags:      bluetooth.CharacteristicWritePermission,
			WriteEvent: s.valueWriter(s.ssid),
		},
		{
			UUID:       BLEPassphraseUUID,
			Flags:      bluetooth.CharacteristicWritePermission,
			WriteEvent: s.valueWriter(s.pass),
		},
		{
			Handle: &s.status,
			UUID:   BLEControlUUID,
			Flags: bluetooth.CharacteristicReadPermission |
				bluetooth.CharacteristicWritePermission |
				bluetooth.CharacteristicNotifyPermission,
			WriteEvent: func(_ bluetooth.Connection, _ int, value []byte) {
				cred := &Credentials{SSID: s.ssid.Value(), Passphrase: s.pass.Value()}
				if _, err := s.command(string(bytes.TrimSpace(value)), cred, s.report); err != nil {
					s.report("error: " + err.Error())
				}
			},
		},
		{
			Handle: &s.payload,
			UUID:   BLEPayloadUUID,
			Flags:  bluetooth.CharacteristicReadPermission,
		},
	}
	s.provisioner.mu.Lock()
	s.ends = make([]bluetooth.Characteristic, len(s.endpoints))
	i := 0
	for name := range s.endpoints {
		h := &s.ends[i]
		chars = append(chars, bluetooth.CharacteristicConfig{
			Handle: h,
			UUID:   bleUUID("endpoint/" + name),
			Flags: bluetooth.CharacteristicReadPermission |
				bluetooth.CharacteristicWritePermission |
				bluetooth.CharacteristicNotifyPermission,
			WriteEvent: func(_ bluetooth.Connection, _ int, value []byte) {
				if !s.running() {
					return
				}
				out, err := s.serveEndpoint(name, value)
				if err != nil {
					out = []byte("error: " + err.Error())
				}
				h.Write(out)
			},
		})
		i++
	}
	s.provisioner.mu.Unlock()

	err := s.adapter.AddService(&bluetooth.Service{
		UUID:            BLEServiceUUID,
		Characteristics: chars,
	})
	if err != nil {
		return err
	}
	s.registered = true
	return nil
}

// valueWriter stores writes while a session is running.
func (s *BLESession) valueWriter(f *ValueFile) func(bluetooth.Connection, int, []byte) {
	return func(_ bluetooth.Connection, _ int, value []byte) {
		if s.running() {
			f.Write(value)
		}
	}
}

// report progress on the control characteristic.
func (s *BLESession) report(msg string) {
	if _, err := s.status.Write([]byte(msg)); err != nil {
		s.log().Debug("ble notify", slog.String("err", err.Error()))
	}
}

// Stop advertising and end the session.
func (s *BLESession) Stop() error {
	err := s.stopAdvertising()
	s.end()
	return err
}

// Deinit clears pending values. The GATT service stays registered (the
// stack offers no removal) but ignores writes until the next Start.
func (s *BLESession) Deinit() error {
	err := s.stopAdvertising()
	s.ssid.Reset()
	s.pass.Reset()
	s.end()
	return err
}

func (s *BLESession) stopAdvertising() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.advertising {
		return nil
	}
	s.advertising = false
	return s.adapter.DefaultAdvertisement().Stop()
}
