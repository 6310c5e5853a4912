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
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"
)

// exit codes asking the service manager for the next step
const (
	ExitReboot    = 3 // restart the service
	ExitDeepSleep = 4 // restart the service after the sleep delay
)

// LinuxDevice is a host with a wireless interface and an optional sysfs
// LED (/sys/class/leds/<name>).
type LinuxDevice struct {
	iface  string
	led    string
	logger *slog.Logger
}

// InitDevice for the configured interface and LED.
func InitDevice(cfg *Config, logger *slog.Logger) *LinuxDevice {
	return &LinuxDevice{
		iface:  cfg.Interface,
		led:    cfg.LEDPath,
		logger: orDiscard(logger),
	}
}

// LED on or off (no-op without a LED path)
func (dev *LinuxDevice) LED(on bool) {
	if dev.led == "" {
		return
	}
	val := []byte("0")
	if on {
		val = []byte("1")
	}
	if err := os.WriteFile(filepath.Join(dev.led, "brightness"), val, 0644); err != nil {
		dev.logger.Debug("led", slog.String("err", err.Error()))
	}
}

// HardwareAddr of the wireless interface (nil if unknown)
func (dev *LinuxDevice) HardwareAddr() net.HardwareAddr {
	iface, err := net.InterfaceByName(dev.iface)
	if err != nil {
		dev.logger.Warn("no interface", slog.String("iface", dev.iface))
		return nil
	}
	return iface.HardwareAddr
}

//----------------------------------------------------------------------

// HostSystem ends the process; the service manager restarts it.
type HostSystem struct {
	Exit func(code int)
}

// Reboot the device
func (s HostSystem) Reboot() {
	s.exit(ExitReboot)
}

// DeepSleep: the process sleeps, then exits for a restart.
func (s HostSystem) DeepSleep(d time.Duration) {
	time.Sleep(d)
	s.exit(ExitDeepSleep)
}

func (s HostSystem) exit(code int) {
	if s.Exit != nil {
		s.Exit(code)
		return
	}
	os.Exit(code)
}

//----------------------------------------------------------------------

// FileRetained keeps the retained word in a file on tmpfs (cleared on
// power loss like retained memory).
type FileRetained struct {
	Path string
}

// Load the word (0 if missing)
func (f FileRetained) Load() (uint32, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 4 {
		return 0, nil
	}
	return binary.LittleEndian.Uint32(data), nil
}

// Store the word
func (f FileRetained) Store(w uint32) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], w)
	return os.WriteFile(f.Path, buf[:], 0600)
}

//----------------------------------------------------------------------

// GPIOButton returns a level function for an active-low button exported
// via sysfs (path to its "value" file).
func GPIOButton(path string) func() bool {
	return func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		return bytes.Equal(bytes.TrimSpace(data), []byte("0"))
	}
}
