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
	"fmt"
	"time"
)

// defaults
const (
	DefaultProject          = "netprov"
	DefaultProvTimeout      = 5 * time.Minute
	DefaultProvisionPress   = 3 * time.Second
	DefaultFactoryPress     = 10 * time.Second
	DefaultSettleDelay      = 100 * time.Millisecond
	DefaultDeepSleepDelay   = time.Millisecond
	DefaultDoubleReset      = 10 * time.Second
	DefaultStatusListen     = ":5640"
	DefaultProvisionListen  = ":5641"
	TransportGeneric        = "9p"
	TransportBLE            = "ble"
	TransportWPS            = "wps"
	defaultStorePath        = "/var/lib/netprov/credentials.cbor"
	defaultFlagPath         = "/run/netprov/flags"
	defaultWPASocketDir     = "/var/run/wpa_supplicant"
	defaultInterface        = "wlan0"
	defaultLogLevel         = "info"
	defaultConnectedPulses  = ReadyPulses
	defaultSecurity         = Security1
	defaultButtonPollPeriod = 20 * time.Millisecond
)

// Error messages
var (
	errTransport = errors.New("unknown provisioning transport")
	errTimeout   = errors.New("provisioning timeout must be positive")
)

// Config of a device.
type Config struct {
	Project        string        // project name (device name prefix)
	Transport      string        // provisioning transport: 9p, ble, wps
	Security       Security      // provisioning security level
	ProvTimeout    time.Duration // provisioning deadline
	Buttons        Thresholds    // button classification
	SettleDelay    time.Duration // grace period before reboot or deep sleep
	DeepSleepDelay time.Duration // deep sleep for forced provisioning
	DoubleReset    time.Duration // double reset window (0 = disabled)
	Pulses         int           // indicator pulses on link up
	LogLevel       string        // slog level name
	RemoteReset    bool          // allow "reset" on the status control file

	// host devices
	Interface       string // wireless interface
	WPASocketDir    string // wpa_supplicant control socket directory
	LEDPath         string // sysfs LED directory (empty = log only)
	ButtonPath      string // sysfs GPIO value file (empty = no button)
	StorePath       string // credential file
	FlagPath        string // retained flag file (on tmpfs)
	StatusListen    string // status namespace address (empty = disabled)
	ProvisionListen string // generic provisioning address
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Project:   DefaultProject,
		Transport: TransportGeneric,
		Security:  defaultSecurity,
		Buttons: Thresholds{
			Provision:    DefaultProvisionPress,
			FactoryReset: DefaultFactoryPress,
		},
		ProvTimeout:     DefaultProvTimeout,
		SettleDelay:     DefaultSettleDelay,
		DeepSleepDelay:  DefaultDeepSleepDelay,
		DoubleReset:     DefaultDoubleReset,
		Pulses:          defaultConnectedPulses,
		LogLevel:        defaultLogLevel,
		Interface:       defaultInterface,
		WPASocketDir:    defaultWPASocketDir,
		StorePath:       defaultStorePath,
		FlagPath:        defaultFlagPath,
		StatusListen:    DefaultStatusListen,
		ProvisionListen: DefaultProvisionListen,
	}
}

// Validate the configuration.
func (cfg *Config) Validate() error {
	if err := cfg.Buttons.Validate(); err != nil {
		return err
	}
	if cfg.ProvTimeout <= 0 {
		return errTimeout
	}
	switch cfg.Transport {
	case TransportGeneric, TransportBLE, TransportWPS:
	default:
		return fmt.Errorf("%w: %q", errTransport, cfg.Transport)
	}
	if cfg.Security != Security0 && cfg.Security != Security1 {
		return fmt.Errorf("invalid security level %d", cfg.Security)
	}
	if cfg.SettleDelay < 0 || cfg.DeepSleepDelay <= 0 || cfg.DoubleReset < 0 {
		return errors.New("invalid delay")
	}
	return nil
}

// Options derives the orchestrator options for a device name.
func (cfg *Config) Options(device string) Options {
	return Options{
		Service:        ServiceName(device),
		Security:       cfg.Security,
		Timeout:        cfg.ProvTimeout,
		SettleDelay:    cfg.SettleDelay,
		DeepSleepDelay: cfg.DeepSleepDelay,
		Pulses:         cfg.Pulses,
	}
}
