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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix of configuration overrides in the environment.
const EnvPrefix = "NETPROV_"

// fileConfig is the on-disk form; durations are strings ("90s").
type fileConfig struct {
	Project         string  `toml:"project" yaml:"project"`
	Transport       string  `toml:"transport" yaml:"transport"`
	Security        *int    `toml:"security" yaml:"security"`
	ProvTimeout     string  `toml:"prov_timeout" yaml:"prov_timeout"`
	ProvisionPress  string  `toml:"provision_press" yaml:"provision_press"`
	FactoryPress    string  `toml:"factory_reset_press" yaml:"factory_reset_press"`
	SettleDelay     string  `toml:"settle_delay" yaml:"settle_delay"`
	DeepSleepDelay  string  `toml:"deep_sleep_delay" yaml:"deep_sleep_delay"`
	DoubleReset     string  `toml:"double_reset_window" yaml:"double_reset_window"`
	Pulses          *int    `toml:"pulses" yaml:"pulses"`
	LogLevel        string  `toml:"log_level" yaml:"log_level"`
	RemoteReset     *bool   `toml:"remote_reset" yaml:"remote_reset"`
	Interface       string  `toml:"interface" yaml:"interface"`
	WPASocketDir    string  `toml:"wpa_socket_dir" yaml:"wpa_socket_dir"`
	LEDPath         string  `toml:"led" yaml:"led"`
	ButtonPath      string  `toml:"button" yaml:"button"`
	StorePath       string  `toml:"store" yaml:"store"`
	FlagPath        string  `toml:"flags" yaml:"flags"`
	StatusListen    *string `toml:"status_listen" yaml:"status_listen"`
	ProvisionListen string  `toml:"provision_listen" yaml:"provision_listen"`
}

// LoadConfig reads a TOML or YAML file (by extension) over the defaults,
// then applies NETPROV_* environment overrides (a ".env" file next to the
// configuration is loaded first). An empty path uses defaults and the
// environment only.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	var raw fileConfig
	if path != "" {
		if err := decodeFile(path, &raw); err != nil {
			return nil, err
		}
		envFile := filepath.Join(filepath.Dir(path), ".env")
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	envOverrides(&raw)
	if err := raw.apply(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, raw *fileConfig) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err = yaml.Unmarshal(data, raw); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		meta, err := toml.DecodeFile(path, raw)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown config keys: %v", undecoded)
		}
	}
	return nil
}

// envOverrides replaces file values with set environment variables.
func envOverrides(raw *fileConfig) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst **int) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = &n
			}
		}
	}
	str("PROJECT", &raw.Project)
	str("TRANSPORT", &raw.Transport)
	num("SECURITY", &raw.Security)
	str("PROV_TIMEOUT", &raw.ProvTimeout)
	str("PROVISION_PRESS", &raw.ProvisionPress)
	str("FACTORY_RESET_PRESS", &raw.FactoryPress)
	str("SETTLE_DELAY", &raw.SettleDelay)
	str("DEEP_SLEEP_DELAY", &raw.DeepSleepDelay)
	str("DOUBLE_RESET_WINDOW", &raw.DoubleReset)
	num("PULSES", &raw.Pulses)
	str("LOG_LEVEL", &raw.LogLevel)
	if v, ok := os.LookupEnv(EnvPrefix + "REMOTE_RESET"); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			raw.RemoteReset = &b
		}
	}
	str("INTERFACE", &raw.Interface)
	str("WPA_SOCKET_DIR", &raw.WPASocketDir)
	str("LED", &raw.LEDPath)
	str("BUTTON", &raw.ButtonPath)
	str("STORE", &raw.StorePath)
	str("FLAGS", &raw.FlagPath)
	if v, ok := os.LookupEnv(EnvPrefix + "STATUS_LISTEN"); ok {
		raw.StatusListen = &v
	}
	str("PROVISION_LISTEN", &raw.ProvisionListen)
}

// apply set values to the configuration.
func (raw *fileConfig) apply(cfg *Config) error {
	set := func(v string, dst *string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	dur := func(name, v string, dst *time.Duration) error {
		if v = strings.TrimSpace(v); v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		*dst = d
		return nil
	}
	set(raw.Project, &cfg.Project)
	set(raw.Transport, &cfg.Transport)
	if raw.Security != nil {
		cfg.Security = Security(*raw.Security)
	}
	for _, d := range []struct {
		name string
		val  string
		dst  *time.Duration
	}{
		{"prov_timeout", raw.ProvTimeout, &cfg.ProvTimeout},
		{"provision_press", raw.ProvisionPress, &cfg.Buttons.Provision},
		{"factory_reset_press", raw.FactoryPress, &cfg.Buttons.FactoryReset},
		{"settle_delay", raw.SettleDelay, &cfg.SettleDelay},
		{"deep_sleep_delay", raw.DeepSleepDelay, &cfg.DeepSleepDelay},
		{"double_reset_window", raw.DoubleReset, &cfg.DoubleReset},
	} {
		if err := dur(d.name, d.val, d.dst); err != nil {
			return err
		}
	}
	if raw.Pulses != nil {
		cfg.Pulses = *raw.Pulses
	}
	set(raw.LogLevel, &cfg.LogLevel)
	if raw.RemoteReset != nil {
		cfg.RemoteReset = *raw.RemoteReset
	}
	set(raw.Interface, &cfg.Interface)
	set(raw.WPASocketDir, &cfg.WPASocketDir)
	set(raw.LEDPath, &cfg.LEDPath)
	set(raw.ButtonPath, &cfg.ButtonPath)
	set(raw.StorePath, &cfg.StorePath)
	set(raw.FlagPath, &cfg.FlagPath)
	if raw.StatusListen != nil {
		// empty disables the status namespace
		cfg.StatusListen = strings.TrimSpace(*raw.StatusListen)
	}
	set(raw.ProvisionListen, &cfg.ProvisionListen)
	return nil
}
