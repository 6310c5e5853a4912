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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/bfix/netprov"
	"tinygo.org/x/bluetooth"
)

// fatal setup failure: log and exit (the service manager restarts us)
func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.String("err", err.Error()))
	os.Exit(1)
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "c", "", "configuration file (.toml or .yaml)")
	flag.Parse()

	cfg, err := netprov.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := netprov.NewLogger(os.Stderr, cfg.LogLevel)

	dev := netprov.InitDevice(cfg, logger)
	state := netprov.NewStatus(dev, logger)
	defer state.Close()

	radio, err := netprov.DialWPARadio(cfg.WPASocketDir, cfg.Interface, logger)
	if err != nil {
		fatal(logger, "radio init failed", err)
	}
	store := netprov.NewFileStore(cfg.StorePath)
	device := netprov.DeviceName(cfg.Project, dev.HardwareAddr())
	logger.Info("device", slog.String("name", device), slog.String("transport", cfg.Transport))

	var session netprov.Session
	switch cfg.Transport {
	case netprov.TransportGeneric:
		open := func() (netprov.Conduit, error) {
			lst, err := net.Listen("tcp", cfg.ProvisionListen)
			if err != nil {
				return nil, err
			}
			return netprov.NewListenerConduit(lst), nil
		}
		adv := netprov.NewMDNSAdvertiser(netprov.ServiceTypeProvisioning, cfg.Interface)
		session = netprov.NewNinepSession(radio, store, open, adv, logger)
	case netprov.TransportBLE:
		session = netprov.NewBLESession(bluetooth.DefaultAdapter, radio, store, logger)
	case netprov.TransportWPS:
		session = netprov.NewWPSSession(radio, store, logger)
	}

	// custom data endpoint: peers can identify the device before commit
	if ep, ok := session.(interface {
		Endpoint(string, netprov.EndpointHandler)
	}); ok {
		mac := dev.HardwareAddr().String()
		ep.Endpoint("device", func([]byte) ([]byte, error) {
			return []byte(device + " " + mac + "\n"), nil
		})
	}

	sup := netprov.NewSupervisor(radio, store, logger)
	flags := netprov.NewBootFlags(netprov.FileRetained{Path: cfg.FlagPath}, cfg.DoubleReset, logger)
	orch := netprov.NewOrchestrator(cfg.Options(device), netprov.Collaborators{
		Indicator:  state,
		Store:      store,
		Radio:      radio,
		Supervisor: sup,
		Session:    session,
		System:     netprov.HostSystem{},
		Flags:      flags,
	}, logger)
	var count clicks
	orch.OnClick = count.click(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sup.Run(ctx)

	if cfg.ButtonPath != "" {
		mon := netprov.NewButtonMonitor(netprov.GPIOButton(cfg.ButtonPath), cfg.Buttons.FactoryReset,
			func(ev netprov.ButtonEvent) {
				orch.HandleButton(ev, cfg.Buttons)
			})
		go mon.Run(ctx)
	}

	// status namespace, announced while connected
	if cfg.StatusListen != "" {
		ns, err := netprov.NewStatusNamespace(orch, device, sup.IsConnected, cfg.RemoteReset)
		if err == nil {
			err = ns.NewFile("/dev/clicks", 0444, count.file())
		}
		if err != nil {
			fatal(logger, "status namespace", err)
		}
		lst, err := net.Listen("tcp", cfg.StatusListen)
		if err != nil {
			fatal(logger, "status listener", err)
		}
		go serveStatus(ns, lst, logger)

		adv := netprov.NewMDNSAdvertiser(netprov.ServiceTypeStatus, cfg.Interface)
		defer adv.Shutdown()
		_, port, _ := net.SplitHostPort(lst.Addr().String())
		p, _ := strconv.Atoi(port)
		orch.OnTransition = func(_ netprov.Event, from, to netprov.State, _ netprov.Effects) {
			switch {
			case to.Phase == netprov.PhaseConnected && from.Phase != netprov.PhaseConnected:
				if err := adv.Advertise(device, p, []string{"phase=connected"}); err != nil {
					logger.Warn("status advertisement", slog.String("err", err.Error()))
				}
			case from.Phase == netprov.PhaseConnected && to.Phase != netprov.PhaseConnected:
				logger.Debug("status advertisement withdrawn", slog.String("instance", adv.Instance()))
				adv.Shutdown()
			}
		}
	}

	orch.Boot()
	if err = orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Info("orchestrator stopped", slog.String("reason", err.Error()))
	}
}
