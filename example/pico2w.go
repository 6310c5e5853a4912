//go:build rp2350

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
	"log/slog"
	"machine"
	"time"

	"github.com/bfix/netprov"
)

// Initial WiFi credentials and host name (set by linker flags); used only
// if the flash store is empty.
var (
	SSID   string
	Passwd string
	Host   string
)

const (
	statusPort = 5640
	uartBaud   = 115200
	buttonPin  = machine.GP15
)

// reset the device after a fatal setup failure
func fatal(state *netprov.Status, code int, logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.String("err", err.Error()))
	state.Set(code)
	time.Sleep(30 * time.Second)
	machine.CPUReset()
}

func main() {
	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: slog.LevelInfo}))
	time.Sleep(2 * time.Second)

	cfg := netprov.DefaultConfig()
	if Host == "" {
		Host = cfg.Project
	}
	dev, err := netprov.InitDevice(Host, logger)
	if err != nil {
		// no LED without the wifi chip
		logger.Error("device init failed", slog.String("err", err.Error()))
		time.Sleep(10 * time.Second)
		machine.CPUReset()
	}
	state := netprov.NewStatus(dev, logger)
	defer state.Trap(30 * time.Second)

	store := netprov.FlashStore()
	if SSID != "" && !store.Provisioned() {
		if err = store.Save(&netprov.Credentials{SSID: SSID, Passphrase: Passwd}); err != nil {
			fatal(state, netprov.StatSTORE, logger, "seeding credentials failed", err)
		}
	}
	device := netprov.DeviceName(cfg.Project, dev.HardwareAddr())

	// provisioning runs 9p over UART0 (USB serial carries the log)
	open := func() (netprov.Conduit, error) {
		return netprov.NewUARTConduit(machine.UART0, uartBaud)
	}
	session := netprov.NewNinepSession(dev, store, open, nil, logger)
	sup := netprov.NewSupervisor(dev, store, logger)
	flags := netprov.NewBootFlags(netprov.ScratchRetained{}, cfg.DoubleReset, logger)

	orch := netprov.NewOrchestrator(cfg.Options(device), netprov.Collaborators{
		Indicator:  state,
		Store:      store,
		Radio:      dev,
		Supervisor: sup,
		Session:    session,
		System:     netprov.PicoSystem{},
		Flags:      flags,
	}, logger)
	var count clicks
	orch.OnClick = count.click(logger)

	ns, err := netprov.NewStatusNamespace(orch, device, sup.IsConnected, cfg.RemoteReset)
	if err == nil {
		err = ns.NewFile("/dev/clicks", 0444, count.file())
	}
	if err != nil {
		fatal(state, netprov.StatNS, logger, "status namespace", err)
	}
	// serve the status namespace after the first link up
	serving := false
	orch.OnTransition = func(_ netprov.Event, _, to netprov.State, _ netprov.Effects) {
		if serving || to.Phase != netprov.PhaseConnected {
			return
		}
		lst, err := dev.Listen(statusPort)
		if err != nil {
			logger.Error("status listener", slog.String("err", err.Error()))
			return
		}
		serving = true
		go serveStatus(ns, lst, logger)
	}

	ctx := context.Background()
	go sup.Run(ctx)
	mon := netprov.NewButtonMonitor(netprov.ButtonPin(buttonPin), cfg.Buttons.FactoryReset,
		func(ev netprov.ButtonEvent) {
			orch.HandleButton(ev, cfg.Buttons)
		})
	go mon.Run(ctx)

	orch.Boot()
	err = orch.Run(ctx)
	logger.Warn("orchestrator stopped", slog.String("reason", err.Error()))

	// srv tcp!<host>!5640 dev
	// mount /srv/dev /n/dev
	// cat /n/dev/phase
	// echo provision > /n/dev/ctl
}
