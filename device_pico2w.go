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

package netprov

import (
	"context"
	"device/rp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"machine"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/stacks"
)

const (
	mtu          = cyw43439.MTU
	dhcpPoll     = 500 * time.Millisecond
	picoTCPPorts = 2
	picoUDPPorts = 1
)

// Raspberry Pico2 W  [RP2350]
type Pico2WDevice struct {
	ref    *cyw43439.Device // reference to device
	logger *slog.Logger
	mac    [6]byte

	mu    sync.Mutex
	stack *stacks.PortStack
	host  string
	link  stationLink
}

// InitDevice initializes the wifi chip (which also drives the LED).
func InitDevice(host string, logger *slog.Logger) (*Pico2WDevice, error) {
	dev := &Pico2WDevice{
		ref:    cyw43439.NewPicoWDevice(),
		logger: orDiscard(logger),
		host:   host,
	}
	dev.link.up = dev.ref.IsLinkUp
	wificfg := cyw43439.DefaultWifiConfig()
	wificfg.Logger = dev.logger
	dev.logger.Info("initializing pico W device...")
	start := time.Now()
	if err := dev.ref.Init(wificfg); err != nil {
		return nil, fmt.Errorf("cyw43439 init: %w", err)
	}
	dev.logger.Info("cyw43439:Init", slog.Duration("duration", time.Since(start)))
	var err error
	if dev.mac, err = dev.ref.HardwareAddr6(); err != nil {
		return nil, err
	}
	return dev, nil
}

// LED on or off
func (dev *Pico2WDevice) LED(on bool) {
	dev.ref.GPIOSet(0, on)
}

// HardwareAddr of the wifi chip
func (dev *Pico2WDevice) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(dev.mac[:])
}

// Station sets up the network stack and the packet loop (once).
func (dev *Pico2WDevice) Station() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.stack != nil {
		return nil
	}
	dev.stack = stacks.NewPortStack(stacks.PortStackConfig{
		MAC:             dev.mac,
		MaxOpenPortsUDP: picoUDPPorts + 1, // DHCP client
		MaxOpenPortsTCP: picoTCPPorts,
		MTU:             mtu,
		Logger:          dev.logger,
	})
	dev.ref.RecvEthHandle(dev.stack.RecvEth)
	go nicLoop(dev.ref, dev.stack, dev.logger)
	return nil
}

// Join the network and request an address via DHCP.
func (dev *Pico2WDevice) Join(ctx context.Context, cred *Credentials) (netip.Addr, error) {
	dev.mu.Lock()
	stack := dev.stack
	dev.mu.Unlock()
	if stack == nil {
		return netip.Addr{}, ErrNoStation
	}
	if len(cred.Passphrase) == 0 {
		dev.logger.Info("joining open network", slog.String("ssid", cred.SSID))
	} else {
		dev.logger.Info("joining WPA secure network",
			slog.String("ssid", cred.SSID), slog.Int("passlen", len(cred.Passphrase)))
	}
	// the chip reports no failure detail
	if err := dev.ref.JoinWPA2(cred.SSID, cred.Passphrase); err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	client := stacks.NewDHCPClient(stack, dhcp.DefaultClientPort)
	err := client.BeginRequest(stacks.DHCPRequestConfig{
		Xid:      uint32(time.Now().Nanosecond()),
		Hostname: dev.host,
	})
	if err != nil {
		return netip.Addr{}, fmt.Errorf("dhcp request: %w", err)
	}
	tick := time.NewTicker(dhcpPoll)
	defer tick.Stop()
	for client.State() != dhcp.StateBound {
		select {
		case <-ctx.Done():
			return netip.Addr{}, fmt.Errorf("dhcp: %w", ctx.Err())
		case <-tick.C:
			dev.logger.Debug("DHCP ongoing...")
		}
	}
	ip := client.Offer()
	dev.logger.Info("DHCP complete",
		slog.Uint64("cidrbits", uint64(client.CIDRBits())),
		slog.String("ourIP", ip.String()),
		slog.String("gateway", client.Gateway().String()),
		slog.Duration("lease", client.IPLeaseTime()),
	)
	// set the address only after DHCP completed
	stack.SetAddr(ip)

	dev.link.set(true)
	return ip, nil
}

// Linked returns true after a successful join while the chip reports
// the link up.
func (dev *Pico2WDevice) Linked() bool {
	return dev.link.linked()
}

// Disconnect marks the link down. cyw43439 has no leave call, so the
// chip is left associated; the terminal transitions that call this reset
// the device right after.
func (dev *Pico2WDevice) Disconnect() error {
	dev.link.set(false)
	return nil
}

// Listen returns a TCP listener on the given port (after a join).
func (dev *Pico2WDevice) Listen(port uint16) (net.Listener, error) {
	dev.mu.Lock()
	stack := dev.stack
	dev.mu.Unlock()
	if stack == nil {
		return nil, ErrNoStation
	}
	lst, err := stacks.NewTCPListener(stack, stacks.TCPListenerConfig{
		MaxConnections: 3,
		ConnTxBufSize:  512,
		ConnRxBufSize:  512,
	})
	if err != nil {
		return nil, err
	}
	if err = lst.StartListening(port); err != nil {
		return nil, err
	}
	return lst, nil
}

//----------------------------------------------------------------------

// PicoSystem resets the chip for reboot and deep sleep.
type PicoSystem struct{}

// Reboot the device
func (PicoSystem) Reboot() {
	machine.CPUReset()
}

// DeepSleep emulates a timed deep sleep: wait and reset. Watchdog scratch
// registers survive the reset.
func (PicoSystem) DeepSleep(d time.Duration) {
	time.Sleep(d)
	machine.CPUReset()
}

// ScratchRetained is a watchdog scratch register (survives a reset but
// not a power cycle).
type ScratchRetained struct{}

// Load the word
func (ScratchRetained) Load() (uint32, error) {
	return rp.WATCHDOG.SCRATCH4.Get(), nil
}

// Store the word
func (ScratchRetained) Store(w uint32) error {
	rp.WATCHDOG.SCRATCH4.Set(w)
	return nil
}

// FlashStore keeps credentials in the flash area behind the firmware.
func FlashStore() *BlockStore {
	return NewBlockStore(machine.Flash)
}

// ButtonPin returns a level function for an active-low push button.
func ButtonPin(pin machine.Pin) func() bool {
	pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return func() bool {
		return !pin.Get()
	}
}

//----------------------------------------------------------------------

// uartConduit carries 9p over a UART. Only one peer exists; Accept
// blocks after handing out the line until the conduit is closed.
type uartConduit struct {
	uart   *machine.UART
	handed bool
	closed chan struct{}
	once   sync.Once
}

// NewUARTConduit configures the UART for provisioning.
func NewUARTConduit(uart *machine.UART, baud uint32) (Conduit, error) {
	if err := uart.Configure(machine.UARTConfig{BaudRate: baud}); err != nil {
		return nil, err
	}
	return &uartConduit{uart: uart, closed: make(chan struct{})}, nil
}

func (c *uartConduit) Accept() (io.ReadWriteCloser, error) {
	if !c.handed {
		c.handed = true
		return &uartLine{c: c}, nil
	}
	<-c.closed
	return nil, net.ErrClosed
}

func (c *uartConduit) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *uartConduit) Port() int { return 0 }

type uartLine struct {
	c *uartConduit
}

// Read blocks until data is available or the conduit is closed.
func (l *uartLine) Read(p []byte) (int, error) {
	for {
		select {
		case <-l.c.closed:
			return 0, io.EOF
		default:
		}
		if l.c.uart.Buffered() > 0 {
			return l.c.uart.Read(p)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (l *uartLine) Write(p []byte) (int, error) { return l.c.uart.Write(p) }
func (l *uartLine) Close() error                { return nil }

//----------------------------------------------------------------------

var errDropped = errors.New("dropped outgoing packet")

// nicLoop moves packets between the chip and the stack.
func nicLoop(dev *cyw43439.Device, stack *stacks.PortStack, logger *slog.Logger) {
	// Maximum number of packets to queue before sending them.
	const (
		queueSize                = 3
		maxRetriesBeforeDropping = 3
	)
	var queue [queueSize][mtu]byte
	var lenBuf [queueSize]int
	var retries [queueSize]int
	markSent := func(i int) {
		lenBuf[i] = 0
		retries[i] = 0
	}
	for {
		stallRx := true
		gotPacket, err := dev.PollOne()
		if err != nil {
			logger.Debug("poll error", slog.String("err", err.Error()))
		}
		if gotPacket {
			stallRx = false
		}

		// Queue packets to be sent.
		for i := range queue {
			if retries[i] != 0 {
				continue // Packet currently queued for retransmission.
			}
			buf := queue[i][:]
			lenBuf[i], err = stack.HandleEth(buf[:])
			if err != nil {
				logger.Debug("stack error", slog.Int("n", lenBuf[i]), slog.String("err", err.Error()))
				lenBuf[i] = 0
				continue
			}
			if lenBuf[i] == 0 {
				break
			}
		}
		if lenBuf == [queueSize]int{} {
			if stallRx {
				// Avoid busy waiting when both Rx and Tx stall.
				time.Sleep(51 * time.Millisecond)
			}
			continue
		}

		// Send queued packets.
		for i := range queue {
			n := lenBuf[i]
			if n <= 0 {
				continue
			}
			if err := dev.SendEth(queue[i][:n]); err != nil {
				retries[i]++
				if retries[i] > maxRetriesBeforeDropping {
					markSent(i)
					logger.Warn(errDropped.Error(), slog.String("err", err.Error()))
				}
			} else {
				markSent(i)
			}
		}
	}
}
