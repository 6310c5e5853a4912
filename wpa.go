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
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// wpa_supplicant control interface timings
const (
	wpaReplyTimeout = 3 * time.Second
	wpaStatusPoll   = 500 * time.Millisecond
	wpaBufSize      = 4096
)

// Error messages
var (
	errWPAFail    = errors.New("wpa_supplicant: FAIL")
	errWPANoReply = errors.New("wpa_supplicant: unexpected reply")
)

var wpaSeq atomic.Uint32

// WPACtrl is a request/reply channel to wpa_supplicant.
type WPACtrl interface {
	Request(cmd string) (string, error)
	Close() error
}

// WPAEvents delivers unsolicited wpa_supplicant messages (level prefix
// stripped) after ATTACH.
type WPAEvents interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// WPAConn is a datagram connection to a control socket.
type WPAConn struct {
	mu    sync.Mutex
	conn  *net.UnixConn
	local string
}

// DialWPA connects to the control socket of an interface.
func DialWPA(dir, iface string) (*WPAConn, error) {
	local := filepath.Join(os.TempDir(),
		fmt.Sprintf("netprov-%d-%d", os.Getpid(), wpaSeq.Add(1)))
	conn, err := net.DialUnix("unixgram",
		&net.UnixAddr{Name: local, Net: "unixgram"},
		&net.UnixAddr{Name: filepath.Join(dir, iface), Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("wpa_supplicant control socket: %w", err)
	}
	return &WPAConn{conn: conn, local: local}, nil
}

// Request sends a command and returns the reply (unsolicited messages on
// the socket are skipped).
func (c *WPAConn) Request(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.conn.Write([]byte(cmd)); err != nil {
		return "", err
	}
	buf := make([]byte, wpaBufSize)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(wpaReplyTimeout)); err != nil {
			return "", err
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			return "", fmt.Errorf("%s: %w", cmd, err)
		}
		if n > 0 && buf[0] == '<' {
			continue
		}
		return strings.TrimRight(string(buf[:n]), "\n"), nil
	}
}

// Attach switches the connection to event mode.
func (c *WPAConn) Attach() (WPAEvents, error) {
	rep, err := c.Request("ATTACH")
	if err != nil {
		return nil, err
	}
	if rep != "OK" {
		return nil, errWPAFail
	}
	return c, nil
}

// Next event message.
func (c *WPAConn) Next(ctx context.Context) (string, error) {
	buf := make([]byte, wpaBufSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		// short deadlines so cancellation is noticed
		if err := c.conn.SetReadDeadline(time.Now().Add(wpaStatusPoll)); err != nil {
			return "", err
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return "", err
		}
		msg := string(buf[:n])
		if i := strings.IndexByte(msg, '>'); strings.HasPrefix(msg, "<") && i > 0 {
			return strings.TrimSpace(msg[i+1:]), nil
		}
	}
}

// Close the connection and remove the local socket.
func (c *WPAConn) Close() error {
	err := c.conn.Close()
	os.Remove(c.local)
	return err
}

// wpaOK checks for an "OK" reply.
func wpaOK(ctrl WPACtrl, cmd string) error {
	rep, err := ctrl.Request(cmd)
	if err != nil {
		return err
	}
	if rep != "OK" {
		return fmt.Errorf("%s: %w (%s)", strings.Fields(cmd)[0], errWPAFail, rep)
	}
	return nil
}

// wpaStatus parses a STATUS reply ("key=value" lines).
func wpaStatus(ctrl WPACtrl) (map[string]string, error) {
	rep, err := ctrl.Request("STATUS")
	if err != nil {
		return nil, err
	}
	status := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(rep))
	for sc.Scan() {
		if k, v, ok := strings.Cut(sc.Text(), "="); ok {
			status[k] = v
		}
	}
	if _, ok := status["wpa_state"]; !ok {
		return nil, errWPANoReply
	}
	return status, nil
}

//----------------------------------------------------------------------

// WPARadio drives a wireless interface through wpa_supplicant.
type WPARadio struct {
	ctrl   WPACtrl
	attach func() (WPAEvents, error)
	logger *slog.Logger
	mu     sync.Mutex
	netID  int // network added by Join (-1 = none)
}

// NewWPARadio on a control channel; attach opens an event channel.
func NewWPARadio(ctrl WPACtrl, attach func() (WPAEvents, error), logger *slog.Logger) *WPARadio {
	return &WPARadio{
		ctrl:   ctrl,
		attach: attach,
		logger: orDiscard(logger),
		netID:  -1,
	}
}

// DialWPARadio connects to wpa_supplicant for an interface.
func DialWPARadio(dir, iface string, logger *slog.Logger) (*WPARadio, error) {
	ctrl, err := DialWPA(dir, iface)
	if err != nil {
		return nil, err
	}
	attach := func() (WPAEvents, error) {
		c, err := DialWPA(dir, iface)
		if err != nil {
			return nil, err
		}
		ev, err := c.Attach()
		if err != nil {
			c.Close()
			return nil, err
		}
		return ev, nil
	}
	return NewWPARadio(ctrl, attach, logger), nil
}

// Station checks that the supplicant answers.
func (r *WPARadio) Station() error {
	rep, err := r.ctrl.Request("PING")
	if err != nil {
		return err
	}
	if rep != "PONG" {
		return errWPANoReply
	}
	return nil
}

// Join a network. External credentials select a network already known to
// the supplicant; others replace the network added by the last join.
func (r *WPARadio) Join(ctx context.Context, cred *Credentials) (netip.Addr, error) {
	events, err := r.attach()
	if err != nil {
		return netip.Addr{}, err
	}
	defer events.Close()

	id, err := r.configure(cred)
	if err != nil {
		return netip.Addr{}, err
	}
	if err = wpaOK(r.ctrl, fmt.Sprintf("SELECT_NETWORK %d", id)); err != nil {
		return netip.Addr{}, err
	}
	r.logger.Info("joining network", slog.String("ssid", cred.SSID), slog.Int("id", id))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	fail := make(chan error, 1)
	go func() {
		for {
			msg, err := events.Next(ctx)
			if err != nil {
				return
			}
			if err := joinFailure(msg); err != nil {
				fail <- err
				return
			}
		}
	}()

	tick := time.NewTicker(wpaStatusPoll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return netip.Addr{}, fmt.Errorf("%w: %v", ErrNoAP, ctx.Err())
		case err := <-fail:
			return netip.Addr{}, err
		case <-tick.C:
		}
		status, err := wpaStatus(r.ctrl)
		if err != nil {
			return netip.Addr{}, err
		}
		if status["wpa_state"] != "COMPLETED" {
			continue
		}
		// address assignment is up to the DHCP client
		addr, err := netip.ParseAddr(status["ip_address"])
		if err != nil {
			continue
		}
		return addr, nil
	}
}

// joinFailure classifies supplicant events during a join.
func joinFailure(msg string) error {
	switch {
	case strings.HasPrefix(msg, "CTRL-EVENT-SSID-TEMP-DISABLED") && strings.Contains(msg, "reason=WRONG_KEY"):
		return ErrAuth
	case strings.HasPrefix(msg, "CTRL-EVENT-SSID-TEMP-DISABLED") && strings.Contains(msg, "reason=AUTH_FAILED"):
		return ErrAuth
	case strings.HasPrefix(msg, "CTRL-EVENT-NETWORK-NOT-FOUND"):
		return ErrNoAP
	}
	return nil
}

// configure the network block for the credentials; returns its id.
func (r *WPARadio) configure(cred *Credentials) (int, error) {
	if cred.External {
		return r.lookup(cred.SSID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.netID >= 0 {
		// ignore failure: the network may have been removed externally
		wpaOK(r.ctrl, fmt.Sprintf("REMOVE_NETWORK %d", r.netID))
		r.netID = -1
	}
	rep, err := r.ctrl.Request("ADD_NETWORK")
	if err != nil {
		return -1, err
	}
	id, err := strconv.Atoi(rep)
	if err != nil {
		return -1, fmt.Errorf("ADD_NETWORK: %w (%s)", errWPANoReply, rep)
	}
	cmds := []string{
		fmt.Sprintf("SET_NETWORK %d ssid %s", id, strconv.Quote(cred.SSID)),
	}
	if cred.Passphrase == "" {
		cmds = append(cmds, fmt.Sprintf("SET_NETWORK %d key_mgmt NONE", id))
	} else {
		cmds = append(cmds, fmt.Sprintf("SET_NETWORK %d psk %s", id, strconv.Quote(cred.Passphrase)))
	}
	for _, cmd := range cmds {
		if err = wpaOK(r.ctrl, cmd); err != nil {
			wpaOK(r.ctrl, fmt.Sprintf("REMOVE_NETWORK %d", id))
			return -1, err
		}
	}
	r.netID = id
	return id, nil
}

// lookup a configured network by SSID (LIST_NETWORKS).
func (r *WPARadio) lookup(ssid string) (int, error) {
	rep, err := r.ctrl.Request("LIST_NETWORKS")
	if err != nil {
		return -1, err
	}
	lines := strings.Split(rep, "\n")
	for _, line := range lines[min(1, len(lines)):] {
		f := strings.Split(line, "\t")
		if len(f) >= 2 && f[1] == ssid {
			return strconv.Atoi(f[0])
		}
	}
	return -1, fmt.Errorf("%w: %q not configured", ErrNoAP, ssid)
}

// Linked returns true while the supplicant is associated.
func (r *WPARadio) Linked() bool {
	status, err := wpaStatus(r.ctrl)
	if err != nil {
		r.logger.Debug("wpa status", slog.String("err", err.Error()))
		return false
	}
	return status["wpa_state"] == "COMPLETED"
}

// Disconnect from the network (no automatic reconnect).
func (r *WPARadio) Disconnect() error {
	return wpaOK(r.ctrl, "DISCONNECT")
}
