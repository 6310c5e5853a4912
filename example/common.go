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
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/bfix/netprov"
)

// serveStatus serves the status namespace on every accepted connection.
func serveStatus(ns *netprov.Namespace, lst net.Listener, logger *slog.Logger) {
	for {
		c, err := lst.Accept()
		if err != nil {
			logger.Warn("status listener closed", slog.String("err", err.Error()))
			return
		}
		go ns.ServeConn(c)
	}
}

// clicks counts plain button clicks (the application action of this
// example) and exposes the count in the status namespace.
type clicks struct {
	n atomic.Int64
}

func (c *clicks) click(logger *slog.Logger) func() {
	return func() {
		logger.Info("click", slog.Int64("count", c.n.Add(1)))
	}
}

func (c *clicks) file() netprov.File {
	return netprov.NewFuncFile(func() ([]byte, error) {
		return []byte(strconv.FormatInt(c.n.Load(), 10) + "\n"), nil
	})
}
