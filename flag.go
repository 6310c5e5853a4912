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
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BootFlags reads the retained boot flags once per process.
type BootFlags struct {
	mem    Retained
	window time.Duration // double reset window (0 = disabled)
	logger *slog.Logger
	timer  *time.Timer
}

// NewBootFlags for the given retained word. A positive window enables
// double reset detection: a second boot within window after the previous
// boot forces provisioning.
func NewBootFlags(mem Retained, window time.Duration, logger *slog.Logger) *BootFlags {
	return &BootFlags{
		mem:    mem,
		window: window,
		logger: orDiscard(logger),
	}
}

// Consume returns the forced-provisioning state and clears the flag
// before returning, so a later natural reboot does not repeat it.
func (bf *BootFlags) Consume() (forced bool, err error) {
	word, err := bf.mem.Load()
	if err != nil {
		return false, fmt.Errorf("load boot flags: %w", err)
	}
	forced = word&FlagForced != 0
	if bf.window > 0 && word&FlagBooted != 0 {
		bf.logger.Info("double reset detected")
		forced = true
	}
	next := word &^ (FlagForced | FlagBooted)
	if bf.window > 0 {
		next |= FlagBooted
	}
	if err = bf.mem.Store(next); err != nil {
		return forced, fmt.Errorf("clear boot flags: %w", err)
	}
	if bf.window > 0 {
		// clear the marker once the window passed
		bf.timer = time.AfterFunc(bf.window, func() {
			if w, err := bf.mem.Load(); err == nil {
				bf.mem.Store(w &^ FlagBooted)
			}
		})
	}
	return forced, nil
}

// Force sets the forced-provisioning flag for the next (deep-sleep) boot.
func (bf *BootFlags) Force() error {
	if bf.timer != nil {
		bf.timer.Stop()
	}
	word, err := bf.mem.Load()
	if err != nil {
		return err
	}
	return bf.mem.Store((word | FlagForced) &^ FlagBooted)
}

//----------------------------------------------------------------------

// MemRetained is a retained word kept in process memory (tests, hosts
// without retained storage).
type MemRetained struct {
	mu   sync.Mutex
	Word uint32
}

// Load the word
func (m *MemRetained) Load() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Word, nil
}

// Store the word
func (m *MemRetained) Store(w uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Word = w
	return nil
}
