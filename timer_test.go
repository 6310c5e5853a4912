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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadlineFiresOnce(t *testing.T) {
	var dl Deadline
	var fired atomic.Uint64
	require.True(t, dl.Arm(7, 10*time.Millisecond, func(gen uint64) { fired.Store(gen) }))
	assert.Equal(t, uint64(7), dl.Armed())

	require.Eventually(t, func() bool { return fired.Load() == 7 }, time.Second, time.Millisecond)
	assert.Zero(t, dl.Armed())
}

func TestDeadlineNotRearmed(t *testing.T) {
	var dl Deadline
	defer dl.Disarm()
	assert.True(t, dl.Arm(1, time.Hour, func(uint64) {}))
	assert.False(t, dl.Arm(2, time.Hour, func(uint64) {}))
	assert.Equal(t, uint64(1), dl.Armed())
}

func TestDeadlineDisarm(t *testing.T) {
	var dl Deadline
	// never armed
	dl.Disarm()

	var fired atomic.Bool
	dl.Arm(1, 20*time.Millisecond, func(uint64) { fired.Store(true) })
	dl.Disarm()
	dl.Disarm()
	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())

	// rearm after disarm
	assert.True(t, dl.Arm(2, time.Millisecond, func(uint64) { fired.Store(true) }))
	require.Eventually(t, fired.Load, time.Second, time.Millisecond)

	// after firing
	dl.Disarm()
	assert.Zero(t, dl.Armed())
}
