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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readText(t *testing.T, ns *Namespace, path string) string {
	t.Helper()
	data, err := ns.ReadFile(path)
	require.NoError(t, err)
	return strings.TrimSpace(string(data))
}

func TestStatusNamespace(t *testing.T) {
	r := newRig(t, "home", 0, time.Minute)
	ns, err := NewStatusNamespace(r.orch, "dev-0abcde", nil, false)
	require.NoError(t, err)

	r.orch.Boot()
	assert.Equal(t, "dev-0abcde", readText(t, ns, "/dev/name"))
	assert.Equal(t, "connecting", readText(t, ns, "/dev/phase"))
	assert.Equal(t, "false", readText(t, ns, "/dev/forced"))
	assert.Equal(t, "down", readText(t, ns, "/dev/link"))

	r.orch.Handle(LinkUp{})
	assert.Equal(t, "connected", readText(t, ns, "/dev/phase"))
	assert.Equal(t, "up", readText(t, ns, "/dev/link"))
	assert.Equal(t, "blink(100ms,short,x3)", readText(t, ns, "/dev/pattern"))

	_, err = ns.ReadFile("/dev/ctl")
	require.NoError(t, err)
	assert.ErrorIs(t, ns.WriteFile("/dev/phase", []byte("x")), errNoWrite)
}

func TestStatusNamespaceControl(t *testing.T) {
	r := newRig(t, "home", 0, time.Minute)
	ns, err := NewStatusNamespace(r.orch, "dev-0abcde", func() bool { return true }, true)
	require.NoError(t, err)
	r.orch.Boot()
	assert.Equal(t, "up", readText(t, ns, "/dev/link"))

	assert.ErrorIs(t, ns.WriteFile("/dev/ctl", []byte("explode")), errCommand)
	require.NoError(t, ns.WriteFile("/dev/ctl", []byte("click\n")))
	require.NoError(t, ns.WriteFile("/dev/ctl", []byte("reset\n")))
	assert.ErrorIs(t, r.run(t), ErrHalted)

	assert.Equal(t, 1, r.clicks)
	assert.Equal(t, "factory-resetting", readText(t, ns, "/dev/phase"))
	assert.False(t, r.store.Provisioned())
	r.sys.AssertNumberOfCalls(t, "Reboot", 1)
}

func TestStatusNamespaceResetRefused(t *testing.T) {
	r := newRig(t, "home", 0, time.Minute)
	ns, err := NewStatusNamespace(r.orch, "dev-0abcde", nil, false)
	require.NoError(t, err)
	r.orch.Boot()

	assert.ErrorIs(t, ns.WriteFile("/dev/ctl", []byte("reset")), errNoWrite)
	require.NoError(t, ns.WriteFile("/dev/ctl", []byte("provision")))
	assert.ErrorIs(t, r.run(t), ErrHalted)

	// forced provisioning sleeps; the credentials survive
	assert.True(t, r.store.Provisioned())
	assert.NotEqual(t, PhaseFactoryResetting, r.orch.State().Phase)
	r.sys.AssertNumberOfCalls(t, "DeepSleep", 1)
	r.sys.AssertNotCalled(t, "Reboot")
}
