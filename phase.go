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

// Phase of the device connectivity lifecycle.
type Phase int

// connectivity phases
const (
	PhaseUnprovisioned        Phase = iota // no usable credentials, waiting for the user
	PhaseProvisioning                      // provisioning session active
	PhaseProvisioningTimedOut              // session timed out, nothing to fall back to
	PhaseConnecting                        // station mode, waiting for an address
	PhaseConnected                         // link up
	PhaseDisconnected                      // link lost, supervisor retrying
	PhaseFactoryResetting                  // erasing and rebooting (terminal)
)

var phaseNames = [...]string{
	"unprovisioned",
	"provisioning",
	"provisioning-timed-out",
	"connecting",
	"connected",
	"disconnected",
	"factory-resetting",
}

// String returns the phase name
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}
