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
	"strconv"
)

// control commands of the status namespace
var controlIntents = map[string]Intent{
	"reset":     IntentFactoryReset,
	"provision": IntentForceProvisioning,
	"click":     IntentClick,
}

// NewStatusNamespace builds the device namespace served once the device is
// online:
//
//	/dev/name     device name
//	/dev/phase    connectivity phase
//	/dev/pattern  indicator pattern
//	/dev/forced   "true" if this boot was a forced provisioning boot
//	/dev/link     "up" or "down"
//	/dev/ctl      "reset", "provision" or "click" (same as the button)
//
// link reports the link state (nil: derived from the phase). "reset"
// erases the credentials, so it is refused unless remoteReset is set.
func NewStatusNamespace(o *Orchestrator, device string, link func() bool, remoteReset bool) (*Namespace, error) {
	if link == nil {
		link = func() bool { return o.State().Phase == PhaseConnected }
	}
	text := func(fcn func() string) File {
		return NewFuncFile(func() ([]byte, error) {
			return []byte(fcn() + "\n"), nil
		})
	}
	ns := NewNamespace("sys", "sys")
	steps := []error{
		ns.NewDir("/dev", 0555),
		ns.NewFile("/dev/name", 0444, NewTextFile(device+"\n")),
		ns.NewFile("/dev/phase", 0444, text(func() string {
			return o.State().Phase.String()
		})),
		ns.NewFile("/dev/pattern", 0444, text(func() string {
			return o.State().Pattern.String()
		})),
		ns.NewFile("/dev/forced", 0444, text(func() string {
			return strconv.FormatBool(o.State().Forced)
		})),
		ns.NewFile("/dev/link", 0444, text(func() string {
			if link() {
				return "up"
			}
			return "down"
		})),
		ns.NewFile("/dev/ctl", 0222, NewCtlFile(func(cmd string) (string, error) {
			in, ok := controlIntents[cmd]
			if !ok {
				return "", fmt.Errorf("%w %q", errCommand, cmd)
			}
			if in == IntentFactoryReset && !remoteReset {
				return "", fmt.Errorf("%w: remote %s disabled", errNoWrite, cmd)
			}
			o.Post(UserIntent{Intent: in})
			return cmd, nil
		})),
	}
	for _, err := range steps {
		if err != nil {
			return nil, err
		}
	}
	return ns, nil
}
