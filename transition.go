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

import "strings"

// State is the connectivity state of the device. It lives for one process
// lifetime and is only changed by Transition.
type State struct {
	Phase       Phase
	Booted      bool   // boot event processed
	Forced      bool   // boot was a forced provisioning boot
	Credentials bool   // credentials are stored
	Deadline    uint64 // provisioning deadline handle (0 = none)
	Armed       bool   // deadline can still fire
	Session     bool   // provisioning session instance exists
	Succeeded   bool   // session reported success
	Halted      bool   // terminal action issued (reboot or deep sleep)
	Pattern     Pattern
	Pulses      int // link-up pulse count
	gen         uint64
}

// Consistent checks the state invariants: the deadline handle exists if and
// only if the device is provisioning, a live session implies provisioning.
func (s State) Consistent() bool {
	if (s.Deadline != 0) != (s.Phase == PhaseProvisioning) {
		return false
	}
	if s.Armed && s.Deadline == 0 {
		return false
	}
	return !s.Session || s.Phase == PhaseProvisioning
}

//----------------------------------------------------------------------

// EffectKind enumerates side effects requested by a transition.
type EffectKind int

// side effects
const (
	EffStartSession EffectKind = iota
	EffStopSession
	EffDeinitSession
	EffArmDeadline
	EffDisarmDeadline
	EffStartStation
	EffResume
	EffPause
	EffDisconnect
	EffErase
	EffSetForced
	EffSettle
	EffReboot
	EffDeepSleep
	EffPattern
	EffClick
)

var effectNames = [...]string{
	"start-session", "stop-session", "deinit-session", "arm-deadline",
	"disarm-deadline", "start-station", "resume", "pause", "disconnect",
	"erase", "set-forced", "settle", "reboot", "deep-sleep", "pattern",
	"click",
}

func (k EffectKind) String() string {
	if k < 0 || int(k) >= len(effectNames) {
		return "unknown"
	}
	return effectNames[k]
}

// Effect is a side effect to be applied by the orchestrator in order.
type Effect struct {
	Kind    EffectKind
	Gen     uint64  // deadline handle (EffArmDeadline)
	Pattern Pattern // indicator pattern (EffPattern)
}

// Effects is an ordered list of side effects.
type Effects []Effect

// Kinds returns the effect kinds in order.
func (e Effects) Kinds() (kinds []EffectKind) {
	for _, eff := range e {
		kinds = append(kinds, eff.Kind)
	}
	return
}

// String lists the effects
func (e Effects) String() string {
	names := make([]string, len(e))
	for i, eff := range e {
		names[i] = eff.Kind.String()
	}
	return strings.Join(names, ",")
}

//----------------------------------------------------------------------

// Transition computes the next state and the side effects for an event.
// Events that do not apply to the current phase are no-ops, so a late or
// superseded event never acts twice.
func Transition(s State, ev Event) (State, Effects) {
	if s.Halted || s.Phase == PhaseFactoryResetting {
		return s, nil
	}
	if _, ok := ev.(Boot); !ok && !s.Booted {
		return s, nil
	}
	switch e := ev.(type) {
	case Boot:
		if s.Booted {
			return s, nil
		}
		s.Booted = true
		s.Forced = e.Forced
		s.Credentials = e.Provisioned
		if !e.Provisioned || e.Forced {
			return enterProvisioning(s)
		}
		return enterConnecting(s, Effect{Kind: EffStartStation}, Effect{Kind: EffResume})

	case SessionStarted, CredentialsFailed:
		// the session keeps running; only Ended leaves provisioning
		return s, nil

	case CredentialsReceived:
		if s.Phase != PhaseProvisioning || !s.Armed {
			return s, nil
		}
		s.Armed = false
		return s, Effects{{Kind: EffDisarmDeadline}}

	case SessionSucceeded:
		if s.Phase != PhaseProvisioning {
			return s, nil
		}
		s.Succeeded = true
		s.Credentials = true
		return s, nil

	case SessionEnded:
		if s.Phase != PhaseProvisioning {
			return s, nil
		}
		var effs Effects
		s, effs = leaveProvisioning(s, false)
		if s.Succeeded || s.Credentials {
			// reconnect can use old credentials even if provisioning failed
			return enterConnecting(s, append(effs, Effect{Kind: EffResume})...)
		}
		return setPhase(s, PhaseUnprovisioned, effs)

	case DeadlineExpired:
		if s.Phase != PhaseProvisioning || !s.Armed || e.Gen != s.Deadline {
			return s, nil
		}
		var effs Effects
		s, effs = leaveProvisioning(s, true)
		s.Phase = PhaseProvisioningTimedOut
		if s.Credentials {
			return enterConnecting(s, append(effs,
				Effect{Kind: EffStartStation},
				Effect{Kind: EffResume})...)
		}
		return setPhase(s, PhaseProvisioningTimedOut, effs)

	case LinkUp:
		if s.Phase != PhaseConnecting && s.Phase != PhaseDisconnected {
			return s, nil
		}
		return setPhase(s, PhaseConnected, nil)

	case LinkDown:
		if s.Phase != PhaseConnected {
			return s, nil
		}
		return setPhase(s, PhaseDisconnected, nil)

	case UserIntent:
		switch e.Intent {
		case IntentFactoryReset:
			var effs Effects
			if s.Phase == PhaseProvisioning {
				s, effs = leaveProvisioning(s, true)
			}
			s, effs = setPhase(s, PhaseFactoryResetting, effs)
			s.Halted = true
			return s, append(effs,
				Effect{Kind: EffPause},
				Effect{Kind: EffDisconnect},
				Effect{Kind: EffSettle},
				Effect{Kind: EffErase},
				Effect{Kind: EffReboot})
		case IntentForceProvisioning:
			s.Halted = true
			return s, Effects{
				{Kind: EffPause},
				{Kind: EffDisconnect},
				{Kind: EffSetForced},
				{Kind: EffSettle},
				{Kind: EffDeepSleep},
			}
		case IntentClick:
			return s, Effects{{Kind: EffClick}}
		}
	}
	return s, nil
}

// enter the provisioning phase: start session, arm deadline, fast blink.
func enterProvisioning(s State) (State, Effects) {
	s.gen++
	s.Deadline = s.gen
	s.Armed = true
	s.Session = true
	s.Succeeded = false
	return setPhase(s, PhaseProvisioning, Effects{
		{Kind: EffStartSession},
		{Kind: EffArmDeadline, Gen: s.gen},
	})
}

// leave the provisioning phase: release the deadline and tear down the
// session (stop first if it is still running).
func leaveProvisioning(s State, stop bool) (State, Effects) {
	effs := Effects{{Kind: EffDisarmDeadline}}
	if s.Session {
		if stop {
			effs = append(effs, Effect{Kind: EffStopSession})
		}
		effs = append(effs, Effect{Kind: EffDeinitSession})
	}
	s.Deadline = 0
	s.Armed = false
	s.Session = false
	return s, effs
}

func enterConnecting(s State, effs ...Effect) (State, Effects) {
	return setPhase(s, PhaseConnecting, effs)
}

// set the phase and append the matching indicator pattern. The pattern is
// only emitted if it differs from the one shown.
func setPhase(s State, p Phase, effs Effects) (State, Effects) {
	s.Phase = p
	pat := PatternFor(p, s.Pulses)
	if pat != s.Pattern || p == PhaseConnected {
		s.Pattern = pat
		effs = append(effs, Effect{Kind: EffPattern, Pattern: pat})
	}
	return s, effs
}
