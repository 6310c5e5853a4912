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
	"math/rand/v2"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step applies an event and checks the state invariants.
func step(t *testing.T, s State, ev Event) (State, Effects) {
	t.Helper()
	next, effs := Transition(s, ev)
	require.True(t, next.Consistent(), "inconsistent after %s: %+v", ev, next)
	return next, effs
}

func boot(t *testing.T, provisioned, forced bool) State {
	t.Helper()
	s, _ := step(t, State{Pulses: ReadyPulses}, Boot{Provisioned: provisioned, Forced: forced})
	return s
}

func TestBootUnprovisioned(t *testing.T) {
	s, effs := step(t, State{}, Boot{})
	assert.Equal(t, PhaseProvisioning, s.Phase)
	assert.NotZero(t, s.Deadline)
	assert.True(t, s.Armed)
	assert.True(t, s.Session)
	assert.Equal(t, []EffectKind{EffStartSession, EffArmDeadline, EffPattern}, effs.Kinds())
	assert.Equal(t, s.Deadline, effs[1].Gen)
	assert.Equal(t, Pattern{Interval: ProvInterval, Symmetric: true}, effs[2].Pattern)
}

func TestBootProvisioned(t *testing.T) {
	s, effs := step(t, State{}, Boot{Provisioned: true})
	assert.Equal(t, PhaseConnecting, s.Phase)
	assert.Zero(t, s.Deadline)
	assert.Equal(t, []EffectKind{EffStartStation, EffResume, EffPattern}, effs.Kinds())
	assert.Equal(t, Pattern{Interval: ConnectingInterval, Symmetric: true}, effs[2].Pattern)
}

func TestBootForcedOverridesCredentials(t *testing.T) {
	s := boot(t, true, true)
	assert.Equal(t, PhaseProvisioning, s.Phase)
	assert.True(t, s.Forced)
	assert.True(t, s.Credentials)
}

func TestEventsBeforeBootIgnored(t *testing.T) {
	for _, ev := range []Event{LinkUp{}, SessionEnded{}, UserIntent{Intent: IntentFactoryReset}} {
		s, effs := step(t, State{}, ev)
		assert.Equal(t, State{}, s)
		assert.Empty(t, effs)
	}
}

func TestSecondBootIgnored(t *testing.T) {
	s := boot(t, false, false)
	next, effs := step(t, s, Boot{Provisioned: true})
	assert.Equal(t, s, next)
	assert.Empty(t, effs)
}

func TestCredentialsReceivedDisarmsDeadline(t *testing.T) {
	s := boot(t, false, false)
	gen := s.Deadline

	s, effs := step(t, s, CredentialsReceived{SSID: "home"})
	assert.Equal(t, PhaseProvisioning, s.Phase)
	assert.False(t, s.Armed)
	assert.Equal(t, []EffectKind{EffDisarmDeadline}, effs.Kinds())

	// a racing deadline fire is a no-op
	next, effs := step(t, s, DeadlineExpired{Gen: gen})
	assert.Equal(t, s, next)
	assert.Empty(t, effs)

	// never rearmed by a second delivery
	next, effs = step(t, s, CredentialsReceived{SSID: "home"})
	assert.Equal(t, s, next)
	assert.Empty(t, effs)
}

func TestSessionSucceeded(t *testing.T) {
	s := boot(t, false, false)
	s, _ = step(t, s, SessionStarted{})
	s, _ = step(t, s, CredentialsReceived{SSID: "home"})
	s, effs := step(t, s, SessionSucceeded{})
	assert.Equal(t, PhaseProvisioning, s.Phase)
	assert.True(t, s.Credentials)
	assert.Empty(t, effs)

	s, effs = step(t, s, SessionEnded{})
	assert.Equal(t, PhaseConnecting, s.Phase)
	assert.False(t, s.Session)
	assert.Equal(t, []EffectKind{EffDisarmDeadline, EffDeinitSession, EffResume, EffPattern}, effs.Kinds())
	assert.Equal(t, PatternFor(PhaseConnecting, 0), effs[3].Pattern)
}

func TestSessionEndedWithoutCredentials(t *testing.T) {
	s := boot(t, false, false)
	s, _ = step(t, s, CredentialsFailed{Reason: FailAuth})
	assert.Equal(t, PhaseProvisioning, s.Phase)

	s, effs := step(t, s, SessionEnded{})
	assert.Equal(t, PhaseUnprovisioned, s.Phase)
	// indicator keeps blinking fast: no pattern change
	assert.Equal(t, []EffectKind{EffDisarmDeadline, EffDeinitSession}, effs.Kinds())
	assert.Equal(t, PatternFor(PhaseProvisioning, 0), s.Pattern)
}

func TestSessionEndedWithOldCredentials(t *testing.T) {
	s := boot(t, true, true)
	s, effs := step(t, s, SessionEnded{})
	assert.Equal(t, PhaseConnecting, s.Phase)
	assert.Contains(t, effs.Kinds(), EffResume)
}

func TestDeadlineWithCredentials(t *testing.T) {
	s := boot(t, true, true)
	s, effs := step(t, s, DeadlineExpired{Gen: s.Deadline})
	assert.Equal(t, PhaseConnecting, s.Phase)
	assert.Equal(t, []EffectKind{
		EffDisarmDeadline, EffStopSession, EffDeinitSession,
		EffStartStation, EffResume, EffPattern,
	}, effs.Kinds())

	// the session end reported by Stop and late failures do nothing
	for _, ev := range []Event{SessionEnded{}, CredentialsFailed{Reason: FailNotFound}, SessionSucceeded{}} {
		next, effs := step(t, s, ev)
		assert.Equal(t, s, next, ev.String())
		assert.Empty(t, effs, ev.String())
	}
}

func TestDeadlineWithoutCredentials(t *testing.T) {
	s := boot(t, false, false)
	s, effs := step(t, s, DeadlineExpired{Gen: s.Deadline})
	assert.Equal(t, PhaseProvisioningTimedOut, s.Phase)
	assert.Equal(t, []EffectKind{EffDisarmDeadline, EffStopSession, EffDeinitSession}, effs.Kinds())
	assert.Equal(t, PatternFor(PhaseProvisioningTimedOut, 0), s.Pattern)
}

func TestStaleDeadlineIgnored(t *testing.T) {
	s := boot(t, false, false)
	next, effs := step(t, s, DeadlineExpired{Gen: s.Deadline + 1})
	assert.Equal(t, s, next)
	assert.Empty(t, effs)
}

func TestLinkTransitions(t *testing.T) {
	s := boot(t, true, false)

	s, effs := step(t, s, LinkUp{Addr: netip.MustParseAddr("10.0.0.2")})
	assert.Equal(t, PhaseConnected, s.Phase)
	assert.Equal(t, []EffectKind{EffPattern}, effs.Kinds())
	assert.Equal(t, ReadyPulses, effs[0].Pattern.Repeat)

	s, effs = step(t, s, LinkDown{Reason: "beacon loss"})
	assert.Equal(t, PhaseDisconnected, s.Phase)
	assert.Equal(t, PatternFor(PhaseDisconnected, 0), effs[0].Pattern)

	s, effs = step(t, s, LinkUp{})
	assert.Equal(t, PhaseConnected, s.Phase)
	assert.Equal(t, []EffectKind{EffPattern}, effs.Kinds())

	// duplicates do nothing
	next, effs := step(t, s, LinkUp{})
	assert.Equal(t, PhaseConnected, next.Phase)
	assert.Empty(t, effs)
}

func TestLinkIgnoredWhileProvisioning(t *testing.T) {
	s := boot(t, false, false)
	next, effs := step(t, s, LinkUp{})
	assert.Equal(t, s, next)
	assert.Empty(t, effs)
	next, effs = step(t, s, LinkDown{})
	assert.Equal(t, s, next)
	assert.Empty(t, effs)
}

func TestFactoryResetFromProvisioning(t *testing.T) {
	s := boot(t, false, false)
	s, effs := step(t, s, UserIntent{Intent: IntentFactoryReset})
	assert.Equal(t, PhaseFactoryResetting, s.Phase)
	assert.True(t, s.Halted)
	assert.Equal(t, []EffectKind{
		EffDisarmDeadline, EffStopSession, EffDeinitSession, EffPattern,
		EffPause, EffDisconnect, EffSettle, EffErase, EffReboot,
	}, effs.Kinds())
}

func TestFactoryResetIsTerminal(t *testing.T) {
	s := boot(t, true, false)
	s, _ = step(t, s, LinkUp{})
	s, effs := step(t, s, UserIntent{Intent: IntentFactoryReset})
	assert.Equal(t, []EffectKind{
		EffPattern, EffPause, EffDisconnect, EffSettle, EffErase, EffReboot,
	}, effs.Kinds())
	assert.Equal(t, Pattern{Settle: true}, effs[0].Pattern)

	for _, ev := range []Event{
		LinkDown{}, LinkUp{}, UserIntent{Intent: IntentFactoryReset},
		UserIntent{Intent: IntentForceProvisioning}, UserIntent{Intent: IntentClick},
	} {
		next, effs := step(t, s, ev)
		assert.Equal(t, s, next, ev.String())
		assert.Empty(t, effs, ev.String())
	}
}

func TestForceProvisioning(t *testing.T) {
	s := boot(t, true, false)
	s, _ = step(t, s, LinkUp{})
	s, effs := step(t, s, UserIntent{Intent: IntentForceProvisioning})
	assert.Equal(t, PhaseConnected, s.Phase)
	assert.True(t, s.Halted)
	assert.Equal(t, []EffectKind{EffPause, EffDisconnect, EffSetForced, EffSettle, EffDeepSleep}, effs.Kinds())

	next, effs := step(t, s, LinkDown{})
	assert.Equal(t, s, next)
	assert.Empty(t, effs)
}

func TestClickLeavesConnectivity(t *testing.T) {
	s := boot(t, true, false)
	next, effs := step(t, s, UserIntent{Intent: IntentClick})
	assert.Equal(t, s, next)
	assert.Equal(t, []EffectKind{EffClick}, effs.Kinds())
}

func TestPatternFollowsPhase(t *testing.T) {
	rnd := rand.New(rand.NewPCG(7, 11))
	events := func(s State) Event {
		switch rnd.IntN(11) {
		case 0:
			return LinkUp{}
		case 1:
			return LinkDown{}
		case 2:
			return SessionStarted{}
		case 3:
			return CredentialsReceived{SSID: "x"}
		case 4:
			return CredentialsFailed{Reason: FailReason(rnd.IntN(2))}
		case 5:
			return SessionSucceeded{}
		case 6:
			return SessionEnded{}
		case 7:
			return DeadlineExpired{Gen: s.Deadline}
		case 8:
			return DeadlineExpired{Gen: uint64(rnd.IntN(3))}
		case 9:
			return UserIntent{Intent: IntentClick}
		}
		if rnd.IntN(20) == 0 {
			return UserIntent{Intent: Intent(2 + rnd.IntN(2))}
		}
		return LinkUp{}
	}
	for run := 0; run < 200; run++ {
		s := boot(t, rnd.IntN(2) == 0, rnd.IntN(4) == 0)
		shown := s.Pattern
		for i := 0; i < 50; i++ {
			ev := events(s)
			next, effs := step(t, s, ev)
			for _, eff := range effs {
				if eff.Kind == EffPattern {
					shown = eff.Pattern
				}
			}
			if !next.Halted || next.Phase == PhaseFactoryResetting {
				assert.Equal(t, PatternFor(next.Phase, ReadyPulses), shown,
					"pattern after %s in %s", ev, next.Phase)
			}
			if s.Halted {
				assert.Equal(t, s, next)
				assert.Empty(t, effs)
			}
			s = next
		}
	}
}
