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
	"net/netip"
)

// Event is delivered to the orchestrator by one of its collaborators
// (supervisor, provisioning session, input monitor, deadline timer).
type Event interface {
	fmt.Stringer
	event()
}

//----------------------------------------------------------------------
// boot

// Boot is the first event of every process lifetime. Provisioned is the
// credential store state; Forced is the consumed forced-provisioning flag.
type Boot struct {
	Provisioned bool
	Forced      bool
}

//----------------------------------------------------------------------
// reconnection supervisor

// LinkUp is emitted when the station got a network address.
type LinkUp struct {
	Addr netip.Addr
}

// LinkDown is emitted when an established link is lost.
type LinkDown struct {
	Reason string
}

//----------------------------------------------------------------------
// provisioning session

// FailReason tells why received credentials could not be used.
type FailReason int

// credential failure reasons
const (
	FailAuth     FailReason = iota // station authentication failed
	FailNotFound                   // access point not found
)

// String returns a human-readable reason.
func (r FailReason) String() string {
	if r == FailAuth {
		return "Wi-Fi STA authentication failed"
	}
	return "Wi-Fi AP not found"
}

// SessionStarted is emitted once the transport is accepting peers.
type SessionStarted struct{}

// CredentialsReceived is emitted when a peer delivered credentials.
type CredentialsReceived struct {
	SSID string
}

// CredentialsFailed is emitted when delivered credentials did not work.
// The session stays open for another attempt.
type CredentialsFailed struct {
	Reason FailReason
}

// SessionSucceeded is emitted when credentials were verified and stored.
type SessionSucceeded struct{}

// SessionEnded is the last event of every session.
type SessionEnded struct{}

//----------------------------------------------------------------------
// timer

// DeadlineExpired is posted by the provisioning deadline. Gen identifies
// the deadline instance that fired.
type DeadlineExpired struct {
	Gen uint64
}

//----------------------------------------------------------------------
// user input

// Intent derived from the user input classifier.
type Intent int

// user intents
const (
	IntentNone Intent = iota
	IntentClick
	IntentForceProvisioning
	IntentFactoryReset
)

// String returns the intent name
func (i Intent) String() string {
	switch i {
	case IntentClick:
		return "click"
	case IntentForceProvisioning:
		return "force-provisioning"
	case IntentFactoryReset:
		return "factory-reset"
	}
	return "none"
}

// UserIntent carries a classified user request.
type UserIntent struct {
	Intent Intent
}

//----------------------------------------------------------------------

func (Boot) event()                {}
func (LinkUp) event()              {}
func (LinkDown) event()            {}
func (SessionStarted) event()      {}
func (CredentialsReceived) event() {}
func (CredentialsFailed) event()   {}
func (SessionSucceeded) event()    {}
func (SessionEnded) event()        {}
func (DeadlineExpired) event()     {}
func (UserIntent) event()          {}

func (e Boot) String() string {
	return fmt.Sprintf("boot(provisioned=%v,forced=%v)", e.Provisioned, e.Forced)
}
func (e LinkUp) String() string              { return "link-up(" + e.Addr.String() + ")" }
func (e LinkDown) String() string            { return "link-down(" + e.Reason + ")" }
func (SessionStarted) String() string        { return "session-started" }
func (e CredentialsReceived) String() string { return "credentials-received(" + e.SSID + ")" }
func (e CredentialsFailed) String() string   { return "credentials-failed(" + e.Reason.String() + ")" }
func (SessionSucceeded) String() string      { return "session-succeeded" }
func (SessionEnded) String() string          { return "session-ended" }
func (e DeadlineExpired) String() string     { return fmt.Sprintf("deadline-expired(%d)", e.Gen) }
func (e UserIntent) String() string          { return "user(" + e.Intent.String() + ")" }
