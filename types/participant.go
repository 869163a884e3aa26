// Copyright 2025 The credithub Authors
// This file is part of the credithub library.
//
// The credithub library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The credithub library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the credithub library. If not, see <http://www.gnu.org/licenses/>.

// Package types holds the hub's domain model: participants, equivalents,
// trust lines, debts, transactions and the reservation rows that back the
// two-phase payment protocol. Everything in here is plain data; behavior
// lives in the ledger, router and engine packages.
package types

import (
	"crypto/ed25519"
	"time"
)

// PID is a participant identifier, base58(sha256(public_key)).
type PID string

func (p PID) String() string { return string(p) }

// ParticipantType discriminates the kind of account behind a PID.
type ParticipantType string

const (
	ParticipantPerson   ParticipantType = "person"
	ParticipantBusiness ParticipantType = "business"
	ParticipantHub      ParticipantType = "hub"
)

// ParticipantStatus is a lifecycle state. Participants are never deleted
// physically; they only transition between statuses.
type ParticipantStatus string

const (
	StatusActive    ParticipantStatus = "active"
	StatusSuspended ParticipantStatus = "suspended"
	StatusLeft      ParticipantStatus = "left"
	StatusDeleted   ParticipantStatus = "deleted"
)

// Participant is a registered member of the credit network.
type Participant struct {
	PID               PID               `json:"pid"`
	PublicKey         ed25519.PublicKey `json:"public_key"`
	DisplayName       string            `json:"display_name"`
	Profile           map[string]any    `json:"profile,omitempty"`
	Type              ParticipantType   `json:"type"`
	Status            ParticipantStatus `json:"status"`
	VerificationLevel int               `json:"verification_level"` // 0..3
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Active reports whether the participant may take part in mutations.
func (p *Participant) Active() bool { return p.Status == StatusActive }

func ValidParticipantType(t ParticipantType) bool {
	switch t {
	case ParticipantPerson, ParticipantBusiness, ParticipantHub:
		return true
	}
	return false
}
