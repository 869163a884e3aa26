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

package types

import (
	"time"

	"github.com/google/uuid"
)

// Invariant names one of the ledger invariants the checker verifies.
type Invariant string

const (
	InvariantZeroSum            Invariant = "zero_sum"
	InvariantTrustLimit         Invariant = "trust_limit"
	InvariantDebtSymmetry       Invariant = "debt_symmetry"
	InvariantClearingNeutrality Invariant = "clearing_neutrality"
)

// Violation describes a single invariant breach with enough context to
// locate the offending rows.
type Violation struct {
	Invariant  Invariant `json:"invariant"`
	Equivalent string    `json:"equivalent"`
	Detail     string    `json:"detail"`
	Debtor     PID       `json:"debtor,omitempty"`
	Creditor   PID       `json:"creditor,omitempty"`
}

// IntegrityCheckpoint is a periodic snapshot of one equivalent's debt state:
// a SHA-256 checksum over the canonical debt serialization plus the outcome
// of the invariant sweep that produced it.
type IntegrityCheckpoint struct {
	Equivalent string      `json:"equivalent"`
	Checksum   string      `json:"checksum"` // hex sha256
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// AuditRecord is one append-only audit log entry.
type AuditRecord struct {
	ID             int64       `json:"id"`
	Operation      string      `json:"operation"`
	TxID           *uuid.UUID  `json:"tx_id,omitempty"`
	Equivalent     string      `json:"equivalent"`
	ChecksumBefore string      `json:"checksum_before,omitempty"`
	ChecksumAfter  string      `json:"checksum_after,omitempty"`
	Participants   []PID       `json:"participants,omitempty"`
	Violations     []Violation `json:"violations,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}
