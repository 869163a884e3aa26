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
	"github.com/shopspring/decimal"
)

// TxType identifies the kind of state-mutating operation a transaction
// records.
type TxType string

const (
	TxTrustLineCreate TxType = "TRUST_LINE_CREATE"
	TxTrustLineUpdate TxType = "TRUST_LINE_UPDATE"
	TxTrustLineClose  TxType = "TRUST_LINE_CLOSE"
	TxPayment         TxType = "PAYMENT"
	TxClearing        TxType = "CLEARING"
)

// TxState is a step of the two-phase protocol state machine.
type TxState string

const (
	TxNew               TxState = "NEW"
	TxRouted            TxState = "ROUTED"
	TxPrepareInProgress TxState = "PREPARE_IN_PROGRESS"
	TxPrepared          TxState = "PREPARED"
	TxCommitted         TxState = "COMMITTED"
	TxAborted           TxState = "ABORTED"
)

// Terminal reports whether the state admits no further transition.
func (s TxState) Terminal() bool { return s == TxCommitted || s == TxAborted }

// Signature pairs a signer with a detached Ed25519 signature over the
// transaction's canonical payload.
type Signature struct {
	Signer PID    `json:"signer"`
	Sig    []byte `json:"sig"` // 64 bytes
}

// Transaction is the immutable audit record of a state-mutating operation.
// Payload holds the canonical JSON the initiator signed; Routes is populated
// for payments once routing succeeds.
type Transaction struct {
	ID         uuid.UUID   `json:"tx_id"`
	Type       TxType      `json:"type"`
	Initiator  PID         `json:"initiator"`
	Equivalent string      `json:"equivalent,omitempty"`
	Payload    []byte      `json:"payload"`
	Signatures []Signature `json:"signatures,omitempty"`
	Routes     []Route     `json:"routes,omitempty"`
	State      TxState     `json:"state"`
	Reason     string      `json:"reason,omitempty"` // abort reason
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// PrepareLock reserves Delta of capacity on the (Equivalent, From, To)
// segment for transaction TxID. The reservation counts against routing
// capacity until the transaction commits, aborts, or the lock expires.
type PrepareLock struct {
	TxID       uuid.UUID       `json:"tx_id"`
	Equivalent string          `json:"equivalent"`
	From       PID             `json:"from"`
	To         PID             `json:"to"`
	Delta      decimal.Decimal `json:"delta"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// Expired reports whether the reservation has lapsed at now.
func (l *PrepareLock) Expired(now time.Time) bool { return !l.ExpiresAt.After(now) }
