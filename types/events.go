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

// EventKind names a domain event published on the hub event feed.
type EventKind string

const (
	EventTxStateChanged   EventKind = "tx.state_changed"
	EventPaymentCommitted EventKind = "payment.committed"
	EventPaymentAborted   EventKind = "payment.aborted"
	EventClearingExecuted EventKind = "clearing.executed"
	EventTrustLineChanged EventKind = "trustline.changed"
	EventIntegrityAlert   EventKind = "integrity.alert"
	EventEquivalentFrozen EventKind = "equivalent.frozen"
)

// Severity grades an event for consumers that filter alerts.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is the single message type carried by the hub event feed. Fields
// beyond Kind and Time are populated per kind.
type Event struct {
	Kind       EventKind        `json:"kind"`
	Severity   Severity         `json:"severity"`
	Time       time.Time        `json:"time"`
	TxID       *uuid.UUID       `json:"tx_id,omitempty"`
	State      TxState          `json:"state,omitempty"`
	Equivalent string           `json:"equivalent,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Parties    []PID            `json:"parties,omitempty"`
	Detail     string           `json:"detail,omitempty"`
}
