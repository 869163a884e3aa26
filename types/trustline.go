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

// TrustLineStatus is a trust line lifecycle state.
type TrustLineStatus string

const (
	TrustLineActive TrustLineStatus = "active"
	TrustLineFrozen TrustLineStatus = "frozen"
	TrustLineClosed TrustLineStatus = "closed"
)

// TrustPolicy carries the per-line policy knobs set by the creditor.
//
// DailyLimit is informational in this release: it is persisted and surfaced
// through the API but not enforced at prepare time. Enforcing it would need a
// rolling per-segment aggregate which the store does not maintain.
type TrustPolicy struct {
	AutoClearing        bool             `json:"auto_clearing"`
	CanBeIntermediate   bool             `json:"can_be_intermediate"`
	BlockedParticipants []PID            `json:"blocked_participants,omitempty"`
	DailyLimit          *decimal.Decimal `json:"daily_limit,omitempty"`
}

// Blocks reports whether the policy excludes pid from using this line.
func (p *TrustPolicy) Blocks(pid PID) bool {
	for _, b := range p.BlockedParticipants {
		if b == pid {
			return true
		}
	}
	return false
}

// TrustLine is a directed credit edge. From is the creditor: it permits To
// (the debtor) to owe up to Limit in the given equivalent. The line therefore
// covers the debt row (debtor=To, creditor=From) and contributes routing
// capacity on the debt-flow segment To -> From.
type TrustLine struct {
	ID         uuid.UUID       `json:"id"`
	From       PID             `json:"from"` // creditor
	To         PID             `json:"to"`   // debtor
	Equivalent string          `json:"equivalent"`
	Limit      decimal.Decimal `json:"limit"`
	Policy     TrustPolicy     `json:"policy"`
	Status     TrustLineStatus `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Active reports whether the line contributes capacity.
func (t *TrustLine) Active() bool { return t.Status == TrustLineActive }
