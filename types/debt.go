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

	"github.com/shopspring/decimal"
)

// Debt records that Debtor owes Creditor Amount in Equivalent. At most one
// row exists per (debtor, creditor, equivalent); rows that reach zero are
// deleted, and mutual rows for the same pair are offset on write, so the
// debt-symmetry invariant holds by construction.
type Debt struct {
	Debtor     PID             `json:"debtor"`
	Creditor   PID             `json:"creditor"`
	Equivalent string          `json:"equivalent"`
	Amount     decimal.Decimal `json:"amount"` // > 0
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Flow is one hop of a payment: From (the debtor side of the segment) takes
// on Delta of new debt towards To. Multi-path payments that share a segment
// carry a single aggregated Flow for it.
type Flow struct {
	From       PID             `json:"from"`
	To         PID             `json:"to"`
	Equivalent string          `json:"equivalent"`
	Delta      decimal.Decimal `json:"delta"`
}

// Route is one path of a (possibly multi-path) payment together with the
// amount assigned to it. Path[0] is the payer, Path[len-1] the payee.
type Route struct {
	Path   []PID           `json:"path"`
	Amount decimal.Decimal `json:"amount"`
}

// Flows expands the route into its per-segment flows.
func (r Route) Flows(equivalent string) []Flow {
	flows := make([]Flow, 0, len(r.Path)-1)
	for i := 0; i+1 < len(r.Path); i++ {
		flows = append(flows, Flow{
			From:       r.Path[i],
			To:         r.Path[i+1],
			Equivalent: equivalent,
			Delta:      r.Amount,
		})
	}
	return flows
}
