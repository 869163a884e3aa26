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

package router

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/shopspring/decimal"

	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/types"
)

// edge is one directed capacity edge of the snapshot, in debt-flow direction:
// from the debtor towards the creditor of the underlying trust line.
type edge struct {
	from, to types.PID
	capacity decimal.Decimal
	// endpointOnly marks edges whose trust line denies intermediate use;
	// they may only appear as the first or last hop of a path.
	endpointOnly bool
}

// graph is a per-request capacity snapshot. It is built once from a store
// view and never shared between requests.
type graph struct {
	out map[types.PID][]*edge
}

// buildGraph assembles the capacity snapshot for one equivalent, accounting
// for debts and live reservations and dropping edges the request may not
// use: avoided or non-active participants, and lines that block the payer or
// payee.
func buildGraph(ctx context.Context, tx ledger.Tx, equivalent string, source, target types.PID, avoid mapset.Set[types.PID], now time.Time) (*graph, error) {
	lines, err := tx.TrustLines(ctx, equivalent)
	if err != nil {
		return nil, err
	}
	reservations, err := tx.SegmentReservations(ctx, equivalent, now)
	if err != nil {
		return nil, err
	}
	reserved := make(map[[2]types.PID]decimal.Decimal, len(reservations))
	for _, l := range reservations {
		k := [2]types.PID{l.From, l.To}
		reserved[k] = reserved[k].Add(l.Delta)
	}

	activeCache := make(map[types.PID]bool)
	isActive := func(pid types.PID) (bool, error) {
		if v, ok := activeCache[pid]; ok {
			return v, nil
		}
		p, err := tx.Participant(ctx, pid)
		if err != nil {
			return false, err
		}
		activeCache[pid] = p.Active()
		return p.Active(), nil
	}

	g := &graph{out: make(map[types.PID][]*edge)}
	for _, line := range lines {
		debtor, creditor := line.To, line.From
		if avoid != nil && (avoid.Contains(debtor) || avoid.Contains(creditor)) {
			continue
		}
		if line.Policy.Blocks(source) || line.Policy.Blocks(target) {
			continue
		}
		if ok, err := isActive(debtor); err != nil || !ok {
			if err != nil {
				return nil, err
			}
			continue
		}
		if ok, err := isActive(creditor); err != nil || !ok {
			if err != nil {
				return nil, err
			}
			continue
		}
		debt, err := tx.Debt(ctx, debtor, creditor, equivalent)
		if err != nil {
			return nil, err
		}
		avail := line.Limit.Sub(debt).Sub(reserved[[2]types.PID{debtor, creditor}])
		if avail.Sign() <= 0 {
			continue
		}
		g.out[debtor] = append(g.out[debtor], &edge{
			from:         debtor,
			to:           creditor,
			capacity:     avail,
			endpointOnly: !line.Policy.CanBeIntermediate,
		})
	}
	return g, nil
}

// usable reports whether e may occupy the hop position (hopIndex, lastHop).
// Endpoint-only edges are restricted to the first or final hop.
func (e *edge) usable(firstHop, lastHop bool) bool {
	if e.endpointOnly {
		return firstHop || lastHop
	}
	return true
}
