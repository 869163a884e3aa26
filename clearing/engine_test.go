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

package clearing

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commongrid/credithub/event"
	"github.com/commongrid/credithub/invariant"
	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/ledger/memdb"
	"github.com/commongrid/credithub/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	t  *testing.T
	db *memdb.Database
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memdb.New(nil)
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx ledger.Tx) error {
		return tx.PutEquivalent(ctx, &types.Equivalent{Code: "UAH", Active: true})
	}))
	return &fixture{t: t, db: db}
}

// edge installs a trust line creditor <- debtor plus a debt row of the given
// amount. AutoClearing defaults to on.
func (f *fixture) edge(debtor, creditor types.PID, amount string, autoClear ...bool) {
	f.t.Helper()
	ac := true
	if len(autoClear) > 0 {
		ac = autoClear[0]
	}
	ctx := context.Background()
	require.NoError(f.t, f.db.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.PutTrustLine(ctx, &types.TrustLine{
			ID: uuid.New(), From: creditor, To: debtor, Equivalent: "UAH",
			Limit: dec("1000"), Status: types.TrustLineActive,
			Policy: types.TrustPolicy{AutoClearing: ac, CanBeIntermediate: true},
		}); err != nil {
			return err
		}
		return tx.ApplyFlow(ctx, debtor, creditor, "UAH", dec(amount))
	}))
}

func (f *fixture) debt(debtor, creditor types.PID) decimal.Decimal {
	f.t.Helper()
	var amount decimal.Decimal
	ctx := context.Background()
	require.NoError(f.t, f.db.View(ctx, func(tx ledger.Tx) error {
		var err error
		amount, err = tx.Debt(ctx, debtor, creditor, "UAH")
		return err
	}))
	return amount
}

func TestTriggerScanClearsTriangle(t *testing.T) {
	f := newFixture(t)
	f.edge("A", "B", "30")
	f.edge("B", "C", "20")
	f.edge("C", "A", "25")

	eng := New(f.db, nil, nil, nil, DefaultConfig())
	cleared, err := eng.TriggerScan(context.Background(), "UAH",
		[]types.Flow{{From: "C", To: "A", Equivalent: "UAH"}})
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	// The cycle minimum (20) nets out of every edge.
	assert.True(t, f.debt("A", "B").Equal(dec("10")))
	assert.True(t, f.debt("B", "C").IsZero())
	assert.True(t, f.debt("C", "A").Equal(dec("5")))
}

func TestTriggerScanRequiresTouchedSegment(t *testing.T) {
	f := newFixture(t)
	f.edge("A", "B", "30")
	f.edge("B", "C", "20")
	f.edge("C", "A", "25")

	eng := New(f.db, nil, nil, nil, DefaultConfig())
	cleared, err := eng.TriggerScan(context.Background(), "UAH",
		[]types.Flow{{From: "X", To: "Y", Equivalent: "UAH"}})
	require.NoError(t, err)
	assert.Zero(t, cleared)
	assert.True(t, f.debt("A", "B").Equal(dec("30")), "untouched cycle must stay intact")
}

func TestClearingPreservesNetPositions(t *testing.T) {
	f := newFixture(t)
	f.edge("A", "B", "40")
	f.edge("B", "C", "15")
	f.edge("C", "D", "50")
	f.edge("D", "A", "35")

	ctx := context.Background()
	var before map[types.PID]decimal.Decimal
	require.NoError(t, f.db.View(ctx, func(tx ledger.Tx) error {
		var err error
		before, err = invariant.NetPositions(ctx, tx, "UAH", []types.PID{"A", "B", "C", "D"})
		return err
	}))

	eng := New(f.db, nil, nil, nil, DefaultConfig())
	ok, err := eng.Execute(ctx, "UAH", []types.PID{"A", "B", "C", "D"})
	require.NoError(t, err)
	require.True(t, ok)

	var after map[types.PID]decimal.Decimal
	require.NoError(t, f.db.View(ctx, func(tx ledger.Tx) error {
		var err error
		after, err = invariant.NetPositions(ctx, tx, "UAH", []types.PID{"A", "B", "C", "D"})
		return err
	}))
	for pid, b := range before {
		assert.True(t, b.Equal(after[pid]), "net position of %s changed", pid)
	}
	assert.True(t, f.debt("B", "C").IsZero(), "minimum edge must be fully netted")
}

func TestClearingSkipsWithoutConsent(t *testing.T) {
	f := newFixture(t)
	f.edge("A", "B", "30")
	f.edge("B", "C", "20", false) // C has not opted in on this line
	f.edge("C", "A", "25")

	eng := New(f.db, nil, nil, nil, DefaultConfig())
	ok, err := eng.Execute(context.Background(), "UAH", []types.PID{"A", "B", "C"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, f.debt("A", "B").Equal(dec("30")))
	assert.True(t, f.debt("B", "C").Equal(dec("20")))
}

func TestClearingSkipsBelowMinimum(t *testing.T) {
	f := newFixture(t)
	f.edge("A", "B", "30")
	f.edge("B", "C", "0.005")
	f.edge("C", "A", "25")

	eng := New(f.db, nil, nil, nil, DefaultConfig())
	ok, err := eng.Execute(context.Background(), "UAH", []types.PID{"A", "B", "C"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearingRecordsTransaction(t *testing.T) {
	f := newFixture(t)
	f.edge("A", "B", "10")
	f.edge("B", "C", "10")
	f.edge("C", "A", "10")

	feed := new(event.Feed[types.Event])
	events := make(chan types.Event, 8)
	defer feed.Subscribe(events).Unsubscribe()

	eng := New(f.db, nil, nil, feed, DefaultConfig())
	ctx := context.Background()
	ok, err := eng.Execute(ctx, "UAH", []types.PID{"A", "B", "C"})
	require.NoError(t, err)
	require.True(t, ok)

	var ev types.Event
	select {
	case ev = <-events:
	default:
		t.Fatal("no clearing event published")
	}
	assert.Equal(t, types.EventClearingExecuted, ev.Kind)
	require.NotNil(t, ev.TxID)
	require.NotNil(t, ev.Amount)
	assert.True(t, ev.Amount.Equal(dec("10")))

	require.NoError(t, f.db.View(ctx, func(tx ledger.Tx) error {
		rec, err := tx.Transaction(ctx, *ev.TxID)
		require.NoError(t, err)
		assert.Equal(t, types.TxClearing, rec.Type)
		assert.Equal(t, types.TxCommitted, rec.State)
		assert.NotEmpty(t, rec.Payload)
		return nil
	}))

	// All three edges were equal, so the whole cycle collapses.
	assert.True(t, f.debt("A", "B").IsZero())
	assert.True(t, f.debt("B", "C").IsZero())
	assert.True(t, f.debt("C", "A").IsZero())
}

func TestPeriodicScanClearsLongCycle(t *testing.T) {
	f := newFixture(t)
	f.edge("A", "B", "10")
	f.edge("B", "C", "10")
	f.edge("C", "D", "10")
	f.edge("D", "E", "10")
	f.edge("E", "A", "10")

	eng := New(f.db, nil, nil, nil, DefaultConfig())

	// Length 4 finds nothing in a 5-cycle.
	cleared, err := eng.PeriodicScan(context.Background(), 4)
	require.NoError(t, err)
	assert.Zero(t, cleared)

	cleared, err = eng.PeriodicScan(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)
	assert.True(t, f.debt("A", "B").IsZero())
}

func TestDisabledEngineDoesNothing(t *testing.T) {
	f := newFixture(t)
	f.edge("A", "B", "10")
	f.edge("B", "C", "10")
	f.edge("C", "A", "10")

	cfg := DefaultConfig()
	cfg.Enabled = false
	eng := New(f.db, nil, nil, nil, cfg)

	cleared, err := eng.TriggerScan(context.Background(), "UAH",
		[]types.Flow{{From: "A", To: "B", Equivalent: "UAH"}})
	require.NoError(t, err)
	assert.Zero(t, cleared)
	assert.True(t, f.debt("A", "B").Equal(dec("10")))
}

func TestFindCyclesCanonicalAndBounded(t *testing.T) {
	debts := []*types.Debt{
		{Debtor: "A", Creditor: "B", Equivalent: "UAH", Amount: dec("1")},
		{Debtor: "B", Creditor: "C", Equivalent: "UAH", Amount: dec("1")},
		{Debtor: "C", Creditor: "A", Equivalent: "UAH", Amount: dec("1")},
	}
	cycles := findCycles(debts, 3, 4, nil, 0)
	require.Len(t, cycles, 1, "each cycle must appear exactly once")
	assert.Equal(t, []types.PID{"A", "B", "C"}, cycles[0], "canonical rotation starts at smallest PID")

	// A second disjoint triangle, with a cap of one cycle per run.
	debts = append(debts,
		&types.Debt{Debtor: "X", Creditor: "Y", Equivalent: "UAH", Amount: dec("1")},
		&types.Debt{Debtor: "Y", Creditor: "Z", Equivalent: "UAH", Amount: dec("1")},
		&types.Debt{Debtor: "Z", Creditor: "X", Equivalent: "UAH", Amount: dec("1")},
	)
	assert.Len(t, findCycles(debts, 3, 4, nil, 1), 1)
	assert.Len(t, findCycles(debts, 3, 4, nil, 0), 2)
}
