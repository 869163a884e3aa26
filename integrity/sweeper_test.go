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

package integrity

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commongrid/credithub/event"
	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/ledger/memdb"
	"github.com/commongrid/credithub/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup(t *testing.T) *memdb.Database {
	t.Helper()
	db := memdb.New(nil)
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.PutEquivalent(ctx, &types.Equivalent{Code: "UAH", Active: true}); err != nil {
			return err
		}
		if err := tx.PutTrustLine(ctx, &types.TrustLine{
			ID: uuid.New(), From: "B", To: "A", Equivalent: "UAH",
			Limit: dec("100"), Status: types.TrustLineActive,
		}); err != nil {
			return err
		}
		return tx.ApplyFlow(ctx, "A", "B", "UAH", dec("60"))
	}))
	return db
}

func TestSweepHealthyState(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	sw := New(db, nil, nil, nil, DefaultConfig())

	cp, err := sw.Sweep(ctx, "UAH")
	require.NoError(t, err)
	assert.True(t, cp.Passed)
	assert.Empty(t, cp.Violations)
	assert.Len(t, cp.Checksum, 64)

	// Checkpoint and audit record land in the store; the equivalent stays
	// unfrozen.
	require.NoError(t, db.View(ctx, func(tx ledger.Tx) error {
		cps, err := tx.Checkpoints(ctx, "UAH", 10)
		require.NoError(t, err)
		require.Len(t, cps, 1)
		assert.Equal(t, cp.Checksum, cps[0].Checksum)

		eq, err := tx.Equivalent(ctx, "UAH")
		require.NoError(t, err)
		assert.False(t, eq.Frozen)
		return nil
	}))
}

func TestSweepFreezesOnViolation(t *testing.T) {
	db := setup(t)
	ctx := context.Background()

	// Push the debt past the trust limit behind the engines' back.
	require.NoError(t, db.Update(ctx, func(tx ledger.Tx) error {
		return tx.ApplyFlow(ctx, "A", "B", "UAH", dec("50"))
	}))

	feed := new(event.Feed[types.Event])
	events := make(chan types.Event, 8)
	defer feed.Subscribe(events).Unsubscribe()

	sw := New(db, nil, nil, feed, DefaultConfig())
	cp, err := sw.Sweep(ctx, "UAH")
	require.NoError(t, err)
	assert.False(t, cp.Passed)
	require.NotEmpty(t, cp.Violations)
	assert.Equal(t, types.InvariantTrustLimit, cp.Violations[0].Invariant)

	require.NoError(t, db.View(ctx, func(tx ledger.Tx) error {
		eq, err := tx.Equivalent(ctx, "UAH")
		require.NoError(t, err)
		assert.True(t, eq.Frozen, "violation must freeze the equivalent")
		return nil
	}))

	kinds := map[types.EventKind]bool{}
	for len(events) > 0 {
		ev := <-events
		assert.Equal(t, types.SeverityCritical, ev.Severity)
		kinds[ev.Kind] = true
	}
	assert.True(t, kinds[types.EventIntegrityAlert])
	assert.True(t, kinds[types.EventEquivalentFrozen])
}

func TestSweepChecksumTracksState(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	sw := New(db, nil, nil, nil, DefaultConfig())

	first, err := sw.Sweep(ctx, "UAH")
	require.NoError(t, err)
	second, err := sw.Sweep(ctx, "UAH")
	require.NoError(t, err)
	assert.Equal(t, first.Checksum, second.Checksum, "unchanged state, unchanged checksum")

	require.NoError(t, db.Update(ctx, func(tx ledger.Tx) error {
		return tx.ReduceDebt(ctx, "A", "B", "UAH", dec("10"))
	}))
	third, err := sw.Sweep(ctx, "UAH")
	require.NoError(t, err)
	assert.NotEqual(t, first.Checksum, third.Checksum)
}

func TestSweepAllCoversActiveEquivalents(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx ledger.Tx) error {
		return tx.PutEquivalent(ctx, &types.Equivalent{Code: "HOUR", Active: true})
	}))

	sw := New(db, nil, nil, nil, DefaultConfig())
	require.NoError(t, sw.SweepAll(ctx))

	require.NoError(t, db.View(ctx, func(tx ledger.Tx) error {
		for _, code := range []string{"UAH", "HOUR"} {
			cps, err := tx.Checkpoints(ctx, code, 10)
			require.NoError(t, err)
			assert.Len(t, cps, 1, "missing checkpoint for %s", code)
		}
		return nil
	}))
}
