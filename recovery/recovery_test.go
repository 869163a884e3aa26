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

package recovery

import (
	"context"
	"testing"
	"time"

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

func seedTx(t *testing.T, db *memdb.Database, state types.TxState, updated time.Time, lockExpiry time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.PutTransaction(ctx, &types.Transaction{
			ID: id, Type: types.TxPayment, Equivalent: "UAH",
			State: state, CreatedAt: updated, UpdatedAt: updated,
		}); err != nil {
			return err
		}
		return tx.PutPrepareLock(ctx, &types.PrepareLock{
			TxID: id, Equivalent: "UAH", From: "A", To: "B",
			Delta: dec("10"), ExpiresAt: lockExpiry,
		})
	}))
	return id
}

func txState(t *testing.T, db *memdb.Database, id uuid.UUID) types.TxState {
	t.Helper()
	var state types.TxState
	ctx := context.Background()
	require.NoError(t, db.View(ctx, func(tx ledger.Tx) error {
		got, err := tx.Transaction(ctx, id)
		if err != nil {
			return err
		}
		state = got.State
		return nil
	}))
	return state
}

func lockCount(t *testing.T, db *memdb.Database, id uuid.UUID) int {
	t.Helper()
	var n int
	ctx := context.Background()
	require.NoError(t, db.View(ctx, func(tx ledger.Tx) error {
		locks, err := tx.PrepareLocks(ctx, id)
		if err != nil {
			return err
		}
		n = len(locks)
		return nil
	}))
	return n
}

func TestTickAbortsOrphanedTransactions(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	db := memdb.New(func() time.Time { return now })
	cfg := DefaultConfig()
	stale := now.Add(-(cfg.PrepareTTL + cfg.Grace + time.Second))

	orphanPrepared := seedTx(t, db, types.TxPrepared, stale, stale.Add(cfg.PrepareTTL))
	orphanInFlight := seedTx(t, db, types.TxPrepareInProgress, stale, stale.Add(cfg.PrepareTTL))
	fresh := seedTx(t, db, types.TxPrepared, now, now.Add(cfg.PrepareTTL))

	feed := new(event.Feed[types.Event])
	events := make(chan types.Event, 8)
	defer feed.Subscribe(events).Unsubscribe()

	loop := New(db, func() time.Time { return now }, nil, feed, cfg)
	require.NoError(t, loop.Tick(context.Background()))

	assert.Equal(t, types.TxAborted, txState(t, db, orphanPrepared))
	assert.Equal(t, types.TxAborted, txState(t, db, orphanInFlight))
	assert.Equal(t, types.TxPrepared, txState(t, db, fresh), "in-flight work must survive")
	assert.Zero(t, lockCount(t, db, orphanPrepared))
	assert.Equal(t, 1, lockCount(t, db, fresh))

	aborts := 0
	for len(events) > 0 {
		ev := <-events
		assert.Equal(t, types.EventPaymentAborted, ev.Kind)
		assert.Equal(t, "lock expired", ev.Detail)
		aborts++
	}
	assert.Equal(t, 2, aborts)
}

func TestTickDeletesExpiredLocksOnly(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	db := memdb.New(func() time.Time { return now })

	// A recently updated transaction whose reservation nevertheless lapsed:
	// the lock goes, the transaction stays for the engine to resolve.
	id := seedTx(t, db, types.TxPrepared, now, now.Add(-time.Second))

	loop := New(db, func() time.Time { return now }, nil, nil, DefaultConfig())
	require.NoError(t, loop.Tick(context.Background()))

	assert.Zero(t, lockCount(t, db, id))
	assert.Equal(t, types.TxPrepared, txState(t, db, id))
}

func TestTickIdempotent(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	db := memdb.New(func() time.Time { return now })
	cfg := DefaultConfig()
	stale := now.Add(-time.Hour)
	id := seedTx(t, db, types.TxPrepareInProgress, stale, stale)

	loop := New(db, func() time.Time { return now }, nil, nil, cfg)
	require.NoError(t, loop.Tick(context.Background()))
	require.NoError(t, loop.Tick(context.Background()), "second pass must not trip over aborted state")
	assert.Equal(t, types.TxAborted, txState(t, db, id))
}

func TestStartRunsStartupQuiesce(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	db := memdb.New(func() time.Time { return now })
	stale := now.Add(-time.Hour)
	id := seedTx(t, db, types.TxPrepared, stale, stale)

	cfg := DefaultConfig()
	cfg.Interval = time.Hour // keep the background ticker quiet
	loop := New(db, func() time.Time { return now }, nil, nil, cfg)
	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop()

	// Start returns only after the synchronous first pass.
	assert.Equal(t, types.TxAborted, txState(t, db, id))
}
