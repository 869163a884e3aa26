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

package payment

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/ledger/memdb"
	"github.com/commongrid/credithub/router"
	"github.com/commongrid/credithub/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type harness struct {
	t      *testing.T
	db     *memdb.Database
	engine *Engine
}

func newHarness(t *testing.T, pids ...types.PID) *harness {
	t.Helper()
	db := memdb.New(nil)
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.PutEquivalent(ctx, &types.Equivalent{Code: "UAH", Active: true}); err != nil {
			return err
		}
		for _, pid := range pids {
			if err := tx.PutParticipant(ctx, &types.Participant{
				PID: pid, Status: types.StatusActive, Type: types.ParticipantPerson,
			}); err != nil {
				return err
			}
		}
		return nil
	}))
	rt := router.New(db, nil, 0)
	return &harness{t: t, db: db, engine: New(db, rt, nil, nil, nil, DefaultConfig())}
}

func (h *harness) line(creditor, debtor types.PID, limit string, policy ...types.TrustPolicy) {
	h.t.Helper()
	p := types.TrustPolicy{CanBeIntermediate: true}
	if len(policy) > 0 {
		p = policy[0]
	}
	ctx := context.Background()
	require.NoError(h.t, h.db.Update(ctx, func(tx ledger.Tx) error {
		return tx.PutTrustLine(ctx, &types.TrustLine{
			ID: uuid.New(), From: creditor, To: debtor, Equivalent: "UAH",
			Limit: dec(limit), Policy: p, Status: types.TrustLineActive,
		})
	}))
}

func (h *harness) debt(debtor, creditor types.PID) decimal.Decimal {
	h.t.Helper()
	var amount decimal.Decimal
	ctx := context.Background()
	require.NoError(h.t, h.db.View(ctx, func(tx ledger.Tx) error {
		var err error
		amount, err = tx.Debt(ctx, debtor, creditor, "UAH")
		return err
	}))
	return amount
}

func (h *harness) pay(payer, payee types.PID, amount string) (*types.Transaction, error) {
	return h.engine.Execute(context.Background(), Request{
		Payer: payer, Payee: payee, Equivalent: "UAH", Amount: dec(amount),
	})
}

func TestDirectPayment(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.line("B", "A", "100")

	tx, err := h.pay("A", "B", "50")
	require.NoError(t, err)
	assert.Equal(t, types.TxCommitted, tx.State)
	assert.True(t, h.debt("A", "B").Equal(dec("50")))

	// Reservations are gone after commit.
	ctx := context.Background()
	require.NoError(t, h.db.View(ctx, func(st ledger.Tx) error {
		locks, err := st.PrepareLocks(ctx, tx.ID)
		require.NoError(t, err)
		assert.Empty(t, locks)
		return nil
	}))
}

func TestMultiHopPayment(t *testing.T) {
	h := newHarness(t, "A", "B", "C")
	h.line("B", "A", "100")
	h.line("C", "B", "100")

	tx, err := h.pay("A", "C", "30")
	require.NoError(t, err)
	assert.Equal(t, types.TxCommitted, tx.State)

	// Debt lands hop by hop, nothing directly A -> C.
	assert.True(t, h.debt("A", "B").Equal(dec("30")))
	assert.True(t, h.debt("B", "C").Equal(dec("30")))
	assert.True(t, h.debt("A", "C").IsZero())
}

func TestPaymentOffsetsMutualDebt(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.line("B", "A", "100")
	h.line("A", "B", "100")

	_, err := h.pay("A", "B", "40")
	require.NoError(t, err)
	_, err = h.pay("B", "A", "60")
	require.NoError(t, err)

	assert.True(t, h.debt("A", "B").IsZero())
	assert.True(t, h.debt("B", "A").Equal(dec("20")), "opposite debt must net, not stack")
}

func TestPaymentInsufficientCapacity(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.line("B", "A", "40")

	tx, err := h.pay("A", "B", "50")
	require.Error(t, err)
	assert.Equal(t, types.CodeInsufficientCapacity, types.AsError(err).Code)
	if tx != nil {
		assert.Equal(t, types.TxAborted, tx.State)
	}
	assert.True(t, h.debt("A", "B").IsZero())
}

func TestPaymentNoRoute(t *testing.T) {
	h := newHarness(t, "A", "B", "C")
	h.line("B", "A", "100")

	tx, err := h.pay("A", "C", "10")
	require.Error(t, err)
	assert.Equal(t, types.CodeNoRoute, types.AsError(err).Code)
	require.NotNil(t, tx)
	assert.Equal(t, types.TxAborted, tx.State, "failed payment stays retrievable in ABORTED")
	assert.Contains(t, tx.Reason, "routing failed")
}

func TestPaymentValidation(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.line("B", "A", "100")

	_, err := h.pay("A", "A", "10")
	assert.Equal(t, types.CodeValidation, types.AsError(err).Code)

	_, err = h.pay("A", "B", "0")
	assert.Equal(t, types.CodeValidation, types.AsError(err).Code)

	_, err = h.engine.Execute(context.Background(), Request{
		Payer: "A", Payee: "B", Equivalent: "NOPE", Amount: dec("1"),
	})
	assert.Equal(t, types.CodeValidation, types.AsError(err).Code)
}

func TestPaymentFrozenEquivalent(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.line("B", "A", "100")
	ctx := context.Background()
	require.NoError(t, h.db.Update(ctx, func(tx ledger.Tx) error {
		eq, err := tx.Equivalent(ctx, "UAH")
		if err != nil {
			return err
		}
		eq.Frozen = true
		return tx.PutEquivalent(ctx, eq)
	}))

	_, err := h.pay("A", "B", "10")
	assert.Equal(t, types.CodeForbidden, types.AsError(err).Code)
}

func TestPaymentDuplicateTxID(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.line("B", "A", "100")

	id := uuid.New()
	_, err := h.engine.Execute(context.Background(), Request{
		TxID: id, Payer: "A", Payee: "B", Equivalent: "UAH", Amount: dec("10"),
	})
	require.NoError(t, err)

	_, err = h.engine.Execute(context.Background(), Request{
		TxID: id, Payer: "A", Payee: "B", Equivalent: "UAH", Amount: dec("10"),
	})
	require.Error(t, err)
	assert.Equal(t, types.CodeStateConflict, types.AsError(err).Code)
	assert.True(t, h.debt("A", "B").Equal(dec("10")), "duplicate must not double-apply")
}

func TestCommitIdempotent(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.line("B", "A", "100")

	tx, err := h.pay("A", "B", "25")
	require.NoError(t, err)

	// Recommitting a committed transaction is a no-op.
	require.NoError(t, h.engine.Commit(context.Background(), tx.ID))
	assert.True(t, h.debt("A", "B").Equal(dec("25")))

	// Aborting a committed transaction is a conflict.
	err = h.engine.Abort(context.Background(), tx.ID, "late abort")
	assert.ErrorIs(t, err, types.ErrStateConflict)
}

func TestAbortIdempotent(t *testing.T) {
	h := newHarness(t, "A", "B", "C")
	h.line("B", "A", "100")

	tx, err := h.pay("A", "C", "10") // aborts: no route
	require.Error(t, err)
	require.NotNil(t, tx)

	require.NoError(t, h.engine.Abort(context.Background(), tx.ID, "again"))

	// Committing an aborted transaction is a conflict.
	err = h.engine.Commit(context.Background(), tx.ID)
	assert.ErrorIs(t, err, types.ErrStateConflict)
}

func TestConcurrentPaymentsNeverOversubscribe(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.line("B", "A", "100")

	var wg sync.WaitGroup
	results := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = h.pay("A", "B", "40")
		}(i)
	}
	wg.Wait()

	committed := 0
	for _, err := range results {
		if err == nil {
			committed++
		} else {
			code := types.AsError(err).Code
			assert.Contains(t, []types.ErrorCode{
				types.CodeInsufficientCapacity, types.CodeNoRoute,
			}, code)
		}
	}
	assert.GreaterOrEqual(t, committed, 1)
	assert.LessOrEqual(t, committed, 2, "at most two 40s fit under a limit of 100")
	assert.True(t, h.debt("A", "B").Equal(dec("40").Mul(decimal.NewFromInt(int64(committed)))))
}

func TestIntermediatePolicyBlocksInteriorHop(t *testing.T) {
	h := newHarness(t, "A", "B", "C", "D")
	h.line("B", "A", "100")
	h.line("C", "B", "100", types.TrustPolicy{CanBeIntermediate: false})
	h.line("D", "C", "100")

	_, err := h.pay("A", "D", "10")
	require.Error(t, err)
	assert.Equal(t, types.CodeNoRoute, types.AsError(err).Code)
}

func TestCommitHookReceivesMergedFlows(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.line("B", "A", "100")

	var got []types.Flow
	h.engine.SetCommitHook(func(txID uuid.UUID, equivalent string, flows []types.Flow) {
		got = flows
	})

	_, err := h.pay("A", "B", "15")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.PID("A"), got[0].From)
	assert.Equal(t, types.PID("B"), got[0].To)
	assert.True(t, got[0].Delta.Equal(dec("15")))
}
