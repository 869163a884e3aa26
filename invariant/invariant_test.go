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

package invariant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/ledger/memdb"
	"github.com/commongrid/credithub/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// seed installs a trust line creditor -> debtor with the given limit and an
// optional debt row debtor -> creditor.
func seed(t *testing.T, db *memdb.Database, creditor, debtor types.PID, limit, debt string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.PutTrustLine(ctx, &types.TrustLine{
			ID: uuid.New(), From: creditor, To: debtor, Equivalent: "UAH",
			Limit: dec(limit), Status: types.TrustLineActive,
		}); err != nil {
			return err
		}
		if debt != "" {
			return tx.ApplyFlow(ctx, debtor, creditor, "UAH", dec(debt))
		}
		return nil
	}))
}

func TestTrustLimit(t *testing.T) {
	db := memdb.New(nil)
	ctx := context.Background()
	seed(t, db, "B", "A", "100", "60")

	require.NoError(t, db.View(ctx, func(tx ledger.Tx) error {
		return TrustLimit(ctx, tx, "UAH")
	}))

	// Debt above the limit is a violation.
	require.NoError(t, db.Update(ctx, func(tx ledger.Tx) error {
		return tx.ApplyFlow(ctx, "A", "B", "UAH", dec("50"))
	}))
	err := db.View(ctx, func(tx ledger.Tx) error {
		return TrustLimit(ctx, tx, "UAH")
	})
	ve, ok := AsViolation(err)
	require.True(t, ok)
	require.Len(t, ve.Violations, 1)
	assert.Equal(t, types.InvariantTrustLimit, ve.Violations[0].Invariant)
	assert.Equal(t, types.PID("A"), ve.Violations[0].Debtor)
}

func TestTrustLimitUncoveredDebt(t *testing.T) {
	db := memdb.New(nil)
	ctx := context.Background()

	// Debt with no line at all.
	require.NoError(t, db.Update(ctx, func(tx ledger.Tx) error {
		return tx.ApplyFlow(ctx, "A", "B", "UAH", dec("5"))
	}))
	err := db.View(ctx, func(tx ledger.Tx) error {
		return TrustLimit(ctx, tx, "UAH")
	})
	ve, ok := AsViolation(err)
	require.True(t, ok)
	assert.Contains(t, ve.Violations[0].Detail, "without active trust line")
}

func TestZeroSumAndDebtSymmetryOnNormalizedState(t *testing.T) {
	db := memdb.New(nil)
	ctx := context.Background()
	seed(t, db, "B", "A", "100", "40")
	seed(t, db, "C", "B", "100", "40")

	require.NoError(t, db.View(ctx, func(tx ledger.Tx) error {
		if err := ZeroSum(ctx, tx, "UAH"); err != nil {
			return err
		}
		return DebtSymmetry(ctx, tx, "UAH")
	}))
}

func TestCheckPairsScoped(t *testing.T) {
	db := memdb.New(nil)
	ctx := context.Background()
	seed(t, db, "B", "A", "50", "50")

	require.NoError(t, db.View(ctx, func(tx ledger.Tx) error {
		return CheckPairs(ctx, tx, "UAH", []Pair{{Debtor: "A", Creditor: "B"}})
	}))

	// Push the pair over the limit; the scoped check must catch it while a
	// check on an unrelated pair stays green.
	require.NoError(t, db.Update(ctx, func(tx ledger.Tx) error {
		return tx.ApplyFlow(ctx, "A", "B", "UAH", dec("1"))
	}))
	err := db.View(ctx, func(tx ledger.Tx) error {
		return CheckPairs(ctx, tx, "UAH", []Pair{{Debtor: "A", Creditor: "B"}})
	})
	_, ok := AsViolation(err)
	assert.True(t, ok)

	require.NoError(t, db.View(ctx, func(tx ledger.Tx) error {
		return CheckPairs(ctx, tx, "UAH", []Pair{{Debtor: "X", Creditor: "Y"}})
	}))
}

func TestNetPositions(t *testing.T) {
	db := memdb.New(nil)
	ctx := context.Background()
	seed(t, db, "B", "A", "100", "30") // A owes B 30
	seed(t, db, "C", "B", "100", "10") // B owes C 10

	require.NoError(t, db.View(ctx, func(tx ledger.Tx) error {
		net, err := NetPositions(ctx, tx, "UAH", []types.PID{"A", "B", "C"})
		require.NoError(t, err)
		assert.True(t, net["A"].Equal(dec("-30")))
		assert.True(t, net["B"].Equal(dec("20")))
		assert.True(t, net["C"].Equal(dec("10")))
		return nil
	}))
}

func TestClearingNeutrality(t *testing.T) {
	before := map[types.PID]decimal.Decimal{"A": dec("-10"), "B": dec("10")}
	same := map[types.PID]decimal.Decimal{"A": dec("-10"), "B": dec("10")}
	require.NoError(t, ClearingNeutrality("UAH", before, same))

	shifted := map[types.PID]decimal.Decimal{"A": dec("-9"), "B": dec("9")}
	err := ClearingNeutrality("UAH", before, shifted)
	ve, ok := AsViolation(err)
	require.True(t, ok)
	assert.Len(t, ve.Violations, 2)
	assert.Equal(t, types.InvariantClearingNeutrality, ve.Violations[0].Invariant)
}
