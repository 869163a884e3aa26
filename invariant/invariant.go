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

// Package invariant verifies the ledger invariants: zero-sum, trust-limit,
// debt-symmetry and clearing-neutrality. Payment and clearing commits call
// the scoped checks before releasing segment locks; the integrity sweeper
// runs the full sweeps periodically.
package invariant

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/types"
)

// ViolationError carries the structured violation report of a failed check.
type ViolationError struct {
	Violations []types.Violation
}

func (e *ViolationError) Error() string {
	if len(e.Violations) == 1 {
		v := e.Violations[0]
		return fmt.Sprintf("invariant %s violated: %s", v.Invariant, v.Detail)
	}
	return fmt.Sprintf("%d invariant violations", len(e.Violations))
}

// AsViolation extracts a *ViolationError if err wraps one.
func AsViolation(err error) (*ViolationError, bool) {
	var ve *ViolationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// Pair identifies a debtor/creditor pair touched by a commit.
type Pair struct {
	Debtor, Creditor types.PID
}

// ZeroSum verifies that net positions over all participants of an equivalent
// sum to zero. Under the debt-only model this is true by construction; it is
// kept as a corruption smoke test.
func ZeroSum(ctx context.Context, tx ledger.Tx, equivalent string) error {
	debts, err := tx.Debts(ctx, equivalent)
	if err != nil {
		return err
	}
	sum := decimal.Zero
	for _, d := range debts {
		sum = sum.Add(d.Amount).Sub(d.Amount)
	}
	if !sum.IsZero() {
		return &ViolationError{Violations: []types.Violation{{
			Invariant:  types.InvariantZeroSum,
			Equivalent: equivalent,
			Detail:     fmt.Sprintf("net positions sum to %s", sum),
		}}}
	}
	return nil
}

// TrustLimit verifies that every debt row is covered by an active trust line
// creditor -> debtor with limit >= amount.
func TrustLimit(ctx context.Context, tx ledger.Tx, equivalent string) error {
	debts, err := tx.Debts(ctx, equivalent)
	if err != nil {
		return err
	}
	var violations []types.Violation
	for _, d := range debts {
		if v := checkCovered(ctx, tx, d); v != nil {
			violations = append(violations, *v)
		}
	}
	if len(violations) > 0 {
		return &ViolationError{Violations: violations}
	}
	return nil
}

func checkCovered(ctx context.Context, tx ledger.Tx, d *types.Debt) *types.Violation {
	line, err := tx.ActiveTrustLine(ctx, d.Creditor, d.Debtor, d.Equivalent)
	switch {
	case errors.Is(err, types.ErrNotFound):
		return &types.Violation{
			Invariant:  types.InvariantTrustLimit,
			Equivalent: d.Equivalent,
			Debtor:     d.Debtor,
			Creditor:   d.Creditor,
			Detail:     "debt without active trust line",
		}
	case err != nil:
		return &types.Violation{
			Invariant:  types.InvariantTrustLimit,
			Equivalent: d.Equivalent,
			Debtor:     d.Debtor,
			Creditor:   d.Creditor,
			Detail:     fmt.Sprintf("trust line lookup: %v", err),
		}
	}
	if d.Amount.GreaterThan(line.Limit) {
		return &types.Violation{
			Invariant:  types.InvariantTrustLimit,
			Equivalent: d.Equivalent,
			Debtor:     d.Debtor,
			Creditor:   d.Creditor,
			Detail:     fmt.Sprintf("debt %s exceeds limit %s", d.Amount, line.Limit),
		}
	}
	return nil
}

// DebtSymmetry verifies that no pair holds debt in both directions.
func DebtSymmetry(ctx context.Context, tx ledger.Tx, equivalent string) error {
	debts, err := tx.Debts(ctx, equivalent)
	if err != nil {
		return err
	}
	seen := make(map[Pair]bool, len(debts))
	for _, d := range debts {
		seen[Pair{d.Debtor, d.Creditor}] = true
	}
	var violations []types.Violation
	for _, d := range debts {
		if seen[Pair{d.Creditor, d.Debtor}] && d.Debtor < d.Creditor {
			violations = append(violations, types.Violation{
				Invariant:  types.InvariantDebtSymmetry,
				Equivalent: equivalent,
				Debtor:     d.Debtor,
				Creditor:   d.Creditor,
				Detail:     "mutual debt in both directions",
			})
		}
	}
	if len(violations) > 0 {
		return &ViolationError{Violations: violations}
	}
	return nil
}

// CheckPairs runs the trust-limit and debt-symmetry checks scoped to the
// pairs a commit touched. It is the synchronous pre-release check of payment
// and clearing commits.
func CheckPairs(ctx context.Context, tx ledger.Tx, equivalent string, pairs []Pair) error {
	var violations []types.Violation
	for _, p := range pairs {
		fwd, err := tx.Debt(ctx, p.Debtor, p.Creditor, equivalent)
		if err != nil {
			return err
		}
		rev, err := tx.Debt(ctx, p.Creditor, p.Debtor, equivalent)
		if err != nil {
			return err
		}
		if fwd.Sign() > 0 && rev.Sign() > 0 {
			violations = append(violations, types.Violation{
				Invariant:  types.InvariantDebtSymmetry,
				Equivalent: equivalent,
				Debtor:     p.Debtor,
				Creditor:   p.Creditor,
				Detail:     "mutual debt in both directions",
			})
		}
		if fwd.Sign() > 0 {
			d := &types.Debt{Debtor: p.Debtor, Creditor: p.Creditor, Equivalent: equivalent, Amount: fwd}
			if v := checkCovered(ctx, tx, d); v != nil {
				violations = append(violations, *v)
			}
		}
		if rev.Sign() > 0 {
			d := &types.Debt{Debtor: p.Creditor, Creditor: p.Debtor, Equivalent: equivalent, Amount: rev}
			if v := checkCovered(ctx, tx, d); v != nil {
				violations = append(violations, *v)
			}
		}
	}
	if len(violations) > 0 {
		return &ViolationError{Violations: violations}
	}
	return nil
}

// NetPositions computes credits minus debts for each given participant.
func NetPositions(ctx context.Context, tx ledger.Tx, equivalent string, pids []types.PID) (map[types.PID]decimal.Decimal, error) {
	out := make(map[types.PID]decimal.Decimal, len(pids))
	for _, pid := range pids {
		owed, owing, err := tx.DebtsOf(ctx, pid, equivalent)
		if err != nil {
			return nil, err
		}
		net := decimal.Zero
		for _, d := range owed {
			net = net.Add(d.Amount)
		}
		for _, d := range owing {
			net = net.Sub(d.Amount)
		}
		out[pid] = net
	}
	return out, nil
}

// ClearingNeutrality verifies that a clearing left every participant's net
// position untouched.
func ClearingNeutrality(equivalent string, before, after map[types.PID]decimal.Decimal) error {
	var violations []types.Violation
	for pid, b := range before {
		a, ok := after[pid]
		if !ok || !a.Equal(b) {
			violations = append(violations, types.Violation{
				Invariant:  types.InvariantClearingNeutrality,
				Equivalent: equivalent,
				Debtor:     pid,
				Detail:     fmt.Sprintf("net position changed from %s to %s", b, a),
			})
		}
	}
	if len(violations) > 0 {
		return &ViolationError{Violations: violations}
	}
	return nil
}
