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

// Package clearing finds closed cycles of mutual debt and nets them out by
// the cycle's minimum debt, leaving every participant's net position
// untouched. Short cycles (3-4) are scanned right after each payment commit;
// longer ones (5-6) on periodic sweeps.
package clearing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/commongrid/credithub/event"
	"github.com/commongrid/credithub/identity"
	"github.com/commongrid/credithub/invariant"
	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/metrics"
	"github.com/commongrid/credithub/types"
)

// Config carries the clearing knobs.
type Config struct {
	Enabled         bool
	TriggerMaxLen   int // 3..4
	MinAmount       decimal.Decimal
	MaxCyclesPerRun int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		TriggerMaxLen:   4,
		MinAmount:       decimal.RequireFromString("0.01"),
		MaxCyclesPerRun: 200,
	}
}

// Engine is the cycle clearing engine.
type Engine struct {
	store ledger.Store
	now   func() time.Time
	log   *zap.Logger
	feed  *event.Feed[types.Event]
	cfg   Config
}

// New creates a clearing engine.
func New(store ledger.Store, clock func() time.Time, log *zap.Logger, feed *event.Feed[types.Event], cfg Config) *Engine {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, now: clock, log: log, feed: feed, cfg: cfg}
}

// TriggerScan runs after a payment commit: it searches for cycles of length
// 3..TriggerMaxLen that include at least one of the segments the commit
// touched and clears each consenting one.
func (e *Engine) TriggerScan(ctx context.Context, equivalent string, touched []types.Flow) (cleared int, err error) {
	if !e.cfg.Enabled {
		return 0, nil
	}
	mustTouch := make(map[[2]types.PID]bool, len(touched))
	for _, f := range touched {
		mustTouch[[2]types.PID{f.From, f.To}] = true
	}
	return e.scan(ctx, equivalent, 3, e.cfg.TriggerMaxLen, mustTouch)
}

// PeriodicScan clears cycles of exactly the given length across all active
// equivalents. The scheduler calls it with 5 hourly and 6 daily.
func (e *Engine) PeriodicScan(ctx context.Context, length int) (cleared int, err error) {
	if !e.cfg.Enabled {
		return 0, nil
	}
	var codes []string
	if err := e.store.View(ctx, func(tx ledger.Tx) error {
		eqs, err := tx.ActiveEquivalents(ctx)
		if err != nil {
			return err
		}
		for _, eq := range eqs {
			if !eq.Frozen {
				codes = append(codes, eq.Code)
			}
		}
		return nil
	}); err != nil {
		return 0, err
	}
	total := 0
	for _, code := range codes {
		n, err := e.scan(ctx, code, length, length, nil)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (e *Engine) scan(ctx context.Context, equivalent string, minLen, maxLen int, mustTouch map[[2]types.PID]bool) (int, error) {
	var cycles [][]types.PID
	if err := e.store.View(ctx, func(tx ledger.Tx) error {
		debts, err := tx.Debts(ctx, equivalent)
		if err != nil {
			return err
		}
		cycles = findCycles(debts, minLen, maxLen, mustTouch, e.cfg.MaxCyclesPerRun)
		return nil
	}); err != nil {
		return 0, err
	}

	cleared := 0
	for _, cycle := range cycles {
		if ctx.Err() != nil {
			return cleared, ctx.Err()
		}
		ok, err := e.Execute(ctx, equivalent, cycle)
		if err != nil {
			e.log.Error("clearing cycle failed", zap.String("equivalent", equivalent), zap.Error(err))
			continue
		}
		if ok {
			cleared++
		}
	}
	return cleared, nil
}

// findCycles enumerates simple debt cycles with minLen <= length <= maxLen.
// Cycles are produced in canonical form: the walk starts at the
// lexicographically smallest PID and follows the debt direction, so each
// cycle appears exactly once.
func findCycles(debts []*types.Debt, minLen, maxLen int, mustTouch map[[2]types.PID]bool, limit int) [][]types.PID {
	adj := make(map[types.PID][]types.PID)
	for _, d := range debts {
		adj[d.Debtor] = append(adj[d.Debtor], d.Creditor)
	}
	starts := make([]types.PID, 0, len(adj))
	for pid := range adj {
		starts = append(starts, pid)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	for _, next := range adj {
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	}

	var out [][]types.PID
	var dfs func(start types.PID, path []types.PID, onPath map[types.PID]bool) bool
	dfs = func(start types.PID, path []types.PID, onPath map[types.PID]bool) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		cur := path[len(path)-1]
		for _, next := range adj[cur] {
			if next == start && len(path) >= minLen {
				cycle := append([]types.PID(nil), path...)
				if touches(cycle, mustTouch) {
					out = append(out, cycle)
					if limit > 0 && len(out) >= limit {
						return false
					}
				}
				continue
			}
			// Only visit nodes above the start PID: this pins the
			// canonical rotation and deduplicates.
			if next <= start || onPath[next] || len(path) >= maxLen {
				continue
			}
			onPath[next] = true
			if !dfs(start, append(path, next), onPath) {
				return false
			}
			delete(onPath, next)
		}
		return true
	}
	for _, start := range starts {
		if limit > 0 && len(out) >= limit {
			break
		}
		dfs(start, []types.PID{start}, map[types.PID]bool{start: true})
	}
	return out
}

func touches(cycle []types.PID, mustTouch map[[2]types.PID]bool) bool {
	if mustTouch == nil {
		return true
	}
	for i := range cycle {
		from, to := cycle[i], cycle[(i+1)%len(cycle)]
		if mustTouch[[2]types.PID{from, to}] {
			return true
		}
	}
	return false
}

// clearingEdge is one netted debt edge recorded in the CLEARING payload.
type clearingEdge struct {
	Debtor   types.PID `json:"debtor"`
	Creditor types.PID `json:"creditor"`
	Amount   string    `json:"amount"`
}

// Execute nets one cycle. It returns (false, nil) when the cycle is skipped:
// consent missing, a debt vanished since the scan, or the clearable amount
// is below the minimum. The whole netting runs inside a single store
// transaction holding every segment lock of the cycle, so it cannot
// interleave with payments over those segments.
func (e *Engine) Execute(ctx context.Context, equivalent string, cycle []types.PID) (bool, error) {
	if len(cycle) < 3 {
		return false, fmt.Errorf("clearing: cycle too short (%d)", len(cycle))
	}
	skipped := false
	var amount decimal.Decimal
	txID := uuid.New()

	err := e.store.Update(ctx, func(st ledger.Tx) error {
		flows := make([]types.Flow, 0, len(cycle))
		for i := range cycle {
			flows = append(flows, types.Flow{From: cycle[i], To: cycle[(i+1)%len(cycle)], Equivalent: equivalent})
		}
		ledger.SortFlows(flows)
		if err := st.LockSegments(ctx, ledger.SegmentKeys(flows)); err != nil {
			return err
		}

		// Re-read debts under lock; consent on every edge.
		amount = decimal.Zero
		for i := range cycle {
			debtor, creditor := cycle[i], cycle[(i+1)%len(cycle)]
			line, err := st.ActiveTrustLine(ctx, creditor, debtor, equivalent)
			if err != nil {
				if errors.Is(err, types.ErrNotFound) {
					skipped = true
					return nil
				}
				return err
			}
			if !line.Policy.AutoClearing {
				skipped = true
				return nil
			}
			debt, err := st.Debt(ctx, debtor, creditor, equivalent)
			if err != nil {
				return err
			}
			if debt.Sign() <= 0 {
				skipped = true
				return nil
			}
			if i == 0 || debt.LessThan(amount) {
				amount = debt
			}
		}
		if amount.LessThan(e.cfg.MinAmount) {
			skipped = true
			return nil
		}

		before, err := invariant.NetPositions(ctx, st, equivalent, cycle)
		if err != nil {
			return err
		}

		edges := make([]clearingEdge, 0, len(cycle))
		for i := range cycle {
			debtor, creditor := cycle[i], cycle[(i+1)%len(cycle)]
			if err := st.ReduceDebt(ctx, debtor, creditor, equivalent, amount); err != nil {
				return err
			}
			edges = append(edges, clearingEdge{Debtor: debtor, Creditor: creditor, Amount: amount.String()})
		}

		after, err := invariant.NetPositions(ctx, st, equivalent, cycle)
		if err != nil {
			return err
		}
		if err := invariant.ClearingNeutrality(equivalent, before, after); err != nil {
			return err
		}

		payload, err := identity.CanonicalJSON(map[string]any{
			"equivalent": equivalent,
			"edges":      edges,
			"amount":     amount.String(),
		})
		if err != nil {
			return err
		}
		now := e.now()
		return st.PutTransaction(ctx, &types.Transaction{
			ID:         txID,
			Type:       types.TxClearing,
			Equivalent: equivalent,
			Payload:    payload,
			State:      types.TxCommitted,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	})
	if err != nil {
		metrics.ClearingCycles.WithLabelValues("error").Inc()
		return false, err
	}
	if skipped {
		metrics.ClearingCycles.WithLabelValues("skipped").Inc()
		return false, nil
	}

	metrics.ClearingCycles.WithLabelValues("cleared").Inc()
	e.log.Info("cycle cleared",
		zap.String("tx", txID.String()),
		zap.String("equivalent", equivalent),
		zap.Int("length", len(cycle)),
		zap.String("amount", amount.String()))
	if e.feed != nil {
		id := txID
		amt := amount
		e.feed.Send(types.Event{
			Kind:       types.EventClearingExecuted,
			Severity:   types.SeverityInfo,
			Time:       e.now(),
			TxID:       &id,
			Equivalent: equivalent,
			Amount:     &amt,
			Parties:    append([]types.PID(nil), cycle...),
		})
	}
	return true, nil
}
