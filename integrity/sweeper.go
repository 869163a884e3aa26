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

// Package integrity re-verifies the ledger invariants in the background,
// records checkpoints with state checksums and maintains the audit log. A
// critical violation freezes the affected equivalent: mutating operations
// are rejected until an operator intervenes.
package integrity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/commongrid/credithub/event"
	"github.com/commongrid/credithub/invariant"
	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/metrics"
	"github.com/commongrid/credithub/types"
)

// Config carries the sweeper timing.
type Config struct {
	Interval time.Duration
}

// DefaultConfig returns the documented default of one sweep per 300s.
func DefaultConfig() Config { return Config{Interval: 300 * time.Second} }

// Sweeper is the background integrity task.
type Sweeper struct {
	store ledger.Store
	now   func() time.Time
	log   *zap.Logger
	feed  *event.Feed[types.Event]
	cfg   Config

	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates an integrity sweeper.
func New(store ledger.Store, clock func() time.Time, log *zap.Logger, feed *event.Feed[types.Event], cfg Config) *Sweeper {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{store: store, now: clock, log: log, feed: feed, cfg: cfg, quit: make(chan struct{})}
}

// Start launches the periodic sweep.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop terminates the sweeper and waits for it.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.quit) })
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.SweepAll(context.Background()); err != nil {
				s.log.Error("integrity sweep failed", zap.Error(err))
			}
		case <-s.quit:
			return
		}
	}
}

// SweepAll verifies every active equivalent.
func (s *Sweeper) SweepAll(ctx context.Context) error {
	var codes []string
	if err := s.store.View(ctx, func(tx ledger.Tx) error {
		eqs, err := tx.ActiveEquivalents(ctx)
		if err != nil {
			return err
		}
		for _, eq := range eqs {
			codes = append(codes, eq.Code)
		}
		return nil
	}); err != nil {
		return err
	}
	for _, code := range codes {
		if _, err := s.Sweep(ctx, code); err != nil {
			return err
		}
	}
	return nil
}

// Sweep verifies one equivalent: invariants 1-3, state checksum, checkpoint
// and audit record. On violations it freezes the equivalent and emits a
// critical event. The returned checkpoint reports the outcome.
func (s *Sweeper) Sweep(ctx context.Context, equivalent string) (*types.IntegrityCheckpoint, error) {
	var cp *types.IntegrityCheckpoint
	var violations []types.Violation

	err := s.store.Update(ctx, func(tx ledger.Tx) error {
		violations = violations[:0]
		for _, check := range []func(context.Context, ledger.Tx, string) error{
			invariant.ZeroSum, invariant.TrustLimit, invariant.DebtSymmetry,
		} {
			if err := check(ctx, tx, equivalent); err != nil {
				if ve, ok := invariant.AsViolation(err); ok {
					violations = append(violations, ve.Violations...)
					continue
				}
				return err
			}
		}
		debts, err := tx.Debts(ctx, equivalent)
		if err != nil {
			return err
		}
		now := s.now()
		cp = &types.IntegrityCheckpoint{
			Equivalent: equivalent,
			Checksum:   ledger.DebtChecksum(debts),
			Passed:     len(violations) == 0,
			Violations: violations,
			CreatedAt:  now,
		}
		if err := tx.PutCheckpoint(ctx, cp); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, &types.AuditRecord{
			Operation:     "integrity.sweep",
			Equivalent:    equivalent,
			ChecksumAfter: cp.Checksum,
			Violations:    violations,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		if len(violations) > 0 {
			eq, err := tx.Equivalent(ctx, equivalent)
			if err != nil {
				return err
			}
			eq.Frozen = true
			eq.UpdatedAt = now
			return tx.PutEquivalent(ctx, eq)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(violations) > 0 {
		for _, v := range violations {
			metrics.IntegrityFailures.WithLabelValues(string(v.Invariant)).Inc()
		}
		s.log.Error("integrity violation, equivalent frozen",
			zap.String("equivalent", equivalent),
			zap.Int("violations", len(violations)))
		if s.feed != nil {
			s.feed.Send(types.Event{
				Kind:       types.EventIntegrityAlert,
				Severity:   types.SeverityCritical,
				Time:       s.now(),
				Equivalent: equivalent,
				Detail:     cp.Checksum,
			})
			s.feed.Send(types.Event{
				Kind:       types.EventEquivalentFrozen,
				Severity:   types.SeverityCritical,
				Time:       s.now(),
				Equivalent: equivalent,
			})
		}
	}
	return cp, nil
}
