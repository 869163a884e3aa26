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

// Package recovery quiesces the aftermath of crashes and timeouts: it
// deletes expired prepare locks and aborts transactions stuck mid-protocol.
// The loop runs once at startup, before the hub accepts requests, and then
// periodically in the background.
package recovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/commongrid/credithub/event"
	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/metrics"
	"github.com/commongrid/credithub/types"
)

// Config carries the loop timing.
type Config struct {
	Interval   time.Duration // tick period
	PrepareTTL time.Duration // matches the payment engine's reservation TTL
	Grace      time.Duration // extra slack before declaring a tx orphaned
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Interval:   60 * time.Second,
		PrepareTTL: 3 * time.Second,
		Grace:      5 * time.Second,
	}
}

// Loop is the background recovery task.
type Loop struct {
	store ledger.Store
	now   func() time.Time
	log   *zap.Logger
	feed  *event.Feed[types.Event]
	cfg   Config

	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a recovery loop.
func New(store ledger.Store, clock func() time.Time, log *zap.Logger, feed *event.Feed[types.Event], cfg Config) *Loop {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{store: store, now: clock, log: log, feed: feed, cfg: cfg, quit: make(chan struct{})}
}

// Start runs one synchronous tick (the startup quiesce) and then launches
// the periodic loop.
func (l *Loop) Start(ctx context.Context) error {
	if err := l.Tick(ctx); err != nil {
		return err
	}
	l.wg.Add(1)
	go l.run()
	return nil
}

// Stop terminates the loop and waits for it.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.quit) })
	l.wg.Wait()
}

func (l *Loop) run() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.Tick(context.Background()); err != nil {
				l.log.Error("recovery tick failed", zap.Error(err))
			}
		case <-l.quit:
			return
		}
	}
}

// Tick performs one recovery pass: drop expired reservations, then abort
// transactions stuck in PREPARE_IN_PROGRESS or PREPARED beyond TTL+grace.
func (l *Loop) Tick(ctx context.Context) error {
	now := l.now()
	cutoff := now.Add(-(l.cfg.PrepareTTL + l.cfg.Grace))

	var expired, aborted int
	var abortedTxs []*types.Transaction
	err := l.store.Update(ctx, func(st ledger.Tx) error {
		n, err := st.DeleteExpiredLocks(ctx, now)
		if err != nil {
			return err
		}
		expired = n

		stale, err := st.StaleTransactions(ctx, cutoff, types.TxPrepareInProgress, types.TxPrepared)
		if err != nil {
			return err
		}
		for _, tx := range stale {
			if err := st.DeletePrepareLocks(ctx, tx.ID); err != nil {
				return err
			}
			if err := st.SetTransactionState(ctx, tx.ID, types.TxAborted, "lock expired",
				types.TxPrepareInProgress, types.TxPrepared); err != nil {
				return err
			}
			aborted++
			abortedTxs = append(abortedTxs, tx)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if expired > 0 {
		metrics.ExpiredLocks.Add(float64(expired))
	}
	for _, tx := range abortedTxs {
		metrics.RecoveryAborts.Inc()
		if l.feed != nil {
			id := tx.ID
			l.feed.Send(types.Event{
				Kind:     types.EventPaymentAborted,
				Severity: types.SeverityWarning,
				Time:     now,
				TxID:     &id,
				State:    types.TxAborted,
				Detail:   "lock expired",
			})
		}
	}
	if expired > 0 || aborted > 0 {
		l.log.Info("recovery pass", zap.Int("expired_locks", expired), zap.Int("aborted_txs", aborted))
	}
	return nil
}
