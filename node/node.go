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

// Package node assembles a running hub: ledger backend, routing, payment and
// clearing engines, the recovery and integrity background tasks and the HTTP
// boundary, with an ordered startup and shutdown.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/commongrid/credithub/api"
	"github.com/commongrid/credithub/clearing"
	"github.com/commongrid/credithub/config"
	"github.com/commongrid/credithub/event"
	"github.com/commongrid/credithub/integrity"
	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/ledger/memdb"
	"github.com/commongrid/credithub/ledger/pgdb"
	"github.com/commongrid/credithub/payment"
	"github.com/commongrid/credithub/recovery"
	"github.com/commongrid/credithub/router"
	"github.com/commongrid/credithub/services"
	"github.com/commongrid/credithub/types"
)

const routeCacheTTL = 2 * time.Second

// Node is a fully wired hub instance.
type Node struct {
	cfg  config.Config
	log  *zap.Logger
	feed *event.Feed[types.Event]

	store     ledger.Store
	router    *router.Router
	payments  *payment.Engine
	clearing  *clearing.Engine
	recovery  *recovery.Loop
	integrity *integrity.Sweeper
	server    *api.Server

	quit      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New wires a node from configuration. An empty database DSN selects the
// in-memory ledger backend.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	var store ledger.Store
	if cfg.Database.DSN == "" {
		log.Warn("no database configured, using in-memory ledger")
		store = memdb.New(nil)
	} else {
		db, err := pgdb.Open(ctx, cfg.Database.DSN, nil)
		if err != nil {
			return nil, fmt.Errorf("open ledger database: %w", err)
		}
		store = db
	}

	n := &Node{
		cfg:  cfg,
		log:  log,
		feed: new(event.Feed[types.Event]),
		quit: make(chan struct{}),
	}
	n.store = store
	n.router = router.New(store, nil, routeCacheTTL)

	minClear, err := cfg.MinClearingAmount()
	if err != nil {
		return nil, err
	}
	clearCfg := clearing.DefaultConfig()
	clearCfg.Enabled = cfg.Clearing.Enabled
	clearCfg.TriggerMaxLen = cfg.Clearing.TriggerCyclesMaxLength
	clearCfg.MinAmount = minClear
	n.clearing = clearing.New(store, nil, log.Named("clearing"), n.feed, clearCfg)

	payCfg := payment.DefaultConfig()
	payCfg.PrepareTTL = time.Duration(cfg.Protocol.PrepareTimeoutMS) * time.Millisecond
	payCfg.CommitTimeout = time.Duration(cfg.Protocol.CommitTimeoutMS) * time.Millisecond
	payCfg.TotalTimeout = payCfg.PrepareTTL + payCfg.CommitTimeout +
		time.Duration(cfg.Routing.PathFindingTimeoutMS)*time.Millisecond
	n.payments = payment.New(store, n.router, nil, log.Named("payment"), n.feed, payCfg)
	n.payments.SetCommitHook(n.onPaymentCommit)

	recCfg := recovery.Config{
		Interval:   time.Duration(cfg.Protocol.RecoveryInterval) * time.Second,
		PrepareTTL: payCfg.PrepareTTL,
		Grace:      time.Duration(cfg.Protocol.RecoveryGraceSec) * time.Second,
	}
	n.recovery = recovery.New(store, nil, log.Named("recovery"), n.feed, recCfg)

	n.integrity = integrity.New(store, nil, log.Named("integrity"), n.feed, integrity.Config{
		Interval: time.Duration(cfg.Integrity.CheckIntervalSec) * time.Second,
	})

	authCfg := services.DefaultAuthConfig()
	authCfg.Secret = []byte(cfg.Server.JWTSecret)
	svc := api.Services{
		Participants: services.NewParticipantService(store, nil, log.Named("participants")),
		TrustLines:   services.NewTrustLineService(store, nil, log.Named("trustlines"), n.feed),
		Payments:     services.NewPaymentService(store, n.payments),
		Equivalents:  services.NewEquivalentService(store, nil, log.Named("equivalents")),
		Integrity:    services.NewIntegrityService(store, n.integrity),
		Auth:         services.NewAuthService(store, nil, nil, authCfg),
	}
	n.server = api.NewServer(cfg.Server.HTTPAddr, svc, n.feed, cfg.Server.CORSOrigins, log.Named("api"))
	return n, nil
}

// onPaymentCommit feeds committed flows into the trigger clearing scan on a
// separate goroutine so payment latency is unaffected.
func (n *Node) onPaymentCommit(txID uuid.UUID, equivalent string, flows []types.Flow) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cleared, err := n.clearing.TriggerScan(ctx, equivalent, flows)
		if err != nil {
			n.log.Error("trigger clearing scan failed",
				zap.String("tx_id", txID.String()), zap.Error(err))
			return
		}
		if cleared > 0 {
			n.log.Info("trigger clearing", zap.String("tx_id", txID.String()), zap.Int("cycles", cleared))
		}
	}()
}

// Start quiesces the ledger, launches the background tasks and begins
// serving HTTP. The startup recovery pass completes before the listener
// opens.
func (n *Node) Start(ctx context.Context) error {
	var err error
	n.startOnce.Do(func() {
		if err = n.recovery.Start(ctx); err != nil {
			err = fmt.Errorf("startup recovery: %w", err)
			return
		}
		n.integrity.Start()
		n.wg.Add(1)
		go n.clearingScheduler()

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if serveErr := n.server.Start(); serveErr != nil {
				n.log.Error("http server failed", zap.Error(serveErr))
			}
		}()
	})
	return err
}

// clearingScheduler runs the periodic cycle scans: length 5 every interval,
// length 6 once a day.
func (n *Node) clearingScheduler() {
	defer n.wg.Done()
	interval := time.Duration(n.cfg.Clearing.PeriodicIntervalSec) * time.Second
	hourly := time.NewTicker(interval)
	daily := time.NewTicker(24 * time.Hour)
	defer hourly.Stop()
	defer daily.Stop()
	for {
		var length int
		select {
		case <-hourly.C:
			length = 5
		case <-daily.C:
			length = 6
		case <-n.quit:
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		cleared, err := n.clearing.PeriodicScan(ctx, length)
		cancel()
		if err != nil {
			n.log.Error("periodic clearing scan failed", zap.Int("length", length), zap.Error(err))
		} else if cleared > 0 {
			n.log.Info("periodic clearing", zap.Int("length", length), zap.Int("cycles", cleared))
		}
	}
}

// Stop shuts everything down in reverse order and closes the ledger.
func (n *Node) Stop(ctx context.Context) error {
	var err error
	n.stopOnce.Do(func() {
		err = n.server.Stop(ctx)
		close(n.quit)
		n.integrity.Stop()
		n.recovery.Stop()
		n.wg.Wait()
		if cerr := n.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
		n.log.Info("node stopped")
	})
	return err
}

// Store exposes the ledger for diagnostics and tests.
func (n *Node) Store() ledger.Store { return n.store }
