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

// Package payment implements the two-phase payment engine:
//
//	NEW -> ROUTED -> PREPARE_IN_PROGRESS -> PREPARED -> COMMITTED
//	                          \-> ABORTED <-/
//
// Prepare reserves capacity on every segment of the chosen routes under
// advisory locks taken in canonical order; commit applies the debt flows,
// re-verifies the scoped invariants and releases the reservations. Both
// phases are idempotent per tx_id.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/commongrid/credithub/event"
	"github.com/commongrid/credithub/invariant"
	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/metrics"
	"github.com/commongrid/credithub/router"
	"github.com/commongrid/credithub/types"
)

// Config carries the engine timeouts and retry bounds.
type Config struct {
	PrepareTTL       time.Duration // reservation lifetime
	CommitTimeout    time.Duration
	TotalTimeout     time.Duration
	CommitRetries    int
	CommitRetryDelay time.Duration
}

// DefaultConfig matches the protocol defaults.
func DefaultConfig() Config {
	return Config{
		PrepareTTL:       3 * time.Second,
		CommitTimeout:    5 * time.Second,
		TotalTimeout:     10 * time.Second,
		CommitRetries:    3,
		CommitRetryDelay: 500 * time.Millisecond,
	}
}

// Request is a validated, signature-checked payment order. The services
// layer performs signature verification before handing it to the engine.
type Request struct {
	TxID        uuid.UUID
	Payer       types.PID
	Payee       types.PID
	Equivalent  string
	Amount      decimal.Decimal
	Description string
	Payload     []byte // canonical signed payload, audit only
	Signature   types.Signature
	Routing     router.Request
}

// CommitHook is invoked after a successful commit with the merged flows, on
// the caller's goroutine. The clearing engine registers its trigger scan
// here.
type CommitHook func(txID uuid.UUID, equivalent string, flows []types.Flow)

// Engine executes payments against the ledger.
type Engine struct {
	store  ledger.Store
	router *router.Router
	now    func() time.Time
	log    *zap.Logger
	cfg    Config
	feed   *event.Feed[types.Event]

	onCommit CommitHook
}

// New creates a payment engine. feed may be shared with other publishers.
func New(store ledger.Store, rt *router.Router, clock func() time.Time, log *zap.Logger, feed *event.Feed[types.Event], cfg Config) *Engine {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, router: rt, now: clock, log: log, feed: feed, cfg: cfg}
}

// SetCommitHook registers the post-commit callback. Must be called before
// the engine starts serving requests.
func (e *Engine) SetCommitHook(h CommitHook) { e.onCommit = h }

// Execute runs the full payment pipeline. On return the transaction is in a
// terminal state and retrievable by tx_id regardless of the error.
func (e *Engine) Execute(ctx context.Context, req Request) (*types.Transaction, error) {
	start := e.now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.TotalTimeout)
	defer cancel()

	tx, err := e.execute(ctx, req)
	metrics.PaymentDuration.Observe(e.now().Sub(start).Seconds())
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues(string(types.AsError(err).Code)).Inc()
		return tx, err
	}
	metrics.PaymentsTotal.WithLabelValues("ok").Inc()
	return tx, nil
}

func (e *Engine) execute(ctx context.Context, req Request) (*types.Transaction, error) {
	if req.TxID == uuid.Nil {
		req.TxID = uuid.New()
	}

	if err := e.validate(ctx, req); err != nil {
		return nil, err
	}

	tx := &types.Transaction{
		ID:         req.TxID,
		Type:       types.TxPayment,
		Initiator:  req.Payer,
		Equivalent: req.Equivalent,
		Payload:    req.Payload,
		Signatures: []types.Signature{req.Signature},
		State:      types.TxNew,
		CreatedAt:  e.now(),
		UpdatedAt:  e.now(),
	}
	if err := e.store.Update(ctx, func(st ledger.Tx) error {
		if existing, err := st.Transaction(ctx, tx.ID); err == nil {
			return fmt.Errorf("%w: transaction %s already %s", types.ErrStateConflict, existing.ID, existing.State)
		} else if !errors.Is(err, types.ErrNotFound) {
			return err
		}
		return st.PutTransaction(ctx, tx)
	}); err != nil {
		return nil, err
	}

	// Routing.
	routeStart := e.now()
	routing := req.Routing
	routing.Source = req.Payer
	routing.Target = req.Payee
	routing.Equivalent = req.Equivalent
	routing.Amount = req.Amount
	res, err := e.router.FindRoutes(ctx, routing)
	metrics.RoutingDuration.Observe(e.now().Sub(routeStart).Seconds())
	if err != nil {
		e.abort(context.WithoutCancel(ctx), tx.ID, "routing failed: "+err.Error())
		return e.transaction(ctx, tx.ID), err
	}
	tx.Routes = res.Routes
	if err := e.store.Update(ctx, func(st ledger.Tx) error {
		cur, err := st.Transaction(ctx, tx.ID)
		if err != nil {
			return err
		}
		cur.Routes = res.Routes
		cur.UpdatedAt = e.now()
		cur.State = types.TxRouted
		return st.PutTransaction(ctx, cur)
	}); err != nil {
		return e.transaction(ctx, tx.ID), err
	}

	flows := e.mergedFlows(res.Routes, req.Equivalent)

	// Prepare.
	if err := e.prepare(ctx, tx.ID, flows); err != nil {
		e.abort(context.WithoutCancel(ctx), tx.ID, "prepare failed: "+err.Error())
		return e.transaction(ctx, tx.ID), e.mapDeadline(ctx, err)
	}

	// Commit.
	if err := e.Commit(ctx, tx.ID); err != nil {
		e.abort(context.WithoutCancel(ctx), tx.ID, "commit failed: "+err.Error())
		return e.transaction(ctx, tx.ID), e.mapDeadline(ctx, err)
	}

	final := e.transaction(ctx, tx.ID)
	e.log.Info("payment committed",
		zap.String("tx", tx.ID.String()),
		zap.String("payer", string(req.Payer)),
		zap.String("payee", string(req.Payee)),
		zap.String("equivalent", req.Equivalent),
		zap.String("amount", req.Amount.String()),
		zap.Int("routes", len(res.Routes)))

	if e.onCommit != nil {
		e.onCommit(tx.ID, req.Equivalent, flows)
	}
	return final, nil
}

func (e *Engine) validate(ctx context.Context, req Request) error {
	if req.Amount.Sign() <= 0 {
		return types.NewError(types.CodeValidation, "amount must be positive")
	}
	if req.Payer == req.Payee {
		return types.NewError(types.CodeValidation, "payer and payee are the same participant")
	}
	return e.store.View(ctx, func(st ledger.Tx) error {
		eq, err := st.Equivalent(ctx, req.Equivalent)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return types.NewError(types.CodeValidation, "unknown equivalent", "equivalent", req.Equivalent)
			}
			return err
		}
		if !eq.Active {
			return types.NewError(types.CodeValidation, "equivalent is not active", "equivalent", req.Equivalent)
		}
		if eq.Frozen {
			return types.NewError(types.CodeForbidden, "equivalent is frozen pending integrity review", "equivalent", req.Equivalent)
		}
		for _, pid := range []types.PID{req.Payer, req.Payee} {
			p, err := st.Participant(ctx, pid)
			if err != nil {
				if errors.Is(err, types.ErrNotFound) {
					return types.NewError(types.CodeValidation, "unknown participant", "pid", string(pid))
				}
				return err
			}
			if !p.Active() {
				return types.NewError(types.CodeForbidden, "participant is not active", "pid", string(pid))
			}
		}
		return nil
	})
}

// mergedFlows aggregates the per-route flows so that sibling paths sharing a
// segment reserve one combined delta, and returns them in canonical lock
// order.
func (e *Engine) mergedFlows(routes []types.Route, equivalent string) []types.Flow {
	var flows []types.Flow
	for _, r := range routes {
		flows = append(flows, r.Flows(equivalent)...)
	}
	return ledger.MergeFlows(flows)
}

// prepare transitions the transaction to PREPARED, reserving capacity on all
// segments under their advisory locks.
func (e *Engine) prepare(ctx context.Context, txID uuid.UUID, flows []types.Flow) error {
	return e.store.Update(ctx, func(st ledger.Tx) error {
		if err := st.SetTransactionState(ctx, txID, types.TxPrepareInProgress, "", types.TxRouted); err != nil {
			return err
		}
		if err := st.LockSegments(ctx, ledger.SegmentKeys(flows)); err != nil {
			return err
		}
		now := e.now()
		endpoints := e.routeEndpoints(ctx, st, txID)
		for _, f := range flows {
			line, err := st.ActiveTrustLine(ctx, f.To, f.From, f.Equivalent)
			if err != nil {
				if errors.Is(err, types.ErrNotFound) {
					return types.NewError(types.CodeTrustLineNotActive, "no active trust line for segment",
						"from", string(f.From), "to", string(f.To))
				}
				return err
			}
			if !line.Active() {
				return types.NewError(types.CodeTrustLineNotActive, "trust line is not active",
					"from", string(f.From), "to", string(f.To))
			}
			if line.Policy.Blocks(endpoints.payer) || line.Policy.Blocks(endpoints.payee) {
				return types.NewError(types.CodeForbidden, "trust line policy blocks a payment endpoint")
			}
			if !line.Policy.CanBeIntermediate && f.From != endpoints.payer && f.To != endpoints.payee {
				return types.NewError(types.CodeForbidden, "trust line may not be used as intermediate segment")
			}

			debt, err := st.Debt(ctx, f.From, f.To, f.Equivalent)
			if err != nil {
				return err
			}
			reserved, err := st.Reserved(ctx, f.From, f.To, f.Equivalent, now, txID)
			if err != nil {
				return err
			}
			available := line.Limit.Sub(debt).Sub(reserved)
			if f.Delta.GreaterThan(available) {
				return types.NewError(types.CodeInsufficientCapacity, "segment capacity exhausted",
					"from", string(f.From), "to", string(f.To),
					"requested", f.Delta.String(), "available", available.String())
			}
			if err := st.PutPrepareLock(ctx, &types.PrepareLock{
				TxID:       txID,
				Equivalent: f.Equivalent,
				From:       f.From,
				To:         f.To,
				Delta:      f.Delta,
				ExpiresAt:  now.Add(e.cfg.PrepareTTL),
			}); err != nil {
				return err
			}
		}
		return st.SetTransactionState(ctx, txID, types.TxPrepared, "", types.TxPrepareInProgress)
	})
}

type endpoints struct{ payer, payee types.PID }

func (e *Engine) routeEndpoints(ctx context.Context, st ledger.Tx, txID uuid.UUID) endpoints {
	tx, err := st.Transaction(ctx, txID)
	if err != nil || len(tx.Routes) == 0 {
		return endpoints{}
	}
	path := tx.Routes[0].Path
	return endpoints{payer: path[0], payee: path[len(path)-1]}
}

// Commit applies the reserved flows of a PREPARED transaction. Recommitting
// a COMMITTED transaction is a no-op; committing an ABORTED one fails with a
// state conflict. Transient store failures are retried a bounded number of
// times.
func (e *Engine) Commit(ctx context.Context, txID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CommitTimeout)
	defer cancel()

	var err error
	for attempt := 0; ; attempt++ {
		err = e.commitOnce(ctx, txID)
		if err == nil || attempt >= e.cfg.CommitRetries-1 || !transient(err) {
			return err
		}
		e.log.Warn("commit retry", zap.String("tx", txID.String()), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return types.NewError(types.CodeTimeout, "commit deadline exceeded")
		case <-time.After(e.cfg.CommitRetryDelay):
		}
	}
}

func (e *Engine) commitOnce(ctx context.Context, txID uuid.UUID) error {
	committed := false
	err := e.store.Update(ctx, func(st ledger.Tx) error {
		tx, err := st.Transaction(ctx, txID)
		if err != nil {
			return err
		}
		switch tx.State {
		case types.TxCommitted:
			return nil // idempotent redelivery
		case types.TxAborted:
			return fmt.Errorf("%w: commit of aborted transaction %s", types.ErrStateConflict, txID)
		case types.TxPrepared:
		default:
			return fmt.Errorf("%w: commit in state %s", types.ErrStateConflict, tx.State)
		}

		locks, err := st.PrepareLocks(ctx, txID)
		if err != nil {
			return err
		}
		if len(locks) == 0 {
			return fmt.Errorf("%w: no reservations for %s (expired?)", types.ErrStateConflict, txID)
		}
		flows := make([]types.Flow, 0, len(locks))
		now := e.now()
		for _, l := range locks {
			if l.Expired(now) {
				return fmt.Errorf("%w: reservation expired on %s -> %s", types.ErrStateConflict, l.From, l.To)
			}
			flows = append(flows, types.Flow{From: l.From, To: l.To, Equivalent: l.Equivalent, Delta: l.Delta})
		}
		ledger.SortFlows(flows)
		if err := st.LockSegments(ctx, ledger.SegmentKeys(flows)); err != nil {
			return err
		}

		pairs := make([]invariant.Pair, 0, len(flows))
		for _, f := range flows {
			if err := st.ApplyFlow(ctx, f.From, f.To, f.Equivalent, f.Delta); err != nil {
				return err
			}
			pairs = append(pairs, invariant.Pair{Debtor: f.From, Creditor: f.To})
		}
		if err := invariant.CheckPairs(ctx, st, tx.Equivalent, pairs); err != nil {
			if _, ok := invariant.AsViolation(err); ok {
				return types.NewError(types.CodeTrustLimitExceeded, err.Error())
			}
			return err
		}
		if err := st.DeletePrepareLocks(ctx, txID); err != nil {
			return err
		}
		if err := st.SetTransactionState(ctx, txID, types.TxCommitted, "", types.TxPrepared); err != nil {
			return err
		}
		committed = true
		return nil
	})
	if err == nil && committed {
		e.publishState(txID, types.TxCommitted, "")
	}
	return err
}

// Abort releases the reservations of txID and marks it ABORTED. It is
// idempotent: aborting an ABORTED transaction succeeds, aborting a
// COMMITTED one fails with a state conflict.
func (e *Engine) Abort(ctx context.Context, txID uuid.UUID, reason string) error {
	aborted := false
	err := e.store.Update(ctx, func(st ledger.Tx) error {
		tx, err := st.Transaction(ctx, txID)
		if err != nil {
			return err
		}
		switch tx.State {
		case types.TxAborted:
			return nil
		case types.TxCommitted:
			return fmt.Errorf("%w: abort of committed transaction %s", types.ErrStateConflict, txID)
		}
		if err := st.DeletePrepareLocks(ctx, txID); err != nil {
			return err
		}
		if err := st.SetTransactionState(ctx, txID, types.TxAborted, reason); err != nil {
			return err
		}
		aborted = true
		return nil
	})
	if err == nil && aborted {
		e.publishState(txID, types.TxAborted, reason)
	}
	return err
}

// abort is the internal best-effort variant used on pipeline failures.
func (e *Engine) abort(ctx context.Context, txID uuid.UUID, reason string) {
	if err := e.Abort(ctx, txID, reason); err != nil {
		e.log.Error("abort failed", zap.String("tx", txID.String()), zap.Error(err))
	}
}

func (e *Engine) transaction(ctx context.Context, txID uuid.UUID) *types.Transaction {
	var tx *types.Transaction
	_ = e.store.View(context.WithoutCancel(ctx), func(st ledger.Tx) error {
		var err error
		tx, err = st.Transaction(ctx, txID)
		return err
	})
	return tx
}

func (e *Engine) publishState(txID uuid.UUID, state types.TxState, detail string) {
	if e.feed == nil {
		return
	}
	kind := types.EventTxStateChanged
	severity := types.SeverityInfo
	switch state {
	case types.TxCommitted:
		kind = types.EventPaymentCommitted
	case types.TxAborted:
		kind = types.EventPaymentAborted
		severity = types.SeverityWarning
	}
	id := txID
	e.feed.Send(types.Event{
		Kind:     kind,
		Severity: severity,
		Time:     e.now(),
		TxID:     &id,
		State:    state,
		Detail:   detail,
	})
}

func (e *Engine) mapDeadline(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.NewError(types.CodeTimeout, "payment deadline exceeded")
	}
	return err
}

// transient reports whether err is worth a bounded commit retry. Typed
// domain errors and state conflicts are final; anything else is assumed to
// be a store hiccup.
func transient(err error) bool {
	var te *types.Error
	if errors.As(err, &te) {
		return false
	}
	return !errors.Is(err, types.ErrStateConflict) && !errors.Is(err, types.ErrNotFound)
}
