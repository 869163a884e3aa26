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

// Package memdb implements the ledger store in memory. It backs the test
// suite and the --dev mode of the daemon. Update transactions run against a
// copy-on-write clone of the whole state and are swapped in atomically on
// success, so a failing callback rolls back completely. Updates are globally
// serialized, which trivially satisfies the per-segment ordering guarantees
// of the ledger contract.
package memdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/types"
)

type lineKey struct {
	from, to types.PID
	eq       string
}

type debtKey struct {
	debtor, creditor types.PID
	eq               string
}

type plockKey struct {
	tx       uuid.UUID
	eq       string
	from, to types.PID
}

type state struct {
	participants map[types.PID]types.Participant
	equivalents  map[string]types.Equivalent
	trustlines   map[uuid.UUID]types.TrustLine
	activeLines  map[lineKey]uuid.UUID
	debts        map[debtKey]types.Debt
	txs          map[uuid.UUID]types.Transaction
	plocks       map[plockKey]types.PrepareLock
	checkpoints  []types.IntegrityCheckpoint
	audit        []types.AuditRecord
	auditSeq     int64
}

func newState() *state {
	return &state{
		participants: make(map[types.PID]types.Participant),
		equivalents:  make(map[string]types.Equivalent),
		trustlines:   make(map[uuid.UUID]types.TrustLine),
		activeLines:  make(map[lineKey]uuid.UUID),
		debts:        make(map[debtKey]types.Debt),
		txs:          make(map[uuid.UUID]types.Transaction),
		plocks:       make(map[plockKey]types.PrepareLock),
	}
}

func (s *state) clone() *state {
	c := &state{
		participants: make(map[types.PID]types.Participant, len(s.participants)),
		equivalents:  make(map[string]types.Equivalent, len(s.equivalents)),
		trustlines:   make(map[uuid.UUID]types.TrustLine, len(s.trustlines)),
		activeLines:  make(map[lineKey]uuid.UUID, len(s.activeLines)),
		debts:        make(map[debtKey]types.Debt, len(s.debts)),
		txs:          make(map[uuid.UUID]types.Transaction, len(s.txs)),
		plocks:       make(map[plockKey]types.PrepareLock, len(s.plocks)),
		checkpoints:  append([]types.IntegrityCheckpoint(nil), s.checkpoints...),
		audit:        append([]types.AuditRecord(nil), s.audit...),
		auditSeq:     s.auditSeq,
	}
	for k, v := range s.participants {
		c.participants[k] = v
	}
	for k, v := range s.equivalents {
		c.equivalents[k] = v
	}
	for k, v := range s.trustlines {
		c.trustlines[k] = v
	}
	for k, v := range s.activeLines {
		c.activeLines[k] = v
	}
	for k, v := range s.debts {
		c.debts[k] = v
	}
	for k, v := range s.txs {
		c.txs[k] = v
	}
	for k, v := range s.plocks {
		c.plocks[k] = v
	}
	return c
}

// Database is the in-memory ledger store.
type Database struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

// New creates an empty in-memory store. The clock is used for row update
// timestamps and defaults to time.Now.
func New(clock func() time.Time) *Database {
	if clock == nil {
		clock = time.Now
	}
	return &Database{state: newState(), now: clock}
}

// Update runs fn against a clone of the state and installs the clone if fn
// succeeds. Concurrent updates are serialized.
func (db *Database) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	next := db.state.clone()
	if err := fn(&memTx{db: db, state: next}); err != nil {
		return err
	}
	db.state = next
	return nil
}

// View runs fn read-only against the current state.
func (db *Database) View(ctx context.Context, fn func(tx ledger.Tx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memTx{db: db, state: db.state, readonly: true})
}

// Close releases nothing; it exists to satisfy the Store interface.
func (db *Database) Close() error { return nil }

type memTx struct {
	db       *Database
	state    *state
	readonly bool
}

var errReadOnly = fmt.Errorf("memdb: write in read-only transaction")

// LockSegments is a no-op: updates are globally serialized.
func (t *memTx) LockSegments(ctx context.Context, keys []uint64) error { return nil }

func (t *memTx) Participant(ctx context.Context, pid types.PID) (*types.Participant, error) {
	p, ok := t.state.participants[pid]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (t *memTx) PutParticipant(ctx context.Context, p *types.Participant) error {
	if t.readonly {
		return errReadOnly
	}
	t.state.participants[p.PID] = *p
	return nil
}

func (t *memTx) Equivalent(ctx context.Context, code string) (*types.Equivalent, error) {
	e, ok := t.state.equivalents[code]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := e
	return &cp, nil
}

func (t *memTx) PutEquivalent(ctx context.Context, e *types.Equivalent) error {
	if t.readonly {
		return errReadOnly
	}
	t.state.equivalents[e.Code] = *e
	return nil
}

func (t *memTx) ActiveEquivalents(ctx context.Context) ([]*types.Equivalent, error) {
	var out []*types.Equivalent
	for _, e := range t.state.equivalents {
		if e.Active {
			cp := e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) ActiveTrustLine(ctx context.Context, from, to types.PID, equivalent string) (*types.TrustLine, error) {
	id, ok := t.state.activeLines[lineKey{from, to, equivalent}]
	if !ok {
		return nil, types.ErrNotFound
	}
	tl := t.state.trustlines[id]
	cp := tl
	return &cp, nil
}

func (t *memTx) TrustLineByID(ctx context.Context, id uuid.UUID) (*types.TrustLine, error) {
	tl, ok := t.state.trustlines[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := tl
	return &cp, nil
}

func (t *memTx) PutTrustLine(ctx context.Context, tl *types.TrustLine) error {
	if t.readonly {
		return errReadOnly
	}
	key := lineKey{tl.From, tl.To, tl.Equivalent}
	if existing, ok := t.state.activeLines[key]; ok && existing != tl.ID && tl.Active() {
		return fmt.Errorf("%w: active trust line %s -> %s (%s)", types.ErrAlreadyExists, tl.From, tl.To, tl.Equivalent)
	}
	t.state.trustlines[tl.ID] = *tl
	if tl.Active() {
		t.state.activeLines[key] = tl.ID
	} else if id, ok := t.state.activeLines[key]; ok && id == tl.ID {
		delete(t.state.activeLines, key)
	}
	return nil
}

func (t *memTx) TrustLines(ctx context.Context, equivalent string) ([]*types.TrustLine, error) {
	var out []*types.TrustLine
	for _, id := range t.state.activeLines {
		tl := t.state.trustlines[id]
		if tl.Equivalent == equivalent {
			cp := tl
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) Debt(ctx context.Context, debtor, creditor types.PID, equivalent string) (decimal.Decimal, error) {
	d, ok := t.state.debts[debtKey{debtor, creditor, equivalent}]
	if !ok {
		return decimal.Zero, nil
	}
	return d.Amount, nil
}

func (t *memTx) Debts(ctx context.Context, equivalent string) ([]*types.Debt, error) {
	var out []*types.Debt
	for _, d := range t.state.debts {
		if d.Equivalent == equivalent {
			cp := d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) DebtsOf(ctx context.Context, pid types.PID, equivalent string) (owed, owing []*types.Debt, err error) {
	for _, d := range t.state.debts {
		if d.Equivalent != equivalent {
			continue
		}
		cp := d
		if d.Creditor == pid {
			owed = append(owed, &cp)
		}
		if d.Debtor == pid {
			owing = append(owing, &cp)
		}
	}
	return owed, owing, nil
}

func (t *memTx) ApplyFlow(ctx context.Context, from, to types.PID, equivalent string, delta decimal.Decimal) error {
	if t.readonly {
		return errReadOnly
	}
	if delta.Sign() <= 0 {
		return fmt.Errorf("memdb: non-positive flow delta %s", delta)
	}
	now := t.db.now()
	// Offset an opposite-direction row first.
	oppKey := debtKey{to, from, equivalent}
	if opp, ok := t.state.debts[oppKey]; ok {
		offset := decimal.Min(delta, opp.Amount)
		opp.Amount = opp.Amount.Sub(offset)
		opp.UpdatedAt = now
		delta = delta.Sub(offset)
		if opp.Amount.Sign() == 0 {
			delete(t.state.debts, oppKey)
		} else {
			t.state.debts[oppKey] = opp
		}
	}
	if delta.Sign() == 0 {
		return nil
	}
	key := debtKey{from, to, equivalent}
	d, ok := t.state.debts[key]
	if !ok {
		d = types.Debt{Debtor: from, Creditor: to, Equivalent: equivalent}
	}
	d.Amount = d.Amount.Add(delta)
	d.UpdatedAt = now
	t.state.debts[key] = d
	return nil
}

func (t *memTx) ReduceDebt(ctx context.Context, debtor, creditor types.PID, equivalent string, amount decimal.Decimal) error {
	if t.readonly {
		return errReadOnly
	}
	key := debtKey{debtor, creditor, equivalent}
	d, ok := t.state.debts[key]
	if !ok || d.Amount.LessThan(amount) {
		return fmt.Errorf("%w: debt %s -> %s below reduction %s", types.ErrStateConflict, debtor, creditor, amount)
	}
	d.Amount = d.Amount.Sub(amount)
	d.UpdatedAt = t.db.now()
	if d.Amount.Sign() == 0 {
		delete(t.state.debts, key)
	} else {
		t.state.debts[key] = d
	}
	return nil
}

func (t *memTx) Transaction(ctx context.Context, id uuid.UUID) (*types.Transaction, error) {
	tx, ok := t.state.txs[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := tx
	return &cp, nil
}

func (t *memTx) PutTransaction(ctx context.Context, tr *types.Transaction) error {
	if t.readonly {
		return errReadOnly
	}
	t.state.txs[tr.ID] = *tr
	return nil
}

func (t *memTx) SetTransactionState(ctx context.Context, id uuid.UUID, to types.TxState, reason string, allowedFrom ...types.TxState) error {
	if t.readonly {
		return errReadOnly
	}
	tr, ok := t.state.txs[id]
	if !ok {
		return types.ErrNotFound
	}
	allowed := len(allowedFrom) == 0
	for _, s := range allowedFrom {
		if tr.State == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: tx %s is %s, not in %v", types.ErrStateConflict, id, tr.State, allowedFrom)
	}
	tr.State = to
	if reason != "" {
		tr.Reason = reason
	}
	tr.UpdatedAt = t.db.now()
	t.state.txs[id] = tr
	return nil
}

func (t *memTx) StaleTransactions(ctx context.Context, cutoff time.Time, states ...types.TxState) ([]*types.Transaction, error) {
	var out []*types.Transaction
	for _, tr := range t.state.txs {
		if !tr.UpdatedAt.Before(cutoff) {
			continue
		}
		for _, s := range states {
			if tr.State == s {
				cp := tr
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (t *memTx) PutPrepareLock(ctx context.Context, l *types.PrepareLock) error {
	if t.readonly {
		return errReadOnly
	}
	key := plockKey{l.TxID, l.Equivalent, l.From, l.To}
	if _, ok := t.state.plocks[key]; ok {
		return fmt.Errorf("%w: prepare lock %v", types.ErrAlreadyExists, key)
	}
	t.state.plocks[key] = *l
	return nil
}

func (t *memTx) PrepareLocks(ctx context.Context, txID uuid.UUID) ([]*types.PrepareLock, error) {
	var out []*types.PrepareLock
	for k, l := range t.state.plocks {
		if k.tx == txID {
			cp := l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) DeletePrepareLocks(ctx context.Context, txID uuid.UUID) error {
	if t.readonly {
		return errReadOnly
	}
	for k := range t.state.plocks {
		if k.tx == txID {
			delete(t.state.plocks, k)
		}
	}
	return nil
}

func (t *memTx) Reserved(ctx context.Context, from, to types.PID, equivalent string, now time.Time, exceptTx uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for k, l := range t.state.plocks {
		if k.eq != equivalent || k.from != from || k.to != to || k.tx == exceptTx {
			continue
		}
		if l.Expired(now) {
			continue
		}
		sum = sum.Add(l.Delta)
	}
	return sum, nil
}

func (t *memTx) SegmentReservations(ctx context.Context, equivalent string, now time.Time) ([]*types.PrepareLock, error) {
	var out []*types.PrepareLock
	for k, l := range t.state.plocks {
		if k.eq != equivalent || l.Expired(now) {
			continue
		}
		cp := l
		out = append(out, &cp)
	}
	return out, nil
}

func (t *memTx) DeleteExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	if t.readonly {
		return 0, errReadOnly
	}
	n := 0
	for k, l := range t.state.plocks {
		if l.Expired(now) {
			delete(t.state.plocks, k)
			n++
		}
	}
	return n, nil
}

func (t *memTx) PutCheckpoint(ctx context.Context, cp *types.IntegrityCheckpoint) error {
	if t.readonly {
		return errReadOnly
	}
	t.state.checkpoints = append(t.state.checkpoints, *cp)
	return nil
}

func (t *memTx) Checkpoints(ctx context.Context, equivalent string, limit int) ([]*types.IntegrityCheckpoint, error) {
	var out []*types.IntegrityCheckpoint
	for i := len(t.state.checkpoints) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		cp := t.state.checkpoints[i]
		if cp.Equivalent == equivalent {
			c := cp
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *memTx) AppendAudit(ctx context.Context, rec *types.AuditRecord) error {
	if t.readonly {
		return errReadOnly
	}
	t.state.auditSeq++
	r := *rec
	r.ID = t.state.auditSeq
	t.state.audit = append(t.state.audit, r)
	return nil
}

func (t *memTx) AuditLog(ctx context.Context, from, to time.Time, limit int) ([]*types.AuditRecord, error) {
	var out []*types.AuditRecord
	for i := len(t.state.audit) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		r := t.state.audit[i]
		if !from.IsZero() && r.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && r.CreatedAt.After(to) {
			continue
		}
		cp := r
		out = append(out, &cp)
	}
	return out, nil
}

var _ ledger.Store = (*Database)(nil)
var _ ledger.Tx = (*memTx)(nil)
