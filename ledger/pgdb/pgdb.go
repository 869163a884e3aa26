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

// Package pgdb is the PostgreSQL ledger backend. Segment serialization uses
// transaction-scoped advisory locks (pg_advisory_xact_lock), so reservations
// and debt writes on the same (equivalent, from, to) triple never interleave
// across hub processes sharing a database.
package pgdb

import (
	"context"
	"crypto/ed25519"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/types"
)

//go:embed schema.sql
var schema string

// Database is a pgx-backed ledger store.
type Database struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Open connects, verifies the connection and applies the schema.
func Open(ctx context.Context, dsn string, clock func() time.Time) (*Database, error) {
	if clock == nil {
		clock = time.Now
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Database{pool: pool, now: clock}, nil
}

// Update runs fn in a read-write transaction. Advisory segment locks taken
// inside are released on commit or rollback.
func (db *Database) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return db.run(ctx, pgx.TxOptions{}, false, fn)
}

// View runs fn in a read-only transaction.
func (db *Database) View(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return db.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, true, fn)
}

func (db *Database) run(ctx context.Context, opts pgx.TxOptions, readonly bool, fn func(tx ledger.Tx) error) error {
	tx, err := db.pool.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	pt := &pgTx{tx: tx, now: db.now, readonly: readonly}
	if err := fn(pt); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

// Close releases the pool.
func (db *Database) Close() error {
	db.pool.Close()
	return nil
}

var errReadOnly = errors.New("pgdb: write inside View")

type pgTx struct {
	tx       pgx.Tx
	now      func() time.Time
	readonly bool
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return types.ErrNotFound
	}
	return err
}

func (t *pgTx) LockSegments(ctx context.Context, keys []uint64) error {
	for _, k := range keys {
		// pg advisory locks take a signed 64-bit key; the cast preserves
		// the bit pattern.
		if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(k)); err != nil {
			return err
		}
	}
	return nil
}

// --- participants ---

func (t *pgTx) Participant(ctx context.Context, pid types.PID) (*types.Participant, error) {
	p := &types.Participant{}
	var key []byte
	var profile []byte
	err := t.tx.QueryRow(ctx, `
		SELECT pid, public_key, display_name, profile, type, status, verification_level, created_at, updated_at
		FROM participants WHERE pid = $1`, string(pid)).
		Scan(&p.PID, &key, &p.DisplayName, &profile, &p.Type, &p.Status, &p.VerificationLevel, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	p.PublicKey = ed25519.PublicKey(key)
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &p.Profile); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (t *pgTx) PutParticipant(ctx context.Context, p *types.Participant) error {
	if t.readonly {
		return errReadOnly
	}
	profile, err := json.Marshal(p.Profile)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO participants (pid, public_key, display_name, profile, type, status, verification_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (pid) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			profile = EXCLUDED.profile,
			status = EXCLUDED.status,
			verification_level = EXCLUDED.verification_level,
			updated_at = EXCLUDED.updated_at`,
		string(p.PID), []byte(p.PublicKey), p.DisplayName, profile,
		string(p.Type), string(p.Status), p.VerificationLevel, p.CreatedAt, p.UpdatedAt)
	return err
}

// --- equivalents ---

func (t *pgTx) Equivalent(ctx context.Context, code string) (*types.Equivalent, error) {
	e := &types.Equivalent{}
	err := t.tx.QueryRow(ctx, `
		SELECT code, precision, type, iso_code, active, frozen, created_at, updated_at
		FROM equivalents WHERE code = $1`, code).
		Scan(&e.Code, &e.Precision, &e.Type, &e.ISOCode, &e.Active, &e.Frozen, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (t *pgTx) PutEquivalent(ctx context.Context, e *types.Equivalent) error {
	if t.readonly {
		return errReadOnly
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO equivalents (code, precision, type, iso_code, active, frozen, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (code) DO UPDATE SET
			iso_code = EXCLUDED.iso_code,
			active = EXCLUDED.active,
			frozen = EXCLUDED.frozen,
			updated_at = EXCLUDED.updated_at`,
		e.Code, e.Precision, string(e.Type), e.ISOCode, e.Active, e.Frozen, e.CreatedAt, e.UpdatedAt)
	return err
}

func (t *pgTx) ActiveEquivalents(ctx context.Context) ([]*types.Equivalent, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT code, precision, type, iso_code, active, frozen, created_at, updated_at
		FROM equivalents WHERE active ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Equivalent
	for rows.Next() {
		e := &types.Equivalent{}
		if err := rows.Scan(&e.Code, &e.Precision, &e.Type, &e.ISOCode, &e.Active, &e.Frozen, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- trust lines ---

const trustLineCols = `id::text, from_pid, to_pid, equivalent, lim::text, policy, status, created_at, updated_at`

func scanTrustLine(row pgx.Row) (*types.TrustLine, error) {
	l := &types.TrustLine{}
	var id, lim string
	var policy []byte
	if err := row.Scan(&id, &l.From, &l.To, &l.Equivalent, &lim, &policy, &l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	var err error
	if l.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if l.Limit, err = decimal.NewFromString(lim); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(policy, &l.Policy); err != nil {
		return nil, err
	}
	return l, nil
}

func (t *pgTx) ActiveTrustLine(ctx context.Context, from, to types.PID, equivalent string) (*types.TrustLine, error) {
	return scanTrustLine(t.tx.QueryRow(ctx, `
		SELECT `+trustLineCols+` FROM trust_lines
		WHERE from_pid = $1 AND to_pid = $2 AND equivalent = $3 AND status = 'active'`,
		string(from), string(to), equivalent))
}

func (t *pgTx) TrustLineByID(ctx context.Context, id uuid.UUID) (*types.TrustLine, error) {
	return scanTrustLine(t.tx.QueryRow(ctx, `
		SELECT `+trustLineCols+` FROM trust_lines WHERE id = $1`, id.String()))
}

func (t *pgTx) PutTrustLine(ctx context.Context, l *types.TrustLine) error {
	if t.readonly {
		return errReadOnly
	}
	policy, err := json.Marshal(l.Policy)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO trust_lines (id, from_pid, to_pid, equivalent, lim, policy, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			lim = EXCLUDED.lim,
			policy = EXCLUDED.policy,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		l.ID.String(), string(l.From), string(l.To), l.Equivalent,
		l.Limit.String(), policy, string(l.Status), l.CreatedAt, l.UpdatedAt)
	return err
}

func (t *pgTx) TrustLines(ctx context.Context, equivalent string) ([]*types.TrustLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+trustLineCols+` FROM trust_lines
		WHERE equivalent = $1 AND status = 'active'
		ORDER BY from_pid, to_pid`, equivalent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.TrustLine
	for rows.Next() {
		l, err := scanTrustLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- debts ---

func (t *pgTx) Debt(ctx context.Context, debtor, creditor types.PID, equivalent string) (decimal.Decimal, error) {
	var amount string
	err := t.tx.QueryRow(ctx, `
		SELECT amount::text FROM debts
		WHERE debtor = $1 AND creditor = $2 AND equivalent = $3`,
		string(debtor), string(creditor), equivalent).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(amount)
}

func scanDebts(rows pgx.Rows) ([]*types.Debt, error) {
	defer rows.Close()
	var out []*types.Debt
	for rows.Next() {
		d := &types.Debt{}
		var amount string
		if err := rows.Scan(&d.Debtor, &d.Creditor, &d.Equivalent, &amount, &d.UpdatedAt); err != nil {
			return nil, err
		}
		var err error
		if d.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (t *pgTx) Debts(ctx context.Context, equivalent string) ([]*types.Debt, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT debtor, creditor, equivalent, amount::text, updated_at
		FROM debts WHERE equivalent = $1 ORDER BY debtor, creditor`, equivalent)
	if err != nil {
		return nil, err
	}
	return scanDebts(rows)
}

func (t *pgTx) DebtsOf(ctx context.Context, pid types.PID, equivalent string) (owed, owing []*types.Debt, err error) {
	rows, err := t.tx.Query(ctx, `
		SELECT debtor, creditor, equivalent, amount::text, updated_at
		FROM debts WHERE creditor = $1 AND equivalent = $2 ORDER BY debtor`, string(pid), equivalent)
	if err != nil {
		return nil, nil, err
	}
	if owed, err = scanDebts(rows); err != nil {
		return nil, nil, err
	}
	rows, err = t.tx.Query(ctx, `
		SELECT debtor, creditor, equivalent, amount::text, updated_at
		FROM debts WHERE debtor = $1 AND equivalent = $2 ORDER BY creditor`, string(pid), equivalent)
	if err != nil {
		return nil, nil, err
	}
	if owing, err = scanDebts(rows); err != nil {
		return nil, nil, err
	}
	return owed, owing, nil
}

func (t *pgTx) ApplyFlow(ctx context.Context, from, to types.PID, equivalent string, delta decimal.Decimal) error {
	if t.readonly {
		return errReadOnly
	}
	if delta.Sign() <= 0 {
		return fmt.Errorf("pgdb: non-positive flow delta %s", delta)
	}
	now := t.now()

	// Offset against the opposite-direction row first.
	opposite, err := t.lockedDebt(ctx, to, from, equivalent)
	if err != nil {
		return err
	}
	remaining := delta
	if opposite.Sign() > 0 {
		offset := decimal.Min(opposite, remaining)
		if err := t.decrementDebt(ctx, to, from, equivalent, offset, now); err != nil {
			return err
		}
		remaining = remaining.Sub(offset)
	}
	if remaining.Sign() == 0 {
		return nil
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO debts (debtor, creditor, equivalent, amount, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (debtor, creditor, equivalent)
		DO UPDATE SET amount = debts.amount + EXCLUDED.amount, updated_at = EXCLUDED.updated_at`,
		string(from), string(to), equivalent, remaining.String(), now)
	return err
}

func (t *pgTx) ReduceDebt(ctx context.Context, debtor, creditor types.PID, equivalent string, amount decimal.Decimal) error {
	if t.readonly {
		return errReadOnly
	}
	current, err := t.lockedDebt(ctx, debtor, creditor, equivalent)
	if err != nil {
		return err
	}
	if current.LessThan(amount) {
		return fmt.Errorf("%w: debt %s smaller than reduction %s", types.ErrStateConflict, current, amount)
	}
	return t.decrementDebt(ctx, debtor, creditor, equivalent, amount, t.now())
}

func (t *pgTx) lockedDebt(ctx context.Context, debtor, creditor types.PID, equivalent string) (decimal.Decimal, error) {
	var amount string
	err := t.tx.QueryRow(ctx, `
		SELECT amount::text FROM debts
		WHERE debtor = $1 AND creditor = $2 AND equivalent = $3 FOR UPDATE`,
		string(debtor), string(creditor), equivalent).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(amount)
}

func (t *pgTx) decrementDebt(ctx context.Context, debtor, creditor types.PID, equivalent string, amount decimal.Decimal, now time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE debts SET amount = amount - $4, updated_at = $5
		WHERE debtor = $1 AND creditor = $2 AND equivalent = $3 AND amount > $4`,
		string(debtor), string(creditor), equivalent, amount.String(), now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// Remainder is zero: drop the row.
	tag, err = t.tx.Exec(ctx, `
		DELETE FROM debts
		WHERE debtor = $1 AND creditor = $2 AND equivalent = $3 AND amount = $4`,
		string(debtor), string(creditor), equivalent, amount.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: debt row changed underneath reduction", types.ErrStateConflict)
	}
	return nil
}

// --- transactions ---

const txCols = `id::text, type, initiator, equivalent, payload, signatures, routes, state, reason, created_at, updated_at`

func scanTransaction(row pgx.Row) (*types.Transaction, error) {
	tx := &types.Transaction{}
	var id string
	var sigs, routes []byte
	if err := row.Scan(&id, &tx.Type, &tx.Initiator, &tx.Equivalent, &tx.Payload,
		&sigs, &routes, &tx.State, &tx.Reason, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	var err error
	if tx.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if len(sigs) > 0 {
		if err := json.Unmarshal(sigs, &tx.Signatures); err != nil {
			return nil, err
		}
	}
	if len(routes) > 0 {
		if err := json.Unmarshal(routes, &tx.Routes); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

func (t *pgTx) Transaction(ctx context.Context, id uuid.UUID) (*types.Transaction, error) {
	return scanTransaction(t.tx.QueryRow(ctx, `
		SELECT `+txCols+` FROM transactions WHERE id = $1`, id.String()))
}

func (t *pgTx) PutTransaction(ctx context.Context, x *types.Transaction) error {
	if t.readonly {
		return errReadOnly
	}
	sigs, err := json.Marshal(x.Signatures)
	if err != nil {
		return err
	}
	routes, err := json.Marshal(x.Routes)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO transactions (id, type, initiator, equivalent, payload, signatures, routes, state, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			routes = EXCLUDED.routes,
			state = EXCLUDED.state,
			reason = EXCLUDED.reason,
			updated_at = EXCLUDED.updated_at`,
		x.ID.String(), string(x.Type), string(x.Initiator), x.Equivalent,
		x.Payload, sigs, routes, string(x.State), x.Reason, x.CreatedAt, x.UpdatedAt)
	return err
}

func (t *pgTx) SetTransactionState(ctx context.Context, id uuid.UUID, to types.TxState, reason string, allowedFrom ...types.TxState) error {
	if t.readonly {
		return errReadOnly
	}
	from := make([]string, len(allowedFrom))
	for i, s := range allowedFrom {
		from[i] = string(s)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE transactions SET state = $2, reason = $3, updated_at = $4
		WHERE id = $1 AND state = ANY($5)`,
		id.String(), string(to), reason, t.now(), from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		cur, err := t.Transaction(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: transaction %s is %s", types.ErrStateConflict, id, cur.State)
	}
	return nil
}

func (t *pgTx) StaleTransactions(ctx context.Context, cutoff time.Time, states ...types.TxState) ([]*types.Transaction, error) {
	in := make([]string, len(states))
	for i, s := range states {
		in[i] = string(s)
	}
	rows, err := t.tx.Query(ctx, `
		SELECT `+txCols+` FROM transactions
		WHERE state = ANY($1) AND updated_at < $2
		ORDER BY updated_at`, in, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// --- prepare locks ---

func (t *pgTx) PutPrepareLock(ctx context.Context, l *types.PrepareLock) error {
	if t.readonly {
		return errReadOnly
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO prepare_locks (tx_id, equivalent, from_pid, to_pid, delta, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tx_id, equivalent, from_pid, to_pid)
		DO UPDATE SET delta = EXCLUDED.delta, expires_at = EXCLUDED.expires_at`,
		l.TxID.String(), l.Equivalent, string(l.From), string(l.To), l.Delta.String(), l.ExpiresAt)
	return err
}

func scanLocks(rows pgx.Rows) ([]*types.PrepareLock, error) {
	defer rows.Close()
	var out []*types.PrepareLock
	for rows.Next() {
		l := &types.PrepareLock{}
		var id, delta string
		if err := rows.Scan(&id, &l.Equivalent, &l.From, &l.To, &delta, &l.ExpiresAt); err != nil {
			return nil, err
		}
		var err error
		if l.TxID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if l.Delta, err = decimal.NewFromString(delta); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) PrepareLocks(ctx context.Context, txID uuid.UUID) ([]*types.PrepareLock, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT tx_id::text, equivalent, from_pid, to_pid, delta::text, expires_at
		FROM prepare_locks WHERE tx_id = $1`, txID.String())
	if err != nil {
		return nil, err
	}
	return scanLocks(rows)
}

func (t *pgTx) DeletePrepareLocks(ctx context.Context, txID uuid.UUID) error {
	if t.readonly {
		return errReadOnly
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM prepare_locks WHERE tx_id = $1`, txID.String())
	return err
}

func (t *pgTx) Reserved(ctx context.Context, from, to types.PID, equivalent string, now time.Time, exceptTx uuid.UUID) (decimal.Decimal, error) {
	var sum string
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(delta), 0)::text FROM prepare_locks
		WHERE equivalent = $1 AND from_pid = $2 AND to_pid = $3
		  AND expires_at > $4 AND tx_id <> $5`,
		equivalent, string(from), string(to), now, exceptTx.String()).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(sum)
}

func (t *pgTx) SegmentReservations(ctx context.Context, equivalent string, now time.Time) ([]*types.PrepareLock, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT tx_id::text, equivalent, from_pid, to_pid, delta::text, expires_at
		FROM prepare_locks WHERE equivalent = $1 AND expires_at > $2`, equivalent, now)
	if err != nil {
		return nil, err
	}
	return scanLocks(rows)
}

func (t *pgTx) DeleteExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	if t.readonly {
		return 0, errReadOnly
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM prepare_locks WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- integrity ---

func (t *pgTx) PutCheckpoint(ctx context.Context, cp *types.IntegrityCheckpoint) error {
	if t.readonly {
		return errReadOnly
	}
	violations, err := json.Marshal(cp.Violations)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO integrity_checkpoints (equivalent, checksum, passed, violations, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		cp.Equivalent, cp.Checksum, cp.Passed, violations, cp.CreatedAt)
	return err
}

func (t *pgTx) Checkpoints(ctx context.Context, equivalent string, limit int) ([]*types.IntegrityCheckpoint, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := t.tx.Query(ctx, `
		SELECT equivalent, checksum, passed, violations, created_at
		FROM integrity_checkpoints WHERE equivalent = $1
		ORDER BY created_at DESC LIMIT $2`, equivalent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.IntegrityCheckpoint
	for rows.Next() {
		cp := &types.IntegrityCheckpoint{}
		var violations []byte
		if err := rows.Scan(&cp.Equivalent, &cp.Checksum, &cp.Passed, &violations, &cp.CreatedAt); err != nil {
			return nil, err
		}
		if len(violations) > 0 {
			if err := json.Unmarshal(violations, &cp.Violations); err != nil {
				return nil, err
			}
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (t *pgTx) AppendAudit(ctx context.Context, rec *types.AuditRecord) error {
	if t.readonly {
		return errReadOnly
	}
	participants, err := json.Marshal(rec.Participants)
	if err != nil {
		return err
	}
	violations, err := json.Marshal(rec.Violations)
	if err != nil {
		return err
	}
	var txID any
	if rec.TxID != nil {
		txID = rec.TxID.String()
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO integrity_audit_log (operation, tx_id, equivalent, checksum_before, checksum_after, participants, violations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.Operation, txID, rec.Equivalent, rec.ChecksumBefore, rec.ChecksumAfter,
		participants, violations, rec.CreatedAt)
	return err
}

func (t *pgTx) AuditLog(ctx context.Context, from, to time.Time, limit int) ([]*types.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if from.IsZero() {
		from = time.Unix(0, 0)
	}
	if to.IsZero() {
		to = t.now().Add(24 * time.Hour)
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, operation, tx_id::text, equivalent, checksum_before, checksum_after, participants, violations, created_at
		FROM integrity_audit_log
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY id DESC LIMIT $3`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.AuditRecord
	for rows.Next() {
		rec := &types.AuditRecord{}
		var txID *string
		var participants, violations []byte
		if err := rows.Scan(&rec.ID, &rec.Operation, &txID, &rec.Equivalent,
			&rec.ChecksumBefore, &rec.ChecksumAfter, &participants, &violations, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if txID != nil {
			id, err := uuid.Parse(*txID)
			if err != nil {
				return nil, err
			}
			rec.TxID = &id
		}
		if len(participants) > 0 {
			if err := json.Unmarshal(participants, &rec.Participants); err != nil {
				return nil, err
			}
		}
		if len(violations) > 0 {
			if err := json.Unmarshal(violations, &rec.Violations); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var (
	_ ledger.Store = (*Database)(nil)
	_ ledger.Tx    = (*pgTx)(nil)
)
