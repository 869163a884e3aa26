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

// Package ledger defines the transactional store interface the engines run
// against. Two backends implement it: memdb (in-memory, tests and dev mode)
// and pgdb (PostgreSQL, production). The interface split mirrors the storage
// abstraction the rest of the codebase is built on: engines never see a
// concrete backend.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/commongrid/credithub/types"
)

// Store provides transactional access to the hub state.
//
// Update runs fn inside a read-write transaction with serializable segment
// semantics: writes touching a (equivalent, from, to) triple must first take
// the segment's advisory lock via Tx.LockSegments. View runs fn read-only
// against a consistent snapshot.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is a single store transaction. All reads observe writes made earlier in
// the same transaction.
type Tx interface {
	// LockSegments acquires pessimistic advisory locks for the given
	// segment keys, blocking until all are held. Callers must pass keys in
	// canonical order (see SortFlows) to stay deadlock free. The locks are
	// released when the transaction ends.
	LockSegments(ctx context.Context, keys []uint64) error

	// Participants.
	Participant(ctx context.Context, pid types.PID) (*types.Participant, error)
	PutParticipant(ctx context.Context, p *types.Participant) error

	// Equivalents.
	Equivalent(ctx context.Context, code string) (*types.Equivalent, error)
	PutEquivalent(ctx context.Context, e *types.Equivalent) error
	ActiveEquivalents(ctx context.Context) ([]*types.Equivalent, error)

	// Trust lines. ActiveTrustLine resolves the unique active line
	// from -> to; TrustLines lists all active lines of an equivalent.
	ActiveTrustLine(ctx context.Context, from, to types.PID, equivalent string) (*types.TrustLine, error)
	TrustLineByID(ctx context.Context, id uuid.UUID) (*types.TrustLine, error)
	PutTrustLine(ctx context.Context, t *types.TrustLine) error
	TrustLines(ctx context.Context, equivalent string) ([]*types.TrustLine, error)

	// Debts. Debt returns zero (not ErrNotFound) when no row exists.
	Debt(ctx context.Context, debtor, creditor types.PID, equivalent string) (decimal.Decimal, error)
	Debts(ctx context.Context, equivalent string) ([]*types.Debt, error)
	DebtsOf(ctx context.Context, pid types.PID, equivalent string) (owed, owing []*types.Debt, err error)

	// ApplyFlow records that from now owes to an additional delta,
	// performing the mutual-debt offset: an opposite row to -> from is
	// reduced first and only the remainder lands on from -> to. Rows that
	// reach zero are deleted. Callers must hold the segment lock.
	ApplyFlow(ctx context.Context, from, to types.PID, equivalent string, delta decimal.Decimal) error

	// ReduceDebt decrements an existing debtor -> creditor row by amount,
	// deleting it at zero. It fails with ErrStateConflict if the row is
	// smaller than amount. Callers must hold the segment lock.
	ReduceDebt(ctx context.Context, debtor, creditor types.PID, equivalent string, amount decimal.Decimal) error

	// Transactions.
	Transaction(ctx context.Context, id uuid.UUID) (*types.Transaction, error)
	PutTransaction(ctx context.Context, t *types.Transaction) error
	// SetTransactionState transitions id from one of the allowed states,
	// returning ErrStateConflict otherwise. Reason is recorded on aborts.
	SetTransactionState(ctx context.Context, id uuid.UUID, to types.TxState, reason string, allowedFrom ...types.TxState) error
	// StaleTransactions lists non-terminal transactions last updated
	// before cutoff in any of the given states.
	StaleTransactions(ctx context.Context, cutoff time.Time, states ...types.TxState) ([]*types.Transaction, error)

	// Prepare locks (capacity reservations).
	PutPrepareLock(ctx context.Context, l *types.PrepareLock) error
	PrepareLocks(ctx context.Context, txID uuid.UUID) ([]*types.PrepareLock, error)
	DeletePrepareLocks(ctx context.Context, txID uuid.UUID) error
	// Reserved sums non-expired reservation deltas on a segment,
	// excluding those belonging to exceptTx (uuid.Nil to exclude none).
	Reserved(ctx context.Context, from, to types.PID, equivalent string, now time.Time, exceptTx uuid.UUID) (decimal.Decimal, error)
	// SegmentReservations lists all non-expired reservations of an
	// equivalent, for capacity snapshots.
	SegmentReservations(ctx context.Context, equivalent string, now time.Time) ([]*types.PrepareLock, error)
	// DeleteExpiredLocks removes reservations with expires_at <= now.
	DeleteExpiredLocks(ctx context.Context, now time.Time) (int, error)

	// Integrity.
	PutCheckpoint(ctx context.Context, cp *types.IntegrityCheckpoint) error
	Checkpoints(ctx context.Context, equivalent string, limit int) ([]*types.IntegrityCheckpoint, error)
	AppendAudit(ctx context.Context, rec *types.AuditRecord) error
	AuditLog(ctx context.Context, from, to time.Time, limit int) ([]*types.AuditRecord, error)
}
