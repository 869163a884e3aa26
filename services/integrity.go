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

package services

import (
	"context"
	"errors"
	"time"

	"github.com/commongrid/credithub/integrity"
	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/types"
)

// IntegrityService exposes the sweeper's results and on-demand checks.
type IntegrityService struct {
	store   ledger.Store
	sweeper *integrity.Sweeper
}

// NewIntegrityService creates the service.
func NewIntegrityService(store ledger.Store, sweeper *integrity.Sweeper) *IntegrityService {
	return &IntegrityService{store: store, sweeper: sweeper}
}

// EquivalentStatus is the integrity state of one equivalent.
type EquivalentStatus struct {
	Equivalent string                     `json:"equivalent"`
	Frozen     bool                       `json:"frozen"`
	Checkpoint *types.IntegrityCheckpoint `json:"checkpoint,omitempty"`
}

// Status reports the latest checkpoint and freeze flag per active
// equivalent.
func (s *IntegrityService) Status(ctx context.Context) ([]EquivalentStatus, error) {
	var out []EquivalentStatus
	err := s.store.View(ctx, func(tx ledger.Tx) error {
		eqs, err := tx.ActiveEquivalents(ctx)
		if err != nil {
			return err
		}
		for _, eq := range eqs {
			st := EquivalentStatus{Equivalent: eq.Code, Frozen: eq.Frozen}
			cps, err := tx.Checkpoints(ctx, eq.Code, 1)
			if err != nil && !errors.Is(err, types.ErrNotFound) {
				return err
			}
			if len(cps) > 0 {
				st.Checkpoint = cps[0]
			}
			out = append(out, st)
		}
		return nil
	})
	return out, err
}

// Verify runs a full sweep of one equivalent immediately and returns the
// resulting checkpoint.
func (s *IntegrityService) Verify(ctx context.Context, equivalent string) (*types.IntegrityCheckpoint, error) {
	if err := s.checkKnown(ctx, equivalent); err != nil {
		return nil, err
	}
	return s.sweeper.Sweep(ctx, equivalent)
}

// Checksum computes the current debt-state checksum of an equivalent
// without recording a checkpoint.
func (s *IntegrityService) Checksum(ctx context.Context, equivalent string) (string, error) {
	if err := s.checkKnown(ctx, equivalent); err != nil {
		return "", err
	}
	var sum string
	err := s.store.View(ctx, func(tx ledger.Tx) error {
		debts, err := tx.Debts(ctx, equivalent)
		if err != nil {
			return err
		}
		sum = ledger.DebtChecksum(debts)
		return nil
	})
	return sum, err
}

// AuditLog returns up to limit newest audit records within [from, to],
// optionally filtered by equivalent. Zero times leave the range open.
func (s *IntegrityService) AuditLog(ctx context.Context, equivalent string, from, to time.Time, limit int) ([]*types.AuditRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []*types.AuditRecord
	err := s.store.View(ctx, func(tx ledger.Tx) error {
		recs, err := tx.AuditLog(ctx, from, to, limit)
		if err != nil {
			return err
		}
		for _, r := range recs {
			if equivalent == "" || r.Equivalent == equivalent {
				out = append(out, r)
			}
		}
		return nil
	})
	return out, err
}

func (s *IntegrityService) checkKnown(ctx context.Context, equivalent string) error {
	return s.store.View(ctx, func(tx ledger.Tx) error {
		if _, err := tx.Equivalent(ctx, equivalent); err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return types.NewError(types.CodeValidation, "unknown equivalent", "code", equivalent)
			}
			return err
		}
		return nil
	})
}
