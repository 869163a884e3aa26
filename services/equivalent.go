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

	"go.uber.org/zap"

	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/types"
)

// EquivalentService administers units of account. Creation and deactivation
// are restricted to administrator (hub-type) participants.
type EquivalentService struct {
	store ledger.Store
	now   func() time.Time
	log   *zap.Logger
}

// NewEquivalentService creates the service.
func NewEquivalentService(store ledger.Store, clock func() time.Time, log *zap.Logger) *EquivalentService {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EquivalentService{store: store, now: clock, log: log}
}

// Create registers a new equivalent. Code and precision are immutable
// afterwards.
func (s *EquivalentService) Create(ctx context.Context, actor types.PID, code string, precision int, typ types.EquivalentType, isoCode string) (*types.Equivalent, error) {
	if !types.ValidEquivalentCode(code) {
		return nil, types.NewError(types.CodeValidation, "equivalent code must match ^[A-Z0-9_]{1,16}$", "code", code)
	}
	if precision < 0 || precision > 8 {
		return nil, types.NewError(types.CodeValidation, "precision must be 0..8")
	}
	now := s.now()
	eq := &types.Equivalent{
		Code:      code,
		Precision: precision,
		Type:      typ,
		ISOCode:   isoCode,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.store.Update(ctx, func(tx ledger.Tx) error {
		if err := s.requireAdmin(ctx, tx, actor); err != nil {
			return err
		}
		if _, err := tx.Equivalent(ctx, code); err == nil {
			return types.NewError(types.CodeStateConflict, "equivalent already exists", "code", code)
		} else if !errors.Is(err, types.ErrNotFound) {
			return err
		}
		return tx.PutEquivalent(ctx, eq)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("equivalent created", zap.String("code", code), zap.Int("precision", precision))
	return eq, nil
}

// List returns all active equivalents.
func (s *EquivalentService) List(ctx context.Context) ([]*types.Equivalent, error) {
	var out []*types.Equivalent
	err := s.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		out, err = tx.ActiveEquivalents(ctx)
		return err
	})
	return out, err
}

// SetActive flips the active flag; metadata updates ride along the same
// path.
func (s *EquivalentService) SetActive(ctx context.Context, actor types.PID, code string, active bool) error {
	return s.store.Update(ctx, func(tx ledger.Tx) error {
		if err := s.requireAdmin(ctx, tx, actor); err != nil {
			return err
		}
		eq, err := tx.Equivalent(ctx, code)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return types.NewError(types.CodeValidation, "unknown equivalent", "code", code)
			}
			return err
		}
		eq.Active = active
		eq.UpdatedAt = s.now()
		return tx.PutEquivalent(ctx, eq)
	})
}

// Unfreeze clears the integrity freeze after operator review.
func (s *EquivalentService) Unfreeze(ctx context.Context, actor types.PID, code string) error {
	return s.store.Update(ctx, func(tx ledger.Tx) error {
		if err := s.requireAdmin(ctx, tx, actor); err != nil {
			return err
		}
		eq, err := tx.Equivalent(ctx, code)
		if err != nil {
			return err
		}
		eq.Frozen = false
		eq.UpdatedAt = s.now()
		return tx.PutEquivalent(ctx, eq)
	})
}

func (s *EquivalentService) requireAdmin(ctx context.Context, tx ledger.Tx, actor types.PID) error {
	p, err := tx.Participant(ctx, actor)
	if err != nil {
		return types.NewError(types.CodeForbidden, "unknown actor")
	}
	if p.Type != types.ParticipantHub || !p.Active() {
		return types.NewError(types.CodeForbidden, "administrator privileges required")
	}
	return nil
}
