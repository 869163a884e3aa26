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

// Package services is the operation layer between the API boundary and the
// engines. Every mutating operation verifies an Ed25519 signature over the
// operation-tagged canonical payload before touching the ledger, and returns
// typed errors the boundary maps onto the wire envelope.
package services

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/commongrid/credithub/identity"
	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/types"
)

// ParticipantService manages registration and participant lifecycle.
type ParticipantService struct {
	store ledger.Store
	now   func() time.Time
	log   *zap.Logger
}

// NewParticipantService creates the service.
func NewParticipantService(store ledger.Store, clock func() time.Time, log *zap.Logger) *ParticipantService {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ParticipantService{store: store, now: clock, log: log}
}

// RegisterRequest is a signed self-registration. The signature proves
// possession of the key the PID is derived from.
type RegisterRequest struct {
	PublicKey   ed25519.PublicKey
	DisplayName string
	Type        types.ParticipantType
	Profile     map[string]any
	Signature   []byte
}

// registerPayload builds the canonical signable payload of a registration.
// Clients must sign exactly these fields under the participant.create tag.
func registerPayload(req RegisterRequest) map[string]any {
	return map[string]any{
		"public_key":   base64.StdEncoding.EncodeToString(req.PublicKey),
		"display_name": req.DisplayName,
		"type":         string(req.Type),
	}
}

// Register creates a participant from a signed self-registration.
func (s *ParticipantService) Register(ctx context.Context, req RegisterRequest) (*types.Participant, error) {
	if req.DisplayName == "" {
		return nil, types.NewError(types.CodeValidation, "display name is required")
	}
	if !types.ValidParticipantType(req.Type) {
		return nil, types.NewError(types.CodeValidation, "unknown participant type", "type", string(req.Type))
	}
	pid, err := identity.DerivePID(req.PublicKey)
	if err != nil {
		return nil, types.NewError(types.CodeValidation, err.Error())
	}
	if err := identity.VerifySigner(req.PublicKey, registerPayload(req), identity.OpParticipantCreate, req.Signature, pid); err != nil {
		return nil, types.NewError(types.CodeInvalidSignature, err.Error())
	}

	now := s.now()
	p := &types.Participant{
		PID:         pid,
		PublicKey:   append(ed25519.PublicKey(nil), req.PublicKey...),
		DisplayName: req.DisplayName,
		Profile:     req.Profile,
		Type:        req.Type,
		Status:      types.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.store.Update(ctx, func(tx ledger.Tx) error {
		if _, err := tx.Participant(ctx, pid); err == nil {
			return types.NewError(types.CodeStateConflict, "participant already registered", "pid", string(pid))
		} else if !errors.Is(err, types.ErrNotFound) {
			return err
		}
		return tx.PutParticipant(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("participant registered", zap.String("pid", string(pid)), zap.String("type", string(req.Type)))
	return p, nil
}

// Get resolves a participant by PID.
func (s *ParticipantService) Get(ctx context.Context, pid types.PID) (*types.Participant, error) {
	var p *types.Participant
	err := s.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		p, err = tx.Participant(ctx, pid)
		return err
	})
	if errors.Is(err, types.ErrNotFound) {
		return nil, types.NewError(types.CodeValidation, "unknown participant", "pid", string(pid))
	}
	return p, err
}

// UpdateProfile replaces the display name and profile blob. Only the owner
// or an administrator may call it; the API layer authenticates the actor.
func (s *ParticipantService) UpdateProfile(ctx context.Context, actor, pid types.PID, displayName string, profile map[string]any) (*types.Participant, error) {
	var out *types.Participant
	err := s.store.Update(ctx, func(tx ledger.Tx) error {
		if err := s.authorize(ctx, tx, actor, pid); err != nil {
			return err
		}
		p, err := tx.Participant(ctx, pid)
		if err != nil {
			return err
		}
		if displayName != "" {
			p.DisplayName = displayName
		}
		if profile != nil {
			p.Profile = profile
		}
		p.UpdatedAt = s.now()
		out = p
		return tx.PutParticipant(ctx, p)
	})
	return out, err
}

// SetStatus transitions the participant lifecycle status.
func (s *ParticipantService) SetStatus(ctx context.Context, actor, pid types.PID, status types.ParticipantStatus) error {
	switch status {
	case types.StatusActive, types.StatusSuspended, types.StatusLeft, types.StatusDeleted:
	default:
		return types.NewError(types.CodeValidation, "unknown status", "status", string(status))
	}
	return s.store.Update(ctx, func(tx ledger.Tx) error {
		if err := s.authorize(ctx, tx, actor, pid); err != nil {
			return err
		}
		p, err := tx.Participant(ctx, pid)
		if err != nil {
			return err
		}
		p.Status = status
		p.UpdatedAt = s.now()
		return tx.PutParticipant(ctx, p)
	})
}

// authorize permits the owner and hub-type (administrator) participants.
func (s *ParticipantService) authorize(ctx context.Context, tx ledger.Tx, actor, owner types.PID) error {
	if actor == owner {
		return nil
	}
	a, err := tx.Participant(ctx, actor)
	if err != nil {
		return types.NewError(types.CodeForbidden, "unknown actor")
	}
	if a.Type != types.ParticipantHub {
		return types.NewError(types.CodeForbidden, "only the owner or an administrator may modify a participant")
	}
	return nil
}
