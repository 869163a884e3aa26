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
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/commongrid/credithub/event"
	"github.com/commongrid/credithub/identity"
	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/types"
)

// TrustLineService manages credit edges. All mutations are signed by the
// creditor (the line's from side), serialized on the line's debt-flow
// segment, and recorded as transactions.
type TrustLineService struct {
	store ledger.Store
	now   func() time.Time
	log   *zap.Logger
	feed  *event.Feed[types.Event]
}

// NewTrustLineService creates the service.
func NewTrustLineService(store ledger.Store, clock func() time.Time, log *zap.Logger, feed *event.Feed[types.Event]) *TrustLineService {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TrustLineService{store: store, now: clock, log: log, feed: feed}
}

// CreateTrustLineRequest opens a new line From -> To: From (the signer)
// permits To to owe up to Limit.
type CreateTrustLineRequest struct {
	From       types.PID
	To         types.PID
	Equivalent string
	Limit      decimal.Decimal
	Policy     types.TrustPolicy
	PublicKey  ed25519.PublicKey
	Signature  []byte
}

func policyPayload(p types.TrustPolicy) map[string]any {
	blocked := make([]any, len(p.BlockedParticipants))
	for i, b := range p.BlockedParticipants {
		blocked[i] = string(b)
	}
	m := map[string]any{
		"auto_clearing":        p.AutoClearing,
		"can_be_intermediate":  p.CanBeIntermediate,
		"blocked_participants": blocked,
	}
	if p.DailyLimit != nil {
		m["daily_limit"] = p.DailyLimit.String()
	}
	return m
}

func createLinePayload(req CreateTrustLineRequest) map[string]any {
	return map[string]any{
		"from":       string(req.From),
		"to":         string(req.To),
		"equivalent": req.Equivalent,
		"limit":      req.Limit.String(),
		"policy":     policyPayload(req.Policy),
	}
}

// Create opens the line and records a TRUST_LINE_CREATE transaction.
func (s *TrustLineService) Create(ctx context.Context, req CreateTrustLineRequest) (*types.TrustLine, error) {
	if req.From == req.To {
		return nil, types.NewError(types.CodeValidation, "cannot trust yourself")
	}
	if req.Limit.Sign() < 0 {
		return nil, types.NewError(types.CodeValidation, "limit must be non-negative")
	}
	payload := createLinePayload(req)
	if err := identity.VerifySigner(req.PublicKey, payload, identity.OpTrustLineCreate, req.Signature, req.From); err != nil {
		return nil, types.NewError(types.CodeInvalidSignature, err.Error())
	}
	canonical, err := identity.MakeSignable(payload, identity.OpTrustLineCreate)
	if err != nil {
		return nil, err
	}

	now := s.now()
	line := &types.TrustLine{
		ID:         uuid.New(),
		From:       req.From,
		To:         req.To,
		Equivalent: req.Equivalent,
		Limit:      req.Limit,
		Policy:     req.Policy,
		Status:     types.TrustLineActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.store.Update(ctx, func(tx ledger.Tx) error {
		if err := s.checkEquivalent(ctx, tx, req.Equivalent); err != nil {
			return err
		}
		for _, pid := range []types.PID{req.From, req.To} {
			p, err := tx.Participant(ctx, pid)
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
		// Serialize against payments using this segment.
		if err := tx.LockSegments(ctx, []uint64{ledger.SegmentKey(req.Equivalent, req.To, req.From)}); err != nil {
			return err
		}
		if _, err := tx.ActiveTrustLine(ctx, req.From, req.To, req.Equivalent); err == nil {
			return types.NewError(types.CodeStateConflict, "active trust line already exists")
		} else if !errors.Is(err, types.ErrNotFound) {
			return err
		}
		if err := tx.PutTrustLine(ctx, line); err != nil {
			return err
		}
		return tx.PutTransaction(ctx, &types.Transaction{
			ID:         uuid.New(),
			Type:       types.TxTrustLineCreate,
			Initiator:  req.From,
			Equivalent: req.Equivalent,
			Payload:    canonical,
			Signatures: []types.Signature{{Signer: req.From, Sig: req.Signature}},
			State:      types.TxCommitted,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(line, "created")
	return line, nil
}

// UpdateTrustLineRequest changes the limit and/or policy of a line. Only the
// creditor may update, and the new limit must cover the outstanding debt.
type UpdateTrustLineRequest struct {
	ID        uuid.UUID
	NewLimit  *decimal.Decimal
	NewPolicy *types.TrustPolicy
	PublicKey ed25519.PublicKey
	Signature []byte
}

func updateLinePayload(req UpdateTrustLineRequest) map[string]any {
	m := map[string]any{"id": req.ID.String()}
	if req.NewLimit != nil {
		m["limit"] = req.NewLimit.String()
	}
	if req.NewPolicy != nil {
		m["policy"] = policyPayload(*req.NewPolicy)
	}
	return m
}

// Update applies the change and records a TRUST_LINE_UPDATE transaction.
func (s *TrustLineService) Update(ctx context.Context, req UpdateTrustLineRequest) (*types.TrustLine, error) {
	signer, err := identity.DerivePID(req.PublicKey)
	if err != nil {
		return nil, types.NewError(types.CodeValidation, err.Error())
	}
	payload := updateLinePayload(req)
	if err := identity.VerifySigner(req.PublicKey, payload, identity.OpTrustLineUpdate, req.Signature, signer); err != nil {
		return nil, types.NewError(types.CodeInvalidSignature, err.Error())
	}
	canonical, err := identity.MakeSignable(payload, identity.OpTrustLineUpdate)
	if err != nil {
		return nil, err
	}

	var out *types.TrustLine
	err = s.store.Update(ctx, func(tx ledger.Tx) error {
		line, err := tx.TrustLineByID(ctx, req.ID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return types.NewError(types.CodeValidation, "unknown trust line")
			}
			return err
		}
		if line.From != signer {
			return types.NewError(types.CodeForbidden, "only the creditor may update a trust line")
		}
		if !line.Active() {
			return types.NewError(types.CodeTrustLineNotActive, "trust line is not active")
		}
		if err := s.checkEquivalent(ctx, tx, line.Equivalent); err != nil {
			return err
		}
		if err := tx.LockSegments(ctx, []uint64{ledger.SegmentKey(line.Equivalent, line.To, line.From)}); err != nil {
			return err
		}
		if req.NewLimit != nil {
			debt, err := tx.Debt(ctx, line.To, line.From, line.Equivalent)
			if err != nil {
				return err
			}
			if req.NewLimit.LessThan(debt) {
				return types.NewError(types.CodeValidation, "new limit is below outstanding debt",
					"debt", debt.String(), "limit", req.NewLimit.String())
			}
			line.Limit = *req.NewLimit
		}
		if req.NewPolicy != nil {
			line.Policy = *req.NewPolicy
		}
		line.UpdatedAt = s.now()
		out = line
		if err := tx.PutTrustLine(ctx, line); err != nil {
			return err
		}
		now := s.now()
		return tx.PutTransaction(ctx, &types.Transaction{
			ID:         uuid.New(),
			Type:       types.TxTrustLineUpdate,
			Initiator:  signer,
			Equivalent: line.Equivalent,
			Payload:    canonical,
			Signatures: []types.Signature{{Signer: signer, Sig: req.Signature}},
			State:      types.TxCommitted,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(out, "updated")
	return out, nil
}

// Close retires a line with zero outstanding debt and records a
// TRUST_LINE_CLOSE transaction.
func (s *TrustLineService) Close(ctx context.Context, id uuid.UUID, pub ed25519.PublicKey, sig []byte) error {
	signer, err := identity.DerivePID(pub)
	if err != nil {
		return types.NewError(types.CodeValidation, err.Error())
	}
	payload := map[string]any{"id": id.String()}
	if err := identity.VerifySigner(pub, payload, identity.OpTrustLineClose, sig, signer); err != nil {
		return types.NewError(types.CodeInvalidSignature, err.Error())
	}
	canonical, err := identity.MakeSignable(payload, identity.OpTrustLineClose)
	if err != nil {
		return err
	}

	var closed *types.TrustLine
	err = s.store.Update(ctx, func(tx ledger.Tx) error {
		line, err := tx.TrustLineByID(ctx, id)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return types.NewError(types.CodeValidation, "unknown trust line")
			}
			return err
		}
		if line.From != signer {
			return types.NewError(types.CodeForbidden, "only the creditor may close a trust line")
		}
		if !line.Active() {
			return types.NewError(types.CodeTrustLineNotActive, "trust line is not active")
		}
		if err := tx.LockSegments(ctx, []uint64{ledger.SegmentKey(line.Equivalent, line.To, line.From)}); err != nil {
			return err
		}
		debt, err := tx.Debt(ctx, line.To, line.From, line.Equivalent)
		if err != nil {
			return err
		}
		if debt.Sign() > 0 {
			return types.NewError(types.CodeStateConflict, "debt outstanding on trust line", "debt", debt.String())
		}
		line.Status = types.TrustLineClosed
		line.UpdatedAt = s.now()
		closed = line
		if err := tx.PutTrustLine(ctx, line); err != nil {
			return err
		}
		now := s.now()
		return tx.PutTransaction(ctx, &types.Transaction{
			ID:         uuid.New(),
			Type:       types.TxTrustLineClose,
			Initiator:  signer,
			Equivalent: line.Equivalent,
			Payload:    canonical,
			Signatures: []types.Signature{{Signer: signer, Sig: sig}},
			State:      types.TxCommitted,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	})
	if err != nil {
		return err
	}
	s.publish(closed, "closed")
	return nil
}

// ByID resolves a trust line.
func (s *TrustLineService) ByID(ctx context.Context, id uuid.UUID) (*types.TrustLine, error) {
	var line *types.TrustLine
	err := s.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		line, err = tx.TrustLineByID(ctx, id)
		return err
	})
	if errors.Is(err, types.ErrNotFound) {
		return nil, types.NewError(types.CodeValidation, "unknown trust line")
	}
	return line, err
}

func (s *TrustLineService) checkEquivalent(ctx context.Context, tx ledger.Tx, code string) error {
	eq, err := tx.Equivalent(ctx, code)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.NewError(types.CodeValidation, "unknown equivalent", "equivalent", code)
		}
		return err
	}
	if !eq.Active {
		return types.NewError(types.CodeValidation, "equivalent is not active", "equivalent", code)
	}
	if eq.Frozen {
		return types.NewError(types.CodeForbidden, "equivalent is frozen pending integrity review", "equivalent", code)
	}
	return nil
}

func (s *TrustLineService) publish(line *types.TrustLine, detail string) {
	if s.feed == nil || line == nil {
		return
	}
	s.feed.Send(types.Event{
		Kind:       types.EventTrustLineChanged,
		Severity:   types.SeverityInfo,
		Time:       s.now(),
		Equivalent: line.Equivalent,
		Parties:    []types.PID{line.From, line.To},
		Detail:     detail,
	})
}
