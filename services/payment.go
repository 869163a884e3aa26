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

	"github.com/commongrid/credithub/identity"
	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/payment"
	"github.com/commongrid/credithub/router"
	"github.com/commongrid/credithub/types"
)

// PaymentService validates and executes signed payment orders.
type PaymentService struct {
	store  ledger.Store
	engine *payment.Engine
}

// NewPaymentService creates the service.
func NewPaymentService(store ledger.Store, engine *payment.Engine) *PaymentService {
	return &PaymentService{store: store, engine: engine}
}

// Constraints are the caller-tunable routing bounds.
type Constraints struct {
	MaxHops   int
	MaxPaths  int
	TimeoutMS int
	Avoid     []types.PID
}

// CreatePaymentRequest is a signed payment order from the authenticated
// payer.
type CreatePaymentRequest struct {
	Payer       types.PID
	Payee       types.PID
	Equivalent  string
	Amount      decimal.Decimal
	Description string
	Constraints Constraints
	PublicKey   ed25519.PublicKey
	Signature   []byte
}

func paymentPayload(req CreatePaymentRequest) map[string]any {
	return map[string]any{
		"to":          string(req.Payee),
		"equivalent":  req.Equivalent,
		"amount":      req.Amount.String(),
		"description": req.Description,
	}
}

// Create verifies the order signature and runs the payment engine. The
// returned transaction is terminal; on failure it carries the abort reason.
func (s *PaymentService) Create(ctx context.Context, req CreatePaymentRequest) (*types.Transaction, error) {
	payload := paymentPayload(req)
	if err := identity.VerifySigner(req.PublicKey, payload, identity.OpPaymentCreate, req.Signature, req.Payer); err != nil {
		return nil, types.NewError(types.CodeInvalidSignature, err.Error())
	}
	canonical, err := identity.MakeSignable(payload, identity.OpPaymentCreate)
	if err != nil {
		return nil, err
	}
	return s.engine.Execute(ctx, payment.Request{
		Payer:       req.Payer,
		Payee:       req.Payee,
		Equivalent:  req.Equivalent,
		Amount:      req.Amount,
		Description: req.Description,
		Payload:     canonical,
		Signature:   types.Signature{Signer: req.Payer, Sig: req.Signature},
		Routing: router.Request{
			MaxHops:  req.Constraints.MaxHops,
			MaxPaths: req.Constraints.MaxPaths,
			Timeout:  time.Duration(req.Constraints.TimeoutMS) * time.Millisecond,
			Avoid:    req.Constraints.Avoid,
		},
	})
}

// Get retrieves a transaction by id.
func (s *PaymentService) Get(ctx context.Context, id uuid.UUID) (*types.Transaction, error) {
	var tx *types.Transaction
	err := s.store.View(ctx, func(st ledger.Tx) error {
		var err error
		tx, err = st.Transaction(ctx, id)
		return err
	})
	if errors.Is(err, types.ErrNotFound) {
		return nil, types.NewError(types.CodeValidation, "unknown transaction", "tx_id", id.String())
	}
	return tx, err
}
