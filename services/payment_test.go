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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commongrid/credithub/identity"
	"github.com/commongrid/credithub/ledger/memdb"
	"github.com/commongrid/credithub/payment"
	"github.com/commongrid/credithub/router"
	"github.com/commongrid/credithub/types"
)

func newPaymentService(t *testing.T, db *memdb.Database) *PaymentService {
	t.Helper()
	engine := payment.New(db, router.New(db, nil, 0), nil, nil, nil, payment.DefaultConfig())
	return NewPaymentService(db, engine)
}

func TestPaymentCreate(t *testing.T) {
	alice, bob := newActor(t), newActor(t)
	db := newStore(t, alice, bob)
	lines := NewTrustLineService(db, nil, nil, nil)
	createLine(t, lines, bob, alice, "100") // Bob trusts Alice up to 100
	svc := newPaymentService(t, db)

	req := CreatePaymentRequest{
		Payer:       alice.pid,
		Payee:       bob.pid,
		Equivalent:  "UAH",
		Amount:      dec("40"),
		Description: "lunch",
		PublicKey:   alice.pub,
	}
	req.Signature = alice.sign(t, paymentPayload(req), identity.OpPaymentCreate)

	tx, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.TxCommitted, tx.State)
	assert.Equal(t, alice.pid, tx.Initiator)
	require.Len(t, tx.Signatures, 1)
	assert.Equal(t, alice.pid, tx.Signatures[0].Signer)

	got, err := svc.Get(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TxCommitted, got.State)
}

func TestPaymentCreateBindsSigner(t *testing.T) {
	alice, bob, mallory := newActor(t), newActor(t), newActor(t)
	db := newStore(t, alice, bob, mallory)
	lines := NewTrustLineService(db, nil, nil, nil)
	createLine(t, lines, bob, alice, "100")
	svc := newPaymentService(t, db)

	// Mallory signs an order claiming Alice as payer.
	req := CreatePaymentRequest{
		Payer: alice.pid, Payee: bob.pid, Equivalent: "UAH", Amount: dec("40"),
		PublicKey: mallory.pub,
	}
	req.Signature = mallory.sign(t, paymentPayload(req), identity.OpPaymentCreate)
	_, err := svc.Create(context.Background(), req)
	assert.Equal(t, types.CodeInvalidSignature, types.AsError(err).Code)
}

func TestPaymentCreateRejectsTamperedAmount(t *testing.T) {
	alice, bob := newActor(t), newActor(t)
	db := newStore(t, alice, bob)
	lines := NewTrustLineService(db, nil, nil, nil)
	createLine(t, lines, bob, alice, "100")
	svc := newPaymentService(t, db)

	// Signed over 1, submitted as 99.
	signed := CreatePaymentRequest{
		Payer: alice.pid, Payee: bob.pid, Equivalent: "UAH", Amount: dec("1"),
	}
	req := signed
	req.Amount = dec("99")
	req.PublicKey = alice.pub
	req.Signature = alice.sign(t, paymentPayload(signed), identity.OpPaymentCreate)
	_, err := svc.Create(context.Background(), req)
	assert.Equal(t, types.CodeInvalidSignature, types.AsError(err).Code)
}

func TestPaymentGetUnknown(t *testing.T) {
	db := newStore(t)
	svc := newPaymentService(t, db)
	_, err := svc.Get(context.Background(), uuid.New())
	assert.Equal(t, types.CodeValidation, types.AsError(err).Code)
}
