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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commongrid/credithub/identity"
	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/types"
)

func TestRegister(t *testing.T) {
	db := newStore(t)
	svc := NewParticipantService(db, nil, nil)
	a := newActor(t)

	req := RegisterRequest{
		PublicKey:   a.pub,
		DisplayName: "Alice",
		Type:        types.ParticipantPerson,
		Profile:     map[string]any{"city": "Kyiv"},
	}
	req.Signature = a.sign(t, registerPayload(req), identity.OpParticipantCreate)

	p, err := svc.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a.pid, p.PID)
	assert.Equal(t, types.StatusActive, p.Status)

	got, err := svc.Get(context.Background(), a.pid)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)

	// Re-registering the same key conflicts.
	_, err = svc.Register(context.Background(), req)
	assert.Equal(t, types.CodeStateConflict, types.AsError(err).Code)
}

func TestRegisterRejectsBadSignature(t *testing.T) {
	db := newStore(t)
	svc := NewParticipantService(db, nil, nil)
	a, mallory := newActor(t), newActor(t)

	req := RegisterRequest{
		PublicKey:   a.pub,
		DisplayName: "Alice",
		Type:        types.ParticipantPerson,
	}
	// Signed by someone else's key.
	req.Signature = mallory.sign(t, registerPayload(req), identity.OpParticipantCreate)
	_, err := svc.Register(context.Background(), req)
	assert.Equal(t, types.CodeInvalidSignature, types.AsError(err).Code)

	// Signature over different field values.
	req.Signature = a.sign(t, map[string]any{
		"public_key": "", "display_name": "Eve", "type": "PERSON",
	}, identity.OpParticipantCreate)
	_, err = svc.Register(context.Background(), req)
	assert.Equal(t, types.CodeInvalidSignature, types.AsError(err).Code)
}

func TestRegisterValidation(t *testing.T) {
	svc := NewParticipantService(newStore(t), nil, nil)
	a := newActor(t)

	_, err := svc.Register(context.Background(), RegisterRequest{PublicKey: a.pub, Type: types.ParticipantPerson})
	assert.Equal(t, types.CodeValidation, types.AsError(err).Code, "display name required")

	_, err = svc.Register(context.Background(), RegisterRequest{
		PublicKey: a.pub, DisplayName: "x", Type: types.ParticipantType("ROBOT"),
	})
	assert.Equal(t, types.CodeValidation, types.AsError(err).Code)

	_, err = svc.Register(context.Background(), RegisterRequest{
		PublicKey: a.pub[:16], DisplayName: "x", Type: types.ParticipantPerson,
	})
	assert.Equal(t, types.CodeValidation, types.AsError(err).Code, "truncated key")
}

func TestUpdateProfileAuthorization(t *testing.T) {
	owner, stranger := newActor(t), newActor(t)
	db := newStore(t, owner, stranger)
	svc := NewParticipantService(db, nil, nil)
	ctx := context.Background()

	// Owner may update.
	p, err := svc.UpdateProfile(ctx, owner.pid, owner.pid, "New Name", nil)
	require.NoError(t, err)
	assert.Equal(t, "New Name", p.DisplayName)

	// A non-hub stranger may not.
	_, err = svc.UpdateProfile(ctx, stranger.pid, owner.pid, "Hijacked", nil)
	assert.Equal(t, types.CodeForbidden, types.AsError(err).Code)

	// A hub-type administrator may.
	admin := newActor(t)
	require.NoError(t, db.Update(ctx, func(tx ledger.Tx) error {
		return tx.PutParticipant(ctx, &types.Participant{
			PID: admin.pid, PublicKey: admin.pub, DisplayName: "hub",
			Type: types.ParticipantHub, Status: types.StatusActive,
		})
	}))
	p, err = svc.UpdateProfile(ctx, admin.pid, owner.pid, "Moderated", nil)
	require.NoError(t, err)
	assert.Equal(t, "Moderated", p.DisplayName)
}

func TestSetStatus(t *testing.T) {
	owner := newActor(t)
	db := newStore(t, owner)
	svc := NewParticipantService(db, nil, nil)
	ctx := context.Background()

	require.NoError(t, svc.SetStatus(ctx, owner.pid, owner.pid, types.StatusLeft))
	p, err := svc.Get(ctx, owner.pid)
	require.NoError(t, err)
	assert.Equal(t, types.StatusLeft, p.Status)

	err = svc.SetStatus(ctx, owner.pid, owner.pid, types.ParticipantStatus("GONE"))
	assert.Equal(t, types.CodeValidation, types.AsError(err).Code)
}
