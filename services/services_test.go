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
	"crypto/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/commongrid/credithub/identity"
	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/ledger/memdb"
	"github.com/commongrid/credithub/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// actor is a test participant with a real key pair.
type actor struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
	pid  types.PID
}

func newActor(t *testing.T) *actor {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pid, err := identity.DerivePID(pub)
	require.NoError(t, err)
	return &actor{pub: pub, priv: priv, pid: pid}
}

// sign produces the Ed25519 signature over the operation-tagged canonical
// payload, exactly as a client would.
func (a *actor) sign(t *testing.T, payload map[string]any, op identity.OpTag) []byte {
	t.Helper()
	msg, err := identity.MakeSignable(payload, op)
	require.NoError(t, err)
	return ed25519.Sign(a.priv, msg)
}

func newStore(t *testing.T, actors ...*actor) *memdb.Database {
	t.Helper()
	db := memdb.New(nil)
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.PutEquivalent(ctx, &types.Equivalent{Code: "UAH", Active: true}); err != nil {
			return err
		}
		for _, a := range actors {
			if err := tx.PutParticipant(ctx, &types.Participant{
				PID: a.pid, PublicKey: a.pub, DisplayName: string(a.pid[:6]),
				Type: types.ParticipantPerson, Status: types.StatusActive,
			}); err != nil {
				return err
			}
		}
		return nil
	}))
	return db
}

func seedDebt(t *testing.T, db *memdb.Database, debtor, creditor types.PID, amount string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx ledger.Tx) error {
		return tx.ApplyFlow(ctx, debtor, creditor, "UAH", dec(amount))
	}))
}
