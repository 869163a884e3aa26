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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commongrid/credithub/integrity"
	"github.com/commongrid/credithub/types"
)

func TestIntegrityStatusAndVerify(t *testing.T) {
	db := newStore(t)
	sweeper := integrity.New(db, nil, nil, nil, integrity.DefaultConfig())
	svc := NewIntegrityService(db, sweeper)
	ctx := context.Background()

	// No checkpoint yet.
	status, err := svc.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, "UAH", status[0].Equivalent)
	assert.Nil(t, status[0].Checkpoint)

	cp, err := svc.Verify(ctx, "UAH")
	require.NoError(t, err)
	assert.True(t, cp.Passed)

	status, err = svc.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, status[0].Checkpoint)
	assert.Equal(t, cp.Checksum, status[0].Checkpoint.Checksum)

	_, err = svc.Verify(ctx, "NOPE")
	assert.Equal(t, types.CodeValidation, types.AsError(err).Code)
}

func TestIntegrityChecksumAndAuditLog(t *testing.T) {
	db := newStore(t)
	sweeper := integrity.New(db, nil, nil, nil, integrity.DefaultConfig())
	svc := NewIntegrityService(db, sweeper)
	ctx := context.Background()

	sum, err := svc.Checksum(ctx, "UAH")
	require.NoError(t, err)
	assert.Len(t, sum, 64)

	// A verify pass appends to the audit log.
	_, err = svc.Verify(ctx, "UAH")
	require.NoError(t, err)

	recs, err := svc.AuditLog(ctx, "UAH", time.Time{}, time.Time{}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.Equal(t, "integrity.sweep", recs[0].Operation)

	recs, err = svc.AuditLog(ctx, "HOUR", time.Time{}, time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, recs, "equivalent filter applies")
}
