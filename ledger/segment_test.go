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

package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commongrid/credithub/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSegmentKey(t *testing.T) {
	k1 := SegmentKey("UAH", "alice", "bob")
	assert.Equal(t, k1, SegmentKey("UAH", "alice", "bob"), "key must be stable")

	// Direction, equivalent and participants all discriminate.
	assert.NotEqual(t, k1, SegmentKey("UAH", "bob", "alice"))
	assert.NotEqual(t, k1, SegmentKey("HOUR", "alice", "bob"))
	assert.NotEqual(t, k1, SegmentKey("UAH", "alice", "carol"))

	// Separator keeps ("ab","c") apart from ("a","bc").
	assert.NotEqual(t, SegmentKey("X", "ab", "c"), SegmentKey("X", "a", "bc"))
}

func TestSortFlows(t *testing.T) {
	flows := []types.Flow{
		{Equivalent: "UAH", From: "b", To: "c", Delta: dec("1")},
		{Equivalent: "HOUR", From: "z", To: "a", Delta: dec("1")},
		{Equivalent: "UAH", From: "a", To: "c", Delta: dec("1")},
		{Equivalent: "UAH", From: "a", To: "b", Delta: dec("1")},
	}
	SortFlows(flows)
	want := []struct {
		eq       string
		from, to types.PID
	}{
		{"HOUR", "z", "a"},
		{"UAH", "a", "b"},
		{"UAH", "a", "c"},
		{"UAH", "b", "c"},
	}
	for i, w := range want {
		assert.Equal(t, w.eq, flows[i].Equivalent)
		assert.Equal(t, w.from, flows[i].From)
		assert.Equal(t, w.to, flows[i].To)
	}
}

func TestMergeFlows(t *testing.T) {
	flows := []types.Flow{
		{Equivalent: "UAH", From: "b", To: "c", Delta: dec("30")},
		{Equivalent: "UAH", From: "a", To: "b", Delta: dec("30")},
		{Equivalent: "UAH", From: "b", To: "c", Delta: dec("20")}, // sibling path shares b->c
	}
	merged := MergeFlows(flows)
	require.Len(t, merged, 2)
	assert.Equal(t, types.PID("a"), merged[0].From)
	assert.True(t, merged[0].Delta.Equal(dec("30")))
	assert.Equal(t, types.PID("b"), merged[1].From)
	assert.True(t, merged[1].Delta.Equal(dec("50")), "shared segment deltas must aggregate")
}

func TestDebtChecksum(t *testing.T) {
	a := []*types.Debt{
		{Debtor: "alice", Creditor: "bob", Equivalent: "UAH", Amount: dec("10")},
		{Debtor: "bob", Creditor: "carol", Equivalent: "UAH", Amount: dec("5.50")},
	}
	b := []*types.Debt{a[1], a[0]} // reversed input order

	assert.Equal(t, DebtChecksum(a), DebtChecksum(b), "row order must not matter")
	assert.Len(t, DebtChecksum(a), 64)
	assert.NotEqual(t, DebtChecksum(a), DebtChecksum(a[:1]))

	// Amount changes the checksum.
	c := []*types.Debt{
		{Debtor: "alice", Creditor: "bob", Equivalent: "UAH", Amount: dec("10.01")},
		a[1],
	}
	assert.NotEqual(t, DebtChecksum(a), DebtChecksum(c))

	assert.Equal(t, DebtChecksum(nil), DebtChecksum([]*types.Debt{}))
}
