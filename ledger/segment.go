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
	"hash/fnv"
	"sort"

	"github.com/commongrid/credithub/types"
)

// SegmentKey maps a (equivalent, from, to) triple to the 64-bit advisory
// lock key used by both store backends. From/to are in debt-flow direction.
func SegmentKey(equivalent string, from, to types.PID) uint64 {
	h := fnv.New64a()
	h.Write([]byte(equivalent))
	h.Write([]byte{0})
	h.Write([]byte(from))
	h.Write([]byte{0})
	h.Write([]byte(to))
	return h.Sum64()
}

// SortFlows orders flows canonically by (equivalent, from, to). Multi-segment
// operations lock in this order, which makes concurrent lock acquisition
// deadlock free.
func SortFlows(flows []types.Flow) {
	sort.Slice(flows, func(i, j int) bool {
		a, b := flows[i], flows[j]
		if a.Equivalent != b.Equivalent {
			return a.Equivalent < b.Equivalent
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
}

// SegmentKeys returns the advisory lock keys for flows, which must already
// be in canonical order.
func SegmentKeys(flows []types.Flow) []uint64 {
	keys := make([]uint64, len(flows))
	for i, f := range flows {
		keys[i] = SegmentKey(f.Equivalent, f.From, f.To)
	}
	return keys
}

// MergeFlows aggregates duplicate segments: sibling paths of one payment
// that traverse the same segment must reserve and apply a single combined
// delta. The result is in canonical order.
func MergeFlows(flows []types.Flow) []types.Flow {
	type key struct {
		eq       string
		from, to types.PID
	}
	idx := make(map[key]int, len(flows))
	merged := make([]types.Flow, 0, len(flows))
	for _, f := range flows {
		k := key{f.Equivalent, f.From, f.To}
		if i, ok := idx[k]; ok {
			merged[i].Delta = merged[i].Delta.Add(f.Delta)
			continue
		}
		idx[k] = len(merged)
		merged = append(merged, f)
	}
	SortFlows(merged)
	return merged
}
