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

package router

import (
	"context"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/shopspring/decimal"

	"github.com/commongrid/credithub/types"
)

// pathKey flattens a node sequence for deduplication.
func pathKey(path []types.PID) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = string(p)
	}
	return strings.Join(parts, ">")
}

type candidate struct {
	path       []types.PID
	bottleneck decimal.Decimal
}

func better(a, b candidate) bool {
	if len(a.path) != len(b.path) {
		return len(a.path) < len(b.path)
	}
	return a.bottleneck.GreaterThan(b.bottleneck)
}

// shortestWidest finds the minimum-hop path from src to dst, breaking hop
// ties by maximum bottleneck capacity. It is a layered dynamic program over
// hop count: best[h][node] is the widest bottleneck reaching node in exactly
// h hops. banned edges/nodes support the spur searches of Yen's algorithm.
func shortestWidest(g *graph, src, dst types.PID, maxHops int, reqSrc, reqDst types.PID, bannedEdges mapset.Set[string], bannedNodes mapset.Set[types.PID]) (candidate, bool) {
	type label struct {
		width decimal.Decimal
		prev  types.PID
	}
	best := make([]map[types.PID]label, maxHops+1)
	best[0] = map[types.PID]label{src: {width: decimal.Zero}}

	for h := 0; h < maxHops; h++ {
		if best[h] == nil {
			continue
		}
		for node, lab := range best[h] {
			for _, e := range g.out[node] {
				if !e.usable(e.from == reqSrc, e.to == reqDst) {
					continue
				}
				if bannedNodes != nil && bannedNodes.Contains(e.to) {
					continue
				}
				if bannedEdges != nil && bannedEdges.Contains(edgeKey(e.from, e.to)) {
					continue
				}
				width := e.capacity
				if h > 0 && lab.width.LessThan(width) {
					width = lab.width
				}
				if best[h+1] == nil {
					best[h+1] = make(map[types.PID]label)
				}
				if cur, ok := best[h+1][e.to]; !ok || width.GreaterThan(cur.width) {
					best[h+1][e.to] = label{width: width, prev: node}
				}
			}
		}
		if lab, ok := best[h+1][dst]; ok {
			// First layer reaching dst is the minimum hop count; the
			// label already carries the widest bottleneck for it.
			path := make([]types.PID, h+2)
			path[h+1] = dst
			node := dst
			for i := h + 1; i > 0; i-- {
				l := best[i][node]
				path[i-1] = l.prev
				node = l.prev
			}
			if hasRepeat(path) {
				// A widest label can in principle revisit a node; such a
				// walk is never a valid route.
				return candidate{}, false
			}
			return candidate{path: path, bottleneck: lab.width}, true
		}
	}
	return candidate{}, false
}

func edgeKey(from, to types.PID) string { return string(from) + ">" + string(to) }

// kShortestPaths is a bounded Yen's algorithm over hop count with bottleneck
// tie-breaking: the first path is the shortest-widest path, subsequent paths
// are spur deviations of earlier ones. Paths longer than maxHops are never
// produced; duplicates (by node sequence) are discarded.
func kShortestPaths(ctx context.Context, g *graph, src, dst types.PID, maxHops, k int) [][]types.PID {
	first, ok := shortestWidest(g, src, dst, maxHops, src, dst, nil, nil)
	if !ok {
		return nil
	}
	accepted := []candidate{first}
	seen := mapset.NewThreadUnsafeSet(pathKey(first.path))
	var pool []candidate
	poolSeen := mapset.NewThreadUnsafeSet[string]()

	for len(accepted) < k {
		if ctx.Err() != nil {
			break
		}
		prev := accepted[len(accepted)-1].path
		for i := 0; i+1 < len(prev); i++ {
			if ctx.Err() != nil {
				break
			}
			spur := prev[i]
			root := prev[:i+1]

			// Ban the deviating edges of all accepted paths sharing this
			// root, and the root nodes themselves except the spur.
			bannedEdges := mapset.NewThreadUnsafeSet[string]()
			for _, acc := range accepted {
				if len(acc.path) > i && samePrefix(acc.path, root) {
					bannedEdges.Add(edgeKey(acc.path[i], acc.path[i+1]))
				}
			}
			bannedNodes := mapset.NewThreadUnsafeSet[types.PID]()
			for _, n := range root[:len(root)-1] {
				bannedNodes.Add(n)
			}

			tail, ok := shortestWidest(g, spur, dst, maxHops-i, src, dst, bannedEdges, bannedNodes)
			if !ok {
				continue
			}
			full := append(append([]types.PID{}, root...), tail.path[1:]...)
			if len(full)-1 > maxHops {
				continue
			}
			key := pathKey(full)
			if seen.Contains(key) || poolSeen.Contains(key) {
				continue
			}
			poolSeen.Add(key)
			pool = append(pool, candidate{path: full, bottleneck: pathBottleneck(g, full)})
		}
		if len(pool) == 0 {
			break
		}
		sort.SliceStable(pool, func(a, b int) bool { return better(pool[a], pool[b]) })
		next := pool[0]
		pool = pool[1:]
		accepted = append(accepted, next)
		seen.Add(pathKey(next.path))
	}

	out := make([][]types.PID, len(accepted))
	for i, c := range accepted {
		out[i] = c.path
	}
	return out
}

func hasRepeat(path []types.PID) bool {
	seen := make(map[types.PID]struct{}, len(path))
	for _, n := range path {
		if _, ok := seen[n]; ok {
			return true
		}
		seen[n] = struct{}{}
	}
	return false
}

func samePrefix(path, prefix []types.PID) bool {
	if len(path) < len(prefix) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}

func pathBottleneck(g *graph, path []types.PID) decimal.Decimal {
	min := decimal.Zero
	for i := 0; i+1 < len(path); i++ {
		e := g.findEdge(path[i], path[i+1])
		if e == nil {
			return decimal.Zero
		}
		if i == 0 || e.capacity.LessThan(min) {
			min = e.capacity
		}
	}
	return min
}
