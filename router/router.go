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

// Package router finds payment paths over the trust graph. It builds a
// per-request capacity snapshot (net of debts and live reservations), runs a
// bounded variant of Yen's k-shortest-paths over hop count with bottleneck
// tie-breaking, and splits the requested amount greedily across the found
// paths.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"

	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/types"
)

const (
	DefaultMaxHops  = 6
	DefaultMaxPaths = 3
	DefaultTimeout  = 500 * time.Millisecond

	cacheSize = 1024
)

// Request describes one routing query.
type Request struct {
	Source     types.PID
	Target     types.PID
	Equivalent string
	Amount     decimal.Decimal
	MaxHops    int
	MaxPaths   int
	Timeout    time.Duration
	Avoid      []types.PID
}

func (r *Request) withDefaults() Request {
	out := *r
	if out.MaxHops <= 0 {
		out.MaxHops = DefaultMaxHops
	}
	if out.MaxPaths <= 0 {
		out.MaxPaths = DefaultMaxPaths
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	return out
}

// Result is an ordered multi-path route whose amounts sum to the request.
type Result struct {
	Routes []types.Route
}

// Router answers routing queries against the ledger store. Snapshots are
// per-request; the optional route cache is read-mostly with a TTL, and a
// stale cached route can only fail later at prepare.
type Router struct {
	store ledger.Store
	now   func() time.Time
	cache *expirable.LRU[string, []types.Route]
}

// New creates a router. cacheTTL <= 0 disables the route cache.
func New(store ledger.Store, clock func() time.Time, cacheTTL time.Duration) *Router {
	if clock == nil {
		clock = time.Now
	}
	r := &Router{store: store, now: clock}
	if cacheTTL > 0 {
		r.cache = expirable.NewLRU[string, []types.Route](cacheSize, nil, cacheTTL)
	}
	return r
}

func cacheKey(req Request) string {
	return strings.Join([]string{
		string(req.Source), string(req.Target), req.Equivalent, req.Amount.String(),
		fmt.Sprint(req.MaxHops), fmt.Sprint(req.MaxPaths),
	}, "|")
}

// FindRoutes resolves the request into one or more paths covering the full
// amount. It fails with E001 when no path exists at all and with E002 when
// paths exist but cannot jointly cover the amount.
func (r *Router) FindRoutes(ctx context.Context, req Request) (*Result, error) {
	req = req.withDefaults()
	if req.Source == req.Target {
		return nil, types.NewError(types.CodeValidation, "source and target are the same participant")
	}
	if req.Amount.Sign() <= 0 {
		return nil, types.NewError(types.CodeValidation, "amount must be positive")
	}

	key := ""
	if r.cache != nil && len(req.Avoid) == 0 {
		key = cacheKey(req)
		if routes, ok := r.cache.Get(key); ok {
			return &Result{Routes: routes}, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	var g *graph
	err := r.store.View(ctx, func(tx ledger.Tx) error {
		avoid := mapset.NewThreadUnsafeSet[types.PID](req.Avoid...)
		var err error
		g, err = buildGraph(ctx, tx, req.Equivalent, req.Source, req.Target, avoid, r.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	paths := kShortestPaths(ctx, g, req.Source, req.Target, req.MaxHops, req.MaxPaths)
	if len(paths) == 0 {
		if ctx.Err() != nil {
			return nil, types.NewError(types.CodeTimeout, "path finding timed out")
		}
		return nil, types.NewError(types.CodeNoRoute, "no route with available capacity",
			"source", string(req.Source), "target", string(req.Target), "equivalent", req.Equivalent)
	}

	routes, shortfall := split(g, paths, req.Amount)
	if shortfall.Sign() > 0 {
		return nil, types.NewError(types.CodeInsufficientCapacity, "paths cannot cover the requested amount",
			"shortfall", shortfall.String(), "paths", len(paths))
	}
	if key != "" {
		r.cache.Add(key, routes)
	}
	return &Result{Routes: routes}, nil
}

// split assigns amounts to paths greedily by descending capacity, tracking
// residual capacity per edge so sibling paths sharing a segment never
// oversubscribe it. It returns the routes plus any uncovered remainder.
func split(g *graph, paths [][]types.PID, amount decimal.Decimal) ([]types.Route, decimal.Decimal) {
	residual := make(map[*edge]decimal.Decimal)
	bottleneck := func(path []types.PID) (decimal.Decimal, []*edge) {
		min := decimal.Zero
		edges := make([]*edge, 0, len(path)-1)
		for i := 0; i+1 < len(path); i++ {
			e := g.findEdge(path[i], path[i+1])
			if e == nil {
				return decimal.Zero, nil
			}
			cap := e.capacity
			if used, ok := residual[e]; ok {
				cap = cap.Sub(used)
			}
			if len(edges) == 0 || cap.LessThan(min) {
				min = cap
			}
			edges = append(edges, e)
		}
		return min, edges
	}

	// Stable order: capacity descending, then fewer hops.
	sort.SliceStable(paths, func(i, j int) bool {
		ci, _ := bottleneck(paths[i])
		cj, _ := bottleneck(paths[j])
		if !ci.Equal(cj) {
			return ci.GreaterThan(cj)
		}
		return len(paths[i]) < len(paths[j])
	})

	remaining := amount
	var routes []types.Route
	for _, path := range paths {
		if remaining.Sign() == 0 {
			break
		}
		cap, edges := bottleneck(path)
		if cap.Sign() <= 0 {
			continue
		}
		assign := decimal.Min(remaining, cap)
		for _, e := range edges {
			residual[e] = residual[e].Add(assign)
		}
		routes = append(routes, types.Route{Path: path, Amount: assign})
		remaining = remaining.Sub(assign)
	}
	return routes, remaining
}

func (g *graph) findEdge(from, to types.PID) *edge {
	for _, e := range g.out[from] {
		if e.to == to {
			return e
		}
	}
	return nil
}
