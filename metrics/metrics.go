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

// Package metrics declares the hub's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "credithub",
		Name:      "payments_total",
		Help:      "Payment outcomes by result.",
	}, []string{"result"})

	PaymentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "credithub",
		Name:      "payment_duration_seconds",
		Help:      "End-to-end payment execution time.",
		Buckets:   prometheus.DefBuckets,
	})

	RoutingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "credithub",
		Name:      "routing_duration_seconds",
		Help:      "Path finding time.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1},
	})

	ClearingCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "credithub",
		Name:      "clearing_cycles_total",
		Help:      "Clearing cycles by outcome.",
	}, []string{"outcome"})

	RecoveryAborts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "credithub",
		Name:      "recovery_aborted_transactions_total",
		Help:      "Transactions aborted by the recovery loop.",
	})

	ExpiredLocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "credithub",
		Name:      "recovery_expired_locks_total",
		Help:      "Prepare locks deleted after TTL expiry.",
	})

	IntegrityFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "credithub",
		Name:      "integrity_failures_total",
		Help:      "Invariant violations detected by the sweeper.",
	}, []string{"invariant"})
)
