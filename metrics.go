// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"github.com/featurebasedb/tetra/geom"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricTxnCommitted   = "txn_committed_total"
	MetricTxnRolledBack  = "txn_rolled_back_total"
	MetricTxnFailed      = "txn_failed_total"
	MetricPointsInserted = "points_inserted_total"
	MetricPointsMoved    = "points_moved_total"
	MetricPointsRemoved  = "points_removed_total"
	MetricFlips          = "flips_total"
	MetricMoveStrategy   = "move_strategy_total"
	MetricExactFallbacks = "exact_fallbacks_total"
	MetricQueueDepth     = "queue_depth"
	MetricPoolSize       = "pool_size"
)

// MetricNamespace prefixes every metric name.
const MetricNamespace = "tetra"

var CounterTxnCommitted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: MetricNamespace,
		Name:      MetricTxnCommitted,
		Help:      "Transactions committed.",
	},
)

var CounterTxnRolledBack = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: MetricNamespace,
		Name:      MetricTxnRolledBack,
		Help:      "Transaction attempts rolled back on a conflict and requeued.",
	},
)

var CounterTxnFailed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: MetricNamespace,
		Name:      MetricTxnFailed,
		Help:      "Transactions that ended in an error.",
	},
)

var CounterPointsInserted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: MetricNamespace,
		Name:      MetricPointsInserted,
	},
)

var CounterPointsMoved = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: MetricNamespace,
		Name:      MetricPointsMoved,
	},
)

var CounterPointsRemoved = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: MetricNamespace,
		Name:      MetricPointsRemoved,
	},
)

var CounterFlips = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: MetricNamespace,
		Name:      MetricFlips,
		Help:      "Committed flips by kind.",
	},
	[]string{
		"kind",
	},
)

var CounterMoveStrategy = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: MetricNamespace,
		Name:      MetricMoveStrategy,
		Help:      "Committed moves by the strategy that completed them.",
	},
	[]string{
		"strategy",
	},
)

var CounterExactFallbacks = prometheus.NewCounterFunc(
	prometheus.CounterOpts{
		Namespace: MetricNamespace,
		Name:      MetricExactFallbacks,
		Help:      "Predicate evaluations that needed exact arithmetic.",
	},
	func() float64 { return float64(geom.ExactFallbacks()) },
)

var GaugeQueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: MetricNamespace,
		Name:      MetricQueueDepth,
		Help:      "Queued transactions per partition.",
	},
	[]string{
		"partition",
	},
)

var GaugePoolSize = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: MetricNamespace,
		Name:      MetricPoolSize,
		Help:      "Worker goroutines per partition.",
	},
	[]string{
		"partition",
	},
)

func init() {
	prometheus.MustRegister(CounterTxnCommitted)
	prometheus.MustRegister(CounterTxnRolledBack)
	prometheus.MustRegister(CounterTxnFailed)
	prometheus.MustRegister(CounterPointsInserted)
	prometheus.MustRegister(CounterPointsMoved)
	prometheus.MustRegister(CounterPointsRemoved)
	prometheus.MustRegister(CounterFlips)
	prometheus.MustRegister(CounterMoveStrategy)
	prometheus.MustRegister(CounterExactFallbacks)
	prometheus.MustRegister(GaugeQueueDepth)
	prometheus.MustRegister(GaugePoolSize)
}
