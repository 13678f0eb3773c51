// Package metrics defines the Prometheus collectors shared by the session and
// the remote client. They are registered on the default registry and served
// by internal/web at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portalcal",
			Name:      "reconcile_cycles_total",
			Help:      "Reconciliation cycles by collection and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "portalcal",
			Name:      "fetch_duration_seconds",
			Help:      "Backend fetch latency including retries.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	FetchRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portalcal",
			Name:      "fetch_retries_total",
			Help:      "Backend fetch attempts retried after a transient failure.",
		},
		[]string{"kind"},
	)

	PersistWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portalcal",
			Name:      "persist_writes_total",
			Help:      "Snapshot writes by key and result.",
		},
		[]string{"key", "result"},
	)

	MergedItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "portalcal",
			Name:      "merged_items",
			Help:      "Size of the current merged collection.",
		},
		[]string{"kind"},
	)

	DiscardedResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portalcal",
			Name:      "discarded_results_total",
			Help:      "Fetch results dropped because the session ended while in flight.",
		},
		[]string{"kind"},
	)
)
