// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StoreAttempts counts executor attempts by classified outcome:
	// success, conflict, transient, duplicate, exhausted.
	StoreAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigramd_store_attempts_total",
		Help: "Store transaction attempts by classified outcome.",
	}, []string{"outcome"})

	// SearchDuration observes end-to-end search latency.
	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trigramd_search_duration_seconds",
		Help:    "Fuzzy search latency.",
		Buckets: prometheus.DefBuckets,
	})

	// IndexedRecords counts successful index writes.
	IndexedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigramd_indexed_records_total",
		Help: "Records whose gram set was (re)written.",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
