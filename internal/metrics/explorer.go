// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SnapshotsTotal counts neighborhood snapshot computations by cache disposition.
	SnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnotfyi_explorer_snapshots_total",
		Help: "Neighborhood snapshots served by cache disposition (hit, miss, bypass)",
	}, []string{"cache"})

	// SnapshotDuration tracks snapshot computation latency (cache misses only).
	SnapshotDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tsnotfyi_explorer_snapshot_duration_seconds",
		Help:    "Time to compute a neighborhood snapshot",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	// IndexTracks tracks the number of tracks in the live feature index.
	IndexTracks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tsnotfyi_index_tracks",
		Help: "Tracks loaded in the feature index",
	})

	// IndexReloadsTotal counts catalog reloads by outcome.
	IndexReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnotfyi_index_reloads_total",
		Help: "Catalog reloads by outcome (ok, error)",
	}, []string{"outcome"})

	// SearchRequestsTotal counts catalog fuzzy searches.
	SearchRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tsnotfyi_search_requests_total",
		Help: "Catalog fuzzy search requests",
	})
)

// ObserveSnapshot records a computed (non-cached) snapshot.
func ObserveSnapshot(d time.Duration) {
	SnapshotsTotal.WithLabelValues("miss").Inc()
	SnapshotDuration.Observe(d.Seconds())
}

// IncSnapshotCacheHit records a snapshot served from cache.
func IncSnapshotCacheHit() {
	SnapshotsTotal.WithLabelValues("hit").Inc()
}
