// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PrepareNextTotal counts prepare-next attempts by outcome.
	PrepareNextTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnotfyi_prepare_next_total",
		Help: "Prepare-next attempts by outcome (prepared, retried, failed, timeout, coalesced)",
	}, []string{"outcome"})

	// PrepareNextDuration tracks prepare-next latency.
	PrepareNextDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tsnotfyi_prepare_next_duration_seconds",
		Help:    "Time from prepare-next start to mixer slot update",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 8},
	})

	// PrepareInflight tracks concurrently running prepare operations. The
	// per-session invariant keeps each session's contribution at most 1.
	PrepareInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tsnotfyi_prepare_next_inflight",
		Help: "Prepare-next operations currently running",
	})

	// SelectionsTotal counts user next-track commits by disposition.
	SelectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnotfyi_selections_total",
		Help: "Next-track commits by disposition (promoted, queued, noop, rejected)",
	}, []string{"disposition"})
)

// ObservePrepareNext records a finished prepare-next attempt.
func ObservePrepareNext(outcome string, d time.Duration) {
	PrepareNextTotal.WithLabelValues(outcome).Inc()
	PrepareNextDuration.Observe(d.Seconds())
}

// IncSelection records a user commit disposition.
func IncSelection(disposition string) {
	SelectionsTotal.WithLabelValues(disposition).Inc()
}
