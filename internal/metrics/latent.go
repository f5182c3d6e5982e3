// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LatentRequestsTotal counts latent RPCs by operation and outcome.
	LatentRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnotfyi_latent_requests_total",
		Help: "Latent backend requests by operation and outcome (ok, error, timeout, unavailable)",
	}, []string{"op", "outcome"})

	// LatentRequestDuration tracks round-trip time per operation.
	LatentRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tsnotfyi_latent_request_duration_seconds",
		Help:    "Latent backend round-trip time",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"op"})

	// LatentRestartsTotal counts child process restarts.
	LatentRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tsnotfyi_latent_restarts_total",
		Help: "Latent backend child process restarts",
	})
)

// ObserveLatentRequest records a finished latent RPC.
func ObserveLatentRequest(op, outcome string, d time.Duration) {
	LatentRequestsTotal.WithLabelValues(op, outcome).Inc()
	LatentRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}
