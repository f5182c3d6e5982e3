// SPDX-License-Identifier: MIT

// Package metrics exposes the daemon's Prometheus collectors. Collectors are
// registered at package load via promauto; helper functions keep label
// handling in one place.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks the number of live sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tsnotfyi_sessions_active",
		Help: "Number of live sessions",
	})

	// SessionsCreatedTotal counts session creations by kind.
	SessionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnotfyi_sessions_created_total",
		Help: "Total sessions created by kind (fresh, pooled, deeplink)",
	}, []string{"kind"})

	// SessionsDestroyedTotal counts session destructions by reason.
	SessionsDestroyedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnotfyi_sessions_destroyed_total",
		Help: "Total sessions destroyed by reason (idle, ephemeral_idle, forget, shutdown)",
	}, []string{"reason"})

	// SessionResolutionTotal counts which resolution step satisfied a lookup.
	SessionResolutionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnotfyi_session_resolution_total",
		Help: "Session resolution outcomes by step (param, fingerprint, cookie, orphan, last_healthy, pool, create, miss)",
	}, []string{"step"})

	// FingerprintLookupsTotal counts fingerprint resolutions by outcome.
	FingerprintLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnotfyi_fingerprint_lookups_total",
		Help: "Fingerprint lookups by outcome (hit, miss, expired)",
	}, []string{"outcome"})

	// PoolAvailable tracks the pre-warmed session pool fill level.
	PoolAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tsnotfyi_session_pool_available",
		Help: "Pre-warmed sessions currently available for checkout",
	})
)

// IncSessionCreated records a session creation.
func IncSessionCreated(kind string) {
	SessionsCreatedTotal.WithLabelValues(kind).Inc()
}

// IncSessionDestroyed records a session destruction.
func IncSessionDestroyed(reason string) {
	SessionsDestroyedTotal.WithLabelValues(reason).Inc()
}

// IncSessionResolution records the step that satisfied a session lookup.
func IncSessionResolution(step string) {
	SessionResolutionTotal.WithLabelValues(step).Inc()
}

// IncFingerprintLookup records a fingerprint lookup outcome.
func IncFingerprintLookup(outcome string) {
	FingerprintLookupsTotal.WithLabelValues(outcome).Inc()
}
