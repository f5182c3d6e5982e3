// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventClients tracks attached event sinks across all sessions.
	EventClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tsnotfyi_event_clients",
		Help: "Attached event clients across all sessions",
	})

	// EventsBroadcastTotal counts frames fanned out by type.
	EventsBroadcastTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnotfyi_events_broadcast_total",
		Help: "Event frames broadcast by type",
	}, []string{"type"})

	// EventDropsTotal counts per-client drops by reason.
	EventDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnotfyi_event_drops_total",
		Help: "Event frames dropped by reason (queue_full, closed)",
	}, []string{"reason"})
)

// IncEventBroadcast records one frame fanned out to one client.
func IncEventBroadcast(eventType string) {
	EventsBroadcastTotal.WithLabelValues(eventType).Inc()
}

// IncEventDrop records a dropped event frame with a concrete reason.
func IncEventDrop(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	EventDropsTotal.WithLabelValues(reason).Inc()
}
