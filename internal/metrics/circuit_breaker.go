// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tsnotfyi_circuit_breaker_state",
		Help: "One-hot breaker position per component; the active state reads 1",
	}, []string{"component", "state"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnotfyi_circuit_breaker_trips_total",
		Help: "Transitions to the open state, labeled with the trip reason",
	}, []string{"component", "reason"})
)

var breakerStates = [...]string{"closed", "half-open", "open"}

// SetCircuitBreakerState one-hots the active state so dashboards can plot
// position changes without parsing label values.
func SetCircuitBreakerState(component, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		breakerState.WithLabelValues(component, s).Set(v)
	}
}

// RecordCircuitBreakerTrip counts a transition to open.
func RecordCircuitBreakerTrip(component, reason string) {
	breakerTrips.WithLabelValues(component, reason).Inc()
}
