// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AudioClients tracks attached PCM sinks across all sessions.
	AudioClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tsnotfyi_audio_clients",
		Help: "Attached audio clients across all sessions",
	})

	// AudioClientDropsTotal counts audio clients removed for backpressure.
	AudioClientDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tsnotfyi_audio_client_drops_total",
		Help: "Audio clients dropped because their frame queue filled",
	})

	// MixerTransitionsTotal counts committed track transitions by kind.
	MixerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnotfyi_mixer_transitions_total",
		Help: "Committed track transitions by kind (natural, forced)",
	}, []string{"kind"})

	// MixerDecodeFailuresTotal counts lane decode failures by stage.
	MixerDecodeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnotfyi_mixer_decode_failures_total",
		Help: "Decode lane failures by stage (open, stream)",
	}, []string{"stage"})

	// MixerIdleTotal counts times a mixer drained to idle.
	MixerIdleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tsnotfyi_mixer_idle_total",
		Help: "Times a mixer ran both lanes empty",
	})
)

// IncMixerTransition records a committed transition.
func IncMixerTransition(forced bool) {
	kind := "natural"
	if forced {
		kind = "forced"
	}
	MixerTransitionsTotal.WithLabelValues(kind).Inc()
}

// IncDecodeFailure records a lane decode failure.
func IncDecodeFailure(stage string) {
	MixerDecodeFailuresTotal.WithLabelValues(stage).Inc()
}
