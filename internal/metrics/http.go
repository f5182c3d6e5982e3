// SPDX-License-Identifier: MIT

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration tracks handler latency by route and status.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tsnotfyi_http_request_duration_seconds",
		Help:    "HTTP request duration by method, route and status",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "route", "status"})

	// HTTPStreamsOpen tracks currently open long-lived responses.
	HTTPStreamsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tsnotfyi_http_streams_open",
		Help: "Open long-lived responses by kind (audio, events)",
	}, []string{"kind"})
)

// ObserveHTTPRequest records a completed (non-streaming) request.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
