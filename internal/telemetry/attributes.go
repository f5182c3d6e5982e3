// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across span call sites so dashboards group
// consistently.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	SessionIDKey        = "session.id"
	SessionEphemeralKey = "session.ephemeral"
	SessionStepKey      = "session.resolution_step"

	TrackIDKey   = "track.id"
	DirectionKey = "track.direction"

	SnapshotSourceKey     = "snapshot.source"
	SnapshotResolutionKey = "snapshot.resolution"
	SnapshotCachedKey     = "snapshot.cached"

	LatentOpKey      = "latent.op"
	LatentRestartKey = "latent.restarts"

	ErrorKey     = "error"
	ErrorKindKey = "error.kind"
)

// HTTPAttributes builds the span attributes for one served request.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SessionAttributes annotates a span with the resolved session.
func SessionAttributes(sessionID, step string, ephemeral bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.Bool(SessionEphemeralKey, ephemeral),
	}
	if step != "" {
		attrs = append(attrs, attribute.String(SessionStepKey, step))
	}
	return attrs
}

// SnapshotAttributes annotates explorer snapshot spans.
func SnapshotAttributes(sourceID, resolution string, cached bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SnapshotSourceKey, sourceID),
		attribute.String(SnapshotResolutionKey, resolution),
		attribute.Bool(SnapshotCachedKey, cached),
	}
}

// TrackAttributes annotates selection and transition spans.
func TrackAttributes(trackID, direction string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(TrackIDKey, trackID)}
	if direction != "" {
		attrs = append(attrs, attribute.String(DirectionKey, direction))
	}
	return attrs
}

// LatentAttributes annotates latent backend round trips.
func LatentAttributes(op string, restarts int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(LatentOpKey, op),
		attribute.Int(LatentRestartKey, restarts),
	}
}

// ErrorAttributes marks a span failed with the fault kind label.
func ErrorAttributes(kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorKindKey, kind),
	}
}
