// SPDX-License-Identifier: MIT

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestHTTPAttributes(t *testing.T) {
	m := attrMap(HTTPAttributes("POST", "/next-track", 200))
	require.Equal(t, "POST", m[HTTPMethodKey].AsString())
	require.Equal(t, "/next-track", m[HTTPRouteKey].AsString())
	require.Equal(t, int64(200), m[HTTPStatusCodeKey].AsInt64())
}

func TestSessionAttributesOmitsEmptyStep(t *testing.T) {
	attrs := SessionAttributes("abc123", "", true)
	m := attrMap(attrs)
	require.Len(t, attrs, 2)
	require.Equal(t, "abc123", m[SessionIDKey].AsString())
	require.True(t, m[SessionEphemeralKey].AsBool())

	m = attrMap(SessionAttributes("abc123", "fingerprint", false))
	require.Equal(t, "fingerprint", m[SessionStepKey].AsString())
}

func TestTrackAttributesOmitsEmptyDirection(t *testing.T) {
	require.Len(t, TrackAttributes("deadbeef", ""), 1)

	m := attrMap(TrackAttributes("deadbeef", "faster"))
	require.Equal(t, "deadbeef", m[TrackIDKey].AsString())
	require.Equal(t, "faster", m[DirectionKey].AsString())
}

func TestSnapshotAndErrorAttributes(t *testing.T) {
	m := attrMap(SnapshotAttributes("deadbeef", "adaptive", true))
	require.Equal(t, "adaptive", m[SnapshotResolutionKey].AsString())
	require.True(t, m[SnapshotCachedKey].AsBool())

	m = attrMap(ErrorAttributes("not_found"))
	require.True(t, m[ErrorKey].AsBool())
	require.Equal(t, "not_found", m[ErrorKindKey].AsString())
}
