// SPDX-License-Identifier: MIT

package fault

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"plain error", errors.New("boom"), KindInternal},
		{"not found", NotFound("index.get", "track %q", "abc"), KindNotFound},
		{"wrapped fault", fmt.Errorf("outer: %w", BackendUnavailable("latent.encode", io.EOF)), KindBackendUnavailable},
		{"invalid argument", InvalidArgument("api.next", "bad id"), KindInvalidArgument},
		{"timed out", TimedOut("engine.prepare", errors.New("deadline")), KindTimedOut},
		{"gone", Gone("api.legacy", "use /next-track"), KindGone},
		{"decode failed", DecodeFailed("mixer.setNext", "deadbeef", io.ErrUnexpectedEOF), KindDecodeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestFaultUnwrap(t *testing.T) {
	cause := errors.New("pipe closed")
	f := Wrap(KindBackendUnavailable, "latent.decode", cause)
	require.ErrorIs(t, f, cause)
}

func TestFaultIsMatchesByKind(t *testing.T) {
	a := NotFound("a", "x")
	b := NotFound("b", "y")
	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, InvalidArgument("c", "z")))
}

func TestErrorMessageShapes(t *testing.T) {
	assert.Equal(t, "op: msg", New(KindInternal, "op", "msg").Error())
	assert.Equal(t, "op: cause", Wrap(KindInternal, "op", errors.New("cause")).Error())
	assert.Equal(t, "op: not_found", (&Fault{Kind: KindNotFound, Op: "op"}).Error())
}

func TestKindStringsAreStable(t *testing.T) {
	assert.Equal(t, "backend_unavailable", KindBackendUnavailable.String())
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "payload_too_large", KindPayloadTooLarge.String())
	assert.Equal(t, "internal", KindInternal.String())
}
