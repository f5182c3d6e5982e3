// SPDX-License-Identifier: MIT

package latent

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/justinTNT/tsnotfyi-sub002/internal/config"
	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
)

func testSettings() config.LatentSettings {
	return config.LatentSettings{
		Command:     []string{"true"}, // enabled; pipes stand in for the real child in tests
		Timeout:     500 * time.Millisecond,
		MaxRestarts: 3,
		RateLimit:   1000,
		RateBurst:   100,
	}
}

// fakeBackend echoes well-formed responses over pipes, standing in for the
// external encoder/decoder process.
type fakeBackend struct {
	stdinR  *io.PipeReader
	stdoutW *io.PipeWriter
}

func startFake(t *testing.T, c *Client, handler func(req request) response) *fakeBackend {
	t.Helper()
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	c.setConn(newConn(stdinW, stdoutR))

	fb := &fakeBackend{stdinR: stdinR, stdoutW: stdoutW}
	go func() {
		scanner := bufio.NewScanner(stdinR)
		for scanner.Scan() {
			var req request
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			if handler == nil {
				continue // swallow: caller is testing timeouts
			}
			resp := handler(req)
			resp.ID = req.ID
			line, _ := json.Marshal(resp)
			_, _ = stdoutW.Write(append(line, '\n'))
		}
	}()
	t.Cleanup(func() {
		_ = fb.stdoutW.Close()
		_ = fb.stdinR.Close()
	})
	return fb
}

func TestEncodeRoundTrip(t *testing.T) {
	c := New(testSettings())
	startFake(t, c, func(req request) response {
		require.Equal(t, "encode", req.Op)
		return response{OK: true, Latent: Vector{"latent0": 0.4, "latent1": -1.2}}
	})
	defer func() { _ = c.Close() }()

	latentVec, err := c.Encode(context.Background(), Vector{"bpm": 128})
	require.NoError(t, err)
	require.InDelta(t, 0.4, latentVec["latent0"], 1e-9)
}

func TestFlowCarriesDirectionAndAmount(t *testing.T) {
	c := New(testSettings())
	startFake(t, c, func(req request) response {
		require.Equal(t, "flow", req.Op)
		require.InDelta(t, 0.5, req.Amount, 1e-9)
		require.NotEmpty(t, req.Direction)
		return response{OK: true, Features: Vector{"bpm": 140}}
	})
	defer func() { _ = c.Close() }()

	out, err := c.Flow(context.Background(), Vector{"bpm": 120}, Vector{"latent0": 1}, 0.5)
	require.NoError(t, err)
	require.InDelta(t, 140, out["bpm"], 1e-9)
}

func TestTimeoutYieldsBackendUnavailable(t *testing.T) {
	c := New(testSettings())
	startFake(t, c, nil) // never answers
	defer func() { _ = c.Close() }()

	_, err := c.Encode(context.Background(), Vector{"bpm": 128})
	require.Error(t, err)
	require.Equal(t, fault.KindBackendUnavailable, fault.KindOf(err))
}

func TestBackendErrorMapsToUnavailable(t *testing.T) {
	c := New(testSettings())
	startFake(t, c, func(req request) response {
		return response{OK: false, Error: "model not loaded"}
	})
	defer func() { _ = c.Close() }()

	_, err := c.Decode(context.Background(), Vector{"latent0": 1})
	require.Equal(t, fault.KindBackendUnavailable, fault.KindOf(err))
}

func TestProcessExitFailsPendingRequests(t *testing.T) {
	c := New(testSettings())
	fb := startFake(t, c, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Encode(context.Background(), Vector{"bpm": 128})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// Child dies: stdout closes, reader fails everything pending.
	_ = fb.stdoutW.Close()

	select {
	case err := <-done:
		require.Equal(t, fault.KindBackendUnavailable, fault.KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("pending request not failed on process exit")
	}
}

func TestDisabledClient(t *testing.T) {
	c := New(config.LatentSettings{Timeout: time.Second, RateLimit: 10, RateBurst: 1})
	require.False(t, c.Enabled())
	require.False(t, c.Healthy())

	_, err := c.Encode(context.Background(), Vector{"bpm": 128})
	require.Equal(t, fault.KindBackendUnavailable, fault.KindOf(err))

	// Run is a no-op for a disabled client.
	require.NoError(t, c.Run(context.Background()))
}

func TestInterpolate(t *testing.T) {
	c := New(testSettings())
	startFake(t, c, func(req request) response {
		require.Equal(t, "interpolate", req.Op)
		require.Equal(t, 3, req.Steps)
		return response{OK: true, Path: []Vector{{"bpm": 120}, {"bpm": 125}, {"bpm": 130}}}
	})
	defer func() { _ = c.Close() }()

	path, err := c.Interpolate(context.Background(), Vector{"bpm": 120}, Vector{"bpm": 130}, 3)
	require.NoError(t, err)
	require.Len(t, path, 3)
}
