// SPDX-License-Identifier: MIT

// Package latent wraps the external encoder/decoder child process behind a
// request/response channel. One client multiplexes one child across all
// sessions; stdin writes are serialized, responses are matched to callers by
// a monotonic request id. Every operation can fail with backend-unavailable
// and every caller has a non-latent fallback.
package latent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/justinTNT/tsnotfyi-sub002/internal/config"
	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
	"github.com/justinTNT/tsnotfyi-sub002/internal/metrics"
	"github.com/justinTNT/tsnotfyi-sub002/internal/resilience"
	"github.com/justinTNT/tsnotfyi-sub002/internal/telemetry"
)

// Vector is a named feature or latent vector on the wire.
type Vector map[string]float64

// request is one line on the child's stdin.
type request struct {
	ID        uint64  `json:"id"`
	Op        string  `json:"op"`
	Features  Vector  `json:"features,omitempty"`
	Latent    Vector  `json:"latent,omitempty"`
	A         Vector  `json:"a,omitempty"`
	B         Vector  `json:"b,omitempty"`
	Steps     int     `json:"steps,omitempty"`
	Direction Vector  `json:"direction,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
}

// response is one line on the child's stdout; the id echoes the request.
type response struct {
	ID       uint64   `json:"id"`
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Features Vector   `json:"features,omitempty"`
	Latent   Vector   `json:"latent,omitempty"`
	Path     []Vector `json:"path,omitempty"`
}

// Client is the process-wide latent backend handle. A client with no
// configured command is permanently disabled: every call reports
// backend-unavailable without spawning anything.
type Client struct {
	cfg      config.LatentSettings
	breaker  *resilience.CircuitBreaker
	limiter  *rate.Limiter
	nextID   atomic.Uint64
	restarts atomic.Int64

	mu   sync.Mutex
	conn *conn // nil while the child is down
}

// New builds a client from config. Call Run to start the supervisor.
func New(cfg config.LatentSettings) *Client {
	return &Client{
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker("latent", 5, 15*time.Second),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// Enabled reports whether a backend command is configured at all.
func (c *Client) Enabled() bool { return len(c.cfg.Command) > 0 }

// Healthy reports whether the child is up and the breaker closed. A cheap
// pre-check for callers that want to skip a whole direction family.
func (c *Client) Healthy() bool {
	if !c.Enabled() {
		return false
	}
	c.mu.Lock()
	up := c.conn != nil
	c.mu.Unlock()
	return up && c.breaker.State() != string(resilience.StateOpen)
}

// Encode maps a feature vector into latent space.
func (c *Client) Encode(ctx context.Context, features Vector) (Vector, error) {
	resp, err := c.call(ctx, request{Op: "encode", Features: features})
	if err != nil {
		return nil, err
	}
	return resp.Latent, nil
}

// Decode maps a latent vector back to feature space.
func (c *Client) Decode(ctx context.Context, latent Vector) (Vector, error) {
	resp, err := c.call(ctx, request{Op: "decode", Latent: latent})
	if err != nil {
		return nil, err
	}
	return resp.Features, nil
}

// Interpolate returns steps feature vectors along the latent path from a to b.
func (c *Client) Interpolate(ctx context.Context, a, b Vector, steps int) ([]Vector, error) {
	resp, err := c.call(ctx, request{Op: "interpolate", A: a, B: b, Steps: steps})
	if err != nil {
		return nil, err
	}
	return resp.Path, nil
}

// Flow nudges a base feature vector along a latent direction by amount and
// returns the decoded result.
func (c *Client) Flow(ctx context.Context, base, direction Vector, amount float64) (Vector, error) {
	resp, err := c.call(ctx, request{Op: "flow", Features: base, Direction: direction, Amount: amount})
	if err != nil {
		return nil, err
	}
	return resp.Features, nil
}

// call runs one RPC through the breaker and rate limiter.
func (c *Client) call(ctx context.Context, req request) (*response, error) {
	if !c.Enabled() {
		return nil, fault.New(fault.KindBackendUnavailable, "latent."+req.Op, "backend not configured")
	}

	limitCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := c.limiter.Wait(limitCtx); err != nil {
		metrics.ObserveLatentRequest(req.Op, "unavailable", 0)
		return nil, fault.BackendUnavailable("latent."+req.Op, err)
	}

	ctx, span := telemetry.Tracer("latent").Start(ctx, "latent."+req.Op)
	span.SetAttributes(telemetry.LatentAttributes(req.Op, int(c.restarts.Load()))...)
	defer span.End()

	var resp *response
	start := time.Now()
	err := c.breaker.Execute(func() error {
		var callErr error
		resp, callErr = c.roundTrip(ctx, req)
		return callErr
	})
	elapsed := time.Since(start)
	if err != nil {
		span.SetAttributes(telemetry.ErrorAttributes(fault.KindOf(err).String())...)
	}
	switch {
	case err == nil:
		metrics.ObserveLatentRequest(req.Op, "ok", elapsed)
		return resp, nil
	case err == resilience.ErrCircuitOpen:
		metrics.ObserveLatentRequest(req.Op, "unavailable", elapsed)
		return nil, fault.BackendUnavailable("latent."+req.Op, err)
	case fault.IsKind(err, fault.KindTimedOut):
		metrics.ObserveLatentRequest(req.Op, "timeout", elapsed)
		return nil, fault.BackendUnavailable("latent."+req.Op, err)
	default:
		metrics.ObserveLatentRequest(req.Op, "error", elapsed)
		return nil, fault.BackendUnavailable("latent."+req.Op, err)
	}
}

// roundTrip writes the request and waits for its matched response.
func (c *Client) roundTrip(ctx context.Context, req request) (*response, error) {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn == nil {
		return nil, fault.New(fault.KindBackendUnavailable, "latent."+req.Op, "backend down")
	}

	req.ID = c.nextID.Add(1)
	ch, err := cn.send(req)
	if err != nil {
		return nil, err
	}
	defer cn.forget(req.ID)

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, fault.TimedOut("latent."+req.Op, ctx.Err())
	case <-timer.C:
		return nil, fault.TimedOut("latent."+req.Op, context.DeadlineExceeded)
	case resp, ok := <-ch:
		if !ok {
			return nil, fault.New(fault.KindBackendUnavailable, "latent."+req.Op, "backend exited")
		}
		if !resp.OK {
			return nil, fault.New(fault.KindBackendUnavailable, "latent."+req.Op, "backend error: %s", resp.Error)
		}
		return &resp, nil
	}
}

// setConn swaps the live connection; nil marks the child down and fails all
// pending requests.
func (c *Client) setConn(cn *conn) {
	c.mu.Lock()
	old := c.conn
	c.conn = cn
	c.mu.Unlock()
	if old != nil {
		old.failAll()
	}
}
