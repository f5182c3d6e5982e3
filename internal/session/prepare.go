// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"time"

	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
	"github.com/justinTNT/tsnotfyi-sub002/internal/explorer"
	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
	"github.com/justinTNT/tsnotfyi-sub002/internal/metrics"
	"github.com/justinTNT/tsnotfyi-sub002/internal/telemetry"
)

const crossfadePollInterval = 20 * time.Millisecond

func (e *Engine) prepareNextAsync(reason string) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()
	go func() {
		defer e.wg.Done()
		if err := e.prepareNext(e.stopCtx); err != nil {
			e.logger.Warn().
				Err(err).
				Str(log.FieldReason, reason).
				Msg("prepare-next failed")
		}
	}()
}

// prepareNext lines up the mixer's next lane. Concurrent calls coalesce
// into a single run; the inflight counter backs the at-most-one invariant.
// A run reads the buffered override once, at its loop top, so a commit
// that lands while a run is already in flight joins that run without being
// consumed. The outer loop catches that case: if an override is still
// buffered when the run returns, it starts a fresh run immediately rather
// than leaving the override for whatever prepare happens next.
func (e *Engine) prepareNext(ctx context.Context) error {
	for {
		_, err, _ := e.prepSF.Do("prepare-next", func() (any, error) {
			n := e.prepInflight.Add(1)
			for {
				peak := e.prepPeak.Load()
				if n <= peak || e.prepPeak.CompareAndSwap(peak, n) {
					break
				}
			}
			metrics.PrepareInflight.Inc()
			defer func() {
				e.prepInflight.Add(-1)
				metrics.PrepareInflight.Dec()
			}()

			ctx, span := telemetry.Tracer("session").Start(ctx, "session.prepare_next")
			span.SetAttributes(telemetry.SessionAttributes(e.id, "", e.ephemeral)...)
			defer span.End()
			err := e.runPrepare(ctx)
			if err != nil {
				span.SetAttributes(telemetry.ErrorAttributes(fault.KindOf(err).String())...)
			}
			return nil, err
		})

		e.mu.RLock()
		pending := e.pendingOverrideID != "" && !e.destroyed
		e.mu.RUnlock()
		if !pending || ctx.Err() != nil {
			return err
		}
	}
}

// runPrepare is the prepare-next protocol. Target priority: pending
// override (last writer wins), then the locked selection, then the freshest
// snapshot recommendation. Decode failures walk the snapshot's ranked
// candidates, bounded by the retry budget; the whole attempt is bounded by
// a soft deadline, and abandoning leaves the lane empty.
func (e *Engine) runPrepare(ctx context.Context) (err error) {
	timeout := e.cfg.PrepareTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	retries := e.cfg.PrepareRetries
	if retries <= 0 {
		retries = 3
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	outcome := "failed"
	defer func() { metrics.ObservePrepareNext(outcome, time.Since(start)) }()

	var (
		snap        *explorer.Snapshot
		candidates  []explorer.NextPick
		candIdx     int
		overrideDir string
		failures    int
	)

	for iter := 0; iter < retries+8; iter++ {
		if ctx.Err() != nil {
			outcome = "deadline"
			return fault.TimedOut("session.prepare", ctx.Err())
		}

		e.mu.Lock()
		if e.destroyed {
			e.mu.Unlock()
			outcome = "destroyed"
			return fault.Unavailable("session.prepare", "session destroyed")
		}
		if e.current == nil {
			e.mu.Unlock()
			outcome = "not_playing"
			return fault.Unavailable("session.prepare", "session has no current track")
		}
		if e.pendingOverrideID != "" {
			e.lockedNextID = e.pendingOverrideID
			overrideDir = e.pendingOverrideDir
			e.pendingOverrideID = ""
			e.pendingOverrideDir = ""
			// An override invalidates any candidate walk in progress.
			candidates = nil
			snap = nil
		}
		targetID := e.lockedNextID
		currentID := e.current.ID
		resolution := e.resolution
		e.mu.Unlock()

		var target *catalog.Track
		var direction string

		if targetID != "" {
			t, lookupErr := e.index().GetTrack(targetID)
			if lookupErr != nil {
				// Never target an unknown id twice: drop the lock and
				// fall back to the snapshot recommendation.
				e.mu.Lock()
				if e.lockedNextID == targetID {
					e.lockedNextID = ""
				}
				e.mu.Unlock()
				e.emitSelectionFailed(targetID, "unknown track")
				continue
			}
			target = t
			direction = overrideDir
		} else {
			if candidates == nil {
				snap, err = e.snapshotForPrepare(ctx, currentID, resolution)
				if err != nil {
					outcome = "snapshot_failed"
					e.emitNextTrackFailed("no reachable neighborhood")
					return err
				}
				candidates = snap.RankedCandidates()
				candIdx = 0
			}
			if candIdx >= len(candidates) {
				outcome = "exhausted"
				e.emitNextTrackFailed("no playable candidate")
				return fault.Unavailable("session.prepare", "candidate list exhausted")
			}
			pick := candidates[candIdx]
			candIdx++
			t, ok := snap.TrackRef(pick.Track.Identifier)
			if !ok {
				continue
			}
			target = t
			direction = pick.DirectionKey
		}

		// Never clear the next lane mid-fade; wait the fade out.
		if waitErr := e.awaitFadeEnd(ctx); waitErr != nil {
			outcome = "deadline"
			return waitErr
		}

		if st := e.mx.Status(); st.Next != nil {
			if st.Next.ID == target.ID {
				e.adoptPrepared(target, direction)
				outcome = "noop"
				return nil
			}
			if !e.mx.ClearNextSlot() {
				// A fade started between the wait and the clear.
				continue
			}
			e.mu.Lock()
			e.next = nil
			e.nextDirection = ""
			e.mu.Unlock()
		}

		if setErr := e.mx.SetNext(target); setErr != nil {
			if fault.KindOf(setErr) == fault.KindDecodeFailed {
				failures++
				e.logger.Warn().
					Str(log.FieldTrackID, target.ID).
					Err(setErr).
					Msg("next candidate failed to decode")
				e.mu.Lock()
				if e.lockedNextID == target.ID {
					e.lockedNextID = ""
				}
				e.mu.Unlock()
				if failures >= retries {
					outcome = "exhausted"
					e.emitNextTrackFailed("decode retries exhausted")
					return setErr
				}
			}
			continue
		}

		e.adoptPrepared(target, direction)
		outcome = "ok"
		return nil
	}

	outcome = "exhausted"
	e.emitNextTrackFailed("prepare gave up")
	return fault.Unavailable("session.prepare", "prepare gave up after repeated contention")
}

// adoptPrepared records a successfully loaded next lane and announces it.
func (e *Engine) adoptPrepared(target *catalog.Track, direction string) {
	e.mu.Lock()
	e.next = target
	e.nextDirection = direction
	if direction != "" {
		e.currentDirection = direction
	}
	hb := e.buildHeartbeatLocked()
	e.publishLocked(outFrame{EventHeartbeat, hb})
}

// awaitFadeEnd polls the mixer until the crossfade completes or the
// deadline expires.
func (e *Engine) awaitFadeEnd(ctx context.Context) error {
	for e.mx.Status().IsCrossfading {
		select {
		case <-ctx.Done():
			return fault.TimedOut("session.prepare", ctx.Err())
		case <-time.After(crossfadePollInterval):
		}
	}
	return nil
}

// snapshotForPrepare computes a fresh snapshot with recent history
// excluded, and remembers it for deck promotion.
func (e *Engine) snapshotForPrepare(ctx context.Context, currentID, resolution string) (*explorer.Snapshot, error) {
	e.mu.RLock()
	exclude := make(map[string]struct{}, len(e.history))
	for _, id := range e.history {
		exclude[id] = struct{}{}
	}
	e.mu.RUnlock()

	snap, _, err := e.exp.Snapshot(ctx, currentID, resolution, explorer.Filters{ExcludeIDs: exclude})
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.lastSnapshot = snap
	e.mu.Unlock()
	return snap, nil
}

func (e *Engine) emitNextTrackFailed(reason string) {
	e.mu.RLock()
	hdr := e.headerLocked(EventNextTrackFailed)
	e.mu.RUnlock()
	e.events.broadcast(EventNextTrackFailed, encodeFrame(nextTrackFailedFrame{
		frameHeader: hdr, Reason: reason,
	}))
}
