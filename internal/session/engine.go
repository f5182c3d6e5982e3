// SPDX-License-Identifier: MIT

// Package session holds the per-listener engine: one mixer, one event hub,
// the exploration state (current/next/override/history), and the
// prepare-next machinery. All mutations run under the session mutex; the
// engine is the only writer of its own state.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
	"github.com/justinTNT/tsnotfyi-sub002/internal/config"
	"github.com/justinTNT/tsnotfyi-sub002/internal/explorer"
	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
	"github.com/justinTNT/tsnotfyi-sub002/internal/feature"
	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
	"github.com/justinTNT/tsnotfyi-sub002/internal/metrics"
	"github.com/justinTNT/tsnotfyi-sub002/internal/mixer"
	"github.com/justinTNT/tsnotfyi-sub002/internal/store"
)

// Session lifecycle states.
const (
	StateBootstrapping = "bootstrapping"
	StatePlaying       = "playing"
	StateTransitioning = "transitioning"
	StateDestroyed     = "destroyed"
)

// Deps are the process-wide collaborators an engine runs against.
type Deps struct {
	Settings config.SessionSettings
	Mixer    mixer.Mixer
	Explorer *explorer.Explorer
	Index    func() *feature.Index
	// Store is optional; when nil, play stats and ratings are not
	// persisted.
	Store *store.StateStore
}

// Options identify one session.
type Options struct {
	ID          string
	Fingerprint string
	ClientIP    string
	Ephemeral   bool
}

// Engine drives one session.
type Engine struct {
	id          string
	fingerprint string
	clientIP    string
	ephemeral   bool
	createdAt   time.Time

	cfg    config.SessionSettings
	mx     mixer.Mixer
	exp    *explorer.Explorer
	index  func() *feature.Index
	st     *store.StateStore
	events *eventHub
	logger zerolog.Logger

	mu                 sync.RWMutex
	current            *catalog.Track
	trackStartedAt     time.Time
	currentDirection   string
	next               *catalog.Track
	nextDirection      string
	lockedNextID       string
	pendingOverrideID  string
	pendingOverrideDir string
	history            []string
	lastAccess         time.Time
	lastHeartbeat      []byte
	lastSnapshot       *explorer.Snapshot
	resolution         string
	audioIDs           map[string]struct{}
	destroyed          bool
	idleCb             func(*Engine)
	idleTimer          *time.Timer

	// bcastMu orders handoffs to the event hub: a frame built later under
	// e.mu must never reach clients before an earlier one.
	bcastMu sync.Mutex

	prepSF       singleflight.Group
	prepInflight atomic.Int32
	prepPeak     atomic.Int32

	stopCtx  context.Context
	stopFunc context.CancelFunc
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewEngine wires an engine to its mixer and starts the heartbeat loop.
func NewEngine(opts Options, deps Deps) *Engine {
	e := &Engine{
		id:          opts.ID,
		fingerprint: opts.Fingerprint,
		clientIP:    opts.ClientIP,
		ephemeral:   opts.Ephemeral,
		createdAt:   time.Now(),
		cfg:         deps.Settings,
		mx:          deps.Mixer,
		exp:         deps.Explorer,
		index:       deps.Index,
		st:          deps.Store,
		events:      newEventHub(deps.Settings.EventQueueLen),
		logger:      log.WithComponent("session").With().Str(log.FieldSessionID, opts.ID).Logger(),
		lastAccess:  time.Now(),
		resolution:  explorer.NormalizeResolution(""),
		audioIDs:    make(map[string]struct{}),
		stopCh:      make(chan struct{}),
	}
	e.stopCtx, e.stopFunc = context.WithCancel(context.Background())

	e.mx.OnTrackCommitted(e.onTrackCommitted)
	e.mx.OnDecodeFailed(e.onDecodeFailed)
	e.mx.OnIdle(e.onIdle)

	e.wg.Add(1)
	go e.heartbeatLoop()
	return e
}

func (e *Engine) ID() string           { return e.id }
func (e *Engine) Ephemeral() bool      { return e.ephemeral }
func (e *Engine) CreatedAt() time.Time { return e.createdAt }

func (e *Engine) Fingerprint() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fingerprint
}

func (e *Engine) ClientIP() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clientIP
}

// Bind attaches client identity to a session that was created without one,
// typically a pool checkout. Empty arguments leave the existing value.
func (e *Engine) Bind(fingerprint, clientIP string) {
	e.mu.Lock()
	if fingerprint != "" {
		e.fingerprint = fingerprint
	}
	if clientIP != "" {
		e.clientIP = clientIP
	}
	e.lastAccess = time.Now()
	e.mu.Unlock()
}

// SetIdleCallback registers the registry's ephemeral-cleanup hook. Must be
// called before the mixer can go idle (i.e. before Seed).
func (e *Engine) SetIdleCallback(cb func(*Engine)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idleCb = cb
}

// Touch refreshes the last-access stamp.
func (e *Engine) Touch() {
	e.mu.Lock()
	e.lastAccess = time.Now()
	e.mu.Unlock()
}

// LastAccess returns the last-access stamp.
func (e *Engine) LastAccess() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastAccess
}

// Destroyed reports whether Destroy has run.
func (e *Engine) Destroyed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.destroyed
}

// State derives the lifecycle state.
func (e *Engine) State() string {
	e.mu.RLock()
	destroyed, current := e.destroyed, e.current
	e.mu.RUnlock()
	switch {
	case destroyed:
		return StateDestroyed
	case current == nil:
		return StateBootstrapping
	case e.mx.Status().IsCrossfading:
		return StateTransitioning
	default:
		return StatePlaying
	}
}

// ClientCounts returns (audio, event) client counts.
func (e *Engine) ClientCounts() (int, int) {
	e.mu.RLock()
	audio := len(e.audioIDs)
	e.mu.RUnlock()
	return audio, e.events.count()
}

// CurrentTrack returns the playing track, nil before bootstrap completes.
func (e *Engine) CurrentTrack() *catalog.Track {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// NextTrack returns the prepared next track and its direction.
func (e *Engine) NextTrack() (*catalog.Track, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.next, e.nextDirection
}

// History returns played identifiers, oldest first.
func (e *Engine) History() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.history...)
}

// Resolution returns the explorer resolution knob.
func (e *Engine) Resolution() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolution
}

// MixerIdle reports whether the mixer has nothing playing.
func (e *Engine) MixerIdle() bool {
	st := e.mx.Status()
	return st.Current == nil && st.Next == nil
}

// Seed starts playback with the given track and kicks off the first
// prepare. Deep links may also pass a forcedNextID which is committed as a
// locked selection.
func (e *Engine) Seed(ctx context.Context, seed *catalog.Track, forcedNextID string) error {
	if err := e.mx.Start(seed); err != nil {
		return err
	}
	if forcedNextID != "" {
		e.mu.Lock()
		e.pendingOverrideID = forcedNextID
		e.pendingOverrideDir = ""
		e.mu.Unlock()
	}
	e.prepareNextAsync("seed")
	return nil
}

// AttachAudioClient registers a PCM sink with the mixer and returns its
// frame queue.
func (e *Engine) AttachAudioClient(id string) <-chan []byte {
	e.mu.Lock()
	e.audioIDs[id] = struct{}{}
	e.lastAccess = time.Now()
	e.stopIdleTimerLocked()
	e.mu.Unlock()
	return e.mx.Attach(id)
}

// DetachAudioClient removes a PCM sink.
func (e *Engine) DetachAudioClient(id string) {
	e.mu.Lock()
	delete(e.audioIDs, id)
	e.mu.Unlock()
	e.mx.Detach(id)
	e.maybeArmIdleTimer()
}

// AttachEventClient registers an event sink. The client immediately gets a
// connected frame, then either the latest heartbeat (when a track is
// playing) or bootstrap_pending.
func (e *Engine) AttachEventClient(id string) <-chan []byte {
	e.mu.Lock()
	e.lastAccess = time.Now()
	e.stopIdleTimerLocked()
	replay := [][]byte{encodeFrame(bareFrame{frameHeader: e.headerLocked(EventConnected)})}
	if e.current != nil && e.lastHeartbeat != nil {
		replay = append(replay, e.lastHeartbeat)
	} else {
		replay = append(replay, encodeFrame(bareFrame{frameHeader: e.headerLocked(EventBootstrapPending)}))
	}
	e.mu.Unlock()

	return e.events.attachWithReplay(id, replay)
}

// DetachEventClient removes an event sink.
func (e *Engine) DetachEventClient(id string) {
	e.events.detach(id)
	e.maybeArmIdleTimer()
}

// stopIdleTimerLocked cancels the zero-client countdown. Callers hold e.mu.
func (e *Engine) stopIdleTimerLocked() {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
}

// maybeArmIdleTimer starts the abandonment countdown on an ephemeral
// session once its last client disconnects. A healthy catalog keeps the
// mixer's lanes filled forever, so mixer idle alone never fires for an
// abandoned deep-link session; the grace timer covers that case.
func (e *Engine) maybeArmIdleTimer() {
	if !e.ephemeral {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed || len(e.audioIDs) > 0 || e.events.count() > 0 {
		return
	}
	grace := e.cfg.EphemeralGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	e.stopIdleTimerLocked()
	e.idleTimer = time.AfterFunc(grace, e.idleGraceExpired)
}

// idleGraceExpired fires on the timer goroutine; the registry hook hops to
// a fresh goroutine before destroying, so teardown never joins us.
func (e *Engine) idleGraceExpired() {
	e.mu.RLock()
	cb := e.idleCb
	abandoned := !e.destroyed && len(e.audioIDs) == 0
	e.mu.RUnlock()
	if !abandoned || e.events.count() > 0 || cb == nil {
		return
	}
	e.logger.Debug().Msg("no clients within the grace window, session abandoned")
	cb(e)
}

// RequestSnapshot resolves the source (empty means the current track) and
// returns a neighborhood snapshot. Pure: no session state changes beyond
// remembering the snapshot for deck promotion.
func (e *Engine) RequestSnapshot(ctx context.Context, sourceID string, excludeIDs []string, dampen []string) (*explorer.Snapshot, error) {
	e.mu.Lock()
	e.lastAccess = time.Now()
	if sourceID == "" {
		if e.current == nil {
			e.mu.Unlock()
			return nil, fault.Unavailable("session.snapshot", "session has no current track yet")
		}
		sourceID = e.current.ID
	}
	resolution := e.resolution
	e.mu.Unlock()

	filters := explorer.Filters{}
	if len(excludeIDs) > 0 {
		filters.ExcludeIDs = make(map[string]struct{}, len(excludeIDs))
		for _, id := range excludeIDs {
			filters.ExcludeIDs[catalog.NormalizeID(id)] = struct{}{}
		}
	}
	if len(dampen) > 0 {
		filters.Dampen = make(map[string]struct{}, len(dampen))
		for _, key := range dampen {
			filters.Dampen[key] = struct{}{}
		}
	}

	snap, _, err := e.exp.Snapshot(ctx, catalog.NormalizeID(sourceID), resolution, filters)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.lastSnapshot = snap
	e.mu.Unlock()
	return snap, nil
}

// CommitNextSelection routes a user's pick. Returns the ack status:
// "promoted" (deck fast path), "queued" (general path), or "noop" (already
// prepared).
func (e *Engine) CommitNextSelection(ctx context.Context, trackID, direction, origin string) (string, error) {
	id := catalog.NormalizeID(trackID)
	if !catalog.ValidID(id) {
		e.emitSelectionFailed(id, "malformed track identifier")
		metrics.IncSelection("invalid")
		return "", fault.InvalidArgument("session.commit", "malformed track identifier %q", trackID)
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return "", fault.Unavailable("session.commit", "session destroyed")
	}
	e.lastAccess = time.Now()

	// Committing the already-prepared next is a no-op.
	if e.next != nil && e.next.ID == id {
		hdr := e.headerLocked(EventSelectionAck)
		e.mu.Unlock()
		e.events.broadcast(EventSelectionAck, encodeFrame(selectionAckFrame{
			frameHeader: hdr, TrackID: id, Status: "noop", Direction: direction,
		}))
		metrics.IncSelection("noop")
		return "noop", nil
	}

	// Deck fast path: the pick came from the snapshot we handed out, so no
	// index query is needed.
	if origin == "deck" {
		if dir, ok := e.tryDeckPromoteLocked(id, direction); ok {
			hdr := e.headerLocked(EventSelectionAck)
			hb := e.buildHeartbeatLocked()
			ack := encodeFrame(selectionAckFrame{
				frameHeader: hdr, TrackID: id, Status: "promoted", Direction: dir,
			})
			e.publishLocked(outFrame{EventSelectionAck, ack}, outFrame{EventHeartbeat, hb})
			metrics.IncSelection("promoted")
			return "promoted", nil
		}
	}

	// General path: the id must at least exist.
	if _, err := e.index().GetTrack(id); err != nil {
		e.mu.Unlock()
		e.emitSelectionFailed(id, "unknown track")
		metrics.IncSelection("invalid")
		return "", fault.InvalidArgument("session.commit", "unknown track %q", id)
	}

	// Last writer wins.
	e.pendingOverrideID = id
	e.pendingOverrideDir = direction
	hdr := e.headerLocked(EventSelectionAck)
	e.mu.Unlock()

	e.events.broadcast(EventSelectionAck, encodeFrame(selectionAckFrame{
		frameHeader: hdr, TrackID: id, Status: "queued", Direction: direction,
	}))
	metrics.IncSelection("queued")
	e.prepareNextAsync("override")
	return "queued", nil
}

// tryDeckPromoteLocked promotes a snapshot-offered pick straight into the
// mixer's next lane. Callers hold e.mu. Returns the effective direction on
// success; any obstacle (not offered, crossfading, occupied lane, decode
// failure) falls back to the queued path.
func (e *Engine) tryDeckPromoteLocked(id, direction string) (string, bool) {
	if e.lastSnapshot == nil {
		return "", false
	}
	dirKey, offered := e.lastSnapshot.Contains(id)
	if !offered {
		return "", false
	}
	tr, ok := e.lastSnapshot.TrackRef(id)
	if !ok || e.mx.Status().IsCrossfading {
		return "", false
	}
	if e.next != nil {
		if !e.mx.ClearNextSlot() {
			return "", false
		}
		e.next = nil
		e.nextDirection = ""
	}
	if err := e.mx.SetNext(tr); err != nil {
		return "", false
	}
	if direction == "" {
		direction = dirKey
	}
	e.next = tr
	e.nextDirection = direction
	e.currentDirection = direction
	e.lockedNextID = id
	return direction, true
}

// SyncInfo is the HeartbeatSync reply.
type SyncInfo struct {
	CurrentTrack *catalog.Track
	NextTrack    *catalog.Track
	ElapsedMs    int64
	RemainingMs  int64
	DurationMs   int64
	Drift        bool
}

// HeartbeatSync reports authoritative timing. Drift is set when the
// client's view of the next track disagrees with the server's.
func (e *Engine) HeartbeatSync(clientNextID string) SyncInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	info := SyncInfo{CurrentTrack: e.current, NextTrack: e.next}
	if e.current != nil {
		info.DurationMs = e.current.Duration.Milliseconds()
		info.ElapsedMs = time.Since(e.trackStartedAt).Milliseconds()
		if info.ElapsedMs > info.DurationMs {
			info.ElapsedMs = info.DurationMs
		}
		info.RemainingMs = info.DurationMs - info.ElapsedMs
	}
	if clientNextID != "" {
		want := catalog.NormalizeID(clientNextID)
		info.Drift = e.next == nil || e.next.ID != want
	}
	return info
}

// ResetOverride clears pending and locked selections; the next prepare
// follows automatic policy again.
func (e *Engine) ResetOverride() {
	e.mu.Lock()
	e.pendingOverrideID = ""
	e.pendingOverrideDir = ""
	e.lockedNextID = ""
	e.lastAccess = time.Now()
	hb := e.buildHeartbeatLocked()
	e.publishLocked(outFrame{EventHeartbeat, hb})
}

// ForceNext triggers the crossfade now, preparing a next synchronously
// first if none is loaded.
func (e *Engine) ForceNext(ctx context.Context) error {
	e.mu.RLock()
	hasNext := e.next != nil
	e.mu.RUnlock()
	if !hasNext {
		if err := e.prepareNext(ctx); err != nil {
			return err
		}
	}
	return e.mx.TriggerTransition()
}

// SetResolution changes the explorer resolution knob; legacy zoom names
// alias to adaptive. Broadcasts a heartbeat when the knob changed.
func (e *Engine) SetResolution(mode string) string {
	norm := explorer.NormalizeResolution(mode)
	e.mu.Lock()
	changed := norm != e.resolution
	e.resolution = norm
	e.lastAccess = time.Now()
	if !changed {
		e.mu.Unlock()
		return norm
	}
	hb := e.buildHeartbeatLocked()
	e.publishLocked(outFrame{EventHeartbeat, hb})
	return norm
}

// Refresh services /refresh-sse stages. "session" is resolved a level up,
// in the registry.
func (e *Engine) Refresh(stage string) error {
	switch stage {
	case "rebroadcast":
		e.mu.Lock()
		if e.current == nil {
			hdr := e.headerLocked(EventBootstrapPending)
			e.mu.Unlock()
			e.events.broadcast(EventBootstrapPending, encodeFrame(bareFrame{frameHeader: hdr}))
			return nil
		}
		hb := e.buildHeartbeatLocked()
		e.publishLocked(outFrame{EventHeartbeat, hb})
		return nil
	case "restart":
		e.mu.RLock()
		current := e.current
		e.mu.RUnlock()
		if current == nil {
			return fault.InvalidArgument("session.refresh", "nothing playing to restart")
		}
		// Reload the current track into the next lane and fade to it.
		// Decode restarts from the top of the file; the fade keeps the
		// stream continuous.
		e.mx.ClearNextSlot()
		if err := e.mx.SetNext(current); err != nil {
			return err
		}
		if err := e.mx.TriggerTransition(); err != nil {
			return err
		}
		// Timing was renegotiated: tell clients the clock rewound.
		e.mu.RLock()
		frame := encodeFrame(seekSyncFrame{
			frameHeader: e.headerLocked(EventSeekSync),
			Timing: timingInfo{
				ElapsedMs:   0,
				RemainingMs: current.Duration.Milliseconds(),
			},
		})
		e.mu.RUnlock()
		e.events.broadcast(EventSeekSync, frame)
		return nil
	case "session":
		return fault.InvalidArgument("session.refresh", "stage %q is handled by the registry", stage)
	default:
		return fault.InvalidArgument("session.refresh", "unknown refresh stage %q", stage)
	}
}

// Destroy tears the session down: stops the heartbeat loop, flushes a
// terminal bye frame, closes sinks and the mixer. Idempotent.
func (e *Engine) Destroy(reason string) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
	hdr := e.headerLocked(EventBye)
	e.mu.Unlock()

	e.stopFunc()
	close(e.stopCh)
	e.wg.Wait()

	e.events.close(encodeFrame(byeFrame{frameHeader: hdr, Reason: reason}))
	_ = e.mx.Close()
	metrics.IncSessionDestroyed(reason)
	e.logger.Info().Str(log.FieldReason, reason).Msg("session destroyed")
}

type outFrame struct {
	event string
	data  []byte
}

// publishLocked hands frames built under e.mu to the hub in build order.
// The broadcast lock is taken before e.mu is released, so a frame built by
// a later writer cannot overtake one built earlier. Callers must hold the
// e.mu write lock; it is released here.
func (e *Engine) publishLocked(frames ...outFrame) {
	e.bcastMu.Lock()
	e.mu.Unlock()
	for _, f := range frames {
		if f.data != nil {
			e.events.broadcast(f.event, f.data)
		}
	}
	e.bcastMu.Unlock()
}

// --- mixer hooks ---

func (e *Engine) onTrackCommitted(track *catalog.Track, forced bool) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	prev := e.current
	prevStarted := e.trackStartedAt

	e.current = track
	e.trackStartedAt = time.Now()
	direction := e.currentDirection
	if e.next != nil && e.next.ID == track.ID {
		direction = e.nextDirection
		e.currentDirection = e.nextDirection
	}
	e.next = nil
	e.nextDirection = ""
	if e.lockedNextID == track.ID {
		e.lockedNextID = ""
	}

	// History only grows here; every entry actually started streaming.
	e.history = append(e.history, track.ID)
	if max := e.cfg.HistorySize; max > 0 && len(e.history) > max {
		e.history = e.history[len(e.history)-max:]
	}

	tsHdr := e.headerLocked(EventTrackStarted)
	started := encodeFrame(trackStartedFrame{
		frameHeader: tsHdr,
		Track:       e.trackInfoLocked(track),
		Direction:   direction,
	})
	hb := e.buildHeartbeatLocked()

	// track_started strictly precedes any heartbeat naming this track,
	// including a periodic one racing the commit: both paths hand their
	// frames to the hub under the broadcast lock, in build order.
	e.publishLocked(outFrame{EventTrackStarted, started}, outFrame{EventHeartbeat, hb})

	if prev != nil && e.st != nil {
		listened := time.Since(prevStarted)
		store.LogRecordPlayError(prev.ID, e.st.RecordPlay(context.Background(), prev.ID, listened))
	}

	e.logger.Info().
		Str(log.FieldTrackID, track.ID).
		Str(log.FieldDirection, direction).
		Bool("forced", forced).
		Msg("track committed")

	// Keep the radio flowing.
	e.prepareNextAsync("after_commit")
}

func (e *Engine) onDecodeFailed(trackID string) {
	e.logger.Warn().
		Str(log.FieldTrackID, trackID).
		Msg("current lane decode failed, silence substituted")
	// The lane rides out its declared duration on silence; make sure a
	// next is lined up so the fade out of the silence is seamless.
	e.prepareNextAsync("decode_failure")
}

func (e *Engine) onIdle() {
	e.mu.RLock()
	cb := e.idleCb
	destroyed := e.destroyed
	e.mu.RUnlock()
	if destroyed {
		return
	}
	e.logger.Debug().Msg("mixer idle")
	if cb != nil {
		cb(e)
	}
}

// --- frames ---

func (e *Engine) headerLocked(eventType string) frameHeader {
	return frameHeader{
		Type:        eventType,
		Timestamp:   nowMs(),
		SessionID:   e.id,
		Fingerprint: e.fingerprint,
	}
}

func (e *Engine) trackInfoLocked(t *catalog.Track) trackInfo {
	return trackInfo{
		Identifier: catalog.NormalizeID(t.ID),
		Title:      t.Title,
		Artist:     t.Artist,
		StartTime:  e.trackStartedAt.UnixMilli(),
		DurationMs: t.Duration.Milliseconds(),
	}
}

// buildHeartbeatLocked renders the heartbeat frame and caches it for
// replay. Callers hold e.mu.
func (e *Engine) buildHeartbeatLocked() []byte {
	hb := heartbeatFrame{
		frameHeader: e.headerLocked(EventHeartbeat),
		Drift:       driftInfo{CurrentDirection: e.currentDirection},
		Session: sessionInfo{
			ID:           e.id,
			AudioClients: len(e.audioIDs),
			EventClients: e.events.count(),
		},
	}
	if e.current != nil {
		ti := e.trackInfoLocked(e.current)
		hb.CurrentTrack = &ti
		elapsed := time.Since(e.trackStartedAt).Milliseconds()
		if elapsed > ti.DurationMs {
			elapsed = ti.DurationMs
		}
		hb.Timing = timingInfo{ElapsedMs: elapsed, RemainingMs: ti.DurationMs - elapsed}
	}
	if e.next != nil {
		hb.NextTrack = &nextInfo{
			Track: trackInfo{
				Identifier: catalog.NormalizeID(e.next.ID),
				Title:      e.next.Title,
				Artist:     e.next.Artist,
				DurationMs: e.next.Duration.Milliseconds(),
			},
			Direction: e.nextDirection,
		}
	}
	switch {
	case e.pendingOverrideID != "":
		hb.Override = &overrideInfo{
			Identifier: e.pendingOverrideID,
			Status:     "pending",
			Direction:  e.pendingOverrideDir,
		}
	case e.lockedNextID != "":
		hb.Override = &overrideInfo{
			Identifier: e.lockedNextID,
			Status:     "locked",
			Direction:  e.nextDirection,
		}
	}
	b := encodeFrame(hb)
	e.lastHeartbeat = b
	return b
}

func (e *Engine) emitSelectionFailed(trackID, reason string) {
	e.mu.RLock()
	hdr := e.headerLocked(EventSelectionFailed)
	e.mu.RUnlock()
	e.events.broadcast(EventSelectionFailed, encodeFrame(selectionFailedFrame{
		frameHeader: hdr, TrackID: trackID, Reason: reason,
	}))
}

func (e *Engine) heartbeatLoop() {
	defer e.wg.Done()
	interval := e.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.mu.Lock()
			if e.destroyed || e.current == nil {
				e.mu.Unlock()
				continue
			}
			hb := e.buildHeartbeatLocked()
			e.publishLocked(outFrame{EventHeartbeat, hb})
		}
	}
}
