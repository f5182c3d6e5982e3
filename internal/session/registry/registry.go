// SPDX-License-Identifier: MIT

// Package registry is the process-wide session directory. It resolves
// incoming requests to engines by explicit id, fingerprint, cookie, or
// client IP, hands out pre-warmed sessions from a pool, and reaps
// abandoned sessions on a periodic sweep. Fingerprints live in Badger with
// a native TTL so reattachment survives daemon restarts.
package registry

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
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
	"github.com/justinTNT/tsnotfyi-sub002/internal/session"
	"github.com/justinTNT/tsnotfyi-sub002/internal/store"
)

// Resolution step labels, in precedence order.
const (
	StepExplicit    = "explicit"
	StepFingerprint = "fingerprint"
	StepCookie      = "cookie"
	StepIPOrphan    = "ip_orphan"
	StepIPRecent    = "ip_recent"
	StepPool        = "pool"
	StepCreate      = "create"
)

// ResolveRequest carries every identity hint one HTTP request can present.
type ResolveRequest struct {
	SessionID   string // explicit query/path parameter
	Fingerprint string // header or body field
	CookieID    string // session cookie
	ClientIP    string
}

// Deps are the registry's process-wide collaborators. NewMixer is a
// factory because every session owns its own mixer.
type Deps struct {
	Settings config.SessionSettings
	NewMixer func() mixer.Mixer
	Explorer *explorer.Explorer
	Index    func() *feature.Index
	Store    *store.StateStore
}

// engineDeps snapshots the settings under the lock; UpdateSettings may be
// rewriting the reloadable fields concurrently.
func (r *Registry) engineDeps() session.Deps {
	r.mu.RLock()
	settings := r.deps.Settings
	r.mu.RUnlock()
	return session.Deps{
		Settings: settings,
		Mixer:    r.deps.NewMixer(),
		Explorer: r.deps.Explorer,
		Index:    r.deps.Index,
		Store:    r.deps.Store,
	}
}

// Registry owns all live sessions.
type Registry struct {
	deps   Deps
	logger zerolog.Logger
	fps    *fingerprintStore

	mu       sync.RWMutex
	byID     map[string]*session.Engine
	ipRecent map[string]string // client IP -> last healthy session id
	pool     []*session.Engine
	closed   bool

	refillSF singleflight.Group

	stopCh     chan struct{}
	sweepReset chan struct{}
	wg         sync.WaitGroup
}

// New opens the fingerprint store and starts the idle sweeper and the pool
// refill. Callers must Shutdown.
func New(deps Deps) (*Registry, error) {
	fps, err := openFingerprintStore(deps.Settings.FingerprintDir, deps.Settings.FingerprintTTL)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		deps:       deps,
		logger:     log.WithComponent("registry"),
		fps:        fps,
		byID:       make(map[string]*session.Engine),
		ipRecent:   make(map[string]string),
		stopCh:     make(chan struct{}),
		sweepReset: make(chan struct{}, 1),
	}
	r.wg.Add(1)
	go r.sweepLoop()
	r.refillPool()
	return r, nil
}

// Get returns a live session by id.
func (r *Registry) Get(id string) (*session.Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	eng, ok := r.byID[id]
	if !ok || eng.Destroyed() {
		return nil, false
	}
	return eng, true
}

// Len reports the number of registered sessions, pool excluded.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Sessions returns the registered engines, for introspection endpoints.
func (r *Registry) Sessions() []*session.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session.Engine, 0, len(r.byID))
	for _, eng := range r.byID {
		out = append(out, eng)
	}
	return out
}

// Resolve finds or creates the session for a request. The winning
// resolution step is returned for logging and response headers. A quoted
// fingerprint is authoritative: when it resolves to nothing the miss is
// surfaced as not-found rather than falling through to weaker hints.
func (r *Registry) Resolve(ctx context.Context, req ResolveRequest) (*session.Engine, string, error) {
	if req.SessionID != "" {
		if eng, ok := r.Get(req.SessionID); ok {
			r.noteResolved(StepExplicit, eng, req.ClientIP)
			return eng, StepExplicit, nil
		}
		return nil, "", fault.NotFound("registry.resolve", "no session %q", req.SessionID)
	}

	if req.Fingerprint != "" {
		ent, ok, err := r.fps.lookup(req.Fingerprint)
		if err != nil {
			return nil, "", err
		}
		if ok {
			if eng, live := r.Get(ent.SessionID); live {
				metrics.IncFingerprintLookup("hit")
				r.fps.touch(req.Fingerprint, ent)
				r.noteResolved(StepFingerprint, eng, req.ClientIP)
				return eng, StepFingerprint, nil
			}
		}
		metrics.IncFingerprintLookup("miss")
		return nil, "", fault.NotFound("registry.resolve", "fingerprint %q resolves to nothing", req.Fingerprint)
	}

	if req.CookieID != "" {
		if eng, ok := r.Get(req.CookieID); ok {
			r.noteResolved(StepCookie, eng, req.ClientIP)
			return eng, StepCookie, nil
		}
	}

	if req.ClientIP != "" {
		if eng := r.orphanForIP(req.ClientIP); eng != nil {
			r.noteResolved(StepIPOrphan, eng, req.ClientIP)
			return eng, StepIPOrphan, nil
		}
		if eng := r.recentForIP(req.ClientIP); eng != nil {
			r.noteResolved(StepIPRecent, eng, req.ClientIP)
			return eng, StepIPRecent, nil
		}
	}

	if eng := r.checkout(req.ClientIP); eng != nil {
		r.noteResolved(StepPool, eng, req.ClientIP)
		return eng, StepPool, nil
	}

	eng, err := r.CreateSession(ctx, CreateOptions{ClientIP: req.ClientIP})
	if err != nil {
		return nil, "", err
	}
	metrics.IncSessionResolution(StepCreate)
	return eng, StepCreate, nil
}

func (r *Registry) noteResolved(step string, eng *session.Engine, ip string) {
	metrics.IncSessionResolution(step)
	eng.Touch()
	if ip != "" {
		r.mu.Lock()
		r.ipRecent[ip] = eng.ID()
		r.mu.Unlock()
	}
	r.logger.Debug().
		Str(log.FieldSessionID, eng.ID()).
		Str("step", step).
		Msg("session resolved")
}

// orphanForIP finds a same-IP session that lost its event client, the
// classic refresh-reconnect shape.
func (r *Registry) orphanForIP(ip string) *session.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, eng := range r.byID {
		if eng.Destroyed() || eng.ClientIP() != ip {
			continue
		}
		if _, events := eng.ClientCounts(); events == 0 {
			return eng
		}
	}
	return nil
}

func (r *Registry) recentForIP(ip string) *session.Engine {
	r.mu.RLock()
	id := r.ipRecent[ip]
	r.mu.RUnlock()
	if id == "" {
		return nil
	}
	eng, ok := r.Get(id)
	if !ok {
		return nil
	}
	return eng
}

// CreateOptions shape an explicit session creation.
type CreateOptions struct {
	ClientIP     string
	SeedTrackID  string // empty means auto-chosen
	PlaylistID   string // seeds from the stored playlist's first track
	ForcedNextID string // deep-link second segment
	Ephemeral    bool
}

// CreateSession builds, seeds, and registers a fresh session. The caller
// gets a session that is already decoding its seed track.
func (r *Registry) CreateSession(ctx context.Context, opts CreateOptions) (*session.Engine, error) {
	if opts.SeedTrackID == "" && opts.PlaylistID != "" {
		id, err := r.playlistSeed(ctx, opts.PlaylistID)
		if err != nil {
			return nil, err
		}
		opts.SeedTrackID = id
	}
	seed, err := r.pickSeed(opts.SeedTrackID)
	if err != nil {
		return nil, err
	}

	fp := newFingerprint()
	eng := session.NewEngine(session.Options{
		ID:          uuid.NewString(),
		Fingerprint: fp,
		ClientIP:    opts.ClientIP,
		Ephemeral:   opts.Ephemeral,
	}, r.engineDeps())
	eng.SetIdleCallback(r.onEngineIdle)

	if err := eng.Seed(ctx, seed, opts.ForcedNextID); err != nil {
		eng.Destroy("seed_failed")
		return nil, err
	}
	if err := r.register(eng, opts.ClientIP); err != nil {
		eng.Destroy("registry_closed")
		return nil, err
	}

	kind := "fresh"
	if opts.Ephemeral {
		kind = "ephemeral"
	}
	metrics.IncSessionCreated(kind)
	r.logger.Info().
		Str(log.FieldSessionID, eng.ID()).
		Str(log.FieldTrackID, seed.ID).
		Bool("ephemeral", opts.Ephemeral).
		Msg("session created")
	return eng, nil
}

func (r *Registry) register(eng *session.Engine, ip string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fault.Unavailable("registry.register", "registry is shut down")
	}
	r.byID[eng.ID()] = eng
	if ip != "" {
		r.ipRecent[ip] = eng.ID()
	}
	r.mu.Unlock()

	if fp := eng.Fingerprint(); fp != "" {
		var trackID string
		if cur := eng.CurrentTrack(); cur != nil {
			trackID = cur.ID
		}
		if err := r.fps.put(fp, eng.ID(), trackID); err != nil {
			r.logger.Warn().Err(err).Str(log.FieldSessionID, eng.ID()).Msg("fingerprint persist failed")
		}
	}
	return nil
}

// newFingerprint mints the client-facing session token: 12 lowercase hex
// characters, short enough for a header and unguessable enough for the
// fingerprint TTL window.
func newFingerprint() string {
	var b [6]byte
	_, _ = cryptorand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// playlistSeed resolves a stored playlist to its first track id.
func (r *Registry) playlistSeed(ctx context.Context, playlistID string) (string, error) {
	if r.deps.Store == nil {
		return "", fault.Unavailable("registry.seed", "no state store configured")
	}
	pl, err := r.deps.Store.GetPlaylist(ctx, playlistID)
	if err != nil {
		return "", err
	}
	if len(pl.Tracks) == 0 {
		return "", fault.InvalidArgument("registry.seed", "playlist %q is empty", playlistID)
	}
	return pl.Tracks[0], nil
}

func (r *Registry) pickSeed(seedID string) (*catalog.Track, error) {
	ix := r.deps.Index()
	if seedID != "" {
		return ix.GetTrack(catalog.NormalizeID(seedID))
	}
	tracks := ix.Tracks()
	if len(tracks) == 0 {
		return nil, fault.Unavailable("registry.seed", "catalog is empty")
	}
	return &tracks[rand.IntN(len(tracks))], nil
}

// onEngineIdle fires when an engine reports abandonment, either mixer idle
// or the zero-client grace expiring: ephemeral sessions self-destruct. The
// mixer variant fires on the mixer's own goroutine and Destroy waits for
// that goroutine to exit, so the teardown must run elsewhere.
func (r *Registry) onEngineIdle(eng *session.Engine) {
	if !eng.Ephemeral() {
		return
	}
	go r.Forget(eng.ID(), "ephemeral_idle")
}

// Forget removes and destroys one session. Its fingerprint stops
// resolving immediately.
func (r *Registry) Forget(id, reason string) {
	r.mu.Lock()
	eng, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		for ip, sid := range r.ipRecent {
			if sid == id {
				delete(r.ipRecent, ip)
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if fp := eng.Fingerprint(); fp != "" {
		r.fps.drop(fp)
	}
	eng.Destroy(reason)
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.sweepReset:
			ticker.Reset(r.sweepInterval())
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweepInterval() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if iv := r.deps.Settings.SweepInterval; iv > 0 {
		return iv
	}
	return time.Minute
}

// sweep destroys sessions nobody is using. Reconnection is normal, so the
// TTL is long; zero clients alone never kills a session.
func (r *Registry) sweep() {
	r.mu.RLock()
	ttl := r.deps.Settings.IdleTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	var stale []*session.Engine
	for _, eng := range r.byID {
		audio, events := eng.ClientCounts()
		if audio == 0 && events == 0 && time.Since(eng.LastAccess()) > ttl {
			stale = append(stale, eng)
		}
	}
	r.mu.RUnlock()
	for _, eng := range stale {
		r.logger.Info().Str(log.FieldSessionID, eng.ID()).Msg("idle sweep reaping session")
		r.Forget(eng.ID(), "idle_sweep")
	}
}

// UpdateSettings applies the reloadable subset of session settings: idle
// TTL, sweep interval, and pool size. Structural knobs (queue lengths,
// heartbeat cadence) stay fixed for the process lifetime; running engines
// keep the settings they were built with.
func (r *Registry) UpdateSettings(s config.SessionSettings) {
	r.mu.Lock()
	r.deps.Settings.IdleTTL = s.IdleTTL
	r.deps.Settings.SweepInterval = s.SweepInterval
	r.deps.Settings.PoolSize = s.PoolSize
	r.mu.Unlock()

	select {
	case r.sweepReset <- struct{}{}:
	default:
	}
	r.refillPool()
}

// Shutdown destroys every session (pool included), flushing bye frames,
// and closes the fingerprint store.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	engines := make([]*session.Engine, 0, len(r.byID)+len(r.pool))
	for _, eng := range r.byID {
		engines = append(engines, eng)
	}
	engines = append(engines, r.pool...)
	r.byID = make(map[string]*session.Engine)
	r.pool = nil
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()

	for _, eng := range engines {
		eng.Destroy("shutdown")
	}
	if err := r.fps.close(); err != nil {
		r.logger.Warn().Err(err).Msg("fingerprint store close failed")
	}
	r.logger.Info().Int("sessions", len(engines)).Msg("registry shut down")
}
