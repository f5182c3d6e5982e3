// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/justinTNT/tsnotfyi-sub002/internal/cache"
	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
	"github.com/justinTNT/tsnotfyi-sub002/internal/config"
	"github.com/justinTNT/tsnotfyi-sub002/internal/explorer"
	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
	"github.com/justinTNT/tsnotfyi-sub002/internal/feature"
	"github.com/justinTNT/tsnotfyi-sub002/internal/mixer"
	"github.com/justinTNT/tsnotfyi-sub002/internal/mixer/decode"
)

func testID(n int) string { return fmt.Sprintf("%032x", n) }

func testTracks(dur time.Duration) []catalog.Track {
	tracks := make([]catalog.Track, 0, 40)
	for i := 0; i < 40; i++ {
		tracks = append(tracks, catalog.Track{
			ID:       testID(i),
			Title:    fmt.Sprintf("track %d", i),
			Artist:   fmt.Sprintf("artist %d", i%4),
			Duration: dur,
			Features: map[string]float64{
				"bpm":    float64(90 + (i%8)*8),
				"energy": 0.15 + 0.08*float64(i/8),
			},
		})
	}
	return tracks
}

type testEnv struct {
	eng    *Engine
	stub   *decode.StubFactory
	ix     atomic.Pointer[feature.Index]
	tracks []catalog.Track
}

type envOption func(*config.SessionSettings, *config.MixerSettings, *time.Duration)

func withCrossfadeLead(d time.Duration) envOption {
	return func(_ *config.SessionSettings, m *config.MixerSettings, _ *time.Duration) {
		m.CrossfadeLead = d
	}
}

func withTrackDuration(d time.Duration) envOption {
	return func(_ *config.SessionSettings, _ *config.MixerSettings, dur *time.Duration) {
		*dur = d
	}
}

func withHeartbeatInterval(d time.Duration) envOption {
	return func(s *config.SessionSettings, _ *config.MixerSettings, _ *time.Duration) {
		s.HeartbeatInterval = d
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	sessCfg := config.SessionSettings{
		HeartbeatInterval: time.Hour, // tests drive heartbeats explicitly
		HistorySize:       8,
		PrepareTimeout:    3 * time.Second,
		PrepareRetries:    3,
		EventQueueLen:     256,
	}
	mixCfg := config.MixerSettings{
		SampleRate:        44100,
		Channels:          2,
		FrameDuration:     5 * time.Millisecond,
		CrossfadeLead:     30 * time.Millisecond,
		ClientQueueFrames: 256,
	}
	dur := 150 * time.Millisecond
	for _, opt := range opts {
		opt(&sessCfg, &mixCfg, &dur)
	}

	env := &testEnv{stub: decode.NewStubFactory(), tracks: testTracks(dur)}
	env.ix.Store(feature.Build(env.tracks, 1))
	indexFn := func() *feature.Index { return env.ix.Load() }

	exp := explorer.New(indexFn, nil, cache.NewNoOpCache(), config.ExplorerSettings{
		SampleCount: 5,
		Resolution:  "adaptive",
		CacheTTL:    time.Minute,
	})
	env.eng = NewEngine(Options{ID: "s-test", Fingerprint: "fp-test", ClientIP: "127.0.0.1"}, Deps{
		Settings: sessCfg,
		Mixer:    mixer.NewCrossfader(mixCfg, env.stub),
		Explorer: exp,
		Index:    indexFn,
	})
	t.Cleanup(func() { env.eng.Destroy("test_cleanup") })
	return env
}

func (env *testEnv) track(n int) *catalog.Track {
	return &env.tracks[n]
}

// otherTrack returns a catalog id not in the exclusion set, for tests that
// must pick a target distinct from whatever prepare chose on its own.
func (env *testEnv) otherTrack(t *testing.T, exclude ...string) string {
	t.Helper()
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	for _, tr := range env.tracks {
		if _, ok := skip[tr.ID]; !ok {
			return tr.ID
		}
	}
	t.Fatal("no track left outside the exclusion set")
	return ""
}

// eventRecorder drains an event sink and keeps decoded frames.
type eventRecorder struct {
	mu     sync.Mutex
	frames []recordedFrame
	done   chan struct{}
}

type recordedFrame struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId"`
	TrackID      string `json:"trackId"`
	Status       string `json:"status"`
	Reason       string `json:"reason"`
	Direction    string `json:"direction"`
	Track        *struct {
		Identifier string `json:"identifier"`
	} `json:"track"`
	CurrentTrack *struct {
		Identifier string `json:"identifier"`
	} `json:"currentTrack"`
	NextTrack *struct {
		Track struct {
			Identifier string `json:"identifier"`
		} `json:"track"`
		Direction string `json:"direction"`
	} `json:"nextTrack"`
	Override *struct {
		Identifier string `json:"identifier"`
		Status     string `json:"status"`
	} `json:"override"`
}

func record(t *testing.T, ch <-chan []byte) *eventRecorder {
	t.Helper()
	rec := &eventRecorder{done: make(chan struct{})}
	go func() {
		defer close(rec.done)
		for raw := range ch {
			var f recordedFrame
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Errorf("unparsable event frame: %v", err)
				continue
			}
			rec.mu.Lock()
			rec.frames = append(rec.frames, f)
			rec.mu.Unlock()
		}
	}()
	return rec
}

func (r *eventRecorder) all() []recordedFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedFrame(nil), r.frames...)
}

func (r *eventRecorder) has(pred func(recordedFrame) bool) bool {
	for _, f := range r.all() {
		if pred(f) {
			return true
		}
	}
	return false
}

func (r *eventRecorder) waitFor(t *testing.T, what string, pred func(recordedFrame) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return r.has(pred) },
		3*time.Second, 5*time.Millisecond, "no %s frame observed", what)
}

func waitPlaying(t *testing.T, env *testEnv, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		cur := env.eng.CurrentTrack()
		return cur != nil && cur.ID == id
	}, 3*time.Second, 2*time.Millisecond, "track %s never became current", id)
}

func waitPrepared(t *testing.T, env *testEnv) string {
	t.Helper()
	var id string
	require.Eventually(t, func() bool {
		next, _ := env.eng.NextTrack()
		if next == nil {
			return false
		}
		id = next.ID
		return true
	}, 3*time.Second, 2*time.Millisecond, "no next track was prepared")
	return id
}

func TestSeedStartsPlaybackAndPreparesNext(t *testing.T) {
	env := newTestEnv(t)
	ch := env.eng.AttachEventClient("c1")
	rec := record(t, ch)

	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))

	waitPlaying(t, env, testID(0))
	next := waitPrepared(t, env)
	require.NotEqual(t, testID(0), next, "prepared next must differ from the seed")

	rec.waitFor(t, "track_started", func(f recordedFrame) bool {
		return f.Type == EventTrackStarted && f.Track != nil && f.Track.Identifier == testID(0)
	})
	rec.waitFor(t, "heartbeat with next", func(f recordedFrame) bool {
		return f.Type == EventHeartbeat && f.NextTrack != nil && f.NextTrack.Track.Identifier == next
	})
	require.Equal(t, []string{testID(0)}, env.eng.History())
	require.Equal(t, StatePlaying, env.eng.State())
}

func TestNaturalTransitionGrowsHistoryInOrder(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	next := waitPrepared(t, env)

	waitPlaying(t, env, next)
	require.Equal(t, []string{testID(0), next}, env.eng.History())
}

func TestTrackStartedPrecedesHeartbeatNamingIt(t *testing.T) {
	env := newTestEnv(t, withHeartbeatInterval(10*time.Millisecond))
	ch := env.eng.AttachEventClient("c1")
	rec := record(t, ch)

	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	first := waitPrepared(t, env)
	waitPlaying(t, env, first)
	second := waitPrepared(t, env)
	waitPlaying(t, env, second)

	// Every heartbeat naming a current track must come after that track's
	// track_started in the same client's sequence.
	started := map[string]bool{}
	for _, f := range rec.all() {
		switch f.Type {
		case EventTrackStarted:
			started[f.Track.Identifier] = true
		case EventHeartbeat:
			if f.CurrentTrack != nil {
				require.True(t, started[f.CurrentTrack.Identifier],
					"heartbeat named %s before its track_started", f.CurrentTrack.Identifier)
			}
		}
	}
}

func TestCommitUnknownAndMalformedIDs(t *testing.T) {
	env := newTestEnv(t)
	ch := env.eng.AttachEventClient("c1")
	rec := record(t, ch)
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))

	_, err := env.eng.CommitNextSelection(context.Background(), "not-a-hash", "", "")
	require.Equal(t, fault.KindInvalidArgument, fault.KindOf(err))

	unknown := "ffffffffffffffffffffffffffffffff"
	_, err = env.eng.CommitNextSelection(context.Background(), unknown, "", "")
	require.Equal(t, fault.KindInvalidArgument, fault.KindOf(err))

	rec.waitFor(t, "selection_failed", func(f recordedFrame) bool {
		return f.Type == EventSelectionFailed && f.TrackID == unknown
	})
}

func TestCommitQueuedOverrideBecomesNext(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(400*time.Millisecond))
	ch := env.eng.AttachEventClient("c1")
	rec := record(t, ch)
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))
	prepared := waitPrepared(t, env)

	target := env.otherTrack(t, testID(0), prepared)
	status, err := env.eng.CommitNextSelection(context.Background(), target, "faster", "")
	require.NoError(t, err)
	require.Equal(t, "queued", status)

	rec.waitFor(t, "selection_ack", func(f recordedFrame) bool {
		return f.Type == EventSelectionAck && f.TrackID == target && f.Status == "queued"
	})
	require.Eventually(t, func() bool {
		next, dir := env.eng.NextTrack()
		return next != nil && next.ID == target && dir == "faster"
	}, 3*time.Second, 2*time.Millisecond, "queued override never became the next track")
}

func TestCommitPreparedNextIsNoop(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(400*time.Millisecond))
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))
	next := waitPrepared(t, env)

	status, err := env.eng.CommitNextSelection(context.Background(), next, "", "")
	require.NoError(t, err)
	require.Equal(t, "noop", status)
}

func TestCommitIsIdempotent(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(500*time.Millisecond))
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))
	prepared := waitPrepared(t, env)

	target := env.otherTrack(t, testID(0), prepared)
	first, err := env.eng.CommitNextSelection(context.Background(), target, "", "")
	require.NoError(t, err)
	require.Equal(t, "queued", first)
	require.Eventually(t, func() bool {
		next, _ := env.eng.NextTrack()
		return next != nil && next.ID == target
	}, 3*time.Second, 2*time.Millisecond)

	// Committing the same pick again changes nothing.
	again, err := env.eng.CommitNextSelection(context.Background(), target, "", "")
	require.NoError(t, err)
	require.Equal(t, "noop", again)
	next, _ := env.eng.NextTrack()
	require.Equal(t, target, next.ID)
}

func TestOverrideDuringCrossfadeAppliesAfterFade(t *testing.T) {
	env := newTestEnv(t,
		withTrackDuration(800*time.Millisecond),
		withCrossfadeLead(200*time.Millisecond))
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))
	first := waitPrepared(t, env)

	// Catch the fade window. The commit below joins the prepare run that
	// the fade-start commit launched, so the buffered pick must be drained
	// by an immediate follow-up run, not by whatever prepare comes later.
	require.Eventually(t, func() bool {
		return env.eng.State() == StateTransitioning
	}, 3*time.Second, time.Millisecond, "crossfade window never observed")

	target := env.otherTrack(t, testID(0), first)
	status, err := env.eng.CommitNextSelection(context.Background(), target, "", "")
	require.NoError(t, err)
	require.Equal(t, "queued", status)

	// The target must hold the next lane right after the fade completes,
	// well before the new track's own fade window opens at 600ms, or the
	// listener hears the automatic pick for a full track.
	waitPlaying(t, env, first)
	require.Eventually(t, func() bool {
		next, _ := env.eng.NextTrack()
		return next != nil && next.ID == target
	}, 400*time.Millisecond, 2*time.Millisecond,
		"override made during crossfade missed the first lane-set opportunity")
	require.Equal(t, first, env.eng.CurrentTrack().ID,
		"assertion window outlived the track that followed the fade")
}

func TestHeartbeatNeverPrecedesItsTrackStarted(t *testing.T) {
	env := newTestEnv(t,
		withTrackDuration(120*time.Millisecond),
		withCrossfadeLead(30*time.Millisecond),
		withHeartbeatInterval(3*time.Millisecond))
	rec := record(t, env.eng.AttachEventClient("order"))
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))

	// Ride through several commits with a hot heartbeat ticker racing them.
	require.Eventually(t, func() bool {
		return len(env.eng.History()) >= 4
	}, 5*time.Second, 5*time.Millisecond, "playback never cycled")
	env.eng.Destroy("test_cleanup")
	<-rec.done

	seen := map[string]bool{}
	for _, f := range rec.all() {
		switch f.Type {
		case EventTrackStarted:
			if f.Track != nil {
				seen[f.Track.Identifier] = true
			}
		case EventHeartbeat:
			if f.CurrentTrack != nil && f.CurrentTrack.Identifier != "" {
				require.True(t, seen[f.CurrentTrack.Identifier],
					"heartbeat named %s before its track_started", f.CurrentTrack.Identifier)
			}
		}
	}
}

func TestDeckPromotionSkipsIndexLookup(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(500*time.Millisecond))
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))
	prepared := waitPrepared(t, env)

	snap, err := env.eng.RequestSnapshot(context.Background(), "", nil, nil)
	require.NoError(t, err)

	// Pick something the snapshot offers that is not already prepared, so
	// the commit exercises the promotion path rather than the no-op path.
	var pick string
	for _, cand := range snap.RankedCandidates() {
		if cand.Track.Identifier != prepared && cand.Track.Identifier != testID(0) {
			pick = cand.Track.Identifier
			break
		}
	}
	require.NotEmpty(t, pick)

	// Swap in an empty index: a promotion that still succeeds proves the
	// deck path resolved the pick from the snapshot alone.
	env.ix.Store(feature.Build(nil, 2))

	status, err := env.eng.CommitNextSelection(context.Background(), pick, "", "deck")
	require.NoError(t, err)
	require.Equal(t, "promoted", status)
	next, _ := env.eng.NextTrack()
	require.Equal(t, pick, next.ID)

	// The same pick through the general path now fails against the empty
	// index.
	env.eng.ResetOverride()
	_, err = env.eng.CommitNextSelection(context.Background(), testID(5), "", "")
	require.Equal(t, fault.KindInvalidArgument, fault.KindOf(err))
}

func TestForceNextTransitionsNow(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(2*time.Second))
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))
	next := waitPrepared(t, env)

	// Well before the natural fade point.
	require.NoError(t, env.eng.ForceNext(context.Background()))
	waitPlaying(t, env, next)
	require.Equal(t, []string{testID(0), next}, env.eng.History())
}

func TestHeartbeatSyncReportsDrift(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(500*time.Millisecond))
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))
	next := waitPrepared(t, env)

	info := env.eng.HeartbeatSync(next)
	require.False(t, info.Drift)
	require.Equal(t, testID(0), info.CurrentTrack.ID)
	require.Equal(t, int64(500), info.DurationMs)
	require.Equal(t, info.DurationMs, info.ElapsedMs+info.RemainingMs)

	info = env.eng.HeartbeatSync("ffffffffffffffffffffffffffffffff")
	require.True(t, info.Drift)

	info = env.eng.HeartbeatSync("")
	require.False(t, info.Drift)
}

func TestResetOverrideClearsSelections(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(500*time.Millisecond))
	ch := env.eng.AttachEventClient("c1")
	rec := record(t, ch)
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))
	prepared := waitPrepared(t, env)

	target := env.otherTrack(t, testID(0), prepared)
	_, err := env.eng.CommitNextSelection(context.Background(), target, "", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		next, _ := env.eng.NextTrack()
		return next != nil && next.ID == target
	}, 3*time.Second, 2*time.Millisecond)

	env.eng.ResetOverride()
	rec.waitFor(t, "heartbeat without override", func(f recordedFrame) bool {
		return f.Type == EventHeartbeat && f.Override == nil
	})
}

func TestPrepareNeverRunsConcurrently(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(400*time.Millisecond))
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = env.eng.CommitNextSelection(context.Background(), testID(n), "", "")
		}(i)
	}
	wg.Wait()
	require.Eventually(t, func() bool {
		next, _ := env.eng.NextTrack()
		return next != nil
	}, 3*time.Second, 2*time.Millisecond)

	require.LessOrEqual(t, env.eng.prepPeak.Load(), int32(1),
		"more than one prepare ran at once")
}

func TestDecodeFailureWalksCandidatesWithoutPhantomHistory(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(400*time.Millisecond))
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))
	prepared := waitPrepared(t, env)

	// Override with a track that refuses to decode; the walk must settle
	// on a playable candidate instead.
	bad := env.otherTrack(t, testID(0), prepared)
	env.stub.FailOpen(bad)
	status, err := env.eng.CommitNextSelection(context.Background(), bad, "", "")
	require.NoError(t, err)
	require.Equal(t, "queued", status)

	require.Eventually(t, func() bool {
		next, _ := env.eng.NextTrack()
		return next != nil && next.ID != bad
	}, 3*time.Second, 2*time.Millisecond, "prepare never recovered from the dead candidate")

	require.NotContains(t, env.eng.History(), bad,
		"a track that never decoded must not enter history")
}

func TestExhaustedCandidatesEmitNextTrackFailed(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(2*time.Second))
	ch := env.eng.AttachEventClient("c1")
	rec := record(t, ch)

	// Every track except the seed refuses to decode.
	for _, tr := range env.tracks {
		if tr.ID != testID(0) {
			env.stub.FailOpen(tr.ID)
		}
	}
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))

	rec.waitFor(t, "next_track_failed", func(f recordedFrame) bool {
		return f.Type == EventNextTrackFailed
	})
	next, _ := env.eng.NextTrack()
	require.Nil(t, next, "exhaustion must leave the next lane empty")
}

func TestSeedWithForcedNextDeepLink(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(500*time.Millisecond))
	forced := testID(11)
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), forced))
	waitPlaying(t, env, testID(0))

	require.Eventually(t, func() bool {
		next, _ := env.eng.NextTrack()
		return next != nil && next.ID == forced
	}, 3*time.Second, 2*time.Millisecond, "deep-linked next was not honored")
}

func TestAttachEventClientReplay(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(500*time.Millisecond))

	// Before bootstrap: connected then bootstrap_pending.
	rec := record(t, env.eng.AttachEventClient("early"))
	rec.waitFor(t, "connected", func(f recordedFrame) bool { return f.Type == EventConnected })
	rec.waitFor(t, "bootstrap_pending", func(f recordedFrame) bool { return f.Type == EventBootstrapPending })
	frames := rec.all()
	require.Equal(t, EventConnected, frames[0].Type)

	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))

	// A late joiner replays the cached heartbeat instead.
	late := record(t, env.eng.AttachEventClient("late"))
	late.waitFor(t, "connected", func(f recordedFrame) bool { return f.Type == EventConnected })
	late.waitFor(t, "replayed heartbeat", func(f recordedFrame) bool {
		return f.Type == EventHeartbeat && f.CurrentTrack != nil && f.CurrentTrack.Identifier == testID(0)
	})
}

func TestRefreshRebroadcast(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(500*time.Millisecond))
	rec := record(t, env.eng.AttachEventClient("c1"))

	// Nothing playing yet: rebroadcast answers bootstrap_pending.
	require.NoError(t, env.eng.Refresh("rebroadcast"))
	rec.waitFor(t, "bootstrap_pending", func(f recordedFrame) bool {
		return f.Type == EventBootstrapPending
	})

	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))
	require.NoError(t, env.eng.Refresh("rebroadcast"))
	rec.waitFor(t, "heartbeat", func(f recordedFrame) bool {
		return f.Type == EventHeartbeat && f.CurrentTrack != nil
	})

	require.Equal(t, fault.KindInvalidArgument, fault.KindOf(env.eng.Refresh("session")))
	require.Equal(t, fault.KindInvalidArgument, fault.KindOf(env.eng.Refresh("bogus")))
}

func TestRefreshRestartReplaysCurrentFromTop(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(2*time.Second))
	rec := record(t, env.eng.AttachEventClient("c1"))
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))

	require.NoError(t, env.eng.Refresh("restart"))
	require.Eventually(t, func() bool {
		started := 0
		for _, f := range rec.all() {
			if f.Type == EventTrackStarted && f.Track.Identifier == testID(0) {
				started++
			}
		}
		return started >= 2
	}, 3*time.Second, 5*time.Millisecond, "restart never re-committed the current track")
}

func TestSetResolutionNormalizesAndBroadcasts(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(500*time.Millisecond))
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))

	norm := env.eng.SetResolution("microscope")
	require.Equal(t, norm, env.eng.Resolution())
	require.Equal(t, explorer.NormalizeResolution("microscope"), norm)

	// Legacy zoom aliases collapse to adaptive.
	require.Equal(t, explorer.NormalizeResolution(""), env.eng.SetResolution("unknown-zoom-mode"))
}

func TestSnapshotRequestIsPure(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(500*time.Millisecond))
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))
	next := waitPrepared(t, env)

	before := env.eng.History()
	_, err := env.eng.RequestSnapshot(context.Background(), testID(12), []string{testID(3)}, []string{"artist 1"})
	require.NoError(t, err)

	// Browsing never changes what is playing or queued.
	require.Equal(t, before, env.eng.History())
	cur := env.eng.CurrentTrack()
	require.Equal(t, testID(0), cur.ID)
	after, _ := env.eng.NextTrack()
	require.Equal(t, next, after.ID)
}

func TestSnapshotWithoutCurrentTrackFails(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.eng.RequestSnapshot(context.Background(), "", nil, nil)
	require.Equal(t, fault.KindUnavailable, fault.KindOf(err))
}

func TestClientCountsTrackAttachment(t *testing.T) {
	env := newTestEnv(t, withTrackDuration(500*time.Millisecond))
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))

	_ = env.eng.AttachAudioClient("a1")
	_ = env.eng.AttachEventClient("e1")
	audio, events := env.eng.ClientCounts()
	require.Equal(t, 1, audio)
	require.Equal(t, 1, events)

	env.eng.DetachAudioClient("a1")
	env.eng.DetachEventClient("e1")
	audio, events = env.eng.ClientCounts()
	require.Zero(t, audio)
	require.Zero(t, events)
}

func TestDestroySendsByeAndRejectsFurtherWork(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newTestEnv(t, withTrackDuration(2*time.Second))
	ch := env.eng.AttachEventClient("c1")
	rec := record(t, ch)
	require.NoError(t, env.eng.Seed(context.Background(), env.track(0), ""))
	waitPlaying(t, env, testID(0))
	waitPrepared(t, env)

	env.eng.Destroy("shutdown")
	env.eng.Destroy("shutdown") // idempotent

	<-rec.done // channel closed after the bye flush
	frames := rec.all()
	require.Equal(t, EventBye, frames[len(frames)-1].Type)
	require.Equal(t, "shutdown", frames[len(frames)-1].Reason)

	require.Equal(t, StateDestroyed, env.eng.State())
	_, err := env.eng.CommitNextSelection(context.Background(), testID(1), "", "")
	require.Equal(t, fault.KindUnavailable, fault.KindOf(err))
}
