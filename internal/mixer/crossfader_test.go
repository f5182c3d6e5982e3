// SPDX-License-Identifier: MIT

package mixer

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
	"github.com/justinTNT/tsnotfyi-sub002/internal/config"
	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
	"github.com/justinTNT/tsnotfyi-sub002/internal/mixer/decode"
)

func testTrack(id string, d time.Duration) *catalog.Track {
	return &catalog.Track{ID: id, Title: "t-" + id, Duration: d}
}

func testSettings() config.MixerSettings {
	return config.MixerSettings{
		SampleRate:        44100,
		Channels:          2,
		FrameDuration:     5 * time.Millisecond,
		CrossfadeLead:     25 * time.Millisecond,
		ClientQueueFrames: 64,
	}
}

// commitRecorder collects OnTrackCommitted calls.
type commitRecorder struct {
	mu      sync.Mutex
	commits []string
	forced  []bool
	ch      chan string
}

func newCommitRecorder() *commitRecorder {
	return &commitRecorder{ch: make(chan string, 16)}
}

func (r *commitRecorder) hook(track *catalog.Track, forced bool) {
	r.mu.Lock()
	r.commits = append(r.commits, track.ID)
	r.forced = append(r.forced, forced)
	r.mu.Unlock()
	r.ch <- track.ID
}

func (r *commitRecorder) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.ch:
		require.Equal(t, want, got)
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for commit of %s", want)
	}
}

func TestStartCommitsFirstTrack(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCrossfader(testSettings(), decode.NewStubFactory())
	defer c.Close()

	rec := newCommitRecorder()
	c.OnTrackCommitted(rec.hook)

	require.NoError(t, c.Start(testTrack("a", 500*time.Millisecond)))
	rec.wait(t, "a")
	require.Equal(t, []bool{false}, rec.forced)

	st := c.Status()
	require.NotNil(t, st.Current)
	require.Equal(t, "a", st.Current.Track.ID)
	require.False(t, st.IsCrossfading)
}

func TestNaturalCrossfade(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCrossfader(testSettings(), decode.NewStubFactory())
	defer c.Close()

	rec := newCommitRecorder()
	c.OnTrackCommitted(rec.hook)

	require.NoError(t, c.Start(testTrack("a", 100*time.Millisecond)))
	rec.wait(t, "a")
	require.NoError(t, c.SetNext(testTrack("b", 500*time.Millisecond)))

	st := c.Status()
	require.NotNil(t, st.Next)
	require.Equal(t, "b", st.Next.ID)

	// The fade begins before a's declared end and commits b then.
	rec.wait(t, "b")
	rec.mu.Lock()
	require.Equal(t, []bool{false, false}, rec.forced)
	rec.mu.Unlock()

	require.Eventually(t, func() bool {
		st := c.Status()
		return st.Current != nil && st.Current.Track.ID == "b" && !st.IsCrossfading
	}, 3*time.Second, 5*time.Millisecond)
}

func TestForcedTransition(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCrossfader(testSettings(), decode.NewStubFactory())
	defer c.Close()

	rec := newCommitRecorder()
	c.OnTrackCommitted(rec.hook)

	require.NoError(t, c.Start(testTrack("a", 10*time.Second)))
	rec.wait(t, "a")
	require.NoError(t, c.SetNext(testTrack("b", 10*time.Second)))
	require.NoError(t, c.TriggerTransition())

	rec.wait(t, "b")
	rec.mu.Lock()
	require.True(t, rec.forced[1])
	rec.mu.Unlock()
}

func TestTriggerTransitionRequiresNext(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCrossfader(testSettings(), decode.NewStubFactory())
	defer c.Close()

	require.NoError(t, c.Start(testTrack("a", 10*time.Second)))
	err := c.TriggerTransition()
	require.Equal(t, fault.KindInvalidArgument, fault.KindOf(err))
}

func TestSetNextRules(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCrossfader(testSettings(), decode.NewStubFactory())
	defer c.Close()

	// Not playing yet.
	err := c.SetNext(testTrack("b", time.Second))
	require.Equal(t, fault.KindInvalidArgument, fault.KindOf(err))

	require.NoError(t, c.Start(testTrack("a", 10*time.Second)))
	require.NoError(t, c.SetNext(testTrack("b", 10*time.Second)))

	// Lane already occupied.
	err = c.SetNext(testTrack("c", time.Second))
	require.Equal(t, fault.KindInvalidArgument, fault.KindOf(err))
}

func TestSetNextOpenFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := decode.NewStubFactory()
	f.FailOpen("bad")
	c := NewCrossfader(testSettings(), f)
	defer c.Close()

	require.NoError(t, c.Start(testTrack("a", 10*time.Second)))
	err := c.SetNext(testTrack("bad", time.Second))
	require.Equal(t, fault.KindDecodeFailed, fault.KindOf(err))

	// Slot stayed empty, a retry with a good track works.
	require.NoError(t, c.SetNext(testTrack("b", 10*time.Second)))
}

func TestClearNextSlot(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testSettings()
	// A long fade keeps the crossfading window comfortably observable.
	cfg.CrossfadeLead = 2 * time.Second
	c := NewCrossfader(cfg, decode.NewStubFactory())
	defer c.Close()

	require.False(t, c.ClearNextSlot())

	require.NoError(t, c.Start(testTrack("a", 10*time.Second)))
	require.NoError(t, c.SetNext(testTrack("b", 10*time.Second)))
	require.True(t, c.ClearNextSlot())
	require.Nil(t, c.Status().Next)

	// No-op while crossfading.
	require.NoError(t, c.SetNext(testTrack("b", 10*time.Second)))
	require.NoError(t, c.TriggerTransition())
	require.Eventually(t, func() bool {
		return c.Status().IsCrossfading
	}, 3*time.Second, time.Millisecond)
	require.False(t, c.ClearNextSlot())
}

func TestMidStreamDecodeFailureSubstitutesSilence(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := decode.NewStubFactory()
	// One full second declared, stream dies after ~0.1s of audio.
	f.FailAfter("a", 17640)
	cfg := testSettings()
	c := NewCrossfader(cfg, f)
	defer c.Close()

	failedCh := make(chan string, 1)
	c.OnDecodeFailed(func(id string) { failedCh <- id })
	idleCh := make(chan struct{}, 1)
	c.OnIdle(func() { idleCh <- struct{}{} })

	frames := c.Attach("listener")
	require.NoError(t, c.Start(testTrack("a", 300*time.Millisecond)))

	select {
	case id := <-failedCh:
		require.Equal(t, "a", id)
	case <-time.After(3 * time.Second):
		t.Fatal("decode failure hook never fired")
	}

	// The stream keeps flowing past the failure point.
	got := 0
	for range frames {
		got++
		if got > 3 {
			break
		}
	}
	require.Greater(t, got, 3)

	// And the lane still ends at its declared duration.
	select {
	case <-idleCh:
	case <-time.After(3 * time.Second):
		t.Fatal("mixer never went idle")
	}
	c.Detach("listener")
}

func TestIdleAfterNaturalEnd(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCrossfader(testSettings(), decode.NewStubFactory())
	defer c.Close()

	idleCh := make(chan struct{}, 1)
	c.OnIdle(func() { idleCh <- struct{}{} })

	require.NoError(t, c.Start(testTrack("a", 50*time.Millisecond)))
	select {
	case <-idleCh:
	case <-time.After(3 * time.Second):
		t.Fatal("mixer never went idle")
	}
	st := c.Status()
	require.Nil(t, st.Current)
}

func TestSlowClientDropped(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testSettings()
	cfg.ClientQueueFrames = 2
	c := NewCrossfader(cfg, decode.NewStubFactory())
	defer c.Close()

	frames := c.Attach("slow")
	require.NoError(t, c.Start(testTrack("a", 10*time.Second)))

	// Never read: the bounded queue fills and the mixer closes the channel.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-frames:
			if !ok {
				return true
			}
			// Drain nothing further; queue refills immediately.
			time.Sleep(50 * time.Millisecond)
			return false
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAttachedClientReceivesFrames(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testSettings()
	c := NewCrossfader(cfg, decode.NewStubFactory())
	defer c.Close()

	frames := c.Attach("listener")
	require.NoError(t, c.Start(testTrack("a", 10*time.Second)))

	wantBytes := int(float64(ByteRate) * cfg.FrameDuration.Seconds())
	wantBytes -= wantBytes % (Channels * BytesPerFrame)
	for i := 0; i < 5; i++ {
		select {
		case frame := <-frames:
			require.Len(t, frame, wantBytes)
		case <-time.After(3 * time.Second):
			t.Fatalf("no frame %d", i)
		}
	}
	c.Detach("listener")
}

func TestCloseClosesClients(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCrossfader(testSettings(), decode.NewStubFactory())

	frames := c.Attach("listener")
	require.NoError(t, c.Start(testTrack("a", 10*time.Second)))
	require.NoError(t, c.Close())

	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-frames:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)

	// Closed mixer rejects control operations.
	err := c.Start(testTrack("b", time.Second))
	require.Equal(t, fault.KindUnavailable, fault.KindOf(err))
	require.NoError(t, c.Close())
}

func TestMixFramesEqualPower(t *testing.T) {
	frame := func(v int16, n int) []byte {
		b := make([]byte, n*2)
		for i := 0; i < n; i++ {
			b[i*2] = byte(uint16(v))
			b[i*2+1] = byte(uint16(v) >> 8)
		}
		return b
	}

	// Midpoint of the fade: both gains are sqrt(2)/2.
	a := frame(10000, 8)
	b := frame(10000, 8)
	g := math.Sqrt(2) / 2
	mixFrames(a, b, g, g)
	got := int16(uint16(a[0]) | uint16(a[1])<<8)
	require.InDelta(t, 14142, got, 2)

	// Clamping.
	a = frame(32000, 8)
	b = frame(32000, 8)
	mixFrames(a, b, 1, 1)
	got = int16(uint16(a[0]) | uint16(a[1])<<8)
	require.Equal(t, int16(math.MaxInt16), got)

	// Zero gain passes the other side through untouched.
	a = frame(1234, 8)
	b = frame(-32768, 8)
	mixFrames(a, b, 1, 0)
	got = int16(uint16(a[0]) | uint16(a[1])<<8)
	require.Equal(t, int16(1234), got)
}

func TestManyClientsIndependent(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testSettings()
	cfg.ClientQueueFrames = 4
	c := NewCrossfader(cfg, decode.NewStubFactory())
	defer c.Close()

	var readers sync.WaitGroup
	stop := make(chan struct{})
	counts := make([]int, 4)
	for i := 0; i < 4; i++ {
		ch := c.Attach(fmt.Sprintf("reader-%d", i))
		readers.Add(1)
		go func(i int, ch <-chan []byte) {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					counts[i]++
				}
			}
		}(i, ch)
	}
	// One stuck client must not starve the readers.
	_ = c.Attach("stuck")

	require.NoError(t, c.Start(testTrack("a", 10*time.Second)))
	time.Sleep(300 * time.Millisecond)
	close(stop)
	readers.Wait()

	for i, n := range counts {
		require.Greater(t, n, 10, "reader %d starved", i)
	}
}
