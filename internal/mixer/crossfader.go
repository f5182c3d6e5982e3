// SPDX-License-Identifier: MIT

package mixer

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
	"github.com/justinTNT/tsnotfyi-sub002/internal/config"
	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
	"github.com/justinTNT/tsnotfyi-sub002/internal/metrics"
	"github.com/justinTNT/tsnotfyi-sub002/internal/mixer/decode"
)

var _ Mixer = (*Crossfader)(nil)

// Crossfader is the production mixer. A single goroutine paces the mix loop
// on a frame ticker; control operations mutate shared state under the mutex
// and the loop picks them up on the next tick. Hooks run outside the lock so
// they may call back into the mixer.
type Crossfader struct {
	factory       decode.Factory
	frameDur      time.Duration
	frameBytes    int
	fadeFrames    int
	fadeLeadBytes int
	queueFrames   int

	mu       sync.Mutex
	current  *lane
	outgoing *lane // non-nil only while crossfading
	next     *lane
	fadePos  int
	forced   bool
	closed   bool
	// idleFired suppresses repeat OnIdle callbacks; true until the first
	// Start so a freshly built mixer does not announce idleness.
	idleFired bool

	committed    func(track *catalog.Track, forced bool)
	decodeFailed func(trackID string)
	idle         func()

	clientsMu sync.Mutex
	clients   map[string]chan []byte

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCrossfader builds a mixer and starts its frame loop.
func NewCrossfader(cfg config.MixerSettings, factory decode.Factory) *Crossfader {
	frameDur := cfg.FrameDuration
	if frameDur <= 0 {
		frameDur = 20 * time.Millisecond
	}
	lead := cfg.CrossfadeLead
	if lead <= 0 {
		lead = 4 * time.Second
	}
	queue := cfg.ClientQueueFrames
	if queue <= 0 {
		queue = 256
	}

	frameBytes := int(float64(ByteRate) * frameDur.Seconds())
	frameBytes -= frameBytes % (Channels * BytesPerFrame)
	fadeFrames := int(lead / frameDur)
	if fadeFrames < 1 {
		fadeFrames = 1
	}

	c := &Crossfader{
		factory:       factory,
		frameDur:      frameDur,
		frameBytes:    frameBytes,
		fadeFrames:    fadeFrames,
		fadeLeadBytes: fadeFrames * frameBytes,
		queueFrames:   queue,
		idleFired:     true,
		clients:       make(map[string]chan []byte),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *Crossfader) OnTrackCommitted(cb func(*catalog.Track, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = cb
}

func (c *Crossfader) OnDecodeFailed(cb func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decodeFailed = cb
}

func (c *Crossfader) OnIdle(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idle = cb
}

func (c *Crossfader) Start(track *catalog.Track) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fault.Unavailable("mixer.start", "mixer closed")
	}
	if c.current != nil {
		c.mu.Unlock()
		return fault.InvalidArgument("mixer.start", "already playing")
	}
	ln, err := c.openLane(track)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.current = ln
	c.idleFired = false
	cb := c.committed
	c.mu.Unlock()

	// The first track is committed at start: the listener is hearing it.
	if cb != nil {
		cb(track, false)
	}
	return nil
}

func (c *Crossfader) SetNext(track *catalog.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fault.Unavailable("mixer.set_next", "mixer closed")
	}
	if c.current == nil {
		return fault.InvalidArgument("mixer.set_next", "mixer is not playing")
	}
	if c.next != nil || c.outgoing != nil {
		return fault.InvalidArgument("mixer.set_next", "next lane is occupied")
	}
	ln, err := c.openLane(track)
	if err != nil {
		return err
	}
	c.next = ln
	return nil
}

func (c *Crossfader) ClearNextSlot() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outgoing != nil || c.next == nil {
		return false
	}
	c.next.release()
	c.next = nil
	return true
}

func (c *Crossfader) TriggerTransition() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fault.Unavailable("mixer.transition", "mixer closed")
	}
	if c.next == nil {
		return fault.InvalidArgument("mixer.transition", "no next track loaded")
	}
	c.forced = true
	return nil
}

func (c *Crossfader) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{IsCrossfading: c.outgoing != nil}
	if c.current != nil {
		pos := int64(c.current.read) * 1000 / ByteRate
		st.Current = &TrackPos{Track: c.current.track, PositionMs: pos}
		st.PositionMs = pos
	}
	if c.next != nil {
		st.Next = c.next.track
	}
	return st
}

func (c *Crossfader) Attach(id string) <-chan []byte {
	ch := make(chan []byte, c.queueFrames)
	c.clientsMu.Lock()
	if c.clients == nil {
		c.clientsMu.Unlock()
		close(ch)
		return ch
	}
	if old, ok := c.clients[id]; ok {
		close(old)
	} else {
		metrics.AudioClients.Inc()
	}
	c.clients[id] = ch
	c.clientsMu.Unlock()
	return ch
}

func (c *Crossfader) Detach(id string) {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()
	if ch, ok := c.clients[id]; ok {
		delete(c.clients, id)
		close(ch)
		metrics.AudioClients.Dec()
	}
}

func (c *Crossfader) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stopCh)
	<-c.doneCh

	c.mu.Lock()
	for _, ln := range []*lane{c.current, c.outgoing, c.next} {
		ln.release()
	}
	c.current, c.outgoing, c.next = nil, nil, nil
	c.mu.Unlock()

	c.clientsMu.Lock()
	for id, ch := range c.clients {
		close(ch)
		delete(c.clients, id)
		metrics.AudioClients.Dec()
	}
	c.clients = nil
	c.clientsMu.Unlock()
	return nil
}

func (c *Crossfader) openLane(track *catalog.Track) (*lane, error) {
	dec, err := c.factory.Open(context.Background(), track)
	if err != nil {
		metrics.IncDecodeFailure("open")
		return nil, err
	}
	total := int(track.Duration.Seconds() * float64(ByteRate))
	total -= total % (Channels * BytesPerFrame)
	return &lane{track: track, dec: dec, total: total}, nil
}

func (c *Crossfader) loop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.frameDur)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if frame, ok := c.tick(); ok {
				c.broadcast(frame)
			}
		}
	}
}

// tick advances the mix by one frame. It returns the rendered frame, or
// ok=false when the mixer is idle.
func (c *Crossfader) tick() ([]byte, bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false
	}

	if c.current == nil {
		fireIdle := !c.idleFired
		if fireIdle {
			c.idleFired = true
			metrics.MixerIdleTotal.Inc()
		}
		cb := c.idle
		c.mu.Unlock()
		if fireIdle && cb != nil {
			cb()
		}
		return nil, false
	}

	var hooks []func()

	// Fade boundary: the incoming lane becomes current the moment the fade
	// begins.
	if c.next != nil && c.outgoing == nil &&
		(c.forced || c.current.remaining() <= c.fadeLeadBytes) {
		wasForced := c.forced
		c.forced = false
		c.outgoing = c.current
		c.current = c.next
		c.next = nil
		c.fadePos = 0
		metrics.IncMixerTransition(wasForced)
		if cb, tr := c.committed, c.current.track; cb != nil {
			hooks = append(hooks, func() { cb(tr, wasForced) })
		}
	}

	frame := make([]byte, c.frameBytes)
	if failed := c.current.readFrame(frame); failed {
		metrics.IncDecodeFailure("midstream")
		if cb, id := c.decodeFailed, c.current.track.ID; cb != nil {
			hooks = append(hooks, func() { cb(id) })
		}
	}

	if c.outgoing != nil {
		out := make([]byte, c.frameBytes)
		// A dying outgoing lane just fades silence; no replacement is
		// needed for a track that is already on its way out.
		_ = c.outgoing.readFrame(out)
		p := float64(c.fadePos) / float64(c.fadeFrames)
		mixFrames(frame, out, math.Sin(p*math.Pi/2), math.Cos(p*math.Pi/2))
		c.fadePos++
		if c.fadePos >= c.fadeFrames {
			c.outgoing.release()
			c.outgoing = nil
		}
	}

	// Natural end with nothing queued.
	if c.current.exhausted() && c.outgoing == nil && c.next == nil {
		c.current.release()
		c.current = nil
		logger := log.WithComponent("mixer")
		logger.Debug().Msg("current lane drained, mixer idle")
	}

	c.mu.Unlock()
	for _, h := range hooks {
		h()
	}
	return frame, true
}

// broadcast fans one frame out to every client. A full queue means the
// client cannot keep up with real time; it is closed and removed so it
// never blocks the loop or other clients.
func (c *Crossfader) broadcast(frame []byte) {
	logger := log.WithComponent("mixer")
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()
	for id, ch := range c.clients {
		select {
		case ch <- frame:
		default:
			close(ch)
			delete(c.clients, id)
			metrics.AudioClients.Dec()
			logger.Warn().
				Str("client", id).
				Msg("audio client queue full, dropping client")
		}
	}
}

// mixFrames blends b into a in place: a = a*gainA + b*gainB per s16le
// sample, clamped.
func mixFrames(a, b []byte, gainA, gainB float64) {
	for i := 0; i+1 < len(a) && i+1 < len(b); i += 2 {
		sa := int16(uint16(a[i]) | uint16(a[i+1])<<8)
		sb := int16(uint16(b[i]) | uint16(b[i+1])<<8)
		v := gainA*float64(sa) + gainB*float64(sb)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		s := int16(v)
		a[i] = byte(uint16(s))
		a[i+1] = byte(uint16(s) >> 8)
	}
}
