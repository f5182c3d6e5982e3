// SPDX-License-Identifier: MIT

// Package mixer renders one continuous PCM stream per session: two decode
// lanes, an equal-power fade controller, and a fan-out broadcaster with
// bounded per-client queues.
package mixer

import (
	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
)

// PCM wire format. 44.1 kHz stereo s16le, 20ms frames.
const (
	SampleRate    = 44100
	Channels      = 2
	BytesPerFrame = 2 // s16le
	ByteRate      = SampleRate * Channels * BytesPerFrame
)

// TrackPos is a track plus the playhead position within it.
type TrackPos struct {
	Track      *catalog.Track
	PositionMs int64
}

// Status is a point-in-time view of the mixer.
type Status struct {
	IsCrossfading bool
	Current       *TrackPos
	Next          *catalog.Track
	PositionMs    int64
}

// Mixer is the session's audio pipeline. Implementations declare
// conformance explicitly; there are no optional methods.
type Mixer interface {
	// Start begins playback of track on an idle mixer.
	Start(track *catalog.Track) error
	// SetNext loads track into the empty lane. Legal only while playing
	// with the other lane empty; decode-open failures return a
	// decode-failed fault.
	SetNext(track *catalog.Track) error
	// ClearNextSlot drops a loaded-but-unstarted next lane. It is a no-op
	// while a crossfade is in progress.
	ClearNextSlot() (cleared bool)
	// TriggerTransition begins the crossfade immediately. Requires a
	// loaded next lane.
	TriggerTransition() error
	// Status reports the current playback state.
	Status() Status
	// OnTrackCommitted registers the hook fired exactly once per
	// transition, at the instant the incoming lane becomes the current
	// lane. forced distinguishes TriggerTransition from natural fades.
	OnTrackCommitted(func(track *catalog.Track, forced bool))
	// OnDecodeFailed registers the hook fired when a lane dies
	// mid-stream. The lane substitutes silence for its remaining
	// duration; the hook lets the owner pick a replacement next.
	OnDecodeFailed(func(trackID string))
	// OnIdle registers the hook fired when both lanes drain with no
	// transition pending.
	OnIdle(func())
	// Attach registers a PCM sink and returns its bounded frame queue.
	// The channel is closed when the client falls behind or the mixer
	// shuts down.
	Attach(id string) <-chan []byte
	// Detach removes a previously attached sink.
	Detach(id string)
	// Close stops the mix loop, releases both lanes, and closes all
	// sinks.
	Close() error
}
