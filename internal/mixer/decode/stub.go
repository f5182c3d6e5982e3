// SPDX-License-Identifier: MIT

package decode

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"

	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
)

// StubFactory produces deterministic PCM without any external process: a
// sine tone (or silence) lasting exactly the track's declared duration.
// Failure injection covers both the open path and a mid-stream cutoff.
type StubFactory struct {
	SampleRate int
	Channels   int
	// Tone gives each track an audible 440 Hz sine instead of silence.
	Tone bool

	mu sync.Mutex
	// failOpen makes Open return decode-failed for these track IDs.
	failOpen map[string]bool
	// failAfter cuts the stream short after N bytes for these track IDs,
	// simulating a decoder dying mid-track.
	failAfter map[string]int

	opens []string
}

// NewStubFactory returns a stub in the canonical 44.1kHz stereo format.
func NewStubFactory() *StubFactory {
	return &StubFactory{SampleRate: 44100, Channels: 2}
}

// FailOpen arranges for Open of the given track to fail.
func (f *StubFactory) FailOpen(trackID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOpen == nil {
		f.failOpen = make(map[string]bool)
	}
	f.failOpen[trackID] = true
}

// FailAfter arranges for the given track's stream to end after n bytes,
// before the declared duration is reached.
func (f *StubFactory) FailAfter(trackID string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter == nil {
		f.failAfter = make(map[string]int)
	}
	f.failAfter[trackID] = n
}

// Opens returns the track IDs opened so far, in order.
func (f *StubFactory) Opens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opens...)
}

func (f *StubFactory) Open(ctx context.Context, track *catalog.Track) (Decoder, error) {
	if track == nil {
		return nil, fault.DecodeFailed("decode.open", "", errors.New("nil track"))
	}
	f.mu.Lock()
	f.opens = append(f.opens, track.ID)
	failOpen := f.failOpen[track.ID]
	cutoff, hasCutoff := f.failAfter[track.ID]
	f.mu.Unlock()

	if failOpen {
		return nil, fault.DecodeFailed("decode.open", track.ID, errors.New("injected open failure"))
	}

	sampleRate := f.SampleRate
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	channels := f.Channels
	if channels <= 0 {
		channels = 2
	}

	frames := int(track.Duration.Seconds() * float64(sampleRate))
	total := frames * channels * 2
	if hasCutoff && cutoff < total {
		total = cutoff
	}

	return &stubDecoder{
		sampleRate: sampleRate,
		channels:   channels,
		tone:       f.Tone,
		remaining:  total,
	}, nil
}

type stubDecoder struct {
	sampleRate int
	channels   int
	tone       bool
	remaining  int
	sample     int
	closed     bool
	mu         sync.Mutex
}

func (d *stubDecoder) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.remaining <= 0 {
		return 0, io.EOF
	}
	if len(p) < d.channels*2 {
		return 0, io.ErrShortBuffer
	}
	n := len(p)
	if n > d.remaining {
		n = d.remaining
	}
	// Whole samples only, so frames never split a channel pair. The final
	// read may carry a ragged tail when a cutoff was injected.
	if rounded := n - n%(d.channels*2); rounded > 0 {
		n = rounded
	}

	if d.tone {
		for i := 0; i+d.channels*2 <= n; i += d.channels * 2 {
			v := int16(12000 * math.Sin(2*math.Pi*440*float64(d.sample)/float64(d.sampleRate)))
			for c := 0; c < d.channels; c++ {
				p[i+c*2] = byte(v)
				p[i+c*2+1] = byte(v >> 8)
			}
			d.sample++
		}
	} else {
		for i := 0; i < n; i++ {
			p[i] = 0
		}
	}
	d.remaining -= n
	return n, nil
}

func (d *stubDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
