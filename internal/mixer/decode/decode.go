// SPDX-License-Identifier: MIT

// Package decode turns catalog tracks into raw PCM streams for the mixer.
// The production factory shells out to ffmpeg; a deterministic stub backs
// tests and dry runs.
package decode

import (
	"context"
	"io"

	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
)

// Decoder yields interleaved signed 16-bit little-endian PCM. Read returns
// io.EOF once the track is exhausted; an EOF well before the declared track
// duration indicates a mid-stream decode failure, which the caller handles
// by substituting silence.
type Decoder interface {
	io.Reader
	// Close releases the underlying resources. It is safe to call while a
	// Read is in flight and safe to call more than once.
	Close() error
}

// Factory opens decoders for tracks. Open failures surface as
// fault.KindDecodeFailed so callers can pick a replacement track.
type Factory interface {
	Open(ctx context.Context, track *catalog.Track) (Decoder, error)
}
