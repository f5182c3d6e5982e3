// SPDX-License-Identifier: MIT

package mixer

import (
	"io"

	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
	"github.com/justinTNT/tsnotfyi-sub002/internal/mixer/decode"
)

// lane is one decode slot. It accounts in bytes against the track's
// declared duration: a decoder that ends early flips the lane into silence
// substitution, so the lane always lasts exactly as long as the track says
// it does.
type lane struct {
	track *catalog.Track
	dec   decode.Decoder
	read  int
	total int
	// failed means the decoder died mid-stream; remaining bytes are
	// rendered as silence.
	failed bool
}

func (l *lane) remaining() int { return l.total - l.read }

func (l *lane) exhausted() bool { return l.read >= l.total }

// readFrame fills buf with the lane's next frame, zero-padding past the end
// of the track. It returns true exactly once, on the tick the decoder is
// first detected dead before its declared duration.
func (l *lane) readFrame(buf []byte) (failedNow bool) {
	for i := range buf {
		buf[i] = 0
	}
	want := len(buf)
	if want > l.remaining() {
		want = l.remaining()
	}
	if want <= 0 {
		return false
	}
	if l.failed {
		l.read += want
		return false
	}

	n, err := io.ReadFull(l.dec, buf[:want])
	l.read += want
	if err == nil {
		return false
	}
	if n < want && l.read < l.total || err != io.EOF && err != io.ErrUnexpectedEOF {
		l.failed = true
		logger := log.WithComponent("mixer")
		logger.Warn().
			Str(log.FieldTrackID, l.track.ID).
			Err(err).
			Int("at_byte", l.read-want+n).
			Msg("decoder died mid-stream, substituting silence")
		return true
	}
	return false
}

func (l *lane) release() {
	if l == nil || l.dec == nil {
		return
	}
	_ = l.dec.Close()
	l.dec = nil
}
