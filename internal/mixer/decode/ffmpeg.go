// SPDX-License-Identifier: MIT

package decode

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
	"github.com/justinTNT/tsnotfyi-sub002/internal/metrics"
	"github.com/justinTNT/tsnotfyi-sub002/internal/procgroup"
)

const defaultKillGrace = 3 * time.Second

// FFmpegFactory decodes tracks by shelling out to ffmpeg. Each Open spawns
// one process in its own process group writing s16le PCM to stdout; stderr
// is kept in a small ring for the failure log.
type FFmpegFactory struct {
	Path       string
	SampleRate int
	Channels   int
	KillGrace  time.Duration
}

// NewFFmpegFactory returns a factory with the canonical output format.
func NewFFmpegFactory(path string, sampleRate, channels int) *FFmpegFactory {
	if path == "" {
		path = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	if channels <= 0 {
		channels = 2
	}
	return &FFmpegFactory{Path: path, SampleRate: sampleRate, Channels: channels}
}

func (f *FFmpegFactory) Open(ctx context.Context, track *catalog.Track) (Decoder, error) {
	if track == nil || track.Path == "" {
		return nil, fault.DecodeFailed("decode.open", trackIDOf(track), errors.New("track has no file path"))
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-i", track.Path,
		"-f", "s16le",
		"-ar", strconv.Itoa(f.SampleRate),
		"-ac", strconv.Itoa(f.Channels),
		"pipe:1",
	}

	// Deliberately not CommandContext: the decoder outlives the Open call
	// and is torn down by Close, not by the caller's request context.
	cmd := exec.Command(f.Path, args...) // #nosec G204
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fault.DecodeFailed("decode.open", track.ID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fault.DecodeFailed("decode.open", track.ID, err)
	}

	ring := log.NewRing(64)

	if err := cmd.Start(); err != nil {
		metrics.IncDecodeFailure("open")
		return nil, fault.DecodeFailed("decode.open", track.ID, err)
	}

	if ctx.Err() != nil {
		_ = procgroup.Kill(cmd, syscall.SIGKILL)
		_ = cmd.Wait()
		return nil, fault.DecodeFailed("decode.open", track.ID, ctx.Err())
	}

	d := &ffmpegDecoder{
		trackID: track.ID,
		cmd:     cmd,
		out:     bufio.NewReaderSize(stdout, 64<<10),
		ring:    ring,
		waitCh:  make(chan error, 1),
		grace:   f.KillGrace,
	}
	if d.grace <= 0 {
		d.grace = defaultKillGrace
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			_, _ = ring.Write(append(scanner.Bytes(), '\n'))
		}
	}()
	go func() { d.waitCh <- cmd.Wait() }()

	return d, nil
}

type ffmpegDecoder struct {
	trackID string
	cmd     *exec.Cmd
	out     *bufio.Reader
	ring    *log.Ring
	waitCh  chan error
	grace   time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (d *ffmpegDecoder) Read(p []byte) (int, error) {
	n, err := d.out.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		metrics.IncDecodeFailure("read")
	}
	return n, err
}

// Close stops the process group and reaps the child. A nonzero exit after a
// partial stream is logged with the stderr tail; the lane has already
// compensated with silence by the time Close runs.
func (d *ffmpegDecoder) Close() error {
	d.closeOnce.Do(func() {
		err := procgroup.Terminate(d.cmd, d.waitCh, d.grace)
		if err != nil && !isSignalExit(err) {
			tail := d.ring.LastN(8)
			logger := log.WithComponent("decode")
			logger.Warn().
				Str(log.FieldTrackID, d.trackID).
				Strs("stderr", tail).
				Err(err).
				Msg("ffmpeg exited abnormally")
			d.closeErr = fault.DecodeFailed("decode.close", d.trackID, err)
		}
	})
	return d.closeErr
}

func trackIDOf(track *catalog.Track) string {
	if track == nil {
		return ""
	}
	return track.ID
}

// isSignalExit reports whether err is the expected outcome of our own
// SIGTERM/SIGKILL during teardown.
func isSignalExit(err error) bool {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	// Signal deaths surface as exit code -1 on unix.
	return exitErr.ExitCode() == -1
}
