// SPDX-License-Identifier: MIT

package session

import (
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
	"github.com/justinTNT/tsnotfyi-sub002/internal/metrics"
)

// Event types on the wire. Every frame is one JSON object terminated by
// "\n\n".
const (
	EventConnected        = "connected"
	EventHeartbeat        = "heartbeat"
	EventTrackStarted     = "track_started"
	EventSelectionAck     = "selection_ack"
	EventSelectionFailed  = "selection_failed"
	EventNextTrackFailed  = "next_track_failed"
	EventSeekSync         = "seek_sync"
	EventBootstrapPending = "bootstrap_pending"
	EventBye              = "bye"
	EventError            = "error"
)

// frameHeader is common to every event frame. Identifiers are lowercased
// before they reach a frame; absent sub-objects encode as JSON null, never
// as a missing key, because clients bind to the full shape.
type frameHeader struct {
	Type        string `json:"type"`
	Timestamp   int64  `json:"timestamp"`
	SessionID   string `json:"sessionId,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

type trackInfo struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	StartTime  int64  `json:"startTime"`
	DurationMs int64  `json:"durationMs"`
}

type timingInfo struct {
	ElapsedMs   int64 `json:"elapsedMs"`
	RemainingMs int64 `json:"remainingMs"`
}

type nextInfo struct {
	Track     trackInfo `json:"track"`
	Direction string    `json:"direction"`
}

type overrideInfo struct {
	Identifier string `json:"identifier"`
	Status     string `json:"status"`
	Direction  string `json:"direction"`
}

type driftInfo struct {
	CurrentDirection string `json:"currentDirection"`
}

type sessionInfo struct {
	ID           string `json:"id"`
	AudioClients int    `json:"audioClients"`
	EventClients int    `json:"eventClients"`
}

type heartbeatFrame struct {
	frameHeader
	CurrentTrack *trackInfo    `json:"currentTrack"`
	Timing       timingInfo    `json:"timing"`
	NextTrack    *nextInfo     `json:"nextTrack"`
	Override     *overrideInfo `json:"override"`
	Drift        driftInfo     `json:"drift"`
	Session      sessionInfo   `json:"session"`
}

type trackStartedFrame struct {
	frameHeader
	Track     trackInfo `json:"track"`
	Direction string    `json:"direction"`
}

type selectionAckFrame struct {
	frameHeader
	TrackID   string `json:"trackId"`
	Status    string `json:"status"`
	Direction string `json:"direction,omitempty"`
}

type selectionFailedFrame struct {
	frameHeader
	TrackID string `json:"trackId"`
	Reason  string `json:"reason"`
}

type nextTrackFailedFrame struct {
	frameHeader
	Reason string `json:"reason"`
}

type seekSyncFrame struct {
	frameHeader
	Timing timingInfo `json:"timing"`
}

type byeFrame struct {
	frameHeader
	Reason string `json:"reason"`
}

type errorFrame struct {
	frameHeader
	Message string `json:"message"`
}

type bareFrame struct {
	frameHeader
}

// frameSep terminates each frame on the event stream.
const frameSep = "\n\n"

func encodeFrame(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Frames are built from plain structs; this cannot fail in
		// practice, but a dropped frame beats a dead stream.
		logger := log.WithComponent("session")
		logger.Error().Err(err).Msg("frame encode failed")
		return nil
	}
	return append(b, frameSep...)
}

func nowMs() int64 { return time.Now().UnixMilli() }

// eventHub fans encoded frames out to the session's event clients. Each
// client gets a bounded queue; a full queue drops the client so no sink can
// stall the session. Per-client ordering is the call order of broadcast.
type eventHub struct {
	mu       sync.Mutex
	clients  map[string]chan []byte
	queueLen int
	closed   bool
}

func newEventHub(queueLen int) *eventHub {
	if queueLen <= 0 {
		queueLen = 64
	}
	return &eventHub{clients: make(map[string]chan []byte), queueLen: queueLen}
}

// attachWithReplay registers a client with frames pre-queued, so the replay
// strictly precedes any broadcast the client observes.
func (h *eventHub) attachWithReplay(id string, replay [][]byte) <-chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan []byte, h.queueLen)
	if h.closed {
		close(ch)
		return ch
	}
	if old, ok := h.clients[id]; ok {
		close(old)
	} else {
		metrics.EventClients.Inc()
	}
	for _, frame := range replay {
		if frame == nil {
			continue
		}
		select {
		case ch <- frame:
		default:
		}
	}
	h.clients[id] = ch
	return ch
}

func (h *eventHub) detach(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
		metrics.EventClients.Dec()
	}
}

func (h *eventHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast sends frame to every client, dropping any whose queue is full.
func (h *eventHub) broadcast(eventType string, frame []byte) {
	if frame == nil {
		return
	}
	metrics.IncEventBroadcast(eventType)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		select {
		case ch <- frame:
		default:
			delete(h.clients, id)
			close(ch)
			metrics.EventClients.Dec()
			metrics.IncEventDrop("queue_full")
			logger := log.WithComponent("session")
			logger.Warn().
				Str("client", id).
				Str(log.FieldEvent, eventType).
				Msg("event client queue full, dropping client")
		}
	}
}

// close shuts the hub, optionally flushing a terminal frame first.
func (h *eventHub) close(final []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.clients {
		if final != nil {
			select {
			case ch <- final:
			default:
			}
		}
		delete(h.clients, id)
		close(ch)
		metrics.EventClients.Dec()
	}
}
