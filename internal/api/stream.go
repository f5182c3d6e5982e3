// SPDX-License-Identifier: MIT

package api

import (
	"embed"
	"net/http"
	"time"

	"github.com/google/uuid"
	json "github.com/goccy/go-json"

	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
	"github.com/justinTNT/tsnotfyi-sub002/internal/session"
)

//go:embed static
var staticFS embed.FS

// handleShell serves the embedded client and binds the visitor to a
// session so the subsequent /stream and /events attach to the same one.
func (s *Server) handleShell(w http.ResponseWriter, r *http.Request) {
	if s.resolveOrCreate(w, r) == nil {
		return
	}
	shell, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "client shell missing")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(shell)
}

func setAudioHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "audio/L16; rate=44100; channels=2")
	w.Header().Set("X-Audio-Format", "pcm_s16le_44100_stereo")
	w.Header().Set("Cache-Control", "no-store")
}

// handleStream serves the raw PCM feed. One slow reader only loses its own
// connection; the session's decode keeps running.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		setAudioHeaders(w)
		w.WriteHeader(http.StatusOK)
		return
	}

	if s.audioClientsFull() {
		writeError(w, http.StatusServiceUnavailable, "audio client limit reached")
		return
	}

	eng := s.resolveOrCreate(w, r)
	if eng == nil {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	clientID := uuid.NewString()
	ch := eng.AttachAudioClient(clientID)
	defer eng.DetachAudioClient(clientID)

	setAudioHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug().
		Str(log.FieldSessionID, eng.ID()).
		Str("clientId", clientID).
		Msg("audio client attached")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, open := <-ch:
			if !open {
				return
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) audioClientsFull() bool {
	limit := s.cfg.MaxAudioClients
	if limit <= 0 {
		return false
	}
	total := 0
	for _, eng := range s.registry.Sessions() {
		audio, _ := eng.ClientCounts()
		total += audio
	}
	return total >= limit
}

// handleEvents serves the long-lived frame stream. Frames arrive from the
// hub already terminated with the blank-line separator; resolution failures
// still answer in-band with a single error frame so the client's event loop
// sees a typed failure instead of a dropped connection.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-store")

	req := s.resolveRequest(r, "", "")
	eng, _, err := s.registry.Resolve(r.Context(), req)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		s.writeEventError(w, err)
		flusher.Flush()
		return
	}
	if req.CookieID != eng.ID() {
		s.setSessionCookie(w, eng.ID())
	}

	clientID := uuid.NewString()
	ch := eng.AttachEventClient(clientID)
	defer eng.DetachEventClient(clientID)

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, open := <-ch:
			if !open {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) writeEventError(w http.ResponseWriter, cause error) {
	frame, err := json.Marshal(map[string]any{
		"type":      session.EventError,
		"timestamp": time.Now().UnixMilli(),
		"error":     cause.Error(),
	})
	if err != nil {
		return
	}
	_, _ = w.Write(append(frame, '\n', '\n'))
}
