// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
	"github.com/justinTNT/tsnotfyi-sub002/internal/metrics"
	"github.com/justinTNT/tsnotfyi-sub002/internal/session/registry"
)

type explorerRequest struct {
	TrackID          string   `json:"trackId"`
	SessionID        string   `json:"sessionId,omitempty"`
	PlaylistTrackIDs []string `json:"playlistTrackIds,omitempty"`
	Fingerprint      string   `json:"fingerprint,omitempty"`
}

// handleExplorer returns a neighborhood snapshot for the requested source
// track. Pure: the session's playback state is untouched.
func (s *Server) handleExplorer(w http.ResponseWriter, r *http.Request) {
	var req explorerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	eng := s.resolveSession(w, r, req.SessionID, req.Fingerprint)
	if eng == nil {
		return
	}
	snap, err := eng.RequestSnapshot(r.Context(), req.TrackID, req.PlaylistTrackIDs, nil)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type nextTrackRequest struct {
	TrackMD5    string `json:"trackMd5"`
	Direction   string `json:"direction,omitempty"`
	Source      string `json:"source"`
	Origin      string `json:"origin,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

type timingBody struct {
	ElapsedMs   int64 `json:"elapsedMs"`
	RemainingMs int64 `json:"remainingMs"`
	DurationMs  int64 `json:"durationMs"`
}

type nextTrackResponse struct {
	Status       string      `json:"status"`
	Direction    string      `json:"direction,omitempty"`
	CurrentTrack string      `json:"currentTrack,omitempty"`
	NextTrack    string      `json:"nextTrack,omitempty"`
	Drift        bool        `json:"drift"`
	Timing       *timingBody `json:"timing,omitempty"`
}

// handleNextTrack serves both the user's explicit pick and the client's
// periodic heartbeat probe. The probe never mutates the session; it only
// reads authoritative timing and the drift verdict.
func (s *Server) handleNextTrack(w http.ResponseWriter, r *http.Request) {
	var req nextTrackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	eng := s.resolveSession(w, r, req.SessionID, req.Fingerprint)
	if eng == nil {
		return
	}

	switch req.Source {
	case "heartbeat":
		info := eng.HeartbeatSync(req.TrackMD5)
		resp := nextTrackResponse{
			Status: "synced",
			Drift:  info.Drift,
			Timing: &timingBody{
				ElapsedMs:   info.ElapsedMs,
				RemainingMs: info.RemainingMs,
				DurationMs:  info.DurationMs,
			},
		}
		if info.CurrentTrack != nil {
			resp.CurrentTrack = info.CurrentTrack.ID
		}
		if info.NextTrack != nil {
			resp.NextTrack = info.NextTrack.ID
		}
		writeJSON(w, http.StatusOK, resp)
	case "", "user":
		status, err := eng.CommitNextSelection(r.Context(), req.TrackMD5, req.Direction, req.Origin)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nextTrackResponse{
			Status:    status,
			Direction: req.Direction,
			NextTrack: catalog.NormalizeID(req.TrackMD5),
		})
	default:
		writeFault(w, fault.InvalidArgument("api.next_track", "unknown source %q", req.Source))
	}
}

type refreshRequest struct {
	Stage       string `json:"stage"`
	SessionID   string `json:"sessionId,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

type refreshResponse struct {
	OK           bool   `json:"ok"`
	Stage        string `json:"stage"`
	Status       string `json:"status"`
	SessionID    string `json:"sessionId,omitempty"`
	CurrentTrack string `json:"currentTrack,omitempty"`
}

// handleRefresh services client recovery. The session stage is a full
// teardown and replace, so it lives here rather than on the engine.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	eng := s.resolveSession(w, r, req.SessionID, req.Fingerprint)
	if eng == nil {
		return
	}

	if req.Stage == "session" {
		oldID := eng.ID()
		s.registry.Forget(oldID, "client_refresh")
		fresh, err := s.registry.CreateSession(r.Context(), registry.CreateOptions{ClientIP: s.clientIP(r)})
		if err != nil {
			writeFault(w, err)
			return
		}
		s.setSessionCookie(w, fresh.ID())
		s.logger.Info().
			Str(log.FieldSessionID, oldID).
			Str("replacement", fresh.ID()).
			Msg("session replaced on client refresh")
		writeJSON(w, http.StatusOK, refreshResponse{
			OK:        true,
			Stage:     req.Stage,
			Status:    "replaced",
			SessionID: fresh.ID(),
		})
		return
	}

	if err := eng.Refresh(req.Stage); err != nil {
		writeFault(w, err)
		return
	}
	out := refreshResponse{OK: true, Stage: req.Stage, Status: "ok"}
	if cur := eng.CurrentTrack(); cur != nil {
		out.CurrentTrack = cur.ID
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleForceNext(w http.ResponseWriter, r *http.Request) {
	eng := s.resolveSession(w, r, "", "")
	if eng == nil {
		return
	}
	if err := eng.ForceNext(r.Context()); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transitioning"})
}

func (s *Server) handleResetDrift(w http.ResponseWriter, r *http.Request) {
	eng := s.resolveSession(w, r, "", "")
	if eng == nil {
		return
	}
	eng.ResetOverride()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	eng := s.resolveSession(w, r, "", "")
	if eng == nil {
		return
	}
	norm := eng.SetResolution(chi.URLParam(r, "mode"))
	writeJSON(w, http.StatusOK, map[string]string{"resolution": norm})
}

// handleLegacyNextTrack answers the retired session-scoped URL with a
// stable pointer so stale clients know where to go.
func (s *Server) handleLegacyNextTrack(w http.ResponseWriter, r *http.Request) {
	writeFault(w, fault.New(fault.KindGone, "api.legacy",
		"session-scoped next-track is gone; POST /next-track with a fingerprint instead"))
}

type searchHit struct {
	Identifier string  `json:"identifier"`
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	Album      string  `json:"album,omitempty"`
	Score      float64 `json:"score"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 100)
	}
	metrics.SearchRequestsTotal.Inc()
	results := catalog.Search(s.index().Tracks(), q, limit)
	hits := make([]searchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, searchHit{
			Identifier: res.Track.ID,
			Title:      res.Track.Title,
			Artist:     res.Track.Artist,
			Album:      res.Track.Album,
			Score:      res.Score,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "results": hits})
}

// handleDeepLink seeds a throwaway session with the linked track (and
// optional forced next), sets the cookie, and serves the shell. The session
// destroys itself once everyone disconnects.
func (s *Server) handleDeepLink(w http.ResponseWriter, r *http.Request) {
	seedID := chi.URLParam(r, "trackID")
	eng, err := s.registry.CreateSession(r.Context(), registry.CreateOptions{
		ClientIP:     s.clientIP(r),
		SeedTrackID:  seedID,
		ForcedNextID: chi.URLParam(r, "nextID"),
		Ephemeral:    true,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	s.setSessionCookie(w, eng.ID())

	shell, readErr := staticFS.ReadFile("static/index.html")
	if readErr != nil {
		writeError(w, http.StatusInternalServerError, "client shell missing")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(shell)
}

type ratingRequest struct {
	Rating int `json:"rating"`
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	if s.st == nil {
		writeError(w, http.StatusServiceUnavailable, "state store not configured")
		return
	}
	var req ratingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "trackID")
	if _, err := s.index().GetTrack(id); err != nil {
		writeFault(w, err)
		return
	}
	if err := s.st.SetRating(r.Context(), id, req.Rating); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "rated", "trackId": id, "rating": req.Rating})
}
