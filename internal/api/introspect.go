// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/justinTNT/tsnotfyi-sub002/internal/session"
)

type nowPlayingEntry struct {
	SessionID     string      `json:"sessionId"`
	State         string      `json:"state"`
	CurrentTrack  string      `json:"currentTrack,omitempty"`
	CurrentTitle  string      `json:"currentTitle,omitempty"`
	CurrentArtist string      `json:"currentArtist,omitempty"`
	NextTrack     string      `json:"nextTrack,omitempty"`
	NextDirection string      `json:"nextDirection,omitempty"`
	Timing        *timingBody `json:"timing,omitempty"`
	AudioClients  int         `json:"audioClients"`
	EventClients  int         `json:"eventClients"`
	Ephemeral     bool        `json:"ephemeral"`
}

func nowPlayingFor(eng *session.Engine) nowPlayingEntry {
	audio, events := eng.ClientCounts()
	entry := nowPlayingEntry{
		SessionID:    eng.ID(),
		State:        eng.State(),
		AudioClients: audio,
		EventClients: events,
		Ephemeral:    eng.Ephemeral(),
	}
	info := eng.HeartbeatSync("")
	if info.CurrentTrack != nil {
		entry.CurrentTrack = info.CurrentTrack.ID
		entry.CurrentTitle = info.CurrentTrack.Title
		entry.CurrentArtist = info.CurrentTrack.Artist
		entry.Timing = &timingBody{
			ElapsedMs:   info.ElapsedMs,
			RemainingMs: info.RemainingMs,
			DurationMs:  info.DurationMs,
		}
	}
	if next, direction := eng.NextTrack(); next != nil {
		entry.NextTrack = next.ID
		entry.NextDirection = direction
	}
	return entry
}

const nowPlayingTTL = time.Second

// handleNowPlaying serves the aggregate with a short cache so dashboard
// polling never fans out across every session more than once a second.
func (s *Server) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.npCache.Get("now-playing"); ok {
		if entries, ok := cached.([]nowPlayingEntry); ok {
			writeNowPlaying(w, entries)
			return
		}
	}
	engines := s.registry.Sessions()
	entries := make([]nowPlayingEntry, 0, len(engines))
	for _, eng := range engines {
		entries = append(entries, nowPlayingFor(eng))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SessionID < entries[j].SessionID })
	s.npCache.Set("now-playing", entries, nowPlayingTTL)
	writeNowPlaying(w, entries)
}

func writeNowPlaying(w http.ResponseWriter, entries []nowPlayingEntry) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": entries,
		"count":    len(entries),
	})
}

type internalSessionEntry struct {
	nowPlayingEntry
	Fingerprint string   `json:"fingerprint,omitempty"`
	ClientIP    string   `json:"clientIp,omitempty"`
	CreatedAt   string   `json:"createdAt"`
	LastAccess  string   `json:"lastAccess"`
	History     []string `json:"history,omitempty"`
	Resolution  string   `json:"resolution"`
}

// handleInternalSessions is the operator's view: identity and history on
// top of the public now-playing fields.
func (s *Server) handleInternalSessions(w http.ResponseWriter, r *http.Request) {
	engines := s.registry.Sessions()
	entries := make([]internalSessionEntry, 0, len(engines))
	for _, eng := range engines {
		entries = append(entries, internalSessionEntry{
			nowPlayingEntry: nowPlayingFor(eng),
			Fingerprint:     eng.Fingerprint(),
			ClientIP:        eng.ClientIP(),
			CreatedAt:       eng.CreatedAt().UTC().Format(time.RFC3339),
			LastAccess:      eng.LastAccess().UTC().Format(time.RFC3339),
			History:         eng.History(),
			Resolution:      eng.Resolution(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SessionID < entries[j].SessionID })
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": entries,
		"count":    len(entries),
		"pool":     s.registry.PoolLen(),
	})
}

func (s *Server) handleInternalLogs(w http.ResponseWriter, r *http.Request) {
	if s.ring == nil {
		writeError(w, http.StatusServiceUnavailable, "log ring not configured")
		return
	}
	n := 100
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = min(parsed, 1000)
	}
	lines := s.ring.LastN(n)
	writeJSON(w, http.StatusOK, map[string]any{
		"lines": lines,
		"count": len(lines),
	})
}
