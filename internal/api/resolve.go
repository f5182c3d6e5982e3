// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/justinTNT/tsnotfyi-sub002/internal/session"
	"github.com/justinTNT/tsnotfyi-sub002/internal/session/registry"
)

// resolveRequest collects every identity hint a request carries. Body
// fields (sessionId, fingerprint) take precedence over the transport-level
// hints because the client repeats them deliberately.
func (s *Server) resolveRequest(r *http.Request, sessionID, fingerprint string) registry.ResolveRequest {
	req := registry.ResolveRequest{
		SessionID:   sessionID,
		Fingerprint: fingerprint,
		ClientIP:    s.clientIP(r),
	}
	if req.SessionID == "" {
		req.SessionID = r.URL.Query().Get("sessionId")
	}
	if req.Fingerprint == "" {
		req.Fingerprint = r.Header.Get(fingerprintHeader)
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		req.CookieID = c.Value
	}
	return req
}

// resolveSession finds an existing session or fails. Writes the error
// response itself; callers return on nil.
func (s *Server) resolveSession(w http.ResponseWriter, r *http.Request, sessionID, fingerprint string) *session.Engine {
	eng, _, err := s.registry.Resolve(r.Context(), s.resolveRequest(r, sessionID, fingerprint))
	if err != nil {
		writeFault(w, err)
		return nil
	}
	return eng
}

// resolveOrCreate is the bootstrap path for the shell and the two stream
// endpoints. The registry's resolution chain already ends in a create step
// when no hint matches; explicit id or fingerprint misses still fail hard.
func (s *Server) resolveOrCreate(w http.ResponseWriter, r *http.Request) *session.Engine {
	req := s.resolveRequest(r, "", "")
	eng, _, err := s.registry.Resolve(r.Context(), req)
	if err != nil {
		writeFault(w, err)
		return nil
	}
	if req.CookieID != eng.ID() {
		s.setSessionCookie(w, eng.ID())
	}
	return eng
}

func (s *Server) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
