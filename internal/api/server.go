// SPDX-License-Identifier: MIT

// Package api is the daemon's HTTP surface. Every handler resolves a
// session through the registry, calls exactly one engine operation, and
// maps fault kinds onto status codes. The two long-lived endpoints
// (/stream, /events) attach bounded per-client queues and never block the
// session on a slow reader.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/justinTNT/tsnotfyi-sub002/internal/cache"
	"github.com/justinTNT/tsnotfyi-sub002/internal/config"
	"github.com/justinTNT/tsnotfyi-sub002/internal/feature"
	"github.com/justinTNT/tsnotfyi-sub002/internal/health"
	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
	"github.com/justinTNT/tsnotfyi-sub002/internal/session/registry"
	"github.com/justinTNT/tsnotfyi-sub002/internal/store"
)

const (
	sessionCookie     = "tsnotfyi-session"
	fingerprintHeader = "X-Fingerprint"
	trackIDPattern    = "[0-9a-f]{32}"
)

// Deps wires the server to the rest of the process.
type Deps struct {
	Settings config.APISettings
	Registry *registry.Registry
	Index    func() *feature.Index
	Store    *store.StateStore // optional
	Health   *health.Manager
	LogRing  *log.Ring
}

// Server owns the router and the handler set.
type Server struct {
	cfg      config.APISettings
	registry *registry.Registry
	index    func() *feature.Index
	st       *store.StateStore
	hm       *health.Manager
	ring     *log.Ring
	proxies  *trustedProxies
	npCache  cache.Cache
	logger   zerolog.Logger
}

func New(deps Deps) *Server {
	return &Server{
		cfg:      deps.Settings,
		registry: deps.Registry,
		index:    deps.Index,
		st:       deps.Store,
		hm:       deps.Health,
		ring:     deps.LogRing,
		proxies:  parseTrustedProxies(deps.Settings.TrustedProxies),
		npCache:  cache.NewMemoryCache(0),
		logger:   log.WithComponent("api"),
	}
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.observe)

	// Long-lived streams sit outside the body/rate limits.
	r.Get("/stream", s.handleStream)
	r.Head("/stream", s.handleStream)
	r.Get("/events", s.handleEvents)

	r.Get("/", s.handleShell)
	r.Get("/health", s.hm.ServeHealth)
	r.Get("/search", s.handleSearch)
	r.Get("/sessions/now-playing", s.handleNowPlaying)
	r.Get("/{trackID:"+trackIDPattern+"}", s.handleDeepLink)
	r.Get("/{trackID:"+trackIDPattern+"}/{nextID:"+trackIDPattern+"}", s.handleDeepLink)

	r.Group(func(r chi.Router) {
		r.Use(s.limitBody)
		if s.cfg.RateLimitEnabled {
			per := s.cfg.RatePerMinute
			if per <= 0 {
				per = 120
			}
			r.Use(httprate.LimitByIP(per, time.Minute))
		}
		r.Post("/explorer", s.handleExplorer)
		r.Post("/next-track", s.handleNextTrack)
		r.Post("/refresh-sse", s.handleRefresh)
		r.Post("/session/force-next", s.handleForceNext)
		r.Post("/session/reset-drift", s.handleResetDrift)
		r.Post("/session/zoom/{mode}", s.handleZoom)
		r.Post("/tracks/{trackID:"+trackIDPattern+"}/rating", s.handleRating)
		r.Post("/session/{id}/next-track", s.handleLegacyNextTrack)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/sessions", s.handleInternalSessions)
		r.Get("/logs/recent", s.handleInternalLogs)
	})

	return r
}
