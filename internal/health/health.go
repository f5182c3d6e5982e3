// SPDX-License-Identifier: MIT

// Package health serves liveness and component checks for the daemon:
// catalog presence, feature index population, latent backend state, and
// state-store reachability.
package health

import (
	"context"
	"net/http"
	"os"
	"time"

	json "github.com/goccy/go-json"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one component's verdict.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response is the full health reply.
type Response struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is one named component check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager aggregates component checks. Liveness is always healthy while
// the process answers; component state degrades the overall verdict.
type Manager struct {
	version  string
	checkers []Checker
}

func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// Register adds a checker. Not safe after serving starts.
func (m *Manager) Register(c Checker) {
	m.checkers = append(m.checkers, c)
}

func (m *Manager) Health(ctx context.Context) Response {
	resp := Response{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}
	if len(m.checkers) == 0 {
		return resp
	}
	resp.Checks = make(map[string]CheckResult, len(m.checkers))
	for _, c := range m.checkers {
		result := c.Check(ctx)
		resp.Checks[c.Name()] = result
		switch result.Status {
		case StatusUnhealthy:
			resp.Status = StatusUnhealthy
		case StatusDegraded:
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
	}
	return resp
}

// ServeHealth answers the liveness endpoint. Degraded components keep the
// 200: the daemon still streams without the latent backend.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	resp := m.Health(r.Context())
	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// FuncChecker adapts a closure into a Checker.
type FuncChecker struct {
	CheckerName string
	Fn          func(ctx context.Context) CheckResult
}

func (c FuncChecker) Name() string                          { return c.CheckerName }
func (c FuncChecker) Check(ctx context.Context) CheckResult { return c.Fn(ctx) }

// FileChecker reports on a required file, the catalog database typically.
type FileChecker struct {
	name string
	path string
}

func NewFileChecker(name, path string) *FileChecker {
	return &FileChecker{name: name, path: path}
}

func (c *FileChecker) Name() string { return c.name }

func (c *FileChecker) Check(_ context.Context) CheckResult {
	info, err := os.Stat(c.path)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if info.IsDir() {
		return CheckResult{Status: StatusUnhealthy, Message: "path is a directory"}
	}
	return CheckResult{Status: StatusHealthy}
}

// IndexChecker degrades when the feature index is empty: the daemon is
// alive but cannot seed sessions.
type IndexChecker struct {
	Size func() int
}

func (c IndexChecker) Name() string { return "index" }

func (c IndexChecker) Check(_ context.Context) CheckResult {
	if n := c.Size(); n == 0 {
		return CheckResult{Status: StatusDegraded, Message: "feature index is empty"}
	}
	return CheckResult{Status: StatusHealthy}
}

// LatentChecker reports the latent backend. An open breaker is degraded,
// never unhealthy: exploration falls back to non-latent directions.
type LatentChecker struct {
	Up func() bool
}

func (c LatentChecker) Name() string { return "latent" }

func (c LatentChecker) Check(_ context.Context) CheckResult {
	if !c.Up() {
		return CheckResult{Status: StatusDegraded, Message: "latent backend unavailable, non-latent directions only"}
	}
	return CheckResult{Status: StatusHealthy}
}
