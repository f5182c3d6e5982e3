// SPDX-License-Identifier: MIT

package log

import (
	"strings"
	"sync"
)

// Ring is a thread-safe ring buffer capturing the last N formatted log lines.
// It implements io.Writer so it can sit behind a zerolog MultiLevelWriter and
// back the recent-logs endpoint.
type Ring struct {
	mu    sync.RWMutex
	lines []string
	head  int
	size  int
}

// NewRing creates a Ring with the specified capacity.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 256
	}
	return &Ring{
		lines: make([]string, capacity),
		size:  capacity,
	}
}

// Write implements io.Writer. Input is split on newlines; empty lines are
// discarded. Partial lines across writes are not reassembled, which is
// acceptable for zerolog output where each write is one complete event.
func (r *Ring) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, line := range strings.Split(string(p), "\n") {
		if line == "" {
			continue
		}
		r.lines[r.head] = line
		r.head = (r.head + 1) % r.size
	}
	return len(p), nil
}

// LastN returns the last N lines in chronological order.
func (r *Ring) LastN(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.size {
		n = r.size
	}
	ordered := make([]string, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % r.size
		if r.lines[idx] != "" {
			ordered = append(ordered, r.lines[idx])
		}
	}
	if len(ordered) <= n {
		return ordered
	}
	return ordered[len(ordered)-n:]
}
