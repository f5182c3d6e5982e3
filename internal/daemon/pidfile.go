// SPDX-License-Identifier: MIT

package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/renameio/v2"

	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
)

// acquirePIDFile claims single-instance ownership. A stale file from a dead
// process is replaced; a live PID aborts startup. The write is atomic so a
// crash never leaves a half-written file.
func acquirePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if raw, err := os.ReadFile(path); err == nil {
		if pid, convErr := strconv.Atoi(strings.TrimSpace(string(raw))); convErr == nil && pid > 0 {
			if processAlive(pid) {
				return fault.New(fault.KindUnavailable, "daemon.pidfile",
					"another instance is running (pid %d in %s)", pid, path)
			}
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func releasePIDFile(path string) {
	if path == "" {
		return
	}
	// Only remove our own claim.
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if pid, convErr := strconv.Atoi(strings.TrimSpace(string(raw))); convErr != nil || pid != os.Getpid() {
		return
	}
	_ = os.Remove(path)
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
