// SPDX-License-Identifier: MIT

// Package procgroup starts child processes in their own process group and
// tears the whole group down on shutdown: SIGTERM, a grace window, SIGKILL.
package procgroup

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
)

// Terminate gracefully stops a process group. It sends SIGTERM, waits for
// the process to exit via waitCh, and escalates to SIGKILL after grace. It
// consumes and returns the error from waitCh. Safe on nil commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	logger := log.WithComponent("procgroup")

	if err := Kill(cmd, syscall.SIGTERM); err != nil {
		logger.Debug().Err(err).Int("pid", cmd.Process.Pid).Msg("SIGTERM failed")
	}

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	logger.Warn().Int("pid", cmd.Process.Pid).Msg("grace period exceeded, sending SIGKILL to process group")
	_ = Kill(cmd, syscall.SIGKILL)
	return <-waitCh
}
