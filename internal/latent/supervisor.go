// SPDX-License-Identifier: MIT

package latent

import (
	"bufio"
	"context"
	"os/exec"
	"time"

	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
	"github.com/justinTNT/tsnotfyi-sub002/internal/metrics"
	"github.com/justinTNT/tsnotfyi-sub002/internal/procgroup"
)

const (
	restartBackoffBase = time.Second
	restartBackoffMax  = 30 * time.Second
	killGrace          = 3 * time.Second
)

// Run supervises the child process: spawn, drain stderr, restart with
// backoff on exit, up to MaxRestarts consecutive fast failures. It blocks
// until ctx is done. A disabled client returns immediately.
func (c *Client) Run(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	logger := log.WithComponent("latent")

	consecutive := 0
	backoff := restartBackoffBase
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		started := time.Now()
		err := c.runOnce(ctx)
		c.setConn(nil)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		uptime := time.Since(started)
		if uptime > time.Minute {
			// A healthy stretch resets the restart budget.
			consecutive = 0
			backoff = restartBackoffBase
		}
		consecutive++
		c.restarts.Add(1)
		metrics.LatentRestartsTotal.Inc()
		if consecutive > c.cfg.MaxRestarts {
			logger.Error().Err(err).Int("restarts", consecutive-1).
				Msg("latent backend exceeded restart budget, giving up")
			return nil
		}
		logger.Warn().Err(err).Dur("uptime", uptime).Dur("backoff", backoff).
			Msg("latent backend exited, restarting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > restartBackoffMax {
			backoff = restartBackoffMax
		}
	}
}

// runOnce spawns the child and blocks until it exits.
func (c *Client) runOnce(ctx context.Context) error {
	logger := log.WithComponent("latent")

	cmd := exec.Command(c.cfg.Command[0], c.cfg.Command[1:]...) // #nosec G204 -- operator-configured argv
	procgroup.Set(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}
	logger.Info().Str("command", cmd.String()).Int("pid", cmd.Process.Pid).Msg("latent backend started")

	// Drain stderr into the log at debug level so the shared ring captures it.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug().Str("stream", "stderr").Msg(scanner.Text())
		}
	}()

	c.setConn(newConn(stdin, stdout))

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		return procgroup.Terminate(cmd, waitCh, killGrace)
	case err := <-waitCh:
		return err
	}
}

// Close drops the live connection and fails all pending requests. The child
// itself dies with the supervisor's context.
func (c *Client) Close() error {
	c.setConn(nil)
	return nil
}
