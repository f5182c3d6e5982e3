// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
)

const watchDebounce = 2 * time.Second

// Watch observes the catalog database file and invokes onChange after writes
// settle. The analysis pipeline replaces the file wholesale, so rename and
// create events count as changes too. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors and atomic replaces swap the inode out
	// from under a file-level watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	logger := log.WithComponent("catalog")
	logger.Info().Str("path", path).Msg("watching catalog for changes")

	var timer *time.Timer
	var timerC <-chan time.Time
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("catalog watcher error")
		case <-timerC:
			timerC = nil
			timer = nil
			logger.Info().Msg("catalog file changed, triggering reload")
			onChange()
		}
	}
}
