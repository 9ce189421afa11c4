package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of editor writes into one re-run.
const watchDebounce = 100 * time.Millisecond

// watchHuntflow runs the huntflow once and again after each change to path,
// until ctx is done. Failed runs are logged; watching continues.
//
// The parent directory is watched rather than the file so that editors
// which replace the file on save keep triggering events.
func watchHuntflow(ctx context.Context, path string, logger *slog.Logger, run func() error) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resolve huntflow path", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to watch %s", path), err)
	}

	runOnce := func() {
		if err := run(); err != nil && !WasReported(err) {
			logger.Error("huntflow run failed", "path", path, "error", err)
		}
	}

	runOnce()
	logger.Info("watching for changes", "path", path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = time.After(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)
		case <-pending:
			pending = nil
			logger.Debug("huntflow changed", "path", path)
			runOnce()
		}
	}
}
