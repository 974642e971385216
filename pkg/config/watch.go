package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/dittocgi/internal/logger"
)

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 100 * time.Millisecond

// Watch reloads the configuration file at path whenever it changes and
// passes every valid result to onChange. Invalid files are logged and
// skipped. Watch blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file, so editors that
// save by rename are handled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if path == "" {
		return fmt.Errorf("watch: config path is required")
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch: failed to watch %s: %w", filepath.Dir(path), err)
	}
	logger.Debug("Watching %s for configuration changes", path)

	timer := time.NewTimer(reloadDelay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(reloadDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error: %v", err)

		case <-timer.C:
			cfg, err := Load(path, nil)
			if err != nil {
				logger.Warn("Ignoring invalid configuration change: %v", err)
				continue
			}
			logger.Info("Configuration reloaded from %s", path)
			onChange(cfg)
		}
	}
}
