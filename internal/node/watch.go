package node

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// WatchConfig calls reload whenever the config file at path changes, until
// ctx is cancelled. The directory is watched rather than the file so editors
// that replace the file on save are still seen. Bursts of events within the
// debounce window trigger one reload.
func (a *Agent) WatchConfig(ctx context.Context, path string, reload func(ctx context.Context)) error {
	path = filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	a.logger.Info().Str("file", path).Msg("watching config for changes")
	go func() {
		defer watcher.Close()

		timer := time.NewTimer(reloadDebounce)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				timer.Reset(reloadDebounce)
			case <-timer.C:
				a.logger.Info().Str("file", path).Msg("config file changed")
				reload(ctx)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				a.logger.Error().Err(err).Msg("watcher error")
			}
		}
	}()
	return nil
}

// ReloadFrom returns a reload callback that re-reads the config file, applies
// overrides (command-line flags) and reconfigures the agent. A config that
// fails to load is logged and skipped.
func (a *Agent) ReloadFrom(path string, overrides ...func(*Config)) func(ctx context.Context) {
	return func(ctx context.Context) {
		cfg, err := LoadConfig(path)
		if err != nil {
			a.logger.Error().Err(err).Msg("reload config")
			return
		}
		for _, o := range overrides {
			o(&cfg)
		}
		a.Reconfigure(ctx, cfg)
	}
}
