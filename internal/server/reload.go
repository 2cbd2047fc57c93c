package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long the file must be quiet before a reload.
var reloadDebounce = 500 * time.Millisecond

// Reloader watches the config file and triggers hot-reload.
type Reloader struct {
	watcher *fsnotify.Watcher
	target  interface{ Reload() error }
	path    string
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewReloader watches the directory holding path, so editors that replace
// the file by rename are still seen.
func NewReloader(target interface{ Reload() error }, path string, logger *slog.Logger) (*Reloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}
	return &Reloader{watcher: watcher, target: target, path: abs, logger: logger}, nil
}

// Run watches for changes until ctx is cancelled. A pending reload started
// before cancellation still completes before Run returns.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()
	defer r.wg.Wait()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil && debounce.Stop() {
				r.wg.Done()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil && debounce.Stop() {
				r.wg.Done()
			}
			r.wg.Add(1)
			debounce = time.AfterFunc(reloadDebounce, func() {
				defer r.wg.Done()
				if err := r.target.Reload(); err != nil {
					r.logger.Error("hot-reload failed, keeping running config", "error", err)
					return
				}
				r.logger.Info("hot-reload: config reloaded", "path", r.path)
			})

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", "error", err)
		}
	}
}
