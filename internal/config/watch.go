package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/vitalhq/pulse/internal/events"
)

// Watcher hot-reloads the config file and publishes the new config on the
// event bus. A config that fails to load or validate is logged and skipped;
// subscribers keep the last good one.
type Watcher struct {
	mu      sync.RWMutex
	current *Config
	path    string
	watcher *fsnotify.Watcher
	bus     *events.Bus
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// NewWatcher creates a watcher seeded with the given config.
func NewWatcher(cfg *Config, bus *events.Bus, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		current: cfg,
		path:    cfg.ConfigPath(),
		bus:     bus,
		logger:  logger,
	}
}

// Current returns the last good config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Watch starts watching the config file's directory for changes.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.watchLoop(ctx)

	// Watch the directory, not the file: editors replace files on save and
	// a file-level watch dies with the old inode.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		w.logger.Error("could not watch config directory", "path", w.path, "error", err)
	}
	return nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.EqualFold(filepath.Clean(event.Name), filepath.Clean(w.path)) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	cfg, err := LoadFrom(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path)
	if w.bus != nil {
		w.bus.Publish(events.TopicConfigChanged, cfg)
	}
}
