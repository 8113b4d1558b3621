package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadHandler is invoked after the watched file changes.
type ReloadHandler func(path string) error

// Watcher watches a single configuration file and invokes registered
// handlers on change. Editors often replace files via rename, so Create,
// Write and Rename events all count as changes; events are debounced to
// absorb editor write bursts.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	handlers []ReloadHandler
	stopCh   chan struct{}
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		path:    path,
		watcher: fw,
		stopCh:  make(chan struct{}),
		logger:  logger,
	}, nil
}

// OnReload registers a handler invoked after each change event.
func (w *Watcher) OnReload(h ReloadHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Start begins watching. Watching the parent directory instead of the file
// itself keeps the watch alive across atomic replaces.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}

	go w.watchLoop()
	w.logger.Info("Config watcher started", zap.String("path", w.path))
	return nil
}

// Stop stops watching.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.started = false
	close(w.stopCh)
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("Error closing file watcher", zap.Error(err))
	}
}

func (w *Watcher) watchLoop() {
	var debounce *time.Timer
	target := filepath.Clean(w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, w.fireHandlers)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

func (w *Watcher) fireHandlers() {
	w.mu.Lock()
	handlers := make([]ReloadHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	for _, h := range handlers {
		if err := h(w.path); err != nil {
			w.logger.Warn("config reload handler failed",
				zap.String("path", w.path),
				zap.Error(err),
			)
			continue
		}
	}
	w.logger.Info("Configuration reloaded", zap.String("path", w.path))
}
