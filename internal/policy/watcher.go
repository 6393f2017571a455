package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadEvent reports the outcome of a policy reload
type ReloadEvent struct {
	Timestamp time.Time
	Loaded    int
	Err       error
}

// Watcher monitors a policy directory and reloads the store on change.
// Events are debounced so editors that write multiple times per save
// trigger a single reload.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	loader   *Loader
	store    Store
	logger   *zap.Logger
	debounce time.Duration

	events   chan ReloadEvent
	mu       sync.Mutex
	watching bool
}

// NewWatcher creates a watcher for a policy directory
func NewWatcher(path string, store Store, loader *Loader, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher:  fsWatcher,
		path:     path,
		loader:   loader,
		store:    store,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		events:   make(chan ReloadEvent, 10),
	}, nil
}

// Events returns the reload event channel
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Watch starts watching until the context is cancelled
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.path); err != nil {
		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	w.logger.Info("Watching policy directory", zap.String("path", w.path))

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		w.watcher.Close()
		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	}()

	reloadC := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !isPolicyFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reloadC <- struct{}{}:
				default:
				}
			})

		case <-reloadC:
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

// reload replaces the store contents with the current directory state
func (w *Watcher) reload() {
	policies, err := w.loader.LoadFromDirectory(w.path)
	if err != nil {
		w.logger.Error("Policy reload failed", zap.Error(err))
		w.emit(ReloadEvent{Timestamp: time.Now(), Err: err})
		return
	}

	w.store.Clear()
	loaded := 0
	for _, p := range policies {
		if err := w.store.Add(p); err != nil {
			w.logger.Warn("Skipping policy on reload",
				zap.String("policy", p.ID),
				zap.Error(err),
			)
			continue
		}
		loaded++
	}

	w.logger.Info("Policies reloaded", zap.Int("count", loaded))
	w.emit(ReloadEvent{Timestamp: time.Now(), Loaded: loaded})
}

func (w *Watcher) emit(ev ReloadEvent) {
	select {
	case w.events <- ev:
	default:
		// Drop when nobody is listening
	}
}

func isPolicyFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
