package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const watchDebounce = 200 * time.Millisecond

// ConfigWatcher reports changes to a single config file. The parent
// directory is watched so editors that save by renaming a temp file over the
// original are still seen.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onChange func(path string)

	mu      sync.Mutex
	pending *time.Timer
	wg      sync.WaitGroup
	done    chan struct{}
}

// ConfigWatcherOption configures the watcher.
type ConfigWatcherOption func(*ConfigWatcher)

// WithDebounce sets how long the watcher waits for writes to settle.
// Multiple events within this duration are coalesced.
func WithDebounce(d time.Duration) ConfigWatcherOption {
	return func(w *ConfigWatcher) {
		w.debounce = d
	}
}

// NewConfigWatcher creates a watcher calling onChange after path is written,
// created or replaced.
func NewConfigWatcher(path string, onChange func(path string), opts ...ConfigWatcherOption) (*ConfigWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &ConfigWatcher{
		watcher:  fsWatcher,
		path:     absPath,
		debounce: watchDebounce,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(absPath), err)
	}

	return w, nil
}

// Start begins watching for changes.
func (w *ConfigWatcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
}

// Stop stops the watcher.
func (w *ConfigWatcher) Stop() error {
	close(w.done)
	w.wg.Wait()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()

	return w.watcher.Close()
}

func (w *ConfigWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")
		}
	}
}

// handle debounces writes, creates and renames onto the config file.
func (w *ConfigWatcher) handle(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	log.Debug().Str("op", event.Op.String()).Str("path", event.Name).Msg("Config file changed")

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		if w.onChange != nil {
			w.onChange(w.path)
		}
	})
}
