package config

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay debounces bursts of file events into one reload.
const DefaultReloadDelay = 500 * time.Millisecond

// Watcher reloads a configuration file when it changes and hands the new
// configuration to subscribers. A file that fails to load is logged and the
// previous configuration stays current.
type Watcher struct {
	path   string
	loader *Loader
	logger zerolog.Logger
	delay  time.Duration

	mu          sync.RWMutex
	current     *Config
	subscribers []func(*Config)

	// timer is the pending debounced reload; stopped turns reloads off.
	timer   *time.Timer
	stopped bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a watcher for path starting from current.
func NewWatcher(path string, current *Config, logger zerolog.Logger) *Watcher {
	return &Watcher{
		path:    filepath.Clean(path),
		loader:  NewLoader(),
		logger:  logger.With().Str("component", "config-watcher").Logger(),
		delay:   DefaultReloadDelay,
		current: current,
		done:    make(chan struct{}),
	}
}

// Subscribe registers fn to receive every successfully reloaded configuration.
func (w *Watcher) Subscribe(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, fn)
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins watching. The parent directory is watched so that editors
// replacing the file by rename are noticed. Watching stops when ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	w.watcher = watcher

	go w.processEvents(ctx)

	w.logger.Info().Str("path", w.path).Msg("Watching configuration file")
	return nil
}

// Stop stops watching. A pending reload is dropped and no subscriber is
// called after Stop returns.
func (w *Watcher) Stop() error {
	w.halt()
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) halt() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.reload)
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	defer w.halt()

	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug().Str("op", event.Op.String()).Msg("Configuration file changed")
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// reload loads the file and notifies subscribers.
func (w *Watcher) reload() {
	if w.isStopped() {
		return
	}
	cfg, err := w.loader.Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to reload configuration; keeping previous")
		return
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.current = cfg
	subs := slices.Clone(w.subscribers)
	w.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}
	w.logger.Info().Int("subscribers", len(subs)).Msg("Configuration reloaded")
}

func (w *Watcher) isStopped() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stopped
}
