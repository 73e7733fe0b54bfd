package credentials

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// RotationCallback is called after the token file settles following a change.
type RotationCallback func(path string)

// RotationWatcherConfig holds configuration for the watcher
type RotationWatcherConfig struct {
	Path               string
	StabilityThreshold time.Duration
	OnRotate           RotationCallback
	Logger             zerolog.Logger
}

// RotationWatcher reports when a token file is written, replaced or removed.
// The parent directory is watched so atomic rename-over updates are seen.
type RotationWatcher struct {
	watcher            *fsnotify.Watcher
	path               string
	stabilityThreshold time.Duration
	onRotate           RotationCallback
	logger             zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once

	debounceMu sync.Mutex
	debounce   *time.Timer
}

// NewRotationWatcher creates a watcher; call Start to begin watching.
func NewRotationWatcher(cfg RotationWatcherConfig) (*RotationWatcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("token file path is required")
	}
	if cfg.OnRotate == nil {
		return nil, fmt.Errorf("rotation callback is required")
	}
	if cfg.StabilityThreshold <= 0 {
		cfg.StabilityThreshold = 100 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to resolve token file path: %w", err)
	}

	return &RotationWatcher{
		watcher:            watcher,
		path:               path,
		stabilityThreshold: cfg.StabilityThreshold,
		onRotate:           cfg.OnRotate,
		logger:             cfg.Logger.With().Str("component", "credential-watcher").Logger(),
		done:               make(chan struct{}),
	}, nil
}

// Start begins watching the token file's directory.
func (w *RotationWatcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch token directory: %w", err)
	}

	go w.eventLoop()

	w.logger.Info().Str("path", w.path).Msg("Credential watcher started")
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (w *RotationWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.debounceMu.Lock()
		if w.debounce != nil {
			w.debounce.Stop()
			w.debounce = nil
		}
		w.debounceMu.Unlock()

		if cerr := w.watcher.Close(); cerr != nil {
			err = fmt.Errorf("failed to close watcher: %w", cerr)
		}
	})
	return err
}

func (w *RotationWatcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Credential watcher error")

		case <-w.done:
			return
		}
	}
}

// schedule coalesces bursts of events (truncate + write, rename + create) into one callback.
func (w *RotationWatcher) schedule() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.stabilityThreshold, func() {
		select {
		case <-w.done:
			return
		default:
		}
		w.logger.Info().Str("path", w.path).Msg("Credential file rotated")
		w.onRotate(w.path)
	})
}
