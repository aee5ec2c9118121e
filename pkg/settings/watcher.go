package settings

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/storage"
)

// DefaultDebounce collapses bursts of editor writes into one reload.
const DefaultDebounce = 200 * time.Millisecond

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Path     string
	Storage  storage.Driver
	Debounce time.Duration

	// OnReload, when set, is called after each successful reload.
	OnReload func(*narrative.RuntimeSettings)

	Logger *zap.Logger
}

// Watcher reloads the settings file into storage whenever it changes.
type Watcher struct {
	config WatcherConfig
	logger *zap.Logger
}

// NewWatcher validates c and returns a Watcher. Call Run to start watching.
func NewWatcher(c WatcherConfig) (*Watcher, error) {
	if c.Path == "" {
		return nil, ErrNoPath
	}
	if c.Storage == nil {
		return nil, errors.New("settings watcher requires storage")
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}

	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Watcher{config: c, logger: logger}, nil
}

// Run watches the settings file's directory until ctx is done. The file may
// be created after Run starts.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating settings watcher: %w", err)
	}
	defer watcher.Close()

	path := filepath.Clean(w.config.Path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching settings dir: %w", err)
	}
	w.logger.Info("watching settings file", zap.String("path", path))

	timer := time.NewTimer(w.config.Debounce)
	timer.Stop()
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
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.config.Debounce)

		case <-timer.C:
			w.reload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	s, err := Load(w.config.Path)
	if err != nil {
		// Editors that rename-then-write leave short windows with no file.
		w.logger.Warn("failed to reload settings", zap.String("path", w.config.Path), zap.Error(err))
		return
	}

	if err := w.config.Storage.SaveSettings(ctx, s); err != nil {
		w.logger.Error("failed to store reloaded settings", zap.Error(err))
		return
	}

	w.logger.Info("settings reloaded", zap.String("path", w.config.Path))
	if w.config.OnReload != nil {
		w.config.OnReload(s)
	}
}
