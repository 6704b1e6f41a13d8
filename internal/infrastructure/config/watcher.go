package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the burst of filesystem events most editors
// emit for a single save (write, chmod, rename-into-place).
const debounceDelay = 250 * time.Millisecond

// Logger defines the logging interface for the watcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Watcher re-reads the config file when it changes on disk and hands the
// freshly validated Config to the callback. A file that fails to load
// keeps the previous configuration in force.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   Logger
	fsw      *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given config file. onChange is
// called from the watcher goroutine with each successfully loaded
// config; it must not block for long.
func NewWatcher(path string, onChange func(*Config), logger Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fs watcher: %w", err)
	}

	// Watch the directory, not the file: editors and config management
	// tools replace files by rename, which drops a file-level watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching config directory: %w", err)
	}

	return &Watcher{
		path:     path,
		onChange: onChange,
		logger:   logger,
		fsw:      fsw,
	}, nil
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceDelay)
			} else {
				debounce.Reset(debounceDelay)
			}
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// reload loads the file and invokes the callback on success.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous configuration",
			"path", w.path,
			"error", err,
		)
		return
	}

	w.logger.Info("config reloaded", "path", w.path, "devices", len(cfg.Devices))
	w.onChange(cfg)
}
