package jobconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher reloads the job file when it changes and hands valid results to
// onChange. Invalid edits are logged and the previous job stays in effect.
//
// The parent directory is watched rather than the file, so editors that
// replace the file by rename are picked up.
type Watcher struct {
	path     string
	logger   *slog.Logger
	onChange func(Job)
	debounce time.Duration
	watcher  *fsnotify.Watcher

	started   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func NewWatcher(path string, logger *slog.Logger, onChange func(Job)) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	if onChange == nil {
		return nil, errors.New("onChange is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		path:     filepath.Clean(abs),
		logger:   logger,
		onChange: onChange,
		debounce: defaultDebounce,
		watcher:  fsWatcher,
		done:     make(chan struct{}),
	}, nil
}

func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.started.Store(true)
	go w.run(ctx)
	return nil
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
		if w.started.Load() {
			<-w.done
		}
	})
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	var pending time.Time
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.Now()
			} else if event.Op&fsnotify.Remove != 0 {
				w.logger.Warn("job config removed, keeping current job", "path", w.path)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("job config watch error", "path", w.path, "error", err)

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < w.debounce {
				continue
			}
			pending = time.Time{}
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	job, err := Load(w.path)
	if err != nil {
		w.logger.Warn("job config reload failed, keeping current job", "path", w.path, "error", err)
		return
	}
	w.logger.Info("job config reloaded", "path", w.path, "job", job.Name, "candidates", len(job.Candidates))
	w.onChange(job)
}
