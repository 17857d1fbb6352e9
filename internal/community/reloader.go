package community

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce coalesces the burst of events a rename produces.
const DefaultReloadDebounce = 200 * time.Millisecond

// Reloader keeps an Index in sync with a snapshot file. It watches the
// file's directory (SaveFile replaces the file by rename, which a watch on
// the file itself would lose) and reloads after events settle.
type Reloader struct {
	path     string
	index    *Index
	debounce time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	lastErr error
	reloads int

	// reloaded receives one value per completed reload attempt (tests).
	reloaded chan error
}

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// NewReloader creates a reloader for the snapshot at path.
func NewReloader(path string, index *Index, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		path:     path,
		index:    index,
		debounce: DefaultReloadDebounce,
		reloaded: make(chan error, 16),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reload loads the snapshot file and swaps it in. On error the current
// snapshot stays in place.
func (r *Reloader) Reload(ctx context.Context) error {
	start := time.Now()
	snap, err := LoadFile(ctx, r.path)

	r.mu.Lock()
	r.lastErr = err
	if err == nil {
		r.reloads++
	}
	r.mu.Unlock()

	if err != nil {
		slog.Warn("community_reload_failed",
			slog.String("path", r.path),
			slog.String("error", err.Error()))
	} else {
		r.index.Swap(snap)
		slog.Info("community_reloaded",
			slog.String("path", r.path),
			slog.String("version", snap.Version()),
			slog.Duration("duration", time.Since(start)))
	}

	select {
	case r.reloaded <- err:
	default:
	}
	return err
}

// Watch blocks until ctx is done, reloading the index whenever the
// snapshot file is created, written or renamed into place.
func (r *Reloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	slog.Debug("community_watch_started", slog.String("path", r.path))

	target := filepath.Clean(r.path)
	for {
		select {
		case <-ctx.Done():
			r.stopTimer()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			r.schedule(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("community_watch_error", slog.String("error", err.Error()))
		}
	}
}

// schedule restarts the debounce timer.
func (r *Reloader) schedule(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		_ = r.Reload(ctx)
	})
}

func (r *Reloader) stopTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
}

// Status reports the number of successful reloads and the last error.
func (r *Reloader) Status() (reloads int, lastErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloads, r.lastErr
}
