package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow coalesces editor save bursts into one re-ingest.
const DefaultDebounceWindow = 500 * time.Millisecond

// Watcher re-ingests files as they change under a directory tree. Events
// for the same path within the debounce window collapse into one
// operation; a delete following a create within the window cancels both.
type Watcher struct {
	engine   *Engine
	window   time.Duration
	notifier *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]fsnotify.Op
	timer   *time.Timer
	stopped bool
}

// NewWatcher creates a watcher over the engine.
func NewWatcher(engine *Engine, window time.Duration) (*Watcher, error) {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		engine:   engine,
		window:   window,
		notifier: notifier,
		pending:  make(map[string]fsnotify.Op),
	}, nil
}

// Watch blocks, processing events for dir and its subdirectories until the
// context is cancelled.
func (w *Watcher) Watch(ctx context.Context, dir string) error {
	if err := w.addRecursive(dir); err != nil {
		return err
	}
	slog.Info("watching for changes", slog.String("dir", dir))

	for {
		select {
		case <-ctx.Done():
			return w.Close()

		case event, ok := <-w.notifier.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.notifier.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	// New directories join the watch set immediately.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				slog.Warn("failed to watch new directory",
					slog.String("dir", event.Name),
					slog.String("error", err.Error()))
			}
			return
		}
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	prior, seen := w.pending[event.Name]
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if seen && prior.Has(fsnotify.Create) {
			// Created and removed inside one window: nothing happened.
			delete(w.pending, event.Name)
		} else {
			w.pending[event.Name] = fsnotify.Remove
		}
	case seen:
		// Create followed by writes stays a create.
		if !prior.Has(fsnotify.Create) {
			w.pending[event.Name] = fsnotify.Write
		}
	default:
		w.pending[event.Name] = event.Op
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.window, func() { w.flush(ctx) })
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]fsnotify.Op)
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}

	for path, op := range batch {
		if op.Has(fsnotify.Remove) {
			w.removePath(ctx, path)
			continue
		}
		res, err := w.engine.IngestFile(ctx, path, nil)
		if err != nil {
			slog.Warn("watch re-ingest failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		if res.Status == StatusSuccess {
			slog.Info("re-ingested changed file",
				slog.String("path", path),
				slog.Int("chunks", res.ChunkCount))
		}
	}
}

func (w *Watcher) removePath(ctx context.Context, path string) {
	doc, err := w.engine.meta.GetDocumentBySource(ctx, path)
	if err != nil || doc == nil {
		return
	}
	if err := w.engine.DeleteDocument(ctx, doc.ID); err != nil {
		slog.Warn("failed to remove deleted file from index",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	slog.Info("removed deleted file from index", slog.String("path", path))
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); len(name) > 1 && name[0] == '.' {
			return filepath.SkipDir
		}
		return w.notifier.Add(path)
	})
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.notifier.Close()
}
