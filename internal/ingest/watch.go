package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"archivist/internal/fileutil"
	"archivist/internal/logging"
	"archivist/internal/metadata"
)

const defaultDebounce = 750 * time.Millisecond

// Watcher ingests sidecars as they appear under a download directory. Each
// sidecar is ingested once it has been quiet for the debounce interval.
type Watcher struct {
	ingester *Ingester
	fs       *fsnotify.Watcher
	root     string
	opts     FolderOptions
	debounce time.Duration

	ready chan string
	done  chan struct{}

	mu     sync.Mutex
	timers map[string]*time.Timer

	// OnIngest is called after each sidecar is processed.
	OnIngest func(path string, out Outcome, err error)
}

// NewWatcher registers root and every directory below it. Directories created
// later are added as they appear.
func (i *Ingester) NewWatcher(root string, opts FolderOptions) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	debounce := time.Duration(i.cfg.Ingest.WatchDebounceMS) * time.Millisecond
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	w := &Watcher{
		ingester: i,
		fs:       fsw,
		root:     root,
		opts:     opts,
		debounce: debounce,
		ready:    make(chan string, 64),
		done:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
	}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.fs.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}

// Run processes events until ctx is cancelled or the archive becomes
// unavailable, and then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	ctx = logging.WithRunID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, w.ingester.logger)
	defer w.stop()

	logger.Info("watching for sidecars",
		logging.Path(w.root),
		logging.Duration("debounce", w.debounce),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handleEvent(logger, event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(logger, "watch error", "watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "some sidecars may be missed until the next folder ingest"),
			)

		case path := <-w.ready:
			if err := w.process(ctx, logger, path); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) handleEvent(logger *slog.Logger, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				logger.Debug("failed to watch new directory", logging.Path(event.Name), logging.Error(err))
			}
			w.queueExisting(event.Name)
			return
		}
	}
	if fileutil.IsSidecar(event.Name) {
		w.schedule(event.Name)
	}
}

// queueExisting schedules sidecars already present in a directory that
// appeared before it was watched.
func (w *Watcher) queueExisting(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() && fileutil.IsSidecar(path) {
			w.schedule(path)
		}
		return nil
	})
}

// schedule (re)starts the quiet timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scheduleLocked(path)
}

// scheduleLocked requires w.mu. A timer that already fired is replaced rather
// than reset; its callback sees it was superseded and does not queue path.
func (w *Watcher) scheduleLocked(path string) {
	if t, ok := w.timers[path]; ok && t.Stop() {
		t.Reset(w.debounce)
		return
	}
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		current := w.timers[path] == t
		if current {
			delete(w.timers, path)
		}
		w.mu.Unlock()
		if !current {
			return
		}
		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
	w.timers[path] = t
}

// process ingests one sidecar. Per-item failures are logged; anything else
// (an unavailable archive, cancellation) is returned and stops the watch.
func (w *Watcher) process(ctx context.Context, logger *slog.Logger, path string) error {
	out, err := w.ingester.ingestSidecar(ctx, path, w.opts)
	var fatal error
	switch {
	case err == nil:
		if w.opts.RemoveSidecars {
			w.ingester.removeSidecar(ctx, path)
		}
	case errors.Is(err, os.ErrNotExist) || errors.Is(err, metadata.ErrNotObject):
		logger.Debug("sidecar skipped", logging.Path(path), logging.Error(err))
	case isDocumentError(err):
		logging.WarnWithContext(logger, "item not archived", "ingest_item_failed",
			logging.Path(path),
			logging.Error(err),
		)
	case ctx.Err() != nil:
		fatal = ctx.Err()
	default:
		fatal = fmt.Errorf("ingest %s: %w", path, err)
		logger.Error("archive unavailable, stopping watch",
			logging.Path(path),
			logging.Error(err),
			logging.EventType("watch_aborted"),
		)
	}
	if w.OnIngest != nil {
		w.OnIngest(path, out, err)
	}
	return fatal
}

func (w *Watcher) stop() {
	close(w.done)
	w.mu.Lock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	_ = w.fs.Close()
}

// Close releases the watcher without running it.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
