package feed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Options configures the feed watcher.
type Options struct {
	// Debounce is how long to wait after the last write before loading
	// a changed file.
	Debounce time.Duration

	// ReportBuffer is the report channel capacity.
	ReportBuffer int

	// InitialSweep loads every feed file already in the directory when
	// the watcher starts, covering files dropped while it was down.
	InitialSweep bool
}

// WithDefaults fills unset options.
func (o Options) WithDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.ReportBuffer <= 0 {
		o.ReportBuffer = 16
	}
	return o
}

// Watcher watches a drop directory and loads feed files as they
// arrive. Producers that write-then-rename and editors that save in
// bursts both collapse to a single load through the debouncer.
type Watcher struct {
	loader    *Loader
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	reports   chan *FileReport
	errs      chan error
	stopCh    chan struct{}
	dir       string
	opts      Options
	logger    *slog.Logger

	mu             sync.Mutex
	stopped        bool
	droppedReports atomic.Uint64
}

// NewWatcher creates a watcher that feeds files to the given loader.
func NewWatcher(loader *Loader, opts Options) (*Watcher, error) {
	if loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	return &Watcher{
		loader:    loader,
		fsw:       fsw,
		debouncer: NewDebouncer(opts.Debounce),
		reports:   make(chan *FileReport, opts.ReportBuffer),
		errs:      make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
		logger:    slog.Default(),
	}, nil
}

// Start watches dir until the context is canceled or Stop is called.
// It blocks; run it in a goroutine and consume Reports and Errors.
func (w *Watcher) Start(ctx context.Context, dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve feed directory: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return fmt.Errorf("feed directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("feed path is not a directory: %s", absDir)
	}
	w.dir = absDir

	if err := w.fsw.Add(absDir); err != nil {
		return fmt.Errorf("watch feed directory: %w", err)
	}
	w.logger.Info("feed watcher started", slog.String("dir", absDir))

	// The watch must be registered before the sweep; files dropped
	// during the sweep then arrive as events.
	if w.opts.InitialSweep {
		w.sweep(ctx)
	}

	go w.forwardDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// Reports returns per-file load reports.
func (w *Watcher) Reports() <-chan *FileReport {
	return w.reports
}

// Errors returns watcher and load errors.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// DroppedReports returns how many reports were discarded because the
// consumer fell behind.
func (w *Watcher) DroppedReports() uint64 {
	return w.droppedReports.Load()
}

// Stop stops the watcher. Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	return w.fsw.Close()
}

// sweep loads all feed files already present.
func (w *Watcher) sweep(ctx context.Context) {
	reports, err := w.loader.LoadDir(ctx, w.dir)
	if err != nil {
		w.emitError(err)
		return
	}
	for _, report := range reports {
		w.emitReport(report)
	}
}

// handleEvent filters and debounces one fsnotify event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if shouldIgnore(filepath.Base(event.Name)) {
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod and friends never change feed content.
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      event.Name,
		Operation: op,
		Timestamp: time.Now(),
	})
}

// forwardDebounced loads files for each debounced batch.
func (w *Watcher) forwardDebounced(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case events, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			for _, event := range events {
				w.processEvent(ctx, event)
			}
		}
	}
}

// processEvent loads one changed feed file.
func (w *Watcher) processEvent(ctx context.Context, event FileEvent) {
	if event.Operation == OpDelete || event.Operation == OpRename {
		// Removing a feed file never removes items; feeds are additive.
		w.logger.Debug("feed file removed",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()))
		return
	}

	report, err := w.loader.LoadFile(ctx, event.Path)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.emitError(err)
		return
	}
	w.emitReport(report)
}

// emitReport delivers a report without blocking the event loop.
func (w *Watcher) emitReport(report *FileReport) {
	select {
	case w.reports <- report:
	default:
		w.droppedReports.Add(1)
		w.logger.Warn("feed report channel full, dropping report",
			slog.String("path", report.Path))
	}
}

// emitError delivers an error without blocking the event loop.
func (w *Watcher) emitError(err error) {
	select {
	case w.errs <- err:
	default:
		w.logger.Warn("feed error channel full, dropping error",
			slog.String("error", err.Error()))
	}
}

// shouldIgnore filters non-feed files: only *.json counts, and
// dotfiles or temp files producers stage before renaming are skipped.
func shouldIgnore(base string) bool {
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, "~") {
		return true
	}
	return !strings.HasSuffix(base, ".json")
}
