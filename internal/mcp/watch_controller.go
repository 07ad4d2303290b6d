package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/specmem/specmem/internal/ingest"
	"github.com/specmem/specmem/internal/queue"
	"github.com/specmem/specmem/internal/watcher"
)

// WatchController wires the File Watcher (C10) through the Change Queue
// (C11) into the Change Handler (C12) for one project, and exposes the
// start/stop lifecycle the start_watching/stop_watching tools drive.
// The controller itself is just the glue a composition root needs;
// cmd/specmemd's serve command builds one for the on-disk CLI entry point.
type WatchController struct {
	rootPath string
	opts     watcher.Options
	qcfg     queue.Config
	handler  *ingest.Handler
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	watch   *watcher.HybridWatcher
	q       *queue.Queue
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatchController builds a controller for rootPath. The handler is
// typically the same *ingest.Handler used by the Sync Checker (C13), so a
// live watch and a forced resync converge on identical upsert/remove
// semantics.
func NewWatchController(rootPath string, opts watcher.Options, qcfg queue.Config, handler *ingest.Handler) *WatchController {
	return &WatchController{
		rootPath: rootPath,
		opts:     opts.WithDefaults(),
		qcfg:     qcfg,
		handler:  handler,
		logger:   slog.Default(),
	}
}

// IsRunning reports whether the watcher is currently active.
func (w *WatchController) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start begins watching rootPath, draining debounced events through the
// Change Queue into the Change Handler. Safe to call when already
// running (no-op).
func (w *WatchController) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	hw, err := watcher.NewHybridWatcher(w.opts)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	q := queue.New(w.qcfg, func(hctx context.Context, event watcher.FileEvent) error {
		return w.handler.Handle(hctx, w.rootPath, event)
	})

	runCtx, cancel := context.WithCancel(context.Background())
	if err := hw.Start(runCtx, w.rootPath); err != nil {
		cancel()
		return fmt.Errorf("start watcher: %w", err)
	}
	q.Start(runCtx)

	w.watch = hw
	w.q = q
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.pump(runCtx)

	w.logger.Info("watcher started", slog.String("root", w.rootPath))
	return nil
}

// pump forwards batched, debounced events from the watcher into the
// queue, assigning priority by operation (deletes and renames jump ahead
// of plain modifies so removals converge quickly) until the watcher's
// event channel closes.
func (w *WatchController) pump(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.watch.Events():
			if !ok {
				return
			}
			now := time.Now()
			for _, ev := range batch {
				priority := 0
				if ev.Operation == watcher.OpDelete || ev.Operation == watcher.OpRename {
					priority = 1
				}
				if err := w.q.Enqueue(ev, priority, now); err != nil {
					w.logger.Warn("watch event dropped", slog.String("path", ev.Path), slog.String("error", err.Error()))
				}
			}
		case err, ok := <-w.watch.Errors():
			if !ok {
				continue
			}
			if err != nil {
				w.logger.Warn("watcher error", slog.String("error", err.Error()))
			}
		}
	}
}

// Stop halts the watcher and drains the queue. Safe to call when not
// running (no-op).
func (w *WatchController) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	watch, q, cancel := w.watch, w.q, w.cancel
	w.running = false
	w.watch, w.q, w.cancel = nil, nil, nil
	w.mu.Unlock()

	q.Stop(context.Background(), true)
	err := watch.Stop()
	cancel()
	w.wg.Wait()

	w.logger.Info("watcher stopped", slog.String("root", w.rootPath))
	return err
}
