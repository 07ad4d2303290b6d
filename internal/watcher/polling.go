package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher detects changes by re-statting the tree on an interval
// and diffing against the previous pass. It is the fallback path when
// inotify/fsnotify can't initialize (containerized filesystems, watch
// descriptor exhaustion) — slower to notice a change than the kernel
// path, but it feeds the exact same debounce/queue pipeline, so the index
// converges either way.
type PollingWatcher struct {
	interval time.Duration
	snapshot map[string]statRecord
	events   chan FileEvent
	errors   chan error
	stopCh   chan struct{}
	mu       sync.RWMutex
	stopped  bool
	rootPath string
}

// statRecord is the per-path state one polling pass remembers: enough to
// tell changed from unchanged without hashing (the change handler hashes
// downstream before touching the store).
type statRecord struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPollingWatcher creates a polling watcher with the given interval.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	return &PollingWatcher{
		interval: interval,
		snapshot: make(map[string]statRecord),
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start polls path until the context is cancelled or Stop is called. The
// first pass only establishes the baseline; it emits nothing, so a fresh
// watch never floods the queue with pseudo-creates for files the startup
// scan already indexed.
func (p *PollingWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	p.rootPath = absPath

	if err := p.baseline(); err != nil {
		return fmt.Errorf("perform initial scan: %w", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.diffPass(); err != nil {
				// Non-fatal: surface it and keep polling.
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

// Stop stops the polling watcher.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}

	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the channel of file events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the channel of errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}

// baseline walks the tree once and records every path's stat state
// without emitting events.
func (p *PollingWatcher) baseline() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return filepath.WalkDir(p.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}

		relPath, err := filepath.Rel(p.rootPath, path)
		if err != nil {
			return nil
		}
		if relPath == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		p.snapshot[relPath] = statRecord{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}

		return nil
	})
}

// diffPass walks the tree, emits create/modify events for paths that are
// new or whose stat changed since the last pass, emits deletes for paths
// that vanished, then replaces the snapshot.
func (p *PollingWatcher) diffPass() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := make(map[string]statRecord)

	err := filepath.WalkDir(p.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		relPath, err := filepath.Rel(p.rootPath, path)
		if err != nil {
			return nil
		}
		if relPath == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		rec := statRecord{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}
		current[relPath] = rec

		if prev, exists := p.snapshot[relPath]; !exists {
			p.emit(FileEvent{
				Path:      relPath,
				Operation: OpCreate,
				IsDir:     d.IsDir(),
				Timestamp: time.Now(),
			})
		} else if prev.modTime != rec.modTime || prev.size != rec.size {
			p.emit(FileEvent{
				Path:      relPath,
				Operation: OpModify,
				IsDir:     d.IsDir(),
				Timestamp: time.Now(),
			})
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("walk directory for changes: %w", err)
	}

	for path, rec := range p.snapshot {
		if _, exists := current[path]; !exists {
			p.emit(FileEvent{
				Path:      path,
				Operation: OpDelete,
				IsDir:     rec.isDir,
				Timestamp: time.Now(),
			})
		}
	}

	p.snapshot = current
	return nil
}

// emit sends an event without blocking the poll loop; a full buffer drops
// the event (the sync checker reconciles it later). Must be called with
// the lock held.
func (p *PollingWatcher) emit(event FileEvent) {
	if p.stopped {
		return
	}

	select {
	case p.events <- event:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()),
		)
	}
}
