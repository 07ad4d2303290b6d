package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer collapses rapid per-path event bursts so an edit storm on one
// file reaches the change queue as a single net operation (the most
// recent event wins). Within the window, successive operations on the
// same path merge to their net effect:
//   - CREATE + MODIFY = CREATE (file is still new to the index)
//   - CREATE + DELETE = nothing (file never became indexable)
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced in place)
type Debouncer struct {
	window  time.Duration
	tracked map[string]*trackedEvent
	mu      sync.Mutex
	output  chan []FileEvent
	timer   *time.Timer
	stopCh  chan struct{}
	stopped bool
}

// trackedEvent is one path's in-window state: the current net event plus
// the operation that opened the window, which the merge table dispatches on.
type trackedEvent struct {
	event    FileEvent
	openOp   Operation
	lastSeen time.Time
}

// NewDebouncer creates a debouncer with the given window. Events for a
// path settle for one full window before the batch is emitted.
func NewDebouncer(window time.Duration) *Debouncer {
	d := &Debouncer{
		window:  window,
		tracked: make(map[string]*trackedEvent),
		output:  make(chan []FileEvent, 10),
		stopCh:  make(chan struct{}),
	}
	return d
}

// Add folds one raw watcher event into the per-path net state.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	path := event.Path
	now := time.Now()

	if existing, ok := d.tracked[path]; ok {
		merged := d.merge(existing, event)
		if merged == nil {
			// The burst netted out to nothing (CREATE then DELETE).
			delete(d.tracked, path)
		} else {
			existing.event = *merged
			existing.lastSeen = now
		}
	} else {
		d.tracked[path] = &trackedEvent{
			event:    event,
			openOp:   event.Operation,
			lastSeen: now,
		}
	}

	d.armFlush()
}

// merge applies the net-operation table to an in-window event and a new
// arrival for the same path. Returns nil when they cancel out.
func (d *Debouncer) merge(existing *trackedEvent, incoming FileEvent) *FileEvent {
	switch existing.openOp {
	case OpCreate:
		switch incoming.Operation {
		case OpModify:
			// Still a brand-new file as far as the index is concerned.
			return &existing.event
		case OpDelete:
			return nil
		default:
			return &incoming
		}

	case OpModify:
		// Latest write wins; a trailing delete wins outright.
		return &incoming

	case OpDelete:
		if incoming.Operation == OpCreate {
			// Deleted then recreated within one window: the index sees a
			// content change, not a churn of remove + add.
			result := incoming
			result.Operation = OpModify
			return &result
		}
		return &incoming

	default:
		// Renames and anything unclassified: keep the latest.
		return &incoming
	}
}

// armFlush (re)arms the flush timer for one debounce window.
func (d *Debouncer) armFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.window, func() {
		d.flush()
	})
}

// flush emits every settled path's net event as one batch.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.tracked) == 0 {
		return
	}

	events := make([]FileEvent, 0, len(d.tracked))
	for _, te := range d.tracked {
		events = append(events, te.event)
	}
	d.tracked = make(map[string]*trackedEvent)

	// Non-blocking send: a stalled consumer drops the batch rather than
	// wedging the watcher goroutine; the sync checker reconciles anything
	// dropped here on its next pass.
	select {
	case d.output <- events:
	default:
		slog.Warn("debouncer output full, dropping batch",
			slog.Int("batch_size", len(events)),
		)
	}
}

// Output returns the channel of debounced event batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop stops the debouncer and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.stopCh)
	close(d.output)
}
