// Package queue implements the Change Queue (C11): a deduplicating,
// priority-ordered batch processor sitting between the file watcher and
// the change handler, with retry and exponential backoff.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/specmem/specmem/internal/watcher"
)

// DefaultProcessingInterval is how often the batch timer drains the queue.
const DefaultProcessingInterval = 500 * time.Millisecond

// DefaultBatchSize bounds how many items one drain tick processes in parallel.
const DefaultBatchSize = 100

// DefaultMaxQueueSize rejects enqueues once the queue holds this many
// distinct paths.
const DefaultMaxQueueSize = 10000

// DefaultRetryDelay is the base delay before the first retry.
const DefaultRetryDelay = 1 * time.Second

// DefaultBackoff is the exponential multiplier applied per retry.
const DefaultBackoff = 2.0

// DefaultMaxRetries is how many times a failed item is retried before
// being dropped.
const DefaultMaxRetries = 3

// Config tunes queue behavior; zero values fall back to the defaults above.
type Config struct {
	ProcessingInterval time.Duration
	BatchSize          int
	MaxQueueSize       int
	RetryDelay         time.Duration
	Backoff            float64
	MaxRetries         int
}

func (c Config) withDefaults() Config {
	if c.ProcessingInterval <= 0 {
		c.ProcessingInterval = DefaultProcessingInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Handler processes one dequeued event. A non-nil error schedules a retry
// (up to MaxRetries) with exponential backoff.
type Handler func(ctx context.Context, event watcher.FileEvent) error

// Stats reports cumulative queue activity, guarded by Queue's own mutex.
type Stats struct {
	Queued         int
	Processed      int
	Failed         int
	Retried        int
	Deduplicated   int
	AvgProcessMs   float64
	totalProcessMs float64
}

// item is one queue entry: a path's latest event plus its retry state.
type item struct {
	path       string
	event      watcher.FileEvent
	priority   int
	retries    int
	enqueuedAt time.Time
	index      int // heap.Interface bookkeeping
}

// priorityHeap orders items highest-priority first, oldest-enqueued first
// within a priority tier.
type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].enqueuedAt.Before(h[j].enqueuedAt)
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *priorityHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is the Change Queue (C11).
type Queue struct {
	cfg     Config
	handler Handler

	mu          sync.Mutex
	heap        priorityHeap
	byPath      map[string]*item
	stats       Stats
	stopped     bool
	retryTimers map[*time.Timer]struct{}

	ticker    *time.Ticker
	stopCh    chan struct{}
	drainDone chan struct{}
}

// New builds a Change Queue that dispatches dequeued events to handler.
func New(cfg Config, handler Handler) *Queue {
	cfg = cfg.withDefaults()
	q := &Queue{
		cfg:         cfg,
		handler:     handler,
		heap:        priorityHeap{},
		byPath:      make(map[string]*item),
		retryTimers: make(map[*time.Timer]struct{}),
		stopCh:      make(chan struct{}),
		drainDone:   make(chan struct{}),
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds or dedups event. If a queued event for event.Path already
// exists, the newer event replaces it and priority becomes the max of the
// two (a dedup is counted). Rejected once the queue holds MaxQueueSize
// distinct paths.
func (q *Queue) Enqueue(event watcher.FileEvent, priority int, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return fmt.Errorf("queue: stopped")
	}

	if existing, ok := q.byPath[event.Path]; ok {
		if priority < existing.priority {
			priority = existing.priority
		}
		existing.event = event
		existing.priority = priority
		existing.enqueuedAt = now
		heap.Fix(&q.heap, existing.index)
		q.stats.Deduplicated++
		return nil
	}

	if len(q.byPath) >= q.cfg.MaxQueueSize {
		return fmt.Errorf("queue: at capacity (%d)", q.cfg.MaxQueueSize)
	}

	it := &item{path: event.Path, event: event, priority: priority, enqueuedAt: now}
	heap.Push(&q.heap, it)
	q.byPath[event.Path] = it
	q.stats.Queued++
	return nil
}

// Start begins the periodic batch-drain timer. Stop(flush) must be called
// to release it.
func (q *Queue) Start(ctx context.Context) {
	q.ticker = time.NewTicker(q.cfg.ProcessingInterval)
	go func() {
		defer close(q.drainDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			case <-q.ticker.C:
				q.drainBatch(ctx)
			}
		}
	}()
}

// drainBatch pops up to BatchSize items and runs the handler over them
// with bounded parallel dispatch.
func (q *Queue) drainBatch(ctx context.Context) {
	batch := q.popBatch()
	if len(batch) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.cfg.BatchSize)
	for _, it := range batch {
		it := it
		g.Go(func() error {
			q.process(gctx, it)
			return nil
		})
	}
	_ = g.Wait()
}

func (q *Queue) popBatch() []*item {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.cfg.BatchSize
	if n > q.heap.Len() {
		n = q.heap.Len()
	}
	batch := make([]*item, 0, n)
	for i := 0; i < n; i++ {
		it := heap.Pop(&q.heap).(*item)
		delete(q.byPath, it.path)
		batch = append(batch, it)
	}
	return batch
}

func (q *Queue) process(ctx context.Context, it *item) {
	start := time.Now()
	err := q.handler(ctx, it.event)
	elapsed := time.Since(start)

	q.mu.Lock()
	q.stats.Processed++
	q.stats.totalProcessMs += float64(elapsed.Milliseconds())
	if q.stats.Processed > 0 {
		q.stats.AvgProcessMs = q.stats.totalProcessMs / float64(q.stats.Processed)
	}
	q.mu.Unlock()

	if err == nil {
		return
	}

	if it.retries >= q.cfg.MaxRetries {
		q.mu.Lock()
		q.stats.Failed++
		q.mu.Unlock()
		return
	}

	it.retries++
	delay := time.Duration(float64(q.cfg.RetryDelay) * math.Pow(q.cfg.Backoff, float64(it.retries-1)))

	q.mu.Lock()
	q.stats.Retried++
	if q.stopped {
		q.mu.Unlock()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.retryTimers, timer)
		if queued, ok := q.byPath[it.path]; ok {
			// A newer event for the path is queued; it inherits the retry count.
			if queued.retries < it.retries {
				queued.retries = it.retries
			}
			return
		}
		if q.stopped || len(q.byPath) >= q.cfg.MaxQueueSize {
			return
		}
		it.priority++
		it.enqueuedAt = time.Now()
		heap.Push(&q.heap, it)
		q.byPath[it.path] = it
		q.stats.Queued++
	})
	q.retryTimers[timer] = struct{}{}
	q.mu.Unlock()
}

// Stop halts the drain timer. If flush is true, it drains every remaining
// item synchronously (processing a final batch in a loop) before
// returning; pending retry timers are always cancelled.
func (q *Queue) Stop(ctx context.Context, flush bool) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	started := q.ticker != nil
	for timer := range q.retryTimers {
		timer.Stop()
		delete(q.retryTimers, timer)
	}
	q.mu.Unlock()

	if started {
		q.ticker.Stop()
		close(q.stopCh)
		<-q.drainDone
	}

	if flush {
		for {
			q.mu.Lock()
			remaining := q.heap.Len()
			q.mu.Unlock()
			if remaining == 0 {
				break
			}
			q.drainBatch(ctx)
		}
	}
}

// Stats returns a snapshot of cumulative queue activity.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Len reports how many distinct paths are currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
