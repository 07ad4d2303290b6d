package synccheck

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	memerrors "github.com/specmem/specmem/internal/errors"
	"github.com/specmem/specmem/internal/watcher"
)

// resyncOp is one unit of resync work: apply a single drift entry through
// the Change Handler as if it were a live filesystem event.
type resyncOp struct {
	phase ResyncPhase
	path  string
}

// Resync applies a DriftReport in three phases — add, update, mark-deleted
// — each run with bounded parallelism and a per-file timeout. Transient
// failures get one retry after a fixed backoff; everything else is
// reported and counted. An overall deadline bounds the whole call; past it,
// Resync returns a partial result with DeadlineHit set rather than blocking
// indefinitely.
func (c *Checker) Resync(ctx context.Context, projectPath string, report *DriftReport) (*ResyncResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ResyncDeadline)
	defer cancel()

	result := &ResyncResult{Success: true}

	ops := make([]resyncOp, 0, report.TotalDrift())
	for _, d := range report.MissingFromMcp {
		ops = append(ops, resyncOp{phase: PhaseAdd, path: d.Path})
	}
	for _, d := range report.ContentMismatch {
		ops = append(ops, resyncOp{phase: PhaseUpdate, path: d.Path})
	}
	for _, d := range report.MissingFromDisk {
		ops = append(ops, resyncOp{phase: PhaseMarkDeleted, path: d.Path})
	}

	var mu sync.Mutex
	retryQueue := make([]resyncOp, 0)

	runPhase := func(phase ResyncPhase, batch []resyncOp) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.ResyncConcurrency)

		for _, op := range batch {
			op := op
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				err := c.applyOp(gctx, projectPath, op)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					c.tallyPhase(result, phase)
				case isTransient(err):
					retryQueue = append(retryQueue, op)
				default:
					result.Failures = append(result.Failures, ResyncFailure{Path: op.path, Phase: phase, Err: err})
					result.Success = false
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	byPhase := map[ResyncPhase][]resyncOp{}
	for _, op := range ops {
		byPhase[op.phase] = append(byPhase[op.phase], op)
	}

	for _, phase := range []ResyncPhase{PhaseAdd, PhaseUpdate, PhaseMarkDeleted} {
		if ctx.Err() != nil {
			break
		}
		runPhase(phase, byPhase[phase])
	}

	if len(retryQueue) > 0 && ctx.Err() == nil {
		time.Sleep(c.cfg.ResyncRetryDelay)
		for _, op := range retryQueue {
			if ctx.Err() != nil {
				break
			}
			result.Retried++
			err := c.applyOp(ctx, projectPath, op)
			if err == nil {
				c.tallyPhase(result, op.phase)
				continue
			}
			result.Failures = append(result.Failures, ResyncFailure{Path: op.path, Phase: op.phase, Err: err, Transient: isTransient(err)})
			result.Success = false
		}
	}

	if ctx.Err() != nil {
		result.Success = false
		result.DeadlineHit = true
		result.Failures = append(result.Failures, ResyncFailure{Phase: "", Err: memerrors.DeadlineExceeded("resync deadline exceeded")})
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (c *Checker) tallyPhase(result *ResyncResult, phase ResyncPhase) {
	switch phase {
	case PhaseAdd:
		result.Added++
	case PhaseUpdate:
		result.Updated++
	case PhaseMarkDeleted:
		result.MarkedDeleted++
	}
}

// applyOp runs one resync operation through the Change Handler under a
// per-file timeout, synthesizing the watcher.FileEvent the live pipeline
// would have produced for the same change.
func (c *Checker) applyOp(ctx context.Context, projectPath string, op resyncOp) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ResyncFileTimeout)
	defer cancel()

	var event watcher.FileEvent
	switch op.phase {
	case PhaseAdd:
		event = watcher.FileEvent{Path: op.path, Operation: watcher.OpCreate, Timestamp: time.Now()}
	case PhaseUpdate:
		event = watcher.FileEvent{Path: op.path, Operation: watcher.OpModify, Timestamp: time.Now()}
	case PhaseMarkDeleted:
		event = watcher.FileEvent{Path: op.path, Operation: watcher.OpDelete, Timestamp: time.Now()}
	}
	return c.handler.Handle(ctx, projectPath, event)
}

// isTransient matches the timeout / connection-reset / queue-saturation
// retry class.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	code := memerrors.GetCode(err)
	switch code {
	case memerrors.ErrCodeDeadlineExceeded, memerrors.ErrCodeStoreConnection,
		memerrors.ErrCodeStoreTimeout, memerrors.ErrCodeQueueFull:
		return true
	}
	return memerrors.IsRetryable(err)
}
