// Package forgetting implements the Forgetting Curve Engine (C8): a
// per-memory Ebbinghaus-style stability/retrievability model with
// spaced-repetition updates on access.
package forgetting

import (
	"context"
	"math"
	"sort"
	"time"

	memerrors "github.com/specmem/specmem/internal/errors"
	"github.com/specmem/specmem/internal/store"
)

// ImportanceMultiplier returns the retrievability-decay multiplier for an
// importance level: higher importance decays more slowly.
func ImportanceMultiplier(imp store.Importance) float64 {
	switch imp {
	case store.ImportanceCritical:
		return 2.0
	case store.ImportanceHigh:
		return 1.5
	case store.ImportanceMedium:
		return 1.0
	case store.ImportanceLow:
		return 0.7
	case store.ImportanceTrivial:
		return 0.4
	default:
		return 1.0
	}
}

// initialStability returns the seed stability (days) for a memory's first
// access, by importance.
func initialStability(imp store.Importance) float64 {
	switch imp {
	case store.ImportanceCritical:
		return 30
	case store.ImportanceHigh:
		return 20
	case store.ImportanceMedium:
		return 10
	case store.ImportanceLow:
		return 5
	case store.ImportanceTrivial:
		return 2
	default:
		return 10
	}
}

// DefaultEaseFactor is the ease factor a fresh MemoryStrength starts at.
const DefaultEaseFactor = 2.0

// Retrievability computes R = exp(-t / (S * I)) for t days since the last
// review, stability S, and importance multiplier I. Monotonically
// non-increasing in t.
func Retrievability(stability, importanceMult, tDays float64) float64 {
	if stability <= 0 || importanceMult <= 0 {
		return 0
	}
	if tDays <= 0 {
		return 1
	}
	return math.Exp(-tDays / (stability * importanceMult))
}

// ComputeRetrievability derives the live retrievability of a MemoryStrength
// as of now, using its stored Stability and LastReview rather than the
// (possibly stale, snapshot-at-last-review) Retrievability field.
func ComputeRetrievability(s *store.MemoryStrength, imp store.Importance, now time.Time) float64 {
	tDays := now.Sub(s.LastReview).Hours() / 24
	return Retrievability(s.Stability, ImportanceMultiplier(imp), tDays)
}

// Engine is the Forgetting Curve Engine (C8), built over a
// store.MetadataStore.
type Engine struct {
	metadata store.MetadataStore
}

// New builds a forgetting-curve Engine over the given metadata store.
func New(metadata store.MetadataStore) *Engine {
	return &Engine{metadata: metadata}
}

func isNotFound(err error) bool {
	return memerrors.GetCode(err) == memerrors.ErrCodeNotFound
}

// OnAccess records a review of memoryID. success=true is a successful
// recall (ease and stability grow, interval lengthens); success=false is a
// signaled failure (ease and stability shrink, interval resets to 1 day).
// A memory with no prior strength record is initialized per its importance
// before the update is applied.
func (e *Engine) OnAccess(ctx context.Context, memoryID string, imp store.Importance, success bool, now time.Time) (*store.MemoryStrength, error) {
	s, err := e.metadata.GetStrength(ctx, memoryID)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		s = &store.MemoryStrength{
			MemoryID:     memoryID,
			Stability:    initialStability(imp),
			EaseFactor:   DefaultEaseFactor,
			IntervalDays: 1,
			LastReview:   now,
		}
	}

	daysSinceReview := now.Sub(s.LastReview).Hours() / 24
	if daysSinceReview < 0 {
		daysSinceReview = 0
	}

	if success {
		s.EaseFactor = math.Max(store.MinEaseFactor, s.EaseFactor+0.1)
		s.Stability = math.Min(store.MaxStability, s.Stability+5*math.Log2(math.Max(1, daysSinceReview)+1))
		s.IntervalDays = int(math.Max(1, math.Round(float64(s.IntervalDays)*s.EaseFactor)))
		s.Retrievability = 1
	} else {
		s.EaseFactor = math.Max(store.MinEaseFactor, s.EaseFactor-0.2)
		s.Stability = math.Max(1, s.Stability*0.8)
		s.IntervalDays = 1
		s.Retrievability = 1
	}

	s.LastReview = now
	s.ReviewCount++

	if err := e.metadata.SaveStrength(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Fading is one memory ranked for review/consolidation by getFading: its
// live retrievability (not the stale last-review snapshot) and importance.
type Fading struct {
	Memory         *store.Memory
	Strength       *store.MemoryStrength
	Retrievability float64
}

// GetFading returns memories whose live retrievability is at or below
// threshold, ordered by lowest retrievability then highest importance,
// capped at limit.
func (e *Engine) GetFading(ctx context.Context, projectPath string, threshold float64, limit int, now time.Time) ([]Fading, error) {
	if limit <= 0 {
		limit = 20
	}

	// Overfetch: ListDueForReview orders by the stale stored Retrievability
	// snapshot, which isn't the quantity we filter/sort by here - so pull a
	// wider candidate set and re-rank by the live value.
	candidates, err := e.metadata.ListDueForReview(ctx, projectPath, now, limit*10)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(candidates))
	byID := make(map[string]*store.MemoryStrength, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.MemoryID)
		byID[c.MemoryID] = c
	}

	memories, err := e.metadata.GetMemories(ctx, projectPath, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Fading, 0, len(memories))
	for _, m := range memories {
		if m.IsExpired(now) {
			continue
		}
		s := byID[m.ID]
		r := ComputeRetrievability(s, m.Importance, now)
		if r > threshold {
			continue
		}
		out = append(out, Fading{Memory: m, Strength: s, Retrievability: r})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Retrievability != out[j].Retrievability {
			return out[i].Retrievability < out[j].Retrievability
		}
		return importanceRank(out[i].Memory.Importance) > importanceRank(out[j].Memory.Importance)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func importanceRank(imp store.Importance) int {
	switch imp {
	case store.ImportanceCritical:
		return 4
	case store.ImportanceHigh:
		return 3
	case store.ImportanceMedium:
		return 2
	case store.ImportanceLow:
		return 1
	default:
		return 0
	}
}
