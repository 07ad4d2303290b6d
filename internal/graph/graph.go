// Package graph implements the Associative Graph & Chains (C7):
// co-activation link strengthening, bounded spreading-activation traversal,
// periodic link decay, and ordered memory chains.
//
// Nodes are memory ids; edges live in the Store Adapter's
// memory_associations table, looked up by id rather than held as
// in-process pointers.
package graph

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/specmem/specmem/internal/store"
)

// DefaultCoActivationStrength is the strength a newly-observed co-activation
// link starts at.
const DefaultCoActivationStrength = 0.3

// CoActivationBump is how much strength a repeated co-activation adds,
// capped at 1.0.
const CoActivationBump = 0.1

// DefaultDecayWindow is how long a link can go without co-activation before
// it becomes eligible for the periodic decay job.
const DefaultDecayWindow = 30 * 24 * time.Hour

// Graph is the Associative Graph & Chains component (C7), built over a
// store.MetadataStore.
type Graph struct {
	metadata store.MetadataStore
}

// New builds a Graph over the given metadata store.
func New(metadata store.MetadataStore) *Graph {
	return &Graph{metadata: metadata}
}

// canonicalPair orders two memory ids so that a given unordered pair is
// always stored and looked up under the same (source, target) key,
// regardless of which order the caller observed them in.
func canonicalPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// findLink returns the stored link between a and b in canonical order, or
// nil if none exists yet.
func (g *Graph) findLink(ctx context.Context, a, b string) (*store.AssociativeLink, error) {
	links, err := g.metadata.GetLinks(ctx, a)
	if err != nil {
		return nil, err
	}
	src, tgt := canonicalPair(a, b)
	for _, l := range links {
		if l.SourceID == src && l.TargetID == tgt {
			return l, nil
		}
	}
	return nil, nil
}

// CoActivate records that the given memories were retrieved/used together.
// For every unordered pair among ids, it either inserts a new link at
// DefaultCoActivationStrength or bumps an existing one by CoActivationBump
// (capped at 1.0), incrementing co_activation_count and refreshing
// last_co_activation. linkType is recorded on new links only; an existing
// link keeps its original type.
func (g *Graph) CoActivate(ctx context.Context, ids []string, linkType store.LinkType, now time.Time) error {
	if linkType == "" {
		linkType = store.LinkTypeContextual
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[i] == ids[j] {
				continue
			}
			if err := g.coActivatePair(ctx, ids[i], ids[j], linkType, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Graph) coActivatePair(ctx context.Context, a, b string, linkType store.LinkType, now time.Time) error {
	existing, err := g.findLink(ctx, a, b)
	if err != nil {
		return err
	}

	src, tgt := canonicalPair(a, b)
	if existing == nil {
		link := &store.AssociativeLink{
			SourceID:          src,
			TargetID:          tgt,
			LinkType:          linkType,
			Strength:          DefaultCoActivationStrength,
			CoActivationCount: 1,
			LastCoActivation:  now,
			DecayRate:         0.1,
		}
		return g.metadata.SaveLink(ctx, link)
	}

	existing.Strength = min1(existing.Strength + CoActivationBump)
	existing.CoActivationCount++
	existing.LastCoActivation = now
	return g.metadata.SaveLink(ctx, existing)
}

func min1(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	return v
}

// neighbor is one edge observed while expanding a node during spreading
// activation: the memory on the other end and the strength of the edge
// that reached it.
type neighbor struct {
	id       string
	strength float64
}

func (g *Graph) neighbors(ctx context.Context, id string) ([]neighbor, error) {
	links, err := g.metadata.GetLinks(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]neighbor, 0, len(links))
	for _, l := range links {
		if l.Strength < store.MinLinkStrength {
			continue
		}
		other := l.TargetID
		if other == id {
			other = l.SourceID
		}
		out = append(out, neighbor{id: other, strength: l.Strength})
	}
	return out, nil
}

// Associated is one memory reached via spreading activation, with the
// maximum accumulated strength of any path that reached it.
type Associated struct {
	MemoryID string
	Strength float64
}

// GetAssociated performs a bounded depth-first spreading-activation
// traversal from origin: edge strengths multiply along each path, paths are
// pruned once accumulated strength drops below minStrength, and a path set
// prevents cycles. Results are deduped by memory id, keeping the maximum
// accumulated strength reached, sorted descending, and capped at limit.
func (g *Graph) GetAssociated(ctx context.Context, origin string, depth int, minStrength float64, limit int) ([]Associated, error) {
	if depth <= 0 {
		depth = 2
	}
	if limit <= 0 {
		limit = 20
	}

	best := make(map[string]float64)
	path := map[string]struct{}{origin: {}}

	var walk func(id string, acc float64, remaining int) error
	walk = func(id string, acc float64, remaining int) error {
		if remaining <= 0 {
			return nil
		}
		ns, err := g.neighbors(ctx, id)
		if err != nil {
			return err
		}
		for _, n := range ns {
			accStrength := acc * n.strength
			if accStrength < minStrength {
				continue
			}
			if _, onPath := path[n.id]; onPath {
				continue
			}
			if accStrength > best[n.id] {
				best[n.id] = accStrength
			}
			path[n.id] = struct{}{}
			if err := walk(n.id, accStrength, remaining-1); err != nil {
				delete(path, n.id)
				return err
			}
			delete(path, n.id)
		}
		return nil
	}

	if err := walk(origin, 1.0, depth); err != nil {
		return nil, err
	}

	out := make([]Associated, 0, len(best))
	for id, s := range best {
		out = append(out, Associated{MemoryID: id, Strength: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strength > out[j].Strength })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DecayLinks multiplies the strength of every link in the project whose
// last_co_activation is older than window by (1 - decay_rate), then deletes
// any link that falls (or already sits) below store.MinLinkStrength. It
// returns the count of links deleted by the prune step.
//
// Decay itself is applied per-link (the metadata store exposes pruning, not
// bulk decay, so this walks every link reachable from the project's
// memories); callers running this periodically should expect O(links) work
// and schedule it off the request path.
func (g *Graph) DecayLinks(ctx context.Context, projectPath string, memoryIDs []string, window time.Duration, now time.Time) (int, error) {
	if window <= 0 {
		window = DefaultDecayWindow
	}

	seen := map[string]bool{}
	for _, id := range memoryIDs {
		links, err := g.metadata.GetLinks(ctx, id)
		if err != nil {
			return 0, err
		}
		for _, l := range links {
			key := l.SourceID + "\x00" + l.TargetID
			if seen[key] {
				continue
			}
			seen[key] = true

			if now.Sub(l.LastCoActivation) < window {
				continue
			}
			l.Strength *= (1 - l.DecayRate)
			if err := g.metadata.SaveLink(ctx, l); err != nil {
				return 0, err
			}
		}
	}

	return g.metadata.DeleteWeakLinks(ctx, projectPath, store.MinLinkStrength)
}

// NewLinkID is exposed for callers (e.g. migrations) that need a fresh
// identifier in contexts where a link needs one of its own; links
// themselves are keyed by (source_id, target_id), not a separate id column.
func NewLinkID() string {
	return uuid.NewString()
}
