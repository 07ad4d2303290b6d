package graph

import (
	"context"
	"time"

	"github.com/google/uuid"

	memerrors "github.com/specmem/specmem/internal/errors"
	"github.com/specmem/specmem/internal/store"
)

// ChainCausalStrength is the strength assigned to the causal link implied
// between adjacent chain members. It sits exactly at the floor the data
// model requires (store.ChainCausalFloor).
const ChainCausalStrength = store.ChainCausalFloor

// CreateChain persists a new named, ordered chain and implicitly adds a
// causal link between every pair of adjacent members (creating one at
// ChainCausalStrength, or raising an existing weaker link up to the floor -
// never lowering a link that's already stronger).
func (g *Graph) CreateChain(ctx context.Context, projectPath, name, description string, memoryIDs []string, chainType store.ChainType, importance store.Importance) (*store.MemoryChain, error) {
	if len(memoryIDs) == 0 {
		return nil, memerrors.ValidationError("chain must have at least one member", nil)
	}
	if hasDuplicates(memoryIDs) {
		return nil, memerrors.ValidationError("chain members must be unique", nil)
	}

	now := time.Now().UTC()
	chain := &store.MemoryChain{
		ID:             uuid.NewString(),
		ProjectPath:    projectPath,
		Name:           name,
		Description:    description,
		MemoryIDs:      memoryIDs,
		ChainType:      chainType,
		Importance:     importance,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	if err := g.linkAdjacent(ctx, memoryIDs, now); err != nil {
		return nil, err
	}
	if err := g.metadata.SaveChain(ctx, chain); err != nil {
		return nil, err
	}
	return chain, nil
}

// ExtendChain appends new member ids to an existing chain, preserving
// order. Appending a memory id already present anywhere in the chain is
// rejected. A causal link is implied between the chain's previous last
// member and the first appended id, and between each newly-appended pair.
func (g *Graph) ExtendChain(ctx context.Context, projectPath, chainID string, newIDs []string) (*store.MemoryChain, error) {
	if len(newIDs) == 0 {
		return nil, memerrors.ValidationError("no members to extend with", nil)
	}

	chain, err := g.metadata.GetChain(ctx, projectPath, chainID)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]bool, len(chain.MemoryIDs))
	for _, id := range chain.MemoryIDs {
		existing[id] = true
	}
	for _, id := range newIDs {
		if existing[id] {
			return nil, memerrors.ValidationError("memory already a member of this chain: "+id, nil)
		}
		existing[id] = true
	}
	if hasDuplicates(newIDs) {
		return nil, memerrors.ValidationError("chain members must be unique", nil)
	}

	now := time.Now().UTC()
	bridge := append(append([]string{}, chain.MemoryIDs[len(chain.MemoryIDs)-1]), newIDs...)
	if err := g.linkAdjacent(ctx, bridge, now); err != nil {
		return nil, err
	}

	chain.MemoryIDs = append(chain.MemoryIDs, newIDs...)
	chain.LastAccessedAt = now
	chain.AccessCount++
	if err := g.metadata.SaveChain(ctx, chain); err != nil {
		return nil, err
	}
	return chain, nil
}

// linkAdjacent ensures a causal link of at least ChainCausalStrength exists
// between every consecutive pair in ids.
func (g *Graph) linkAdjacent(ctx context.Context, ids []string, now time.Time) error {
	for i := 0; i+1 < len(ids); i++ {
		if err := g.ensureCausalLink(ctx, ids[i], ids[i+1], now); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) ensureCausalLink(ctx context.Context, a, b string, now time.Time) error {
	existing, err := g.findLink(ctx, a, b)
	if err != nil {
		return err
	}
	src, tgt := canonicalPair(a, b)
	if existing == nil {
		return g.metadata.SaveLink(ctx, &store.AssociativeLink{
			SourceID:          src,
			TargetID:          tgt,
			LinkType:          store.LinkTypeCausal,
			Strength:          ChainCausalStrength,
			CoActivationCount: 1,
			LastCoActivation:  now,
			DecayRate:         0.1,
		})
	}
	if existing.Strength < ChainCausalStrength {
		existing.Strength = ChainCausalStrength
		return g.metadata.SaveLink(ctx, existing)
	}
	return nil
}

// GetChain returns a chain by id, project-scoped.
func (g *Graph) GetChain(ctx context.Context, projectPath, id string) (*store.MemoryChain, error) {
	return g.metadata.GetChain(ctx, projectPath, id)
}

// ListChains returns every chain in the project, newest first.
func (g *Graph) ListChains(ctx context.Context, projectPath string) ([]*store.MemoryChain, error) {
	return g.metadata.ListChains(ctx, projectPath)
}

// ChainsContaining filters chains to those whose MemoryIDs includes any of
// the given ids. Used by C9 to pull in chain context around the current
// core result set; readers must tolerate member ids that no longer resolve
// to a live memory (weak references, per the data model).
func ChainsContaining(chains []*store.MemoryChain, ids []string) []*store.MemoryChain {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*store.MemoryChain
	for _, c := range chains {
		for _, m := range c.MemoryIDs {
			if want[m] {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func hasDuplicates(ids []string) bool {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return true
		}
		seen[id] = true
	}
	return false
}
