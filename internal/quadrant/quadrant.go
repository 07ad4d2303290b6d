// Package quadrant implements the Quadrant Index (C6): a hierarchical
// semantic partition tree over memory embeddings, used to narrow vector
// search from a full project scan down to a handful of relevant leaves.
//
// Nodes are referenced by ID through the Store Adapter, never by Go
// pointer: a tree walk re-fetches each node by QuadrantID, so the tree can
// grow across process restarts without rebuilding an in-memory graph.
package quadrant

import (
	"context"
	"math"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/specmem/specmem/internal/dimension"
	memerrors "github.com/specmem/specmem/internal/errors"
	"github.com/specmem/specmem/internal/store"

	"github.com/google/uuid"
)

// DefaultMaxMemories is the leaf capacity that triggers a split.
const DefaultMaxMemories = 1000

// DefaultMinMemories is the minimum cluster size a split keeps as its own
// child; smaller clusters are dissolved back.
const DefaultMinMemories = 50

// DefaultMaxRadius bounds a leaf's recorded cosine-distance radius; stored
// for policy inspection, not itself a split trigger (only memory_count is,
// per the member-count split rule).
const DefaultMaxRadius = 1.0

// DefaultMaxQuadrants bounds how many leaves smartSearch fans out over.
const DefaultMaxQuadrants = 3

// DefaultMinRelevance is the cosine-similarity floor a quadrant's centroid
// must clear to be considered relevant.
const DefaultMinRelevance = 0.15

func DefaultPolicy() store.QuadrantPolicy {
	return store.QuadrantPolicy{
		MaxMemories: DefaultMaxMemories,
		MinMemories: DefaultMinMemories,
		MaxRadius:   DefaultMaxRadius,
	}
}

// Index is the Quadrant Index over one metadata store. One Index instance
// is shared across projects; every tree operation takes projectPath
// explicitly.
type Index struct {
	metadata store.MetadataStore
	dims     *dimension.Service
	table    string
	policy   store.QuadrantPolicy

	leafCache *lru.Cache[string, *leafEntry]
}

// leafEntry caches an ephemeral per-leaf HNSW member store, invalidated
// whenever the leaf's MemoryCount changes underneath it.
type leafEntry struct {
	memoryCount int
	vectors     *store.HNSWStore
}

// New builds a Quadrant Index. table is the logical table name the
// Dimension Service discovers the declared embedding dimension against
// (typically memory.MemoryTable).
func New(metadata store.MetadataStore, dims *dimension.Service, table string) *Index {
	cache, _ := lru.New[string, *leafEntry](64)
	return &Index{metadata: metadata, dims: dims, table: table, policy: DefaultPolicy(), leafCache: cache}
}

// WithPolicy overrides the split policy newly-created roots and children use.
func (ix *Index) WithPolicy(p store.QuadrantPolicy) *Index {
	ix.policy = p
	return ix
}

// declaredDimension returns the store's declared vector dimension, falling
// back to the length of fallback when the Dimension Service can't resolve
// one (e.g. in tests with no embedder wired).
func (ix *Index) declaredDimension(ctx context.Context, fallback int) int {
	if ix.dims == nil {
		return fallback
	}
	n, err := ix.dims.Discover(ctx, ix.table)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// EnsureRoot returns the project's root quadrant, creating it if absent.
func (ix *Index) EnsureRoot(ctx context.Context, projectPath string) (*store.Quadrant, error) {
	root, err := ix.metadata.GetRootQuadrant(ctx, projectPath)
	if err == nil {
		return root, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	root = &store.Quadrant{
		ID:     uuid.NewString(),
		Name:   "root",
		Level:  0,
		Policy: ix.policy,
	}
	root.WithProject(projectPath)
	if err := ix.metadata.SaveQuadrant(ctx, root); err != nil {
		return nil, err
	}
	return root, nil
}

func isNotFound(err error) bool {
	return memerrors.GetCode(err) == memerrors.ErrCodeNotFound
}

// Assign places a new memory's embedding into the tree, descending from
// the root to the nearest-centroid leaf (skipping any subtree whose
// centroid dimension disagrees with e), then updates that leaf's running
// centroid and radius and splits it if it has grown past capacity.
func (ix *Index) Assign(ctx context.Context, projectPath, memoryID string, e []float32) error {
	root, err := ix.EnsureRoot(ctx, projectPath)
	if err != nil {
		return err
	}
	n := ix.declaredDimension(ctx, len(e))
	if len(e) != n {
		return memerrors.DimensionMismatchErr("embedding length disagrees with declared dimension")
	}

	leaf, err := ix.descend(ctx, projectPath, root, e, n)
	if err != nil {
		return err
	}

	dist := 1.0
	if len(leaf.Centroid) == n {
		dist = cosineDistance(leaf.Centroid, e)
	}

	if err := ix.metadata.SaveAssignment(ctx, &store.QuadrantAssignment{
		MemoryID: memoryID, QuadrantID: leaf.ID, DistanceToCentroid: dist, AssignedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	leaf.Centroid = incrementalMean(leaf.Centroid, leaf.MemoryCount, e)
	if dist > leaf.Radius {
		leaf.Radius = dist
	}
	leaf.MemoryCount++
	leaf.WithProject(projectPath)
	if err := ix.metadata.SaveQuadrant(ctx, leaf); err != nil {
		return err
	}

	if leaf.MemoryCount > leaf.Policy.MaxMemories {
		return ix.split(ctx, projectPath, leaf)
	}
	return nil
}

// descend walks from node to the leaf nearest e, skipping children whose
// centroid dimension disagrees with n (the "dimension discipline" edge
// case). If a non-leaf node has no eligible child (every child's centroid
// is mismatched or the node has stale children), descent stops there and
// that node is treated as the assignment target.
func (ix *Index) descend(ctx context.Context, projectPath string, node *store.Quadrant, e []float32, n int) (*store.Quadrant, error) {
	for !node.IsLeaf() {
		var best *store.Quadrant
		bestDist := math.Inf(1)
		for _, childID := range node.ChildIDs {
			child, err := ix.metadata.GetQuadrant(ctx, projectPath, childID)
			if err != nil {
				continue
			}
			if len(child.Centroid) != 0 && len(child.Centroid) != n {
				continue // dimension mismatch: skip subtree
			}
			d := 1.0
			if len(child.Centroid) == n {
				d = cosineDistance(child.Centroid, e)
			}
			if d < bestDist {
				bestDist = d
				best = child
			}
		}
		if best == nil {
			return node, nil
		}
		node = best
	}
	return node, nil
}

// split partitions a leaf that has grown past its policy's max_memories
// using bounded k-means, creating one child per cluster that meets
// min_memories and reassigning members; clusters below the floor are
// folded into the nearest qualifying child (or left on the parent if none
// qualify).
func (ix *Index) split(ctx context.Context, projectPath string, leaf *store.Quadrant) error {
	assignments, err := ix.metadata.ListAssignments(ctx, leaf.ID)
	if err != nil {
		return err
	}
	ids := make([]string, len(assignments))
	for i, a := range assignments {
		ids[i] = a.MemoryID
	}
	members, err := ix.metadata.GetMemories(ctx, projectPath, ids)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}

	k := len(members) / leaf.Policy.MinMemories
	if r := len(members) % leaf.Policy.MinMemories; r > 0 {
		k++
	}
	if k > 4 {
		k = 4
	}
	if k < 1 {
		k = 1
	}
	if k == 1 {
		return nil // nothing to split into
	}

	clusters := kmeans(members, k, 10)

	type childCluster struct {
		quadrant *store.Quadrant
		members  []*store.Memory
	}
	var qualifying []childCluster
	var dissolved []*store.Memory

	for _, c := range clusters {
		if len(c.members) == 0 {
			continue
		}
		if len(c.members) < leaf.Policy.MinMemories {
			dissolved = append(dissolved, c.members...)
			continue
		}
		child := &store.Quadrant{
			ID:       uuid.NewString(),
			Name:     leaf.Name + "/split",
			Level:    leaf.Level + 1,
			ParentID: leaf.ID,
			Centroid: c.centroid,
			Keywords: topKeywords(c.members, 10),
			Policy:   leaf.Policy,
		}
		qualifying = append(qualifying, childCluster{quadrant: child, members: c.members})
	}

	if len(qualifying) == 0 {
		return nil // every cluster too small; leave the leaf as-is
	}

	// Fold dissolved members into the nearest qualifying child.
	for _, m := range dissolved {
		best := &qualifying[0]
		bestDist := math.Inf(1)
		for i := range qualifying {
			d := cosineDistance(qualifying[i].quadrant.Centroid, m.Embedding)
			if d < bestDist {
				bestDist = d
				best = &qualifying[i]
			}
		}
		best.members = append(best.members, m)
	}

	childIDs := make([]string, 0, len(qualifying))
	for _, c := range qualifying {
		c.quadrant.MemoryCount = len(c.members)
		c.quadrant.WithProject(projectPath)
		if err := ix.metadata.SaveQuadrant(ctx, c.quadrant); err != nil {
			return err
		}
		for _, m := range c.members {
			dist := 1.0
			if len(c.quadrant.Centroid) == len(m.Embedding) {
				dist = cosineDistance(c.quadrant.Centroid, m.Embedding)
			}
			if err := ix.metadata.SaveAssignment(ctx, &store.QuadrantAssignment{
				MemoryID: m.ID, QuadrantID: c.quadrant.ID, DistanceToCentroid: dist, AssignedAt: time.Now().UTC(),
			}); err != nil {
				return err
			}
		}
		childIDs = append(childIDs, c.quadrant.ID)
	}

	leaf.ChildIDs = childIDs
	leaf.MemoryCount = 0
	leaf.WithProject(projectPath)
	return ix.metadata.SaveQuadrant(ctx, leaf)
}

// allQuadrants walks the whole tree from root, returning every node.
func (ix *Index) allQuadrants(ctx context.Context, projectPath string, root *store.Quadrant) []*store.Quadrant {
	var out []*store.Quadrant
	queue := []*store.Quadrant{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		out = append(out, n)
		for _, childID := range n.ChildIDs {
			child, err := ix.metadata.GetQuadrant(ctx, projectPath, childID)
			if err == nil {
				queue = append(queue, child)
			}
		}
	}
	return out
}

// SearchQuadrants returns up to maxQuadrants nodes ordered by descending
// cosine similarity of their centroid to e, filtered to level if non-nil,
// and expanded to include immediate children when includeChildren is set.
// Nodes with a dimension-mismatched or uninitialized centroid are excluded.
func (ix *Index) SearchQuadrants(ctx context.Context, projectPath string, e []float32, maxQuadrants int, minRelevance float64, level *int, includeChildren bool) ([]*store.Quadrant, error) {
	root, err := ix.metadata.GetRootQuadrant(ctx, projectPath)
	if err != nil {
		return nil, err
	}

	all := ix.allQuadrants(ctx, projectPath, root)
	candidates := make([]*store.Quadrant, 0, len(all))
	for _, q := range all {
		if level != nil && q.Level != *level {
			continue
		}
		candidates = append(candidates, q)
	}

	if includeChildren {
		seen := make(map[string]bool, len(candidates))
		for _, q := range candidates {
			seen[q.ID] = true
		}
		var expanded []*store.Quadrant
		for _, q := range candidates {
			for _, childID := range q.ChildIDs {
				if seen[childID] {
					continue
				}
				child, err := ix.metadata.GetQuadrant(ctx, projectPath, childID)
				if err == nil {
					seen[childID] = true
					expanded = append(expanded, child)
				}
			}
		}
		candidates = append(candidates, expanded...)
	}

	type scored struct {
		q   *store.Quadrant
		sim float64
	}
	var ranked []scored
	for _, q := range candidates {
		if len(q.Centroid) == 0 || len(q.Centroid) != len(e) {
			continue
		}
		sim := cosineSimilarity(q.Centroid, e)
		if sim < minRelevance {
			continue
		}
		ranked = append(ranked, scored{q, sim})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })

	if maxQuadrants <= 0 {
		maxQuadrants = DefaultMaxQuadrants
	}
	if len(ranked) > maxQuadrants {
		ranked = ranked[:maxQuadrants]
	}
	out := make([]*store.Quadrant, len(ranked))
	for i, r := range ranked {
		out[i] = r.q
	}
	return out, nil
}

// leafDescendants collects every leaf quadrant reachable from q (q itself
// if q is already a leaf).
func (ix *Index) leafDescendants(ctx context.Context, projectPath string, q *store.Quadrant) []*store.Quadrant {
	if q.IsLeaf() {
		return []*store.Quadrant{q}
	}
	var out []*store.Quadrant
	for _, childID := range q.ChildIDs {
		child, err := ix.metadata.GetQuadrant(ctx, projectPath, childID)
		if err != nil {
			continue
		}
		out = append(out, ix.leafDescendants(ctx, projectPath, child)...)
	}
	return out
}

// leafVectorStore returns a per-leaf HNSW index over the leaf's current
// members, reusing a cached graph when the leaf's member count hasn't
// changed since it was built (mirroring hnsw.go's HNSWStore, scoped down
// to one quadrant's membership instead of the whole project).
func (ix *Index) leafVectorStore(ctx context.Context, projectPath string, leaf *store.Quadrant, dim int) (*store.HNSWStore, error) {
	if cached, ok := ix.leafCache.Get(leaf.ID); ok && cached.memoryCount == leaf.MemoryCount {
		return cached.vectors, nil
	}

	assignments, err := ix.metadata.ListAssignments(ctx, leaf.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(assignments))
	for i, a := range assignments {
		ids[i] = a.MemoryID
	}
	members, err := ix.metadata.GetMemories(ctx, projectPath, ids)
	if err != nil {
		return nil, err
	}

	vs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dim))
	if err != nil {
		return nil, err
	}
	var addIDs []string
	var addVecs [][]float32
	now := time.Now().UTC()
	for _, m := range members {
		if m.IsExpired(now) || len(m.Embedding) != dim {
			continue
		}
		addIDs = append(addIDs, m.ID)
		addVecs = append(addVecs, m.Embedding)
	}
	if len(addIDs) > 0 {
		if err := vs.Add(ctx, addIDs, addVecs); err != nil {
			return nil, err
		}
	}

	ix.leafCache.Add(leaf.ID, &leafEntry{memoryCount: leaf.MemoryCount, vectors: vs})
	return vs, nil
}

// SmartSearch restricts C5-style vector search to the member set of the
// most-relevant quadrants for e, scanning each selected leaf's own HNSW
// member store and merging the results. It returns (nil, false, nil) when
// no quadrant clears minRelevance, signaling the caller to fall back to an
// unrestricted global search.
func (ix *Index) SmartSearch(ctx context.Context, projectPath string, e []float32, limit, maxQuadrants int, minRelevance float64) ([]*store.VectorResult, bool, error) {
	top, err := ix.SearchQuadrants(ctx, projectPath, e, maxQuadrants, minRelevance, nil, true)
	if err != nil {
		return nil, false, err
	}
	if len(top) == 0 {
		return nil, false, nil
	}

	leafSet := make(map[string]*store.Quadrant)
	for _, q := range top {
		for _, leaf := range ix.leafDescendants(ctx, projectPath, q) {
			leafSet[leaf.ID] = leaf
		}
	}
	if len(leafSet) == 0 {
		return nil, false, nil
	}
	if limit <= 0 {
		limit = 10
	}

	merged := make(map[string]*store.VectorResult)
	for _, leaf := range leafSet {
		if leaf.MemoryCount == 0 {
			continue
		}
		vs, err := ix.leafVectorStore(ctx, projectPath, leaf, len(e))
		if err != nil {
			continue
		}
		hits, err := vs.Search(ctx, e, limit)
		if err != nil {
			continue
		}
		for _, h := range hits {
			if existing, ok := merged[h.ID]; !ok || h.Score > existing.Score {
				merged[h.ID] = h
			}
		}
	}
	if len(merged) == 0 {
		return nil, false, nil
	}

	out := make([]*store.VectorResult, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, true, nil
}

func incrementalMean(centroid []float32, count int, e []float32) []float32 {
	if len(centroid) != len(e) {
		out := make([]float32, len(e))
		copy(out, e)
		return out
	}
	out := make([]float32, len(e))
	for i := range e {
		out[i] = (centroid[i]*float32(count) + e[i]) / float32(count+1)
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func cosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}
