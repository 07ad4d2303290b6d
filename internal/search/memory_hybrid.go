package search

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/specmem/specmem/internal/embed"
	"github.com/specmem/specmem/internal/store"
)

// DefaultAlpha is the weight given to vector similarity in the hybrid
// score; (1 - DefaultAlpha) weights the normalized text-search rank.
const DefaultAlpha = 0.6

// DefaultAccessUpdateTopK bounds how many top hits get a best-effort
// access-count bump per query.
const DefaultAccessUpdateTopK = 5

// MemoryResult is one hybrid search hit over memories.
type MemoryResult struct {
	Memory     *store.Memory
	Similarity float64 // vector cosine similarity, 0 if not matched by vector search
	RankNorm   float64 // normalized text-search rank, 0 if not matched by text search
	Score      float64 // alpha*Similarity + (1-alpha)*RankNorm
}

// MemorySearcher is the Memory-based Hybrid Search (C5): vector + text
// search over Memory rows, fused by an explicit weighted formula rather
// than reciprocal rank fusion (see DESIGN.md). The parallel
// dispatch / graceful-degradation control flow is the same shape as
// Engine.parallelSearch, generalized from chunks to memories.
type MemorySearcher struct {
	metadata store.MetadataStore
	vector   store.VectorStore
	lexical  store.LexicalIndex
	embedder embed.Embedder
	alpha    float64
}

// MemorySearcherConfig configures a MemorySearcher.
type MemorySearcherConfig struct {
	Alpha float64 // vector-similarity weight, default DefaultAlpha
}

// NewMemorySearcher builds a MemorySearcher over the given backends.
func NewMemorySearcher(metadata store.MetadataStore, vector store.VectorStore, lexical store.LexicalIndex, embedder embed.Embedder, cfg MemorySearcherConfig) *MemorySearcher {
	if cfg.Alpha <= 0 {
		cfg.Alpha = DefaultAlpha
	}
	return &MemorySearcher{metadata: metadata, vector: vector, lexical: lexical, embedder: embedder, alpha: cfg.Alpha}
}

// Search runs vector and text search in parallel, fuses by memory id, and
// returns results ordered by descending hybrid score. Expired memories are
// excluded. If the embedder is unavailable or the query embedding's
// dimension disagrees with the vector store, the call degrades to
// text-only (vector half of every score is 0, alpha is effectively 0).
func (ms *MemorySearcher) Search(ctx context.Context, projectPath, query string, limit int) ([]*MemoryResult, error) {
	if limit <= 0 {
		limit = 10
	}

	vecResults, textResults, err := ms.parallelSearch(ctx, query, limit*2)
	if err != nil && vecResults == nil && textResults == nil {
		return nil, err
	}

	fused := ms.fuse(vecResults, textResults)

	ids := make([]string, 0, len(fused))
	for id := range fused {
		ids = append(ids, id)
	}
	memories, err := ms.metadata.GetMemories(ctx, projectPath, ids)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	results := make([]*MemoryResult, 0, len(memories))
	for _, m := range memories {
		if m.IsExpired(now) {
			continue
		}
		f := fused[m.ID]
		results = append(results, &MemoryResult{
			Memory:     m,
			Similarity: f.sim,
			RankNorm:   f.rankNorm,
			Score:      ms.alpha*f.sim + (1-ms.alpha)*f.rankNorm,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}

	ms.updateAccessCounts(ctx, projectPath, results)
	return results, nil
}

// SearchVector runs vector-only search: cosine similarity against the
// query embedding, independently ranked by descending similarity and
// truncated to limit after ranking — a hit's standing here is never
// affected by how it would have fused with text results. Expired memories
// are excluded; Score mirrors Similarity so callers can treat all three
// search modes uniformly.
func (ms *MemorySearcher) SearchVector(ctx context.Context, projectPath, query string, limit int) ([]*MemoryResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if ms.embedder == nil || ms.vector == nil {
		return nil, nil
	}
	if !ms.embedder.Available(ctx) {
		return nil, nil
	}

	vec, err := ms.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	// Over-fetch so expired rows filtered below can't shrink the page.
	hits, err := ms.vector.Search(ctx, vec, limit*2)
	if err != nil {
		return nil, err
	}

	simByID := make(map[string]float64, len(hits))
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
		simByID[h.ID] = float64(h.Score)
	}
	results, err := ms.loadLive(ctx, projectPath, ids, func(id string) (sim, rank float64) {
		return simByID[id], 0
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	for _, r := range results {
		r.Score = r.Similarity
	}
	if len(results) > limit {
		results = results[:limit]
	}
	ms.updateAccessCounts(ctx, projectPath, results)
	return results, nil
}

// SearchText runs text-only search: full-text BM25 ranking, independently
// ordered by descending rank and truncated to limit after ranking.
// Expired memories are excluded; Score mirrors RankNorm.
func (ms *MemorySearcher) SearchText(ctx context.Context, projectPath, query string, limit int) ([]*MemoryResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if ms.lexical == nil {
		return nil, nil
	}

	hits, err := ms.lexical.Search(ctx, query, limit*2)
	if err != nil {
		return nil, err
	}

	n := len(hits)
	rankByID := make(map[string]float64, n)
	ids := make([]string, 0, n)
	for rank, h := range hits {
		ids = append(ids, h.DocID)
		rankByID[h.DocID] = rankNorm(rank, n)
	}
	results, err := ms.loadLive(ctx, projectPath, ids, func(id string) (sim, rank float64) {
		return 0, rankByID[id]
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].RankNorm > results[j].RankNorm })
	for _, r := range results {
		r.Score = r.RankNorm
	}
	if len(results) > limit {
		results = results[:limit]
	}
	ms.updateAccessCounts(ctx, projectPath, results)
	return results, nil
}

// loadLive resolves hit ids to live (non-expired) project memories,
// attaching per-id scores via scoreOf.
func (ms *MemorySearcher) loadLive(ctx context.Context, projectPath string, ids []string, scoreOf func(id string) (sim, rank float64)) ([]*MemoryResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	memories, err := ms.metadata.GetMemories(ctx, projectPath, ids)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	results := make([]*MemoryResult, 0, len(memories))
	for _, m := range memories {
		if m.IsExpired(now) {
			continue
		}
		sim, rank := scoreOf(m.ID)
		results = append(results, &MemoryResult{Memory: m, Similarity: sim, RankNorm: rank})
	}
	return results, nil
}

// parallelSearch runs the vector and text searches concurrently via
// errgroup, tolerating either one failing (graceful degradation), mirroring
// Engine.parallelSearch's shape.
func (ms *MemorySearcher) parallelSearch(ctx context.Context, query string, limit int) ([]*store.VectorResult, []*store.BM25Result, error) {
	g, gctx := errgroup.WithContext(ctx)

	var vecResults []*store.VectorResult
	var textResults []*store.BM25Result
	var vecErr, textErr error

	g.Go(func() error {
		if ms.embedder == nil || ms.vector == nil {
			return nil
		}
		if !ms.embedder.Available(gctx) {
			return nil
		}
		vec, err := ms.embedder.Embed(gctx, query)
		if err != nil {
			vecErr = err
			return nil
		}
		results, err := ms.vector.Search(gctx, vec, limit)
		if err != nil {
			vecErr = err
			return nil
		}
		vecResults = results
		return nil
	})

	g.Go(func() error {
		if ms.lexical == nil {
			return nil
		}
		results, err := ms.lexical.Search(gctx, query, limit)
		if err != nil {
			textErr = err
			return nil
		}
		textResults = results
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if vecErr != nil && textErr != nil {
		return nil, nil, vecErr
	}
	return vecResults, textResults, nil
}

type fusedScore struct {
	sim      float64
	rankNorm float64
}

// fuse merges vector and text hits by memory id, computing rank_norm as a
// linearly decaying function of text-search rank position.
func (ms *MemorySearcher) fuse(vecResults []*store.VectorResult, textResults []*store.BM25Result) map[string]fusedScore {
	fused := make(map[string]fusedScore)

	for _, v := range vecResults {
		f := fused[v.ID]
		f.sim = float64(v.Score)
		fused[v.ID] = f
	}

	n := len(textResults)
	for rank, t := range textResults {
		f := fused[t.DocID]
		f.rankNorm = rankNorm(rank, n)
		fused[t.DocID] = f
	}

	return fused
}

// rankNorm maps a 0-indexed rank among n results to a 0..1 score where
// rank 0 (best match) scores highest.
func rankNorm(rank, n int) float64 {
	if n <= 0 {
		return 0
	}
	return 1.0 - float64(rank)/float64(n)
}

// updateAccessCounts bumps access_count/last_accessed_at for the top-K
// results, best-effort: a failure here never fails the search itself.
func (ms *MemorySearcher) updateAccessCounts(ctx context.Context, projectPath string, results []*MemoryResult) {
	limit := DefaultAccessUpdateTopK
	if limit > len(results) {
		limit = len(results)
	}
	now := time.Now().UTC()
	for i := 0; i < limit; i++ {
		_ = ms.metadata.TouchMemory(ctx, projectPath, results[i].Memory.ID, now)
	}
}

// DuplicatePair is a pair of memories whose vector similarity meets or
// exceeds a threshold.
type DuplicatePair struct {
	A          *store.Memory
	B          *store.Memory
	Similarity float64
}

// FindDuplicates scans project's memories for pairs at or above threshold
// similarity, self-joined over the vector store and deduplicated
// symmetrically (each unordered pair reported once).
func (ms *MemorySearcher) FindDuplicates(ctx context.Context, projectPath string, threshold float64, limitPerMemory int) ([]DuplicatePair, error) {
	if limitPerMemory <= 0 {
		limitPerMemory = 5
	}

	ids, _, err := ms.metadata.ListMemories(ctx, projectPath, "", 10000)
	if err != nil {
		return nil, err
	}

	seen := make(map[[2]string]bool)
	var pairs []DuplicatePair
	now := time.Now().UTC()

	for _, m := range ids {
		if m.IsExpired(now) || len(m.Embedding) == 0 || ms.vector == nil {
			continue
		}
		neighbors, err := ms.vector.Search(ctx, m.Embedding, limitPerMemory+1)
		if err != nil {
			continue
		}
		for _, n := range neighbors {
			if n.ID == m.ID || float64(n.Score) < threshold {
				continue
			}
			key := pairKey(m.ID, n.ID)
			if seen[key] {
				continue
			}
			seen[key] = true

			other, err := ms.metadata.GetMemory(ctx, projectPath, n.ID)
			if err != nil {
				continue
			}
			pairs = append(pairs, DuplicatePair{A: m, B: other, Similarity: float64(n.Score)})
		}
	}
	return pairs, nil
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}
