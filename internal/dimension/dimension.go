// Package dimension reconciles heterogeneous embedding vectors with the
// store's single declared vector dimension: discovery (what is that
// dimension), and projection (how to make an arbitrary-length vector fit
// it).
package dimension

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/specmem/specmem/internal/embed"
	memerrors "github.com/specmem/specmem/internal/errors"
	"github.com/specmem/specmem/internal/store"
)

// DefaultDiscoveryTTL bounds how long a discovered dimension is trusted
// before the next call re-queries the store (the store's declared
// dimension can change out from under a long-running process, e.g. S3 in
// the test scenarios: a dimension switch mid-run).
const DefaultDiscoveryTTL = 60 * time.Second

// ProbeText is embedded to measure a provider's native dimension when
// neither the store nor the provider's own Dimensions() call can answer.
const ProbeText = "specmem dimension probe"

// dimensionEntry is the cached (value, discovered-at) pair for one table.
type dimensionEntry struct {
	dim int
	at  time.Time
}

// Service discovers the store's declared embedding dimension and
// reconciles vectors of a different length against it.
type Service struct {
	adapter  *store.Adapter
	embedder embed.Embedder
	ttl      time.Duration

	cache  *lru.Cache[string, dimensionEntry]
	group  singleflight.Group
	matrix *matrixCache
}

// NewService builds a Dimension Service over the given Store Adapter. The
// embedder is optional (nil is fine) — it's consulted only as a discovery
// fallback and for validate-and-prepare's re-embed path.
func NewService(adapter *store.Adapter, embedder embed.Embedder) *Service {
	cache, _ := lru.New[string, dimensionEntry](8)
	return &Service{
		adapter:  adapter,
		embedder: embedder,
		ttl:      DefaultDiscoveryTTL,
		cache:    cache,
		matrix:   newMatrixCache(),
	}
}

// WithTTL overrides the discovery cache TTL, mainly for tests.
func (s *Service) WithTTL(ttl time.Duration) *Service {
	s.ttl = ttl
	return s
}

// Discover returns the store's declared embedding dimension for table,
// consulting the TTL cache first, then the Store Adapter, then the
// embedding provider's native dimension, then (if an embedder is
// available) a probe embed call. Returns DimensionUnknown if every tier
// is exhausted.
func (s *Service) Discover(ctx context.Context, table string) (int, error) {
	if entry, ok := s.cache.Get(table); ok && time.Since(entry.at) < s.ttl {
		return entry.dim, nil
	}

	v, err, _ := s.group.Do(table, func() (interface{}, error) {
		return s.discoverUncached(ctx, table)
	})
	if err != nil {
		return 0, err
	}
	dim := v.(int)
	s.cache.Add(table, dimensionEntry{dim: dim, at: time.Now()})
	return dim, nil
}

func (s *Service) discoverUncached(ctx context.Context, table string) (int, error) {
	if s.adapter != nil {
		dim, err := s.adapter.GetTableDimension(ctx, table)
		if err != nil {
			return 0, err
		}
		if dim > 0 {
			return dim, nil
		}
	}

	if s.embedder != nil {
		if dim := s.embedder.Dimensions(); dim > 0 {
			return dim, nil
		}
		if s.embedder.Available(ctx) {
			vec, err := s.embedder.Embed(ctx, ProbeText)
			if err == nil && len(vec) > 0 {
				return len(vec), nil
			}
		}
	}

	return 0, memerrors.DimensionUnknown("could not determine embedding dimension for table " + table)
}

// Invalidate drops the cached dimension for table, forcing the next
// Discover call to re-query the store. Callers use this after detecting a
// dimension change (S3: the store's declared dimension changed mid-run).
func (s *Service) Invalidate(table string) {
	s.cache.Remove(table)
}

// Project reconciles vec (length m) to the target dimension n: unchanged
// if m == n, random-projected and L2-normalized if m < n, bucket-averaged
// and L2-normalized if m > n.
func (s *Service) Project(vec []float32, n int) []float32 {
	m := len(vec)
	switch {
	case m == n:
		return vec
	case m < n:
		return l2Normalize(s.matrix.expand(m, n).apply(vec))
	default:
		return l2Normalize(contractBuckets(vec, n))
	}
}

// PrepareResult reports whether Prepare modified the vector and how.
type PrepareResult struct {
	Vector   []float32
	Modified bool
	ReEmbed  bool // true if the modification came from re-embedding originalText
}

// Prepare reconciles vec against table's declared dimension. If the
// lengths disagree and originalText is non-empty and the embedder is
// available, it re-embeds originalText first (since a fresh embedding at
// the correct provider dimension is strictly better than a projected
// approximation); otherwise it falls back to Project.
func (s *Service) Prepare(ctx context.Context, table string, vec []float32, originalText string) (PrepareResult, error) {
	n, err := s.Discover(ctx, table)
	if err != nil {
		return PrepareResult{}, err
	}
	if len(vec) == n {
		return PrepareResult{Vector: vec}, nil
	}

	if originalText != "" && s.embedder != nil && s.embedder.Available(ctx) {
		reembedded, err := s.embedder.Embed(ctx, originalText)
		if err == nil && len(reembedded) == n {
			return PrepareResult{Vector: reembedded, Modified: true, ReEmbed: true}, nil
		}
	}

	return PrepareResult{Vector: s.Project(vec, n), Modified: true}, nil
}
