package dimension

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specmem/specmem/internal/store"
)

func newTestAdapter(t *testing.T) *store.Adapter {
	t.Helper()
	s, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s.Adapter()
}

// TD01: Discover returns the adapter's declared dimension once set.
func TestService_Discover_ReadsAdapterDimension(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()
	require.NoError(t, adapter.SetTableDimension(ctx, "memories", 384))

	svc := NewService(adapter, nil)
	dim, err := svc.Discover(ctx, "memories")
	require.NoError(t, err)
	assert.Equal(t, 384, dim)
}

// TD02: with no adapter dimension and no embedder, Discover reports DimensionUnknown.
func TestService_Discover_ReturnsDimensionUnknownWhenExhausted(t *testing.T) {
	adapter := newTestAdapter(t)
	svc := NewService(adapter, nil)

	_, err := svc.Discover(context.Background(), "memories")
	assert.Error(t, err)
}

// TD03: a cached dimension is reused within the TTL window without re-querying.
func TestService_Discover_CachesWithinTTL(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()
	require.NoError(t, adapter.SetTableDimension(ctx, "memories", 256))

	svc := NewService(adapter, nil).WithTTL(time.Minute)
	dim1, err := svc.Discover(ctx, "memories")
	require.NoError(t, err)

	// Change the underlying value directly; cache should still win.
	require.NoError(t, adapter.SetTableDimension(ctx, "memories", 999))
	dim2, err := svc.Discover(ctx, "memories")
	require.NoError(t, err)

	assert.Equal(t, dim1, dim2)
	assert.Equal(t, 256, dim2)
}

// TD04: Invalidate forces the next Discover to re-read the adapter.
func TestService_Invalidate_ForcesRediscovery(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()
	require.NoError(t, adapter.SetTableDimension(ctx, "memories", 256))

	svc := NewService(adapter, nil).WithTTL(time.Hour)
	_, err := svc.Discover(ctx, "memories")
	require.NoError(t, err)

	require.NoError(t, adapter.SetTableDimension(ctx, "memories", 512))
	svc.Invalidate("memories")

	dim, err := svc.Discover(ctx, "memories")
	require.NoError(t, err)
	assert.Equal(t, 512, dim)
}

// TP01: Project is a no-op when dimensions already match.
func TestService_Project_NoOpWhenEqual(t *testing.T) {
	svc := NewService(nil, nil)
	vec := []float32{0.1, 0.2, 0.3}
	out := svc.Project(vec, 3)
	assert.Equal(t, vec, out)
}

// TP02: expansion produces a unit-length vector of the target dimension.
func TestService_Project_ExpandsAndNormalizes(t *testing.T) {
	svc := NewService(nil, nil)
	vec := []float32{0.5, -0.5, 0.25}
	out := svc.Project(vec, 8)

	require.Len(t, out, 8)
	assert.InDelta(t, 1.0, l2NormSquared(out), 0.01)
}

// TP03: contraction produces a unit-length vector of the target dimension.
func TestService_Project_ContractsAndNormalizes(t *testing.T) {
	svc := NewService(nil, nil)
	vec := make([]float32, 16)
	for i := range vec {
		vec[i] = float32(i) * 0.1
	}
	out := svc.Project(vec, 4)

	require.Len(t, out, 4)
	assert.InDelta(t, 1.0, l2NormSquared(out), 0.01)
}

// TP04: projection is deterministic across independent Service instances.
func TestService_Project_IsDeterministicAcrossInstances(t *testing.T) {
	vec := []float32{0.3, -0.1, 0.9}

	out1 := NewService(nil, nil).Project(vec, 6)
	out2 := NewService(nil, nil).Project(vec, 6)

	assert.Equal(t, out1, out2)
}

// TP05: expansion matrices are cached per (m, n) and reused.
func TestMatrixCache_Expand_ReturnsSameMatrixForSamePair(t *testing.T) {
	c := newMatrixCache()
	a := c.expand(3, 8)
	b := c.expand(3, 8)
	assert.Same(t, a, b)
}

// TR01: Prepare re-embeds when the original text and a matching embedder are available.
func TestService_Prepare_ReEmbedsWhenPossible(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()
	require.NoError(t, adapter.SetTableDimension(ctx, "memories", 4))

	svc := NewService(adapter, &fixedEmbedder{dims: 4, vec: []float32{1, 0, 0, 0}})
	result, err := svc.Prepare(ctx, "memories", []float32{1, 2}, "hello world")
	require.NoError(t, err)
	assert.True(t, result.Modified)
	assert.True(t, result.ReEmbed)
	assert.Equal(t, []float32{1, 0, 0, 0}, result.Vector)
}

// TR02: Prepare falls back to projection when there's no usable original text.
func TestService_Prepare_FallsBackToProjectionWithoutText(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()
	require.NoError(t, adapter.SetTableDimension(ctx, "memories", 6))

	svc := NewService(adapter, nil)
	result, err := svc.Prepare(ctx, "memories", []float32{1, 2, 3}, "")
	require.NoError(t, err)
	assert.True(t, result.Modified)
	assert.False(t, result.ReEmbed)
	assert.Len(t, result.Vector, 6)
}

func l2NormSquared(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return sum
}

type fixedEmbedder struct {
	dims int
	vec  []float32
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}
func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}
func (f *fixedEmbedder) Dimensions() int                   { return f.dims }
func (f *fixedEmbedder) ModelName() string                 { return "fixed" }
func (f *fixedEmbedder) Available(ctx context.Context) bool { return true }
func (f *fixedEmbedder) Close() error                       { return nil }
func (f *fixedEmbedder) SetBatchIndex(idx int)              {}
func (f *fixedEmbedder) SetFinalBatch(isFinal bool)         {}
