package search

import (
	"context"
	"time"

	"github.com/specmem/specmem/internal/embed"
	"github.com/specmem/specmem/internal/store"
)

// MockBM25Index is a configurable store.LexicalIndex for tests and benchmarks.
type MockBM25Index struct {
	IndexFn  func(ctx context.Context, docs []*store.Document) error
	SearchFn func(ctx context.Context, query string, limit int) ([]*store.BM25Result, error)
	DeleteFn func(ctx context.Context, docIDs []string) error
	StatsFn  func() *store.IndexStats
}

func (m *MockBM25Index) Index(ctx context.Context, docs []*store.Document) error {
	if m.IndexFn != nil {
		return m.IndexFn(ctx, docs)
	}
	return nil
}

func (m *MockBM25Index) Search(ctx context.Context, query string, limit int) ([]*store.BM25Result, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, limit)
	}
	return nil, nil
}

func (m *MockBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, docIDs)
	}
	return nil
}

func (m *MockBM25Index) AllIDs() ([]string, error) { return nil, nil }

func (m *MockBM25Index) Stats() *store.IndexStats {
	if m.StatsFn != nil {
		return m.StatsFn()
	}
	return &store.IndexStats{}
}

func (m *MockBM25Index) Close() error { return nil }

var _ store.LexicalIndex = (*MockBM25Index)(nil)

// MockVectorStore is a configurable store.VectorStore for tests and benchmarks.
type MockVectorStore struct {
	AddFn    func(ctx context.Context, ids []string, vectors [][]float32) error
	SearchFn func(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error)
	DeleteFn func(ctx context.Context, ids []string) error
	CountFn  func() int
}

func (m *MockVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if m.AddFn != nil {
		return m.AddFn(ctx, ids, vectors)
	}
	return nil
}

func (m *MockVectorStore) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, k)
	}
	return nil, nil
}

func (m *MockVectorStore) Delete(ctx context.Context, ids []string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, ids)
	}
	return nil
}

func (m *MockVectorStore) AllIDs() []string { return nil }

func (m *MockVectorStore) Contains(id string) bool { return false }

func (m *MockVectorStore) Count() int {
	if m.CountFn != nil {
		return m.CountFn()
	}
	return 0
}

func (m *MockVectorStore) Close() error { return nil }

var _ store.VectorStore = (*MockVectorStore)(nil)

// MockEmbedder is a configurable embed.Embedder for tests and benchmarks.
type MockEmbedder struct {
	EmbedFn      func(ctx context.Context, text string) ([]float32, error)
	DimensionsFn func() int
	ModelNameFn  func() string
	AvailableFn  func(ctx context.Context) bool
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFn != nil {
		return m.EmbedFn(ctx, text)
	}
	return make([]float32, m.Dimensions()), nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *MockEmbedder) Dimensions() int {
	if m.DimensionsFn != nil {
		return m.DimensionsFn()
	}
	return 768
}

func (m *MockEmbedder) ModelName() string {
	if m.ModelNameFn != nil {
		return m.ModelNameFn()
	}
	return "mock-embedder"
}

func (m *MockEmbedder) Available(ctx context.Context) bool {
	if m.AvailableFn != nil {
		return m.AvailableFn(ctx)
	}
	return true
}

func (m *MockEmbedder) Close() error { return nil }

func (m *MockEmbedder) SetBatchIndex(idx int)  {}
func (m *MockEmbedder) SetFinalBatch(final bool) {}

var _ embed.Embedder = (*MockEmbedder)(nil)

// MockMetadataStore is an in-memory store.MetadataStore for tests and
// benchmarks, covering only the State operations callers in this package
// actually touch; the rest are no-ops.
type MockMetadataStore struct {
	state map[string]string
}

func NewMockMetadataStore() *MockMetadataStore {
	return &MockMetadataStore{
		state: make(map[string]string),
	}
}

func (m *MockMetadataStore) SaveMemory(ctx context.Context, mem *store.Memory) error { return nil }
func (m *MockMetadataStore) GetMemory(ctx context.Context, projectPath, id string) (*store.Memory, error) {
	return nil, nil
}
func (m *MockMetadataStore) GetMemories(ctx context.Context, projectPath string, ids []string) ([]*store.Memory, error) {
	return nil, nil
}
func (m *MockMetadataStore) DeleteMemory(ctx context.Context, projectPath, id string, hard bool) error {
	return nil
}
func (m *MockMetadataStore) ListMemories(ctx context.Context, projectPath, cursor string, limit int) ([]*store.Memory, string, error) {
	return nil, "", nil
}
func (m *MockMetadataStore) TouchMemory(ctx context.Context, projectPath, id string, accessedAt time.Time) error {
	return nil
}

func (m *MockMetadataStore) SaveFiles(ctx context.Context, files []*store.CodebaseFile) error {
	return nil
}
func (m *MockMetadataStore) GetFileByPath(ctx context.Context, projectPath, filePath string) (*store.CodebaseFile, error) {
	return nil, nil
}
func (m *MockMetadataStore) GetFilePathsByProject(ctx context.Context, projectPath string) (map[string]string, error) {
	return nil, nil
}
func (m *MockMetadataStore) ListFiles(ctx context.Context, projectPath, cursor string, limit int) ([]*store.CodebaseFile, string, error) {
	return nil, "", nil
}
func (m *MockMetadataStore) DeleteFile(ctx context.Context, projectPath, filePath string) error {
	return nil
}
func (m *MockMetadataStore) DeleteFilesByProject(ctx context.Context, projectPath string) error {
	return nil
}

func (m *MockMetadataStore) SaveStrength(ctx context.Context, s *store.MemoryStrength) error {
	return nil
}
func (m *MockMetadataStore) GetStrength(ctx context.Context, memoryID string) (*store.MemoryStrength, error) {
	return nil, nil
}
func (m *MockMetadataStore) ListDueForReview(ctx context.Context, projectPath string, asOf time.Time, limit int) ([]*store.MemoryStrength, error) {
	return nil, nil
}

func (m *MockMetadataStore) SaveLink(ctx context.Context, l *store.AssociativeLink) error { return nil }
func (m *MockMetadataStore) GetLinks(ctx context.Context, memoryID string) ([]*store.AssociativeLink, error) {
	return nil, nil
}
func (m *MockMetadataStore) DeleteWeakLinks(ctx context.Context, projectPath string, belowStrength float64) (int, error) {
	return 0, nil
}

func (m *MockMetadataStore) SaveChain(ctx context.Context, c *store.MemoryChain) error { return nil }
func (m *MockMetadataStore) GetChain(ctx context.Context, projectPath, id string) (*store.MemoryChain, error) {
	return nil, nil
}
func (m *MockMetadataStore) ListChains(ctx context.Context, projectPath string) ([]*store.MemoryChain, error) {
	return nil, nil
}

func (m *MockMetadataStore) SaveQuadrant(ctx context.Context, q *store.Quadrant) error { return nil }
func (m *MockMetadataStore) GetQuadrant(ctx context.Context, projectPath, id string) (*store.Quadrant, error) {
	return nil, nil
}
func (m *MockMetadataStore) GetRootQuadrant(ctx context.Context, projectPath string) (*store.Quadrant, error) {
	return nil, nil
}
func (m *MockMetadataStore) SaveAssignment(ctx context.Context, a *store.QuadrantAssignment) error {
	return nil
}
func (m *MockMetadataStore) GetAssignment(ctx context.Context, memoryID string) (*store.QuadrantAssignment, error) {
	return nil, nil
}
func (m *MockMetadataStore) ListAssignments(ctx context.Context, quadrantID string) ([]*store.QuadrantAssignment, error) {
	return nil, nil
}

func (m *MockMetadataStore) SaveExplanation(ctx context.Context, e *store.CodeExplanation) error {
	return nil
}
func (m *MockMetadataStore) GetExplanation(ctx context.Context, projectPath, id string) (*store.CodeExplanation, error) {
	return nil, nil
}
func (m *MockMetadataStore) GetExplanationsByFile(ctx context.Context, projectPath, filePath string) ([]*store.CodeExplanation, error) {
	return nil, nil
}
func (m *MockMetadataStore) ListExplanations(ctx context.Context, projectPath string, limit int) ([]*store.CodeExplanation, error) {
	return nil, nil
}
func (m *MockMetadataStore) RecordExplanationFeedback(ctx context.Context, projectPath, id string, helpful bool) error {
	return nil
}
func (m *MockMetadataStore) SavePromptLink(ctx context.Context, l *store.CodePromptLink) error {
	return nil
}
func (m *MockMetadataStore) GetPromptLinksByExplanation(ctx context.Context, projectPath, explanationID string) ([]*store.CodePromptLink, error) {
	return nil, nil
}
func (m *MockMetadataStore) GetPromptLinksByMemory(ctx context.Context, projectPath, memoryID string) ([]*store.CodePromptLink, error) {
	return nil, nil
}
func (m *MockMetadataStore) TouchCodeAccess(ctx context.Context, projectPath, filePath string, at time.Time) error {
	return nil
}
func (m *MockMetadataStore) ListCodeAccessPatterns(ctx context.Context, projectPath string, limit int) ([]*store.CodeAccessPattern, error) {
	return nil, nil
}

func (m *MockMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	return m.state[key], nil
}
func (m *MockMetadataStore) SetState(ctx context.Context, key, value string) error {
	m.state[key] = value
	return nil
}

func (m *MockMetadataStore) Close() error { return nil }

var _ store.MetadataStore = (*MockMetadataStore)(nil)
