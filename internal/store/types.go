// Package store provides vector storage (HNSW), BM25/lexical indexing, and
// relational persistence (SQLite) for the memory engine. This is the
// persistence layer for every record C4-C9 and C12-C13 operate on.
package store

import (
	"context"
	"fmt"
	"time"
)

// MemoryType classifies why a memory was recorded.
type MemoryType string

const (
	MemoryTypeSemantic    MemoryType = "semantic"
	MemoryTypeEpisodic    MemoryType = "episodic"
	MemoryTypeProcedural  MemoryType = "procedural"
	MemoryTypeWorking     MemoryType = "working"
	MemoryTypeReflection  MemoryType = "reflection"
)

// Importance ranks a memory's priority for retention and retrieval.
type Importance string

const (
	ImportanceCritical Importance = "critical"
	ImportanceHigh     Importance = "high"
	ImportanceMedium   Importance = "medium"
	ImportanceLow      Importance = "low"
	ImportanceTrivial  Importance = "trivial"
)

// LinkType classifies an AssociativeLink between two memories.
type LinkType string

const (
	LinkTypeSemantic   LinkType = "semantic"
	LinkTypeTemporal   LinkType = "temporal"
	LinkTypeCausal     LinkType = "causal"
	LinkTypeContextual LinkType = "contextual"
	LinkTypeUserDefined LinkType = "user_defined"
)

// ChainType classifies a MemoryChain's reasoning shape.
type ChainType string

const (
	ChainTypeReasoning      ChainType = "reasoning"
	ChainTypeImplementation ChainType = "implementation"
	ChainTypeDebugging      ChainType = "debugging"
	ChainTypeExploration    ChainType = "exploration"
	ChainTypeConversation   ChainType = "conversation"
)

// MinLinkStrength is the strength below which an AssociativeLink is
// eligible for pruning.
const MinLinkStrength = 0.05

// ChainCausalFloor is the minimum strength a chain's implied adjacent-member
// causal link must carry.
const ChainCausalFloor = 0.3

// MinEaseFactor is the floor for MemoryStrength.EaseFactor.
const MinEaseFactor = 1.3

// MaxStability caps MemoryStrength.Stability.
const MaxStability = 100.0

// Memory is a single retained unit of project memory: an assistant note,
// a codebase mirror entry's semantic twin, or a consolidated summary.
type Memory struct {
	ID               string            // UUID
	ProjectPath      string            // absolute project directory, scoping key
	Content          string            // memory text
	MemoryType       MemoryType        // semantic|episodic|procedural|working|reflection
	Importance       Importance        // critical|high|medium|low|trivial
	Tags             []string          // free-form labels
	Metadata         map[string]string // caller-defined key/value
	Embedding        []float32         // length == store's declared dimension, nil if not embedded
	CreatedAt        time.Time
	UpdatedAt        time.Time
	AccessCount      int
	LastAccessedAt   time.Time
	ExpiresAt        *time.Time // nil = never expires; soft-delete marker once in the past
	ConsolidatedFrom []string   // prior memory ids folded into this one
}

// IsExpired reports whether the memory is past its soft-delete marker.
func (m *Memory) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// CodebaseFile mirrors a single source file for search and change tracking.
type CodebaseFile struct {
	ID          string // UUID
	ProjectPath string
	FilePath    string // relative to project root; unique with ProjectPath
	Content     string // size-capped
	ContentHash string // hex SHA-256 of Content
	Language    string
	Embedding   []float32
	LastIndexed time.Time
}

// MemoryStrength holds a memory's Ebbinghaus forgetting-curve state.
type MemoryStrength struct {
	MemoryID       string
	Stability      float64   // days; bounded (0, MaxStability]
	Retrievability float64   // 0..1, decays monotonically between reviews
	LastReview     time.Time
	ReviewCount    int
	IntervalDays   int     // >= 1
	EaseFactor     float64 // >= MinEaseFactor
}

// AssociativeLink is a weighted, directed edge between two memories used
// for spreading activation. Readers must tolerate either endpoint pointing
// at a memory that no longer exists (weak reference).
type AssociativeLink struct {
	SourceID          string
	TargetID          string // SourceID != TargetID
	LinkType          LinkType
	Strength          float64 // 0..1
	CoActivationCount int
	LastCoActivation  time.Time
	DecayRate         float64
}

// MemoryChain is an ordered sequence of memories representing a train of
// reasoning, debugging session, or workflow.
type MemoryChain struct {
	ID             string
	ProjectPath    string
	Name           string
	Description    string
	MemoryIDs      []string // no duplicates; weak references
	ChainType      ChainType
	Importance     Importance
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int
}

// QuadrantPolicy bounds how large a Quadrant may grow before it splits.
type QuadrantPolicy struct {
	MaxMemories int
	MinMemories int
	MaxRadius   float64 // cosine distance
}

// Quadrant is a node in the hierarchical semantic partition tree.
type Quadrant struct {
	ID          string
	Name        string
	Level       int      // 0 = root
	ParentID    string   // empty for root
	ChildIDs    []string // non-empty unless leaf
	Centroid    []float32 // len 0 (uninitialized) or == store's declared dimension
	Radius      float64   // cosine distance
	Keywords    []string
	MemoryCount int // leaves only: count of QuadrantAssignment rows pointing here
	Tags        []string
	Policy      QuadrantPolicy

	// projectPathVal scopes the tree to one project. Every quadrant in a
	// tree shares the same owning project (one root per project), but the
	// field stays unexported since callers navigate the tree by ID, not by
	// project — set it via WithProject before SaveQuadrant.
	projectPathVal string
}

// IsLeaf reports whether the quadrant has no children.
func (q *Quadrant) IsLeaf() bool {
	return len(q.ChildIDs) == 0
}

// QuadrantAssignment places a memory in exactly one leaf quadrant.
type QuadrantAssignment struct {
	MemoryID          string // unique across all assignments
	QuadrantID        string
	DistanceToCentroid float64
	AssignedAt        time.Time
}

// CodeExplanation is an assistant-authored explanation of a piece of code,
// recallable by file path or by semantic search over its own embedding.
type CodeExplanation struct {
	ID             string
	ProjectPath    string
	FilePath       string // relative path the explanation covers
	Symbol         string // optional function/type the explanation focuses on
	Explanation    string
	Tags           []string
	Embedding      []float32
	CreatedAt      time.Time
	UpdatedAt      time.Time
	AccessCount    int
	HelpfulCount   int
	UnhelpfulCount int
}

// CodePromptLink ties a code explanation back to the prompt (and optionally
// the memory record of that prompt) that produced or consulted it. MemoryID
// is a weak reference; readers tolerate a memory that no longer exists.
type CodePromptLink struct {
	ID            string
	ProjectPath   string
	ExplanationID string
	MemoryID      string
	Prompt        string
	CreatedAt     time.Time
}

// CodeAccessPattern aggregates how often a file's explanations are consulted.
type CodeAccessPattern struct {
	ProjectPath  string
	FilePath     string
	AccessCount  int
	LastAccessed time.Time
}

// State keys for the metadata key-value store.
const (
	// StateKeyVectorDimension stores the embedding dimension the store was
	// bootstrapped with (the "store's declared dimension" C1 discovers).
	StateKeyVectorDimension = "vector_dimension"
	// StateKeyEmbeddingModel stores the model name used to populate embeddings.
	StateKeyEmbeddingModel = "embedding_model"
	// StateKeySchemaVersion stores the schema migration level.
	StateKeySchemaVersion = "schema_version"
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// MetadataStore persists every record the engine owns in SQLite: memories,
// codebase file mirrors, strength/link/chain/quadrant rows, and a small
// key-value state table for dimension/model bookkeeping.
type MetadataStore interface {
	// Memory operations
	SaveMemory(ctx context.Context, m *Memory) error
	GetMemory(ctx context.Context, projectPath, id string) (*Memory, error)
	GetMemories(ctx context.Context, projectPath string, ids []string) ([]*Memory, error)
	DeleteMemory(ctx context.Context, projectPath, id string, hard bool) error // soft = set ExpiresAt to now
	ListMemories(ctx context.Context, projectPath string, cursor string, limit int) ([]*Memory, string, error)
	TouchMemory(ctx context.Context, projectPath, id string, accessedAt time.Time) error // bumps AccessCount/LastAccessedAt

	// CodebaseFile operations
	SaveFiles(ctx context.Context, files []*CodebaseFile) error
	GetFileByPath(ctx context.Context, projectPath, filePath string) (*CodebaseFile, error)
	GetFilePathsByProject(ctx context.Context, projectPath string) (map[string]string, error) // path -> content_hash
	ListFiles(ctx context.Context, projectPath, cursor string, limit int) ([]*CodebaseFile, string, error)
	DeleteFile(ctx context.Context, projectPath, filePath string) error
	DeleteFilesByProject(ctx context.Context, projectPath string) error

	// MemoryStrength operations
	SaveStrength(ctx context.Context, s *MemoryStrength) error
	GetStrength(ctx context.Context, memoryID string) (*MemoryStrength, error)
	ListDueForReview(ctx context.Context, projectPath string, asOf time.Time, limit int) ([]*MemoryStrength, error)

	// AssociativeLink operations
	SaveLink(ctx context.Context, l *AssociativeLink) error
	GetLinks(ctx context.Context, memoryID string) ([]*AssociativeLink, error)
	DeleteWeakLinks(ctx context.Context, projectPath string, belowStrength float64) (int, error)

	// MemoryChain operations
	SaveChain(ctx context.Context, c *MemoryChain) error
	GetChain(ctx context.Context, projectPath, id string) (*MemoryChain, error)
	ListChains(ctx context.Context, projectPath string) ([]*MemoryChain, error)

	// Quadrant operations
	SaveQuadrant(ctx context.Context, q *Quadrant) error
	GetQuadrant(ctx context.Context, projectPath, id string) (*Quadrant, error)
	GetRootQuadrant(ctx context.Context, projectPath string) (*Quadrant, error)
	SaveAssignment(ctx context.Context, a *QuadrantAssignment) error
	GetAssignment(ctx context.Context, memoryID string) (*QuadrantAssignment, error)
	ListAssignments(ctx context.Context, quadrantID string) ([]*QuadrantAssignment, error)

	// CodeExplanation operations
	SaveExplanation(ctx context.Context, e *CodeExplanation) error
	GetExplanation(ctx context.Context, projectPath, id string) (*CodeExplanation, error)
	GetExplanationsByFile(ctx context.Context, projectPath, filePath string) ([]*CodeExplanation, error)
	ListExplanations(ctx context.Context, projectPath string, limit int) ([]*CodeExplanation, error)
	RecordExplanationFeedback(ctx context.Context, projectPath, id string, helpful bool) error
	SavePromptLink(ctx context.Context, l *CodePromptLink) error
	GetPromptLinksByExplanation(ctx context.Context, projectPath, explanationID string) ([]*CodePromptLink, error)
	GetPromptLinksByMemory(ctx context.Context, projectPath, memoryID string) ([]*CodePromptLink, error)
	TouchCodeAccess(ctx context.Context, projectPath, filePath string, at time.Time) error
	ListCodeAccessPatterns(ctx context.Context, projectPath string, limit int) ([]*CodeAccessPattern, error)

	// State operations (key-value store for dimension/model/schema bookkeeping)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// Document represents a text unit to be indexed for lexical search.
type Document struct {
	ID      string // Memory or CodebaseFile ID
	Content string
}

// BM25Result is a single lexical search hit.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats summarizes a lexical index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// LexicalIndex provides keyword search scored by BM25, backed by either
// SQLite FTS5 or bleve depending on configuration.
type LexicalIndex interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)
	Delete(ctx context.Context, docIDs []string) error
	AllIDs() ([]string, error)
	Stats() *IndexStats
	Close() error
}

// LexicalConfig configures a LexicalIndex.
type LexicalConfig struct {
	K1             float64 // term frequency saturation (default 1.2)
	B              float64 // length normalization (default 0.75)
	StopWords      []string
	MinTokenLength int
}

// DefaultLexicalConfig returns the default BM25 tuning.
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords contains programming keywords to filter from tokens.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ID       string  // Memory or CodebaseFile ID
	Distance float32 // lower is more similar (0-2 for cosine)
	Score    float32 // normalized similarity (0-1)
}

// VectorStoreConfig configures the HNSW-backed vector index.
type VectorStoreConfig struct {
	Dimensions     int    // the store's declared embedding dimension
	Quantization   string // vector precision: "f32", "f16", "i8" (default "f16")
	Metric         string // "cos" (cosine), "l2" (euclidean); default "cos"
	M              int    // HNSW max connections per layer (default 32)
	EfConstruction int    // HNSW build-time search width (default 128)
	EfSearch       int    // HNSW query-time search width (default 64)
}

// DefaultVectorStoreConfig returns sensible defaults for the given dimension.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Quantization:   "f16",
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore provides approximate nearest-neighbor search over embeddings.
// Deletions are lazy (orphaned, not graph-compacted); Count/AllIDs reflect
// only live members.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Close() error
}

// ErrDimensionMismatch indicates an embedding's length disagrees with the
// store's declared vector dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
