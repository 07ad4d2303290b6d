package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/specmem/specmem/internal/config"
	"github.com/specmem/specmem/internal/dimension"
	"github.com/specmem/specmem/internal/embed"
	"github.com/specmem/specmem/internal/explain"
	"github.com/specmem/specmem/internal/forgetting"
	"github.com/specmem/specmem/internal/graph"
	"github.com/specmem/specmem/internal/ingest"
	"github.com/specmem/specmem/internal/memory"
	"github.com/specmem/specmem/internal/quadrant"
	"github.com/specmem/specmem/internal/retrieval"
	"github.com/specmem/specmem/internal/scanner"
	"github.com/specmem/specmem/internal/search"
	"github.com/specmem/specmem/internal/store"
	"github.com/specmem/specmem/internal/synccheck"
)

// stack is the fully-wired memory engine for one project: every component
// the MCP tool surface dispatches to, constructed once per process.
type stack struct {
	ProjectPath string
	DataDir     string
	Config      *config.Config

	Metadata  *store.SQLiteStore
	Embedder  embed.Embedder
	Dims      *dimension.Service
	Lexical   store.LexicalIndex
	Vector    store.VectorStore
	Memories  *memory.Store
	Searcher  *search.MemorySearcher
	Quadrants *quadrant.Index
	Graph     *graph.Graph
	Strength  *forgetting.Engine
	Retrieval *retrieval.Engine
	Handler   *ingest.Handler
	Checker   *synccheck.Checker
	Explains  *explain.Service
}

// buildStack constructs the engine rooted at projectPath. The embedding
// provider itself is out of scope, so the zero-config default is the
// deterministic static embedder behind the LRU cache; a real provider
// slots into the same embed.Embedder seam.
func buildStack(projectPath string) (*stack, error) {
	cfg, err := config.Load(projectPath)
	if err != nil {
		cfg = config.NewConfig()
	}

	dataDir := filepath.Join(projectPath, ".specmem")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	metadata, err := store.NewSQLiteStore(filepath.Join(dataDir, "metadata.db"))
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	embedder := embed.NewCachedEmbedderWithDefaults(embed.NewStaticEmbedder())
	dims := dimension.NewService(metadata.Adapter(), embedder)

	lexical, err := store.NewBM25IndexWithBackend(
		filepath.Join(dataDir, "bm25"), store.DefaultLexicalConfig(), cfg.Search.BM25Backend)
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		_ = lexical.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	searcher := search.NewMemorySearcher(metadata, vector, lexical, embedder, search.MemorySearcherConfig{})
	quads := quadrant.New(metadata, dims, memory.MemoryTable)
	g := graph.New(metadata)
	strength := forgetting.New(metadata)

	sc, err := scanner.New()
	if err != nil {
		_ = vector.Close()
		_ = lexical.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("init scanner: %w", err)
	}

	handler := ingest.New(metadata, dims, embedder, projectPath, ingest.Config{})

	checkCfg := synccheck.NewConfigFromEnv()
	checkCfg.StatusPath = filepath.Join(dataDir, "sync-status.json")
	checker := synccheck.New(sc, metadata, handler, projectPath, checkCfg)

	return &stack{
		ProjectPath: projectPath,
		DataDir:     dataDir,
		Config:      cfg,
		Metadata:    metadata,
		Embedder:    embedder,
		Dims:        dims,
		Lexical:     lexical,
		Vector:      vector,
		Memories:    memory.New(metadata, dims),
		Searcher:    searcher,
		Quadrants:   quads,
		Graph:       g,
		Strength:    strength,
		Retrieval:   retrieval.New(metadata, quads, searcher, g, dims, memory.MemoryTable).WithStrength(strength),
		Handler:     handler,
		Checker:     checker,
		Explains:    explain.New(metadata, dims, embedder),
	}, nil
}

// Close releases every store the stack holds open.
func (s *stack) Close() {
	if s.Vector != nil {
		_ = s.Vector.Close()
	}
	if s.Lexical != nil {
		_ = s.Lexical.Close()
	}
	if s.Metadata != nil {
		_ = s.Metadata.Close()
	}
}
