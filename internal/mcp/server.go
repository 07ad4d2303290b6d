package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/specmem/specmem/internal/async"
	"github.com/specmem/specmem/internal/config"
	"github.com/specmem/specmem/internal/embed"
	"github.com/specmem/specmem/internal/explain"
	"github.com/specmem/specmem/internal/graph"
	"github.com/specmem/specmem/internal/memory"
	"github.com/specmem/specmem/internal/retrieval"
	"github.com/specmem/specmem/internal/search"
	"github.com/specmem/specmem/internal/store"
	"github.com/specmem/specmem/internal/synccheck"
	"github.com/specmem/specmem/internal/telemetry"
	"github.com/specmem/specmem/pkg/version"
)

// Server is the MCP server for Specmem.
// It bridges AI clients (Claude Code, Cursor) with the memory store.
type Server struct {
	mcp      *mcp.Server
	metadata store.MetadataStore
	embedder embed.Embedder // Embedder for capability signaling
	config   *config.Config
	logger   *slog.Logger

	// Project identification for resource operations
	projectID string
	rootPath  string

	// Background indexing progress (nil if not indexing)
	indexProgress *async.IndexProgress

	// Query telemetry (optional, set via SetMetrics)
	metrics *telemetry.QueryMetrics

	// Sync drift checking (optional, set via SetSyncChecker)
	syncChecker *synccheck.Checker

	// Memory stack (C4/C5/C9, optional, set via SetMemoryStack) backing
	// save_memory/find_memory/get_memory/remove_memory/smart_context.
	memories        *memory.Store
	memorySearch    *search.MemorySearcher
	retrievalEngine *retrieval.Engine
	assocGraph      *graph.Graph

	// Code-explanation service (optional, set via SetExplainService)
	// backing explain_code/recall_code_explanation/link_code_to_prompt/
	// get_related_code/semantic_search_explanations/provide_explanation_feedback.
	explains *explain.Service

	// File watcher lifecycle (C10/C11/C12, optional, set via
	// SetWatchController) backing start_watching/stop_watching.
	watchCtl *WatchController

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ResourceInfo contains information about a resource.
type ResourceInfo struct {
	URI      string
	Name     string
	MIMEType string
}

// ResourceContent contains the content of a resource.
type ResourceContent struct {
	URI      string
	Content  string
	MIMEType string
}

// NewServer creates a new MCP server.
// The embedder parameter is used for capability signaling - AI clients can query
// the actual embedder state to adjust their search strategies.
// rootPath is used for project detection (go.mod, package.json, etc.).
func NewServer(metadata store.MetadataStore, embedder embed.Embedder, cfg *config.Config, rootPath string) (*Server, error) {
	if metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		metadata: metadata,
		embedder: embedder, // May be nil - will report as unavailable
		config:   cfg,
		rootPath: rootPath,
		logger:   slog.Default(),
	}

	// Create MCP server with implementation info
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "Specmem",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools/resources
	)

	// Register tools
	s.registerTools()

	return s, nil
}

// SetIndexProgress sets the index progress tracker for background indexing.
// This enables the server to report indexing progress via index_status and
// return appropriate messages when search is called during indexing.
func (s *Server) SetIndexProgress(progress *async.IndexProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexProgress = progress
}

// SetMetrics sets the query metrics collector for telemetry.
// When set, a query_metrics resource is registered.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m

	// Register query_metrics resource if metrics is provided
	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// SetSyncChecker sets the Sync Checker (C13) used to answer the
// sync_status tool. Safe to call after construction; the tool itself
// reports "not configured" rather than erroring when left unset.
func (s *Server) SetSyncChecker(c *synccheck.Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncChecker = c
}

// SetMemoryStack wires the Memory Store (C4), Hybrid Search over memories
// (C5), Adaptive Retrieval (C9), and Associative Graph (C7) used by
// save_memory/find_memory/get_memory/remove_memory/smart_context. Safe to
// call after construction; tools report a plain error rather than
// panicking when left unset, matching SetSyncChecker's pattern.
func (s *Server) SetMemoryStack(ms *memory.Store, searcher *search.MemorySearcher, eng *retrieval.Engine, g *graph.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = ms
	s.memorySearch = searcher
	s.retrievalEngine = eng
	s.assocGraph = g
}

// SetExplainService wires the code-explanation service used by the
// explain_code tool family. Same after-construction pattern as
// SetSyncChecker.
func (s *Server) SetExplainService(svc *explain.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.explains = svc
}

// SetWatchController wires the File Watcher/Change Queue/Change Handler
// pipeline (C10-C12) used by start_watching/stop_watching.
func (s *Server) SetWatchController(w *WatchController) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchCtl = w
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "Specmem", version.Version
}

// Capabilities returns whether tools and resources are enabled.
func (s *Server) Capabilities() (hasTools, hasResources bool) {
	// Both are enabled for F16
	return true, true
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	// Return the tools we register
	return []ToolInfo{
		{
			Name:        "index_status",
			Description: "Check if the codebase index is ready and which embedder is active. Use before searching to verify the index is complete.",
		},
		{
			Name:        "sync_status",
			Description: "Check how far the index has drifted from the files on disk (missing, stale, or deleted entries). Use when search results seem outdated.",
		},
		{
			Name:        "save_memory",
			Description: "Record a new memory (semantic fact, episodic event, procedural note, working scratchpad, or reflection) for later retrieval.",
		},
		{
			Name:        "find_memory",
			Description: "Hybrid vector+lexical search over recorded memories. Returns ranked matches with similarity/rank/score.",
		},
		{
			Name:        "get_memory",
			Description: "Fetch a single memory by id.",
		},
		{
			Name:        "remove_memory",
			Description: "Soft-delete a memory by id; it is excluded from future searches but kept for history.",
		},
		{
			Name:        "smart_context",
			Description: "Build a token-budgeted context window for a query: core matches, associated memories, reasoning-chain members, and relaxed-threshold contextual matches.",
		},
		{
			Name:        "check_sync",
			Description: "Run a full drift check comparing disk against the store and write the syncScore snapshot to the status file.",
		},
		{
			Name:        "force_resync",
			Description: "Run a bounded, resumable resync reconciling the index against the current disk state (C13).",
		},
		{
			Name:        "start_watching",
			Description: "Start the debounced file watcher that keeps the index in sync with on-disk changes.",
		},
		{
			Name:        "stop_watching",
			Description: "Stop the file watcher started by start_watching.",
		},
		{
			Name:        "explain_code",
			Description: "Record an explanation of what a piece of code does, recallable later by file path or semantic search.",
		},
		{
			Name:        "recall_code_explanation",
			Description: "Recall the stored explanations for a file, most recently updated first.",
		},
		{
			Name:        "link_code_to_prompt",
			Description: "Link a code explanation to the prompt (and optionally its memory record) that produced it.",
		},
		{
			Name:        "get_related_code",
			Description: "Follow prompt links from a memory to the code explanations it touched.",
		},
		{
			Name:        "semantic_search_explanations",
			Description: "Rank stored code explanations by semantic similarity to a query.",
		},
		{
			Name:        "provide_explanation_feedback",
			Description: "Record whether a code explanation was helpful, weighting future recall.",
		},
	}
}

// CallTool invokes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch name {
	case "index_status":
		return s.handleIndexStatusTool(ctx, args)
	case "sync_status":
		return s.handleSyncStatusTool(ctx, args)
	case "save_memory":
		return s.handleSaveMemoryTool(ctx, args)
	case "find_memory":
		return s.handleFindMemoryTool(ctx, args)
	case "get_memory":
		return s.handleGetMemoryTool(ctx, args)
	case "remove_memory":
		return s.handleRemoveMemoryTool(ctx, args)
	case "smart_context":
		return s.handleSmartContextTool(ctx, args)
	case "check_sync":
		return s.handleCheckSyncTool(ctx, args)
	case "force_resync":
		return s.handleForceResyncTool(ctx, args)
	case "start_watching":
		return s.handleStartWatchingTool(ctx, args)
	case "stop_watching":
		return s.handleStopWatchingTool(ctx, args)
	case "explain_code":
		return s.handleExplainCodeTool(ctx, args)
	case "recall_code_explanation":
		return s.handleRecallExplanationTool(ctx, args)
	case "link_code_to_prompt":
		return s.handleLinkCodeToPromptTool(ctx, args)
	case "get_related_code":
		return s.handleGetRelatedCodeTool(ctx, args)
	case "semantic_search_explanations":
		return s.handleSearchExplanationsTool(ctx, args)
	case "provide_explanation_feedback":
		return s.handleExplanationFeedbackTool(ctx, args)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// handleIndexStatusTool handles the index_status tool invocation.
// Returns JSON-formatted index statistics including embedder capability info.
// AI clients can use this to adjust their search strategies based on
// whether Hugot (high quality semantic) or static (lower quality) embeddings are active.
func (s *Server) handleIndexStatusTool(ctx context.Context, _ map[string]any) (*IndexStatusOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("index_status started",
		slog.String("request_id", requestID))

	// Determine embedder capability state
	var actualProvider, actualModel, semanticQuality, status string
	var dimensions int
	var isFallbackActive bool

	if s.embedder != nil {
		actualModel = s.embedder.ModelName()
		dimensions = s.embedder.Dimensions()

		// Determine if using static fallback based on model name or dimensions
		isFallbackActive = actualModel == "static" || dimensions == embed.StaticDimensions

		if isFallbackActive {
			actualProvider = "static"
			semanticQuality = "low"
		} else {
			actualProvider = "hugot"
			semanticQuality = "high"
		}

		// Check runtime availability
		if s.embedder.Available(ctx) {
			status = "ready"
		} else {
			status = "unavailable"
		}
	} else {
		// No embedder configured
		actualProvider = "none"
		actualModel = "none"
		dimensions = 0
		isFallbackActive = true
		semanticQuality = "none"
		status = "unavailable"
	}

	// Detect project info
	detector := NewProjectDetector(s.rootPath, s.logger)
	projectInfo := detector.Detect()

	// Build output
	output := &IndexStatusOutput{
		Project: *projectInfo,
		Stats: IndexStats{
			FileCount:      0,
			MemoryCount:    0,
			IndexSizeBytes: 0,
			LastIndexed:    time.Now().Format(time.RFC3339),
		},
		Embeddings: EmbeddingInfo{
			// Config values
			Provider: s.config.Embeddings.Provider,
			Model:    s.config.Embeddings.Model,
			Status:   status,
			// Runtime state - AI clients use this to adjust search strategy
			ActualProvider:   actualProvider,
			ActualModel:      actualModel,
			Dimensions:       dimensions,
			IsFallbackActive: isFallbackActive,
			SemanticQuality:  semanticQuality,
		},
	}

	// Fill in stats from the metadata store if a project is configured.
	if s.projectID != "" {
		if paths, err := s.metadata.GetFilePathsByProject(ctx, s.projectID); err == nil {
			output.Stats.FileCount = len(paths)
		}
		if memories, _, err := s.metadata.ListMemories(ctx, s.projectID, "", maxIndexStatusSample); err == nil {
			output.Stats.MemoryCount = len(memories)
		}
	}

	// Add indexing progress if available
	s.mu.RLock()
	progress := s.indexProgress
	s.mu.RUnlock()

	if progress != nil {
		snap := progress.Snapshot()
		output.Indexing = &IndexingProgress{
			Status:         snap.Status,
			Stage:          snap.Stage,
			FilesTotal:     snap.FilesTotal,
			FilesProcessed: snap.FilesProcessed,
			ChunksIndexed:  snap.ChunksIndexed,
			ProgressPct:    snap.ProgressPct,
			ElapsedSeconds: snap.ElapsedSeconds,
			ErrorMessage:   snap.ErrorMessage,
		}
	}

	duration := time.Since(start)
	s.logger.Info("index_status completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.String("project_name", projectInfo.Name),
		slog.String("project_type", projectInfo.Type))

	return output, nil
}

// handleSyncStatusTool handles the sync_status tool invocation, comparing
// the files on disk against what C10-C12 have indexed (C13).
func (s *Server) handleSyncStatusTool(ctx context.Context, _ map[string]any) (*SyncStatusOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("sync_status started",
		slog.String("request_id", requestID))

	s.mu.RLock()
	checker := s.syncChecker
	s.mu.RUnlock()

	if checker == nil {
		return &SyncStatusOutput{
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		}, nil
	}

	report, err := checker.DriftReport(ctx, s.rootPath)
	if err != nil {
		return nil, fmt.Errorf("compute sync drift: %w", err)
	}

	output := &SyncStatusOutput{
		SyncScore:        report.SyncScore,
		DriftPercentage:  report.DriftPercentage,
		TotalFiles:       report.TotalFiles,
		UpToDate:         report.UpToDate,
		MissingFromStore: len(report.MissingFromMcp),
		MissingFromDisk:  len(report.MissingFromDisk),
		ContentMismatch:  len(report.ContentMismatch),
		Truncated:        report.Truncated,
		GeneratedAt:      report.GeneratedAt.Format(time.RFC3339),
	}

	duration := time.Since(start)
	s.logger.Info("sync_status completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Float64("sync_score", output.SyncScore))

	return output, nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	// Register index_status tool - index diagnostics
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Check if the codebase index is ready and which embedder is active. Use before searching to verify the index is complete.",
	}, s.mcpIndexStatusHandler)
	s.logger.Debug("Registered tool", slog.String("name", "index_status"))

	// Register sync_status tool - disk-vs-store drift diagnostics (C13)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "sync_status",
		Description: "Check how far the index has drifted from the files on disk (missing, stale, or deleted entries). Use when search results seem outdated.",
	}, s.mcpSyncStatusHandler)
	s.logger.Debug("Registered tool", slog.String("name", "sync_status"))

	s.registerMemoryTools()
	s.registerExplainTools()

	s.logger.Info("MCP tools registered", slog.Int("count", 17))
}

// mcpIndexStatusHandler is the MCP SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	output, err := s.handleIndexStatusTool(ctx, nil)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// mcpSyncStatusHandler is the MCP SDK handler for the sync_status tool.
func (s *Server) mcpSyncStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ SyncStatusInput) (
	*mcp.CallToolResult,
	*SyncStatusOutput,
	error,
) {
	output, err := s.handleSyncStatusTool(ctx, nil)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// ListResources returns all available resources: the indexed codebase
// files, exposed as file:// resources.
func (s *Server) ListResources(ctx context.Context, cursor string) ([]ResourceInfo, string, error) {
	s.mu.RLock()
	projectID := s.projectID
	s.mu.RUnlock()

	files, next, err := s.metadata.ListFiles(ctx, projectID, cursor, 10000)
	if err != nil {
		return nil, "", err
	}

	resources := make([]ResourceInfo, 0, len(files))
	for _, f := range files {
		resources = append(resources, ResourceInfo{
			URI:      fmt.Sprintf("file://%s", f.FilePath),
			Name:     f.FilePath,
			MIMEType: mimeTypeForLanguage(f.Language),
		})
	}

	return resources, next, nil
}

// ReadResource reads a file:// resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	s.mu.RLock()
	projectID := s.projectID
	s.mu.RUnlock()

	if !strings.HasPrefix(uri, "file://") {
		return nil, NewResourceNotFoundError(uri)
	}
	relPath := strings.TrimPrefix(uri, "file://")

	file, err := s.metadata.GetFileByPath(ctx, projectID, relPath)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, NewResourceNotFoundError(uri)
	}

	return &ResourceContent{
		URI:      uri,
		Content:  file.Content,
		MIMEType: mimeTypeForLanguage(file.Language),
	}, nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "stdio":
		s.logger.Debug("Using stdio transport for JSON-RPC")
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	case "sse":
		// SSE transport not yet implemented in SDK
		return fmt.Errorf("SSE transport not yet implemented")
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	// The MCP server doesn't have a Close method - it stops when context is canceled
	return nil
}

// mimeTypeForLanguage returns the MIME type for a programming language.
func mimeTypeForLanguage(lang string) string {
	switch strings.ToLower(lang) {
	case "go":
		return "text/x-go"
	case "typescript", "ts":
		return "text/typescript"
	case "javascript", "js":
		return "text/javascript"
	case "python", "py":
		return "text/x-python"
	case "rust", "rs":
		return "text/x-rust"
	case "java":
		return "text/x-java"
	case "c":
		return "text/x-c"
	case "cpp", "c++":
		return "text/x-c++"
	case "markdown", "md":
		return "text/markdown"
	default:
		return "text/plain"
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
