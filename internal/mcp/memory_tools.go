package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/specmem/specmem/internal/graph"
	"github.com/specmem/specmem/internal/memory"
	"github.com/specmem/specmem/internal/retrieval"
	"github.com/specmem/specmem/internal/search"
	"github.com/specmem/specmem/internal/store"
	"github.com/specmem/specmem/internal/telemetry"
)

// SaveMemoryInput defines the input schema for the save_memory tool.
type SaveMemoryInput struct {
	Content    string            `json:"content" jsonschema:"the memory text to record"`
	Type       string            `json:"type,omitempty" jsonschema:"semantic|episodic|procedural|working|reflection, default semantic"`
	Importance string            `json:"importance,omitempty" jsonschema:"critical|high|medium|low|trivial, default medium"`
	Tags       []string          `json:"tags,omitempty" jsonschema:"free-form labels"`
	Metadata   map[string]string `json:"metadata,omitempty" jsonschema:"caller-defined key/value pairs"`
}

// MemoryOutput is the JSON-shaped representation of a store.Memory returned
// to callers — tool-level operations exchange structured records, never
// raw internal types.
type MemoryOutput struct {
	ID             string            `json:"id"`
	Content        string            `json:"content"`
	Type           string            `json:"type"`
	Importance     string            `json:"importance"`
	Tags           []string          `json:"tags,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      string            `json:"created_at"`
	UpdatedAt      string            `json:"updated_at"`
	AccessCount    int               `json:"access_count"`
	LastAccessedAt string            `json:"last_accessed_at,omitempty"`
}

func toMemoryOutput(m *store.Memory) MemoryOutput {
	out := MemoryOutput{
		ID:          m.ID,
		Content:     m.Content,
		Type:        string(m.MemoryType),
		Importance:  string(m.Importance),
		Tags:        m.Tags,
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   m.UpdatedAt.UTC().Format(time.RFC3339),
		AccessCount: m.AccessCount,
	}
	if !m.LastAccessedAt.IsZero() {
		out.LastAccessedAt = m.LastAccessedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// mcpSaveMemoryHandler is the MCP SDK handler for the save_memory tool (C4 insert).
func (s *Server) mcpSaveMemoryHandler(ctx context.Context, _ *mcpsdk.CallToolRequest, input SaveMemoryInput) (
	*mcpsdk.CallToolResult,
	*MemoryOutput,
	error,
) {
	if input.Content == "" {
		return nil, nil, NewInvalidParamsError("content parameter is required and must be non-empty")
	}
	ms := s.memoryStoreOrNil()
	if ms == nil {
		return nil, nil, fmt.Errorf("memory store not configured")
	}

	memType := store.MemoryType(input.Type)
	if memType == "" {
		memType = store.MemoryTypeSemantic
	}
	importance := store.Importance(input.Importance)
	if importance == "" {
		importance = store.ImportanceMedium
	}

	m := store.Memory{
		ProjectPath: s.rootPath,
		Content:     input.Content,
		MemoryType:  memType,
		Importance:  importance,
		Tags:        input.Tags,
		Metadata:    input.Metadata,
	}
	if s.embedder != nil {
		if vec, err := s.embedder.Embed(ctx, input.Content); err == nil {
			m.Embedding = vec
		} else {
			s.logger.Warn("save_memory: embedding failed, storing sparse row", slog.String("error", err.Error()))
		}
	}

	saved, err := ms.Insert(ctx, m)
	if err != nil {
		return nil, nil, MapError(err)
	}
	out := toMemoryOutput(saved)
	return nil, &out, nil
}

// FindMemoryInput defines the input schema for the find_memory tool.
type FindMemoryInput struct {
	Query     string `json:"query" jsonschema:"the search text"`
	Mode      string `json:"mode,omitempty" jsonschema:"vector|text|hybrid, default hybrid"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Threshold float64 `json:"threshold,omitempty" jsonschema:"minimum hybrid score to include, default 0"`
}

// FindMemoryOutput wraps the ranked matches for the find_memory tool.
type FindMemoryOutput struct {
	Results []MemorySearchResultOutput `json:"results"`
}

// MemorySearchResultOutput is one hybrid search hit over memories.
type MemorySearchResultOutput struct {
	Memory     MemoryOutput `json:"memory"`
	Similarity float64      `json:"similarity"`
	RankNorm   float64      `json:"rank_norm"`
	Score      float64      `json:"score"`
}

// mcpFindMemoryHandler is the MCP SDK handler for the find_memory tool (C5 hybrid search).
func (s *Server) mcpFindMemoryHandler(ctx context.Context, _ *mcpsdk.CallToolRequest, input FindMemoryInput) (
	*mcpsdk.CallToolResult,
	*FindMemoryOutput,
	error,
) {
	if input.Query == "" {
		return nil, nil, NewInvalidParamsError("query parameter is required")
	}
	searcher := s.memorySearcherOrNil()
	if searcher == nil {
		return nil, nil, fmt.Errorf("memory search not configured")
	}

	start := time.Now()
	limit := clampLimit(input.Limit, 10, 1, 100)

	// Each mode is ranked and truncated independently: vector mode orders
	// by descending similarity, text mode by descending rank, and hybrid
	// by the fused score — a vector-only match is never lost to a low
	// fused score.
	var hits []*search.MemoryResult
	var err error
	switch input.Mode {
	case "vector":
		hits, err = searcher.SearchVector(ctx, s.rootPath, input.Query, limit)
	case "text":
		hits, err = searcher.SearchText(ctx, s.rootPath, input.Query, limit)
	default:
		hits, err = searcher.Search(ctx, s.rootPath, input.Query, limit)
	}
	if err != nil {
		return nil, nil, MapError(err)
	}
	s.recordQueryEvent(input.Query, input.Mode, len(hits), time.Since(start))

	out := &FindMemoryOutput{Results: make([]MemorySearchResultOutput, 0, len(hits))}
	for _, h := range hits {
		if h.Score < input.Threshold {
			continue
		}
		out.Results = append(out.Results, MemorySearchResultOutput{
			Memory:     toMemoryOutput(h.Memory),
			Similarity: h.Similarity,
			RankNorm:   h.RankNorm,
			Score:      h.Score,
		})
	}
	return nil, out, nil
}

// GetMemoryInput defines the input schema for the get_memory tool.
type GetMemoryInput struct {
	ID string `json:"id" jsonschema:"the memory id"`
}

// mcpGetMemoryHandler is the MCP SDK handler for the get_memory tool (C4 get).
func (s *Server) mcpGetMemoryHandler(ctx context.Context, _ *mcpsdk.CallToolRequest, input GetMemoryInput) (
	*mcpsdk.CallToolResult,
	*MemoryOutput,
	error,
) {
	if input.ID == "" {
		return nil, nil, NewInvalidParamsError("id parameter is required")
	}
	ms := s.memoryStoreOrNil()
	if ms == nil {
		return nil, nil, fmt.Errorf("memory store not configured")
	}
	m, err := ms.Get(ctx, s.rootPath, input.ID, false)
	if err != nil {
		return nil, nil, MapError(err)
	}
	out := toMemoryOutput(m)
	return nil, &out, nil
}

// RemoveMemoryInput defines the input schema for the remove_memory tool.
type RemoveMemoryInput struct {
	ID string `json:"id" jsonschema:"the memory id to soft-delete"`
}

// RemoveMemoryOutput confirms the soft-delete
// (`remove_memory(id) → {softDeleted:true}`).
type RemoveMemoryOutput struct {
	SoftDeleted bool `json:"softDeleted"`
}

// mcpRemoveMemoryHandler is the MCP SDK handler for the remove_memory tool (C4 softDelete).
func (s *Server) mcpRemoveMemoryHandler(ctx context.Context, _ *mcpsdk.CallToolRequest, input RemoveMemoryInput) (
	*mcpsdk.CallToolResult,
	*RemoveMemoryOutput,
	error,
) {
	if input.ID == "" {
		return nil, nil, NewInvalidParamsError("id parameter is required")
	}
	ms := s.memoryStoreOrNil()
	if ms == nil {
		return nil, nil, fmt.Errorf("memory store not configured")
	}
	if err := ms.SoftDelete(ctx, s.rootPath, input.ID); err != nil {
		return nil, nil, MapError(err)
	}
	return nil, &RemoveMemoryOutput{SoftDeleted: true}, nil
}

// SmartContextInput defines the input schema for the smart_context tool (C9).
type SmartContextInput struct {
	Query               string  `json:"query" jsonschema:"the query to build context for"`
	MaxTokens           int     `json:"max_tokens,omitempty" jsonschema:"token budget, default 2000"`
	MinRelevance        float64 `json:"min_relevance,omitempty" jsonschema:"minimum core-bucket relevance, default 0.5"`
	IncludeAssociations bool    `json:"include_associations,omitempty" jsonschema:"expand via the associative graph, default true"`
	IncludeChains       bool    `json:"include_chains,omitempty" jsonschema:"expand via reasoning chains, default true"`
	MaxAssociationDepth int     `json:"max_association_depth,omitempty" jsonschema:"spreading-activation depth cap, default 2"`
}

// SmartContextOutput is the four-bucket context window C9 returns.
type SmartContextOutput struct {
	Core          []MemoryOutput `json:"core"`
	Associated    []MemoryOutput `json:"associated"`
	Chain         []MemoryOutput `json:"chain"`
	Contextual    []MemoryOutput `json:"contextual"`
	TokenEstimate int            `json:"tokenEstimate"`
}

func toMemoryOutputs(memories []*store.Memory) []MemoryOutput {
	out := make([]MemoryOutput, 0, len(memories))
	for _, m := range memories {
		out = append(out, toMemoryOutput(m))
	}
	return out
}

// mcpSmartContextHandler is the MCP SDK handler for the smart_context tool (C9 composition).
func (s *Server) mcpSmartContextHandler(ctx context.Context, _ *mcpsdk.CallToolRequest, input SmartContextInput) (
	*mcpsdk.CallToolResult,
	*SmartContextOutput,
	error,
) {
	if input.Query == "" {
		return nil, nil, NewInvalidParamsError("query parameter is required")
	}
	eng := s.retrievalOrNil()
	if eng == nil {
		return nil, nil, fmt.Errorf("adaptive retrieval not configured")
	}

	var embedding []float32
	if s.embedder != nil {
		if vec, err := s.embedder.Embed(ctx, input.Query); err == nil {
			embedding = vec
		} else {
			s.logger.Warn("smart_context: embedding failed, falling back to lexical-only expansion",
				slog.String("error", err.Error()))
		}
	}

	opts := retrieval.Options{
		MaxTokens:           input.MaxTokens,
		MinRelevance:        input.MinRelevance,
		IncludeAssociations: input.IncludeAssociations,
		IncludeChains:       input.IncludeChains,
		MaxAssociationDepth: input.MaxAssociationDepth,
	}
	result, err := eng.Retrieve(ctx, s.rootPath, input.Query, embedding, opts)
	if err != nil {
		return nil, nil, MapError(err)
	}

	out := &SmartContextOutput{
		Core:          toMemoryOutputs(result.Core),
		Associated:    toMemoryOutputs(result.Associated),
		Chain:         toMemoryOutputs(result.Chain),
		Contextual:    toMemoryOutputs(result.Contextual),
		TokenEstimate: result.TokenEstimate,
	}
	return nil, out, nil
}

// CheckSyncInput defines the input schema for the check_sync tool (no parameters).
type CheckSyncInput struct{}

// CheckSyncOutput reports a full drift check's buckets and score (C13).
type CheckSyncOutput struct {
	SyncScore        float64 `json:"sync_score"`
	DriftPercentage  float64 `json:"drift_percentage"`
	TotalFiles       int     `json:"total_files"`
	UpToDate         int     `json:"up_to_date"`
	MissingFromStore int     `json:"missing_from_store"`
	MissingFromDisk  int     `json:"missing_from_disk"`
	ContentMismatch  int     `json:"content_mismatch"`
	Truncated        bool    `json:"truncated"`
	StatusWritten    bool    `json:"status_written"`
	GeneratedAt      string  `json:"generated_at"`
}

// mcpCheckSyncHandler is the MCP SDK handler for the check_sync tool (C13
// DriftReport + status snapshot). Unlike sync_status, which only reads,
// check_sync also persists the syncScore to the project's status file.
func (s *Server) mcpCheckSyncHandler(ctx context.Context, _ *mcpsdk.CallToolRequest, _ CheckSyncInput) (
	*mcpsdk.CallToolResult,
	*CheckSyncOutput,
	error,
) {
	s.mu.RLock()
	checker := s.syncChecker
	s.mu.RUnlock()
	if checker == nil {
		return nil, nil, fmt.Errorf("sync checker not configured")
	}

	report, err := checker.CheckAndWriteStatus(ctx, s.rootPath)
	if err != nil {
		return nil, nil, MapError(err)
	}

	return nil, &CheckSyncOutput{
		SyncScore:        report.SyncScore,
		DriftPercentage:  report.DriftPercentage,
		TotalFiles:       report.TotalFiles,
		UpToDate:         report.UpToDate,
		MissingFromStore: len(report.MissingFromMcp),
		MissingFromDisk:  len(report.MissingFromDisk),
		ContentMismatch:  len(report.ContentMismatch),
		Truncated:        report.Truncated,
		StatusWritten:    true,
		GeneratedAt:      report.GeneratedAt.Format(time.RFC3339),
	}, nil
}

// ForceResyncInput defines the input schema for the force_resync tool (no parameters).
type ForceResyncInput struct{}

// ForceResyncOutput reports the outcome of a bounded, resumable resync (C13).
type ForceResyncOutput struct {
	Success        bool    `json:"success"`
	Added          int     `json:"added"`
	Updated        int     `json:"updated"`
	Deleted        int     `json:"deleted"`
	Failed         int     `json:"failed"`
	Retried        int     `json:"retried"`
	DeadlineHit    bool    `json:"deadline_hit"`
	SyncScoreAfter float64 `json:"sync_score_after"`
}

// mcpForceResyncHandler is the MCP SDK handler for the force_resync tool (C13 Resync).
func (s *Server) mcpForceResyncHandler(ctx context.Context, _ *mcpsdk.CallToolRequest, _ ForceResyncInput) (
	*mcpsdk.CallToolResult,
	*ForceResyncOutput,
	error,
) {
	s.mu.RLock()
	checker := s.syncChecker
	s.mu.RUnlock()
	if checker == nil {
		return nil, nil, fmt.Errorf("sync checker not configured")
	}

	report, err := checker.DriftReport(ctx, s.rootPath)
	if err != nil {
		return nil, nil, fmt.Errorf("compute drift before resync: %w", err)
	}
	result, err := checker.Resync(ctx, s.rootPath, report)
	if err != nil {
		return nil, nil, MapError(err)
	}

	return nil, &ForceResyncOutput{
		Success:        result.Success,
		Added:          result.Added,
		Updated:        result.Updated,
		Deleted:        result.MarkedDeleted,
		Failed:         len(result.Failures),
		Retried:        result.Retried,
		DeadlineHit:    result.DeadlineHit,
		SyncScoreAfter: result.SyncScoreAfter,
	}, nil
}

// StartWatchingInput defines the input schema for the start_watching tool (no parameters).
type StartWatchingInput struct{}

// StopWatchingInput defines the input schema for the stop_watching tool (no parameters).
type StopWatchingInput struct{}

// WatchingOutput reports the file watcher's running state.
type WatchingOutput struct {
	Watching bool `json:"watching"`
}

// mcpStartWatchingHandler is the MCP SDK handler for the start_watching tool (C10).
func (s *Server) mcpStartWatchingHandler(ctx context.Context, _ *mcpsdk.CallToolRequest, _ StartWatchingInput) (
	*mcpsdk.CallToolResult,
	*WatchingOutput,
	error,
) {
	if s.watchCtl == nil {
		return nil, nil, fmt.Errorf("watcher not configured")
	}
	if err := s.watchCtl.Start(ctx); err != nil {
		return nil, nil, MapError(err)
	}
	return nil, &WatchingOutput{Watching: true}, nil
}

// mcpStopWatchingHandler is the MCP SDK handler for the stop_watching tool (C10).
func (s *Server) mcpStopWatchingHandler(ctx context.Context, _ *mcpsdk.CallToolRequest, _ StopWatchingInput) (
	*mcpsdk.CallToolResult,
	*WatchingOutput,
	error,
) {
	if s.watchCtl == nil {
		return nil, nil, fmt.Errorf("watcher not configured")
	}
	if err := s.watchCtl.Stop(); err != nil {
		return nil, nil, MapError(err)
	}
	return nil, &WatchingOutput{Watching: false}, nil
}

// recordQueryEvent feeds the query-telemetry collector from a find_memory
// call. Best-effort: a nil collector is simply skipped.
func (s *Server) recordQueryEvent(query, mode string, results int, latency time.Duration) {
	s.mu.RLock()
	metrics := s.metrics
	s.mu.RUnlock()
	if metrics == nil {
		return
	}
	qt := telemetry.QueryTypeMixed
	switch mode {
	case "vector":
		qt = telemetry.QueryTypeSemantic
	case "text":
		qt = telemetry.QueryTypeLexical
	}
	metrics.Record(telemetry.QueryEvent{
		Query:       query,
		QueryType:   qt,
		ResultCount: results,
		Latency:     latency,
		Timestamp:   time.Now(),
	})
}

// memoryStoreOrNil, memorySearcherOrNil, retrievalOrNil, graphEngineOrNil
// read the optional memory-stack components under the read lock already
// held by CallTool's dispatch, following the same soft-fail-to-"not
// configured" shape as SetSyncChecker/handleSyncStatusTool rather than
// panicking when a caller wires only the code-search half of the server.
func (s *Server) memoryStoreOrNil() *memory.Store   { return s.memories }
func (s *Server) memorySearcherOrNil() *search.MemorySearcher { return s.memorySearch }
func (s *Server) retrievalOrNil() *retrieval.Engine  { return s.retrievalEngine }
func (s *Server) graphEngineOrNil() *graph.Graph     { return s.assocGraph }

// registerMemoryTools registers the memory-stack tools (save_memory,
// find_memory, get_memory, remove_memory, smart_context, check_sync,
// force_resync, start_watching, stop_watching) with the MCP server. Called from
// registerTools when the corresponding component was wired via the
// SetMemoryStack/SetWatchController setters; unset components still
// register their tool (so ListTools is stable) but return a
// "not configured" error from CallTool, matching sync_status's pattern.
func (s *Server) registerMemoryTools() {
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "save_memory",
		Description: "Record a new memory (semantic fact, episodic event, procedural note, working scratchpad, or reflection) for later retrieval.",
	}, s.mcpSaveMemoryHandler)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "find_memory",
		Description: "Hybrid vector+lexical search over recorded memories. Returns ranked matches with similarity/rank/score.",
	}, s.mcpFindMemoryHandler)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "get_memory",
		Description: "Fetch a single memory by id.",
	}, s.mcpGetMemoryHandler)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "remove_memory",
		Description: "Soft-delete a memory by id; it is excluded from future searches but kept for history.",
	}, s.mcpRemoveMemoryHandler)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "smart_context",
		Description: "Build a token-budgeted context window for a query: core matches, associated memories, reasoning-chain members, and relaxed-threshold contextual matches.",
	}, s.mcpSmartContextHandler)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "check_sync",
		Description: "Run a full drift check comparing disk against the store and write the syncScore snapshot to the status file.",
	}, s.mcpCheckSyncHandler)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "force_resync",
		Description: "Run a bounded, resumable resync reconciling the index against the current disk state (C13).",
	}, s.mcpForceResyncHandler)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "start_watching",
		Description: "Start the debounced file watcher that keeps the index in sync with on-disk changes.",
	}, s.mcpStartWatchingHandler)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "stop_watching",
		Description: "Stop the file watcher started by start_watching.",
	}, s.mcpStopWatchingHandler)

	s.logger.Info("memory-stack MCP tools registered", slog.Int("count", 9))
}

// The handle*Tool functions below adapt CallTool's generic
// map[string]any argument shape to the typed mcp*Handler functions
// registered with the SDK, matching handleIndexStatusTool's split between
// a generic dispatch path and the SDK-typed path.

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func floatArg(args map[string]any, key string) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return 0
}

func intArg(args map[string]any, key string) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return 0
}

func boolArg(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

func stringMapArg(args map[string]any, key string) map[string]string {
	raw, ok := args[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if str, ok := v.(string); ok {
			out[k] = str
		}
	}
	return out
}

func (s *Server) handleSaveMemoryTool(ctx context.Context, args map[string]any) (*MemoryOutput, error) {
	input := SaveMemoryInput{
		Content:    stringArg(args, "content"),
		Type:       stringArg(args, "type"),
		Importance: stringArg(args, "importance"),
		Tags:       stringSliceArg(args, "tags"),
		Metadata:   stringMapArg(args, "metadata"),
	}
	_, out, err := s.mcpSaveMemoryHandler(ctx, nil, input)
	return out, err
}

func (s *Server) handleFindMemoryTool(ctx context.Context, args map[string]any) (*FindMemoryOutput, error) {
	input := FindMemoryInput{
		Query:     stringArg(args, "query"),
		Mode:      stringArg(args, "mode"),
		Limit:     intArg(args, "limit"),
		Threshold: floatArg(args, "threshold"),
	}
	_, out, err := s.mcpFindMemoryHandler(ctx, nil, input)
	return out, err
}

func (s *Server) handleGetMemoryTool(ctx context.Context, args map[string]any) (*MemoryOutput, error) {
	input := GetMemoryInput{ID: stringArg(args, "id")}
	_, out, err := s.mcpGetMemoryHandler(ctx, nil, input)
	return out, err
}

func (s *Server) handleRemoveMemoryTool(ctx context.Context, args map[string]any) (*RemoveMemoryOutput, error) {
	input := RemoveMemoryInput{ID: stringArg(args, "id")}
	_, out, err := s.mcpRemoveMemoryHandler(ctx, nil, input)
	return out, err
}

func (s *Server) handleSmartContextTool(ctx context.Context, args map[string]any) (*SmartContextOutput, error) {
	input := SmartContextInput{
		Query:               stringArg(args, "query"),
		MaxTokens:           intArg(args, "max_tokens"),
		MinRelevance:        floatArg(args, "min_relevance"),
		IncludeAssociations: boolArg(args, "include_associations"),
		IncludeChains:       boolArg(args, "include_chains"),
		MaxAssociationDepth: intArg(args, "max_association_depth"),
	}
	_, out, err := s.mcpSmartContextHandler(ctx, nil, input)
	return out, err
}

func (s *Server) handleCheckSyncTool(ctx context.Context, _ map[string]any) (*CheckSyncOutput, error) {
	_, out, err := s.mcpCheckSyncHandler(ctx, nil, CheckSyncInput{})
	return out, err
}

func (s *Server) handleForceResyncTool(ctx context.Context, _ map[string]any) (*ForceResyncOutput, error) {
	_, out, err := s.mcpForceResyncHandler(ctx, nil, ForceResyncInput{})
	return out, err
}

func (s *Server) handleStartWatchingTool(ctx context.Context, _ map[string]any) (*WatchingOutput, error) {
	_, out, err := s.mcpStartWatchingHandler(ctx, nil, StartWatchingInput{})
	return out, err
}

func (s *Server) handleStopWatchingTool(ctx context.Context, _ map[string]any) (*WatchingOutput, error) {
	_, out, err := s.mcpStopWatchingHandler(ctx, nil, StopWatchingInput{})
	return out, err
}
