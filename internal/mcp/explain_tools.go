package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/specmem/specmem/internal/explain"
	"github.com/specmem/specmem/internal/store"
)

// ExplainCodeInput defines the input schema for the explain_code tool.
type ExplainCodeInput struct {
	FilePath    string   `json:"file_path" jsonschema:"relative path of the code being explained"`
	Symbol      string   `json:"symbol,omitempty" jsonschema:"optional function or type the explanation focuses on"`
	Explanation string   `json:"explanation" jsonschema:"the explanation text to record"`
	Tags        []string `json:"tags,omitempty" jsonschema:"free-form labels"`
}

// ExplanationOutput is the JSON-shaped representation of a stored code
// explanation.
type ExplanationOutput struct {
	ID             string   `json:"id"`
	FilePath       string   `json:"file_path"`
	Symbol         string   `json:"symbol,omitempty"`
	Explanation    string   `json:"explanation"`
	Tags           []string `json:"tags,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
	AccessCount    int      `json:"access_count"`
	HelpfulCount   int      `json:"helpful_count"`
	UnhelpfulCount int      `json:"unhelpful_count"`
}

func toExplanationOutput(e *store.CodeExplanation) ExplanationOutput {
	return ExplanationOutput{
		ID:             e.ID,
		FilePath:       e.FilePath,
		Symbol:         e.Symbol,
		Explanation:    e.Explanation,
		Tags:           e.Tags,
		CreatedAt:      e.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      e.UpdatedAt.UTC().Format(time.RFC3339),
		AccessCount:    e.AccessCount,
		HelpfulCount:   e.HelpfulCount,
		UnhelpfulCount: e.UnhelpfulCount,
	}
}

func toExplanationOutputs(explanations []*store.CodeExplanation) []ExplanationOutput {
	out := make([]ExplanationOutput, 0, len(explanations))
	for _, e := range explanations {
		out = append(out, toExplanationOutput(e))
	}
	return out
}

// mcpExplainCodeHandler is the MCP SDK handler for the explain_code tool.
func (s *Server) mcpExplainCodeHandler(ctx context.Context, _ *mcpsdk.CallToolRequest, input ExplainCodeInput) (
	*mcpsdk.CallToolResult,
	*ExplanationOutput,
	error,
) {
	if input.FilePath == "" {
		return nil, nil, NewInvalidParamsError("file_path parameter is required")
	}
	if input.Explanation == "" {
		return nil, nil, NewInvalidParamsError("explanation parameter is required")
	}
	svc := s.explainOrNil()
	if svc == nil {
		return nil, nil, fmt.Errorf("explanation service not configured")
	}

	e, err := svc.Explain(ctx, s.rootPath, input.FilePath, input.Symbol, input.Explanation, input.Tags)
	if err != nil {
		return nil, nil, MapError(err)
	}
	out := toExplanationOutput(e)
	return nil, &out, nil
}

// RecallExplanationInput defines the input schema for recall_code_explanation.
type RecallExplanationInput struct {
	FilePath string `json:"file_path" jsonschema:"relative path to recall explanations for"`
}

// ExplanationListOutput wraps a list of explanations.
type ExplanationListOutput struct {
	Explanations []ExplanationOutput `json:"explanations"`
}

// mcpRecallExplanationHandler is the MCP SDK handler for recall_code_explanation.
func (s *Server) mcpRecallExplanationHandler(ctx context.Context, _ *mcpsdk.CallToolRequest, input RecallExplanationInput) (
	*mcpsdk.CallToolResult,
	*ExplanationListOutput,
	error,
) {
	if input.FilePath == "" {
		return nil, nil, NewInvalidParamsError("file_path parameter is required")
	}
	svc := s.explainOrNil()
	if svc == nil {
		return nil, nil, fmt.Errorf("explanation service not configured")
	}

	explanations, err := svc.Recall(ctx, s.rootPath, input.FilePath)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, &ExplanationListOutput{Explanations: toExplanationOutputs(explanations)}, nil
}

// LinkCodeToPromptInput defines the input schema for link_code_to_prompt.
type LinkCodeToPromptInput struct {
	ExplanationID string `json:"explanation_id" jsonschema:"the explanation to link"`
	MemoryID      string `json:"memory_id,omitempty" jsonschema:"optional memory id recording the prompt"`
	Prompt        string `json:"prompt" jsonschema:"the prompt text that produced or consulted the code"`
}

// PromptLinkOutput confirms a recorded code-prompt link.
type PromptLinkOutput struct {
	ID            string `json:"id"`
	ExplanationID string `json:"explanation_id"`
	MemoryID      string `json:"memory_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// mcpLinkCodeToPromptHandler is the MCP SDK handler for link_code_to_prompt.
func (s *Server) mcpLinkCodeToPromptHandler(ctx context.Context, _ *mcpsdk.CallToolRequest, input LinkCodeToPromptInput) (
	*mcpsdk.CallToolResult,
	*PromptLinkOutput,
	error,
) {
	if input.ExplanationID == "" {
		return nil, nil, NewInvalidParamsError("explanation_id parameter is required")
	}
	if input.Prompt == "" {
		return nil, nil, NewInvalidParamsError("prompt parameter is required")
	}
	svc := s.explainOrNil()
	if svc == nil {
		return nil, nil, fmt.Errorf("explanation service not configured")
	}

	l, err := svc.LinkToPrompt(ctx, s.rootPath, input.ExplanationID, input.MemoryID, input.Prompt)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, &PromptLinkOutput{
		ID:            l.ID,
		ExplanationID: l.ExplanationID,
		MemoryID:      l.MemoryID,
		CreatedAt:     l.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
}

// GetRelatedCodeInput defines the input schema for get_related_code.
type GetRelatedCodeInput struct {
	MemoryID string `json:"memory_id" jsonschema:"the memory (prompt) to find linked code for"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of explanations, default 20"`
}

// mcpGetRelatedCodeHandler is the MCP SDK handler for get_related_code.
func (s *Server) mcpGetRelatedCodeHandler(ctx context.Context, _ *mcpsdk.CallToolRequest, input GetRelatedCodeInput) (
	*mcpsdk.CallToolResult,
	*ExplanationListOutput,
	error,
) {
	if input.MemoryID == "" {
		return nil, nil, NewInvalidParamsError("memory_id parameter is required")
	}
	svc := s.explainOrNil()
	if svc == nil {
		return nil, nil, fmt.Errorf("explanation service not configured")
	}

	explanations, err := svc.RelatedCode(ctx, s.rootPath, input.MemoryID, input.Limit)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, &ExplanationListOutput{Explanations: toExplanationOutputs(explanations)}, nil
}

// SearchExplanationsInput defines the input schema for semantic_search_explanations.
type SearchExplanationsInput struct {
	Query     string  `json:"query" jsonschema:"the search text"`
	Limit     int     `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Threshold float64 `json:"threshold,omitempty" jsonschema:"minimum cosine similarity, default 0"`
}

// SearchExplanationsOutput wraps ranked explanation hits.
type SearchExplanationsOutput struct {
	Results []ExplanationSearchResult `json:"results"`
}

// ExplanationSearchResult is one semantic hit over explanations.
type ExplanationSearchResult struct {
	Explanation ExplanationOutput `json:"explanation"`
	Similarity  float64           `json:"similarity"`
}

// mcpSearchExplanationsHandler is the MCP SDK handler for semantic_search_explanations.
func (s *Server) mcpSearchExplanationsHandler(ctx context.Context, _ *mcpsdk.CallToolRequest, input SearchExplanationsInput) (
	*mcpsdk.CallToolResult,
	*SearchExplanationsOutput,
	error,
) {
	if input.Query == "" {
		return nil, nil, NewInvalidParamsError("query parameter is required")
	}
	svc := s.explainOrNil()
	if svc == nil {
		return nil, nil, fmt.Errorf("explanation service not configured")
	}

	limit := clampLimit(input.Limit, 10, 1, 100)
	hits, err := svc.SemanticSearch(ctx, s.rootPath, input.Query, limit, input.Threshold)
	if err != nil {
		return nil, nil, MapError(err)
	}

	out := &SearchExplanationsOutput{Results: make([]ExplanationSearchResult, 0, len(hits))}
	for _, h := range hits {
		out.Results = append(out.Results, ExplanationSearchResult{
			Explanation: toExplanationOutput(h.Explanation),
			Similarity:  h.Similarity,
		})
	}
	return nil, out, nil
}

// ExplanationFeedbackInput defines the input schema for provide_explanation_feedback.
type ExplanationFeedbackInput struct {
	ExplanationID string `json:"explanation_id" jsonschema:"the explanation being rated"`
	Helpful       bool   `json:"helpful" jsonschema:"whether the explanation was helpful"`
}

// ExplanationFeedbackOutput confirms recorded feedback.
type ExplanationFeedbackOutput struct {
	Recorded bool `json:"recorded"`
}

// mcpExplanationFeedbackHandler is the MCP SDK handler for provide_explanation_feedback.
func (s *Server) mcpExplanationFeedbackHandler(ctx context.Context, _ *mcpsdk.CallToolRequest, input ExplanationFeedbackInput) (
	*mcpsdk.CallToolResult,
	*ExplanationFeedbackOutput,
	error,
) {
	if input.ExplanationID == "" {
		return nil, nil, NewInvalidParamsError("explanation_id parameter is required")
	}
	svc := s.explainOrNil()
	if svc == nil {
		return nil, nil, fmt.Errorf("explanation service not configured")
	}

	if err := svc.Feedback(ctx, s.rootPath, input.ExplanationID, input.Helpful); err != nil {
		return nil, nil, MapError(err)
	}
	return nil, &ExplanationFeedbackOutput{Recorded: true}, nil
}

func (s *Server) explainOrNil() *explain.Service { return s.explains }

// registerExplainTools registers the code-explanation tools with the MCP
// server, following registerMemoryTools' register-even-when-unset pattern
// so ListTools stays stable.
func (s *Server) registerExplainTools() {
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "explain_code",
		Description: "Record an explanation of what a piece of code does, recallable later by file path or semantic search.",
	}, s.mcpExplainCodeHandler)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "recall_code_explanation",
		Description: "Recall the stored explanations for a file, most recently updated first.",
	}, s.mcpRecallExplanationHandler)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "link_code_to_prompt",
		Description: "Link a code explanation to the prompt (and optionally its memory record) that produced it.",
	}, s.mcpLinkCodeToPromptHandler)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "get_related_code",
		Description: "Follow prompt links from a memory to the code explanations it touched.",
	}, s.mcpGetRelatedCodeHandler)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "semantic_search_explanations",
		Description: "Rank stored code explanations by semantic similarity to a query.",
	}, s.mcpSearchExplanationsHandler)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "provide_explanation_feedback",
		Description: "Record whether a code explanation was helpful, weighting future recall.",
	}, s.mcpExplanationFeedbackHandler)
}

func (s *Server) handleExplainCodeTool(ctx context.Context, args map[string]any) (*ExplanationOutput, error) {
	input := ExplainCodeInput{
		FilePath:    stringArg(args, "file_path"),
		Symbol:      stringArg(args, "symbol"),
		Explanation: stringArg(args, "explanation"),
		Tags:        stringSliceArg(args, "tags"),
	}
	_, out, err := s.mcpExplainCodeHandler(ctx, nil, input)
	return out, err
}

func (s *Server) handleRecallExplanationTool(ctx context.Context, args map[string]any) (*ExplanationListOutput, error) {
	input := RecallExplanationInput{FilePath: stringArg(args, "file_path")}
	_, out, err := s.mcpRecallExplanationHandler(ctx, nil, input)
	return out, err
}

func (s *Server) handleLinkCodeToPromptTool(ctx context.Context, args map[string]any) (*PromptLinkOutput, error) {
	input := LinkCodeToPromptInput{
		ExplanationID: stringArg(args, "explanation_id"),
		MemoryID:      stringArg(args, "memory_id"),
		Prompt:        stringArg(args, "prompt"),
	}
	_, out, err := s.mcpLinkCodeToPromptHandler(ctx, nil, input)
	return out, err
}

func (s *Server) handleGetRelatedCodeTool(ctx context.Context, args map[string]any) (*ExplanationListOutput, error) {
	input := GetRelatedCodeInput{
		MemoryID: stringArg(args, "memory_id"),
		Limit:    intArg(args, "limit"),
	}
	_, out, err := s.mcpGetRelatedCodeHandler(ctx, nil, input)
	return out, err
}

func (s *Server) handleSearchExplanationsTool(ctx context.Context, args map[string]any) (*SearchExplanationsOutput, error) {
	input := SearchExplanationsInput{
		Query:     stringArg(args, "query"),
		Limit:     intArg(args, "limit"),
		Threshold: floatArg(args, "threshold"),
	}
	_, out, err := s.mcpSearchExplanationsHandler(ctx, nil, input)
	return out, err
}

func (s *Server) handleExplanationFeedbackTool(ctx context.Context, args map[string]any) (*ExplanationFeedbackOutput, error) {
	input := ExplanationFeedbackInput{
		ExplanationID: stringArg(args, "explanation_id"),
		Helpful:       boolArg(args, "helpful"),
	}
	_, out, err := s.mcpExplanationFeedbackHandler(ctx, nil, input)
	return out, err
}
