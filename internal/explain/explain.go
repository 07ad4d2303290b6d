// Package explain provides CRUD and semantic recall for code explanations:
// assistant-authored notes about what a piece of code does, linked back to
// the prompts that produced them and ranked by how often they are consulted.
// Thin wrappers over the Memory Store / Hybrid Search stack; persistence
// lives in the code_explanations, code_prompt_links, and
// code_access_patterns tables.
package explain

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/specmem/specmem/internal/dimension"
	memerrors "github.com/specmem/specmem/internal/errors"
	"github.com/specmem/specmem/internal/memory"
	"github.com/specmem/specmem/internal/store"
)

// Embedder is the subset of embed.Embedder the explanation service needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service records, recalls, and semantically searches code explanations.
type Service struct {
	metadata store.MetadataStore
	dims     *dimension.Service
	embedder Embedder
	log      *slog.Logger
}

// New builds an explanation service. embedder and dims may be nil. Without
// an embedder explanations are stored sparse (no embedding) and semantic
// search returns an EmbeddingUnavailable error; without dims the embedding
// is stored as the embedder returns it.
func New(metadata store.MetadataStore, dims *dimension.Service, embedder Embedder) *Service {
	return &Service{
		metadata: metadata,
		dims:     dims,
		embedder: embedder,
		log:      slog.Default(),
	}
}

// Explain records a new explanation for filePath (optionally scoped to one
// symbol), embedding the explanation text for later semantic recall.
func (s *Service) Explain(ctx context.Context, projectPath, filePath, symbol, explanation string, tags []string) (*store.CodeExplanation, error) {
	if strings.TrimSpace(explanation) == "" {
		return nil, memerrors.ValidationError("explanation must be non-empty", nil)
	}
	if strings.TrimSpace(filePath) == "" {
		return nil, memerrors.ValidationError("file_path must be non-empty", nil)
	}

	now := time.Now().UTC()
	e := &store.CodeExplanation{
		ID:          uuid.NewString(),
		ProjectPath: projectPath,
		FilePath:    filePath,
		Symbol:      symbol,
		Explanation: explanation,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	e.Embedding = s.embedText(ctx, explanation)

	if err := s.metadata.SaveExplanation(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Recall returns the explanations recorded for filePath, most recently
// updated first, and bumps the file's access pattern. The access bump is
// best-effort; its failure never fails the recall.
func (s *Service) Recall(ctx context.Context, projectPath, filePath string) ([]*store.CodeExplanation, error) {
	explanations, err := s.metadata.GetExplanationsByFile(ctx, projectPath, filePath)
	if err != nil {
		return nil, err
	}
	if err := s.metadata.TouchCodeAccess(ctx, projectPath, filePath, time.Now().UTC()); err != nil {
		s.log.Warn("explain: access-pattern bump failed", slog.String("file", filePath), slog.String("error", err.Error()))
	}
	return explanations, nil
}

// LinkToPrompt records that prompt (optionally stored as memory memoryID)
// produced or consulted the given explanation.
func (s *Service) LinkToPrompt(ctx context.Context, projectPath, explanationID, memoryID, prompt string) (*store.CodePromptLink, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, memerrors.ValidationError("prompt must be non-empty", nil)
	}
	if _, err := s.metadata.GetExplanation(ctx, projectPath, explanationID); err != nil {
		return nil, err
	}

	l := &store.CodePromptLink{
		ID:            uuid.NewString(),
		ProjectPath:   projectPath,
		ExplanationID: explanationID,
		MemoryID:      memoryID,
		Prompt:        prompt,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.metadata.SavePromptLink(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// RelatedCode follows prompt links from a memory id to the explanations
// (and thus files) it touched. Links are weak references: an explanation
// deleted out from under a link is filtered, not an error.
func (s *Service) RelatedCode(ctx context.Context, projectPath, memoryID string, limit int) ([]*store.CodeExplanation, error) {
	if limit <= 0 {
		limit = 20
	}
	links, err := s.metadata.GetPromptLinksByMemory(ctx, projectPath, memoryID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(links))
	out := make([]*store.CodeExplanation, 0, len(links))
	for _, l := range links {
		if _, ok := seen[l.ExplanationID]; ok {
			continue
		}
		seen[l.ExplanationID] = struct{}{}
		e, err := s.metadata.GetExplanation(ctx, projectPath, l.ExplanationID)
		if err != nil {
			if memerrors.GetCode(err) == memerrors.ErrCodeNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Result is one semantic-search hit over explanations.
type Result struct {
	Explanation *store.CodeExplanation
	Similarity  float64
}

// SemanticSearch ranks the project's explanations by cosine similarity of
// their embedding to the query, dropping hits below minSimilarity.
// Explanations stored sparse (no embedding) are skipped.
func (s *Service) SemanticSearch(ctx context.Context, projectPath, query string, limit int, minSimilarity float64) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, memerrors.ValidationError("query must be non-empty", nil)
	}
	if s.embedder == nil {
		return nil, memerrors.EmbeddingUnavailable("no embedder configured for semantic explanation search", nil)
	}
	if limit <= 0 {
		limit = 10
	}

	queryVec := s.embedText(ctx, query)
	if len(queryVec) == 0 {
		return nil, memerrors.EmbeddingUnavailable("query embedding failed", nil)
	}

	explanations, err := s.metadata.ListExplanations(ctx, projectPath, 0)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(explanations))
	for _, e := range explanations {
		if len(e.Embedding) != len(queryVec) {
			continue
		}
		sim := cosineSimilarity(queryVec, e.Embedding)
		if sim < minSimilarity {
			continue
		}
		results = append(results, Result{Explanation: e, Similarity: sim})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Feedback records whether an explanation was helpful.
func (s *Service) Feedback(ctx context.Context, projectPath, id string, helpful bool) error {
	return s.metadata.RecordExplanationFeedback(ctx, projectPath, id, helpful)
}

// embedText embeds text and reconciles it against the store's declared
// dimension (explanations share the memories table's declared dimension).
// Failures degrade to a sparse row rather than failing the write.
func (s *Service) embedText(ctx context.Context, text string) []float32 {
	if s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.log.Warn("explain: embedding failed, storing sparse", slog.String("error", err.Error()))
		return nil
	}
	if s.dims != nil && len(vec) > 0 {
		result, err := s.dims.Prepare(ctx, memory.MemoryTable, vec, text)
		if err != nil {
			s.log.Warn("explain: dimension prepare failed, storing sparse", slog.String("error", err.Error()))
			return nil
		}
		return result.Vector
	}
	return vec
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
