package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleExplanation(id, projectPath, filePath string) *CodeExplanation {
	now := time.Now().UTC().Truncate(time.Second)
	return &CodeExplanation{
		ID:          id,
		ProjectPath: projectPath,
		FilePath:    filePath,
		Symbol:      "handleLogin",
		Explanation: "validates credentials and issues a session token",
		Tags:        []string{"auth"},
		Embedding:   []float32{0.5, 0.1, 0.4},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TE01: round-trip save/get preserves every field including the embedding.
func TestSQLiteStore_SaveAndGetExplanation_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := sampleExplanation("exp-1", "/proj/a", "internal/auth/login.go")
	require.NoError(t, s.SaveExplanation(ctx, e))

	got, err := s.GetExplanation(ctx, "/proj/a", "exp-1")
	require.NoError(t, err)
	assert.Equal(t, e.FilePath, got.FilePath)
	assert.Equal(t, e.Symbol, got.Symbol)
	assert.Equal(t, e.Explanation, got.Explanation)
	assert.ElementsMatch(t, e.Tags, got.Tags)
	assert.InDeltaSlice(t, e.Embedding, got.Embedding, 0.0001)
}

// TE02: explanations scope to their project.
func TestSQLiteStore_GetExplanation_ScopesToProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveExplanation(ctx, sampleExplanation("exp-1", "/proj/a", "a.go")))

	_, err := s.GetExplanation(ctx, "/proj/b", "exp-1")
	assert.Error(t, err)
}

// TE03: GetExplanationsByFile returns all rows for a path, newest update first.
func TestSQLiteStore_GetExplanationsByFile_OrdersByUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := sampleExplanation("exp-old", "/proj/a", "a.go")
	older.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	newer := sampleExplanation("exp-new", "/proj/a", "a.go")
	other := sampleExplanation("exp-other", "/proj/a", "b.go")
	require.NoError(t, s.SaveExplanation(ctx, older))
	require.NoError(t, s.SaveExplanation(ctx, newer))
	require.NoError(t, s.SaveExplanation(ctx, other))

	got, err := s.GetExplanationsByFile(ctx, "/proj/a", "a.go")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "exp-new", got[0].ID)
	assert.Equal(t, "exp-old", got[1].ID)
}

// TE04: feedback bumps the right counter and errors on a missing id.
func TestSQLiteStore_RecordExplanationFeedback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveExplanation(ctx, sampleExplanation("exp-1", "/proj/a", "a.go")))

	require.NoError(t, s.RecordExplanationFeedback(ctx, "/proj/a", "exp-1", true))
	require.NoError(t, s.RecordExplanationFeedback(ctx, "/proj/a", "exp-1", true))
	require.NoError(t, s.RecordExplanationFeedback(ctx, "/proj/a", "exp-1", false))

	got, err := s.GetExplanation(ctx, "/proj/a", "exp-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.HelpfulCount)
	assert.Equal(t, 1, got.UnhelpfulCount)

	err = s.RecordExplanationFeedback(ctx, "/proj/a", "missing", true)
	assert.Error(t, err)
}

// TE05: prompt links resolve by explanation and by memory.
func TestSQLiteStore_PromptLinks_LookupBothDirections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	l := &CodePromptLink{
		ID:            "link-1",
		ProjectPath:   "/proj/a",
		ExplanationID: "exp-1",
		MemoryID:      "mem-1",
		Prompt:        "how does auth work",
		CreatedAt:     now,
	}
	require.NoError(t, s.SavePromptLink(ctx, l))

	byExp, err := s.GetPromptLinksByExplanation(ctx, "/proj/a", "exp-1")
	require.NoError(t, err)
	require.Len(t, byExp, 1)
	assert.Equal(t, "how does auth work", byExp[0].Prompt)

	byMem, err := s.GetPromptLinksByMemory(ctx, "/proj/a", "mem-1")
	require.NoError(t, err)
	require.Len(t, byMem, 1)
	assert.Equal(t, "exp-1", byMem[0].ExplanationID)

	none, err := s.GetPromptLinksByMemory(ctx, "/proj/b", "mem-1")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// TE06: access patterns accumulate per (project, file) and rank by count.
func TestSQLiteStore_TouchCodeAccess_Accumulates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.TouchCodeAccess(ctx, "/proj/a", "hot.go", now))
	require.NoError(t, s.TouchCodeAccess(ctx, "/proj/a", "hot.go", now.Add(time.Minute)))
	require.NoError(t, s.TouchCodeAccess(ctx, "/proj/a", "cold.go", now))

	patterns, err := s.ListCodeAccessPatterns(ctx, "/proj/a", 10)
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.Equal(t, "hot.go", patterns[0].FilePath)
	assert.Equal(t, 2, patterns[0].AccessCount)
	assert.Equal(t, 1, patterns[1].AccessCount)
}
