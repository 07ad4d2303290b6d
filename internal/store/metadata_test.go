package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleMemory(id, projectPath string) *Memory {
	now := time.Now().UTC().Truncate(time.Second)
	return &Memory{
		ID:          id,
		ProjectPath: projectPath,
		Content:     "remember to check the retry backoff",
		MemoryType:  MemoryTypeEpisodic,
		Importance:  ImportanceMedium,
		Tags:        []string{"debugging", "retry"},
		Metadata:    map[string]string{"source": "conversation"},
		Embedding:   []float32{0.1, 0.2, 0.3},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TM01: round-trip save/get preserves every field including embedding bytes.
func TestSQLiteStore_SaveAndGetMemory_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := sampleMemory("mem-1", "/proj/a")
	require.NoError(t, s.SaveMemory(ctx, m))

	got, err := s.GetMemory(ctx, "/proj/a", "mem-1")
	require.NoError(t, err)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, m.MemoryType, got.MemoryType)
	assert.Equal(t, m.Importance, got.Importance)
	assert.ElementsMatch(t, m.Tags, got.Tags)
	assert.Equal(t, m.Metadata, got.Metadata)
	assert.InDeltaSlice(t, m.Embedding, got.Embedding, 0.0001)
}

// TM02: a memory scoped to one project is invisible under another project's path.
func TestSQLiteStore_GetMemory_ScopesToProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMemory(ctx, sampleMemory("mem-1", "/proj/a")))

	_, err := s.GetMemory(ctx, "/proj/b", "mem-1")
	assert.Error(t, err)
}

// TM03: saving twice with the same id updates in place rather than duplicating.
func TestSQLiteStore_SaveMemory_UpsertsOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := sampleMemory("mem-1", "/proj/a")
	require.NoError(t, s.SaveMemory(ctx, m))

	m.Content = "updated content"
	m.Importance = ImportanceHigh
	require.NoError(t, s.SaveMemory(ctx, m))

	got, err := s.GetMemory(ctx, "/proj/a", "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "updated content", got.Content)
	assert.Equal(t, ImportanceHigh, got.Importance)
}

// TM04: soft delete sets ExpiresAt without removing the row.
func TestSQLiteStore_DeleteMemory_SoftDeleteSetsExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMemory(ctx, sampleMemory("mem-1", "/proj/a")))
	require.NoError(t, s.DeleteMemory(ctx, "/proj/a", "mem-1", false))

	got, err := s.GetMemory(ctx, "/proj/a", "mem-1")
	require.NoError(t, err)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.IsExpired(time.Now().Add(time.Second)))
}

// TM05: hard delete removes the row and cascades its dependent records.
func TestSQLiteStore_DeleteMemory_HardDeleteRemovesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMemory(ctx, sampleMemory("mem-1", "/proj/a")))
	require.NoError(t, s.SaveStrength(ctx, &MemoryStrength{
		MemoryID: "mem-1", Stability: 10, Retrievability: 0.9, IntervalDays: 1, EaseFactor: 2.0,
	}))

	require.NoError(t, s.DeleteMemory(ctx, "/proj/a", "mem-1", true))

	_, err := s.GetMemory(ctx, "/proj/a", "mem-1")
	assert.Error(t, err)
	_, err = s.GetStrength(ctx, "mem-1")
	assert.Error(t, err)
}

// TM06: deleting a memory that was never saved is a NotFound, not a silent no-op.
func TestSQLiteStore_DeleteMemory_NotFoundWhenMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.DeleteMemory(ctx, "/proj/a", "ghost", true)
	assert.Error(t, err)
}

// TM07: ListMemories orders by importance then recency, and paginates via cursor.
func TestSQLiteStore_ListMemories_OrdersByImportanceThenRecency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, imp := range []Importance{ImportanceLow, ImportanceCritical, ImportanceMedium} {
		m := sampleMemory(string(rune('a'+i)), "/proj/a")
		m.Importance = imp
		m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveMemory(ctx, m))
	}

	list, cursor, err := s.ListMemories(ctx, "/proj/a", "", 10)
	require.NoError(t, err)
	assert.Empty(t, cursor)
	require.Len(t, list, 3)
	assert.Equal(t, ImportanceCritical, list[0].Importance)
}

// TM08: ListMemories returns a usable cursor when more rows remain.
func TestSQLiteStore_ListMemories_PaginatesWithCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveMemory(ctx, sampleMemory(string(rune('a'+i)), "/proj/a")))
	}

	page1, cursor1, err := s.ListMemories(ctx, "/proj/a", "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, cursor1)

	page2, _, err := s.ListMemories(ctx, "/proj/a", cursor1, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.NotEqual(t, page1[0].ID, page2[0].ID)
}

// TM09: an invalid cursor is rejected rather than silently reset to offset 0.
func TestSQLiteStore_ListMemories_RejectsInvalidCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.ListMemories(ctx, "/proj/a", "not-a-valid-cursor!!", 10)
	assert.Error(t, err)
}

// TM10: a negative-offset cursor is rejected with a "non-negative" message.
func TestSQLiteStore_ListMemories_RejectsNegativeOffsetCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cursor := encodeOffsetCursor(-1)
	_, _, err := s.ListMemories(ctx, "/proj/a", cursor, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-negative")
}

// TM11: TouchMemory bumps AccessCount and LastAccessedAt without touching content.
func TestSQLiteStore_TouchMemory_BumpsAccessCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMemory(ctx, sampleMemory("mem-1", "/proj/a")))

	when := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.TouchMemory(ctx, "/proj/a", "mem-1", when))

	got, err := s.GetMemory(ctx, "/proj/a", "mem-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	assert.WithinDuration(t, when, got.LastAccessedAt, time.Second)
}

// TM12: GetMemories fetches exactly the requested subset, scoped to project.
func TestSQLiteStore_GetMemories_ReturnsRequestedSubset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMemory(ctx, sampleMemory("a", "/proj/a")))
	require.NoError(t, s.SaveMemory(ctx, sampleMemory("b", "/proj/a")))
	require.NoError(t, s.SaveMemory(ctx, sampleMemory("c", "/proj/a")))

	got, err := s.GetMemories(ctx, "/proj/a", []string{"a", "c"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

// --- CodebaseFile ---

func sampleFile(projectPath, path string) *CodebaseFile {
	return &CodebaseFile{
		ID:          "file-" + path,
		ProjectPath: projectPath,
		FilePath:    path,
		Content:     "package main",
		ContentHash: "deadbeef",
		Language:    "go",
		LastIndexed: time.Now().UTC().Truncate(time.Second),
	}
}

// TF01: SaveFiles upserts by (project_path, file_path), not by id.
func TestSQLiteStore_SaveFiles_UpsertsByProjectAndPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := sampleFile("/proj/a", "main.go")
	require.NoError(t, s.SaveFiles(ctx, []*CodebaseFile{f}))

	f2 := sampleFile("/proj/a", "main.go")
	f2.ContentHash = "newhash"
	require.NoError(t, s.SaveFiles(ctx, []*CodebaseFile{f2}))

	got, err := s.GetFileByPath(ctx, "/proj/a", "main.go")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "newhash", got.ContentHash)
}

// TF02: GetFileByPath returns nil, not an error, when the file isn't indexed.
func TestSQLiteStore_GetFileByPath_ReturnsNilWhenMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetFileByPath(ctx, "/proj/a", "missing.go")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TF03: GetFilePathsByProject returns the path->hash map used for drift diffing.
func TestSQLiteStore_GetFilePathsByProject_ReturnsHashMap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFiles(ctx, []*CodebaseFile{
		sampleFile("/proj/a", "a.go"),
		sampleFile("/proj/a", "b.go"),
	}))

	paths, err := s.GetFilePathsByProject(ctx, "/proj/a")
	require.NoError(t, err)
	assert.Len(t, paths, 2)
	assert.Equal(t, "deadbeef", paths["a.go"])
}

// TF04: DeleteFilesByProject clears every file for that project only.
func TestSQLiteStore_DeleteFilesByProject_ScopesToProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFiles(ctx, []*CodebaseFile{
		sampleFile("/proj/a", "a.go"),
		sampleFile("/proj/b", "b.go"),
	}))

	require.NoError(t, s.DeleteFilesByProject(ctx, "/proj/a"))

	paths, err := s.GetFilePathsByProject(ctx, "/proj/a")
	require.NoError(t, err)
	assert.Empty(t, paths)

	paths, err = s.GetFilePathsByProject(ctx, "/proj/b")
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}

// --- MemoryStrength ---

// TS01: ListDueForReview orders by ascending retrievability (weakest first).
func TestSQLiteStore_ListDueForReview_OrdersByRetrievabilityAscending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMemory(ctx, sampleMemory("a", "/proj/a")))
	require.NoError(t, s.SaveMemory(ctx, sampleMemory("b", "/proj/a")))
	require.NoError(t, s.SaveStrength(ctx, &MemoryStrength{MemoryID: "a", Stability: 10, Retrievability: 0.8, IntervalDays: 1, EaseFactor: 2.0}))
	require.NoError(t, s.SaveStrength(ctx, &MemoryStrength{MemoryID: "b", Stability: 10, Retrievability: 0.2, IntervalDays: 1, EaseFactor: 2.0}))

	due, err := s.ListDueForReview(ctx, "/proj/a", time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "b", due[0].MemoryID)
}

// --- AssociativeLink ---

// TL01: GetLinks returns edges where the memory is either endpoint.
func TestSQLiteStore_GetLinks_ReturnsBothDirections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMemory(ctx, sampleMemory("a", "/proj/a")))
	require.NoError(t, s.SaveMemory(ctx, sampleMemory("b", "/proj/a")))
	require.NoError(t, s.SaveLink(ctx, &AssociativeLink{SourceID: "a", TargetID: "b", LinkType: LinkTypeSemantic, Strength: 0.5, DecayRate: 0.05}))

	links, err := s.GetLinks(ctx, "b")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "a", links[0].SourceID)
}

// TL02: DeleteWeakLinks only prunes links whose source belongs to the given project.
func TestSQLiteStore_DeleteWeakLinks_ScopesToProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMemory(ctx, sampleMemory("a", "/proj/a")))
	require.NoError(t, s.SaveMemory(ctx, sampleMemory("c", "/proj/b")))
	require.NoError(t, s.SaveLink(ctx, &AssociativeLink{SourceID: "a", TargetID: "x", Strength: 0.01}))
	require.NoError(t, s.SaveLink(ctx, &AssociativeLink{SourceID: "c", TargetID: "y", Strength: 0.01}))

	n, err := s.DeleteWeakLinks(ctx, "/proj/a", 0.05)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	remaining, err := s.GetLinks(ctx, "c")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

// --- MemoryChain ---

// TC01: chain round-trips its ordered memory id list.
func TestSQLiteStore_SaveAndGetChain_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &MemoryChain{
		ID: "chain-1", ProjectPath: "/proj/a", Name: "debug session",
		MemoryIDs: []string{"a", "b", "c"}, ChainType: ChainTypeDebugging,
		Importance: ImportanceHigh, CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.SaveChain(ctx, c))

	got, err := s.GetChain(ctx, "/proj/a", "chain-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got.MemoryIDs)
	assert.Equal(t, ChainTypeDebugging, got.ChainType)
}

// TC02: ListChains scopes to one project and orders newest first.
func TestSQLiteStore_ListChains_OrdersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := time.Now().UTC().Add(-time.Hour)
	newer := time.Now().UTC()
	require.NoError(t, s.SaveChain(ctx, &MemoryChain{ID: "c1", ProjectPath: "/proj/a", Name: "older", ChainType: ChainTypeReasoning, Importance: ImportanceLow, CreatedAt: older}))
	require.NoError(t, s.SaveChain(ctx, &MemoryChain{ID: "c2", ProjectPath: "/proj/a", Name: "newer", ChainType: ChainTypeReasoning, Importance: ImportanceLow, CreatedAt: newer}))

	chains, err := s.ListChains(ctx, "/proj/a")
	require.NoError(t, err)
	require.Len(t, chains, 2)
	assert.Equal(t, "c2", chains[0].ID)
}

// --- Quadrant ---

// TQ01: quadrant round-trips its centroid and child ids.
func TestSQLiteStore_SaveAndGetQuadrant_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := (&Quadrant{
		ID: "root", Name: "root", Level: 0,
		Centroid: []float32{0.1, 0.2}, Keywords: []string{"auth"},
		Policy: QuadrantPolicy{MaxMemories: 50, MinMemories: 5, MaxRadius: 0.6},
	}).WithProject("/proj/a")
	require.NoError(t, s.SaveQuadrant(ctx, q))

	got, err := s.GetQuadrant(ctx, "/proj/a", "root")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.1, 0.2}, got.Centroid, 0.0001)
	assert.True(t, got.IsLeaf())
}

// TQ02: GetRootQuadrant finds the level-0 node for a project.
func TestSQLiteStore_GetRootQuadrant_FindsLevelZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := (&Quadrant{ID: "root", Level: 0}).WithProject("/proj/a")
	child := (&Quadrant{ID: "child", Level: 1, ParentID: "root"}).WithProject("/proj/a")
	require.NoError(t, s.SaveQuadrant(ctx, root))
	require.NoError(t, s.SaveQuadrant(ctx, child))

	got, err := s.GetRootQuadrant(ctx, "/proj/a")
	require.NoError(t, err)
	assert.Equal(t, "root", got.ID)
}

// TQ03: assignments round-trip and list by quadrant.
func TestSQLiteStore_SaveAndListAssignments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAssignment(ctx, &QuadrantAssignment{MemoryID: "a", QuadrantID: "leaf-1", DistanceToCentroid: 0.2, AssignedAt: time.Now()}))
	require.NoError(t, s.SaveAssignment(ctx, &QuadrantAssignment{MemoryID: "b", QuadrantID: "leaf-1", DistanceToCentroid: 0.4, AssignedAt: time.Now()}))

	list, err := s.ListAssignments(ctx, "leaf-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	got, err := s.GetAssignment(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "leaf-1", got.QuadrantID)
}

// --- State ---

// TST01: unset state keys read back as empty string, not an error.
func TestSQLiteStore_GetState_ReturnsEmptyWhenUnset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetState(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, v)
}

// TST02: SetState/GetState round trip, and a second Set overwrites.
func TestSQLiteStore_SetAndGetState_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetState(ctx, StateKeyEmbeddingModel, "all-MiniLM-L6-v2"))
	v, err := s.GetState(ctx, StateKeyEmbeddingModel)
	require.NoError(t, err)
	assert.Equal(t, "all-MiniLM-L6-v2", v)

	require.NoError(t, s.SetState(ctx, StateKeyEmbeddingModel, "bge-small-en"))
	v, err = s.GetState(ctx, StateKeyEmbeddingModel)
	require.NoError(t, err)
	assert.Equal(t, "bge-small-en", v)
}

// --- Adapter dimension bookkeeping ---

// TD01: GetTableDimension returns 0 (undiscovered), not an error, before any Set.
func TestAdapter_GetTableDimension_ZeroWhenUnset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dim, err := s.Adapter().GetTableDimension(ctx, "memories")
	require.NoError(t, err)
	assert.Equal(t, 0, dim)
}

// TD02: SetTableDimension/GetTableDimension round trip per table.
func TestAdapter_SetTableDimension_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Adapter().SetTableDimension(ctx, "memories", 384))
	dim, err := s.Adapter().GetTableDimension(ctx, "memories")
	require.NoError(t, err)
	assert.Equal(t, 384, dim)
}
