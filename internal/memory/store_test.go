package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specmem/specmem/internal/dimension"
	"github.com/specmem/specmem/internal/store"
)

func newTestStore(t *testing.T) (*Store, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	dims := dimension.NewService(s.Adapter(), nil)
	return New(s, dims), s
}

// TI01: Insert assigns an id, timestamps, and defaults.
func TestStore_Insert_AssignsIDAndDefaults(t *testing.T) {
	ms, _ := newTestStore(t)

	got, err := ms.Insert(context.Background(), store.Memory{
		ProjectPath: "/proj/a",
		Content:     "remember the login bug",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, store.ImportanceMedium, got.Importance)
	assert.Equal(t, store.MemoryTypeSemantic, got.MemoryType)
}

// TI02: Insert rejects empty content.
func TestStore_Insert_RejectsEmptyContent(t *testing.T) {
	ms, _ := newTestStore(t)

	_, err := ms.Insert(context.Background(), store.Memory{ProjectPath: "/proj/a"})
	assert.Error(t, err)
}

// TI03: Insert rejects an invalid importance value.
func TestStore_Insert_RejectsInvalidImportance(t *testing.T) {
	ms, _ := newTestStore(t)

	_, err := ms.Insert(context.Background(), store.Memory{
		ProjectPath: "/proj/a", Content: "x", Importance: store.Importance("urgent"),
	})
	assert.Error(t, err)
}

// TI04: an embedding of the wrong dimension is projected to the declared one.
func TestStore_Insert_ProjectsMismatchedEmbedding(t *testing.T) {
	ms, adapterStore := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, adapterStore.Adapter().SetTableDimension(ctx, MemoryTable, 8))

	got, err := ms.Insert(ctx, store.Memory{
		ProjectPath: "/proj/a", Content: "x", Embedding: []float32{0.1, 0.2, 0.3},
	})
	require.NoError(t, err)
	assert.Len(t, got.Embedding, 8)
}

// TG01: Get is scoped to project; a wrong project path yields NotFound.
func TestStore_Get_ScopesToProject(t *testing.T) {
	ms, _ := newTestStore(t)
	ctx := context.Background()

	got, err := ms.Insert(ctx, store.Memory{ProjectPath: "/proj/a", Content: "x"})
	require.NoError(t, err)

	_, err = ms.Get(ctx, "/proj/b", got.ID, false)
	assert.Error(t, err)

	found, err := ms.Get(ctx, "/proj/a", got.ID, false)
	require.NoError(t, err)
	assert.Equal(t, got.ID, found.ID)
}

// TG02: a soft-deleted memory is excluded unless includeExpired is set.
func TestStore_Get_ExcludesExpiredByDefault(t *testing.T) {
	ms, _ := newTestStore(t)
	ctx := context.Background()

	got, err := ms.Insert(ctx, store.Memory{ProjectPath: "/proj/a", Content: "x"})
	require.NoError(t, err)
	require.NoError(t, ms.SoftDelete(ctx, "/proj/a", got.ID))

	_, err = ms.Get(ctx, "/proj/a", got.ID, false)
	assert.Error(t, err)

	found, err := ms.Get(ctx, "/proj/a", got.ID, true)
	require.NoError(t, err)
	assert.NotNil(t, found.ExpiresAt)
}

// TU01: Update applies a partial delta and refreshes updated_at.
func TestStore_Update_AppliesDeltaAndRefreshesTimestamp(t *testing.T) {
	ms, _ := newTestStore(t)
	ctx := context.Background()

	got, err := ms.Insert(ctx, store.Memory{ProjectPath: "/proj/a", Content: "x"})
	require.NoError(t, err)

	newContent := "updated"
	updated, err := ms.Update(ctx, "/proj/a", got.ID, UpdateDelta{Content: &newContent})
	require.NoError(t, err)
	assert.Equal(t, "updated", updated.Content)
	assert.True(t, updated.UpdatedAt.After(got.UpdatedAt) || updated.UpdatedAt.Equal(got.UpdatedAt))
}

// TU02: Update rejects setting content to empty.
func TestStore_Update_RejectsEmptyContent(t *testing.T) {
	ms, _ := newTestStore(t)
	ctx := context.Background()

	got, err := ms.Insert(ctx, store.Memory{ProjectPath: "/proj/a", Content: "x"})
	require.NoError(t, err)

	empty := ""
	_, err = ms.Update(ctx, "/proj/a", got.ID, UpdateDelta{Content: &empty})
	assert.Error(t, err)
}

// TD01: SoftDelete sets expires_at without removing the row.
func TestStore_SoftDelete_SetsExpiresAt(t *testing.T) {
	ms, _ := newTestStore(t)
	ctx := context.Background()

	got, err := ms.Insert(ctx, store.Memory{ProjectPath: "/proj/a", Content: "x"})
	require.NoError(t, err)
	require.NoError(t, ms.SoftDelete(ctx, "/proj/a", got.ID))

	found, err := ms.Get(ctx, "/proj/a", got.ID, true)
	require.NoError(t, err)
	require.NotNil(t, found.ExpiresAt)
}

// TF01: FindByProject returns memories ordered importance-first, then by recency.
func TestStore_FindByProject_OrdersByImportanceThenRecency(t *testing.T) {
	ms, _ := newTestStore(t)
	ctx := context.Background()

	_, err := ms.Insert(ctx, store.Memory{ProjectPath: "/proj/a", Content: "low", Importance: store.ImportanceLow})
	require.NoError(t, err)
	_, err = ms.Insert(ctx, store.Memory{ProjectPath: "/proj/a", Content: "critical", Importance: store.ImportanceCritical})
	require.NoError(t, err)

	list, _, err := ms.FindByProject(ctx, "/proj/a", FindFilters{}, "", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, store.ImportanceCritical, list[0].Importance)
}

// TF02: FindByProject filters by memory type after fetching the page.
func TestStore_FindByProject_FiltersByType(t *testing.T) {
	ms, _ := newTestStore(t)
	ctx := context.Background()

	_, err := ms.Insert(ctx, store.Memory{ProjectPath: "/proj/a", Content: "a", MemoryType: store.MemoryTypeEpisodic})
	require.NoError(t, err)
	_, err = ms.Insert(ctx, store.Memory{ProjectPath: "/proj/a", Content: "b", MemoryType: store.MemoryTypeProcedural})
	require.NoError(t, err)

	list, _, err := ms.FindByProject(ctx, "/proj/a", FindFilters{MemoryType: store.MemoryTypeProcedural}, "", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, store.MemoryTypeProcedural, list[0].MemoryType)
}

// TT01: Touch increments access_count and updates last_accessed_at.
func TestStore_Touch_IncrementsAccessCount(t *testing.T) {
	ms, _ := newTestStore(t)
	ctx := context.Background()

	got, err := ms.Insert(ctx, store.Memory{ProjectPath: "/proj/a", Content: "x"})
	require.NoError(t, err)
	require.NoError(t, ms.Touch(ctx, "/proj/a", got.ID))

	found, err := ms.Get(ctx, "/proj/a", got.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, found.AccessCount)
}
