package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specmem/specmem/internal/store"
)

func newTestGraph(t *testing.T) (*Graph, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s), s
}

func saveMemory(t *testing.T, s *store.SQLiteStore, id string) {
	t.Helper()
	m := &store.Memory{
		ID: id, ProjectPath: "/proj/a", Content: "memory " + id,
		MemoryType: store.MemoryTypeSemantic, Importance: store.ImportanceMedium,
	}
	require.NoError(t, s.SaveMemory(context.Background(), m))
}

// TG01: a fresh co-activation creates a link at the default strength.
func TestCoActivate_NewPair_StartsAtDefaultStrength(t *testing.T) {
	g, s := newTestGraph(t)
	ctx := context.Background()
	saveMemory(t, s, "a")
	saveMemory(t, s, "b")

	require.NoError(t, g.CoActivate(ctx, []string{"a", "b"}, "", time.Now()))

	links, err := s.GetLinks(ctx, "a")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, DefaultCoActivationStrength, links[0].Strength)
	assert.Equal(t, 1, links[0].CoActivationCount)
	assert.Equal(t, store.LinkTypeContextual, links[0].LinkType)
}

// TG02: repeated co-activation bumps strength and count without duplicating
// the link in reverse order.
func TestCoActivate_Repeated_BumpsStrengthAndCount(t *testing.T) {
	g, s := newTestGraph(t)
	ctx := context.Background()
	saveMemory(t, s, "a")
	saveMemory(t, s, "b")

	require.NoError(t, g.CoActivate(ctx, []string{"a", "b"}, "", time.Now()))
	require.NoError(t, g.CoActivate(ctx, []string{"b", "a"}, "", time.Now()))

	links, err := s.GetLinks(ctx, "a")
	require.NoError(t, err)
	require.Len(t, links, 1, "reversed pair must update the same link, not create a second one")
	assert.InDelta(t, DefaultCoActivationStrength+CoActivationBump, links[0].Strength, 1e-9)
	assert.Equal(t, 2, links[0].CoActivationCount)
}

// TG03 (property: associative anti-inflation): strength never exceeds 1.0
// no matter how many times a pair co-activates.
func TestCoActivate_NeverExceedsMaxStrength(t *testing.T) {
	g, s := newTestGraph(t)
	ctx := context.Background()
	saveMemory(t, s, "a")
	saveMemory(t, s, "b")

	for i := 0; i < 50; i++ {
		require.NoError(t, g.CoActivate(ctx, []string{"a", "b"}, "", time.Now()))
	}

	links, err := s.GetLinks(ctx, "a")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.LessOrEqual(t, links[0].Strength, 1.0)
}

// TG04: CoActivate on three memories links every pair, not just one.
func TestCoActivate_MultipleIDs_LinksEveryPair(t *testing.T) {
	g, s := newTestGraph(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		saveMemory(t, s, id)
	}

	require.NoError(t, g.CoActivate(ctx, []string{"a", "b", "c"}, "", time.Now()))

	linksA, _ := s.GetLinks(ctx, "a")
	linksB, _ := s.GetLinks(ctx, "b")
	linksC, _ := s.GetLinks(ctx, "c")
	assert.Len(t, linksA, 2)
	assert.Len(t, linksB, 2)
	assert.Len(t, linksC, 2)
}

// TG05: spreading activation multiplies strength along a path and respects
// the minStrength cutoff.
func TestGetAssociated_MultipliesStrengthAlongPath(t *testing.T) {
	g, s := newTestGraph(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		saveMemory(t, s, id)
	}

	now := time.Now()
	require.NoError(t, s.SaveLink(ctx, &store.AssociativeLink{
		SourceID: "a", TargetID: "b", LinkType: store.LinkTypeSemantic,
		Strength: 0.8, LastCoActivation: now,
	}))
	require.NoError(t, s.SaveLink(ctx, &store.AssociativeLink{
		SourceID: "b", TargetID: "c", LinkType: store.LinkTypeSemantic,
		Strength: 0.8, LastCoActivation: now,
	}))

	results, err := g.GetAssociated(ctx, "a", 2, 0.1, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]float64{}
	for _, r := range results {
		byID[r.MemoryID] = r.Strength
	}
	assert.InDelta(t, 0.8, byID["b"], 1e-9)
	assert.InDelta(t, 0.64, byID["c"], 1e-9)
}

// TG06: spreading activation never revisits a node on its own path (cycle
// safety), even when the graph loops back on itself.
func TestGetAssociated_AvoidsCycles(t *testing.T) {
	g, s := newTestGraph(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		saveMemory(t, s, id)
	}

	require.NoError(t, s.SaveLink(ctx, &store.AssociativeLink{
		SourceID: "a", TargetID: "b", LinkType: store.LinkTypeSemantic,
		Strength: 0.9, LastCoActivation: time.Now(),
	}))

	results, err := g.GetAssociated(ctx, "a", 5, 0.01, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].MemoryID)
}

// TG07: DecayLinks shrinks stale links and prunes anything that falls below
// the minimum strength.
func TestDecayLinks_PrunesBelowMinStrength(t *testing.T) {
	g, s := newTestGraph(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		saveMemory(t, s, id)
	}

	old := time.Now().Add(-60 * 24 * time.Hour)
	require.NoError(t, s.SaveLink(ctx, &store.AssociativeLink{
		SourceID: "a", TargetID: "b", LinkType: store.LinkTypeSemantic,
		Strength: 0.3, DecayRate: 0.9, LastCoActivation: old,
	}))
	require.NoError(t, s.SaveLink(ctx, &store.AssociativeLink{
		SourceID: "c", TargetID: "d", LinkType: store.LinkTypeSemantic,
		Strength: 0.9, DecayRate: 0.1, LastCoActivation: time.Now(),
	}))

	deleted, err := g.DecayLinks(ctx, "/proj/a", []string{"a", "b", "c", "d"}, 30*24*time.Hour, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	remaining, err := s.GetLinks(ctx, "c")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.InDelta(t, 0.9, remaining[0].Strength, 1e-9)
}
