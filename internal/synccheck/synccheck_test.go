package synccheck

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specmem/specmem/internal/dimension"
	"github.com/specmem/specmem/internal/embed"
	"github.com/specmem/specmem/internal/ingest"
	"github.com/specmem/specmem/internal/scanner"
	"github.com/specmem/specmem/internal/store"
)

// newTestChecker builds a Checker over a temp project tree and an
// in-memory store, returning both plus the project dir for fixture setup.
func newTestChecker(t *testing.T, cfg Config) (*Checker, *store.SQLiteStore, string) {
	t.Helper()

	dir := t.TempDir()

	s, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	embedder := embed.NewStaticEmbedder()
	dims := dimension.NewService(s.Adapter(), embedder)
	handler := ingest.New(s, dims, embedder, dir, ingest.Config{})

	sc, err := scanner.New()
	require.NoError(t, err)

	if cfg.StatusPath == "" {
		cfg.StatusPath = filepath.Join(dir, ".specmem", "sync-status.json")
	}
	return New(sc, s, handler, dir, cfg), s, dir
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// TC01: a cold store reports every on-disk file as missing from the store.
func TestChecker_DriftReport_ColdStore(t *testing.T) {
	c, _, dir := newTestChecker(t, Config{})
	ctx := context.Background()

	writeFile(t, dir, "main.go", "package main\n")
	writeFile(t, dir, "util.go", "package main\n\nfunc helper() {}\n")

	report, err := c.DriftReport(ctx, dir)
	require.NoError(t, err)
	assert.Len(t, report.MissingFromMcp, 2)
	assert.Empty(t, report.MissingFromDisk)
	assert.Empty(t, report.ContentMismatch)
	assert.Equal(t, 0, report.UpToDate)
	assert.Equal(t, 0.0, report.SyncScore)
}

// TC02: after a resync, the immediately following check reports no
// missing-from-store or content-mismatch entries (sync convergence).
func TestChecker_ResyncConverges(t *testing.T) {
	c, _, dir := newTestChecker(t, Config{})
	ctx := context.Background()

	writeFile(t, dir, "a.go", "package a\n")
	writeFile(t, dir, "b.go", "package b\n")

	report, err := c.DriftReport(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, 2, report.TotalDrift())

	result, err := c.Resync(ctx, dir, report)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Added)

	after, err := c.DriftReport(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, after.MissingFromMcp)
	assert.Empty(t, after.ContentMismatch)
	assert.Equal(t, 2, after.UpToDate)
	assert.InDelta(t, 1.0, after.SyncScore, 0.0001)
}

// TC03: editing an indexed file shows up as a content mismatch, and the
// resync update phase clears it.
func TestChecker_DetectsAndResolvesContentMismatch(t *testing.T) {
	c, _, dir := newTestChecker(t, Config{})
	ctx := context.Background()

	writeFile(t, dir, "a.go", "package a\n")
	report, err := c.DriftReport(ctx, dir)
	require.NoError(t, err)
	_, err = c.Resync(ctx, dir, report)
	require.NoError(t, err)

	writeFile(t, dir, "a.go", "package a\n\nfunc changed() {}\n")

	report, err = c.DriftReport(ctx, dir)
	require.NoError(t, err)
	require.Len(t, report.ContentMismatch, 1)

	result, err := c.Resync(ctx, dir, report)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	after, err := c.DriftReport(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, after.ContentMismatch)
}

// TC04: a file deleted from disk is marked deleted by the resync.
func TestChecker_MarksDeletedFiles(t *testing.T) {
	c, s, dir := newTestChecker(t, Config{})
	ctx := context.Background()

	writeFile(t, dir, "gone.go", "package gone\n")
	report, err := c.DriftReport(ctx, dir)
	require.NoError(t, err)
	_, err = c.Resync(ctx, dir, report)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "gone.go")))

	report, err = c.DriftReport(ctx, dir)
	require.NoError(t, err)
	require.Len(t, report.MissingFromDisk, 1)

	result, err := c.Resync(ctx, dir, report)
	require.NoError(t, err)
	assert.Equal(t, 1, result.MarkedDeleted)

	file, err := s.GetFileByPath(ctx, dir, "gone.go")
	require.NoError(t, err)
	assert.Nil(t, file)
}

// TC05: a deadline far too short for the drift volume returns a partial
// result with DeadlineHit and a DeadlineExceeded failure (S4).
func TestChecker_ResyncDeadline_ReturnsPartial(t *testing.T) {
	c, _, dir := newTestChecker(t, Config{ResyncDeadline: time.Nanosecond})
	ctx := context.Background()

	writeFile(t, dir, "a.go", "package a\n")
	report, err := c.DriftReport(ctx, dir)
	require.NoError(t, err)

	result, err := c.Resync(ctx, dir, report)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.DeadlineHit)
	require.NotEmpty(t, result.Failures)
}

// TC06: CheckAndWriteStatus persists a 0..100 syncScore snapshot and
// GetSyncHealth reads it back as healthy when fresh.
func TestChecker_StatusRoundTrip(t *testing.T) {
	c, _, dir := newTestChecker(t, Config{})
	ctx := context.Background()

	writeFile(t, dir, "a.go", "package a\n")
	report, err := c.DriftReport(ctx, dir)
	require.NoError(t, err)
	_, err = c.Resync(ctx, dir, report)
	require.NoError(t, err)

	_, err = c.CheckAndWriteStatus(ctx, dir)
	require.NoError(t, err)

	health, err := c.GetSyncHealth(ctx)
	require.NoError(t, err)
	assert.True(t, health.Healthy)
	assert.Empty(t, health.Issues)
	assert.Less(t, health.MinutesSinceCheck, 1.0)
}

// TC07: with no status file ever written, health reports unhealthy with an
// explanatory issue rather than an error.
func TestChecker_Health_NoCheckYet(t *testing.T) {
	c, _, _ := newTestChecker(t, Config{})

	health, err := c.GetSyncHealth(context.Background())
	require.NoError(t, err)
	assert.False(t, health.Healthy)
	assert.NotEmpty(t, health.Issues)
}

// TC08: extra ignore patterns exclude matching paths from the disk scan.
func TestChecker_DriftReport_HonorsIgnorePatterns(t *testing.T) {
	c, _, dir := newTestChecker(t, Config{IgnorePatterns: []string{"*.log"}})
	ctx := context.Background()

	writeFile(t, dir, "keep.go", "package keep\n")
	writeFile(t, dir, "noise.log", "line\n")

	report, err := c.DriftReport(ctx, dir)
	require.NoError(t, err)
	require.Len(t, report.MissingFromMcp, 1)
	assert.Equal(t, "keep.go", report.MissingFromMcp[0].Path)
}

// TD01: buildReport's bucket math and score denominators.
func TestBuildReport_BucketsAndScores(t *testing.T) {
	disk := map[string]string{
		"same.go":    "h1",
		"changed.go": "h2",
		"new.go":     "h3",
	}
	stored := map[string]string{
		"same.go":    "h1",
		"changed.go": "old",
		"gone.go":    "h4",
	}

	report := buildReport("/proj", disk, stored, false)

	assert.Len(t, report.MissingFromMcp, 1)
	assert.Len(t, report.ContentMismatch, 1)
	assert.Len(t, report.MissingFromDisk, 1)
	assert.Equal(t, 1, report.UpToDate)
	assert.Equal(t, 3, report.TotalFiles)
	assert.InDelta(t, 1.0/3.0, report.SyncScore, 0.0001)
	assert.InDelta(t, 100.0, report.DriftPercentage, 0.0001)
}

// TD02: empty inputs produce a zero-drift report with a safe denominator.
func TestBuildReport_EmptyInputs(t *testing.T) {
	report := buildReport("/proj", map[string]string{}, map[string]string{}, false)

	assert.Equal(t, 0, report.TotalDrift())
	assert.Equal(t, 0.0, report.SyncScore)
	assert.Equal(t, 0.0, report.DriftPercentage)
}
