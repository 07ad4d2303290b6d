package synccheck

import (
	"context"
	"log/slog"

	"github.com/specmem/specmem/internal/ingest"
	"github.com/specmem/specmem/internal/scanner"
	"github.com/specmem/specmem/internal/store"
)

// Checker is the Sync Checker (C13): it produces drift reports comparing a
// project's disk tree against the indexed store, and resyncs them through
// the Change Handler.
type Checker struct {
	scanner  *scanner.Scanner
	metadata store.MetadataStore
	handler  *ingest.Handler
	rootDir  string
	cfg      Config
	log      *slog.Logger
}

// New builds a Checker rooted at rootDir, applying resync operations
// through handler (typically constructed with a larger MaxFileSizeBytes
// than the live file-watcher path uses).
func New(sc *scanner.Scanner, metadata store.MetadataStore, handler *ingest.Handler, rootDir string, cfg Config) *Checker {
	return &Checker{
		scanner:  sc,
		metadata: metadata,
		handler:  handler,
		rootDir:  rootDir,
		cfg:      cfg.withDefaults(),
		log:      slog.Default(),
	}
}

// DriftReport scans disk and store (both paginated) and
// produces the four-bucket comparison plus syncScore/driftPercentage.
func (c *Checker) DriftReport(ctx context.Context, projectPath string) (*DriftReport, error) {
	disk, diskTruncated, err := scanDisk(ctx, c.scanner, c.rootDir, c.cfg)
	if err != nil {
		return nil, err
	}
	stored, storeTruncated, err := scanStore(ctx, c.metadata, projectPath, c.cfg)
	if err != nil {
		return nil, err
	}

	report := buildReport(projectPath, disk, stored, diskTruncated || storeTruncated)
	if report.Truncated {
		c.log.Warn("sync check hit a scan cap before covering the full tree",
			slog.String("project", projectPath), slog.Int("total_files", report.TotalFiles))
	}
	return report, nil
}

// CheckAndWriteStatus runs a DriftReport and persists its syncScore to the
// status file, returning the report.
func (c *Checker) CheckAndWriteStatus(ctx context.Context, projectPath string) (*DriftReport, error) {
	report, err := c.DriftReport(ctx, projectPath)
	if err != nil {
		return nil, err
	}
	if err := c.WriteStatus(report.SyncScore); err != nil {
		c.log.Warn("failed to write sync status", slog.String("error", err.Error()))
	}
	return report, nil
}
