package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/specmem/specmem/internal/async"
	"github.com/specmem/specmem/internal/daemon"
	memerrors "github.com/specmem/specmem/internal/errors"
	"github.com/specmem/specmem/internal/logging"
	"github.com/specmem/specmem/internal/mcp"
	"github.com/specmem/specmem/internal/queue"
	"github.com/specmem/specmem/internal/telemetry"
	"github.com/specmem/specmem/internal/watcher"
)

// DefaultSyncCheckInterval is how often the periodic drift check runs
// while serving, overridable via SPECMEM_SYNC_CHECK_INTERVAL_MS.
const DefaultSyncCheckInterval = time.Hour

func newServeCmd() *cobra.Command {
	var noWatch bool
	var noScan bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		Long: `Starts the memory engine for the current project and serves the MCP
tool surface over stdio. The startup scan and the file watcher start
automatically (disable with --no-scan / --no-watch) and a periodic sync
check keeps the drift status fresh.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), noWatch, noScan)
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not start the file watcher")
	cmd.Flags().BoolVar(&noScan, "no-scan", false, "Skip the startup reconciliation scan")
	return cmd
}

func runServe(ctx context.Context, noWatch, noScan bool) error {
	// Stdio carries JSON-RPC; all logging must stay on stderr.
	cleanup, err := logging.SetupMCPMode()
	if err == nil {
		defer cleanup()
	}

	projectPath, err := resolveProjectPath()
	if err != nil {
		return err
	}

	st, err := buildStack(projectPath)
	if err != nil {
		return err
	}
	defer st.Close()

	// One server per project: a stale pidfile from a crashed process is
	// overwritten, a live one refuses the second start.
	pidFile := daemon.NewPIDFile(filepath.Join(st.DataDir, "specmemd.pid"))
	if pidFile.IsRunning() {
		return fmt.Errorf("another specmemd is already serving %s", projectPath)
	}
	if err := pidFile.Write(); err != nil {
		slog.Warn("could not write pidfile", slog.String("error", err.Error()))
	} else {
		defer func() { _ = pidFile.Remove() }()
	}

	srv, err := mcp.NewServer(st.Metadata, st.Embedder, st.Config, projectPath)
	if err != nil {
		return err
	}
	srv.SetMemoryStack(st.Memories, st.Searcher, st.Retrieval, st.Graph)
	srv.SetSyncChecker(st.Checker)
	srv.SetExplainService(st.Explains)

	if metricsStore, err := telemetry.NewSQLiteMetricsStore(st.Metadata.DB()); err == nil {
		srv.SetMetrics(telemetry.NewQueryMetrics(metricsStore))
	} else {
		slog.Warn("query telemetry disabled", slog.String("error", err.Error()))
	}

	watchCtl := mcp.NewWatchController(projectPath, watcher.DefaultOptions(), queue.Config{}, st.Handler)
	srv.SetWatchController(watchCtl)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !noScan {
		indexer := startStartupScan(ctx, st)
		srv.SetIndexProgress(indexer.Progress())
		defer indexer.Stop()
	}

	if !noWatch {
		if err := watchCtl.Start(ctx); err != nil {
			slog.Warn("file watcher failed to start, continuing without live sync",
				slog.String("error", err.Error()))
		} else {
			defer func() { _ = watchCtl.Stop() }()
		}
	}

	go runPeriodicSyncCheck(ctx, st)

	return srv.Serve(ctx, "stdio", "")
}

// startStartupScan reconciles the store against the current disk state in
// the background ("scan existing files" is an explicit startup operation,
// not part of the watcher's event flood), reporting progress through the
// index_status tool.
func startStartupScan(ctx context.Context, st *stack) *async.BackgroundIndexer {
	indexer := async.NewBackgroundIndexer(async.IndexerConfig{DataDir: st.DataDir})
	indexer.IndexFunc = func(ctx context.Context, progress *async.IndexProgress) error {
		progress.SetStage(async.StageScanning, 0)
		report, err := st.Checker.DriftReport(ctx, st.ProjectPath)
		if err != nil {
			return err
		}

		progress.SetStage(async.StageIndexing, report.TotalDrift())
		result, err := st.Checker.Resync(ctx, st.ProjectPath, report)
		if err != nil {
			return err
		}
		progress.UpdateFiles(result.Added + result.Updated + result.MarkedDeleted)

		if _, err := st.Checker.CheckAndWriteStatus(ctx, st.ProjectPath); err != nil {
			slog.Warn("startup sync status write failed", slog.String("error", err.Error()))
		}
		return nil
	}
	indexer.Start(ctx)
	return indexer
}

// runPeriodicSyncCheck runs a drift check on the configured cadence,
// persisting the syncScore snapshot each time, then decays stale
// associative links. Failures are logged and retried on the next tick;
// the loop never crashes the server.
func runPeriodicSyncCheck(ctx context.Context, st *stack) {
	ticker := time.NewTicker(syncCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := memerrors.Retry(ctx, memerrors.DefaultRetryConfig(), func() error {
				_, err := st.Checker.CheckAndWriteStatus(ctx, st.ProjectPath)
				return err
			})
			if err != nil {
				slog.Warn("periodic sync check failed", slog.String("error", err.Error()))
			}
			decayStaleLinks(ctx, st)
		}
	}
}

// decayStaleLinks walks the project's memories and applies per-link decay
// to associations that haven't been reinforced within the default window,
// pruning anything that falls below the strength floor.
func decayStaleLinks(ctx context.Context, st *stack) {
	var ids []string
	cursor := ""
	for {
		page, next, err := st.Metadata.ListMemories(ctx, st.ProjectPath, cursor, 5000)
		if err != nil {
			slog.Warn("link decay skipped: listing memories failed", slog.String("error", err.Error()))
			return
		}
		for _, m := range page {
			ids = append(ids, m.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if len(ids) == 0 {
		return
	}
	if pruned, err := st.Graph.DecayLinks(ctx, st.ProjectPath, ids, 0, time.Now().UTC()); err != nil {
		slog.Warn("link decay failed", slog.String("error", err.Error()))
	} else if pruned > 0 {
		slog.Info("pruned weak associative links", slog.Int("count", pruned))
	}
}

func syncCheckInterval() time.Duration {
	if v := os.Getenv("SPECMEM_SYNC_CHECK_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return DefaultSyncCheckInterval
}
