package synccheck

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config tunes the disk scan, store scan, and resync passes. Zero values
// fall back to the package defaults; NewConfigFromEnv overlays the
// SPECMEM_* environment variables on top of those
// defaults.
type Config struct {
	// Disk scan.
	ScanBatchSize  int
	ScanMaxFiles   int
	ScanMaxHeapMB  int64
	MaxFileSizeBytes int64

	// IgnorePatterns are extra globs excluded from the disk scan on top of
	// the project's gitignore.
	IgnorePatterns []string

	// Store scan.
	SyncMemoryPageSize int
	SyncMemoryLimit    int

	// Resync.
	ResyncConcurrency int
	ResyncFileTimeout time.Duration
	ResyncRetryDelay  time.Duration
	ResyncDeadline    time.Duration

	// StatusPath is where WriteStatus persists the JSON status document.
	// Empty disables status persistence.
	StatusPath string
}

// Defaults.
const (
	DefaultScanBatchSize      = 2000
	DefaultScanMaxFiles       = 50000
	DefaultScanMaxHeapMB      = 2048
	DefaultMaxFileSizeBytes   = 1024 * 1024 // 1 MiB for sync (the live tracker caps at 500 KiB)
	DefaultSyncMemoryPageSize = 5000
	DefaultSyncMemoryLimit    = 50000
	DefaultResyncConcurrency  = 25
	DefaultResyncFileTimeout  = 120 * time.Second
	DefaultResyncRetryDelay   = 2 * time.Second
	DefaultResyncDeadline     = 10 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.ScanBatchSize <= 0 {
		c.ScanBatchSize = DefaultScanBatchSize
	}
	if c.ScanMaxFiles <= 0 {
		c.ScanMaxFiles = DefaultScanMaxFiles
	}
	if c.ScanMaxHeapMB <= 0 {
		c.ScanMaxHeapMB = DefaultScanMaxHeapMB
	}
	if c.MaxFileSizeBytes <= 0 {
		c.MaxFileSizeBytes = DefaultMaxFileSizeBytes
	}
	if c.SyncMemoryPageSize <= 0 {
		c.SyncMemoryPageSize = DefaultSyncMemoryPageSize
	}
	if c.SyncMemoryLimit <= 0 {
		c.SyncMemoryLimit = DefaultSyncMemoryLimit
	}
	if c.ResyncConcurrency <= 0 {
		c.ResyncConcurrency = DefaultResyncConcurrency
	}
	if c.ResyncFileTimeout <= 0 {
		c.ResyncFileTimeout = DefaultResyncFileTimeout
	}
	if c.ResyncRetryDelay <= 0 {
		c.ResyncRetryDelay = DefaultResyncRetryDelay
	}
	if c.ResyncDeadline <= 0 {
		c.ResyncDeadline = DefaultResyncDeadline
	}
	return c
}

// NewConfigFromEnv returns a Config seeded from defaults and overlaid with
// any of the SPECMEM_SCAN_* / SPECMEM_SYNC_* / SPECMEM_RESYNC_* environment
// variables that are set.
func NewConfigFromEnv() Config {
	c := Config{}.withDefaults()

	if v := envInt("SPECMEM_SCAN_BATCH_SIZE"); v > 0 {
		c.ScanBatchSize = v
	}
	if v := envInt("SPECMEM_SCAN_MAX_FILES"); v > 0 {
		c.ScanMaxFiles = v
	}
	if v := envInt64("SPECMEM_SCAN_MAX_HEAP_MB"); v > 0 {
		c.ScanMaxHeapMB = v
	}
	if v := envInt("SPECMEM_SYNC_MEMORY_PAGE_SIZE"); v > 0 {
		c.SyncMemoryPageSize = v
	}
	if v := envInt("SPECMEM_SYNC_MEMORY_LIMIT"); v > 0 {
		c.SyncMemoryLimit = v
	}
	if v := envMillis("SPECMEM_RESYNC_TIMEOUT_MS"); v > 0 {
		c.ResyncDeadline = v
	}
	if v := os.Getenv("SPECMEM_SCAN_IGNORE_PATTERNS"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.IgnorePatterns = append(c.IgnorePatterns, p)
			}
		}
	}
	return c
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func envInt64(key string) int64 {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func envMillis(key string) time.Duration {
	n := envInt(key)
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Millisecond
}
