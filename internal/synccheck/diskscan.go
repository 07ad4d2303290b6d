package synccheck

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/specmem/specmem/internal/scanner"
)

// diskEntry is one file found by the streaming disk scan, with its content
// hash already computed (or empty if the file was too large/binary/unreadable).
type diskEntry struct {
	Path string
	Hash string
}

// scanDisk streams the project tree through the shared scanner.Scanner,
// hashing each indexable file. It respects cfg.ScanMaxFiles and yields to
// the scheduler (and nudges the GC) every cfg.ScanBatchSize files, per the
// "cooperative concurrency" design note — a long scan must never starve the
// RPC surface.
//
// truncated reports whether ScanMaxFiles was hit before the tree was
// fully walked.
func scanDisk(ctx context.Context, sc *scanner.Scanner, rootDir string, cfg Config) (map[string]string, bool, error) {
	opts := &scanner.ScanOptions{
		RootDir:          rootDir,
		ExcludePatterns:  cfg.IgnorePatterns,
		RespectGitignore: true,
		MaxFileSize:      cfg.MaxFileSizeBytes,
	}

	results, err := sc.Scan(ctx, opts)
	if err != nil {
		return nil, false, err
	}

	hashes := make(map[string]string)
	count := 0
	truncated := false

	for res := range results {
		if res.Error != nil {
			continue
		}
		if ctx.Err() != nil {
			return hashes, truncated, ctx.Err()
		}
		if len(hashes) >= cfg.ScanMaxFiles {
			truncated = true
			continue
		}

		hash, ok := hashFile(res.File.AbsPath, cfg.MaxFileSizeBytes)
		if ok {
			hashes[res.File.Path] = hash
		}

		count++
		if count%cfg.ScanBatchSize == 0 {
			runtime.Gosched()
			maybeGC(cfg.ScanMaxHeapMB)
		}
	}

	return hashes, truncated, nil
}

// hashFile returns the hex SHA-256 of path's content, skipping files over
// maxSize or that sniff as binary (matching the Change Handler's own
// null-byte check so drift and ingestion agree on what's indexable).
func hashFile(path string, maxSize int64) (string, bool) {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSymlink != 0 {
		return "", false
	}
	if info.Size() > maxSize {
		return "", false
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	if isBinary(content) {
		return "", false
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), true
}

func isBinary(content []byte) bool {
	n := 512
	if len(content) < n {
		n = len(content)
	}
	for i := 0; i < n; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

// maybeGC forces a GC pass when the process's heap has grown past
// maxHeapMB, per the "pause and GC when exceeded" scan tunable.
func maybeGC(maxHeapMB int64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if int64(ms.HeapAlloc)/(1024*1024) > maxHeapMB {
		debug.FreeOSMemory()
	}
}
