package synccheck

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/specmem/specmem/internal/store"
)

// scanStore reads codebase_files first, then paginates through
// file-watcher memories for any path codebase_files didn't cover (a memory
// can exist without its codebase_files row if the two were written by
// different paths), deduplicating by relative path. Soft-deleted memories
// are excluded — they're absent from the store's perspective.
func scanStore(ctx context.Context, metadata store.MetadataStore, projectPath string, cfg Config) (map[string]string, bool, error) {
	hashes, err := metadata.GetFilePathsByProject(ctx, projectPath)
	if err != nil {
		return nil, false, err
	}
	if hashes == nil {
		hashes = make(map[string]string)
	}
	truncated := len(hashes) >= cfg.SyncMemoryLimit
	if truncated {
		hashes = truncateMap(hashes, cfg.SyncMemoryLimit)
	}

	seen := make(map[string]struct{}, len(hashes))
	for p := range hashes {
		seen[p] = struct{}{}
	}

	cursor := ""
	total := len(hashes)
	for {
		if total >= cfg.SyncMemoryLimit {
			truncated = true
			break
		}
		page, next, err := metadata.ListMemories(ctx, projectPath, cursor, cfg.SyncMemoryPageSize)
		if err != nil {
			return hashes, truncated, err
		}
		for _, m := range page {
			relPath, ok := m.Metadata["file_path"]
			if !ok || relPath == "" {
				continue
			}
			if _, dup := seen[relPath]; dup {
				continue
			}
			seen[relPath] = struct{}{}
			hashes[relPath] = contentHash(m.Content)
			total++
			if total >= cfg.SyncMemoryLimit {
				truncated = true
				break
			}
		}
		if next == "" || truncated {
			break
		}
		cursor = next
	}

	return hashes, truncated, nil
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// truncateMap caps a path->hash map at limit entries. Map iteration order
// is unspecified, so the specific entries dropped are arbitrary; the
// caller only needs the bound enforced, and the drift report marks itself
// Truncated when this fires.
func truncateMap(m map[string]string, limit int) map[string]string {
	if len(m) <= limit {
		return m
	}
	out := make(map[string]string, limit)
	i := 0
	for k, v := range m {
		if i >= limit {
			break
		}
		out[k] = v
		i++
	}
	return out
}
