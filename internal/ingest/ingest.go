// Package ingest implements the Change Handler (C12): turns one file-watcher
// event into a hash/classify/embed/upsert cycle over the Memory Store and
// the codebase_files table, or a soft-delete on removal.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/specmem/specmem/internal/dimension"
	memerrors "github.com/specmem/specmem/internal/errors"
	"github.com/specmem/specmem/internal/memory"
	"github.com/specmem/specmem/internal/scanner"
	"github.com/specmem/specmem/internal/store"
	"github.com/specmem/specmem/internal/watcher"
)

// DefaultMaxFileSizeBytes is the size cap applied by the live tracker path
// (the sync checker's bulk resync uses a larger default, see internal/synccheck).
const DefaultMaxFileSizeBytes = 500 * 1024

// Config tunes Handler behavior; a zero MaxFileSizeBytes falls back to
// DefaultMaxFileSizeBytes.
type Config struct {
	MaxFileSizeBytes int64
}

func (c Config) withDefaults() Config {
	if c.MaxFileSizeBytes <= 0 {
		c.MaxFileSizeBytes = DefaultMaxFileSizeBytes
	}
	return c
}

// Handler is the Change Handler (C12).
type Handler struct {
	metadata store.MetadataStore
	dims     *dimension.Service
	embedder Embedder
	breaker  *memerrors.CircuitBreaker
	rootDir  string
	cfg      Config
	log      *slog.Logger
}

// Embedder is the subset of embed.Embedder the Change Handler needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New builds a Change Handler rooted at rootDir (the project's absolute
// directory, against which event paths are resolved).
func New(metadata store.MetadataStore, dims *dimension.Service, embedder Embedder, rootDir string, cfg Config) *Handler {
	return &Handler{
		metadata: metadata,
		dims:     dims,
		embedder: embedder,
		breaker:  memerrors.NewCircuitBreaker("embedder"),
		rootDir:  rootDir,
		cfg:      cfg.withDefaults(),
		log:      slog.Default(),
	}
}

// Handle dispatches one file-watcher event for projectPath. Directory events
// are ignored at this layer; gitignore/config-change events are handled
// upstream and are no-ops here.
func (h *Handler) Handle(ctx context.Context, projectPath string, event watcher.FileEvent) error {
	if event.IsDir {
		return nil
	}
	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		return h.upsert(ctx, projectPath, event.Path)
	case watcher.OpDelete:
		return h.remove(ctx, projectPath, event.Path)
	case watcher.OpRename:
		if event.OldPath != "" {
			if err := h.remove(ctx, projectPath, event.OldPath); err != nil {
				return err
			}
		}
		return h.upsert(ctx, projectPath, event.Path)
	default:
		return nil
	}
}

// upsert implements the add/change path of 4.12: read, hash, classify,
// embed, and upsert the memory and codebase_files rows.
func (h *Handler) upsert(ctx context.Context, projectPath, relPath string) error {
	absPath := filepath.Join(h.rootDir, relPath)

	info, err := os.Lstat(absPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return memerrors.IOError("stat file: "+relPath, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		h.log.Debug("ingest: skipping symlink", slog.String("path", relPath))
		return nil
	}
	if info.Size() > h.cfg.MaxFileSizeBytes {
		h.log.Debug("ingest: skipping oversized file", slog.String("path", relPath), slog.Int64("size", info.Size()))
		return nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return memerrors.IOError("read file: "+relPath, err)
	}
	if isBinaryContent(content) {
		return nil
	}

	hash := hashContent(content)
	language := scanner.DetectLanguage(relPath)
	id := deterministicID(projectPath, relPath)
	now := time.Now().UTC()

	existingFile, err := h.metadata.GetFileByPath(ctx, projectPath, relPath)
	if err != nil {
		return err
	}
	if existingFile != nil && existingFile.ContentHash == hash {
		return nil
	}

	embedding, err := h.embedVector(ctx, string(content))
	if err != nil {
		return err
	}

	if existingFile == nil {
		duplicate, err := h.hasDuplicateHash(ctx, projectPath, relPath, hash)
		if err != nil {
			return err
		}
		if !duplicate {
			if err := h.createMemory(ctx, projectPath, id, relPath, string(content), language, embedding, now); err != nil {
				return err
			}
		}
	} else {
		if err := h.updateMemory(ctx, projectPath, id, relPath, language, string(content), embedding, now); err != nil {
			return err
		}
	}

	file := &store.CodebaseFile{
		ID:          id,
		ProjectPath: projectPath,
		FilePath:    relPath,
		Content:     string(content),
		ContentHash: hash,
		Language:    language,
		Embedding:   embedding,
		LastIndexed: now,
	}
	return h.metadata.SaveFiles(ctx, []*store.CodebaseFile{file})
}

// remove implements the unlink path of 4.12: soft-delete the memory, drop
// the codebase_files row.
func (h *Handler) remove(ctx context.Context, projectPath, relPath string) error {
	id := deterministicID(projectPath, relPath)
	now := time.Now().UTC()

	m, err := h.metadata.GetMemory(ctx, projectPath, id)
	if err != nil && memerrors.GetCode(err) != memerrors.ErrCodeNotFound {
		return err
	}
	if m != nil && !m.IsExpired(now) {
		m.ExpiresAt = &now
		m.UpdatedAt = now
		if err := h.metadata.SaveMemory(ctx, m); err != nil {
			return err
		}
	}

	return h.metadata.DeleteFile(ctx, projectPath, relPath)
}

// embedVector produces the memory's embedding, reconciled to the store's
// declared dimension. An unavailable provider degrades to a sparse row
// (nil embedding) rather than failing the event, and repeated failures
// trip a circuit breaker so a dead provider isn't hammered once per file
// during a bulk resync.
func (h *Handler) embedVector(ctx context.Context, content string) ([]float32, error) {
	if h.embedder == nil {
		return nil, nil
	}
	if !h.breaker.Allow() {
		return nil, nil
	}
	vec, err := h.embedder.Embed(ctx, content)
	if err != nil {
		h.breaker.RecordFailure()
		h.log.Warn("ingest: embedding failed, storing sparse row", slog.String("error", err.Error()))
		return nil, nil
	}
	h.breaker.RecordSuccess()
	if h.dims != nil && len(vec) > 0 {
		result, err := h.dims.Prepare(ctx, memory.MemoryTable, vec, content)
		if err != nil {
			return nil, err
		}
		return result.Vector, nil
	}
	return vec, nil
}

func (h *Handler) hasDuplicateHash(ctx context.Context, projectPath, relPath, hash string) (bool, error) {
	hashes, err := h.metadata.GetFilePathsByProject(ctx, projectPath)
	if err != nil {
		return false, err
	}
	for path, h2 := range hashes {
		if path != relPath && h2 == hash {
			return true, nil
		}
	}
	return false, nil
}

func (h *Handler) createMemory(ctx context.Context, projectPath, id, relPath, content, language string, embedding []float32, now time.Time) error {
	tag, purpose, importance := classify(relPath)
	m := &store.Memory{
		ID:          id,
		ProjectPath: projectPath,
		Content:     content,
		MemoryType:  store.MemoryTypeEpisodic,
		Importance:  importance,
		Tags:        []string{"file-watcher", language, tag},
		Metadata:    map[string]string{"file_path": relPath, "purpose": purpose},
		Embedding:   embedding,
		CreatedAt:   now,
		UpdatedAt:   now,
		LastAccessedAt: now,
	}
	return h.metadata.SaveMemory(ctx, m)
}

func (h *Handler) updateMemory(ctx context.Context, projectPath, id, relPath, language, content string, embedding []float32, now time.Time) error {
	m, err := h.metadata.GetMemory(ctx, projectPath, id)
	if err != nil {
		if memerrors.GetCode(err) == memerrors.ErrCodeNotFound {
			// codebase_files row exists but the memory was deleted out from
			// under it (e.g. manually); recreate it.
			return h.createMemory(ctx, projectPath, id, relPath, content, language, embedding, now)
		}
		return err
	}
	m.Content = content
	m.Embedding = embedding
	m.UpdatedAt = now
	return h.metadata.SaveMemory(ctx, m)
}

// deterministicID derives a stable id shared by a file's Memory and
// CodebaseFile rows from (projectPath, relPath), so a later event for the
// same path resolves to the same rows without a dedicated lookup index.
func deterministicID(projectPath, relPath string) string {
	sum := sha256.Sum256([]byte(projectPath + ":" + relPath))
	return hex.EncodeToString(sum[:])[:32]
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// isBinaryContent sniffs the first 512 bytes for a null byte.
func isBinaryContent(content []byte) bool {
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

var (
	testPatterns = []string{"_test.", ".test.", "/test/", "/tests/", "/__tests__/"}
	apiPatterns  = []string{"/api/", "/routes/", "/handlers/", "/controllers/"}
	schemaPatterns = []string{"/migrations/", "/migrate/", ".sql"}
	docPatterns  = []string{".md", ".mdx", ".rst", ".adoc", "/docs/"}
	configPatterns = []string{".yaml", ".yml", ".json", ".toml", ".ini", ".env", "config"}
)

func containsAny(path string, patterns []string) bool {
	lower := strings.ToLower(path)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// classify applies the 4.12.a auto-detected metadata rules in fixed order,
// returning the tag, purpose, and default importance for relPath.
func classify(relPath string) (tag, purpose string, importance store.Importance) {
	switch {
	case containsAny(relPath, testPatterns):
		return "tests", "test", store.ImportanceMedium
	case containsAny(relPath, apiPatterns):
		return "api", "general", store.ImportanceHigh
	case containsAny(relPath, schemaPatterns):
		return "schema", "general", store.ImportanceHigh
	case containsAny(relPath, docPatterns):
		return "docs", "general", store.ImportanceLow
	case containsAny(relPath, configPatterns):
		return "config", "general", store.ImportanceLow
	default:
		return "code", "general", store.ImportanceMedium
	}
}
