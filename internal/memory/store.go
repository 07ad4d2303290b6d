// Package memory implements the Memory Store (C4): CRUD and soft-delete
// for memory records over the Store Adapter, with embedding validation
// delegated to the Dimension Service.
package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/specmem/specmem/internal/dimension"
	memerrors "github.com/specmem/specmem/internal/errors"
	"github.com/specmem/specmem/internal/store"
)

// MemoryTable is the logical table name C1's Dimension Service discovers
// against for memory embeddings.
const MemoryTable = "memories"

// Store is the Memory Store (C4), implementing insert/get/update/
// softDelete/findByProject over a store.MetadataStore.
type Store struct {
	metadata store.MetadataStore
	dims     *dimension.Service
}

// New builds a Memory Store over the given metadata store and Dimension
// Service.
func New(metadata store.MetadataStore, dims *dimension.Service) *Store {
	return &Store{metadata: metadata, dims: dims}
}

func validImportance(i store.Importance) bool {
	switch i {
	case store.ImportanceCritical, store.ImportanceHigh, store.ImportanceMedium,
		store.ImportanceLow, store.ImportanceTrivial:
		return true
	}
	return false
}

// Insert assigns a UUID and timestamps, validates the embedding's
// dimension (projecting it if necessary via C1), and persists the memory.
// The input Memory's ID field is ignored; the stored copy is returned.
func (s *Store) Insert(ctx context.Context, m store.Memory) (*store.Memory, error) {
	if m.Content == "" {
		return nil, memerrors.ValidationError("memory content must not be empty", nil)
	}
	if m.Importance == "" {
		m.Importance = store.ImportanceMedium
	}
	if !validImportance(m.Importance) {
		return nil, memerrors.ValidationError("invalid importance: "+string(m.Importance), nil)
	}
	if m.MemoryType == "" {
		m.MemoryType = store.MemoryTypeSemantic
	}

	now := time.Now().UTC()
	m.ID = uuid.NewString()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.LastAccessedAt = now
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}

	if len(m.Embedding) > 0 && s.dims != nil {
		result, err := s.dims.Prepare(ctx, MemoryTable, m.Embedding, m.Content)
		if err != nil {
			return nil, err
		}
		m.Embedding = result.Vector
	}

	if err := s.metadata.SaveMemory(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Get returns a memory by (id, project), scoped to that project.
// Soft-deleted rows (expires_at in the past) are excluded unless
// includeExpired is set.
func (s *Store) Get(ctx context.Context, projectPath, id string, includeExpired bool) (*store.Memory, error) {
	m, err := s.metadata.GetMemory(ctx, projectPath, id)
	if err != nil {
		return nil, err
	}
	if !includeExpired && m.IsExpired(time.Now().UTC()) {
		return nil, memerrors.NotFound("memory not found: " + id)
	}
	return m, nil
}

// Update applies a partial delta to an existing memory (last-write-wins)
// and refreshes updated_at. Only non-nil fields in delta are applied: a
// nil Content, Importance, Tags, Metadata, Embedding or ExpiresAt leaves
// the existing value untouched, and a Content pointing to an empty string
// is rejected.
type UpdateDelta struct {
	Content    *string
	Importance *store.Importance
	Tags       []string
	Metadata   map[string]string
	Embedding  []float32
	ExpiresAt  *time.Time
}

func (s *Store) Update(ctx context.Context, projectPath, id string, delta UpdateDelta) (*store.Memory, error) {
	m, err := s.metadata.GetMemory(ctx, projectPath, id)
	if err != nil {
		return nil, err
	}

	if delta.Content != nil {
		if *delta.Content == "" {
			return nil, memerrors.ValidationError("memory content must not be empty", nil)
		}
		m.Content = *delta.Content
	}
	if delta.Importance != nil {
		if !validImportance(*delta.Importance) {
			return nil, memerrors.ValidationError("invalid importance: "+string(*delta.Importance), nil)
		}
		m.Importance = *delta.Importance
	}
	if delta.Tags != nil {
		m.Tags = delta.Tags
	}
	if delta.Metadata != nil {
		m.Metadata = delta.Metadata
	}
	if delta.Embedding != nil {
		vec := delta.Embedding
		if s.dims != nil {
			result, err := s.dims.Prepare(ctx, MemoryTable, vec, m.Content)
			if err != nil {
				return nil, err
			}
			vec = result.Vector
		}
		m.Embedding = vec
	}
	if delta.ExpiresAt != nil {
		m.ExpiresAt = delta.ExpiresAt
	}

	m.UpdatedAt = time.Now().UTC()
	if err := s.metadata.SaveMemory(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// SoftDelete sets expires_at to now, excluding the memory from future
// default-scoped queries while retaining it for history.
func (s *Store) SoftDelete(ctx context.Context, projectPath, id string) error {
	return s.metadata.DeleteMemory(ctx, projectPath, id, false)
}

// HardDelete removes the memory and its dependent rows (strength, links,
// assignment) entirely.
func (s *Store) HardDelete(ctx context.Context, projectPath, id string) error {
	return s.metadata.DeleteMemory(ctx, projectPath, id, true)
}

// FindFilters narrows FindByProject's result set.
type FindFilters struct {
	MemoryType store.MemoryType // empty = any
	Tag        string           // empty = any; exact tag match
}

// FindByProject lists memories for a project in the deterministic order
// (importance DESC, created_at DESC, id), applying post-fetch filters
// (type/tag) and returning a page plus the next cursor.
func (s *Store) FindByProject(ctx context.Context, projectPath string, filters FindFilters, cursor string, limit int) ([]*store.Memory, string, error) {
	memories, next, err := s.metadata.ListMemories(ctx, projectPath, cursor, limit)
	if err != nil {
		return nil, "", err
	}

	if filters.MemoryType == "" && filters.Tag == "" {
		return memories, next, nil
	}

	filtered := make([]*store.Memory, 0, len(memories))
	for _, m := range memories {
		if filters.MemoryType != "" && m.MemoryType != filters.MemoryType {
			continue
		}
		if filters.Tag != "" && !hasTag(m.Tags, filters.Tag) {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered, next, nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Touch bumps access_count/last_accessed_at best-effort; callers (C5, C9)
// should not fail their primary operation if Touch errors.
func (s *Store) Touch(ctx context.Context, projectPath, id string) error {
	return s.metadata.TouchMemory(ctx, projectPath, id, time.Now().UTC())
}
