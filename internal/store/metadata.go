package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	memerrors "github.com/specmem/specmem/internal/errors"
)

// SQLiteStore is the concrete MetadataStore (C4's persistence layer) backed
// by the Store Adapter. Grounded on sqlite_bm25.go's prepared-statement and
// transaction style; the interface shape itself mirrors the
// MetadataStore segmentation in types.go, field-for-field
// replaced with this package's own entities.
type SQLiteStore struct {
	adapter *Adapter
}

var _ MetadataStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens a metadata store at path with default tuning.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(path, DefaultStoreConfig())
}

// NewSQLiteStoreWithConfig opens a metadata store at path with the given
// cache/pool tuning.
func NewSQLiteStoreWithConfig(path string, cfg StoreConfig) (*SQLiteStore, error) {
	adapter, err := NewAdapter(path, cfg)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{adapter: adapter}, nil
}

// Adapter exposes the underlying Store Adapter, e.g. for C1's
// GetTableDimension or a caller that needs a raw transaction.
func (s *SQLiteStore) Adapter() *Adapter { return s.adapter }

// DB returns the underlying *sql.DB.
func (s *SQLiteStore) DB() *sql.DB { return s.adapter.DB() }

func (s *SQLiteStore) Close() error { return s.adapter.Close() }

// --- encoding helpers ---

func marshalJSON(v interface{}) string {
	if v == nil {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func unmarshalStringMap(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

// embeddingToBytes packs a float32 vector into a little-endian byte blob
// for BLOB storage.
func embeddingToBytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		bits := math.Float32bits(f)
		buf[i*4+0] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

// bytesToEmbedding is the inverse of embeddingToBytes.
func bytesToEmbedding(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// --- cursor pagination (offset-based, matching the ListFiles idiom) ---

func encodeOffsetCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("offset:%d", offset)))
}

func decodeOffsetCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, memerrors.ValidationError("invalid cursor", err)
	}
	s := string(raw)
	if !strings.HasPrefix(s, "offset:") {
		return 0, memerrors.ValidationError("invalid cursor format", nil)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "offset:"))
	if err != nil {
		return 0, memerrors.ValidationError("invalid cursor offset", err)
	}
	if n < 0 {
		return 0, memerrors.ValidationError("cursor offset must be non-negative", nil)
	}
	return n, nil
}

// --- Memory operations ---

func (s *SQLiteStore) SaveMemory(ctx context.Context, m *Memory) error {
	return s.adapter.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memories (
				id, project_path, content, memory_type, importance, tags, metadata,
				embedding, created_at, updated_at, access_count, last_accessed_at,
				expires_at, consolidated_from
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				content = excluded.content,
				memory_type = excluded.memory_type,
				importance = excluded.importance,
				tags = excluded.tags,
				metadata = excluded.metadata,
				embedding = excluded.embedding,
				updated_at = excluded.updated_at,
				access_count = excluded.access_count,
				last_accessed_at = excluded.last_accessed_at,
				expires_at = excluded.expires_at,
				consolidated_from = excluded.consolidated_from`,
			m.ID, m.ProjectPath, m.Content, string(m.MemoryType), string(m.Importance),
			marshalJSON(m.Tags), marshalJSON(m.Metadata), embeddingToBytes(m.Embedding),
			m.CreatedAt, m.UpdatedAt, m.AccessCount, nullTimePtr(&m.LastAccessedAt),
			nullTimePtr(m.ExpiresAt), marshalJSON(m.ConsolidatedFrom),
		)
		if err != nil {
			return memerrors.StoreErr(memerrors.StoreConstraint, "save memory", err)
		}
		return nil
	})
}

func scanMemory(scan func(dest ...interface{}) error) (*Memory, error) {
	var (
		m                              Memory
		tags, metadata, consolidated   string
		embedding                      []byte
		lastAccessed, expiresAt        sql.NullTime
		memoryType, importance         string
	)
	if err := scan(
		&m.ID, &m.ProjectPath, &m.Content, &memoryType, &importance, &tags, &metadata,
		&embedding, &m.CreatedAt, &m.UpdatedAt, &m.AccessCount, &lastAccessed,
		&expiresAt, &consolidated,
	); err != nil {
		return nil, err
	}
	m.MemoryType = MemoryType(memoryType)
	m.Importance = Importance(importance)
	m.Tags = unmarshalStrings(tags)
	m.Metadata = unmarshalStringMap(metadata)
	m.Embedding = bytesToEmbedding(embedding)
	m.ConsolidatedFrom = unmarshalStrings(consolidated)
	if lastAccessed.Valid {
		m.LastAccessedAt = lastAccessed.Time
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	return &m, nil
}

const memoryColumns = `id, project_path, content, memory_type, importance, tags, metadata,
	embedding, created_at, updated_at, access_count, last_accessed_at, expires_at, consolidated_from`

func (s *SQLiteStore) GetMemory(ctx context.Context, projectPath, id string) (*Memory, error) {
	row := s.adapter.DB().QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ? AND project_path = ?`, id, projectPath)
	m, err := scanMemory(row.Scan)
	if err == sql.ErrNoRows {
		return nil, memerrors.NotFound("memory not found: " + id)
	}
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "get memory", err)
	}
	return m, nil
}

func (s *SQLiteStore) GetMemories(ctx context.Context, projectPath string, ids []string) ([]*Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, projectPath)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE project_path = ? AND id IN (` +
		strings.Join(placeholders, ",") + `)`
	rows, err := s.adapter.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "get memories", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, memerrors.StoreErr(memerrors.StoreOther, "scan memory", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteMemory(ctx context.Context, projectPath, id string, hard bool) error {
	return s.adapter.Transaction(ctx, func(tx *sql.Tx) error {
		if hard {
			if _, err := tx.ExecContext(ctx, `DELETE FROM memory_strength WHERE memory_id = ?`, id); err != nil {
				return memerrors.StoreErr(memerrors.StoreOther, "cascade delete strength", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM quadrant_assignments WHERE memory_id = ?`, id); err != nil {
				return memerrors.StoreErr(memerrors.StoreOther, "cascade delete assignment", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM memory_associations WHERE source_id = ? OR target_id = ?`, id, id); err != nil {
				return memerrors.StoreErr(memerrors.StoreOther, "cascade delete associations", err)
			}
			res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ? AND project_path = ?`, id, projectPath)
			if err != nil {
				return memerrors.StoreErr(memerrors.StoreOther, "hard delete memory", err)
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				return memerrors.NotFound("memory not found: " + id)
			}
			return nil
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE memories SET expires_at = ?, updated_at = ? WHERE id = ? AND project_path = ?`,
			time.Now(), time.Now(), id, projectPath)
		if err != nil {
			return memerrors.StoreErr(memerrors.StoreOther, "soft delete memory", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return memerrors.NotFound("memory not found: " + id)
		}
		return nil
	})
}

func (s *SQLiteStore) ListMemories(ctx context.Context, projectPath string, cursor string, limit int) ([]*Memory, string, error) {
	offset, err := decodeOffsetCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 50
	}

	// Deterministic order: importance DESC, created_at DESC, id.
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE project_path = ? AND
		(expires_at IS NULL OR expires_at > ?)
		ORDER BY
			CASE importance
				WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2
				WHEN 'low' THEN 3 ELSE 4 END ASC,
			created_at DESC, id ASC
		LIMIT ? OFFSET ?`
	rows, err := s.adapter.DB().QueryContext(ctx, query, projectPath, time.Now(), limit+1, offset)
	if err != nil {
		return nil, "", memerrors.StoreErr(memerrors.StoreOther, "list memories", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, "", memerrors.StoreErr(memerrors.StoreOther, "scan memory", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", memerrors.StoreErr(memerrors.StoreOther, "list memories", err)
	}

	nextCursor := ""
	if len(out) > limit {
		out = out[:limit]
		nextCursor = encodeOffsetCursor(offset + limit)
	}
	return out, nextCursor, nil
}

func (s *SQLiteStore) TouchMemory(ctx context.Context, projectPath, id string, accessedAt time.Time) error {
	_, err := s.adapter.DB().ExecContext(ctx, `
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ? AND project_path = ?`, accessedAt, id, projectPath)
	if err != nil {
		return memerrors.StoreErr(memerrors.StoreOther, "touch memory", err)
	}
	return nil
}

// --- CodebaseFile operations ---

func (s *SQLiteStore) SaveFiles(ctx context.Context, files []*CodebaseFile) error {
	if len(files) == 0 {
		return nil
	}
	return s.adapter.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO codebase_files (id, project_path, file_path, content, content_hash, language, embedding, last_indexed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_path, file_path) DO UPDATE SET
				content = excluded.content,
				content_hash = excluded.content_hash,
				language = excluded.language,
				embedding = excluded.embedding,
				last_indexed = excluded.last_indexed`)
		if err != nil {
			return memerrors.StoreErr(memerrors.StoreOther, "prepare save files", err)
		}
		defer stmt.Close()

		for _, f := range files {
			if _, err := stmt.ExecContext(ctx, f.ID, f.ProjectPath, f.FilePath, f.Content,
				f.ContentHash, f.Language, embeddingToBytes(f.Embedding), f.LastIndexed); err != nil {
				return memerrors.StoreErr(memerrors.StoreConstraint, "save file "+f.FilePath, err)
			}
		}
		return nil
	})
}

func scanFile(scan func(dest ...interface{}) error) (*CodebaseFile, error) {
	var (
		f         CodebaseFile
		embedding []byte
		content   sql.NullString
		hash      sql.NullString
		language  sql.NullString
	)
	if err := scan(&f.ID, &f.ProjectPath, &f.FilePath, &content, &hash, &language, &embedding, &f.LastIndexed); err != nil {
		return nil, err
	}
	f.Content = content.String
	f.ContentHash = hash.String
	f.Language = language.String
	f.Embedding = bytesToEmbedding(embedding)
	return &f, nil
}

const fileColumns = `id, project_path, file_path, content, content_hash, language, embedding, last_indexed`

func (s *SQLiteStore) GetFileByPath(ctx context.Context, projectPath, filePath string) (*CodebaseFile, error) {
	row := s.adapter.DB().QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM codebase_files WHERE project_path = ? AND file_path = ?`, projectPath, filePath)
	f, err := scanFile(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "get file", err)
	}
	return f, nil
}

func (s *SQLiteStore) GetFilePathsByProject(ctx context.Context, projectPath string) (map[string]string, error) {
	rows, err := s.adapter.DB().QueryContext(ctx,
		`SELECT file_path, content_hash FROM codebase_files WHERE project_path = ?`, projectPath)
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "list file paths", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var path string
		var hash sql.NullString
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, memerrors.StoreErr(memerrors.StoreOther, "scan file path", err)
		}
		out[path] = hash.String
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, projectPath, filePath string) error {
	_, err := s.adapter.DB().ExecContext(ctx,
		`DELETE FROM codebase_files WHERE project_path = ? AND file_path = ?`, projectPath, filePath)
	if err != nil {
		return memerrors.StoreErr(memerrors.StoreOther, "delete file", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteFilesByProject(ctx context.Context, projectPath string) error {
	_, err := s.adapter.DB().ExecContext(ctx, `DELETE FROM codebase_files WHERE project_path = ?`, projectPath)
	if err != nil {
		return memerrors.StoreErr(memerrors.StoreOther, "delete files by project", err)
	}
	return nil
}

func (s *SQLiteStore) ListFiles(ctx context.Context, projectPath, cursor string, limit int) ([]*CodebaseFile, string, error) {
	offset, err := decodeOffsetCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.adapter.DB().QueryContext(ctx,
		`SELECT `+fileColumns+` FROM codebase_files WHERE project_path = ? ORDER BY file_path ASC LIMIT ? OFFSET ?`,
		projectPath, limit+1, offset)
	if err != nil {
		return nil, "", memerrors.StoreErr(memerrors.StoreOther, "list files", err)
	}
	defer rows.Close()

	var out []*CodebaseFile
	for rows.Next() {
		f, err := scanFile(rows.Scan)
		if err != nil {
			return nil, "", memerrors.StoreErr(memerrors.StoreOther, "scan file", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, "", memerrors.StoreErr(memerrors.StoreOther, "list files", err)
	}

	nextCursor := ""
	if len(out) > limit {
		out = out[:limit]
		nextCursor = encodeOffsetCursor(offset + limit)
	}
	return out, nextCursor, nil
}

// --- MemoryStrength operations ---

func (s *SQLiteStore) SaveStrength(ctx context.Context, st *MemoryStrength) error {
	_, err := s.adapter.DB().ExecContext(ctx, `
		INSERT INTO memory_strength (memory_id, stability, retrievability, last_review, review_count, interval_days, ease_factor)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			stability = excluded.stability,
			retrievability = excluded.retrievability,
			last_review = excluded.last_review,
			review_count = excluded.review_count,
			interval_days = excluded.interval_days,
			ease_factor = excluded.ease_factor`,
		st.MemoryID, st.Stability, st.Retrievability, nullTime(st.LastReview), st.ReviewCount, st.IntervalDays, st.EaseFactor)
	if err != nil {
		return memerrors.StoreErr(memerrors.StoreConstraint, "save strength", err)
	}
	return nil
}

func (s *SQLiteStore) GetStrength(ctx context.Context, memoryID string) (*MemoryStrength, error) {
	row := s.adapter.DB().QueryRowContext(ctx, `
		SELECT memory_id, stability, retrievability, last_review, review_count, interval_days, ease_factor
		FROM memory_strength WHERE memory_id = ?`, memoryID)
	var st MemoryStrength
	var lastReview sql.NullTime
	if err := row.Scan(&st.MemoryID, &st.Stability, &st.Retrievability, &lastReview, &st.ReviewCount, &st.IntervalDays, &st.EaseFactor); err != nil {
		if err == sql.ErrNoRows {
			return nil, memerrors.NotFound("strength not found: " + memoryID)
		}
		return nil, memerrors.StoreErr(memerrors.StoreOther, "get strength", err)
	}
	if lastReview.Valid {
		st.LastReview = lastReview.Time
	}
	return &st, nil
}

func (s *SQLiteStore) ListDueForReview(ctx context.Context, projectPath string, asOf time.Time, limit int) ([]*MemoryStrength, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.adapter.DB().QueryContext(ctx, `
		SELECT ms.memory_id, ms.stability, ms.retrievability, ms.last_review, ms.review_count, ms.interval_days, ms.ease_factor
		FROM memory_strength ms
		JOIN memories m ON m.id = ms.memory_id
		WHERE m.project_path = ? AND (m.expires_at IS NULL OR m.expires_at > ?)
		ORDER BY ms.retrievability ASC
		LIMIT ?`, projectPath, asOf, limit)
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "list due for review", err)
	}
	defer rows.Close()

	var out []*MemoryStrength
	for rows.Next() {
		var st MemoryStrength
		var lastReview sql.NullTime
		if err := rows.Scan(&st.MemoryID, &st.Stability, &st.Retrievability, &lastReview, &st.ReviewCount, &st.IntervalDays, &st.EaseFactor); err != nil {
			return nil, memerrors.StoreErr(memerrors.StoreOther, "scan strength", err)
		}
		if lastReview.Valid {
			st.LastReview = lastReview.Time
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

// --- AssociativeLink operations ---

func (s *SQLiteStore) SaveLink(ctx context.Context, l *AssociativeLink) error {
	_, err := s.adapter.DB().ExecContext(ctx, `
		INSERT INTO memory_associations (source_id, target_id, link_type, strength, co_activation_count, last_co_activation, decay_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id) DO UPDATE SET
			link_type = excluded.link_type,
			strength = excluded.strength,
			co_activation_count = excluded.co_activation_count,
			last_co_activation = excluded.last_co_activation,
			decay_rate = excluded.decay_rate`,
		l.SourceID, l.TargetID, string(l.LinkType), l.Strength, l.CoActivationCount,
		nullTime(l.LastCoActivation), l.DecayRate)
	if err != nil {
		return memerrors.StoreErr(memerrors.StoreConstraint, "save link", err)
	}
	return nil
}

func (s *SQLiteStore) GetLinks(ctx context.Context, memoryID string) ([]*AssociativeLink, error) {
	rows, err := s.adapter.DB().QueryContext(ctx, `
		SELECT source_id, target_id, link_type, strength, co_activation_count, last_co_activation, decay_rate
		FROM memory_associations WHERE source_id = ? OR target_id = ?`, memoryID, memoryID)
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "get links", err)
	}
	defer rows.Close()

	var out []*AssociativeLink
	for rows.Next() {
		var l AssociativeLink
		var linkType string
		var lastCo sql.NullTime
		if err := rows.Scan(&l.SourceID, &l.TargetID, &linkType, &l.Strength, &l.CoActivationCount, &lastCo, &l.DecayRate); err != nil {
			return nil, memerrors.StoreErr(memerrors.StoreOther, "scan link", err)
		}
		l.LinkType = LinkType(linkType)
		if lastCo.Valid {
			l.LastCoActivation = lastCo.Time
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteWeakLinks(ctx context.Context, projectPath string, belowStrength float64) (int, error) {
	// memory_associations carries no project_path column; scope through a
	// join against memories so cross-project pruning cannot happen.
	res, err := s.adapter.DB().ExecContext(ctx, `
		DELETE FROM memory_associations WHERE strength < ? AND source_id IN (
			SELECT id FROM memories WHERE project_path = ?
		)`, belowStrength, projectPath)
	if err != nil {
		return 0, memerrors.StoreErr(memerrors.StoreOther, "delete weak links", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- MemoryChain operations ---

func (s *SQLiteStore) SaveChain(ctx context.Context, c *MemoryChain) error {
	_, err := s.adapter.DB().ExecContext(ctx, `
		INSERT INTO memory_chains (id, project_path, name, description, memory_ids, chain_type, importance, created_at, last_accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			memory_ids = excluded.memory_ids,
			chain_type = excluded.chain_type,
			importance = excluded.importance,
			last_accessed_at = excluded.last_accessed_at,
			access_count = excluded.access_count`,
		c.ID, c.ProjectPath, c.Name, c.Description, marshalJSON(c.MemoryIDs), string(c.ChainType),
		string(c.Importance), c.CreatedAt, nullTime(c.LastAccessedAt), c.AccessCount)
	if err != nil {
		return memerrors.StoreErr(memerrors.StoreConstraint, "save chain", err)
	}
	return nil
}

func (s *SQLiteStore) GetChain(ctx context.Context, projectPath, id string) (*MemoryChain, error) {
	row := s.adapter.DB().QueryRowContext(ctx, `
		SELECT id, project_path, name, description, memory_ids, chain_type, importance, created_at, last_accessed_at, access_count
		FROM memory_chains WHERE id = ? AND project_path = ?`, id, projectPath)
	c, err := scanChain(row.Scan)
	if err == sql.ErrNoRows {
		return nil, memerrors.NotFound("chain not found: " + id)
	}
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "get chain", err)
	}
	return c, nil
}

func scanChain(scan func(dest ...interface{}) error) (*MemoryChain, error) {
	var (
		c                      MemoryChain
		memIDs                 string
		chainType, importance  string
		lastAccessed           sql.NullTime
	)
	if err := scan(&c.ID, &c.ProjectPath, &c.Name, &c.Description, &memIDs, &chainType, &importance, &c.CreatedAt, &lastAccessed, &c.AccessCount); err != nil {
		return nil, err
	}
	c.MemoryIDs = unmarshalStrings(memIDs)
	c.ChainType = ChainType(chainType)
	c.Importance = Importance(importance)
	if lastAccessed.Valid {
		c.LastAccessedAt = lastAccessed.Time
	}
	return &c, nil
}

func (s *SQLiteStore) ListChains(ctx context.Context, projectPath string) ([]*MemoryChain, error) {
	rows, err := s.adapter.DB().QueryContext(ctx, `
		SELECT id, project_path, name, description, memory_ids, chain_type, importance, created_at, last_accessed_at, access_count
		FROM memory_chains WHERE project_path = ? ORDER BY created_at DESC`, projectPath)
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "list chains", err)
	}
	defer rows.Close()

	var out []*MemoryChain
	for rows.Next() {
		c, err := scanChain(rows.Scan)
		if err != nil {
			return nil, memerrors.StoreErr(memerrors.StoreOther, "scan chain", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Quadrant operations ---

func (s *SQLiteStore) SaveQuadrant(ctx context.Context, q *Quadrant) error {
	_, err := s.adapter.DB().ExecContext(ctx, `
		INSERT INTO memory_quadrants (id, project_path, name, level, parent_id, child_ids, centroid, radius, keywords, memory_count, tags, max_memories, min_memories, max_radius)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			parent_id = excluded.parent_id,
			child_ids = excluded.child_ids,
			centroid = excluded.centroid,
			radius = excluded.radius,
			keywords = excluded.keywords,
			memory_count = excluded.memory_count,
			tags = excluded.tags,
			max_memories = excluded.max_memories,
			min_memories = excluded.min_memories,
			max_radius = excluded.max_radius`,
		q.ID, q.projectPath(), q.Name, q.Level, q.ParentID, marshalJSON(q.ChildIDs),
		embeddingToBytes(q.Centroid), q.Radius, marshalJSON(q.Keywords), q.MemoryCount,
		marshalJSON(q.Tags), q.Policy.MaxMemories, q.Policy.MinMemories, q.Policy.MaxRadius)
	if err != nil {
		return memerrors.StoreErr(memerrors.StoreConstraint, "save quadrant", err)
	}
	return nil
}

// projectPath is a storage-only accessor: Quadrant doesn't carry a
// ProjectPath field in the shared type (it's keyed by id, scoped
// indirectly through the root), but the table needs one for project-scoped
// queries. A quadrant tree is per-project by construction (one root per
// project via GetRootQuadrant), so this stashes it in Tags-adjacent state:
// callers always pass the project path to SaveQuadrant via WithProject.
func (q *Quadrant) projectPath() string { return q.projectPathVal }

// WithProject stamps the owning project path on a Quadrant before saving.
func (q *Quadrant) WithProject(projectPath string) *Quadrant {
	q.projectPathVal = projectPath
	return q
}

func scanQuadrant(scan func(dest ...interface{}) error) (*Quadrant, error) {
	var (
		q                         Quadrant
		childIDs, keywords, tags  string
		centroid                  []byte
	)
	if err := scan(&q.ID, &q.projectPathVal, &q.Name, &q.Level, &q.ParentID, &childIDs,
		&centroid, &q.Radius, &keywords, &q.MemoryCount, &tags,
		&q.Policy.MaxMemories, &q.Policy.MinMemories, &q.Policy.MaxRadius); err != nil {
		return nil, err
	}
	q.ChildIDs = unmarshalStrings(childIDs)
	q.Keywords = unmarshalStrings(keywords)
	q.Tags = unmarshalStrings(tags)
	q.Centroid = bytesToEmbedding(centroid)
	return &q, nil
}

const quadrantColumns = `id, project_path, name, level, parent_id, child_ids, centroid, radius, keywords, memory_count, tags, max_memories, min_memories, max_radius`

func (s *SQLiteStore) GetQuadrant(ctx context.Context, projectPath, id string) (*Quadrant, error) {
	row := s.adapter.DB().QueryRowContext(ctx,
		`SELECT `+quadrantColumns+` FROM memory_quadrants WHERE id = ? AND project_path = ?`, id, projectPath)
	q, err := scanQuadrant(row.Scan)
	if err == sql.ErrNoRows {
		return nil, memerrors.NotFound("quadrant not found: " + id)
	}
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "get quadrant", err)
	}
	return q, nil
}

func (s *SQLiteStore) GetRootQuadrant(ctx context.Context, projectPath string) (*Quadrant, error) {
	row := s.adapter.DB().QueryRowContext(ctx,
		`SELECT `+quadrantColumns+` FROM memory_quadrants WHERE project_path = ? AND level = 0 LIMIT 1`, projectPath)
	q, err := scanQuadrant(row.Scan)
	if err == sql.ErrNoRows {
		return nil, memerrors.NotFound("no root quadrant for project")
	}
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "get root quadrant", err)
	}
	return q, nil
}

func (s *SQLiteStore) SaveAssignment(ctx context.Context, a *QuadrantAssignment) error {
	_, err := s.adapter.DB().ExecContext(ctx, `
		INSERT INTO quadrant_assignments (memory_id, quadrant_id, distance_to_centroid, assigned_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			quadrant_id = excluded.quadrant_id,
			distance_to_centroid = excluded.distance_to_centroid,
			assigned_at = excluded.assigned_at`,
		a.MemoryID, a.QuadrantID, a.DistanceToCentroid, a.AssignedAt)
	if err != nil {
		return memerrors.StoreErr(memerrors.StoreConstraint, "save assignment", err)
	}
	return nil
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, memoryID string) (*QuadrantAssignment, error) {
	row := s.adapter.DB().QueryRowContext(ctx,
		`SELECT memory_id, quadrant_id, distance_to_centroid, assigned_at FROM quadrant_assignments WHERE memory_id = ?`, memoryID)
	var a QuadrantAssignment
	if err := row.Scan(&a.MemoryID, &a.QuadrantID, &a.DistanceToCentroid, &a.AssignedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, memerrors.NotFound("assignment not found: " + memoryID)
		}
		return nil, memerrors.StoreErr(memerrors.StoreOther, "get assignment", err)
	}
	return &a, nil
}

func (s *SQLiteStore) ListAssignments(ctx context.Context, quadrantID string) ([]*QuadrantAssignment, error) {
	rows, err := s.adapter.DB().QueryContext(ctx,
		`SELECT memory_id, quadrant_id, distance_to_centroid, assigned_at FROM quadrant_assignments WHERE quadrant_id = ?`, quadrantID)
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "list assignments", err)
	}
	defer rows.Close()

	var out []*QuadrantAssignment
	for rows.Next() {
		var a QuadrantAssignment
		if err := rows.Scan(&a.MemoryID, &a.QuadrantID, &a.DistanceToCentroid, &a.AssignedAt); err != nil {
			return nil, memerrors.StoreErr(memerrors.StoreOther, "scan assignment", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// --- State operations ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	row := s.adapter.DB().QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", memerrors.StoreErr(memerrors.StoreOther, "get state", err)
	}
	return value, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.adapter.DB().ExecContext(ctx, `
		INSERT INTO kv_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return memerrors.StoreErr(memerrors.StoreOther, "set state", err)
	}
	return nil
}

