package store

import (
	"context"
	"database/sql"
	"time"

	memerrors "github.com/specmem/specmem/internal/errors"
)

// Code-explanation persistence: the code_explanations, code_prompt_links,
// and code_access_patterns tables. Same query/scan/error-wrap shape as the
// Memory and CodebaseFile operations in metadata.go.

const explanationColumns = `id, project_path, file_path, symbol, explanation, tags, embedding,
	created_at, updated_at, access_count, helpful_count, unhelpful_count`

func (s *SQLiteStore) SaveExplanation(ctx context.Context, e *CodeExplanation) error {
	_, err := s.adapter.DB().ExecContext(ctx, `
		INSERT INTO code_explanations (
			id, project_path, file_path, symbol, explanation, tags, embedding,
			created_at, updated_at, access_count, helpful_count, unhelpful_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_path = excluded.file_path,
			symbol = excluded.symbol,
			explanation = excluded.explanation,
			tags = excluded.tags,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at,
			access_count = excluded.access_count,
			helpful_count = excluded.helpful_count,
			unhelpful_count = excluded.unhelpful_count`,
		e.ID, e.ProjectPath, e.FilePath, e.Symbol, e.Explanation, marshalJSON(e.Tags),
		embeddingToBytes(e.Embedding), e.CreatedAt, e.UpdatedAt,
		e.AccessCount, e.HelpfulCount, e.UnhelpfulCount)
	if err != nil {
		return memerrors.StoreErr(memerrors.StoreConstraint, "save explanation", err)
	}
	return nil
}

func scanExplanation(scan func(dest ...interface{}) error) (*CodeExplanation, error) {
	var (
		e         CodeExplanation
		tags      string
		embedding []byte
	)
	if err := scan(&e.ID, &e.ProjectPath, &e.FilePath, &e.Symbol, &e.Explanation, &tags,
		&embedding, &e.CreatedAt, &e.UpdatedAt, &e.AccessCount, &e.HelpfulCount, &e.UnhelpfulCount); err != nil {
		return nil, err
	}
	e.Tags = unmarshalStrings(tags)
	e.Embedding = bytesToEmbedding(embedding)
	return &e, nil
}

func (s *SQLiteStore) GetExplanation(ctx context.Context, projectPath, id string) (*CodeExplanation, error) {
	row := s.adapter.DB().QueryRowContext(ctx,
		`SELECT `+explanationColumns+` FROM code_explanations WHERE id = ? AND project_path = ?`, id, projectPath)
	e, err := scanExplanation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, memerrors.NotFound("explanation not found: " + id)
	}
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "get explanation", err)
	}
	return e, nil
}

func (s *SQLiteStore) GetExplanationsByFile(ctx context.Context, projectPath, filePath string) ([]*CodeExplanation, error) {
	rows, err := s.adapter.DB().QueryContext(ctx,
		`SELECT `+explanationColumns+` FROM code_explanations
		WHERE project_path = ? AND file_path = ? ORDER BY updated_at DESC`, projectPath, filePath)
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "get explanations by file", err)
	}
	defer rows.Close()

	var out []*CodeExplanation
	for rows.Next() {
		e, err := scanExplanation(rows.Scan)
		if err != nil {
			return nil, memerrors.StoreErr(memerrors.StoreOther, "scan explanation", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListExplanations(ctx context.Context, projectPath string, limit int) ([]*CodeExplanation, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.adapter.DB().QueryContext(ctx,
		`SELECT `+explanationColumns+` FROM code_explanations
		WHERE project_path = ? ORDER BY updated_at DESC LIMIT ?`, projectPath, limit)
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "list explanations", err)
	}
	defer rows.Close()

	var out []*CodeExplanation
	for rows.Next() {
		e, err := scanExplanation(rows.Scan)
		if err != nil {
			return nil, memerrors.StoreErr(memerrors.StoreOther, "scan explanation", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordExplanationFeedback(ctx context.Context, projectPath, id string, helpful bool) error {
	column := "unhelpful_count"
	if helpful {
		column = "helpful_count"
	}
	res, err := s.adapter.DB().ExecContext(ctx,
		`UPDATE code_explanations SET `+column+` = `+column+` + 1, updated_at = ?
		WHERE id = ? AND project_path = ?`, time.Now(), id, projectPath)
	if err != nil {
		return memerrors.StoreErr(memerrors.StoreOther, "record explanation feedback", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return memerrors.NotFound("explanation not found: " + id)
	}
	return nil
}

func (s *SQLiteStore) SavePromptLink(ctx context.Context, l *CodePromptLink) error {
	_, err := s.adapter.DB().ExecContext(ctx, `
		INSERT INTO code_prompt_links (id, project_path, explanation_id, memory_id, prompt, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			explanation_id = excluded.explanation_id,
			memory_id = excluded.memory_id,
			prompt = excluded.prompt`,
		l.ID, l.ProjectPath, l.ExplanationID, l.MemoryID, l.Prompt, l.CreatedAt)
	if err != nil {
		return memerrors.StoreErr(memerrors.StoreConstraint, "save prompt link", err)
	}
	return nil
}

func scanPromptLinks(rows *sql.Rows) ([]*CodePromptLink, error) {
	var out []*CodePromptLink
	for rows.Next() {
		var l CodePromptLink
		if err := rows.Scan(&l.ID, &l.ProjectPath, &l.ExplanationID, &l.MemoryID, &l.Prompt, &l.CreatedAt); err != nil {
			return nil, memerrors.StoreErr(memerrors.StoreOther, "scan prompt link", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetPromptLinksByExplanation(ctx context.Context, projectPath, explanationID string) ([]*CodePromptLink, error) {
	rows, err := s.adapter.DB().QueryContext(ctx, `
		SELECT id, project_path, explanation_id, memory_id, prompt, created_at
		FROM code_prompt_links WHERE project_path = ? AND explanation_id = ?
		ORDER BY created_at DESC`, projectPath, explanationID)
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "get prompt links by explanation", err)
	}
	defer rows.Close()
	return scanPromptLinks(rows)
}

func (s *SQLiteStore) GetPromptLinksByMemory(ctx context.Context, projectPath, memoryID string) ([]*CodePromptLink, error) {
	rows, err := s.adapter.DB().QueryContext(ctx, `
		SELECT id, project_path, explanation_id, memory_id, prompt, created_at
		FROM code_prompt_links WHERE project_path = ? AND memory_id = ?
		ORDER BY created_at DESC`, projectPath, memoryID)
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "get prompt links by memory", err)
	}
	defer rows.Close()
	return scanPromptLinks(rows)
}

func (s *SQLiteStore) TouchCodeAccess(ctx context.Context, projectPath, filePath string, at time.Time) error {
	_, err := s.adapter.DB().ExecContext(ctx, `
		INSERT INTO code_access_patterns (project_path, file_path, access_count, last_accessed)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(project_path, file_path) DO UPDATE SET
			access_count = access_count + 1,
			last_accessed = excluded.last_accessed`,
		projectPath, filePath, at)
	if err != nil {
		return memerrors.StoreErr(memerrors.StoreOther, "touch code access", err)
	}
	return nil
}

func (s *SQLiteStore) ListCodeAccessPatterns(ctx context.Context, projectPath string, limit int) ([]*CodeAccessPattern, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.adapter.DB().QueryContext(ctx, `
		SELECT project_path, file_path, access_count, last_accessed
		FROM code_access_patterns WHERE project_path = ?
		ORDER BY access_count DESC, file_path ASC LIMIT ?`, projectPath, limit)
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreOther, "list code access patterns", err)
	}
	defer rows.Close()

	var out []*CodeAccessPattern
	for rows.Next() {
		var p CodeAccessPattern
		var lastAccessed sql.NullTime
		if err := rows.Scan(&p.ProjectPath, &p.FilePath, &p.AccessCount, &lastAccessed); err != nil {
			return nil, memerrors.StoreErr(memerrors.StoreOther, "scan code access pattern", err)
		}
		if lastAccessed.Valid {
			p.LastAccessed = lastAccessed.Time
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
