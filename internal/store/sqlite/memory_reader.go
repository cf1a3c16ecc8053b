package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

// loadMemoryForUpdate reads one row by id within the current write
// transaction, returning nil (no error) when the id doesn't exist.
func loadMemoryForUpdate(ctx context.Context, tx *sql.Tx, id string) (*types.Memory, error) {
	row := tx.QueryRowContext(ctx, memorySelectColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load memory %s: %w", id, err)
	}
	return m, nil
}

// GetMemory reads one active-or-deleted row by id via the read pool.
func GetMemory(ctx context.Context, db *sql.DB, id string) (*types.Memory, error) {
	row := db.QueryRowContext(ctx, memorySelectColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get memory %s: %w", id, err)
	}
	return m, nil
}

// GetMemoriesByIDs loads the full rows for a set of ids, preserving no
// particular order — callers re-order by their own ranking.
func GetMemoriesByIDs(ctx context.Context, db *sql.DB, ids []string) (map[string]*types.Memory, error) {
	if len(ids) == 0 {
		return map[string]*types.Memory{}, nil
	}
	placeholders, args := inClause(ids)
	rows, err := db.QueryContext(ctx, memorySelectColumns+` FROM memories WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get memories by ids: %w", err)
	}
	defer rows.Close()

	out := map[string]*types.Memory{}
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, nil
}

// ListMemories returns a page of active memories ordered by created_at
// descending, plus the total active count (spec §6 GET /api/memories).
func ListMemories(ctx context.Context, db *sql.DB, limit, offset int) ([]*types.Memory, int, error) {
	rows, err := db.QueryContext(ctx, memorySelectColumns+` FROM memories WHERE is_deleted = 0 ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list memories: %w", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE is_deleted = 0`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count memories: %w", err)
	}
	return out, total, nil
}

const memorySelectColumns = `SELECT
	id, content, normalized_content, content_hash, type, tags, importance, pinned,
	is_deleted, deleted_at, version, access_count, last_accessed, who, why, project,
	created_at, updated_at, updated_by, source_type, source_id, embedding_model,
	extraction_status, extraction_model`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var m types.Memory
	var tags string
	var pinnedInt, deletedInt int
	var deletedAt, lastAccessed sql.NullString
	var who, why, project, updatedBy, sourceType, sourceID, embeddingModel, extractionModel sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(
		&m.ID, &m.Content, &m.NormalizedContent, &m.ContentHash, &m.Type, &tags, &m.Importance, &pinnedInt,
		&deletedInt, &deletedAt, &m.Version, &m.AccessCount, &lastAccessed, &who, &why, &project,
		&createdAt, &updatedAt, &updatedBy, &sourceType, &sourceID, &embeddingModel,
		&m.ExtractionStatus, &extractionModel,
	); err != nil {
		return nil, err
	}

	m.Tags = types.SplitTags(tags)
	m.Pinned = pinnedInt != 0
	m.IsDeleted = deletedInt != 0
	m.Who, m.Why, m.Project = who.String, why.String, project.String
	m.UpdatedBy, m.SourceType, m.SourceID = updatedBy.String, sourceType.String, sourceID.String
	m.EmbeddingModel, m.ExtractionModel = embeddingModel.String, extractionModel.String

	if deletedAt.Valid {
		t, err := time.Parse(time.RFC3339, deletedAt.String)
		if err == nil {
			m.DeletedAt = &t
		}
	}
	if lastAccessed.Valid {
		t, err := time.Parse(time.RFC3339, lastAccessed.String)
		if err == nil {
			m.LastAccessed = &t
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		m.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		m.UpdatedAt = t
	}
	return &m, nil
}
