package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

// UpsertEntity finds-or-creates an entity by name, generalizing the
// teacher's pkg/types/entity.go node shape into the tiny graph spec §4.G
// needs for decision/rationale linking.
func UpsertEntity(ctx context.Context, tx *sql.Tx, name, entityType string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM entities WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("store: lookup entity: %w", err)
	}
	id = uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO entities (id, name, type) VALUES (?, ?, ?)`, id, name, entityType); err != nil {
		return "", fmt.Errorf("store: insert entity: %w", err)
	}
	return id, nil
}

// RecordMention links a memory to an entity (idempotent per pair).
func RecordMention(ctx context.Context, tx *sql.Tx, memoryID, entityID string) error {
	var existing string
	err := tx.QueryRowContext(ctx, `SELECT id FROM entity_mentions WHERE memory_id = ? AND entity_id = ?`, memoryID, entityID).Scan(&existing)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("store: lookup mention: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO entity_mentions (id, memory_id, entity_id) VALUES (?, ?, ?)`, uuid.NewString(), memoryID, entityID)
	if err != nil {
		return fmt.Errorf("store: insert mention: %w", err)
	}
	return nil
}

// EntitiesForMemories returns the distinct entity ids mentioned by any of
// the given memory ids.
func EntitiesForMemories(ctx context.Context, db *sql.DB, memoryIDs []string) ([]string, error) {
	if len(memoryIDs) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(memoryIDs)
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT entity_id FROM entity_mentions WHERE memory_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: entities for memories: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// MemoriesForEntities returns active memories of memType that mention any
// of the given entity ids, excluding excludeIDs, up to limit rows. Used by
// decision→rationale linking (spec §4.G step 9).
func MemoriesForEntities(ctx context.Context, db *sql.DB, entityIDs []string, memType string, excludeIDs []string, limit int) ([]*types.Memory, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	entityPlaceholders, entityArgs := inClause(entityIDs)
	query := memorySelectColumns + ` FROM memories
		WHERE is_deleted = 0 AND type = ?
		AND id IN (SELECT DISTINCT memory_id FROM entity_mentions WHERE entity_id IN (` + entityPlaceholders + `))`
	args := append([]interface{}{memType}, entityArgs...)

	if len(excludeIDs) > 0 {
		excPlaceholders, excArgs := inClause(excludeIDs)
		query += ` AND id NOT IN (` + excPlaceholders + `)`
		args = append(args, excArgs...)
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: memories for entities: %w", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func inClause(vals []string) (string, []interface{}) {
	placeholders := ""
	args := make([]interface{}, len(vals))
	for i, v := range vals {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = v
	}
	return placeholders, args
}
