package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ActiveMemoryCount and FTSRowCount back the checkFtsConsistency repair
// action and the embedding-coverage diagnostic (spec §4.J, §4.M).
func ActiveMemoryCount(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE is_deleted = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: active memory count: %w", err)
	}
	return n, nil
}

func FTSRowCount(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories_fts`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: fts row count: %w", err)
	}
	return n, nil
}

// RebuildFTS runs FTS5's built-in 'rebuild' command, re-deriving the index
// from the memories table (spec §4.J checkFtsConsistency repair=true).
func RebuildFTS(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO memories_fts(memories_fts) VALUES ('rebuild')`)
	if err != nil {
		return fmt.Errorf("store: rebuild fts: %w", err)
	}
	return nil
}

// EmbeddingCoverage returns (embedded active memory count, active memory
// count) for the embedding coverage diagnostic (spec §4.M).
func EmbeddingCoverage(ctx context.Context, db *sql.DB) (embedded int, active int, err error) {
	if err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE is_deleted = 0`).Scan(&active); err != nil {
		return 0, 0, fmt.Errorf("store: embedding coverage active count: %w", err)
	}
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT m.id) FROM memories m
		JOIN embeddings e ON e.source_id = m.id
		WHERE m.is_deleted = 0`).Scan(&embedded)
	if err != nil {
		return 0, 0, fmt.Errorf("store: embedding coverage embedded count: %w", err)
	}
	return embedded, active, nil
}

// DimensionMismatchCount counts embeddings whose recorded dimensions differ
// from configuredDims (spec §4.M dimension mismatch check).
func DimensionMismatchCount(ctx context.Context, db *sql.DB, configuredDims int) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE dimensions != ?`, configuredDims).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: dimension mismatch count: %w", err)
	}
	return n, nil
}

// DistinctEmbeddingModels returns the set of distinct non-empty
// embedding_model values across active memories (spec §4.M model drift
// check: "multiple distinct embedding_model values").
func DistinctEmbeddingModels(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT embedding_model FROM memories WHERE is_deleted = 0 AND embedding_model IS NOT NULL AND embedding_model != ''`)
	if err != nil {
		return nil, fmt.Errorf("store: distinct embedding models: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// NullOrEmptyVectorCount counts embedding rows whose vector blob is
// missing or zero-length (spec §4.M null/empty vectors check).
func NullOrEmptyVectorCount(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE vector IS NULL OR length(vector) = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: null/empty vector count: %w", err)
	}
	return n, nil
}

// VecIndexParity returns (embeddings row count, vec_embeddings row count)
// for the vector-index parity check (spec §4.M).
func VecIndexParity(ctx context.Context, db *sql.DB) (embeddings int, vecIndex int, err error) {
	if err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&embeddings); err != nil {
		return 0, 0, fmt.Errorf("store: vec parity embeddings count: %w", err)
	}
	if err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vec_embeddings`).Scan(&vecIndex); err != nil {
		return 0, 0, fmt.Errorf("store: vec parity index count: %w", err)
	}
	return embeddings, vecIndex, nil
}

// OrphanedEmbeddingCount counts embedding rows whose source memory is
// missing or soft-deleted (spec §4.M orphaned embeddings check).
func OrphanedEmbeddingCount(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM embeddings e
		LEFT JOIN memories m ON m.id = e.source_id
		WHERE m.id IS NULL OR m.is_deleted = 1`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: orphaned embedding count: %w", err)
	}
	return n, nil
}

// UnembeddedActiveMemories returns active memories with no embedding at
// all, or whose embedding's content_hash doesn't match the current hash, or
// whose recorded embedding_model differs from configuredModel — the scan
// driving both the embedding tracker and reembedMissingMemories (spec
// §4.I, §4.J).
func UnembeddedActiveMemories(ctx context.Context, db *sql.DB, configuredModel string, limit int) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT m.id FROM memories m
		LEFT JOIN embeddings e ON e.source_id = m.id AND e.content_hash = m.content_hash
		WHERE m.is_deleted = 0 AND (e.id IS NULL OR m.embedding_model IS NULL OR m.embedding_model != ?)
		LIMIT ?`, configuredModel, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: unembedded active memories: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SweepRetention hard-deletes soft-deleted rows (and their embeddings/
// vec-index rows) past the retention window, in one transaction per batch
// (spec §5 "Retention window").
func SweepRetention(ctx context.Context, tx *sql.Tx, retentionWindowMs int64, batchSize int) (int, error) {
	cutoff := formatTime(now().Add(-time.Duration(retentionWindowMs) * time.Millisecond))
	rows, err := tx.QueryContext(ctx, `SELECT id FROM memories WHERE is_deleted = 1 AND deleted_at <= ? LIMIT ?`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("store: sweep retention select: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_embeddings WHERE id IN (SELECT id FROM embeddings WHERE source_id = ?)`, id); err != nil {
			return 0, fmt.Errorf("store: sweep retention vec index: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE source_id = ?`, id); err != nil {
			return 0, fmt.Errorf("store: sweep retention embeddings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("store: sweep retention memory: %w", err)
		}
	}
	return len(ids), nil
}
