package pgvec

import (
	"context"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"
)

// Upsert mirrors a memory's embedding into the Postgres index, replacing
// any prior vector for the same memory_id — the pgvec analogue of the
// teacher's EmbeddingProvider.StoreEmbedding, reduced to the columns an ANN
// candidate lookup actually needs.
func (idx *Index) Upsert(ctx context.Context, memoryID, memType string, vector []float32) error {
	if memoryID == "" {
		return fmt.Errorf("pgvec: memory ID is required")
	}
	if len(vector) == 0 {
		return fmt.Errorf("pgvec: vector cannot be empty")
	}

	vec := pgvector.NewVector(vector)
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO vec_mirror (memory_id, mem_type, embedding, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (memory_id) DO UPDATE SET
			mem_type = excluded.mem_type,
			embedding = excluded.embedding,
			updated_at = now()
	`, memoryID, memType, vec)
	if err != nil {
		return fmt.Errorf("pgvec: upsert %s: %w", memoryID, err)
	}
	return nil
}

// Delete removes a memory's mirrored vector. Deleting a memory_id that
// isn't present is not an error. The API's forget handler calls it after a
// successful soft-delete; deletions made elsewhere in the sqlite store
// (extraction decisions, retention sweeps) are not mirrored through it.
func (idx *Index) Delete(ctx context.Context, memoryID string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM vec_mirror WHERE memory_id = $1`, memoryID)
	if err != nil {
		return fmt.Errorf("pgvec: delete %s: %w", memoryID, err)
	}
	return nil
}

// Query runs an ANN cosine-distance search against the mirror, optionally
// filtered by memory type, and returns memory_id -> cosine similarity —
// the pgvec analogue of the teacher's VectorSearch, reduced to returning
// candidate IDs plus a score rather than full memory rows, since
// internal/recall always re-fetches memories from the sqlite store of
// record afterward. This signature matches internal/recall.VectorIndex so
// an *Index can be passed directly to recall.New without an adapter.
func (idx *Index) Query(ctx context.Context, vector []float32, memType string, topK int) (map[string]float64, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}
	vec := pgvector.NewVector(vector)

	sqlText := `SELECT memory_id, embedding <=> $1 AS distance FROM vec_mirror`
	args := []interface{}{vec}
	if memType != "" {
		sqlText += ` WHERE mem_type = $2 ORDER BY distance LIMIT $3`
		args = append(args, memType, topK)
	} else {
		sqlText += ` ORDER BY distance LIMIT $2`
		args = append(args, topK)
	}

	rows, err := idx.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvec: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var memoryID string
		var distance float64
		if err := rows.Scan(&memoryID, &distance); err != nil {
			return nil, fmt.Errorf("pgvec: scan: %w", err)
		}
		// pgvector's <=> cosine-distance operator returns 1 - cosine
		// similarity, so similarity is the complement.
		out[memoryID] = 1 - distance
	}
	return out, rows.Err()
}
