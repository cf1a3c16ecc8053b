// Package pgvec is an optional Postgres/pgvector-backed mirror of the
// vector index, used in place of the default SQLite vec_embeddings virtual
// table when storage.vectorIndex is set to "postgres". It never holds
// memory content or metadata — SQLite stays the single source of truth
// (spec §3) — it only mirrors (memory_id, vector) pairs so ANN candidate
// lookups can run against pgvector's ivfflat index instead of the
// client-side cosine ranking in internal/store/sqlite's VectorCandidates.
//
// Generalized from the teacher's internal/storage/postgres package, which
// runs a full alternate MemoryStore behind the same storage interfaces;
// here the scope is reduced to the embedding_provider.go/search_provider.go
// vector concerns only, since nothing else in this system needs a second
// backend.
package pgvec

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Index is a pgvector-backed mirror of the memory vector index.
type Index struct {
	db *sql.DB
}

// Open connects to the Postgres DSN and ensures the mirror schema exists.
func Open(ctx context.Context, dsn string) (*Index, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvec: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgvec: ping: %w", err)
	}

	idx := &Index{db: db}
	if err := idx.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// Close releases the underlying connection pool.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// ensureSchema creates the pgvector extension and mirror table if absent.
// Dimension is not fixed at table-creation time — pgvector's vector column
// is declared without a dimension bound, matching vectors of any size the
// embedding provider produces.
func (idx *Index) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS vec_mirror (
			memory_id  TEXT PRIMARY KEY,
			mem_type   TEXT NOT NULL DEFAULT '',
			embedding  vector,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vec_mirror_type ON vec_mirror(mem_type)`,
	}
	for _, s := range stmts {
		if _, err := idx.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("pgvec: ensure schema: %w", err)
		}
	}
	return nil
}

// EnsureANNIndex creates the ANN index once the mirror has enough rows to
// make ivfflat training worthwhile (pgvector recommends building it after
// the table is populated, not on an empty table). Open does not call it,
// and no daemon code path does either; it runs only when called explicitly.
func (idx *Index) EnsureANNIndex(ctx context.Context) error {
	_, err := idx.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_vec_mirror_cosine
		ON vec_mirror USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)
	`)
	if err != nil {
		return fmt.Errorf("pgvec: ensure ann index: %w", err)
	}
	return nil
}
