package sqlite

import (
	"context"
	"database/sql"

	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

// UpsertEmbeddingTx inserts or replaces an embedding row keyed by its
// content hash and mirrors the write into the vec_embeddings index table,
// exposed for callers outside this package (the ingest pipeline's async
// embed step, the embedding tracker's batched backfill, and the
// reembedMissingMemories repair action) that need to write an embedding
// without going through the full Modify closure.
func UpsertEmbeddingTx(ctx context.Context, tx *sql.Tx, e *types.Embedding) error {
	return upsertEmbedding(ctx, tx, e)
}

// DeleteStaleEmbeddingsTx removes every embedding row for memoryID whose
// content_hash no longer matches keepHash, mirroring the deletion into
// vec_embeddings (spec §3: "stale rows are deleted when hash changes").
func DeleteStaleEmbeddingsTx(ctx context.Context, tx *sql.Tx, memoryID, keepHash string) error {
	return deleteStaleEmbeddings(ctx, tx, memoryID, keepHash)
}
