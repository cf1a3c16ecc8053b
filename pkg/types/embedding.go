package types

import "time"

// Embedding is a dense vector attached to a memory's current content hash.
// At most one row exists per (source_id, content_hash) pair; stale rows are
// deleted whenever the owning memory's content changes (spec §3).
type Embedding struct {
	ID          string    `json:"id"`
	ContentHash string    `json:"content_hash"`
	Vector      []float32 `json:"-"`
	Dimensions  int       `json:"dimensions"`
	Model       string    `json:"model"`
	SourceType  string    `json:"source_type"`
	SourceID    string    `json:"source_id"`
	ChunkText   string    `json:"chunk_text,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// EmbeddingSourceMemory is the only SourceType the core currently produces.
const EmbeddingSourceMemory = "memory"
