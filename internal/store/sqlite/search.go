package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Filters mirrors the filter surface of recall/search (spec §4.G): type,
// tags (any-of), who, pinned, importance_min, since, until.
type Filters struct {
	Type          string
	Tags          []string
	Who           string
	Pinned        *bool
	ImportanceMin float64
	Since         *time.Time
	Until         *time.Time
}

func (f Filters) whereClause() (string, []interface{}) {
	clause := "is_deleted = 0"
	var args []interface{}

	if f.Type != "" {
		clause += " AND type = ?"
		args = append(args, f.Type)
	}
	if f.Who != "" {
		clause += " AND who = ?"
		args = append(args, f.Who)
	}
	if f.Pinned != nil {
		clause += " AND pinned = ?"
		args = append(args, boolToInt(*f.Pinned))
	}
	if f.ImportanceMin > 0 {
		clause += " AND importance >= ?"
		args = append(args, f.ImportanceMin)
	}
	if f.Since != nil {
		clause += " AND created_at >= ?"
		args = append(args, formatTime(*f.Since))
	}
	if f.Until != nil {
		clause += " AND created_at <= ?"
		args = append(args, formatTime(*f.Until))
	}
	if len(f.Tags) > 0 {
		tagClause := "("
		for i, t := range f.Tags {
			if i > 0 {
				tagClause += " OR "
			}
			tagClause += "tags LIKE ?"
			args = append(args, "%"+t+"%")
		}
		tagClause += ")"
		clause += " AND " + tagClause
	}
	return clause, args
}

// KeywordSearch runs the FTS5 BM25 pass described in spec §4.G step 1: MATCH
// against memories_fts, filtered, ordered by bm25 ascending (best first),
// capped at topK. Returns ids with their raw bm25 score (more negative is a
// better match, per SQLite's bm25() convention).
func KeywordSearch(ctx context.Context, db *sql.DB, query string, filters Filters, topK int) (map[string]float64, error) {
	ftsQuery := sanitizeFTSQuery(query)
	where, args := filters.whereClause()

	sqlText := `
		SELECT m.id, bm25(memories_fts) AS rank
		FROM memories_fts fts
		JOIN memories m ON m.rowid = fts.rowid
		WHERE memories_fts MATCH ? AND ` + where + `
		ORDER BY rank
		LIMIT ?`
	queryArgs := append([]interface{}{ftsQuery}, args...)
	queryArgs = append(queryArgs, topK)

	rows, err := db.QueryContext(ctx, sqlText, queryArgs...)
	if err != nil {
		// Fuzzy OR-relaxation fallback: a malformed prefix match or an
		// all-stopword query can still error; retry once with bare OR terms.
		relaxed := relaxQuery(query)
		if relaxed == "" || relaxed == ftsQuery {
			return nil, fmt.Errorf("store: keyword search: %w", err)
		}
		rows, err = db.QueryContext(ctx, sqlText, append([]interface{}{relaxed}, append(args, topK)...)...)
		if err != nil {
			return nil, fmt.Errorf("store: keyword search (relaxed): %w", err)
		}
	}
	defer rows.Close()

	hits := map[string]float64{}
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, err
		}
		hits[id] = rank
	}
	return hits, nil
}

// EmbeddingCandidate is a stored vector plus the memory it belongs to, for
// in-process cosine ranking — mirroring the teacher's VectorSearch, which
// also loads embeddings into Go memory and ranks client-side rather than
// relying on a native ANN index (spec has no ANN requirement at this
// scale).
type EmbeddingCandidate struct {
	MemoryID string
	Vector   []float32
}

// VectorCandidates loads up to topK embeddings (most recent first) for
// client-side cosine ranking, optionally filtered by type. This backs the
// vector pass (spec §4.G step 2) and /memory/similar.
func VectorCandidates(ctx context.Context, db *sql.DB, memType string, topK int) ([]EmbeddingCandidate, error) {
	sqlText := `
		SELECT e.source_id, e.vector, e.dimensions
		FROM embeddings e
		JOIN memories m ON m.id = e.source_id
		WHERE m.is_deleted = 0`
	var args []interface{}
	if memType != "" {
		sqlText += ` AND m.type = ?`
		args = append(args, memType)
	}
	sqlText += ` ORDER BY e.created_at DESC LIMIT ?`
	args = append(args, topK)

	rows, err := db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("store: vector candidates: %w", err)
	}
	defer rows.Close()

	var out []EmbeddingCandidate
	for rows.Next() {
		var id string
		var blob []byte
		var dims int
		if err := rows.Scan(&id, &blob, &dims); err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob, dims)
		if err != nil {
			continue
		}
		out = append(out, EmbeddingCandidate{MemoryID: id, Vector: vec})
	}
	return out, nil
}

// GetEmbeddingByMemoryID fetches the current embedding vector for a memory,
// used by /memory/similar to seed the query vector from a stored memory
// rather than re-embedding text.
func GetEmbeddingByMemoryID(ctx context.Context, db *sql.DB, memoryID string) ([]float32, error) {
	var blob []byte
	var dims int
	err := db.QueryRowContext(ctx, `SELECT vector, dimensions FROM embeddings WHERE source_id = ? ORDER BY created_at DESC LIMIT 1`, memoryID).Scan(&blob, &dims)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get embedding by memory: %w", err)
	}
	return decodeVector(blob, dims)
}

var ftsSpecialChars = strings.NewReplacer(
	`"`, " ", `'`, " ", `(`, " ", `)`, " ", `*`, " ", `-`, " ", `^`, " ", `?`, " ", `:`, " ",
)

var ftsStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "might": true, "shall": true, "can": true, "to": true,
	"of": true, "in": true, "on": true, "at": true, "by": true, "for": true, "with": true,
	"from": true, "as": true, "about": true, "into": true, "through": true, "and": true,
	"or": true, "but": true, "if": true, "not": true, "this": true, "that": true,
}

// sanitizeFTSQuery turns free-form user text into a safe FTS5 MATCH
// expression: strip operator characters, lowercase, drop stop words, and OR
// together prefix terms (spec doesn't mandate a query grammar; this follows
// the teacher's search_provider.go sanitiseFTSQuery exactly for the same
// reason it exists there — FTS5 syntax errors on unbalanced quotes/operator
// keywords in raw input).
func sanitizeFTSQuery(query string) string {
	cleaned := ftsSpecialChars.Replace(query)
	words := strings.Fields(strings.ToLower(cleaned))

	var terms []string
	for _, w := range words {
		if !ftsStopWords[w] && len(w) >= 2 {
			terms = append(terms, w+"*")
		}
	}
	if len(terms) == 0 {
		return strings.ToLower(strings.TrimSpace(cleaned))
	}
	return strings.Join(terms, " OR ")
}

// relaxQuery is the fuzzy fallback: split into bare terms OR'd together,
// dropping the prefix-match suffix entirely.
func relaxQuery(query string) string {
	cleaned := ftsSpecialChars.Replace(query)
	words := strings.Fields(strings.ToLower(cleaned))
	if len(words) < 2 {
		return ""
	}
	return strings.Join(words, " OR ")
}
