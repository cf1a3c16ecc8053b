package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

// RecordSessionCandidates persists one row per recalled memory considered
// for a session (spec §4.K: "records (sessionKey, memoryId, score,
// source, injected) rows keyed by session").
func RecordSessionCandidates(ctx context.Context, tx *sql.Tx, sessionKey string, candidates []types.SessionCandidateRecord) error {
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO session_candidates (id, session_key, memory_id, score, source, injected, fts_hit, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	createdAt := formatTime(now())
	for _, c := range candidates {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, id, sessionKey, c.MemoryID, c.Score, c.Source, boolToInt(c.Injected), boolToInt(c.FtsHit), createdAt); err != nil {
			return err
		}
	}
	return nil
}

// TrackFtsHits flips fts_hit=1 on the most recent session_candidates rows
// for sessionKey whose memory_id appears in ids (spec §4.K:
// "trackFtsHits(sessionKey, ids) later flags which of those were
// revisited by keyword search").
func TrackFtsHits(ctx context.Context, tx *sql.Tx, sessionKey string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := inClause(ids)
	args = append([]interface{}{sessionKey}, args...)
	_, err := tx.ExecContext(ctx, `
UPDATE session_candidates SET fts_hit = 1
WHERE session_key = ? AND memory_id IN (`+placeholders+`)`, args...)
	return err
}

// SessionCandidatesSince returns every candidate row recorded for
// sessionKey, newest first, used by diagnostics and by recall to avoid
// re-recording identical rows within one request.
func SessionCandidatesSince(ctx context.Context, db *sql.DB, sessionKey string, limit int) ([]types.SessionCandidateRecord, error) {
	rows, err := db.QueryContext(ctx, `
SELECT id, session_key, memory_id, score, source, injected, fts_hit, created_at
FROM session_candidates
WHERE session_key = ?
ORDER BY created_at DESC
LIMIT ?`, sessionKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.SessionCandidateRecord
	for rows.Next() {
		var c types.SessionCandidateRecord
		var injected, ftsHit int
		var createdAt string
		if err := rows.Scan(&c.ID, &c.SessionKey, &c.MemoryID, &c.Score, &c.Source, &injected, &ftsHit, &createdAt); err != nil {
			return nil, err
		}
		c.Injected = injected != 0
		c.FtsHit = ftsHit != 0
		if t, perr := time.Parse(time.RFC3339, createdAt); perr == nil {
			c.CreatedAt = t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
