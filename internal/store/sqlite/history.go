package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

// GetHistory returns the append-only audit log for a memory, newest first
// (events written within the same second are ordered by insertion), as
// surfaced at GET /api/memories/{id}/history.
func GetHistory(ctx context.Context, db *sql.DB, memoryID string, limit int) ([]types.HistoryEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, memory_id, event, old_content, new_content, changed_by, reason,
			metadata, actor_type, session_id, request_id, created_at
		FROM memory_history WHERE memory_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, memoryID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get history: %w", err)
	}
	defer rows.Close()

	var out []types.HistoryEvent
	for rows.Next() {
		var ev types.HistoryEvent
		var oldContent, newContent, changedBy, reason, sessionID, requestID sql.NullString
		var metaJSON []byte
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.MemoryID, &ev.Event, &oldContent, &newContent, &changedBy, &reason,
			&metaJSON, &ev.ActorType, &sessionID, &requestID, &createdAt); err != nil {
			return nil, err
		}
		ev.OldContent, ev.NewContent, ev.ChangedBy, ev.Reason = oldContent.String, newContent.String, changedBy.String, reason.String
		ev.SessionID, ev.RequestID = sessionID.String, requestID.String
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &ev.Metadata)
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			ev.CreatedAt = t
		}
		out = append(out, ev)
	}
	return out, nil
}

// WriteSystemHistory records a synthetic history event for a repair action
// that isn't tied to one memory (spec §4.J: "memory_id=\"system\", metadata
// naming the action, affected count, actor, reason").
func WriteSystemHistory(ctx context.Context, tx *sql.Tx, action string, affected int, actor, reason string) error {
	return writeHistory(ctx, tx, types.HistoryEvent{
		MemoryID:  "system",
		Event:     types.EventNone,
		ChangedBy: actor,
		Reason:    reason,
		Metadata:  map[string]interface{}{"action": action, "affected": affected},
		ActorType: types.ActorDaemon,
	})
}
