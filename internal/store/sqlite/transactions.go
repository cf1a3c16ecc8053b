package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

// Status is the tagged result of a transaction closure (spec §4.C: "Each
// returns a tagged status; none performs network I/O").
type Status string

const (
	StatusUpdated               Status = "updated"
	StatusNotFound              Status = "not_found"
	StatusDeleted               Status = "deleted"
	StatusAlreadyDeleted        Status = "already_deleted"
	StatusVersionConflict       Status = "version_conflict"
	StatusDuplicateContentHash  Status = "duplicate_content_hash"
	StatusNoChanges             Status = "no_changes"
	StatusPinnedRequiresForce   Status = "pinned_requires_force"
	StatusAutonomousForceDenied Status = "autonomous_force_denied"
	StatusRecovered             Status = "recovered"
	StatusNotDeleted            Status = "not_deleted"
	StatusRetentionExpired      Status = "retention_expired"
)

// MemoryPatch carries only the fields a caller wants changed; nil means
// leave as-is. ContentHash/NormalizedContent must be supplied by the
// caller when Content changes (spec §4.C Modify: "content hash and
// normalized content provided by caller").
type MemoryPatch struct {
	Content           *string
	NormalizedContent *string
	ContentHash       *string
	Type              *string
	Tags              *[]string
	Importance        *float64
	Pinned            *bool
	Who               *string
	Why               *string
	Project           *string
	UpdatedBy         string
}

// Decision is a semantic extraction decision applied via ApplyDecision
// (spec §4.C).
type Decision struct {
	Kind          string // "update" | "delete" | "merge"
	TargetID      string
	Content       *string
	NormContent   *string
	ContentHash   *string
	MergeSourceID string
}

// Ingest inserts a new memory. On a unique content_hash collision it
// returns StatusDuplicateContentHash along with the existing row's id
// instead of erroring (spec §4.F step 5: "On unique-hash collision, return
// the existing row's id and stop").
func Ingest(ctx context.Context, tx *sql.Tx, m *types.Memory, mctx types.MutationContext) (Status, string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	ts := formatTime(now())
	m.CreatedAt = now()
	m.UpdatedAt = m.CreatedAt
	m.Version = 1

	_, err := tx.ExecContext(ctx, `
		INSERT INTO memories (
			id, content, normalized_content, content_hash, type, tags, importance,
			pinned, is_deleted, version, access_count, who, why, project,
			created_at, updated_at, updated_by, source_type, source_id,
			embedding_model, extraction_status, extraction_model
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 1, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Content, m.NormalizedContent, m.ContentHash, m.Type, m.TagsString(), m.Importance,
		boolToInt(m.Pinned), m.Who, m.Why, m.Project, ts, ts, m.UpdatedBy, m.SourceType, m.SourceID,
		m.EmbeddingModel, m.ExtractionStatus, m.ExtractionModel,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			var existingID string
			lookupErr := tx.QueryRowContext(ctx,
				`SELECT id FROM memories WHERE content_hash = ? AND is_deleted = 0`, m.ContentHash,
			).Scan(&existingID)
			if lookupErr != nil {
				return "", "", fmt.Errorf("store: ingest dedupe lookup: %w", lookupErr)
			}
			return StatusDuplicateContentHash, existingID, nil
		}
		return "", "", fmt.Errorf("store: ingest: %w", err)
	}

	if err := writeHistory(ctx, tx, types.HistoryEvent{
		MemoryID: m.ID, Event: types.EventCreated, NewContent: m.Content,
		ChangedBy: m.UpdatedBy, ActorType: mctx.ActorType, SessionID: mctx.SessionID, RequestID: mctx.RequestID,
	}); err != nil {
		return "", "", err
	}
	return StatusUpdated, m.ID, nil
}

// Modify applies patch to the memory identified by id (spec §4.C Modify).
func Modify(ctx context.Context, tx *sql.Tx, id string, patch MemoryPatch, ifVersion *int, newEmbedding *types.Embedding, mctx types.MutationContext) (Status, error) {
	cur, err := loadMemoryForUpdate(ctx, tx, id)
	if err != nil {
		return "", err
	}
	if cur == nil {
		return StatusNotFound, nil
	}
	if cur.IsDeleted {
		return StatusDeleted, nil
	}
	if ifVersion != nil && *ifVersion != cur.Version {
		return StatusVersionConflict, nil
	}

	changedFields := []string{}
	contentChanged := false

	if patch.ContentHash != nil && *patch.ContentHash != cur.ContentHash {
		var collidingID string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM memories WHERE content_hash = ? AND is_deleted = 0 AND id != ?`,
			*patch.ContentHash, id,
		).Scan(&collidingID)
		if err == nil {
			return StatusDuplicateContentHash, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("store: modify collision check: %w", err)
		}
		contentChanged = true
	}

	next := *cur
	if patch.Content != nil {
		next.Content = *patch.Content
		changedFields = append(changedFields, "content")
	}
	if patch.NormalizedContent != nil {
		next.NormalizedContent = *patch.NormalizedContent
	}
	if patch.ContentHash != nil {
		next.ContentHash = *patch.ContentHash
	}
	if patch.Type != nil {
		next.Type = *patch.Type
		changedFields = append(changedFields, "type")
	}
	if patch.Tags != nil {
		next.Tags = types.NormalizeTags(*patch.Tags)
		changedFields = append(changedFields, "tags")
	}
	if patch.Importance != nil {
		next.Importance = *patch.Importance
		changedFields = append(changedFields, "importance")
	}
	if patch.Pinned != nil {
		next.Pinned = *patch.Pinned
		changedFields = append(changedFields, "pinned")
	}
	if patch.Who != nil {
		next.Who = *patch.Who
	}
	if patch.Why != nil {
		next.Why = *patch.Why
	}
	if patch.Project != nil {
		next.Project = *patch.Project
	}

	if len(changedFields) == 0 {
		return StatusNoChanges, nil
	}

	next.Version = cur.Version + 1
	next.UpdatedAt = now()
	next.UpdatedBy = patch.UpdatedBy
	if contentChanged {
		next.ExtractionStatus = types.ExtractionNone
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE memories SET
			content=?, normalized_content=?, content_hash=?, type=?, tags=?, importance=?,
			pinned=?, version=?, who=?, why=?, project=?, updated_at=?, updated_by=?, extraction_status=?
		WHERE id=?`,
		next.Content, next.NormalizedContent, next.ContentHash, next.Type, next.TagsString(), next.Importance,
		boolToInt(next.Pinned), next.Version, next.Who, next.Why, next.Project,
		formatTime(next.UpdatedAt), next.UpdatedBy, next.ExtractionStatus, id,
	)
	if err != nil {
		return "", fmt.Errorf("store: modify update: %w", err)
	}

	if contentChanged {
		if err := deleteStaleEmbeddings(ctx, tx, id, next.ContentHash); err != nil {
			return "", err
		}
		if newEmbedding != nil {
			if err := upsertEmbedding(ctx, tx, newEmbedding); err != nil {
				return "", err
			}
		}
	}

	meta, _ := json.Marshal(map[string]interface{}{"changed_fields": changedFields})
	if err := writeHistory(ctx, tx, types.HistoryEvent{
		MemoryID: id, Event: types.EventUpdated, OldContent: cur.Content, NewContent: next.Content,
		ChangedBy: next.UpdatedBy, Metadata: map[string]interface{}{"changed_fields": changedFields},
		ActorType: mctx.ActorType, SessionID: mctx.SessionID, RequestID: mctx.RequestID,
	}); err != nil {
		return "", err
	}
	_ = meta
	return StatusUpdated, nil
}

// Forget soft-deletes a memory (spec §4.C Forget).
func Forget(ctx context.Context, tx *sql.Tx, id string, force bool, reason string, ifVersion *int, mctx types.MutationContext) (Status, error) {
	cur, err := loadMemoryForUpdate(ctx, tx, id)
	if err != nil {
		return "", err
	}
	if cur == nil {
		return StatusNotFound, nil
	}
	if cur.IsDeleted {
		return StatusAlreadyDeleted, nil
	}
	if ifVersion != nil && *ifVersion != cur.Version {
		return StatusVersionConflict, nil
	}
	if cur.Pinned {
		if !force {
			return StatusPinnedRequiresForce, nil
		}
		if mctx.ActorType == types.ActorPipeline {
			return StatusAutonomousForceDenied, nil
		}
	}

	deletedAt := now()
	_, err = tx.ExecContext(ctx, `
		UPDATE memories SET is_deleted=1, deleted_at=?, version=?, updated_at=? WHERE id=?`,
		formatTime(deletedAt), cur.Version+1, formatTime(deletedAt), id,
	)
	if err != nil {
		return "", fmt.Errorf("store: forget: %w", err)
	}

	if err := writeHistory(ctx, tx, types.HistoryEvent{
		MemoryID: id, Event: types.EventDeleted, OldContent: cur.Content, Reason: reason,
		ActorType: mctx.ActorType, SessionID: mctx.SessionID, RequestID: mctx.RequestID,
	}); err != nil {
		return "", err
	}
	return StatusDeleted, nil
}

// Recover clears deletion flags on a soft-deleted row within the retention
// window (spec §4.C Recover).
func Recover(ctx context.Context, tx *sql.Tx, id string, retentionWindowMs int64, ifVersion *int, mctx types.MutationContext) (Status, error) {
	cur, err := loadMemoryForUpdate(ctx, tx, id)
	if err != nil {
		return "", err
	}
	if cur == nil {
		return StatusNotFound, nil
	}
	if !cur.IsDeleted {
		return StatusNotDeleted, nil
	}
	if ifVersion != nil && *ifVersion != cur.Version {
		return StatusVersionConflict, nil
	}
	if cur.DeletedAt != nil && now().Sub(*cur.DeletedAt).Milliseconds() > retentionWindowMs {
		return StatusRetentionExpired, nil
	}

	ts := formatTime(now())
	_, err = tx.ExecContext(ctx, `
		UPDATE memories SET is_deleted=0, deleted_at=NULL, version=?, updated_at=? WHERE id=?`,
		cur.Version+1, ts, id,
	)
	if err != nil {
		return "", fmt.Errorf("store: recover: %w", err)
	}

	if err := writeHistory(ctx, tx, types.HistoryEvent{
		MemoryID: id, Event: types.EventRecovered,
		ActorType: mctx.ActorType, SessionID: mctx.SessionID, RequestID: mctx.RequestID,
	}); err != nil {
		return "", err
	}
	return StatusRecovered, nil
}

// ApplyDecision applies a semantic extraction decision: update, delete, or
// merge (spec §4.C ApplyDecision). Merge updates the target and
// soft-deletes the source, writing both history events. Silently skips
// pinned sources.
func ApplyDecision(ctx context.Context, tx *sql.Tx, d Decision, mctx types.MutationContext) (Status, error) {
	cur, err := loadMemoryForUpdate(ctx, tx, d.TargetID)
	if err != nil {
		return "", err
	}
	if cur == nil {
		return StatusNotFound, nil
	}
	if cur.Pinned {
		return StatusNoChanges, nil
	}

	switch d.Kind {
	case "delete":
		return Forget(ctx, tx, d.TargetID, true, "extraction_decision", nil, mctx)
	case "update":
		patch := MemoryPatch{Content: d.Content, NormalizedContent: d.NormContent, ContentHash: d.ContentHash, UpdatedBy: "pipeline"}
		return Modify(ctx, tx, d.TargetID, patch, nil, nil, mctx)
	case "merge":
		patch := MemoryPatch{Content: d.Content, NormalizedContent: d.NormContent, ContentHash: d.ContentHash, UpdatedBy: "pipeline"}
		status, err := Modify(ctx, tx, d.TargetID, patch, nil, nil, mctx)
		if err != nil || (status != StatusUpdated && status != StatusNoChanges) {
			return status, err
		}
		srcStatus, err := Forget(ctx, tx, d.MergeSourceID, true, "merged_into:"+d.TargetID, nil, mctx)
		if err != nil {
			return "", err
		}
		if err := writeHistory(ctx, tx, types.HistoryEvent{
			MemoryID: d.MergeSourceID, Event: types.EventMerged, Reason: "merged_into:" + d.TargetID,
			ActorType: mctx.ActorType, SessionID: mctx.SessionID, RequestID: mctx.RequestID,
		}); err != nil {
			return "", err
		}
		_ = srcStatus
		return StatusUpdated, nil
	default:
		return "", fmt.Errorf("store: apply decision: unknown kind %q", d.Kind)
	}
}

// FinalizeAccess batch-bumps access_count/last_accessed for ids (spec §4.C
// FinalizeAccess). Best-effort: failures are returned, but callers are
// expected to log-and-continue per spec §4.G step 8.
func FinalizeAccess(ctx context.Context, tx *sql.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ts := formatTime(now())
	stmt, err := tx.PrepareContext(ctx, `UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("store: finalize access prepare: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, ts, id); err != nil {
			return fmt.Errorf("store: finalize access %s: %w", id, err)
		}
	}
	return nil
}

func writeHistory(ctx context.Context, tx *sql.Tx, ev types.HistoryEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	var metaJSON []byte
	if ev.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("store: marshal history metadata: %w", err)
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_history (
			id, memory_id, event, old_content, new_content, changed_by, reason,
			metadata, actor_type, session_id, request_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.MemoryID, ev.Event, nullIfEmpty(ev.OldContent), nullIfEmpty(ev.NewContent),
		nullIfEmpty(ev.ChangedBy), nullIfEmpty(ev.Reason), metaJSON, ev.ActorType,
		nullIfEmpty(ev.SessionID), nullIfEmpty(ev.RequestID), formatTime(now()),
	)
	if err != nil {
		return fmt.Errorf("store: write history: %w", err)
	}
	return nil
}

func deleteStaleEmbeddings(ctx context.Context, tx *sql.Tx, memoryID, keepHash string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM embeddings WHERE source_type='memory' AND source_id=? AND content_hash != ?`, memoryID, keepHash)
	if err != nil {
		return fmt.Errorf("store: select stale embeddings: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE id=?`, id); err != nil {
			return fmt.Errorf("store: delete stale embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_embeddings WHERE id=?`, id); err != nil {
			return fmt.Errorf("store: delete stale vec index row: %w", err)
		}
	}
	return nil
}

func upsertEmbedding(ctx context.Context, tx *sql.Tx, e *types.Embedding) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	blob := encodeVector(e.Vector)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO embeddings (id, content_hash, vector, dimensions, source_type, source_id, chunk_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			vector=excluded.vector, dimensions=excluded.dimensions, source_id=excluded.source_id,
			chunk_text=excluded.chunk_text`,
		e.ID, e.ContentHash, blob, e.Dimensions, e.SourceType, e.SourceID, e.ChunkText, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: upsert embedding: %w", err)
	}

	// ON CONFLICT(content_hash) keeps the original row's id rather than
	// e.ID, so the vec_embeddings mirror must be keyed off the surviving
	// id. Using e.ID unconditionally here would, on a model-drift
	// re-embed of unchanged content, leave the old vec row in place and
	// add an orphaned row under the new id vec_embeddings never cleans up.
	survivingID := e.ID
	if err := tx.QueryRowContext(ctx, `SELECT id FROM embeddings WHERE content_hash=?`, e.ContentHash).Scan(&survivingID); err != nil {
		return fmt.Errorf("store: resolve embedding id: %w", err)
	}
	e.ID = survivingID

	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_embeddings WHERE id=?`, survivingID); err != nil {
		return fmt.Errorf("store: clear stale vec index row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vec_embeddings (id, embedding) VALUES (?, ?)`, survivingID, blob,
	); err != nil {
		return fmt.Errorf("store: mirror vec index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE memories SET embedding_model=? WHERE id=?`, e.Model, e.SourceID); err != nil {
		return fmt.Errorf("store: update embedding_model: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint")
}
