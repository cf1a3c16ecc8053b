package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/Signet-AI/signetai-sub002/internal/apierr"
	"github.com/Signet-AI/signetai-sub002/internal/ingest"
	"github.com/Signet-AI/signetai-sub002/internal/recall"
	"github.com/Signet-AI/signetai-sub002/internal/store/sqlite"
	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

// defaultRetentionWindowMs bounds how long a soft-deleted memory can be
// recovered; spec §4.E's guardrails block doesn't name a retentionWindowMs
// key, so this is a re-tunable default, same decision already recorded for
// session.CheckpointConfig.
const defaultRetentionWindowMs = 30 * 24 * 60 * 60 * 1000

func mutationContext(actorType, sessionID, requestID string) types.MutationContext {
	if actorType == "" {
		actorType = types.ActorAgent
	}
	return types.MutationContext{ActorType: actorType, SessionID: sessionID, RequestID: requestID}
}

// rememberRequest is the body of POST /api/memory/remember (spec §6).
type rememberRequest struct {
	Content    string   `json:"content"`
	Who        string   `json:"who,omitempty"`
	Project    string   `json:"project,omitempty"`
	Importance *float64 `json:"importance,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Pinned     *bool    `json:"pinned,omitempty"`
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	var req rememberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "content is required", nil)
		return
	}

	res, err := s.ingest.Remember(r.Context(), ingest.Input{
		Raw: req.Content, Who: req.Who, Project: req.Project,
		Importance: req.Importance, Tags: req.Tags, Pinned: req.Pinned,
		SourceType: "api",
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to remember", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id": res.ID, "type": res.Type, "tags": res.Tags, "pinned": res.Pinned,
		"importance": res.Importance, "content": res.Content, "embedded": res.Embedded,
	})
}

func filtersFromQuery(q map[string][]string) sqlite.Filters {
	get := func(k string) string {
		v := q[k]
		if len(v) == 0 {
			return ""
		}
		return v[0]
	}
	var tags []string
	if t := get("tags"); t != "" {
		tags = strings.Split(t, ",")
	}
	return sqlite.Filters{
		Type:          get("type"),
		Tags:          tags,
		Who:           get("who"),
		Pinned:        parseBool(get("pinned")),
		ImportanceMin: parseFloat(get("importance_min"), 0),
		Since:         parseTimeParam(get("since")),
		Until:         parseTimeParam(get("until")),
	}
}

// recallRequest is the body of POST /api/memory/recall (spec §6).
type recallRequest struct {
	Query         string   `json:"query"`
	Limit         int      `json:"limit,omitempty"`
	Type          string   `json:"type,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Who           string   `json:"who,omitempty"`
	Pinned        *bool    `json:"pinned,omitempty"`
	ImportanceMin float64  `json:"importance_min,omitempty"`
	Since         string   `json:"since,omitempty"`
	Until         string   `json:"until,omitempty"`
	SessionKey    string   `json:"session_key,omitempty"`
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "query is required", nil)
		return
	}

	resp, err := s.recall.Recall(r.Context(), recall.Request{
		Query: req.Query, Limit: req.Limit,
		Filters: sqlite.Filters{
			Type: req.Type, Tags: req.Tags, Who: req.Who, Pinned: req.Pinned,
			ImportanceMin: req.ImportanceMin, Since: parseTimeParam(req.Since), Until: parseTimeParam(req.Until),
		},
		SessionID: req.SessionKey,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "recall failed", err)
		return
	}

	if req.SessionKey != "" {
		candidates := make([]types.SessionCandidateRecord, 0, len(resp.Results))
		for _, res := range resp.Results {
			candidates = append(candidates, types.SessionCandidateRecord{
				MemoryID: res.ID, Score: res.Score, Source: res.Source, Injected: true,
			})
		}
		_ = s.session.RecordCandidates(r.Context(), req.SessionKey, candidates)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": resp.Results, "query": resp.Query, "method": resp.Method,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if strings.TrimSpace(query) == "" {
		respondError(w, http.StatusBadRequest, "q is required", nil)
		return
	}
	resp, err := s.recall.SearchKeyword(r.Context(), recall.Request{
		Query: query, Limit: parseInt(q.Get("limit"), 10), Filters: filtersFromQuery(q),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "search failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"results": resp.Results})
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	resp, err := s.recall.Similar(r.Context(), id, parseInt(q.Get("k"), 10), q.Get("type"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "similar failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"results": resp.Results})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseInt(q.Get("limit"), 20)
	offset := parseInt(q.Get("offset"), 0)
	if limit > 1000 {
		limit = 1000
	}

	var memories []*types.Memory
	var total int
	err := s.db.WithReadDb(r.Context(), func(ctx context.Context, db *sql.DB) error {
		var err error
		memories, total, err = sqlite.ListMemories(ctx, db, limit, offset)
		return err
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list memories", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"memories": memories,
		"stats":    map[string]interface{}{"total": total, "limit": limit, "offset": offset},
	})
}

func (s *Server) handleMemoryHistory(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	limit := parseInt(r.URL.Query().Get("limit"), 50)

	var events []types.HistoryEvent
	err := s.db.WithReadDb(r.Context(), func(ctx context.Context, db *sql.DB) error {
		var err error
		events, err = sqlite.GetHistory(ctx, db, id, limit)
		return err
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read history", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// forgetRequest is the body of POST /api/memory/forget (spec §4.C, §8 edge
// case 5).
type forgetRequest struct {
	ID        string `json:"id"`
	Reason    string `json:"reason,omitempty"`
	Force     bool   `json:"force,omitempty"`
	IfVersion *int   `json:"if_version,omitempty"`
	Actor     string `json:"actor,omitempty"`
	ActorType string `json:"actorType,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	var req forgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" {
		respondError(w, http.StatusBadRequest, "id is required", nil)
		return
	}

	mctx := mutationContext(req.ActorType, req.SessionID, req.RequestID)
	var status sqlite.Status
	err := s.db.WithWriteTx(r.Context(), func(ctx context.Context, tx *sql.Tx) error {
		var err error
		status, err = sqlite.Forget(ctx, tx, req.ID, req.Force, req.Reason, req.IfVersion, mctx)
		return err
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "forget failed", err)
		return
	}
	if status == sqlite.StatusDeleted && s.mirror != nil {
		if merr := s.mirror.Delete(r.Context(), req.ID); merr != nil {
			log.Printf("api: mirror delete for %s: %v", req.ID, merr)
		}
	}
	respondStatus(w, status)
}

// modifyRequest is the body of POST /api/memory/modify (spec §4.C Modify).
type modifyRequest struct {
	ID         string    `json:"id"`
	Content    *string   `json:"content,omitempty"`
	Type       *string   `json:"type,omitempty"`
	Tags       *[]string `json:"tags,omitempty"`
	Importance *float64  `json:"importance,omitempty"`
	Pinned     *bool     `json:"pinned,omitempty"`
	Who        *string   `json:"who,omitempty"`
	Why        *string   `json:"why,omitempty"`
	Project    *string   `json:"project,omitempty"`
	IfVersion  *int      `json:"if_version,omitempty"`
	UpdatedBy  string    `json:"updated_by,omitempty"`
	ActorType  string    `json:"actorType,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	var req modifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" {
		respondError(w, http.StatusBadRequest, "id is required", nil)
		return
	}

	patch := sqlite.MemoryPatch{
		Type: req.Type, Tags: req.Tags, Importance: req.Importance, Pinned: req.Pinned,
		Who: req.Who, Why: req.Why, Project: req.Project, UpdatedBy: req.UpdatedBy,
	}
	var newEmbedding *types.Embedding
	if req.Content != nil {
		normalized := ingest.NormalizeContent(*req.Content)
		hash := ingest.ContentHash(*req.Content)
		patch.Content = req.Content
		patch.NormalizedContent = &normalized
		patch.ContentHash = &hash
	}

	mctx := mutationContext(req.ActorType, req.SessionID, req.RequestID)
	var status sqlite.Status
	err := s.db.WithWriteTx(r.Context(), func(ctx context.Context, tx *sql.Tx) error {
		var err error
		status, err = sqlite.Modify(ctx, tx, req.ID, patch, req.IfVersion, newEmbedding, mctx)
		return err
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "modify failed", err)
		return
	}
	respondStatus(w, status)
}

// recoverRequest is the body of POST /api/memory/recover (spec §4.C Recover).
type recoverRequest struct {
	ID                string `json:"id"`
	RetentionWindowMs int64  `json:"retention_window_ms,omitempty"`
	IfVersion         *int   `json:"if_version,omitempty"`
	ActorType         string `json:"actorType,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
	RequestID         string `json:"request_id,omitempty"`
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" {
		respondError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	window := req.RetentionWindowMs
	if window <= 0 {
		window = defaultRetentionWindowMs
	}

	mctx := mutationContext(req.ActorType, req.SessionID, req.RequestID)
	var status sqlite.Status
	err := s.db.WithWriteTx(r.Context(), func(ctx context.Context, tx *sql.Tx) error {
		var err error
		status, err = sqlite.Recover(ctx, tx, req.ID, window, req.IfVersion, mctx)
		return err
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "recover failed", err)
		return
	}
	respondStatus(w, status)
}

// respondStatus maps a transaction closure's tagged Status (spec §4.C) onto
// an HTTP response: the "good" outcomes are 200, the rest map through the
// apierr taxonomy (spec §7).
func respondStatus(w http.ResponseWriter, status sqlite.Status) {
	switch status {
	case sqlite.StatusUpdated, sqlite.StatusDeleted, sqlite.StatusRecovered:
		respondJSON(w, http.StatusOK, map[string]interface{}{"status": status})
	case sqlite.StatusNoChanges, sqlite.StatusAlreadyDeleted, sqlite.StatusNotDeleted:
		respondJSON(w, http.StatusOK, map[string]interface{}{"status": status})
	case sqlite.StatusNotFound:
		respondAPIErr(w, "memory not found", apierr.New(apierr.NotFound, string(status)))
	case sqlite.StatusVersionConflict:
		respondAPIErr(w, "version conflict", apierr.New(apierr.VersionConflict, string(status)))
	case sqlite.StatusDuplicateContentHash:
		respondAPIErr(w, "duplicate content", apierr.New(apierr.DuplicateContentHash, string(status)))
	case sqlite.StatusPinnedRequiresForce:
		respondAPIErr(w, "pinned memory requires force", apierr.New(apierr.PinnedRequiresForce, string(status)))
	case sqlite.StatusAutonomousForceDenied:
		respondAPIErr(w, "pipeline actor cannot force a pinned memory", apierr.New(apierr.AutonomousForceDenied, string(status)))
	case sqlite.StatusRetentionExpired:
		respondAPIErr(w, "retention window expired", apierr.New(apierr.RetentionExpired, string(status)))
	default:
		respondJSON(w, http.StatusOK, map[string]interface{}{"status": status})
	}
}
