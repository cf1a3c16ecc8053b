package api

import (
	"encoding/json"
	"net/http"

	"github.com/Signet-AI/signetai-sub002/internal/recall"
	"github.com/Signet-AI/signetai-sub002/internal/store/sqlite"
	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

// sessionStartDefaultLimit bounds how many candidates handleSessionStart
// composes when a harness first attaches (spec §4.K doesn't name a
// default; recall's own default of 10 is reused here for consistency).
const sessionStartDefaultLimit = 10

// sessionStartRequest is the body of POST /api/hooks/session-start (spec §6).
type sessionStartRequest struct {
	Harness    string `json:"harness"`
	SessionKey string `json:"sessionKey,omitempty"`
	Query      string `json:"query,omitempty"`
}

// handleSessionStart composes recall candidates for a newly attached
// harness and, if sessionKey is set, initializes continuity state and
// records which candidates were considered (spec §4.K).
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	// An empty query is passed to recall as-is rather than rejected —
	// session-start has no user-typed query to validate against. No
	// filters are set, so recall does not narrow to pinned or important
	// rows here.
	resp, err := s.recall.Recall(r.Context(), recall.Request{
		Query: req.Query, Limit: sessionStartDefaultLimit,
		Filters:   sqlite.Filters{},
		SessionID: req.SessionKey,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "session-start recall failed", err)
		return
	}

	if req.SessionKey != "" {
		s.session.InitContinuity(req.SessionKey)
		candidates := make([]types.SessionCandidateRecord, 0, len(resp.Results))
		for _, res := range resp.Results {
			candidates = append(candidates, types.SessionCandidateRecord{
				MemoryID: res.ID, Score: res.Score, Source: res.Source, Injected: true,
			})
		}
		_ = s.session.RecordCandidates(r.Context(), req.SessionKey, candidates)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"inject":     resp.Results,
		"candidates": resp.Results,
	})
}
