package api

import (
	"encoding/json"
	"net/http"

	"github.com/Signet-AI/signetai-sub002/internal/repair"
)

// repairRequest is the body of POST /api/repair/{action} (spec §6).
type repairRequest struct {
	ActorType         string `json:"actorType,omitempty"`
	DryRun            bool   `json:"dryRun,omitempty"`
	Repair            bool   `json:"repair,omitempty"`
	MaxBatch          int    `json:"maxBatch,omitempty"`
	BatchSize         int    `json:"batchSize,omitempty"`
	RetentionWindowMs int64  `json:"retentionWindowMs,omitempty"`
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	action := extractID(r, "action")

	var req repairRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := s.repair.Run(r.Context(), action, req.ActorType, repair.Params{
		MaxBatch:          req.MaxBatch,
		BatchSize:         req.BatchSize,
		Repair:            req.Repair,
		DryRun:            req.DryRun,
		RetentionWindowMs: req.RetentionWindowMs,
	})
	if err != nil {
		respondAPIErr(w, "repair action failed", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"action": result.Action, "success": true, "affected": result.Affected, "message": result.Message,
	})
}
