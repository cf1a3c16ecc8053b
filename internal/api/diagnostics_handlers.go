package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.diag.Run(r.Context()))
}

// handleEmbeddingsStatus is the lightweight provider-reachability probe
// (spec §6: "provider reachability"), distinct from the fuller aggregated
// report at /api/embeddings/health — it skips the store-backed checks
// entirely rather than discarding them after the fact.
func (s *Server) handleEmbeddingsStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.diag.ProviderStatus(r.Context()))
}

// handleEmbeddingsHealth is the aggregated embedding-subsystem report
// (spec §6).
func (s *Server) handleEmbeddingsHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.diag.Run(r.Context()))
}

// statusStreamInterval controls how often handleStatusStream pushes a
// fresh diagnostics report to a connected client.
const statusStreamInterval = 5 * time.Second

// handleStatusStream pushes periodic diagnostics reports over a WebSocket
// connection — a read-only, single-client push, simpler than the teacher's
// multi-client WebSocketHub (web/handlers/websocket.go) since this
// endpoint has no broadcast fan-out, just a live view of one aggregator.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("api: status stream upgrade failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	ticker := time.NewTicker(statusStreamInterval)
	defer ticker.Stop()

	for {
		report := s.diag.Run(ctx)
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := wsjson.Write(wctx, conn, report)
		cancel()
		if err != nil {
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
