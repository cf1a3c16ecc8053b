package api

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/Signet-AI/signetai-sub002/internal/diagnostics"
	"github.com/Signet-AI/signetai-sub002/internal/ingest"
	"github.com/Signet-AI/signetai-sub002/internal/recall"
	"github.com/Signet-AI/signetai-sub002/internal/repair"
	"github.com/Signet-AI/signetai-sub002/internal/session"
	"github.com/Signet-AI/signetai-sub002/internal/store/sqlite"
	"github.com/Signet-AI/signetai-sub002/internal/worker"
)

// Server wires the memory core's components onto the HTTP surface
// documented in spec §6.
type Server struct {
	db      *sqlite.Accessor
	ingest  *ingest.Pipeline
	recall  *recall.Engine
	repair  *repair.Registry
	session *session.Manager
	diag    *diagnostics.Aggregator
	mirror  worker.VectorMirror
}

// New builds a Server over the already-constructed component handles.
// mirror may be nil (spec §3's default sqlite-only vector index); when set,
// a successful /api/memory/forget removes the memory from the mirror too,
// keeping it in lockstep with the soft-delete the sqlite store already
// performs.
func New(db *sqlite.Accessor, p *ingest.Pipeline, re *recall.Engine, rep *repair.Registry, sess *session.Manager, diag *diagnostics.Aggregator, mirror worker.VectorMirror) *Server {
	return &Server{db: db, ingest: p, recall: re, repair: rep, session: sess, diag: diag, mirror: mirror}
}

// securityHeadersMiddleware adds the same baseline headers the teacher
// applies to every response.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/memory/remember", s.handleRemember)
	mux.HandleFunc("POST /api/memory/save", s.handleRemember) // legacy alias, spec §9
	mux.HandleFunc("POST /api/memory/recall", s.handleRecall)
	mux.HandleFunc("POST /api/memory/forget", s.handleForget)
	mux.HandleFunc("POST /api/memory/modify", s.handleModify)
	mux.HandleFunc("POST /api/memory/recover", s.handleRecover)
	mux.HandleFunc("GET /memory/search", s.handleSearch)
	mux.HandleFunc("GET /memory/similar", s.handleSimilar)
	mux.HandleFunc("GET /api/memories", s.handleListMemories)
	mux.HandleFunc("GET /api/memories/{id}/history", s.handleMemoryHistory)

	mux.HandleFunc("POST /api/hooks/session-start", s.handleSessionStart)

	mux.HandleFunc("POST /api/repair/{action}", s.handleRepair)

	mux.HandleFunc("GET /api/embeddings/status", s.handleEmbeddingsStatus)
	mux.HandleFunc("GET /api/embeddings/health", s.handleEmbeddingsHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/status/stream", s.handleStatusStream)

	mux.HandleFunc("GET /health", s.handleHealth)

	return securityHeadersMiddleware(mux)
}

// Start binds host:port and serves until ctx is cancelled, returning the
// actual listen address (useful when port is 0 in tests), following the
// teacher's Start(ctx, ...) listener-then-goroutine-then-graceful-shutdown
// shape in internal/server/server.go.
func (s *Server) Start(ctx context.Context, host string, port int) (string, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("api: failed to listen on %s: %w", addr, err)
	}

	httpServer := &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("api: server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("api: shutdown error: %v", err)
		}
	}()

	return actualAddr, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
