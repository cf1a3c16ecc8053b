// Command signet-daemon runs the memory core described in the spec: the
// store, the ingest/recall/repair HTTP surface, the extraction worker, the
// embedding tracker, and the markdown ingestion feed. It follows the
// teacher's cmd/memento-web/main.go shape — load config, open the store,
// start background loops, start the HTTP server, wait for a signal, shut
// down in reverse order — generalized onto this daemon's env-var-driven
// agents-directory layout (spec §6).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/Signet-AI/signetai-sub002/internal/api"
	"github.com/Signet-AI/signetai-sub002/internal/config"
	"github.com/Signet-AI/signetai-sub002/internal/diagnostics"
	"github.com/Signet-AI/signetai-sub002/internal/embedclient"
	"github.com/Signet-AI/signetai-sub002/internal/extract"
	"github.com/Signet-AI/signetai-sub002/internal/feed"
	"github.com/Signet-AI/signetai-sub002/internal/ingest"
	"github.com/Signet-AI/signetai-sub002/internal/recall"
	"github.com/Signet-AI/signetai-sub002/internal/repair"
	"github.com/Signet-AI/signetai-sub002/internal/session"
	"github.com/Signet-AI/signetai-sub002/internal/store/pgvec"
	"github.com/Signet-AI/signetai-sub002/internal/store/sqlite"
	"github.com/Signet-AI/signetai-sub002/internal/worker"
)

func main() {
	flag.Parse()

	agentsPath := os.Getenv("SIGNET_PATH")
	if agentsPath == "" {
		agentsPath = "."
	}
	host := os.Getenv("SIGNET_HOST")
	if host == "" {
		host = "localhost"
	}
	port := 3850
	if v := os.Getenv("SIGNET_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			port = n
		} else {
			log.Printf("WARNING: invalid SIGNET_PORT %q, using default %d", v, port)
		}
	}

	cfgPath := firstExisting(
		filepath.Join(agentsPath, "agent.yaml"),
		filepath.Join(agentsPath, "AGENT.yaml"),
		filepath.Join(agentsPath, "config.yaml"),
	)
	cfg := config.Load(cfgPath)

	memDir := filepath.Join(agentsPath, "memory")
	if err := os.MkdirAll(memDir, 0o755); err != nil {
		log.Fatalf("FATAL: cannot create memory directory: %v", err)
	}

	db, err := sqlite.Init(filepath.Join(memDir, "memories.db"))
	if err != nil {
		log.Fatalf("FATAL: cannot open store: %v", err)
	}
	defer db.Close()

	embed := embedclient.New(cfg.Embedding)
	extractClient := extract.New(cfg.PipelineV2.Extraction, cfg.Embedding.BaseURL, cfg.Embedding.APIKey)

	var vecIndex recall.VectorIndex
	var mirror worker.VectorMirror
	if cfg.Storage.VectorIndex == "postgres" && cfg.Storage.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, err := pgvec.Open(ctx, cfg.Storage.PostgresDSN)
		cancel()
		if err != nil {
			log.Printf("WARNING: postgres vector index unavailable, falling back to sqlite: %v", err)
		} else {
			vecIndex = pg
			mirror = pg
		}
	}

	ingestPipeline := ingest.New(db, embed, cfg)
	recallEngine := recall.New(db, embed, cfg, nil, vecIndex)
	repairRegistry := repair.New(db, embed, cfg)
	sessionMgr := session.New(db, session.DefaultCheckpointConfig())
	diagAggregator := diagnostics.New(db, embed, cfg)

	server := api.New(db, ingestPipeline, recallEngine, repairRegistry, sessionMgr, diagAggregator, mirror)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	extractionWorker := worker.NewExtractionWorker(db, extractClient, cfg)
	go extractionWorker.Run(ctx)

	embeddingTracker := worker.NewEmbeddingTracker(db, embed, cfg, mirror)
	go embeddingTracker.Run(ctx)

	watcher := feed.New(memDir, "MEMORY.md", ingestPipeline, cfg)
	if err := watcher.Start(ctx); err != nil {
		log.Printf("WARNING: markdown ingestion feed disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	go retentionSweepLoop(ctx, repairRegistry)

	addr, err := server.Start(ctx, host, port)
	if err != nil {
		log.Fatalf("FATAL: cannot bind HTTP port: %v", err)
	}
	log.Printf("signet-daemon listening at http://%s (agents dir %s)", addr, agentsPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down gracefully...")
	cancel()
	time.Sleep(500 * time.Millisecond)
}

// retentionSweepLoop periodically invokes the retention sweep repair action
// as a daemon actor, independent of the operator-facing /api/repair
// endpoint (spec §4.J "triggerRetentionSweep" / §5 "retention sweeper
// (timer)").
func retentionSweepLoop(ctx context.Context, rep *repair.Registry) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rep.Run(ctx, repair.ActionTriggerRetentionSweep, "daemon", repair.Params{}); err != nil {
				log.Printf("retention sweep: %v", err)
			}
		}
	}
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return paths[0]
}
