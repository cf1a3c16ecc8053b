// Package worker runs the two background loops that keep the memory store
// self-maintaining without caller involvement: the extraction worker
// (component H) that drains the lease queue through an LLM extractor, and
// the embedding tracker (component I) that backfills missing or
// stale-model embeddings. Both generalize the teacher's
// internal/engine/enrichment_worker.go goroutine-per-worker loop, split
// into two purpose-specific loops since this spec separates extraction
// from embedding instead of bundling them into one enrichment job.
package worker

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/Signet-AI/signetai-sub002/internal/config"
	"github.com/Signet-AI/signetai-sub002/internal/embedclient"
	"github.com/Signet-AI/signetai-sub002/internal/extract"
	"github.com/Signet-AI/signetai-sub002/internal/ingest"
	"github.com/Signet-AI/signetai-sub002/internal/store/sqlite"
	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

// ExtractionWorker claims and processes extraction jobs one at a time from
// the lease queue (spec §4.H).
type ExtractionWorker struct {
	db      *sqlite.Accessor
	extract *extract.Client
	cfg     *config.Config
}

// NewExtractionWorker builds an ExtractionWorker. It is safe to construct
// even when extraction is disabled; Run simply never claims a job in that
// case (pipelineV2.enabled gates whether jobs are ever enqueued upstream).
func NewExtractionWorker(db *sqlite.Accessor, ec *extract.Client, cfg *config.Config) *ExtractionWorker {
	return &ExtractionWorker{db: db, extract: ec, cfg: cfg}
}

// Run polls the lease queue every worker.pollMs until ctx is cancelled
// (spec §4.H step 1: "poll at worker.pollMs"). It is meant to run in its
// own goroutine for the lifetime of the daemon.
func (w *ExtractionWorker) Run(ctx context.Context) {
	if !w.cfg.PipelineV2.Enabled || !w.extract.Enabled() {
		log.Printf("extraction worker: disabled (pipelineV2.enabled=%v, extraction provider=%v)", w.cfg.PipelineV2.Enabled, w.extract.Enabled())
		return
	}

	interval := time.Duration(w.cfg.PipelineV2.Worker.PollMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("extraction worker: started, poll=%v", interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("extraction worker: stopped")
			return
		case <-ticker.C:
			for w.claimAndProcessOne(ctx) {
				// drain the queue between ticks rather than leasing one job per tick
			}
		}
	}
}

// claimAndProcessOne claims at most one job and reports whether a job was
// actually claimed, so Run can drain a backlog between polls.
func (w *ExtractionWorker) claimAndProcessOne(ctx context.Context) bool {
	var job *types.Job
	err := w.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var jerr error
		job, jerr = sqlite.ClaimNextJob(ctx, tx, int64(w.cfg.PipelineV2.Worker.LeaseTimeoutMs))
		return jerr
	})
	if err != nil {
		log.Printf("extraction worker: claim failed: %v", err)
		return false
	}
	if job == nil {
		return false
	}

	w.process(ctx, job)
	return true
}

// process runs extraction for one leased job (spec §4.H steps 2-5):
// load content, call the extractor within extraction.timeout, apply each
// returned fact as either a new memory or a decision, and complete or
// fail the job depending on outcome.
func (w *ExtractionWorker) process(ctx context.Context, job *types.Job) {
	var memory *types.Memory
	err := w.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
		var gerr error
		memory, gerr = sqlite.GetMemory(ctx, db, job.MemoryID)
		return gerr
	})
	if err != nil || memory == nil {
		log.Printf("extraction worker: job %s: source memory %s missing, failing job: %v", job.ID, job.MemoryID, err)
		w.failJob(ctx, job)
		return
	}

	result, err := w.extract.Extract(ctx, memory.Content)
	if err != nil {
		log.Printf("extraction worker: job %s: extract failed: %v", job.ID, err)
		w.failJob(ctx, job)
		return
	}

	if w.cfg.PipelineV2.ShadowMode {
		log.Printf("extraction worker: job %s: shadow mode, %d facts observed but not applied", job.ID, len(result.Facts))
		w.completeJob(ctx, job)
		return
	}
	if w.cfg.PipelineV2.MutationsFrozen {
		log.Printf("extraction worker: job %s: mutations frozen, leaving job leased", job.ID)
		return
	}

	applied := 0
	for _, fact := range result.Facts {
		if fact.Confidence < w.cfg.PipelineV2.Extraction.MinConfidence {
			continue
		}
		if w.applyFact(ctx, job.MemoryID, fact) {
			applied++
		}
	}

	log.Printf("extraction worker: job %s: applied %d/%d facts", job.ID, applied, len(result.Facts))
	w.completeJob(ctx, job)
}

// applyFact writes one extracted fact: a bare fact becomes a new ingested
// memory, a fact naming update/delete/merge becomes an ApplyDecision call
// (spec §4.H step 3).
func (w *ExtractionWorker) applyFact(ctx context.Context, sourceMemoryID string, fact extract.Fact) bool {
	mctx := types.MutationContext{ActorType: types.ActorPipeline}

	switch fact.Relation {
	case "update", "delete", "merge":
		content := fact.Content
		normalized := ingest.NormalizeContent(content)
		hash := ingest.ContentHash(content)
		d := sqlite.Decision{
			Kind:          fact.Relation,
			TargetID:      fact.TargetID,
			Content:       &content,
			NormContent:   &normalized,
			ContentHash:   &hash,
			MergeSourceID: fact.SourceID,
		}
		var status sqlite.Status
		err := w.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			var derr error
			status, derr = sqlite.ApplyDecision(ctx, tx, d, mctx)
			return derr
		})
		if err != nil {
			log.Printf("extraction worker: apply decision (%s, target=%s) failed: %v", fact.Relation, fact.TargetID, err)
			return false
		}
		return status == sqlite.StatusUpdated || status == sqlite.StatusDeleted

	default:
		m := &types.Memory{
			Content:           fact.Content,
			NormalizedContent: ingest.NormalizeContent(fact.Content),
			ContentHash:       ingest.ContentHash(fact.Content),
			Type:              types.TypeFact,
			Importance:        fact.Confidence,
			SourceType:        "extraction",
			SourceID:          sourceMemoryID,
			ExtractionStatus:  types.ExtractionNone,
		}
		var status sqlite.Status
		var newID string
		err := w.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			var ierr error
			status, newID, ierr = sqlite.Ingest(ctx, tx, m, mctx)
			if ierr != nil {
				return ierr
			}
			entityID := ""
			for _, name := range fact.Entities {
				id, eerr := sqlite.UpsertEntity(ctx, tx, name, "extracted")
				if eerr != nil {
					return eerr
				}
				entityID = id
				if merr := sqlite.RecordMention(ctx, tx, newID, entityID); merr != nil {
					return merr
				}
			}
			return nil
		})
		if err != nil {
			log.Printf("extraction worker: ingest extracted fact failed: %v", err)
			return false
		}
		return status == sqlite.StatusUpdated || status == sqlite.StatusDuplicateContentHash
	}
}

func (w *ExtractionWorker) completeJob(ctx context.Context, job *types.Job) {
	err := w.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return sqlite.CompleteJob(ctx, tx, job.ID)
	})
	if err != nil {
		log.Printf("extraction worker: complete job %s: %v", job.ID, err)
	}
}

func (w *ExtractionWorker) failJob(ctx context.Context, job *types.Job) {
	err := w.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return sqlite.FailJob(ctx, tx, job.ID, job.Attempts+1, w.cfg.PipelineV2.Worker.MaxRetries)
	})
	if err != nil {
		log.Printf("extraction worker: fail job %s: %v", job.ID, err)
	}
}

// VectorMirror is an optional secondary vector index kept in lockstep with
// every embedding write — internal/store/pgvec when storage.vectorIndex is
// configured to "postgres" (spec §3: "parallel vector-index table stays in
// lockstep").
type VectorMirror interface {
	Upsert(ctx context.Context, memoryID, memType string, vector []float32) error
	Delete(ctx context.Context, memoryID string) error
}

// EmbeddingTracker backfills embeddings for memories that have none, or
// whose embedding_model no longer matches the configured model (spec
// §4.I).
type EmbeddingTracker struct {
	db     *sqlite.Accessor
	embed  *embedclient.Client
	cfg    *config.Config
	mirror VectorMirror
}

// NewEmbeddingTracker builds an EmbeddingTracker. mirror may be nil, in
// which case the sqlite vec_embeddings virtual table is the only vector
// index (spec §3's default).
func NewEmbeddingTracker(db *sqlite.Accessor, embed *embedclient.Client, cfg *config.Config, mirror VectorMirror) *EmbeddingTracker {
	return &EmbeddingTracker{db: db, embed: embed, cfg: cfg, mirror: mirror}
}

const embeddingTrackerBatchSize = 20
const embeddingTrackerInterval = 10 * time.Second

// Run backfills embeddings until ctx is cancelled, skipping a cycle
// entirely when the provider is unavailable (spec §4.I step 1: "probe
// provider availability before each batch; skip the cycle if
// unavailable"). It self-schedules the next cycle only after runOnce
// returns rather than ticking on a fixed wall clock, so a slow batch
// naturally pushes the next poll back instead of piling up ticks behind
// it (spec §4.I/§5: "setTimeout-chain, self-scheduled").
func (t *EmbeddingTracker) Run(ctx context.Context) {
	log.Printf("embedding tracker: started, poll=%v", embeddingTrackerInterval)
	timer := time.NewTimer(embeddingTrackerInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("embedding tracker: stopped")
			return
		case <-timer.C:
			t.runOnce(ctx)
			timer.Reset(embeddingTrackerInterval)
		}
	}
}

func (t *EmbeddingTracker) runOnce(ctx context.Context) {
	avail := t.embed.Available(ctx)
	if !avail.Available {
		return
	}

	var ids []string
	err := t.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
		var lerr error
		ids, lerr = sqlite.UnembeddedActiveMemories(ctx, db, t.embed.Model(), embeddingTrackerBatchSize)
		return lerr
	})
	if err != nil {
		log.Printf("embedding tracker: list unembedded: %v", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	var memories map[string]*types.Memory
	err = t.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
		var merr error
		memories, merr = sqlite.GetMemoriesByIDs(ctx, db, ids)
		return merr
	})
	if err != nil {
		log.Printf("embedding tracker: load memories: %v", err)
		return
	}

	embedded := 0
	for _, id := range ids {
		m := memories[id]
		if m == nil {
			continue
		}
		vec := t.embed.Embed(ctx, m.Content)
		if vec == nil {
			continue
		}
		emb := &types.Embedding{
			ContentHash: m.ContentHash,
			Vector:      vec,
			Dimensions:  len(vec),
			SourceType:  types.EmbeddingSourceMemory,
			SourceID:    m.ID,
			Model:       t.embed.Model(),
		}
		err := t.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			if derr := sqlite.DeleteStaleEmbeddingsTx(ctx, tx, m.ID, m.ContentHash); derr != nil {
				return derr
			}
			return sqlite.UpsertEmbeddingTx(ctx, tx, emb)
		})
		if err != nil {
			log.Printf("embedding tracker: upsert embedding for %s: %v", m.ID, err)
			continue
		}
		if t.mirror != nil {
			if merr := t.mirror.Upsert(ctx, m.ID, m.Type, vec); merr != nil {
				log.Printf("embedding tracker: mirror upsert for %s: %v", m.ID, merr)
			}
		}
		embedded++
	}

	if embedded > 0 {
		log.Printf("embedding tracker: backfilled %d/%d memories", embedded, len(ids))
	}
}
