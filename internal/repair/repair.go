// Package repair is the named maintenance-action registry (component J):
// a small set of self-healing operations — requeueing dead extraction
// jobs, releasing stale leases, checking/rebuilding FTS, sweeping expired
// soft-deletes, and backfilling missing embeddings — each gated by
// autonomy policy and rate-limited independently. It generalizes the
// teacher's maintenance-status/backfill handler pair in
// web/handlers/maintenance.go into a registry callable both from the
// daemon's own maintenance ticker and from the operator-facing
// POST /api/repair/{action} endpoint.
package repair

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/Signet-AI/signetai-sub002/internal/apierr"
	"github.com/Signet-AI/signetai-sub002/internal/config"
	"github.com/Signet-AI/signetai-sub002/internal/embedclient"
	"github.com/Signet-AI/signetai-sub002/internal/store/sqlite"
	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

// ftsMismatchThreshold is the fraction of missing FTS rows (relative to
// active memory count) at or above which checkFtsConsistency treats the
// index as needing a rebuild (spec §9 open question: FTS/vector mismatch
// threshold — kept as a named, re-tunable constant rather than a magic
// number).
const ftsMismatchThreshold = 0.10

// defaultRetentionWindowMs is the fallback retention window for
// triggerRetentionSweep when no caller supplies one, mirroring the 30-day
// default handleRecover applies (spec §4.C/§5: "a soft-deleted row is
// recoverable until now - deleted_at > retentionWindowMs (default 30
// days)"). Without this default, an unset RetentionWindowMs resolves to 0
// and the sweep would hard-delete every soft-deleted row immediately,
// regardless of how recently it was forgotten.
const defaultRetentionWindowMs = 30 * 24 * 60 * 60 * 1000

// Action names (spec §4.J, §6 POST /api/repair/{action}).
const (
	ActionRequeueDeadJobs       = "requeueDeadJobs"
	ActionReleaseStaleLeases    = "releaseStaleLeases"
	ActionCheckFtsConsistency   = "checkFtsConsistency"
	ActionTriggerRetentionSweep = "triggerRetentionSweep"
	ActionReembedMissing        = "reembedMissingMemories"
)

// Result is what a repair action returns, also what gets written into
// memory_history as a system event (spec §4.J: "every executed action
// writes a system history row").
type Result struct {
	Action   string `json:"action"`
	Applied  bool   `json:"applied"`
	Affected int    `json:"affected"`
	Message  string `json:"message"`
}

// Params carries the optional per-action arguments accepted from the API
// body (spec §6: "repair actions accept an optional JSON body of
// action-specific parameters").
type Params struct {
	MaxBatch          int
	LeaseTimeoutMs    int64
	Repair            bool
	RetentionWindowMs int64
	BatchSize         int
	DryRun            bool
}

type limiterPair struct {
	cooldown *rate.Limiter
	budget   *rate.Limiter
}

// Registry holds one limiter pair per action plus the store/embed clients
// the actions need.
type Registry struct {
	db    *sqlite.Accessor
	embed *embedclient.Client
	cfg   *config.Config

	limiters map[string]*limiterPair
}

// New builds a Registry with cooldown/hourly-budget limiters derived from
// pipelineV2.repair.* (spec §4.E). Every action gets its own limiter pair
// (spec §4.J: "per-action {lastRunAt, hourlyCount, hourResetAt}") so that
// running one maintenance action never consumes another's budget.
func New(db *sqlite.Accessor, embed *embedclient.Client, cfg *config.Config) *Registry {
	r := cfg.PipelineV2.Repair
	newReembedLimiter := func() *limiterPair {
		return &limiterPair{
			cooldown: rate.NewLimiter(rate.Every(time.Duration(r.ReembedCooldownMs)*time.Millisecond), 1),
			budget:   rate.NewLimiter(rate.Limit(float64(r.ReembedHourlyBudget)/3600), r.ReembedHourlyBudget),
		}
	}
	newRequeueLimiter := func() *limiterPair {
		return &limiterPair{
			cooldown: rate.NewLimiter(rate.Every(time.Duration(r.RequeueCooldownMs)*time.Millisecond), 1),
			budget:   rate.NewLimiter(rate.Limit(float64(r.RequeueHourlyBudget)/3600), r.RequeueHourlyBudget),
		}
	}
	return &Registry{
		db:    db,
		embed: embed,
		cfg:   cfg,
		limiters: map[string]*limiterPair{
			ActionRequeueDeadJobs:       newRequeueLimiter(),
			ActionReleaseStaleLeases:    newRequeueLimiter(),
			ActionCheckFtsConsistency:   newRequeueLimiter(),
			ActionTriggerRetentionSweep: newRequeueLimiter(),
			ActionReembedMissing:        newReembedLimiter(),
		},
	}
}

// Run executes a named action, enforcing autonomy policy and the action's
// rate limit before doing any work (spec §4.J step 1: "policy and
// rate-limit checks happen before the action runs, never after").
func (r *Registry) Run(ctx context.Context, action string, actorType string, p Params) (*Result, error) {
	lim, ok := r.limiters[action]
	if !ok {
		return nil, apierr.New(apierr.BadRequest, "unknown repair action: "+action)
	}
	if err := r.checkPolicy(actorType); err != nil {
		return nil, err
	}
	if !lim.cooldown.Allow() {
		return nil, apierr.New(apierr.RateLimited, action+" is on cooldown")
	}
	if !lim.budget.Allow() {
		return nil, apierr.New(apierr.RateLimited, action+" has exceeded its hourly budget")
	}

	var result *Result
	var err error
	switch action {
	case ActionRequeueDeadJobs:
		result, err = r.requeueDeadJobs(ctx, p)
	case ActionReleaseStaleLeases:
		result, err = r.releaseStaleLeases(ctx, p)
	case ActionCheckFtsConsistency:
		result, err = r.checkFtsConsistency(ctx, p)
	case ActionTriggerRetentionSweep:
		result, err = r.triggerRetentionSweep(ctx, p)
	case ActionReembedMissing:
		result, err = r.reembedMissingMemories(ctx, p)
	}
	if err != nil {
		return nil, err
	}

	if werr := r.recordHistory(ctx, result, actorType); werr != nil {
		log.Printf("repair: failed to record history for %s: %v", action, werr)
	}
	return result, nil
}

// checkPolicy enforces spec §4.J's autonomy gate: a global freeze blocks
// every actor, and the autonomous.enabled check is denied for any actor
// other than operator — operator actors bypass the enabled check, but
// agent/pipeline/daemon/harness actors all require it.
func (r *Registry) checkPolicy(actorType string) error {
	if r.cfg.PipelineV2.Autonomous.Frozen {
		return apierr.New(apierr.PolicyDenied, "repair actions are frozen")
	}
	if actorType != types.ActorOperator && !r.cfg.PipelineV2.Autonomous.Enabled {
		return apierr.New(apierr.PolicyDenied, "autonomous repair is not enabled")
	}
	return nil
}

func (r *Registry) requeueDeadJobs(ctx context.Context, p Params) (*Result, error) {
	maxBatch := p.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 50
	}
	var n int
	err := r.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var rerr error
		n, rerr = sqlite.RequeueDeadJobs(ctx, tx, maxBatch)
		return rerr
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "requeue dead jobs", err)
	}
	return &Result{Action: ActionRequeueDeadJobs, Applied: n > 0, Affected: n, Message: fmt.Sprintf("requeued %d dead jobs", n)}, nil
}

func (r *Registry) releaseStaleLeases(ctx context.Context, p Params) (*Result, error) {
	leaseTimeout := p.LeaseTimeoutMs
	if leaseTimeout <= 0 {
		leaseTimeout = int64(r.cfg.PipelineV2.Worker.LeaseTimeoutMs)
	}
	var n int
	err := r.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var rerr error
		n, rerr = sqlite.ReleaseStaleLeases(ctx, tx, leaseTimeout)
		return rerr
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "release stale leases", err)
	}
	return &Result{Action: ActionReleaseStaleLeases, Applied: n > 0, Affected: n, Message: fmt.Sprintf("released %d stale leases", n)}, nil
}

// checkFtsConsistency compares the FTS row count against the active
// memory count, rebuilding the index only when the mismatch meets
// ftsMismatchThreshold and the caller opted into p.Repair.
func (r *Registry) checkFtsConsistency(ctx context.Context, p Params) (*Result, error) {
	var active, ftsRows int
	err := r.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
		var aerr, ferr error
		active, aerr = sqlite.ActiveMemoryCount(ctx, db)
		if aerr != nil {
			return aerr
		}
		ftsRows, ferr = sqlite.FTSRowCount(ctx, db)
		return ferr
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "check fts consistency", err)
	}

	mismatch := 0
	if active > 0 {
		mismatch = active - ftsRows
		if mismatch < 0 {
			mismatch = -mismatch
		}
	}
	ratio := 0.0
	if active > 0 {
		ratio = float64(mismatch) / float64(active)
	}

	if ratio < ftsMismatchThreshold {
		return &Result{Action: ActionCheckFtsConsistency, Applied: false, Affected: mismatch,
			Message: fmt.Sprintf("fts index within tolerance (%.1f%% mismatch)", ratio*100)}, nil
	}

	if !p.Repair {
		return &Result{Action: ActionCheckFtsConsistency, Applied: false, Affected: mismatch,
			Message: fmt.Sprintf("fts index out of sync (%.1f%% mismatch), rebuild not requested", ratio*100)}, nil
	}

	err = r.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return sqlite.RebuildFTS(ctx, tx)
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "rebuild fts", err)
	}
	return &Result{Action: ActionCheckFtsConsistency, Applied: true, Affected: mismatch,
		Message: fmt.Sprintf("rebuilt fts index (%.1f%% mismatch before rebuild)", ratio*100)}, nil
}

func (r *Registry) triggerRetentionSweep(ctx context.Context, p Params) (*Result, error) {
	retentionWindow := p.RetentionWindowMs
	if retentionWindow <= 0 {
		retentionWindow = defaultRetentionWindowMs
	}
	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	var n int
	err := r.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var rerr error
		n, rerr = sqlite.SweepRetention(ctx, tx, retentionWindow, batchSize)
		return rerr
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "retention sweep", err)
	}
	return &Result{Action: ActionTriggerRetentionSweep, Applied: n > 0, Affected: n, Message: fmt.Sprintf("hard-deleted %d retention-expired memories", n)}, nil
}

func (r *Registry) reembedMissingMemories(ctx context.Context, p Params) (*Result, error) {
	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	var ids []string
	err := r.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
		var lerr error
		ids, lerr = sqlite.UnembeddedActiveMemories(ctx, db, r.embed.Model(), batchSize)
		return lerr
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "list unembedded memories", err)
	}

	if p.DryRun || len(ids) == 0 {
		return &Result{Action: ActionReembedMissing, Applied: false, Affected: len(ids),
			Message: fmt.Sprintf("%d memories need embedding (dry run)", len(ids))}, nil
	}

	var memories map[string]*types.Memory
	err = r.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
		var merr error
		memories, merr = sqlite.GetMemoriesByIDs(ctx, db, ids)
		return merr
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "load memories", err)
	}

	embedded := 0
	for _, id := range ids {
		m := memories[id]
		if m == nil {
			continue
		}
		vec := r.embed.Embed(ctx, m.Content)
		if vec == nil {
			continue
		}
		emb := &types.Embedding{
			ContentHash: m.ContentHash,
			Vector:      vec,
			Dimensions:  len(vec),
			SourceType:  types.EmbeddingSourceMemory,
			SourceID:    m.ID,
			Model:       r.embed.Model(),
		}
		werr := r.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			if derr := sqlite.DeleteStaleEmbeddingsTx(ctx, tx, m.ID, m.ContentHash); derr != nil {
				return derr
			}
			return sqlite.UpsertEmbeddingTx(ctx, tx, emb)
		})
		if werr != nil {
			log.Printf("repair: reembed upsert for %s: %v", m.ID, werr)
			continue
		}
		embedded++
	}

	return &Result{Action: ActionReembedMissing, Applied: embedded > 0, Affected: embedded,
		Message: fmt.Sprintf("re-embedded %d/%d memories", embedded, len(ids))}, nil
}

func (r *Registry) recordHistory(ctx context.Context, result *Result, actorType string) error {
	return r.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return sqlite.WriteSystemHistory(ctx, tx, result.Action, result.Affected, actorType, result.Message)
	})
}
