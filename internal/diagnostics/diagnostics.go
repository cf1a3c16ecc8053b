// Package diagnostics is the read-only health-check aggregator (component
// M): a fixed set of named checks over provider reachability and
// embedding/index consistency, each scored ok/warn/fail and combined into
// one weighted overall score. It generalizes the health-reporting shape of
// the teacher's maintenance status handler (web/handlers/maintenance.go
// GetStatus) from a single-purpose embedding-coverage report into the
// fuller multi-check surface this spec requires.
package diagnostics

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Signet-AI/signetai-sub002/internal/config"
	"github.com/Signet-AI/signetai-sub002/internal/embedclient"
	"github.com/Signet-AI/signetai-sub002/internal/store/sqlite"
)

// Status is one check's outcome (spec §4.M: "{status: ok|warn|fail,
// message, detail?, fix?}").
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Check is one named health result.
type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Fix     string `json:"fix,omitempty"`
	weight  float64
}

// Report is the full diagnostics response (spec §4.M, §6 GET /api/status).
type Report struct {
	Checks  []Check `json:"checks"`
	Score   float64 `json:"score"`
	Overall string  `json:"overall"` // "healthy" | "degraded" | "unhealthy"
}

func scoreFor(s Status) float64 {
	switch s {
	case StatusOK:
		return 1
	case StatusWarn:
		return 0.5
	default:
		return 0
	}
}

// weights sums to 1 across the seven checks this spec names (spec §4.M).
var weights = map[string]float64{
	"provider_reachability": 0.25,
	"embedding_coverage":    0.2,
	"dimension_mismatch":    0.15,
	"model_drift":           0.1,
	"null_empty_vectors":    0.1,
	"vec_index_parity":      0.1,
	"orphaned_embeddings":   0.1,
}

// Aggregator runs the health checks against the store and embedding
// client.
type Aggregator struct {
	db    *sqlite.Accessor
	embed *embedclient.Client
	cfg   *config.Config
}

// New builds an Aggregator.
func New(db *sqlite.Accessor, embed *embedclient.Client, cfg *config.Config) *Aggregator {
	return &Aggregator{db: db, embed: embed, cfg: cfg}
}

// Run executes every check and combines them into a Report (spec §4.M:
// "An overall score is Σ weight_i · score_i ... score ≥ 0.8 → healthy,
// ≥ 0.5 → degraded, else unhealthy").
func (a *Aggregator) Run(ctx context.Context) *Report {
	checks := []Check{
		a.providerReachability(ctx),
	}

	err := a.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
		checks = append(checks, a.embeddingCoverage(ctx, db))
		checks = append(checks, a.dimensionMismatch(ctx, db))
		checks = append(checks, a.modelDrift(ctx, db))
		checks = append(checks, a.nullEmptyVectors(ctx, db))
		checks = append(checks, a.vecIndexParity(ctx, db))
		checks = append(checks, a.orphanedEmbeddings(ctx, db))
		return nil
	})
	if err != nil {
		checks = append(checks, Check{Name: "store_read", Status: StatusFail, Message: "could not read store: " + err.Error(), weight: 0})
	}

	var score float64
	for _, c := range checks {
		score += c.weight * scoreFor(c.Status)
	}

	overall := "unhealthy"
	switch {
	case score >= 0.8:
		overall = "healthy"
	case score >= 0.5:
		overall = "degraded"
	}

	return &Report{Checks: checks, Score: score, Overall: overall}
}

// ProviderStatus runs only the provider-reachability check, skipping the
// store-backed checks Run performs — the cheap probe behind
// /api/embeddings/status, distinct from the full report at
// /api/embeddings/health.
func (a *Aggregator) ProviderStatus(ctx context.Context) Check {
	return a.providerReachability(ctx)
}

func (a *Aggregator) providerReachability(ctx context.Context) Check {
	avail := a.embed.Available(ctx)
	if avail.Available {
		return Check{Name: "provider_reachability", Status: StatusOK, Message: "embedding provider reachable", weight: weights["provider_reachability"]}
	}
	return Check{
		Name:    "provider_reachability",
		Status:  StatusFail,
		Message: "embedding provider unreachable",
		Detail:  avail.Error,
		Fix:     "check embedding.base_url and provider credentials",
		weight:  weights["provider_reachability"],
	}
}

func (a *Aggregator) embeddingCoverage(ctx context.Context, db *sql.DB) Check {
	embedded, active, err := sqlite.EmbeddingCoverage(ctx, db)
	if err != nil {
		return failCheck("embedding_coverage", err)
	}
	if active == 0 {
		return Check{Name: "embedding_coverage", Status: StatusOK, Message: "no active memories yet", weight: weights["embedding_coverage"]}
	}
	ratio := float64(embedded) / float64(active)
	detail := fmt.Sprintf("%d/%d active memories embedded (%.1f%%)", embedded, active, ratio*100)
	switch {
	case ratio >= 0.95:
		return Check{Name: "embedding_coverage", Status: StatusOK, Message: "embedding coverage healthy", Detail: detail, weight: weights["embedding_coverage"]}
	case ratio >= 0.75:
		return Check{Name: "embedding_coverage", Status: StatusWarn, Message: "embedding coverage degraded", Detail: detail, Fix: "run reembedMissingMemories", weight: weights["embedding_coverage"]}
	default:
		return Check{Name: "embedding_coverage", Status: StatusFail, Message: "embedding coverage poor", Detail: detail, Fix: "run reembedMissingMemories", weight: weights["embedding_coverage"]}
	}
}

func (a *Aggregator) dimensionMismatch(ctx context.Context, db *sql.DB) Check {
	n, err := sqlite.DimensionMismatchCount(ctx, db, a.cfg.Embedding.Dimensions)
	if err != nil {
		return failCheck("dimension_mismatch", err)
	}
	if n == 0 {
		return Check{Name: "dimension_mismatch", Status: StatusOK, Message: "all embeddings match configured dimensions", weight: weights["dimension_mismatch"]}
	}
	return Check{
		Name:    "dimension_mismatch",
		Status:  StatusWarn,
		Message: fmt.Sprintf("%d embeddings have mismatched dimensions", n),
		Fix:     "reembed affected memories after fixing embedding.dimensions",
		weight:  weights["dimension_mismatch"],
	}
}

func (a *Aggregator) modelDrift(ctx context.Context, db *sql.DB) Check {
	models, err := sqlite.DistinctEmbeddingModels(ctx, db)
	if err != nil {
		return failCheck("model_drift", err)
	}
	if len(models) <= 1 {
		return Check{Name: "model_drift", Status: StatusOK, Message: "a single embedding model is in use", weight: weights["model_drift"]}
	}
	return Check{
		Name:    "model_drift",
		Status:  StatusWarn,
		Message: fmt.Sprintf("%d distinct embedding models found", len(models)),
		Detail:  fmt.Sprintf("%v", models),
		Fix:     "run reembedMissingMemories to converge on the configured model",
		weight:  weights["model_drift"],
	}
}

func (a *Aggregator) nullEmptyVectors(ctx context.Context, db *sql.DB) Check {
	n, err := sqlite.NullOrEmptyVectorCount(ctx, db)
	if err != nil {
		return failCheck("null_empty_vectors", err)
	}
	if n == 0 {
		return Check{Name: "null_empty_vectors", Status: StatusOK, Message: "no null or empty vectors", weight: weights["null_empty_vectors"]}
	}
	return Check{
		Name:    "null_empty_vectors",
		Status:  StatusFail,
		Message: fmt.Sprintf("%d embedding rows have a null or empty vector", n),
		Fix:     "delete and re-embed affected rows",
		weight:  weights["null_empty_vectors"],
	}
}

func (a *Aggregator) vecIndexParity(ctx context.Context, db *sql.DB) Check {
	embeddings, vecIndex, err := sqlite.VecIndexParity(ctx, db)
	if err != nil {
		return failCheck("vec_index_parity", err)
	}
	if embeddings == vecIndex {
		return Check{Name: "vec_index_parity", Status: StatusOK, Message: "vector index row count matches embeddings", weight: weights["vec_index_parity"]}
	}
	return Check{
		Name:    "vec_index_parity",
		Status:  StatusWarn,
		Message: fmt.Sprintf("embeddings=%d vec_embeddings=%d", embeddings, vecIndex),
		Fix:     "rebuild the vector index mirror",
		weight:  weights["vec_index_parity"],
	}
}

func (a *Aggregator) orphanedEmbeddings(ctx context.Context, db *sql.DB) Check {
	n, err := sqlite.OrphanedEmbeddingCount(ctx, db)
	if err != nil {
		return failCheck("orphaned_embeddings", err)
	}
	if n == 0 {
		return Check{Name: "orphaned_embeddings", Status: StatusOK, Message: "no orphaned embeddings", weight: weights["orphaned_embeddings"]}
	}
	return Check{
		Name:    "orphaned_embeddings",
		Status:  StatusWarn,
		Message: fmt.Sprintf("%d embeddings reference a missing or deleted memory", n),
		Fix:     "run a retention sweep to clear orphaned rows",
		weight:  weights["orphaned_embeddings"],
	}
}

func failCheck(name string, err error) Check {
	return Check{Name: name, Status: StatusFail, Message: "check failed: " + err.Error(), weight: weights[name]}
}
