package diagnostics

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Signet-AI/signetai-sub002/internal/config"
	"github.com/Signet-AI/signetai-sub002/internal/embedclient"
	"github.com/Signet-AI/signetai-sub002/internal/store/sqlite"
)

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	db, err := sqlite.Init(filepath.Join(t.TempDir(), "memories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Defaults()
	cfg.Embedding.BaseURL = "http://127.0.0.1:1" // unreachable: exercises the fail path
	embed := embedclient.New(cfg.Embedding)
	return New(db, embed, cfg)
}

func TestRunOnEmptyStoreIsHealthyExceptProviderReachability(t *testing.T) {
	a := newTestAggregator(t)
	report := a.Run(context.Background())

	byName := map[string]Check{}
	for _, c := range report.Checks {
		byName[c.Name] = c
	}

	assert.Equal(t, StatusFail, byName["provider_reachability"].Status)
	assert.Equal(t, StatusOK, byName["embedding_coverage"].Status, "no active memories yet is a pass")
	assert.Equal(t, StatusOK, byName["dimension_mismatch"].Status)
	assert.Equal(t, StatusOK, byName["model_drift"].Status)
	assert.Equal(t, StatusOK, byName["null_empty_vectors"].Status)
	assert.Equal(t, StatusOK, byName["vec_index_parity"].Status)
	assert.Equal(t, StatusOK, byName["orphaned_embeddings"].Status)
}

func TestRunScoreExcludesOnlyTheFailedProviderCheck(t *testing.T) {
	a := newTestAggregator(t)
	report := a.Run(context.Background())

	// Every check but provider_reachability (weight 0.25) passes, so the
	// score should land at exactly 1 - 0.25 = 0.75, which is "degraded".
	assert.InDelta(t, 0.75, report.Score, 0.0001)
	assert.Equal(t, "degraded", report.Overall)
}

func TestProviderStatusRunsOnlyTheReachabilityCheck(t *testing.T) {
	a := newTestAggregator(t)
	check := a.ProviderStatus(context.Background())
	assert.Equal(t, "provider_reachability", check.Name)
	assert.Equal(t, StatusFail, check.Status)
}
