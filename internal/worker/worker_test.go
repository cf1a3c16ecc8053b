package worker

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Signet-AI/signetai-sub002/internal/config"
	"github.com/Signet-AI/signetai-sub002/internal/extract"
	"github.com/Signet-AI/signetai-sub002/internal/ingest"
	"github.com/Signet-AI/signetai-sub002/internal/store/sqlite"
)

func newTestDB(t *testing.T) *sqlite.Accessor {
	t.Helper()
	db, err := sqlite.Init(filepath.Join(t.TempDir(), "memories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// newUnreachableExtractClient builds a Client pointed at a port nothing is
// listening on, so Extract() fails fast with a transport error — exercising
// the worker's fail path without a real extraction provider.
func newUnreachableExtractClient(maxRetries int) (*extract.Client, *config.Config) {
	cfg := config.Defaults()
	cfg.PipelineV2.Enabled = true
	cfg.PipelineV2.Extraction.Provider = "local"
	cfg.PipelineV2.Extraction.TimeoutMs = 500
	cfg.PipelineV2.Worker.MaxRetries = maxRetries
	ec := extract.New(cfg.PipelineV2.Extraction, "http://127.0.0.1:1", "")
	return ec, cfg
}

func seedMemoryWithJob(t *testing.T, db *sqlite.Accessor) string {
	t.Helper()
	p := ingest.New(db, nil, config.Defaults())
	res, err := p.Remember(context.Background(), ingest.Input{Raw: "we decided to use postgres"})
	require.NoError(t, err)

	err = db.WithWriteTx(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		return sqlite.EnqueueExtractionJob(ctx, tx, res.ID)
	})
	require.NoError(t, err)
	return res.ID
}

func TestClaimAndProcessOneReturnsFalseWhenQueueEmpty(t *testing.T) {
	db := newTestDB(t)
	ec, cfg := newUnreachableExtractClient(3)
	w := NewExtractionWorker(db, ec, cfg)

	assert.False(t, w.claimAndProcessOne(context.Background()))
}

func TestClaimAndProcessOneRetriesThenDeadLetters(t *testing.T) {
	db := newTestDB(t)
	ec, cfg := newUnreachableExtractClient(3)
	w := NewExtractionWorker(db, ec, cfg)
	seedMemoryWithJob(t, db)
	ctx := context.Background()

	// Extraction fails against the unreachable provider each time, so the
	// job cycles pending -> leased -> pending for maxRetries rounds, then
	// dead-letters and stops being claimable.
	assert.True(t, w.claimAndProcessOne(ctx), "round 1: attempts 0->1, pending")
	assert.True(t, w.claimAndProcessOne(ctx), "round 2: attempts 1->2, pending")
	assert.True(t, w.claimAndProcessOne(ctx), "round 3: attempts 2->3, dead-lettered")
	assert.False(t, w.claimAndProcessOne(ctx), "dead jobs are not claimable")
}

func TestClaimAndProcessOneFailsJobWhenSourceMemoryMissing(t *testing.T) {
	db := newTestDB(t)
	ec, cfg := newUnreachableExtractClient(1)
	w := NewExtractionWorker(db, ec, cfg)

	err := db.WithWriteTx(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		return sqlite.EnqueueExtractionJob(ctx, tx, "does-not-exist")
	})
	require.NoError(t, err)

	assert.True(t, w.claimAndProcessOne(context.Background()), "round 1: attempts 0->1, dead-lettered (maxRetries=1)")
	assert.False(t, w.claimAndProcessOne(context.Background()))
}

func TestRunIsANoOpWhenPipelineV2Disabled(t *testing.T) {
	db := newTestDB(t)
	ec, cfg := newUnreachableExtractClient(3)
	cfg.PipelineV2.Enabled = false
	w := NewExtractionWorker(db, ec, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx) // must return immediately instead of blocking on the ticker
}
