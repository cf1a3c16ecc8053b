package repair

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Signet-AI/signetai-sub002/internal/apierr"
	"github.com/Signet-AI/signetai-sub002/internal/config"
	"github.com/Signet-AI/signetai-sub002/internal/embedclient"
	"github.com/Signet-AI/signetai-sub002/internal/store/sqlite"
	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

func newTestRegistry(t *testing.T, mutate func(*config.Config)) *Registry {
	t.Helper()
	db, err := sqlite.Init(filepath.Join(t.TempDir(), "memories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Defaults()
	cfg.PipelineV2.Repair.RequeueCooldownMs = 5 * 60 * 1000
	cfg.PipelineV2.Repair.RequeueHourlyBudget = 50
	if mutate != nil {
		mutate(cfg)
	}
	embed := embedclient.New(cfg.Embedding)
	return New(db, embed, cfg)
}

func TestRunSecondCallWithinCooldownIsRateLimited(t *testing.T) {
	reg := newTestRegistry(t, nil)
	ctx := context.Background()

	_, err := reg.Run(ctx, ActionRequeueDeadJobs, types.ActorOperator, Params{})
	require.NoError(t, err)

	_, err = reg.Run(ctx, ActionRequeueDeadJobs, types.ActorOperator, Params{})
	require.Error(t, err)
	assert.Equal(t, apierr.RateLimited, apierr.KindOf(err))
}

func TestRunDifferentActionsHaveIndependentLimiters(t *testing.T) {
	reg := newTestRegistry(t, nil)
	ctx := context.Background()

	_, err := reg.Run(ctx, ActionRequeueDeadJobs, types.ActorOperator, Params{})
	require.NoError(t, err)

	// A different action sharing the same underlying cooldown budget
	// documented in spec §4.J must not be blocked by requeueDeadJobs's
	// own cooldown — each action tracks its own {lastRunAt, hourlyCount}.
	_, err = reg.Run(ctx, ActionReleaseStaleLeases, types.ActorOperator, Params{})
	assert.NoError(t, err)
}

func TestRunDeniedWhenFrozenRegardlessOfActor(t *testing.T) {
	reg := newTestRegistry(t, func(c *config.Config) {
		c.PipelineV2.Autonomous.Frozen = true
	})
	_, err := reg.Run(context.Background(), ActionRequeueDeadJobs, types.ActorOperator, Params{})
	require.Error(t, err)
	assert.Equal(t, apierr.PolicyDenied, apierr.KindOf(err))
}

func TestRunDeniedForPipelineActorWhenAutonomousDisabled(t *testing.T) {
	reg := newTestRegistry(t, func(c *config.Config) {
		c.PipelineV2.Autonomous.Enabled = false
	})
	_, err := reg.Run(context.Background(), ActionRequeueDeadJobs, types.ActorPipeline, Params{})
	require.Error(t, err)
	assert.Equal(t, apierr.PolicyDenied, apierr.KindOf(err))
}

func TestRunAllowedForOperatorWhenAutonomousDisabled(t *testing.T) {
	reg := newTestRegistry(t, func(c *config.Config) {
		c.PipelineV2.Autonomous.Enabled = false
	})
	_, err := reg.Run(context.Background(), ActionRequeueDeadJobs, types.ActorOperator, Params{})
	assert.NoError(t, err)
}

func TestRunDeniedForAgentActorWhenAutonomousDisabled(t *testing.T) {
	reg := newTestRegistry(t, func(c *config.Config) {
		c.PipelineV2.Autonomous.Enabled = false
	})
	_, err := reg.Run(context.Background(), ActionRequeueDeadJobs, types.ActorAgent, Params{})
	require.Error(t, err)
	assert.Equal(t, apierr.PolicyDenied, apierr.KindOf(err))
}

func TestTriggerRetentionSweepDefaultsToThirtyDayWindow(t *testing.T) {
	reg := newTestRegistry(t, nil)
	ctx := context.Background()

	m := &types.Memory{
		Content:           "rotate keys weekly",
		NormalizedContent: "rotate keys weekly",
		ContentHash:       "hash-rotate-keys",
		Type:              types.TypeFact,
		ExtractionStatus:  types.ExtractionNone,
	}
	var id string
	require.NoError(t, reg.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, gotID, ierr := sqlite.Ingest(ctx, tx, m, types.MutationContext{ActorType: types.ActorOperator})
		id = gotID
		return ierr
	}))
	require.NoError(t, reg.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, ferr := sqlite.Forget(ctx, tx, id, false, "no longer needed", nil, types.MutationContext{ActorType: types.ActorOperator})
		return ferr
	}))

	// No RetentionWindowMs supplied, matching the daemon's unconfigured
	// retentionSweepLoop call — this must not hard-delete a memory
	// forgotten moments ago. ActorOperator isolates this case from the
	// autonomous.enabled policy gate, which is covered separately.
	res, err := reg.Run(ctx, ActionTriggerRetentionSweep, types.ActorOperator, Params{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Affected)

	var stillThere *types.Memory
	require.NoError(t, reg.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
		var gerr error
		stillThere, gerr = sqlite.GetMemory(ctx, db, id)
		return gerr
	}))
	assert.NotNil(t, stillThere)
}

func TestRunUnknownActionIsBadRequest(t *testing.T) {
	reg := newTestRegistry(t, nil)
	_, err := reg.Run(context.Background(), "not-a-real-action", types.ActorOperator, Params{})
	require.Error(t, err)
	assert.Equal(t, apierr.BadRequest, apierr.KindOf(err))
}

func TestCheckFtsConsistencyWithinToleranceOnEmptyStore(t *testing.T) {
	reg := newTestRegistry(t, nil)
	res, err := reg.Run(context.Background(), ActionCheckFtsConsistency, types.ActorOperator, Params{})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, 0, res.Affected)
}
