package sqlite

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

func TestActiveMemoryCountAndFTSRowCountStayInSync(t *testing.T) {
	db := newTestAccessor(t)
	insertMemory(t, db, "first fact", false)
	insertMemory(t, db, "second fact", false)

	var active, ftsRows int
	require.NoError(t, db.WithReadDb(context.Background(), func(ctx context.Context, sqlDB *sql.DB) error {
		var err error
		active, err = ActiveMemoryCount(ctx, sqlDB)
		if err != nil {
			return err
		}
		ftsRows, err = FTSRowCount(ctx, sqlDB)
		return err
	}))
	assert.Equal(t, 2, active)
	assert.Equal(t, 2, ftsRows)
}

func TestUnembeddedActiveMemoriesListsRowsWithNoEmbedding(t *testing.T) {
	db := newTestAccessor(t)
	id := insertMemory(t, db, "needs an embedding", false)

	var ids []string
	require.NoError(t, db.WithReadDb(context.Background(), func(ctx context.Context, sqlDB *sql.DB) error {
		var err error
		ids, err = UnembeddedActiveMemories(ctx, sqlDB, "text-embed-v1", 10)
		return err
	}))
	assert.Contains(t, ids, id)
}

func TestSweepRetentionHardDeletesPastWindow(t *testing.T) {
	db := newTestAccessor(t)
	id := insertMemory(t, db, "old deleted note", false)
	ctx := context.Background()

	require.NoError(t, db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := Forget(ctx, tx, id, false, "cleanup", nil, types.MutationContext{ActorType: types.ActorOperator})
		return err
	}))

	var swept int
	require.NoError(t, db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		// A window of 0ms means every soft-deleted row is already past it.
		swept, err = SweepRetention(ctx, tx, 0, 100)
		return err
	}))
	assert.Equal(t, 1, swept)

	var mem *types.Memory
	require.NoError(t, db.WithReadDb(ctx, func(ctx context.Context, sqlDB *sql.DB) error {
		var err error
		mem, err = GetMemory(ctx, sqlDB, id)
		return err
	}))
	assert.Nil(t, mem, "hard-deleted row must no longer be readable at all")
}

func TestSweepRetentionLeavesRecentDeletesAlone(t *testing.T) {
	db := newTestAccessor(t)
	id := insertMemory(t, db, "recently deleted note", false)
	ctx := context.Background()

	require.NoError(t, db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := Forget(ctx, tx, id, false, "cleanup", nil, types.MutationContext{ActorType: types.ActorOperator})
		return err
	}))

	var swept int
	require.NoError(t, db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		// A multi-day window means the row just deleted isn't past it yet.
		swept, err = SweepRetention(ctx, tx, 30*24*60*60*1000, 100)
		return err
	}))
	assert.Equal(t, 0, swept)
}
