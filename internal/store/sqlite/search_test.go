package sqlite

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFTSQueryStripsOperatorsAndStopWords(t *testing.T) {
	assert.Equal(t, "rotate* OR keys*", sanitizeFTSQuery("the rotate (keys)"))
}

func TestSanitizeFTSQueryFallsBackToLowercaseWhenAllStopWords(t *testing.T) {
	assert.Equal(t, "the a", sanitizeFTSQuery("The A"))
}

func TestRelaxQueryOrsBareTermsWithoutPrefixMatch(t *testing.T) {
	assert.Equal(t, "rotate OR keys", relaxQuery("rotate-keys"))
}

func TestRelaxQueryEmptyOnSingleTerm(t *testing.T) {
	assert.Equal(t, "", relaxQuery("postgres"))
}

func TestKeywordSearchMatchesIngestedContent(t *testing.T) {
	db := newTestAccessor(t)
	id := insertMemory(t, db, "rotate the deploy keys every week", false)

	var hits map[string]float64
	require.NoError(t, db.WithReadDb(context.Background(), func(ctx context.Context, sqlDB *sql.DB) error {
		var err error
		hits, err = KeywordSearch(ctx, sqlDB, "deploy keys", Filters{}, 10)
		return err
	}))
	assert.Contains(t, hits, id)
}

func TestKeywordSearchRespectsTypeFilter(t *testing.T) {
	db := newTestAccessor(t)
	insertMemory(t, db, "rotate the deploy keys every week", false)

	var hits map[string]float64
	require.NoError(t, db.WithReadDb(context.Background(), func(ctx context.Context, sqlDB *sql.DB) error {
		var err error
		hits, err = KeywordSearch(ctx, sqlDB, "deploy keys", Filters{Type: "preference"}, 10)
		return err
	}))
	assert.Empty(t, hits, "filtered-out type must not match")
}

func TestVectorCandidatesEmptyWithoutEmbeddings(t *testing.T) {
	db := newTestAccessor(t)
	insertMemory(t, db, "no embedding yet", false)

	var cands []EmbeddingCandidate
	require.NoError(t, db.WithReadDb(context.Background(), func(ctx context.Context, sqlDB *sql.DB) error {
		var err error
		cands, err = VectorCandidates(ctx, sqlDB, "", 10)
		return err
	}))
	assert.Empty(t, cands)
}
