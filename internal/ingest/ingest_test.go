package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Signet-AI/signetai-sub002/internal/config"
	"github.com/Signet-AI/signetai-sub002/internal/store/sqlite"
	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	db, err := sqlite.Init(filepath.Join(t.TempDir(), "memories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, nil, config.Defaults())
}

func TestRememberCriticalPrefixPinsAndMaxesImportance(t *testing.T) {
	p := newTestPipeline(t)
	res, err := p.Remember(context.Background(), Input{
		Raw: "critical: [security, api]: rotate keys weekly",
		Who: "op",
	})
	require.NoError(t, err)

	assert.True(t, res.Pinned)
	assert.Equal(t, 1.0, res.Importance)
	assert.Equal(t, []string{"api", "security"}, res.Tags)
	assert.Equal(t, "rotate keys weekly", res.Content)
	assert.False(t, res.Duplicate)
}

func TestRememberCallerImportanceOverridesCriticalDefault(t *testing.T) {
	p := newTestPipeline(t)
	importance := 0.3
	res, err := p.Remember(context.Background(), Input{
		Raw:        "critical: rotate keys weekly",
		Importance: &importance,
	})
	require.NoError(t, err)

	assert.True(t, res.Pinned)
	assert.Equal(t, 0.3, res.Importance)
}

func TestRememberIdempotentOnDuplicateContent(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	first, err := p.Remember(ctx, Input{Raw: "we decided to use postgres"})
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := p.Remember(ctx, Input{Raw: "we decided to use postgres"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Duplicate)
}

func TestInferTypeOrderedHints(t *testing.T) {
	cases := []struct {
		content string
		want    string
	}{
		{"I prefer dark mode", types.TypePreference},
		{"we decided to use postgres", types.TypeDecision},
		{"TIL that context cancellation propagates", types.TypeLearning},
		{"there is a bug in the parser", types.TypeIssue},
		{"never commit secrets", types.TypeRule},
		{"always run tests before pushing", types.TypeRule},
		{"the sky is blue", types.TypeFact},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, inferType(c.content), c.content)
	}
}

func TestRememberTagPrefixWithoutCritical(t *testing.T) {
	p := newTestPipeline(t)
	res, err := p.Remember(context.Background(), Input{Raw: "[go, testing]: table tests read well"})
	require.NoError(t, err)

	assert.False(t, res.Pinned)
	assert.Equal(t, []string{"go", "testing"}, res.Tags)
	assert.Equal(t, "table tests read well", res.Content)
}

func TestContentHashIgnoresCaseAndWhitespace(t *testing.T) {
	a := ContentHash("Rotate   Keys Weekly")
	b := ContentHash("rotate keys weekly")
	assert.Equal(t, a, b)
}

func TestRememberEmptyContentErrors(t *testing.T) {
	p := newTestPipeline(t)
	_, err := p.Remember(context.Background(), Input{Raw: "   "})
	assert.Error(t, err)
}

func TestRememberTagPrefixBodyEmptyErrors(t *testing.T) {
	p := newTestPipeline(t)
	_, err := p.Remember(context.Background(), Input{Raw: "[a, b]:   "})
	assert.Error(t, err)
}
