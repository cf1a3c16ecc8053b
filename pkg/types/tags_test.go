package types_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

func TestNormalizeTagsDedupesAndSorts(t *testing.T) {
	got := types.NormalizeTags([]string{"Security", "api", " security ", "API"})
	require.Equal(t, []string{"api", "security"}, got)
}

func TestNormalizeTagsDropsEmpty(t *testing.T) {
	got := types.NormalizeTags([]string{"", "  ", "ok"})
	require.Equal(t, []string{"ok"}, got)
}

func TestSplitTagsRoundTrip(t *testing.T) {
	m := types.Memory{Tags: []string{"b", "a", "a"}}
	joined := m.TagsString()
	require.Equal(t, "a,b", joined)
	require.Equal(t, []string{"a", "b"}, types.SplitTags(joined))
}

func TestSplitTagsEmpty(t *testing.T) {
	require.Nil(t, types.SplitTags(""))
	require.Nil(t, types.SplitTags("   "))
}
