package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordPromptAccumulatesQueryTermsAndSnippets(t *testing.T) {
	m := New(nil, DefaultCheckpointConfig())
	m.InitContinuity("sess-1")

	m.RecordPrompt("sess-1", "rotate keys", "remind me to rotate keys weekly")
	m.RecordPrompt("sess-1", "postgres migration", "we should migrate to postgres")

	state := m.ConsumeState("sess-1")
	assert.Equal(t, 2, state.TotalPrompts)
	assert.Equal(t, []string{"rotate keys", "postgres migration"}, state.QueryTerms)
	assert.Len(t, state.Snippets, 2)
}

func TestRecordPromptTruncatesLongSnippets(t *testing.T) {
	m := New(nil, DefaultCheckpointConfig())
	m.InitContinuity("sess-1")

	long := strings.Repeat("a", 500)
	m.RecordPrompt("sess-1", "term", long)

	state := m.ConsumeState("sess-1")
	assert.Len(t, state.Snippets[0], 200)
}

func TestRecordPromptQueryTermRingIsBoundedAt20(t *testing.T) {
	m := New(nil, DefaultCheckpointConfig())
	m.InitContinuity("sess-1")

	for i := 0; i < 30; i++ {
		m.RecordPrompt("sess-1", "term", "snippet")
	}

	state := m.ConsumeState("sess-1")
	assert.Len(t, state.QueryTerms, 20)
}

func TestConsumeStateResetsPromptsSinceCheckpointButNotTotal(t *testing.T) {
	m := New(nil, DefaultCheckpointConfig())
	m.InitContinuity("sess-1")
	m.RecordPrompt("sess-1", "a", "a")
	m.RecordPrompt("sess-1", "b", "b")

	first := m.ConsumeState("sess-1")
	assert.Equal(t, 2, first.TotalPrompts)
	assert.Equal(t, 2, first.PromptsSinceCheckpoint)

	m.RecordPrompt("sess-1", "c", "c")
	second := m.ConsumeState("sess-1")
	assert.Equal(t, 3, second.TotalPrompts, "total prompts is never reset")
	assert.Equal(t, 1, second.PromptsSinceCheckpoint, "only the interval counter resets")
}

func TestShouldCheckpointFiresOnPromptInterval(t *testing.T) {
	cfg := CheckpointConfig{TimeIntervalMs: int64(1) << 40, PromptInterval: 3}
	m := New(nil, cfg)
	m.InitContinuity("sess-1")

	for i := 0; i < 2; i++ {
		m.RecordPrompt("sess-1", "t", "s")
	}
	assert.False(t, m.ShouldCheckpoint("sess-1"))

	m.RecordPrompt("sess-1", "t", "s")
	assert.True(t, m.ShouldCheckpoint("sess-1"))
}

func TestClearContinuityDropsState(t *testing.T) {
	m := New(nil, DefaultCheckpointConfig())
	m.InitContinuity("sess-1")
	m.RecordPrompt("sess-1", "a", "a")
	m.ClearContinuity("sess-1")

	state := m.ConsumeState("sess-1")
	assert.Equal(t, 0, state.TotalPrompts, "ClearContinuity then access re-creates fresh state")
}

func TestRecordCandidatesNoOpOnEmptySessionKey(t *testing.T) {
	m := New(nil, DefaultCheckpointConfig())
	err := m.RecordCandidates(nil, "", nil)
	assert.NoError(t, err)
}

func TestTrackFtsHitsNoOpOnEmptyIDs(t *testing.T) {
	m := New(nil, DefaultCheckpointConfig())
	err := m.TrackFtsHits(nil, "sess-1", nil)
	assert.NoError(t, err)
}
