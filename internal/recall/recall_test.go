package recall

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeBM25MinMaxWithinBatch(t *testing.T) {
	out := normalizeBM25(map[string]float64{
		"a": -10, // best match (most negative raw bm25)
		"b": -5,
		"c": -1,
	})

	assert.InDelta(t, 0.0, out["c"], 1e-9, "least negative raw score normalizes to 0")
	assert.InDelta(t, 1.0, out["a"], 1e-9, "most negative raw score normalizes to 1")
	assert.True(t, out["b"] > out["c"] && out["b"] < out["a"])
}

func TestNormalizeBM25SingleHitNormalizesToOne(t *testing.T) {
	out := normalizeBM25(map[string]float64{"a": -3})
	assert.Equal(t, 1.0, out["a"])
}

func TestNormalizeBM25EmptyReturnsNil(t *testing.T) {
	assert.Nil(t, normalizeBM25(nil))
}

func TestFuseAlphaZeroReproducesPureKeywordOrdering(t *testing.T) {
	bm25 := map[string]float64{"x": 0.9, "y": 0.4, "z": 0.1}
	vec := map[string]float64{"x": 0.1, "y": 0.9, "z": 0.4}

	cands := fuse(bm25, vec, 0, 0)
	ids := idsOf(cands)
	assert.Equal(t, []string{"x", "y", "z"}, ids, "alpha=0 must rank purely by bm25")
	for _, c := range cands {
		assert.Equal(t, SourceHybrid, c.source)
	}
}

func TestFuseAlphaOneReproducesPureVectorOrdering(t *testing.T) {
	bm25 := map[string]float64{"x": 0.9, "y": 0.4, "z": 0.1}
	vec := map[string]float64{"x": 0.1, "y": 0.9, "z": 0.4}

	cands := fuse(bm25, vec, 1, 0)
	ids := idsOf(cands)
	assert.Equal(t, []string{"y", "z", "x"}, ids, "alpha=1 must rank purely by vector score")
}

func TestFuseKeepsKeywordOnlyCandidateWithKeywordSource(t *testing.T) {
	bm25 := map[string]float64{"only-keyword": 0.7}
	vec := map[string]float64{}

	cands := fuse(bm25, vec, 0.5, 0)
	assert.Len(t, cands, 1)
	assert.Equal(t, SourceKeyword, cands[0].source)
	assert.Equal(t, 0.7, cands[0].score)
}

func TestFuseKeepsVectorOnlyCandidateWithVectorSource(t *testing.T) {
	bm25 := map[string]float64{}
	vec := map[string]float64{"only-vector": 0.6}

	cands := fuse(bm25, vec, 0.5, 0)
	assert.Len(t, cands, 1)
	assert.Equal(t, SourceVector, cands[0].source)
	assert.Equal(t, 0.6, cands[0].score)
}

func TestFuseDropsScoresBelowMinScore(t *testing.T) {
	bm25 := map[string]float64{"low": 0.01, "high": 0.9}
	cands := fuse(bm25, nil, 0, 0.05)
	ids := idsOf(cands)
	assert.Equal(t, []string{"high"}, ids)
}

func idsOf(cands []candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.memoryID
	}
	return out
}
