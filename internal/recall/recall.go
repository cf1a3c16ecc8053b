// Package recall is the hybrid retrieval pipeline (component G): a BM25
// keyword pass and a cosine vector pass fused by alpha, then a rehearsal
// decay boost, an optional graph boost, an optional reranker, and a
// decision->rationale linking pass. It generalizes the teacher's
// internal/engine/search_orchestrator.go (weighted-score fusion shape) and
// internal/engine/decay_manager.go (exponential recency decay), onto spec
// §4.G's specific BM25+vector+rehearsal+graph+rerank pipeline, which the
// teacher's single in-process relevance score doesn't implement.
package recall

import (
	"context"
	"database/sql"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Signet-AI/signetai-sub002/internal/config"
	"github.com/Signet-AI/signetai-sub002/internal/embedclient"
	"github.com/Signet-AI/signetai-sub002/internal/store/sqlite"
	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

// queryEmbedCacheSize bounds the per-query embedding memoization cache
// (spec §5 "the in-memory availability cache ... no locking required at
// scheduling granularity of a cooperative scheduler"; the same reasoning
// applies here — lru.Cache is safe for this daemon's cooperative
// scheduler, and the teacher's pack uses golang-lru for exactly this kind
// of bounded memoization).
const queryEmbedCacheSize = 256

// Source tags a result by which pass(es) produced it (spec §3 Recall
// result "source").
const (
	SourceHybrid  = "hybrid"
	SourceVector  = "vector"
	SourceKeyword = "keyword"
	SourceGraph   = "graph"
)

// Reranker is the optional reranking pass (spec §4.E reranker.*). Rerank
// returns the input indices in their new order: element i is the index
// into texts of the candidate ranked at position i (0 = best); an
// error or a context deadline means "keep original order" per spec §4.G
// step 6.
type Reranker interface {
	Rerank(ctx context.Context, query string, texts []string) ([]int, error)
}

// VectorIndex is an optional external ANN backend — internal/store/pgvec
// when storage.vectorIndex is configured to "postgres" — used in place of
// the default in-process cosine ranking over sqlite.VectorCandidates. It
// returns memory_id -> similarity (higher is better), matching vectorPass's
// own return shape so callers don't need to know which backend answered.
type VectorIndex interface {
	Query(ctx context.Context, vector []float32, memType string, topK int) (map[string]float64, error)
}

// Engine runs the hybrid recall pipeline against the store.
type Engine struct {
	db        *sqlite.Accessor
	embed     *embedclient.Client
	cfg       *config.Config
	reranker  Reranker
	vecIndex  VectorIndex
	embedOnce *lru.Cache[string, []float32]
}

// New builds an Engine. reranker may be nil even when
// cfg.PipelineV2.Reranker.Enabled is true — recall degrades to "keep
// original order" in that case, same as a reranker timeout. vecIndex may be
// nil, in which case the vector pass ranks sqlite.VectorCandidates
// in-process (spec §3's default).
func New(db *sqlite.Accessor, embed *embedclient.Client, cfg *config.Config, reranker Reranker, vecIndex VectorIndex) *Engine {
	cache, _ := lru.New[string, []float32](queryEmbedCacheSize)
	return &Engine{db: db, embed: embed, cfg: cfg, reranker: reranker, vecIndex: vecIndex, embedOnce: cache}
}

// embedQuery embeds query text, memoizing successful embeddings so that
// repeated identical queries within a session (spec §4.K: recent query
// terms are retained per session) don't re-hit the embedding provider.
// Failures (nil vector) are never cached — a transient provider outage
// shouldn't pin a query to keyword-only recall forever.
func (e *Engine) embedQuery(ctx context.Context, text string) []float32 {
	if e.embedOnce != nil {
		if v, ok := e.embedOnce.Get(text); ok {
			return v
		}
	}
	vec := e.embed.Embed(ctx, text)
	if vec != nil && e.embedOnce != nil {
		e.embedOnce.Add(text, vec)
	}
	return vec
}

// Request is the recall() call shape (spec §4.G, §6 POST /api/memory/recall).
type Request struct {
	Query     string
	Limit     int
	Filters   sqlite.Filters
	SessionID string
	RequestID string
}

// Result is one row of the recall response (spec §3, §6 "Recall result").
type Result struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	ContentLength int       `json:"content_length"`
	Truncated     bool      `json:"truncated"`
	Score         float64   `json:"score"`
	Source        string    `json:"source"`
	Type          string    `json:"type"`
	Tags          []string  `json:"tags"`
	Pinned        bool      `json:"pinned"`
	Importance    float64   `json:"importance"`
	Who           string    `json:"who,omitempty"`
	Project       string    `json:"project,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Supplementary bool      `json:"supplementary,omitempty"`
}

// Response is the full recall() return value (spec §6: "{results, query, method}").
type Response struct {
	Results []Result
	Query   string
	Method  string
}

type candidate struct {
	memoryID string
	score    float64
	source   string
}

// Recall runs the full hybrid pipeline (spec §4.G steps 1-9).
func (e *Engine) Recall(ctx context.Context, req Request) (*Response, error) {
	if req.Limit <= 0 {
		req.Limit = 10
	}
	topK := e.cfg.Search.TopK

	var bm25Hits map[string]float64
	var vecScores map[string]float64
	var err error

	err = e.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
		bm25Hits, err = sqlite.KeywordSearch(ctx, db, req.Query, req.Filters, topK)
		return err
	})
	if err != nil {
		return nil, err
	}
	bm25Norm := normalizeBM25(bm25Hits)

	hadVector := false
	if e.embed != nil {
		if vec := e.embedQuery(ctx, req.Query); vec != nil {
			hadVector = true
			err = e.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
				vecScores, err = e.vectorPass(ctx, db, vec, req.Filters.Type, topK)
				return err
			})
			if err != nil {
				return nil, err
			}
		}
	}

	candidates := fuse(bm25Norm, vecScores, e.cfg.Search.Alpha, e.cfg.Search.MinScore)

	var memories map[string]*types.Memory
	ids := candidateIDs(candidates)
	err = e.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
		memories, err = sqlite.GetMemoriesByIDs(ctx, db, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	candidates = applyFilters(candidates, memories, req.Filters)

	if e.cfg.Search.RehearsalEnabled {
		candidates = e.applyRehearsalBoost(candidates, memories)
	}

	if e.cfg.PipelineV2.Graph.Enabled {
		var gerr error
		candidates, gerr = e.applyGraphBoost(ctx, req.Query, candidates)
		if gerr != nil {
			// graph boost is best-effort within a bounded timeout; a
			// failure here degrades to the pre-boost ranking.
			gerr = nil
		}
	}

	if e.cfg.PipelineV2.Reranker.Enabled && e.reranker != nil {
		candidates = e.applyReranker(ctx, req.Query, candidates, memories)
	}

	sortCandidatesDesc(candidates)
	if len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	results := make([]Result, 0, len(candidates))
	ids = ids[:0]
	for _, c := range candidates {
		m := memories[c.memoryID]
		if m == nil {
			continue
		}
		results = append(results, shapeResult(m, c.score, c.source, e.cfg.PipelineV2.Guardrails.RecallTruncateChars))
		ids = append(ids, m.ID)
	}

	if len(ids) > 0 {
		if err := e.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return sqlite.FinalizeAccess(ctx, tx, ids)
		}); err != nil {
			// best-effort per spec §4.G step 8: logged, never fails the query.
			log.Printf("recall: access bump failed: %v", err)
		}
	}

	if e.cfg.PipelineV2.Graph.Enabled {
		supplementary, serr := e.decisionRationaleLinks(ctx, results)
		if serr == nil {
			results = append(results, supplementary...)
		}
	}

	method := SourceKeyword
	if hadVector {
		method = SourceHybrid
	}

	return &Response{Results: results, Query: req.Query, Method: method}, nil
}

// SearchKeyword runs the bare BM25+filter pass backing the GET
// /memory/search shortcut (spec §6: "keyword+filter shortcut ... no vector
// pass"). It skips the vector pass and the rehearsal/graph/reranker
// enrichments layered onto the full hybrid pipeline.
func (e *Engine) SearchKeyword(ctx context.Context, req Request) (*Response, error) {
	if req.Limit <= 0 {
		req.Limit = 10
	}

	var bm25Hits map[string]float64
	var err error
	err = e.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
		bm25Hits, err = sqlite.KeywordSearch(ctx, db, req.Query, req.Filters, e.cfg.Search.TopK)
		return err
	})
	if err != nil {
		return nil, err
	}
	candidates := fuse(normalizeBM25(bm25Hits), nil, e.cfg.Search.Alpha, e.cfg.Search.MinScore)

	var memories map[string]*types.Memory
	err = e.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
		memories, err = sqlite.GetMemoriesByIDs(ctx, db, candidateIDs(candidates))
		return err
	})
	if err != nil {
		return nil, err
	}
	candidates = applyFilters(candidates, memories, req.Filters)
	sortCandidatesDesc(candidates)
	if len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if m := memories[c.memoryID]; m != nil {
			results = append(results, shapeResult(m, c.score, SourceKeyword, e.cfg.PipelineV2.Guardrails.RecallTruncateChars))
		}
	}
	return &Response{Results: results, Query: req.Query, Method: SourceKeyword}, nil
}

// Similar runs the vector-nearest-neighbors lookup backing GET
// /memory/similar (spec §6): a memory's own embedding against the vector
// index, excluding itself.
func (e *Engine) Similar(ctx context.Context, id string, k int, memType string) (*Response, error) {
	if k <= 0 {
		k = 10
	}

	var ownVec []float32
	var cands []sqlite.EmbeddingCandidate
	var err error
	err = e.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
		ownVec, err = sqlite.GetEmbeddingByMemoryID(ctx, db, id)
		if err != nil || ownVec == nil {
			return err
		}
		cands, err = sqlite.VectorCandidates(ctx, db, memType, k+1)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ownVec == nil {
		return &Response{Query: id, Method: SourceVector}, nil
	}

	scored := make([]candidate, 0, len(cands))
	for _, c := range cands {
		if c.MemoryID == id {
			continue
		}
		scored = append(scored, candidate{memoryID: c.MemoryID, score: sqlite.CosineSimilarity(ownVec, c.Vector), source: SourceVector})
	}
	sortCandidatesDesc(scored)
	if len(scored) > k {
		scored = scored[:k]
	}

	var memories map[string]*types.Memory
	err = e.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
		memories, err = sqlite.GetMemoriesByIDs(ctx, db, candidateIDs(scored))
		return err
	})
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(scored))
	for _, c := range scored {
		if m := memories[c.memoryID]; m != nil {
			results = append(results, shapeResult(m, c.score, SourceVector, e.cfg.PipelineV2.Guardrails.RecallTruncateChars))
		}
	}
	return &Response{Results: results, Query: id, Method: SourceVector}, nil
}

func (e *Engine) vectorPass(ctx context.Context, db *sql.DB, queryVec []float32, memType string, topK int) (map[string]float64, error) {
	if e.vecIndex != nil {
		return e.vecIndex.Query(ctx, queryVec, memType, topK)
	}

	cands, err := sqlite.VectorCandidates(ctx, db, memType, topK)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(cands))
	for _, c := range cands {
		out[c.MemoryID] = sqlite.CosineSimilarity(queryVec, c.Vector)
	}
	return out, nil
}

// normalizeBM25 min-max normalizes |raw bm25 score| into [0,1] within the
// batch (spec §4.G step 1). SQLite's bm25() is more negative for a better
// match, so the absolute value is taken before normalizing.
func normalizeBM25(hits map[string]float64) map[string]float64 {
	if len(hits) == 0 {
		return nil
	}
	min, max := math.Inf(1), math.Inf(-1)
	abs := make(map[string]float64, len(hits))
	for id, raw := range hits {
		a := math.Abs(raw)
		abs[id] = a
		if a < min {
			min = a
		}
		if a > max {
			max = a
		}
	}
	out := make(map[string]float64, len(hits))
	span := max - min
	for id, a := range abs {
		if span <= 0 {
			out[id] = 1.0
			continue
		}
		out[id] = (a - min) / span
	}
	return out
}

// fuse combines the keyword and vector passes (spec §4.G step 3):
// score = alpha*vec + (1-alpha)*bm25 when both exist, otherwise whichever
// exists; rows below minScore are dropped.
func fuse(bm25, vec map[string]float64, alpha, minScore float64) []candidate {
	seen := map[string]bool{}
	var out []candidate
	add := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		bv, hasBM25 := bm25[id]
		vv, hasVec := vec[id]
		var score float64
		var source string
		switch {
		case hasBM25 && hasVec:
			score = alpha*vv + (1-alpha)*bv
			source = SourceHybrid
		case hasVec:
			score = vv
			source = SourceVector
		default:
			score = bv
			source = SourceKeyword
		}
		if score < minScore {
			return
		}
		out = append(out, candidate{memoryID: id, score: score, source: source})
	}
	for id := range bm25 {
		add(id)
	}
	for id := range vec {
		add(id)
	}
	sortCandidatesDesc(out)
	return out
}

func candidateIDs(cands []candidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.memoryID
	}
	return ids
}

func applyFilters(cands []candidate, memories map[string]*types.Memory, f sqlite.Filters) []candidate {
	if f.Type == "" && f.Who == "" && f.Pinned == nil && f.ImportanceMin <= 0 && f.Since == nil && f.Until == nil && len(f.Tags) == 0 {
		return cands
	}
	out := cands[:0]
	for _, c := range cands {
		m := memories[c.memoryID]
		if m == nil || !matchesFilters(m, f) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func matchesFilters(m *types.Memory, f sqlite.Filters) bool {
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if f.Who != "" && m.Who != f.Who {
		return false
	}
	if f.Pinned != nil && m.Pinned != *f.Pinned {
		return false
	}
	if f.ImportanceMin > 0 && m.Importance < f.ImportanceMin {
		return false
	}
	if f.Since != nil && m.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && m.CreatedAt.After(*f.Until) {
		return false
	}
	if len(f.Tags) > 0 {
		matched := false
		for _, want := range f.Tags {
			for _, have := range m.Tags {
				if strings.Contains(have, want) {
					matched = true
					break
				}
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// applyRehearsalBoost implements spec §4.G step 4: recency = 0.5 ^
// (daysSinceAccess / halfLifeDays); boost = weight * ln(access_count+1) *
// recency; score *= 1 + boost.
func (e *Engine) applyRehearsalBoost(cands []candidate, memories map[string]*types.Memory) []candidate {
	weight := e.cfg.Search.RehearsalWeight
	halfLife := e.cfg.Search.RehearsalHalfLifeDays
	now := time.Now()
	for i, c := range cands {
		m := memories[c.memoryID]
		if m == nil {
			continue
		}
		ref := m.CreatedAt
		if m.LastAccessed != nil {
			ref = *m.LastAccessed
		}
		daysSince := now.Sub(ref).Hours() / 24
		if daysSince < 0 {
			daysSince = 0
		}
		recency := math.Pow(0.5, daysSince/halfLife)
		boost := weight * math.Log(float64(m.AccessCount)+1) * recency
		cands[i].score = c.score * (1 + boost)
	}
	sortCandidatesDesc(cands)
	return cands
}

// applyGraphBoost implements spec §4.G step 5: within boostTimeoutMs,
// enumerate entity mentions for the query terms and boost any candidate
// linked to one of those entities.
func (e *Engine) applyGraphBoost(ctx context.Context, query string, cands []candidate) ([]candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.PipelineV2.Graph.BoostTimeoutMs)*time.Millisecond)
	defer cancel()

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return cands, nil
	}

	boosted := map[string]bool{}
	err := e.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
		for _, term := range terms {
			rows, qerr := db.QueryContext(ctx, `SELECT id FROM entities WHERE lower(name) LIKE ?`, "%"+term+"%")
			if qerr != nil {
				return qerr
			}
			var entityIDs []string
			for rows.Next() {
				var id string
				if serr := rows.Scan(&id); serr != nil {
					rows.Close()
					return serr
				}
				entityIDs = append(entityIDs, id)
			}
			rows.Close()
			if len(entityIDs) == 0 {
				continue
			}
			memIDs, merr := memoriesMentioning(ctx, db, entityIDs)
			if merr != nil {
				return merr
			}
			for _, id := range memIDs {
				boosted[id] = true
			}
		}
		return nil
	})
	if err != nil {
		return cands, err
	}

	w := e.cfg.PipelineV2.Graph.BoostWeight
	for i, c := range cands {
		if boosted[c.memoryID] {
			cands[i].score = (1-w)*c.score + w
		}
	}
	sortCandidatesDesc(cands)
	return cands, nil
}

func memoriesMentioning(ctx context.Context, db *sql.DB, entityIDs []string) ([]string, error) {
	placeholders, args := sqlInClause(entityIDs)
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT memory_id FROM entity_mentions WHERE entity_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func sqlInClause(vals []string) (string, []interface{}) {
	placeholders := ""
	args := make([]interface{}, len(vals))
	for i, v := range vals {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = v
	}
	return placeholders, args
}

// applyReranker implements spec §4.G step 6: rerank the top reranker.topN,
// replacing scores with rank-derived values 1 - i/N; keep original order
// on timeout/failure.
func (e *Engine) applyReranker(ctx context.Context, query string, cands []candidate, memories map[string]*types.Memory) []candidate {
	n := e.cfg.PipelineV2.Reranker.TopN
	if n > len(cands) {
		n = len(cands)
	}
	if n == 0 {
		return cands
	}
	top := cands[:n]
	texts := make([]string, n)
	for i, c := range top {
		if m := memories[c.memoryID]; m != nil {
			texts[i] = m.Content
		}
	}

	rctx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.PipelineV2.Reranker.TimeoutMs)*time.Millisecond)
	defer cancel()

	order, err := e.reranker.Rerank(rctx, query, texts)
	if err != nil || len(order) != n {
		return cands
	}

	reranked := make([]candidate, n)
	for newPos, origIdx := range order {
		if origIdx < 0 || origIdx >= n {
			return cands
		}
		c := top[origIdx]
		c.score = 1 - float64(newPos)/float64(n)
		reranked[newPos] = c
	}
	return append(reranked, cands[n:]...)
}

// decisionRationaleLinks implements spec §4.G step 9: if any result is a
// decision, pull up to 10 additional rationale memories sharing an entity
// mention, appended with supplementary=true, score=0.
func (e *Engine) decisionRationaleLinks(ctx context.Context, results []Result) ([]Result, error) {
	var decisionIDs []string
	existing := map[string]bool{}
	for _, r := range results {
		existing[r.ID] = true
		if r.Type == types.TypeDecision {
			decisionIDs = append(decisionIDs, r.ID)
		}
	}
	if len(decisionIDs) == 0 {
		return nil, nil
	}

	var supplementary []Result
	err := e.db.WithReadDb(ctx, func(ctx context.Context, db *sql.DB) error {
		entityIDs, eerr := sqlite.EntitiesForMemories(ctx, db, decisionIDs)
		if eerr != nil || len(entityIDs) == 0 {
			return eerr
		}
		rationales, merr := sqlite.MemoriesForEntities(ctx, db, entityIDs, types.TypeRationale, decisionIDs, 10)
		if merr != nil {
			return merr
		}
		for _, m := range rationales {
			if existing[m.ID] {
				continue
			}
			res := shapeResult(m, 0, SourceGraph, 100000)
			res.Supplementary = true
			supplementary = append(supplementary, res)
		}
		return nil
	})
	return supplementary, err
}

func shapeResult(m *types.Memory, score float64, source string, truncateChars int) Result {
	content := m.Content
	truncated := false
	if len(content) > truncateChars {
		content = content[:truncateChars] + " [truncated]"
		truncated = true
	}
	return Result{
		ID:            m.ID,
		Content:       content,
		ContentLength: len(m.Content),
		Truncated:     truncated,
		Score:         math.Round(score*100) / 100,
		Source:        source,
		Type:          m.Type,
		Tags:          m.Tags,
		Pinned:        m.Pinned,
		Importance:    m.Importance,
		Who:           m.Who,
		Project:       m.Project,
		CreatedAt:     m.CreatedAt,
	}
}

func sortCandidatesDesc(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
}
