// Package ingest is the remember() pipeline (component F): prefix parsing,
// type inference, content hashing, the write transaction, and the
// best-effort async embed that follows it. It generalizes the "create a
// memory from free text" path in the teacher's web/handlers/api.go
// (CreateMemoryRequest handling) and memory_store.go's dedupe-by-hash
// insert, onto spec §4.F's prefix/tag/type-inference grammar, which the
// teacher itself does not have.
package ingest

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/Signet-AI/signetai-sub002/internal/config"
	"github.com/Signet-AI/signetai-sub002/internal/embedclient"
	"github.com/Signet-AI/signetai-sub002/internal/store/sqlite"
	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

// typeHints is the ordered substring -> type table from spec §4.F step 3.
// First match wins, so order here is significant.
var typeHints = []struct {
	substr string
	typ    string
}{
	{"prefer", types.TypePreference},
	{"likes", types.TypePreference},
	{"want", types.TypePreference},
	{"decided", types.TypeDecision},
	{"agreed", types.TypeDecision},
	{"will use", types.TypeDecision},
	{"learned", types.TypeLearning},
	{"til ", types.TypeLearning},
	{"bug", types.TypeIssue},
	{"never", types.TypeRule},
	{"always", types.TypeRule},
	{"must", types.TypeRule},
}

const criticalPrefix = "critical:"

var tagPrefixPattern = regexp.MustCompile(`^\[([^\]]*)\]\s*:\s*(.*)$`)

// Pipeline wires the ingest path to the store accessor and embedding
// client. One Pipeline is constructed at daemon startup and shared by the
// HTTP surface, the extraction worker, and the markdown feed.
type Pipeline struct {
	db    *sqlite.Accessor
	embed *embedclient.Client
	cfg   *config.Config
}

// New builds a Pipeline.
func New(db *sqlite.Accessor, embed *embedclient.Client, cfg *config.Config) *Pipeline {
	return &Pipeline{db: db, embed: embed, cfg: cfg}
}

// Input is the caller-supplied remember() payload (spec §4.F signature:
// "remember(raw, who, project, importance?, tags?, pinned?)").
type Input struct {
	Raw        string
	Who        string
	Project    string
	Importance *float64
	Tags       []string
	Pinned     *bool
	SourceType string
	SourceID   string
}

// Result is what the ingest pipeline hands back to its caller: the new
// memory's id, inferred type, tags, pinned flag and importance. Embedded is
// true when a background embedding request was started for the row (an
// embed client is configured); it does not wait for that request, so it
// does not report whether the embedding succeeded.
type Result struct {
	ID         string
	Content    string
	Type       string
	Tags       []string
	Pinned     bool
	Importance float64
	Embedded   bool
	Duplicate  bool
}

// NormalizeContent applies the one uniform hash-input normalization this
// spec picked for its open question on content_hash consistency (spec §9,
// DESIGN.md decision 1): lowercase, trim, collapse internal whitespace.
// Every call site that computes or compares a hash uses this function so
// ingest-time and repair-time hashing can never diverge.
func NormalizeContent(content string) string {
	fields := strings.Fields(strings.ToLower(content))
	return strings.Join(fields, " ")
}

// ContentHash is sha256(NormalizeContent(content)), hex-encoded (spec §3
// Memory.content_hash, §4.F step 4).
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

// Remember runs the full ingest pipeline (spec §4.F steps 1-7).
func (p *Pipeline) Remember(ctx context.Context, in Input) (*Result, error) {
	raw := strings.TrimSpace(in.Raw)
	if raw == "" {
		return nil, fmt.Errorf("ingest: empty content")
	}

	pinned := false
	importance := 0.5
	importanceWasPrefixed := false

	lowerRaw := strings.ToLower(raw)
	if strings.HasPrefix(lowerRaw, criticalPrefix) {
		raw = strings.TrimSpace(raw[len(criticalPrefix):])
		pinned = true
		importance = 1.0
		importanceWasPrefixed = true
	}

	var tags []string
	if m := tagPrefixPattern.FindStringSubmatch(raw); m != nil {
		for _, t := range strings.Split(m[1], ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				tags = append(tags, t)
			}
		}
		raw = strings.TrimSpace(m[2])
	}
	if len(in.Tags) > 0 {
		tags = append(tags, in.Tags...)
	}
	tags = types.NormalizeTags(tags)

	content := raw
	if len(content) > p.cfg.PipelineV2.Guardrails.MaxContentChars {
		content = content[:p.cfg.PipelineV2.Guardrails.MaxContentChars]
	}
	if content == "" {
		return nil, fmt.Errorf("ingest: empty content after prefix/tag parsing")
	}

	memType := inferType(content)

	// DESIGN.md decision 4: caller-supplied importance always wins when
	// explicitly provided; critical:'s 1.0 is only the default otherwise.
	if in.Importance != nil {
		importance = *in.Importance
	} else if !importanceWasPrefixed {
		importance = 0.5
	}
	if in.Pinned != nil {
		pinned = *in.Pinned
	}

	normalized := NormalizeContent(content)
	hash := ContentHash(content)

	m := &types.Memory{
		Content:           content,
		NormalizedContent: normalized,
		ContentHash:       hash,
		Type:              memType,
		Tags:              tags,
		Importance:        importance,
		Pinned:            pinned,
		Who:               in.Who,
		Project:           in.Project,
		UpdatedBy:         in.Who,
		SourceType:        in.SourceType,
		SourceID:          in.SourceID,
		ExtractionStatus:  types.ExtractionNone,
	}

	mctx := types.MutationContext{ActorType: types.ActorAgent}

	var status sqlite.Status
	var id string
	err := p.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var txErr error
		status, id, txErr = sqlite.Ingest(ctx, tx, m, mctx)
		if p.cfg.PipelineV2.Enabled && status == sqlite.StatusUpdated {
			if jobErr := sqlite.EnqueueExtractionJob(ctx, tx, id); jobErr != nil {
				log.Printf("ingest: enqueue extraction for %s: %v", id, jobErr)
			}
		}
		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: write: %w", err)
	}

	result := &Result{
		ID: id, Content: content, Type: memType, Tags: tags, Pinned: pinned, Importance: importance,
	}

	if status == sqlite.StatusDuplicateContentHash {
		result.Duplicate = true
		return result, nil
	}

	if p.embed != nil {
		go p.asyncEmbed(context.Background(), id, content, hash)
		result.Embedded = true
	}

	return result, nil
}

func inferType(content string) string {
	lower := strings.ToLower(content)
	for _, hint := range typeHints {
		if strings.Contains(lower, hint.substr) {
			return hint.typ
		}
	}
	return types.TypeFact
}

// asyncEmbed requests an embedding after the write transaction commits
// (spec §4.F step 6: "After commit, asynchronously request an embedding").
// Failures are logged and swallowed — the memory stays retrievable via
// keyword search until the embedding tracker backfills it.
func (p *Pipeline) asyncEmbed(ctx context.Context, memoryID, content, contentHash string) {
	vec := p.embed.Embed(ctx, content)
	if vec == nil {
		return
	}
	emb := &types.Embedding{
		ContentHash: contentHash,
		Vector:      vec,
		Dimensions:  len(vec),
		SourceType:  types.EmbeddingSourceMemory,
		SourceID:    memoryID,
		Model:       p.embed.Model(),
	}
	err := p.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return sqlite.UpsertEmbeddingTx(ctx, tx, emb)
	})
	if err != nil {
		log.Printf("ingest: async embed upsert for %s: %v", memoryID, err)
	}
}
