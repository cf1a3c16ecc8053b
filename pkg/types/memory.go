// Package types holds the shared data model for the Signet memory core:
// memories, their embeddings, the audit history log, extraction jobs, and
// the small entity graph used to boost recall.
package types

import "time"

// Memory is the atomic unit of the store. Mutations always go through the
// transaction closures in internal/store/sqlite — nothing else writes rows.
type Memory struct {
	ID                string     `json:"id"`
	Content           string     `json:"content"`
	NormalizedContent string     `json:"-"`
	ContentHash       string     `json:"-"`
	Type              string     `json:"type"`
	Tags              []string   `json:"tags"`
	Importance        float64    `json:"importance"`
	Pinned            bool       `json:"pinned"`
	IsDeleted         bool       `json:"-"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
	Version           int        `json:"version"`
	AccessCount       int        `json:"access_count"`
	LastAccessed      *time.Time `json:"last_accessed,omitempty"`
	Who               string     `json:"who,omitempty"`
	Why               string     `json:"why,omitempty"`
	Project           string     `json:"project,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	UpdatedBy         string     `json:"updated_by,omitempty"`
	SourceType        string     `json:"source_type,omitempty"`
	SourceID          string     `json:"source_id,omitempty"`
	EmbeddingModel    string     `json:"embedding_model,omitempty"`
	ExtractionStatus  string     `json:"extraction_status"`
	ExtractionModel   string     `json:"extraction_model,omitempty"`
}

// Extraction statuses (spec §3, Memory.extraction_status).
const (
	ExtractionNone    = "none"
	ExtractionPending = "pending"
	ExtractionDone    = "done"
	ExtractionFailed  = "failed"
)

// Known memory types inferred by the ingest pipeline (spec §4.F step 3).
// The set is open-ended ("free string") — these are just the hinted ones.
const (
	TypeFact       = "fact"
	TypePreference = "preference"
	TypeDecision   = "decision"
	TypeRationale  = "rationale"
	TypeIssue      = "issue"
	TypeRule       = "rule"
	TypeLearning   = "learning"
	TypeSession    = "session_summary"
)

// TagsString joins Tags into the comma-separated, lowercased, order-insensitive
// storage form described in spec §3 ("tags (comma-joined ... set of strings)").
func (m *Memory) TagsString() string {
	return joinTags(m.Tags)
}
