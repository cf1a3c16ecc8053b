package types

import "time"

// SessionCandidateRecord memoizes which memory ids a session's recall
// considered, scored, injected, or later re-hit via FTS (spec §3, §4.K).
type SessionCandidateRecord struct {
	ID         string    `json:"id"`
	SessionKey string    `json:"session_key"`
	MemoryID   string    `json:"memory_id"`
	Score      float64   `json:"score"`
	Source     string    `json:"source"`
	Injected   bool      `json:"injected"`
	FtsHit     bool      `json:"fts_hit"`
	CreatedAt  time.Time `json:"created_at"`
}
