package types

import "time"

// Job is an extraction queue row claimed and processed by the extraction
// worker (spec §3, §4.H).
type Job struct {
	ID        string     `json:"id"`
	MemoryID  string     `json:"memory_id"`
	JobType   string     `json:"job_type"`
	Status    string     `json:"status"`
	Attempts  int        `json:"attempts"`
	LeasedAt  *time.Time `json:"leased_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Job types and statuses (spec §3, MemoryJob).
const (
	JobTypeExtract = "extract"

	JobStatusPending = "pending"
	JobStatusLeased  = "leased"
	JobStatusDone    = "done"
	JobStatusDead    = "dead"
)
