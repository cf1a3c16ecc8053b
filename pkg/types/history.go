package types

import "time"

// HistoryEvent is an immutable audit log row. Every mutation writes exactly
// one (spec §8: "every mutation ... emits exactly one history event").
type HistoryEvent struct {
	ID         string                 `json:"id"`
	MemoryID   string                 `json:"memory_id"`
	Event      string                 `json:"event"`
	OldContent string                 `json:"old_content,omitempty"`
	NewContent string                 `json:"new_content,omitempty"`
	ChangedBy  string                 `json:"changed_by,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	ActorType  string                 `json:"actor_type"`
	SessionID  string                 `json:"session_id,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Event kinds (spec §3, MemoryHistoryEvent.event).
const (
	EventCreated   = "created"
	EventUpdated   = "updated"
	EventDeleted   = "deleted"
	EventRecovered = "recovered"
	EventMerged    = "merged"
	EventNone      = "none"
)

// Actor kinds (spec §3).
const (
	ActorOperator = "operator"
	ActorAgent    = "agent"
	ActorPipeline = "pipeline"
	ActorDaemon   = "daemon"
	ActorHarness  = "harness"
)

// MutationContext is threaded through every transaction closure so history
// events carry a consistent audit trail (spec §4.C).
type MutationContext struct {
	ActorType string
	SessionID string
	RequestID string
}
