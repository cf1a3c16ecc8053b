// Package session is the session/continuity layer (component K): recording
// which recall candidates were shown to a session, flagging which of them
// were later revisited by keyword search, and maintaining a small
// in-memory ring buffer of recent prompts/remembers per session key so a
// harness can checkpoint periodically. None of the continuity state is
// persisted — only the candidate records are, via the store. This
// component has no teacher analogue (Memento has no session/harness
// concept); its shape follows the store's mutex-guarded in-memory map
// pattern used elsewhere in the teacher (e.g. the connection manager's
// registry of live connections).
package session

import (
	"container/ring"
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/Signet-AI/signetai-sub002/internal/store/sqlite"
	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

const (
	maxQueryTerms = 20
	maxRemembers  = 10
	maxSnippets   = 10
	snippetCap    = 200
)

// CheckpointConfig controls when shouldCheckpoint fires (spec §4.K).
// Neither field appears in the loaded YAML config; these are sensible,
// re-tunable defaults rather than an open spec parameter.
type CheckpointConfig struct {
	TimeIntervalMs int64
	PromptInterval int
}

// DefaultCheckpointConfig checkpoints every 10 minutes or every 20 prompts,
// whichever comes first.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{TimeIntervalMs: 10 * 60 * 1000, PromptInterval: 20}
}

// continuity is one session's in-memory ring-buffer state (spec §3:
// "Continuity state ... owned by the daemon process only and lost on
// restart").
type continuity struct {
	queryTerms *ring.Ring
	remembers  *ring.Ring
	snippets   *ring.Ring

	totalPrompts           int
	promptsSinceCheckpoint int
	lastCheckpoint         time.Time
}

func newContinuity() *continuity {
	now := time.Now()
	return &continuity{
		queryTerms:     ring.New(maxQueryTerms),
		remembers:      ring.New(maxRemembers),
		snippets:       ring.New(maxSnippets),
		lastCheckpoint: now,
	}
}

// State is a point-in-time snapshot handed back by consumeState.
type State struct {
	SessionKey             string
	TotalPrompts           int
	PromptsSinceCheckpoint int
	QueryTerms             []string
	Remembers              []string
	Snippets               []string
}

// Manager tracks continuity state for every active session key and
// records/queries session candidate rows through the store.
type Manager struct {
	db  *sqlite.Accessor
	cfg CheckpointConfig

	mu    sync.Mutex
	byKey map[string]*continuity
}

// New builds a Manager.
func New(db *sqlite.Accessor, cfg CheckpointConfig) *Manager {
	return &Manager{db: db, cfg: cfg, byKey: make(map[string]*continuity)}
}

// InitContinuity creates (or resets) the ring-buffer state for sessionKey.
func (m *Manager) InitContinuity(sessionKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[sessionKey] = newContinuity()
}

// ClearContinuity discards a session's in-memory state entirely.
func (m *Manager) ClearContinuity(sessionKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byKey, sessionKey)
}

func (m *Manager) get(sessionKey string) *continuity {
	c, ok := m.byKey[sessionKey]
	if !ok {
		c = newContinuity()
		m.byKey[sessionKey] = c
	}
	return c
}

// RecordPrompt appends a query term and a truncated prompt snippet to
// sessionKey's ring buffers and bumps its prompt counters.
func (m *Manager) RecordPrompt(sessionKey, queryTerm, promptSnippet string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.get(sessionKey)

	c.queryTerms.Value = truncate(queryTerm, snippetCap)
	c.queryTerms = c.queryTerms.Next()
	c.snippets.Value = truncate(promptSnippet, snippetCap)
	c.snippets = c.snippets.Next()

	c.totalPrompts++
	c.promptsSinceCheckpoint++
}

// RecordRemember appends a remembered-content snippet to sessionKey's ring
// buffer.
func (m *Manager) RecordRemember(sessionKey, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.get(sessionKey)
	c.remembers.Value = truncate(content, snippetCap)
	c.remembers = c.remembers.Next()
}

// ShouldCheckpoint reports whether sessionKey has crossed either the time
// or prompt-count checkpoint threshold (spec §4.K).
func (m *Manager) ShouldCheckpoint(sessionKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.get(sessionKey)
	elapsed := time.Since(c.lastCheckpoint).Milliseconds()
	return elapsed >= m.cfg.TimeIntervalMs || c.promptsSinceCheckpoint >= m.cfg.PromptInterval
}

// ConsumeState atomically snapshots sessionKey's ring buffers and resets
// its interval counters (spec §4.K: "consumeState snapshots and resets the
// interval counters atomically").
func (m *Manager) ConsumeState(sessionKey string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.get(sessionKey)

	state := State{
		SessionKey:             sessionKey,
		TotalPrompts:           c.totalPrompts,
		PromptsSinceCheckpoint: c.promptsSinceCheckpoint,
		QueryTerms:             ringContents(c.queryTerms),
		Remembers:              ringContents(c.remembers),
		Snippets:               ringContents(c.snippets),
	}

	c.promptsSinceCheckpoint = 0
	c.lastCheckpoint = time.Now()
	return state
}

// RecordCandidates persists recall results considered for sessionKey
// (spec §4.K: "records (sessionKey, memoryId, score, source, injected)
// rows keyed by session"). A no-op when sessionKey is empty.
func (m *Manager) RecordCandidates(ctx context.Context, sessionKey string, candidates []types.SessionCandidateRecord) error {
	if sessionKey == "" || len(candidates) == 0 {
		return nil
	}
	return m.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return sqlite.RecordSessionCandidates(ctx, tx, sessionKey, candidates)
	})
}

// TrackFtsHits flags which previously recorded candidates for sessionKey
// were later revisited via keyword search.
func (m *Manager) TrackFtsHits(ctx context.Context, sessionKey string, ids []string) error {
	if sessionKey == "" || len(ids) == 0 {
		return nil
	}
	return m.db.WithWriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return sqlite.TrackFtsHits(ctx, tx, sessionKey, ids)
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func ringContents(r *ring.Ring) []string {
	var out []string
	r.Do(func(v interface{}) {
		if v == nil {
			return
		}
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	})
	return out
}
