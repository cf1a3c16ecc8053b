// Package config loads Signet's memory configuration from a YAML file in
// the agents directory (spec §4.E, §6 "agent.yaml (or AGENT.yaml,
// config.yaml)"). It accepts both the nested key layout and flat aliases
// (nested wins on conflict), clamps every numeric field to a documented
// range, and falls back to defaults on parse failure — mirroring the
// teacher's explicit-loader-plus-defaulting-function shape in
// internal/config/config.go, generalized to the YAML, nested-alias case
// this spec requires.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EmbeddingConfig configures the pluggable embedding provider (component D).
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
}

// SearchConfig configures the hybrid recall pipeline (component G).
type SearchConfig struct {
	Alpha                 float64 `yaml:"alpha"`
	TopK                  int     `yaml:"top_k"`
	MinScore              float64 `yaml:"min_score"`
	RehearsalEnabled      bool    `yaml:"rehearsal_enabled"`
	RehearsalWeight       float64 `yaml:"rehearsal_weight"`
	RehearsalHalfLifeDays float64 `yaml:"rehearsal_half_life_days"`
}

// AutonomousConfig gates the repair layer and the extraction worker's write
// phase (component J, component H).
type AutonomousConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Frozen                bool   `yaml:"frozen"`
	AllowUpdateDelete     bool   `yaml:"allowUpdateDelete"`
	MaintenanceIntervalMs int    `yaml:"maintenanceIntervalMs"`
	MaintenanceMode       string `yaml:"maintenanceMode"` // "observe" | "execute"
}

// ExtractionConfig configures the optional extraction LLM endpoint.
type ExtractionConfig struct {
	Provider      string  `yaml:"provider"`
	Model         string  `yaml:"model"`
	TimeoutMs     int     `yaml:"timeout"`
	MinConfidence float64 `yaml:"minConfidence"`
}

// WorkerConfig configures the extraction worker's lease queue loop.
type WorkerConfig struct {
	PollMs         int `yaml:"pollMs"`
	MaxRetries     int `yaml:"maxRetries"`
	LeaseTimeoutMs int `yaml:"leaseTimeoutMs"`
}

// GraphConfig configures the optional graph boost pass in recall.
type GraphConfig struct {
	Enabled        bool    `yaml:"enabled"`
	BoostWeight    float64 `yaml:"boostWeight"`
	BoostTimeoutMs int     `yaml:"boostTimeoutMs"`
}

// RerankerConfig configures the optional reranker pass in recall.
type RerankerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Model     string `yaml:"model"`
	TopN      int    `yaml:"topN"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

// RepairConfig configures the rate limits gating each repair action.
type RepairConfig struct {
	ReembedCooldownMs   int `yaml:"reembedCooldownMs"`
	ReembedHourlyBudget int `yaml:"reembedHourlyBudget"`
	RequeueCooldownMs   int `yaml:"requeueCooldownMs"`
	RequeueHourlyBudget int `yaml:"requeueHourlyBudget"`
}

// GuardrailsConfig bounds content sizes across ingest, recall, and chunking.
type GuardrailsConfig struct {
	MaxContentChars     int `yaml:"maxContentChars"`
	ChunkTargetChars    int `yaml:"chunkTargetChars"`
	RecallTruncateChars int `yaml:"recallTruncateChars"`
}

// PipelineV2Config is the nested block gating autonomous extraction and
// maintenance behavior (spec §4.E).
type PipelineV2Config struct {
	Enabled         bool             `yaml:"enabled"`
	ShadowMode      bool             `yaml:"shadowMode"`
	MutationsFrozen bool             `yaml:"mutationsFrozen"`
	Autonomous      AutonomousConfig `yaml:"autonomous"`
	Extraction      ExtractionConfig `yaml:"extraction"`
	Worker          WorkerConfig     `yaml:"worker"`
	Graph           GraphConfig      `yaml:"graph"`
	Reranker        RerankerConfig   `yaml:"reranker"`
	Repair          RepairConfig     `yaml:"repair"`
	Guardrails      GuardrailsConfig `yaml:"guardrails"`
}

// StorageConfig selects the vector-index backend (spec §3's SQLite
// vec_embeddings virtual table, or an optional Postgres/pgvector mirror).
type StorageConfig struct {
	VectorIndex string `yaml:"vectorIndex"` // "sqlite" | "postgres"
	PostgresDSN string `yaml:"postgresDsn"`
}

// Config is the fully loaded, clamped memory configuration.
type Config struct {
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Search     SearchConfig     `yaml:"search"`
	PipelineV2 PipelineV2Config `yaml:"pipelineV2"`
	Storage    StorageConfig    `yaml:"storage"`
}

// Defaults returns the documented default configuration. Every field here
// is also the fallback used when loading fails or a key is absent.
func Defaults() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:   "local-http",
			Model:      "local-embed",
			Dimensions: 768,
			BaseURL:    "http://127.0.0.1:11434/api/embeddings",
		},
		Search: SearchConfig{
			Alpha:                 0.5,
			TopK:                  50,
			MinScore:              0.05,
			RehearsalEnabled:      true,
			RehearsalWeight:       0.15,
			RehearsalHalfLifeDays: 14,
		},
		PipelineV2: PipelineV2Config{
			Enabled:         false,
			ShadowMode:      true,
			MutationsFrozen: false,
			Autonomous: AutonomousConfig{
				Enabled:               false,
				Frozen:                false,
				AllowUpdateDelete:     false,
				MaintenanceIntervalMs: 6 * 60 * 60 * 1000,
				MaintenanceMode:       "observe",
			},
			Extraction: ExtractionConfig{
				Provider:      "none",
				TimeoutMs:     20000,
				MinConfidence: 0.6,
			},
			Worker: WorkerConfig{
				PollMs:         2000,
				MaxRetries:     3,
				LeaseTimeoutMs: 60000,
			},
			Graph: GraphConfig{
				Enabled:        false,
				BoostWeight:    0.1,
				BoostTimeoutMs: 500,
			},
			Reranker: RerankerConfig{
				Enabled:   false,
				TopN:      20,
				TimeoutMs: 3000,
			},
			Repair: RepairConfig{
				ReembedCooldownMs:   60000,
				ReembedHourlyBudget: 20,
				RequeueCooldownMs:   1000,
				RequeueHourlyBudget: 50,
			},
			Guardrails: GuardrailsConfig{
				MaxContentChars:     20000,
				ChunkTargetChars:    2000,
				RecallTruncateChars: 500,
			},
		},
		Storage: StorageConfig{
			VectorIndex: "sqlite",
		},
	}
}

// Load reads and parses path, falling back to Defaults() on any read or
// parse failure (documented behavior — see spec §4.E "Parse failures fall
// back to documented defaults"). Unknown keys are ignored. Flat and nested
// key layouts are both accepted; nested wins when both are present for the
// same logical setting.
func Load(path string) *Config {
	cfg := Defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Printf("config: could not read %s, using defaults: %v", path, err)
		return cfg
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		log.Printf("config: could not parse %s, using defaults: %v", path, err)
		return cfg
	}

	applyDoc(cfg, doc)
	clamp(cfg)
	return cfg
}

// applyDoc overlays values found in doc onto cfg. Each setting is looked up
// first via its nested path (e.g. "pipelineV2", "worker", "pollMs"), then —
// if absent — via the flattened alias (a single top-level key joining the
// same path segments with "_", e.g. "pipelineV2_worker_pollMs"). Nested wins.
func applyDoc(cfg *Config, doc map[string]interface{}) {
	str := func(path ...string) (string, bool) {
		v, ok := lookup(doc, path...)
		if !ok {
			return "", false
		}
		s, ok := v.(string)
		return s, ok
	}
	num := func(path ...string) (float64, bool) {
		v, ok := lookup(doc, path...)
		if !ok {
			return 0, false
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		}
		return 0, false
	}
	boolean := func(path ...string) (bool, bool) {
		v, ok := lookup(doc, path...)
		if !ok {
			return false, false
		}
		b, ok := v.(bool)
		return b, ok
	}

	if v, ok := str("embedding", "provider"); ok {
		cfg.Embedding.Provider = v
	}
	if v, ok := str("embedding", "model"); ok {
		cfg.Embedding.Model = v
	}
	if v, ok := num("embedding", "dimensions"); ok {
		cfg.Embedding.Dimensions = int(v)
	}
	if v, ok := str("embedding", "base_url"); ok {
		cfg.Embedding.BaseURL = v
	}
	if v, ok := str("embedding", "api_key"); ok {
		cfg.Embedding.APIKey = v
	}

	if v, ok := num("search", "alpha"); ok {
		cfg.Search.Alpha = v
	}
	if v, ok := num("search", "top_k"); ok {
		cfg.Search.TopK = int(v)
	}
	if v, ok := num("search", "min_score"); ok {
		cfg.Search.MinScore = v
	}
	if v, ok := boolean("search", "rehearsal_enabled"); ok {
		cfg.Search.RehearsalEnabled = v
	}
	if v, ok := num("search", "rehearsal_weight"); ok {
		cfg.Search.RehearsalWeight = v
	}
	if v, ok := num("search", "rehearsal_half_life_days"); ok {
		cfg.Search.RehearsalHalfLifeDays = v
	}

	if v, ok := boolean("pipelineV2", "enabled"); ok {
		cfg.PipelineV2.Enabled = v
	}
	if v, ok := boolean("pipelineV2", "shadowMode"); ok {
		cfg.PipelineV2.ShadowMode = v
	}
	if v, ok := boolean("pipelineV2", "mutationsFrozen"); ok {
		cfg.PipelineV2.MutationsFrozen = v
	}

	if v, ok := boolean("pipelineV2", "autonomous", "enabled"); ok {
		cfg.PipelineV2.Autonomous.Enabled = v
	}
	if v, ok := boolean("pipelineV2", "autonomous", "frozen"); ok {
		cfg.PipelineV2.Autonomous.Frozen = v
	}
	if v, ok := boolean("pipelineV2", "autonomous", "allowUpdateDelete"); ok {
		cfg.PipelineV2.Autonomous.AllowUpdateDelete = v
	}
	if v, ok := num("pipelineV2", "autonomous", "maintenanceIntervalMs"); ok {
		cfg.PipelineV2.Autonomous.MaintenanceIntervalMs = int(v)
	}
	if v, ok := str("pipelineV2", "autonomous", "maintenanceMode"); ok {
		cfg.PipelineV2.Autonomous.MaintenanceMode = v
	}

	if v, ok := str("pipelineV2", "extraction", "provider"); ok {
		cfg.PipelineV2.Extraction.Provider = v
	}
	if v, ok := str("pipelineV2", "extraction", "model"); ok {
		cfg.PipelineV2.Extraction.Model = v
	}
	if v, ok := num("pipelineV2", "extraction", "timeout"); ok {
		cfg.PipelineV2.Extraction.TimeoutMs = int(v)
	}
	if v, ok := num("pipelineV2", "extraction", "minConfidence"); ok {
		cfg.PipelineV2.Extraction.MinConfidence = v
	}

	if v, ok := num("pipelineV2", "worker", "pollMs"); ok {
		cfg.PipelineV2.Worker.PollMs = int(v)
	}
	if v, ok := num("pipelineV2", "worker", "maxRetries"); ok {
		cfg.PipelineV2.Worker.MaxRetries = int(v)
	}
	if v, ok := num("pipelineV2", "worker", "leaseTimeoutMs"); ok {
		cfg.PipelineV2.Worker.LeaseTimeoutMs = int(v)
	}

	if v, ok := boolean("pipelineV2", "graph", "enabled"); ok {
		cfg.PipelineV2.Graph.Enabled = v
	}
	if v, ok := num("pipelineV2", "graph", "boostWeight"); ok {
		cfg.PipelineV2.Graph.BoostWeight = v
	}
	if v, ok := num("pipelineV2", "graph", "boostTimeoutMs"); ok {
		cfg.PipelineV2.Graph.BoostTimeoutMs = int(v)
	}

	if v, ok := boolean("pipelineV2", "reranker", "enabled"); ok {
		cfg.PipelineV2.Reranker.Enabled = v
	}
	if v, ok := str("pipelineV2", "reranker", "model"); ok {
		cfg.PipelineV2.Reranker.Model = v
	}
	if v, ok := num("pipelineV2", "reranker", "topN"); ok {
		cfg.PipelineV2.Reranker.TopN = int(v)
	}
	if v, ok := num("pipelineV2", "reranker", "timeoutMs"); ok {
		cfg.PipelineV2.Reranker.TimeoutMs = int(v)
	}

	if v, ok := num("pipelineV2", "repair", "reembedCooldownMs"); ok {
		cfg.PipelineV2.Repair.ReembedCooldownMs = int(v)
	}
	if v, ok := num("pipelineV2", "repair", "reembedHourlyBudget"); ok {
		cfg.PipelineV2.Repair.ReembedHourlyBudget = int(v)
	}
	if v, ok := num("pipelineV2", "repair", "requeueCooldownMs"); ok {
		cfg.PipelineV2.Repair.RequeueCooldownMs = int(v)
	}
	if v, ok := num("pipelineV2", "repair", "requeueHourlyBudget"); ok {
		cfg.PipelineV2.Repair.RequeueHourlyBudget = int(v)
	}

	if v, ok := num("pipelineV2", "guardrails", "maxContentChars"); ok {
		cfg.PipelineV2.Guardrails.MaxContentChars = int(v)
	}
	if v, ok := num("pipelineV2", "guardrails", "chunkTargetChars"); ok {
		cfg.PipelineV2.Guardrails.ChunkTargetChars = int(v)
	}
	if v, ok := num("pipelineV2", "guardrails", "recallTruncateChars"); ok {
		cfg.PipelineV2.Guardrails.RecallTruncateChars = int(v)
	}

	if v, ok := str("storage", "vectorIndex"); ok {
		cfg.Storage.VectorIndex = v
	}
	if v, ok := str("storage", "postgresDsn"); ok {
		cfg.Storage.PostgresDSN = v
	}
}

// lookup resolves a dotted config path against doc, trying the nested
// structure first and the flattened "_"-joined alias second.
func lookup(doc map[string]interface{}, path ...string) (interface{}, bool) {
	if v, ok := walkNested(doc, path); ok {
		return v, true
	}
	flatKey := strings.Join(path, "_")
	if v, ok := doc[flatKey]; ok {
		return v, true
	}
	return nil, false
}

func walkNested(doc map[string]interface{}, path []string) (interface{}, bool) {
	cur := interface{}(doc)
	for _, segment := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[segment]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// clamp bounds every numeric field to its documented range (spec §4.E:
// "All numeric fields are clamped to documented ranges").
func clamp(cfg *Config) {
	clampInt(&cfg.Embedding.Dimensions, 1, 8192)
	clampFloat(&cfg.Search.Alpha, 0, 1)
	clampInt(&cfg.Search.TopK, 1, 500)
	clampFloat(&cfg.Search.MinScore, 0, 1)
	clampFloat(&cfg.Search.RehearsalWeight, 0, 5)
	clampFloat(&cfg.Search.RehearsalHalfLifeDays, 0.1, 3650)

	clampInt(&cfg.PipelineV2.Autonomous.MaintenanceIntervalMs, 1000, 7*24*60*60*1000)
	if cfg.PipelineV2.Autonomous.MaintenanceMode != "observe" && cfg.PipelineV2.Autonomous.MaintenanceMode != "execute" {
		cfg.PipelineV2.Autonomous.MaintenanceMode = "observe"
	}

	clampInt(&cfg.PipelineV2.Extraction.TimeoutMs, 100, 300000)
	clampFloat(&cfg.PipelineV2.Extraction.MinConfidence, 0, 1)

	clampInt(&cfg.PipelineV2.Worker.PollMs, 100, 600000)
	clampInt(&cfg.PipelineV2.Worker.MaxRetries, 0, 20)
	clampInt(&cfg.PipelineV2.Worker.LeaseTimeoutMs, 1000, 3600000)

	clampFloat(&cfg.PipelineV2.Graph.BoostWeight, 0, 1)
	clampInt(&cfg.PipelineV2.Graph.BoostTimeoutMs, 10, 60000)

	clampInt(&cfg.PipelineV2.Reranker.TopN, 1, 200)
	clampInt(&cfg.PipelineV2.Reranker.TimeoutMs, 10, 60000)

	clampInt(&cfg.PipelineV2.Repair.ReembedCooldownMs, 0, 24*60*60*1000)
	clampInt(&cfg.PipelineV2.Repair.ReembedHourlyBudget, 0, 100000)
	clampInt(&cfg.PipelineV2.Repair.RequeueCooldownMs, 0, 24*60*60*1000)
	clampInt(&cfg.PipelineV2.Repair.RequeueHourlyBudget, 0, 100000)

	clampInt(&cfg.PipelineV2.Guardrails.MaxContentChars, 100, 1_000_000)
	clampInt(&cfg.PipelineV2.Guardrails.ChunkTargetChars, 100, 100_000)
	clampInt(&cfg.PipelineV2.Guardrails.RecallTruncateChars, 20, 100_000)

	if cfg.Storage.VectorIndex != "postgres" {
		cfg.Storage.VectorIndex = "sqlite"
	}
}

func clampInt(v *int, lo, hi int) {
	if *v < lo {
		*v = lo
	}
	if *v > hi {
		*v = hi
	}
}

func clampFloat(v *float64, lo, hi float64) {
	if *v < lo {
		*v = lo
	}
	if *v > hi {
		*v = hi
	}
}

// String renders the config for diagnostics/logging.
func (c *Config) String() string {
	return fmt.Sprintf("embedding=%s/%s(dims=%d) search(alpha=%.2f,topK=%d) pipelineV2(enabled=%v,shadow=%v)",
		c.Embedding.Provider, c.Embedding.Model, c.Embedding.Dimensions,
		c.Search.Alpha, c.Search.TopK, c.PipelineV2.Enabled, c.PipelineV2.ShadowMode)
}
