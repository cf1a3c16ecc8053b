package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "local-http", cfg.Embedding.Provider)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.Equal(t, 0.5, cfg.Search.Alpha)
	assert.Equal(t, 50, cfg.Search.TopK)
	assert.False(t, cfg.PipelineV2.Enabled)
	assert.True(t, cfg.PipelineV2.ShadowMode)
	assert.Equal(t, "sqlite", cfg.Storage.VectorIndex)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadMalformedYamlFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte("not: [valid: yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Load(path)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadNestedLayout(t *testing.T) {
	doc := `
embedding:
  provider: remote-openai-compatible
  dimensions: 1536
search:
  alpha: 0.8
  top_k: 20
pipelineV2:
  enabled: true
  worker:
    pollMs: 5000
    maxRetries: 10
`
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Load(path)

	assert.Equal(t, "remote-openai-compatible", cfg.Embedding.Provider)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.Equal(t, 0.8, cfg.Search.Alpha)
	assert.Equal(t, 20, cfg.Search.TopK)
	assert.True(t, cfg.PipelineV2.Enabled)
	assert.Equal(t, 5000, cfg.PipelineV2.Worker.PollMs)
	assert.Equal(t, 10, cfg.PipelineV2.Worker.MaxRetries)
}

func TestLoadFlatAliasLayout(t *testing.T) {
	doc := `
search_alpha: 0.25
search_top_k: 7
pipelineV2_worker_pollMs: 9000
`
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Load(path)

	assert.Equal(t, 0.25, cfg.Search.Alpha)
	assert.Equal(t, 7, cfg.Search.TopK)
	assert.Equal(t, 9000, cfg.PipelineV2.Worker.PollMs)
}

func TestLoadNestedWinsOverFlatAlias(t *testing.T) {
	doc := `
search_alpha: 0.1
search:
  alpha: 0.9
`
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Load(path)
	assert.Equal(t, 0.9, cfg.Search.Alpha)
}

func TestClampBoundsOutOfRangeValues(t *testing.T) {
	doc := `
search:
  alpha: 5.0
  top_k: 999999
embedding:
  dimensions: -3
pipelineV2:
  worker:
    pollMs: 1
`
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Load(path)

	assert.Equal(t, 1.0, cfg.Search.Alpha)
	assert.Equal(t, 500, cfg.Search.TopK)
	assert.Equal(t, 1, cfg.Embedding.Dimensions)
	assert.Equal(t, 100, cfg.PipelineV2.Worker.PollMs)
}

func TestClampRejectsUnknownVectorIndex(t *testing.T) {
	doc := `
storage:
  vectorIndex: something-else
`
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Load(path)
	assert.Equal(t, "sqlite", cfg.Storage.VectorIndex)
}

func TestClampAcceptsPostgresVectorIndex(t *testing.T) {
	doc := `
storage:
  vectorIndex: postgres
  postgresDsn: "postgres://localhost/signet"
`
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Load(path)
	assert.Equal(t, "postgres", cfg.Storage.VectorIndex)
	assert.Equal(t, "postgres://localhost/signet", cfg.Storage.PostgresDSN)
}

func TestClampNormalizesMaintenanceMode(t *testing.T) {
	doc := `
pipelineV2:
  autonomous:
    maintenanceMode: bogus
`
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Load(path)
	assert.Equal(t, "observe", cfg.PipelineV2.Autonomous.MaintenanceMode)
}
