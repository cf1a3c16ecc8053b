package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Signet-AI/signetai-sub002/internal/config"
)

func TestEnabledReportsWhetherProviderIsConfigured(t *testing.T) {
	assert.True(t, New(config.ExtractionConfig{Provider: "local"}, "", "").Enabled())
	assert.False(t, New(config.ExtractionConfig{Provider: "none"}, "", "").Enabled())
	assert.False(t, New(config.ExtractionConfig{Provider: ""}, "", "").Enabled())
}

func TestExtractParsesFactsOnSuccess(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(Result{Facts: []Fact{{Content: "uses postgres", Confidence: 0.9}}})
	}))
	defer srv.Close()

	c := New(config.ExtractionConfig{Provider: "local", Model: "extract-v1", TimeoutMs: 2000}, srv.URL, "secret-key")
	res, err := c.Extract(context.Background(), "we use postgres for storage")
	require.NoError(t, err)
	require.Len(t, res.Facts, 1)
	assert.Equal(t, "uses postgres", res.Facts[0].Content)
	assert.Equal(t, "Bearer secret-key", gotAuth)
}

func TestExtractReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(config.ExtractionConfig{Provider: "local", TimeoutMs: 2000}, srv.URL, "")
	_, err := c.Extract(context.Background(), "content")
	assert.Error(t, err)
}

func TestExtractReturnsErrorWhenProviderUnreachable(t *testing.T) {
	c := New(config.ExtractionConfig{Provider: "local", TimeoutMs: 500}, "http://127.0.0.1:1", "")
	_, err := c.Extract(context.Background(), "content")
	assert.Error(t, err)
}
