package embedclient

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

func TestEmbedReturnsVectorOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello world", req.Input)
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c := New(config.EmbeddingConfig{Provider: "local", Model: "test-model", BaseURL: srv.URL, Dimensions: 3})
	vec := c.Embed(context.Background(), "hello world")
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedAcceptsOpenAIStyleDataEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Data: []embedData{{Embedding: []float32{1, 2}}}})
	}))
	defer srv.Close()

	c := New(config.EmbeddingConfig{BaseURL: srv.URL})
	vec := c.Embed(context.Background(), "text")
	assert.Equal(t, []float32{1, 2}, vec)
}

func TestEmbedReturnsNilOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(config.EmbeddingConfig{BaseURL: srv.URL})
	assert.Nil(t, c.Embed(context.Background(), "text"))
}

func TestEmbedReturnsNilWhenProviderUnreachable(t *testing.T) {
	c := New(config.EmbeddingConfig{BaseURL: "http://127.0.0.1:1"})
	assert.Nil(t, c.Embed(context.Background(), "text"))
}

func TestEmbedReturnsNilOnEmptyVectorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer srv.Close()

	c := New(config.EmbeddingConfig{BaseURL: srv.URL})
	assert.Nil(t, c.Embed(context.Background(), "text"))
}

func TestAvailableReflectsProviderHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.5, 0.5}})
	}))
	defer srv.Close()

	c := New(config.EmbeddingConfig{BaseURL: srv.URL})
	avail := c.Available(context.Background())
	assert.True(t, avail.Available)
	assert.Equal(t, 2, avail.Dimensions)
}

func TestAvailableCachesResultFor30Seconds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.1}})
	}))
	defer srv.Close()

	c := New(config.EmbeddingConfig{BaseURL: srv.URL})
	c.Available(context.Background())
	c.Available(context.Background())
	assert.Equal(t, 1, calls, "second call within the TTL must use the cached probe")
}

func TestDimensionsAndModelExposeConfig(t *testing.T) {
	c := New(config.EmbeddingConfig{Model: "text-embed-v1", Dimensions: 1536})
	assert.Equal(t, 1536, c.Dimensions())
	assert.Equal(t, "text-embed-v1", c.Model())
}
