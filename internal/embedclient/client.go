// Package embedclient is the pluggable embedding provider of spec §4.D: a
// POST-based HTTP client with a 30s per-call timeout whose failures are
// always non-fatal to the caller, plus a circuit-breaker-guarded,
// 30s-cached availability probe. It generalizes the teacher's
// internal/llm/circuit_breaker.go (gobreaker wrapper around LLM calls) onto
// this spec's embedding transport instead of Memento's enrichment LLM.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Signet-AI/signetai-sub002/internal/config"
)

// Client embeds free-form text via a configured provider. Transport or
// non-2xx failures return a nil vector, never an error the ingest/recall
// paths need to propagate — spec §4.D: "The core must never refuse a write
// because embedding failed."
type Client struct {
	cfg        config.EmbeddingConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker

	mu          sync.Mutex
	cachedAt    time.Time
	cachedAvail Availability
}

// Availability is the result of a provider reachability probe.
type Availability struct {
	Available  bool
	Dimensions int
	Error      string
}

const availabilityCacheTTL = 30 * time.Second

// New builds a Client for the given embedding configuration.
func New(cfg config.EmbeddingConfig) *Client {
	settings := gobreaker.Settings{
		Name:        "embedclient",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32   `json:"embedding"`
	Data      []embedData `json:"data"`
}

type embedData struct {
	Embedding []float32 `json:"embedding"`
}

// Embed requests one vector for text, bounded by a 30s timeout (spec
// §4.D). Any failure — transport, timeout, non-2xx, open circuit, bad
// shape — returns nil: the caller degrades to keyword-only
// retrieval for this row, it does not treat this as an error to surface.
func (c *Client) Embed(ctx context.Context, text string) []float32 {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doEmbed(ctx, text)
	})
	if err != nil {
		log.Printf("embedclient: embed failed, degrading to keyword-only: %v", err)
		return nil
	}
	vec, _ := result.([]float32)
	return vec
}

func (c *Client) doEmbed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("embed request status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	if len(parsed.Embedding) > 0 {
		return parsed.Embedding, nil
	}
	if len(parsed.Data) > 0 && len(parsed.Data[0].Embedding) > 0 {
		return parsed.Data[0].Embedding, nil
	}
	return nil, fmt.Errorf("embed response had no vector")
}

// Available reports provider reachability, caching the result for 30s
// (spec §4.D: "results are cached for 30s in memory to avoid per-request
// probes").
func (c *Client) Available(ctx context.Context) Availability {
	c.mu.Lock()
	if time.Since(c.cachedAt) < availabilityCacheTTL {
		cached := c.cachedAvail
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	vec := c.Embed(probeCtx, "ping")
	avail := Availability{Available: vec != nil, Dimensions: len(vec)}
	if vec == nil {
		avail.Error = "provider did not return a vector"
	}

	c.mu.Lock()
	c.cachedAt = time.Now()
	c.cachedAvail = avail
	c.mu.Unlock()
	return avail
}

// Dimensions returns the configured target dimensionality.
func (c *Client) Dimensions() int { return c.cfg.Dimensions }

// Model returns the configured embedding model name, recorded onto
// memories.embedding_model after a successful embed.
func (c *Client) Model() string { return c.cfg.Model }
