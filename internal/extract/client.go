// Package extract is the extraction LLM client used by the worker
// (component H): given a memory's content, it asks a configured provider
// for structured facts and entities, bounded by extraction.timeout. It
// follows the same gobreaker-wrapped call shape as internal/embedclient,
// generalizing the teacher's internal/llm/circuit_breaker.go a second time
// for a different outbound call.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Signet-AI/signetai-sub002/internal/config"
)

// Fact is one proposed piece of knowledge extracted from a memory's
// content, along with an optional relationship to an existing memory
// (spec §4.H step 3: "ingest a new memory ... or apply-decision
// (update/delete/merge) when the response proposes a relationship").
type Fact struct {
	Content    string   `json:"content"`
	Confidence float64  `json:"confidence"`
	Entities   []string `json:"entities"`
	Relation   string   `json:"relation,omitempty"` // "update" | "delete" | "merge"
	TargetID   string   `json:"target_id,omitempty"`
	SourceID   string   `json:"source_id,omitempty"` // merge source
}

// Result is the structured response from the extraction provider.
type Result struct {
	Facts []Fact `json:"facts"`
}

// Client calls the configured extraction provider.
type Client struct {
	cfg        config.ExtractionConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// New builds a Client. A provider of "none" means extraction is disabled;
// callers check Enabled() before invoking the worker loop at all.
func New(cfg config.ExtractionConfig, baseURL, apiKey string) *Client {
	settings := gobreaker.Settings{
		Name:        "extractclient",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond, Transport: &authTransport{baseURL: baseURL, apiKey: apiKey}},
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// Enabled reports whether an extraction provider is configured.
func (c *Client) Enabled() bool { return c.cfg.Provider != "" && c.cfg.Provider != "none" }

type extractRequest struct {
	Model   string `json:"model"`
	Content string `json:"content"`
}

// Extract asks the provider for facts/entities found in content, bounded
// by extraction.timeout (spec §4.H step 2). Returns an error on timeout,
// transport failure, or malformed response — the worker increments the
// job's attempts on any error.
func (c *Client) Extract(ctx context.Context, content string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutMs)*time.Millisecond)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doExtract(ctx, content)
	})
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	parsed, _ := result.(*Result)
	return parsed, nil
}

func (c *Client) doExtract(ctx context.Context, content string) (*Result, error) {
	body, err := json.Marshal(extractRequest{Model: c.cfg.Model, Content: content})
	if err != nil {
		return nil, fmt.Errorf("marshal extract request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extract request transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("extract request status %d", resp.StatusCode)
	}

	var parsed Result
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode extract response: %w", err)
	}
	return &parsed, nil
}

// authTransport resolves the request against baseURL and attaches the
// provider's API key, letting the request build above stay provider-agnostic.
type authTransport struct {
	baseURL string
	apiKey  string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u, err := req.URL.Parse(t.baseURL + req.URL.Path)
	if err != nil {
		return nil, err
	}
	req.URL = u
	req.Host = u.Host
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	return http.DefaultTransport.RoundTrip(req)
}
