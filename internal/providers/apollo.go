package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brightline/outreach-engine/internal/config"
	"github.com/brightline/outreach-engine/internal/pkg/httpretry"
)

// ApolloClient implements ProspectSearch against the Apollo people-search
// API.
type ApolloClient struct {
	baseURL string
	apiKey  string
	client  httpretry.HTTPDoer
}

// NewApolloClient builds the adapter from config.
func NewApolloClient(cfg config.HTTPProviderConfig) *ApolloClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.apollo.io/v1"
	}
	return &ApolloClient{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: cfg.Timeout()}, cfg.MaxRetries),
	}
}

// SearchPeople runs one search page and returns prospects that carry an
// email. Record-level filtering beyond that is the ingestor's job.
func (c *ApolloClient) SearchPeople(ctx context.Context, params SearchParams) ([]Prospect, error) {
	if params.Limit <= 0 {
		params.Limit = 100
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("apollo: marshal search: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/mixed_people/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("apollo: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apollo: search people: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("apollo: read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{Provider: "apollo", RetryAfter: retryAfterHeader(resp, time.Minute)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("apollo: status %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	var parsed struct {
		People []Prospect `json:"people"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("apollo: parse response: %w", err)
	}

	out := parsed.People[:0]
	for _, p := range parsed.People {
		if p.Email != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
