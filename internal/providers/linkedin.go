package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/brightline/outreach-engine/internal/config"
	"github.com/brightline/outreach-engine/internal/pkg/httpretry"
)

// HTTPLinkedInAutomation is a generic LinkedIn automation adapter: a JSON
// HTTP API with campaign and lead resources, bearer auth.
type HTTPLinkedInAutomation struct {
	name    string
	baseURL string
	apiKey  string
	client  httpretry.HTTPDoer
}

// NewHTTPLinkedInAutomation builds a LinkedIn delivery adapter from config.
func NewHTTPLinkedInAutomation(name string, cfg config.HTTPProviderConfig) *HTTPLinkedInAutomation {
	return &HTTPLinkedInAutomation{
		name:    name,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: cfg.Timeout()}, cfg.MaxRetries),
	}
}

func (s *HTTPLinkedInAutomation) Name() string { return s.name }

func (s *HTTPLinkedInAutomation) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal: %w", s.name, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", s.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %s %s: %w", s.name, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", s.name, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitedError{Provider: s.name, RetryAfter: retryAfterHeader(resp, time.Minute)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: %s %s: status %d: %s", s.name, method, path, resp.StatusCode, truncate(string(raw), 300))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: parse response: %w", s.name, err)
		}
	}
	return nil
}

// AddLeadToCampaign enrolls a lead and returns the provider lead id.
func (s *HTTPLinkedInAutomation) AddLeadToCampaign(ctx context.Context, campaignID string, lead LeadPayload) (string, error) {
	var resp struct {
		LeadID string `json:"lead_id"`
	}
	path := fmt.Sprintf("/campaigns/%s/leads", url.PathEscape(campaignID))
	if err := s.do(ctx, http.MethodPost, path, lead, &resp); err != nil {
		return "", err
	}
	if resp.LeadID == "" {
		return "", fmt.Errorf("%s: add lead: empty lead_id in response", s.name)
	}
	return resp.LeadID, nil
}

// SendMessage sends a direct message to an enrolled lead.
func (s *HTTPLinkedInAutomation) SendMessage(ctx context.Context, providerLeadID, message string) error {
	path := fmt.Sprintf("/leads/%s/messages", url.PathEscape(providerLeadID))
	return s.do(ctx, http.MethodPost, path, map[string]string{"text": message}, nil)
}

// UpdateTags replaces the lead's tags on the provider side.
func (s *HTTPLinkedInAutomation) UpdateTags(ctx context.Context, providerLeadID string, tags []string) error {
	path := fmt.Sprintf("/leads/%s/tags", url.PathEscape(providerLeadID))
	return s.do(ctx, http.MethodPut, path, map[string][]string{"tags": tags}, nil)
}
