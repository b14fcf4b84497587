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

// HTTPEmailSender is a generic campaign-sender adapter: a JSON HTTP API
// with campaign and lead resources, API-key header auth.
type HTTPEmailSender struct {
	name    string
	baseURL string
	apiKey  string
	client  httpretry.HTTPDoer
}

// NewHTTPEmailSender builds an email delivery adapter from config.
func NewHTTPEmailSender(name string, cfg config.HTTPProviderConfig) *HTTPEmailSender {
	return &HTTPEmailSender{
		name:    name,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: cfg.Timeout()}, cfg.MaxRetries),
	}
}

func (s *HTTPEmailSender) Name() string { return s.name }

func (s *HTTPEmailSender) do(ctx context.Context, method, path string, in, out any) error {
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
	req.Header.Set("X-Api-Key", s.apiKey)

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

// AddLeadToCampaign pushes a lead into a provider campaign and returns the
// provider's lead id.
func (s *HTTPEmailSender) AddLeadToCampaign(ctx context.Context, campaignID string, lead LeadPayload) (string, error) {
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

// UpdateLeadCustomFields replaces the lead's custom field values. The
// orchestrator uses this to push conditional copy variants before a send.
func (s *HTTPEmailSender) UpdateLeadCustomFields(ctx context.Context, campaignID, providerLeadID string, fields map[string]string) error {
	path := fmt.Sprintf("/campaigns/%s/leads/%s", url.PathEscape(campaignID), url.PathEscape(providerLeadID))
	body := map[string]any{"custom_fields": fields}
	return s.do(ctx, http.MethodPatch, path, body, nil)
}

// PauseLead stops further sends to the lead in this campaign.
func (s *HTTPEmailSender) PauseLead(ctx context.Context, campaignID, providerLeadID string) error {
	path := fmt.Sprintf("/campaigns/%s/leads/%s/pause", url.PathEscape(campaignID), url.PathEscape(providerLeadID))
	return s.do(ctx, http.MethodPost, path, nil, nil)
}

// FetchReceivedReplies pulls replies received since the cutoff, optionally
// scoped to one campaign.
func (s *HTTPEmailSender) FetchReceivedReplies(ctx context.Context, since time.Time, campaignID string) ([]InboundReply, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	if campaignID != "" {
		q.Set("campaign_id", campaignID)
	}
	var resp struct {
		Replies []struct {
			CampaignID string    `json:"campaign_id"`
			LeadID     string    `json:"lead_id"`
			Email      string    `json:"email"`
			Subject    string    `json:"subject"`
			Body       string    `json:"body"`
			ReceivedAt time.Time `json:"received_at"`
		} `json:"replies"`
	}
	if err := s.do(ctx, http.MethodGet, "/replies?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]InboundReply, 0, len(resp.Replies))
	for _, r := range resp.Replies {
		out = append(out, InboundReply{
			ProviderCampaignID: r.CampaignID,
			ProviderLeadID:     r.LeadID,
			Email:              r.Email,
			Subject:            r.Subject,
			Body:               r.Body,
			ReceivedAt:         r.ReceivedAt,
		})
	}
	return out, nil
}
