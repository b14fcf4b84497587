// Package providers defines the ports the pipeline calls external services
// through, plus the concrete HTTP adapters behind them. The core depends on
// these interfaces only; tenants pick adapters by name through the Registry.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ChatMessage is one turn of an LLM conversation.
type ChatMessage struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ChatOptions tunes a single LLM call. ThinkingBudget is advisory; adapters
// that cannot express it ignore it.
type ChatOptions struct {
	MaxTokens      int
	Temperature    float64
	ThinkingBudget int
}

// ChatResult is what came back from the model.
type ChatResult struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// LLM is the model port used by qualification, generation, review, and the
// learning loop.
type LLM interface {
	Name() string
	Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (*ChatResult, error)
	// Validate reports whether the adapter has usable credentials.
	Validate(ctx context.Context) bool
}

// LeadPayload is the lead shape pushed to delivery providers.
type LeadPayload struct {
	Email        string            `json:"email"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Company      string            `json:"company,omitempty"`
	Title        string            `json:"title,omitempty"`
	LinkedInURL  string            `json:"linkedin_url,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// InboundReply is a reply pulled from a delivery provider's inbox.
type InboundReply struct {
	ProviderCampaignID string
	ProviderLeadID     string
	Email              string
	Subject            string
	Body               string
	ReceivedAt         time.Time
}

// EmailSender is the email delivery port. Webhook event types are sent,
// opened, clicked, replied, bounced, unsubscribed.
type EmailSender interface {
	Name() string
	AddLeadToCampaign(ctx context.Context, campaignID string, lead LeadPayload) (providerLeadID string, err error)
	UpdateLeadCustomFields(ctx context.Context, campaignID, providerLeadID string, fields map[string]string) error
	PauseLead(ctx context.Context, campaignID, providerLeadID string) error
	FetchReceivedReplies(ctx context.Context, since time.Time, campaignID string) ([]InboundReply, error)
}

// LinkedInAutomation is the LinkedIn delivery port. Webhook event types are
// connection_sent, connected, message_sent, replied, inmail_replied,
// post_liked, profile_viewed, follow_sent, campaign_completed, tag_updated.
type LinkedInAutomation interface {
	Name() string
	AddLeadToCampaign(ctx context.Context, campaignID string, lead LeadPayload) (providerLeadID string, err error)
	SendMessage(ctx context.Context, providerLeadID, message string) error
	UpdateTags(ctx context.Context, providerLeadID string, tags []string) error
}

// EnrichmentFetcher pulls raw page content for research.
type EnrichmentFetcher interface {
	FetchPage(ctx context.Context, url string) (string, error)
}

// SearchParams describes a prospect search, either loaded from a saved
// search or synthesized from a brand ICP.
type SearchParams struct {
	Titles         []string `json:"person_titles,omitempty"`
	Industries     []string `json:"organization_industries,omitempty"`
	EmployeeRanges []string `json:"organization_num_employees_ranges,omitempty"`
	Locations      []string `json:"person_locations,omitempty"`
	Limit          int      `json:"per_page,omitempty"`
}

// Prospect is one person returned by prospect search.
type Prospect struct {
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Title       string `json:"title"`
	Company     string `json:"organization_name"`
	CompanySize string `json:"estimated_num_employees"`
	Industry    string `json:"industry"`
	LinkedInURL string `json:"linkedin_url"`
	City        string `json:"city"`
	Country     string `json:"country"`
}

// ProspectSearch is the outbound people-search port.
type ProspectSearch interface {
	SearchPeople(ctx context.Context, params SearchParams) ([]Prospect, error)
}

// Notification is a human-facing alert.
type Notification struct {
	Title  string
	Text   string
	Fields map[string]string
}

// Notifier delivers human-review escalations and daily summaries.
type Notifier interface {
	Send(ctx context.Context, channel string, n Notification) error
}

// RateLimitedError signals the provider refused the call for rate reasons.
// RetryAfter is the provider's (or limiter's) suggested wait.
type RateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
}

// IsRateLimited extracts the rate-limit hint from an error chain.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
