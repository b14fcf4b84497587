package domain

import (
	"encoding/json"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// CampaignMode selects which channels a campaign's sequences use.
type CampaignMode string

const (
	ModeEmailOnly    CampaignMode = "email_only"
	ModeLinkedInOnly CampaignMode = "linkedin_only"
	ModeMultiChannel CampaignMode = "multi_channel"
)

// DataSourceType enumerates where a campaign pulls leads from.
type DataSourceType string

const (
	SourcePixel  DataSourceType = "pixel"
	SourceIntent DataSourceType = "intent"
	SourceApollo DataSourceType = "apollo"
	SourceManual DataSourceType = "manual"
)

// Campaign is a child of a brand, pinned to a tenant. Ingestion only occurs
// while Status == CampaignActive.
type Campaign struct {
	ID                     string          `json:"id" db:"id"`
	TenantID               string          `json:"tenant_id" db:"tenant_id"`
	BrandID                string          `json:"brand_id" db:"brand_id"`
	Name                   string          `json:"name" db:"name"`
	Status                 CampaignStatus  `json:"status" db:"status"`
	Mode                   CampaignMode    `json:"mode" db:"mode"`
	DataSourceType         DataSourceType  `json:"data_source_type" db:"data_source_type"`
	DataSourceConfig       json.RawMessage `json:"data_source_config" db:"data_source_config"`
	EmailStepCount         int             `json:"email_step_count" db:"email_step_count"`
	LinkedInStepCount      int             `json:"linkedin_step_count" db:"linkedin_step_count"`
	WaitForConnection      bool            `json:"wait_for_connection" db:"wait_for_connection"`
	ConnectionTimeoutHours int             `json:"connection_timeout_hours" db:"connection_timeout_hours"`
	LinkedInFirst          bool            `json:"linkedin_first" db:"linkedin_first"`
	CustomInstructions     string          `json:"custom_instructions" db:"custom_instructions"`
	MinIntentScore         int             `json:"min_intent_score" db:"min_intent_score"`
	AutoResearchLimit      int             `json:"auto_research_limit" db:"auto_research_limit"`
	LastIngestedAt         *time.Time      `json:"last_ingested_at" db:"last_ingested_at"`
	LastIngestError        string          `json:"last_ingest_error" db:"last_ingest_error"`

	// Counters (atomic increments in the store)
	LeadsIngested  int `json:"leads_ingested" db:"leads_ingested"`
	LeadsContacted int `json:"leads_contacted" db:"leads_contacted"`
	LeadsReplied   int `json:"leads_replied" db:"leads_replied"`
	LeadsConverted int `json:"leads_converted" db:"leads_converted"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PixelSourceConfig is the opaque data_source_config shape for pixel and
// intent pull sources.
type PixelSourceConfig struct {
	URL       string `json:"url"`
	AuthToken string `json:"auth_token,omitempty"`
}

// ApolloSourceConfig is the data_source_config shape for prospect search.
type ApolloSourceConfig struct {
	SavedSearchID string `json:"saved_search_id,omitempty"`
	PerPage       int    `json:"per_page,omitempty"`
}
