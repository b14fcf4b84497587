package domain

import (
	"encoding/json"
	"time"
)

// ResearchRecord is 1:1 with a lead: raw blobs from each external provider
// plus the extracted structured signals.
type ResearchRecord struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	LeadID   string `json:"lead_id" db:"lead_id"`

	// Raw provider payloads, stored opaquely.
	PersonalLinkedInRaw json.RawMessage `json:"personal_linkedin_raw" db:"personal_linkedin_raw"`
	CompanyLinkedInRaw  json.RawMessage `json:"company_linkedin_raw" db:"company_linkedin_raw"`
	WebSearchRaw        json.RawMessage `json:"web_search_raw" db:"web_search_raw"`

	WaterfallSummary WaterfallSummary `json:"waterfall_summary" db:"waterfall_summary"`
	Profile          *ContextProfile  `json:"context_profile" db:"context_profile"`

	ArchiveKey string    `json:"archive_key" db:"archive_key"` // S3 key when archived
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Fresh reports whether the record is recent enough to skip expensive calls.
func (r *ResearchRecord) Fresh(now time.Time, maxAge time.Duration) bool {
	return r != nil && now.Sub(r.UpdatedAt) < maxAge
}

// WaterfallSummary records which enrichment sources succeeded.
type WaterfallSummary struct {
	PersonalLinkedIn bool     `json:"personal_linkedin"`
	CompanyLinkedIn  bool     `json:"company_linkedin"`
	WebSearch        bool     `json:"web_search"`
	Errors           []string `json:"errors,omitempty"`
}

// PersonaMatch is the typed persona decision for a lead.
type PersonaMatch struct {
	Persona    string  `json:"persona"`
	Level      string  `json:"level"` // exact, adjacent, none
	Confidence float64 `json:"confidence"`
}

// TriggerMatch is one matched ICP trigger with its sub-scores.
type TriggerMatch struct {
	Trigger    string  `json:"trigger"`
	Source     string  `json:"source"`
	Matches    int     `json:"matches"`
	Confidence float64 `json:"confidence"`
	Impact     float64 `json:"impact"`
	Recency    float64 `json:"recency"`
	Relevance  float64 `json:"relevance"`
	Total      float64 `json:"total"`
	Evidence   string  `json:"evidence,omitempty"`
}

// ContextProfile combines everything generation needs to personalize.
type ContextProfile struct {
	Lead             NormalizedLead `json:"lead"`
	PersonaMatch     PersonaMatch   `json:"persona_match"`
	Triggers         []TriggerMatch `json:"triggers"`
	CompanyIntel     string         `json:"company_intel"`
	RelationshipType string         `json:"relationship_type"` // cold, warm, competitor_user, past_customer
	MessagingAngles  []string       `json:"messaging_angles"`
}

// TopTrigger returns the highest-ranked trigger name, or "".
func (p *ContextProfile) TopTrigger() string {
	if p == nil || len(p.Triggers) == 0 {
		return ""
	}
	return p.Triggers[0].Trigger
}
