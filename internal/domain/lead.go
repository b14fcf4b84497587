package domain

import (
	"encoding/json"
	"time"
)

// LeadStatus enumerates lead lifecycle states.
type LeadStatus string

const (
	LeadIngested      LeadStatus = "ingested"
	LeadHumanReview   LeadStatus = "human_review"
	LeadDisqualified  LeadStatus = "disqualified"
	LeadResearched    LeadStatus = "researched"
	LeadSequenceReady LeadStatus = "sequence_ready"
	LeadActive        LeadStatus = "active"
	LeadReplied       LeadStatus = "replied"
	LeadCold          LeadStatus = "cold"
	LeadConverted     LeadStatus = "converted"
)

// LeadSource identifies where a lead record came from.
type LeadSource string

const (
	LeadSourcePixel  LeadSource = "pixel"
	LeadSourceIntent LeadSource = "intent"
	LeadSourceApollo LeadSource = "apollo"
	LeadSourceManual LeadSource = "manual"
)

// sourcePriority orders sources for the upgrade-only rule. A lead's source
// may move up this chain, never down.
var sourcePriority = map[LeadSource]int{
	LeadSourcePixel:  3,
	LeadSourceIntent: 2,
	LeadSourceApollo: 1,
	LeadSourceManual: 0,
}

// UpgradeSource returns the higher-priority of the two sources.
func UpgradeSource(current, incoming LeadSource) LeadSource {
	if sourcePriority[incoming] > sourcePriority[current] {
		return incoming
	}
	return current
}

// QualificationDecision is the qualifier's verdict for a lead.
type QualificationDecision string

const (
	DecisionYes    QualificationDecision = "YES"
	DecisionNo     QualificationDecision = "NO"
	DecisionReview QualificationDecision = "REVIEW"
)

// Lead is a person+company record, unique per (tenant_id, email). Created by
// the normalizer at first sight, mutated only by stage handlers, never
// deleted in the core path.
type Lead struct {
	ID       string     `json:"id" db:"id"`
	TenantID string     `json:"tenant_id" db:"tenant_id"`
	Email    string     `json:"email" db:"email"`
	Source   LeadSource `json:"source" db:"source"`
	Status   LeadStatus `json:"status" db:"status"`

	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`
	JobTitle  string `json:"job_title" db:"job_title"`
	LinkedIn  string `json:"linkedin_url" db:"linkedin_url"`
	Phone     string `json:"phone" db:"phone"`

	CompanyName     string `json:"company_name" db:"company_name"`
	CompanyDomain   string `json:"company_domain" db:"company_domain"`
	CompanyIndustry string `json:"company_industry" db:"company_industry"`
	CompanySize     *int   `json:"company_employee_count" db:"company_employee_count"`
	CompanyRevenue  string `json:"company_revenue" db:"company_revenue"`
	CompanyLinkedIn string `json:"company_linkedin_url" db:"company_linkedin_url"`

	// Pixel-only counter; increases monotonically.
	VisitCount  int       `json:"visit_count" db:"visit_count"`
	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`

	// Presence flags in external systems.
	InEmailProvider    bool `json:"in_email_provider" db:"in_email_provider"`
	InLinkedInProvider bool `json:"in_linkedin_provider" db:"in_linkedin_provider"`
	InCRM              bool `json:"in_crm" db:"in_crm"`

	IntentScore             *int                   `json:"intent_score" db:"intent_score"`
	QualificationDecision   *QualificationDecision `json:"qualification_decision" db:"qualification_decision"`
	QualificationReasoning  string                 `json:"qualification_reasoning" db:"qualification_reasoning"`
	QualificationConfidence *float64               `json:"qualification_confidence" db:"qualification_confidence"`
	ICPFit                  string                 `json:"icp_fit" db:"icp_fit"`

	CampaignID *string   `json:"campaign_id" db:"campaign_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// AllowedNextStatuses returns the legal successor statuses for a lead.
func AllowedNextStatuses(s LeadStatus) []LeadStatus {
	switch s {
	case LeadIngested:
		return []LeadStatus{LeadIngested, LeadHumanReview, LeadDisqualified, LeadResearched}
	case LeadHumanReview:
		return []LeadStatus{LeadHumanReview, LeadDisqualified, LeadResearched, LeadSequenceReady}
	case LeadResearched:
		return []LeadStatus{LeadResearched, LeadSequenceReady, LeadHumanReview}
	case LeadSequenceReady:
		return []LeadStatus{LeadSequenceReady, LeadActive, LeadHumanReview}
	case LeadActive:
		return []LeadStatus{LeadActive, LeadReplied, LeadCold, LeadConverted}
	case LeadReplied:
		return []LeadStatus{LeadReplied, LeadConverted, LeadCold}
	default:
		return []LeadStatus{s}
	}
}

// PixelVisit is one tracked website visit appended by the qualification
// stage for pixel-sourced events.
type PixelVisit struct {
	ID         string    `json:"id" db:"id"`
	TenantID   string    `json:"tenant_id" db:"tenant_id"`
	LeadID     string    `json:"lead_id" db:"lead_id"`
	Page       string    `json:"page" db:"page"`
	TimeOnPage int       `json:"time_on_page_ms" db:"time_on_page_ms"`
	VisitedAt  time.Time `json:"visited_at" db:"visited_at"`
}

// EngagementLogEntry is a generic append-only audit row for a lead.
type EngagementLogEntry struct {
	ID        string          `json:"id" db:"id"`
	TenantID  string          `json:"tenant_id" db:"tenant_id"`
	LeadID    string          `json:"lead_id" db:"lead_id"`
	EventType string          `json:"event_type" db:"event_type"`
	Detail    json.RawMessage `json:"detail" db:"detail"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// NormalizedLead is the canonical shape the normalizer produces from any
// raw source record.
type NormalizedLead struct {
	Email           string     `json:"email"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	JobTitle        string     `json:"job_title"`
	LinkedIn        string     `json:"linkedin_url"`
	Phone           string     `json:"phone"`
	CompanyName     string     `json:"company_name"`
	CompanyDomain   string     `json:"company_domain"`
	CompanyIndustry string     `json:"company_industry"`
	CompanySize     *int       `json:"company_employee_count"`
	CompanyRevenue  string     `json:"company_revenue"`
	CompanyLinkedIn string     `json:"company_linkedin_url"`
	Source          LeadSource `json:"source"`

	// Pixel extras
	Page         string `json:"page,omitempty"`
	TimeOnPageMS int    `json:"time_on_page_ms,omitempty"`
}
