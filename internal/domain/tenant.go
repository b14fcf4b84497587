package domain

import (
	"encoding/json"
	"time"
)

// Tenant is the root isolation unit. Every mutable row in the store carries
// a tenant id and every query filters by it.
type Tenant struct {
	ID                     string                `json:"id" db:"id"`
	Name                   string                `json:"name" db:"name"`
	ActiveEmailProvider    string                `json:"active_email_provider" db:"active_email_provider"`
	ActiveLinkedInProvider string                `json:"active_linkedin_provider" db:"active_linkedin_provider"`
	LLMProvider            string                `json:"llm_provider" db:"llm_provider"`
	LLMModel               string                `json:"llm_model" db:"llm_model"`
	EnabledChannels        []string              `json:"enabled_channels" db:"enabled_channels"`
	EnabledDataSources     []string              `json:"enabled_data_sources" db:"enabled_data_sources"`
	Credentials            json.RawMessage       `json:"-" db:"credentials"`
	ICP                    *ICP                  `json:"icp" db:"icp"`
	Preferences            *TargetingPreferences `json:"preferences" db:"preferences"`
	CreatedAt              time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time             `json:"updated_at" db:"updated_at"`
}

// Brand is a child of a tenant. A brand owns campaigns and may carry its own
// ICP which overrides the tenant ICP when set.
type Brand struct {
	ID              string    `json:"id" db:"id"`
	TenantID        string    `json:"tenant_id" db:"tenant_id"`
	Name            string    `json:"name" db:"name"`
	Voice           string    `json:"voice" db:"voice"`
	Tone            string    `json:"tone" db:"tone"`
	ValueProp       string    `json:"value_proposition" db:"value_proposition"`
	Differentiators []string  `json:"differentiators" db:"differentiators"`
	ICP             *ICP      `json:"icp" db:"icp"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// EffectiveICP returns the brand ICP when set, the tenant ICP otherwise.
func (b *Brand) EffectiveICP(t *Tenant) *ICP {
	if b != nil && b.ICP != nil {
		return b.ICP
	}
	if t != nil {
		return t.ICP
	}
	return nil
}

// ICP is an ideal customer profile: account criteria, target personas, and
// buying-readiness triggers.
type ICP struct {
	AccountCriteria []AccountCriterion `json:"account_criteria"`
	Personas        []Persona          `json:"personas"`
	Triggers        []ICPTrigger       `json:"triggers"`
	Disqualifiers   []string           `json:"disqualifiers"`
}

// AccountCriterion describes one account-level fit rule.
type AccountCriterion struct {
	Field    string   `json:"field"` // industry, employee_count, revenue, geography
	Values   []string `json:"values"`
	Priority string   `json:"priority"` // high, medium, low
}

// Persona describes a target buyer.
type Persona struct {
	Name       string   `json:"name"`
	Titles     []string `json:"titles"`
	Seniority  string   `json:"seniority"`
	PainPoints []string `json:"pain_points"`
}

// ICPTrigger is a textual buying signal the research stage searches for.
type ICPTrigger struct {
	Name          string   `json:"name"`
	Source        string   `json:"source"` // personal_linkedin, company_linkedin, web_search
	WhatToLookFor []string `json:"what_to_look_for"`
	Impact        string   `json:"impact"` // high, medium, low
}

// TargetingPreferences weight intent-score components per field.
// Weight 1.0 is neutral; >1.0 adds and <1.0 subtracts a fraction of that
// field's base points.
type TargetingPreferences struct {
	IndustryWeights map[string]float64 `json:"industry_weights,omitempty"`
	TitleWeights    map[string]float64 `json:"title_weights,omitempty"`
	SizeWeights     map[string]float64 `json:"size_weights,omitempty"`
	RevenueWeights  map[string]float64 `json:"revenue_weights,omitempty"`
}
