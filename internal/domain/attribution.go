package domain

import (
	"encoding/json"
	"time"
)

// OutreachEvent captures exactly what was sent: verbatim subject and body
// plus the strategy snapshot, so attribution never depends on regenerating
// content.
type OutreachEvent struct {
	ID         string  `json:"id" db:"id"`
	TenantID   string  `json:"tenant_id" db:"tenant_id"`
	LeadID     string  `json:"lead_id" db:"lead_id"`
	SequenceID string  `json:"sequence_id" db:"sequence_id"`
	CampaignID string  `json:"campaign_id" db:"campaign_id"`
	Channel    Channel `json:"channel" db:"channel"`

	StepNumber     int    `json:"step_number" db:"step_number"`
	ThreadPosition int    `json:"thread_position" db:"thread_position"`
	Subject        string `json:"subject" db:"subject"`
	Body           string `json:"body" db:"body"`

	Persona          string          `json:"persona" db:"persona"`
	RelationshipType string          `json:"relationship_type" db:"relationship_type"`
	TopTrigger       string          `json:"top_trigger" db:"top_trigger"`
	StrategySnapshot json.RawMessage `json:"strategy_snapshot" db:"strategy_snapshot"`

	ProviderCampaignID string `json:"provider_campaign_id" db:"provider_campaign_id"`
	ProviderLeadID     string `json:"provider_lead_id" db:"provider_lead_id"`

	SentAt    time.Time `json:"sent_at" db:"sent_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EngagementType enumerates engagement event kinds.
type EngagementType string

const (
	EngagementOpen          EngagementType = "open"
	EngagementClick         EngagementType = "click"
	EngagementReply         EngagementType = "reply"
	EngagementBounce        EngagementType = "bounce"
	EngagementUnsubscribe   EngagementType = "unsubscribe"
	EngagementPositiveReply EngagementType = "positive_reply"
	EngagementMeetingBooked EngagementType = "meeting_booked"
)

// EngagementEvent links an observed engagement back to the outreach that
// produced it. When no OutreachEvent can be resolved the event is stored
// with Unattributed=true rather than dropped.
type EngagementEvent struct {
	ID              string         `json:"id" db:"id"`
	TenantID        string         `json:"tenant_id" db:"tenant_id"`
	LeadID          *string        `json:"lead_id" db:"lead_id"`
	OutreachEventID *string        `json:"outreach_event_id" db:"outreach_event_id"`
	EventType       EngagementType `json:"event_type" db:"event_type"`
	Channel         Channel        `json:"channel" db:"channel"`
	Sentiment       string         `json:"sentiment" db:"sentiment"`
	InterestLevel   string         `json:"interest_level" db:"interest_level"`

	ProviderCampaignID  string `json:"provider_campaign_id" db:"provider_campaign_id"`
	ProviderLeadID      string `json:"provider_lead_id" db:"provider_lead_id"`
	DaysSinceFirstEmail *int   `json:"days_since_first_email" db:"days_since_first_email"`
	Unattributed        bool   `json:"unattributed" db:"unattributed"`

	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ElementType is a content-element taxonomy entry (subject-line kind,
// opener kind, pain-point kind, CTA kind, tone, length bucket).
type ElementType struct {
	ID       string `json:"id" db:"id"`
	Category string `json:"category" db:"category"` // subject_line, opener, pain_point, cta, tone, length
	Name     string `json:"name" db:"name"`
}

// ElementTag links an outreach event to one detected content element.
// Unique per (outreach_event_id, element_type_id, position_in_email).
type ElementTag struct {
	ID              string `json:"id" db:"id"`
	OutreachEventID string `json:"outreach_event_id" db:"outreach_event_id"`
	ElementTypeID   string `json:"element_type_id" db:"element_type_id"`
	PositionInEmail int    `json:"position_in_email" db:"position_in_email"`
}

// ElementPerformance is a rolling aggregate of how a content element (or
// element within a scope) performed over the trailing window.
type ElementPerformance struct {
	ID                string    `json:"id" db:"id"`
	TenantID          string    `json:"tenant_id" db:"tenant_id"`
	ElementTypeID     string    `json:"element_type_id" db:"element_type_id"`
	Scope             string    `json:"scope" db:"scope"` // "", persona:..., relationship:..., position:N
	TimesUsed         int       `json:"times_used" db:"times_used"`
	OpenRate          float64   `json:"open_rate" db:"open_rate"`
	ReplyRate         float64   `json:"reply_rate" db:"reply_rate"`
	PositiveReplyRate float64   `json:"positive_reply_rate" db:"positive_reply_rate"`
	BounceRate        float64   `json:"bounce_rate" db:"bounce_rate"`
	UnsubscribeRate   float64   `json:"unsubscribe_rate" db:"unsubscribe_rate"`
	Confidence        float64   `json:"confidence" db:"confidence"`
	PeriodStart       time.Time `json:"period_start" db:"period_start"`
	PeriodEnd         time.Time `json:"period_end" db:"period_end"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// BaselineMetric is a tenant-wide rate used as the lift denominator.
// Unique per (tenant_id, metric_type, scope, period).
type BaselineMetric struct {
	ID         string    `json:"id" db:"id"`
	TenantID   string    `json:"tenant_id" db:"tenant_id"`
	MetricType string    `json:"metric_type" db:"metric_type"` // open_rate, reply_rate, positive_reply_rate
	Scope      string    `json:"scope" db:"scope"`
	Period     string    `json:"period" db:"period"` // e.g. 2026-08 or rolling_30d
	Value      float64   `json:"value" db:"value"`
	SampleSize int       `json:"sample_size" db:"sample_size"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
