package domain

import (
	"encoding/json"
	"time"
)

// Channel identifies a delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelLinkedIn Channel = "linkedin"
	// ChannelInternal marks events the orchestrator emits to itself
	// (wait timeouts, start). Trigger evaluation skips them.
	ChannelInternal Channel = "orchestrator"
)

// OrchestrationStatus enumerates per-lead orchestration states.
// Terminal: stopped, converted, completed.
type OrchestrationStatus string

const (
	OrchPending   OrchestrationStatus = "pending"
	OrchActive    OrchestrationStatus = "active"
	OrchPaused    OrchestrationStatus = "paused"
	OrchWaiting   OrchestrationStatus = "waiting"
	OrchCompleted OrchestrationStatus = "completed"
	OrchStopped   OrchestrationStatus = "stopped"
	OrchConverted OrchestrationStatus = "converted"
)

// Terminal reports whether a status admits no further transitions.
func (s OrchestrationStatus) Terminal() bool {
	return s == OrchStopped || s == OrchConverted || s == OrchCompleted
}

// OrchestrationState is the per-lead cross-channel state machine row,
// 1:1 with a lead once its sequence is deployed. Writes use optimistic
// locking on Version.
type OrchestrationState struct {
	ID         string              `json:"id" db:"id"`
	TenantID   string              `json:"tenant_id" db:"tenant_id"`
	LeadID     string              `json:"lead_id" db:"lead_id"`
	SequenceID string              `json:"sequence_id" db:"sequence_id"`
	CampaignID string              `json:"campaign_id" db:"campaign_id"`
	Mode       CampaignMode        `json:"campaign_mode" db:"campaign_mode"`
	Status     OrchestrationStatus `json:"status" db:"status"`
	Version    int                 `json:"version" db:"version"`

	EmailStepCurrent int  `json:"email_step_current" db:"email_step_current"`
	EmailStepTotal   int  `json:"email_step_total" db:"email_step_total"`
	EmailStarted     bool `json:"email_started" db:"email_started"`
	EmailPaused      bool `json:"email_paused" db:"email_paused"`
	EmailCompleted   bool `json:"email_completed" db:"email_completed"`

	LinkedInStepCurrent int  `json:"linkedin_step_current" db:"linkedin_step_current"`
	LinkedInStepTotal   int  `json:"linkedin_step_total" db:"linkedin_step_total"`
	LinkedInStarted     bool `json:"linkedin_started" db:"linkedin_started"`
	LinkedInPaused      bool `json:"linkedin_paused" db:"linkedin_paused"`
	LinkedInCompleted   bool `json:"linkedin_completed" db:"linkedin_completed"`

	// Provider-side lead ids captured at deployment. Pauses and copy syncs
	// address the provider arms through these, not through whatever id the
	// triggering webhook happened to carry.
	EmailProviderLeadID    string `json:"email_provider_lead_id" db:"email_provider_lead_id"`
	LinkedInProviderLeadID string `json:"linkedin_provider_lead_id" db:"linkedin_provider_lead_id"`

	LastEmailSentAt         *time.Time `json:"last_email_sent_at" db:"last_email_sent_at"`
	NextEmailScheduledAt    *time.Time `json:"next_email_scheduled_at" db:"next_email_scheduled_at"`
	LastLinkedInSentAt      *time.Time `json:"last_linkedin_sent_at" db:"last_linkedin_sent_at"`
	NextLinkedInScheduledAt *time.Time `json:"next_linkedin_scheduled_at" db:"next_linkedin_scheduled_at"`

	// Cross-channel signals
	LinkedInConnected      bool       `json:"linkedin_connected" db:"linkedin_connected"`
	LinkedInConnectedAt    *time.Time `json:"linkedin_connected_at" db:"linkedin_connected_at"`
	LinkedInReplied        bool       `json:"linkedin_replied" db:"linkedin_replied"`
	LinkedInReplySentiment string     `json:"linkedin_reply_sentiment" db:"linkedin_reply_sentiment"`
	EmailOpened            bool       `json:"email_opened" db:"email_opened"`
	EmailOpenedCount       int        `json:"email_opened_count" db:"email_opened_count"`
	EmailClicked           bool       `json:"email_clicked" db:"email_clicked"`
	EmailReplied           bool       `json:"email_replied" db:"email_replied"`
	EmailReplySentiment    string     `json:"email_reply_sentiment" db:"email_reply_sentiment"`

	// Waiting state
	WaitingFor       string     `json:"waiting_for" db:"waiting_for"`
	WaitingSince     *time.Time `json:"waiting_since" db:"waiting_since"`
	WaitingTimeoutAt *time.Time `json:"waiting_timeout_at" db:"waiting_timeout_at"`

	StopReason  string     `json:"stop_reason" db:"stop_reason"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// OrchestrationEvent is the append-only audit log for orchestration. The
// unique key (lead_id, event_type, step_number, source_event_id) combined
// with per-lead serialization yields exactly-once application of
// at-least-once deliveries.
type OrchestrationEvent struct {
	ID            string          `json:"id" db:"id"`
	TenantID      string          `json:"tenant_id" db:"tenant_id"`
	LeadID        string          `json:"lead_id" db:"lead_id"`
	SequenceID    string          `json:"sequence_id" db:"sequence_id"`
	EventType     string          `json:"event_type" db:"event_type"`
	Channel       Channel         `json:"channel" db:"channel"`
	StepNumber    int             `json:"step_number" db:"step_number"`
	SourceEventID string          `json:"source_event_id" db:"source_event_id"`
	Data          json.RawMessage `json:"data" db:"data"`
	Decision      string          `json:"decision" db:"decision"`
	Reason        string          `json:"reason" db:"reason"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// ActionType enumerates what the orchestrator may do in response to an event.
type ActionType string

const (
	ActionPause         ActionType = "pause"
	ActionResume        ActionType = "resume"
	ActionStop          ActionType = "stop"
	ActionWait          ActionType = "wait"
	ActionSendEmail     ActionType = "send_email"
	ActionSendLinkedIn  ActionType = "send_linkedin"
	ActionAlert         ActionType = "alert"
	ActionMarkConverted ActionType = "mark_converted"
	ActionCopySync      ActionType = "conditional_copy_sync"
)

// Action is one effect produced by ProcessEvent.
type Action struct {
	Type         ActionType `json:"type"`
	Channel      Channel    `json:"channel,omitempty"`
	Step         int        `json:"step,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	Details      string     `json:"details,omitempty"`
	TimeoutHours int        `json:"timeout_hours,omitempty"`
}

// CrossChannelTrigger is a stored rule: when source_event arrives on
// source_channel and the conditions hold, apply target_action. Tenant-scoped
// rows override global rows (tenant_id NULL); evaluated in priority order,
// first match wins.
type CrossChannelTrigger struct {
	ID            string             `json:"id" db:"id"`
	TenantID      *string            `json:"tenant_id" db:"tenant_id"`
	Name          string             `json:"name" db:"name"`
	SourceChannel Channel            `json:"source_channel" db:"source_channel"`
	SourceEvent   string             `json:"source_event" db:"source_event"`
	Conditions    []TriggerCondition `json:"conditions" db:"conditions"`
	TargetAction  Action             `json:"target_action" db:"target_action"`
	Priority      int                `json:"priority" db:"priority"`
	Enabled       bool               `json:"enabled" db:"enabled"`
}

// TriggerCondition is the restricted condition grammar: sentiment equality,
// integer bounds on counters, and flag presence. Unknown fields never match.
type TriggerCondition struct {
	Field     string `json:"field"`               // e.g. email_opened_count, linkedin_connected, email_reply_sentiment
	Sentiment string `json:"sentiment,omitempty"` // equality on sentiment fields
	Min       *int   `json:"min,omitempty"`       // inclusive lower bound
	Max       *int   `json:"max,omitempty"`       // inclusive upper bound
	Flag      *bool  `json:"flag,omitempty"`      // boolean presence check
}
