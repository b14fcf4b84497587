package domain

import "time"

// SequenceStatus tracks a sequence through review.
type SequenceStatus string

const (
	SequencePending   SequenceStatus = "pending"
	SequenceApproved  SequenceStatus = "approved"
	SequenceRejected  SequenceStatus = "rejected"
	SequenceEscalated SequenceStatus = "escalated"
)

// ReviewDecision is the reviewer's verdict.
type ReviewDecision string

const (
	ReviewApprove     ReviewDecision = "APPROVE"
	ReviewRevise      ReviewDecision = "REVISE"
	ReviewHumanReview ReviewDecision = "HUMAN_REVIEW"
)

// MaxRevisionAttempts bounds the reviewer's revision loop.
const MaxRevisionAttempts = 3

// Sequence is the generated multi-touch plan for one lead. At most one
// sequence per lead per campaign may be in a non-terminal review state.
type Sequence struct {
	ID         string         `json:"id" db:"id"`
	TenantID   string         `json:"tenant_id" db:"tenant_id"`
	LeadID     string         `json:"lead_id" db:"lead_id"`
	CampaignID string         `json:"campaign_id" db:"campaign_id"`
	Mode       CampaignMode   `json:"campaign_mode" db:"campaign_mode"`
	Status     SequenceStatus `json:"status" db:"status"`

	EmailSteps    []EmailStep      `json:"email_steps" db:"email_steps"`
	LinkedInSteps []LinkedInStep   `json:"linkedin_steps" db:"linkedin_steps"`
	Strategy      SequenceStrategy `json:"strategy" db:"strategy"`

	ReviewScore    *float64        `json:"review_score" db:"review_score"`
	ReviewDecision *ReviewDecision `json:"review_decision" db:"review_decision"`
	RevisionCount  int             `json:"revision_count" db:"revision_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SequenceStrategy captures the plan-level choices made at generation time.
type SequenceStrategy struct {
	PrimaryAngle           string   `json:"primary_angle"`
	Tone                   string   `json:"tone"`
	CrossChannelTriggers   []string `json:"cross_channel_triggers,omitempty"`
	LinkedInFirst          bool     `json:"linkedin_first"`
	WaitForConnection      bool     `json:"wait_for_connection"`
	ConnectionTimeoutHours int      `json:"connection_timeout_hours"`

	// Persona / trigger choices and the prompt version that wrote the
	// copy, snapshotted onto outreach events for attribution.
	Persona          string `json:"persona,omitempty"`
	RelationshipType string `json:"relationship_type,omitempty"`
	TopTrigger       string `json:"top_trigger,omitempty"`
	PromptVersionID  string `json:"prompt_version_id,omitempty"`
}

// EmailStepType enumerates email touch kinds.
type EmailStepType string

const (
	EmailInitial   EmailStepType = "initial"
	EmailValueAdd  EmailStepType = "value_add"
	EmailBump      EmailStepType = "bump"
	EmailCaseStudy EmailStepType = "case_study"
	EmailReferral  EmailStepType = "referral"
)

// EmailStep is one email touch. The conditional-copy variants are generated
// up front so the orchestrator can swap at send time without regeneration.
type EmailStep struct {
	StepNumber            int           `json:"step_number"`
	Day                   int           `json:"day"`
	Type                  EmailStepType `json:"type"`
	Subject               string        `json:"subject"`
	Body                  string        `json:"body"`
	BodyLinkedInConnected string        `json:"body_linkedin_connected,omitempty"`
	BodyLinkedInReplied   string        `json:"body_linkedin_replied,omitempty"`
	WordCount             int           `json:"word_count"`

	// Cross-channel coordination
	TriggerLinkedIn *int            `json:"trigger_linkedin,omitempty"` // LinkedIn step to fire
	WaitForLinkedIn *WaitForChannel `json:"wait_for_linkedin,omitempty"`
}

// LinkedInStepType enumerates LinkedIn touch kinds.
type LinkedInStepType string

const (
	LinkedInConnectionRequest LinkedInStepType = "connection_request"
	LinkedInMessage           LinkedInStepType = "message"
	LinkedInInMail            LinkedInStepType = "inmail"
	LinkedInViewProfile       LinkedInStepType = "view_profile"
	LinkedInLike              LinkedInStepType = "like"
	LinkedInFollow            LinkedInStepType = "follow"
)

// LinkedInStep is one LinkedIn touch, symmetric to EmailStep.
type LinkedInStep struct {
	StepNumber int              `json:"step_number"`
	Day        int              `json:"day"`
	Type       LinkedInStepType `json:"type"`

	ConnectionNote         string `json:"connection_note,omitempty"`
	ConnectionNoteFallback string `json:"connection_note_fallback,omitempty"`
	Body                   string `json:"body,omitempty"`
	BodyFallback           string `json:"body_fallback,omitempty"`
	BodyEmailOpened        string `json:"body_email_opened,omitempty"`
	BodyEmailReplied       string `json:"body_email_replied,omitempty"`

	RequiresConnection bool            `json:"requires_connection"`
	TriggerEmail       *int            `json:"trigger_email,omitempty"`
	WaitForEmail       *WaitForChannel `json:"wait_for_email,omitempty"`
}

// WaitForChannel pauses a step until an event arrives on the other channel,
// bounded by a timeout.
type WaitForChannel struct {
	Event        string `json:"event"`
	TimeoutHours int    `json:"timeout_hours"`
}

// ReviewResult is the reviewer prompt's parsed response.
type ReviewResult struct {
	Decision             ReviewDecision `json:"decision"`
	OverallScore         float64        `json:"overallScore"`
	SequenceLevelIssues  []string       `json:"sequenceLevelIssues"`
	RevisionInstructions string         `json:"revisionInstructions"`
	HumanReviewReason    string         `json:"humanReviewReason"`
}
