package runner

import (
	"encoding/json"
	"time"
)

// EventStatus tracks a queued event through delivery.
type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventCompleted  EventStatus = "completed"
	EventFailed     EventStatus = "failed"
	EventDeadLetter EventStatus = "dead_letter"
)

// Event is one durable queue row. Delivery is at-least-once; handlers must
// be idempotent on their identifying key.
type Event struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Status      EventStatus     `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	RunAt       time.Time       `json:"run_at"`
	LastError   string          `json:"last_error"`
	ClaimedBy   string          `json:"claimed_by"`
	ClaimedAt   *time.Time      `json:"claimed_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Bind unmarshals the event payload into dst.
func (e *Event) Bind(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}

// Emission describes one event to enqueue.
type Emission struct {
	Name    string
	Payload any
	RunAt   time.Time // zero means now
}

// Event names carried on the bus. Producers and consumers agree on these
// strings; payloads are the typed structs in the stage packages.
const (
	EvCampaignIngest       = "campaign.ingest-data"
	EvCampaignManualIngest = "campaign.manual-ingest"
	EvLeadIngested         = "lead.ingested"
	EvLeadIntentIngested   = "lead.intent-ingested"
	EvLeadReadyForDeploy   = "lead.ready-for-deployment"
	EvLeadResearchComplete = "lead.research-complete"
	EvSequenceReviewReq    = "sequence.review-requested"
	EvSequenceRevisionNeed = "lead.sequence-revision-needed"
	EvSequenceRevisionDone = "lead.sequence-revision-complete"
	EvLeadSequenceReady    = "lead.sequence-ready"
	EvOrchestrationEvent   = "orchestration.event"
	EvWaitingTimeout       = "orchestration.waiting-timeout"
	EvLearningAnalyze      = "learning.analyze-requested"
	EvDailyDigest          = "notify.daily-digest"
)
