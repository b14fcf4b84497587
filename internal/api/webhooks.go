package api

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brightline/outreach-engine/internal/attribution"
	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/orchestrator"
	"github.com/brightline/outreach-engine/internal/pkg/httputil"
	"github.com/brightline/outreach-engine/internal/pkg/logger"
	"github.com/brightline/outreach-engine/internal/runner"
	"github.com/brightline/outreach-engine/internal/store"
)

// webhookEvent is the generic provider envelope. Provider-specific field
// names are mapped to this shape by thin payload adapters per provider;
// the built-in adapters already post this shape.
type webhookEvent struct {
	Event              string    `json:"event"`
	EventID            string    `json:"event_id"`
	ProviderCampaignID string    `json:"campaign_id"`
	ProviderLeadID     string    `json:"lead_id"`
	Email              string    `json:"email"`
	StepNumber         int       `json:"step_number"`
	Subject            string    `json:"subject"`
	Sentiment          string    `json:"sentiment"`
	InterestLevel      string    `json:"interest_level"`
	OccurredAt         time.Time `json:"occurred_at"`
}

// emailEventMap translates provider email webhook names to internal
// orchestration event types and, where one applies, engagement kinds.
var emailEventMap = map[string]struct {
	orchEvent  string
	engagement domain.EngagementType
}{
	"sent":               {orchEvent: orchestrator.EventEmailSent},
	"opened":             {orchEvent: orchestrator.EventEmailOpened, engagement: domain.EngagementOpen},
	"clicked":            {orchEvent: orchestrator.EventEmailClicked, engagement: domain.EngagementClick},
	"replied":            {orchEvent: orchestrator.EventEmailReplied, engagement: domain.EngagementReply},
	"bounced":            {orchEvent: orchestrator.EventEmailBounced, engagement: domain.EngagementBounce},
	"unsubscribed":       {orchEvent: orchestrator.EventEmailUnsubscribed, engagement: domain.EngagementUnsubscribe},
	"campaign_completed": {orchEvent: orchestrator.EventEmailCompleted},
}

var linkedinEventMap = map[string]struct {
	orchEvent  string
	engagement domain.EngagementType
}{
	"connection_sent":    {orchEvent: orchestrator.EventLinkedInConnSent},
	"connected":          {orchEvent: orchestrator.EventLinkedInConnected},
	"message_sent":       {orchEvent: orchestrator.EventLinkedInSent},
	"replied":            {orchEvent: orchestrator.EventLinkedInReplied, engagement: domain.EngagementReply},
	"inmail_replied":     {orchEvent: orchestrator.EventLinkedInReplied, engagement: domain.EngagementReply},
	"campaign_completed": {orchEvent: orchestrator.EventLinkedInCompleted},
}

// ackOnlyLinkedInEvents are soft signals with no orchestration meaning.
// They are acknowledged so providers stop retrying.
var ackOnlyLinkedInEvents = map[string]bool{
	"post_liked":     true,
	"profile_viewed": true,
	"follow_sent":    true,
	"tag_updated":    true,
}

func (s *Server) handleEmailWebhook(w http.ResponseWriter, r *http.Request) {
	s.handleWebhook(w, r, domain.ChannelEmail)
}

func (s *Server) handleLinkedInWebhook(w http.ResponseWriter, r *http.Request) {
	s.handleWebhook(w, r, domain.ChannelLinkedIn)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request, channel domain.Channel) {
	tenantID := chi.URLParam(r, "tenantID")
	if _, err := s.store.Tenants.Get(r.Context(), tenantID); err == store.ErrNotFound {
		httputil.NotFound(w, "unknown tenant")
		return
	} else if err != nil {
		httputil.InternalError(w, err)
		return
	}

	var ev webhookEvent
	if !httputil.Decode(w, r, &ev) {
		return
	}
	if ev.Event == "" {
		httputil.BadRequest(w, "missing event")
		return
	}

	if channel == domain.ChannelLinkedIn && ackOnlyLinkedInEvents[ev.Event] {
		httputil.Accepted(w, map[string]string{"status": "acknowledged"})
		return
	}

	mapping, known := lookupEvent(channel, ev.Event)
	if !known {
		log.Printf("[API] tenant %s: unknown %s webhook event %q, acknowledging", tenantID, channel, ev.Event)
		httputil.Accepted(w, map[string]string{"status": "acknowledged"})
		return
	}

	// Replies carry sentiment; positive ones are the conversion signal.
	engagementType := mapping.engagement
	if engagementType == domain.EngagementReply && ev.Sentiment == "positive" {
		engagementType = domain.EngagementPositiveReply
	}

	leadID := s.resolveLead(r, tenantID, &ev)

	if engagementType != "" {
		_, err := s.recorder.RecordEngagement(r.Context(), tenantID, attribution.EngagementInput{
			Type:               engagementType,
			Channel:            channel,
			Sentiment:          ev.Sentiment,
			InterestLevel:      ev.InterestLevel,
			ProviderCampaignID: ev.ProviderCampaignID,
			ProviderLeadID:     ev.ProviderLeadID,
			LeadID:             leadID,
			OccurredAt:         ev.OccurredAt,
		})
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
	}

	if leadID == "" {
		// Nothing to orchestrate; the engagement row above (if any) kept
		// the signal, flagged unattributed.
		log.Printf("[API] tenant %s: %s %s unresolvable (provider campaign=%s lead=%s email=%s)",
			tenantID, channel, ev.Event, ev.ProviderCampaignID, ev.ProviderLeadID,
			logger.RedactEmail(ev.Email))
		httputil.Accepted(w, map[string]string{"status": "unattributed"})
		return
	}

	sourceEventID := ev.EventID
	if sourceEventID == "" {
		sourceEventID = syntheticEventID(channel, &ev)
	}
	_, err := s.emitter.Emit(r.Context(), runner.Emission{
		Name: runner.EvOrchestrationEvent,
		Payload: orchestrator.EventPayload{
			TenantID:           tenantID,
			LeadID:             leadID,
			Type:               mapping.orchEvent,
			Channel:            channel,
			StepNumber:         ev.StepNumber,
			SourceEventID:      sourceEventID,
			Sentiment:          ev.Sentiment,
			InterestLevel:      ev.InterestLevel,
			ProviderCampaignID: ev.ProviderCampaignID,
			ProviderLeadID:     ev.ProviderLeadID,
			Subject:            ev.Subject,
		},
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Accepted(w, map[string]string{"status": "queued"})
}

func lookupEvent(channel domain.Channel, event string) (struct {
	orchEvent  string
	engagement domain.EngagementType
}, bool) {
	if channel == domain.ChannelEmail {
		m, ok := emailEventMap[event]
		return m, ok
	}
	m, ok := linkedinEventMap[event]
	return m, ok
}

// resolveLead maps provider ids back to a lead: outreach history first,
// then the lead's email address.
func (s *Server) resolveLead(r *http.Request, tenantID string, ev *webhookEvent) string {
	if ev.ProviderCampaignID != "" && ev.ProviderLeadID != "" {
		id, err := s.recorder.ResolveLead(r.Context(), tenantID, ev.ProviderCampaignID, ev.ProviderLeadID)
		if err == nil {
			return id
		}
		if err != store.ErrNotFound {
			log.Printf("[API] resolve lead by provider ids: %v", err)
		}
	}
	if ev.Email != "" {
		lead, err := s.store.Leads.GetByEmail(r.Context(), tenantID, ev.Email)
		if err == nil {
			return lead.ID
		}
		if err != store.ErrNotFound {
			log.Printf("[API] resolve lead by email: %v", err)
		}
	}
	return ""
}

// syntheticEventID builds a stable dedupe key for providers that send no
// event id. Open floods collapse by the minute.
func syntheticEventID(channel domain.Channel, ev *webhookEvent) string {
	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	return string(channel) + ":" + ev.Event + ":" + ev.ProviderLeadID + ":" + at.UTC().Format("200601021504")
}
