// Package attribution records what was sent and what came back. Outreach
// events capture verbatim copy plus the strategy snapshot; engagement
// events are resolved back to their outreach, or stored flagged when they
// cannot be.
package attribution

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/store"
)

// Recorder writes outreach and engagement rows.
type Recorder struct {
	store *store.Store
	now   func() time.Time
}

// New creates a recorder.
func New(st *store.Store) *Recorder {
	return &Recorder{store: st, now: time.Now}
}

// RecordSend persists one outbound send and tags email content. The subject
// and body are the exact strings handed to the provider, after send-time
// copy selection.
func (r *Recorder) RecordSend(ctx context.Context, seq *domain.Sequence, channel domain.Channel, stepNumber int, subject, body, providerCampaignID, providerLeadID string) (*domain.OutreachEvent, error) {
	snapshot, err := json.Marshal(seq.Strategy)
	if err != nil {
		return nil, fmt.Errorf("attribution: strategy snapshot: %w", err)
	}

	ev := &domain.OutreachEvent{
		TenantID:           seq.TenantID,
		LeadID:             seq.LeadID,
		SequenceID:         seq.ID,
		CampaignID:         seq.CampaignID,
		Channel:            channel,
		StepNumber:         stepNumber,
		ThreadPosition:     stepNumber,
		Subject:            subject,
		Body:               body,
		Persona:            seq.Strategy.Persona,
		RelationshipType:   seq.Strategy.RelationshipType,
		TopTrigger:         seq.Strategy.TopTrigger,
		StrategySnapshot:   snapshot,
		ProviderCampaignID: providerCampaignID,
		ProviderLeadID:     providerLeadID,
		SentAt:             r.now(),
	}
	if err := r.store.Attribution.InsertOutreach(ctx, ev); err != nil {
		return nil, err
	}

	if channel == domain.ChannelEmail {
		if err := r.tagElements(ctx, ev); err != nil {
			// Tagging feeds the learning loop; a miss degrades learning,
			// never the send path.
			log.Printf("[Attribution] outreach %s: element tagging failed: %v", ev.ID, err)
		}
	}
	return ev, nil
}

func (r *Recorder) tagElements(ctx context.Context, ev *domain.OutreachEvent) error {
	detected := DetectElements(ev.Subject, ev.Body, ev.TopTrigger)
	tags := make([]domain.ElementTag, 0, len(detected))
	for _, el := range detected {
		id, err := r.store.Attribution.EnsureElementType(ctx, el.Category, el.Name)
		if err != nil {
			return err
		}
		tags = append(tags, domain.ElementTag{
			OutreachEventID: ev.ID,
			ElementTypeID:   id,
			PositionInEmail: el.Position,
		})
	}
	return r.store.Attribution.InsertTags(ctx, tags)
}

// EngagementInput is one observed engagement from a provider webhook.
type EngagementInput struct {
	Type               domain.EngagementType
	Channel            domain.Channel
	Sentiment          string
	InterestLevel      string
	ProviderCampaignID string
	ProviderLeadID     string
	// LeadID may be pre-resolved by the caller (e.g. by email lookup).
	LeadID     string
	OccurredAt time.Time
}

// RecordEngagement resolves the engagement to its outreach event and
// persists it. Events that resolve to nothing are stored with
// Unattributed=true rather than dropped.
func (r *Recorder) RecordEngagement(ctx context.Context, tenantID string, in EngagementInput) (*domain.EngagementEvent, error) {
	ev := &domain.EngagementEvent{
		TenantID:           tenantID,
		EventType:          in.Type,
		Channel:            in.Channel,
		Sentiment:          in.Sentiment,
		InterestLevel:      in.InterestLevel,
		ProviderCampaignID: in.ProviderCampaignID,
		ProviderLeadID:     in.ProviderLeadID,
		OccurredAt:         in.OccurredAt,
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.now()
	}

	outreach, err := r.store.Attribution.ResolveOutreach(ctx, tenantID, in.ProviderCampaignID, in.ProviderLeadID)
	switch {
	case err == nil:
		ev.OutreachEventID = &outreach.ID
		ev.LeadID = &outreach.LeadID
	case err == store.ErrNotFound:
		if in.LeadID != "" {
			ev.LeadID = &in.LeadID
		} else {
			ev.Unattributed = true
		}
	default:
		return nil, err
	}

	if ev.LeadID != nil {
		first, err := r.store.Attribution.FirstEmailSentAt(ctx, tenantID, *ev.LeadID)
		if err != nil {
			return nil, err
		}
		if first != nil {
			days := int(ev.OccurredAt.Sub(*first).Hours() / 24)
			ev.DaysSinceFirstEmail = &days
		}
	}

	if err := r.store.Attribution.InsertEngagement(ctx, ev); err != nil {
		return nil, err
	}
	if ev.Unattributed {
		log.Printf("[Attribution] tenant %s: unattributed %s on %s (provider campaign=%s lead=%s)",
			tenantID, in.Type, in.Channel, in.ProviderCampaignID, in.ProviderLeadID)
	}
	return ev, nil
}

// ResolveLead maps provider ids back to our lead id, for the webhook edge.
func (r *Recorder) ResolveLead(ctx context.Context, tenantID, providerCampaignID, providerLeadID string) (string, error) {
	outreach, err := r.store.Attribution.ResolveOutreach(ctx, tenantID, providerCampaignID, providerLeadID)
	if err != nil {
		return "", err
	}
	return outreach.LeadID, nil
}
