package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brightline/outreach-engine/internal/domain"
)

// AttributionRepo persists outreach events, engagement events, and element
// tags.
type AttributionRepo struct{ db *sql.DB }

// InsertOutreach records one outbound send verbatim.
func (r *AttributionRepo) InsertOutreach(ctx context.Context, ev *domain.OutreachEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach_events (
			id, tenant_id, lead_id, sequence_id, campaign_id, channel,
			step_number, thread_position, subject, body,
			persona, relationship_type, top_trigger, strategy_snapshot,
			provider_campaign_id, provider_lead_id, sent_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW())
	`, ev.ID, ev.TenantID, ev.LeadID, ev.SequenceID, ev.CampaignID, ev.Channel,
		ev.StepNumber, ev.ThreadPosition, ev.Subject, ev.Body,
		ev.Persona, ev.RelationshipType, ev.TopTrigger, nullableRaw(ev.StrategySnapshot),
		ev.ProviderCampaignID, ev.ProviderLeadID, ev.SentAt)
	if err != nil {
		return fmt.Errorf("insert outreach event: %w", err)
	}
	return nil
}

// ResolveOutreach finds the outreach event behind a provider webhook by
// (provider_campaign_id, provider_lead_id), most recent first.
func (r *AttributionRepo) ResolveOutreach(ctx context.Context, tenantID, providerCampaignID, providerLeadID string) (*domain.OutreachEvent, error) {
	ev := &domain.OutreachEvent{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, lead_id, sequence_id, campaign_id, channel, step_number, sent_at
		FROM outreach_events
		WHERE tenant_id = $1 AND provider_campaign_id = $2 AND provider_lead_id = $3
		ORDER BY sent_at DESC LIMIT 1
	`, tenantID, providerCampaignID, providerLeadID).Scan(
		&ev.ID, &ev.TenantID, &ev.LeadID, &ev.SequenceID, &ev.CampaignID, &ev.Channel,
		&ev.StepNumber, &ev.SentAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve outreach: %w", err)
	}
	return ev, nil
}

// FirstEmailSentAt returns when the first email outreach for a lead went
// out, for days_since_first_email.
func (r *AttributionRepo) FirstEmailSentAt(ctx context.Context, tenantID, leadID string) (*time.Time, error) {
	var t sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT MIN(sent_at) FROM outreach_events
		WHERE tenant_id = $1 AND lead_id = $2 AND channel = 'email'
	`, tenantID, leadID).Scan(&t)
	if err != nil {
		return nil, fmt.Errorf("first email sent at: %w", err)
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}

// InsertEngagement records one engagement event.
func (r *AttributionRepo) InsertEngagement(ctx context.Context, ev *domain.EngagementEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO engagement_events (
			id, tenant_id, lead_id, outreach_event_id, event_type, channel,
			sentiment, interest_level, provider_campaign_id, provider_lead_id,
			days_since_first_email, unattributed, occurred_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
	`, ev.ID, ev.TenantID, ev.LeadID, ev.OutreachEventID, ev.EventType, ev.Channel,
		ev.Sentiment, ev.InterestLevel, ev.ProviderCampaignID, ev.ProviderLeadID,
		ev.DaysSinceFirstEmail, ev.Unattributed, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert engagement event: %w", err)
	}
	return nil
}

// EnsureElementType upserts a taxonomy entry and returns its id.
func (r *AttributionRepo) EnsureElementType(ctx context.Context, category, name string) (string, error) {
	id := uuid.New().String()
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO element_types (id, category, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (category, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, id, category, name).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("ensure element type: %w", err)
	}
	return id, nil
}

// ListElementTypes returns the full element taxonomy.
func (r *AttributionRepo) ListElementTypes(ctx context.Context) ([]domain.ElementType, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, category, name FROM element_types ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("list element types: %w", err)
	}
	defer rows.Close()

	var out []domain.ElementType
	for rows.Next() {
		var t domain.ElementType
		if err := rows.Scan(&t.ID, &t.Category, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertTags writes detected element tags; duplicates on the conflict
// target are no-ops.
func (r *AttributionRepo) InsertTags(ctx context.Context, tags []domain.ElementTag) error {
	for _, t := range tags {
		id := t.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO outreach_element_tags (id, outreach_event_id, element_type_id, position_in_email)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (outreach_event_id, element_type_id, position_in_email) DO NOTHING
		`, id, t.OutreachEventID, t.ElementTypeID, t.PositionInEmail)
		if err != nil {
			return fmt.Errorf("insert element tag: %w", err)
		}
	}
	return nil
}
