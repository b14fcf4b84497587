package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/brightline/outreach-engine/internal/domain"
)

// OrchestrationRepo persists per-lead orchestration state and its
// append-only event log.
type OrchestrationRepo struct{ db *sql.DB }

const orchColumns = `
	id, tenant_id, lead_id, sequence_id, campaign_id, campaign_mode, status, version,
	email_step_current, email_step_total, email_started, email_paused, email_completed,
	linkedin_step_current, linkedin_step_total, linkedin_started, linkedin_paused, linkedin_completed,
	COALESCE(email_provider_lead_id,''), COALESCE(linkedin_provider_lead_id,''),
	last_email_sent_at, next_email_scheduled_at, last_linkedin_sent_at, next_linkedin_scheduled_at,
	linkedin_connected, linkedin_connected_at, linkedin_replied, COALESCE(linkedin_reply_sentiment,''),
	email_opened, email_opened_count, email_clicked, email_replied, COALESCE(email_reply_sentiment,''),
	COALESCE(waiting_for,''), waiting_since, waiting_timeout_at,
	COALESCE(stop_reason,''), started_at, completed_at, created_at, updated_at`

func scanOrch(row interface{ Scan(...any) error }) (*domain.OrchestrationState, error) {
	st := &domain.OrchestrationState{}
	err := row.Scan(
		&st.ID, &st.TenantID, &st.LeadID, &st.SequenceID, &st.CampaignID, &st.Mode, &st.Status, &st.Version,
		&st.EmailStepCurrent, &st.EmailStepTotal, &st.EmailStarted, &st.EmailPaused, &st.EmailCompleted,
		&st.LinkedInStepCurrent, &st.LinkedInStepTotal, &st.LinkedInStarted, &st.LinkedInPaused, &st.LinkedInCompleted,
		&st.EmailProviderLeadID, &st.LinkedInProviderLeadID,
		&st.LastEmailSentAt, &st.NextEmailScheduledAt, &st.LastLinkedInSentAt, &st.NextLinkedInScheduledAt,
		&st.LinkedInConnected, &st.LinkedInConnectedAt, &st.LinkedInReplied, &st.LinkedInReplySentiment,
		&st.EmailOpened, &st.EmailOpenedCount, &st.EmailClicked, &st.EmailReplied, &st.EmailReplySentiment,
		&st.WaitingFor, &st.WaitingSince, &st.WaitingTimeoutAt,
		&st.StopReason, &st.StartedAt, &st.CompletedAt, &st.CreatedAt, &st.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan orchestration state: %w", err)
	}
	return st, nil
}

// GetByLead loads the orchestration state for a lead.
func (r *OrchestrationRepo) GetByLead(ctx context.Context, tenantID, leadID string) (*domain.OrchestrationState, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orchColumns+` FROM orchestration_states WHERE tenant_id = $1 AND lead_id = $2`,
		tenantID, leadID)
	return scanOrch(row)
}

// Create inserts the state row for a newly deployed lead. The unique index
// on lead_id enforces at most one orchestration per lead; a duplicate
// surfaces as ErrConflict.
func (r *OrchestrationRepo) Create(ctx context.Context, st *domain.OrchestrationState) error {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orchestration_states (
			id, tenant_id, lead_id, sequence_id, campaign_id, campaign_mode, status, version,
			email_step_current, email_step_total, linkedin_step_current, linkedin_step_total,
			email_started, linkedin_started, started_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 1,
			$8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
	`, st.ID, st.TenantID, st.LeadID, st.SequenceID, st.CampaignID, st.Mode, st.Status,
		st.EmailStepCurrent, st.EmailStepTotal, st.LinkedInStepCurrent, st.LinkedInStepTotal,
		st.EmailStarted, st.LinkedInStarted, st.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create orchestration state: %w", err)
	}
	return nil
}

// Update writes the full state under optimistic locking: the row's version
// must still equal st.Version, and is bumped on success.
func (r *OrchestrationRepo) Update(ctx context.Context, st *domain.OrchestrationState) error {
	return updateState(ctx, r.db, st)
}

// UpdateTx is Update inside a caller-owned transaction, so the state write
// can commit atomically with its idempotency record.
func (r *OrchestrationRepo) UpdateTx(ctx context.Context, tx *sql.Tx, st *domain.OrchestrationState) error {
	return updateState(ctx, tx, st)
}

func updateState(ctx context.Context, e execer, st *domain.OrchestrationState) error {
	res, err := e.ExecContext(ctx, `
		UPDATE orchestration_states SET
			status = $3, version = version + 1,
			email_step_current = $4, email_started = $5, email_paused = $6, email_completed = $7,
			linkedin_step_current = $8, linkedin_started = $9, linkedin_paused = $10, linkedin_completed = $11,
			last_email_sent_at = $12, next_email_scheduled_at = $13,
			last_linkedin_sent_at = $14, next_linkedin_scheduled_at = $15,
			linkedin_connected = $16, linkedin_connected_at = $17,
			linkedin_replied = $18, linkedin_reply_sentiment = $19,
			email_opened = $20, email_opened_count = $21, email_clicked = $22,
			email_replied = $23, email_reply_sentiment = $24,
			waiting_for = $25, waiting_since = $26, waiting_timeout_at = $27,
			stop_reason = $28, completed_at = $29,
			email_provider_lead_id = $30, linkedin_provider_lead_id = $31,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
	`, st.ID, st.Version,
		st.Status,
		st.EmailStepCurrent, st.EmailStarted, st.EmailPaused, st.EmailCompleted,
		st.LinkedInStepCurrent, st.LinkedInStarted, st.LinkedInPaused, st.LinkedInCompleted,
		st.LastEmailSentAt, st.NextEmailScheduledAt,
		st.LastLinkedInSentAt, st.NextLinkedInScheduledAt,
		st.LinkedInConnected, st.LinkedInConnectedAt,
		st.LinkedInReplied, st.LinkedInReplySentiment,
		st.EmailOpened, st.EmailOpenedCount, st.EmailClicked,
		st.EmailReplied, st.EmailReplySentiment,
		st.WaitingFor, st.WaitingSince, st.WaitingTimeoutAt,
		st.StopReason, st.CompletedAt,
		st.EmailProviderLeadID, st.LinkedInProviderLeadID)
	if err != nil {
		return fmt.Errorf("update orchestration state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	st.Version++
	return nil
}

// AppendEvent writes one audit row. Returns false when the event was
// already applied (unique violation on the idempotency key), which callers
// treat as a duplicate delivery.
func (r *OrchestrationRepo) AppendEvent(ctx context.Context, ev *domain.OrchestrationEvent) (bool, error) {
	return appendEvent(ctx, r.db, ev)
}

// AppendEventTx is AppendEvent inside a caller-owned transaction.
func (r *OrchestrationRepo) AppendEventTx(ctx context.Context, tx *sql.Tx, ev *domain.OrchestrationEvent) (bool, error) {
	return appendEvent(ctx, tx, ev)
}

func appendEvent(ctx context.Context, e execer, ev *domain.OrchestrationEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	res, err := e.ExecContext(ctx, `
		INSERT INTO orchestration_events (
			id, tenant_id, lead_id, sequence_id, event_type, channel, step_number,
			source_event_id, data, decision, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (lead_id, event_type, step_number, source_event_id) DO NOTHING
	`, ev.ID, ev.TenantID, ev.LeadID, ev.SequenceID, ev.EventType, ev.Channel, ev.StepNumber,
		ev.SourceEventID, nullableRaw(ev.Data), ev.Decision, ev.Reason)
	if err != nil {
		return false, fmt.Errorf("append orchestration event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListEvents returns the audit log for a lead, oldest first.
func (r *OrchestrationRepo) ListEvents(ctx context.Context, tenantID, leadID string, limit int) ([]domain.OrchestrationEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, lead_id, sequence_id, event_type, channel, step_number,
		       COALESCE(source_event_id,''), data, COALESCE(decision,''), COALESCE(reason,''), created_at
		FROM orchestration_events
		WHERE tenant_id = $1 AND lead_id = $2
		ORDER BY created_at
		LIMIT $3
	`, tenantID, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orchestration events: %w", err)
	}
	defer rows.Close()

	var out []domain.OrchestrationEvent
	for rows.Next() {
		var ev domain.OrchestrationEvent
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.LeadID, &ev.SequenceID, &ev.EventType,
			&ev.Channel, &ev.StepNumber, &ev.SourceEventID, &ev.Data, &ev.Decision, &ev.Reason,
			&ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
