package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/brightline/outreach-engine/internal/domain"
)

// SequenceRepo persists generated sequences.
type SequenceRepo struct{ db *sql.DB }

func (r *SequenceRepo) scan(row interface{ Scan(...any) error }) (*domain.Sequence, error) {
	s := &domain.Sequence{}
	var emailSteps, linkedinSteps, strategy []byte
	var decision sql.NullString
	err := row.Scan(
		&s.ID, &s.TenantID, &s.LeadID, &s.CampaignID, &s.Mode, &s.Status,
		&emailSteps, &linkedinSteps, &strategy,
		&s.ReviewScore, &decision, &s.RevisionCount,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan sequence: %w", err)
	}
	if err := jsonScan(emailSteps, &s.EmailSteps); err != nil {
		return nil, fmt.Errorf("scan sequence: email steps: %w", err)
	}
	if err := jsonScan(linkedinSteps, &s.LinkedInSteps); err != nil {
		return nil, fmt.Errorf("scan sequence: linkedin steps: %w", err)
	}
	if err := jsonScan(strategy, &s.Strategy); err != nil {
		return nil, fmt.Errorf("scan sequence: strategy: %w", err)
	}
	if decision.Valid {
		d := domain.ReviewDecision(decision.String)
		s.ReviewDecision = &d
	}
	return s, nil
}

const sequenceColumns = `
	id, tenant_id, lead_id, campaign_id, campaign_mode, status,
	email_steps, linkedin_steps, strategy,
	review_score, review_decision, revision_count, created_at, updated_at`

// Get loads a sequence by id.
func (r *SequenceRepo) Get(ctx context.Context, tenantID, id string) (*domain.Sequence, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sequenceColumns+` FROM sequences WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return r.scan(row)
}

// LatestForLead returns the most recent sequence for a lead+campaign.
func (r *SequenceRepo) LatestForLead(ctx context.Context, tenantID, leadID, campaignID string) (*domain.Sequence, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sequenceColumns+` FROM sequences
		WHERE tenant_id = $1 AND lead_id = $2 AND campaign_id = $3
		ORDER BY created_at DESC LIMIT 1
	`, tenantID, leadID, campaignID)
	return r.scan(row)
}

// HasPendingForLead reports whether a non-terminal review is already open
// for the lead+campaign, enforcing the at-most-one invariant.
func (r *SequenceRepo) HasPendingForLead(ctx context.Context, tenantID, leadID, campaignID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM sequences
			WHERE tenant_id = $1 AND lead_id = $2 AND campaign_id = $3 AND status = 'pending'
		)
	`, tenantID, leadID, campaignID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pending sequence check: %w", err)
	}
	return exists, nil
}

// Insert persists a new sequence in pending review state.
func (r *SequenceRepo) Insert(ctx context.Context, s *domain.Sequence) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	emailSteps, err := jsonVal(s.EmailSteps)
	if err != nil {
		return fmt.Errorf("insert sequence: email steps: %w", err)
	}
	linkedinSteps, err := jsonVal(s.LinkedInSteps)
	if err != nil {
		return fmt.Errorf("insert sequence: linkedin steps: %w", err)
	}
	strategy, err := jsonVal(s.Strategy)
	if err != nil {
		return fmt.Errorf("insert sequence: strategy: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sequences (
			id, tenant_id, lead_id, campaign_id, campaign_mode, status,
			email_steps, linkedin_steps, strategy, revision_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`, s.ID, s.TenantID, s.LeadID, s.CampaignID, s.Mode, s.Status,
		emailSteps, linkedinSteps, strategy, s.RevisionCount)
	if err != nil {
		return fmt.Errorf("insert sequence: %w", err)
	}
	return nil
}

// UpdateSteps replaces a sequence's steps and strategy after a revision.
func (r *SequenceRepo) UpdateSteps(ctx context.Context, s *domain.Sequence) error {
	emailSteps, err := jsonVal(s.EmailSteps)
	if err != nil {
		return fmt.Errorf("update sequence steps: %w", err)
	}
	linkedinSteps, err := jsonVal(s.LinkedInSteps)
	if err != nil {
		return fmt.Errorf("update sequence steps: %w", err)
	}
	strategy, err := jsonVal(s.Strategy)
	if err != nil {
		return fmt.Errorf("update sequence steps: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE sequences SET
			email_steps = $3, linkedin_steps = $4, strategy = $5,
			revision_count = $6, status = 'pending', updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
	`, s.ID, s.TenantID, emailSteps, linkedinSteps, strategy, s.RevisionCount)
	if err != nil {
		return fmt.Errorf("update sequence steps: %w", err)
	}
	return nil
}

// RecordReview stores a review outcome. Review attempts are identified by
// (sequence_id, attempt); storing a duplicate is a no-op.
func (r *SequenceRepo) RecordReview(ctx context.Context, tenantID, sequenceID string, attempt int, res domain.ReviewResult) (bool, error) {
	data, err := jsonVal(res)
	if err != nil {
		return false, fmt.Errorf("record review: %w", err)
	}
	out, err := r.db.ExecContext(ctx, `
		INSERT INTO sequence_reviews (id, tenant_id, sequence_id, attempt, result, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (sequence_id, attempt) DO NOTHING
	`, uuid.New().String(), tenantID, sequenceID, attempt, data)
	if err != nil {
		return false, fmt.Errorf("record review: %w", err)
	}
	n, _ := out.RowsAffected()
	if n == 0 {
		return false, nil
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE sequences SET review_score = $3, review_decision = $4, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
	`, sequenceID, tenantID, res.OverallScore, string(res.Decision))
	if err != nil {
		return false, fmt.Errorf("record review: update sequence: %w", err)
	}
	return true, nil
}

// SetStatus transitions the sequence's review status.
func (r *SequenceRepo) SetStatus(ctx context.Context, tenantID, id string, status domain.SequenceStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sequences SET status = $3, updated_at = NOW() WHERE id = $1 AND tenant_id = $2`,
		id, tenantID, status)
	if err != nil {
		return fmt.Errorf("set sequence status: %w", err)
	}
	return nil
}
