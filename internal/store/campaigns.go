package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/brightline/outreach-engine/internal/domain"
)

// CampaignRepo persists campaigns.
type CampaignRepo struct{ db *sql.DB }

const campaignColumns = `
	id, tenant_id, brand_id, name, status, mode, data_source_type, data_source_config,
	email_step_count, linkedin_step_count, wait_for_connection, connection_timeout_hours,
	linkedin_first, COALESCE(custom_instructions,''), min_intent_score, auto_research_limit,
	last_ingested_at, COALESCE(last_ingest_error,''),
	leads_ingested, leads_contacted, leads_replied, leads_converted,
	created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := row.Scan(
		&c.ID, &c.TenantID, &c.BrandID, &c.Name, &c.Status, &c.Mode, &c.DataSourceType, &c.DataSourceConfig,
		&c.EmailStepCount, &c.LinkedInStepCount, &c.WaitForConnection, &c.ConnectionTimeoutHours,
		&c.LinkedInFirst, &c.CustomInstructions, &c.MinIntentScore, &c.AutoResearchLimit,
		&c.LastIngestedAt, &c.LastIngestError,
		&c.LeadsIngested, &c.LeadsContacted, &c.LeadsReplied, &c.LeadsConverted,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	return c, nil
}

// Get loads a campaign scoped to its tenant.
func (r *CampaignRepo) Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return scanCampaign(row)
}

// ListActiveBySourceType returns active campaigns pulling from the given
// source kind, across tenants, for the daily ingestion cron.
func (r *CampaignRepo) ListActiveBySourceType(ctx context.Context, sourceType domain.DataSourceType) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = 'active' AND data_source_type = $1 ORDER BY created_at`,
		sourceType)
	if err != nil {
		return nil, fmt.Errorf("list active campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetLastIngested writes back the ingestion watermark and clears or records
// the last ingest error. Failed ingestions leave the campaign active but
// surface the error on its next read.
func (r *CampaignRepo) SetLastIngested(ctx context.Context, tenantID, id string, at time.Time, ingestErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET last_ingested_at = $3, last_ingest_error = $4, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID, at, ingestErr)
	if err != nil {
		return fmt.Errorf("set last ingested: %w", err)
	}
	return nil
}

// counter columns allowed for atomic increments.
var campaignCounters = map[string]bool{
	"leads_ingested":  true,
	"leads_contacted": true,
	"leads_replied":   true,
	"leads_converted": true,
}

// Increment atomically bumps one campaign counter.
func (r *CampaignRepo) Increment(ctx context.Context, tenantID, id, counter string, by int) error {
	if !campaignCounters[counter] {
		return fmt.Errorf("increment campaign: unknown counter %q", counter)
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET `+counter+` = `+counter+` + $3, updated_at = NOW() WHERE id = $1 AND tenant_id = $2`,
		id, tenantID, by)
	if err != nil {
		return fmt.Errorf("increment campaign %s: %w", counter, err)
	}
	return nil
}
