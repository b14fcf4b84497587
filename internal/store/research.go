package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/brightline/outreach-engine/internal/domain"
)

// ResearchRepo persists research records (1:1 with leads).
type ResearchRepo struct{ db *sql.DB }

// GetByLead loads the research record for a lead, or ErrNotFound.
func (r *ResearchRepo) GetByLead(ctx context.Context, tenantID, leadID string) (*domain.ResearchRecord, error) {
	rec := &domain.ResearchRecord{}
	var summary, profile []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, lead_id,
		       personal_linkedin_raw, company_linkedin_raw, web_search_raw,
		       waterfall_summary, context_profile, COALESCE(archive_key,''),
		       created_at, updated_at
		FROM research_records WHERE tenant_id = $1 AND lead_id = $2
	`, tenantID, leadID).Scan(
		&rec.ID, &rec.TenantID, &rec.LeadID,
		&rec.PersonalLinkedInRaw, &rec.CompanyLinkedInRaw, &rec.WebSearchRaw,
		&summary, &profile, &rec.ArchiveKey,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get research record: %w", err)
	}
	if err := jsonScan(summary, &rec.WaterfallSummary); err != nil {
		return nil, fmt.Errorf("get research record: summary: %w", err)
	}
	if len(profile) > 0 {
		rec.Profile = &domain.ContextProfile{}
		if err := jsonScan(profile, rec.Profile); err != nil {
			return nil, fmt.Errorf("get research record: profile: %w", err)
		}
	}
	return rec, nil
}

// Upsert writes a research record, replacing any prior row for the lead.
func (r *ResearchRepo) Upsert(ctx context.Context, rec *domain.ResearchRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	summary, err := jsonVal(rec.WaterfallSummary)
	if err != nil {
		return fmt.Errorf("upsert research record: summary: %w", err)
	}
	profile, err := jsonVal(rec.Profile)
	if err != nil {
		return fmt.Errorf("upsert research record: profile: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO research_records (
			id, tenant_id, lead_id,
			personal_linkedin_raw, company_linkedin_raw, web_search_raw,
			waterfall_summary, context_profile, archive_key, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (tenant_id, lead_id) DO UPDATE SET
			personal_linkedin_raw = EXCLUDED.personal_linkedin_raw,
			company_linkedin_raw = EXCLUDED.company_linkedin_raw,
			web_search_raw = EXCLUDED.web_search_raw,
			waterfall_summary = EXCLUDED.waterfall_summary,
			context_profile = EXCLUDED.context_profile,
			archive_key = EXCLUDED.archive_key,
			updated_at = NOW()
	`, rec.ID, rec.TenantID, rec.LeadID,
		nullableRaw(rec.PersonalLinkedInRaw), nullableRaw(rec.CompanyLinkedInRaw), nullableRaw(rec.WebSearchRaw),
		summary, profile, rec.ArchiveKey)
	if err != nil {
		return fmt.Errorf("upsert research record: %w", err)
	}
	return nil
}

func nullableRaw(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
