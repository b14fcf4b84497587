package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/brightline/outreach-engine/internal/domain"
)

// LeadRepo persists leads, pixel visits, and the engagement audit log.
type LeadRepo struct{ db *sql.DB }

const leadColumns = `
	id, tenant_id, email, source, status,
	COALESCE(first_name,''), COALESCE(last_name,''), COALESCE(job_title,''),
	COALESCE(linkedin_url,''), COALESCE(phone,''),
	COALESCE(company_name,''), COALESCE(company_domain,''), COALESCE(company_industry,''),
	company_employee_count, COALESCE(company_revenue,''), COALESCE(company_linkedin_url,''),
	visit_count, first_seen_at, last_seen_at,
	in_email_provider, in_linkedin_provider, in_crm,
	intent_score, qualification_decision, COALESCE(qualification_reasoning,''),
	qualification_confidence, COALESCE(icp_fit,''),
	campaign_id, created_at, updated_at`

func scanLead(row interface{ Scan(...any) error }) (*domain.Lead, error) {
	l := &domain.Lead{}
	var decision sql.NullString
	err := row.Scan(
		&l.ID, &l.TenantID, &l.Email, &l.Source, &l.Status,
		&l.FirstName, &l.LastName, &l.JobTitle,
		&l.LinkedIn, &l.Phone,
		&l.CompanyName, &l.CompanyDomain, &l.CompanyIndustry,
		&l.CompanySize, &l.CompanyRevenue, &l.CompanyLinkedIn,
		&l.VisitCount, &l.FirstSeenAt, &l.LastSeenAt,
		&l.InEmailProvider, &l.InLinkedInProvider, &l.InCRM,
		&l.IntentScore, &decision, &l.QualificationReasoning,
		&l.QualificationConfidence, &l.ICPFit,
		&l.CampaignID, &l.CreatedAt, &l.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan lead: %w", err)
	}
	if decision.Valid {
		d := domain.QualificationDecision(decision.String)
		l.QualificationDecision = &d
	}
	return l, nil
}

// Get loads a lead by id.
func (r *LeadRepo) Get(ctx context.Context, tenantID, id string) (*domain.Lead, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return scanLead(row)
}

// GetByEmail looks a lead up by its natural key.
func (r *LeadRepo) GetByEmail(ctx context.Context, tenantID, email string) (*domain.Lead, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE tenant_id = $1 AND LOWER(email) = LOWER($2)`,
		tenantID, email)
	return scanLead(row)
}

// Insert creates a lead row. A unique violation on (tenant_id, email) is
// surfaced as ErrConflict so callers convert the race to read-then-update.
func (r *LeadRepo) Insert(ctx context.Context, l *domain.Lead) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO leads (
			id, tenant_id, email, source, status,
			first_name, last_name, job_title, linkedin_url, phone,
			company_name, company_domain, company_industry,
			company_employee_count, company_revenue, company_linkedin_url,
			visit_count, first_seen_at, last_seen_at,
			campaign_id, created_at, updated_at
		) VALUES (
			$1, $2, LOWER($3), $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $21
		)
	`, l.ID, l.TenantID, l.Email, l.Source, l.Status,
		l.FirstName, l.LastName, l.JobTitle, l.LinkedIn, l.Phone,
		l.CompanyName, l.CompanyDomain, l.CompanyIndustry,
		l.CompanySize, l.CompanyRevenue, l.CompanyLinkedIn,
		l.VisitCount, l.FirstSeenAt, l.LastSeenAt,
		l.CampaignID, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

// Update persists the mutable fields of a lead.
func (r *LeadRepo) Update(ctx context.Context, l *domain.Lead) error {
	var decision any
	if l.QualificationDecision != nil {
		decision = string(*l.QualificationDecision)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE leads SET
			source = $3, status = $4,
			first_name = $5, last_name = $6, job_title = $7, linkedin_url = $8, phone = $9,
			company_name = $10, company_domain = $11, company_industry = $12,
			company_employee_count = $13, company_revenue = $14, company_linkedin_url = $15,
			visit_count = $16, last_seen_at = $17,
			in_email_provider = $18, in_linkedin_provider = $19, in_crm = $20,
			intent_score = $21, qualification_decision = $22, qualification_reasoning = $23,
			qualification_confidence = $24, icp_fit = $25, campaign_id = $26,
			updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
	`, l.ID, l.TenantID,
		l.Source, l.Status,
		l.FirstName, l.LastName, l.JobTitle, l.LinkedIn, l.Phone,
		l.CompanyName, l.CompanyDomain, l.CompanyIndustry,
		l.CompanySize, l.CompanyRevenue, l.CompanyLinkedIn,
		l.VisitCount, l.LastSeenAt,
		l.InEmailProvider, l.InLinkedInProvider, l.InCRM,
		l.IntentScore, decision, l.QualificationReasoning,
		l.QualificationConfidence, l.ICPFit, l.CampaignID)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus transitions a lead's status only.
func (r *LeadRepo) SetStatus(ctx context.Context, tenantID, id string, status domain.LeadStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE leads SET status = $3, updated_at = NOW() WHERE id = $1 AND tenant_id = $2`,
		id, tenantID, status)
	if err != nil {
		return fmt.Errorf("set lead status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddVisit appends a pixel visit row.
func (r *LeadRepo) AddVisit(ctx context.Context, v *domain.PixelVisit) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pixel_visits (id, tenant_id, lead_id, page, time_on_page_ms, visited_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.ID, v.TenantID, v.LeadID, v.Page, v.TimeOnPage, v.VisitedAt)
	if err != nil {
		return fmt.Errorf("add visit: %w", err)
	}
	return nil
}

// LogEvent appends to the per-lead engagement audit log.
func (r *LeadRepo) LogEvent(ctx context.Context, tenantID, leadID, eventType string, detail any) error {
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("log event: marshal: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO engagement_log (id, tenant_id, lead_id, event_type, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.New().String(), tenantID, leadID, eventType, data)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// CountByStatusSince returns per-status lead counts for a tenant within the
// window, for the daily digest.
func (r *LeadRepo) CountByStatusSince(ctx context.Context, tenantID string, since time.Time) (map[domain.LeadStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM leads
		WHERE tenant_id = $1 AND updated_at >= $2
		GROUP BY status
	`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("count leads: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.LeadStatus]int)
	for rows.Next() {
		var s domain.LeadStatus
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

// isUniqueViolation detects Postgres 23505.
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key value")
}
