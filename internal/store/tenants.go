package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/brightline/outreach-engine/internal/domain"
)

// TenantRepo persists tenants and brands.
type TenantRepo struct{ db *sql.DB }

// Get loads a tenant by id.
func (r *TenantRepo) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	t := &domain.Tenant{}
	var icp, prefs, creds []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(active_email_provider,''), COALESCE(active_linkedin_provider,''),
		       COALESCE(llm_provider,''), COALESCE(llm_model,''),
		       enabled_channels, enabled_data_sources, credentials, icp, preferences,
		       created_at, updated_at
		FROM tenants WHERE id = $1
	`, id).Scan(
		&t.ID, &t.Name, &t.ActiveEmailProvider, &t.ActiveLinkedInProvider,
		&t.LLMProvider, &t.LLMModel,
		pq.Array(&t.EnabledChannels), pq.Array(&t.EnabledDataSources), &creds, &icp, &prefs,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	t.Credentials = creds
	if len(icp) > 0 {
		t.ICP = &domain.ICP{}
		if err := jsonScan(icp, t.ICP); err != nil {
			return nil, fmt.Errorf("get tenant: icp: %w", err)
		}
	}
	if len(prefs) > 0 {
		t.Preferences = &domain.TargetingPreferences{}
		if err := jsonScan(prefs, t.Preferences); err != nil {
			return nil, fmt.Errorf("get tenant: preferences: %w", err)
		}
	}
	return t, nil
}

// ListByDataSource returns tenants with the given source kind enabled.
func (r *TenantRepo) ListByDataSource(ctx context.Context, source string) ([]domain.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name FROM tenants
		WHERE $1 = ANY(enabled_data_sources)
		ORDER BY created_at
	`, source)
	if err != nil {
		return nil, fmt.Errorf("list tenants by data source: %w", err)
	}
	defer rows.Close()

	var out []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListIDs returns all tenant ids, for per-tenant cron fan-out.
func (r *TenantRepo) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tenant ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetBrand loads a brand by id, scoped to a tenant.
func (r *TenantRepo) GetBrand(ctx context.Context, tenantID, id string) (*domain.Brand, error) {
	b := &domain.Brand{}
	var icp []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(voice,''), COALESCE(tone,''),
		       COALESCE(value_proposition,''), differentiators, icp, created_at, updated_at
		FROM brands WHERE id = $1 AND tenant_id = $2
	`, id, tenantID).Scan(
		&b.ID, &b.TenantID, &b.Name, &b.Voice, &b.Tone,
		&b.ValueProp, pq.Array(&b.Differentiators), &icp, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get brand: %w", err)
	}
	if len(icp) > 0 {
		b.ICP = &domain.ICP{}
		if err := jsonScan(icp, b.ICP); err != nil {
			return nil, fmt.Errorf("get brand: icp: %w", err)
		}
	}
	return b, nil
}
