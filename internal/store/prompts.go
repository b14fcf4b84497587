package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/brightline/outreach-engine/internal/domain"
)

// PromptRepo persists evolvable prompt definitions, their versions, and
// A/B tests between versions.
type PromptRepo struct{ db *sql.DB }

// EnsureDefinition upserts a prompt definition and returns it.
func (r *PromptRepo) EnsureDefinition(ctx context.Context, tenantID, name string, evolvable bool) (*domain.PromptDefinition, error) {
	d := &domain.PromptDefinition{TenantID: tenantID, Name: name, Evolvable: evolvable}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO prompt_definitions (id, tenant_id, name, evolvable, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (tenant_id, name) DO UPDATE SET evolvable = EXCLUDED.evolvable
		RETURNING id, created_at
	`, uuid.New().String(), tenantID, name, evolvable).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure prompt definition: %w", err)
	}
	return d, nil
}

// GetDefinition loads a prompt definition by tenant and name.
func (r *PromptRepo) GetDefinition(ctx context.Context, tenantID, name string) (*domain.PromptDefinition, error) {
	d := &domain.PromptDefinition{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, evolvable, created_at
		FROM prompt_definitions WHERE tenant_id = $1 AND name = $2
	`, tenantID, name).Scan(&d.ID, &d.TenantID, &d.Name, &d.Evolvable, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt definition: %w", err)
	}
	return d, nil
}

// InsertVersion stores a new prompt version. The version number must be
// unique per prompt; a duplicate surfaces as ErrConflict.
func (r *PromptRepo) InsertVersion(ctx context.Context, v *domain.PromptVersion) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO prompt_versions (id, prompt_id, version, body, injected_patterns, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, v.ID, v.PromptID, v.Version, v.Body, pq.Array(v.InjectedPatterns), v.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert prompt version: %w", err)
	}
	return nil
}

// NextVersionNumber returns max(version)+1 for a prompt.
func (r *PromptRepo) NextVersionNumber(ctx context.Context, promptID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM prompt_versions WHERE prompt_id = $1`,
		promptID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next prompt version: %w", err)
	}
	return n, nil
}

// ActiveVersion returns the single active version for a prompt.
func (r *PromptRepo) ActiveVersion(ctx context.Context, promptID string) (*domain.PromptVersion, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, prompt_id, version, body, injected_patterns, status, created_at
		FROM prompt_versions WHERE prompt_id = $1 AND status = 'active'
		ORDER BY version DESC LIMIT 1
	`, promptID)
	return scanPromptVersion(row)
}

// GetVersion loads one version by id.
func (r *PromptRepo) GetVersion(ctx context.Context, id string) (*domain.PromptVersion, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, prompt_id, version, body, injected_patterns, status, created_at
		FROM prompt_versions WHERE id = $1
	`, id)
	return scanPromptVersion(row)
}

func scanPromptVersion(row interface{ Scan(...any) error }) (*domain.PromptVersion, error) {
	v := &domain.PromptVersion{}
	err := row.Scan(&v.ID, &v.PromptID, &v.Version, &v.Body,
		pq.Array(&v.InjectedPatterns), &v.Status, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan prompt version: %w", err)
	}
	return v, nil
}

// ActivateVersion promotes one version to active and deprecates the
// previous active version in the same transaction.
func (r *PromptRepo) ActivateVersion(ctx context.Context, promptID, versionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("activate prompt version: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE prompt_versions SET status = 'deprecated' WHERE prompt_id = $1 AND status = 'active'`,
		promptID); err != nil {
		return fmt.Errorf("activate prompt version: deprecate current: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE prompt_versions SET status = 'active' WHERE id = $1 AND prompt_id = $2`,
		versionID, promptID)
	if err != nil {
		return fmt.Errorf("activate prompt version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// DeprecateVersion marks one non-active version deprecated, used for A/B
// losers. The active version is only replaced through ActivateVersion.
func (r *PromptRepo) DeprecateVersion(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE prompt_versions SET status = 'deprecated' WHERE id = $1 AND status <> 'active'`,
		id)
	if err != nil {
		return fmt.Errorf("deprecate prompt version: %w", err)
	}
	return nil
}

// InsertABTest starts a new test. At most one running test per prompt is
// enforced by a partial unique index; a second surfaces as ErrConflict.
func (r *PromptRepo) InsertABTest(ctx context.Context, t *domain.PromptABTest) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO prompt_ab_tests (
			id, tenant_id, prompt_id, control_version_id, variant_version_id,
			split_percent, min_sample_per_variant, max_runtime_days, status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`, t.ID, t.TenantID, t.PromptID, t.ControlVersionID, t.VariantVersionID,
		t.SplitPercent, t.MinSamplePerVariant, t.MaxRuntimeDays, t.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert ab test: %w", err)
	}
	return nil
}

// RunningABTest returns the running test for a prompt, or ErrNotFound.
func (r *PromptRepo) RunningABTest(ctx context.Context, tenantID, promptID string) (*domain.PromptABTest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, prompt_id, control_version_id, variant_version_id,
		       split_percent, min_sample_per_variant, max_runtime_days, status,
		       winner_version_id, started_at, concluded_at
		FROM prompt_ab_tests
		WHERE tenant_id = $1 AND prompt_id = $2 AND status = 'running'
	`, tenantID, promptID)
	return scanABTest(row)
}

// ListRunningABTests returns every running test for a tenant.
func (r *PromptRepo) ListRunningABTests(ctx context.Context, tenantID string) ([]domain.PromptABTest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, prompt_id, control_version_id, variant_version_id,
		       split_percent, min_sample_per_variant, max_runtime_days, status,
		       winner_version_id, started_at, concluded_at
		FROM prompt_ab_tests WHERE tenant_id = $1 AND status = 'running'
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list running ab tests: %w", err)
	}
	defer rows.Close()

	var out []domain.PromptABTest
	for rows.Next() {
		t, err := scanABTest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanABTest(row interface{ Scan(...any) error }) (*domain.PromptABTest, error) {
	t := &domain.PromptABTest{}
	err := row.Scan(&t.ID, &t.TenantID, &t.PromptID, &t.ControlVersionID, &t.VariantVersionID,
		&t.SplitPercent, &t.MinSamplePerVariant, &t.MaxRuntimeDays, &t.Status,
		&t.WinnerVersionID, &t.StartedAt, &t.ConcludedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ab test: %w", err)
	}
	return t, nil
}

// ConcludeABTest records the outcome. A nil winner marks the test
// inconclusive.
func (r *PromptRepo) ConcludeABTest(ctx context.Context, id string, winnerVersionID *string) error {
	status := domain.ABTestConcluded
	if winnerVersionID == nil {
		status = domain.ABTestInconclusive
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE prompt_ab_tests SET status = $2, winner_version_id = $3, concluded_at = NOW()
		WHERE id = $1
	`, id, status, winnerVersionID)
	if err != nil {
		return fmt.Errorf("conclude ab test: %w", err)
	}
	return nil
}

// VariantRates returns the sends and positive-reply count attributed to one
// prompt version via outreach strategy snapshots.
func (r *PromptRepo) VariantRates(ctx context.Context, tenantID, versionID string) (sent, positives int, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT o.id),
		       COUNT(DISTINCT o.id) FILTER (WHERE e.event_type = 'positive_reply')
		FROM outreach_events o
		LEFT JOIN engagement_events e ON e.outreach_event_id = o.id
		WHERE o.tenant_id = $1 AND o.strategy_snapshot ->> 'prompt_version_id' = $2
	`, tenantID, versionID).Scan(&sent, &positives)
	if err != nil {
		return 0, 0, fmt.Errorf("variant rates: %w", err)
	}
	return sent, positives, nil
}
