package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/brightline/outreach-engine/internal/domain"
)

// LearningRepo persists element performance aggregates, learned patterns,
// and baseline metrics.
type LearningRepo struct{ db *sql.DB }

// ElementStats is one row of the raw aggregate the refresh computes.
type ElementStats struct {
	ElementTypeID   string
	TimesUsed       int
	Opens           int
	Replies         int
	PositiveReplies int
	Bounces         int
	Unsubscribes    int
}

// AggregateElementStats computes per-element engagement counts over the
// window for a tenant. One outreach counts once per element tag; each
// engagement kind counts once per outreach.
func (r *LearningRepo) AggregateElementStats(ctx context.Context, tenantID string, since time.Time) ([]ElementStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.element_type_id,
		       COUNT(DISTINCT o.id) AS times_used,
		       COUNT(DISTINCT o.id) FILTER (WHERE e.event_type = 'open') AS opens,
		       COUNT(DISTINCT o.id) FILTER (WHERE e.event_type IN ('reply','positive_reply')) AS replies,
		       COUNT(DISTINCT o.id) FILTER (WHERE e.event_type = 'positive_reply') AS positive_replies,
		       COUNT(DISTINCT o.id) FILTER (WHERE e.event_type = 'bounce') AS bounces,
		       COUNT(DISTINCT o.id) FILTER (WHERE e.event_type = 'unsubscribe') AS unsubscribes
		FROM outreach_events o
		JOIN outreach_element_tags t ON t.outreach_event_id = o.id
		LEFT JOIN engagement_events e ON e.outreach_event_id = o.id
		WHERE o.tenant_id = $1 AND o.sent_at >= $2
		GROUP BY t.element_type_id
	`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("aggregate element stats: %w", err)
	}
	defer rows.Close()

	var out []ElementStats
	for rows.Next() {
		var s ElementStats
		if err := rows.Scan(&s.ElementTypeID, &s.TimesUsed, &s.Opens, &s.Replies,
			&s.PositiveReplies, &s.Bounces, &s.Unsubscribes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PairStats is the engagement aggregate for two elements used in the same
// email, the raw material for combination-pattern discovery.
type PairStats struct {
	ElementTypeA string
	ElementTypeB string
	TimesUsed    int
	Replies      int
}

// AggregatePairStats computes reply counts per unordered element pair over
// the window. The id ordering in the self-join keeps each pair counted once.
func (r *LearningRepo) AggregatePairStats(ctx context.Context, tenantID string, since time.Time) ([]PairStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.element_type_id, b.element_type_id,
		       COUNT(DISTINCT o.id) AS times_used,
		       COUNT(DISTINCT o.id) FILTER (WHERE e.event_type IN ('reply','positive_reply')) AS replies
		FROM outreach_events o
		JOIN outreach_element_tags a ON a.outreach_event_id = o.id
		JOIN outreach_element_tags b ON b.outreach_event_id = o.id
		     AND a.element_type_id < b.element_type_id
		LEFT JOIN engagement_events e ON e.outreach_event_id = o.id
		WHERE o.tenant_id = $1 AND o.sent_at >= $2
		GROUP BY a.element_type_id, b.element_type_id
	`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("aggregate pair stats: %w", err)
	}
	defer rows.Close()

	var out []PairStats
	for rows.Next() {
		var s PairStats
		if err := rows.Scan(&s.ElementTypeA, &s.ElementTypeB, &s.TimesUsed, &s.Replies); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertElementPerformance writes one refreshed aggregate row.
func (r *LearningRepo) UpsertElementPerformance(ctx context.Context, p *domain.ElementPerformance) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO element_performance (
			id, tenant_id, element_type_id, scope, times_used,
			open_rate, reply_rate, positive_reply_rate, bounce_rate, unsubscribe_rate,
			confidence, period_start, period_end, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (tenant_id, element_type_id, scope) DO UPDATE SET
			times_used = EXCLUDED.times_used,
			open_rate = EXCLUDED.open_rate,
			reply_rate = EXCLUDED.reply_rate,
			positive_reply_rate = EXCLUDED.positive_reply_rate,
			bounce_rate = EXCLUDED.bounce_rate,
			unsubscribe_rate = EXCLUDED.unsubscribe_rate,
			confidence = EXCLUDED.confidence,
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			updated_at = NOW()
	`, p.ID, p.TenantID, p.ElementTypeID, p.Scope, p.TimesUsed,
		p.OpenRate, p.ReplyRate, p.PositiveReplyRate, p.BounceRate, p.UnsubscribeRate,
		p.Confidence, p.PeriodStart, p.PeriodEnd)
	if err != nil {
		return fmt.Errorf("upsert element performance: %w", err)
	}
	return nil
}

// ListElementPerformance returns the current aggregates for a tenant.
func (r *LearningRepo) ListElementPerformance(ctx context.Context, tenantID string) ([]domain.ElementPerformance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, element_type_id, scope, times_used,
		       open_rate, reply_rate, positive_reply_rate, bounce_rate, unsubscribe_rate,
		       confidence, period_start, period_end, updated_at
		FROM element_performance WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list element performance: %w", err)
	}
	defer rows.Close()

	var out []domain.ElementPerformance
	for rows.Next() {
		var p domain.ElementPerformance
		if err := rows.Scan(&p.ID, &p.TenantID, &p.ElementTypeID, &p.Scope, &p.TimesUsed,
			&p.OpenRate, &p.ReplyRate, &p.PositiveReplyRate, &p.BounceRate, &p.UnsubscribeRate,
			&p.Confidence, &p.PeriodStart, &p.PeriodEnd, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPattern inserts a pattern or refreshes its observed stats. The
// natural key is (tenant_id, name).
func (r *LearningRepo) UpsertPattern(ctx context.Context, p *domain.LearnedPattern) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO learned_patterns (
			id, tenant_id, name, element_types, scope, status,
			sample_size, reply_rate, lift, confidence, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (tenant_id, name) DO UPDATE SET
			sample_size = EXCLUDED.sample_size,
			reply_rate = EXCLUDED.reply_rate,
			lift = EXCLUDED.lift,
			confidence = EXCLUDED.confidence,
			updated_at = NOW()
		RETURNING id, status
	`, p.ID, p.TenantID, p.Name, pq.Array(p.ElementTypes), p.Scope, p.Status,
		p.SampleSize, p.ReplyRate, p.Lift, p.Confidence).Scan(&p.ID, &p.Status)
	if err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	return nil
}

// ListPatterns returns a tenant's patterns, optionally filtered by status.
func (r *LearningRepo) ListPatterns(ctx context.Context, tenantID string, statuses ...domain.PatternStatus) ([]domain.LearnedPattern, error) {
	q := `
		SELECT id, tenant_id, name, element_types, scope, status,
		       sample_size, reply_rate, lift, confidence, created_at, updated_at
		FROM learned_patterns WHERE tenant_id = $1`
	args := []any{tenantID}
	if len(statuses) > 0 {
		ss := make([]string, len(statuses))
		for i, s := range statuses {
			ss[i] = string(s)
		}
		q += ` AND status = ANY($2)`
		args = append(args, pq.Array(ss))
	}
	q += ` ORDER BY lift DESC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []domain.LearnedPattern
	for rows.Next() {
		var p domain.LearnedPattern
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, pq.Array(&p.ElementTypes), &p.Scope, &p.Status,
			&p.SampleSize, &p.ReplyRate, &p.Lift, &p.Confidence, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetPatternStatus transitions a pattern's lifecycle state.
func (r *LearningRepo) SetPatternStatus(ctx context.Context, tenantID, id string, status domain.PatternStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE learned_patterns SET status = $3, updated_at = NOW() WHERE id = $1 AND tenant_id = $2`,
		id, tenantID, status)
	if err != nil {
		return fmt.Errorf("set pattern status: %w", err)
	}
	return nil
}

// TenantRates is the tenant-wide engagement summary used for baselines.
type TenantRates struct {
	Sent              int
	OpenRate          float64
	ReplyRate         float64
	PositiveReplyRate float64
}

// TenantWideRates computes rates over all outreach in the window.
func (r *LearningRepo) TenantWideRates(ctx context.Context, tenantID string, since time.Time) (*TenantRates, error) {
	tr := &TenantRates{}
	var opens, replies, positives int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT o.id),
		       COUNT(DISTINCT o.id) FILTER (WHERE e.event_type = 'open'),
		       COUNT(DISTINCT o.id) FILTER (WHERE e.event_type IN ('reply','positive_reply')),
		       COUNT(DISTINCT o.id) FILTER (WHERE e.event_type = 'positive_reply')
		FROM outreach_events o
		LEFT JOIN engagement_events e ON e.outreach_event_id = o.id
		WHERE o.tenant_id = $1 AND o.sent_at >= $2
	`, tenantID, since).Scan(&tr.Sent, &opens, &replies, &positives)
	if err != nil {
		return nil, fmt.Errorf("tenant-wide rates: %w", err)
	}
	if tr.Sent > 0 {
		tr.OpenRate = float64(opens) / float64(tr.Sent)
		tr.ReplyRate = float64(replies) / float64(tr.Sent)
		tr.PositiveReplyRate = float64(positives) / float64(tr.Sent)
	}
	return tr, nil
}

// UpsertBaseline writes one baseline metric. Conflict target is
// (tenant_id, metric_type, scope, period).
func (r *LearningRepo) UpsertBaseline(ctx context.Context, b *domain.BaselineMetric) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO baseline_metrics (id, tenant_id, metric_type, scope, period, value, sample_size, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (tenant_id, metric_type, scope, period) DO UPDATE SET
			value = EXCLUDED.value,
			sample_size = EXCLUDED.sample_size,
			updated_at = NOW()
	`, b.ID, b.TenantID, b.MetricType, b.Scope, b.Period, b.Value, b.SampleSize)
	if err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}

// GetBaseline loads one baseline metric.
func (r *LearningRepo) GetBaseline(ctx context.Context, tenantID, metricType, scope, period string) (*domain.BaselineMetric, error) {
	b := &domain.BaselineMetric{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, metric_type, scope, period, value, sample_size, updated_at
		FROM baseline_metrics
		WHERE tenant_id = $1 AND metric_type = $2 AND scope = $3 AND period = $4
	`, tenantID, metricType, scope, period).Scan(
		&b.ID, &b.TenantID, &b.MetricType, &b.Scope, &b.Period, &b.Value, &b.SampleSize, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get baseline: %w", err)
	}
	return b, nil
}
