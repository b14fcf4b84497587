package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/brightline/outreach-engine/internal/domain"
)

// TriggerRepo loads cross-channel trigger rules.
type TriggerRepo struct{ db *sql.DB }

// ListApplicable returns enabled triggers matching the source channel and
// event, tenant-scoped rows first then globals, in priority order.
func (r *TriggerRepo) ListApplicable(ctx context.Context, tenantID string, channel domain.Channel, event string) ([]domain.CrossChannelTrigger, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, source_channel, source_event, conditions, target_action, priority, enabled
		FROM cross_channel_triggers
		WHERE enabled
		  AND source_channel = $2
		  AND source_event = $3
		  AND (tenant_id = $1 OR tenant_id IS NULL)
		ORDER BY (tenant_id IS NULL), priority
	`, tenantID, channel, event)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var out []domain.CrossChannelTrigger
	for rows.Next() {
		var t domain.CrossChannelTrigger
		var conditions, action []byte
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.SourceChannel, &t.SourceEvent,
			&conditions, &action, &t.Priority, &t.Enabled); err != nil {
			return nil, err
		}
		if err := jsonScan(conditions, &t.Conditions); err != nil {
			return nil, fmt.Errorf("list triggers: conditions: %w", err)
		}
		if err := jsonScan(action, &t.TargetAction); err != nil {
			return nil, fmt.Errorf("list triggers: action: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
