package store

import (
	"context"
	"fmt"
)

// ExternalSystems returns the names of external systems (email provider,
// linkedin provider, crm) that already hold a record for this person, by
// exact email or normalized-company prefix match. companyPrefix is the
// caller-normalized company name; empty skips the company clause.
func (r *LeadRepo) ExternalSystems(ctx context.Context, tenantID, email, companyPrefix string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT system FROM external_system_records
		WHERE tenant_id = $1
		  AND (LOWER(email) = LOWER($2)
		       OR ($3 <> '' AND company_norm LIKE $3 || '%'))
	`, tenantID, email, companyPrefix)
	if err != nil {
		return nil, fmt.Errorf("external systems: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
