package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/brightline/outreach-engine/internal/domain"
)

// RAGRepo persists retrieval documents injected into generation prompts.
type RAGRepo struct{ db *sql.DB }

const ragColumns = `id, tenant_id, brand_id, type, title, content, pattern_id, deprecated, created_at, updated_at`

func scanRAGDoc(row interface{ Scan(...any) error }) (*domain.RAGDocument, error) {
	d := &domain.RAGDocument{}
	err := row.Scan(&d.ID, &d.TenantID, &d.BrandID, &d.Type, &d.Title, &d.Content,
		&d.PatternID, &d.Deprecated, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan rag document: %w", err)
	}
	return d, nil
}

// Insert stores a new document.
func (r *RAGRepo) Insert(ctx context.Context, d *domain.RAGDocument) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rag_documents (id, tenant_id, brand_id, type, title, content, pattern_id, deprecated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, NOW(), NOW())
	`, d.ID, d.TenantID, d.BrandID, d.Type, d.Title, d.Content, d.PatternID)
	if err != nil {
		return fmt.Errorf("insert rag document: %w", err)
	}
	return nil
}

// UpsertForPattern writes or refreshes the learned document keyed to a
// pattern id.
func (r *RAGRepo) UpsertForPattern(ctx context.Context, d *domain.RAGDocument) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rag_documents (id, tenant_id, brand_id, type, title, content, pattern_id, deprecated, created_at, updated_at)
		VALUES ($1, $2, $3, 'learned', $4, $5, $6, false, NOW(), NOW())
		ON CONFLICT (pattern_id) WHERE pattern_id IS NOT NULL DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			deprecated = false,
			updated_at = NOW()
	`, d.ID, d.TenantID, d.BrandID, d.Title, d.Content, d.PatternID)
	if err != nil {
		return fmt.Errorf("upsert rag document for pattern: %w", err)
	}
	return nil
}

// DeprecateForPattern marks the learned document for a retired pattern.
// Documents are never deleted so prompt history stays reconstructable.
func (r *RAGRepo) DeprecateForPattern(ctx context.Context, patternID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE rag_documents SET deprecated = true, updated_at = NOW() WHERE pattern_id = $1`,
		patternID)
	if err != nil {
		return fmt.Errorf("deprecate rag document: %w", err)
	}
	return nil
}

// ListForGeneration returns the non-deprecated documents visible to a
// tenant+brand: global fundamentals plus tenant rows, brand-scoped rows
// filtered to the brand.
func (r *RAGRepo) ListForGeneration(ctx context.Context, tenantID, brandID string) ([]domain.RAGDocument, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+ragColumns+` FROM rag_documents
		WHERE NOT deprecated
		  AND (tenant_id IS NULL OR tenant_id = $1)
		  AND (brand_id IS NULL OR brand_id = $2)
		ORDER BY type, created_at
	`, tenantID, brandID)
	if err != nil {
		return nil, fmt.Errorf("list rag documents: %w", err)
	}
	defer rows.Close()

	var out []domain.RAGDocument
	for rows.Next() {
		d, err := scanRAGDoc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
