package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/outreach/internal/domain"
)

// TemplateRepo persists email templates. Templates are matched by name
// within a manager's scope.
type TemplateRepo struct {
	db *sql.DB
}

const templateColumns = `id, manager_id, name, subject, body_html, created_at, updated_at`

// GetByName returns the manager's template with the given name.
func (r *TemplateRepo) GetByName(ctx context.Context, managerID, name string) (*domain.EmailTemplate, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+` FROM email_templates
		WHERE manager_id = $1 AND name = $2`, managerID, name)
	var t domain.EmailTemplate
	err := row.Scan(&t.ID, &t.ManagerID, &t.Name, &t.Subject, &t.BodyHTML, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template %q: %w", name, err)
	}
	return &t, nil
}

// FindAny returns the first template matching any of the given names, in
// preference order.
func (r *TemplateRepo) FindAny(ctx context.Context, managerID string, names []string) (*domain.EmailTemplate, error) {
	for _, name := range names {
		t, err := r.GetByName(ctx, managerID, name)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, ErrNotFound
}

// Upsert creates or replaces a template by (manager, name).
func (r *TemplateRepo) Upsert(ctx context.Context, t *domain.EmailTemplate) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_templates (id, manager_id, name, subject, body_html, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
		ON CONFLICT (manager_id, name)
		DO UPDATE SET subject = EXCLUDED.subject, body_html = EXCLUDED.body_html, updated_at = now()`,
		t.ID, t.ManagerID, t.Name, t.Subject, t.BodyHTML)
	if err != nil {
		return fmt.Errorf("upsert template %q: %w", t.Name, err)
	}
	return nil
}
