package postgres

import (
	"context"
	"database/sql"

	"github.com/znz-systems/courier/internal/models"
)

// TemplateStore reads email_workflow_templates. Template rows are managed by
// the admin application; this store never writes them.
type TemplateStore struct {
	db *sql.DB
}

func NewTemplateStore(db *sql.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

func (s *TemplateStore) GetActiveTemplate(ctx context.Context, id int64) (*models.EmailTemplate, error) {
	t := &models.EmailTemplate{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, subject, body_template, COALESCE(trigger_event, ''), is_active, created_at, updated_at
		 FROM email_workflow_templates
		 WHERE id = $1 AND is_active = TRUE`,
		id,
	).Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.TriggerEvent, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}
