package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/znz-systems/courier/internal/models"
)

const campaignColumns = `id, public_id, name, template_id, subject, body, total_recipients, queued_count, sent_count, failed_count, created_by, created_at, updated_at`

type CampaignStore struct {
	db *sql.DB
}

func NewCampaignStore(db *sql.DB) *CampaignStore {
	return &CampaignStore{db: db}
}

func scanCampaign(row rowScanner) (*models.BulkCampaign, error) {
	var (
		c          models.BulkCampaign
		templateID sql.NullInt64
	)
	err := row.Scan(
		&c.ID, &c.PublicID, &c.Name, &templateID, &c.Subject, &c.Body,
		&c.TotalRecipients, &c.QueuedCount, &c.SentCount, &c.FailedCount,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.TemplateID = nullInt64Ptr(templateID)
	return &c, nil
}

func (s *CampaignStore) CreateCampaign(ctx context.Context, params models.BulkCampaignCreateParams) (*models.BulkCampaign, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO bulk_email_campaigns (public_id, name, template_id, subject, body, total_recipients, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+campaignColumns,
		uuid.New(), params.Name, params.TemplateID, params.Subject, params.Body,
		params.TotalRecipients, params.CreatedBy,
	)
	return scanCampaign(row)
}

func (s *CampaignStore) GetCampaignByID(ctx context.Context, id int64) (*models.BulkCampaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM bulk_email_campaigns WHERE id = $1`, id)
	return scanCampaign(row)
}

func (s *CampaignStore) ListCampaigns(ctx context.Context, limit, offset int) ([]models.BulkCampaign, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignColumns+`
		 FROM bulk_email_campaigns
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []models.BulkCampaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

func (s *CampaignStore) SetCampaignQueuedCount(ctx context.Context, id int64, queued int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bulk_email_campaigns SET queued_count = $2, updated_at = NOW() WHERE id = $1`,
		id, queued,
	)
	return err
}
