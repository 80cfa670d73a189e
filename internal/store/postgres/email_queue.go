package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/courier/internal/models"
)

const queuedEmailColumns = `id, public_id, template_id, user_id, campaign_id, recipient_email, subject, body, status, scheduled_at, attempts, last_error, created_at, updated_at, sent_at`

type EmailQueueStore struct {
	db *sql.DB
}

func NewEmailQueueStore(db *sql.DB) *EmailQueueStore {
	return &EmailQueueStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueuedEmail(row rowScanner, dest ...interface{}) (*models.QueuedEmail, error) {
	var (
		e          models.QueuedEmail
		templateID sql.NullInt64
		campaignID sql.NullInt64
		status     string
		sentAt     sql.NullTime
	)
	fields := []interface{}{
		&e.ID, &e.PublicID, &templateID, &e.RecipientID, &campaignID,
		&e.RecipientAddress, &e.Subject, &e.Body, &status, &e.ScheduledAt,
		&e.Attempts, &e.LastError, &e.CreatedAt, &e.UpdatedAt, &sentAt,
	}
	if err := row.Scan(append(fields, dest...)...); err != nil {
		return nil, err
	}
	st, err := models.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("email_queue row %d: %w", e.ID, err)
	}
	e.Status = st
	e.TemplateID = nullInt64Ptr(templateID)
	e.CampaignID = nullInt64Ptr(campaignID)
	if sentAt.Valid {
		t := sentAt.Time
		e.SentAt = &t
	}
	return &e, nil
}

func (s *EmailQueueStore) CreateQueuedEmail(ctx context.Context, params models.QueuedEmailCreateParams) (*models.QueuedEmail, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO email_queue
		 (public_id, template_id, user_id, campaign_id, recipient_email, subject, body, scheduled_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
		 RETURNING `+queuedEmailColumns,
		uuid.New(), params.TemplateID, params.RecipientID, params.CampaignID,
		params.RecipientAddress, params.Subject, params.Body, params.ScheduledAt,
	)
	return scanQueuedEmail(row)
}

func (s *EmailQueueStore) GetQueuedEmailByID(ctx context.Context, id int64) (*models.QueuedEmail, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queuedEmailColumns+` FROM email_queue WHERE id = $1`, id)
	return scanQueuedEmail(row)
}

func (s *EmailQueueStore) ListDueQueuedEmails(ctx context.Context, now time.Time, limit int) ([]models.QueuedEmail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queuedEmailColumns+`
		 FROM email_queue
		 WHERE status = 'pending' AND scheduled_at <= $1
		 ORDER BY scheduled_at ASC, id ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []models.QueuedEmail
	for rows.Next() {
		e, err := scanQueuedEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, *e)
	}
	return emails, rows.Err()
}

func (s *EmailQueueStore) ClaimQueuedEmail(ctx context.Context, id int64, now time.Time) (*models.QueuedEmail, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE email_queue
		 SET status = 'processing',
		     updated_at = NOW()
		 WHERE id = $1 AND status = 'pending' AND scheduled_at <= $2
		 RETURNING `+queuedEmailColumns,
		id, now,
	)
	e, err := scanQueuedEmail(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *EmailQueueStore) MarkQueuedEmailSent(ctx context.Context, id int64, attempts int, sentAt time.Time, entry models.DeliveryLogEntry) error {
	return s.finalize(ctx, id, entry,
		`UPDATE email_queue
		 SET status = 'sent',
		     attempts = $2,
		     sent_at = $3,
		     last_error = '',
		     updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		`UPDATE bulk_email_campaigns SET sent_count = sent_count + 1, updated_at = NOW() WHERE id = $1`,
		id, attempts, sentAt,
	)
}

func (s *EmailQueueStore) MarkQueuedEmailRetry(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE email_queue
		 SET status = 'pending',
		     attempts = $2,
		     scheduled_at = $3,
		     last_error = $4,
		     updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		id, attempts, nextAttemptAt, lastError,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

func (s *EmailQueueStore) MarkQueuedEmailFailed(ctx context.Context, id int64, attempts int, lastError string, entry models.DeliveryLogEntry) error {
	return s.finalize(ctx, id, entry,
		`UPDATE email_queue
		 SET status = 'failed',
		     attempts = $2,
		     last_error = $3,
		     updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		`UPDATE bulk_email_campaigns SET failed_count = failed_count + 1, updated_at = NOW() WHERE id = $1`,
		id, attempts, lastError,
	)
}

// finalize runs the terminal row update, the log insert and the campaign
// counter bump in one transaction.
func (s *EmailQueueStore) finalize(ctx context.Context, id int64, entry models.DeliveryLogEntry, updateQuery, campaignQuery string, args ...interface{}) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, updateQuery, args...)
	if err != nil {
		return err
	}
	if err := expectOneRow(res, id); err != nil {
		return err
	}

	if err := insertDeliveryLogEntry(ctx, tx, entry); err != nil {
		return fmt.Errorf("append delivery log: %w", err)
	}

	if entry.CampaignID != nil {
		if _, err := tx.ExecContext(ctx, campaignQuery, *entry.CampaignID); err != nil {
			return fmt.Errorf("update campaign counters: %w", err)
		}
	}

	return tx.Commit()
}

func (s *EmailQueueStore) CancelQueuedEmail(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE email_queue
		 SET status = 'cancelled',
		     updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *EmailQueueStore) ListQueuedEmails(ctx context.Context, query models.QueueQuery) ([]models.QueuedEmailView, int, error) {
	limit, offset := clampPage(query.Limit, query.Offset)

	var (
		where string
		args  []interface{}
	)
	if query.Status != nil {
		args = append(args, string(*query.Status))
		where = " WHERE eq.status = $1"
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM email_queue eq`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT eq.id, eq.public_id, eq.template_id, eq.user_id, eq.campaign_id, eq.recipient_email, eq.subject, eq.body, eq.status, eq.scheduled_at, eq.attempts, eq.last_error, eq.created_at, eq.updated_at, eq.sent_at,
		 COALESCE(TRIM(u.first_name || ' ' || u.last_name), ''), COALESCE(ewt.name, ''), COALESCE(bec.name, '')
		 FROM email_queue eq
		 LEFT JOIN users u ON u.id = eq.user_id
		 LEFT JOIN email_workflow_templates ewt ON ewt.id = eq.template_id
		 LEFT JOIN bulk_email_campaigns bec ON bec.id = eq.campaign_id`)
	sb.WriteString(where)
	args = append(args, limit, offset)
	sb.WriteString(" ORDER BY eq.created_at DESC, eq.id DESC LIMIT $" + itoa(len(args)-1) + " OFFSET $" + itoa(len(args)))

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var views []models.QueuedEmailView
	for rows.Next() {
		var v models.QueuedEmailView
		e, err := scanQueuedEmail(rows, &v.RecipientName, &v.TemplateName, &v.CampaignName)
		if err != nil {
			return nil, 0, err
		}
		v.QueuedEmail = *e
		views = append(views, v)
	}
	return views, total, rows.Err()
}

func (s *EmailQueueStore) CountQueuedEmailsByStatus(ctx context.Context) ([]models.QueueStatusCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*), MIN(created_at)
		 FROM email_queue
		 GROUP BY status
		 ORDER BY status`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.QueueStatusCount
	for rows.Next() {
		var (
			c      models.QueueStatusCount
			status string
		)
		if err := rows.Scan(&status, &c.Count, &c.OldestEmail); err != nil {
			return nil, err
		}
		st, err := models.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		c.Status = st
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (s *EmailQueueStore) PurgeSentQueuedEmails(ctx context.Context, sentBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM email_queue WHERE status = 'sent' AND sent_at < $1`,
		sentBefore,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("email_queue row %d is not processing", id)
	}
	return nil
}
