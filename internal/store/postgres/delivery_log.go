package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/znz-systems/courier/internal/models"
)

// DeliveryLogStore reads the append-only delivery log. Rows are only ever
// written by EmailQueueStore when a queued email reaches a terminal state.
type DeliveryLogStore struct {
	db *sql.DB
}

func NewDeliveryLogStore(db *sql.DB) *DeliveryLogStore {
	return &DeliveryLogStore{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertDeliveryLogEntry(ctx context.Context, db execer, entry models.DeliveryLogEntry) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO email_delivery_log
		 (queued_email_id, template_id, user_id, campaign_id, recipient_email, subject, status, error_message, attempts, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.QueuedEmailID, entry.TemplateID, entry.RecipientID, entry.CampaignID,
		entry.RecipientAddress, entry.Subject, string(entry.Status), entry.ErrorMessage,
		entry.Attempts, entry.SentAt,
	)
	return err
}

func (s *DeliveryLogStore) ListDeliveryLog(ctx context.Context, query models.DeliveryLogQuery) ([]models.DeliveryLogEntryView, int, error) {
	limit, offset := clampPage(query.Limit, query.Offset)

	var (
		conds []string
		args  []interface{}
	)
	if query.Status != nil {
		args = append(args, string(*query.Status))
		conds = append(conds, "edl.status = $"+itoa(len(args)))
	}
	if query.TemplateID != nil {
		args = append(args, *query.TemplateID)
		conds = append(conds, "edl.template_id = $"+itoa(len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM email_delivery_log edl`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT edl.id, edl.queued_email_id, edl.template_id, edl.user_id, edl.campaign_id, edl.recipient_email, edl.subject, edl.status, edl.error_message, edl.attempts, edl.sent_at,
		 COALESCE(TRIM(u.first_name || ' ' || u.last_name), ''), COALESCE(ewt.name, '')
		 FROM email_delivery_log edl
		 LEFT JOIN users u ON u.id = edl.user_id
		 LEFT JOIN email_workflow_templates ewt ON ewt.id = edl.template_id`+where+`
		 ORDER BY edl.sent_at DESC, edl.id DESC
		 LIMIT $`+itoa(len(args)-1)+` OFFSET $`+itoa(len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []models.DeliveryLogEntryView
	for rows.Next() {
		var (
			v          models.DeliveryLogEntryView
			templateID sql.NullInt64
			campaignID sql.NullInt64
			errMsg     sql.NullString
			status     string
		)
		if err := rows.Scan(
			&v.ID, &v.QueuedEmailID, &templateID, &v.RecipientID, &campaignID,
			&v.RecipientAddress, &v.Subject, &status, &errMsg, &v.Attempts, &v.SentAt,
			&v.RecipientName, &v.TemplateName,
		); err != nil {
			return nil, 0, err
		}
		v.Status = models.LogStatus(status)
		v.TemplateID = nullInt64Ptr(templateID)
		v.CampaignID = nullInt64Ptr(campaignID)
		if errMsg.Valid {
			msg := errMsg.String
			v.ErrorMessage = &msg
		}
		entries = append(entries, v)
	}
	return entries, total, rows.Err()
}

func (s *DeliveryLogStore) CountDeliveryLogByStatus(ctx context.Context, since time.Time) ([]models.LogStatusCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*)
		 FROM email_delivery_log
		 WHERE sent_at >= $1
		 GROUP BY status
		 ORDER BY status`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.LogStatusCount
	for rows.Next() {
		var (
			c      models.LogStatusCount
			status string
		)
		if err := rows.Scan(&status, &c.Count); err != nil {
			return nil, err
		}
		c.Status = models.LogStatus(status)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (s *DeliveryLogStore) DailyDeliveryVolume(ctx context.Context, since time.Time) ([]models.DailyVolume, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date_trunc('day', sent_at) AS day,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'sent'),
		        COUNT(*) FILTER (WHERE status = 'failed')
		 FROM email_delivery_log
		 WHERE sent_at >= $1
		 GROUP BY day
		 ORDER BY day`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []models.DailyVolume
	for rows.Next() {
		var d models.DailyVolume
		if err := rows.Scan(&d.Date, &d.Total, &d.Successful, &d.Failed); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

func (s *DeliveryLogStore) TemplatePerformance(ctx context.Context, since time.Time, limit int) ([]models.TemplatePerformance, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ewt.id, ewt.name,
		        COUNT(edl.id) AS total,
		        COUNT(edl.id) FILTER (WHERE edl.status = 'sent') AS successful
		 FROM email_delivery_log edl
		 JOIN email_workflow_templates ewt ON ewt.id = edl.template_id
		 WHERE edl.sent_at >= $1
		 GROUP BY ewt.id, ewt.name
		 ORDER BY total DESC, ewt.id ASC
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perf []models.TemplatePerformance
	for rows.Next() {
		var p models.TemplatePerformance
		if err := rows.Scan(&p.TemplateID, &p.TemplateName, &p.Total, &p.Successful); err != nil {
			return nil, err
		}
		perf = append(perf, p)
	}
	return perf, rows.Err()
}
