package store

import (
	"context"
	"time"

	"github.com/znz-systems/courier/internal/models"
)

// QueueStore persists queued emails. State-changing methods are conditional
// on the row's current status so concurrent processors cannot both act on
// the same row.
type QueueStore interface {
	CreateQueuedEmail(ctx context.Context, params models.QueuedEmailCreateParams) (*models.QueuedEmail, error)
	GetQueuedEmailByID(ctx context.Context, id int64) (*models.QueuedEmail, error)
	ListDueQueuedEmails(ctx context.Context, now time.Time, limit int) ([]models.QueuedEmail, error)
	// ClaimQueuedEmail moves a due pending row to processing. It returns
	// nil, nil when the row was not pending or not yet due.
	ClaimQueuedEmail(ctx context.Context, id int64, now time.Time) (*models.QueuedEmail, error)
	// MarkQueuedEmailSent finalizes a processing row as sent and appends
	// entry to the delivery log in the same transaction.
	MarkQueuedEmailSent(ctx context.Context, id int64, attempts int, sentAt time.Time, entry models.DeliveryLogEntry) error
	MarkQueuedEmailRetry(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, lastError string) error
	// MarkQueuedEmailFailed finalizes a processing row as failed and appends
	// entry to the delivery log in the same transaction.
	MarkQueuedEmailFailed(ctx context.Context, id int64, attempts int, lastError string, entry models.DeliveryLogEntry) error
	CancelQueuedEmail(ctx context.Context, id int64) (bool, error)
	ListQueuedEmails(ctx context.Context, query models.QueueQuery) ([]models.QueuedEmailView, int, error)
	CountQueuedEmailsByStatus(ctx context.Context) ([]models.QueueStatusCount, error)
	PurgeSentQueuedEmails(ctx context.Context, sentBefore time.Time) (int64, error)
}

type CampaignStore interface {
	CreateCampaign(ctx context.Context, params models.BulkCampaignCreateParams) (*models.BulkCampaign, error)
	GetCampaignByID(ctx context.Context, id int64) (*models.BulkCampaign, error)
	ListCampaigns(ctx context.Context, limit, offset int) ([]models.BulkCampaign, error)
	SetCampaignQueuedCount(ctx context.Context, id int64, queued int) error
}

type DeliveryLogStore interface {
	ListDeliveryLog(ctx context.Context, query models.DeliveryLogQuery) ([]models.DeliveryLogEntryView, int, error)
	CountDeliveryLogByStatus(ctx context.Context, since time.Time) ([]models.LogStatusCount, error)
	DailyDeliveryVolume(ctx context.Context, since time.Time) ([]models.DailyVolume, error)
	TemplatePerformance(ctx context.Context, since time.Time, limit int) ([]models.TemplatePerformance, error)
}

type TemplateStore interface {
	GetActiveTemplate(ctx context.Context, id int64) (*models.EmailTemplate, error)
}

type RecipientStore interface {
	GetRecipient(ctx context.Context, id int64) (*models.Recipient, error)
}
