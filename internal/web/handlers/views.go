package handlers

import (
	"time"

	"github.com/google/uuid"

	"github.com/znz-systems/courier/internal/analytics"
	"github.com/znz-systems/courier/internal/mail"
	"github.com/znz-systems/courier/internal/models"
)

type queuedEmailJSON struct {
	ID            int64      `json:"id"`
	PublicID      uuid.UUID  `json:"public_id"`
	TemplateID    *int64     `json:"template_id"`
	UserID        int64      `json:"user_id"`
	CampaignID    *int64     `json:"campaign_id"`
	Recipient     string     `json:"recipient_email"`
	Subject       string     `json:"subject"`
	Status        string     `json:"status"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	RecipientName string     `json:"recipient_name,omitempty"`
	TemplateName  string     `json:"template_name,omitempty"`
	CampaignName  string     `json:"campaign_name,omitempty"`
}

func toQueuedEmailJSON(e *models.QueuedEmail) queuedEmailJSON {
	return queuedEmailJSON{
		ID:          e.ID,
		PublicID:    e.PublicID,
		TemplateID:  e.TemplateID,
		UserID:      e.RecipientID,
		CampaignID:  e.CampaignID,
		Recipient:   e.RecipientAddress,
		Subject:     e.Subject,
		Status:      string(e.Status),
		ScheduledAt: e.ScheduledAt,
		Attempts:    e.Attempts,
		LastError:   e.LastError,
		CreatedAt:   e.CreatedAt,
		SentAt:      e.SentAt,
	}
}

func toQueueViewJSON(v models.QueuedEmailView) queuedEmailJSON {
	out := toQueuedEmailJSON(&v.QueuedEmail)
	out.RecipientName = v.RecipientName
	out.TemplateName = v.TemplateName
	out.CampaignName = v.CampaignName
	return out
}

type campaignJSON struct {
	ID              int64     `json:"id"`
	PublicID        uuid.UUID `json:"public_id"`
	Name            string    `json:"name"`
	TemplateID      *int64    `json:"template_id"`
	TotalRecipients int       `json:"total_recipients"`
	QueuedCount     int       `json:"queued_count"`
	SentCount       int       `json:"sent_count"`
	FailedCount     int       `json:"failed_count"`
	CreatedBy       string    `json:"created_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toCampaignJSON(c *models.BulkCampaign) campaignJSON {
	return campaignJSON{
		ID:              c.ID,
		PublicID:        c.PublicID,
		Name:            c.Name,
		TemplateID:      c.TemplateID,
		TotalRecipients: c.TotalRecipients,
		QueuedCount:     c.QueuedCount,
		SentCount:       c.SentCount,
		FailedCount:     c.FailedCount,
		CreatedBy:       c.CreatedBy,
		CreatedAt:       c.CreatedAt,
	}
}

type deliveryLogJSON struct {
	ID            int64     `json:"id"`
	QueuedEmailID int64     `json:"queued_email_id"`
	TemplateID    *int64    `json:"template_id"`
	UserID        int64     `json:"user_id"`
	CampaignID    *int64    `json:"campaign_id"`
	Recipient     string    `json:"recipient_email"`
	Subject       string    `json:"subject"`
	Status        string    `json:"status"`
	ErrorMessage  *string   `json:"error_message"`
	Attempts      int       `json:"attempts"`
	SentAt        time.Time `json:"sent_at"`
	RecipientName string    `json:"recipient_name,omitempty"`
	TemplateName  string    `json:"template_name,omitempty"`
}

func toDeliveryLogJSON(v models.DeliveryLogEntryView) deliveryLogJSON {
	return deliveryLogJSON{
		ID:            v.ID,
		QueuedEmailID: v.QueuedEmailID,
		TemplateID:    v.TemplateID,
		UserID:        v.RecipientID,
		CampaignID:    v.CampaignID,
		Recipient:     mail.RedactAddress(v.RecipientAddress),
		Subject:       v.Subject,
		Status:        string(v.Status),
		ErrorMessage:  v.ErrorMessage,
		Attempts:      v.Attempts,
		SentAt:        v.SentAt,
		RecipientName: v.RecipientName,
		TemplateName:  v.TemplateName,
	}
}

type analyticsJSON struct {
	Since               time.Time          `json:"since"`
	StatusStats         []statusCountJSON  `json:"status_stats"`
	DailyVolume         []dailyVolumeJSON  `json:"daily_volume"`
	TemplatePerformance []templatePerfJSON `json:"template_performance"`
	QueueStats          []queueStatJSON    `json:"queue_stats"`
}

type statusCountJSON struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type dailyVolumeJSON struct {
	Date       string `json:"date"`
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
}

type templatePerfJSON struct {
	TemplateID   int64   `json:"template_id"`
	TemplateName string  `json:"template_name"`
	Total        int     `json:"total_sent"`
	Successful   int     `json:"successful"`
	SuccessRate  float64 `json:"success_rate"`
}

type queueStatJSON struct {
	Status      string    `json:"status"`
	Count       int       `json:"count"`
	OldestEmail time.Time `json:"oldest_email"`
}

func toAnalyticsJSON(s *analytics.Summary) analyticsJSON {
	out := analyticsJSON{
		Since:               s.Since,
		StatusStats:         []statusCountJSON{},
		DailyVolume:         []dailyVolumeJSON{},
		TemplatePerformance: []templatePerfJSON{},
		QueueStats:          []queueStatJSON{},
	}
	for _, c := range s.StatusStats {
		out.StatusStats = append(out.StatusStats, statusCountJSON{Status: string(c.Status), Count: c.Count})
	}
	for _, d := range s.DailyVolume {
		out.DailyVolume = append(out.DailyVolume, dailyVolumeJSON{
			Date:       d.Date.Format("2006-01-02"),
			Total:      d.Total,
			Successful: d.Successful,
			Failed:     d.Failed,
		})
	}
	for _, p := range s.TemplatePerformance {
		out.TemplatePerformance = append(out.TemplatePerformance, templatePerfJSON(p))
	}
	for _, q := range s.QueueStats {
		out.QueueStats = append(out.QueueStats, queueStatJSON{Status: string(q.Status), Count: q.Count, OldestEmail: q.OldestEmail})
	}
	return out
}
