// Package queue accepts email submissions and turns them into pending rows
// of the delivery queue. It never delivers anything itself.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/znz-systems/courier/internal/mail"
	"github.com/znz-systems/courier/internal/models"
	"github.com/znz-systems/courier/internal/personalize"
	"github.com/znz-systems/courier/internal/store"
)

// RecipientProvider resolves a recipient and their personalization data.
type RecipientProvider interface {
	GetRecipient(ctx context.Context, id int64) (*models.Recipient, error)
}

// TemplateProvider resolves an active template.
type TemplateProvider interface {
	GetActiveTemplate(ctx context.Context, id int64) (*models.EmailTemplate, error)
}

// EnqueueRequest describes one email to queue. Either TemplateID or both
// Subject and Body must be set; a non-empty Subject or Body overrides the
// template's.
type EnqueueRequest struct {
	TemplateID  *int64
	RecipientID int64
	Subject     string
	Body        string
	Schedule    Schedule
	CampaignID  *int64
}

// Manager creates, schedules and cancels queued emails.
type Manager struct {
	queue      store.QueueStore
	templates  TemplateProvider
	recipients RecipientProvider
	renderer   personalize.Renderer
	company    personalize.Company
	now        func() time.Time
}

// NewManager creates a Manager. A nil renderer selects the placeholder
// renderer.
func NewManager(queue store.QueueStore, templates TemplateProvider, recipients RecipientProvider, renderer personalize.Renderer, company personalize.Company) *Manager {
	if renderer == nil {
		renderer = personalize.PlaceholderRenderer{}
	}
	return &Manager{
		queue:      queue,
		templates:  templates,
		recipients: recipients,
		renderer:   renderer,
		company:    company,
		now:        time.Now,
	}
}

// Enqueue renders req for its recipient and stores it as a pending row.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (*models.QueuedEmail, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	now := m.now()
	scheduledAt, err := req.Schedule.Resolve(now)
	if err != nil {
		return nil, err
	}

	var tpl *models.EmailTemplate
	if req.TemplateID != nil {
		tpl, err = m.LookupTemplate(ctx, *req.TemplateID)
		if err != nil {
			return nil, err
		}
	}

	recipient, err := m.recipients.GetRecipient(ctx, req.RecipientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("looking up recipient: %w", err)
	}
	if strings.TrimSpace(recipient.Email) == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "recipient has no email address"}
	}

	subject, body := req.Subject, req.Body
	if tpl != nil {
		if subject == "" {
			subject = tpl.Subject
		}
		if body == "" {
			body = tpl.Body
		}
	}

	data := personalize.BuildDataBag(recipient, m.company, now)
	renderedSubject, err := m.renderer.Render(subject, data)
	if err != nil {
		return nil, &ValidationError{Field: "subject", Reason: err.Error()}
	}
	renderedBody, err := m.renderer.Render(body, data)
	if err != nil {
		return nil, &ValidationError{Field: "body", Reason: err.Error()}
	}

	email, err := m.queue.CreateQueuedEmail(ctx, models.QueuedEmailCreateParams{
		TemplateID:       req.TemplateID,
		RecipientID:      recipient.ID,
		CampaignID:       req.CampaignID,
		RecipientAddress: recipient.Email,
		Subject:          renderedSubject,
		Body:             renderedBody,
		ScheduledAt:      scheduledAt,
	})
	if err != nil {
		return nil, fmt.Errorf("creating queued email: %w", err)
	}

	slog.InfoContext(ctx, "email queued",
		"queued_email_id", email.ID,
		"recipient", mail.RedactAddress(email.RecipientAddress),
		"scheduled_at", email.ScheduledAt,
	)
	return email, nil
}

// Schedule is Enqueue with a mandatory absolute due time.
func (m *Manager) Schedule(ctx context.Context, req EnqueueRequest, at time.Time) (*models.QueuedEmail, error) {
	req.Schedule = At(at)
	return m.Enqueue(ctx, req)
}

// Cancel moves a pending row to cancelled. It returns false when the row
// does not exist or is no longer pending.
func (m *Manager) Cancel(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}
	ok, err := m.queue.CancelQueuedEmail(ctx, id)
	if err != nil {
		return false, fmt.Errorf("cancelling queued email: %w", err)
	}
	if ok {
		slog.InfoContext(ctx, "queued email cancelled", "queued_email_id", id)
	}
	return ok, nil
}

// Get returns a queued email by id.
func (m *Manager) Get(ctx context.Context, id int64) (*models.QueuedEmail, error) {
	e, err := m.queue.GetQueuedEmailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEmailNotFound
		}
		return nil, fmt.Errorf("getting queued email: %w", err)
	}
	return e, nil
}

// LookupTemplate resolves an active template, mapping a missing row to
// ErrTemplateNotFound.
func (m *Manager) LookupTemplate(ctx context.Context, id int64) (*models.EmailTemplate, error) {
	if id <= 0 {
		return nil, ErrTemplateNotFound
	}
	tpl, err := m.templates.GetActiveTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("looking up template: %w", err)
	}
	return tpl, nil
}

func validate(req EnqueueRequest) error {
	if req.RecipientID <= 0 {
		return &ValidationError{Field: "user_id", Reason: "is required"}
	}
	return ValidateContent(req.TemplateID, req.Subject, req.Body)
}

// ValidateContent checks that a template or a complete custom message is
// given.
func ValidateContent(templateID *int64, subject, body string) error {
	if templateID == nil && (strings.TrimSpace(subject) == "" || strings.TrimSpace(body) == "") {
		return &ValidationError{Field: "template_id", Reason: "template or custom subject and body required"}
	}
	return nil
}
