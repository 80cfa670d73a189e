// Package campaign fans a single message out to many recipients as a bulk
// campaign.
package campaign

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/znz-systems/courier/internal/models"
	"github.com/znz-systems/courier/internal/queue"
	"github.com/znz-systems/courier/internal/store"
)

var ErrCampaignNotFound = errors.New("campaign not found")

// Enqueuer queues one email. *queue.Manager implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*models.QueuedEmail, error)
	LookupTemplate(ctx context.Context, id int64) (*models.EmailTemplate, error)
}

type CampaignRequest struct {
	Name         string
	TemplateID   *int64
	Subject      string
	Body         string
	RecipientIDs []int64
	CreatedBy    string
	Schedule     queue.Schedule
}

// SkippedRecipient is a recipient that could not be queued.
type SkippedRecipient struct {
	RecipientID int64  `json:"user_id"`
	Reason      string `json:"reason"`
}

type CampaignResult struct {
	Campaign       *models.BulkCampaign
	Queued         int
	Total          int
	QueuedEmailIDs []int64
	Skipped        []SkippedRecipient
}

type Service struct {
	campaigns store.CampaignStore
	enqueuer  Enqueuer
	now       func() time.Time
}

func NewService(campaigns store.CampaignStore, enqueuer Enqueuer) *Service {
	return &Service{
		campaigns: campaigns,
		enqueuer:  enqueuer,
		now:       time.Now,
	}
}

// CreateCampaign records a campaign and queues one email per recipient.
// Recipients that cannot be queued are skipped and reported; the campaign's
// queued count reflects only successful enqueues, including when a store
// failure aborts the loop part way.
func (s *Service) CreateCampaign(ctx context.Context, req CampaignRequest) (*CampaignResult, error) {
	if err := queue.ValidateContent(req.TemplateID, req.Subject, req.Body); err != nil {
		return nil, err
	}
	if len(req.RecipientIDs) == 0 {
		return nil, &queue.ValidationError{Field: "user_ids", Reason: "at least one recipient is required"}
	}
	if _, err := req.Schedule.Resolve(s.now()); err != nil {
		return nil, err
	}
	if req.TemplateID != nil {
		if _, err := s.enqueuer.LookupTemplate(ctx, *req.TemplateID); err != nil {
			return nil, err
		}
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Bulk Email - " + s.now().Format("2006-01-02 15:04:05")
	}

	c, err := s.campaigns.CreateCampaign(ctx, models.BulkCampaignCreateParams{
		Name:            name,
		TemplateID:      req.TemplateID,
		Subject:         req.Subject,
		Body:            req.Body,
		TotalRecipients: len(req.RecipientIDs),
		CreatedBy:       req.CreatedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("creating campaign: %w", err)
	}

	result := &CampaignResult{Campaign: c, Total: len(req.RecipientIDs)}
	for _, recipientID := range req.RecipientIDs {
		email, err := s.enqueuer.Enqueue(ctx, queue.EnqueueRequest{
			TemplateID:  req.TemplateID,
			RecipientID: recipientID,
			Subject:     req.Subject,
			Body:        req.Body,
			Schedule:    req.Schedule,
			CampaignID:  &c.ID,
		})
		if err != nil {
			if !skippable(err) {
				err = fmt.Errorf("queueing campaign %d recipient %d: %w", c.ID, recipientID, err)
				if cerr := s.campaigns.SetCampaignQueuedCount(context.WithoutCancel(ctx), c.ID, result.Queued); cerr != nil {
					err = errors.Join(err, fmt.Errorf("updating campaign %d queued count: %w", c.ID, cerr))
				}
				return nil, err
			}
			result.Skipped = append(result.Skipped, SkippedRecipient{RecipientID: recipientID, Reason: err.Error()})
			continue
		}
		result.Queued++
		result.QueuedEmailIDs = append(result.QueuedEmailIDs, email.ID)
	}

	if err := s.campaigns.SetCampaignQueuedCount(ctx, c.ID, result.Queued); err != nil {
		return nil, fmt.Errorf("updating campaign %d queued count: %w", c.ID, err)
	}
	c.QueuedCount = result.Queued

	slog.InfoContext(ctx, "bulk campaign queued",
		"campaign_id", c.ID,
		"queued", result.Queued,
		"total", result.Total,
		"skipped", len(result.Skipped),
	)
	return result, nil
}

func (s *Service) GetCampaign(ctx context.Context, id int64) (*models.BulkCampaign, error) {
	c, err := s.campaigns.GetCampaignByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, fmt.Errorf("getting campaign: %w", err)
	}
	return c, nil
}

func (s *Service) ListCampaigns(ctx context.Context, limit, offset int) ([]models.BulkCampaign, error) {
	campaigns, err := s.campaigns.ListCampaigns(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing campaigns: %w", err)
	}
	return campaigns, nil
}

// skippable reports whether a per-recipient enqueue failure should skip the
// recipient rather than abort the campaign.
func skippable(err error) bool {
	return errors.Is(err, queue.ErrRecipientNotFound) ||
		errors.Is(err, queue.ErrTemplateNotFound) ||
		queue.IsValidation(err)
}
