package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxAttempts is the number of delivery attempts a queued email gets before
// it is marked failed.
const MaxAttempts = 3

// Status is the lifecycle state of a queued email.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every queue status in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusSent, StatusFailed, StatusCancelled}

// ParseStatus converts s into a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Terminal reports whether no further transitions can happen from s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// LogStatus is the outcome recorded in the delivery log.
type LogStatus string

const (
	LogSent   LogStatus = "sent"
	LogFailed LogStatus = "failed"
)

// EmailTemplate is a stored message template. The engine only reads it.
type EmailTemplate struct {
	ID           int64
	Name         string
	Subject      string
	Body         string
	TriggerEvent string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Recipient is the addressee of a queued email together with the data used
// to personalize it.
type Recipient struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Loan      *LoanDetails
}

// LoanDetails is the most relevant loan application of a recipient.
type LoanDetails struct {
	Amount          float64
	InterestRate    float64 // annual, percent
	TermMonths      int
	Status          string
	CurrentStep     int
	ApplicationDate time.Time
}

type QueuedEmail struct {
	ID               int64
	PublicID         uuid.UUID
	TemplateID       *int64
	RecipientID      int64
	CampaignID       *int64
	RecipientAddress string
	Subject          string
	Body             string
	Status           Status
	ScheduledAt      time.Time
	Attempts         int
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SentAt           *time.Time
}

type QueuedEmailCreateParams struct {
	TemplateID       *int64
	RecipientID      int64
	CampaignID       *int64
	RecipientAddress string
	Subject          string
	Body             string
	ScheduledAt      time.Time
}

// QueuedEmailView is a queue row joined with display names for the admin
// queue listing.
type QueuedEmailView struct {
	QueuedEmail
	RecipientName string
	TemplateName  string
	CampaignName  string
}

type QueueQuery struct {
	Status *Status
	Limit  int
	Offset int
}

type QueueStatusCount struct {
	Status      Status
	Count       int
	OldestEmail time.Time
}

type BulkCampaign struct {
	ID              int64
	PublicID        uuid.UUID
	Name            string
	TemplateID      *int64
	Subject         string
	Body            string
	TotalRecipients int
	QueuedCount     int
	SentCount       int
	FailedCount     int
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type BulkCampaignCreateParams struct {
	Name            string
	TemplateID      *int64
	Subject         string
	Body            string
	TotalRecipients int
	CreatedBy       string
}

type DeliveryLogEntry struct {
	ID               int64
	QueuedEmailID    int64
	TemplateID       *int64
	RecipientID      int64
	CampaignID       *int64
	RecipientAddress string
	Subject          string
	Status           LogStatus
	ErrorMessage     *string
	Attempts         int
	SentAt           time.Time
}

// DeliveryLogEntryView is a log row joined with display names.
type DeliveryLogEntryView struct {
	DeliveryLogEntry
	RecipientName string
	TemplateName  string
}

type DeliveryLogQuery struct {
	Status     *LogStatus
	TemplateID *int64
	Limit      int
	Offset     int
}

// NewDeliveryLogEntry builds the log record for the terminal outcome of e.
// attempts is the attempt count after the attempt being logged.
func NewDeliveryLogEntry(e *QueuedEmail, status LogStatus, errMsg string, attempts int, at time.Time) DeliveryLogEntry {
	entry := DeliveryLogEntry{
		QueuedEmailID:    e.ID,
		TemplateID:       e.TemplateID,
		RecipientID:      e.RecipientID,
		CampaignID:       e.CampaignID,
		RecipientAddress: e.RecipientAddress,
		Subject:          e.Subject,
		Status:           status,
		Attempts:         attempts,
		SentAt:           at,
	}
	if errMsg != "" {
		entry.ErrorMessage = &errMsg
	}
	return entry
}

type LogStatusCount struct {
	Status LogStatus
	Count  int
}

type DailyVolume struct {
	Date       time.Time
	Total      int
	Successful int
	Failed     int
}

type TemplatePerformance struct {
	TemplateID   int64
	TemplateName string
	Total        int
	Successful   int
	SuccessRate  float64
}
