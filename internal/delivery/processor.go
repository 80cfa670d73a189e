// Package delivery drains the email queue: it claims due rows, hands them to
// a mail transport and records the outcome.
package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/znz-systems/courier/internal/mail"
	"github.com/znz-systems/courier/internal/models"
	"github.com/znz-systems/courier/internal/store"
)

const (
	DefaultBatchSize      = 10
	DefaultRetryBaseDelay = 300 * time.Second
	DefaultSendTimeout    = 30 * time.Second
)

// Result is the outcome of one row in a batch.
type Result string

const (
	ResultSent    Result = "sent"
	ResultRetry   Result = "retry"
	ResultFailed  Result = "failed"
	ResultSkipped Result = "skipped"
)

type Outcome struct {
	QueuedEmailID int64      `json:"queued_email_id"`
	Recipient     string     `json:"recipient"`
	Result        Result     `json:"result"`
	Attempts      int        `json:"attempts"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	Detail        string     `json:"detail,omitempty"`
}

// BatchResult summarizes one ProcessBatch call. Processed counts sends that
// succeeded.
type BatchResult struct {
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Retried   int       `json:"retried"`
	Skipped   int       `json:"skipped"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Handled is the number of rows this batch claimed and finalized.
func (r *BatchResult) Handled() int {
	return r.Processed + r.Failed + r.Retried
}

type Options struct {
	SendTimeout    time.Duration
	RetryBaseDelay time.Duration
	// RatePerSecond caps transport calls; zero disables throttling.
	RatePerSecond float64
}

// Processor delivers queued emails through a mail.Transport.
type Processor struct {
	queue       store.QueueStore
	transport   mail.Transport
	throttle    *rate.Limiter
	sendTimeout time.Duration
	retryBase   time.Duration
	now         func() time.Time
}

func NewProcessor(queue store.QueueStore, transport mail.Transport, opts Options) *Processor {
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	retryBase := opts.RetryBaseDelay
	if retryBase <= 0 {
		retryBase = DefaultRetryBaseDelay
	}
	var throttle *rate.Limiter
	if opts.RatePerSecond > 0 {
		burst := int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		throttle = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return &Processor{
		queue:       queue,
		transport:   transport,
		throttle:    throttle,
		sendTimeout: timeout,
		retryBase:   retryBase,
		now:         time.Now,
	}
}

// ProcessBatch delivers up to limit due pending rows, oldest schedule first.
// With specificID only that row is considered, and only if it is due and
// pending. A store error aborts the batch: rows already finalized stay
// finalized and rows not yet claimed stay pending.
func (p *Processor) ProcessBatch(ctx context.Context, limit int, specificID *int64) (*BatchResult, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	result := &BatchResult{Outcomes: []Outcome{}}

	candidates, err := p.candidates(ctx, limit, specificID)
	if err != nil {
		return result, err
	}

	for _, c := range candidates {
		if p.throttle != nil {
			if err := p.throttle.Wait(ctx); err != nil {
				return result, err
			}
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		claimed, err := p.queue.ClaimQueuedEmail(ctx, c.ID, p.now())
		if err != nil {
			return result, fmt.Errorf("claim queued email %d: %w", c.ID, err)
		}
		if claimed == nil {
			result.Skipped++
			emailsProcessedCounter.WithLabelValues(string(ResultSkipped)).Inc()
			result.Outcomes = append(result.Outcomes, Outcome{
				QueuedEmailID: c.ID,
				Recipient:     mail.RedactAddress(c.RecipientAddress),
				Result:        ResultSkipped,
				Attempts:      c.Attempts,
				Detail:        "claimed by another processor",
			})
			continue
		}

		outcome, err := p.deliver(ctx, claimed)
		if err != nil {
			return result, err
		}
		emailsProcessedCounter.WithLabelValues(string(outcome.Result)).Inc()
		switch outcome.Result {
		case ResultSent:
			result.Processed++
		case ResultRetry:
			result.Retried++
		case ResultFailed:
			result.Failed++
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	if len(result.Outcomes) > 0 {
		slog.InfoContext(ctx, "email batch processed",
			"sent", result.Processed,
			"failed", result.Failed,
			"retried", result.Retried,
			"skipped", result.Skipped,
		)
	}
	return result, nil
}

func (p *Processor) candidates(ctx context.Context, limit int, specificID *int64) ([]models.QueuedEmail, error) {
	now := p.now()
	if specificID == nil {
		due, err := p.queue.ListDueQueuedEmails(ctx, now, limit)
		if err != nil {
			return nil, fmt.Errorf("list due emails: %w", err)
		}
		return due, nil
	}

	e, err := p.queue.GetQueuedEmailByID(ctx, *specificID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load queued email %d: %w", *specificID, err)
	}
	if e.Status != models.StatusPending || e.ScheduledAt.After(now) {
		return nil, nil
	}
	return []models.QueuedEmail{*e}, nil
}

var validate = validator.New()

// deliver sends a claimed row and finalizes it. Once claimed, the send and
// the finalizing writes run detached from ctx's cancellation, bounded only
// by the send timeout, so a shutdown neither strands the row in processing
// nor spends one of its attempts.
func (p *Processor) deliver(ctx context.Context, e *models.QueuedEmail) (Outcome, error) {
	outcome := Outcome{
		QueuedEmailID: e.ID,
		Recipient:     mail.RedactAddress(e.RecipientAddress),
	}

	sendErr := validateRow(e)
	if sendErr == nil {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.sendTimeout)
		start := time.Now()
		err := p.transport.Send(sendCtx, e.RecipientAddress, e.Subject, e.Body)
		cancel()
		label := "ok"
		if err != nil {
			label = "error"
		}
		sendDurationHist.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if err != nil && !IsPermanent(err) {
			err = &TransportError{Err: err}
		}
		sendErr = err
	}

	writeCtx := context.WithoutCancel(ctx)
	now := p.now()
	attempts := e.Attempts + 1
	outcome.Attempts = attempts

	if sendErr == nil {
		entry := models.NewDeliveryLogEntry(e, models.LogSent, "", attempts, now)
		if err := p.queue.MarkQueuedEmailSent(writeCtx, e.ID, attempts, now, entry); err != nil {
			return outcome, fmt.Errorf("mark queued email %d sent: %w", e.ID, err)
		}
		outcome.Result = ResultSent
		slog.InfoContext(ctx, "email sent", "queued_email_id", e.ID, "recipient", outcome.Recipient, "attempts", attempts)
		return outcome, nil
	}

	msg := sendErr.Error()
	outcome.Error = msg

	if IsPermanent(sendErr) || attempts >= models.MaxAttempts {
		entry := models.NewDeliveryLogEntry(e, models.LogFailed, msg, attempts, now)
		if err := p.queue.MarkQueuedEmailFailed(writeCtx, e.ID, attempts, msg, entry); err != nil {
			return outcome, fmt.Errorf("mark queued email %d failed: %w", e.ID, err)
		}
		outcome.Result = ResultFailed
		if IsPermanent(sendErr) {
			outcome.Detail = "not retryable"
		} else {
			outcome.Detail = "max attempts reached"
		}
		slog.WarnContext(ctx, "email delivery failed",
			"queued_email_id", e.ID,
			"recipient", outcome.Recipient,
			"attempts", attempts,
			"error", sendErr,
		)
		return outcome, nil
	}

	next := now.Add(p.retryBase * time.Duration(attempts))
	if err := p.queue.MarkQueuedEmailRetry(writeCtx, e.ID, attempts, next, msg); err != nil {
		return outcome, fmt.Errorf("mark queued email %d for retry: %w", e.ID, err)
	}
	outcome.Result = ResultRetry
	outcome.NextAttemptAt = &next
	slog.WarnContext(ctx, "email delivery failed, retry scheduled",
		"queued_email_id", e.ID,
		"recipient", outcome.Recipient,
		"attempts", attempts,
		"next_attempt_at", next,
		"error", sendErr,
	)
	return outcome, nil
}

// PurgeSent deletes sent rows older than retention. The delivery log is
// kept.
func (p *Processor) PurgeSent(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := p.queue.PurgeSentQueuedEmails(ctx, p.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purge sent emails: %w", err)
	}
	if n > 0 {
		purgedCounter.Add(float64(n))
		slog.InfoContext(ctx, "purged sent emails", "count", n, "retention", retention)
	}
	return n, nil
}

func validateRow(e *models.QueuedEmail) error {
	switch {
	case strings.TrimSpace(e.RecipientAddress) == "":
		return &PermanentError{Reason: "recipient address is empty"}
	case strings.TrimSpace(e.Subject) == "":
		return &PermanentError{Reason: "subject is empty"}
	case strings.TrimSpace(e.Body) == "":
		return &PermanentError{Reason: "body is empty"}
	}
	if err := validate.Var(e.RecipientAddress, "email"); err != nil {
		return &PermanentError{Reason: fmt.Sprintf("invalid recipient address %q", mail.RedactAddress(e.RecipientAddress))}
	}
	return nil
}
