package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/znz-systems/courier/internal/models"
	"github.com/znz-systems/courier/internal/personalize"
	"github.com/znz-systems/courier/internal/store/storetest"
)

var fixedNow = time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *storetest.Memory) {
	t.Helper()
	mem := storetest.NewMemory()
	mem.AddRecipient(1, "ann@example.com", "Ann", "Smith")
	mem.AddTemplate(10, "welcome", "Welcome {{first_name}}", "<p>Hi {{first_name}} from {{company_name}}</p>")

	m := NewManager(mem, mem, mem, nil, personalize.Company{Name: "LoanFlow"})
	m.now = func() time.Time { return fixedNow }
	return m, mem
}

func int64Ptr(v int64) *int64 { return &v }

func TestEnqueue_RendersTemplate(t *testing.T) {
	m, _ := newTestManager(t)

	email, err := m.Enqueue(context.Background(), EnqueueRequest{TemplateID: int64Ptr(10), RecipientID: 1})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if email.Subject != "Welcome Ann" {
		t.Errorf("subject = %q", email.Subject)
	}
	if email.Body != "<p>Hi Ann from LoanFlow</p>" {
		t.Errorf("body = %q", email.Body)
	}
	if email.Status != models.StatusPending || email.Attempts != 0 {
		t.Errorf("expected pending with 0 attempts, got %s/%d", email.Status, email.Attempts)
	}
	if !email.ScheduledAt.Equal(fixedNow) {
		t.Errorf("scheduled_at = %v, want %v", email.ScheduledAt, fixedNow)
	}
	if email.RecipientAddress != "ann@example.com" {
		t.Errorf("recipient = %q", email.RecipientAddress)
	}
}

func TestEnqueue_CustomSubjectBody(t *testing.T) {
	m, _ := newTestManager(t)

	email, err := m.Enqueue(context.Background(), EnqueueRequest{
		RecipientID: 1,
		Subject:     "Hi {{first_name}}",
		Body:        "Your code is {{unknown}}",
	})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if email.Subject != "Hi Ann" {
		t.Errorf("subject = %q, want %q", email.Subject, "Hi Ann")
	}
	if email.Body != "Your code is {{unknown}}" {
		t.Errorf("unknown placeholder should stay verbatim, got %q", email.Body)
	}
	if email.TemplateID != nil {
		t.Error("expected no template id")
	}
}

func TestEnqueue_CustomFieldOverridesTemplate(t *testing.T) {
	m, _ := newTestManager(t)

	email, err := m.Enqueue(context.Background(), EnqueueRequest{
		TemplateID:  int64Ptr(10),
		RecipientID: 1,
		Subject:     "Custom for {{first_name}}",
	})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if email.Subject != "Custom for Ann" {
		t.Errorf("subject = %q", email.Subject)
	}
	if email.Body != "<p>Hi Ann from LoanFlow</p>" {
		t.Errorf("expected template body, got %q", email.Body)
	}
}

func TestEnqueue_Validation(t *testing.T) {
	m, mem := newTestManager(t)

	tests := []struct {
		name string
		req  EnqueueRequest
	}{
		{"missing recipient", EnqueueRequest{Subject: "s", Body: "b"}},
		{"no template and no body", EnqueueRequest{RecipientID: 1, Subject: "s"}},
		{"no template and no subject", EnqueueRequest{RecipientID: 1, Body: "b"}},
		{"blank custom", EnqueueRequest{RecipientID: 1, Subject: "  ", Body: "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Enqueue(context.Background(), tt.req)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
	if len(mem.Emails) != 0 {
		t.Fatalf("expected no rows written, got %d", len(mem.Emails))
	}
}

func TestEnqueue_NotFound(t *testing.T) {
	m, mem := newTestManager(t)

	_, err := m.Enqueue(context.Background(), EnqueueRequest{TemplateID: int64Ptr(99), RecipientID: 1})
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}

	_, err = m.Enqueue(context.Background(), EnqueueRequest{TemplateID: int64Ptr(10), RecipientID: 42})
	if !errors.Is(err, ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}

	mem.Templates[10].IsActive = false
	_, err = m.Enqueue(context.Background(), EnqueueRequest{TemplateID: int64Ptr(10), RecipientID: 1})
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected inactive template to be not found, got %v", err)
	}

	if len(mem.Emails) != 0 {
		t.Fatalf("expected no rows written, got %d", len(mem.Emails))
	}
}

func TestEnqueue_StoreErrorWrapped(t *testing.T) {
	m, mem := newTestManager(t)
	cause := errors.New("connection reset")
	mem.Errs["CreateQueuedEmail"] = cause

	_, err := m.Enqueue(context.Background(), EnqueueRequest{TemplateID: int64Ptr(10), RecipientID: 1})
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if IsValidation(err) {
		t.Fatal("store error must not be a validation error")
	}
}

func TestEnqueue_DelayInHours(t *testing.T) {
	m, _ := newTestManager(t)

	email, err := m.Enqueue(context.Background(), EnqueueRequest{TemplateID: int64Ptr(10), RecipientID: 1, Schedule: After(1.5)})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	want := fixedNow.Add(90 * time.Minute)
	if !email.ScheduledAt.Equal(want) {
		t.Fatalf("scheduled_at = %v, want %v", email.ScheduledAt, want)
	}

	if _, err := m.Enqueue(context.Background(), EnqueueRequest{TemplateID: int64Ptr(10), RecipientID: 1, Schedule: After(-1)}); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule for negative delay, got %v", err)
	}
}

func TestSchedule_PastTimeRejected(t *testing.T) {
	m, mem := newTestManager(t)

	for _, at := range []time.Time{fixedNow.Add(-time.Minute), fixedNow} {
		_, err := m.Schedule(context.Background(), EnqueueRequest{TemplateID: int64Ptr(10), RecipientID: 1}, at)
		if !errors.Is(err, ErrInvalidSchedule) {
			t.Fatalf("Schedule(%v): expected ErrInvalidSchedule, got %v", at, err)
		}
		if !IsValidation(err) {
			t.Fatal("ErrInvalidSchedule should be a validation error")
		}
	}
	if len(mem.Emails) != 0 {
		t.Fatalf("expected store unchanged, got %d rows", len(mem.Emails))
	}
}

func TestSchedule_FutureTime(t *testing.T) {
	m, _ := newTestManager(t)
	at := fixedNow.Add(24 * time.Hour)

	email, err := m.Schedule(context.Background(), EnqueueRequest{TemplateID: int64Ptr(10), RecipientID: 1}, at)
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if !email.ScheduledAt.Equal(at) || email.Status != models.StatusPending {
		t.Fatalf("unexpected row: %+v", email)
	}
}

func TestCancel(t *testing.T) {
	m, mem := newTestManager(t)
	ctx := context.Background()

	pending, err := m.Enqueue(ctx, EnqueueRequest{TemplateID: int64Ptr(10), RecipientID: 1})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	ok, err := m.Cancel(ctx, pending.ID)
	if err != nil || !ok {
		t.Fatalf("expected cancel to succeed, got %v, %v", ok, err)
	}
	if mem.Email(pending.ID).Status != models.StatusCancelled {
		t.Fatal("expected row to be cancelled")
	}

	ok, _ = m.Cancel(ctx, pending.ID)
	if ok {
		t.Fatal("expected second cancel to return false")
	}

	for _, st := range []models.Status{models.StatusProcessing, models.StatusSent, models.StatusFailed} {
		id := mem.PutEmail(models.QueuedEmail{Status: st, RecipientID: 1})
		ok, err := m.Cancel(ctx, id)
		if err != nil || ok {
			t.Fatalf("cancel of %s row: got %v, %v", st, ok, err)
		}
		if mem.Email(id).Status != st {
			t.Fatalf("%s row changed to %s", st, mem.Email(id).Status)
		}
	}

	if ok, _ := m.Cancel(ctx, 999); ok {
		t.Fatal("expected false for unknown id")
	}
}

func TestScheduleResolve(t *testing.T) {
	var zero Schedule
	got, err := zero.Resolve(fixedNow)
	if err != nil || !got.Equal(fixedNow) {
		t.Fatalf("zero schedule: %v, %v", got, err)
	}
	if got, _ := After(0).Resolve(fixedNow); !got.Equal(fixedNow) {
		t.Fatalf("After(0) = %v", got)
	}
	if got, err := After(MaxDelayHours).Resolve(fixedNow); err != nil || !got.After(fixedNow) {
		t.Fatalf("After(MaxDelayHours) = %v, %v", got, err)
	}
	for _, hours := range []float64{MaxDelayHours + 1, 1e7, 1e300} {
		if _, err := After(hours).Resolve(fixedNow); !errors.Is(err, ErrInvalidSchedule) {
			t.Errorf("After(%g): expected ErrInvalidSchedule, got %v", hours, err)
		}
	}
}

func TestEnqueue_HugeDelayRejected(t *testing.T) {
	m, mem := newTestManager(t)
	_, err := m.Enqueue(context.Background(), EnqueueRequest{RecipientID: 1, Subject: "s", Body: "b", Schedule: After(1e7)})
	if !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
	if n := len(mem.Emails); n != 0 {
		t.Fatalf("expected no rows written, got %d", n)
	}
}
