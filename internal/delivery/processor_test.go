package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/znz-systems/courier/internal/models"
	"github.com/znz-systems/courier/internal/store/storetest"
)

var t0 = time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)

type fakeTransport struct {
	mu    sync.Mutex
	sent  map[string]int
	calls int
	err   error
	block bool
	// onSend runs at the start of every Send.
	onSend func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(map[string]int)}
}

func (f *fakeTransport) Send(ctx context.Context, to, _, _ string) error {
	f.mu.Lock()
	f.calls++
	block, err, onSend := f.block, f.err, f.onSend
	f.mu.Unlock()

	if onSend != nil {
		onSend()
	}

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent[to]++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestProcessor(t *testing.T, opts Options) (*Processor, *storetest.Memory, *fakeTransport, *clock) {
	t.Helper()
	mem := storetest.NewMemory()
	tr := newFakeTransport()
	clk := &clock{now: t0}
	p := NewProcessor(mem, tr, opts)
	p.now = clk.Now
	return p, mem, tr, clk
}

func dueEmail(addr string, scheduledAt time.Time) models.QueuedEmail {
	return models.QueuedEmail{
		RecipientID:      1,
		RecipientAddress: addr,
		Subject:          "Hello",
		Body:             "<p>Body</p>",
		Status:           models.StatusPending,
		ScheduledAt:      scheduledAt,
		CreatedAt:        scheduledAt,
	}
}

func TestProcessBatch_Success(t *testing.T) {
	p, mem, tr, _ := newTestProcessor(t, Options{})
	id := mem.PutEmail(dueEmail("ann@example.com", t0.Add(-time.Minute)))

	res, err := p.ProcessBatch(context.Background(), 10, nil)
	if err != nil {
		t.Fatalf("ProcessBatch error: %v", err)
	}
	if res.Processed != 1 || res.Failed != 0 || res.Retried != 0 {
		t.Fatalf("unexpected counts: %+v", res)
	}

	e := mem.Email(id)
	if e.Status != models.StatusSent || e.Attempts != 1 {
		t.Fatalf("expected sent with 1 attempt, got %s/%d", e.Status, e.Attempts)
	}
	if e.SentAt == nil || !e.SentAt.Equal(t0) {
		t.Fatalf("unexpected sent_at %v", e.SentAt)
	}
	if tr.sent["ann@example.com"] != 1 {
		t.Fatalf("expected one send, got %d", tr.sent["ann@example.com"])
	}

	log := mem.LogFor(id)
	if len(log) != 1 || log[0].Status != models.LogSent || log[0].ErrorMessage != nil || log[0].Attempts != 1 {
		t.Fatalf("expected one sent log entry, got %+v", log)
	}
	if res.Outcomes[0].Recipient != "a***@example.com" {
		t.Fatalf("expected redacted recipient, got %q", res.Outcomes[0].Recipient)
	}
}

func TestProcessBatch_RetryBackoffThenFail(t *testing.T) {
	p, mem, tr, clk := newTestProcessor(t, Options{})
	tr.err = errors.New("connection refused")
	id := mem.PutEmail(dueEmail("ann@example.com", t0))
	ctx := context.Background()

	res, err := p.ProcessBatch(ctx, 10, nil)
	if err != nil {
		t.Fatalf("batch 1: %v", err)
	}
	e := mem.Email(id)
	if res.Retried != 1 || e.Status != models.StatusPending || e.Attempts != 1 {
		t.Fatalf("batch 1: expected pending retry with 1 attempt, got %s/%d", e.Status, e.Attempts)
	}
	if want := t0.Add(300 * time.Second); !e.ScheduledAt.Equal(want) {
		t.Fatalf("batch 1: scheduled_at = %v, want %v", e.ScheduledAt, want)
	}
	if !strings.Contains(e.LastError, "connection refused") {
		t.Fatalf("batch 1: last_error = %q", e.LastError)
	}

	// Not due yet.
	clk.Set(t0.Add(299 * time.Second))
	res, _ = p.ProcessBatch(ctx, 10, nil)
	if len(res.Outcomes) != 0 || tr.callCount() != 1 {
		t.Fatalf("expected no processing before the retry time, got %+v", res)
	}

	t1 := t0.Add(300 * time.Second)
	clk.Set(t1)
	if _, err := p.ProcessBatch(ctx, 10, nil); err != nil {
		t.Fatalf("batch 2: %v", err)
	}
	e = mem.Email(id)
	if e.Status != models.StatusPending || e.Attempts != 2 {
		t.Fatalf("batch 2: expected pending with 2 attempts, got %s/%d", e.Status, e.Attempts)
	}
	if want := t1.Add(600 * time.Second); !e.ScheduledAt.Equal(want) {
		t.Fatalf("batch 2: scheduled_at = %v, want %v", e.ScheduledAt, want)
	}

	clk.Set(t1.Add(600 * time.Second))
	res, err = p.ProcessBatch(ctx, 10, nil)
	if err != nil {
		t.Fatalf("batch 3: %v", err)
	}
	e = mem.Email(id)
	if res.Failed != 1 || e.Status != models.StatusFailed || e.Attempts != models.MaxAttempts {
		t.Fatalf("batch 3: expected failed with %d attempts, got %s/%d", models.MaxAttempts, e.Status, e.Attempts)
	}

	log := mem.LogFor(id)
	if len(log) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(log))
	}
	if log[0].Status != models.LogFailed || log[0].ErrorMessage == nil || !strings.Contains(*log[0].ErrorMessage, "connection refused") {
		t.Fatalf("unexpected log entry %+v", log[0])
	}

	// Terminal rows are never reprocessed.
	clk.Set(t1.Add(24 * time.Hour))
	res, _ = p.ProcessBatch(ctx, 10, nil)
	if len(res.Outcomes) != 0 || tr.callCount() != 3 {
		t.Fatalf("terminal row was reprocessed: %+v", res)
	}
}

func TestProcessBatch_SkipsRowsNotDue(t *testing.T) {
	p, mem, tr, _ := newTestProcessor(t, Options{})
	future := mem.PutEmail(dueEmail("later@example.com", t0.Add(time.Hour)))

	res, err := p.ProcessBatch(context.Background(), 10, nil)
	if err != nil {
		t.Fatalf("ProcessBatch error: %v", err)
	}
	if len(res.Outcomes) != 0 || tr.callCount() != 0 {
		t.Fatalf("expected nothing processed, got %+v", res)
	}
	if mem.Email(future).Status != models.StatusPending {
		t.Fatal("future row must stay pending")
	}

	res, _ = p.ProcessBatch(context.Background(), 1, &future)
	if len(res.Outcomes) != 0 {
		t.Fatal("specific id must still respect the schedule")
	}
}

func TestProcessBatch_LimitAndOrder(t *testing.T) {
	p, mem, tr, _ := newTestProcessor(t, Options{})
	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, mem.PutEmail(dueEmail("u@example.com", t0.Add(-time.Duration(5-i)*time.Minute))))
	}

	res, err := p.ProcessBatch(context.Background(), 2, nil)
	if err != nil {
		t.Fatalf("ProcessBatch error: %v", err)
	}
	if res.Processed != 2 || tr.callCount() != 2 {
		t.Fatalf("expected 2 sends, got %+v", res)
	}
	if res.Outcomes[0].QueuedEmailID != ids[0] || res.Outcomes[1].QueuedEmailID != ids[1] {
		t.Fatalf("expected oldest schedule first, got %+v", res.Outcomes)
	}
	for _, id := range ids[2:] {
		if mem.Email(id).Status != models.StatusPending {
			t.Fatalf("row %d should still be pending", id)
		}
	}
}

func TestProcessBatch_SpecificID(t *testing.T) {
	p, mem, tr, _ := newTestProcessor(t, Options{})
	other := mem.PutEmail(dueEmail("other@example.com", t0.Add(-time.Hour)))
	target := mem.PutEmail(dueEmail("target@example.com", t0))

	res, err := p.ProcessBatch(context.Background(), 1, &target)
	if err != nil {
		t.Fatalf("ProcessBatch error: %v", err)
	}
	if res.Processed != 1 || tr.sent["target@example.com"] != 1 {
		t.Fatalf("expected target sent, got %+v", res)
	}
	if mem.Email(other).Status != models.StatusPending {
		t.Fatal("other row must not be touched")
	}

	missing := int64(404)
	res, err = p.ProcessBatch(context.Background(), 1, &missing)
	if err != nil || len(res.Outcomes) != 0 {
		t.Fatalf("unknown id: %+v, %v", res, err)
	}
}

func TestProcessBatch_MalformedRowFailsPermanently(t *testing.T) {
	p, mem, tr, _ := newTestProcessor(t, Options{})
	id := mem.PutEmail(dueEmail("not-an-address", t0))

	res, err := p.ProcessBatch(context.Background(), 10, nil)
	if err != nil {
		t.Fatalf("ProcessBatch error: %v", err)
	}
	if res.Failed != 1 || res.Retried != 0 {
		t.Fatalf("expected permanent failure, got %+v", res)
	}
	if tr.callCount() != 0 {
		t.Fatal("transport must not be called for a malformed row")
	}
	e := mem.Email(id)
	if e.Status != models.StatusFailed || e.Attempts != 1 {
		t.Fatalf("expected failed with 1 attempt, got %s/%d", e.Status, e.Attempts)
	}
	if len(mem.LogFor(id)) != 1 {
		t.Fatal("expected one failed log entry")
	}
}

func TestValidateRow_Address(t *testing.T) {
	tests := []struct {
		addr string
		ok   bool
	}{
		{"ann@example.com", true},
		{"ann.smith+loans@mail.example.co.uk", true},
		{"Ann Smith <ann@example.com>", false},
		{"ann@", false},
		{"not-an-address", false},
	}
	for _, tt := range tests {
		e := dueEmail(tt.addr, t0)
		err := validateRow(&e)
		if (err == nil) != tt.ok {
			t.Errorf("validateRow(%q) = %v, want ok=%v", tt.addr, err, tt.ok)
		}
		if err != nil && !IsPermanent(err) {
			t.Errorf("validateRow(%q): expected permanent error, got %T", tt.addr, err)
		}
	}
}

func TestProcessBatch_PermanentTransportError(t *testing.T) {
	p, mem, tr, _ := newTestProcessor(t, Options{})
	tr.err = &PermanentError{Reason: "550 mailbox unavailable"}
	id := mem.PutEmail(dueEmail("gone@example.com", t0))

	res, _ := p.ProcessBatch(context.Background(), 10, nil)
	if res.Failed != 1 || mem.Email(id).Status != models.StatusFailed {
		t.Fatalf("expected immediate failure, got %+v", res)
	}
}

func TestProcessBatch_SendTimeoutIsTransportFailure(t *testing.T) {
	p, mem, tr, _ := newTestProcessor(t, Options{SendTimeout: 10 * time.Millisecond})
	tr.block = true
	id := mem.PutEmail(dueEmail("slow@example.com", t0))

	res, err := p.ProcessBatch(context.Background(), 10, nil)
	if err != nil {
		t.Fatalf("ProcessBatch error: %v", err)
	}
	if res.Retried != 1 {
		t.Fatalf("expected a retry, got %+v", res)
	}
	if !strings.Contains(mem.Email(id).LastError, context.DeadlineExceeded.Error()) {
		t.Fatalf("unexpected last_error %q", mem.Email(id).LastError)
	}
}

func TestProcessBatch_CancelDuringSendKeepsAttempt(t *testing.T) {
	p, mem, tr, _ := newTestProcessor(t, Options{})
	a := mem.PutEmail(dueEmail("a@example.com", t0))
	b := mem.PutEmail(dueEmail("b@example.com", t0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.onSend = cancel

	res, err := p.ProcessBatch(ctx, 10, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled after the in-flight row, got %v", err)
	}
	if res.Processed != 1 || res.Retried != 0 {
		t.Fatalf("in-flight send should complete, got %+v", res)
	}
	if e := mem.Email(a); e.Status != models.StatusSent || e.Attempts != 1 {
		t.Fatalf("in-flight row: %s/%d", e.Status, e.Attempts)
	}
	if e := mem.Email(b); e.Status != models.StatusPending || e.Attempts != 0 {
		t.Fatalf("unclaimed row must be untouched, got %s/%d", e.Status, e.Attempts)
	}
}

func TestProcessBatch_StoreErrorAborts(t *testing.T) {
	p, mem, tr, _ := newTestProcessor(t, Options{})
	a := mem.PutEmail(dueEmail("a@example.com", t0))
	b := mem.PutEmail(dueEmail("b@example.com", t0))
	cause := errors.New("db down")
	mem.Errs["ClaimQueuedEmail"] = cause

	_, err := p.ProcessBatch(context.Background(), 10, nil)
	if !errors.Is(err, cause) {
		t.Fatalf("expected store error, got %v", err)
	}
	if tr.callCount() != 0 {
		t.Fatal("transport must not be called")
	}
	for _, id := range []int64{a, b} {
		if mem.Email(id).Status != models.StatusPending {
			t.Fatalf("row %d should stay pending", id)
		}
	}

	delete(mem.Errs, "ClaimQueuedEmail")
	mem.Errs["ListDueQueuedEmails"] = cause
	if _, err := p.ProcessBatch(context.Background(), 10, nil); !errors.Is(err, cause) {
		t.Fatalf("expected list error, got %v", err)
	}
}

func TestProcessBatch_ConcurrentClaimsAreExclusive(t *testing.T) {
	p, mem, tr, _ := newTestProcessor(t, Options{})
	const rows = 30
	for i := 0; i < rows; i++ {
		mem.PutEmail(dueEmail("user@example.com", t0))
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.ProcessBatch(context.Background(), rows, nil)
			if err != nil {
				t.Errorf("ProcessBatch error: %v", err)
				return
			}
			mu.Lock()
			total += res.Processed
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != rows {
		t.Fatalf("expected %d sends across workers, got %d", rows, total)
	}
	if tr.sent["user@example.com"] != rows {
		t.Fatalf("expected each row sent once, transport saw %d", tr.sent["user@example.com"])
	}
	for id := int64(1); id <= rows; id++ {
		if n := len(mem.LogFor(id)); n != 1 {
			t.Fatalf("row %d has %d log entries", id, n)
		}
	}
}

func TestProcessBatch_CampaignCounters(t *testing.T) {
	p, mem, _, _ := newTestProcessor(t, Options{})
	c, _ := mem.CreateCampaign(context.Background(), models.BulkCampaignCreateParams{Name: "c", TotalRecipients: 2})

	ok := dueEmail("ok@example.com", t0)
	ok.CampaignID = &c.ID
	mem.PutEmail(ok)
	bad := dueEmail("bad", t0)
	bad.CampaignID = &c.ID
	mem.PutEmail(bad)

	if _, err := p.ProcessBatch(context.Background(), 10, nil); err != nil {
		t.Fatalf("ProcessBatch error: %v", err)
	}
	got, _ := mem.GetCampaignByID(context.Background(), c.ID)
	if got.SentCount != 1 || got.FailedCount != 1 {
		t.Fatalf("unexpected counters sent=%d failed=%d", got.SentCount, got.FailedCount)
	}
}

func TestPurgeSent(t *testing.T) {
	p, mem, _, _ := newTestProcessor(t, Options{})
	old := t0.Add(-31 * 24 * time.Hour)
	recent := t0.Add(-time.Hour)

	oldRow := dueEmail("old@example.com", old)
	oldRow.Status = models.StatusSent
	oldRow.SentAt = &old
	oldID := mem.PutEmail(oldRow)

	newRow := dueEmail("new@example.com", recent)
	newRow.Status = models.StatusSent
	newRow.SentAt = &recent
	newID := mem.PutEmail(newRow)

	failedRow := dueEmail("f@example.com", old)
	failedRow.Status = models.StatusFailed
	failedID := mem.PutEmail(failedRow)

	n, err := p.PurgeSent(context.Background(), 30*24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("PurgeSent = %d, %v", n, err)
	}
	if mem.Email(oldID) != nil {
		t.Fatal("old sent row should be purged")
	}
	if mem.Email(newID) == nil || mem.Email(failedID) == nil {
		t.Fatal("recent and failed rows must be kept")
	}
}
