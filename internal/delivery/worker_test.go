package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/znz-systems/courier/internal/models"
)

func TestWorkerRunOnce_ProcessesAndPurges(t *testing.T) {
	p, mem, tr, _ := newTestProcessor(t, Options{})
	due := mem.PutEmail(dueEmail("ann@example.com", t0))

	old := t0.Add(-40 * 24 * time.Hour)
	sent := dueEmail("old@example.com", old)
	sent.Status = models.StatusSent
	sent.SentAt = &old
	oldID := mem.PutEmail(sent)

	w := NewWorker(p, WorkerOptions{BatchSize: 5, Retention: 30 * 24 * time.Hour})
	if full := w.runOnce(context.Background()); full {
		t.Fatal("a batch with one row is not full")
	}
	if mem.Email(due).Status != models.StatusSent || tr.callCount() != 1 {
		t.Fatal("expected due row to be sent")
	}
	if mem.Email(oldID) != nil {
		t.Fatal("expected old sent row to be purged")
	}
	if !w.lastPurge.Equal(t0) {
		t.Fatalf("lastPurge = %v", w.lastPurge)
	}
}

func TestWorkerRunOnce_ReportsFullBatch(t *testing.T) {
	p, mem, _, _ := newTestProcessor(t, Options{})
	for i := 0; i < 3; i++ {
		mem.PutEmail(dueEmail("u@example.com", t0))
	}
	w := NewWorker(p, WorkerOptions{BatchSize: 2})
	if !w.runOnce(context.Background()) {
		t.Fatal("expected full batch")
	}
	if w.runOnce(context.Background()) {
		t.Fatal("expected partial batch")
	}
}

func TestWorkerRun_StopsOnCancel(t *testing.T) {
	p, _, _, _ := newTestProcessor(t, Options{})
	w := NewWorker(p, WorkerOptions{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
