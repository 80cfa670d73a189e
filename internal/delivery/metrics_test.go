package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestProcessBatch_RecordsMetrics(t *testing.T) {
	p, mem, tr, _ := newTestProcessor(t, Options{})
	mem.PutEmail(dueEmail("ann@example.com", t0.Add(-time.Minute)))

	sentBefore := testutil.ToFloat64(emailsProcessedCounter.WithLabelValues("sent"))
	retryBefore := testutil.ToFloat64(emailsProcessedCounter.WithLabelValues("retry"))

	if _, err := p.ProcessBatch(context.Background(), 10, nil); err != nil {
		t.Fatalf("ProcessBatch error: %v", err)
	}
	if got := testutil.ToFloat64(emailsProcessedCounter.WithLabelValues("sent")) - sentBefore; got != 1 {
		t.Fatalf("expected sent counter +1, got %v", got)
	}

	tr.err = errors.New("connection reset")
	mem.PutEmail(dueEmail("bo@example.com", t0.Add(-time.Minute)))
	if _, err := p.ProcessBatch(context.Background(), 10, nil); err != nil {
		t.Fatalf("ProcessBatch error: %v", err)
	}
	if got := testutil.ToFloat64(emailsProcessedCounter.WithLabelValues("retry")) - retryBefore; got != 1 {
		t.Fatalf("expected retry counter +1, got %v", got)
	}
}
