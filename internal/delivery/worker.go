package delivery

import (
	"context"
	"log/slog"
	"time"
)

type WorkerOptions struct {
	PollInterval  time.Duration
	BatchSize     int
	Retention     time.Duration
	PurgeInterval time.Duration
}

// Worker drives a Processor on a fixed poll interval and periodically
// purges old sent rows.
type Worker struct {
	processor     *Processor
	pollInterval  time.Duration
	batchSize     int
	retention     time.Duration
	purgeInterval time.Duration
	lastPurge     time.Time
}

func NewWorker(processor *Processor, opts WorkerOptions) *Worker {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = time.Minute
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	purgeEvery := opts.PurgeInterval
	if purgeEvery <= 0 {
		purgeEvery = time.Hour
	}
	return &Worker{
		processor:     processor,
		pollInterval:  poll,
		batchSize:     batch,
		retention:     opts.Retention,
		purgeInterval: purgeEvery,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		full := w.runOnce(ctx)
		if full {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runOnce processes one batch and reports whether it was full, in which case
// more due rows are likely waiting.
func (w *Worker) runOnce(ctx context.Context) bool {
	result, err := w.processor.ProcessBatch(ctx, w.batchSize, nil)
	if err != nil && ctx.Err() == nil {
		slog.Error("email delivery worker cycle failed", "error", err)
	}

	if w.retention > 0 && w.processor.now().Sub(w.lastPurge) >= w.purgeInterval {
		if _, err := w.processor.PurgeSent(ctx, w.retention); err != nil {
			slog.Error("email retention purge failed", "error", err)
		} else {
			w.lastPurge = w.processor.now()
		}
	}

	return err == nil && result.Handled() >= w.batchSize
}
