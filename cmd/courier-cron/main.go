// Command courier-cron runs one delivery batch and the retention purge,
// then prints queue statistics. It is meant to be scheduled by cron when
// the server's in-process worker is disabled.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/znz-systems/courier/internal/analytics"
	"github.com/znz-systems/courier/internal/config"
	"github.com/znz-systems/courier/internal/delivery"
	"github.com/znz-systems/courier/internal/mail"
	"github.com/znz-systems/courier/internal/store/postgres"
)

func main() {
	limit := flag.Int("limit", 0, "maximum emails to process (default PROCESS_BATCH_SIZE)")
	skipPurge := flag.Bool("skip-purge", false, "do not delete old sent rows")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Logger(os.Stderr))

	if err := run(cfg, *limit, *skipPurge); err != nil {
		slog.Error("courier-cron failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, limit int, skipPurge bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	transport, err := mail.NewTransport(ctx, cfg.MailSettings())
	if err != nil {
		return fmt.Errorf("configuring mail transport: %w", err)
	}

	queueStore := postgres.NewEmailQueueStore(db)
	processor := delivery.NewProcessor(queueStore, transport, delivery.Options{
		SendTimeout:   cfg.SendTimeout(),
		RatePerSecond: cfg.SendRatePerSecond,
	})

	if limit <= 0 {
		limit = cfg.ProcessBatchSize
	}
	result, err := processor.ProcessBatch(ctx, limit, nil)
	if err != nil {
		return fmt.Errorf("processing queue: %w", err)
	}
	fmt.Printf("processed=%d failed=%d retried=%d skipped=%d\n", result.Processed, result.Failed, result.Retried, result.Skipped)

	if !skipPurge && cfg.RetentionDays > 0 {
		purged, err := processor.PurgeSent(ctx, cfg.Retention())
		if err != nil {
			return fmt.Errorf("purging sent emails: %w", err)
		}
		fmt.Printf("purged=%d\n", purged)
	}

	summary, err := analytics.NewService(queueStore, postgres.NewDeliveryLogStore(db)).Summary(ctx, analytics.DefaultWindow)
	if err != nil {
		return fmt.Errorf("reading queue stats: %w", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tCOUNT\tOLDEST")
	for _, s := range summary.QueueStats {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Status, s.Count, s.OldestEmail.Format(time.RFC3339))
	}
	return tw.Flush()
}
