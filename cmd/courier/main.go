package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/znz-systems/courier/internal/analytics"
	"github.com/znz-systems/courier/internal/auth"
	"github.com/znz-systems/courier/internal/campaign"
	"github.com/znz-systems/courier/internal/config"
	"github.com/znz-systems/courier/internal/database"
	"github.com/znz-systems/courier/internal/delivery"
	"github.com/znz-systems/courier/internal/mail"
	"github.com/znz-systems/courier/internal/personalize"
	"github.com/znz-systems/courier/internal/queue"
	"github.com/znz-systems/courier/internal/ratelimit"
	"github.com/znz-systems/courier/internal/store/postgres"
	"github.com/znz-systems/courier/internal/web"
	"github.com/znz-systems/courier/internal/web/handlers"
	"github.com/znz-systems/courier/migrations"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "gen-token" {
		if err := genToken(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Logger(os.Stderr))

	// Database
	db, err := postgres.NewDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Migrations
	if err := database.RunMigrations(migrations.FS, cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Stores
	queueStore := postgres.NewEmailQueueStore(db)
	logStore := postgres.NewDeliveryLogStore(db)
	campaignStore := postgres.NewCampaignStore(db)
	templateStore := postgres.NewTemplateStore(db)
	recipientStore := postgres.NewRecipientStore(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Transport
	transport, err := mail.NewTransport(ctx, cfg.MailSettings())
	if err != nil {
		slog.Error("failed to configure mail transport", "error", err)
		os.Exit(1)
	}

	renderer, err := personalize.NewRenderer(cfg.TemplateEngine)
	if err != nil {
		slog.Error("failed to configure renderer", "error", err)
		os.Exit(1)
	}
	company := personalize.Company{Name: cfg.CompanyName, Phone: cfg.CompanyPhone, Email: cfg.CompanyEmail}

	// Rate limiter
	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		redisLimiter, err := ratelimit.NewRedisFixedWindowFromURL(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisLimiter.Close()
		limiter = redisLimiter
	} else {
		memLimiter := ratelimit.NewFixedWindow()
		defer memLimiter.Close()
		limiter = memLimiter
	}

	// Services
	manager := queue.NewManager(queueStore, templateStore, recipientStore, renderer, company)
	processor := delivery.NewProcessor(queueStore, transport, delivery.Options{
		SendTimeout:   cfg.SendTimeout(),
		RatePerSecond: cfg.SendRatePerSecond,
	})
	campaignService := campaign.NewService(campaignStore, manager)
	analyticsService := analytics.NewService(queueStore, logStore)

	// Router
	router := web.NewRouter(web.RouterDeps{
		EmailHandler:     handlers.NewEmailHandler(manager, processor),
		CampaignHandler:  handlers.NewCampaignHandler(campaignService, processor),
		AnalyticsHandler: handlers.NewAnalyticsHandler(analyticsService),
		SettingsHandler:  handlers.NewSettingsHandler(transport, company),
		HealthHandler:    handlers.NewHealthHandler(db),
		Limiter:          limiter,
		RateLimitWindow:  cfg.RateLimitWindow(),
		RateLimitMax:     cfg.RateLimitMaxRequests,
		APITokenHash:     cfg.APITokenHash,
		AllowedOrigins:   cfg.AllowedOrigins,
	})

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("courier starting", "addr", addr, "transport", cfg.MailTransport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Delivery worker
	if cfg.ProcessIntervalSeconds > 0 {
		worker := delivery.NewWorker(processor, delivery.WorkerOptions{
			PollInterval: cfg.ProcessInterval(),
			BatchSize:    cfg.ProcessBatchSize,
			Retention:    cfg.Retention(),
		})
		g.Go(func() error {
			worker.Run(groupCtx)
			return nil
		})
	} else {
		slog.Info("in-process delivery worker disabled")
	}

	// Graceful shutdown
	g.Go(func() error {
		<-groupCtx.Done()
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("courier stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// genToken prints a new API token and the bcrypt hash to put in
// API_TOKEN_HASH.
func genToken() error {
	token, err := auth.GenerateToken()
	if err != nil {
		return err
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}
	fmt.Printf("token: %s\nAPI_TOKEN_HASH=%s\n", token, hash)
	return nil
}
