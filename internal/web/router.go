package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/znz-systems/courier/internal/ratelimit"
	"github.com/znz-systems/courier/internal/web/handlers"
	"github.com/znz-systems/courier/internal/web/middleware"
)

// RouterDeps holds all dependencies needed to build the router.
type RouterDeps struct {
	EmailHandler     *handlers.EmailHandler
	CampaignHandler  *handlers.CampaignHandler
	AnalyticsHandler *handlers.AnalyticsHandler
	SettingsHandler  *handlers.SettingsHandler
	HealthHandler    *handlers.HealthHandler

	Limiter         ratelimit.Limiter
	RateLimitWindow time.Duration
	RateLimitMax    int
	APITokenHash    string
	AllowedOrigins  []string
}

// NewRouter wires all routes into a Chi router.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Metrics)

	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// JSON API (CORS, rate limited, optional bearer token)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
		r.Use(middleware.RateLimit(deps.Limiter, deps.RateLimitWindow, deps.RateLimitMax))
		r.Use(middleware.RequireToken(deps.APITokenHash))

		r.Post("/emails", deps.EmailHandler.HandleQueueEmail)
		r.Post("/emails/scheduled", deps.EmailHandler.HandleScheduleEmail)
		r.Post("/emails/{id}/cancel", deps.EmailHandler.HandleCancelEmail)
		r.Post("/queue/process", deps.EmailHandler.HandleProcessQueue)
		r.Get("/queue", deps.AnalyticsHandler.HandleQueue)

		r.Post("/campaigns", deps.CampaignHandler.HandleCreateCampaign)
		r.Get("/campaigns", deps.CampaignHandler.HandleListCampaigns)
		r.Get("/campaigns/{id}", deps.CampaignHandler.HandleGetCampaign)

		r.Get("/delivery-log", deps.AnalyticsHandler.HandleDeliveryLog)
		r.Get("/analytics", deps.AnalyticsHandler.HandleAnalytics)

		r.Post("/settings/test-email", deps.SettingsHandler.HandleTestEmail)
		r.Get("/personalization/variables", deps.SettingsHandler.HandleVariables)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}` + "\n"))
	})

	return r
}
