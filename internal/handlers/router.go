package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"livmore-rook-sync/internal/metrics"
	"livmore-rook-sync/internal/middleware"
)

// RouterDeps are the services behind the HTTP routes
type RouterDeps struct {
	Logger         *slog.Logger
	InternalAPIKey string
	ClientUUID     string

	Pipeline    Pipeline
	Connections interface {
		ConnectionStarter
		ConnectionCompleter
	}
	Dashboard   Dashboard
	Backfill    Backfiller
	Verify      VerificationStore
	WebhookLogs WebhookLogStore
	Health      HealthChecker
	RateLimits  map[string]RateLimitReporter
}

// NewRouter builds the chi router for every API route.
//
// Middleware order: Logging -> Recovery -> per-route Metrics. Backfill,
// verification and webhook log routes also require the internal API key.
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	webhook := NewWebhookHandler(deps.Pipeline, deps.Connections, deps.ClientUUID)
	dash := NewDashboardHandler(deps.Dashboard)
	backfill := NewBackfillHandler(deps.Backfill)
	verify := NewVerifyHandler(deps.Verify)
	connect := NewConnectHandler(deps.Connections)
	logs := NewWebhookLogsHandler(deps.WebhookLogs)

	r := chi.NewRouter()
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recovery(logger))

	r.With(middleware.Metrics(metrics.EndpointHealth)).Get("/health", HandleHealth(deps.Health, deps.RateLimits))

	r.Route("/api/webhooks", func(r chi.Router) {
		r.Use(middleware.Metrics(metrics.EndpointWebhook))
		r.Post("/rook", webhook.HandleEvent)
		r.Get("/rook", webhook.HandleEcho)
		r.Post("/rook/{clientUUID}/{userID}", webhook.HandleEvent)
		r.Get("/rook/{clientUUID}/{userID}", webhook.HandleEcho)
	})
	r.With(middleware.Metrics(metrics.EndpointWebhookLegacy)).
		Get("/api/webhooks/rook-legacy/{clientUUID}/{userID}", webhook.HandleLegacy)

	r.With(middleware.Metrics(metrics.EndpointDashboard)).Get("/api/dashboard-data", dash.HandleDaily)
	r.With(middleware.Metrics(metrics.EndpointWeekly)).Get("/api/weekly-data", dash.HandleWeekly)
	r.With(middleware.Metrics(metrics.EndpointConnect)).Get("/api/rook/connect", connect.HandleStart)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(deps.InternalAPIKey, logger))

		r.With(middleware.Metrics(metrics.EndpointBackfill)).Post("/api/rook/backfill", backfill.HandleBackfill)

		r.Route("/api/rook/verify", func(r chi.Router) {
			r.Use(middleware.Metrics(metrics.EndpointVerify))
			r.Get("/", verify.HandleReport)
			r.Delete("/", verify.HandleDelete)
		})

		r.With(middleware.Metrics(metrics.EndpointWebhookLogs)).Get("/api/rook/webhook-logs", logs.HandleList)
	})

	return r
}
