package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"gigster/internal/handler/api"
	"gigster/internal/metrics"
	"gigster/internal/middleware"
	"gigster/internal/ops"
	"gigster/internal/usage"
)

// Deps are the services the HTTP surface is built from.
type Deps struct {
	Ops           *ops.Service
	Usage         *usage.Reporter
	Audits        api.AuditLister
	Metrics       *metrics.Reporter
	APIKeys       map[string]string
	WebhookSecret string
	Deduper       middleware.DeliveryDeduper
	Logger        *zap.Logger
}

// Setup configures all routes for the Echo server.
func Setup(e *echo.Echo, d Deps) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger(d.Logger))

	opsHandler := api.NewOpsHandler(d.Ops, d.Usage, d.Audits, d.Logger)
	monitoringHandler := api.NewMonitoringHandler(d.Metrics, d.Logger)
	webhookHandler := api.NewWebhookHandler(d.Ops, d.Logger)

	auth := middleware.APIAuth(d.APIKeys)

	e.GET("/health", monitoringHandler.Health)

	// Operator control plane
	opsGroup := e.Group("/ops", auth)
	opsGroup.GET("/social-queue", opsHandler.ListJobs)
	opsGroup.GET("/social-queue/:id", opsHandler.GetJob)
	opsGroup.POST("/social-queue/:id/pause", opsHandler.Pause)
	opsGroup.POST("/social-queue/:id/resume", opsHandler.Resume)
	opsGroup.POST("/social-queue/:id/retry", opsHandler.Retry)
	opsGroup.POST("/social-queue/:id/cancel", opsHandler.Cancel)

	opsGroup.GET("/rate-limits", opsHandler.ListRateLimits)
	opsGroup.POST("/rate-limits", opsHandler.UpsertRateLimit)
	opsGroup.POST("/rate-limits/:platform/reset", opsHandler.ResetWindow)
	opsGroup.GET("/rate-limits/:platform/usage", opsHandler.Usage)
	opsGroup.GET("/rate-limits/:platform/usage.csv", opsHandler.UsageCSV)
	opsGroup.POST("/rate-limits/:platform/override", opsHandler.SetOverride)
	opsGroup.DELETE("/rate-limits/:platform/override", opsHandler.ClearOverride)

	opsGroup.GET("/audit", opsHandler.Audit)

	// Monitoring
	e.GET("/metrics/slo", monitoringHandler.SLO, auth)
	e.GET("/social-queue/stats", monitoringHandler.QueueStats, auth)

	// Scheduler deliveries: signature first so unsigned bodies never mark a
	// delivery as seen.
	e.POST("/webhooks/icadence", webhookHandler.Handle,
		middleware.WebhookSignature(d.WebhookSecret),
		middleware.DeliveryDedup(d.Deduper))
}
