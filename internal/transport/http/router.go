package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/transport/http/handler"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

// NewRouter wires the platform's HTTP surface: unauthenticated health
// endpoints and webhook ingestion, and a JWT-protected admin API for
// inspecting Outbox/Inbox/Jobs/Lease state (spec §4.8, §4.3, §6).
func NewRouter(logger *slog.Logger, health *handler.HealthHandler, webhook *handler.WebhookHandler, admin *handler.AdminHandler, jwksURL string, hmacKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	r.GET("/healthz", health.Live)
	r.GET("/readyz", health.Ready)
	r.GET("/health/dep", health.Dep)

	r.POST("/webhooks/:provider", webhook.Receive)

	authMW := middleware.Auth(jwksURL, hmacKey)
	adminGroup := r.Group("/admin", authMW)

	adminGroup.POST("/jobs", admin.CreateJob)
	adminGroup.GET("/jobs", admin.ListJobs)
	adminGroup.GET("/jobs/:id", admin.GetJob)
	adminGroup.GET("/job-runs/:id", admin.GetJobRun)

	adminGroup.GET("/outbox/:id", admin.GetOutboxMessage)
	adminGroup.GET("/outbox-joins/:id", admin.GetOutboxJoin)
	adminGroup.GET("/inbox/:id", admin.GetInboxMessage)

	adminGroup.GET("/leases/:name", admin.GetCoarseLease)
	adminGroup.GET("/locks/:name", admin.GetFencedLock)

	return r
}
