package handler

import (
	"net/http"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/health"
	"github.com/gin-gonic/gin"
)

// HealthHandler exposes the three-bucket health model of spec §4.8 over
// HTTP: /healthz gates process restarts, /readyz gates traffic, /health/dep
// reports dependency checks and answers 503 when any of them is unhealthy.
type HealthHandler struct {
	checker *health.Checker
	latch   startupLatch
}

// startupLatch is the subset of watchdog.StartupLatch the health handler
// needs, defined at point of use so this package does not import
// internal/watchdog just for a two-method interface.
type startupLatch interface {
	Ready() bool
	Reason() string
}

func NewHealthHandler(checker *health.Checker, latch startupLatch) *HealthHandler {
	return &HealthHandler{checker: checker, latch: latch}
}

// statusCode maps a bucket's aggregated status to an HTTP status per
// spec §4.8: any Unhealthy check -> 503; otherwise 200, whether the
// reported status is Degraded or Healthy.
func statusCode(status string) int {
	if status == health.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (h *HealthHandler) Live(c *gin.Context) {
	result := h.checker.RunBucket(c.Request.Context(), health.BucketLive)
	c.JSON(statusCode(result.Status), result)
}

// Ready reports not-ready until the startup latch has opened, then
// delegates to the bucketed readiness checks.
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.latch != nil && !h.latch.Ready() {
		c.JSON(http.StatusServiceUnavailable, health.HealthResult{
			Bucket: string(health.BucketReady),
			Status: health.StatusUnhealthy,
			Checks: []health.CheckResult{{Name: "startup_latch", Status: health.StatusUnhealthy, Error: h.latch.Reason()}},
		})
		return
	}

	result := h.checker.RunBucket(c.Request.Context(), health.BucketReady)
	c.JSON(statusCode(result.Status), result)
}

// Dep surfaces dependency checks for operator visibility and gates on
// them the same as the other buckets: a 503 when any dependency is
// unhealthy (spec §4.8).
func (h *HealthHandler) Dep(c *gin.Context) {
	result := h.checker.RunBucket(c.Request.Context(), health.BucketDep)
	c.JSON(statusCode(result.Status), result)
}
