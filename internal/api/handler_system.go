package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"userlifecycle/internal/external"
)

// DependencyChecker reports reachability of the guarded external dependency.
type DependencyChecker interface {
	HealthCheck(ctx context.Context) external.Health
}

// MetricsSource exposes the counter snapshot served on /metrics.
type MetricsSource interface {
	Snapshot() map[string]int64
}

// SystemHandler serves the health and metrics endpoints.
type SystemHandler struct {
	db       *sql.DB
	external DependencyChecker
	metrics  MetricsSource
	log      *zap.Logger
}

// NewSystemHandler creates the health/metrics handler. external and metrics
// may be nil; the corresponding sections are omitted.
func NewSystemHandler(db *sql.DB, external DependencyChecker, metrics MetricsSource, log *zap.Logger) *SystemHandler {
	return &SystemHandler{db: db, external: external, metrics: metrics, log: log}
}

// Health godoc
// @Summary      Service health
// @Description  Reports database reachability, external dependency state, and breaker states
// @Tags         system
// @Produce      json
// @Success      200  {object}  Response
// @Failure      503  {object}  Response
// @Router       /health [get]
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{"status": "ok"}
	status := http.StatusOK

	if err := h.db.PingContext(ctx); err != nil {
		h.log.Warn("health check: database unreachable", zap.Error(err))
		body["status"] = "degraded"
		body["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	} else {
		body["database"] = "ok"
	}

	if h.external != nil {
		body["external"] = h.external.HealthCheck(ctx)
	}

	c.JSON(status, Response{Success: status == http.StatusOK, Data: body})
}

// Metrics godoc
// @Summary      Counter snapshot
// @Tags         system
// @Produce      json
// @Success      200  {object}  Response
// @Router       /metrics [get]
func (h *SystemHandler) Metrics(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusOK, ok(map[string]int64{}))
		return
	}
	c.JSON(http.StatusOK, ok(h.metrics.Snapshot()))
}
