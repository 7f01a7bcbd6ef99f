package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"gigster/internal/metrics"
)

type MonitoringHandler struct {
	reporter *metrics.Reporter
	logger   *zap.Logger
}

func NewMonitoringHandler(reporter *metrics.Reporter, logger *zap.Logger) *MonitoringHandler {
	return &MonitoringHandler{reporter: reporter, logger: logger}
}

// SLO handles GET /metrics/slo.
func (h *MonitoringHandler) SLO(c echo.Context) error {
	slo, err := h.reporter.SLO(c.Request().Context())
	if err != nil {
		return fail(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, slo)
}

// QueueStats handles GET /social-queue/stats.
func (h *MonitoringHandler) QueueStats(c echo.Context) error {
	stats, err := h.reporter.Stats(c.Request().Context())
	if err != nil {
		return fail(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// Health handles GET /health. A failing metrics query reports critical.
func (h *MonitoringHandler) Health(c echo.Context) error {
	health, err := h.reporter.Health(c.Request().Context())
	if err != nil {
		h.logger.Error("Health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": metrics.StatusCritical,
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, health)
}
