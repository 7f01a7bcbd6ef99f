package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"gigster/internal/models"
	"gigster/internal/ops"
	"gigster/internal/usage"
)

// AuditLister reads the audit trail.
type AuditLister interface {
	Recent(ctx context.Context, limit int) ([]models.AuditEvent, error)
}

func okResponse(c echo.Context, extra map[string]interface{}) error {
	body := map[string]interface{}{"ok": true}
	for k, v := range extra {
		body[k] = v
	}
	return c.JSON(http.StatusOK, body)
}

func itemsResponse(c echo.Context, items interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items})
}

func errorResponse(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

// fail maps service errors to HTTP responses. Unexpected errors are logged
// and hidden behind a generic message.
func fail(c echo.Context, logger *zap.Logger, err error) error {
	switch {
	case errors.Is(err, ops.ErrJobNotFound), errors.Is(err, ops.ErrRateLimitNotFound):
		return errorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ops.ErrInvalidInput), errors.Is(err, ops.ErrUnknownPlatform), errors.Is(err, usage.ErrUnknownWindow):
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}
	logger.Error("Request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err))
	return errorResponse(c, http.StatusInternalServerError, "internal error")
}

// queryInt parses an integer query parameter, falling back to def.
func queryInt(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
