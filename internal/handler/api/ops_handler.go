package api

import (
	"bytes"
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"gigster/internal/middleware"
	"gigster/internal/ops"
	"gigster/internal/repository"
	"gigster/internal/usage"
)

// OpsHandler serves the /ops control plane.
type OpsHandler struct {
	svc    *ops.Service
	usage  *usage.Reporter
	audits AuditLister
	logger *zap.Logger
}

func NewOpsHandler(svc *ops.Service, usageReporter *usage.Reporter, audits AuditLister, logger *zap.Logger) *OpsHandler {
	return &OpsHandler{svc: svc, usage: usageReporter, audits: audits, logger: logger}
}

// ListJobs handles GET /ops/social-queue.
func (h *OpsHandler) ListJobs(c echo.Context) error {
	jobs, err := h.svc.ListJobs(c.Request().Context(), repository.JobFilter{
		Status:   c.QueryParam("status"),
		Platform: c.QueryParam("platform"),
		Limit:    queryInt(c, "limit", 0),
	})
	if err != nil {
		return fail(c, h.logger, err)
	}
	return itemsResponse(c, jobs)
}

// GetJob handles GET /ops/social-queue/:id.
func (h *OpsHandler) GetJob(c echo.Context) error {
	job, err := h.svc.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, job)
}

func (h *OpsHandler) Pause(c echo.Context) error  { return h.transition(c, h.svc.Pause) }
func (h *OpsHandler) Resume(c echo.Context) error { return h.transition(c, h.svc.Resume) }
func (h *OpsHandler) Retry(c echo.Context) error  { return h.transition(c, h.svc.Retry) }
func (h *OpsHandler) Cancel(c echo.Context) error { return h.transition(c, h.svc.Cancel) }

type transitionFunc func(ctx context.Context, actor, id string) (*ops.TransitionResult, error)

func (h *OpsHandler) transition(c echo.Context, fn transitionFunc) error {
	res, err := fn(c.Request().Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		return fail(c, h.logger, err)
	}
	return okResponse(c, map[string]interface{}{"applied": res.Applied, "job": res.Job})
}

// ListRateLimits handles GET /ops/rate-limits.
func (h *OpsHandler) ListRateLimits(c echo.Context) error {
	views, err := h.svc.RateLimits(c.Request().Context())
	if err != nil {
		return fail(c, h.logger, err)
	}
	return itemsResponse(c, views)
}

type rateLimitRequest struct {
	Platform      string `json:"platform"`
	WindowSeconds *int   `json:"window_seconds"`
	MaxActions    *int   `json:"max_actions"`
}

// UpsertRateLimit handles POST /ops/rate-limits.
func (h *OpsHandler) UpsertRateLimit(c echo.Context) error {
	var req rateLimitRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid JSON body")
	}
	if req.Platform == "" || req.WindowSeconds == nil || req.MaxActions == nil {
		return errorResponse(c, http.StatusBadRequest, "platform, window_seconds and max_actions are required")
	}

	if err := h.svc.SetRateLimit(c.Request().Context(), middleware.Actor(c), req.Platform, *req.WindowSeconds, *req.MaxActions); err != nil {
		return fail(c, h.logger, err)
	}
	return okResponse(c, nil)
}

// ResetWindow handles POST /ops/rate-limits/:platform/reset.
func (h *OpsHandler) ResetWindow(c echo.Context) error {
	if err := h.svc.ResetWindow(c.Request().Context(), middleware.Actor(c), c.Param("platform")); err != nil {
		return fail(c, h.logger, err)
	}
	return okResponse(c, nil)
}

// Usage handles GET /ops/rate-limits/:platform/usage.
func (h *OpsHandler) Usage(c echo.Context) error {
	w, err := usage.ParseWindow(c.QueryParam("window"))
	if err != nil {
		return fail(c, h.logger, err)
	}
	platform := c.Param("platform")
	buckets, err := h.usage.Series(c.Request().Context(), platform, w)
	if err != nil {
		return fail(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"platform": platform,
		"window":   w.Name,
		"items":    buckets,
	})
}

// UsageCSV handles GET /ops/rate-limits/:platform/usage.csv.
func (h *OpsHandler) UsageCSV(c echo.Context) error {
	w, err := usage.ParseWindow(c.QueryParam("window"))
	if err != nil {
		return fail(c, h.logger, err)
	}
	platform := c.Param("platform")
	buckets, err := h.usage.Series(c.Request().Context(), platform, w)
	if err != nil {
		return fail(c, h.logger, err)
	}

	var buf bytes.Buffer
	if err := usage.WriteCSV(&buf, buckets); err != nil {
		return fail(c, h.logger, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+usage.CSVFilename(platform, w)+`"`)
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

type overrideRequest struct {
	Factor  *float64 `json:"factor"`
	Minutes *int     `json:"minutes"`
}

// SetOverride handles POST /ops/rate-limits/:platform/override.
func (h *OpsHandler) SetOverride(c echo.Context) error {
	var req overrideRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return errorResponse(c, http.StatusBadRequest, "invalid JSON body")
		}
	}

	res, err := h.svc.SetOverride(c.Request().Context(), middleware.Actor(c), c.Param("platform"), ops.OverrideRequest{
		Factor:  req.Factor,
		Minutes: req.Minutes,
	})
	if err != nil {
		return fail(c, h.logger, err)
	}
	return okResponse(c, map[string]interface{}{
		"platform":   res.Platform,
		"factor":     res.Factor,
		"minutes":    res.Minutes,
		"started_at": res.StartedAt,
		"expires_at": res.ExpiresAt,
		"clamped":    res.Clamped,
	})
}

// ClearOverride handles DELETE /ops/rate-limits/:platform/override.
func (h *OpsHandler) ClearOverride(c echo.Context) error {
	removed, err := h.svc.ClearOverride(c.Request().Context(), middleware.Actor(c), c.Param("platform"))
	if err != nil {
		return fail(c, h.logger, err)
	}
	return okResponse(c, map[string]interface{}{"removed": removed})
}

// Audit handles GET /ops/audit.
func (h *OpsHandler) Audit(c echo.Context) error {
	events, err := h.audits.Recent(c.Request().Context(), queryInt(c, "limit", 100))
	if err != nil {
		return fail(c, h.logger, err)
	}
	return itemsResponse(c, events)
}
