package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"gigster/internal/ops"
)

const (
	webhookActor = "icadence"

	eventSchedulePosted  = "schedule.posted"
	eventScheduleDeleted = "schedule.deleted"
)

type webhookContent struct {
	Text      string   `json:"text"`
	MediaURLs []string `json:"mediaUrls"`
}

type webhookData struct {
	ProfileID   string         `json:"profileId"`
	Platform    string         `json:"platform"`
	ScheduledAt time.Time      `json:"scheduledAt"`
	Content     webhookContent `json:"content"`
}

type webhookPayload struct {
	ID   string      `json:"id"`
	Type string      `json:"type"`
	Data webhookData `json:"data"`
}

// WebhookHandler turns scheduler deliveries into queue operations.
type WebhookHandler struct {
	svc    *ops.Service
	logger *zap.Logger
}

func NewWebhookHandler(svc *ops.Service, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, logger: logger}
}

// Handle serves POST /webhooks/icadence.
func (h *WebhookHandler) Handle(c echo.Context) error {
	var p webhookPayload
	if err := c.Bind(&p); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid JSON body")
	}
	ctx := c.Request().Context()

	switch p.Type {
	case eventSchedulePosted:
		job, err := h.svc.Enqueue(ctx, webhookActor, ops.EnqueueRequest{
			ProfileID:   p.Data.ProfileID,
			Platform:    p.Data.Platform,
			ScheduledAt: p.Data.ScheduledAt,
			Text:        p.Data.Content.Text,
			MediaURLs:   p.Data.Content.MediaURLs,
		})
		if err != nil {
			return fail(c, h.logger, err)
		}
		h.logger.Info("Webhook enqueued social job",
			zap.String("delivery_id", p.ID),
			zap.String("job_id", job.ID),
			zap.String("platform", job.Platform))
		return okResponse(c, map[string]interface{}{"queued": true})

	case eventScheduleDeleted:
		n, err := h.svc.CancelScheduled(ctx, webhookActor, p.Data.ProfileID, p.Data.ScheduledAt)
		if err != nil {
			return fail(c, h.logger, err)
		}
		h.logger.Info("Webhook cancelled scheduled jobs",
			zap.String("delivery_id", p.ID),
			zap.String("profile_id", p.Data.ProfileID),
			zap.Int64("cancelled", n))
		return okResponse(c, map[string]interface{}{"cancelled": true})
	}

	h.logger.Debug("Ignoring webhook event", zap.String("type", p.Type), zap.String("delivery_id", p.ID))
	return okResponse(c, nil)
}
