package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gigster/internal/models"
)

// Audit event names.
const (
	QueueEnqueued   = "social.queue.enqueued"
	QueueDeleted    = "social.queue.deleted"
	QueuePaused     = "social.queue.paused"
	QueueResumed    = "social.queue.resumed"
	QueueRetry      = "social.queue.retry"
	QueueCancelled  = "social.queue.cancelled"
	QueueRateLimit  = "social.queue.rate_limited"
	QueuePosting    = "social.queue.posting"
	QueuePosted     = "social.queue.posted"
	QueueFailed     = "social.queue.failed"
	QueueError      = "social.queue.error"
	QueueReaped     = "social.queue.reaped"
	RLUpdated       = "social.rl.updated"
	RLReset         = "social.rl.reset"
	RLOverrideSet   = "social.rl.override_set"
	RLOverrideClear = "social.rl.override_cleared"
)

// SystemActor is recorded for events raised by the worker and cron jobs.
const SystemActor = "system"

// Store persists audit events.
type Store interface {
	Create(ctx context.Context, ev *models.AuditEvent) error
}

// Emitter is the write side used by the worker, ops service and webhook.
type Emitter interface {
	Emit(ctx context.Context, event, actor, subject string, fields map[string]interface{})
}

// Auditor logs every event and stores it when a Store is configured.
type Auditor struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func New(store Store, logger *zap.Logger) *Auditor {
	return &Auditor{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Emit records an event. Storage failures are logged and swallowed so that
// auditing never fails the operation being audited.
func (a *Auditor) Emit(ctx context.Context, event, actor, subject string, fields map[string]interface{}) {
	if actor == "" {
		actor = SystemActor
	}

	zf := []zap.Field{
		zap.String("event", event),
		zap.String("actor", actor),
		zap.String("subject", subject),
	}
	if len(fields) > 0 {
		zf = append(zf, zap.Any("fields", fields))
	}
	a.logger.Info("audit", zf...)

	if a.store == nil {
		return
	}

	payload := datatypes.JSON("{}")
	if len(fields) > 0 {
		raw, err := json.Marshal(fields)
		if err != nil {
			a.logger.Warn("Audit payload not serializable", zap.String("event", event), zap.Error(err))
		} else {
			payload = datatypes.JSON(raw)
		}
	}

	ev := &models.AuditEvent{
		Event:     event,
		Actor:     actor,
		Subject:   subject,
		Payload:   payload,
		CreatedAt: a.now(),
	}
	if err := a.store.Create(context.WithoutCancel(ctx), ev); err != nil {
		a.logger.Error("Failed to persist audit event", zap.String("event", event), zap.Error(err))
	}
}
