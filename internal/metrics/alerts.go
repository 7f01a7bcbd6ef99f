package metrics

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	alertErrorRate  = 5.0
	alertQueueAge   = 30.0
	alertSaturation = 90
)

// Notifier delivers alert text to humans.
type Notifier interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// Alerter checks SLO thresholds and reports breaches.
type Alerter struct {
	reporter *Reporter
	notifier Notifier
	chatID   string
	logger   *zap.Logger
}

// NewAlerter builds an alerter. A nil notifier or empty chatID limits alerts
// to the log.
func NewAlerter(reporter *Reporter, notifier Notifier, chatID string, logger *zap.Logger) *Alerter {
	return &Alerter{reporter: reporter, notifier: notifier, chatID: chatID, logger: logger}
}

// Check evaluates every threshold and returns the breaches found.
func (a *Alerter) Check(ctx context.Context) ([]string, error) {
	slo, err := a.reporter.SLO(ctx)
	if err != nil {
		return nil, err
	}

	var alerts []string
	if slo.ErrorRate > alertErrorRate {
		alerts = append(alerts, fmt.Sprintf("error-rate %.1f%% > %.0f%%", slo.ErrorRate, alertErrorRate))
	}
	if slo.QueueAge > alertQueueAge {
		alerts = append(alerts, fmt.Sprintf("queue-age %.1fm > %.0fm", slo.QueueAge, alertQueueAge))
	}
	for _, s := range slo.RateLimitSaturation {
		if s.Pct > alertSaturation {
			alerts = append(alerts, fmt.Sprintf("RL saturation %s: %d%%", s.Platform, s.Pct))
		}
	}

	for _, msg := range alerts {
		a.logger.Warn("[ALERT] "+msg, zap.String("alert", msg))
	}

	if len(alerts) > 0 && a.notifier != nil && a.chatID != "" {
		text := "<b>Social queue alerts</b>\n" + strings.Join(alerts, "\n")
		if err := a.notifier.SendMessage(ctx, a.chatID, text); err != nil {
			a.logger.Error("Failed to send alert notification", zap.Error(err))
		}
	}
	return alerts, nil
}
