package metrics

import (
	"context"
	"time"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
)

// HealthMetrics are the signals the health status is derived from.
type HealthMetrics struct {
	ErrorRate float64 `json:"errorRate"`
	QueueAge  float64 `json:"queueAge"`
}

// Health is the payload served at /health.
type Health struct {
	Status    string        `json:"status"`
	Uptime    int64         `json:"uptime"`
	LastCheck time.Time     `json:"lastCheck"`
	Metrics   HealthMetrics `json:"metrics"`
}

// DeriveStatus maps error rate (percent) and queue age (minutes) to a status.
func DeriveStatus(errorRate, queueAgeMinutes float64) string {
	switch {
	case errorRate > 5 || queueAgeMinutes > 30:
		return StatusCritical
	case errorRate > 2 || queueAgeMinutes > 15:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Health computes the current health snapshot.
func (r *Reporter) Health(ctx context.Context) (*Health, error) {
	errorRate, err := r.HourlyErrorRate(ctx)
	if err != nil {
		return nil, err
	}
	queueAge, err := r.MaxQueueAgeMinutes(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	return &Health{
		Status:    DeriveStatus(errorRate, queueAge),
		Uptime:    int64(now.Sub(r.started).Seconds()),
		LastCheck: now,
		Metrics:   HealthMetrics{ErrorRate: errorRate, QueueAge: queueAge},
	}, nil
}
