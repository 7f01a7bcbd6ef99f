package metrics

import (
	"context"
	"math"
	"time"

	"gigster/internal/models"
)

// JobStats is the read-only job aggregation surface.
type JobStats interface {
	OutcomeCountsSince(ctx context.Context, since time.Time) (total, failed int64, err error)
	OldestPendingScheduledAt(ctx context.Context, now time.Time) (*time.Time, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// LimitLister lists platform budgets.
type LimitLister interface {
	List(ctx context.Context) ([]models.RateLimit, error)
}

// Saturation is one platform's share of its base budget in use.
type Saturation struct {
	Platform string `json:"platform"`
	Pct      int    `json:"pct"`
}

// SLO is the snapshot served at /metrics/slo.
type SLO struct {
	ErrorRate           float64      `json:"errorRate"`
	QueueAge            float64      `json:"queueAge"`
	RateLimitSaturation []Saturation `json:"rateLimitSaturation"`
}

// Reporter aggregates job and budget state into SLO signals.
type Reporter struct {
	jobs    JobStats
	limits  LimitLister
	now     func() time.Time
	started time.Time
}

func NewReporter(jobs JobStats, limits LimitLister) *Reporter {
	now := func() time.Time { return time.Now().UTC() }
	return &Reporter{jobs: jobs, limits: limits, now: now, started: now()}
}

// HourlyErrorRate is the percentage of jobs updated in the last hour that
// are failed.
func (r *Reporter) HourlyErrorRate(ctx context.Context) (float64, error) {
	total, failed, err := r.jobs.OutcomeCountsSince(ctx, r.now().Add(-time.Hour))
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return round2(100 * float64(failed) / float64(total)), nil
}

// MaxQueueAgeMinutes is how long the oldest due queued or failed job has
// been waiting past its schedule.
func (r *Reporter) MaxQueueAgeMinutes(ctx context.Context) (float64, error) {
	now := r.now()
	oldest, err := r.jobs.OldestPendingScheduledAt(ctx, now)
	if err != nil || oldest == nil {
		return 0, err
	}
	age := now.Sub(*oldest).Minutes()
	if age < 0 {
		return 0, nil
	}
	return round2(age), nil
}

// RateLimitSaturation returns used/max per platform as a rounded percentage.
func (r *Reporter) RateLimitSaturation(ctx context.Context) ([]Saturation, error) {
	limits, err := r.limits.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Saturation, 0, len(limits))
	for _, rl := range limits {
		max := rl.MaxActions
		if max < 1 {
			max = 1
		}
		out = append(out, Saturation{
			Platform: rl.Platform,
			Pct:      int(math.Round(100 * float64(rl.UsedActions) / float64(max))),
		})
	}
	return out, nil
}

// SLO collects all three signals.
func (r *Reporter) SLO(ctx context.Context) (*SLO, error) {
	errorRate, err := r.HourlyErrorRate(ctx)
	if err != nil {
		return nil, err
	}
	queueAge, err := r.MaxQueueAgeMinutes(ctx)
	if err != nil {
		return nil, err
	}
	sat, err := r.RateLimitSaturation(ctx)
	if err != nil {
		return nil, err
	}
	return &SLO{ErrorRate: errorRate, QueueAge: queueAge, RateLimitSaturation: sat}, nil
}

// Stats returns job counts for every status plus a total.
func (r *Reporter) Stats(ctx context.Context) (map[string]int64, error) {
	counts, err := r.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(counts)+1)
	var total int64
	for _, s := range models.JobStatuses() {
		out[s] = counts[s]
	}
	for _, n := range counts {
		total += n
	}
	out["total"] = total
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
