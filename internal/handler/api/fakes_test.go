package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"gigster/internal/models"
	"gigster/internal/ops"
	"gigster/internal/repository"
	"gigster/internal/usage"
)

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*models.SocialJob
}

func (m *memJobs) Create(_ context.Context, job *models.SocialJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobs) FindByID(_ context.Context, id string) (*models.SocialJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) List(_ context.Context, f repository.JobFilter) ([]models.SocialJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SocialJob
	for _, j := range m.jobs {
		if f.Status == "" || j.Status == f.Status {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *memJobs) move(id string, to string, from ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false
	}
	for _, s := range from {
		if j.Status == s {
			j.Status = to
			return true
		}
	}
	return false
}

func (m *memJobs) Pause(_ context.Context, id string, _ time.Time) (bool, error) {
	return m.move(id, models.JobPaused, models.JobQueued, models.JobFailed), nil
}

func (m *memJobs) Resume(_ context.Context, id string, _ time.Time) (bool, error) {
	return m.move(id, models.JobQueued, models.JobPaused), nil
}

func (m *memJobs) Retry(_ context.Context, id string, _ time.Time, _ int) (bool, error) {
	return m.move(id, models.JobQueued, models.JobQueued, models.JobFailed, models.JobPaused), nil
}

func (m *memJobs) Cancel(_ context.Context, id string, _ time.Time) (bool, error) {
	return m.move(id, models.JobCancelled, models.JobQueued, models.JobFailed, models.JobPaused), nil
}

func (m *memJobs) CancelScheduled(_ context.Context, profileID string, scheduledAt, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if j.ProfileID == profileID && j.ScheduledAt.Equal(scheduledAt) && j.Status == models.JobQueued {
			j.Status = models.JobCancelled
			n++
		}
	}
	return n, nil
}

type memLimits struct {
	limits    map[string]models.RateLimit
	overrides map[string]models.RateLimitOverride
}

func (m *memLimits) List(context.Context) ([]models.RateLimit, error) {
	var out []models.RateLimit
	for _, rl := range m.limits {
		out = append(out, rl)
	}
	return out, nil
}

func (m *memLimits) Upsert(_ context.Context, platform string, window, max int, now time.Time) error {
	m.limits[platform] = models.RateLimit{Platform: platform, WindowSeconds: window, MaxActions: max, WindowStartedAt: now}
	return nil
}

func (m *memLimits) ResetWindow(_ context.Context, platform string, now time.Time) (bool, error) {
	rl, ok := m.limits[platform]
	if !ok {
		return false, nil
	}
	rl.UsedActions, rl.WindowStartedAt = 0, now
	m.limits[platform] = rl
	return true, nil
}

func (m *memLimits) ListOverrides(context.Context) ([]models.RateLimitOverride, error) {
	var out []models.RateLimitOverride
	for _, ov := range m.overrides {
		out = append(out, ov)
	}
	return out, nil
}

func (m *memLimits) SetOverride(_ context.Context, ov models.RateLimitOverride) error {
	m.overrides[ov.Platform] = ov
	return nil
}

func (m *memLimits) ClearOverride(_ context.Context, platform string) (bool, error) {
	_, ok := m.overrides[platform]
	delete(m.overrides, platform)
	return ok, nil
}

type nopAudit struct{}

func (nopAudit) Emit(context.Context, string, string, string, map[string]interface{}) {}

type noUsage struct{}

func (noUsage) Since(context.Context, string, time.Time) ([]models.UsageEvent, error) {
	return nil, nil
}

type fixedAudits struct{ events []models.AuditEvent }

func (f fixedAudits) Recent(_ context.Context, limit int) ([]models.AuditEvent, error) {
	if limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}

type jobStats struct {
	total, failed int64
	oldest        *time.Time
	err           error
}

func (s jobStats) OutcomeCountsSince(context.Context, time.Time) (int64, int64, error) {
	return s.total, s.failed, s.err
}

func (s jobStats) OldestPendingScheduledAt(context.Context, time.Time) (*time.Time, error) {
	return s.oldest, s.err
}

func (s jobStats) CountByStatus(context.Context) (map[string]int64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return map[string]int64{models.JobQueued: s.total - s.failed, models.JobFailed: s.failed}, nil
}

var errDB = errors.New("db down")

type fixture struct {
	jobs   *memJobs
	limits *memLimits
	ops    *OpsHandler
	hook   *WebhookHandler
}

func newFixture(jobs ...models.SocialJob) *fixture {
	mj := &memJobs{jobs: map[string]*models.SocialJob{}}
	for i := range jobs {
		j := jobs[i]
		mj.jobs[j.ID] = &j
	}
	ml := &memLimits{limits: map[string]models.RateLimit{}, overrides: map[string]models.RateLimitOverride{}}
	svc := ops.NewService(mj, ml, nil, nopAudit{}, zap.NewNop())
	return &fixture{
		jobs:   mj,
		limits: ml,
		ops:    NewOpsHandler(svc, usage.NewReporter(noUsage{}), fixedAudits{}, zap.NewNop()),
		hook:   NewWebhookHandler(svc, zap.NewNop()),
	}
}
