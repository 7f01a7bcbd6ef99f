package ops

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"gigster/internal/models"
	"gigster/internal/repository"
)

var now0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeJobs struct {
	jobs map[string]*models.SocialJob
}

func (f *fakeJobs) Create(_ context.Context, job *models.SocialJob) error {
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeJobs) FindByID(_ context.Context, id string) (*models.SocialJob, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) List(_ context.Context, flt repository.JobFilter) ([]models.SocialJob, error) {
	var out []models.SocialJob
	for _, j := range f.jobs {
		if (flt.Status == "" || j.Status == flt.Status) && (flt.Platform == "" || j.Platform == flt.Platform) {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeJobs) move(id string, from []string, fn func(j *models.SocialJob)) bool {
	j, ok := f.jobs[id]
	if !ok {
		return false
	}
	for _, s := range from {
		if j.Status == s {
			fn(j)
			return true
		}
	}
	return false
}

func (f *fakeJobs) Pause(_ context.Context, id string, _ time.Time) (bool, error) {
	return f.move(id, []string{models.JobQueued, models.JobFailed}, func(j *models.SocialJob) { j.Status = models.JobPaused }), nil
}

func (f *fakeJobs) Resume(_ context.Context, id string, _ time.Time) (bool, error) {
	return f.move(id, []string{models.JobPaused}, func(j *models.SocialJob) {
		j.Status = models.JobQueued
		j.NextAttemptAt = nil
	}), nil
}

func (f *fakeJobs) Retry(_ context.Context, id string, now time.Time, attemptsCap int) (bool, error) {
	return f.move(id, []string{models.JobQueued, models.JobFailed, models.JobPaused}, func(j *models.SocialJob) {
		j.Status = models.JobQueued
		j.NextAttemptAt = &now
		if j.Attempts > attemptsCap {
			j.Attempts = attemptsCap
		}
	}), nil
}

func (f *fakeJobs) Cancel(_ context.Context, id string, _ time.Time) (bool, error) {
	return f.move(id, []string{models.JobQueued, models.JobFailed, models.JobPaused}, func(j *models.SocialJob) { j.Status = models.JobCancelled }), nil
}

func (f *fakeJobs) CancelScheduled(_ context.Context, profileID string, scheduledAt, _ time.Time) (int64, error) {
	var n int64
	for _, j := range f.jobs {
		if j.ProfileID == profileID && j.ScheduledAt.Equal(scheduledAt) &&
			(j.Status == models.JobQueued || j.Status == models.JobFailed || j.Status == models.JobPaused) {
			j.Status = models.JobCancelled
			n++
		}
	}
	return n, nil
}

type fakeLimits struct {
	limits    map[string]models.RateLimit
	overrides map[string]models.RateLimitOverride
}

func newFakeLimits() *fakeLimits {
	return &fakeLimits{limits: map[string]models.RateLimit{}, overrides: map[string]models.RateLimitOverride{}}
}

func (f *fakeLimits) List(context.Context) ([]models.RateLimit, error) {
	var out []models.RateLimit
	for _, rl := range f.limits {
		out = append(out, rl)
	}
	return out, nil
}

func (f *fakeLimits) Upsert(_ context.Context, platform string, window, max int, now time.Time) error {
	rl, ok := f.limits[platform]
	if !ok {
		rl = models.RateLimit{Platform: platform, WindowStartedAt: now}
	}
	rl.WindowSeconds, rl.MaxActions = window, max
	f.limits[platform] = rl
	return nil
}

func (f *fakeLimits) ResetWindow(_ context.Context, platform string, now time.Time) (bool, error) {
	rl, ok := f.limits[platform]
	if !ok {
		return false, nil
	}
	rl.UsedActions, rl.WindowStartedAt = 0, now
	f.limits[platform] = rl
	return true, nil
}

func (f *fakeLimits) ListOverrides(context.Context) ([]models.RateLimitOverride, error) {
	var out []models.RateLimitOverride
	for _, ov := range f.overrides {
		out = append(out, ov)
	}
	return out, nil
}

func (f *fakeLimits) SetOverride(_ context.Context, ov models.RateLimitOverride) error {
	f.overrides[ov.Platform] = ov
	return nil
}

func (f *fakeLimits) ClearOverride(_ context.Context, platform string) (bool, error) {
	_, ok := f.overrides[platform]
	delete(f.overrides, platform)
	return ok, nil
}

type event struct {
	name, actor, subject string
	fields               map[string]interface{}
}

type recAudit struct{ events []event }

func (a *recAudit) Emit(_ context.Context, name, actor, subject string, fields map[string]interface{}) {
	a.events = append(a.events, event{name, actor, subject, fields})
}

type stubMedia struct{ err error }

func (m stubMedia) Validate(context.Context, []string) error { return m.err }

func newTestService(jobs ...models.SocialJob) (*Service, *fakeJobs, *fakeLimits, *recAudit) {
	fj := &fakeJobs{jobs: map[string]*models.SocialJob{}}
	for i := range jobs {
		j := jobs[i]
		fj.jobs[j.ID] = &j
	}
	fl := newFakeLimits()
	aud := &recAudit{}
	svc := NewService(fj, fl, stubMedia{}, aud, zap.NewNop())
	svc.now = func() time.Time { return now0 }
	return svc, fj, fl, aud
}

func TestRetryExhaustedJob(t *testing.T) {
	svc, fj, _, aud := newTestService(models.SocialJob{
		ID: "j1", Platform: "x", Status: models.JobFailed, Attempts: models.MaxAttempts,
	})

	res, err := svc.Retry(context.Background(), "alice", "j1")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !res.Applied {
		t.Error("retry not applied")
	}
	j := fj.jobs["j1"]
	if j.Status != models.JobQueued || j.Attempts != RetryAttemptsCap {
		t.Errorf("job = %+v", j)
	}
	if j.NextAttemptAt == nil || !j.NextAttemptAt.Equal(now0) {
		t.Errorf("next attempt = %v, want %v", j.NextAttemptAt, now0)
	}
	if len(aud.events) != 1 || aud.events[0].name != "social.queue.retry" || aud.events[0].actor != "alice" || aud.events[0].subject != "j1" {
		t.Errorf("audit = %+v", aud.events)
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name        string
		from        string
		action      func(*Service) (*TransitionResult, error)
		wantApplied bool
		wantStatus  string
	}{
		{"pause queued", models.JobQueued, func(s *Service) (*TransitionResult, error) { return s.Pause(context.Background(), "op", "j1") }, true, models.JobPaused},
		{"pause failed", models.JobFailed, func(s *Service) (*TransitionResult, error) { return s.Pause(context.Background(), "op", "j1") }, true, models.JobPaused},
		{"pause posting", models.JobPosting, func(s *Service) (*TransitionResult, error) { return s.Pause(context.Background(), "op", "j1") }, false, models.JobPosting},
		{"resume paused", models.JobPaused, func(s *Service) (*TransitionResult, error) { return s.Resume(context.Background(), "op", "j1") }, true, models.JobQueued},
		{"resume queued", models.JobQueued, func(s *Service) (*TransitionResult, error) { return s.Resume(context.Background(), "op", "j1") }, false, models.JobQueued},
		{"cancel paused", models.JobPaused, func(s *Service) (*TransitionResult, error) { return s.Cancel(context.Background(), "op", "j1") }, true, models.JobCancelled},
		{"cancel posted", models.JobPosted, func(s *Service) (*TransitionResult, error) { return s.Cancel(context.Background(), "op", "j1") }, false, models.JobPosted},
		{"cancel cancelled", models.JobCancelled, func(s *Service) (*TransitionResult, error) { return s.Cancel(context.Background(), "op", "j1") }, false, models.JobCancelled},
		{"retry posted", models.JobPosted, func(s *Service) (*TransitionResult, error) { return s.Retry(context.Background(), "op", "j1") }, false, models.JobPosted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _, _ := newTestService(models.SocialJob{ID: "j1", Platform: "x", Status: tt.from})
			res, err := tt.action(svc)
			if err != nil {
				t.Fatalf("action: %v", err)
			}
			if res.Applied != tt.wantApplied || res.Job.Status != tt.wantStatus {
				t.Errorf("result = applied %v status %s, want %v %s", res.Applied, res.Job.Status, tt.wantApplied, tt.wantStatus)
			}
		})
	}
}

func TestTransitionUnknownJob(t *testing.T) {
	svc, _, _, aud := newTestService()
	if _, err := svc.Pause(context.Background(), "op", "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
	if len(aud.events) != 0 {
		t.Errorf("audited a missing job: %+v", aud.events)
	}
}

func TestSetRateLimitValidation(t *testing.T) {
	svc, _, fl, aud := newTestService()
	ctx := context.Background()

	bad := []struct {
		platform    string
		window, max int
	}{
		{"", 60, 10},
		{"X Twitter", 60, 10},
		{"x", 0, 10},
		{"x", 60, -1},
	}
	for _, b := range bad {
		if err := svc.SetRateLimit(ctx, "op", b.platform, b.window, b.max); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("SetRateLimit(%q, %d, %d) err = %v, want ErrInvalidInput", b.platform, b.window, b.max, err)
		}
	}

	if err := svc.SetRateLimit(ctx, "op", "x", 900, 50); err != nil {
		t.Fatalf("SetRateLimit: %v", err)
	}
	if rl := fl.limits["x"]; rl.WindowSeconds != 900 || rl.MaxActions != 50 {
		t.Errorf("stored = %+v", rl)
	}
	if len(aud.events) != 1 || aud.events[0].name != "social.rl.updated" {
		t.Errorf("audit = %+v", aud.events)
	}
}

func TestResetWindow(t *testing.T) {
	svc, _, fl, _ := newTestService()
	ctx := context.Background()

	if err := svc.ResetWindow(ctx, "op", "x"); !errors.Is(err, ErrRateLimitNotFound) {
		t.Errorf("err = %v, want ErrRateLimitNotFound", err)
	}

	fl.limits["x"] = models.RateLimit{Platform: "x", WindowSeconds: 60, MaxActions: 5, UsedActions: 5, WindowStartedAt: now0.Add(-30 * time.Second)}
	if err := svc.ResetWindow(ctx, "op", "x"); err != nil {
		t.Fatalf("ResetWindow: %v", err)
	}
	if rl := fl.limits["x"]; rl.UsedActions != 0 || !rl.WindowStartedAt.Equal(now0) {
		t.Errorf("after reset = %+v", rl)
	}
}

func TestSetOverrideClamps(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	m := func(v int) *int { return &v }

	tests := []struct {
		name        string
		req         OverrideRequest
		wantFactor  float64
		wantMinutes int
		wantClamped bool
		wantErr     bool
	}{
		{"defaults", OverrideRequest{}, 1.5, 30, false, false},
		{"explicit", OverrideRequest{Factor: f(2), Minutes: m(60)}, 2, 60, false, false},
		{"factor below one", OverrideRequest{Factor: f(0.5)}, 1, 30, true, false},
		{"minutes too long", OverrideRequest{Minutes: m(1000)}, 1.5, 240, true, false},
		{"minutes zero means default", OverrideRequest{Minutes: m(0)}, 1.5, 30, false, false},
		{"factor zero means default", OverrideRequest{Factor: f(0), Minutes: m(10)}, 1.5, 10, false, false},
		{"negative factor", OverrideRequest{Factor: f(-2)}, 0, 0, false, true},
		{"negative minutes", OverrideRequest{Minutes: m(-5)}, 0, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, fl, _ := newTestService()
			res, err := svc.SetOverride(context.Background(), "op", "x", tt.req)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("err = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetOverride: %v", err)
			}
			if res.Factor != tt.wantFactor || res.Minutes != tt.wantMinutes || res.Clamped != tt.wantClamped {
				t.Errorf("result = %+v", res)
			}
			ov := fl.overrides["x"]
			if !ov.StartedAt.Equal(now0) || !ov.ExpiresAt.Equal(now0.Add(time.Duration(tt.wantMinutes)*time.Minute)) {
				t.Errorf("stored override = %+v", ov)
			}
		})
	}
}

func TestRateLimitsShowsEffectiveMax(t *testing.T) {
	svc, _, fl, _ := newTestService()
	fl.limits["x"] = models.RateLimit{Platform: "x", WindowSeconds: 60, MaxActions: 10, WindowStartedAt: now0}
	fl.limits["linkedin"] = models.RateLimit{Platform: "linkedin", WindowSeconds: 60, MaxActions: 4, WindowStartedAt: now0}
	fl.overrides["x"] = models.RateLimitOverride{Platform: "x", Factor: 2, StartedAt: now0.Add(-15 * time.Minute), ExpiresAt: now0.Add(15 * time.Minute)}
	fl.overrides["linkedin"] = models.RateLimitOverride{Platform: "linkedin", Factor: 3, StartedAt: now0.Add(-time.Hour), ExpiresAt: now0.Add(-time.Minute)}

	views, err := svc.RateLimits(context.Background())
	if err != nil {
		t.Fatalf("RateLimits: %v", err)
	}
	got := map[string]RateLimitView{}
	for _, v := range views {
		got[v.Platform] = v
	}
	if v := got["x"]; v.Override == nil || v.EffectiveMax != 15 {
		t.Errorf("x view = %+v", v)
	}
	if v := got["linkedin"]; v.Override != nil || v.EffectiveMax != 4 {
		t.Errorf("linkedin view = %+v", v)
	}
}

func TestClearOverride(t *testing.T) {
	svc, _, fl, aud := newTestService()
	fl.overrides["x"] = models.RateLimitOverride{Platform: "x", Factor: 2}

	removed, err := svc.ClearOverride(context.Background(), "op", "x")
	if err != nil || !removed {
		t.Fatalf("ClearOverride = %v, %v", removed, err)
	}
	if _, ok := fl.overrides["x"]; ok {
		t.Error("override still stored")
	}
	if aud.events[0].name != "social.rl.override_cleared" {
		t.Errorf("audit = %+v", aud.events)
	}
}

func TestEnqueue(t *testing.T) {
	svc, fj, _, aud := newTestService()
	ctx := context.Background()
	at := now0.Add(time.Hour)

	job, err := svc.Enqueue(ctx, "icadence", EnqueueRequest{ProfileID: "p1", Platform: "x", ScheduledAt: at, Text: "hi"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	stored := fj.jobs[job.ID]
	if stored == nil || stored.Status != models.JobQueued || stored.Content.Data().Text != "hi" || !stored.ScheduledAt.Equal(at) {
		t.Errorf("stored = %+v", stored)
	}
	if aud.events[0].name != "social.queue.enqueued" {
		t.Errorf("audit = %+v", aud.events)
	}

	if _, err := svc.Enqueue(ctx, "icadence", EnqueueRequest{ProfileID: "p1", Platform: "myspace", ScheduledAt: at, Text: "hi"}); !errors.Is(err, ErrUnknownPlatform) {
		t.Errorf("unknown platform err = %v", err)
	}
	long := strings.Repeat("é", MaxTextLength+1)
	if _, err := svc.Enqueue(ctx, "icadence", EnqueueRequest{ProfileID: "p1", Platform: "x", ScheduledAt: at, Text: long}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("long text err = %v", err)
	}
}

func TestEnqueueRejectsBadMedia(t *testing.T) {
	svc, fj, _, _ := newTestService()
	svc.media = stubMedia{err: errors.New("too large")}

	_, err := svc.Enqueue(context.Background(), "icadence", EnqueueRequest{
		ProfileID: "p1", Platform: "x", ScheduledAt: now0, MediaURLs: []string{"https://cdn/x.mp4"},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
	if len(fj.jobs) != 0 {
		t.Error("job stored despite bad media")
	}
}

func TestCancelScheduled(t *testing.T) {
	at := now0.Add(time.Hour)
	svc, fj, _, _ := newTestService(
		models.SocialJob{ID: "a", ProfileID: "p1", ScheduledAt: at, Status: models.JobQueued},
		models.SocialJob{ID: "b", ProfileID: "p1", ScheduledAt: at, Status: models.JobPosted},
		models.SocialJob{ID: "c", ProfileID: "p2", ScheduledAt: at, Status: models.JobQueued},
	)

	n, err := svc.CancelScheduled(context.Background(), "icadence", "p1", at)
	if err != nil {
		t.Fatalf("CancelScheduled: %v", err)
	}
	if n != 1 || fj.jobs["a"].Status != models.JobCancelled || fj.jobs["b"].Status != models.JobPosted || fj.jobs["c"].Status != models.JobQueued {
		t.Errorf("n = %d, jobs = %+v %+v %+v", n, fj.jobs["a"], fj.jobs["b"], fj.jobs["c"])
	}
}

func TestListJobsValidatesFilter(t *testing.T) {
	svc, _, _, _ := newTestService(models.SocialJob{ID: "a", Platform: "x", Status: models.JobFailed})
	ctx := context.Background()

	if _, err := svc.ListJobs(ctx, repository.JobFilter{Status: "exploded"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v", err)
	}
	jobs, err := svc.ListJobs(ctx, repository.JobFilter{Status: models.JobFailed})
	if err != nil || len(jobs) != 1 {
		t.Errorf("ListJobs = %v, %v", jobs, err)
	}
}
