package ops

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gigster/internal/audit"
	"gigster/internal/models"
	"gigster/internal/pkg/utils"
	"gigster/internal/ratelimit"
	"gigster/internal/repository"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrRateLimitNotFound = errors.New("rate limit not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnknownPlatform   = errors.New("unknown platform")
)

const (
	// RetryAttemptsCap is the attempt count a retried job is lowered to.
	RetryAttemptsCap = 1

	DefaultOverrideFactor  = 1.5
	DefaultOverrideMinutes = 30
	MinOverrideMinutes     = 1
	MaxOverrideMinutes     = 240

	MaxTextLength = 2800
)

var platformPattern = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// JobStore is the job repository surface used by operators.
type JobStore interface {
	Create(ctx context.Context, job *models.SocialJob) error
	FindByID(ctx context.Context, id string) (*models.SocialJob, error)
	List(ctx context.Context, f repository.JobFilter) ([]models.SocialJob, error)
	Pause(ctx context.Context, id string, now time.Time) (bool, error)
	Resume(ctx context.Context, id string, now time.Time) (bool, error)
	Retry(ctx context.Context, id string, now time.Time, attemptsCap int) (bool, error)
	Cancel(ctx context.Context, id string, now time.Time) (bool, error)
	CancelScheduled(ctx context.Context, profileID string, scheduledAt, now time.Time) (int64, error)
}

// RateLimitStore is the rate-limit repository surface used by operators.
type RateLimitStore interface {
	List(ctx context.Context) ([]models.RateLimit, error)
	Upsert(ctx context.Context, platform string, windowSeconds, maxActions int, now time.Time) error
	ResetWindow(ctx context.Context, platform string, now time.Time) (bool, error)
	ListOverrides(ctx context.Context) ([]models.RateLimitOverride, error)
	SetOverride(ctx context.Context, ov models.RateLimitOverride) error
	ClearOverride(ctx context.Context, platform string) (bool, error)
}

// MediaValidator checks media URLs before a job is accepted.
type MediaValidator interface {
	Validate(ctx context.Context, urls []string) error
}

// Service implements the operator control plane over jobs and budgets.
type Service struct {
	jobs   JobStore
	limits RateLimitStore
	media  MediaValidator
	audit  audit.Emitter
	logger *zap.Logger
	now    func() time.Time
}

func NewService(jobs JobStore, limits RateLimitStore, media MediaValidator, auditor audit.Emitter, logger *zap.Logger) *Service {
	return &Service{
		jobs:   jobs,
		limits: limits,
		media:  media,
		audit:  auditor,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ---- Jobs ----

// ListJobs returns jobs matching the filter.
func (s *Service) ListJobs(ctx context.Context, f repository.JobFilter) ([]models.SocialJob, error) {
	if f.Status != "" && !isStatus(f.Status) {
		return nil, invalid("unknown status %q", f.Status)
	}
	if f.Platform != "" && !platformPattern.MatchString(f.Platform) {
		return nil, invalid("bad platform %q", f.Platform)
	}
	return s.jobs.List(ctx, f)
}

// GetJob returns a job or ErrJobNotFound.
func (s *Service) GetJob(ctx context.Context, id string) (*models.SocialJob, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// TransitionResult reports whether an ops action changed the job, and the job
// as it stands afterwards.
type TransitionResult struct {
	Applied bool              `json:"applied"`
	Job     *models.SocialJob `json:"job"`
}

// Pause moves a queued or failed job to paused.
func (s *Service) Pause(ctx context.Context, actor, id string) (*TransitionResult, error) {
	return s.transition(ctx, actor, id, audit.QueuePaused, nil, func(now time.Time) (bool, error) {
		return s.jobs.Pause(ctx, id, now)
	})
}

// Resume moves a paused job back to queued and clears its backoff.
func (s *Service) Resume(ctx context.Context, actor, id string) (*TransitionResult, error) {
	return s.transition(ctx, actor, id, audit.QueueResumed, nil, func(now time.Time) (bool, error) {
		return s.jobs.Resume(ctx, id, now)
	})
}

// Retry requeues a job for immediate pickup with its attempts lowered to
// RetryAttemptsCap.
func (s *Service) Retry(ctx context.Context, actor, id string) (*TransitionResult, error) {
	return s.transition(ctx, actor, id, audit.QueueRetry, map[string]interface{}{"attemptsCap": RetryAttemptsCap}, func(now time.Time) (bool, error) {
		return s.jobs.Retry(ctx, id, now, RetryAttemptsCap)
	})
}

// Cancel stops future pickup of a job. Terminal jobs are left untouched.
func (s *Service) Cancel(ctx context.Context, actor, id string) (*TransitionResult, error) {
	return s.transition(ctx, actor, id, audit.QueueCancelled, nil, func(now time.Time) (bool, error) {
		return s.jobs.Cancel(ctx, id, now)
	})
}

func (s *Service) transition(ctx context.Context, actor, id, event string, fields map[string]interface{}, apply func(now time.Time) (bool, error)) (*TransitionResult, error) {
	applied, err := apply(s.now())
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}

	if !applied {
		s.logger.Debug("Ops action left job unchanged", zap.String("event", event), zap.String("job_id", id), zap.String("status", job.Status))
	}

	payload := map[string]interface{}{"applied": applied, "status": job.Status}
	for k, v := range fields {
		payload[k] = v
	}
	s.audit.Emit(ctx, event, actor, id, payload)

	return &TransitionResult{Applied: applied, Job: job}, nil
}

// EnqueueRequest describes a post handed over by an upstream scheduler.
type EnqueueRequest struct {
	ProfileID   string
	Platform    string
	ScheduledAt time.Time
	Text        string
	MediaURLs   []string
}

// Enqueue validates and inserts a new queued job.
func (s *Service) Enqueue(ctx context.Context, actor string, req EnqueueRequest) (*models.SocialJob, error) {
	if req.ProfileID == "" {
		return nil, invalid("profileId is required")
	}
	if !models.IsKnownPlatform(req.Platform) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, req.Platform)
	}
	if req.ScheduledAt.IsZero() {
		return nil, invalid("scheduledAt is required")
	}
	if req.Text == "" && len(req.MediaURLs) == 0 {
		return nil, invalid("content is empty")
	}
	if utils.RuneLen(req.Text) > MaxTextLength {
		return nil, invalid("text exceeds %d characters", MaxTextLength)
	}
	if s.media != nil && len(req.MediaURLs) > 0 {
		if err := s.media.Validate(ctx, req.MediaURLs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	now := s.now()
	job := &models.SocialJob{
		ID:          utils.GenerateUUID(),
		ProfileID:   req.ProfileID,
		Platform:    req.Platform,
		Content:     datatypes.NewJSONType(models.PostContent{Text: req.Text, MediaURLs: req.MediaURLs}),
		ScheduledAt: req.ScheduledAt.UTC(),
		Status:      models.JobQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.audit.Emit(ctx, audit.QueueEnqueued, actor, job.ID, map[string]interface{}{
		"profileId":   job.ProfileID,
		"platform":    job.Platform,
		"scheduledAt": job.ScheduledAt,
		"mediaCount":  len(req.MediaURLs),
	})
	return job, nil
}

// CancelScheduled cancels the pending jobs of a profile at a schedule time.
func (s *Service) CancelScheduled(ctx context.Context, actor, profileID string, scheduledAt time.Time) (int64, error) {
	if profileID == "" || scheduledAt.IsZero() {
		return 0, invalid("profileId and scheduledAt are required")
	}
	n, err := s.jobs.CancelScheduled(ctx, profileID, scheduledAt.UTC(), s.now())
	if err != nil {
		return 0, err
	}
	s.audit.Emit(ctx, audit.QueueDeleted, actor, profileID, map[string]interface{}{
		"scheduledAt": scheduledAt.UTC(),
		"cancelled":   n,
	})
	return n, nil
}

// ---- Rate limits ----

// RateLimitView is a platform budget with its override resolved at read time.
type RateLimitView struct {
	models.RateLimit
	Override        *models.RateLimitOverride `json:"override"`
	EffectiveFactor float64                   `json:"effective_factor"`
	EffectiveMax    int                       `json:"effective_max"`
}

// RateLimits lists every budget with its active override and effective cap.
func (s *Service) RateLimits(ctx context.Context) ([]RateLimitView, error) {
	limits, err := s.limits.List(ctx)
	if err != nil {
		return nil, err
	}
	overrides, err := s.limits.ListOverrides(ctx)
	if err != nil {
		return nil, err
	}
	byPlatform := make(map[string]models.RateLimitOverride, len(overrides))
	for _, ov := range overrides {
		byPlatform[ov.Platform] = ov
	}

	now := s.now()
	views := make([]RateLimitView, 0, len(limits))
	for _, rl := range limits {
		v := RateLimitView{RateLimit: rl, EffectiveFactor: 1, EffectiveMax: rl.MaxActions}
		if ov, ok := byPlatform[rl.Platform]; ok {
			factor, expired := ratelimit.EffectiveFactor(&ov, now)
			if !expired {
				ov := ov
				v.Override = &ov
				v.EffectiveFactor = factor
				v.EffectiveMax, _ = ratelimit.EffectiveMax(rl.MaxActions, &ov, now)
			}
		}
		views = append(views, v)
	}
	return views, nil
}

// SetRateLimit creates or reconfigures a platform budget.
func (s *Service) SetRateLimit(ctx context.Context, actor, platform string, windowSeconds, maxActions int) error {
	if !platformPattern.MatchString(platform) {
		return invalid("platform must match %s", platformPattern.String())
	}
	if windowSeconds <= 0 {
		return invalid("window_seconds must be positive")
	}
	if maxActions <= 0 {
		return invalid("max_actions must be positive")
	}

	if err := s.limits.Upsert(ctx, platform, windowSeconds, maxActions, s.now()); err != nil {
		return err
	}
	s.audit.Emit(ctx, audit.RLUpdated, actor, platform, map[string]interface{}{
		"windowSeconds": windowSeconds,
		"maxActions":    maxActions,
	})
	return nil
}

// ResetWindow restarts a platform's window now.
func (s *Service) ResetWindow(ctx context.Context, actor, platform string) error {
	ok, err := s.limits.ResetWindow(ctx, platform, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrRateLimitNotFound
	}
	s.audit.Emit(ctx, audit.RLReset, actor, platform, nil)
	return nil
}

// OverrideRequest carries optional override parameters; nil takes the default.
type OverrideRequest struct {
	Factor  *float64
	Minutes *int
}

// OverrideResult is the override as stored, after clamping.
type OverrideResult struct {
	Platform  string    `json:"platform"`
	Factor    float64   `json:"factor"`
	Minutes   int       `json:"minutes"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Clamped   bool      `json:"clamped"`
}

// SetOverride creates or replaces a platform's burst override. A missing or
// zero factor or duration takes the default. The factor is floored at 1 and
// the duration clamped to [1, 240] minutes; the applied values are returned.
func (s *Service) SetOverride(ctx context.Context, actor, platform string, req OverrideRequest) (*OverrideResult, error) {
	if !platformPattern.MatchString(platform) {
		return nil, invalid("platform must match %s", platformPattern.String())
	}

	factor := DefaultOverrideFactor
	if req.Factor != nil && *req.Factor != 0 {
		factor = *req.Factor
	}
	if math.IsNaN(factor) || math.IsInf(factor, 0) || factor < 0 {
		return nil, invalid("factor must be a finite non-negative number")
	}
	minutes := DefaultOverrideMinutes
	if req.Minutes != nil && *req.Minutes != 0 {
		minutes = *req.Minutes
	}
	if minutes < 0 {
		return nil, invalid("minutes must not be negative")
	}

	clamped := false
	if factor < 1 {
		factor, clamped = 1, true
	}
	if minutes < MinOverrideMinutes {
		minutes, clamped = MinOverrideMinutes, true
	}
	if minutes > MaxOverrideMinutes {
		minutes, clamped = MaxOverrideMinutes, true
	}

	now := s.now()
	ov := models.RateLimitOverride{
		Platform:  platform,
		Factor:    factor,
		StartedAt: now,
		ExpiresAt: now.Add(time.Duration(minutes) * time.Minute),
	}
	if err := s.limits.SetOverride(ctx, ov); err != nil {
		return nil, err
	}

	s.audit.Emit(ctx, audit.RLOverrideSet, actor, platform, map[string]interface{}{
		"factor":    factor,
		"minutes":   minutes,
		"expiresAt": ov.ExpiresAt,
		"clamped":   clamped,
	})
	return &OverrideResult{
		Platform:  platform,
		Factor:    factor,
		Minutes:   minutes,
		StartedAt: ov.StartedAt,
		ExpiresAt: ov.ExpiresAt,
		Clamped:   clamped,
	}, nil
}

// ClearOverride removes a platform's override. It reports whether one existed.
func (s *Service) ClearOverride(ctx context.Context, actor, platform string) (bool, error) {
	removed, err := s.limits.ClearOverride(ctx, platform)
	if err != nil {
		return false, err
	}
	s.audit.Emit(ctx, audit.RLOverrideClear, actor, platform, map[string]interface{}{"removed": removed})
	return removed, nil
}

func isStatus(s string) bool {
	for _, st := range models.JobStatuses() {
		if st == s {
			return true
		}
	}
	return false
}
