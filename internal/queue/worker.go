package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gigster/internal/audit"
	"gigster/internal/models"
	"gigster/internal/platform"
	"gigster/internal/pkg/utils"
	"gigster/internal/ratelimit"
)

const (
	maxErrorLen  = 500 // bytes
	staleReason  = "stale posting reaped"
	defaultBatch = 10
)

// JobStore is the slice of the job repository the worker needs.
type JobStore interface {
	ListReady(ctx context.Context, now time.Time, limit int) ([]models.SocialJob, error)
	FindByID(ctx context.Context, id string) (*models.SocialJob, error)
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}, onlyFrom ...string) (bool, error)
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	FinishAttempt(ctx context.Context, id string, fields map[string]interface{}) (bool, error)
	ReapStalePosting(ctx context.Context, staleBefore, now, nextAttemptAt time.Time, maxAttempts int, reason string) (int64, error)
}

// RateLimiter gates one attempt per call.
type RateLimiter interface {
	TryConsume(ctx context.Context, platform string) (ratelimit.Decision, error)
}

// AdapterResolver returns the adapter for a platform.
type AdapterResolver interface {
	Resolve(name string) (platform.Adapter, error)
}

// Outcome classifies what one Process call did to a job.
type Outcome string

const (
	OutcomeSkipped     Outcome = "skipped"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomePosted      Outcome = "posted"
	OutcomeRetrying    Outcome = "retry_scheduled"
	OutcomeExhausted   Outcome = "exhausted"
	// OutcomeStoreError means the job could not be read or written; its row
	// is left for the next tick or the stale reaper.
	OutcomeStoreError Outcome = "store_error"
)

// Result is the explicit outcome of processing one job. Process never
// returns an error; every failure lands here and the loop moves on.
type Result struct {
	JobID         string
	Outcome       Outcome
	Attempts      int
	NextAttemptAt *time.Time
	RemoteID      string
	Err           error
}

type Options struct {
	PollInterval time.Duration
	BatchSize    int
	StaleAfter   time.Duration
}

// Worker polls the job store and publishes ready jobs.
type Worker struct {
	jobs     JobStore
	limiter  RateLimiter
	adapters AdapterResolver
	audit    audit.Emitter
	logger   *zap.Logger
	opts     Options

	now    func() time.Time
	jitter func() time.Duration
}

func NewWorker(jobs JobStore, limiter RateLimiter, adapters AdapterResolver, auditor audit.Emitter, opts Options, logger *zap.Logger) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatch
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 15 * time.Minute
	}
	return &Worker{
		jobs:     jobs,
		limiter:  limiter,
		adapters: adapters,
		audit:    auditor,
		logger:   logger,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		jitter:   RandomJitter,
	}
}

// Run polls until ctx is cancelled. The first tick runs immediately.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Social worker started",
		zap.Duration("poll_interval", w.opts.PollInterval),
		zap.Int("batch_size", w.opts.BatchSize))

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		w.safeTick(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("Social worker stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Social worker tick panicked", zap.Any("error", r))
		}
	}()
	w.Tick(ctx)
}

// Tick processes one batch of ready jobs.
func (w *Worker) Tick(ctx context.Context) []Result {
	jobs, err := w.jobs.ListReady(ctx, w.now(), w.opts.BatchSize)
	if err != nil {
		w.logger.Error("Failed to list ready social jobs", zap.Error(err))
		return nil
	}

	results := make([]Result, 0, len(jobs))
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		res := w.Process(ctx, &jobs[i])
		w.logResult(&jobs[i], res)
		results = append(results, res)
	}
	return results
}

// Process runs a single job through the rate limiter and its adapter. The job
// is claimed before a token is spent, so workers racing for the same row
// charge the budget once.
func (w *Worker) Process(ctx context.Context, job *models.SocialJob) Result {
	now := w.now()

	current, err := w.jobs.FindByID(ctx, job.ID)
	if err != nil {
		return Result{JobID: job.ID, Outcome: OutcomeStoreError, Err: err}
	}
	if current == nil || !current.IsReady(now) {
		return Result{JobID: job.ID, Outcome: OutcomeSkipped}
	}

	claimed, err := w.jobs.Claim(ctx, current.ID, now)
	if err != nil {
		return Result{JobID: current.ID, Outcome: OutcomeStoreError, Attempts: current.Attempts, Err: err}
	}
	if !claimed {
		return Result{JobID: current.ID, Outcome: OutcomeSkipped, Attempts: current.Attempts}
	}

	// From here the row is ours in posting; every exit must move it on, even
	// when shutdown cancels ctx.
	decision, err := w.limiter.TryConsume(ctx, current.Platform)
	if err != nil {
		if _, relErr := w.release(context.WithoutCancel(ctx), current, current.NextAttemptAt); relErr != nil {
			err = errors.Join(err, relErr)
		}
		return Result{JobID: current.ID, Outcome: OutcomeStoreError, Attempts: current.Attempts, Err: err}
	}
	if !decision.Allowed {
		return w.deferJob(context.WithoutCancel(ctx), current, decision, now)
	}

	w.audit.Emit(ctx, audit.QueuePosting, audit.SystemActor, current.ID, map[string]interface{}{
		"platform": current.Platform,
		"attempt":  current.Attempts + 1,
	})

	res, adapterErr := w.publish(ctx, current)
	return w.finish(context.WithoutCancel(ctx), current, res, adapterErr)
}

// release hands a claimed job back in its previous status with the given next
// attempt. Nothing is written once the row has left posting.
func (w *Worker) release(ctx context.Context, job *models.SocialJob, next *time.Time) (bool, error) {
	return w.jobs.UpdateFields(ctx, job.ID, map[string]interface{}{
		"status":          job.Status,
		"next_attempt_at": next,
		"last_error":      job.LastError,
		"updated_at":      w.now(),
	}, models.JobPosting)
}

// deferJob pushes a rate-limited job back without charging an attempt.
func (w *Worker) deferJob(ctx context.Context, job *models.SocialJob, d ratelimit.Decision, now time.Time) Result {
	wait := d.RetryAfter
	if wait <= 0 {
		wait = Backoff(job.Attempts, w.jitter())
	}
	next := now.Add(wait)

	released, err := w.release(ctx, job, &next)
	if err != nil {
		return Result{JobID: job.ID, Outcome: OutcomeStoreError, Attempts: job.Attempts, Err: err}
	}
	if !released {
		return Result{JobID: job.ID, Outcome: OutcomeSkipped, Attempts: job.Attempts}
	}

	w.audit.Emit(ctx, audit.QueueRateLimit, audit.SystemActor, job.ID, map[string]interface{}{
		"platform":     job.Platform,
		"retryAfterMs": wait.Milliseconds(),
	})
	return Result{JobID: job.ID, Outcome: OutcomeRateLimited, Attempts: job.Attempts, NextAttemptAt: &next}
}

// publish calls the adapter. A panic or a missing adapter is reported as an
// error alongside a failed result.
func (w *Worker) publish(ctx context.Context, job *models.SocialJob) (res platform.PostResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic: %v", r)
			res = platform.Failed(err.Error(), true)
		}
	}()

	adapter, err := w.adapters.Resolve(job.Platform)
	if err != nil {
		return platform.Failed(err.Error(), false), err
	}

	content := job.Content.Data()
	return adapter.Post(ctx, platform.PostInput{
		ProfileID: job.ProfileID,
		Platform:  job.Platform,
		Text:      content.Text,
		MediaURLs: content.MediaURLs,
	}), nil
}

func (w *Worker) finish(ctx context.Context, job *models.SocialJob, res platform.PostResult, adapterErr error) Result {
	now := w.now()
	attempts := job.Attempts + 1

	if res.OK && adapterErr == nil {
		_, err := w.jobs.FinishAttempt(ctx, job.ID, map[string]interface{}{
			"status":          models.JobPosted,
			"attempts":        attempts,
			"last_error":      nil,
			"next_attempt_at": nil,
			"updated_at":      now,
		})
		if err != nil {
			return Result{JobID: job.ID, Outcome: OutcomeStoreError, Attempts: job.Attempts, Err: err}
		}
		w.audit.Emit(ctx, audit.QueuePosted, audit.SystemActor, job.ID, map[string]interface{}{
			"platform": job.Platform,
			"remoteId": res.RemoteID,
			"attempts": attempts,
		})
		return Result{JobID: job.ID, Outcome: OutcomePosted, Attempts: attempts, RemoteID: res.RemoteID}
	}

	msg := res.Error
	if msg == "" {
		msg = "post failed"
	}
	msg = utils.TrimErr(msg, maxErrorLen)

	outcome := OutcomeExhausted
	var next *time.Time
	if attempts < models.MaxAttempts {
		t := now.Add(Backoff(attempts, w.jitter()))
		next = &t
		outcome = OutcomeRetrying
	}

	_, err := w.jobs.FinishAttempt(ctx, job.ID, map[string]interface{}{
		"status":          models.JobFailed,
		"attempts":        attempts,
		"last_error":      msg,
		"next_attempt_at": next,
		"updated_at":      now,
	})
	if err != nil {
		return Result{JobID: job.ID, Outcome: OutcomeStoreError, Attempts: job.Attempts, Err: err}
	}

	event := audit.QueueFailed
	if adapterErr != nil {
		event = audit.QueueError
	}
	w.audit.Emit(ctx, event, audit.SystemActor, job.ID, map[string]interface{}{
		"platform":  job.Platform,
		"attempts":  attempts,
		"error":     msg,
		"transient": res.Transient,
		"exhausted": next == nil,
	})

	failure := adapterErr
	if failure == nil {
		failure = errors.New(msg)
	}
	return Result{JobID: job.ID, Outcome: outcome, Attempts: attempts, NextAttemptAt: next, Err: failure}
}

// ReapStale demotes jobs stuck in posting longer than StaleAfter to failed,
// charging the lost attempt.
func (w *Worker) ReapStale(ctx context.Context) (int64, error) {
	now := w.now()
	next := now.Add(Backoff(0, w.jitter()))
	n, err := w.jobs.ReapStalePosting(ctx, now.Add(-w.opts.StaleAfter), now, next, models.MaxAttempts, staleReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.Warn("Reaped stale posting jobs", zap.Int64("count", n), zap.Duration("stale_after", w.opts.StaleAfter))
		w.audit.Emit(ctx, audit.QueueReaped, audit.SystemActor, "social_queue", map[string]interface{}{
			"count":        n,
			"staleSeconds": int64(w.opts.StaleAfter.Seconds()),
		})
	}
	return n, nil
}

func (w *Worker) logResult(job *models.SocialJob, res Result) {
	fields := []zap.Field{
		zap.String("job_id", res.JobID),
		zap.String("platform", job.Platform),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("attempts", res.Attempts),
	}
	if res.NextAttemptAt != nil {
		fields = append(fields, zap.Time("next_attempt_at", *res.NextAttemptAt))
	}

	switch res.Outcome {
	case OutcomeStoreError:
		w.logger.Error("Social job store failure", append(fields, zap.Error(res.Err))...)
	case OutcomeExhausted:
		w.logger.Warn("Social job exhausted retries", append(fields, zap.Error(res.Err))...)
	case OutcomeRetrying:
		w.logger.Info("Social job failed, retry scheduled", append(fields, zap.Error(res.Err))...)
	case OutcomePosted:
		w.logger.Info("Social job posted", append(fields, zap.String("remote_id", res.RemoteID))...)
	default:
		w.logger.Debug("Social job processed", fields...)
	}
}
