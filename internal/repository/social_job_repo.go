package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gigster/internal/models"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// pickupCondition matches queued jobs and failed jobs that still have a retry
// scheduled.
var pickupCondition = clause.Expr{
	SQL:  "(status = ? OR (status = ? AND next_attempt_at IS NOT NULL))",
	Vars: []interface{}{models.JobQueued, models.JobFailed},
}

// JobFilter narrows the monitoring list query.
type JobFilter struct {
	Status   string
	Platform string
	Limit    int
}

// SocialJobRepository is the job store for scheduled posts.
type SocialJobRepository struct {
	db *gorm.DB
}

func NewSocialJobRepository(db *gorm.DB) *SocialJobRepository {
	return &SocialJobRepository{db: db}
}

// Create inserts a new job.
func (r *SocialJobRepository) Create(ctx context.Context, job *models.SocialJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// FindByID returns the job or nil when it does not exist.
func (r *SocialJobRepository) FindByID(ctx context.Context, id string) (*models.SocialJob, error) {
	var job models.SocialJob
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListReady returns jobs eligible for pickup, oldest schedule first. A failed
// job without a next attempt has exhausted its retries and waits for an
// operator.
func (r *SocialJobRepository) ListReady(ctx context.Context, now time.Time, limit int) ([]models.SocialJob, error) {
	if limit <= 0 {
		limit = 10
	}
	var jobs []models.SocialJob
	err := r.db.WithContext(ctx).
		Where(pickupCondition).
		Where("scheduled_at <= ?", now).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}

	ready := jobs[:0]
	for _, j := range jobs {
		if j.IsReady(now) {
			ready = append(ready, j)
		}
	}
	return ready, nil
}

// List returns jobs for the monitoring view, newest schedule first.
func (r *SocialJobRepository) List(ctx context.Context, f JobFilter) ([]models.SocialJob, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	q := r.db.WithContext(ctx).Model(&models.SocialJob{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Platform != "" {
		q = q.Where("platform = ?", f.Platform)
	}

	var jobs []models.SocialJob
	err := q.Order("scheduled_at DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// UpdateFields applies a partial update to one job. With onlyFrom set the
// write lands only while the job is in one of those statuses; otherwise the
// last writer wins. It reports whether a row was changed.
func (r *SocialJobRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}, onlyFrom ...string) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.SocialJob{}).Where("id = ?", id)
	if len(onlyFrom) > 0 {
		q = q.Where("status IN ?", onlyFrom)
	}
	res := q.Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Claim moves a ready job into posting. It reports false when another worker
// or an operator got there first, or when the job has exhausted its retries.
func (r *SocialJobRepository) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.SocialJob{}).
		Where("id = ?", id).
		Where(pickupCondition).
		Updates(map[string]interface{}{
			"status":     models.JobPosting,
			"last_error": nil,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FinishAttempt records the outcome of an adapter call for a job the worker claimed.
// A job reaped to failed while the call was in flight still accepts the outcome.
func (r *SocialJobRepository) FinishAttempt(ctx context.Context, id string, fields map[string]interface{}) (bool, error) {
	return r.transition(ctx, id, []string{models.JobPosting, models.JobFailed}, fields)
}

func (r *SocialJobRepository) Pause(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.transition(ctx, id, []string{models.JobQueued, models.JobFailed}, map[string]interface{}{
		"status":     models.JobPaused,
		"updated_at": now,
	})
}

func (r *SocialJobRepository) Resume(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.transition(ctx, id, []string{models.JobPaused}, map[string]interface{}{
		"status":          models.JobQueued,
		"next_attempt_at": nil,
		"updated_at":      now,
	})
}

// Retry requeues a job for immediate pickup and caps its attempt counter so the
// next failure starts a fresh backoff curve.
func (r *SocialJobRepository) Retry(ctx context.Context, id string, now time.Time, attemptsCap int) (bool, error) {
	return r.transition(ctx, id, []string{models.JobQueued, models.JobFailed, models.JobPaused}, map[string]interface{}{
		"status":          models.JobQueued,
		"next_attempt_at": now,
		"attempts":        gorm.Expr("CASE WHEN attempts > ? THEN ? ELSE attempts END", attemptsCap, attemptsCap),
		"updated_at":      now,
	})
}

func (r *SocialJobRepository) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.transition(ctx, id, []string{models.JobQueued, models.JobFailed, models.JobPaused}, map[string]interface{}{
		"status":     models.JobCancelled,
		"updated_at": now,
	})
}

// CancelScheduled cancels every still-pending job of a profile at the given schedule time.
func (r *SocialJobRepository) CancelScheduled(ctx context.Context, profileID string, scheduledAt, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.SocialJob{}).
		Where("profile_id = ? AND scheduled_at = ? AND status IN ?", profileID, scheduledAt,
			[]string{models.JobQueued, models.JobFailed, models.JobPaused}).
		Updates(map[string]interface{}{
			"status":     models.JobCancelled,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// ReapStalePosting demotes jobs stuck in posting since before staleBefore back to
// failed. The lost attempt is charged; jobs that run out of attempts are left
// without a next attempt.
func (r *SocialJobRepository) ReapStalePosting(ctx context.Context, staleBefore, now, nextAttemptAt time.Time, maxAttempts int, reason string) (int64, error) {
	var reaped int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exhausted := tx.Model(&models.SocialJob{}).
			Where("status = ? AND updated_at < ? AND attempts + 1 >= ?", models.JobPosting, staleBefore, maxAttempts).
			Updates(map[string]interface{}{
				"status":          models.JobFailed,
				"attempts":        gorm.Expr("attempts + 1"),
				"last_error":      reason,
				"next_attempt_at": nil,
				"updated_at":      now,
			})
		if exhausted.Error != nil {
			return exhausted.Error
		}

		retrying := tx.Model(&models.SocialJob{}).
			Where("status = ? AND updated_at < ?", models.JobPosting, staleBefore).
			Updates(map[string]interface{}{
				"status":          models.JobFailed,
				"attempts":        gorm.Expr("attempts + 1"),
				"last_error":      reason,
				"next_attempt_at": nextAttemptAt,
				"updated_at":      now,
			})
		if retrying.Error != nil {
			return retrying.Error
		}

		reaped = exhausted.RowsAffected + retrying.RowsAffected
		return nil
	})
	return reaped, err
}

// CountByStatus returns the number of jobs per status.
func (r *SocialJobRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&models.SocialJob{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// OutcomeCountsSince returns how many jobs were touched since the given time and
// how many of them are failed.
func (r *SocialJobRepository) OutcomeCountsSince(ctx context.Context, since time.Time) (total, failed int64, err error) {
	var row struct {
		Total  int64
		Failed int64
	}
	err = r.db.WithContext(ctx).Model(&models.SocialJob{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed", models.JobFailed).
		Where("updated_at >= ?", since).
		Scan(&row).Error
	return row.Total, row.Failed, err
}

// OldestPendingScheduledAt returns the earliest schedule time among due jobs
// still awaiting pickup, or nil when there are none.
func (r *SocialJobRepository) OldestPendingScheduledAt(ctx context.Context, now time.Time) (*time.Time, error) {
	var job models.SocialJob
	err := r.db.WithContext(ctx).
		Select("scheduled_at").
		Where(pickupCondition).
		Where("scheduled_at <= ?", now).
		Order("scheduled_at ASC").
		Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := job.ScheduledAt
	return &t, nil
}

func (r *SocialJobRepository) transition(ctx context.Context, id string, from []string, updates map[string]interface{}) (bool, error) {
	return r.UpdateFields(ctx, id, updates, from...)
}
