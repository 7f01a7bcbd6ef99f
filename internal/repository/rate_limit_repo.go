package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gigster/internal/models"
	"gigster/internal/ratelimit"
)

// RateLimitRepository persists per-platform budgets, burst overrides and the
// usage events emitted when tokens are spent.
type RateLimitRepository struct {
	db            *gorm.DB
	defaultWindow int
	defaultMax    int
}

var _ ratelimit.Store = (*RateLimitRepository)(nil)

func NewRateLimitRepository(db *gorm.DB, defaultWindowSeconds, defaultMaxActions int) *RateLimitRepository {
	if defaultWindowSeconds <= 0 {
		defaultWindowSeconds = 60
	}
	if defaultMaxActions <= 0 {
		defaultMaxActions = 60
	}
	return &RateLimitRepository{db: db, defaultWindow: defaultWindowSeconds, defaultMax: defaultMaxActions}
}

// WithLockedBudget runs fn with the platform row held by SELECT ... FOR UPDATE
// and persists the budget, override removal and usage events in the same
// transaction.
func (r *RateLimitRepository) WithLockedBudget(ctx context.Context, platform string, now time.Time, fn func(b *ratelimit.Budget) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rl, err := r.lockRow(tx, platform)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			seed := models.RateLimit{
				Platform:        platform,
				WindowSeconds:   r.defaultWindow,
				MaxActions:      r.defaultMax,
				WindowStartedAt: now,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
				return err
			}
			rl, err = r.lockRow(tx, platform)
		}
		if err != nil {
			return err
		}

		budget := &ratelimit.Budget{Limit: *rl}
		var ov models.RateLimitOverride
		err = tx.Where("platform = ?", platform).Take(&ov).Error
		switch {
		case err == nil:
			budget.Override = &ov
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if err := fn(budget); err != nil {
			return err
		}

		if budget.Limit.UsedActions != rl.UsedActions || !budget.Limit.WindowStartedAt.Equal(rl.WindowStartedAt) {
			err := tx.Model(&models.RateLimit{}).Where("platform = ?", platform).Updates(map[string]interface{}{
				"used_actions":      budget.Limit.UsedActions,
				"window_started_at": budget.Limit.WindowStartedAt,
				"updated_at":        now,
			}).Error
			if err != nil {
				return err
			}
		}

		if budget.DropOverride && budget.Override != nil {
			if err := tx.Where("platform = ?", platform).Delete(&models.RateLimitOverride{}).Error; err != nil {
				return err
			}
		}

		if budget.Consumed > 0 {
			events := make([]models.UsageEvent, 0, budget.Consumed)
			for i := 0; i < budget.Consumed; i++ {
				events = append(events, models.UsageEvent{Platform: platform, UsedAt: now, Amount: 1})
			}
			if err := tx.Create(&events).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *RateLimitRepository) lockRow(tx *gorm.DB, platform string) (*models.RateLimit, error) {
	var rl models.RateLimit
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("platform = ?", platform).
		Take(&rl).Error
	if err != nil {
		return nil, err
	}
	return &rl, nil
}

// List returns every configured platform budget.
func (r *RateLimitRepository) List(ctx context.Context) ([]models.RateLimit, error) {
	var rows []models.RateLimit
	err := r.db.WithContext(ctx).Order("platform ASC").Find(&rows).Error
	return rows, err
}

// Upsert creates or reconfigures a platform budget. Usage of an existing
// window is kept.
func (r *RateLimitRepository) Upsert(ctx context.Context, platform string, windowSeconds, maxActions int, now time.Time) error {
	row := models.RateLimit{
		Platform:        platform,
		WindowSeconds:   windowSeconds,
		MaxActions:      maxActions,
		UsedActions:     0,
		WindowStartedAt: now,
		UpdatedAt:       now,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{"window_seconds", "max_actions", "updated_at"}),
	}).Create(&row).Error
}

// ResetWindow restarts the platform's window at now. It reports false when the
// platform has no budget row.
func (r *RateLimitRepository) ResetWindow(ctx context.Context, platform string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.RateLimit{}).
		Where("platform = ?", platform).
		Updates(map[string]interface{}{
			"used_actions":      0,
			"window_started_at": now,
			"updated_at":        now,
		})
	return res.RowsAffected > 0, res.Error
}

// ListOverrides returns all stored burst overrides, expired ones included.
func (r *RateLimitRepository) ListOverrides(ctx context.Context) ([]models.RateLimitOverride, error) {
	var rows []models.RateLimitOverride
	err := r.db.WithContext(ctx).Order("platform ASC").Find(&rows).Error
	return rows, err
}

// SetOverride creates or replaces the platform's burst override.
func (r *RateLimitRepository) SetOverride(ctx context.Context, ov models.RateLimitOverride) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{"factor", "started_at", "expires_at"}),
	}).Create(&ov).Error
}

// ClearOverride deletes the platform's override. It reports whether one existed.
func (r *RateLimitRepository) ClearOverride(ctx context.Context, platform string) (bool, error) {
	res := r.db.WithContext(ctx).Where("platform = ?", platform).Delete(&models.RateLimitOverride{})
	return res.RowsAffected > 0, res.Error
}
