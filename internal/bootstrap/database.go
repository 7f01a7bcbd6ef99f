package bootstrap

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gigster/internal/models"
)

// SeedOptions sizes the budget rows created for platforms that have none.
type SeedOptions struct {
	WindowSeconds int
	MaxActions    int
}

// MigrateAndSeed ensures required tables exist and inserts a default budget
// for every known platform.
func MigrateAndSeed(db *gorm.DB, opts SeedOptions) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	if err := seedDefaults(db, opts); err != nil {
		return fmt.Errorf("seed defaults failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		&models.SocialJob{},
		&models.RateLimit{},
		&models.RateLimitOverride{},
		&models.UsageEvent{},
		&models.AuditEvent{},
	}
}

func seedDefaults(db *gorm.DB, opts SeedOptions) error {
	return db.Transaction(func(tx *gorm.DB) error {
		return ensureDefaultRateLimits(tx, opts, time.Now().UTC())
	})
}

// ensureDefaultRateLimits inserts missing rows only; operator-tuned budgets
// are left alone.
func ensureDefaultRateLimits(tx *gorm.DB, opts SeedOptions, now time.Time) error {
	rows := defaultRateLimits(opts, now)
	if len(rows) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func defaultRateLimits(opts SeedOptions, now time.Time) []models.RateLimit {
	if opts.WindowSeconds <= 0 || opts.MaxActions <= 0 {
		return nil
	}
	rows := make([]models.RateLimit, 0, len(models.Platforms))
	for _, p := range models.Platforms {
		rows = append(rows, models.RateLimit{
			Platform:        p,
			WindowSeconds:   opts.WindowSeconds,
			MaxActions:      opts.MaxActions,
			WindowStartedAt: now,
			UpdatedAt:       now,
		})
	}
	return rows
}
