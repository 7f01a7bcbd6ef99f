package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"gigster/internal/models"
)

// UsageRepository reads the append-only rate-limit usage log.
type UsageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Since returns the platform's usage events at or after since, oldest first.
func (r *UsageRepository) Since(ctx context.Context, platform string, since time.Time) ([]models.UsageEvent, error) {
	var events []models.UsageEvent
	err := r.db.WithContext(ctx).
		Select("used_at, amount").
		Where("platform = ? AND used_at >= ?", platform, since).
		Order("used_at ASC").
		Find(&events).Error
	return events, err
}

// PurgeBefore deletes usage events older than cutoff.
func (r *UsageRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("used_at < ?", cutoff).Delete(&models.UsageEvent{})
	return res.RowsAffected, res.Error
}

// AuditRepository persists the ops audit trail.
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, ev *models.AuditEvent) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

// Recent returns the latest audit events, newest first.
func (r *AuditRepository) Recent(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	var rows []models.AuditEvent
	err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// PurgeBefore deletes audit events older than cutoff.
func (r *AuditRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.AuditEvent{})
	return res.RowsAffected, res.Error
}
