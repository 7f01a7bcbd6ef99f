package models

import "time"

// RateLimit is the persisted token window for one platform.
type RateLimit struct {
	Platform        string    `gorm:"column:platform;primaryKey;size:32" json:"platform"`
	WindowSeconds   int       `gorm:"column:window_seconds;not null" json:"window_seconds"`
	MaxActions      int       `gorm:"column:max_actions;not null" json:"max_actions"`
	UsedActions     int       `gorm:"column:used_actions;not null;default:0" json:"used_actions"`
	WindowStartedAt time.Time `gorm:"column:window_started_at;not null" json:"window_started_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (RateLimit) TableName() string {
	return "social_rate_limits"
}

// Window returns the configured window length.
func (r *RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// WindowEndsAt returns the instant the current window elapses.
func (r *RateLimit) WindowEndsAt() time.Time {
	return r.WindowStartedAt.Add(r.Window())
}

// RateLimitOverride temporarily widens a platform's budget. The multiplier
// tapers linearly from Factor at StartedAt to 1.0 at ExpiresAt.
type RateLimitOverride struct {
	Platform  string    `gorm:"column:platform;primaryKey;size:32" json:"platform"`
	Factor    float64   `gorm:"column:factor;not null" json:"factor"`
	StartedAt time.Time `gorm:"column:started_at;not null" json:"started_at"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null" json:"expires_at"`
}

func (RateLimitOverride) TableName() string {
	return "social_rl_overrides"
}

// UsageEvent is one consumed rate-limit token. Reporting only.
type UsageEvent struct {
	ID       uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Platform string    `gorm:"column:platform;size:32;not null;index:idx_social_rl_usage_platform_used,priority:1" json:"platform"`
	UsedAt   time.Time `gorm:"column:used_at;not null;index:idx_social_rl_usage_platform_used,priority:2" json:"used_at"`
	Amount   int       `gorm:"column:amount;not null;default:1" json:"amount"`
}

func (UsageEvent) TableName() string {
	return "social_rl_usage"
}
