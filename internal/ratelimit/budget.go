package ratelimit

import (
	"context"
	"time"

	"gigster/internal/models"
)

// Budget is the locked view of one platform's rate-limit state handed to the
// limiter. Changes made to it are persisted by the Store before the lock is
// released.
type Budget struct {
	Limit    models.RateLimit
	Override *models.RateLimitOverride

	// DropOverride asks the store to delete the override row.
	DropOverride bool
	// Consumed is the number of usage events to append.
	Consumed int
}

// Store serializes access to a platform's budget. fn runs while the platform
// row is held exclusively; a missing row is seeded with the store's defaults
// and a window starting at now.
type Store interface {
	WithLockedBudget(ctx context.Context, platform string, now time.Time, fn func(b *Budget) error) error
}
