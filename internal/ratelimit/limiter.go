package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Decision is the result of one TryConsume call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	// EffectiveMax is the cap that applied to the decision.
	EffectiveMax int
}

// Limiter gates one attempt per call against a platform's persisted budget.
type Limiter struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// NewLimiter creates a limiter over store. now defaults to time.Now in UTC.
func NewLimiter(store Store, now func() time.Time, logger *zap.Logger) *Limiter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Limiter{store: store, now: now, logger: logger}
}

// TryConsume spends one token from the platform's current window if any remain.
func (l *Limiter) TryConsume(ctx context.Context, platform string) (Decision, error) {
	now := l.now()
	var d Decision
	err := l.store.WithLockedBudget(ctx, platform, now, func(b *Budget) error {
		d = consume(b, now)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", platform, err)
	}
	if !d.Allowed {
		l.logger.Debug("Rate limit exhausted",
			zap.String("platform", platform),
			zap.Int("effective_max", d.EffectiveMax),
			zap.Duration("retry_after", d.RetryAfter))
	}
	return d, nil
}

// consume applies the window rules to a locked budget.
func consume(b *Budget, now time.Time) Decision {
	rl := &b.Limit

	// An elapsed window restarts and grants its first token.
	if now.Sub(rl.WindowStartedAt) >= rl.Window() {
		rl.UsedActions = 1
		rl.WindowStartedAt = now
		b.Consumed++
		return Decision{Allowed: true, EffectiveMax: rl.MaxActions}
	}

	effectiveMax, expired := EffectiveMax(rl.MaxActions, b.Override, now)
	if expired {
		b.DropOverride = true
	}

	if rl.UsedActions < effectiveMax {
		rl.UsedActions++
		b.Consumed++
		return Decision{Allowed: true, EffectiveMax: effectiveMax}
	}

	retryAfter := rl.WindowEndsAt().Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{Allowed: false, RetryAfter: retryAfter, EffectiveMax: effectiveMax}
}
