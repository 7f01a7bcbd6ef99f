package ratelimit

import (
	"math"
	"time"

	"gigster/internal/models"
)

// EffectiveFactor returns the override multiplier at now. It decays linearly
// from ov.Factor at ov.StartedAt to 1.0 at ov.ExpiresAt. The second result is
// true when the override no longer has any effect and should be removed.
func EffectiveFactor(ov *models.RateLimitOverride, now time.Time) (float64, bool) {
	if ov == nil {
		return 1, false
	}
	if !now.Before(ov.ExpiresAt) || ov.Factor <= 1 {
		return 1, true
	}

	total := ov.ExpiresAt.Sub(ov.StartedAt)
	if total < time.Millisecond {
		total = time.Millisecond
	}
	remaining := ov.ExpiresAt.Sub(now)
	ratio := float64(remaining) / float64(total)
	if ratio > 1 {
		ratio = 1
	}

	return 1 + (ov.Factor-1)*ratio, false
}

// EffectiveMax returns the number of actions allowed in the current window for
// a base cap under an optional override.
func EffectiveMax(base int, ov *models.RateLimitOverride, now time.Time) (int, bool) {
	factor, expired := EffectiveFactor(ov, now)
	if expired || factor == 1 {
		return base, expired
	}
	// The epsilon keeps exact products such as 10 × 1.5 from flooring to 14.
	return int(math.Floor(float64(base)*factor + 1e-9)), false
}
