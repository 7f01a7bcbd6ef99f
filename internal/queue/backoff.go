package queue

import (
	"math/rand"
	"time"
)

const (
	BaseBackoff = 15 * time.Second
	MaxBackoff  = 30 * time.Minute
	MaxJitter   = time.Second
)

// Backoff returns the delay before retry number attempts:
// min(BaseBackoff·2^attempts, MaxBackoff) plus jitter. jitter must be in
// [0, MaxJitter).
func Backoff(attempts int, jitter time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := MaxBackoff
	// 15s·2^7 already exceeds the ceiling; larger shifts would overflow.
	if attempts < 7 {
		if exp := BaseBackoff << uint(attempts); exp < MaxBackoff {
			d = exp
		}
	}
	return d + jitter
}

// RandomJitter draws a uniform jitter in [0, MaxJitter).
func RandomJitter() time.Duration {
	return time.Duration(rand.Int63n(int64(MaxJitter)))
}
