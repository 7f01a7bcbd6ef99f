package bootstrap

import (
	"testing"
	"time"

	"gigster/internal/models"
)

func TestDefaultRateLimitsCoversEveryPlatform(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := defaultRateLimits(SeedOptions{WindowSeconds: 60, MaxActions: 60}, now)

	if len(rows) != len(models.Platforms) {
		t.Fatalf("rows = %d, want %d", len(rows), len(models.Platforms))
	}
	for i, rl := range rows {
		if rl.Platform != models.Platforms[i] || rl.WindowSeconds != 60 || rl.MaxActions != 60 || rl.UsedActions != 0 {
			t.Errorf("row %d = %+v", i, rl)
		}
		if !rl.WindowStartedAt.Equal(now) {
			t.Errorf("row %d window start = %v", i, rl.WindowStartedAt)
		}
	}
}

func TestDefaultRateLimitsDisabled(t *testing.T) {
	if rows := defaultRateLimits(SeedOptions{}, time.Now()); rows != nil {
		t.Errorf("rows = %v, want none without defaults", rows)
	}
}
