package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gigster/internal/models"
)

// Window is a supported reporting range.
type Window struct {
	Name   string
	Step   time.Duration
	Points int
}

var windows = map[string]Window{
	"6h":  {Name: "6h", Step: time.Hour, Points: 6},
	"24h": {Name: "24h", Step: time.Hour, Points: 24},
	"7d":  {Name: "7d", Step: 24 * time.Hour, Points: 7},
}

// DefaultWindow is used when the caller names none.
const DefaultWindow = "24h"

// ErrUnknownWindow is returned for ranges other than 6h, 24h and 7d.
var ErrUnknownWindow = errors.New("window must be one of 6h, 24h, 7d")

// ParseWindow resolves a window name. An empty name selects DefaultWindow.
func ParseWindow(name string) (Window, error) {
	if name == "" {
		name = DefaultWindow
	}
	w, ok := windows[name]
	if !ok {
		return Window{}, ErrUnknownWindow
	}
	return w, nil
}

// Start returns the first bucket boundary of w at now.
func (w Window) Start(now time.Time) time.Time {
	return now.UTC().Add(-time.Duration(w.Points) * w.Step).Truncate(w.Step)
}

// Bucket is one point of a usage series.
type Bucket struct {
	Bucket time.Time `json:"bucket"`
	Total  int       `json:"total"`
}

// Source reads raw usage events.
type Source interface {
	Since(ctx context.Context, platform string, since time.Time) ([]models.UsageEvent, error)
}

// Reporter builds gap-filled usage series.
type Reporter struct {
	src Source
	now func() time.Time
}

func NewReporter(src Source) *Reporter {
	return &Reporter{src: src, now: func() time.Time { return time.Now().UTC() }}
}

// Series returns Points+1 buckets for the platform; buckets without usage
// carry a zero total.
func (r *Reporter) Series(ctx context.Context, platform string, w Window) ([]Bucket, error) {
	now := r.now()
	events, err := r.src.Since(ctx, platform, w.Start(now))
	if err != nil {
		return nil, fmt.Errorf("usage series %s: %w", platform, err)
	}
	return Bucketize(events, w, now), nil
}

// Bucketize sums events into the buckets of w ending at now. Buckets are
// aligned to UTC hours or days; events outside the range are ignored.
func Bucketize(events []models.UsageEvent, w Window, now time.Time) []Bucket {
	start := w.Start(now)
	buckets := make([]Bucket, w.Points+1)
	for i := range buckets {
		buckets[i].Bucket = start.Add(time.Duration(i) * w.Step)
	}

	for _, ev := range events {
		at := ev.UsedAt.UTC()
		if at.Before(start) {
			continue
		}
		idx := int(at.Sub(start) / w.Step)
		if idx >= len(buckets) {
			continue
		}
		amount := ev.Amount
		if amount == 0 {
			amount = 1
		}
		buckets[idx].Total += amount
	}
	return buckets
}
