package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// DeliveryDeduper tracks processed webhook delivery ids.
type DeliveryDeduper interface {
	Seen(ctx context.Context, deliveryID string) (bool, error)
}

type redisDeliveryDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (d *redisDeliveryDeduper) Seen(ctx context.Context, deliveryID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+":"+deliveryID, "1", d.ttl).Result()
	if err != nil {
		return false, err
	}
	// false => already exists => duplicate
	return !ok, nil
}

type memoryDeliveryDeduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	nextGC time.Time
}

func newMemoryDeliveryDeduper(ttl time.Duration) *memoryDeliveryDeduper {
	return &memoryDeliveryDeduper{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		nextGC: time.Now().Add(ttl),
	}
}

func (d *memoryDeliveryDeduper) Seen(_ context.Context, deliveryID string) (bool, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.seen[deliveryID]; ok && exp.After(now) {
		return true, nil
	}

	d.seen[deliveryID] = now.Add(d.ttl)
	if now.After(d.nextGC) {
		for id, exp := range d.seen {
			if exp.Before(now) {
				delete(d.seen, id)
			}
		}
		d.nextGC = now.Add(d.ttl)
	}

	return false, nil
}

// NewDeliveryDeduper uses Redis when a client is given and process memory
// otherwise.
func NewDeliveryDeduper(client *redis.Client, ttl time.Duration) DeliveryDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if client == nil {
		return newMemoryDeliveryDeduper(ttl)
	}
	return &redisDeliveryDeduper{client: client, prefix: "icadence:delivery", ttl: ttl}
}

// DeliveryDedup acknowledges repeated webhook deliveries without running the
// handler again. Requests without an "id" field pass through.
func DeliveryDedup(deduper DeliveryDeduper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if deduper == nil {
				return next(c)
			}

			req := c.Request()
			if req.Body == nil {
				return next(c)
			}

			rawBody, err := io.ReadAll(req.Body)
			if err != nil {
				return next(c)
			}
			req.Body = io.NopCloser(bytes.NewBuffer(rawBody))
			if len(rawBody) == 0 {
				return next(c)
			}

			var payload struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(rawBody, &payload); err != nil || payload.ID == "" {
				return next(c)
			}

			isDuplicate, err := deduper.Seen(req.Context(), payload.ID)
			if err != nil {
				return next(c)
			}
			if isDuplicate {
				return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "duplicate": true})
			}

			return next(c)
		}
	}
}
