package media

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// HeadCache stores HEAD check results per URL.
type HeadCache interface {
	Get(ctx context.Context, url string) (*HeadResult, error)
	Set(ctx context.Context, url string, res HeadResult) error
}

type redisHeadCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (c *redisHeadCache) Get(ctx context.Context, url string) (*HeadResult, error) {
	raw, err := c.client.Get(ctx, c.prefix+url).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var res HeadResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, nil
	}
	return &res, nil
}

func (c *redisHeadCache) Set(ctx context.Context, url string, res HeadResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+url, raw, c.ttl).Err()
}

type memoryEntry struct {
	res     HeadResult
	expires time.Time
}

type memoryHeadCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	nextGC  time.Time
	now     func() time.Time
}

func newMemoryHeadCache(ttl time.Duration) *memoryHeadCache {
	return &memoryHeadCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		nextGC:  time.Now().Add(ttl),
		now:     time.Now,
	}
}

func (c *memoryHeadCache) Get(_ context.Context, url string) (*HeadResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[url]
	if !ok || !e.expires.After(c.now()) {
		return nil, nil
	}
	res := e.res
	return &res, nil
}

func (c *memoryHeadCache) Set(_ context.Context, url string, res HeadResult) error {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[url] = memoryEntry{res: res, expires: now.Add(c.ttl)}
	if now.After(c.nextGC) {
		for k, e := range c.entries {
			if e.expires.Before(now) {
				delete(c.entries, k)
			}
		}
		c.nextGC = now.Add(c.ttl)
	}
	return nil
}

// NewHeadCache uses Redis when a client is given and process memory otherwise.
func NewHeadCache(client *redis.Client, ttl time.Duration) HeadCache {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if client == nil {
		return newMemoryHeadCache(ttl)
	}
	return &redisHeadCache{client: client, prefix: "media:head:", ttl: ttl}
}
