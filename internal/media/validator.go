package media

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gigster/internal/pkg/httpclient"
)

// HeadResult is the cached outcome of probing one media URL.
type HeadResult struct {
	Status      int    `json:"status"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	Error       string `json:"error,omitempty"`
}

// Validator checks that media URLs are reachable and within size limits.
type Validator struct {
	client   *httpclient.Client
	cache    HeadCache
	maxBytes int64
	logger   *zap.Logger
}

func NewValidator(cache HeadCache, maxBytes int64, timeout time.Duration, logger *zap.Logger) *Validator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	return &Validator{
		client:   httpclient.New().WithTimeout(timeout),
		cache:    cache,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Validate returns the first problem found among urls.
func (v *Validator) Validate(ctx context.Context, urls []string) error {
	for _, raw := range urls {
		if err := v.check(ctx, raw); err != nil {
			return fmt.Errorf("media %s: %w", raw, err)
		}
	}
	return nil
}

func (v *Validator) check(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q not allowed", u.Scheme)
	}

	res, err := v.head(ctx, raw)
	if err != nil {
		return err
	}
	if res.Error != "" {
		return fmt.Errorf("unreachable: %s", res.Error)
	}
	if res.Status < 200 || res.Status >= 400 {
		return fmt.Errorf("HEAD returned %d", res.Status)
	}
	if res.Size > v.maxBytes {
		return fmt.Errorf("size %d exceeds %d bytes", res.Size, v.maxBytes)
	}
	return nil
}

func (v *Validator) head(ctx context.Context, raw string) (HeadResult, error) {
	if v.cache != nil {
		cached, err := v.cache.Get(ctx, raw)
		if err != nil {
			v.logger.Warn("Media HEAD cache read failed", zap.Error(err))
		} else if cached != nil {
			return *cached, nil
		}
	}

	var res HeadResult
	resp, err := v.client.Head(ctx, raw)
	if err != nil {
		if ctx.Err() != nil {
			return HeadResult{}, ctx.Err()
		}
		res.Error = err.Error()
	} else {
		res.Status = resp.StatusCode()
		res.ContentType = resp.Header().Get("Content-Type")
		if n, perr := strconv.ParseInt(resp.Header().Get("Content-Length"), 10, 64); perr == nil {
			res.Size = n
		}
	}

	if v.cache != nil {
		if err := v.cache.Set(ctx, raw, res); err != nil {
			v.logger.Warn("Media HEAD cache write failed", zap.Error(err))
		}
	}
	return res, nil
}
