package platform

import (
	"fmt"

	"go.uber.org/zap"

	"gigster/internal/config"
	"gigster/internal/models"
	"gigster/internal/pkg/httpclient"
)

// Registry resolves the adapter for a platform.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register installs a for platform, replacing any previous adapter.
func (r *Registry) Register(platform string, a Adapter) {
	r.adapters[platform] = a
}

// Resolve returns the adapter for platform.
func (r *Registry) Resolve(platform string) (Adapter, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("no adapter for platform %q", platform)
	}
	return a, nil
}

// NewFromConfig wires every known platform: the ones listed for the relay go
// through it, the rest fail until an adapter is configured.
func NewFromConfig(cfg config.RelayConfig, logger *zap.Logger) *Registry {
	reg := NewRegistry()
	for _, p := range models.Platforms {
		reg.Register(p, NewUnsupported(p))
	}

	if cfg.URL == "" {
		if len(cfg.Platforms) > 0 {
			logger.Warn("SOCIAL_RELAY_PLATFORMS set without SOCIAL_RELAY_URL, relay disabled")
		}
		return reg
	}

	client := httpclient.New().WithBaseURL(cfg.URL).WithBearerToken(cfg.Token)
	for _, p := range cfg.Platforms {
		if !models.IsKnownPlatform(p) {
			logger.Warn("Ignoring unknown relay platform", zap.String("platform", p))
			continue
		}
		reg.Register(p, NewRelay(p, client))
		logger.Info("Relay adapter registered", zap.String("platform", p))
	}
	return reg
}
