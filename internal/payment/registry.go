package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const activeProviderKey = "settings:payment_provider"

// SettingsStore holds the process-wide active provider name.
type SettingsStore interface {
	ActiveProvider(ctx context.Context) (string, error)
	SetActiveProvider(ctx context.Context, name string) error
}

type RedisSettings struct {
	client *redis.Client
}

func NewRedisSettings(client *redis.Client) *RedisSettings {
	return &RedisSettings{client: client}
}

// ActiveProvider returns an empty name when the setting has never been written.
func (s *RedisSettings) ActiveProvider(ctx context.Context) (string, error) {
	name, err := s.client.Get(ctx, activeProviderKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read active provider: %w", err)
	}
	return name, nil
}

func (s *RedisSettings) SetActiveProvider(ctx context.Context, name string) error {
	if err := s.client.Set(ctx, activeProviderKey, strings.ToLower(name), 0).Err(); err != nil {
		return fmt.Errorf("write active provider: %w", err)
	}
	return nil
}

type Registry struct {
	providers map[string]Provider
	fallback  string
	settings  SettingsStore
	logger    *slog.Logger
}

func NewRegistry(settings SettingsStore, fallback string, logger *slog.Logger, providers ...Provider) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		fallback:  strings.ToLower(fallback),
		settings:  settings,
		logger:    logger,
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	if _, ok := r.providers[r.fallback]; !ok {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownProvider, fallback)
	}
	return r, nil
}

// Resolve returns the provider for this request. An unreachable or empty settings store, or an
// unknown name, falls back to the configured default.
func (r *Registry) Resolve(ctx context.Context) Provider {
	if r.settings == nil {
		return r.providers[r.fallback]
	}
	name, err := r.settings.ActiveProvider(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "active provider lookup failed, using default", "default", r.fallback, "error", err)
		return r.providers[r.fallback]
	}
	if p, ok := r.providers[strings.ToLower(name)]; ok {
		return p
	}
	if name != "" {
		r.logger.WarnContext(ctx, "unknown active provider, using default", "provider", name, "default", r.fallback)
	}
	return r.providers[r.fallback]
}

// Get looks up the provider an order was created with.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}
