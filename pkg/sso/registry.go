package sso

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/turnstile/pkg/auth"
)

// ProviderFactory builds a provider from its configuration
type ProviderFactory func(ctx context.Context, config OIDCConfig) (IdentityProvider, error)

// Registry lazily discovers configured providers and caches them. Entries
// expire after ttl so rotated discovery documents are picked up.
type Registry struct {
	configs map[auth.Provider]OIDCConfig
	cache   *expirable.LRU[auth.Provider, IdentityProvider]
	group   singleflight.Group
	factory ProviderFactory
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithFactory replaces OIDC discovery, e.g. with a stub in tests
func WithFactory(factory ProviderFactory) RegistryOption {
	return func(r *Registry) {
		if factory != nil {
			r.factory = factory
		}
	}
}

// NewRegistry creates a registry for the given provider configurations
func NewRegistry(configs []OIDCConfig, ttl time.Duration, opts ...RegistryOption) (*Registry, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}

	r := &Registry{
		configs: make(map[auth.Provider]OIDCConfig, len(configs)),
		factory: func(ctx context.Context, config OIDCConfig) (IdentityProvider, error) {
			return NewOIDCProvider(ctx, config)
		},
	}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid OIDC config for %s: %w", cfg.Provider, err)
		}
		r.configs[cfg.Provider] = cfg
	}
	size := len(configs)
	if size == 0 {
		size = 1
	}
	r.cache = expirable.NewLRU[auth.Provider, IdentityProvider](size, nil, ttl)

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Enabled reports whether a provider is configured
func (r *Registry) Enabled(name auth.Provider) bool {
	_, ok := r.configs[name]
	return ok
}

// Get returns the provider, running discovery on first use or after expiry.
// Concurrent first uses share one discovery.
func (r *Registry) Get(ctx context.Context, name auth.Provider) (IdentityProvider, error) {
	config, ok := r.configs[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	if provider, ok := r.cache.Get(name); ok {
		return provider, nil
	}

	v, err, _ := r.group.Do(string(name), func() (interface{}, error) {
		if provider, ok := r.cache.Get(name); ok {
			return provider, nil
		}
		// Discovered key sets keep using this context after the request ends
		provider, err := r.factory(context.WithoutCancel(ctx), config)
		if err != nil {
			return nil, err
		}
		r.cache.Add(name, provider)
		return provider, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(IdentityProvider), nil
}
