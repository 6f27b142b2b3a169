package sso

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultValidatorCacheSize bounds the number of cached validators
const DefaultValidatorCacheSize = 256

// Validator decides whether an identity is still valid at its provider.
// Implementations may perform network I/O and may fail. A validator whose
// provider issues new credentials updates identity.Data in place; the caller
// persists the change.
type Validator interface {
	IdentityIsValid(ctx context.Context, identity *AuthIdentity) (bool, error)
}

// ValidatorFunc adapts a function to the Validator interface
type ValidatorFunc func(ctx context.Context, identity *AuthIdentity) (bool, error)

// IdentityIsValid calls f(ctx, identity)
func (f ValidatorFunc) IdentityIsValid(ctx context.Context, identity *AuthIdentity) (bool, error) {
	return f(ctx, identity)
}

// ValidatorFactory builds the validator for one provider configuration
type ValidatorFactory func(ctx context.Context, config *ProviderConfig) (Validator, error)

// Registry maps provider keys to validator factories and caches the
// validators it builds. A configuration change (new UpdatedAt) produces a
// fresh validator.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ValidatorFactory

	cache *lru.Cache[string, Validator]
	group singleflight.Group
}

// NewRegistry creates an empty registry caching up to size validators
func NewRegistry(size int) (*Registry, error) {
	if size <= 0 {
		size = DefaultValidatorCacheSize
	}
	cache, err := lru.New[string, Validator](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create validator cache: %w", err)
	}

	return &Registry{
		factories: make(map[string]ValidatorFactory),
		cache:     cache,
	}, nil
}

// Register installs the factory for a provider key
func (r *Registry) Register(key string, factory ValidatorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = factory
}

// Keys returns the registered provider keys in sorted order
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resolve returns the validator for a provider configuration. Concurrent
// resolutions of the same configuration share one factory call.
func (r *Registry) Resolve(ctx context.Context, config *ProviderConfig) (Validator, error) {
	r.mu.RLock()
	factory, ok := r.factories[config.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, config.Provider)
	}

	key := cacheKey(config)
	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}

	// The shared call must not be cancelled by whichever caller started it
	buildCtx := context.WithoutCancel(ctx)
	result, err, _ := r.group.Do(key, func() (interface{}, error) {
		if v, ok := r.cache.Get(key); ok {
			return v, nil
		}
		v, err := factory(buildCtx, config)
		if err != nil {
			return nil, err
		}
		r.cache.Add(key, v)
		return v, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build %s validator for provider %d: %w", config.Provider, config.ID, err)
	}

	return result.(Validator), nil
}

// Purge drops every cached validator
func (r *Registry) Purge() {
	r.cache.Purge()
}

func cacheKey(config *ProviderConfig) string {
	return fmt.Sprintf("%s:%d:%d", config.Provider, config.ID, config.UpdatedAt.UnixNano())
}

// RegisterDefaults installs the oauth2 and oidc validators. client is used
// for every provider request; nil means http.DefaultClient.
func RegisterDefaults(r *Registry, client *http.Client) {
	r.Register(ProviderOAuth2, func(ctx context.Context, config *ProviderConfig) (Validator, error) {
		return NewOAuth2Validator(config, client)
	})
	r.Register(ProviderOIDC, func(ctx context.Context, config *ProviderConfig) (Validator, error) {
		return NewOIDCValidator(ctx, config, client)
	})
}
