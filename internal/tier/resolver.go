package tier

import (
	"context"
	"log"
	"time"

	"github.com/lumahealth/scangate/internal/circuitbreaker"
	"github.com/lumahealth/scangate/internal/identity"
)

// ProfileStore is the external account store a subscription tier is read
// from.
type ProfileStore interface {
	TierFor(ctx context.Context, userID string) (string, error)
}

// Cache is the subset of the Redis client the resolver uses. A nil cache
// disables caching.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

const cacheTTL = 5 * time.Minute

// Resolves an identity to its quota class. Lookup failures degrade to Free
// rather than denying: availability is preferred over strict tier
// enforcement for this lookup only.
type Resolver struct {
	store   ProfileStore
	cache   Cache
	breaker *circuitbreaker.CircuitBreaker
}

func NewResolver(store ProfileStore, cache Cache) *Resolver {
	return &Resolver{
		store: store,
		cache: cache,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
	}
}

func (r *Resolver) Resolve(ctx context.Context, id identity.Identity) Tier {
	if !id.Authenticated {
		return Anonymous
	}

	cacheKey := "tier:cache:" + id.UserID
	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, cacheKey); err == nil && cached != "" {
			if t, ok := Parse(cached); ok {
				return t
			}
		}
	}

	var name string
	err := r.breaker.Call(func() error {
		var lookupErr error
		name, lookupErr = r.store.TierFor(ctx, id.UserID)
		return lookupErr
	})

	if err != nil {
		log.Printf("Tier lookup failed for %s, degrading to free: %v", id.UserID, err)
		return Free
	}

	t, ok := Parse(name)
	if !ok {
		return Free
	}

	if r.cache != nil {
		r.cache.Set(ctx, cacheKey, t.String(), cacheTTL)
	}

	return t
}

// Exposes breaker state for the health endpoint.
func (r *Resolver) BreakerState() circuitbreaker.State {
	return r.breaker.State()
}
