package connector

import (
	"context"
	"time"

	"FixedTime/internal/domain/repository"
	"FixedTime/pkg/cache"
)

// Cached memoizes payout lookups for a short TTL; every other call passes through.
type Cached struct {
	repository.Connector
	cache cache.Service
	ttl   time.Duration
	scope string
}

func NewCached(inner repository.Connector, c cache.Service, scope string, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &Cached{Connector: inner, cache: c, ttl: ttl, scope: scope}
}

func (c *Cached) GetCurrentWinRate(ctx context.Context, product string) (float64, error) {
	return cache.GetOrLoad(ctx, c.cache, cache.Key("payout", c.scope, product), c.ttl, func(ctx context.Context) (float64, error) {
		return c.Connector.GetCurrentWinRate(ctx, product)
	})
}
