package estimates

import (
	"context"
	"fmt"
	"time"

	"github.com/BatmanBruc/billing-engine/internal/cache"
	"github.com/BatmanBruc/billing-engine/internal/pricing"
	"github.com/BatmanBruc/billing-engine/store"
	"github.com/BatmanBruc/billing-engine/types"
)

// Cache holds computed estimates. Get returns types.ErrCacheMiss when
// nothing usable is stored.
type Cache interface {
	Get(ctx context.Context, accountID types.AccountID) (pricing.CostEstimate, error)
	Set(ctx context.Context, accountID types.AccountID, est pricing.CostEstimate, ttl time.Duration) error
	Delete(ctx context.Context, accountID types.AccountID) error
}

type RedisCache struct {
	client *store.RedisClient
}

func NewRedisCache(client *store.RedisClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) key(accountID types.AccountID) string {
	return c.client.Key("estimate", string(accountID))
}

func (c *RedisCache) Get(ctx context.Context, accountID types.AccountID) (pricing.CostEstimate, error) {
	var est pricing.CostEstimate
	if err := c.client.Get(ctx, c.key(accountID), &est); err != nil {
		return pricing.CostEstimate{}, err
	}
	return est, nil
}

func (c *RedisCache) Set(ctx context.Context, accountID types.AccountID, est pricing.CostEstimate, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(accountID), est, ttl)
}

func (c *RedisCache) Delete(ctx context.Context, accountID types.AccountID) error {
	return c.client.Del(ctx, c.key(accountID))
}

// purgeAbove is the entry count past which Set sweeps expired entries.
const purgeAbove = 10000

// MemoryCache keeps estimates in process.
type MemoryCache struct {
	ttl     *cache.TTLCache[types.AccountID, pricing.CostEstimate]
	entries cache.Cache[types.AccountID, pricing.CostEstimate]
}

func NewMemoryCache() *MemoryCache {
	c := cache.NewTTLCache[types.AccountID, pricing.CostEstimate]()
	return &MemoryCache{ttl: c, entries: c}
}

// NewDisabledCache never holds anything, so every Get recomputes.
func NewDisabledCache() *MemoryCache {
	return &MemoryCache{entries: cache.NoopCache[types.AccountID, pricing.CostEstimate]{}}
}

func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	if c.ttl != nil {
		c.ttl.WithClock(now)
	}
	return c
}

func (c *MemoryCache) Get(_ context.Context, accountID types.AccountID) (pricing.CostEstimate, error) {
	est, ok := c.entries.Get(accountID)
	if !ok {
		return pricing.CostEstimate{}, fmt.Errorf("%w: %s", types.ErrCacheMiss, accountID)
	}
	return est, nil
}

func (c *MemoryCache) Set(_ context.Context, accountID types.AccountID, est pricing.CostEstimate, ttl time.Duration) error {
	if c.ttl != nil && c.ttl.Len() > purgeAbove {
		c.ttl.Purge()
	}
	c.entries.Set(accountID, est, ttl)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, accountID types.AccountID) error {
	c.entries.Delete(accountID)
	return nil
}
