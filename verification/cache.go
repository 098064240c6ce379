package verification

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"

	"github.com/oraclesentinel/sentinel-go/types"
)

// ErrCacheMiss is returned by StatusCache.Get when no fresh entry exists.
var ErrCacheMiss = cache.ErrCacheMiss

// StatusCache stores holder verdicts per wallet address.
type StatusCache interface {
	Get(ctx context.Context, wallet string) (*types.HolderStatus, error)
	Set(ctx context.Context, status *types.HolderStatus, ttl time.Duration) error
	Delete(ctx context.Context, wallet string) error
}

type memoryEntry struct {
	status    types.HolderStatus
	expiresAt time.Time
}

// MemoryCache is an in-process StatusCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache. now defaults to time.Now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

func (c *MemoryCache) Get(_ context.Context, wallet string) (*types.HolderStatus, error) {
	c.mu.RLock()
	entry, ok := c.entries[wallet]
	c.mu.RUnlock()

	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, ErrCacheMiss
	}

	status := entry.status
	return &status, nil
}

func (c *MemoryCache) Set(_ context.Context, status *types.HolderStatus, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[status.Wallet] = memoryEntry{
		status:    *status,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, wallet string) error {
	c.mu.Lock()
	delete(c.entries, wallet)
	c.mu.Unlock()
	return nil
}

// RedisCache shares holder verdicts between processes through Redis, with a
// TinyLFU layer in front of it.
type RedisCache struct {
	instance *cache.Cache
	prefix   string
}

// NewRedisCache creates a Redis-backed cache. A nil client keeps entries in
// the local layer only.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	opts := &cache.Options{
		LocalCache: cache.NewTinyLFU(10000, ttl),
	}
	if client != nil {
		opts.Redis = client
	}

	return &RedisCache{
		instance: cache.New(opts),
		prefix:   "sentinel:holder:",
	}
}

func (c *RedisCache) Get(ctx context.Context, wallet string) (*types.HolderStatus, error) {
	var status types.HolderStatus
	if err := c.instance.Get(ctx, c.prefix+wallet, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *RedisCache) Set(ctx context.Context, status *types.HolderStatus, ttl time.Duration) error {
	return c.instance.Set(&cache.Item{
		Ctx:   ctx,
		Key:   c.prefix + status.Wallet,
		Value: status,
		TTL:   ttl,
	})
}

func (c *RedisCache) Delete(ctx context.Context, wallet string) error {
	return c.instance.Delete(ctx, c.prefix+wallet)
}
