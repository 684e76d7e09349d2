package cache

import (
	"context"
	"time"
)

// LayeredCache reads through an in-process L1 to Redis (L2). Writes go to
// Redis first. Locks always live in Redis so they hold across replicas.
type LayeredCache struct {
	mem   *MemoryCache
	redis *RedisCache
	l1TTL time.Duration
}

// NewLayeredCache keeps L1 entries for at most l1TTL (0 means the write TTL).
func NewLayeredCache(redis *RedisCache, mem *MemoryCache, l1TTL time.Duration) *LayeredCache {
	if mem == nil {
		mem = NewMemoryCache()
	}
	return &LayeredCache{mem: mem, redis: redis, l1TTL: l1TTL}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.redis.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	return lc.mem.Set(ctx, key, value, lc.localTTL(expiration))
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.mem.Get(ctx, key, dest); err == nil {
		return nil
	}
	data, err := lc.redis.getRaw(ctx, key)
	if err != nil {
		return err
	}
	lc.mem.mu.Lock()
	lc.mem.put(key, data, lc.localTTL(0))
	lc.mem.mu.Unlock()
	return decode(data, dest)
}

func (lc *LayeredCache) localTTL(expiration time.Duration) time.Duration {
	if lc.l1TTL > 0 && (expiration <= 0 || lc.l1TTL < expiration) {
		return lc.l1TTL
	}
	return expiration
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.mem.Delete(ctx, keys...)
	return lc.redis.Delete(ctx, keys...)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	return lc.redis.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key, token string) error {
	return lc.redis.Unlock(ctx, key, token)
}

func (lc *LayeredCache) Ping(ctx context.Context) error {
	return lc.redis.Ping(ctx)
}

func (lc *LayeredCache) Close() error {
	_ = lc.mem.Close()
	return lc.redis.Close()
}
