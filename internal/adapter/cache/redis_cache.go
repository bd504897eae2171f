// Package cache implements the Redis-backed domain.URLCache: the read-cache
// used by the redirect hot path, the click-buffer counter, the distributed
// singleflight lock, and the hot-key score set.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shortlinkio/shortlink-core/internal/domain"
	"github.com/shortlinkio/shortlink-core/internal/observability"
)

const (
	urlKeyPrefix    = "url:"
	negKeyPrefix    = "neg:"
	lockKeyPrefix   = "lock:"
	bufferKeyPrefix = "click_buffer:"
	hotKeysKey      = "hot_urls"
)

// jitterFraction is the +/-20% TTL jitter applied on every cache write to
// avoid synchronized mass-expiry stampedes.
const jitterFraction = 0.2

// Cache is the domain.URLCache implementation. Reads route to replica;
// writes route to primary, mirroring the teacher's primary/replica split for
// allocator KVs applied here to the cache tier.
type Cache struct {
	primary *redis.Client
	replica *redis.Client
}

// New constructs a Cache. If replica is nil, primary serves reads too.
func New(primary, replica *redis.Client) *Cache {
	if replica == nil {
		replica = primary
	}
	return &Cache{primary: primary, replica: replica}
}

// jitteredTTL returns ttl scaled by a uniform random factor in
// [1-jitterFraction, 1+jitterFraction].
func jitteredTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	factor := 1 + (rand.Float64()*2-1)*jitterFraction
	return time.Duration(float64(ttl) * factor)
}

// Get returns a cached payload, or (false, nil) on a clean miss.
func (c *Cache) Get(ctx context.Context, code string) (domain.CachedURLPayload, bool, error) {
	raw, err := c.replica.Get(ctx, urlKeyPrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return domain.CachedURLPayload{}, false, nil
	}
	if err != nil {
		return domain.CachedURLPayload{}, false, fmt.Errorf("op=cache.get: %w", domain.ErrUnavailable)
	}
	var payload domain.CachedURLPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.CachedURLPayload{}, false, fmt.Errorf("op=cache.get: %w", err)
	}
	observability.CacheLookupsTotal.WithLabelValues("hit").Inc()
	return payload, true, nil
}

// Set writes a payload with jittered TTL on the primary connection.
func (c *Cache) Set(ctx context.Context, code string, payload domain.CachedURLPayload, ttl time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=cache.set: %w", err)
	}
	if err := c.primary.Set(ctx, urlKeyPrefix+code, raw, jitteredTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("op=cache.set: %w", domain.ErrUnavailable)
	}
	return nil
}

// SetNegative records a short-lived NotFound marker for code.
func (c *Cache) SetNegative(ctx context.Context, code string, ttl time.Duration) error {
	if err := c.primary.Set(ctx, negKeyPrefix+code, "1", ttl).Err(); err != nil {
		return fmt.Errorf("op=cache.set_negative: %w", domain.ErrUnavailable)
	}
	return nil
}

// IsNegative reports whether a NotFound marker is present for code.
func (c *Cache) IsNegative(ctx context.Context, code string) (bool, error) {
	n, err := c.replica.Exists(ctx, negKeyPrefix+code).Result()
	if err != nil {
		return false, fmt.Errorf("op=cache.is_negative: %w", domain.ErrUnavailable)
	}
	if n > 0 {
		observability.CacheLookupsTotal.WithLabelValues("negative").Inc()
	}
	return n > 0, nil
}

// AcquireLock attempts a distributed SET NX EX lock for singleflight
// coalescing of cache-miss reads across edge processes.
func (c *Cache) AcquireLock(ctx context.Context, code string, ttl time.Duration) (bool, error) {
	ok, err := c.primary.SetNX(ctx, lockKeyPrefix+code, 1, ttl).Result()
	if err != nil {
		observability.CacheLockContentionTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("op=cache.acquire_lock: %w", domain.ErrUnavailable)
	}
	if ok {
		observability.CacheLockContentionTotal.WithLabelValues("acquired").Inc()
	} else {
		observability.CacheLockContentionTotal.WithLabelValues("contended").Inc()
	}
	return ok, nil
}

// ReleaseLock releases a previously acquired lock; best-effort, the lock's
// TTL is the real safety net.
func (c *Cache) ReleaseLock(ctx context.Context, code string) error {
	_ = c.primary.Del(ctx, lockKeyPrefix+code).Err()
	return nil
}

// IncrClickBuffer increments click_buffer:<code>, (re)setting its TTL only on
// the first increment within the current window.
func (c *Cache) IncrClickBuffer(ctx context.Context, code string, ttl time.Duration) (int64, error) {
	key := bufferKeyPrefix + code
	pipe := c.primary.TxPipeline()
	incr := pipe.Incr(ctx, key)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("op=cache.incr_click_buffer: %w", domain.ErrUnavailable)
	}
	n := incr.Val()
	if n == 1 {
		_ = c.primary.Expire(ctx, key, ttl).Err()
	}
	return n, nil
}

// IncrHotScore bumps the hot_urls sorted-set score for code, setting a TTL on
// the set the first time it is written in a window.
func (c *Cache) IncrHotScore(ctx context.Context, code string, ttl time.Duration) error {
	if err := c.primary.ZIncrBy(ctx, hotKeysKey, 1, code).Err(); err != nil {
		return fmt.Errorf("op=cache.incr_hot_score: %w", domain.ErrUnavailable)
	}
	// A negative TTL means the set carries no expiry yet: this is the first
	// write of the current window.
	if cur, err := c.primary.TTL(ctx, hotKeysKey).Result(); err == nil && cur < 0 {
		_ = c.primary.Expire(ctx, hotKeysKey, ttl).Err()
	}
	return nil
}

// TopHotKeys returns the top-N codes from the hot_urls sorted set, highest
// score first.
func (c *Cache) TopHotKeys(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	codes, err := c.replica.ZRevRange(ctx, hotKeysKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("op=cache.top_hot_keys: %w", domain.ErrUnavailable)
	}
	return codes, nil
}

// WarmBatch writes a batch of payloads in a single pipelined round trip, each
// with an independently jittered TTL.
func (c *Cache) WarmBatch(ctx context.Context, payloads []domain.CachedURLPayload, ttl time.Duration) error {
	if len(payloads) == 0 {
		return nil
	}
	pipe := c.primary.Pipeline()
	for _, p := range payloads {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("op=cache.warm_batch: %w", err)
		}
		pipe.Set(ctx, urlKeyPrefix+p.ShortCode, raw, jitteredTTL(ttl))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=cache.warm_batch: %w", domain.ErrUnavailable)
	}
	return nil
}
