package worker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/shortlinkio/shortlink-core/internal/domain"
)

// AggStore is the worker's per-process aggregation hash port
// (`agg:<worker_id>`), kept separate from domain.URLCache since it is an
// internal worker implementation detail, not a shared cache concern.
type AggStore interface {
	// HIncrBy pipelines one HINCRBY per (code, delta) pair into a single
	// round trip.
	HIncrBy(ctx context.Context, workerID string, deltas map[string]int64) error
	// FlushAndClear atomically reads and clears the hash (HGETALL then DEL).
	FlushAndClear(ctx context.Context, workerID string) (map[string]int64, error)
	// Size reports the current hash length, used for the flush_size_threshold trigger.
	Size(ctx context.Context, workerID string) (int64, error)
}

// RedisAggStore implements AggStore over go-redis, mirroring the
// pipelined-round-trip philosophy of the allocator's Lua script and the
// cache adapter's WarmBatch.
type RedisAggStore struct {
	rdb *redis.Client
}

// NewRedisAggStore constructs a RedisAggStore.
func NewRedisAggStore(rdb *redis.Client) *RedisAggStore { return &RedisAggStore{rdb: rdb} }

func aggKey(workerID string) string { return "agg:" + workerID }

func (s *RedisAggStore) HIncrBy(ctx context.Context, workerID string, deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	key := aggKey(workerID)
	for code, delta := range deltas {
		pipe.HIncrBy(ctx, key, code, delta)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=aggstore.hincrby: %w", domain.ErrUnavailable)
	}
	return nil
}

func (s *RedisAggStore) FlushAndClear(ctx context.Context, workerID string) (map[string]int64, error) {
	key := aggKey(workerID)
	var getAll *redis.MapStringStringCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		getAll = pipe.HGetAll(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("op=aggstore.flush: %w", domain.ErrUnavailable)
	}
	raw := getAll.Val()
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]int64, len(raw))
	for code, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[code] = n
	}
	return out, nil
}

func (s *RedisAggStore) Size(ctx context.Context, workerID string) (int64, error) {
	n, err := s.rdb.HLen(ctx, aggKey(workerID)).Result()
	if err != nil {
		return 0, fmt.Errorf("op=aggstore.size: %w", domain.ErrUnavailable)
	}
	return n, nil
}
