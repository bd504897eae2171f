// Package allocatorsvc implements the range allocator: an atomic
// increment-by-N counter backed by two independent Redis connections
// (primary/secondary) so edge minters can obtain disjoint integer blocks
// without a central lock.
package allocatorsvc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shortlinkio/shortlink-core/internal/domain"
	"github.com/shortlinkio/shortlink-core/internal/observability"
)

// luaIncrBy runs INCRBY as a single round trip so the read of the
// post-increment value and the increment itself never race with a
// concurrent caller on the same key.
const luaIncrBy = `
local v = redis.call("INCRBY", KEYS[1], ARGV[1])
return v
`

// Service vends disjoint integer ranges from a persisted counter. It holds
// two independent Redis clients and fails over from primary to secondary on
// any error.
type Service struct {
	primary      *redis.Client
	secondary    *redis.Client
	primaryNS    string
	secondaryNS  string
	maxBlock     int64
	script       *redis.Script
	primaryBrk   *observability.CircuitBreaker
	secondaryBrk *observability.CircuitBreaker
}

// NewService constructs a Service. primaryNS/secondaryNS are the key
// namespaces (e.g. "default") each KV increments under; the secondary's
// namespace must use an offset high enough that failover never reuses a
// range the primary could still reach (an operator responsibility documented
// in deployment configuration, not enforced in code).
func NewService(primary, secondary *redis.Client, primaryNS, secondaryNS string, maxBlock int64) *Service {
	if maxBlock <= 0 {
		maxBlock = 1_000_000
	}
	return &Service{
		primary:      primary,
		secondary:    secondary,
		primaryNS:    primaryNS,
		secondaryNS:  secondaryNS,
		maxBlock:     maxBlock,
		script:       redis.NewScript(luaIncrBy),
		primaryBrk:   observability.GetCircuitBreaker("allocator-primary", 5, 30*time.Second),
		secondaryBrk: observability.GetCircuitBreaker("allocator-secondary", 5, 30*time.Second),
	}
}

// Allocate reserves size consecutive integers. It tries the primary KV
// first; on any error (network, timeout, readonly) it retries against the
// secondary. Returns domain.ErrUnavailable only when both fail.
func (s *Service) Allocate(ctx context.Context, size int64) (int64, int64, error) {
	if size <= 0 || size > s.maxBlock {
		return 0, 0, fmt.Errorf("op=allocator.allocate: %w", domain.ErrInvalidArgument)
	}

	start := time.Now()
	newVal, err := s.incrWithBreaker(ctx, s.primary, s.primaryBrk, s.primaryNS, size)
	if err == nil {
		observability.AllocatorRequestsTotal.WithLabelValues("primary", "ok").Inc()
		observability.AllocatorRequestDuration.WithLabelValues("primary").Observe(time.Since(start).Seconds())
		return newVal - size + 1, newVal, nil
	}
	slog.Warn("allocator primary failed, attempting secondary", slog.Any("error", err))
	observability.AllocatorRequestsTotal.WithLabelValues("primary", "error").Inc()

	start = time.Now()
	newVal, err2 := s.incrWithBreaker(ctx, s.secondary, s.secondaryBrk, s.secondaryNS, size)
	if err2 == nil {
		observability.AllocatorRequestsTotal.WithLabelValues("secondary", "ok").Inc()
		observability.AllocatorRequestDuration.WithLabelValues("secondary").Observe(time.Since(start).Seconds())
		return newVal - size + 1, newVal, nil
	}
	observability.AllocatorRequestsTotal.WithLabelValues("secondary", "error").Inc()
	slog.Error("allocator secondary also failed", slog.Any("error", err2))
	return 0, 0, fmt.Errorf("op=allocator.allocate: %w", domain.ErrUnavailable)
}

func (s *Service) incrWithBreaker(ctx context.Context, client *redis.Client, brk *observability.CircuitBreaker, ns string, size int64) (int64, error) {
	if client == nil {
		return 0, fmt.Errorf("kv not configured")
	}
	key := "id_allocator:" + ns
	var newVal int64
	err := brk.Call(func() error {
		res, err := s.script.Run(ctx, client, []string{key}, size).Result()
		if err != nil {
			return err
		}
		v, ok := res.(int64)
		if !ok {
			return fmt.Errorf("unexpected script result type %T", res)
		}
		newVal = v
		return nil
	})
	return newVal, err
}
