package allocatorsvc

import (
	"context"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/shortlinkio/shortlink-core/internal/domain"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis, *miniredis.Miniredis) {
	t.Helper()
	mrPrimary, err := miniredis.Run()
	require.NoError(t, err)
	mrSecondary, err := miniredis.Run()
	require.NoError(t, err)

	primary := redis.NewClient(&redis.Options{Addr: mrPrimary.Addr()})
	secondary := redis.NewClient(&redis.Options{Addr: mrSecondary.Addr()})

	t.Cleanup(func() {
		_ = primary.Close()
		_ = secondary.Close()
		mrPrimary.Close()
		mrSecondary.Close()
	})

	return NewService(primary, secondary, "default", "default-failover", 1_000_000), mrPrimary, mrSecondary
}

func TestAllocate_SequentialRangesDoNotOverlap(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	start1, end1, err := svc.Allocate(ctx, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(1), start1)
	require.Equal(t, int64(1000), end1)

	start2, end2, err := svc.Allocate(ctx, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(1001), start2)
	require.Equal(t, int64(2000), end2)
}

func TestAllocate_InvalidSize(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Allocate(ctx, 0)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, _, err = svc.Allocate(ctx, 2_000_000)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

// TestAllocate_ConcurrentCallersGetDisjointRanges exercises the core
// invariant: any two concurrent Allocate calls must return disjoint ranges.
func TestAllocate_ConcurrentCallersGetDisjointRanges(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const callers = 50
	const blockSize = 100
	type rng struct{ start, end int64 }
	results := make([]rng, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		i := i
		go func() {
			defer wg.Done()
			s, e, err := svc.Allocate(ctx, blockSize)
			require.NoError(t, err)
			results[i] = rng{s, e}
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, r := range results {
		require.Equal(t, blockSize-1, int(r.end-r.start))
		for v := r.start; v <= r.end; v++ {
			require.False(t, seen[v], "value %d allocated twice", v)
			seen[v] = true
		}
	}
	require.Equal(t, callers*blockSize, len(seen))
}

func TestAllocate_FailsOverToSecondaryOnPrimaryOutage(t *testing.T) {
	svc, mrPrimary, _ := newTestService(t)
	ctx := context.Background()

	mrPrimary.Close() // simulate primary KV outage

	start, end, err := svc.Allocate(ctx, 500)
	require.NoError(t, err)
	require.Equal(t, int64(1), start)
	require.Equal(t, int64(500), end)
}

func TestAllocate_UnavailableWhenBothKVsDown(t *testing.T) {
	svc, mrPrimary, mrSecondary := newTestService(t)
	ctx := context.Background()

	mrPrimary.Close()
	mrSecondary.Close()

	_, _, err := svc.Allocate(ctx, 10)
	require.ErrorIs(t, err, domain.ErrUnavailable)
}
