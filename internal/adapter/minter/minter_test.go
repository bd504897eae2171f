package minter

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shortlinkio/shortlink-core/internal/domain"
)

type fakeAllocator struct {
	mu   sync.Mutex
	next int64
	err  error
}

func (f *fakeAllocator) Allocate(_ context.Context, size int64) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, 0, f.err
	}
	start := f.next + 1
	f.next += size
	return start, f.next, nil
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ids := []int64{0, 1, 61, 62, 63, 3843, 1_000_000, 9_223_372_036_854_775_807}
	for _, id := range ids {
		code := Encode(id, 7)
		got, err := Decode(code)
		require.NoError(t, err)
		require.Equal(t, id, got, "round trip failed for id=%d code=%q", id, code)
	}
}

func TestEncode_MinLengthPadding(t *testing.T) {
	require.Equal(t, "0000001", Encode(1, 7))
	require.Len(t, Encode(0, 7), 7)
}

func TestDecode_InvalidCharacter(t *testing.T) {
	_, err := Decode("abc!@#")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestNextCode_RefillsOnExhaustion(t *testing.T) {
	alloc := &fakeAllocator{}
	m := New(alloc, 2, 7)
	ctx := context.Background()

	c1, err := m.NextCode(ctx)
	require.NoError(t, err)
	c2, err := m.NextCode(ctx)
	require.NoError(t, err)
	c3, err := m.NextCode(ctx)
	require.NoError(t, err)

	require.NotEqual(t, c1, c2)
	require.NotEqual(t, c2, c3)
	id1, _ := Decode(c1)
	id2, _ := Decode(c2)
	id3, _ := Decode(c3)
	require.Equal(t, id1+1, id2)
	require.Equal(t, id2+1, id3)
}

// TestNextCode_ConcurrentCallersNeverCollide exercises the core invariant:
// every short code minted across all edges is unique.
func TestNextCode_ConcurrentCallersNeverCollide(t *testing.T) {
	alloc := &fakeAllocator{}
	m := New(alloc, 100, 7)
	ctx := context.Background()

	const n = 2000
	codes := make([]string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			c, err := m.NextCode(ctx)
			require.NoError(t, err)
			codes[i] = c
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, c := range codes {
		require.False(t, seen[c], "duplicate code minted: %s", c)
		seen[c] = true
	}
}

func TestNextCode_AllocatorFailureSurfacesAsExhausted(t *testing.T) {
	alloc := &fakeAllocator{err: domain.ErrUnavailable}
	m := New(alloc, 10, 7)
	_, err := m.NextCode(context.Background())
	require.ErrorIs(t, err, domain.ErrAllocatorExhausted)
}
