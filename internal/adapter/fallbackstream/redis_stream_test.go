package fallbackstream

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/shortlinkio/shortlink-core/internal/domain"
)

func newTestStream(t *testing.T) (*Stream, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, err := New(context.Background(), rdb, "click_ingestion")
	require.NoError(t, err)
	return s, mr
}

func TestStream_AppendAndDrain(t *testing.T) {
	s, _ := newTestStream(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, domain.ClickEvent{ShortCode: "abc1234", Delta: 3}))
	require.NoError(t, s.Append(ctx, domain.ClickEvent{ShortCode: "def5678", Delta: 1}))

	var drained []domain.ClickEvent
	err := s.Drain(ctx, 10, func(_ domain.Context, ev domain.ClickEvent) error {
		drained = append(drained, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, drained, 2)
	require.Equal(t, "abc1234", drained[0].ShortCode)
	require.Equal(t, int64(3), drained[0].Delta)
}

func TestStream_Drain_UnackedOnHandlerError(t *testing.T) {
	s, _ := newTestStream(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, domain.ClickEvent{ShortCode: "abc1234", Delta: 1}))

	calls := 0
	err := s.Drain(ctx, 10, func(_ domain.Context, _ domain.ClickEvent) error {
		calls++
		return errUnavailableForTest
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	// Re-reading as ">' (new messages) should now be empty since the message
	// was already delivered once to this consumer and left unacked/pending,
	// not re-surfaced as new.
	var drained []domain.ClickEvent
	err = s.Drain(ctx, 10, func(_ domain.Context, ev domain.ClickEvent) error {
		drained = append(drained, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, drained, 0)
}

func TestStream_Drain_NoPendingIsNoop(t *testing.T) {
	s, _ := newTestStream(t)
	var calls int
	err := s.Drain(context.Background(), 10, func(_ domain.Context, _ domain.ClickEvent) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, calls)
}

var errUnavailableForTest = domain.ErrUnavailable
