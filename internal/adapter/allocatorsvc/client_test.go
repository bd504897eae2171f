package allocatorsvc

import (
	"context"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/shortlinkio/shortlink-core/internal/domain"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc := NewService(rdb, rdb, "default", "default-failover", 1_000_000)
	r := chi.NewRouter()
	NewHandler(svc).Mount(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Allocate_RoundTrip(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL, 0)

	start, end, err := client.Allocate(context.Background(), 1000)
	require.NoError(t, err)
	require.Equal(t, int64(1), start)
	require.Equal(t, int64(1000), end)

	start2, end2, err := client.Allocate(context.Background(), 1000)
	require.NoError(t, err)
	require.Equal(t, int64(1001), start2)
	require.Equal(t, int64(2000), end2)
}

func TestClient_Allocate_InvalidSize(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL, 0)

	_, _, err := client.Allocate(context.Background(), 0)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestInProcess_Allocate(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	svc := NewService(rdb, rdb, "default", "default-failover", 1_000_000)
	p := NewInProcess(svc)

	start, end, err := p.Allocate(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), start)
	require.Equal(t, int64(10), end)
}
