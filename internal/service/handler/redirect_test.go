package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shortlinkio/shortlink-core/internal/domain"
)

func newTestRedirectService(store *fakeStore, cache *fakeCache, pub *fakePublisher, fb *fakeFallback) *RedirectService {
	cfg := DefaultRedirectConfig()
	cfg.LockPollAttempts = 2
	cfg.LockPollInterval = time.Millisecond
	cfg.ClickChannelSize = 10
	cfg.ClickWorkers = 1
	cfg.PublishTimeout = time.Second
	return NewRedirectService(store, cache, pub, fb, cfg)
}

func TestRedirect_CacheHit(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	pub := &fakePublisher{}
	fb := &fakeFallback{}
	svc := newTestRedirectService(store, cache, pub, fb)
	svc.Start()
	defer svc.Stop()

	cache.entries["abc1234"] = domain.CachedURLPayload{ShortCode: "abc1234", OriginalURL: "https://example.com"}

	got, err := svc.Resolve(context.Background(), "abc1234")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", got)
}

func TestRedirect_CacheMiss_OLTPHit_WritesThrough(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	pub := &fakePublisher{}
	fb := &fakeFallback{}
	svc := newTestRedirectService(store, cache, pub, fb)
	svc.Start()
	defer svc.Stop()

	_, err := store.Insert(context.Background(), domain.URLRecord{ID: 1, ShortCode: "abc1234", OriginalURL: "https://example.com"})
	require.NoError(t, err)

	got, err := svc.Resolve(context.Background(), "abc1234")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", got)

	cached, ok, err := cache.Get(context.Background(), "abc1234")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "https://example.com", cached.OriginalURL)
}

func TestRedirect_NotFound_WritesNegativeMarker(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	pub := &fakePublisher{}
	fb := &fakeFallback{}
	svc := newTestRedirectService(store, cache, pub, fb)
	svc.Start()
	defer svc.Stop()

	_, err := svc.Resolve(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.True(t, cache.negatives["missing"])
}

func TestRedirect_NegativeCacheShortCircuits(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	pub := &fakePublisher{}
	fb := &fakeFallback{}
	svc := newTestRedirectService(store, cache, pub, fb)
	svc.Start()
	defer svc.Stop()

	cache.negatives["missing"] = true

	_, err := svc.Resolve(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedirect_ClickAccounting_PublishesEvent(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	pub := &fakePublisher{}
	fb := &fakeFallback{}
	svc := newTestRedirectService(store, cache, pub, fb)
	svc.Start()
	defer svc.Stop()

	cache.entries["abc1234"] = domain.CachedURLPayload{ShortCode: "abc1234", OriginalURL: "https://example.com"}

	_, err := svc.Resolve(context.Background(), "abc1234")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(pub.snapshot()) == 1
	}, time.Second, time.Millisecond, "expected click event to be published")

	events := pub.snapshot()
	require.Equal(t, "abc1234", events[0].ShortCode)
	require.Equal(t, int64(1), events[0].Delta)
}

func TestRedirect_ClickAccounting_FallsBackOnPublishFailure(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	pub := &fakePublisher{err: domain.ErrUnavailable}
	fb := &fakeFallback{}
	svc := newTestRedirectService(store, cache, pub, fb)
	svc.Start()
	defer svc.Stop()

	cache.entries["abc1234"] = domain.CachedURLPayload{ShortCode: "abc1234", OriginalURL: "https://example.com"}

	_, err := svc.Resolve(context.Background(), "abc1234")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(fb.snapshot()) == 1
	}, time.Second, time.Millisecond, "expected click event to fall back to the stream")
}

func TestRedirect_OLTPUnavailable(t *testing.T) {
	store := newFakeStore()
	store.getErr = domain.ErrUnavailable
	cache := newFakeCache()
	pub := &fakePublisher{}
	fb := &fakeFallback{}
	svc := newTestRedirectService(store, cache, pub, fb)
	svc.Start()
	defer svc.Stop()

	_, err := svc.Resolve(context.Background(), "abc1234")
	require.ErrorIs(t, err, domain.ErrUnavailable)
}
