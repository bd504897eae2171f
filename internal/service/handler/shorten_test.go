package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shortlinkio/shortlink-core/internal/domain"
)

func TestShorten_GeneratedCode(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	minter := &fakeMinter{}
	svc := NewShortenService(store, cache, minter, time.Hour, 3)

	rec, err := svc.Shorten(context.Background(), "https://example.com", "")
	require.NoError(t, err)
	require.NotEmpty(t, rec.ShortCode)
	require.Equal(t, "https://example.com", rec.OriginalURL)

	cached, ok, err := cache.Get(context.Background(), rec.ShortCode)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.OriginalURL, cached.OriginalURL)
}

func TestShorten_CustomCode(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	minter := &fakeMinter{}
	svc := NewShortenService(store, cache, minter, time.Hour, 3)

	rec, err := svc.Shorten(context.Background(), "https://example.com", "my-code")
	require.NoError(t, err)
	require.Equal(t, "my-code", rec.ShortCode)
}

func TestShorten_CustomCodeTaken(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	minter := &fakeMinter{}
	svc := NewShortenService(store, cache, minter, time.Hour, 3)

	_, err := svc.Shorten(context.Background(), "https://example.com", "taken")
	require.NoError(t, err)

	_, err = svc.Shorten(context.Background(), "https://another.example", "taken")
	require.ErrorIs(t, err, domain.ErrCustomCodeTaken)
}

func TestShorten_EmptyURL(t *testing.T) {
	svc := NewShortenService(newFakeStore(), newFakeCache(), &fakeMinter{}, time.Hour, 3)
	_, err := svc.Shorten(context.Background(), "", "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestShorten_ExhaustsOnPersistentCollision(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	minter := &fakeMinter{}
	svc := NewShortenService(store, cache, minter, time.Hour, 3)

	// Pre-seed the store so every minted code collides.
	for i := 0; i < 3; i++ {
		code, err := minter.NextCode(context.Background())
		require.NoError(t, err)
		_, err = store.Insert(context.Background(), domain.URLRecord{ID: int64(i + 1), ShortCode: code, OriginalURL: "https://seed.example"})
		require.NoError(t, err)
	}
	minter.next = 0 // rewind so Shorten re-mints the same (now-taken) codes

	_, err := svc.Shorten(context.Background(), "https://example.com", "")
	require.ErrorIs(t, err, domain.ErrExhausted)
}

func TestShorten_AllocatorFailureSurfaces(t *testing.T) {
	minter := &fakeMinter{err: domain.ErrAllocatorExhausted}
	svc := NewShortenService(newFakeStore(), newFakeCache(), minter, time.Hour, 3)
	_, err := svc.Shorten(context.Background(), "https://example.com", "")
	require.ErrorIs(t, err, domain.ErrAllocatorExhausted)
}
