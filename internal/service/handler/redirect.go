package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shortlinkio/shortlink-core/internal/domain"
	"github.com/shortlinkio/shortlink-core/internal/observability"
)

// RedirectConfig holds the TTLs and tuning knobs for RedirectService, each
// tied to a cache key the Redis adapter maintains.
type RedirectConfig struct {
	CacheTTL         time.Duration // url:<code>, base before jitter
	NegativeTTL      time.Duration // neg:<code>
	LockTTL          time.Duration // lock:<code>
	LockPollAttempts int           // bounded retries while waiting on another holder
	LockPollInterval time.Duration
	ClickBufferTTL   time.Duration // click_buffer:<code>
	HotScoreTTL      time.Duration // hot_urls
	ClickChannelSize int
	ClickWorkers     int
	PublishTimeout   time.Duration
}

// DefaultRedirectConfig returns reasonable example tuning values.
func DefaultRedirectConfig() RedirectConfig {
	return RedirectConfig{
		CacheTTL:         time.Hour,
		NegativeTTL:      30 * time.Second,
		LockTTL:          5 * time.Second,
		LockPollAttempts: 10,
		LockPollInterval: 50 * time.Millisecond,
		ClickBufferTTL:   5 * time.Minute,
		HotScoreTTL:      time.Hour,
		ClickChannelSize: 1000,
		ClickWorkers:     3,
		PublishTimeout:   2 * time.Second,
	}
}

// RedirectService implements the redirect/resolve operation.
type RedirectService struct {
	store     domain.URLStore
	cache     domain.URLCache
	publisher domain.ClickPublisher
	fallback  domain.FallbackStream
	cfg       RedirectConfig

	sf      singleflight.Group
	clickCh chan domain.ClickEvent
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewRedirectService constructs a RedirectService. Call Start to launch the
// click-accounting worker pool and Stop to drain it on shutdown.
func NewRedirectService(store domain.URLStore, cache domain.URLCache, publisher domain.ClickPublisher, fallback domain.FallbackStream, cfg RedirectConfig) *RedirectService {
	return &RedirectService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		fallback:  fallback,
		cfg:       cfg,
		clickCh:   make(chan domain.ClickEvent, cfg.ClickChannelSize),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the configured number of click-accounting workers.
func (s *RedirectService) Start() {
	for i := 0; i < s.cfg.ClickWorkers; i++ {
		s.wg.Add(1)
		go s.clickWorker()
	}
}

// Stop signals all click workers to drain and exit, waiting for them.
func (s *RedirectService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Resolve returns the original URL for code, or domain.ErrNotFound /
// domain.ErrUnavailable. Click accounting happens out-of-band and never
// affects the returned error: a click-publish failure must never fail the
// redirect itself.
func (s *RedirectService) Resolve(ctx domain.Context, code string) (string, error) {
	start := time.Now()
	source := "cache"
	defer func() {
		observability.RedirectDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}()

	if payload, ok, err := s.cache.Get(ctx, code); err == nil && ok {
		s.recordClickAsync(code)
		return payload.OriginalURL, nil
	}

	if neg, err := s.cache.IsNegative(ctx, code); err == nil && neg {
		source = "negative"
		return "", fmt.Errorf("op=redirect.resolve: %w", domain.ErrNotFound)
	}

	source = "oltp"
	v, err, _ := s.sf.Do(code, func() (interface{}, error) {
		return s.resolveFromStore(ctx, code)
	})
	if err != nil {
		return "", err
	}
	payload := v.(domain.CachedURLPayload)
	s.recordClickAsync(code)
	return payload.OriginalURL, nil
}

// resolveFromStore acquires the distributed lock, polls the cache while
// waiting on another holder, falls through to an OLTP read, writes through,
// and releases the lock.
func (s *RedirectService) resolveFromStore(ctx domain.Context, code string) (domain.CachedURLPayload, error) {
	acquired, lockErr := s.cache.AcquireLock(ctx, code, s.cfg.LockTTL)
	if lockErr == nil && !acquired {
		for i := 0; i < s.cfg.LockPollAttempts; i++ {
			select {
			case <-ctx.Done():
				return domain.CachedURLPayload{}, ctx.Err()
			case <-time.After(s.cfg.LockPollInterval):
			}
			if payload, ok, err := s.cache.Get(ctx, code); err == nil && ok {
				return payload, nil
			}
		}
		// Lock holder may have crashed; fall through and attempt the OLTP
		// read ourselves rather than waiting indefinitely.
	}
	if acquired {
		defer func() { _ = s.cache.ReleaseLock(ctx, code) }()
	}

	// Another holder may have populated the cache between our initial miss
	// and acquiring the lock.
	if payload, ok, err := s.cache.Get(ctx, code); err == nil && ok {
		return payload, nil
	}

	rec, err := s.store.GetByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		_ = s.cache.SetNegative(ctx, code, s.cfg.NegativeTTL)
		return domain.CachedURLPayload{}, fmt.Errorf("op=redirect.resolve: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.CachedURLPayload{}, fmt.Errorf("op=redirect.resolve: %w", domain.ErrUnavailable)
	}

	payload := rec.ToPayload()
	_ = s.cache.Set(ctx, code, payload, s.cfg.CacheTTL)
	return payload, nil
}

// recordClickAsync increments the click buffer and hot-key score inline
// (both are cheap, idempotent-on-retry Redis ops) then hands the publish off
// to the worker pool via a non-blocking send, falling back to a synchronous
// fallback-stream append when the channel is full (grounded on the
// bounded-channel "select default:" pattern from
// other_examples/.../click_processor.go).
func (s *RedirectService) recordClickAsync(code string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PublishTimeout)
		defer cancel()

		if _, err := s.cache.IncrClickBuffer(ctx, code, s.cfg.ClickBufferTTL); err != nil {
			_ = err
		}
		if err := s.cache.IncrHotScore(ctx, code, s.cfg.HotScoreTTL); err != nil {
			_ = err
		}

		ev := domain.ClickEvent{ShortCode: code, Delta: 1}
		select {
		case s.clickCh <- ev:
		default:
			_ = s.fallback.Append(ctx, ev)
		}
	}()
}

func (s *RedirectService) clickWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			for {
				select {
				case ev := <-s.clickCh:
					ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PublishTimeout)
					s.publishOrFallback(ctx, ev)
					cancel()
				default:
					return
				}
			}
		case ev := <-s.clickCh:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PublishTimeout)
			s.publishOrFallback(ctx, ev)
			cancel()
		}
	}
}

func (s *RedirectService) publishOrFallback(ctx domain.Context, ev domain.ClickEvent) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		if fbErr := s.fallback.Append(ctx, ev); fbErr != nil {
			_ = fbErr
		}
	}
}
