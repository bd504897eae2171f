// Package warmer implements the ticker-driven cache warmer: periodically
// reseed the cache with the hottest short codes so a cold cache (or an
// evicted hot key) rarely falls through to OLTP.
package warmer

import (
	"context"
	"log/slog"
	"time"

	"github.com/shortlinkio/shortlink-core/internal/domain"
	"github.com/shortlinkio/shortlink-core/internal/observability"
)

// Config controls the warm cycle's cadence and fan-out.
type Config struct {
	Interval time.Duration
	TopN     int
	CacheTTL time.Duration
}

// DefaultConfig returns reasonable warmer defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		TopN:     1000,
		CacheTTL: time.Hour,
	}
}

// Warmer reseeds the cache from the OLTP top-clicked set on a fixed
// interval.
type Warmer struct {
	store domain.URLStore
	cache domain.URLCache
	cfg   Config
}

// New constructs a Warmer.
func New(store domain.URLStore, cache domain.URLCache, cfg Config) *Warmer {
	return &Warmer{store: store, cache: cache, cfg: cfg}
}

// Run ticks until ctx is cancelled, warming the cache on every tick.
func (w *Warmer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.warmOnce(ctx)
		}
	}
}

// warmOnce runs a single warm cycle: fetch the top-N by clicks, then write
// them all back in one pipelined batch.
func (w *Warmer) warmOnce(ctx context.Context) {
	top, err := w.store.TopByClicks(ctx, w.cfg.TopN)
	if err != nil {
		observability.WarmerRunsTotal.WithLabelValues("error").Inc()
		slog.Error("warmer: top by clicks failed", slog.Any("error", err))
		return
	}
	if len(top) == 0 {
		observability.WarmerRunsTotal.WithLabelValues("ok").Inc()
		observability.WarmerKeysWarmed.Observe(0)
		return
	}

	payloads := make([]domain.CachedURLPayload, 0, len(top))
	for _, rec := range top {
		payloads = append(payloads, rec.ToPayload())
	}

	if err := w.cache.WarmBatch(ctx, payloads, w.cfg.CacheTTL); err != nil {
		observability.WarmerRunsTotal.WithLabelValues("error").Inc()
		slog.Error("warmer: warm batch failed", slog.Any("error", err), slog.Int("keys", len(payloads)))
		return
	}

	observability.WarmerRunsTotal.WithLabelValues("ok").Inc()
	observability.WarmerKeysWarmed.Observe(float64(len(payloads)))
}
