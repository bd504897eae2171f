// Package worker implements the click-ingestion aggregation/flush loop. It
// is deliberately broker-agnostic: the consumer and fallback-stream
// dependencies are narrow local interfaces so the aggregation/flush logic
// is unit-testable against fakes, the same pattern the handler package uses
// for domain.URLStore/domain.URLCache.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shortlinkio/shortlink-core/internal/config"
	"github.com/shortlinkio/shortlink-core/internal/domain"
	"github.com/shortlinkio/shortlink-core/internal/observability"
)

// BrokerConsumer is the subset of internal/adapter/queue/kafka.Consumer's
// surface the worker needs; kafka.Consumer satisfies it structurally.
type BrokerConsumer interface {
	PollBatch(ctx context.Context) ([]domain.ClickEvent, error)
	CommitOffsets(ctx context.Context) error
}

// Config controls flush triggers and fallback-drain cadence.
type Config struct {
	WorkerID            string
	FlushInterval       time.Duration
	FlushSizeThreshold  int64
	FallbackDrainPeriod time.Duration
	FallbackDrainBatch  int64
}

// DefaultConfig returns reasonable worker defaults.
func DefaultConfig(workerID string) Config {
	return Config{
		WorkerID:            workerID,
		FlushInterval:       5 * time.Second,
		FlushSizeThreshold:  1000,
		FallbackDrainPeriod: 10 * time.Second,
		FallbackDrainBatch:  500,
	}
}

// Worker aggregates click events locally, periodically flushing to the
// OLTP store, cache, and OLAP sink.
type Worker struct {
	consumer BrokerConsumer
	agg      AggStore
	store    domain.URLStore
	cache    domain.URLCache
	olap     domain.OLAPWriter
	fallback domain.FallbackStream
	cfg      Config
	cacheTTL time.Duration
	retry    config.RetryConfig
}

// New constructs a Worker with a built-in OLTP retry policy (3 retries,
// 100ms initial delay, 2s max delay, x2 multiplier, jittered); use
// NewWithRetry to supply one explicitly.
func New(consumer BrokerConsumer, agg AggStore, store domain.URLStore, cache domain.URLCache, olap domain.OLAPWriter, fallback domain.FallbackStream, cacheTTL time.Duration, cfg Config) *Worker {
	return NewWithRetry(consumer, agg, store, cache, olap, fallback, cacheTTL, cfg, config.RetryConfig{MaxRetries: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2, Jitter: true})
}

// NewWithRetry constructs a Worker, applying backoff-and-retry to the OLTP
// flush step so a transient database outage doesn't drop a flushed window.
func NewWithRetry(consumer BrokerConsumer, agg AggStore, store domain.URLStore, cache domain.URLCache, olap domain.OLAPWriter, fallback domain.FallbackStream, cacheTTL time.Duration, cfg Config, retry config.RetryConfig) *Worker {
	return &Worker{
		consumer: consumer,
		agg:      agg,
		store:    store,
		cache:    cache,
		olap:     olap,
		fallback: fallback,
		cfg:      cfg,
		cacheTTL: cacheTTL,
		retry:    retry,
	}
}

// applyDeltasWithRetry retries store.ApplyClickDeltas with exponential
// backoff, since a transient OLTP outage should not drop an already-flushed
// aggregation window.
func (w *Worker) applyDeltasWithRetry(ctx context.Context, deltas map[string]int64) error {
	expo := backoff.NewExponentialBackOff()
	if w.retry.InitialDelay > 0 {
		expo.InitialInterval = w.retry.InitialDelay
	}
	if w.retry.MaxDelay > 0 {
		expo.MaxInterval = w.retry.MaxDelay
	}
	if w.retry.Multiplier > 0 {
		expo.Multiplier = w.retry.Multiplier
	}
	if !w.retry.Jitter {
		expo.RandomizationFactor = 0
	}
	expo.MaxElapsedTime = 0

	maxRetries := w.retry.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(maxRetries)), ctx)

	return backoff.Retry(func() error {
		return w.store.ApplyClickDeltas(ctx, deltas)
	}, bo)
}

// Run polls and flushes until ctx is cancelled. Run is meant to be invoked
// from its own goroutine; callers should also start DrainFallback in a
// sibling goroutine.
func (w *Worker) Run(ctx context.Context) {
	lastFlush := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := w.consumer.PollBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("poll batch failed", slog.Any("error", err))
			continue
		}

		if len(batch) > 0 {
			local := make(map[string]int64, len(batch))
			for _, ev := range batch {
				local[ev.ShortCode] += ev.Delta
			}
			if err := w.agg.HIncrBy(ctx, w.cfg.WorkerID, local); err != nil {
				// Do not commit offsets: redelivery will re-aggregate these
				// events, which is safe since deltas are additive.
				slog.Error("aggregate hincrby failed", slog.Any("error", err))
				continue
			}
			if err := w.consumer.CommitOffsets(ctx); err != nil {
				slog.Error("commit offsets failed", slog.Any("error", err))
			}
		}

		size, err := w.agg.Size(ctx, w.cfg.WorkerID)
		if err != nil {
			slog.Error("agg size check failed", slog.Any("error", err))
			size = 0
		}

		switch {
		case size >= w.cfg.FlushSizeThreshold && w.cfg.FlushSizeThreshold > 0:
			w.flush(ctx, "size")
			lastFlush = time.Now()
		case time.Since(lastFlush) >= w.cfg.FlushInterval:
			w.flush(ctx, "interval")
			lastFlush = time.Now()
		}
	}
}

// flush drains the aggregation hash and propagates deltas to OLTP, cache,
// and OLAP. OLAP failures are logged and dropped, never re-buffered: OLAP is
// best-effort analytics, OLTP remains the source of truth.
func (w *Worker) flush(ctx context.Context, trigger string) {
	deltas, err := w.agg.FlushAndClear(ctx, w.cfg.WorkerID)
	if err != nil {
		observability.WorkerFlushTotal.WithLabelValues(trigger, "error").Inc()
		slog.Error("flush and clear failed", slog.Any("error", err))
		return
	}
	if len(deltas) == 0 {
		return
	}

	if err := w.applyDeltasWithRetry(ctx, deltas); err != nil {
		observability.WorkerFlushTotal.WithLabelValues(trigger, "error").Inc()
		slog.Error("apply click deltas failed after retries", slog.Any("error", err), slog.Int("codes", len(deltas)))
		return
	}

	for code, delta := range deltas {
		payload, ok, err := w.cache.Get(ctx, code)
		if err != nil || !ok {
			continue
		}
		payload.Clicks += delta
		_ = w.cache.Set(ctx, code, payload, w.cacheTTL)
	}

	rows := make([]domain.ClickEventRow, 0, len(deltas))
	now := time.Now().UTC()
	for code, delta := range deltas {
		rows = append(rows, domain.ClickEventRow{ShortCode: code, Delta: delta, EventTime: now})
	}
	if err := w.olap.InsertClickEvents(ctx, rows); err != nil {
		observability.WorkerOLAPWriteFailuresTotal.WithLabelValues(w.cfg.WorkerID).Inc()
		slog.Error("olap insert failed, dropping batch", slog.Any("error", err), slog.Int("rows", len(rows)))
	}

	observability.WorkerFlushTotal.WithLabelValues(trigger, "ok").Inc()
	observability.WorkerFlushBatchSize.Observe(float64(len(deltas)))
}

// DrainFallback periodically replays the durable fallback stream into the
// aggregation hash, for click events that were appended when the broker
// was unavailable at publish time.
func (w *Worker) DrainFallback(ctx context.Context) {
	if w.fallback == nil {
		return
	}
	ticker := time.NewTicker(w.cfg.FallbackDrainPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.fallback.Drain(ctx, w.cfg.FallbackDrainBatch, func(innerCtx domain.Context, ev domain.ClickEvent) error {
				if err := w.agg.HIncrBy(innerCtx, w.cfg.WorkerID, map[string]int64{ev.ShortCode: ev.Delta}); err != nil {
					return fmt.Errorf("op=worker.drain_fallback: %w", err)
				}
				return nil
			})
			if err != nil {
				slog.Error("fallback drain failed", slog.Any("error", err))
			}
		}
	}
}
