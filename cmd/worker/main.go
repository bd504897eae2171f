// Command worker runs the click-ingestion aggregation/flush loop: consumes
// click_events from the broker, aggregates locally, and periodically
// flushes to OLTP, cache, and OLAP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shortlinkio/shortlink-core/internal/adapter/cache"
	"github.com/shortlinkio/shortlink-core/internal/adapter/fallbackstream"
	"github.com/shortlinkio/shortlink-core/internal/adapter/olap/clickhouse"
	"github.com/shortlinkio/shortlink-core/internal/adapter/queue/kafka"
	"github.com/shortlinkio/shortlink-core/internal/adapter/repo/postgres"
	"github.com/shortlinkio/shortlink-core/internal/config"
	"github.com/shortlinkio/shortlink-core/internal/domain"
	"github.com/shortlinkio/shortlink-core/internal/observability"
	"github.com/shortlinkio/shortlink-core/internal/service/worker"
)

// noopOLAPWriter discards click-event rows when OLAP is disabled
// (config.Config.OLAPEnable = false), so the worker's flush path never has
// to special-case a nil dependency.
type noopOLAPWriter struct{}

func (noopOLAPWriter) InsertClickEvents(_ context.Context, _ []domain.ClickEventRow) error {
	return nil
}

func redisClientFromURL(raw string) (*redis.Client, error) {
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.MetricsPort), mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	store := postgres.NewURLRepo(pool)

	cachePrimary, err := redisClientFromURL(cfg.CacheURL)
	if err != nil {
		slog.Error("cache primary connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	cacheReplica, err := redisClientFromURL(cfg.CacheReplicaURL)
	if err != nil {
		slog.Error("cache replica connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	urlCache := cache.New(cachePrimary, cacheReplica)

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}
	aggStore := worker.NewRedisAggStore(cachePrimary)

	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroupID, cfg.ClickTopic)
	if err != nil {
		slog.Error("kafka consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer consumer.Close()

	fallbackStream, err := fallbackstream.New(ctx, cachePrimary, cfg.FallbackGroup)
	if err != nil {
		slog.Error("fallback stream init failed", slog.Any("error", err))
		os.Exit(1)
	}

	var olapWriter domain.OLAPWriter = noopOLAPWriter{}
	if cfg.OLAPEnable {
		ch, err := clickhouse.Open(ctx, cfg.OLAPURL, "shortlink", "", "")
		if err != nil {
			slog.Error("clickhouse connection failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer ch.Close()
		if err := ch.EnsureSchema(ctx); err != nil {
			slog.Error("clickhouse schema ensure failed", slog.Any("error", err))
			os.Exit(1)
		}
		olapWriter = ch
	}

	wcfg := worker.DefaultConfig(workerID)
	wcfg.FlushInterval = cfg.IngestionFlushInterval
	wcfg.FlushSizeThreshold = int64(cfg.IngestionBatchSize)
	wcfg.FallbackDrainPeriod = cfg.FallbackDrainPeriod
	wcfg.FallbackDrainBatch = cfg.FallbackMaxLen

	w := worker.NewWithRetry(consumer, aggStore, store, urlCache, olapWriter, fallbackStream, cfg.URLCacheTTL, wcfg, cfg.GetRetryConfig())

	go w.Run(ctx)
	go w.DrainFallback(ctx)

	slog.Info("worker started", slog.String("worker_id", workerID))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancel()
}
