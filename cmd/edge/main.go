// Command edge runs the redirect/shorten HTTP service: the horizontally-
// scaled, stateless process that serves reads and writes against the
// shared allocator/cache/OLTP/broker infrastructure.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shortlinkio/shortlink-core/internal/adapter/allocatorsvc"
	"github.com/shortlinkio/shortlink-core/internal/adapter/cache"
	"github.com/shortlinkio/shortlink-core/internal/adapter/fallbackstream"
	"github.com/shortlinkio/shortlink-core/internal/adapter/httpserver"
	"github.com/shortlinkio/shortlink-core/internal/adapter/minter"
	"github.com/shortlinkio/shortlink-core/internal/adapter/queue/kafka"
	"github.com/shortlinkio/shortlink-core/internal/adapter/repo/postgres"
	"github.com/shortlinkio/shortlink-core/internal/app"
	"github.com/shortlinkio/shortlink-core/internal/config"
	"github.com/shortlinkio/shortlink-core/internal/observability"
	"github.com/shortlinkio/shortlink-core/internal/service/handler"
)

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
			slog.Error("edge metrics server error", slog.Any("error", err))
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

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema ensure failed", slog.Any("error", err))
		os.Exit(1)
	}
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

	allocClient := allocatorsvc.NewClient(cfg.AllocatorURL, cfg.AllocatorTimeout)
	idMinter := minter.New(allocClient, cfg.IDBlockSize, cfg.MinterMinCodeLength)

	publisher, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.ClickTopic)
	if err != nil {
		slog.Error("kafka producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer publisher.Close()

	fallbackStream, err := fallbackstream.New(ctx, cachePrimary, cfg.FallbackGroup)
	if err != nil {
		slog.Error("fallback stream init failed", slog.Any("error", err))
		os.Exit(1)
	}

	shortenSvc := handler.NewShortenService(store, urlCache, idMinter, cfg.URLCacheTTL, cfg.ShortenCollisionRetry)

	redirectCfg := handler.DefaultRedirectConfig()
	redirectCfg.CacheTTL = cfg.URLCacheTTL
	redirectCfg.NegativeTTL = cfg.NegativeTTL
	redirectCfg.LockTTL = cfg.LockTTL
	redirectCfg.LockPollAttempts = cfg.LockPollCount
	redirectCfg.LockPollInterval = cfg.LockPollDelay
	redirectCfg.ClickBufferTTL = cfg.ClickBufferTTL
	redirectCfg.HotScoreTTL = cfg.HotKeysTTL
	redirectCfg.ClickChannelSize = cfg.ClickQueueCapacity
	redirectCfg.PublishTimeout = cfg.ProducerTimeout

	redirectSvc := handler.NewRedirectService(store, urlCache, publisher, fallbackStream, redirectCfg)
	redirectSvc.Start()
	defer redirectSvc.Stop()

	srv := httpserver.NewServer(shortenSvc, redirectSvc)
	router := app.BuildRouter(cfg, srv)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	go func() {
		slog.Info("edge listening", slog.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("edge server error", slog.Any("error", err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("edge shutdown error", slog.Any("error", err))
	}
}
