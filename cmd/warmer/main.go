// Command warmer runs the ticker-driven cache warmer, periodically
// reseeding the cache from the OLTP top-clicked set.
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

	"github.com/shortlinkio/shortlink-core/internal/adapter/cache"
	"github.com/shortlinkio/shortlink-core/internal/adapter/repo/postgres"
	"github.com/shortlinkio/shortlink-core/internal/config"
	"github.com/shortlinkio/shortlink-core/internal/observability"
	"github.com/shortlinkio/shortlink-core/internal/service/warmer"
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
			slog.Error("warmer metrics server error", slog.Any("error", err))
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

	wcfg := warmer.Config{
		Interval: cfg.WarmerInterval,
		TopN:     cfg.WarmerTopN,
		CacheTTL: cfg.URLCacheTTL,
	}
	w := warmer.New(store, urlCache, wcfg)
	go w.Run(ctx)

	slog.Info("warmer started", slog.Duration("interval", cfg.WarmerInterval), slog.Int("top_n", cfg.WarmerTopN))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancel()
}
