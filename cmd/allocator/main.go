// Command allocator runs the range-allocator service as its own scaled
// process: a thin HTTP wrapper around allocatorsvc.Service, backed by a
// primary/secondary Redis pair.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shortlinkio/shortlink-core/internal/adapter/allocatorsvc"
	"github.com/shortlinkio/shortlink-core/internal/config"
	"github.com/shortlinkio/shortlink-core/internal/observability"
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
			slog.Error("allocator metrics server error", slog.Any("error", err))
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

	primary, err := redisClientFromURL(cfg.AllocatorPrimaryKVURL)
	if err != nil {
		slog.Error("primary allocator KV connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	secondary, err := redisClientFromURL(cfg.AllocatorSecondaryURL)
	if err != nil {
		slog.Error("secondary allocator KV connection failed", slog.Any("error", err))
		os.Exit(1)
	}

	svc := allocatorsvc.NewService(primary, secondary, cfg.IDAllocatorKey, cfg.IDAllocatorKey, cfg.IDAllocatorMaxBlock)
	h := allocatorsvc.NewHandler(svc)

	r := chi.NewRouter()
	h.Mount(r)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	go func() {
		slog.Info("allocator listening", slog.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("allocator server error", slog.Any("error", err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("allocator shutdown error", slog.Any("error", err))
	}
}
