// Package observability provides logging, metrics, tracing, and resiliency
// primitives shared across the allocator, edge, worker, and warmer binaries.
package observability

import (
	"log/slog"
	"os"

	"github.com/shortlinkio/shortlink-core/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}
