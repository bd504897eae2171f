// Package app wires the HTTP shell: routing and middleware only. Request
// validation, auth, and admin surfaces are intentionally out of scope.
package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shortlinkio/shortlink-core/internal/adapter/httpserver"
	"github.com/shortlinkio/shortlink-core/internal/config"
	"github.com/shortlinkio/shortlink-core/internal/observability"
)

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{cfg.CORSAllowOrigins},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		wr.Post("/shorten", srv.ShortenHandler())
	})

	r.Get("/{code}", srv.RedirectHandler())
	r.Get("/health", httpserver.HealthzHandler())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return httpserver.SecurityHeaders(r)
}
