package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/total-shambles/yank/internal/api"
	"github.com/total-shambles/yank/internal/capture"
	"github.com/total-shambles/yank/internal/config"
	"github.com/total-shambles/yank/internal/metrics"
	"github.com/total-shambles/yank/internal/relay"
)

// New constructs the HTTP handler for the server. It also installs a fresh
// prometheus registry as the default gatherer so a separate metrics listener
// serves the same series.
func New(cfg config.ServerConfig, rl *relay.Relay, models api.ModelService, captures capture.Store) http.Handler {
	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	for _, m := range api.MiddlewareChain() {
		r.Use(m)
	}

	preg := prometheus.NewRegistry()
	preg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(preg)
	prometheus.DefaultRegisterer = preg
	prometheus.DefaultGatherer = preg

	r.Get("/health", api.HealthHandler())
	r.Mount("/api", api.NewRouter(rl, models, cfg.APIKey))

	r.Get("/", api.CapturesPageHandler(captures))
	r.Post("/receive_data", api.ReceiveDataHandler(captures))
	r.Get("/get_data", api.GetDataHandler(captures))
	r.Post("/clear_data", api.ClearDataHandler(captures))

	if cfg.MetricsOnMainPort() {
		r.Handle("/metrics", promhttp.HandlerFor(preg, promhttp.HandlerOpts{}))
	}

	return r
}
