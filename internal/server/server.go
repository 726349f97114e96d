// Package server builds the admin/ops HTTP surface (SPEC_FULL.md §1, §6):
// a thin route table over internal/handlers, kept deliberately small since
// scenario/operator-facing business logic is an external collaborator
// (spec.md §1 Non-goals).
package server

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fernhollow/roomctl/internal/config"
	"github.com/fernhollow/roomctl/internal/handlers"
	"github.com/fernhollow/roomctl/internal/logging"
	"github.com/fernhollow/roomctl/internal/metrics"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// New builds the admin API server: device registry reads, the queue-push
// producer route, and the direct-command bridge invocation route.
func New(cfg *config.AdminConfig, deps *handlers.Dependencies) *http.Server {
	r := mux.NewRouter()

	r.HandleFunc("/devices", handlers.DevicesHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/commands", handlers.PushCommandHandler(deps)).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/bridge", handlers.BridgeCommandHandler(deps)).Methods(http.MethodPost)

	return &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler: loggingMiddleware("admin", r),
	}
}

// NewMetrics builds the internal-only health/ready/metrics server, bound
// to its own configured port so it can never collide with the admin
// server's listener. It should never be exposed outside the cluster/host
// network.
func NewMetrics(cfg *config.MetricsConfig, deps *handlers.Dependencies) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HealthHandler)
	mux.HandleFunc("/ready", handlers.ReadyHandler(deps))
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler: loggingMiddleware("metrics", mux),
	}
}

func loggingMiddleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		metrics.HTTPRequestDuration.WithLabelValues(r.URL.Path, strconv.Itoa(sw.statusCode)).Observe(duration.Seconds())

		logging.WithFields("server", "server.request", map[string]any{
			"server":      route,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      sw.statusCode,
			"duration_ms": duration.Milliseconds(),
			"remote_addr": r.RemoteAddr,
		}).Info("http request")
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code for logging/metrics.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.ResponseWriter.WriteHeader(code)
}
