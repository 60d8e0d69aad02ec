// Package health provides the liveness, readiness and metrics endpoints.
//
// Docker and Kubernetes use /healthz and /readyz to monitor the daemon.
// When metrics are enabled, /metrics serves the Prometheus registry the
// OpenTelemetry exporter writes to.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nadzzz/obivox/internal/config"
	"github.com/nadzzz/obivox/internal/resilience"
)

// Server is a lightweight HTTP server that exposes /healthz, /readyz and
// optionally /metrics.
type Server struct {
	port     int
	metrics  bool
	gatherer prometheus.Gatherer
	breakers func() map[string]resilience.State
	ready    atomic.Bool
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithBreakers reports backend circuit breaker states on /readyz.
func WithBreakers(fn func() map[string]resilience.State) Option {
	return func(s *Server) { s.breakers = fn }
}

// New creates a new health check server.
func New(cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{port: cfg.HealthPort, metrics: cfg.Metrics, gatherer: prometheus.DefaultGatherer}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetReady marks the daemon as ready to accept traffic.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler returns the routed health handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeStatus(w, nil)
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		var breakers map[string]string
		if s.breakers != nil {
			states := s.breakers()
			breakers = make(map[string]string, len(states))
			for name, st := range states {
				breakers[name] = st.String()
			}
		}
		s.writeStatus(w, breakers)
	})

	if s.metrics {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) writeStatus(w http.ResponseWriter, breakers map[string]string) {
	body := struct {
		Status   string            `json:"status"`
		Breakers map[string]string `json:"breakers,omitempty"`
	}{Status: "ok", Breakers: breakers}

	w.Header().Set("Content-Type", "application/json")
	if !s.ready.Load() {
		body.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(body)
}

// ListenAndServe starts the health check HTTP server.
// It blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("health server listening", "port", s.port, "metrics", s.metrics)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
