// Package server provides the HTTP surface: the per-tenant read, health,
// refresh and page endpoints plus /metrics, /ready and /config.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/testimonials-cache/testimonials-cache/internal/config"
	"github.com/testimonials-cache/testimonials-cache/internal/health"
	"github.com/testimonials-cache/testimonials-cache/internal/refresh"
	"github.com/testimonials-cache/testimonials-cache/internal/registry"
	"github.com/testimonials-cache/testimonials-cache/internal/render"
	"github.com/testimonials-cache/testimonials-cache/internal/snapshot"
)

// SnapshotReader reads the snapshot served to clients.
type SnapshotReader interface {
	Current(ctx context.Context, host string) (*snapshot.Current, error)
}

// HealthReporter composes a tenant's health report.
type HealthReporter interface {
	Report(ctx context.Context, host string) (health.Report, error)
}

// Refresher runs one refresh cycle for a tenant.
type Refresher interface {
	Refresh(ctx context.Context, host string) refresh.Outcome
}

// Deps are the components the handlers call into.
type Deps struct {
	Sites     registry.Lookup
	Snapshots SnapshotReader
	Health    HealthReporter
	Refresher Refresher
	Renderer  *render.Renderer
	Gatherer  prometheus.Gatherer
}

// Server is the HTTP server.
type Server struct {
	httpServer *http.Server
	config     *config.Config
	deps       Deps
	ready      atomic.Bool
	logger     *logrus.Entry
}

// NewServer creates a new HTTP server configured from cfg.
func NewServer(cfg *config.Config, deps Deps, logger *logrus.Entry) *Server {
	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger.WithField("component", "server"),
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.logger))
	r.Use(middleware.Recoverer)

	// --- Tenant endpoints ---
	r.Get("/", s.handlePage)
	r.Get("/data.json", s.handleData)
	r.Get("/health", s.handleHealth)
	r.With(requireKey(s.config.Refresh.Header, s.config.Refresh.Key, s.logger)).
		Post("/refresh", s.handleRefresh)
	r.Get("/robots.txt", s.handleRobots)
	r.Get("/styles.css", s.handleStylesheet)

	// --- Operational endpoints ---
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	r.Get("/ready", s.handleReady)
	r.Get("/config", s.handleConfig)

	// --- pprof ---
	if s.config.Server.EnablePprof {
		r.Mount("/debug", middleware.Profiler())
		s.logger.Info("pprof endpoints enabled under /debug/pprof/")
	}

	return r
}

// Start begins serving HTTP in a background goroutine. It returns once the
// listener is up, or with the error that prevented it from starting.
// Cancelling ctx does not stop the listener; callers always pair a
// successful Start with Stop.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting HTTP server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("HTTP server error")
			errCh <- err
		}
		close(errCh)
	}()

	// Give the listener a moment to bind; surface immediate errors.
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
	case <-time.After(100 * time.Millisecond):
	}

	return nil
}

// Stop performs a graceful shutdown of the HTTP server. The provided context
// controls the maximum time to wait for in-flight requests to complete.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// SetReady updates the readiness state exposed by the /ready endpoint.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}
