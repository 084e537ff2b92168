// Package api serves attendance reports, device status and sync triggers
// over HTTP as JSON.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/timeclock/internal/attendance"
	"procodus.dev/timeclock/internal/query"
	"procodus.dev/timeclock/internal/syncer"
	"procodus.dev/timeclock/pkg/metrics"
)

// Reports is the read and trigger surface the API exposes.
type Reports interface {
	GetDailyFacts(ctx context.Context, q query.FactQuery) ([]attendance.Fact, error)
	GetDeviceSyncStatus() map[string]query.DeviceSyncStatus
	TriggerSync(ctx context.Context, target string, mode syncer.Mode) (map[string]int, error)
	OfferAttendance(ctx context.Context, r query.DateRange, group string) ([]query.OfferSummary, error)
	ShortLeaveUsage(ctx context.Context, month time.Time, group string) ([]query.ShortLeaveUsage, error)
	LateArrivals(ctx context.Context, r query.DateRange, group string) ([]query.LateArrival, error)
}

// Rederiver recomputes stored facts.
type Rederiver interface {
	Rederive(ctx context.Context, req attendance.RederiveRequest) (int, error)
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger  *slog.Logger
	Reports Reports
	// Rederiver is optional; without it the rederive endpoint is not served.
	Rederiver Rederiver
	// Location parses date parameters. Defaults to time.Local.
	Location *time.Location
	Metrics  *metrics.HTTPMetrics
	// MetricsHandler serves /metrics. Defaults to metrics.Handler().
	MetricsHandler http.Handler

	HTTPPort int
	// SyncTimeout bounds on-demand syncs. Defaults to two minutes.
	SyncTimeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	logger     *slog.Logger
	reports    Reports
	rederiver  Rederiver
	loc        *time.Location
	metrics    *metrics.HTTPMetrics
	config     *ServerConfig
	httpServer *http.Server
	handler    http.Handler
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Reports == nil {
		return nil, errors.New("reports cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	s := &Server{
		logger:    cfg.Logger,
		reports:   cfg.Reports,
		rederiver: cfg.Rederiver,
		loc:       loc,
		metrics:   cfg.Metrics,
		config:    cfg,
	}
	s.handler = s.setupRoutes()
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving in the background. The returned channel receives a
// listener error, or is closed once the server stops.
func (s *Server) Start() <-chan error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.syncTimeout() + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()
	return httpErr
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("stopping HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown HTTP server", "error", err)
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) syncTimeout() time.Duration {
	if s.config.SyncTimeout > 0 {
		return s.config.SyncTimeout
	}
	return 2 * time.Minute
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	metricsHandler := s.config.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = metrics.Handler()
	}
	mux.Handle("GET /metrics", metricsHandler)

	s.route(mux, "GET /api/facts", s.handleFacts)
	s.route(mux, "GET /api/devices/status", s.handleDeviceStatus)
	s.route(mux, "POST /api/sync", s.handleSync)
	s.route(mux, "GET /api/reports/offer", s.handleOfferReport)
	s.route(mux, "GET /api/reports/short-leave", s.handleShortLeaveReport)
	s.route(mux, "GET /api/reports/late", s.handleLateReport)
	if s.rederiver != nil {
		s.route(mux, "POST /api/facts/rederive", s.handleRederive)
	}

	return mux
}

// route registers h under pattern with request metrics.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	if s.metrics == nil {
		mux.HandleFunc(pattern, h)
		return
	}

	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(s.metrics.RequestDuration.WithLabelValues(r.Method, pattern))
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.metrics.RequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
