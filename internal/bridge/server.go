// Package bridge serves the device bridge protocol over HTTP on top of any
// device.Driver. Paired with the simulated driver it stands in for the
// terminal sidecar during demos and integration tests.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"procodus.dev/timeclock/internal/device"
)

// Server is the bridge HTTP server.
type Server struct {
	logger     *slog.Logger
	driver     device.Driver
	httpServer *http.Server
	config     *ServerConfig

	mu       sync.Mutex
	sessions map[string]*openSession
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger
	Driver device.Driver

	// HTTP server configuration
	HTTPPort int
}

// openSession guards a device session, which is not safe for concurrent use.
type openSession struct {
	mu       sync.Mutex
	deviceID string
	session  device.Session
}

// NewServer creates a new bridge Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Driver == nil {
		return nil, errors.New("device driver cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	return &Server{
		logger:   cfg.Logger,
		driver:   cfg.Driver,
		config:   cfg,
		sessions: make(map[string]*openSession),
	}, nil
}

// Handler returns the routed bridge handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Run starts the bridge server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting bridge server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
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

	s.logger.Info("bridge server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown stops the HTTP server and closes every open session.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down bridge server")

	var shutdownErr error

	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
			shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		s.logger.Info("HTTP server stopped")
	}

	s.mu.Lock()
	open := s.sessions
	s.sessions = make(map[string]*openSession)
	s.mu.Unlock()

	for id, sess := range open {
		if err := sess.session.Close(); err != nil {
			s.logger.Warn("failed to close session", "session_id", id, "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; session close error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("session close error: %w", err)
			}
		}
	}

	if shutdownErr != nil {
		s.logger.Error("bridge server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("bridge server shutdown completed successfully")
	return nil
}

// OpenSessions returns the number of sessions currently held.
func (s *Server) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /sessions", s.handleOpen)
	mux.HandleFunc("GET /sessions/{id}/info", s.handleInfo)
	mux.HandleFunc("GET /sessions/{id}/users", s.handleUsers)
	mux.HandleFunc("GET /sessions/{id}/attendances", s.handleAttendances)
	mux.HandleFunc("DELETE /sessions/{id}/attendances", s.handleClear)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleClose)

	return mux
}
