// Package server assembles the timeclock host process: device registry,
// sync orchestrator, derivation engine, scheduler, queue transport and HTTP API.
package server

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"procodus.dev/timeclock/internal/api"
	"procodus.dev/timeclock/internal/attendance"
	"procodus.dev/timeclock/internal/device"
	"procodus.dev/timeclock/internal/punch"
	"procodus.dev/timeclock/internal/query"
	"procodus.dev/timeclock/internal/registry"
	"procodus.dev/timeclock/internal/store"
	"procodus.dev/timeclock/internal/syncer"
	"procodus.dev/timeclock/pkg/logger"
	"procodus.dev/timeclock/pkg/metrics"
	"procodus.dev/timeclock/pkg/mq"
)

const (
	DefaultSyncSchedule    = "*/5 * * * *"
	DefaultAbsenceSchedule = "55 23 * * *"
	shutdownTimeout        = 30 * time.Second
)

// SyncConfig controls scheduled work.
type SyncConfig struct {
	// Schedule is the cron expression for device sweeps.
	Schedule string
	Mode     syncer.Mode
	// AbsenceSchedule is the cron expression for the daily absence sweep. "-" disables it.
	AbsenceSchedule string
	ClearAfterSync  bool
	// ImportUsers adds device users to the directory after every sweep.
	ImportUsers bool
	// OnStart runs a sweep as soon as the server starts.
	OnStart bool
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger     *slog.Logger
	Store      store.Store
	Driver     device.Driver
	Policies   *attendance.PolicySet
	Calendar   *attendance.Calendar
	Directions punch.DirectionTable
	// Devices are saved to the device table on start.
	Devices []device.Config
	Sync    SyncConfig

	// MQ is optional. When set, synced batches are published to the queue
	// and ingested by the consumer; otherwise they are ingested directly.
	MQ        mq.ClientInterface
	QueueName string
	// MQMetrics is shared with the MQ client. Created when nil.
	MQMetrics *metrics.MQMetrics

	// HTTPPort of the API. Zero disables the HTTP server.
	HTTPPort int
	// Registerer receives every metric. Nil means metrics.Registry.
	Registerer     prometheus.Registerer
	MetricsHandler http.Handler
}

// Server is the timeclock host process.
type Server struct {
	logger *slog.Logger
	config *ServerConfig

	store        store.Store
	registry     *registry.Registry
	engine       *attendance.Engine
	orchestrator *syncer.Orchestrator
	reports      *query.Service
	api          *api.Server
	consumer     *Consumer
	scheduler    *cron.Cron

	consuming bool

	runCtx    context.Context
	runCancel context.CancelFunc
	jobs      sync.WaitGroup
	shutdown  sync.Once
	shutErr   error
}

// NewServer validates cfg and assembles every component. Nothing is started.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if cfg.Driver == nil {
		return nil, errors.New("device driver cannot be nil")
	}

	if cfg.Policies == nil {
		return nil, errors.New("policies cannot be nil")
	}

	if cfg.Calendar == nil {
		return nil, errors.New("calendar cannot be nil")
	}

	if cfg.HTTPPort < 0 {
		return nil, errors.New("HTTP port cannot be negative")
	}

	if cfg.Sync.Schedule == "" {
		cfg.Sync.Schedule = DefaultSyncSchedule
	}
	if cfg.Sync.AbsenceSchedule == "" {
		cfg.Sync.AbsenceSchedule = DefaultAbsenceSchedule
	}
	if cfg.Sync.Mode == "" {
		cfg.Sync.Mode = syncer.Incremental
	}

	s := &Server{logger: cfg.Logger, config: cfg, store: cfg.Store}
	if err := s.assemble(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) assemble() error {
	cfg := s.config
	reg := cfg.Registerer
	if reg == nil {
		reg = metrics.Registry
	}
	syncMetrics := metrics.NewSyncMetrics(reg)
	derivationMetrics := metrics.NewDerivationMetrics(reg)

	var err error
	s.registry, err = registry.New(&registry.Config{
		Driver:  cfg.Driver,
		Logger:  logger.WithComponent(cfg.Logger, "registry"),
		Metrics: syncMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create registry: %w", err)
	}

	normalizer, err := punch.NewNormalizer(&punch.Config{
		Location:   cfg.Calendar.Location(),
		Directions: cfg.Directions,
		Logger:     logger.WithComponent(cfg.Logger, "normalizer"),
		Metrics:    syncMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create normalizer: %w", err)
	}

	s.engine, err = attendance.NewEngine(&attendance.Config{
		Events:    s.store,
		Facts:     s.store,
		Leaves:    s.store,
		Directory: s.store,
		Policies:  cfg.Policies,
		Calendar:  cfg.Calendar,
		Logger:    logger.WithComponent(cfg.Logger, "engine"),
		Metrics:   derivationMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	var sink syncer.Sink = s.engine
	if cfg.MQ != nil {
		mqMetrics := cfg.MQMetrics
		if mqMetrics == nil {
			mqMetrics = metrics.NewMQMetrics(reg)
		}
		sink, err = NewPublisher(logger.WithComponent(cfg.Logger, "publisher"), cfg.MQ)
		if err != nil {
			return fmt.Errorf("failed to create publisher: %w", err)
		}
		s.consumer, err = NewConsumer(&ConsumerConfig{
			Logger:    logger.WithComponent(cfg.Logger, "consumer"),
			Client:    cfg.MQ,
			Ingester:  s.engine,
			QueueName: cfg.QueueName,
			Metrics:   mqMetrics,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	s.orchestrator, err = syncer.New(&syncer.Config{
		Registry:       s.registry,
		Normalizer:     normalizer,
		Sink:           sink,
		Devices:        s.store,
		Recorder:       s.store,
		Directory:      s.store,
		DefaultGroup:   cfg.Policies.DefaultGroup(),
		ClearAfterSync: cfg.Sync.ClearAfterSync,
		Logger:         logger.WithComponent(cfg.Logger, "syncer"),
		Metrics:        syncMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	s.reports, err = query.New(&query.Config{
		Facts:     s.store,
		Leaves:    s.store,
		Directory: s.store,
		Policies:  cfg.Policies,
		Calendar:  cfg.Calendar,
		Sync:      s.orchestrator,
		Logger:    logger.WithComponent(cfg.Logger, "query"),
	})
	if err != nil {
		return fmt.Errorf("failed to create query service: %w", err)
	}

	if cfg.HTTPPort > 0 {
		s.api, err = api.NewServer(&api.ServerConfig{
			Logger:         logger.WithComponent(cfg.Logger, "api"),
			Reports:        s.reports,
			Rederiver:      s.engine,
			Location:       cfg.Calendar.Location(),
			Metrics:        metrics.NewHTTPMetrics(reg),
			MetricsHandler: cfg.MetricsHandler,
			HTTPPort:       cfg.HTTPPort,
		})
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
	}

	s.scheduler = cron.New(
		cron.WithLocation(cfg.Calendar.Location()),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: cfg.Logger})),
	)
	if _, err := s.scheduler.AddFunc(cfg.Sync.Schedule, s.runSweep); err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", cfg.Sync.Schedule, err)
	}
	if cfg.Sync.AbsenceSchedule != "-" {
		if _, err := s.scheduler.AddFunc(cfg.Sync.AbsenceSchedule, s.runAbsenceSweep); err != nil {
			return fmt.Errorf("invalid absence schedule %q: %w", cfg.Sync.AbsenceSchedule, err)
		}
	}

	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	return nil
}

// Registry returns the device registry.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Engine returns the derivation engine.
func (s *Server) Engine() *attendance.Engine { return s.engine }

// Orchestrator returns the sync orchestrator.
func (s *Server) Orchestrator() *syncer.Orchestrator { return s.orchestrator }

// Reports returns the query service.
func (s *Server) Reports() *query.Service { return s.reports }

// Handler returns the API handler, or nil when HTTP is disabled.
func (s *Server) Handler() http.Handler {
	if s.api == nil {
		return nil
	}
	return s.api.Handler()
}

// Prepare saves the configured devices and registers every stored device.
func (s *Server) Prepare(ctx context.Context) error {
	for _, d := range s.config.Devices {
		d = d.WithDefaults()
		if err := d.Validate(); err != nil {
			return fmt.Errorf("device %q: %w", d.DeviceID, err)
		}
		if err := s.store.SaveDevice(ctx, d); err != nil {
			return fmt.Errorf("failed to save device %s: %w", d.DeviceID, err)
		}
	}

	devices, err := s.store.Devices(ctx)
	if err != nil {
		return fmt.Errorf("failed to load devices: %w", err)
	}
	for _, d := range devices {
		if err := s.registry.Register(d); err != nil {
			s.logger.Warn("skipping invalid device", "device_id", d.DeviceID, "error", err)
		}
	}
	s.logger.Info("devices loaded", "count", len(devices))
	return nil
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting timeclock server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	if err := s.Prepare(ctx); err != nil {
		_ = s.Shutdown()
		return err
	}

	if s.consumer != nil {
		if err := s.consumer.Start(s.runCtx); err != nil {
			_ = s.Shutdown()
			return fmt.Errorf("failed to start consumer: %w", err)
		}
		s.consuming = true
	}

	s.scheduler.Start()
	s.logger.Info("scheduler started",
		"sync_schedule", s.config.Sync.Schedule,
		"absence_schedule", s.config.Sync.AbsenceSchedule,
		"mode", s.config.Sync.Mode)

	if s.config.Sync.OnStart {
		s.jobs.Add(1)
		go func() {
			defer s.jobs.Done()
			s.runSweep()
		}()
	}

	var httpErr <-chan error
	if s.api != nil {
		httpErr = s.api.Start()
	}

	s.logger.Info("timeclock server started successfully")

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
			_ = s.Shutdown()
			return err
		}
	}

	return s.Shutdown()
}

func (s *Server) runSweep() {
	ctx := s.runCtx
	counts := s.orchestrator.SyncAllDevices(ctx, s.config.Sync.Mode)

	if !s.config.Sync.ImportUsers {
		return
	}
	for id := range counts {
		if !s.registry.IsConnected(id) {
			continue
		}
		if _, err := s.orchestrator.SyncUsers(ctx, id); err != nil {
			s.logger.Warn("failed to import device users", "device_id", id, "error", err)
		}
	}
}

func (s *Server) runAbsenceSweep() {
	day := time.Now().In(s.config.Calendar.Location())
	if _, err := s.engine.SweepAbsences(s.runCtx, day); err != nil {
		s.logger.Error("absence sweep failed", "date", s.config.Calendar.Key(day), "error", err)
	}
}

// Shutdown stops scheduled work, the HTTP server and the consumer, closes
// every device session and the store. It is safe to call more than once.
func (s *Server) Shutdown() error {
	s.shutdown.Do(func() {
		s.shutErr = s.doShutdown()
	})
	return s.shutErr
}

func (s *Server) doShutdown() error {
	s.logger.Info("shutting down timeclock server")

	var errs []error

	stopped := s.scheduler.Stop()
	s.runCancel()
	select {
	case <-stopped.Done():
	case <-time.After(shutdownTimeout):
		s.logger.Warn("scheduled jobs did not finish in time")
	}
	s.jobs.Wait()

	if s.api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.api.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	switch {
	case s.consuming:
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
			errs = append(errs, fmt.Errorf("consumer shutdown error: %w", err))
		}
	case s.config.MQ != nil:
		if err := s.config.MQ.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mq close error: %w", err))
		}
	}

	s.registry.DisconnectAll()

	if err := s.store.Close(); err != nil {
		s.logger.Error("failed to close store", "error", err)
		errs = append(errs, fmt.Errorf("store close error: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("timeclock server shutdown completed with errors", "error", err)
		return err
	}

	s.logger.Info("timeclock server shutdown completed successfully")
	return nil
}
