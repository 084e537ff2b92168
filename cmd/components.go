package main

import (
	"fmt"
	"log/slog"
	"time"

	"procodus.dev/timeclock/internal/attendance"
	"procodus.dev/timeclock/internal/device"
	"procodus.dev/timeclock/internal/server"
	"procodus.dev/timeclock/internal/store"
	"procodus.dev/timeclock/internal/syncer"
	"procodus.dev/timeclock/pkg/logger"
	"procodus.dev/timeclock/pkg/metrics"
	"procodus.dev/timeclock/pkg/mq"
)

// buildOptions selects which outer surfaces a command needs.
type buildOptions struct {
	http  bool
	queue bool
}

func newStore(cfg *AppConfig, log *slog.Logger, loc *time.Location) (store.Store, error) {
	if cfg.Store.Driver == "memory" {
		log.Warn("using in-memory store, data is lost on exit")
		return store.NewMemoryStore(loc), nil
	}

	db, err := store.NewDB(&store.DBConfig{
		Logger:   logger.WithComponent(log, "db"),
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		DBName:   cfg.DB.Name,
		SSLMode:  cfg.DB.SSLMode,
	})
	if err != nil {
		return nil, err
	}

	s, err := store.NewGormStore(&store.GormConfig{DB: db, Location: loc, Logger: logger.WithComponent(log, "store")})
	if err != nil {
		_ = store.CloseDB(db, log)
		return nil, err
	}
	return s, nil
}

func newDriver(cfg *AppConfig, log *slog.Logger, loc *time.Location) (device.Driver, error) {
	switch cfg.Driver.Kind {
	case "simulated":
		full := device.CapabilityUnsupported
		if cfg.Driver.SimulatedFullSync {
			full = device.CapabilitySupported
		}
		return device.NewSimulatedDriver(&device.SimulatedConfig{
			Seed:        cfg.Driver.SimulatedSeed,
			Users:       cfg.Driver.SimulatedUsers,
			HistoryDays: cfg.Driver.SimulatedHistoryDays,
			FullSync:    full,
			Location:    loc,
			Logger:      logger.WithComponent(log, "driver"),
		})
	default:
		return device.NewBridgeDriver(&device.BridgeConfig{
			BaseURL: cfg.Driver.BridgeURL,
			Logger:  logger.WithComponent(log, "driver"),
		})
	}
}

func newPolicies(cfg *AppConfig, loc *time.Location) (*attendance.PolicySet, *attendance.Calendar, error) {
	policies, err := attendance.NewPolicySet(cfg.Groups, cfg.Attendance.DefaultGroup)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid group policies: %w", err)
	}
	cal, err := attendance.NewCalendar(loc, cfg.Attendance.WeekendDays, cfg.Attendance.Holidays)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid calendar: %w", err)
	}
	return policies, cal, nil
}

// devices applies the configured sync timeout to seeds without their own.
func devices(cfg *AppConfig) []device.Config {
	out := make([]device.Config, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		if d.Timeout <= 0 {
			d.Timeout = cfg.Sync.Timeout
		}
		out = append(out, d)
	}
	return out
}

// buildServer wires the whole process from configuration.
func buildServer(cfg *AppConfig, log *slog.Logger, opts buildOptions) (*server.Server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	mode, err := syncer.ParseMode(cfg.Sync.Mode)
	if err != nil {
		return nil, err
	}

	policies, cal, err := newPolicies(cfg, loc)
	if err != nil {
		return nil, err
	}

	driver, err := newDriver(cfg, log, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to create device driver: %w", err)
	}

	st, err := newStore(cfg, log, loc)
	if err != nil {
		return nil, err
	}

	serverCfg := &server.ServerConfig{
		Logger:   log,
		Store:    st,
		Driver:   driver,
		Policies: policies,
		Calendar: cal,
		Devices:  devices(cfg),
		Sync: server.SyncConfig{
			Schedule:        cfg.Sync.Schedule,
			Mode:            mode,
			AbsenceSchedule: cfg.Sync.AbsenceSchedule,
			ClearAfterSync:  cfg.Sync.ClearAfterSync,
			ImportUsers:     cfg.Sync.ImportUsers,
			OnStart:         cfg.Sync.OnStart,
		},
		Registerer: metrics.Registry,
	}

	if opts.http {
		serverCfg.HTTPPort = cfg.HTTP.Port
	}

	if opts.queue && cfg.RabbitMQ.Enabled {
		mqMetrics := metrics.NewMQMetrics(metrics.Registry)
		client, err := mq.New(&mq.Config{
			URL:       cfg.RabbitMQ.URL,
			QueueName: cfg.RabbitMQ.QueueName,
			Logger:    logger.WithComponent(log, "mq"),
			Metrics:   mqMetrics,
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
		}
		serverCfg.MQ = client
		serverCfg.QueueName = cfg.RabbitMQ.QueueName
		serverCfg.MQMetrics = mqMetrics
	}

	s, err := server.NewServer(serverCfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return s, nil
}
