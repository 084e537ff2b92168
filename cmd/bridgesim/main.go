// Command bridgesim runs a device bridge backed by simulated terminals, so
// the timeclock server can be exercised without hardware.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"procodus.dev/timeclock/internal/bridge"
	"procodus.dev/timeclock/internal/device"
	"procodus.dev/timeclock/pkg/logger"
)

func main() {
	// Parse command-line flags
	httpPort := flag.Int("http-port", 8090, "HTTP server port")
	users := flag.Int("users", 25, "Enrolled users per simulated terminal")
	historyDays := flag.Int("history-days", 7, "Days of punches each terminal starts with")
	seed := flag.Uint64("seed", 1, "Seed for generated workforces")
	fullSync := flag.Bool("full-sync", true, "Accept full-buffer log requests")
	timezone := flag.String("timezone", "Local", "Time zone of generated punches")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	log := logger.NewWithLevel(*logLevel)

	loc, err := time.LoadLocation(*timezone)
	if err != nil {
		log.Error("invalid time zone", "timezone", *timezone, "error", err)
		os.Exit(1)
	}

	capability := device.CapabilityUnsupported
	if *fullSync {
		capability = device.CapabilitySupported
	}

	driver, err := device.NewSimulatedDriver(&device.SimulatedConfig{
		Seed:        *seed,
		Users:       *users,
		HistoryDays: *historyDays,
		FullSync:    capability,
		Location:    loc,
		Logger:      logger.WithComponent(log, "driver"),
	})
	if err != nil {
		log.Error("failed to create simulated driver", "error", err)
		os.Exit(1)
	}

	// Create server
	server, err := bridge.NewServer(&bridge.ServerConfig{
		Logger:   log,
		Driver:   driver,
		HTTPPort: *httpPort,
	})
	if err != nil {
		log.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	log.Info("starting bridge simulator",
		"http_port", *httpPort,
		"users", *users,
		"history_days", *historyDays,
		"full_sync", *fullSync,
	)

	if err := server.Run(context.Background()); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("bridge simulator stopped")
}
