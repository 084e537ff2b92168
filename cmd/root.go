package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "timeclock",
		Short: "Biometric time-clock attendance service",
		Long: `Collects punches from networked biometric time-clock terminals and
derives daily attendance facts:
- serve: run the scheduler, queue consumer and HTTP API
- sync: pull attendance logs once and print per-device counts
- derive: recompute stored facts for a date range
- probe: test the connection to a terminal`,
		Version: "1.0.0",
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or /etc/timeclock/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("store", "postgres", "fact store (postgres, memory)")
	rootCmd.PersistentFlags().String("driver", "bridge", "device driver (bridge, simulated)")
	rootCmd.PersistentFlags().String("bridge-url", "http://localhost:8090", "device bridge base URL")

	// Bind flags to viper
	for key, flag := range map[string]string{
		"log.level":         "log-level",
		"store.driver":      "store",
		"driver.kind":       "driver",
		"driver.bridge_url": "bridge-url",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			log.Fatalf("failed to bind %s flag: %v", flag, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if err := InitConfig(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Log config file being used
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}
