package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"procodus.dev/timeclock/internal/device"
	"procodus.dev/timeclock/internal/registry"
	"procodus.dev/timeclock/pkg/logger"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the connection to a terminal",
	Long: `Open a session to a terminal, read its information and close the
session again. Nothing is registered or stored.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().String("ip", "", "terminal address (required)")
	probeCmd.Flags().Int("port", device.DefaultPort, "terminal port")
	probeCmd.Flags().Duration("timeout", device.DefaultTimeout, "connection timeout")
	_ = probeCmd.MarkFlagRequired("ip")
}

func runProbe(cmd *cobra.Command, _ []string) error {
	log := GetLogger()

	cfg, err := LoadAppConfig()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	driver, err := newDriver(cfg, log, loc)
	if err != nil {
		return err
	}
	reg, err := registry.New(&registry.Config{Driver: driver, Logger: logger.WithComponent(log, "registry")})
	if err != nil {
		return err
	}

	ip, _ := cmd.Flags().GetString("ip")
	port, _ := cmd.Flags().GetInt("port")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(context.Background(), 2*timeout+time.Second)
	defer cancel()

	info, err := reg.Probe(ctx, device.Config{DeviceID: "probe", IP: ip, Port: port, Timeout: timeout})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}
