package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"procodus.dev/timeclock/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync [device-id|all]",
	Short: "Sync attendance logs once",
	Long: `Connect to one terminal, or to every configured terminal, pull its
attendance log, derive the affected facts and print the number of records
retrieved per device.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().Bool("full", false, "request the complete log buffer")
	syncCmd.Flags().Bool("users", false, "also import enrolled device users")
}

func runSync(cmd *cobra.Command, args []string) error {
	logger := GetLogger()

	cfg, err := LoadAppConfig()
	if err != nil {
		return err
	}

	mode, err := syncer.ParseMode(cfg.Sync.Mode)
	if err != nil {
		return err
	}
	if full, _ := cmd.Flags().GetBool("full"); full {
		mode = syncer.Full
	}

	target := syncer.AllDevices
	if len(args) == 1 {
		target = args[0]
	}

	server, err := buildServer(cfg, logger, buildOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = server.Shutdown() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Prepare(ctx); err != nil {
		return err
	}

	counts, err := server.Orchestrator().Trigger(ctx, target, mode)
	if err != nil {
		return err
	}

	if users, _ := cmd.Flags().GetBool("users"); users {
		for id := range counts {
			if !server.Registry().IsConnected(id) {
				continue
			}
			n, err := server.Orchestrator().SyncUsers(ctx, id)
			if err != nil {
				logger.Warn("failed to import device users", "device_id", id, "error", err)
				continue
			}
			logger.Info("device users imported", "device_id", id, "added", n)
		}
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tRECORDS")
	for _, id := range ids {
		fmt.Fprintf(w, "%s\t%d\n", id, counts[id])
	}
	return w.Flush()
}
