package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"procodus.dev/timeclock/internal/attendance"
)

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Recompute attendance facts",
	Long: `Recompute daily attendance facts from stored punches, for example after
a group policy or the holiday calendar changed.`,
	RunE: runDerive,
}

func init() {
	rootCmd.AddCommand(deriveCmd)

	deriveCmd.Flags().String("from", "", "first day, YYYY-MM-DD (required)")
	deriveCmd.Flags().String("to", "", "last day, YYYY-MM-DD (defaults to --from)")
	deriveCmd.Flags().String("employee", "", "limit to one employee reference")
	_ = deriveCmd.MarkFlagRequired("from")
}

func runDerive(cmd *cobra.Command, _ []string) error {
	logger := GetLogger()

	cfg, err := LoadAppConfig()
	if err != nil {
		return err
	}

	server, err := buildServer(cfg, logger, buildOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = server.Shutdown() }()

	cal := server.Engine().Calendar()
	fromFlag, _ := cmd.Flags().GetString("from")
	toFlag, _ := cmd.Flags().GetString("to")
	employee, _ := cmd.Flags().GetString("employee")
	if toFlag == "" {
		toFlag = fromFlag
	}

	from, err := cal.ParseDay(fromFlag)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	to, err := cal.ParseDay(toFlag)
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}

	n, err := server.Engine().Rederive(context.Background(), attendance.RederiveRequest{
		EmployeeRef: employee,
		From:        from,
		To:          to,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d facts recomputed\n", n)
	return nil
}
