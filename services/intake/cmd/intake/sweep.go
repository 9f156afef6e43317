package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-enqueue stalled submissions once and exit",
	Long:  "sweep finds submissions that were never picked up or whose analysis lease went stale and hands them back to the analysis queue.",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, appCore, closeLog, err := setup()
	if err != nil {
		return err
	}
	if cfg.RedisAddr == "" {
		appCore.Close()
		closeLog()
		return errors.New("sweep needs a shared queue: set redisAddr or REDIS_ADDR")
	}
	defer closeLog()
	defer appCore.Close()

	n, err := appCore.Reconcile(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	slog.Info("sweep finished", "requeued", n)
	fmt.Fprintf(cmd.OutOrStdout(), "requeued %d submission(s)\n", n)
	return nil
}
