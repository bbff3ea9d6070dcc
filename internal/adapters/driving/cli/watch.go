package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the pipeline continuously",
	Long: `Starts the pipeline in continuous mode: filesystem watchers push
events as files appear, the other channels are polled on an interval and
a worker pool processes everything. Stops on SIGINT/SIGTERM after
draining in-flight work.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ensureServices(ctx); err != nil {
		return err
	}

	cmd.Println("Pipeline running. Press Ctrl+C to stop.")
	err := pipeline.Start(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pipeline stopped: %w", err)
	}

	if stats != nil {
		snap := stats.Snapshot()
		cmd.Printf("\nStopped. Stored %d, failed %d this session.\n", snap.Stored, snap.Failed)
		for _, dept := range sortedDepartments(snap.ByDepartment) {
			cmd.Printf("  %-14s %d\n", dept, snap.ByDepartment[dept])
		}
	}
	return nil
}
