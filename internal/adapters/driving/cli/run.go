package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driving"
)

// summaryRounding keeps elapsed times readable.
const summaryRounding = time.Millisecond

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one pipeline pass",
	Long: `Polls every configured intake channel once, processes everything that
arrived and prints a summary. Use 'watch' for continuous operation.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if err := ensureServices(ctx); err != nil {
		return err
	}

	summary, err := pipeline.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}

	printSummary(cmd, summary)
	return nil
}

func printSummary(cmd *cobra.Command, summary *driving.RunSummary) {
	cmd.Printf("Polled:     %d\n", summary.Polled)
	cmd.Printf("Accepted:   %d\n", summary.Accepted)
	cmd.Printf("Duplicates: %d\n", summary.Duplicates)
	cmd.Printf("Stored:     %d\n", summary.Stored)
	cmd.Printf("Failed:     %d\n", summary.Failed)
	cmd.Printf("Elapsed:    %s\n", summary.Elapsed.Round(summaryRounding))

	if len(summary.ByDepartment) > 0 {
		cmd.Println("\nBy department:")
		for _, dept := range sortedDepartments(summary.ByDepartment) {
			cmd.Printf("  %-14s %d\n", dept, summary.ByDepartment[dept])
		}
	}
}

func sortedDepartments(m map[domain.Department]int) []domain.Department {
	depts := make([]domain.Department, 0, len(m))
	for d := range m {
		depts = append(depts, d)
	}
	sort.Slice(depts, func(i, j int) bool { return depts[i] < depts[j] })
	return depts
}
