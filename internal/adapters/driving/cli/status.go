package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline and ledger status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// statusOrder lists statuses in pipeline order for display.
var statusOrder = []domain.Status{
	domain.StatusReceived,
	domain.StatusTyped,
	domain.StatusExtracting,
	domain.StatusExtracted,
	domain.StatusClassifying,
	domain.StatusClassified,
	domain.StatusStored,
	domain.StatusFailed,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if err := ensureServices(ctx); err != nil {
		return err
	}

	status, err := pipeline.Status(ctx)
	if err != nil {
		return fmt.Errorf("reading status: %w", err)
	}

	cmd.Printf("Queued:    %d\n", status.Queued)
	cmd.Printf("In flight: %d\n", status.InFlight)

	if len(status.ByStatus) > 0 {
		cmd.Println("\nDocuments by status:")
		for _, s := range statusOrder {
			if n := status.ByStatus[s]; n > 0 {
				cmd.Printf("  %-12s %d\n", s, n)
			}
		}
	}

	if len(status.ByDepartment) > 0 {
		cmd.Println("\nDocuments by department:")
		depts := make([]domain.Department, 0, len(status.ByDepartment))
		for d := range status.ByDepartment {
			depts = append(depts, d)
		}
		sort.Slice(depts, func(i, j int) bool { return depts[i] < depts[j] })
		for _, d := range depts {
			cmd.Printf("  %-14s %d\n", d, status.ByDepartment[d])
		}
	}
	return nil
}
