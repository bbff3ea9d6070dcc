package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and adapter readiness",
	Long: `Checks the ledger, the compiled rule table, every registered
extractor and every configured channel, and reports each finding.
Exits non-zero when anything is not ready.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if err := ensureServices(ctx); err != nil {
		return err
	}

	failed := 0
	for _, diag := range pipeline.CheckConfiguration(ctx) {
		mark := "ok"
		if !diag.OK {
			mark = "FAIL"
			failed++
		}
		cmd.Printf("  %-4s %-24s %s\n", mark, diag.Component, diag.Detail)
	}

	if failed > 0 {
		return errors.New("configuration check failed")
	}
	cmd.Println("\nAll checks passed.")
	return nil
}
