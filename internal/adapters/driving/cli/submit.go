package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
)

var submitCmd = &cobra.Command{
	Use:   "submit [file]...",
	Short: "Submit files through the manual channel",
	Long: `Submits one or more local files to the pipeline and processes them
immediately. Each file is fingerprinted; bytes already in the ledger are
recorded as duplicate deliveries rather than processed again.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := ensureServices(ctx); err != nil {
		return err
	}

	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", arg, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", arg)
		}

		event := domain.IntakeEvent{
			SourceChannel: domain.ChannelManual,
			OriginalName:  filepath.Base(path),
			SizeBytes:     info.Size(),
			ReceivedAt:    time.Now().UTC(),
			ChannelMetadata: map[string]string{
				"source_path": path,
			},
			Open: func() (io.ReadCloser, error) {
				return os.Open(path)
			},
		}
		if err := pipeline.Submit(ctx, event); err != nil {
			return fmt.Errorf("submitting %s: %w", arg, err)
		}
		cmd.Printf("Submitted %s\n", filepath.Base(path))
	}

	summary, err := pipeline.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}
	cmd.Println()
	printSummary(cmd, summary)
	return nil
}
