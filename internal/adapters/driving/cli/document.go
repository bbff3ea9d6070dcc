package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
)

var documentCmd = &cobra.Command{
	Use:   "document",
	Short: "Inspect and manage ledger documents",
}

var documentGetCmd = &cobra.Command{
	Use:   "get [doc-id]",
	Short: "Show a document with its full history",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentGet,
}

var documentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents matching filters",
	RunE:  runDocumentList,
}

var documentResubmitCmd = &cobra.Command{
	Use:   "resubmit [doc-id]",
	Short: "Re-enter a terminal document into the pipeline",
	Long: `Rewinds a STORED or FAILED document to RECEIVED as a fresh attempt.
The terminal history is retained; the retry budget resets.`,
	Args: cobra.ExactArgs(1),
	RunE: runDocumentResubmit,
}

// List filters.
var (
	listDepartment string
	listStatus     string
	listChannel    string
	listText       string
	listLimit      int
)

func init() {
	documentListCmd.Flags().StringVarP(&listDepartment, "department", "d", "", "filter by department")
	documentListCmd.Flags().StringVarP(&listStatus, "status", "s", "", "filter by status")
	documentListCmd.Flags().StringVar(&listChannel, "channel", "", "filter by source channel")
	documentListCmd.Flags().StringVarP(&listText, "text", "t", "", "full-text query over names and extracted text")
	documentListCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "maximum results")

	documentCmd.AddCommand(documentGetCmd)
	documentCmd.AddCommand(documentListCmd)
	documentCmd.AddCommand(documentResubmitCmd)
	rootCmd.AddCommand(documentCmd)
}

func runDocumentGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := ensureServices(ctx); err != nil {
		return err
	}

	doc, err := ledger.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("getting document: %w", err)
	}

	cmd.Printf("Document: %s\n\n", doc.ID)
	cmd.Printf("  Name:        %s\n", doc.OriginalName)
	cmd.Printf("  Fingerprint: %s\n", doc.Fingerprint)
	cmd.Printf("  Channel:     %s\n", doc.SourceChannel)
	cmd.Printf("  Type:        %s\n", doc.DetectedType)
	cmd.Printf("  Status:      %s\n", doc.Status)
	cmd.Printf("  Department:  %s", doc.Department)
	if doc.Department != domain.DeptUnclassified {
		cmd.Printf(" (confidence %.2f)", doc.Confidence)
	}
	cmd.Println()
	cmd.Printf("  Size:        %d bytes\n", doc.SizeBytes)
	cmd.Printf("  Received:    %s\n", doc.ReceivedAt.Format("2006-01-02 15:04:05"))
	if doc.RetryCount > 0 {
		cmd.Printf("  Retries:     %d\n", doc.RetryCount)
	}
	if doc.LastError != "" {
		cmd.Printf("  Last error:  %s\n", doc.LastError)
	}

	if len(doc.ClassificationReasons) > 0 {
		cmd.Println("\n  Classification reasons:")
		for _, reason := range doc.ClassificationReasons {
			cmd.Printf("    %-22s weight %.1f  %q\n",
				reason.RuleID, reason.Weight, reason.Matched)
		}
	}

	cmd.Println("\n  History:")
	for _, entry := range doc.History {
		cmd.Printf("    %3d  %-12s %-12s %s\n",
			entry.Seq, entry.Status, entry.Actor, entry.Detail)
	}
	return nil
}

func runDocumentList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if err := ensureServices(ctx); err != nil {
		return err
	}

	docs, err := ledger.Query(ctx, driven.QueryFilter{
		Department: domain.Department(listDepartment),
		Status:     domain.Status(listStatus),
		Channel:    domain.SourceChannel(listChannel),
		Text:       listText,
		Limit:      listLimit,
	})
	if err != nil {
		return fmt.Errorf("querying documents: %w", err)
	}

	if len(docs) == 0 {
		cmd.Println("No documents found.")
		return nil
	}

	for i := range docs {
		doc := &docs[i]
		cmd.Printf("%s  %-12s %-14s %s\n",
			doc.ID, doc.Status, doc.Department, doc.OriginalName)
	}
	cmd.Printf("\nTotal: %d documents\n", len(docs))
	return nil
}

func runDocumentResubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := ensureServices(ctx); err != nil {
		return err
	}

	doc, err := ledger.Resubmit(ctx, args[0])
	if err != nil {
		return fmt.Errorf("resubmitting document: %w", err)
	}

	cmd.Printf("Document %s re-entered as %s. Run 'docdispatch run' to process it.\n",
		doc.ID, doc.Status)
	return nil
}
