package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RyanLisse/vibex-sync/internal/engine"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the offline operation queue",
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueRetryCmd())

	return cmd
}

func newQueueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending and failed operations",
		RunE:  runQueueList,
	}
}

// queueListing is the JSON shape for `queue list --json`.
type queueListing struct {
	Pending []engine.OfflineOperation `json:"pending"`
	Failed  []engine.OfflineOperation `json:"failed"`
	Errors  []string                  `json:"errors,omitempty"`
}

func runQueueList(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	queue := a.engine.Queue()
	listing := queueListing{
		Pending: queue.Pending(),
		Failed:  queue.Failed(),
		Errors:  queue.Errors(),
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(listing)
	}

	if len(listing.Pending) == 0 && len(listing.Failed) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}

	for _, op := range listing.Pending {
		fmt.Printf("pending  %-8s %-16s %s  retries=%d/%d\n",
			op.Type, op.Table, op.ID, op.Retries, op.MaxRetries)
	}

	for _, op := range listing.Failed {
		fmt.Printf("failed   %-8s %-16s %s  retries=%d/%d\n",
			op.Type, op.Table, op.ID, op.Retries, op.MaxRetries)
	}

	for _, msg := range listing.Errors {
		fmt.Printf("  error: %s\n", msg)
	}

	return nil
}

func newQueueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Requeue failed operations with a fresh retry budget",
		RunE:  runQueueRetry,
	}
}

func runQueueRetry(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.engine.Queue().RetryFailed(ctx)
	if err != nil {
		return fmt.Errorf("requeueing failed operations: %w", err)
	}

	statusf(flagQuiet, "Requeued %d operations. Run 'vibex-sync sync' to replay them.\n", n)

	return nil
}
