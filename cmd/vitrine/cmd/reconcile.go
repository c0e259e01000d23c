package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitrine-search/vitrine/internal/fetch"
	"github.com/vitrine-search/vitrine/internal/output"
)

// newReconcileCmd creates the reconcile command.
func newReconcileCmd() *cobra.Command {
	var (
		jsonOutput bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair drift between the metadata store and the vector index",
		Long: `Walk both stores and repair drift in two passes.

Items whose vector record is missing or older than the item are
resubmitted for indexing. Vector records with no backing item are
purged. Per-record failures are logged and counted, never fatal;
rerunning converges.`,
		Example: `  # Repair drift and wait for resubmitted items to settle
  vitrine reconcile

  # Machine-readable report
  vitrine reconcile --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runReconcile(ctx, cmd, jsonOutput, timeout)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the report as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "How long to wait for resubmitted work to settle")

	return cmd
}

func runReconcile(ctx context.Context, cmd *cobra.Command, jsonOutput bool, timeout time.Duration) error {
	out := output.New(cmd.OutOrStdout())

	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	if err := requireCatalog(cfg, root); err != nil {
		return err
	}
	defer setupFileLogging(cfg, root)()

	metadata, err := openMetadata(cfg, root)
	if err != nil {
		return err
	}
	defer func() { _ = metadata.Close() }()

	vectors, err := openVectors(cfg, root)
	if err != nil {
		return err
	}
	defer func() { _ = vectors.Close() }()

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	pipe, err := newPipeline(metadata, vectors, embedder, fetch.NewHTTPFetcher(fetch.DefaultConfig()), cfg, root)
	if err != nil {
		return err
	}
	if err := pipe.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = pipe.Close() }()

	report, err := pipe.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	// Resubmitted items go through the normal pipeline; wait for the
	// queue to drain so the run leaves both stores settled.
	if report.Resubmitted > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := waitForDrain(waitCtx, pipe); err != nil {
			out.Warningf("Resubmitted work still pending: %v", err)
		}
	}

	_ = pipe.Stop()
	saveVectors(vectors, cfg, root)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	out.Statusf("🔧", "Reconciliation complete")
	out.Fieldf("Items checked", "%d", report.ItemsChecked)
	out.Fieldf("Vectors checked", "%d", report.VectorsChecked)
	out.Fieldf("Resubmitted", "%d", report.Resubmitted)
	out.Fieldf("Purged", "%d", report.Purged)
	if report.Failures > 0 {
		out.Warningf("%d records could not be repaired (see logs)", report.Failures)
	} else {
		out.Success("Stores are consistent")
	}
	return nil
}
