package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
	"github.com/vitrine-search/vitrine/internal/fetch"
	"github.com/vitrine-search/vitrine/internal/output"
)

// newDeleteCmd creates the delete command.
func newDeleteCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "delete <external-id>",
		Short: "Delete a catalog item",
		Long: `Delete a catalog item from the metadata store and the vector index.

The metadata row is removed immediately; from that point the item can
no longer appear in search results. The vector record is removed in the
same call when the index is reachable, otherwise a compensating cleanup
task is queued and the orphaned record is also swept by the next
'vitrine reconcile'.`,
		Example: `  # Delete one item
  vitrine delete sku-1042`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runDelete(ctx, cmd, args[0], timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for queued cleanup to settle")

	return cmd
}

func runDelete(ctx context.Context, cmd *cobra.Command, externalID string, timeout time.Duration) error {
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

	if err := pipe.DeleteItem(ctx, externalID); err != nil {
		if vitrineerrors.IsNotFound(err) {
			return fmt.Errorf("item %q not found", externalID)
		}
		return fmt.Errorf("failed to delete %s: %w", externalID, err)
	}

	// Give a queued compensating cleanup time to run before the
	// snapshot is written.
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := waitForDrain(waitCtx, pipe); err != nil {
		out.Warningf("Vector cleanup still pending: %v", err)
		out.Status("💡", "Run 'vitrine reconcile' to sweep orphaned vectors")
	}

	_ = pipe.Stop()
	saveVectors(vectors, cfg, root)

	out.Successf("Deleted %s", externalID)
	return nil
}
