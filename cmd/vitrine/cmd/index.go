package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitrine-search/vitrine/internal/feed"
	"github.com/vitrine-search/vitrine/internal/fetch"
	"github.com/vitrine-search/vitrine/internal/output"
	"github.com/vitrine-search/vitrine/internal/pipeline"
	"github.com/vitrine-search/vitrine/internal/store"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	assetURL string
	feedPath string
	timeout  time.Duration
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [external-id]",
		Short: "Index a catalog item or load a feed file",
		Long: `Index one catalog item, or load a JSON feed file.

With an external id, the item must already exist in the catalog; its
content is embedded and written to the vector index. With --feed, the
given JSON file (an array of item documents) is loaded: items are
created or updated by external id and each one is submitted for
indexing.

The command waits until the submitted work settles.`,
		Example: `  # Index an existing item
  vitrine index sku-1042

  # Index with a one-off asset override
  vitrine index sku-1042 --asset-url https://cdn.example.com/sofa.jpg

  # Load a feed file
  vitrine index --feed feeds/catalog-2026-08.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if opts.feedPath == "" && len(args) == 0 {
				return fmt.Errorf("an external id or --feed is required")
			}
			externalID := ""
			if len(args) > 0 {
				externalID = args[0]
			}
			return runIndex(ctx, cmd, externalID, opts)
		},
	}

	cmd.Flags().StringVar(&opts.assetURL, "asset-url", "", "Asset URL override for this indexing run")
	cmd.Flags().StringVar(&opts.feedPath, "feed", "", "JSON feed file to load instead of a single item")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "How long to wait for the work to settle")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, externalID string, opts indexOptions) error {
	out := output.New(cmd.OutOrStdout())

	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDataDir(root); err != nil {
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

	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	if opts.feedPath != "" {
		err = runFeedLoad(waitCtx, out, metadata, pipe, opts.feedPath)
	} else {
		err = runItemIndex(waitCtx, out, pipe, externalID, opts.assetURL)
	}

	// Settle the workers before the snapshot.
	_ = pipe.Stop()
	saveVectors(vectors, cfg, root)
	return err
}

// runItemIndex submits one item and waits for its task to finish.
func runItemIndex(ctx context.Context, out *output.Writer, pipe *pipeline.Pipeline, externalID, assetURL string) error {
	handle, err := pipe.SubmitIndex(ctx, externalID, assetURL)
	if err != nil {
		return err
	}
	out.Statusf("📦", "Submitted %s (task %s)", externalID, handle.ID)

	task, err := waitForTask(ctx, pipe, handle.ID)
	if err != nil {
		return err
	}

	switch task.State {
	case pipeline.StateCommitted:
		out.Successf("Indexed %s", externalID)
		return nil
	case pipeline.StateSkipped:
		out.Warningf("Skipped %s: %s", externalID, task.LastError)
		return nil
	case pipeline.StateDeadLettered:
		out.Errorf("Indexing %s failed: %s", externalID, task.LastError)
		out.Status("💡", "Inspect it with 'vitrine deadletters' and requeue when fixed")
		return fmt.Errorf("indexing failed")
	default:
		return fmt.Errorf("task %s did not settle (state %s)", task.ID, task.State)
	}
}

// runFeedLoad loads one feed file and waits for the submitted work.
func runFeedLoad(ctx context.Context, out *output.Writer, metadata store.MetadataStore, pipe *pipeline.Pipeline, path string) error {
	loader, err := feed.NewLoader(metadata, pipe)
	if err != nil {
		return err
	}

	report, err := loader.LoadFile(ctx, path)
	if err != nil {
		return err
	}

	out.Statusf("📄", "Loaded %s", report.Path)
	out.Fieldf("Items", "%d", report.Total)
	out.Fieldf("Created", "%d", report.Created)
	out.Fieldf("Updated", "%d", report.Updated)
	out.Fieldf("Submitted", "%d", report.Submitted)
	if len(report.Malformed) > 0 {
		out.Warningf("%d malformed entries were skipped", len(report.Malformed))
		for _, entry := range report.Malformed {
			out.Statusf("", "  entry %d: %s", entry.Index, entry.Reason)
		}
	}

	if err := waitForDrain(ctx, pipe); err != nil {
		return err
	}
	stats := pipe.Stats()
	out.Successf("Feed settled: %d committed, %d skipped, %d dead-lettered",
		stats.Committed, stats.Skipped, stats.DeadLettered)
	if stats.DeadLettered > 0 {
		return fmt.Errorf("%d items failed to index", stats.DeadLettered)
	}
	return nil
}

// waitForTask polls the task registry until the task reaches a
// terminal state.
func waitForTask(ctx context.Context, pipe *pipeline.Pipeline, taskID string) (*pipeline.Task, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		task, err := pipe.TaskStatus(taskID)
		if err != nil {
			return nil, err
		}
		if task.State.Terminal() {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for task %s (last state %s)", taskID, task.State)
		case <-ticker.C:
		}
	}
}

// waitForDrain polls pipeline stats until no work is queued or running.
func waitForDrain(ctx context.Context, pipe *pipeline.Pipeline) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		stats := pipe.Stats()
		if stats.Queued == 0 && stats.Running == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for the pipeline to settle (%d queued, %d running)",
				stats.Queued, stats.Running)
		case <-ticker.C:
		}
	}
}
