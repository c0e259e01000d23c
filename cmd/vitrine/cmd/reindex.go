package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitrine-search/vitrine/internal/embed"
	"github.com/vitrine-search/vitrine/internal/fetch"
	"github.com/vitrine-search/vitrine/internal/pipeline"
	"github.com/vitrine-search/vitrine/internal/ui"
)

// reindexOptions holds CLI flags for reindex.
type reindexOptions struct {
	force     bool
	noTUI     bool
	reconcile bool
	timeout   time.Duration
}

func newReindexCmd() *cobra.Command {
	var opts reindexOptions

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Re-embed and re-index the whole catalog",
		Long: `Queue an indexing task for every item in the catalog and wait for the
pipeline to drain. Upserts are idempotent, so a reindex converges even
over an existing index; stale snapshots are fenced off and reported as
skipped.

Only one reindex may run at a time, enforced by a lock file shared
across processes. With --reconcile, a consistency sweep runs after the
drain and purges vector records that lost their backing item.

Use --force to discard the current vector snapshot first, which is
required after changing the embedding model or dimensions.`,
		Example: `  # Reindex everything
  vitrine reindex

  # Rebuild the vector index from scratch (new model/dimensions)
  vitrine reindex --force

  # Reindex and sweep orphaned vectors afterwards
  vitrine reindex --reconcile

  # Plain output for CI logs
  vitrine reindex --no-tui`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runReindex(ctx, cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.force, "force", false, "Discard the current vector snapshot before reindexing")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Disable the progress UI (plain text output)")
	cmd.Flags().BoolVar(&opts.reconcile, "reconcile", false, "Run a consistency sweep after the drain")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Hour, "How long to wait for the catalog to drain")

	return cmd
}

func runReindex(ctx context.Context, cmd *cobra.Command, opts reindexOptions) error {
	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	if err := requireCatalog(cfg, root); err != nil {
		return err
	}
	if err := cfg.EnsureDataDir(root); err != nil {
		return err
	}
	// The renderer owns stdout; logs go to the file only.
	defer setupFileLogging(cfg, root)()

	if opts.force {
		if err := clearVectorSnapshot(cfg.VectorsPath(root)); err != nil {
			return err
		}
		slog.Info("vector_snapshot_cleared", slog.String("path", cfg.VectorsPath(root)))
	}

	uiCfg := ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.noTUI),
		ui.WithDataDir(cfg.ResolveDataDir(root)))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

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

	renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageQueueing,
		Message: "Connecting to embedder...",
	})
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

	start := time.Now()

	renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageQueueing,
		Message: "Queueing catalog items...",
	})
	total, err := pipe.SubmitReindexAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to queue reindex: %w", err)
	}
	slog.Info("reindex_submitted", slog.Int("items", total))

	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	base := pipe.Stats()
	if err := drainWithProgress(waitCtx, pipe, renderer, base, total); err != nil {
		return err
	}

	if opts.reconcile {
		renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageReconciling,
			Message: "Sweeping both stores...",
		})
		report, err := pipe.Reconcile(waitCtx)
		if err != nil {
			return fmt.Errorf("reconciliation failed: %w", err)
		}
		slog.Info("reindex_reconcile",
			slog.Int("resubmitted", report.Resubmitted),
			slog.Int("purged", report.Purged))
		if report.Resubmitted > 0 {
			if err := drainWithProgress(waitCtx, pipe, renderer, base, total+report.Resubmitted); err != nil {
				return err
			}
		}
	}

	_ = pipe.Stop()
	saveVectors(vectors, cfg, root)

	final := pipe.Stats()
	info := embed.GetInfo(embedder)
	renderer.Complete(ui.CompletionStats{
		Items:        total,
		Committed:    int(final.Committed - base.Committed),
		Skipped:      int(final.Skipped - base.Skipped),
		Failed:       int(final.Failed - base.Failed),
		DeadLettered: int(final.DeadLettered - base.DeadLettered),
		Duration:     time.Since(start),
		Embedder: ui.EmbedderInfo{
			Model:      info.Model,
			Dimensions: info.Dimensions,
		},
	})

	if deadLettered := final.DeadLettered - base.DeadLettered; deadLettered > 0 {
		return fmt.Errorf("%d items failed to index; inspect them with 'vitrine deadletters list'", deadLettered)
	}
	return nil
}

// drainWithProgress polls pipeline stats until the queue is empty,
// feeding the renderer along the way. Settled work is measured against
// the base snapshot so repeated drains report this run only.
func drainWithProgress(ctx context.Context, pipe *pipeline.Pipeline, renderer ui.Renderer, base pipeline.Stats, total int) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var lastDeadLettered int64
	for {
		stats := pipe.Stats()
		settled := int((stats.Committed - base.Committed) +
			(stats.Skipped - base.Skipped) +
			(stats.DeadLettered - base.DeadLettered))
		renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageIndexing,
			Current: settled,
			Total:   total,
		})
		if dl := stats.DeadLettered - base.DeadLettered; dl > lastDeadLettered {
			renderer.AddError(ui.ErrorEvent{
				Item: fmt.Sprintf("%d items dead-lettered", dl),
				Err:  fmt.Errorf("retries exhausted"),
			})
			lastDeadLettered = dl
		}

		if stats.Queued == 0 && stats.Running == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for the catalog to drain (%d/%d settled)", settled, total)
		case <-ticker.C:
		}
	}
}

// clearVectorSnapshot removes the persisted vector index and its
// sidecar. Missing files are fine.
func clearVectorSnapshot(path string) error {
	for _, p := range []string{path, path + ".meta"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}
