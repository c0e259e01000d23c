package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitrine-search/vitrine/internal/fetch"
	"github.com/vitrine-search/vitrine/internal/output"
	"github.com/vitrine-search/vitrine/internal/pipeline"
)

func newDeadlettersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dl"},
		Short:   "Inspect and manage dead-lettered indexing work",
		Long: `Dead letters are indexing or deletion tasks that exhausted their
retries. They are kept in the metadata store until requeued or purged,
so no failure disappears silently.`,
	}

	cmd.AddCommand(newDeadlettersListCmd())
	cmd.AddCommand(newDeadlettersRequeueCmd())
	cmd.AddCommand(newDeadlettersPurgeCmd())
	return cmd
}

// ----------------------------------------------------------------------------
// deadletters list
// ----------------------------------------------------------------------------

func newDeadlettersListCmd() *cobra.Command {
	var jsonOutput bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, newest first",
		Example: `  # Show recent failures
  vitrine deadletters list

  # Machine-readable
  vitrine deadletters list --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDeadlettersList(cmd.Context(), cmd, jsonOutput, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries")

	return cmd
}

func runDeadlettersList(ctx context.Context, cmd *cobra.Command, jsonOutput bool, limit int) error {
	out := output.New(cmd.OutOrStdout())

	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	if err := requireCatalog(cfg, root); err != nil {
		return err
	}

	metadata, err := openMetadata(cfg, root)
	if err != nil {
		return err
	}
	defer func() { _ = metadata.Close() }()

	letters, err := metadata.ListDeadLetters(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list dead letters: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(letters)
	}

	if len(letters) == 0 {
		out.Success("No dead letters")
		return nil
	}

	out.Statusf("📮", "%d dead letters (newest first):", len(letters))
	out.Newline()
	for _, dl := range letters {
		out.Statusf("", "#%d  %s %s  (%d attempts, %s)",
			dl.ID, dl.Kind, dl.ExternalID, dl.Attempts, dl.CreatedAt.Format(time.RFC3339))
		out.Status("", "    "+dl.LastError)
	}
	out.Newline()
	out.Status("💡", "Requeue with 'vitrine deadletters requeue <id>' once the cause is fixed")
	return nil
}

// ----------------------------------------------------------------------------
// deadletters requeue
// ----------------------------------------------------------------------------

func newDeadlettersRequeueCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "requeue <id>",
		Short: "Requeue a dead letter as a fresh task",
		Long: `Requeue a dead letter through the normal pipeline with a fresh retry
budget. The dead letter is removed only after the task is accepted, so
a failed requeue leaves it in place. The command waits for the new
task to settle.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid dead letter id %q", args[0])
			}
			return runDeadlettersRequeue(ctx, cmd, id, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "How long to wait for the requeued task to settle")

	return cmd
}

func runDeadlettersRequeue(ctx context.Context, cmd *cobra.Command, id int64, timeout time.Duration) error {
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

	handle, err := pipe.RequeueDeadLetter(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to requeue dead letter %d: %w", id, err)
	}
	out.Statusf("🔁", "Requeued #%d as task %s", id, handle.ID)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	task, err := waitForTask(waitCtx, pipe, handle.ID)
	if err != nil {
		return err
	}

	_ = pipe.Stop()
	saveVectors(vectors, cfg, root)

	switch task.State {
	case pipeline.StateCommitted:
		out.Successf("Requeued work committed for %s", task.ExternalID)
		return nil
	case pipeline.StateSkipped:
		out.Warningf("Requeued work skipped: %s", task.LastError)
		return nil
	case pipeline.StateDeadLettered:
		out.Errorf("Requeued work failed again: %s", task.LastError)
		return fmt.Errorf("requeue failed")
	default:
		return fmt.Errorf("task %s did not settle (state %s)", task.ID, task.State)
	}
}

// ----------------------------------------------------------------------------
// deadletters purge
// ----------------------------------------------------------------------------

func newDeadlettersPurgeCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "purge [id]",
		Short: "Drop dead letters without retrying them",
		Long: `Drop a dead letter by id, or every dead letter with --all. Purged
work is gone for good; the items themselves stay in the catalog and
can be resubmitted with 'vitrine index'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("give either an id or --all, not both")
			}
			if !all && len(args) == 0 {
				return fmt.Errorf("a dead letter id or --all is required")
			}
			var id int64
			if len(args) > 0 {
				var err error
				id, err = strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid dead letter id %q", args[0])
				}
			}
			return runDeadlettersPurge(cmd.Context(), cmd, id, all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Purge every dead letter")

	return cmd
}

func runDeadlettersPurge(ctx context.Context, cmd *cobra.Command, id int64, all bool) error {
	out := output.New(cmd.OutOrStdout())

	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	if err := requireCatalog(cfg, root); err != nil {
		return err
	}

	metadata, err := openMetadata(cfg, root)
	if err != nil {
		return err
	}
	defer func() { _ = metadata.Close() }()

	if !all {
		if err := metadata.DeleteDeadLetter(ctx, id); err != nil {
			return fmt.Errorf("failed to purge dead letter %d: %w", id, err)
		}
		out.Successf("Purged dead letter #%d", id)
		return nil
	}

	purged := 0
	for {
		letters, err := metadata.ListDeadLetters(ctx, 0)
		if err != nil {
			return fmt.Errorf("failed to list dead letters: %w", err)
		}
		if len(letters) == 0 {
			break
		}
		for _, dl := range letters {
			if err := metadata.DeleteDeadLetter(ctx, dl.ID); err != nil {
				return fmt.Errorf("failed to purge dead letter %d: %w", dl.ID, err)
			}
			purged++
		}
	}
	out.Successf("Purged %d dead letters", purged)
	return nil
}
