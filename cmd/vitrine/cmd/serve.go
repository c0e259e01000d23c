package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vitrine-search/vitrine/internal/api"
	"github.com/vitrine-search/vitrine/internal/config"
	"github.com/vitrine-search/vitrine/internal/feed"
	"github.com/vitrine-search/vitrine/internal/fetch"
	"github.com/vitrine-search/vitrine/internal/logging"
	"github.com/vitrine-search/vitrine/internal/pipeline"
	"github.com/vitrine-search/vitrine/internal/preflight"
	"github.com/vitrine-search/vitrine/internal/search"
	"github.com/vitrine-search/vitrine/internal/store"
	"github.com/vitrine-search/vitrine/internal/telemetry"
	"github.com/vitrine-search/vitrine/pkg/version"
)

func newServeCmd() *cobra.Command {
	var (
		addr      string
		noFeed    bool
		skipCheck bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the catalog search API",
		Long: `Run the vitrine HTTP API with the indexing pipeline.

The server exposes search (text, image, similar-item), item CRUD,
indexing submission, task status, dead letters, and stats endpoints.
When feed watching is enabled in the config, JSON feed files dropped
into the feed directory are loaded and indexed automatically.

The server runs until interrupted; SIGINT/SIGTERM trigger a graceful
shutdown that drains in-flight work and persists the vector index.`,
		Example: `  # Serve on the configured address
  vitrine serve

  # Override the listen address
  vitrine serve --addr :9090

  # Serve without the feed watcher
  vitrine serve --no-feed`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, addr, noFeed, skipCheck)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().BoolVar(&noFeed, "no-feed", false, "Disable the feed directory watcher")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip pre-flight system checks")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, addr string, noFeed, skipCheck bool) error {
	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDataDir(root); err != nil {
		return err
	}
	dataDir := cfg.ResolveDataDir(root)

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         logLevel(cfg),
		FilePath:      logging.LogPath(dataDir),
		MaxSizeMB:     cfg.Log.MaxSizeMB,
		MaxFiles:      cfg.Log.MaxBackups,
		WriteToStderr: true,
	})
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	if !skipCheck && preflight.NeedsCheck(dataDir) {
		checker := preflight.New(
			preflight.WithConfig(cfg),
			preflight.WithOutput(io.Discard),
		)
		results := checker.RunAll(ctx, root)
		if checker.HasCriticalFailures(results) {
			return fmt.Errorf("system check failed; run 'vitrine doctor' for diagnostics")
		}
		if err := preflight.MarkPassed(dataDir); err != nil {
			slog.Debug("preflight_marker_failed", slog.String("error", err.Error()))
		}
	}

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

	fetcher := fetch.NewHTTPFetcher(fetch.DefaultConfig())

	pipe, err := newPipeline(metadata, vectors, embedder, fetcher, cfg, root)
	if err != nil {
		return err
	}
	if err := pipe.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = pipe.Close() }()

	metrics := telemetry.NewSearchMetrics(telemetry.DefaultConfig())

	orch, err := search.NewOrchestrator(metadata, vectors, embedder, cfg.Search,
		search.WithFetcher(fetcher),
		search.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	if addr == "" {
		addr = cfg.API.Addr
	}
	requestTimeout := config.Duration(cfg.API.RequestTimeout, 30*time.Second)
	server, err := api.New(api.Deps{
		Metadata: metadata,
		Vectors:  vectors,
		Pipeline: pipe,
		Search:   orch,
		Embedder: embedder,
		Metrics:  metrics,
		Version:  version.Version,
	}, api.Config{
		ListenAddr:   addr,
		CORSOrigins:  cfg.API.CORSOrigins,
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout,
		EnablePprof:  cfg.API.EnablePprof,
	})
	if err != nil {
		return err
	}

	slog.Info("serve_starting",
		slog.String("addr", addr),
		slog.String("data_dir", dataDir),
		slog.String("embedder", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()),
		slog.String("version", version.Version))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start(gctx)
	})

	if cfg.Feed.Enabled && !noFeed {
		if err := startFeedWatcher(gctx, g, metadata, pipe, cfg, root); err != nil {
			return err
		}
	}

	err = g.Wait()

	// The pipeline settles before the snapshot so the saved index
	// includes every committed record.
	_ = pipe.Stop()
	saveVectors(vectors, cfg, root)
	slog.Info("serve_stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startFeedWatcher launches the feed directory watcher plus goroutines
// draining its report and error channels into the log.
func startFeedWatcher(ctx context.Context, g *errgroup.Group, metadata *store.SQLiteStore, pipe *pipeline.Pipeline, cfg *config.Config, root string) error {
	loader, err := feed.NewLoader(metadata, pipe)
	if err != nil {
		return err
	}
	watcher, err := feed.NewWatcher(loader, feed.Options{
		Debounce:     config.Duration(cfg.Feed.Debounce, 500*time.Millisecond),
		InitialSweep: true,
	})
	if err != nil {
		return err
	}

	dir := cfg.FeedDir(root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create feed directory: %w", err)
	}

	g.Go(func() error {
		if err := watcher.Start(ctx, dir); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("feed watcher: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case report, ok := <-watcher.Reports():
				if !ok {
					return nil
				}
				if report.Failed() {
					slog.Warn("feed_file_failed",
						slog.String("path", report.Path),
						slog.String("error", report.Err))
					continue
				}
				slog.Info("feed_file_loaded",
					slog.String("path", report.Path),
					slog.Int("created", report.Created),
					slog.Int("updated", report.Updated),
					slog.Int("submitted", report.Submitted),
					slog.Int("malformed", len(report.Malformed)))
			case err, ok := <-watcher.Errors():
				if !ok {
					return nil
				}
				slog.Warn("feed_watcher_error", slog.String("error", err.Error()))
			}
		}
	})

	return nil
}
