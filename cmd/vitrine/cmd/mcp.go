package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vitrine-search/vitrine/internal/fetch"
	"github.com/vitrine-search/vitrine/internal/logging"
	"github.com/vitrine-search/vitrine/internal/mcp"
	"github.com/vitrine-search/vitrine/internal/search"
	"github.com/vitrine-search/vitrine/internal/telemetry"
	"github.com/vitrine-search/vitrine/pkg/version"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server on stdio",
		Long: `Run the Model Context Protocol server over stdio.

Exposes the catalog to MCP clients through the search_catalog,
get_item, submit_index, and catalog_stats tools. Stdout carries the
JSON-RPC stream, so all logging goes to the project log file.

Typically launched by an MCP client, not by hand.`,
		Example: `  # Register with an MCP client
  { "command": "vitrine", "args": ["mcp"] }`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runMCP(ctx)
		},
	}

	return cmd
}

func runMCP(ctx context.Context) error {
	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDataDir(root); err != nil {
		return err
	}

	// Stdio transport: stdout belongs to JSON-RPC, so logs must go to
	// the file before anything else writes.
	dataDir := cfg.ResolveDataDir(root)
	cleanup, err := logging.SetupStdioMode(logging.LogPath(dataDir), logLevel(cfg))
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()

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
		search.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to create search orchestrator: %w", err)
	}

	server, err := mcp.NewServer(metadata, vectors, orch, pipe, embedder, version.Version)
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}
	server.SetMetrics(metrics)
	defer func() { _ = server.Close() }()

	err = server.Serve(ctx, "stdio")

	// Client sessions submit indexing work; settle it and persist the
	// snapshot before exiting.
	_ = pipe.Stop()
	saveVectors(vectors, cfg, root)
	slog.Info("mcp_shutdown_complete")

	return err
}
