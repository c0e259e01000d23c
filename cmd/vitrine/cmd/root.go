// Package cmd provides the CLI commands for vitrine.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vitrine-search/vitrine/internal/config"
	"github.com/vitrine-search/vitrine/internal/logging"
	"github.com/vitrine-search/vitrine/internal/profiling"
	"github.com/vitrine-search/vitrine/pkg/version"
)

// Profiling flags
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profSession  *profiling.Session
)

// Debug logging flag
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the vitrine CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vitrine",
		Short: "Semantic catalog search service",
		Long: `Vitrine indexes product catalogs for semantic search: item metadata
lives in SQLite, embeddings in an HNSW vector index, and an
asynchronous pipeline keeps the two consistent.

Start with 'vitrine init' in a project directory, load items through
the API, a feed directory, or 'vitrine index', then query with
'vitrine search' or the HTTP API ('vitrine serve').`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("vitrine version {{.Version}}\n")

	// Profiling flags
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	// Debug logging flag
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to the data directory")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	// Catalog lifecycle
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMCPCmd())

	// Write path
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newReconcileCmd())
	cmd.AddCommand(newDeadlettersCmd())

	// Read path
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStatsCmd())

	// Diagnostics
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts CPU/trace profiling and debug logging
// if the corresponding flags are set.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if debugMode {
		root := config.FindProjectRoot(".")
		cfg, err := config.Load(root)
		if err != nil {
			cfg = config.NewConfig()
		}
		logger, cleanup, err := logging.Setup(logging.Config{
			Level:     "debug",
			FilePath:  logging.LogPath(cfg.ResolveDataDir(root)),
			MaxSizeMB: cfg.Log.MaxSizeMB,
			MaxFiles:  cfg.Log.MaxBackups,
		})
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Debug("debug_logging_enabled",
			slog.String("log_file", logging.LogPath(cfg.ResolveDataDir(root))),
			slog.String("version", version.Version))
	}

	session, err := profiling.Start(profiling.Options{
		CPUPath:   profileCPU,
		HeapPath:  profileMem,
		TracePath: profileTrace,
	})
	if err != nil {
		return err
	}
	profSession = session

	return nil
}

// stopProfilingAndLogging flushes profiles and closes the debug log.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if profSession != nil {
		if err := profSession.Stop(); err != nil {
			return err
		}
		profSession = nil
	}

	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}

	return nil
}

// logLevel returns the effective log level for a command, honoring the
// persistent --debug flag over the configured level.
func logLevel(cfg *config.Config) string {
	if debugMode {
		return "debug"
	}
	return cfg.Log.Level
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
