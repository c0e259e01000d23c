package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vitrine-search/vitrine/configs"
	"github.com/vitrine-search/vitrine/internal/config"
	"github.com/vitrine-search/vitrine/internal/output"
	"github.com/vitrine-search/vitrine/internal/preflight"
	"github.com/vitrine-search/vitrine/pkg/version"
)

func newInitCmd() *cobra.Command {
	var (
		force   bool
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a catalog in the current directory",
		Long: `Initialize a vitrine catalog in the current directory.

This command:
1. Generates a .vitrine.yaml configuration template
2. Creates the .vitrine data directory
3. Adds .vitrine to .gitignore
4. Runs system checks (disk, memory, embedding service)

After running, load items through 'vitrine index --feed', the feed
directory, or the HTTP API ('vitrine serve').`,
		Example: `  # Initialize in the current directory
  vitrine init

  # Overwrite an existing configuration template
  vitrine init --force

  # Skip the embedding service probe
  vitrine init --offline`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runInit(ctx, cmd, force, offline)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration template")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the embedding service probe")

	return cmd
}

func runInit(ctx context.Context, cmd *cobra.Command, force, offline bool) error {
	out := output.New(cmd.OutOrStdout())

	out.Statusf("🚀", "Vitrine %s - Initializing...", version.Version)
	out.Newline()

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	out.Statusf("📁", "Catalog: %s", root)

	if err := generateProjectConfig(out, root, force); err != nil {
		return err
	}

	cfg, err := config.Load(root)
	if err != nil {
		// A fresh template should always parse; a broken pre-existing
		// file should not.
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.EnsureDataDir(root); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	out.Statusf("📦", "Data directory: %s", cfg.ResolveDataDir(root))

	added, err := ensureGitignore(root)
	if err != nil {
		out.Warningf("Could not update .gitignore: %v", err)
	} else if added {
		out.Status("📝", "Added .vitrine to .gitignore")
	}

	out.Newline()
	out.Status("🩺", "Running system checks...")
	checker := preflight.New(
		preflight.WithConfig(cfg),
		preflight.WithOffline(offline),
		preflight.WithOutput(cmd.OutOrStdout()),
	)
	results := checker.RunAll(ctx, root)
	checker.PrintResults(results)
	if checker.HasCriticalFailures(results) {
		return fmt.Errorf("system check failed; fix the problems above and rerun 'vitrine init'")
	}
	if err := preflight.MarkPassed(cfg.ResolveDataDir(root)); err == nil {
		out.Status("✅", "Checks recorded; 'vitrine serve' will skip them until the config changes")
	}

	out.Newline()
	out.Success("Initialization complete!")
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Load items: 'vitrine index --feed <file.json>' or POST /api/v1/items")
	out.Status("", "  2. Start the service: 'vitrine serve'")
	out.Status("", "  3. Query: 'vitrine search \"red sofa\"'")

	if !config.UserConfigExists() {
		out.Newline()
		out.Status("💡", "For machine-specific settings (embedding endpoint, workers):")
		out.Status("", "   Run 'vitrine config init' to create a user config")
	}

	return nil
}

// generateProjectConfig writes the embedded .vitrine.yaml template,
// preserving an existing file unless force is set.
func generateProjectConfig(out *output.Writer, root string, force bool) error {
	path := config.ProjectConfigPath(root)

	if fileExists(path) && !force {
		out.Status("ℹ️ ", "Existing "+filepath.Base(path)+" preserved")
		return nil
	}

	if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	out.Statusf("📝", "Created %s", filepath.Base(path))
	return nil
}

// hasVitrineIgnore checks if .vitrine is already in .gitignore.
// Handles variations: .vitrine, .vitrine/, /.vitrine, /.vitrine/
func hasVitrineIgnore(content string) bool {
	patterns := []string{
		".vitrine",
		".vitrine/",
		"/.vitrine",
		"/.vitrine/",
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, pattern := range patterns {
			if line == pattern {
				return true
			}
		}
	}
	return false
}

// ensureGitignore adds .vitrine to .gitignore if not present.
// Returns (true, nil) if added, (false, nil) if already present.
func ensureGitignore(root string) (bool, error) {
	gitignorePath := filepath.Join(root, ".gitignore")

	content, err := os.ReadFile(gitignorePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("reading .gitignore: %w", err)
	}

	if hasVitrineIgnore(string(content)) {
		return false, nil
	}

	// Match the existing line ending, defaulting to LF.
	lineEnding := "\n"
	if bytes.Contains(content, []byte("\r\n")) {
		lineEnding = "\r\n"
	}

	if len(content) > 0 && !bytes.HasSuffix(content, []byte("\n")) {
		content = append(content, []byte(lineEnding)...)
	}

	var entry string
	if len(content) == 0 {
		entry = fmt.Sprintf("# Vitrine catalog data (auto-generated)%s.vitrine/%s",
			lineEnding, lineEnding)
	} else {
		entry = fmt.Sprintf("%s# Vitrine catalog data (auto-generated)%s.vitrine/%s",
			lineEnding, lineEnding, lineEnding)
	}
	content = append(content, []byte(entry)...)

	if err := os.WriteFile(gitignorePath, content, 0644); err != nil {
		return false, fmt.Errorf("writing .gitignore: %w", err)
	}
	return true, nil
}
