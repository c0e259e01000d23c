package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vitrine-search/vitrine/internal/config"
	"github.com/vitrine-search/vitrine/internal/embed"
	"github.com/vitrine-search/vitrine/internal/store"
	"github.com/vitrine-search/vitrine/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show catalog health and status",
		Long: `Display information about the current catalog including:
  - Number of items and last indexing time
  - Vector index records, graph nodes, and orphans
  - Storage sizes (metadata, vectors, logs)
  - Embedder status (provider, model, availability)
  - Dead letters awaiting intervention`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	if err := requireCatalog(cfg, root); err != nil {
		return err
	}

	info, err := collectStatus(ctx, cfg, root)
	if err != nil {
		return fmt.Errorf("failed to collect status: %w", err)
	}

	noColor := ui.DetectNoColor()
	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)

	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func collectStatus(ctx context.Context, cfg *config.Config, root string) (ui.StatusInfo, error) {
	dataDir := cfg.ResolveDataDir(root)
	info := ui.StatusInfo{DataDir: dataDir}

	metadata, err := openMetadata(cfg, root)
	if err != nil {
		return info, err
	}
	defer func() { _ = metadata.Close() }()

	if count, err := metadata.CountItems(ctx); err == nil {
		info.TotalItems = count
	}
	if count, err := metadata.CountDeadLetters(ctx); err == nil {
		info.DeadLetters = count
	}

	// Storage footprint from disk, not from the open handles.
	disk := store.CollectInfo(dataDir, cfg.StorePath(root), cfg.VectorsPath(root))
	info.MetadataSize = disk.StoreBytes
	info.VectorSize = disk.VectorBytes
	info.LogSize = dirSize(filepath.Join(dataDir, "logs"))
	info.TotalSize = disk.TotalBytes
	info.LastIndexed = disk.VectorMTime

	// Vector schema and orphan count come from the loaded snapshot.
	vectors, err := openVectors(cfg, root)
	if err != nil {
		return info, err
	}
	defer func() { _ = vectors.Close() }()

	stats := vectors.CollectionStats()
	info.VectorRecords = stats.Records
	info.GraphNodes = stats.GraphNodes
	info.Orphans = stats.Orphans
	info.Dimensions = stats.Dimensions
	info.Metric = stats.Metric

	// Probing the embedder tells apart configured-and-ready from
	// configured-but-unreachable.
	info.EmbedderStatus = "ready"
	embedder, err := embed.NewEmbedder(ctx, cfg.Embedder, cfg.Vectors.Dimensions)
	if err != nil {
		info.EmbedderModel = cfg.Embedder.Model
		info.EmbedderStatus = "unavailable"
		return info, nil
	}
	defer func() { _ = embedder.Close() }()

	embInfo := embed.GetInfo(embedder)
	info.EmbedderModel = embInfo.Model
	info.EmbedderDims = embInfo.Dimensions

	return info, nil
}

// dirSize sums the file sizes under path. Missing directories count as
// zero.
func dirSize(path string) int64 {
	var total int64
	_ = filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !fi.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return total
}
