package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/vitrine-search/vitrine/internal/config"
	"github.com/vitrine-search/vitrine/internal/embed"
	"github.com/vitrine-search/vitrine/internal/fetch"
	"github.com/vitrine-search/vitrine/internal/logging"
	"github.com/vitrine-search/vitrine/internal/pipeline"
	"github.com/vitrine-search/vitrine/internal/store"
)

// loadProject locates the project root and loads its configuration.
func loadProject() (string, *config.Config, error) {
	root := config.FindProjectRoot(".")
	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load config: %w", err)
	}
	return root, cfg, nil
}

// requireCatalog errors when no metadata database exists yet.
func requireCatalog(cfg *config.Config, root string) error {
	if !fileExists(cfg.StorePath(root)) {
		return fmt.Errorf("no catalog found in %s\nRun 'vitrine init' to create one", root)
	}
	return nil
}

// openMetadata opens the SQLite metadata store for a project.
func openMetadata(cfg *config.Config, root string) (*store.SQLiteStore, error) {
	metadata, err := store.NewSQLiteStore(cfg.StorePath(root), store.MetadataConfig{
		DefaultPageSize: cfg.Store.DefaultPageSize,
		MaxPageSize:     cfg.Store.MaxPageSize,
		CacheMB:         cfg.Store.CacheMB,
		BusyTimeout:     config.Duration(cfg.Store.BusyTimeout, 5*time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	return metadata, nil
}

// openVectors builds the HNSW index with the configured schema and
// loads the persisted snapshot when one exists.
func openVectors(cfg *config.Config, root string) (*store.HNSWIndex, error) {
	vectors, err := store.NewHNSWIndex(store.VectorIndexConfig{
		Dimensions: cfg.Vectors.Dimensions,
		Metric:     cfg.Vectors.Metric,
		M:          cfg.Vectors.M,
		EfSearch:   cfg.Vectors.EfSearch,
		ChunkSize:  cfg.Vectors.UpsertChunkSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}

	path := cfg.VectorsPath(root)
	if fileExists(path) {
		if err := vectors.Load(path); err != nil {
			_ = vectors.Close()
			return nil, fmt.Errorf("failed to load vector index: %w", err)
		}
	}
	return vectors, nil
}

// saveVectors persists the index snapshot, logging rather than failing
// the command when the write goes wrong.
func saveVectors(vectors *store.HNSWIndex, cfg *config.Config, root string) {
	if err := vectors.Save(cfg.VectorsPath(root)); err != nil {
		slog.Error("vector_save_failed", slog.String("error", err.Error()))
	}
}

// newEmbedder builds the configured embedder, wrapped in the LRU cache
// when one is configured.
func newEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	embedder, err := embed.NewEmbedder(ctx, cfg.Embedder, cfg.Vectors.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// newPipeline wires the indexing pipeline over already-open stores.
func newPipeline(metadata *store.SQLiteStore, vectors *store.HNSWIndex, embedder embed.Embedder, fetcher fetch.Fetcher, cfg *config.Config, root string) (*pipeline.Pipeline, error) {
	pipe, err := pipeline.New(pipeline.Deps{
		Metadata: metadata,
		Vectors:  vectors,
		Embedder: embedder,
		Fetcher:  fetcher,
		Config:   cfg.Pipeline,
		DataDir:  cfg.ResolveDataDir(root),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return pipe, nil
}

// setupFileLogging routes slog to the project log file so CLI commands
// leave stdout clean. Errors are non-fatal; a command missing its log
// file still works.
func setupFileLogging(cfg *config.Config, root string) func() {
	logger, cleanup, err := logging.Setup(logging.Config{
		Level:     logLevel(cfg),
		FilePath:  logging.LogPath(cfg.ResolveDataDir(root)),
		MaxSizeMB: cfg.Log.MaxSizeMB,
		MaxFiles:  cfg.Log.MaxBackups,
	})
	if err != nil {
		return func() {}
	}
	slog.SetDefault(logger)
	return cleanup
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
