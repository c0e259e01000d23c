// Package config loads and validates vitrine configuration.
//
// Precedence, lowest to highest: built-in defaults, the user config file
// (~/.config/vitrine/config.yaml), a project-level .vitrine.yaml, then
// VITRINE_* environment variables. Load never requires a config file to
// exist; a missing file simply leaves the defaults in place.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DataDirName is the per-project data directory created next to the
// project config. All durable state (metadata database, vector index,
// logs, lock files) lives under it.
const DataDirName = ".vitrine"

// Config is the root configuration for all vitrine components.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	DataDir  string         `yaml:"data_dir,omitempty" json:"data_dir,omitempty"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Vectors  VectorsConfig  `yaml:"vectors" json:"vectors"`
	Embedder EmbedderConfig `yaml:"embedder" json:"embedder"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Search   SearchConfig   `yaml:"search" json:"search"`
	API      APIConfig      `yaml:"api" json:"api"`
	Feed     FeedConfig     `yaml:"feed" json:"feed"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// StoreConfig controls the SQLite metadata store.
type StoreConfig struct {
	// Filename is the database file name inside the data directory.
	Filename string `yaml:"filename" json:"filename"`
	// DefaultPageSize is the page size used when a list request does
	// not specify a limit (or specifies zero).
	DefaultPageSize int `yaml:"default_page_size" json:"default_page_size"`
	// MaxPageSize caps the limit of a single list page.
	MaxPageSize int `yaml:"max_page_size" json:"max_page_size"`
	// CacheMB is the SQLite page cache size in megabytes.
	CacheMB int `yaml:"cache_mb" json:"cache_mb"`
	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout string `yaml:"busy_timeout" json:"busy_timeout"`
}

// VectorsConfig controls the HNSW vector index.
type VectorsConfig struct {
	// Filename is the index file name inside the data directory.
	Filename string `yaml:"filename" json:"filename"`
	// Dimensions is the expected embedding width. Records of any other
	// width are rejected before they reach the graph.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// Metric selects the distance function: "cosine" or "l2".
	Metric string `yaml:"metric" json:"metric"`
	// M is the HNSW connectivity parameter.
	M int `yaml:"m" json:"m"`
	// EfSearch is the HNSW search beam width.
	EfSearch int `yaml:"ef_search" json:"ef_search"`
	// UpsertChunkSize is how many records go into the index per chunk
	// during a batch upsert. Progress is reported per committed chunk.
	UpsertChunkSize int `yaml:"upsert_chunk_size" json:"upsert_chunk_size"`
}

// EmbedderConfig controls how item content is turned into vectors.
type EmbedderConfig struct {
	// Provider selects the embedding backend: "auto", "http", or "static".
	// "auto" probes the HTTP endpoint and falls back to the static
	// hash-based embedder when it is unreachable.
	Provider string `yaml:"provider" json:"provider"`
	// Endpoint is the embedding service base URL for the http provider.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Model names the embedding model requested from the service.
	Model string `yaml:"model" json:"model"`
	// RequestTimeout bounds a single embedding call.
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`
	// BatchSize is the maximum number of texts per embedding request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// CacheSize is the number of embeddings kept in the LRU cache.
	// Zero disables caching.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// CircuitMaxFailures opens the circuit breaker after this many
	// consecutive embedding failures.
	CircuitMaxFailures int `yaml:"circuit_max_failures" json:"circuit_max_failures"`
	// CircuitResetTimeout is how long the circuit stays open before a
	// probe request is allowed through.
	CircuitResetTimeout string `yaml:"circuit_reset_timeout" json:"circuit_reset_timeout"`
}

// PipelineConfig controls the asynchronous indexing pipeline.
type PipelineConfig struct {
	// Workers is the number of concurrent task workers. Zero means one
	// worker per CPU.
	Workers int `yaml:"workers" json:"workers"`
	// QueueCapacity bounds the in-memory task queue.
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`
	// MaxAttempts is the total number of tries (first run plus retries)
	// before a task is dead-lettered.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// BackoffInitial is the delay before the first retry.
	BackoffInitial string `yaml:"backoff_initial" json:"backoff_initial"`
	// BackoffMax caps the retry delay.
	BackoffMax string `yaml:"backoff_max" json:"backoff_max"`
	// BackoffMultiplier scales the delay between consecutive retries.
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	// FetchTimeout bounds asset retrieval for a single task.
	FetchTimeout string `yaml:"fetch_timeout" json:"fetch_timeout"`
	// EmbedTimeout bounds the embedding stage for a single task.
	EmbedTimeout string `yaml:"embed_timeout" json:"embed_timeout"`
	// UpsertTimeout bounds the vector index write for a single task.
	UpsertTimeout string `yaml:"upsert_timeout" json:"upsert_timeout"`
	// ReindexPageSize is how many items a full reindex loads per page.
	ReindexPageSize int `yaml:"reindex_page_size" json:"reindex_page_size"`
}

// SearchConfig controls the query-side defaults.
type SearchConfig struct {
	// DefaultTopK is the result count when a query does not set one.
	DefaultTopK int `yaml:"default_top_k" json:"default_top_k"`
	// MaxTopK caps the per-query result count.
	MaxTopK int `yaml:"max_top_k" json:"max_top_k"`
	// DefaultScoreThreshold drops hits scoring below it. Zero keeps
	// everything the index returns.
	DefaultScoreThreshold float64 `yaml:"default_score_threshold" json:"default_score_threshold"`
	// MaxQueryLength rejects free-text queries longer than this.
	MaxQueryLength int `yaml:"max_query_length" json:"max_query_length"`
	// EmbedTimeout bounds query embedding on the read path.
	EmbedTimeout string `yaml:"embed_timeout" json:"embed_timeout"`
}

// APIConfig controls the HTTP server.
type APIConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr" json:"addr"`
	// CORSOrigins lists allowed origins. "*" allows any.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
	// RequestTimeout bounds a single HTTP request.
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`
	// EnablePprof mounts net/http/pprof under /debug.
	EnablePprof bool `yaml:"enable_pprof" json:"enable_pprof"`
}

// FeedConfig controls the catalog feed directory watcher.
type FeedConfig struct {
	// Enabled turns the watcher on when serving.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Dir is the directory scanned for feed files, relative to the
	// project root unless absolute.
	Dir string `yaml:"dir" json:"dir"`
	// Debounce is how long the watcher waits after the last write
	// before loading a changed feed file.
	Debounce string `yaml:"debounce" json:"debounce"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format" json:"format"`
	// MaxSizeMB rotates the log file when it exceeds this size.
	MaxSizeMB int `yaml:"max_size_mb" json:"max_size_mb"`
	// MaxBackups is how many rotated log files are kept.
	MaxBackups int `yaml:"max_backups" json:"max_backups"`
}

// NewConfig returns a Config populated with defaults. The defaults are
// usable without any config file: a local data dir, the static embedder
// as fallback, and conservative pipeline limits.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: DataDirName,
		Store: StoreConfig{
			Filename:        "metadata.db",
			DefaultPageSize: 20,
			MaxPageSize:     100,
			CacheMB:         64,
			BusyTimeout:     "5s",
		},
		Vectors: VectorsConfig{
			Filename:        "vectors.hnsw",
			Dimensions:      512,
			Metric:          "cosine",
			M:               16,
			EfSearch:        64,
			UpsertChunkSize: 128,
		},
		Embedder: EmbedderConfig{
			Provider:            "auto",
			Endpoint:            "http://localhost:8089",
			Model:               "clip-vit-b-32",
			RequestTimeout:      "15s",
			BatchSize:           32,
			CacheSize:           2048,
			CircuitMaxFailures:  5,
			CircuitResetTimeout: "30s",
		},
		Pipeline: PipelineConfig{
			Workers:           runtime.NumCPU(),
			QueueCapacity:     1024,
			MaxAttempts:       5,
			BackoffInitial:    "1s",
			BackoffMax:        "2m",
			BackoffMultiplier: 2.0,
			FetchTimeout:      "20s",
			EmbedTimeout:      "30s",
			UpsertTimeout:     "10s",
			ReindexPageSize:   200,
		},
		Search: SearchConfig{
			DefaultTopK:           10,
			MaxTopK:               100,
			DefaultScoreThreshold: 0,
			MaxQueryLength:        512,
			EmbedTimeout:          "10s",
		},
		API: APIConfig{
			Addr:           ":8080",
			CORSOrigins:    []string{"*"},
			RequestTimeout: "30s",
			EnablePprof:    false,
		},
		Feed: FeedConfig{
			Enabled:  false,
			Dir:      "feeds",
			Debounce: "500ms",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// GetUserConfigDir returns the user-level config directory,
// honoring XDG_CONFIG_HOME.
func GetUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vitrine")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "vitrine")
}

// GetUserConfigPath returns the path of the user-level config file.
func GetUserConfigPath() string {
	dir := GetUserConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// UserConfigExists reports whether a user-level config file is present.
func UserConfigExists() bool {
	path := GetUserConfigPath()
	return path != "" && fileExists(path)
}

// Load builds the effective configuration for a project rooted at dir.
// Defaults are overlaid with the user config, then the project config
// (.vitrine.yaml or .vitrine.yml in dir), then environment variables.
// The result is validated before it is returned.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); path != "" && fileExists(path) {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	for _, name := range []string{".vitrine.yaml", ".vitrine.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			if err := cfg.loadFromFile(path); err != nil {
				return nil, fmt.Errorf("failed to load project config: %w", err)
			}
			break
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile parses path and merges its non-zero values over c.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	c.mergeWith(&loaded)
	return nil
}

// mergeWith overlays non-zero fields from other onto c. Booleans merge
// only when true since YAML gives no way to tell "false" from "unset".
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	if other.Store.Filename != "" {
		c.Store.Filename = other.Store.Filename
	}
	if other.Store.DefaultPageSize != 0 {
		c.Store.DefaultPageSize = other.Store.DefaultPageSize
	}
	if other.Store.MaxPageSize != 0 {
		c.Store.MaxPageSize = other.Store.MaxPageSize
	}
	if other.Store.CacheMB != 0 {
		c.Store.CacheMB = other.Store.CacheMB
	}
	if other.Store.BusyTimeout != "" {
		c.Store.BusyTimeout = other.Store.BusyTimeout
	}

	if other.Vectors.Filename != "" {
		c.Vectors.Filename = other.Vectors.Filename
	}
	if other.Vectors.Dimensions != 0 {
		c.Vectors.Dimensions = other.Vectors.Dimensions
	}
	if other.Vectors.Metric != "" {
		c.Vectors.Metric = other.Vectors.Metric
	}
	if other.Vectors.M != 0 {
		c.Vectors.M = other.Vectors.M
	}
	if other.Vectors.EfSearch != 0 {
		c.Vectors.EfSearch = other.Vectors.EfSearch
	}
	if other.Vectors.UpsertChunkSize != 0 {
		c.Vectors.UpsertChunkSize = other.Vectors.UpsertChunkSize
	}

	if other.Embedder.Provider != "" {
		c.Embedder.Provider = other.Embedder.Provider
	}
	if other.Embedder.Endpoint != "" {
		c.Embedder.Endpoint = other.Embedder.Endpoint
	}
	if other.Embedder.Model != "" {
		c.Embedder.Model = other.Embedder.Model
	}
	if other.Embedder.RequestTimeout != "" {
		c.Embedder.RequestTimeout = other.Embedder.RequestTimeout
	}
	if other.Embedder.BatchSize != 0 {
		c.Embedder.BatchSize = other.Embedder.BatchSize
	}
	if other.Embedder.CacheSize != 0 {
		c.Embedder.CacheSize = other.Embedder.CacheSize
	}
	if other.Embedder.CircuitMaxFailures != 0 {
		c.Embedder.CircuitMaxFailures = other.Embedder.CircuitMaxFailures
	}
	if other.Embedder.CircuitResetTimeout != "" {
		c.Embedder.CircuitResetTimeout = other.Embedder.CircuitResetTimeout
	}

	if other.Pipeline.Workers != 0 {
		c.Pipeline.Workers = other.Pipeline.Workers
	}
	if other.Pipeline.QueueCapacity != 0 {
		c.Pipeline.QueueCapacity = other.Pipeline.QueueCapacity
	}
	if other.Pipeline.MaxAttempts != 0 {
		c.Pipeline.MaxAttempts = other.Pipeline.MaxAttempts
	}
	if other.Pipeline.BackoffInitial != "" {
		c.Pipeline.BackoffInitial = other.Pipeline.BackoffInitial
	}
	if other.Pipeline.BackoffMax != "" {
		c.Pipeline.BackoffMax = other.Pipeline.BackoffMax
	}
	if other.Pipeline.BackoffMultiplier != 0 {
		c.Pipeline.BackoffMultiplier = other.Pipeline.BackoffMultiplier
	}
	if other.Pipeline.FetchTimeout != "" {
		c.Pipeline.FetchTimeout = other.Pipeline.FetchTimeout
	}
	if other.Pipeline.EmbedTimeout != "" {
		c.Pipeline.EmbedTimeout = other.Pipeline.EmbedTimeout
	}
	if other.Pipeline.UpsertTimeout != "" {
		c.Pipeline.UpsertTimeout = other.Pipeline.UpsertTimeout
	}
	if other.Pipeline.ReindexPageSize != 0 {
		c.Pipeline.ReindexPageSize = other.Pipeline.ReindexPageSize
	}

	if other.Search.DefaultTopK != 0 {
		c.Search.DefaultTopK = other.Search.DefaultTopK
	}
	if other.Search.MaxTopK != 0 {
		c.Search.MaxTopK = other.Search.MaxTopK
	}
	if other.Search.DefaultScoreThreshold != 0 {
		c.Search.DefaultScoreThreshold = other.Search.DefaultScoreThreshold
	}
	if other.Search.MaxQueryLength != 0 {
		c.Search.MaxQueryLength = other.Search.MaxQueryLength
	}
	if other.Search.EmbedTimeout != "" {
		c.Search.EmbedTimeout = other.Search.EmbedTimeout
	}

	if other.API.Addr != "" {
		c.API.Addr = other.API.Addr
	}
	if len(other.API.CORSOrigins) > 0 {
		c.API.CORSOrigins = other.API.CORSOrigins
	}
	if other.API.RequestTimeout != "" {
		c.API.RequestTimeout = other.API.RequestTimeout
	}
	if other.API.EnablePprof {
		c.API.EnablePprof = true
	}

	if other.Feed.Enabled {
		c.Feed.Enabled = true
	}
	if other.Feed.Dir != "" {
		c.Feed.Dir = other.Feed.Dir
	}
	if other.Feed.Debounce != "" {
		c.Feed.Debounce = other.Feed.Debounce
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}
	if other.Log.MaxSizeMB != 0 {
		c.Log.MaxSizeMB = other.Log.MaxSizeMB
	}
	if other.Log.MaxBackups != 0 {
		c.Log.MaxBackups = other.Log.MaxBackups
	}
}

// applyEnvOverrides applies VITRINE_* environment variables, the highest
// precedence layer. Unparsable numeric values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VITRINE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("VITRINE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("VITRINE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("VITRINE_EMBEDDER_PROVIDER"); v != "" {
		c.Embedder.Provider = v
	}
	if v := os.Getenv("VITRINE_EMBEDDER_ENDPOINT"); v != "" {
		c.Embedder.Endpoint = v
	}
	if v := os.Getenv("VITRINE_EMBEDDER_MODEL"); v != "" {
		c.Embedder.Model = v
	}
	if v := os.Getenv("VITRINE_VECTOR_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Vectors.Dimensions = n
		}
	}
	if v := os.Getenv("VITRINE_PIPELINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("VITRINE_PIPELINE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.MaxAttempts = n
		}
	}
	if v := os.Getenv("VITRINE_API_ADDR"); v != "" {
		c.API.Addr = v
	}
	if v := os.Getenv("VITRINE_FEED_DIR"); v != "" {
		c.Feed.Dir = v
	}
	if v := os.Getenv("VITRINE_FEED_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Feed.Enabled = b
		}
	}
}

// Validate checks ranges and enumerations. It returns the first problem
// found, prefixed with the offending key path.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: invalid level %q (use debug, info, warn, or error)", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: invalid format %q (use text or json)", c.Log.Format)
	}

	if c.Store.DefaultPageSize < 1 {
		return fmt.Errorf("store.default_page_size: must be at least 1, got %d", c.Store.DefaultPageSize)
	}
	if c.Store.MaxPageSize < c.Store.DefaultPageSize {
		return fmt.Errorf("store.max_page_size: must be >= default_page_size (%d), got %d",
			c.Store.DefaultPageSize, c.Store.MaxPageSize)
	}

	if c.Vectors.Dimensions < 1 {
		return fmt.Errorf("vectors.dimensions: must be positive, got %d", c.Vectors.Dimensions)
	}
	switch c.Vectors.Metric {
	case "cosine", "l2":
	default:
		return fmt.Errorf("vectors.metric: invalid metric %q (use cosine or l2)", c.Vectors.Metric)
	}
	if c.Vectors.M < 2 {
		return fmt.Errorf("vectors.m: must be at least 2, got %d", c.Vectors.M)
	}
	if c.Vectors.UpsertChunkSize < 1 {
		return fmt.Errorf("vectors.upsert_chunk_size: must be at least 1, got %d", c.Vectors.UpsertChunkSize)
	}

	switch c.Embedder.Provider {
	case "auto", "http", "static":
	default:
		return fmt.Errorf("embedder.provider: invalid provider %q (use auto, http, or static)", c.Embedder.Provider)
	}
	if c.Embedder.BatchSize < 1 {
		return fmt.Errorf("embedder.batch_size: must be at least 1, got %d", c.Embedder.BatchSize)
	}
	if c.Embedder.CacheSize < 0 {
		return fmt.Errorf("embedder.cache_size: must not be negative, got %d", c.Embedder.CacheSize)
	}

	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline.workers: must not be negative, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.QueueCapacity < 1 {
		return fmt.Errorf("pipeline.queue_capacity: must be at least 1, got %d", c.Pipeline.QueueCapacity)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts: must be at least 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Pipeline.BackoffMultiplier < 1 {
		return fmt.Errorf("pipeline.backoff_multiplier: must be at least 1, got %g", c.Pipeline.BackoffMultiplier)
	}
	if c.Pipeline.ReindexPageSize < 1 {
		return fmt.Errorf("pipeline.reindex_page_size: must be at least 1, got %d", c.Pipeline.ReindexPageSize)
	}

	if c.Search.DefaultTopK < 1 {
		return fmt.Errorf("search.default_top_k: must be at least 1, got %d", c.Search.DefaultTopK)
	}
	if c.Search.MaxTopK < c.Search.DefaultTopK {
		return fmt.Errorf("search.max_top_k: must be >= default_top_k (%d), got %d",
			c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	if c.Search.DefaultScoreThreshold < 0 || c.Search.DefaultScoreThreshold > 1 {
		return fmt.Errorf("search.default_score_threshold: must be in [0, 1], got %g", c.Search.DefaultScoreThreshold)
	}
	if c.Search.MaxQueryLength < 1 {
		return fmt.Errorf("search.max_query_length: must be at least 1, got %d", c.Search.MaxQueryLength)
	}

	for key, val := range map[string]string{
		"store.busy_timeout":            c.Store.BusyTimeout,
		"embedder.request_timeout":      c.Embedder.RequestTimeout,
		"embedder.circuit_reset_timeout": c.Embedder.CircuitResetTimeout,
		"pipeline.backoff_initial":      c.Pipeline.BackoffInitial,
		"pipeline.backoff_max":          c.Pipeline.BackoffMax,
		"pipeline.fetch_timeout":        c.Pipeline.FetchTimeout,
		"pipeline.embed_timeout":        c.Pipeline.EmbedTimeout,
		"pipeline.upsert_timeout":       c.Pipeline.UpsertTimeout,
		"search.embed_timeout":          c.Search.EmbedTimeout,
		"api.request_timeout":           c.API.RequestTimeout,
		"feed.debounce":                 c.Feed.Debounce,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("%s: invalid duration %q", key, val)
		}
	}

	return nil
}

// Duration parses one of the string duration fields, falling back to
// def when the value is empty or malformed. Validate catches malformed
// values at load time, so the fallback only matters for hand-built
// Config values in tests.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// ResolveDataDir returns the absolute data directory for a project
// rooted at root. A relative DataDir is joined onto root.
func (c *Config) ResolveDataDir(root string) string {
	if filepath.IsAbs(c.DataDir) {
		return c.DataDir
	}
	return filepath.Join(root, c.DataDir)
}

// StorePath returns the metadata database path for a project root.
func (c *Config) StorePath(root string) string {
	return filepath.Join(c.ResolveDataDir(root), c.Store.Filename)
}

// VectorsPath returns the vector index path for a project root.
func (c *Config) VectorsPath(root string) string {
	return filepath.Join(c.ResolveDataDir(root), c.Vectors.Filename)
}

// LockPath returns the reindex lock file path for a project root.
func (c *Config) LockPath(root string) string {
	return filepath.Join(c.ResolveDataDir(root), "reindex.lock")
}

// LogDir returns the log directory for a project root.
func (c *Config) LogDir(root string) string {
	return filepath.Join(c.ResolveDataDir(root), "logs")
}

// FeedDir returns the watched feed directory for a project root.
func (c *Config) FeedDir(root string) string {
	if filepath.IsAbs(c.Feed.Dir) {
		return c.Feed.Dir
	}
	return filepath.Join(root, c.Feed.Dir)
}

// EnsureDataDir creates the data directory tree for a project root.
func (c *Config) EnsureDataDir(root string) error {
	dir := c.ResolveDataDir(root)
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// WriteYAML writes the config as YAML to path, creating parent
// directories as needed.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// FindProjectRoot walks up from startDir looking for a directory that
// holds a project config, a data directory, or a .git directory. It
// returns startDir when nothing is found so commands still work in a
// fresh directory.
func FindProjectRoot(startDir string) string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return startDir
	}
	for {
		for _, marker := range []string{".vitrine.yaml", ".vitrine.yml"} {
			if fileExists(filepath.Join(dir, marker)) {
				return dir
			}
		}
		if dirExists(filepath.Join(dir, DataDirName)) || dirExists(filepath.Join(dir, ".git")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			abs, err := filepath.Abs(startDir)
			if err != nil {
				return startDir
			}
			return abs
		}
		dir = parent
	}
}

// ProjectConfigPath returns the path of the project config inside root,
// preferring an existing .vitrine.yml over the default .vitrine.yaml
// only when the .yml variant already exists.
func ProjectConfigPath(root string) string {
	yml := filepath.Join(root, ".vitrine.yml")
	if fileExists(yml) {
		return yml
	}
	return filepath.Join(root, ".vitrine.yaml")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// redactedKeys lists config fields whose values should not be echoed
// verbatim by `vitrine config show` when they look like credentials.
var redactedKeys = []string{"authorization", "token", "secret", "password"}

// RedactValue masks val when key suggests it is a credential.
func RedactValue(key, val string) string {
	lower := strings.ToLower(key)
	for _, k := range redactedKeys {
		if strings.Contains(lower, k) {
			if len(val) <= 4 {
				return "****"
			}
			return val[:2] + "****" + val[len(val)-2:]
		}
	}
	return val
}
