package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vitrine-search/vitrine/internal/config"
	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
)

// ProviderType identifies an embedding backend.
type ProviderType string

const (
	// ProviderAuto probes the HTTP service and falls back to static.
	ProviderAuto ProviderType = "auto"

	// ProviderHTTP requires the HTTP embedding service.
	ProviderHTTP ProviderType = "http"

	// ProviderStatic uses the deterministic hash embedder.
	ProviderStatic ProviderType = "static"
)

// ValidProviders returns the accepted provider names.
func ValidProviders() []string {
	return []string{string(ProviderAuto), string(ProviderHTTP), string(ProviderStatic)}
}

// ParseProvider validates a provider name. An empty string selects
// auto.
func ParseProvider(name string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", string(ProviderAuto):
		return ProviderAuto, nil
	case string(ProviderHTTP):
		return ProviderHTTP, nil
	case string(ProviderStatic):
		return ProviderStatic, nil
	default:
		return "", vitrineerrors.ConfigError(
			fmt.Sprintf("unknown embedder provider %q (valid: %s)",
				name, strings.Join(ValidProviders(), ", ")), nil)
	}
}

// NewEmbedder builds an embedder from configuration. The vector width
// comes from the collection schema, not the embedder config, so both
// providers agree with the index. An explicitly selected provider that
// cannot start is an error; only auto falls back.
func NewEmbedder(ctx context.Context, cfg config.EmbedderConfig, dimensions int) (Embedder, error) {
	provider, err := ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	var inner Embedder
	switch provider {
	case ProviderHTTP:
		inner, err = newHTTPFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
	case ProviderStatic:
		inner = NewStaticEmbedder(dimensions)
	case ProviderAuto:
		inner, err = newHTTPFromConfig(ctx, cfg)
		if err != nil {
			slog.Warn("embedding service unavailable, using static embedder",
				"endpoint", cfg.Endpoint,
				"error", err)
			inner = NewStaticEmbedder(dimensions)
		}
	}

	if dimensions > 0 && inner.Dimensions() != dimensions {
		_ = inner.Close()
		return nil, vitrineerrors.SchemaMismatchError(
			fmt.Sprintf("embedder produces %d-dimensional vectors but the collection expects %d",
				inner.Dimensions(), dimensions), nil).
			WithSuggestion("change vectors.dimensions or run a full reindex with the new model")
	}

	if cfg.CacheSize <= 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, cfg.CacheSize)
}

// newHTTPFromConfig maps the file configuration onto HTTPConfig.
func newHTTPFromConfig(ctx context.Context, cfg config.EmbedderConfig) (*HTTPEmbedder, error) {
	httpCfg := DefaultHTTPConfig()
	if cfg.Endpoint != "" {
		httpCfg.Endpoint = cfg.Endpoint
	}
	if cfg.Model != "" {
		httpCfg.Model = cfg.Model
	}
	httpCfg.RequestTimeout = config.Duration(cfg.RequestTimeout, DefaultRequestTimeout)
	if cfg.BatchSize > 0 {
		httpCfg.BatchSize = cfg.BatchSize
	}
	if cfg.CircuitMaxFailures > 0 {
		httpCfg.CircuitMaxFailures = cfg.CircuitMaxFailures
	}
	httpCfg.CircuitResetTimeout = config.Duration(cfg.CircuitResetTimeout, httpCfg.CircuitResetTimeout)
	return NewHTTPEmbedder(ctx, httpCfg)
}

// EmbedderInfo describes a constructed embedder for status output.
type EmbedderInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Cached     bool   `json:"cached"`
}

// GetInfo inspects an embedder, unwrapping the cache decorator.
func GetInfo(e Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      e.ModelName(),
		Dimensions: e.Dimensions(),
	}

	if cached, ok := e.(*CachedEmbedder); ok {
		info.Cached = true
		e = cached.Inner()
	}

	switch e.(type) {
	case *HTTPEmbedder:
		info.Provider = string(ProviderHTTP)
	case *StaticEmbedder:
		info.Provider = string(ProviderStatic)
	default:
		info.Provider = "unknown"
	}
	return info
}
