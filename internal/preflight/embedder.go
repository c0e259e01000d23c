package preflight

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// embedderProbeTimeout bounds the embedding service health probe.
const embedderProbeTimeout = 3 * time.Second

// CheckEmbedderEndpoint probes the configured embedding service health
// endpoint. The check is non-critical for the auto provider, which
// falls back to the static embedder when the service is down.
func (c *Checker) CheckEmbedderEndpoint(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "embedder_endpoint",
		Required: false,
	}

	provider := c.cfg.Embedder.Provider
	if c.offline || provider == "static" {
		result.Status = StatusPass
		result.Message = "static embedder selected (no service required)"
		return result
	}

	endpoint := c.cfg.Embedder.Endpoint
	if endpoint == "" {
		result.Status = StatusWarn
		result.Message = "no embedding service endpoint configured"
		result.Details = "Set embedder.endpoint or use the static provider"
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, embedderProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("invalid endpoint %q: %v", endpoint, err)
		return result
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("embedding service unreachable at %s", endpoint)
		result.Details = "The auto provider falls back to static embeddings"
		if provider == "http" {
			// An explicit http provider has no fallback.
			result.Status = StatusFail
			result.Details = "Start the embedding service or switch to the auto/static provider"
		}
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("embedding service returned HTTP %d", resp.StatusCode)
		if provider == "http" {
			result.Status = StatusFail
		}
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("embedding service ready at %s", endpoint)
	return result
}
