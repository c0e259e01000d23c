package embed

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
)

// HTTPEmbedder talks to a CLIP-style embedding service over HTTP. The
// service exposes POST /embed/text and POST /embed/image and projects
// both modalities into the same vector space. Requests are retried
// with exponential backoff and guarded by a circuit breaker so a down
// service fails fast instead of stalling the indexing pipeline.
type HTTPEmbedder struct {
	config     HTTPConfig
	dimensions int
	retry      vitrineerrors.RetryConfig
	breaker    *vitrineerrors.CircuitBreaker

	mu        sync.Mutex
	client    *http.Client
	transport *http.Transport
}

var _ Embedder = (*HTTPEmbedder)(nil)

// NewHTTPEmbedder creates an embedder backed by an HTTP embedding
// service. It probes the service health endpoint and detects the
// model's embedding width before returning, so a misconfigured
// endpoint fails at startup rather than mid-pipeline.
func NewHTTPEmbedder(ctx context.Context, config HTTPConfig) (*HTTPEmbedder, error) {
	defaults := DefaultHTTPConfig()
	if config.Endpoint == "" {
		config.Endpoint = defaults.Endpoint
	}
	config.Endpoint = strings.TrimRight(config.Endpoint, "/")
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.BatchSize < MinBatchSize {
		config.BatchSize = defaults.BatchSize
	}
	if config.BatchSize > MaxBatchSize {
		config.BatchSize = MaxBatchSize
	}
	if config.PoolSize <= 0 {
		config.PoolSize = defaults.PoolSize
	}
	if config.CircuitMaxFailures <= 0 {
		config.CircuitMaxFailures = defaults.CircuitMaxFailures
	}
	if config.CircuitResetTimeout <= 0 {
		config.CircuitResetTimeout = defaults.CircuitResetTimeout
	}

	retry := vitrineerrors.DefaultRetryConfig()
	retry.MaxRetries = config.MaxRetries

	transport := newPooledTransport(config.PoolSize)
	e := &HTTPEmbedder{
		config: config,
		retry:  retry,
		breaker: vitrineerrors.NewCircuitBreaker("embed-http",
			vitrineerrors.WithMaxFailures(config.CircuitMaxFailures),
			vitrineerrors.WithResetTimeout(config.CircuitResetTimeout)),
		client:    &http.Client{Transport: transport},
		transport: transport,
	}

	probeCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if !e.Available(probeCtx) {
		return nil, vitrineerrors.New(vitrineerrors.ErrCodeEmbedUnavailable,
			fmt.Sprintf("embedding service not reachable at %s", config.Endpoint), nil).
			WithSuggestion("start the embedding service or set embedder.provider to 'static'")
	}

	if err := e.detectDimensions(ctx); err != nil {
		return nil, err
	}

	slog.Debug("http embedder ready",
		"endpoint", config.Endpoint,
		"model", config.Model,
		"dimensions", e.dimensions)
	return e, nil
}

// newPooledTransport builds a transport sized for concurrent pipeline
// workers. Timeouts are enforced per request via context, not on the
// client, so a slow batch cannot starve an unrelated request.
func newPooledTransport(poolSize int) *http.Transport {
	return &http.Transport{
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: poolSize,
		MaxConnsPerHost:     poolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}
}

// detectDimensions embeds a probe text to discover the model's actual
// embedding width.
func (e *HTTPEmbedder) detectDimensions(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	vectors, err := e.requestText(probeCtx, []string{"dimension probe"})
	if err != nil {
		return vitrineerrors.New(vitrineerrors.ErrCodeEmbedUnavailable,
			"failed to detect embedding dimensions", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return vitrineerrors.EmbeddingError("embedding service returned an empty probe vector", nil)
	}
	e.dimensions = len(vectors[0])
	return nil
}

// Embed generates an embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	results, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// EmbedBatch generates embeddings for multiple texts. Empty texts get
// zero vectors without a round trip; the rest are sent in chunks of
// the configured batch size. Each chunk is retried independently.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var pending []string
	var pendingIdx []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dimensions)
			continue
		}
		pending = append(pending, text)
		pendingIdx = append(pendingIdx, i)
	}

	batchSize := e.config.BatchSize
	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}

		vectors, err := e.embedTexts(ctx, pending[start:end])
		if err != nil {
			return nil, err
		}
		for j, vec := range vectors {
			results[pendingIdx[start+j]] = vec
		}
	}
	return results, nil
}

// EmbedImage generates an embedding for raw image bytes.
func (e *HTTPEmbedder) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, vitrineerrors.ValidationError("image data is empty", nil)
	}

	return vitrineerrors.RetryWithResult(ctx, e.retry, func() ([]float32, error) {
		return vitrineerrors.CircuitExecute(e.breaker, func() ([]float32, error) {
			return e.requestImage(ctx, data)
		})
	})
}

// embedTexts sends one text batch through the retry and circuit
// breaker layers.
func (e *HTTPEmbedder) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return vitrineerrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
		return vitrineerrors.CircuitExecute(e.breaker, func() ([][]float32, error) {
			return e.requestText(ctx, texts)
		})
	})
}

// requestText performs a single POST /embed/text round trip.
func (e *HTTPEmbedder) requestText(ctx context.Context, texts []string) ([][]float32, error) {
	body := embedTextRequest{Model: e.config.Model, Texts: texts}
	resp, err := e.post(ctx, "/embed/text", body)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, vitrineerrors.EmbeddingError(
			fmt.Sprintf("embedding service returned %d vectors for %d texts",
				len(resp.Embeddings), len(texts)), nil)
	}
	return e.convertVectors(resp.Embeddings)
}

// requestImage performs a single POST /embed/image round trip.
func (e *HTTPEmbedder) requestImage(ctx context.Context, data []byte) ([]float32, error) {
	body := embedImageRequest{
		Model: e.config.Model,
		Image: base64.StdEncoding.EncodeToString(data),
	}
	resp, err := e.post(ctx, "/embed/image", body)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != 1 {
		return nil, vitrineerrors.EmbeddingError(
			fmt.Sprintf("embedding service returned %d vectors for one image",
				len(resp.Embeddings)), nil)
	}
	vectors, err := e.convertVectors(resp.Embeddings)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// post sends one request and classifies failures: transport errors,
// timeouts, 429 and 5xx responses are transient; everything else the
// service rejects is permanent and must not be retried.
func (e *HTTPEmbedder) post(ctx context.Context, path string, payload any) (*embedResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, vitrineerrors.EmbeddingError("failed to encode embedding request", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		e.config.Endpoint+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, vitrineerrors.EmbeddingError("failed to build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient().Do(req)
	if err != nil {
		return nil, vitrineerrors.New(vitrineerrors.ErrCodeEmbedUnavailable,
			fmt.Sprintf("embedding request to %s failed", path), err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, vitrineerrors.New(vitrineerrors.ErrCodeEmbedUnavailable,
			"failed to read embedding response", err)
	}

	if resp.StatusCode != http.StatusOK {
		message := serviceErrorMessage(raw)
		if resp.StatusCode >= http.StatusInternalServerError ||
			resp.StatusCode == http.StatusTooManyRequests {
			return nil, vitrineerrors.New(vitrineerrors.ErrCodeEmbedUnavailable,
				fmt.Sprintf("embedding service returned status %d: %s", resp.StatusCode, message), nil)
		}
		return nil, vitrineerrors.EmbeddingError(
			fmt.Sprintf("embedding service rejected request with status %d: %s",
				resp.StatusCode, message), nil)
	}

	var decoded embedResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, vitrineerrors.EmbeddingError("failed to decode embedding response", err)
	}
	return &decoded, nil
}

// serviceErrorMessage extracts the error string from a non-2xx body,
// falling back to the raw body when it is not the expected JSON shape.
func serviceErrorMessage(raw []byte) string {
	var errResp errorResponse
	if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	trimmed := strings.TrimSpace(string(raw))
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	if trimmed == "" {
		return "no error detail"
	}
	return trimmed
}

// convertVectors narrows the wire floats and normalizes each vector to
// unit length.
func (e *HTTPEmbedder) convertVectors(raw [][]float64) ([][]float32, error) {
	vectors := make([][]float32, len(raw))
	for i, wide := range raw {
		if e.dimensions > 0 && len(wide) != e.dimensions {
			return nil, vitrineerrors.EmbeddingError(
				fmt.Sprintf("embedding service returned a %d-dimensional vector, expected %d",
					len(wide), e.dimensions), nil)
		}
		vec := make([]float32, len(wide))
		for j, val := range wide {
			vec[j] = float32(val)
		}
		vectors[i] = normalizeVector(vec)
	}
	return vectors, nil
}

// Dimensions returns the detected embedding width.
func (e *HTTPEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelName returns the configured model identifier.
func (e *HTTPEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks whether the embedding service responds to its
// health endpoint.
func (e *HTTPEmbedder) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.httpClient().Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode == http.StatusOK
}

// httpClient returns the current client under the lock so it can be
// swapped by ForceCloseConnections without racing in-flight calls.
func (e *HTTPEmbedder) httpClient() *http.Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

// ForceCloseConnections drops the connection pool and replaces the
// transport. Used when the embedding service restarts and stale keep-
// alive connections would otherwise return errors for every worker.
func (e *HTTPEmbedder) ForceCloseConnections() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.transport.CloseIdleConnections()
	e.transport = newPooledTransport(e.config.PoolSize)
	e.client = &http.Client{Transport: e.transport}
	slog.Debug("embedding connection pool reset", "endpoint", e.config.Endpoint)
}

// Close releases idle connections.
func (e *HTTPEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transport.CloseIdleConnections()
	return nil
}
