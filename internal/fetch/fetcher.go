// Package fetch retrieves product image assets over HTTP for the
// indexing pipeline. Failures split into two kinds: the asset host
// being down is transient and worth retrying, while a missing or
// malformed asset is permanent and must dead-letter the task instead
// of burning retries.
package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
)

const (
	// DefaultMaxBytes caps an asset body at 10 MiB.
	DefaultMaxBytes = 10 << 20

	// DefaultRequestTimeout bounds a single asset download.
	DefaultRequestTimeout = 20 * time.Second

	// sniffLen is how many leading bytes content sniffing examines.
	sniffLen = 512
)

// Fetcher retrieves an asset by URL.
type Fetcher interface {
	// Fetch downloads the asset and returns its raw bytes.
	Fetch(ctx context.Context, rawURL string) ([]byte, error)

	// Close releases resources.
	Close() error
}

// Config configures the HTTP fetcher.
type Config struct {
	// RequestTimeout bounds a single download.
	RequestTimeout time.Duration

	// MaxBytes is the largest accepted asset body.
	MaxBytes int64

	// PoolSize is the connection pool size.
	PoolSize int

	// UserAgent is sent with every request.
	UserAgent string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: DefaultRequestTimeout,
		MaxBytes:       DefaultMaxBytes,
		PoolSize:       4,
		UserAgent:      "vitrine-fetch/1.0",
	}
}

// HTTPFetcher downloads assets with a pooled transport. Timeouts are
// per request via context so one slow host cannot stall the pool.
type HTTPFetcher struct {
	config    Config
	client    *http.Client
	transport *http.Transport
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates an asset fetcher.
func NewHTTPFetcher(config Config) *HTTPFetcher {
	defaults := DefaultConfig()
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = defaults.MaxBytes
	}
	if config.PoolSize <= 0 {
		config.PoolSize = defaults.PoolSize
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}

	transport := &http.Transport{
		MaxIdleConns:        config.PoolSize,
		MaxIdleConnsPerHost: config.PoolSize,
		MaxConnsPerHost:     config.PoolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}
	return &HTTPFetcher{
		config:    config,
		client:    &http.Client{Transport: transport},
		transport: transport,
	}
}

// Fetch downloads an image asset. The URL must be http or https, the
// response must carry an image content type (sniffed when the header
// is missing), and the body must be non-empty and under the size cap.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, vitrineerrors.AssetInvalidError(
			fmt.Sprintf("asset url %q is not parseable", rawURL), err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, vitrineerrors.AssetInvalidError(
			fmt.Sprintf("asset url scheme %q is not supported", parsed.Scheme), nil)
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, vitrineerrors.AssetInvalidError("failed to build asset request", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, vitrineerrors.AssetUnavailableError(
			fmt.Sprintf("asset fetch from %s failed", parsed.Host), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := f.checkStatus(resp); err != nil {
		return nil, err
	}
	if resp.ContentLength > f.config.MaxBytes {
		return nil, vitrineerrors.AssetInvalidError(
			fmt.Sprintf("asset is %d bytes, cap is %d", resp.ContentLength, f.config.MaxBytes), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, vitrineerrors.AssetUnavailableError("asset download interrupted", err)
	}
	if int64(len(body)) > f.config.MaxBytes {
		return nil, vitrineerrors.AssetInvalidError(
			fmt.Sprintf("asset exceeds the %d byte cap", f.config.MaxBytes), nil)
	}
	if len(body) == 0 {
		return nil, vitrineerrors.AssetInvalidError("asset body is empty", nil)
	}

	if err := checkImageType(resp.Header.Get("Content-Type"), body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkStatus classifies non-2xx responses. Server-side failures and
// rate limiting are transient; everything else in the 4xx range means
// the asset itself is bad.
func (f *HTTPFetcher) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return vitrineerrors.AssetUnavailableError(
			fmt.Sprintf("asset host returned status %d", resp.StatusCode), nil)
	default:
		return vitrineerrors.AssetInvalidError(
			fmt.Sprintf("asset request rejected with status %d", resp.StatusCode), nil)
	}
}

// checkImageType verifies the asset is an image, preferring the
// Content-Type header and falling back to sniffing the body.
func checkImageType(contentType string, body []byte) error {
	mediaType := ""
	if contentType != "" {
		if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = parsed
		}
	}
	if mediaType == "" || mediaType == "application/octet-stream" {
		head := body
		if len(head) > sniffLen {
			head = head[:sniffLen]
		}
		mediaType = http.DetectContentType(head)
	}

	if !strings.HasPrefix(mediaType, "image/") {
		return vitrineerrors.AssetInvalidError(
			fmt.Sprintf("asset content type %q is not an image", mediaType), nil)
	}
	return nil
}

// Close releases idle connections.
func (f *HTTPFetcher) Close() error {
	f.transport.CloseIdleConnections()
	return nil
}
