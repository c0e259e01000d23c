package embed

import "time"

// HTTPConfig configures the HTTP embedding provider.
type HTTPConfig struct {
	// Endpoint is the base URL of the embedding service.
	Endpoint string

	// Model is the model identifier sent with every request.
	Model string

	// RequestTimeout bounds a single embedding request.
	RequestTimeout time.Duration

	// ConnectTimeout bounds the startup health probe.
	ConnectTimeout time.Duration

	// MaxRetries is the number of retry attempts per request.
	MaxRetries int

	// BatchSize is the number of texts sent per request.
	BatchSize int

	// PoolSize is the connection pool size.
	PoolSize int

	// CircuitMaxFailures trips the circuit breaker after this many
	// consecutive failures.
	CircuitMaxFailures int

	// CircuitResetTimeout is how long the breaker stays open before
	// probing the service again.
	CircuitResetTimeout time.Duration
}

// DefaultHTTPConfig returns an HTTPConfig with sensible defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Endpoint:            "http://localhost:8089",
		Model:               "clip-vit-b-32",
		RequestTimeout:      DefaultRequestTimeout,
		ConnectTimeout:      DefaultConnectTimeout,
		MaxRetries:          DefaultMaxRetries,
		BatchSize:           DefaultBatchSize,
		PoolSize:            4,
		CircuitMaxFailures:  5,
		CircuitResetTimeout: 30 * time.Second,
	}
}

// embedTextRequest is the request body for POST /embed/text.
type embedTextRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

// embedImageRequest is the request body for POST /embed/image. Image
// bytes travel base64-encoded.
type embedImageRequest struct {
	Model string `json:"model"`
	Image string `json:"image"`
}

// embedResponse is the response body for both embed endpoints.
type embedResponse struct {
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
	Embeddings [][]float64 `json:"embeddings"`
}

// errorResponse is the error body the embedding service returns on
// non-2xx statuses.
type errorResponse struct {
	Error string `json:"error"`
}
