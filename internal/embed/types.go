// Package embed generates vector embeddings for catalog text and
// product images. The http provider talks to a CLIP-style embedding
// service; the static provider derives deterministic hash-based
// vectors and needs no network, which keeps development and tests
// hermetic.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory
	// exhaustion on the embedding service).
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultRequestTimeout bounds a single embedding request.
	DefaultRequestTimeout = 15 * time.Second

	// DefaultConnectTimeout bounds the initial health probe.
	DefaultConnectTimeout = 3 * time.Second

	// DefaultDimensions is the embedding width of the default model
	// (clip-vit-b-32 projects text and images into 512 dimensions).
	DefaultDimensions = 512

	// DefaultMaxRetries is the default number of retry attempts for a
	// failed embedding request.
	DefaultMaxRetries = 3
)

// Embedder generates vector embeddings. Text and images embed into the
// same vector space so an image query can match text records.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedImage generates an embedding for raw image bytes.
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
