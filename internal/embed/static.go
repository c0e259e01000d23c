package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
)

const (
	// StaticModelName identifies the deterministic hash embedder.
	StaticModelName = "static-hash-v1"

	// tokenWeight and ngramWeight blend whole-token hits with
	// character trigram hits. Trigrams give partial-word overlap
	// ("sofa" vs "sofas") a nonzero similarity.
	tokenWeight = 0.7
	ngramWeight = 0.3

	// imageWindowSize and imageWindowStride control how raw image
	// bytes are folded into the vector.
	imageWindowSize   = 32
	imageWindowStride = 16
)

// stopWords are dropped before hashing so connective words do not
// dominate short catalog titles.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "in": {},
	"is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "to": {}, "was": {}, "were": {}, "with": {},
}

// StaticEmbedder produces deterministic embeddings by hashing tokens
// and character trigrams into a fixed-width vector. The same input
// always yields the same vector, which makes indexing reproducible
// without any external service. Quality is far below a learned model;
// it exists for development, tests, and air-gapped deployments.
type StaticEmbedder struct {
	dimensions int
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a deterministic hash-based embedder with
// the given vector width.
func NewStaticEmbedder(dimensions int) *StaticEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &StaticEmbedder{dimensions: dimensions}
}

// Embed generates a deterministic embedding for text. Empty or
// whitespace-only text yields a zero vector.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec, nil
	}

	for _, token := range tokens {
		vec[hashToIndex(token, e.dimensions)] += tokenWeight
		for _, gram := range trigrams(token) {
			vec[hashToIndex(gram, e.dimensions)] += ngramWeight
		}
	}
	return normalizeVector(vec), nil
}

// EmbedImage generates a deterministic embedding from raw image bytes
// by hashing fixed-size byte windows. It sees bytes, not pixels, so
// two encodings of the same picture embed differently. Good enough to
// exercise the image path end to end.
func (e *StaticEmbedder) EmbedImage(_ context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, vitrineerrors.ValidationError("image data is empty", nil)
	}

	vec := make([]float32, e.dimensions)
	if len(data) <= imageWindowSize {
		vec[hashBytesToIndex(data, e.dimensions)] += 1.0
		return normalizeVector(vec), nil
	}

	for start := 0; start+imageWindowSize <= len(data); start += imageWindowStride {
		window := data[start : start+imageWindowSize]
		vec[hashBytesToIndex(window, e.dimensions)] += 1.0
	}
	return normalizeVector(vec), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// Dimensions returns the embedding width.
func (e *StaticEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return StaticModelName
}

// Available always returns true; the static embedder has no external
// dependency.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	return true
}

// Close is a no-op.
func (e *StaticEmbedder) Close() error {
	return nil
}

// tokenize lowercases text, splits on non-alphanumeric runes, and
// drops single characters and stop words.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if len(field) < 2 {
			continue
		}
		if _, skip := stopWords[field]; skip {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

// trigrams returns the character 3-grams of a token.
func trigrams(token string) []string {
	if len(token) < 3 {
		return nil
	}
	grams := make([]string, 0, len(token)-2)
	for i := 0; i+3 <= len(token); i++ {
		grams = append(grams, token[i:i+3])
	}
	return grams
}

// hashToIndex maps a string to a vector index via FNV-1a.
func hashToIndex(s string, dimensions int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(dimensions))
}

// hashBytesToIndex maps a byte window to a vector index via FNV-1a.
func hashBytesToIndex(data []byte, dimensions int) int {
	h := fnv.New64a()
	_, _ = h.Write(data)
	return int(h.Sum64() % uint64(dimensions))
}
