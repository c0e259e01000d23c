package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
)

// DefaultCacheSize is the default number of embeddings kept in memory.
const DefaultCacheSize = 2048

// CachedEmbedder wraps an Embedder with an LRU cache. Reindexing runs
// re-embed mostly unchanged records, so the cache turns the second
// pass over a catalog into memory lookups.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps an embedder with an LRU cache of the given
// size.
func NewCachedEmbedder(inner Embedder, cacheSize int) (*CachedEmbedder, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, vitrineerrors.InternalError("failed to create embedding cache", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// cacheKey builds a collision-safe key from the text and model. The
// model name is part of the key so switching models never serves stale
// vectors.
func (e *CachedEmbedder) cacheKey(text string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(e.inner.ModelName()))
	return hex.EncodeToString(h.Sum(nil))
}

// imageCacheKey hashes raw image bytes with the model name. A trailing
// marker keeps image keys disjoint from text keys.
func (e *CachedEmbedder) imageCacheKey(data []byte) string {
	h := sha256.New()
	h.Write(data)
	h.Write([]byte{0})
	h.Write([]byte(e.inner.ModelName()))
	h.Write([]byte{0, 'i', 'm', 'g'})
	return hex.EncodeToString(h.Sum(nil))
}

// Embed returns a cached embedding or delegates to the inner embedder.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.cacheKey(text)
	if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, vec)
	return vec, nil
}

// EmbedImage returns a cached embedding or delegates to the inner
// embedder.
func (e *CachedEmbedder) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	key := e.imageCacheKey(data)
	if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := e.inner.EmbedImage(ctx, data)
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch serves what it can from the cache and sends only the
// misses to the inner embedder, preserving input order in the result.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		keys[i] = e.cacheKey(text)
		if vec, ok := e.cache.Get(keys[i]); ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range fresh {
		i := missIdx[j]
		results[i] = vec
		e.cache.Add(keys[i], vec)
	}
	return results, nil
}

// Dimensions returns the inner embedder's width.
func (e *CachedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// ModelName returns the inner embedder's model identifier.
func (e *CachedEmbedder) ModelName() string {
	return e.inner.ModelName()
}

// Available reports the inner embedder's availability.
func (e *CachedEmbedder) Available(ctx context.Context) bool {
	return e.inner.Available(ctx)
}

// Close purges the cache and closes the inner embedder.
func (e *CachedEmbedder) Close() error {
	e.cache.Purge()
	return e.inner.Close()
}

// Inner returns the wrapped embedder.
func (e *CachedEmbedder) Inner() Embedder {
	return e.inner
}

// CacheLen returns the number of cached embeddings.
func (e *CachedEmbedder) CacheLen() int {
	return e.cache.Len()
}
