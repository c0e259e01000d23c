package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
)

func newTestIndex(t *testing.T, dimensions int) *HNSWIndex {
	t.Helper()
	idx, err := NewHNSWIndex(DefaultVectorIndexConfig(dimensions))
	require.NoError(t, err)
	require.NoError(t, idx.EnsureCollection(context.Background(), dimensions, MetricCosine))
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func payloadFor(externalID string, sourceUpdatedAt int64) *RecordPayload {
	return &RecordPayload{
		ExternalID:      externalID,
		Title:           "Item " + externalID,
		Category:        "furniture",
		SourceUpdatedAt: sourceUpdatedAt,
	}
}

func TestHNSWIndex_EnsureCollection(t *testing.T) {
	idx, err := NewHNSWIndex(VectorIndexConfig{})
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	ctx := context.Background()

	// First call creates the collection
	require.NoError(t, idx.EnsureCollection(ctx, 4, MetricCosine))

	// Repeating with the same schema is a no-op
	require.NoError(t, idx.EnsureCollection(ctx, 4, MetricCosine))

	// A different dimension is a schema mismatch
	err = idx.EnsureCollection(ctx, 8, MetricCosine)
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsSchemaMismatch(err))

	// So is a different metric
	err = idx.EnsureCollection(ctx, 4, MetricL2)
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsSchemaMismatch(err))

	// Invalid arguments are validation errors
	err = idx.EnsureCollection(ctx, 0, MetricCosine)
	assert.True(t, vitrineerrors.IsValidation(err))
	err = idx.EnsureCollection(ctx, 4, "hamming")
	assert.True(t, vitrineerrors.IsValidation(err))
}

func TestHNSWIndex_UpsertAndSearch(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	// Given: three vectors, two of them close together
	keys := []string{"a", "b", "c"}
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	}
	payloads := []*RecordPayload{payloadFor("a", 1), payloadFor("b", 1), payloadFor("c", 1)}
	require.NoError(t, idx.Upsert(ctx, keys, vectors, payloads))

	// When: searching near the first vector
	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 2, 0)
	require.NoError(t, err)

	// Then: the exact match comes first, the near match second
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Key)
	assert.Equal(t, "c", hits[1].Key)
	assert.Greater(t, hits[0].Score, float32(0.99))
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	// And: payloads ride along
	require.NotNil(t, hits[0].Payload)
	assert.Equal(t, "a", hits[0].Payload.ExternalID)
}

func TestHNSWIndex_Upsert_LengthMismatch(t *testing.T) {
	idx := newTestIndex(t, 4)

	err := idx.Upsert(context.Background(),
		[]string{"a", "b"},
		[][]float32{{1, 0, 0, 0}},
		[]*RecordPayload{payloadFor("a", 1), payloadFor("b", 1)})

	require.Error(t, err)
	assert.True(t, vitrineerrors.IsValidation(err))
	assert.Equal(t, 0, idx.Count())
}

func TestHNSWIndex_Upsert_DimensionMismatch(t *testing.T) {
	idx := newTestIndex(t, 4)

	// One bad record rejects the whole batch before any write
	err := idx.Upsert(context.Background(),
		[]string{"a", "b"},
		[][]float32{{1, 0, 0, 0}, {1, 0}},
		[]*RecordPayload{payloadFor("a", 1), payloadFor("b", 1)})

	require.Error(t, err)
	assert.False(t, vitrineerrors.IsRetryable(err))
	assert.Equal(t, 0, idx.Count())
}

func TestHNSWIndex_Upsert_RequiresCollection(t *testing.T) {
	idx, err := NewHNSWIndex(VectorIndexConfig{})
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	err = idx.Upsert(context.Background(),
		[]string{"a"}, [][]float32{{1, 0}}, []*RecordPayload{payloadFor("a", 1)})

	require.Error(t, err)
	assert.True(t, vitrineerrors.IsSchemaMismatch(err))
}

func TestHNSWIndex_UpsertReplaces(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []string{"a"},
		[][]float32{{1, 0, 0, 0}}, []*RecordPayload{payloadFor("a", 100)}))

	// When: upserting the same key with a newer vector
	require.NoError(t, idx.Upsert(ctx, []string{"a"},
		[][]float32{{0, 1, 0, 0}}, []*RecordPayload{payloadFor("a", 200)}))

	// Then: still one live record, pointing at the new vector
	assert.Equal(t, 1, idx.Count())
	hits, err := idx.Search(ctx, []float32{0, 1, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].Key)
	assert.Greater(t, hits[0].Score, float32(0.99))

	// And: the replaced node lingers as an orphan until compaction
	stats := idx.CollectionStats()
	assert.Equal(t, 1, stats.Records)
	assert.Equal(t, 2, stats.GraphNodes)
	assert.Equal(t, 1, stats.Orphans)
}

func TestHNSWIndex_StaleRecordDiscarded(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	// Given: a committed record built from source state at t=200
	require.NoError(t, idx.Upsert(ctx, []string{"a"},
		[][]float32{{1, 0, 0, 0}}, []*RecordPayload{payloadFor("a", 200)}))

	// When: a record built from older source state arrives late
	require.NoError(t, idx.Upsert(ctx, []string{"a"},
		[][]float32{{0, 1, 0, 0}}, []*RecordPayload{payloadFor("a", 100)}))

	// Then: the late write was discarded as a successful no-op
	payload, ok := idx.Payload("a")
	require.True(t, ok)
	assert.Equal(t, int64(200), payload.SourceUpdatedAt)
	vec, ok := idx.Vector("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0, 0, 0}, vec)

	// And: a genuinely newer record replaces it
	require.NoError(t, idx.Upsert(ctx, []string{"a"},
		[][]float32{{0, 1, 0, 0}}, []*RecordPayload{payloadFor("a", 300)}))
	payload, _ = idx.Payload("a")
	assert.Equal(t, int64(300), payload.SourceUpdatedAt)

	// And: a zero timestamp bypasses the check entirely
	require.NoError(t, idx.Upsert(ctx, []string{"a"},
		[][]float32{{1, 0, 0, 0}}, []*RecordPayload{payloadFor("a", 0)}))
	vec, _ = idx.Vector("a")
	assert.Equal(t, []float32{1, 0, 0, 0}, vec)
}

func TestHNSWIndex_DeleteNeverReturned(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	keys := []string{"a", "b", "c"}
	vectors := [][]float32{{1, 0, 0, 0}, {0.95, 0.05, 0, 0}, {0, 1, 0, 0}}
	payloads := []*RecordPayload{payloadFor("a", 1), payloadFor("b", 1), payloadFor("c", 1)}
	require.NoError(t, idx.Upsert(ctx, keys, vectors, payloads))

	// When: deleting the nearest neighbor of the query
	require.NoError(t, idx.Delete(ctx, []string{"a"}))

	// Then: it is gone from membership checks
	assert.False(t, idx.Contains("a"))
	assert.Equal(t, 2, idx.Count())
	_, ok := idx.Payload("a")
	assert.False(t, ok)

	// And: no search can surface it, even asking for everything
	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, hit := range hits {
		assert.NotEqual(t, "a", hit.Key)
	}

	// And: unknown keys are ignored
	require.NoError(t, idx.Delete(ctx, []string{"never-indexed"}))
}

func TestHNSWIndex_ChunkedUpsert_PartialFailure(t *testing.T) {
	cfg := DefaultVectorIndexConfig(4)
	cfg.ChunkSize = 200
	idx, err := NewHNSWIndex(cfg)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	ctx := context.Background()
	require.NoError(t, idx.EnsureCollection(ctx, 4, MetricCosine))

	// Given: 1000 records, which split into 5 chunks of 200
	keys := make([]string, 1000)
	vectors := make([][]float32, 1000)
	payloads := make([]*RecordPayload, 1000)
	for i := range keys {
		keys[i] = fmt.Sprintf("rec-%04d", i)
		vectors[i] = []float32{float32(i), 1, 0, 0}
		payloads[i] = payloadFor(keys[i], 50)
	}

	// And: the third chunk commit fails
	idx.chunkHook = func(chunk int) error {
		if chunk == 2 {
			return vitrineerrors.RetryableError("vector backend unavailable", nil)
		}
		return nil
	}

	// When: upserting the batch
	err = idx.Upsert(ctx, keys, vectors, payloads)

	// Then: the failure reports two committed chunks of five
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 2, batchErr.ChunkIndex)
	assert.Equal(t, 5, batchErr.TotalChunks)
	assert.Equal(t, 2, batchErr.CommittedChunks)
	assert.Equal(t, 400, batchErr.CommittedRecords)
	assert.True(t, vitrineerrors.IsRetryable(err))
	assert.Equal(t, 400, idx.Count())

	// When: the whole batch is retried after the outage
	idx.chunkHook = nil
	require.NoError(t, idx.Upsert(ctx, keys, vectors, payloads))

	// Then: exactly 1000 live records, no duplicates
	assert.Equal(t, 1000, idx.Count())
	stats := idx.CollectionStats()
	assert.Equal(t, 1000, stats.Records)
	// The 400 records written twice linger as orphans
	assert.Equal(t, 400, stats.Orphans)

	// And: compaction drops the orphans without losing records
	require.NoError(t, idx.Compact())
	stats = idx.CollectionStats()
	assert.Equal(t, 1000, stats.Records)
	assert.Equal(t, 1000, stats.GraphNodes)
	assert.Equal(t, 0, stats.Orphans)
}

func TestHNSWIndex_Search_Threshold(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	keys := []string{"near", "far"}
	vectors := [][]float32{{1, 0, 0, 0}, {0, 0, 1, 0}}
	payloads := []*RecordPayload{payloadFor("near", 1), payloadFor("far", 1)}
	require.NoError(t, idx.Upsert(ctx, keys, vectors, payloads))

	// A high threshold keeps only the close match
	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 10, 0.9)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "near", hits[0].Key)

	// An unsatisfiable threshold yields an empty result, not an error
	hits, err = idx.Search(ctx, []float32{1, 0, 0, 0}, 10, 2.0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHNSWIndex_Search_EmptyIndex(t *testing.T) {
	idx := newTestIndex(t, 4)

	hits, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHNSWIndex_SearchValidation(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	_, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 0, 0)
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsValidation(err))

	_, err = idx.Search(ctx, []float32{1, 0}, 5, 0)
	require.Error(t, err)
}

func TestHNSWIndex_Vector(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []string{"a"},
		[][]float32{{3, 4, 0, 0}}, []*RecordPayload{payloadFor("a", 1)}))

	// The stored vector is unit-normalized for cosine collections
	vec, ok := idx.Vector("a")
	require.True(t, ok)
	require.Len(t, vec, 4)
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	// The returned slice is a copy
	vec[0] = 99
	again, ok := idx.Vector("a")
	require.True(t, ok)
	assert.NotEqual(t, float32(99), again[0])

	_, ok = idx.Vector("missing")
	assert.False(t, ok)
}

func TestHNSWIndex_Persistence(t *testing.T) {
	tmpDir := t.TempDir()
	indexPath := filepath.Join(tmpDir, "vectors.hnsw")
	ctx := context.Background()

	// Given: a populated index saved to disk
	idx1, err := NewHNSWIndex(DefaultVectorIndexConfig(4))
	require.NoError(t, err)
	require.NoError(t, idx1.EnsureCollection(ctx, 4, MetricCosine))
	require.NoError(t, idx1.Upsert(ctx,
		[]string{"a", "b"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
		[]*RecordPayload{payloadFor("a", 111), payloadFor("b", 222)}))
	require.NoError(t, idx1.Save(indexPath))
	require.NoError(t, idx1.Close())

	// When: loading into a fresh index
	idx2, err := NewHNSWIndex(DefaultVectorIndexConfig(4))
	require.NoError(t, err)
	defer func() { _ = idx2.Close() }()
	require.NoError(t, idx2.Load(indexPath))

	// Then: records, payloads, and vectors all survived
	assert.Equal(t, 2, idx2.Count())
	payload, ok := idx2.Payload("a")
	require.True(t, ok)
	assert.Equal(t, int64(111), payload.SourceUpdatedAt)

	hits, err := idx2.Search(ctx, []float32{1, 0, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].Key)

	// And: upserts keep working after a load
	require.NoError(t, idx2.Upsert(ctx, []string{"c"},
		[][]float32{{0, 0, 1, 0}}, []*RecordPayload{payloadFor("c", 333)}))
	assert.Equal(t, 3, idx2.Count())
}

func TestHNSWIndex_Load_SchemaMismatch(t *testing.T) {
	tmpDir := t.TempDir()
	indexPath := filepath.Join(tmpDir, "vectors.hnsw")
	ctx := context.Background()

	idx1, err := NewHNSWIndex(DefaultVectorIndexConfig(4))
	require.NoError(t, err)
	require.NoError(t, idx1.EnsureCollection(ctx, 4, MetricCosine))
	require.NoError(t, idx1.Upsert(ctx, []string{"a"},
		[][]float32{{1, 0, 0, 0}}, []*RecordPayload{payloadFor("a", 1)}))
	require.NoError(t, idx1.Save(indexPath))
	require.NoError(t, idx1.Close())

	// A differently configured index refuses the snapshot
	idx2, err := NewHNSWIndex(DefaultVectorIndexConfig(8))
	require.NoError(t, err)
	defer func() { _ = idx2.Close() }()

	err = idx2.Load(indexPath)
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsSchemaMismatch(err))
}

func TestReadCollectionSchema(t *testing.T) {
	tmpDir := t.TempDir()
	indexPath := filepath.Join(tmpDir, "vectors.hnsw")

	// No snapshot yet
	dims, metric, err := ReadCollectionSchema(indexPath)
	require.NoError(t, err)
	assert.Equal(t, 0, dims)
	assert.Equal(t, "", metric)

	// After a save the schema is readable without loading the graph
	idx, err := NewHNSWIndex(DefaultVectorIndexConfig(4))
	require.NoError(t, err)
	require.NoError(t, idx.EnsureCollection(context.Background(), 4, MetricCosine))
	require.NoError(t, idx.Save(indexPath))
	require.NoError(t, idx.Close())

	dims, metric, err = ReadCollectionSchema(indexPath)
	require.NoError(t, err)
	assert.Equal(t, 4, dims)
	assert.Equal(t, MetricCosine, metric)
}

func TestHNSWIndex_CloseIdempotent(t *testing.T) {
	idx, err := NewHNSWIndex(DefaultVectorIndexConfig(4))
	require.NoError(t, err)

	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	err = idx.Upsert(context.Background(), []string{"a"},
		[][]float32{{1, 0, 0, 0}}, []*RecordPayload{payloadFor("a", 1)})
	require.Error(t, err)
}

func TestBatchError_Message(t *testing.T) {
	err := &BatchError{
		ChunkIndex:       2,
		TotalChunks:      5,
		CommittedChunks:  2,
		CommittedRecords: 400,
		Err:              errors.New("backend down"),
	}

	assert.Contains(t, err.Error(), "chunk 3 of 5")
	assert.Contains(t, err.Error(), "2 committed chunks")
	assert.ErrorContains(t, err, "backend down")
}
