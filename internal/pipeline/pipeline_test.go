package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitrine-search/vitrine/internal/config"
	"github.com/vitrine-search/vitrine/internal/embed"
	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
	"github.com/vitrine-search/vitrine/internal/ident"
	"github.com/vitrine-search/vitrine/internal/store"
)

const testDims = 32

// flakyVectors wraps a real index and fails a scripted number of
// upserts or deletes with a transient error.
type flakyVectors struct {
	store.VectorIndex

	mu          sync.Mutex
	failUpserts int
	failDeletes int
	upsertCalls int
	deleteCalls int
}

func (f *flakyVectors) Upsert(ctx context.Context, keys []string, vectors [][]float32, payloads []*store.RecordPayload) error {
	f.mu.Lock()
	f.upsertCalls++
	fail := f.failUpserts > 0
	if fail {
		f.failUpserts--
	}
	f.mu.Unlock()
	if fail {
		return vitrineerrors.RetryableError("vector backend unavailable", nil)
	}
	return f.VectorIndex.Upsert(ctx, keys, vectors, payloads)
}

func (f *flakyVectors) Delete(ctx context.Context, keys []string) error {
	f.mu.Lock()
	f.deleteCalls++
	fail := f.failDeletes > 0
	if fail {
		f.failDeletes--
	}
	f.mu.Unlock()
	if fail {
		return vitrineerrors.RetryableError("vector backend unavailable", nil)
	}
	return f.VectorIndex.Delete(ctx, keys)
}

func (f *flakyVectors) upserts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsertCalls
}

// failingEmbedder fails a scripted number of calls before delegating.
type failingEmbedder struct {
	embed.Embedder

	mu        sync.Mutex
	remaining int
	failWith  error
	calls     int
}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	fail := f.remaining > 0
	if fail {
		f.remaining--
	}
	f.mu.Unlock()
	if fail {
		return nil, f.failWith
	}
	return f.Embedder.Embed(ctx, text)
}

type testEnv struct {
	dir      string
	metadata *store.SQLiteStore
	inner    *store.HNSWIndex
	vectors  *flakyVectors
	pipe     *Pipeline
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	dir := t.TempDir()

	metadata, err := store.NewSQLiteStore(filepath.Join(dir, "metadata.db"), store.DefaultMetadataConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadata.Close() })

	inner, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(testDims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = inner.Close() })

	vectors := &flakyVectors{VectorIndex: inner}

	deps := Deps{
		Metadata: metadata,
		Vectors:  vectors,
		Embedder: embed.NewStaticEmbedder(testDims),
		Config: config.PipelineConfig{
			Workers:        2,
			QueueCapacity:  64,
			MaxAttempts:    3,
			BackoffInitial: "1ms",
			BackoffMax:     "5ms",
			FetchTimeout:   "2s",
			EmbedTimeout:   "2s",
			UpsertTimeout:  "2s",
		},
		DataDir: dir,
	}
	if mutate != nil {
		mutate(&deps)
	}

	pipe, err := New(deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pipe.Close() })

	return &testEnv{dir: dir, metadata: metadata, inner: inner, vectors: vectors, pipe: pipe}
}

func (env *testEnv) start(t *testing.T) {
	t.Helper()
	require.NoError(t, env.pipe.Start(context.Background()))
}

func (env *testEnv) createItem(t *testing.T, externalID, title string) *store.Item {
	t.Helper()
	item := &store.Item{
		ExternalID:  externalID,
		Title:       title,
		Description: "a thing in the catalog",
		Category:    "furniture",
		Attributes:  store.Attributes{{Key: "color", Value: "red"}},
	}
	require.NoError(t, env.metadata.CreateItem(context.Background(), item))
	return item
}

func waitForTerminal(t *testing.T, p *Pipeline, id string) *Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := p.TaskStatus(id)
		require.NoError(t, err)
		if task.State.Terminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state", id)
	return nil
}

func TestNew_RequiresDependencies(t *testing.T) {
	metadata, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "metadata.db"), store.DefaultMetadataConfig())
	require.NoError(t, err)
	defer metadata.Close()
	inner, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(testDims))
	require.NoError(t, err)
	defer inner.Close()
	embedder := embed.NewStaticEmbedder(testDims)

	_, err = New(Deps{Vectors: inner, Embedder: embedder})
	require.ErrorContains(t, err, "metadata store is required")

	_, err = New(Deps{Metadata: metadata, Embedder: embedder})
	require.ErrorContains(t, err, "vector index is required")

	_, err = New(Deps{Metadata: metadata, Vectors: inner})
	require.ErrorContains(t, err, "embedder is required")
}

func TestPipeline_IndexTaskCommits(t *testing.T) {
	env := newTestEnv(t, nil)
	env.start(t)
	ctx := context.Background()

	// Given: a stored item without an asset
	env.createItem(t, "sku-1", "Red Sofa")

	// When: an indexing task runs to completion
	handle, err := env.pipe.SubmitIndex(ctx, "sku-1", "")
	require.NoError(t, err)
	task := waitForTerminal(t, env.pipe, handle.ID)

	// Then: the task committed and the vector record matches the item
	assert.Equal(t, StateCommitted, task.State)
	assert.Equal(t, 1, task.Attempt)

	key := ident.DeriveKey("sku-1")
	require.True(t, env.inner.Contains(key))
	payload, ok := env.inner.Payload(key)
	require.True(t, ok)
	assert.Equal(t, "sku-1", payload.ExternalID)
	assert.Equal(t, "Red Sofa", payload.Title)
	assert.Equal(t, "furniture", payload.Category)

	stored, err := env.metadata.GetItemByExternalID(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, stored.UpdatedAt.UnixNano(), payload.SourceUpdatedAt)

	stats := env.pipe.Stats()
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, int64(1), stats.Committed)
	assert.Equal(t, int64(0), stats.DeadLettered)
}

func TestPipeline_SubmitValidatesInput(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.pipe.SubmitIndex(context.Background(), "   ", "")
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsValidation(err))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = env.pipe.SubmitIndex(cancelled, "sku-1", "")
	require.Error(t, err)
}

func TestPipeline_DoubleSubmitConvergesToOneRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	env.start(t)
	ctx := context.Background()

	env.createItem(t, "sku-1", "Red Sofa")

	// When: the same item is submitted twice
	first, err := env.pipe.SubmitIndex(ctx, "sku-1", "")
	require.NoError(t, err)
	second, err := env.pipe.SubmitIndex(ctx, "sku-1", "")
	require.NoError(t, err)

	// Then: both tasks settle and the index holds exactly one record
	assert.Equal(t, StateCommitted, waitForTerminal(t, env.pipe, first.ID).State)
	assert.Equal(t, StateCommitted, waitForTerminal(t, env.pipe, second.ID).State)
	assert.Equal(t, 1, env.inner.Count())
}

func TestPipeline_SkipsItemDeletedBeforeIndexing(t *testing.T) {
	env := newTestEnv(t, nil)
	env.start(t)

	// When: the task refers to an item that no longer exists
	handle, err := env.pipe.SubmitIndex(context.Background(), "sku-gone", "")
	require.NoError(t, err)
	task := waitForTerminal(t, env.pipe, handle.ID)

	// Then: the task is skipped, not failed, and nothing was written
	assert.Equal(t, StateSkipped, task.State)
	assert.Contains(t, task.LastError, "deleted")
	assert.Equal(t, 0, env.inner.Count())
	assert.Equal(t, int64(1), env.pipe.Stats().Skipped)
}

func TestPipeline_SkipsStaleSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	env.start(t)
	ctx := context.Background()

	// Given: the index already holds a snapshot newer than the item
	item := env.createItem(t, "sku-1", "Red Sofa")
	key := ident.DeriveKey("sku-1")
	future := item.UpdatedAt.Add(time.Hour).UnixNano()
	vec := make([]float32, testDims)
	vec[0] = 1
	require.NoError(t, env.inner.Upsert(ctx, []string{key}, [][]float32{vec}, []*store.RecordPayload{{
		ExternalID:      "sku-1",
		Title:           "Red Sofa v2",
		SourceUpdatedAt: future,
	}}))

	// When: an indexing task for the older item state runs
	handle, err := env.pipe.SubmitIndex(ctx, "sku-1", "")
	require.NoError(t, err)
	task := waitForTerminal(t, env.pipe, handle.ID)

	// Then: it skips without touching the committed record
	assert.Equal(t, StateSkipped, task.State)
	payload, ok := env.inner.Payload(key)
	require.True(t, ok)
	assert.Equal(t, future, payload.SourceUpdatedAt)
	assert.Equal(t, "Red Sofa v2", payload.Title)
	assert.Equal(t, 0, env.vectors.upserts())
}

func TestPipeline_RetriesTransientFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	env.vectors.failUpserts = 2
	env.start(t)

	env.createItem(t, "sku-1", "Red Sofa")

	// When: the first two upserts fail transiently
	handle, err := env.pipe.SubmitIndex(context.Background(), "sku-1", "")
	require.NoError(t, err)
	task := waitForTerminal(t, env.pipe, handle.ID)

	// Then: the third attempt commits
	assert.Equal(t, StateCommitted, task.State)
	assert.Equal(t, 3, task.Attempt)
	assert.Equal(t, 3, env.vectors.upserts())
	assert.True(t, env.inner.Contains(ident.DeriveKey("sku-1")))

	stats := env.pipe.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Committed)
}

func TestPipeline_DeadLettersAfterExhaustedRetries(t *testing.T) {
	env := newTestEnv(t, nil)
	env.vectors.failUpserts = 100
	env.start(t)
	ctx := context.Background()

	env.createItem(t, "sku-1", "Red Sofa")

	// When: every attempt fails transiently
	handle, err := env.pipe.SubmitIndex(ctx, "sku-1", "")
	require.NoError(t, err)
	task := waitForTerminal(t, env.pipe, handle.ID)

	// Then: the task ran exactly MaxAttempts times and was dead-lettered
	assert.Equal(t, StateDeadLettered, task.State)
	assert.Equal(t, 3, task.Attempt)
	assert.Equal(t, 3, env.vectors.upserts())
	assert.False(t, env.inner.Contains(ident.DeriveKey("sku-1")))

	letters, err := env.metadata.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, handle.ID, letters[0].TaskID)
	assert.Equal(t, "sku-1", letters[0].ExternalID)
	assert.Equal(t, string(KindIndex), letters[0].Kind)
	assert.Equal(t, 3, letters[0].Attempts)
	assert.Contains(t, letters[0].LastError, "unavailable")

	assert.Equal(t, int64(1), env.pipe.Stats().DeadLettered)
}

func TestPipeline_FatalErrorSkipsRetries(t *testing.T) {
	embedder := &failingEmbedder{
		Embedder:  embed.NewStaticEmbedder(testDims),
		remaining: 100,
		failWith:  vitrineerrors.EmbeddingError("model rejected the input", nil),
	}
	env := newTestEnv(t, func(d *Deps) { d.Embedder = embedder })
	env.start(t)

	env.createItem(t, "sku-1", "Red Sofa")

	// When: the failure is permanent
	handle, err := env.pipe.SubmitIndex(context.Background(), "sku-1", "")
	require.NoError(t, err)
	task := waitForTerminal(t, env.pipe, handle.ID)

	// Then: no retries happen, the task dead-letters on attempt one
	assert.Equal(t, StateDeadLettered, task.State)
	assert.Equal(t, 1, task.Attempt)
	assert.Equal(t, 0, env.vectors.upserts())

	letters, err := env.metadata.ListDeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Contains(t, letters[0].LastError, "model rejected")
}

func TestPipeline_RequeueDeadLetter(t *testing.T) {
	env := newTestEnv(t, nil)
	env.vectors.failUpserts = 100
	env.start(t)
	ctx := context.Background()

	env.createItem(t, "sku-1", "Red Sofa")

	// Given: a dead-lettered task
	handle, err := env.pipe.SubmitIndex(ctx, "sku-1", "")
	require.NoError(t, err)
	waitForTerminal(t, env.pipe, handle.ID)
	letters, err := env.metadata.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)

	// When: the backend recovers and the dead letter is requeued
	env.vectors.mu.Lock()
	env.vectors.failUpserts = 0
	env.vectors.mu.Unlock()
	requeued, err := env.pipe.RequeueDeadLetter(ctx, letters[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, handle.ID, requeued.ID)

	// Then: the fresh task commits and the dead letter is gone
	task := waitForTerminal(t, env.pipe, requeued.ID)
	assert.Equal(t, StateCommitted, task.State)
	assert.True(t, env.inner.Contains(ident.DeriveKey("sku-1")))

	letters, err = env.metadata.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, letters)
}

func TestPipeline_RequeueUnknownDeadLetter(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.pipe.RequeueDeadLetter(context.Background(), 4242)
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsNotFound(err))
}

func TestPipeline_DeleteItemRemovesBothSides(t *testing.T) {
	env := newTestEnv(t, nil)
	env.start(t)
	ctx := context.Background()

	// Given: an indexed item
	env.createItem(t, "sku-1", "Red Sofa")
	handle, err := env.pipe.SubmitIndex(ctx, "sku-1", "")
	require.NoError(t, err)
	waitForTerminal(t, env.pipe, handle.ID)
	key := ident.DeriveKey("sku-1")
	require.True(t, env.inner.Contains(key))

	// When: the item is deleted
	require.NoError(t, env.pipe.DeleteItem(ctx, "sku-1"))

	// Then: both stores no longer know it
	_, err = env.metadata.GetItemByExternalID(ctx, "sku-1")
	assert.True(t, vitrineerrors.IsNotFound(err))
	assert.False(t, env.inner.Contains(key))
}

func TestPipeline_DeleteItemQueuesCompensationOnVectorFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.start(t)
	ctx := context.Background()

	env.createItem(t, "sku-1", "Red Sofa")
	handle, err := env.pipe.SubmitIndex(ctx, "sku-1", "")
	require.NoError(t, err)
	waitForTerminal(t, env.pipe, handle.ID)
	key := ident.DeriveKey("sku-1")
	require.True(t, env.inner.Contains(key))

	// When: the synchronous vector delete fails
	env.vectors.mu.Lock()
	env.vectors.failDeletes = 1
	env.vectors.mu.Unlock()
	require.NoError(t, env.pipe.DeleteItem(ctx, "sku-1"))

	// Then: the metadata delete stands and a compensating task
	// eventually clears the vector record
	_, err = env.metadata.GetItemByExternalID(ctx, "sku-1")
	assert.True(t, vitrineerrors.IsNotFound(err))
	require.Eventually(t, func() bool {
		return !env.inner.Contains(key)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPipeline_DeleteUnknownItem(t *testing.T) {
	env := newTestEnv(t, nil)

	err := env.pipe.DeleteItem(context.Background(), "sku-ghost")
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsNotFound(err))
}

func TestPipeline_ReindexAllSubmitsEveryItem(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.ReindexPageSize = 3
	})
	ctx := context.Background()

	// Given: seven items across multiple pages
	for i := 1; i <= 7; i++ {
		env.createItem(t, fmt.Sprintf("sku-%d", i), fmt.Sprintf("Item %d", i))
	}

	// When: a full reindex is submitted before the workers start
	submitted, err := env.pipe.SubmitReindexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, submitted)
	assert.Equal(t, 7, env.pipe.Stats().Queued)

	// Then: once workers run, every item ends up indexed
	env.start(t)
	require.Eventually(t, func() bool {
		return env.inner.Count() == 7
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPipeline_ReindexAllRefusesConcurrentRun(t *testing.T) {
	env := newTestEnv(t, nil)

	// Given: another process holds the reindex lock
	other := NewReindexLock(env.dir)
	held, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, held)
	defer other.Unlock()

	// Then: a new reindex is refused with a busy error
	_, err = env.pipe.SubmitReindexAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")
	assert.True(t, vitrineerrors.IsRetryable(err))
}

func TestPipeline_ReconcileRepairsDrift(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// Given: one consistent item, one never-indexed item, one stale
	// item, and one orphaned vector record
	consistent := env.createItem(t, "sku-ok", "Consistent")
	env.createItem(t, "sku-missing", "Never Indexed")
	stale := env.createItem(t, "sku-stale", "Stale")

	vec := make([]float32, testDims)
	vec[0] = 1
	upsert := func(externalID string, sourceUpdatedAt int64) {
		key := ident.DeriveKey(externalID)
		require.NoError(t, env.inner.Upsert(ctx, []string{key}, [][]float32{vec}, []*store.RecordPayload{{
			ExternalID:      externalID,
			Title:           externalID,
			SourceUpdatedAt: sourceUpdatedAt,
		}}))
	}
	upsert("sku-ok", consistent.UpdatedAt.UnixNano())
	upsert("sku-stale", stale.UpdatedAt.Add(-time.Minute).UnixNano())
	upsert("sku-ghost", time.Now().UnixNano())

	// When: reconciliation runs with the workers stopped
	report, err := env.pipe.Reconcile(ctx)
	require.NoError(t, err)

	// Then: drifted items are resubmitted and the orphan is purged
	assert.Equal(t, 3, report.ItemsChecked)
	assert.Equal(t, 3, report.VectorsChecked)
	assert.Equal(t, 2, report.Resubmitted)
	assert.Equal(t, 1, report.Purged)
	assert.Equal(t, 0, report.Failures)
	assert.False(t, env.inner.Contains(ident.DeriveKey("sku-ghost")))

	// And: after the workers drain the queue, both stores agree
	env.start(t)
	require.Eventually(t, func() bool {
		okKey := ident.DeriveKey("sku-ok")
		missingKey := ident.DeriveKey("sku-missing")
		staleKey := ident.DeriveKey("sku-stale")
		stalePayload, ok := env.inner.Payload(staleKey)
		if !ok {
			return false
		}
		return env.inner.Contains(okKey) &&
			env.inner.Contains(missingKey) &&
			stalePayload.SourceUpdatedAt == stale.UpdatedAt.UnixNano()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, env.inner.Count())
}

func TestPipeline_ReconcileIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.start(t)
	ctx := context.Background()

	env.createItem(t, "sku-1", "Red Sofa")
	handle, err := env.pipe.SubmitIndex(ctx, "sku-1", "")
	require.NoError(t, err)
	waitForTerminal(t, env.pipe, handle.ID)

	// A consistent catalog reconciles to a no-op, every time.
	for i := 0; i < 2; i++ {
		report, err := env.pipe.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.ItemsChecked)
		assert.Equal(t, 0, report.Resubmitted)
		assert.Equal(t, 0, report.Purged)
	}
}

func TestPipeline_Lifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.pipe.Start(ctx))
	err := env.pipe.Start(ctx)
	require.ErrorContains(t, err, "already running")

	require.NoError(t, env.pipe.Stop())
	require.NoError(t, env.pipe.Stop())

	// A stopped pipeline restarts cleanly and still processes work.
	require.NoError(t, env.pipe.Start(ctx))
	env.createItem(t, "sku-1", "Red Sofa")
	handle, err := env.pipe.SubmitIndex(ctx, "sku-1", "")
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, waitForTerminal(t, env.pipe, handle.ID).State)

	require.NoError(t, env.pipe.Close())
}

func TestPipeline_TaskStatusUnknownID(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.pipe.TaskStatus("no-such-task")
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsNotFound(err))
}

func TestComposeText_FlattensItemFields(t *testing.T) {
	price := 499.99
	item := &store.Item{
		ExternalID:  "sku-1",
		Title:       "Red Sofa",
		Description: "A plush three-seater",
		Category:    "furniture",
		Price:       &price,
		Attributes:  store.Attributes{{Key: "color", Value: "red"}, {Key: "seats", Value: 3}},
	}

	text := composeText(item)
	assert.Contains(t, text, "Red Sofa")
	assert.Contains(t, text, "plush three-seater")
	assert.Contains(t, text, "furniture")
	assert.Contains(t, text, "red")
	assert.Contains(t, text, "3")
	assert.True(t, len(text) > 0 && text[0] == 'R', "title leads the composed text")

	// Sparse items compose without separators for absent fields.
	bare := &store.Item{ExternalID: "sku-2", Title: "Lamp"}
	assert.Equal(t, "Lamp", composeText(bare))
}
