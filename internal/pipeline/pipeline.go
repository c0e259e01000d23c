package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vitrine-search/vitrine/internal/config"
	"github.com/vitrine-search/vitrine/internal/embed"
	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
	"github.com/vitrine-search/vitrine/internal/fetch"
	"github.com/vitrine-search/vitrine/internal/ident"
	"github.com/vitrine-search/vitrine/internal/store"
)

// Fallbacks for zero-valued PipelineConfig fields.
const (
	DefaultQueueCapacity     = 1024
	DefaultMaxAttempts       = 5
	DefaultBackoffInitial    = time.Second
	DefaultBackoffMax        = 2 * time.Minute
	DefaultBackoffMultiplier = 2.0
	DefaultFetchTimeout      = 20 * time.Second
	DefaultEmbedTimeout      = 30 * time.Second
	DefaultUpsertTimeout     = 10 * time.Second
	DefaultReindexPageSize   = 200
)

// Deps wires the pipeline to its collaborators.
type Deps struct {
	// Metadata is the item store. Required.
	Metadata store.MetadataStore

	// Vectors is the vector index. Required.
	Vectors store.VectorIndex

	// Embedder turns item text or asset bytes into vectors. Required.
	Embedder embed.Embedder

	// Fetcher downloads item assets. Optional: when nil, items are
	// embedded from their composed text even if they carry an asset URL.
	Fetcher fetch.Fetcher

	// Config tunes workers, retries and stage timeouts.
	Config config.PipelineConfig

	// DataDir roots the reindex lock file.
	DataDir string
}

// Pipeline owns the task queue and worker pool that keep the vector
// index consistent with the metadata store.
type Pipeline struct {
	metadata store.MetadataStore
	vectors  store.VectorIndex
	embedder embed.Embedder
	fetcher  fetch.Fetcher

	queue    *taskQueue
	registry *registry
	lock     *ReindexLock

	workers       int
	maxAttempts   int
	retry         vitrineerrors.RetryConfig
	fetchTimeout  time.Duration
	embedTimeout  time.Duration
	upsertTimeout time.Duration
	pageSize      int

	submitted    atomic.Int64
	committed    atomic.Int64
	skipped      atomic.Int64
	failed       atomic.Int64
	deadLettered atomic.Int64
	active       atomic.Int64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New validates dependencies and builds a stopped pipeline. Call Start
// to launch the workers.
func New(deps Deps) (*Pipeline, error) {
	if deps.Metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if deps.Vectors == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	cfg := deps.Config
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier < 1 {
		multiplier = DefaultBackoffMultiplier
	}
	pageSize := cfg.ReindexPageSize
	if pageSize <= 0 {
		pageSize = DefaultReindexPageSize
	}

	return &Pipeline{
		metadata: deps.Metadata,
		vectors:  deps.Vectors,
		embedder: deps.Embedder,
		fetcher:  deps.Fetcher,
		queue:    newTaskQueue(capacity),
		registry: newRegistry(defaultRegistryCap),
		lock:     NewReindexLock(deps.DataDir),
		workers:  workers,

		maxAttempts: maxAttempts,
		retry: vitrineerrors.RetryConfig{
			MaxRetries:   maxAttempts - 1,
			InitialDelay: config.Duration(cfg.BackoffInitial, DefaultBackoffInitial),
			MaxDelay:     config.Duration(cfg.BackoffMax, DefaultBackoffMax),
			Multiplier:   multiplier,
			Jitter:       true,
		},
		fetchTimeout:  config.Duration(cfg.FetchTimeout, DefaultFetchTimeout),
		embedTimeout:  config.Duration(cfg.EmbedTimeout, DefaultEmbedTimeout),
		upsertTimeout: config.Duration(cfg.UpsertTimeout, DefaultUpsertTimeout),
		pageSize:      pageSize,
	}, nil
}

// Start launches the worker pool. Workers run until Stop is called or
// ctx is cancelled. Starting a running pipeline is an error.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pipeline already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	workerCtx, cancel := context.WithCancel(ctx)
	stopCh, doneCh := p.stopCh, p.doneCh
	go func() {
		select {
		case <-ctx.Done():
		case <-stopCh:
		}
		cancel()
	}()

	g, gctx := errgroup.WithContext(workerCtx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.workerLoop(gctx)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(doneCh)
	}()

	slog.Info("pipeline_started", slog.Int("workers", p.workers), slog.Int("queue_capacity", cap(p.queue.ch)))
	return nil
}

// Stop shuts the worker pool down and waits for in-flight tasks to
// settle. Queued tasks stay queued and resume on the next Start.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh
	slog.Info("pipeline_stopped")
	return nil
}

// Close stops the workers and shuts the queue down for good.
func (p *Pipeline) Close() error {
	err := p.Stop()
	p.queue.Close()
	if unlockErr := p.lock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}

// SubmitIndex queues an indexing task for the item with the given
// external id. assetURL overrides the item's stored asset for this
// task only; leave it empty to use the item's own. Returns a handle
// for status polling.
func (p *Pipeline) SubmitIndex(ctx context.Context, externalID, assetURL string) (*TaskHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(externalID) == "" {
		return nil, vitrineerrors.ValidationError("external id is required", nil)
	}
	return p.submitTask(KindIndex, externalID, assetURL)
}

// DeleteItem removes the item from the metadata store, then from the
// vector index. The metadata delete is authoritative: if the vector
// delete fails, a compensating task is queued and search meanwhile
// drops hits whose item is gone.
func (p *Pipeline) DeleteItem(ctx context.Context, externalID string) error {
	if strings.TrimSpace(externalID) == "" {
		return vitrineerrors.ValidationError("external id is required", nil)
	}
	item, err := p.metadata.GetItemByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	if err := p.metadata.DeleteItem(ctx, item.InternalID); err != nil {
		return err
	}

	key := ident.DeriveKey(externalID)
	if err := p.vectors.Delete(ctx, []string{key}); err != nil {
		slog.Warn("vector_delete_failed",
			slog.String("external_id", externalID),
			slog.String("error", err.Error()))
		if _, qErr := p.submitTask(KindDelete, externalID, ""); qErr != nil {
			slog.Error("compensating_delete_not_queued",
				slog.String("external_id", externalID),
				slog.String("error", qErr.Error()))
		}
	}
	return nil
}

// SubmitReindexAll queues an indexing task for every item in the
// metadata store. Only one reindex may run at a time, enforced by a
// file lock shared across processes; the lock covers the submission
// pass, not the queue drain. Returns how many tasks were queued.
func (p *Pipeline) SubmitReindexAll(ctx context.Context) (int, error) {
	held, err := p.lock.TryLock()
	if err != nil {
		return 0, err
	}
	if !held {
		return 0, vitrineerrors.New(vitrineerrors.ErrCodeStoreBusy, "a full reindex is already in progress", nil).
			WithSuggestion("wait for the running reindex to finish before starting another")
	}
	defer func() {
		if err := p.lock.Unlock(); err != nil {
			slog.Warn("reindex_lock_release_failed", slog.String("error", err.Error()))
		}
	}()

	submitted := 0
	var failures []error
	// Pages advance by what the store actually returned: the store may
	// cap the requested page size.
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return submitted, err
		}
		items, err := p.metadata.ListItems(ctx, offset, p.pageSize)
		if err != nil {
			return submitted, err
		}
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			if _, err := p.submitTask(KindIndex, item.ExternalID, ""); err != nil {
				failures = append(failures, fmt.Errorf("%s: %w", item.ExternalID, err))
				slog.Warn("reindex_submit_failed",
					slog.String("external_id", item.ExternalID),
					slog.String("error", err.Error()))
				continue
			}
			submitted++
		}
		offset += len(items)
	}

	slog.Info("reindex_submitted", slog.Int("items", submitted), slog.Int("failures", len(failures)))
	if len(failures) > 0 {
		return submitted, errors.Join(failures...)
	}
	return submitted, nil
}

// TaskStatus returns a snapshot of the task with the given id. Tasks
// are tracked in memory; old terminal ones are eventually evicted.
func (p *Pipeline) TaskStatus(id string) (*Task, error) {
	t, ok := p.registry.get(id)
	if !ok {
		return nil, vitrineerrors.NotFoundError(fmt.Sprintf("task %s not found", id), nil).
			WithSuggestion("terminal tasks are evicted over time; check the dead-letter list for failures")
	}
	return t, nil
}

// Stats returns a point-in-time snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted:    p.submitted.Load(),
		Queued:       p.queue.Len(),
		Running:      int(p.active.Load()),
		Committed:    p.committed.Load(),
		Skipped:      p.skipped.Load(),
		Failed:       p.failed.Load(),
		DeadLettered: p.deadLettered.Load(),
	}
}

// RequeueDeadLetter turns a dead letter back into a fresh task with a
// new id and a reset attempt counter, then removes the dead letter.
func (p *Pipeline) RequeueDeadLetter(ctx context.Context, id int64) (*TaskHandle, error) {
	dl, err := p.metadata.GetDeadLetter(ctx, id)
	if err != nil {
		return nil, err
	}

	kind := Kind(dl.Kind)
	if kind != KindIndex && kind != KindDelete {
		kind = KindIndex
	}
	handle, err := p.submitTask(kind, dl.ExternalID, "")
	if err != nil {
		return nil, err
	}
	if err := p.metadata.DeleteDeadLetter(ctx, id); err != nil {
		slog.Warn("dead_letter_cleanup_failed",
			slog.Int64("dead_letter_id", id),
			slog.String("error", err.Error()))
	}
	return handle, nil
}

// submitTask registers a pending task and enqueues it. On a full
// queue the registration is rolled back and the caller gets the
// backpressure error.
func (p *Pipeline) submitTask(kind Kind, externalID, assetURL string) (*TaskHandle, error) {
	now := time.Now()
	t := &Task{
		ID:          ident.NewTaskID(),
		Kind:        kind,
		ExternalID:  externalID,
		AssetURL:    assetURL,
		SubmittedAt: now,
		State:       StatePending,
		UpdatedAt:   now,
	}
	p.registry.add(t)
	if err := p.queue.Enqueue(t); err != nil {
		p.registry.remove(t.ID)
		return nil, err
	}
	p.submitted.Add(1)
	return &TaskHandle{
		ID:          t.ID,
		Kind:        t.Kind,
		ExternalID:  t.ExternalID,
		SubmittedAt: t.SubmittedAt,
	}, nil
}

func (p *Pipeline) workerLoop(ctx context.Context) {
	for {
		t, ok := p.queue.Dequeue(ctx)
		if !ok {
			return
		}
		p.process(ctx, t)
	}
}

// process runs one attempt of a task and decides its fate: commit,
// skip, retry with backoff, or dead-letter.
func (p *Pipeline) process(ctx context.Context, t *Task) {
	p.active.Add(1)
	defer p.active.Add(-1)

	p.registry.update(t.ID, func(task *Task) {
		task.Attempt++
	})

	var err error
	switch t.Kind {
	case KindDelete:
		err = p.runDeleteTask(ctx, t)
	default:
		err = p.runIndexTask(ctx, t)
	}
	if err == nil {
		return
	}

	if ctx.Err() != nil {
		// Shutdown, not a verdict on the task. Reconciliation resubmits
		// whatever was interrupted.
		p.failed.Add(1)
		p.registry.update(t.ID, func(task *Task) {
			task.State = StateFailed
			task.LastError = "interrupted by shutdown"
		})
		return
	}

	if vitrineerrors.IsRetryable(err) && t.Attempt < p.maxAttempts {
		p.failed.Add(1)
		delay := vitrineerrors.BackoffDelay(p.retry, t.Attempt)
		p.registry.update(t.ID, func(task *Task) {
			task.State = StateFailed
			task.LastError = err.Error()
		})
		slog.Warn("task_retry_scheduled",
			slog.String("task_id", t.ID),
			slog.String("external_id", t.ExternalID),
			slog.Int("attempt", t.Attempt),
			slog.Int("max_attempts", p.maxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		p.queue.EnqueueDelayed(t, delay)
		return
	}

	p.deadLetter(ctx, t, err)
}

func (p *Pipeline) runIndexTask(ctx context.Context, t *Task) error {
	p.setState(t, StateEmbedding)

	item, err := p.metadata.GetItemByExternalID(ctx, t.ExternalID)
	if err != nil {
		if vitrineerrors.IsNotFound(err) {
			p.finish(t, StateSkipped, "item deleted before indexing")
			return nil
		}
		return err
	}

	key := ident.DeriveKey(item.ExternalID)
	sourceUpdatedAt := item.UpdatedAt.UnixNano()
	if committed, ok := p.vectors.Payload(key); ok && committed.SourceUpdatedAt > sourceUpdatedAt {
		// The index already holds a newer snapshot; embedding this one
		// would be wasted work and the store would discard it anyway.
		p.finish(t, StateSkipped, "a newer snapshot is already indexed")
		return nil
	}

	vector, err := p.embedItem(ctx, t, item)
	if err != nil {
		return err
	}

	p.setState(t, StateUpserting)
	upsertCtx, cancel := context.WithTimeout(ctx, p.upsertTimeout)
	defer cancel()
	payload := &store.RecordPayload{
		ExternalID:      item.ExternalID,
		Title:           item.Title,
		Category:        item.Category,
		SourceUpdatedAt: sourceUpdatedAt,
	}
	err = p.vectors.Upsert(upsertCtx, []string{key}, [][]float32{vector}, []*store.RecordPayload{payload})
	if err != nil {
		return stageErr(ctx, upsertCtx, err)
	}

	p.finish(t, StateCommitted, "")
	slog.Debug("task_committed",
		slog.String("task_id", t.ID),
		slog.String("external_id", t.ExternalID),
		slog.Int("attempt", t.Attempt))
	return nil
}

func (p *Pipeline) runDeleteTask(ctx context.Context, t *Task) error {
	p.setState(t, StateUpserting)

	deleteCtx, cancel := context.WithTimeout(ctx, p.upsertTimeout)
	defer cancel()
	key := ident.DeriveKey(t.ExternalID)
	if err := p.vectors.Delete(deleteCtx, []string{key}); err != nil {
		return stageErr(ctx, deleteCtx, err)
	}

	p.finish(t, StateCommitted, "")
	return nil
}

// embedItem produces the item's vector: from its asset when one is
// available and a fetcher is wired, from its composed text otherwise.
func (p *Pipeline) embedItem(ctx context.Context, t *Task, item *store.Item) ([]float32, error) {
	assetURL := t.AssetURL
	if assetURL == "" {
		assetURL = item.AssetURL
	}

	if assetURL != "" && p.fetcher != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
		data, err := p.fetcher.Fetch(fetchCtx, assetURL)
		cancel()
		if err != nil {
			return nil, stageErr(ctx, fetchCtx, err)
		}

		embedCtx, cancel := context.WithTimeout(ctx, p.embedTimeout)
		defer cancel()
		vector, err := p.embedder.EmbedImage(embedCtx, data)
		if err != nil {
			return nil, stageErr(ctx, embedCtx, err)
		}
		return vector, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, p.embedTimeout)
	defer cancel()
	vector, err := p.embedder.Embed(embedCtx, composeText(item))
	if err != nil {
		return nil, stageErr(ctx, embedCtx, err)
	}
	return vector, nil
}

func (p *Pipeline) setState(t *Task, s State) {
	p.registry.update(t.ID, func(task *Task) {
		task.State = s
	})
}

// finish marks a terminal success or skip. The detail lands in the
// task's LastError field so status polling can show why a task was
// skipped.
func (p *Pipeline) finish(t *Task, s State, detail string) {
	p.registry.update(t.ID, func(task *Task) {
		task.State = s
		task.LastError = detail
	})
	switch s {
	case StateCommitted:
		p.committed.Add(1)
	case StateSkipped:
		p.skipped.Add(1)
	}
}

func (p *Pipeline) deadLetter(ctx context.Context, t *Task, cause error) {
	dl := &store.DeadLetter{
		TaskID:     t.ID,
		ExternalID: t.ExternalID,
		Kind:       string(t.Kind),
		Attempts:   t.Attempt,
		LastError:  cause.Error(),
	}
	if err := p.metadata.SaveDeadLetter(ctx, dl); err != nil {
		slog.Error("dead_letter_save_failed",
			slog.String("task_id", t.ID),
			slog.String("external_id", t.ExternalID),
			slog.String("error", err.Error()))
	}
	p.deadLettered.Add(1)
	p.registry.update(t.ID, func(task *Task) {
		task.State = StateDeadLettered
		task.LastError = cause.Error()
	})
	slog.Warn("task_dead_lettered",
		slog.String("task_id", t.ID),
		slog.String("external_id", t.ExternalID),
		slog.String("kind", string(t.Kind)),
		slog.Int("attempts", t.Attempt),
		slog.String("error", cause.Error()))
}

// stageErr maps a stage deadline to a retryable failure. A timeout on
// one stage says nothing final about the item, so the scheduler backs
// off and tries again. Cancellation of the worker itself passes
// through untouched.
func stageErr(parent, stage context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && stage.Err() != nil && parent.Err() == nil {
		return vitrineerrors.New(vitrineerrors.ErrCodeNetworkTimeout, "stage deadline exceeded", err)
	}
	return err
}

// composeText flattens an item into the text that stands in for it in
// the embedding space when no asset is used: title first, then
// description, category and attribute values.
func composeText(item *store.Item) string {
	var b strings.Builder
	b.WriteString(item.Title)
	if item.Description != "" {
		b.WriteString("\n")
		b.WriteString(item.Description)
	}
	if item.Category != "" {
		b.WriteString("\n")
		b.WriteString(item.Category)
	}
	for _, attr := range item.Attributes {
		b.WriteString("\n")
		b.WriteString(attr.Key)
		b.WriteString(" ")
		b.WriteString(fmt.Sprintf("%v", attr.Value))
	}
	return b.String()
}
