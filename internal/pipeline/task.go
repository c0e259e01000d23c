// Package pipeline runs asynchronous catalog indexing: units of work
// flow from submission through embedding and vector upsert with
// bounded retries, and exhausted units land in the dead-letter table
// for explicit operator intervention. Deterministic vector keys make
// duplicate delivery harmless, and a monotonic source timestamp fences
// stale snapshots from overwriting newer ones.
package pipeline

import (
	"sync"
	"time"
)

// Kind discriminates what a unit of work does.
type Kind string

const (
	// KindIndex embeds an item and upserts its vector record.
	KindIndex Kind = "index"

	// KindDelete removes an item's vector record.
	KindDelete Kind = "delete"
)

// State is a task's position in its lifecycle.
type State string

const (
	// StatePending means queued, not yet picked up by a worker.
	StatePending State = "pending"

	// StateEmbedding means resolving the item and generating its vector.
	StateEmbedding State = "embedding"

	// StateUpserting means writing to the vector index.
	StateUpserting State = "upserting"

	// StateCommitted is terminal success.
	StateCommitted State = "committed"

	// StateSkipped is terminal: the unit was stale when it ran, either
	// the item no longer exists or a newer snapshot already committed.
	// Skipped units write nothing.
	StateSkipped State = "skipped"

	// StateFailed means a transient failure occurred and a retry is
	// scheduled.
	StateFailed State = "failed"

	// StateDeadLettered is terminal: retries are exhausted or the
	// failure was permanent. Requires an explicit requeue.
	StateDeadLettered State = "dead_lettered"
)

// Terminal reports whether the state can no longer change.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateSkipped || s == StateDeadLettered
}

// Task is one unit of indexing work.
type Task struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	ExternalID  string    `json:"external_id"`
	AssetURL    string    `json:"asset_url,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	// Attempt counts runs, incremented when a worker picks the task up.
	Attempt   int       `json:"attempt"`
	State     State     `json:"state"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// clone returns a copy safe to hand outside the registry lock.
func (t *Task) clone() *Task {
	c := *t
	return &c
}

// TaskHandle is returned on submission for later status lookup.
type TaskHandle struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	ExternalID  string    `json:"external_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Stats is a point-in-time snapshot of pipeline counters. Submitted,
// Committed, Skipped, Failed and DeadLettered are monotonic; Queued
// and Running are gauges.
type Stats struct {
	Submitted    int64 `json:"submitted"`
	Queued       int   `json:"queued"`
	Running      int   `json:"running"`
	Committed    int64 `json:"committed"`
	Skipped      int64 `json:"skipped"`
	Failed       int64 `json:"failed"`
	DeadLettered int64 `json:"dead_lettered"`
}

// defaultRegistryCap bounds how many tasks the in-memory registry
// retains before terminal entries are evicted oldest-first.
const defaultRegistryCap = 10000

// registry tracks task state in memory for status lookups. Active
// tasks are never evicted; terminal ones go oldest-first once the cap
// is exceeded.
type registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
	cap   int
}

func newRegistry(capacity int) *registry {
	if capacity <= 0 {
		capacity = defaultRegistryCap
	}
	return &registry{
		tasks: make(map[string]*Task),
		cap:   capacity,
	}
}

func (r *registry) add(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = t
	r.order = append(r.order, t.ID)
	r.evictLocked()
}

func (r *registry) get(id string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// update applies fn to the task under the lock and stamps UpdatedAt.
func (r *registry) update(id string, fn func(*Task)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return
	}
	fn(t)
	t.UpdatedAt = time.Now()
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// evictLocked drops the oldest terminal tasks until the registry fits
// its cap. Must be called with the write lock held.
func (r *registry) evictLocked() {
	if len(r.tasks) <= r.cap {
		return
	}

	kept := r.order[:0]
	excess := len(r.tasks) - r.cap
	for _, id := range r.order {
		t, ok := r.tasks[id]
		if !ok {
			continue
		}
		if excess > 0 && t.State.Terminal() {
			delete(r.tasks, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}
