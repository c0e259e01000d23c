// Package store provides metadata persistence (SQLite) and the vector
// index (HNSW). This is the persistence layer for all catalog data.
package store

import (
	"context"
	"fmt"
	"time"
)

// Query kinds recorded in search events.
const (
	QueryKindText    = "text"
	QueryKindImage   = "image"
	QueryKindSimilar = "similar_item"
)

// Distance metrics for the vector index.
const (
	MetricCosine = "cosine"
	MetricL2     = "l2"
)

// Item is one catalog entry. ExternalID is the caller-supplied identity
// and never changes; InternalID is assigned by the store on create and
// orders pagination.
type Item struct {
	InternalID  int64      `json:"internal_id"`
	ExternalID  string     `json:"external_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category,omitempty"`
	Price       *float64   `json:"price,omitempty"`
	Currency    string     `json:"currency,omitempty"`
	AssetURL    string     `json:"asset_url,omitempty"`
	Attributes  Attributes `json:"attributes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ItemPatch is a partial update. Nil fields are left untouched;
// InternalID and ExternalID are not settable.
type ItemPatch struct {
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	Category    *string     `json:"category,omitempty"`
	Price       *float64    `json:"price,omitempty"`
	Currency    *string     `json:"currency,omitempty"`
	AssetURL    *string     `json:"asset_url,omitempty"`
	Attributes  *Attributes `json:"attributes,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p ItemPatch) IsZero() bool {
	return p.Title == nil && p.Description == nil && p.Category == nil &&
		p.Price == nil && p.Currency == nil && p.AssetURL == nil && p.Attributes == nil
}

// SearchEvent is the append-only record of one search invocation.
// Events are never updated or deleted.
type SearchEvent struct {
	ID          int64     `json:"id"`
	QueryKind   string    `json:"query_kind"`
	QueryText   string    `json:"query_text,omitempty"`
	ReferenceID string    `json:"reference_id,omitempty"`
	TopScore    *float64  `json:"top_score,omitempty"`
	ResultCount int       `json:"result_count"`
	LatencyMS   int64     `json:"latency_ms"`
	SessionID   string    `json:"session_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SearchEventStats aggregates the search log for the stats surfaces.
type SearchEventStats struct {
	TotalSearches      int            `json:"total_searches"`
	ByKind             map[string]int `json:"by_kind"`
	AvgLatencyMS       float64        `json:"avg_latency_ms"`
	AvgResultCount     float64        `json:"avg_result_count"`
	ZeroResultSearches int            `json:"zero_result_searches"`
}

// CategoryCount is one row of the per-category item breakdown.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// DeadLetter is a unit of indexing work that exhausted its retries.
// Terminal until explicitly requeued.
type DeadLetter struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"task_id"`
	ExternalID string    `json:"external_id"`
	Kind       string    `json:"kind"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
	CreatedAt  time.Time `json:"created_at"`
}

// MetadataConfig tunes the SQLite metadata store.
type MetadataConfig struct {
	// DefaultPageSize is used when ListItems gets limit 0.
	DefaultPageSize int
	// MaxPageSize caps the limit of a single page.
	MaxPageSize int
	// CacheMB is the SQLite page cache in megabytes.
	CacheMB int
	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout time.Duration
}

// DefaultMetadataConfig returns the store defaults.
func DefaultMetadataConfig() MetadataConfig {
	return MetadataConfig{
		DefaultPageSize: 20,
		MaxPageSize:     100,
		CacheMB:         64,
		BusyTimeout:     5 * time.Second,
	}
}

// MetadataStore persists items, the search log, and dead letters.
// Every operation runs in its own transaction; nothing here ever spans
// a vector index call.
type MetadataStore interface {
	// CreateItem inserts a new item, assigning InternalID and both
	// timestamps. Fails with a conflict error when the external id
	// already exists and a validation error before any write when the
	// item is malformed.
	CreateItem(ctx context.Context, item *Item) error
	GetItemByInternalID(ctx context.Context, internalID int64) (*Item, error)
	GetItemByExternalID(ctx context.Context, externalID string) (*Item, error)
	// ListItems returns items ordered by InternalID ascending. Offset
	// and limit must be non-negative; limit 0 means the default page
	// size and larger limits are capped at the configured maximum.
	ListItems(ctx context.Context, offset, limit int) ([]*Item, error)
	// ListItemsByCategory is ListItems restricted to one category.
	ListItemsByCategory(ctx context.Context, category string, offset, limit int) ([]*Item, error)
	CountItems(ctx context.Context) (int, error)
	CategoryCounts(ctx context.Context, limit int) ([]CategoryCount, error)
	// UpdateItem applies the patch to settable fields and refreshes
	// UpdatedAt. Returns the updated item.
	UpdateItem(ctx context.Context, internalID int64, patch ItemPatch) (*Item, error)
	// DeleteItem is a hard delete. The caller owes the vector index a
	// compensating delete; the two are never transactional.
	DeleteItem(ctx context.Context, internalID int64) error

	// LogSearch appends one search event.
	LogSearch(ctx context.Context, event *SearchEvent) error
	ListSearchEvents(ctx context.Context, limit int) ([]*SearchEvent, error)
	GetSearchEventStats(ctx context.Context, since time.Time) (*SearchEventStats, error)

	SaveDeadLetter(ctx context.Context, dl *DeadLetter) error
	ListDeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error)
	GetDeadLetter(ctx context.Context, id int64) (*DeadLetter, error)
	DeleteDeadLetter(ctx context.Context, id int64) error
	CountDeadLetters(ctx context.Context) (int, error)

	Close() error
}

// RecordPayload is the denormalized slice of an Item stored next to its
// vector, enough to rank and reconcile without a metadata join.
type RecordPayload struct {
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	Category   string `json:"category,omitempty"`
	// SourceUpdatedAt is the item's UpdatedAt in unix nanoseconds at
	// the moment this record was built. Upsert discards a record whose
	// value is older than the committed one, so a stale embedding can
	// never overwrite a newer one. Zero bypasses the check.
	SourceUpdatedAt int64 `json:"source_updated_at"`
}

// SearchHit is one vector search result, best first.
type SearchHit struct {
	Key      string         `json:"key"`
	Score    float32        `json:"score"`
	Distance float32        `json:"distance"`
	Payload  *RecordPayload `json:"payload,omitempty"`
}

// CollectionStats describes the vector collection.
type CollectionStats struct {
	Records    int    `json:"records"`
	GraphNodes int    `json:"graph_nodes"`
	Orphans    int    `json:"orphans"`
	Dimensions int    `json:"dimensions"`
	Metric     string `json:"metric"`
}

// VectorIndexConfig configures the HNSW index.
type VectorIndexConfig struct {
	// Dimensions is the fixed embedding width for the collection.
	Dimensions int
	// Metric is MetricCosine or MetricL2.
	Metric string
	// M is the HNSW connectivity parameter.
	M int
	// EfSearch is the query-time beam width.
	EfSearch int
	// ChunkSize bounds how many records one upsert chunk commits.
	ChunkSize int
}

// DefaultVectorIndexConfig returns defaults for the given width.
func DefaultVectorIndexConfig(dimensions int) VectorIndexConfig {
	return VectorIndexConfig{
		Dimensions: dimensions,
		Metric:     MetricCosine,
		M:          16,
		EfSearch:   64,
		ChunkSize:  128,
	}
}

// VectorIndex stores one vector plus payload per key and answers
// similarity queries. Keys are the Identifier Mapper's derived keys.
type VectorIndex interface {
	// EnsureCollection is idempotent: a no-op when the collection
	// already matches, a schema mismatch error when dimensions or
	// metric differ from the existing collection.
	EnsureCollection(ctx context.Context, dimensions int, metric string) error
	// Upsert fully replaces the records at the given keys. The three
	// slices are parallel and must have equal length (validation error
	// before any write). Input is committed in chunks; when a chunk
	// fails the returned *BatchError reports how many chunks were
	// already committed.
	Upsert(ctx context.Context, keys []string, vectors [][]float32, payloads []*RecordPayload) error
	// Delete removes records by key. Unknown keys are ignored.
	Delete(ctx context.Context, keys []string) error
	// Search returns at most topK hits ordered by descending score,
	// filtered to score >= scoreThreshold. Empty results are valid.
	Search(ctx context.Context, query []float32, topK int, scoreThreshold float32) ([]*SearchHit, error)
	// Vector returns the stored vector for a key. For cosine
	// collections the stored vector is unit-normalized.
	Vector(key string) ([]float32, bool)
	Payload(key string) (*RecordPayload, bool)
	Contains(key string) bool
	// Keys returns a snapshot of all live record keys, unordered.
	Keys() []string
	Count() int
	CollectionStats() *CollectionStats
	// Compact rebuilds the graph without lazily deleted nodes.
	Compact() error

	Save(path string) error
	Load(path string) error
	Close() error
}

// BatchError reports a partially applied batch upsert: chunks before
// ChunkIndex are committed and stay committed, nothing at or after it
// was written. Retrying the whole batch is safe because keys are
// deterministic and upsert replaces.
type BatchError struct {
	// ChunkIndex is the zero-based index of the failing chunk.
	ChunkIndex int
	// TotalChunks is how many chunks the batch was split into.
	TotalChunks int
	// CommittedChunks counts fully committed chunks.
	CommittedChunks int
	// CommittedRecords counts records in those chunks.
	CommittedRecords int
	// Err is the failing chunk's error.
	Err error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("upsert chunk %d of %d failed after %d committed chunks (%d records): %v",
		e.ChunkIndex+1, e.TotalChunks, e.CommittedChunks, e.CommittedRecords, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
