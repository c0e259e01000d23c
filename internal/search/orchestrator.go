package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vitrine-search/vitrine/internal/config"
	"github.com/vitrine-search/vitrine/internal/embed"
	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
	"github.com/vitrine-search/vitrine/internal/fetch"
	"github.com/vitrine-search/vitrine/internal/ident"
	"github.com/vitrine-search/vitrine/internal/store"
	"github.com/vitrine-search/vitrine/internal/telemetry"
)

// Fallbacks for zero-valued SearchConfig fields.
const (
	DefaultTopK         = 10
	DefaultMaxTopK      = 100
	DefaultMaxQueryLen  = 512
	DefaultEmbedTimeout = 10 * time.Second
)

// Orchestrator coordinates query embedding, the vector search, and the
// join back to authoritative items.
type Orchestrator struct {
	metadata store.MetadataStore
	vectors  store.VectorIndex
	embedder embed.Embedder
	fetcher  fetch.Fetcher
	metrics  *telemetry.SearchMetrics

	defaultTopK      int
	maxTopK          int
	defaultThreshold float64
	maxQueryLength   int
	embedTimeout     time.Duration
}

// Option configures optional orchestrator collaborators.
type Option func(*Orchestrator)

// WithFetcher enables image queries given by URL instead of raw bytes.
func WithFetcher(f fetch.Fetcher) Option {
	return func(o *Orchestrator) {
		o.fetcher = f
	}
}

// WithMetrics mirrors every logged search event into an in-memory
// analytics collector.
func WithMetrics(m *telemetry.SearchMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator validates dependencies and applies config defaults.
func NewOrchestrator(
	metadata store.MetadataStore,
	vectors store.VectorIndex,
	embedder embed.Embedder,
	cfg config.SearchConfig,
	opts ...Option,
) (*Orchestrator, error) {
	if metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if vectors == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	o := &Orchestrator{
		metadata:         metadata,
		vectors:          vectors,
		embedder:         embedder,
		defaultTopK:      cfg.DefaultTopK,
		maxTopK:          cfg.MaxTopK,
		defaultThreshold: cfg.DefaultScoreThreshold,
		maxQueryLength:   cfg.MaxQueryLength,
		embedTimeout:     config.Duration(cfg.EmbedTimeout, DefaultEmbedTimeout),
	}
	if o.defaultTopK <= 0 {
		o.defaultTopK = DefaultTopK
	}
	if o.maxTopK <= 0 {
		o.maxTopK = DefaultMaxTopK
	}
	if o.maxQueryLength <= 0 {
		o.maxQueryLength = DefaultMaxQueryLen
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Search runs one query end to end. Every invocation with a known
// kind appends exactly one event to the search log, including
// validation failures and zero-result queries; append failures are
// logged, never returned. An unknown kind is rejected before logging
// because the log schema enumerates the kinds.
func (o *Orchestrator) Search(ctx context.Context, q Query) (*Results, error) {
	start := time.Now()

	q.Kind = normalizeKind(q.Kind)
	q.Text = strings.TrimSpace(q.Text)
	if err := validKind(q.Kind); err != nil {
		return nil, err
	}

	event := &store.SearchEvent{
		QueryKind:   q.Kind,
		QueryText:   q.Text,
		ReferenceID: q.ReferenceID,
		SessionID:   q.SessionID,
		UserID:      q.UserID,
		CreatedAt:   start,
	}
	defer func() {
		event.LatencyMS = time.Since(start).Milliseconds()
		if err := o.metadata.LogSearch(ctx, event); err != nil {
			slog.Warn("search_event_log_failed",
				slog.String("kind", event.QueryKind),
				slog.String("error", err.Error()))
		}
		if o.metrics != nil {
			o.metrics.Record(event)
		}
	}()

	topK, threshold, err := o.applyDefaults(&q)
	if err != nil {
		return nil, err
	}

	vector, err := o.resolveVector(ctx, &q)
	if err != nil {
		return nil, err
	}

	hits, err := o.vectors.Search(ctx, vector, topK, float32(threshold))
	if err != nil {
		return nil, err
	}

	results, err := o.joinItems(ctx, hits)
	if err != nil {
		return nil, err
	}

	event.ResultCount = len(results)
	if len(results) > 0 {
		top := float64(results[0].Score)
		event.TopScore = &top
	}

	return &Results{
		Kind:      q.Kind,
		Hits:      results,
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

func normalizeKind(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return store.QueryKindText
	}
	return kind
}

func validKind(kind string) error {
	switch kind {
	case store.QueryKindText, store.QueryKindImage, store.QueryKindSimilar:
		return nil
	default:
		return vitrineerrors.ValidationError(
			fmt.Sprintf("unknown query kind %q", kind), nil).
			WithSuggestion(fmt.Sprintf("use %q, %q or %q",
				store.QueryKindText, store.QueryKindImage, store.QueryKindSimilar))
	}
}

// applyDefaults validates the query and resolves TopK and the score
// threshold against the configured bounds.
func (o *Orchestrator) applyDefaults(q *Query) (topK int, threshold float64, err error) {
	switch q.Kind {
	case store.QueryKindText:
		if q.Text == "" {
			return 0, 0, vitrineerrors.ValidationError("query text is required", nil)
		}
		if len(q.Text) > o.maxQueryLength {
			return 0, 0, vitrineerrors.ValidationError(
				fmt.Sprintf("query text exceeds %d characters", o.maxQueryLength), nil)
		}
	case store.QueryKindImage:
		if len(q.ImageData) == 0 && q.ImageURL == "" {
			return 0, 0, vitrineerrors.ValidationError("image queries need image data or an image url", nil)
		}
		if len(q.ImageData) == 0 && o.fetcher == nil {
			return 0, 0, vitrineerrors.InternalError("image url queries need an asset fetcher", nil).
				WithSuggestion("send the image bytes directly or enable asset fetching")
		}
	case store.QueryKindSimilar:
		if strings.TrimSpace(q.ReferenceID) == "" {
			return 0, 0, vitrineerrors.ValidationError("similar-item queries need a reference id", nil)
		}
	}

	topK = q.TopK
	switch {
	case topK < 0:
		return 0, 0, vitrineerrors.ValidationError("top_k must not be negative", nil)
	case topK == 0:
		topK = o.defaultTopK
	case topK > o.maxTopK:
		topK = o.maxTopK
	}

	threshold = q.ScoreThreshold
	if threshold < 0 || threshold > 1 {
		return 0, 0, vitrineerrors.ValidationError("score_threshold must be within [0,1]", nil)
	}
	if threshold == 0 {
		threshold = o.defaultThreshold
	}
	return topK, threshold, nil
}

// resolveVector produces the query vector for each kind: embed the
// text, embed the image bytes (fetching them first when only a URL was
// given), or look up the reference item's stored vector.
func (o *Orchestrator) resolveVector(ctx context.Context, q *Query) ([]float32, error) {
	switch q.Kind {
	case store.QueryKindImage:
		data := q.ImageData
		if len(data) == 0 {
			fetched, err := o.fetcher.Fetch(ctx, q.ImageURL)
			if err != nil {
				return nil, err
			}
			data = fetched
		}
		embedCtx, cancel := context.WithTimeout(ctx, o.embedTimeout)
		defer cancel()
		return o.embedder.EmbedImage(embedCtx, data)

	case store.QueryKindSimilar:
		key := ident.DeriveKey(q.ReferenceID)
		vector, ok := o.vectors.Vector(key)
		if !ok {
			return nil, vitrineerrors.NotFoundError(
				fmt.Sprintf("item %s is not indexed", q.ReferenceID), nil).
				WithSuggestion("submit the item for indexing and retry after it commits")
		}
		return vector, nil

	default:
		embedCtx, cancel := context.WithTimeout(ctx, o.embedTimeout)
		defer cancel()
		return o.embedder.Embed(embedCtx, q.Text)
	}
}

// joinItems re-fetches the authoritative item for every hit. A hit
// whose item has vanished is dropped without an error: the stores are
// eventually consistent and reconciliation purges the record later.
func (o *Orchestrator) joinItems(ctx context.Context, hits []*store.SearchHit) ([]*Result, error) {
	results := make([]*Result, 0, len(hits))
	for _, hit := range hits {
		if hit.Payload == nil || hit.Payload.ExternalID == "" {
			continue
		}
		item, err := o.metadata.GetItemByExternalID(ctx, hit.Payload.ExternalID)
		if err != nil {
			if vitrineerrors.IsNotFound(err) {
				slog.Debug("dropped hit for vanished item",
					slog.String("external_id", hit.Payload.ExternalID),
					slog.String("key", hit.Key))
				continue
			}
			return nil, err
		}
		results = append(results, &Result{
			Item:     item,
			Score:    hit.Score,
			Distance: hit.Distance,
		})
	}
	return results, nil
}
