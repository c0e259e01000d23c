package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
)

// HNSWIndex implements VectorIndex on coder/hnsw, a pure Go HNSW graph
// (no CGO). Deletes are lazy: the node stays in the graph but loses its
// key mapping, so it never appears in results. Compact rebuilds the
// graph when orphans accumulate.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorIndexConfig

	// Record key <-> graph key mapping.
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	payloads map[string]*RecordPayload

	closed bool

	// chunkHook, when set, runs before each chunk commit. Tests use it
	// to inject chunk failures.
	chunkHook func(chunkIndex int) error
}

var _ VectorIndex = (*HNSWIndex)(nil)

// hnswSidecar persists everything the graph export does not carry.
type hnswSidecar struct {
	IDMap    map[string]uint64
	NextKey  uint64
	Config   VectorIndexConfig
	Payloads map[string]*RecordPayload
}

// NewHNSWIndex creates an empty index. Dimensions may be zero; the
// collection is then created by EnsureCollection or Load before the
// first upsert.
func NewHNSWIndex(cfg VectorIndexConfig) (*HNSWIndex, error) {
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if cfg.Metric != MetricCosine && cfg.Metric != MetricL2 {
		return nil, vitrineerrors.ValidationError(
			fmt.Sprintf("unknown distance metric %q", cfg.Metric), nil)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 128
	}

	return &HNSWIndex{
		graph:    newGraph(cfg),
		config:   cfg,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		payloads: make(map[string]*RecordPayload),
	}, nil
}

func newGraph(cfg VectorIndexConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case MetricL2:
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	return graph
}

// EnsureCollection creates the collection on first call and is a no-op
// when dimensions and metric already match. A mismatch is fatal; the
// index must be rebuilt, not silently reshaped.
func (s *HNSWIndex) EnsureCollection(ctx context.Context, dimensions int, metric string) error {
	if dimensions <= 0 {
		return vitrineerrors.ValidationError("dimensions must be positive", nil)
	}
	if metric != MetricCosine && metric != MetricL2 {
		return vitrineerrors.ValidationError(
			fmt.Sprintf("unknown distance metric %q", metric), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vitrineerrors.StoreError("vector index is closed", nil)
	}

	if s.config.Dimensions == 0 {
		s.config.Dimensions = dimensions
		if s.config.Metric != metric {
			s.config.Metric = metric
			s.graph = newGraph(s.config)
		}
		return nil
	}

	if s.config.Dimensions != dimensions || s.config.Metric != metric {
		return vitrineerrors.SchemaMismatchError(
			fmt.Sprintf("collection has dimensions=%d metric=%s, requested dimensions=%d metric=%s",
				s.config.Dimensions, s.config.Metric, dimensions, metric), nil).
			WithSuggestion("run a full reindex to rebuild the vector index with the new schema")
	}
	return nil
}

// Upsert fully replaces the records at the given keys. All validation
// runs before the first write; after that, records are committed in
// chunks of config.ChunkSize and a failure reports how far the batch
// got as a *BatchError. A record older than the committed one (by
// payload SourceUpdatedAt) is discarded as a successful no-op.
func (s *HNSWIndex) Upsert(ctx context.Context, keys []string, vectors [][]float32, payloads []*RecordPayload) error {
	if len(keys) != len(vectors) || len(keys) != len(payloads) {
		return vitrineerrors.ValidationError(
			fmt.Sprintf("parallel slices differ in length: %d keys, %d vectors, %d payloads",
				len(keys), len(vectors), len(payloads)), nil)
	}
	if len(keys) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vitrineerrors.StoreError("vector index is closed", nil)
	}
	if s.config.Dimensions == 0 {
		return vitrineerrors.SchemaMismatchError("collection has not been created", nil).
			WithSuggestion("call EnsureCollection before the first upsert")
	}

	for i, key := range keys {
		if key == "" {
			return vitrineerrors.ValidationError(
				fmt.Sprintf("record %d has an empty key", i), nil)
		}
		if len(vectors[i]) != s.config.Dimensions {
			return vitrineerrors.New(vitrineerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("record %d has %d dimensions, collection expects %d",
					i, len(vectors[i]), s.config.Dimensions), nil)
		}
	}

	chunkSize := s.config.ChunkSize
	totalChunks := (len(keys) + chunkSize - 1) / chunkSize
	committedRecords := 0

	for chunk := 0; chunk < totalChunks; chunk++ {
		start := chunk * chunkSize
		end := min(start+chunkSize, len(keys))

		if err := ctx.Err(); err != nil {
			return &BatchError{
				ChunkIndex:       chunk,
				TotalChunks:      totalChunks,
				CommittedChunks:  chunk,
				CommittedRecords: committedRecords,
				Err:              err,
			}
		}
		if s.chunkHook != nil {
			if err := s.chunkHook(chunk); err != nil {
				return &BatchError{
					ChunkIndex:       chunk,
					TotalChunks:      totalChunks,
					CommittedChunks:  chunk,
					CommittedRecords: committedRecords,
					Err:              err,
				}
			}
		}

		for i := start; i < end; i++ {
			s.upsertOne(keys[i], vectors[i], payloads[i])
		}
		committedRecords += end - start
	}

	return nil
}

// upsertOne applies a single record under the write lock.
func (s *HNSWIndex) upsertOne(key string, vector []float32, payload *RecordPayload) {
	if existing, ok := s.payloads[key]; ok && payload != nil &&
		payload.SourceUpdatedAt > 0 && existing.SourceUpdatedAt > payload.SourceUpdatedAt {
		slog.Debug("discarded stale vector record",
			slog.String("key", key),
			slog.Int64("committed", existing.SourceUpdatedAt),
			slog.Int64("incoming", payload.SourceUpdatedAt))
		return
	}

	// Lazy deletion of the replaced node. Never graph.Delete: removing
	// the last node corrupts the coder/hnsw graph.
	if existingKey, exists := s.idMap[key]; exists {
		delete(s.keyMap, existingKey)
		delete(s.idMap, key)
	}

	graphKey := s.nextKey
	s.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	if s.config.Metric == MetricCosine {
		normalizeVectorInPlace(vec)
	}

	s.graph.Add(hnsw.MakeNode(graphKey, vec))
	s.idMap[key] = graphKey
	s.keyMap[graphKey] = key
	if payload != nil {
		s.payloads[key] = payload
	} else {
		delete(s.payloads, key)
	}
}

// Delete removes records by key. Unknown keys are ignored.
func (s *HNSWIndex) Delete(ctx context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vitrineerrors.StoreError("vector index is closed", nil)
	}

	for _, key := range keys {
		if graphKey, exists := s.idMap[key]; exists {
			delete(s.keyMap, graphKey)
			delete(s.idMap, key)
			delete(s.payloads, key)
		}
	}
	return nil
}

// Search returns at most topK live records ordered by descending
// score, filtered to score >= scoreThreshold. The graph is over-queried
// by the current orphan count so lazy-deleted nodes cannot crowd out
// live ones.
func (s *HNSWIndex) Search(ctx context.Context, query []float32, topK int, scoreThreshold float32) ([]*SearchHit, error) {
	if topK <= 0 {
		return nil, vitrineerrors.ValidationError("top_k must be positive", nil)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, vitrineerrors.StoreError("vector index is closed", nil)
	}
	if s.config.Dimensions == 0 {
		return nil, vitrineerrors.SchemaMismatchError("collection has not been created", nil)
	}
	if len(query) != s.config.Dimensions {
		return nil, vitrineerrors.New(vitrineerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("query has %d dimensions, collection expects %d",
				len(query), s.config.Dimensions), nil)
	}

	if s.graph.Len() == 0 {
		return []*SearchHit{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	if s.config.Metric == MetricCosine {
		normalizeVectorInPlace(normalized)
	}

	fetch := topK + (s.graph.Len() - len(s.idMap))
	if fetch > s.graph.Len() {
		fetch = s.graph.Len()
	}

	nodes := s.graph.Search(normalized, fetch)

	hits := make([]*SearchHit, 0, topK)
	for _, node := range nodes {
		key, live := s.keyMap[node.Key]
		if !live {
			continue
		}
		distance := s.graph.Distance(normalized, node.Value)
		score := distanceToScore(distance, s.config.Metric)
		if score < scoreThreshold {
			continue
		}
		hits = append(hits, &SearchHit{
			Key:      key,
			Score:    score,
			Distance: distance,
			Payload:  s.payloads[key],
		})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

// Vector returns a copy of the stored vector for a key. For cosine
// collections the copy is the unit-normalized form.
func (s *HNSWIndex) Vector(key string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false
	}

	graphKey, exists := s.idMap[key]
	if !exists {
		return nil, false
	}
	vec, ok := s.graph.Lookup(graphKey)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// Payload returns the committed payload for a key.
func (s *HNSWIndex) Payload(key string) (*RecordPayload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false
	}
	payload, exists := s.payloads[key]
	return payload, exists
}

// Contains reports whether a live record exists for key.
func (s *HNSWIndex) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	_, exists := s.idMap[key]
	return exists
}

// Keys returns a snapshot of all live record keys, unordered.
func (s *HNSWIndex) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	keys := make([]string, 0, len(s.idMap))
	for key := range s.idMap {
		keys = append(keys, key)
	}
	return keys
}

// Count returns the number of live records.
func (s *HNSWIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// CollectionStats describes the collection, including how many
// lazy-deleted nodes the graph still carries.
func (s *HNSWIndex) CollectionStats() *CollectionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &CollectionStats{}
	}

	return &CollectionStats{
		Records:    len(s.idMap),
		GraphNodes: s.graph.Len(),
		Orphans:    s.graph.Len() - len(s.idMap),
		Dimensions: s.config.Dimensions,
		Metric:     s.config.Metric,
	}
}

// Compact rebuilds the graph from live records only, dropping orphaned
// nodes left behind by lazy deletion.
func (s *HNSWIndex) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vitrineerrors.StoreError("vector index is closed", nil)
	}

	rebuilt := newGraph(s.config)
	idMap := make(map[string]uint64, len(s.idMap))
	keyMap := make(map[uint64]string, len(s.idMap))

	var next uint64
	for key, graphKey := range s.idMap {
		vec, ok := s.graph.Lookup(graphKey)
		if !ok {
			continue
		}
		rebuilt.Add(hnsw.MakeNode(next, vec))
		idMap[key] = next
		keyMap[next] = key
		next++
	}

	s.graph = rebuilt
	s.idMap = idMap
	s.keyMap = keyMap
	s.nextKey = next
	return nil
}

// Save writes the graph and its sidecar atomically (temp file plus
// rename) so a crash mid-save leaves the previous snapshot intact.
func (s *HNSWIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return vitrineerrors.StoreError("vector index is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return vitrineerrors.New(vitrineerrors.ErrCodeVectorIndexIO,
			"failed to create index directory", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return vitrineerrors.New(vitrineerrors.ErrCodeVectorIndexIO,
			"failed to create index file", err)
	}
	if err := s.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return vitrineerrors.New(vitrineerrors.ErrCodeVectorIndexIO,
			"failed to export graph", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return vitrineerrors.New(vitrineerrors.ErrCodeVectorIndexIO,
			"failed to close index file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return vitrineerrors.New(vitrineerrors.ErrCodeVectorIndexIO,
			"failed to rename index file", err)
	}

	if err := s.saveSidecar(path + ".meta"); err != nil {
		return vitrineerrors.New(vitrineerrors.ErrCodeVectorIndexIO,
			"failed to save index sidecar", err)
	}
	return nil
}

func (s *HNSWIndex) saveSidecar(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp sidecar: %w", err)
	}

	sidecar := hnswSidecar{
		IDMap:    s.idMap,
		NextKey:  s.nextKey,
		Config:   s.config,
		Payloads: s.payloads,
	}
	if err := gob.NewEncoder(file).Encode(sidecar); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp sidecar during cleanup", slog.String("error", closeErr.Error()))
		}
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close sidecar: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores a saved index. When the index was constructed with a
// configured schema, the snapshot must match it.
func (s *HNSWIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vitrineerrors.StoreError("vector index is closed", nil)
	}

	sidecar, err := loadSidecar(path + ".meta")
	if err != nil {
		return vitrineerrors.New(vitrineerrors.ErrCodeVectorIndexIO,
			"failed to load index sidecar", err)
	}

	if s.config.Dimensions != 0 &&
		(sidecar.Config.Dimensions != s.config.Dimensions || sidecar.Config.Metric != s.config.Metric) {
		return vitrineerrors.SchemaMismatchError(
			fmt.Sprintf("saved index has dimensions=%d metric=%s, configured dimensions=%d metric=%s",
				sidecar.Config.Dimensions, sidecar.Config.Metric, s.config.Dimensions, s.config.Metric), nil).
			WithSuggestion("run a full reindex to rebuild the vector index with the new schema")
	}

	file, err := os.Open(path)
	if err != nil {
		return vitrineerrors.New(vitrineerrors.ErrCodeVectorIndexIO,
			"failed to open index file", err)
	}
	defer func() { _ = file.Close() }()

	// Preserve runtime tuning (ChunkSize, EfSearch) from the live
	// config; the snapshot only pins the schema.
	cfg := s.config
	if cfg.Dimensions == 0 {
		cfg.Dimensions = sidecar.Config.Dimensions
		cfg.Metric = sidecar.Config.Metric
	}

	graph := newGraph(cfg)
	// coder/hnsw Import requires an io.ByteReader.
	if err := graph.Import(bufio.NewReader(file)); err != nil {
		return vitrineerrors.New(vitrineerrors.ErrCodeVectorIndexIO,
			"failed to import graph", err)
	}

	s.graph = graph
	s.config = cfg
	s.idMap = sidecar.IDMap
	s.nextKey = sidecar.NextKey
	s.payloads = sidecar.Payloads
	if s.payloads == nil {
		s.payloads = make(map[string]*RecordPayload)
	}
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for key, graphKey := range s.idMap {
		s.keyMap[graphKey] = key
	}
	return nil
}

func loadSidecar(path string) (*hnswSidecar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sidecar: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close sidecar file", slog.String("error", err.Error()))
		}
	}()

	var sidecar hnswSidecar
	if err := gob.NewDecoder(file).Decode(&sidecar); err != nil {
		return nil, fmt.Errorf("decode sidecar: %w", err)
	}
	return &sidecar, nil
}

// ReadCollectionSchema reads dimensions and metric from a saved index
// sidecar without loading the graph. Returns zero values when no
// snapshot exists.
func ReadCollectionSchema(vectorPath string) (int, string, error) {
	sidecar, err := loadSidecar(vectorPath + ".meta")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, "", nil
		}
		return 0, "", err
	}
	return sidecar.Config.Dimensions, sidecar.Config.Metric, nil
}

// Close releases the graph. Idempotent.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// normalizeVectorInPlace scales a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts a distance to a similarity score in [0, 1].
// Cosine distance ranges 0-2; L2 from 0 to infinity.
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case MetricL2:
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
