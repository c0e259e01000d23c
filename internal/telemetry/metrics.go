// Package telemetry derives search analytics from recorded search
// events. The metadata store stays the system of record: collectors
// only aggregate, either live as the orchestrator logs events or by
// replaying persisted events for offline reporting. Nothing leaves
// the process.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitrine-search/vitrine/internal/store"
)

// =============================================================================
// Latency Bands
// =============================================================================

// LatencyBand is a histogram bucket for end-to-end search latency.
// The bands are sized for a path dominated by query embedding.
type LatencyBand string

const (
	BandUnder25  LatencyBand = "<25ms"
	BandUnder100 LatencyBand = "25-100ms"
	BandUnder500 LatencyBand = "100-500ms"
	BandUnder2s  LatencyBand = "500ms-2s"
	BandOver2s   LatencyBand = ">=2s"
)

// LatencyToBand maps a search latency to its histogram band.
func LatencyToBand(d time.Duration) LatencyBand {
	switch {
	case d < 25*time.Millisecond:
		return BandUnder25
	case d < 100*time.Millisecond:
		return BandUnder100
	case d < 500*time.Millisecond:
		return BandUnder500
	case d < 2*time.Second:
		return BandUnder2s
	default:
		return BandOver2s
	}
}

// =============================================================================
// Term Extraction
// =============================================================================

// Terms shorter than this are noise in shopper queries.
const minTermLength = 3

var termStopWords = map[string]struct{}{
	"and": {}, "for": {}, "the": {}, "with": {},
}

// ExtractTerms splits query text into lowercased terms for frequency
// tracking, dropping short tokens and filler words.
func ExtractTerms(text string) []string {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil
	}
	var terms []string
	for _, w := range strings.Fields(text) {
		if len(w) < minTermLength {
			continue
		}
		if _, stop := termStopWords[w]; stop {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// TermCount pairs a query term with how often it appeared.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is an immutable view of collected search metrics.
type Snapshot struct {
	TotalSearches     int64                 `json:"total_searches"`
	ByKind            map[string]int64      `json:"by_kind"`
	LatencyBands      map[LatencyBand]int64 `json:"latency_bands"`
	TopTerms          []TermCount           `json:"top_terms"`
	ZeroResultCount   int64                 `json:"zero_result_count"`
	ZeroResultQueries []string              `json:"zero_result_queries"`
	RepeatCount       int64                 `json:"repeat_count"`
	RepeatRate        float64               `json:"repeat_rate"`
	UniqueQueries     int64                 `json:"unique_queries"`
	Since             time.Time             `json:"since"`
}

// ZeroResultRate returns the fraction of searches that matched nothing.
func (s *Snapshot) ZeroResultRate() float64 {
	if s.TotalSearches == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalSearches)
}

// =============================================================================
// Collector
// =============================================================================

// Config bounds the collector's memory use.
type Config struct {
	TopTermsCapacity    int // distinct terms tracked, LRU beyond this
	ZeroResultsCapacity int // recent zero-result queries kept
	RecentQueries       int // query window for repeat detection
}

// DefaultConfig returns the capacities used by the server surfaces.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:    100,
		ZeroResultsCapacity: 100,
		RecentQueries:       500,
	}
}

// SearchMetrics aggregates search events in memory. All methods are
// safe for concurrent use and never touch I/O.
type SearchMetrics struct {
	mu sync.RWMutex

	total     int64
	byKind    map[string]int64
	bands     map[LatencyBand]int64
	zeroCount int64
	since     time.Time

	topTerms    *lru.Cache[string, int64]
	zeroResults *Ring[string]

	recentQueries *lru.Cache[string, struct{}]
	repeatCount   int64
}

// NewSearchMetrics creates a collector. Zero-valued config fields fall
// back to DefaultConfig.
func NewSearchMetrics(cfg Config) *SearchMetrics {
	def := DefaultConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentQueries <= 0 {
		cfg.RecentQueries = def.RecentQueries
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueries)
	return &SearchMetrics{
		byKind:        make(map[string]int64),
		bands:         make(map[LatencyBand]int64),
		topTerms:      topTerms,
		zeroResults:   NewRing[string](cfg.ZeroResultsCapacity),
		recentQueries: recent,
		since:         time.Now(),
	}
}

// Record folds one search event into the aggregates.
func (m *SearchMetrics) Record(ev *store.SearchEvent) {
	if ev == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.byKind[ev.QueryKind]++
	m.bands[LatencyToBand(time.Duration(ev.LatencyMS)*time.Millisecond)]++

	for _, term := range ExtractTerms(ev.QueryText) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	if ev.ResultCount == 0 {
		m.zeroCount++
		if label, ok := describeQuery(ev); ok {
			m.zeroResults.Push(label)
		}
	}

	if key, ok := repeatKey(ev); ok {
		if _, seen := m.recentQueries.Get(key); seen {
			m.repeatCount++
		}
		m.recentQueries.Add(key, struct{}{})
	}
}

// describeQuery renders the event as a reviewable label. Image queries
// have no stable textual form in the event, so they are counted but
// never listed.
func describeQuery(ev *store.SearchEvent) (string, bool) {
	switch ev.QueryKind {
	case store.QueryKindSimilar:
		if ev.ReferenceID == "" {
			return "", false
		}
		return "similar:" + ev.ReferenceID, true
	case store.QueryKindImage:
		return "", false
	default:
		if ev.QueryText == "" {
			return "", false
		}
		return ev.QueryText, true
	}
}

// repeatKey hashes what identifies a query for repeat detection:
// normalized text for text queries, the reference item for
// similar-item queries. Image queries carry no stable identity in the
// event and are skipped.
func repeatKey(ev *store.SearchEvent) (string, bool) {
	var seed string
	switch ev.QueryKind {
	case store.QueryKindText:
		text := strings.ToLower(strings.TrimSpace(ev.QueryText))
		if text == "" {
			return "", false
		}
		seed = ev.QueryKind + "\x00" + text
	case store.QueryKindSimilar:
		if ev.ReferenceID == "" {
			return "", false
		}
		seed = ev.QueryKind + "\x00" + ev.ReferenceID
	default:
		return "", false
	}
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:16]), true
}

// Snapshot copies the current aggregates. Top terms come back sorted
// by count, ties broken by term, so output is stable.
func (m *SearchMetrics) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byKind := make(map[string]int64, len(m.byKind))
	for k, v := range m.byKind {
		byKind[k] = v
	}
	bands := make(map[LatencyBand]int64, len(m.bands))
	for k, v := range m.bands {
		bands[k] = v
	}

	terms := make([]TermCount, 0, m.topTerms.Len())
	for _, term := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(term); ok {
			terms = append(terms, TermCount{Term: term, Count: count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	var repeatRate float64
	if m.total > 0 {
		repeatRate = float64(m.repeatCount) / float64(m.total)
	}

	return &Snapshot{
		TotalSearches:     m.total,
		ByKind:            byKind,
		LatencyBands:      bands,
		TopTerms:          terms,
		ZeroResultCount:   m.zeroCount,
		ZeroResultQueries: m.zeroResults.Items(),
		RepeatCount:       m.repeatCount,
		RepeatRate:        repeatRate,
		UniqueQueries:     int64(m.recentQueries.Len()),
		Since:             m.since,
	}
}

// Replay builds a collector from persisted events. The store lists
// events newest first; they are folded in oldest first so the recency
// windows end on the latest ones.
func Replay(events []*store.SearchEvent, cfg Config) *SearchMetrics {
	m := NewSearchMetrics(cfg)
	for i := len(events) - 1; i >= 0; i-- {
		m.Record(events[i])
	}
	if len(events) > 0 {
		m.mu.Lock()
		m.since = events[len(events)-1].CreatedAt
		m.mu.Unlock()
	}
	return m
}
