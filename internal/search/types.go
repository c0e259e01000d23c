// Package search answers catalog queries against the vector index and
// joins the hits back to their authoritative items. Three query kinds
// share one path: free text and images are embedded first, similar-item
// queries reuse the stored vector of the reference item. Ranking is the
// index's score order; there is no lexical blending or re-ranking.
package search

import (
	"github.com/vitrine-search/vitrine/internal/store"
)

// Query is one search invocation. Kind selects which input fields are
// consulted; an empty kind means a free-text query.
type Query struct {
	// Kind is one of store.QueryKindText, QueryKindImage or
	// QueryKindSimilar.
	Kind string `json:"kind"`

	// Text is the free-text query for text queries.
	Text string `json:"text,omitempty"`

	// ImageData carries raw image bytes for image queries.
	ImageData []byte `json:"image_data,omitempty"`

	// ImageURL is fetched when ImageData is empty.
	ImageURL string `json:"image_url,omitempty"`

	// ReferenceID is the external id anchoring a similar-item query.
	ReferenceID string `json:"reference_id,omitempty"`

	// TopK caps the result count. Zero takes the configured default and
	// values above the configured maximum are capped.
	TopK int `json:"top_k,omitempty"`

	// ScoreThreshold drops hits scoring below it, in [0,1]. Zero takes
	// the configured default.
	ScoreThreshold float64 `json:"score_threshold,omitempty"`

	// SessionID and UserID are recorded in the search log verbatim.
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// Result pairs one catalog item with its similarity to the query.
type Result struct {
	Item     *store.Item `json:"item"`
	Score    float32     `json:"score"`
	Distance float32     `json:"distance"`
}

// Results is one search response, best hit first.
type Results struct {
	Kind      string    `json:"kind"`
	Hits      []*Result `json:"hits"`
	LatencyMS int64     `json:"latency_ms"`
}
