package mcp

import "github.com/vitrine-search/vitrine/internal/store"

// SearchCatalogInput defines the input schema for the search_catalog tool.
type SearchCatalogInput struct {
	Query          string  `json:"query" jsonschema:"natural-language description of the item to find"`
	TopK           int     `json:"top_k,omitempty" jsonschema:"maximum number of results, default 10"`
	ScoreThreshold float64 `json:"score_threshold,omitempty" jsonschema:"minimum similarity score between 0 and 1"`
}

// CatalogHit is one search result.
type CatalogHit struct {
	ExternalID string   `json:"external_id" jsonschema:"catalog identifier of the item"`
	Title      string   `json:"title" jsonschema:"item title"`
	Category   string   `json:"category,omitempty" jsonschema:"item category"`
	Price      *float64 `json:"price,omitempty" jsonschema:"item price"`
	Currency   string   `json:"currency,omitempty" jsonschema:"ISO currency code"`
	Score      float32  `json:"score" jsonschema:"similarity score between 0 and 1"`
}

// SearchCatalogOutput defines the output schema for the search_catalog tool.
type SearchCatalogOutput struct {
	Results   []CatalogHit `json:"results" jsonschema:"best matches first"`
	LatencyMS int64        `json:"latency_ms" jsonschema:"search latency in milliseconds"`
}

// GetItemInput defines the input schema for the get_item tool.
type GetItemInput struct {
	ExternalID string `json:"external_id" jsonschema:"catalog identifier of the item"`
}

// ItemOutput defines the output schema for the get_item tool.
type ItemOutput struct {
	ExternalID  string           `json:"external_id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Category    string           `json:"category,omitempty"`
	Price       *float64         `json:"price,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	AssetURL    string           `json:"asset_url,omitempty"`
	Attributes  store.Attributes `json:"attributes,omitempty"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`
}

// SubmitIndexInput defines the input schema for the submit_index tool.
type SubmitIndexInput struct {
	ExternalID string `json:"external_id" jsonschema:"catalog identifier of the item to (re)index"`
	AssetURL   string `json:"asset_url,omitempty" jsonschema:"override image URL for this indexing run"`
}

// SubmitIndexOutput defines the output schema for the submit_index tool.
type SubmitIndexOutput struct {
	TaskID     string `json:"task_id" jsonschema:"identifier for polling task progress"`
	Kind       string `json:"kind" jsonschema:"task kind"`
	ExternalID string `json:"external_id"`
}

// CatalogStatsInput defines the input schema for the catalog_stats tool (no parameters).
type CatalogStatsInput struct{}

// CatalogStatsOutput defines the output schema for the catalog_stats tool.
type CatalogStatsOutput struct {
	Items    ItemsOverview    `json:"items"`
	Vectors  VectorsOverview  `json:"vectors"`
	Pipeline PipelineOverview `json:"pipeline"`
	Embedder EmbedderOverview `json:"embedder"`
}

// ItemsOverview summarizes the metadata store.
type ItemsOverview struct {
	Total      int                  `json:"total"`
	Categories []store.CategoryCount `json:"categories,omitempty"`
}

// VectorsOverview summarizes the vector index.
type VectorsOverview struct {
	Records    int    `json:"records"`
	GraphNodes int    `json:"graph_nodes"`
	Orphans    int    `json:"orphans"`
	Dimensions int    `json:"dimensions"`
	Metric     string `json:"metric"`
}

// PipelineOverview summarizes lifetime pipeline counters.
type PipelineOverview struct {
	Submitted    int64 `json:"submitted"`
	Queued       int   `json:"queued"`
	Committed    int64 `json:"committed"`
	Skipped      int64 `json:"skipped"`
	Failed       int64 `json:"failed"`
	DeadLettered int64 `json:"dead_lettered"`
}

// EmbedderOverview tells the client which embedder answers queries.
// Assistants use this to calibrate how much to trust semantic scores.
type EmbedderOverview struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Status     string `json:"status" jsonschema:"ready or unavailable"`
}
