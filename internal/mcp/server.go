package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vitrine-search/vitrine/internal/embed"
	"github.com/vitrine-search/vitrine/internal/pipeline"
	"github.com/vitrine-search/vitrine/internal/search"
	"github.com/vitrine-search/vitrine/internal/store"
	"github.com/vitrine-search/vitrine/internal/telemetry"
)

// serverName identifies this server to MCP clients.
const serverName = "vitrine"

// Server bridges assistant clients with the catalog: semantic search,
// item lookup, indexing submission and stats over MCP.
type Server struct {
	mcp      *mcp.Server
	metadata store.MetadataStore
	vectors  store.VectorIndex
	search   *search.Orchestrator
	pipe     *pipeline.Pipeline
	embedder embed.Embedder
	version  string
	logger   *slog.Logger

	// Live analytics (optional, set via SetMetrics)
	metrics *telemetry.SearchMetrics

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer creates a new MCP server over the given catalog collaborators.
func NewServer(
	metadata store.MetadataStore,
	vectors store.VectorIndex,
	orch *search.Orchestrator,
	pipe *pipeline.Pipeline,
	embedder embed.Embedder,
	version string,
) (*Server, error) {
	if metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if vectors == nil {
		return nil, errors.New("vector index is required")
	}
	if orch == nil {
		return nil, errors.New("search orchestrator is required")
	}
	if pipe == nil {
		return nil, errors.New("pipeline is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}

	s := &Server{
		metadata: metadata,
		vectors:  vectors,
		search:   orch,
		pipe:     pipe,
		embedder: embedder,
		version:  version,
		logger:   slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version,
		},
		nil, // capabilities are inferred from registered tools/resources
	)

	s.registerTools()

	return s, nil
}

// SetMetrics sets the live analytics collector. When set, an analytics
// resource is registered so clients can read the current snapshot.
func (s *Server) SetMetrics(m *telemetry.SearchMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m

	if m != nil {
		s.registerAnalyticsResource()
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return serverName, s.version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{
			Name:        "search_catalog",
			Description: "Search the product catalog by meaning. Describe the item in natural language and get the closest matches with titles, prices and similarity scores.",
		},
		{
			Name:        "get_item",
			Description: "Fetch one catalog item by its external identifier, including description, price and attributes.",
		},
		{
			Name:        "submit_index",
			Description: "Queue an item for (re)embedding and vector indexing. Use after changing an item so search catches up. Returns a task id.",
		},
		{
			Name:        "catalog_stats",
			Description: "Report catalog size, vector index state, pipeline counters and which embedder is active. Use to judge whether search results are trustworthy.",
		},
	}
}

// CallTool invokes a tool by name with loosely-typed arguments. The
// stdio transport goes through the typed SDK handlers instead; this
// path serves embedding the server in-process.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search_catalog":
		input := SearchCatalogInput{}
		if q, ok := args["query"].(string); ok {
			input.Query = q
		}
		if k, ok := args["top_k"].(float64); ok {
			input.TopK = int(k)
		}
		if th, ok := args["score_threshold"].(float64); ok {
			input.ScoreThreshold = th
		}
		_, out, err := s.searchCatalogHandler(ctx, nil, input)
		if err != nil {
			return nil, err
		}
		return out, nil
	case "get_item":
		input := GetItemInput{}
		if id, ok := args["external_id"].(string); ok {
			input.ExternalID = id
		}
		_, out, err := s.getItemHandler(ctx, nil, input)
		if err != nil {
			return nil, err
		}
		return out, nil
	case "submit_index":
		input := SubmitIndexInput{}
		if id, ok := args["external_id"].(string); ok {
			input.ExternalID = id
		}
		if u, ok := args["asset_url"].(string); ok {
			input.AssetURL = u
		}
		_, out, err := s.submitIndexHandler(ctx, nil, input)
		if err != nil {
			return nil, err
		}
		return out, nil
	case "catalog_stats":
		_, out, err := s.catalogStatsHandler(ctx, nil, CatalogStatsInput{})
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// registerTools registers all tools with the MCP server. Descriptions
// mirror ListTools.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_catalog",
		Description: "Search the product catalog by meaning. Describe the item in natural language and get the closest matches with titles, prices and similarity scores.",
	}, s.searchCatalogHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_item",
		Description: "Fetch one catalog item by its external identifier, including description, price and attributes.",
	}, s.getItemHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "submit_index",
		Description: "Queue an item for (re)embedding and vector indexing. Use after changing an item so search catches up. Returns a task id.",
	}, s.submitIndexHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "catalog_stats",
		Description: "Report catalog size, vector index state, pipeline counters and which embedder is active. Use to judge whether search results are trustworthy.",
	}, s.catalogStatsHandler)

	s.logger.Info("mcp tools registered", slog.Int("count", 4))
}

// searchCatalogHandler answers the search_catalog tool.
func (s *Server) searchCatalogHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchCatalogInput) (
	*mcp.CallToolResult,
	SearchCatalogOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchCatalogOutput{}, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info("search_catalog started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query))

	results, err := s.search.Search(ctx, search.Query{
		Kind:           store.QueryKindText,
		Text:           input.Query,
		TopK:           input.TopK,
		ScoreThreshold: input.ScoreThreshold,
		SessionID:      "mcp",
	})
	if err != nil {
		s.logger.Error("search_catalog failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, SearchCatalogOutput{}, MapError(err)
	}

	output := SearchCatalogOutput{
		Results:   make([]CatalogHit, 0, len(results.Hits)),
		LatencyMS: results.LatencyMS,
	}
	for _, hit := range results.Hits {
		if hit.Item == nil {
			continue
		}
		output.Results = append(output.Results, CatalogHit{
			ExternalID: hit.Item.ExternalID,
			Title:      hit.Item.Title,
			Category:   hit.Item.Category,
			Price:      hit.Item.Price,
			Currency:   hit.Item.Currency,
			Score:      hit.Score,
		})
	}

	s.logger.Info("search_catalog completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("result_count", len(output.Results)))

	return nil, output, nil
}

// getItemHandler answers the get_item tool.
func (s *Server) getItemHandler(ctx context.Context, _ *mcp.CallToolRequest, input GetItemInput) (
	*mcp.CallToolResult,
	ItemOutput,
	error,
) {
	if strings.TrimSpace(input.ExternalID) == "" {
		return nil, ItemOutput{}, NewInvalidParamsError("external_id parameter is required")
	}

	item, err := s.metadata.GetItemByExternalID(ctx, input.ExternalID)
	if err != nil {
		return nil, ItemOutput{}, MapError(err)
	}

	return nil, itemToOutput(item), nil
}

// submitIndexHandler answers the submit_index tool.
func (s *Server) submitIndexHandler(ctx context.Context, _ *mcp.CallToolRequest, input SubmitIndexInput) (
	*mcp.CallToolResult,
	SubmitIndexOutput,
	error,
) {
	if strings.TrimSpace(input.ExternalID) == "" {
		return nil, SubmitIndexOutput{}, NewInvalidParamsError("external_id parameter is required")
	}

	// Surface an unknown item here; submission itself never checks.
	if _, err := s.metadata.GetItemByExternalID(ctx, input.ExternalID); err != nil {
		return nil, SubmitIndexOutput{}, MapError(err)
	}

	handle, err := s.pipe.SubmitIndex(ctx, input.ExternalID, input.AssetURL)
	if err != nil {
		return nil, SubmitIndexOutput{}, MapError(err)
	}

	s.logger.Info("submit_index accepted",
		slog.String("task_id", handle.ID),
		slog.String("external_id", handle.ExternalID))

	return nil, SubmitIndexOutput{
		TaskID:     handle.ID,
		Kind:       string(handle.Kind),
		ExternalID: handle.ExternalID,
	}, nil
}

// catalogStatsHandler answers the catalog_stats tool.
func (s *Server) catalogStatsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ CatalogStatsInput) (
	*mcp.CallToolResult,
	CatalogStatsOutput,
	error,
) {
	total, err := s.metadata.CountItems(ctx)
	if err != nil {
		return nil, CatalogStatsOutput{}, MapError(err)
	}
	categories, err := s.metadata.CategoryCounts(ctx, 10)
	if err != nil {
		return nil, CatalogStatsOutput{}, MapError(err)
	}

	output := CatalogStatsOutput{
		Items: ItemsOverview{Total: total, Categories: categories},
	}

	if cs := s.vectors.CollectionStats(); cs != nil {
		output.Vectors = VectorsOverview{
			Records:    cs.Records,
			GraphNodes: cs.GraphNodes,
			Orphans:    cs.Orphans,
			Dimensions: cs.Dimensions,
			Metric:     cs.Metric,
		}
	}

	ps := s.pipe.Stats()
	output.Pipeline = PipelineOverview{
		Submitted:    ps.Submitted,
		Queued:       ps.Queued,
		Committed:    ps.Committed,
		Skipped:      ps.Skipped,
		Failed:       ps.Failed,
		DeadLettered: ps.DeadLettered,
	}

	status := "unavailable"
	if s.embedder.Available(ctx) {
		status = "ready"
	}
	output.Embedder = EmbedderOverview{
		Model:      s.embedder.ModelName(),
		Dimensions: s.embedder.Dimensions(),
		Status:     status,
	}

	return nil, output, nil
}

// itemToOutput flattens a stored item into the tool output shape.
func itemToOutput(item *store.Item) ItemOutput {
	if item == nil {
		return ItemOutput{}
	}
	return ItemOutput{
		ExternalID:  item.ExternalID,
		Title:       item.Title,
		Description: item.Description,
		Category:    item.Category,
		Price:       item.Price,
		Currency:    item.Currency,
		AssetURL:    item.AssetURL,
		Attributes:  item.Attributes,
		CreatedAt:   item.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   item.UpdatedAt.Format(time.RFC3339),
	}
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("starting mcp server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp server stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources. The MCP server itself stops when its
// run context is canceled.
func (s *Server) Close() error {
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
