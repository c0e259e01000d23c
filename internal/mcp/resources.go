package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vitrine-search/vitrine/internal/store"
)

// MaxResourceItems caps how many items are registered as resources.
// Clients that need the long tail go through the get_item tool instead.
const MaxResourceItems = 500

// resourcePageSize is the ListItems batch size during registration.
const resourcePageSize = 100

// analyticsResourceURI names the live search analytics resource.
const analyticsResourceURI = "vitrine://analytics"

// RegisterCatalogResources registers catalog items as MCP resources so
// clients can browse them without a search round-trip. Call after the
// server is created and before serving.
func (s *Server) RegisterCatalogResources(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	registered := 0
	for offset := 0; registered < MaxResourceItems; offset += resourcePageSize {
		items, err := s.metadata.ListItems(ctx, offset, resourcePageSize)
		if err != nil {
			return fmt.Errorf("list items for resources: %w", err)
		}
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			if registered >= MaxResourceItems {
				break
			}
			s.registerItemResource(item)
			registered++
		}
	}

	s.logger.Info("registered item resources", slog.Int("count", registered))
	return nil
}

// registerItemResource registers a single item as an MCP resource. The
// read handler fetches the current row, so edits after registration are
// reflected.
func (s *Server) registerItemResource(item *store.Item) {
	uri := itemResourceURI(item.ExternalID)
	description := item.Category
	if item.Price != nil {
		description = strings.TrimSpace(fmt.Sprintf("%s %.2f %s", item.Category, *item.Price, item.Currency))
	}

	s.mcp.AddResource(
		&mcp.Resource{
			Name:        item.Title,
			URI:         uri,
			Description: description,
			MIMEType:    "application/json",
		},
		s.makeItemHandler(item.ExternalID),
	)
}

// makeItemHandler creates a read handler for one external id.
func (s *Server) makeItemHandler(externalID string) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.readItemResource(ctx, externalID)
	}
}

// readItemResource serves the current item document as JSON.
func (s *Server) readItemResource(ctx context.Context, externalID string) (*mcp.ReadResourceResult, error) {
	item, err := s.metadata.GetItemByExternalID(ctx, externalID)
	if err != nil {
		return nil, MapError(err)
	}

	payload, err := json.MarshalIndent(itemToOutput(item), "", "  ")
	if err != nil {
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      itemResourceURI(externalID),
				MIMEType: "application/json",
				Text:     string(payload),
			},
		},
	}, nil
}

// registerAnalyticsResource registers the live search analytics
// snapshot. Caller holds s.mu.
func (s *Server) registerAnalyticsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "search_analytics",
			URI:         analyticsResourceURI,
			Description: "Live search analytics: volume by kind, latency bands, top terms, zero-result and repeat rates.",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			s.mu.RLock()
			m := s.metrics
			s.mu.RUnlock()
			if m == nil {
				return nil, NewResourceNotFoundError(analyticsResourceURI)
			}

			payload, err := json.MarshalIndent(m.Snapshot(), "", "  ")
			if err != nil {
				return nil, MapError(err)
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{
						URI:      analyticsResourceURI,
						MIMEType: "application/json",
						Text:     string(payload),
					},
				},
			}, nil
		},
	)
}

// itemResourceURI builds the resource URI for an external id.
func itemResourceURI(externalID string) string {
	return "item://" + externalID
}
