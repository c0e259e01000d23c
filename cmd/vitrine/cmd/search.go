package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vitrine-search/vitrine/internal/fetch"
	"github.com/vitrine-search/vitrine/internal/output"
	"github.com/vitrine-search/vitrine/internal/search"
	"github.com/vitrine-search/vitrine/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit     int
	threshold float64
	imagePath string
	imageURL  string
	similarTo string
	format    string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the catalog",
		Long: `Search the catalog by free text, by image, or by similarity to an
existing item.

Free text and images are embedded and matched against the vector
index; similar-item queries reuse the stored vector of the reference
item. Hits are joined back to the metadata store, so results always
reflect the authoritative item data.`,
		Example: `  # Free-text search
  vitrine search "red velvet sofa"

  # Search by a local image
  vitrine search --image ./sofa.jpg

  # Search by a hosted image
  vitrine search --image-url https://cdn.example.com/sofa.jpg

  # Items similar to an indexed one
  vitrine search --similar sku-1042

  # Machine-readable output
  vitrine search "oak table" --format json`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (0 = configured default)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Minimum similarity score in [0,1] (0 = configured default)")
	cmd.Flags().StringVar(&opts.imagePath, "image", "", "Search by a local image file")
	cmd.Flags().StringVar(&opts.imageURL, "image-url", "", "Search by a hosted image URL")
	cmd.Flags().StringVar(&opts.similarTo, "similar", "", "Search for items similar to this external id")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

// buildQuery maps the CLI flags onto one search query, rejecting
// ambiguous combinations.
func buildQuery(text string, opts searchOptions) (search.Query, error) {
	q := search.Query{
		TopK:           opts.limit,
		ScoreThreshold: opts.threshold,
	}

	modes := 0
	if text != "" {
		modes++
	}
	if opts.imagePath != "" || opts.imageURL != "" {
		modes++
	}
	if opts.similarTo != "" {
		modes++
	}
	switch {
	case modes == 0:
		return q, fmt.Errorf("nothing to search for: give a query, --image/--image-url, or --similar")
	case modes > 1:
		return q, fmt.Errorf("give exactly one of a text query, --image/--image-url, or --similar")
	}

	switch {
	case opts.similarTo != "":
		q.Kind = store.QueryKindSimilar
		q.ReferenceID = opts.similarTo
	case opts.imagePath != "":
		data, err := os.ReadFile(opts.imagePath)
		if err != nil {
			return q, fmt.Errorf("failed to read image: %w", err)
		}
		q.Kind = store.QueryKindImage
		q.ImageData = data
	case opts.imageURL != "":
		q.Kind = store.QueryKindImage
		q.ImageURL = opts.imageURL
	default:
		q.Kind = store.QueryKindText
		q.Text = text
	}
	return q, nil
}

func runSearch(ctx context.Context, cmd *cobra.Command, text string, opts searchOptions) error {
	out := output.New(cmd.OutOrStdout())

	query, err := buildQuery(text, opts)
	if err != nil {
		return err
	}

	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	if err := requireCatalog(cfg, root); err != nil {
		return err
	}
	defer setupFileLogging(cfg, root)()

	slog.Info("search_started",
		slog.String("kind", query.Kind),
		slog.Int("limit", opts.limit))

	metadata, err := openMetadata(cfg, root)
	if err != nil {
		return err
	}
	defer func() { _ = metadata.Close() }()

	vectors, err := openVectors(cfg, root)
	if err != nil {
		return err
	}
	defer func() { _ = vectors.Close() }()

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	orch, err := search.NewOrchestrator(metadata, vectors, embedder, cfg.Search,
		search.WithFetcher(fetch.NewHTTPFetcher(fetch.DefaultConfig())))
	if err != nil {
		return fmt.Errorf("failed to create search orchestrator: %w", err)
	}

	results, err := orch.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	slog.Info("search_complete",
		slog.String("kind", results.Kind),
		slog.Int("results", len(results.Hits)),
		slog.Int64("latency_ms", results.LatencyMS))

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	return printResults(out, text, opts, results)
}

// printResults writes the human-readable hit list.
func printResults(out *output.Writer, text string, opts searchOptions, results *search.Results) error {
	subject := describeQuerySubject(text, opts)
	if len(results.Hits) == 0 {
		out.Statusf("", "No results for %s", subject)
		return nil
	}

	out.Statusf("🔍", "Found %d results for %s (%dms):", len(results.Hits), subject, results.LatencyMS)
	out.Newline()

	for i, hit := range results.Hits {
		item := hit.Item
		out.Statusf("", "%d. %s (score: %.3f)", i+1, item.Title, hit.Score)

		details := []string{"id: " + item.ExternalID}
		if item.Category != "" {
			details = append(details, "category: "+item.Category)
		}
		if item.Price != nil {
			details = append(details, fmt.Sprintf("price: %s", formatPrice(*item.Price, item.Currency)))
		}
		out.Status("", "   "+strings.Join(details, " | "))

		if item.Description != "" {
			out.Status("", "   "+truncate(item.Description, 100))
		}
		out.Newline()
	}
	return nil
}

// describeQuerySubject names the query in output headers.
func describeQuerySubject(text string, opts searchOptions) string {
	switch {
	case opts.similarTo != "":
		return fmt.Sprintf("items similar to %q", opts.similarTo)
	case opts.imagePath != "":
		return fmt.Sprintf("image %s", opts.imagePath)
	case opts.imageURL != "":
		return "the given image URL"
	default:
		return fmt.Sprintf("%q", text)
	}
}

// formatPrice renders a price with its currency when one is set.
func formatPrice(price float64, currency string) string {
	if currency == "" {
		return fmt.Sprintf("%.2f", price)
	}
	return fmt.Sprintf("%.2f %s", price, currency)
}

// truncate shortens s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
