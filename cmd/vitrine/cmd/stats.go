package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitrine-search/vitrine/internal/store"
	"github.com/vitrine-search/vitrine/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show statistics and telemetry",
		Long:  `Display statistics about the catalog, query patterns, and performance.`,
	}

	cmd.AddCommand(newStatsQueriesCmd())
	cmd.AddCommand(newStatsCatalogCmd())
	return cmd
}

// ----------------------------------------------------------------------------
// stats queries
// ----------------------------------------------------------------------------

func newStatsQueriesCmd() *cobra.Command {
	var jsonOutput bool
	var days int
	var events int

	cmd := &cobra.Command{
		Use:   "queries",
		Short: "Show search pattern statistics",
		Long: `Display search telemetry derived from the recorded search events:
  - Query kind distribution (text/image/similar)
  - Top query terms and repeat rate
  - Zero-result queries
  - Latency distribution`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatsQueries(cmd.Context(), cmd, jsonOutput, days, events)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")
	cmd.Flags().IntVar(&events, "events", 1000, "How many recent events to replay for term analysis")

	return cmd
}

// StatsQueriesOutput is the JSON output format for query stats.
type StatsQueriesOutput struct {
	Summary             StatsQueriesSummary   `json:"summary"`
	QueryKindCounts     map[string]int        `json:"query_kind_counts"`
	TopTerms            []telemetry.TermCount `json:"top_terms"`
	ZeroResultQueries   []string              `json:"zero_result_queries"`
	LatencyDistribution map[string]int64      `json:"latency_distribution"`
}

// StatsQueriesSummary provides overview statistics.
type StatsQueriesSummary struct {
	TotalQueries   int     `json:"total_queries"`
	AvgLatencyMS   float64 `json:"avg_latency_ms"`
	AvgResultCount float64 `json:"avg_result_count"`
	ZeroResultPct  float64 `json:"zero_result_pct"`
	RepeatRate     float64 `json:"repeat_rate"`
}

func runStatsQueries(ctx context.Context, cmd *cobra.Command, jsonOutput bool, days, events int) error {
	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	if err := requireCatalog(cfg, root); err != nil {
		return err
	}

	metadata, err := openMetadata(cfg, root)
	if err != nil {
		return err
	}
	defer func() { _ = metadata.Close() }()

	since := time.Now().AddDate(0, 0, -days)
	stats, err := metadata.GetSearchEventStats(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to get search event stats: %w", err)
	}

	recent, err := metadata.ListSearchEvents(ctx, events)
	if err != nil {
		return fmt.Errorf("failed to list search events: %w", err)
	}
	snapshot := telemetry.Replay(recent, telemetry.DefaultConfig()).Snapshot()

	out := buildQueryStats(stats, snapshot)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	return printQueryStats(cmd, days, out)
}

// buildQueryStats merges the SQL aggregate with the replayed snapshot.
// The aggregate is authoritative for counts and averages; the snapshot
// contributes the term and latency breakdowns it tracks in memory.
func buildQueryStats(stats *store.SearchEventStats, snapshot *telemetry.Snapshot) *StatsQueriesOutput {
	out := &StatsQueriesOutput{
		Summary: StatsQueriesSummary{
			TotalQueries:   stats.TotalSearches,
			AvgLatencyMS:   stats.AvgLatencyMS,
			AvgResultCount: stats.AvgResultCount,
			RepeatRate:     snapshot.RepeatRate,
		},
		QueryKindCounts:     stats.ByKind,
		TopTerms:            snapshot.TopTerms,
		ZeroResultQueries:   snapshot.ZeroResultQueries,
		LatencyDistribution: make(map[string]int64, len(snapshot.LatencyBands)),
	}
	if stats.TotalSearches > 0 {
		out.Summary.ZeroResultPct = 100 * float64(stats.ZeroResultSearches) / float64(stats.TotalSearches)
	}
	for band, count := range snapshot.LatencyBands {
		out.LatencyDistribution[string(band)] = count
	}
	return out
}

func printQueryStats(cmd *cobra.Command, days int, out *StatsQueriesOutput) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Search Statistics (last %d days)\n", days)
	fmt.Fprintln(w, "================================")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Total Searches: %d\n", out.Summary.TotalQueries)
	fmt.Fprintf(w, "Avg Latency:    %.1fms\n", out.Summary.AvgLatencyMS)
	fmt.Fprintf(w, "Avg Results:    %.1f\n", out.Summary.AvgResultCount)
	fmt.Fprintf(w, "Zero Results:   %.1f%%\n", out.Summary.ZeroResultPct)
	fmt.Fprintf(w, "Repeat Rate:    %.1f%%\n", 100*out.Summary.RepeatRate)
	fmt.Fprintln(w)

	if len(out.QueryKindCounts) > 0 {
		fmt.Fprintln(w, "Query Kinds:")
		for _, kind := range []string{store.QueryKindText, store.QueryKindImage, store.QueryKindSimilar} {
			if count, ok := out.QueryKindCounts[kind]; ok {
				fmt.Fprintf(w, "  %s: %d\n", kind, count)
			}
		}
		fmt.Fprintln(w)
	}

	if len(out.TopTerms) > 0 {
		fmt.Fprintln(w, "Top Query Terms:")
		for i, tc := range out.TopTerms {
			fmt.Fprintf(w, "  %d. %s (%d)\n", i+1, tc.Term, tc.Count)
		}
	} else {
		fmt.Fprintln(w, "Top Query Terms: (none recorded yet)")
	}
	fmt.Fprintln(w)

	if len(out.ZeroResultQueries) > 0 {
		fmt.Fprintln(w, "Recent Zero-Result Queries:")
		for _, q := range out.ZeroResultQueries {
			fmt.Fprintf(w, "  - %q\n", q)
		}
	} else {
		fmt.Fprintln(w, "Recent Zero-Result Queries: (none)")
	}
	fmt.Fprintln(w)

	if len(out.LatencyDistribution) > 0 {
		fmt.Fprintln(w, "Latency Distribution:")
		bands := []telemetry.LatencyBand{
			telemetry.BandUnder25,
			telemetry.BandUnder100,
			telemetry.BandUnder500,
			telemetry.BandUnder2s,
			telemetry.BandOver2s,
		}
		for _, b := range bands {
			if count, ok := out.LatencyDistribution[string(b)]; ok {
				fmt.Fprintf(w, "  %s: %d\n", b, count)
			}
		}
	}

	return nil
}

// ----------------------------------------------------------------------------
// stats catalog
// ----------------------------------------------------------------------------

func newStatsCatalogCmd() *cobra.Command {
	var jsonOutput bool
	var categories int

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Show catalog composition statistics",
		Long: `Display the catalog composition:
  - Item count and the largest categories
  - Vector index records, graph nodes, and orphans`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatsCatalog(cmd.Context(), cmd, jsonOutput, categories)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&categories, "categories", 10, "How many categories to list")

	return cmd
}

// StatsCatalogOutput is the JSON output format for catalog stats.
type StatsCatalogOutput struct {
	Items      int                   `json:"items"`
	Categories []store.CategoryCount `json:"categories"`
	Vectors    store.CollectionStats `json:"vectors"`
}

func runStatsCatalog(ctx context.Context, cmd *cobra.Command, jsonOutput bool, categories int) error {
	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	if err := requireCatalog(cfg, root); err != nil {
		return err
	}

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

	out := &StatsCatalogOutput{Vectors: *vectors.CollectionStats()}
	if out.Items, err = metadata.CountItems(ctx); err != nil {
		return fmt.Errorf("failed to count items: %w", err)
	}
	if out.Categories, err = metadata.CategoryCounts(ctx, categories); err != nil {
		return fmt.Errorf("failed to get category counts: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Catalog Statistics")
	fmt.Fprintln(w, "==================")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Items:          %d\n", out.Items)
	fmt.Fprintf(w, "Vector Records: %d\n", out.Vectors.Records)
	fmt.Fprintf(w, "Graph Nodes:    %d\n", out.Vectors.GraphNodes)
	if out.Vectors.Orphans > 0 {
		fmt.Fprintf(w, "Orphans:        %d (run 'vitrine reconcile')\n", out.Vectors.Orphans)
	}
	fmt.Fprintln(w)

	if len(out.Categories) > 0 {
		fmt.Fprintln(w, "Largest Categories:")
		for _, cc := range out.Categories {
			name := cc.Category
			if name == "" {
				name = "(uncategorized)"
			}
			fmt.Fprintf(w, "  %-24s %d\n", name, cc.Count)
		}
	}

	return nil
}
