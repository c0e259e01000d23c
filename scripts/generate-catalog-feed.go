//go:build ignore

// Package main generates synthetic catalog feed files for load testing.
// Usage: go run scripts/generate-catalog-feed.go -items 5000 -output testdata/feeds
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

var (
	numItems  = flag.Int("items", 1000, "Number of catalog items to generate")
	numFiles  = flag.Int("files", 1, "Number of feed files to split the items across")
	outputDir = flag.String("output", "testdata/feeds", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// document mirrors the feed entry shape the loader accepts.
type document struct {
	ExternalID  string         `json:"external_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category,omitempty"`
	Price       *float64       `json:"price,omitempty"`
	Currency    string         `json:"currency,omitempty"`
	AssetURL    string         `json:"asset_url,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// category couples a product vocabulary with a plausible price range.
type category struct {
	name     string
	nouns    []string
	minPrice float64
	maxPrice float64
}

var categories = []category{
	{
		name:     "furniture",
		nouns:    []string{"sofa", "armchair", "dining table", "bookshelf", "sideboard", "bed frame", "coffee table", "wardrobe", "desk", "bench"},
		minPrice: 120, maxPrice: 2400,
	},
	{
		name:     "lighting",
		nouns:    []string{"floor lamp", "pendant light", "table lamp", "wall sconce", "chandelier", "desk lamp"},
		minPrice: 25, maxPrice: 650,
	},
	{
		name:     "textiles",
		nouns:    []string{"area rug", "throw blanket", "cushion cover", "curtain set", "duvet cover", "table runner"},
		minPrice: 15, maxPrice: 480,
	},
	{
		name:     "kitchen",
		nouns:    []string{"stock pot", "chef knife", "cutting board", "serving bowl", "espresso maker", "baking dish"},
		minPrice: 12, maxPrice: 320,
	},
	{
		name:     "decor",
		nouns:    []string{"ceramic vase", "wall mirror", "picture frame", "candle holder", "plant stand", "wall clock"},
		minPrice: 8, maxPrice: 240,
	},
}

var adjectives = []string{
	"handcrafted", "minimalist", "vintage", "scandinavian", "industrial",
	"mid-century", "rustic", "contemporary", "classic", "elegant",
	"compact", "oversized", "foldable", "extendable", "upholstered",
}

var materials = []string{
	"oak", "walnut", "brass", "velvet", "linen", "rattan", "marble",
	"ceramic", "leather", "bamboo", "steel", "glass", "wool", "teak",
}

var colors = []string{
	"charcoal", "ivory", "emerald", "terracotta", "navy", "mustard",
	"sage", "burgundy", "slate", "natural",
}

var currencies = []string{"EUR", "EUR", "EUR", "USD", "GBP"}

var descriptionTemplates = []string{
	"A %s %s %s finished in %s, made to last for years of daily use.",
	"This %s %s %s in %s brings warmth to any room.",
	"Our %s %s %s comes in a rich %s tone and ships flat-packed.",
	"A %s %s %s with %s detailing, designed in-house.",
}

func pick(rng *rand.Rand, list []string) string {
	return list[rng.Intn(len(list))]
}

func generateItem(rng *rand.Rand, id int) document {
	cat := categories[rng.Intn(len(categories))]
	adjective := pick(rng, adjectives)
	material := pick(rng, materials)
	color := pick(rng, colors)
	noun := pick(rng, cat.nouns)

	price := cat.minPrice + rng.Float64()*(cat.maxPrice-cat.minPrice)
	price = float64(int(price*100)) / 100

	doc := document{
		ExternalID: fmt.Sprintf("sku-%06d", id),
		Title:      fmt.Sprintf("%s %s %s", titleCase(adjective), material, noun),
		Description: fmt.Sprintf(pick(rng, descriptionTemplates),
			adjective, material, noun, color),
		Category: cat.name,
		Price:    &price,
		Currency: pick(rng, currencies),
		Attributes: map[string]any{
			"color":    color,
			"material": material,
		},
	}

	// Most items carry a hosted asset; some are text-only.
	if rng.Float64() < 0.7 {
		doc.AssetURL = fmt.Sprintf("https://cdn.example.com/assets/%s.jpg", doc.ExternalID)
	}
	return doc
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

func main() {
	flag.Parse()

	if *numFiles < 1 {
		*numFiles = 1
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))
	perFile := (*numItems + *numFiles - 1) / *numFiles

	written := 0
	for file := 0; file < *numFiles && written < *numItems; file++ {
		count := perFile
		if remaining := *numItems - written; count > remaining {
			count = remaining
		}

		docs := make([]document, 0, count)
		for i := 0; i < count; i++ {
			docs = append(docs, generateItem(rng, written+i))
		}
		written += count

		data, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding feed: %v\n", err)
			os.Exit(1)
		}

		path := filepath.Join(*outputDir, fmt.Sprintf("feed-%03d.json", file+1))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s (%d items)\n", path, count)
	}

	fmt.Printf("Generated %d items across %d file(s) in %s (seed %d)\n",
		written, *numFiles, *outputDir, *seed)
}
