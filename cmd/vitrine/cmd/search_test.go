package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitrine-search/vitrine/internal/search"
	"github.com/vitrine-search/vitrine/internal/store"
)

func TestBuildQuery_RequiresOneMode(t *testing.T) {
	// Given: no text, image, or reference
	_, err := buildQuery("", searchOptions{})

	// Then: the query should be rejected
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to search for")
}

func TestBuildQuery_RejectsAmbiguousModes(t *testing.T) {
	tests := []struct {
		name string
		text string
		opts searchOptions
	}{
		{"text and image", "sofa", searchOptions{imageURL: "https://example.com/a.jpg"}},
		{"text and similar", "sofa", searchOptions{similarTo: "sku-1"}},
		{"image and similar", "", searchOptions{imageURL: "https://example.com/a.jpg", similarTo: "sku-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildQuery(tt.text, tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "exactly one")
		})
	}
}

func TestBuildQuery_TextQuery(t *testing.T) {
	// When: building a plain text query
	q, err := buildQuery("red velvet sofa", searchOptions{limit: 5, threshold: 0.4})

	// Then: kind, text, and tuning should carry over
	require.NoError(t, err)
	assert.Equal(t, store.QueryKindText, q.Kind)
	assert.Equal(t, "red velvet sofa", q.Text)
	assert.Equal(t, 5, q.TopK)
	assert.InDelta(t, 0.4, q.ScoreThreshold, 1e-9)
}

func TestBuildQuery_SimilarQuery(t *testing.T) {
	// When: building a similar-item query
	q, err := buildQuery("", searchOptions{similarTo: "sku-1042"})

	// Then: the reference id should be set
	require.NoError(t, err)
	assert.Equal(t, store.QueryKindSimilar, q.Kind)
	assert.Equal(t, "sku-1042", q.ReferenceID)
}

func TestBuildQuery_ImageURLQuery(t *testing.T) {
	// When: building a hosted-image query
	q, err := buildQuery("", searchOptions{imageURL: "https://cdn.example.com/sofa.jpg"})

	// Then: the URL rides along, no bytes are read
	require.NoError(t, err)
	assert.Equal(t, store.QueryKindImage, q.Kind)
	assert.Equal(t, "https://cdn.example.com/sofa.jpg", q.ImageURL)
	assert.Empty(t, q.ImageData)
}

func TestBuildQuery_LocalImageQuery(t *testing.T) {
	// Given: an image file on disk
	path := filepath.Join(t.TempDir(), "sofa.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0o644))

	// When: building a local-image query
	q, err := buildQuery("", searchOptions{imagePath: path})

	// Then: the file content should be inlined
	require.NoError(t, err)
	assert.Equal(t, store.QueryKindImage, q.Kind)
	assert.Equal(t, []byte("jpeg-bytes"), q.ImageData)
}

func TestBuildQuery_MissingImageFile(t *testing.T) {
	// When: the image path does not exist
	_, err := buildQuery("", searchOptions{imagePath: filepath.Join(t.TempDir(), "missing.jpg")})

	// Then: the read error should surface
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read image")
}

func TestDescribeQuerySubject(t *testing.T) {
	assert.Equal(t, `"oak table"`, describeQuerySubject("oak table", searchOptions{}))
	assert.Equal(t, `items similar to "sku-1"`, describeQuerySubject("", searchOptions{similarTo: "sku-1"}))
	assert.Equal(t, "image ./sofa.jpg", describeQuerySubject("", searchOptions{imagePath: "./sofa.jpg"}))
	assert.Equal(t, "the given image URL", describeQuerySubject("", searchOptions{imageURL: "https://x/y.jpg"}))
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "129.90 EUR", formatPrice(129.9, "EUR"))
	assert.Equal(t, "42.00", formatPrice(42, ""))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exact", truncate("exact", 5))
	assert.Equal(t, "abcd…", truncate("abcdef", 5))

	// Multi-byte runes must not be split.
	assert.Equal(t, "héll…", truncate("héllo world", 5))
}

func TestSearchCmd_Flags(t *testing.T) {
	// Given: a search command
	cmd := newSearchCmd()

	// Then: all query modes should be reachable through flags
	for _, flag := range []string{"limit", "threshold", "image", "image-url", "similar", "format"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "Flag --%s should be registered", flag)
	}
}

func TestSearchCmd_EndToEnd(t *testing.T) {
	// Given: a catalog with two indexed items
	tmpDir := t.TempDir()
	createTestCatalog(t, tmpDir)
	feedPath := writeTestFeed(t, tmpDir)
	chdir(t, tmpDir)

	load := NewRootCmd()
	load.SetOut(new(bytes.Buffer))
	load.SetErr(new(bytes.Buffer))
	load.SetArgs([]string{"index", "--feed", feedPath})
	require.NoError(t, load.Execute())

	// When: searching for one of them by title
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"search", "red", "velvet", "sofa"})

	err := cmd.Execute()

	// Then: that item ranks first
	require.NoError(t, err, "output: %s", buf.String())
	output := buf.String()
	assert.Contains(t, output, "Found")
	assert.Contains(t, output, "1. Red velvet sofa")
	assert.Contains(t, output, "id: sku-1")
}

func TestSearchCmd_EndToEnd_JSON(t *testing.T) {
	// Given: a catalog with two indexed items
	tmpDir := t.TempDir()
	createTestCatalog(t, tmpDir)
	feedPath := writeTestFeed(t, tmpDir)
	chdir(t, tmpDir)

	load := NewRootCmd()
	load.SetOut(new(bytes.Buffer))
	load.SetErr(new(bytes.Buffer))
	load.SetArgs([]string{"index", "--feed", feedPath})
	require.NoError(t, load.Execute())

	// When: searching with machine-readable output
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"search", "red velvet sofa", "--format", "json"})

	err := cmd.Execute()

	// Then: the results document decodes with the best hit first
	require.NoError(t, err, "output: %s", buf.String())

	var results search.Results
	require.NoError(t, json.Unmarshal(buf.Bytes(), &results))
	require.NotEmpty(t, results.Hits)
	assert.Equal(t, "sku-1", results.Hits[0].Item.ExternalID)
	assert.Equal(t, store.QueryKindText, results.Kind)
}

func TestSearchCmd_SimilarEndToEnd(t *testing.T) {
	// Given: a catalog with two indexed items
	tmpDir := t.TempDir()
	createTestCatalog(t, tmpDir)
	feedPath := writeTestFeed(t, tmpDir)
	chdir(t, tmpDir)

	load := NewRootCmd()
	load.SetOut(new(bytes.Buffer))
	load.SetErr(new(bytes.Buffer))
	load.SetArgs([]string{"index", "--feed", feedPath})
	require.NoError(t, load.Execute())

	// When: asking for items similar to one of them
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"search", "--similar", "sku-1"})

	err := cmd.Execute()

	// Then: the reference item matches its own stored vector at the top
	require.NoError(t, err, "output: %s", buf.String())
	output := buf.String()
	assert.Contains(t, output, `items similar to "sku-1"`)
	assert.Contains(t, output, "1. Red velvet sofa")
	assert.Contains(t, output, "id: sku-1")
}

func TestSearchCmd_SimilarUnindexed(t *testing.T) {
	// Given: a catalog whose index has never seen the reference id
	tmpDir := t.TempDir()
	createTestCatalog(t, tmpDir)
	feedPath := writeTestFeed(t, tmpDir)
	chdir(t, tmpDir)

	load := NewRootCmd()
	load.SetOut(new(bytes.Buffer))
	load.SetErr(new(bytes.Buffer))
	load.SetArgs([]string{"index", "--feed", feedPath})
	require.NoError(t, load.Execute())

	// When: asking for neighbors of an id that was never indexed
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"search", "--similar", "sku-ghost"})

	err := cmd.Execute()

	// Then: the command fails with a not-indexed error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sku-ghost")
	assert.Contains(t, err.Error(), "not indexed")
}

func TestSearchCmd_NoCatalog(t *testing.T) {
	// Given: an empty directory with no catalog
	tmpDir := t.TempDir()
	oldDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldDir) }()

	// When: searching
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"search", "sofa"})

	err = cmd.Execute()

	// Then: it should point at init instead of failing obscurely
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no catalog found")
	assert.Contains(t, err.Error(), "vitrine init")
}
