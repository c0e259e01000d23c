package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
)

// Helper to create a test store with cleanup
func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, ".vitrine", "metadata.db")

	store, err := NewSQLiteStore(dbPath, DefaultMetadataConfig())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store, dbPath
}

func testItem(n int) *Item {
	price := 100.0 + float64(n)
	return &Item{
		ExternalID: fmt.Sprintf("sku-%d", n),
		Title:      fmt.Sprintf("Item %d", n),
		Category:   "furniture",
		Price:      &price,
		Currency:   "EUR",
		AssetURL:   fmt.Sprintf("https://img.example.com/%d.jpg", n),
		Attributes: Attributes{{Key: "color", Value: "red"}},
	}
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Given: a new item
	price := 499.99
	item := &Item{
		ExternalID:  "sku-1",
		Title:       "Red Sofa",
		Description: "A plush red three-seater",
		Category:    "furniture",
		Price:       &price,
		Currency:    "EUR",
		AssetURL:    "https://img.example.com/sofa.jpg",
		Attributes:  Attributes{{Key: "color", Value: "red"}, {Key: "seats", Value: 3}},
	}

	// When: I create it
	err := store.CreateItem(ctx, item)
	require.NoError(t, err)

	// Then: the surrogate key and timestamps are filled
	assert.Positive(t, item.InternalID)
	assert.False(t, item.CreatedAt.IsZero())
	assert.Equal(t, item.CreatedAt, item.UpdatedAt)

	// And: it is retrievable by internal id
	byInternal, err := store.GetItemByInternalID(ctx, item.InternalID)
	require.NoError(t, err)
	assert.Equal(t, "sku-1", byInternal.ExternalID)
	assert.Equal(t, "Red Sofa", byInternal.Title)
	require.NotNil(t, byInternal.Price)
	assert.Equal(t, 499.99, *byInternal.Price)

	// And: by external id, with attributes intact
	byExternal, err := store.GetItemByExternalID(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, item.InternalID, byExternal.InternalID)
	color, ok := byExternal.Attributes.Get("color")
	require.True(t, ok)
	assert.Equal(t, "red", color)
	seats, ok := byExternal.Attributes.Get("seats")
	require.True(t, ok)
	assert.Equal(t, float64(3), seats)
}

func TestSQLiteStore_CreateDuplicateExternalID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Given: an existing item
	require.NoError(t, store.CreateItem(ctx, testItem(1)))

	// When: creating a second item with the same external id
	err := store.CreateItem(ctx, testItem(1))

	// Then: a conflict is reported and the original is untouched
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsConflict(err))

	count, err := store.CountItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_CreateValidation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	negative := -1.0
	tests := []struct {
		name string
		item *Item
	}{
		{"nil item", nil},
		{"missing external id", &Item{Title: "X"}},
		{"missing title", &Item{ExternalID: "sku-x"}},
		{"negative price", &Item{ExternalID: "sku-x", Title: "X", Price: &negative}},
		{"bad attributes", &Item{ExternalID: "sku-x", Title: "X",
			Attributes: Attributes{{Key: "", Value: "v"}}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := store.CreateItem(ctx, tc.item)
			require.Error(t, err)
			assert.True(t, vitrineerrors.IsValidation(err))
		})
	}

	// Nothing was written
	count, err := store.CountItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSQLiteStore_GetNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetItemByInternalID(ctx, 9999)
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsNotFound(err))

	_, err = store.GetItemByExternalID(ctx, "no-such-sku")
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsNotFound(err))
}

func TestSQLiteStore_ListItems_Pagination(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Given: 25 items
	for i := 0; i < 25; i++ {
		require.NoError(t, store.CreateItem(ctx, testItem(i)))
	}

	// When: walking three pages of 10
	page1, err := store.ListItems(ctx, 0, 10)
	require.NoError(t, err)
	page2, err := store.ListItems(ctx, 10, 10)
	require.NoError(t, err)
	page3, err := store.ListItems(ctx, 20, 10)
	require.NoError(t, err)

	// Then: page sizes are 10, 10, 5
	require.Len(t, page1, 10)
	require.Len(t, page2, 10)
	require.Len(t, page3, 5)

	// And: pages are disjoint, contiguous, and ascending by internal id
	seen := make(map[int64]bool)
	var last int64
	for _, page := range [][]*Item{page1, page2, page3} {
		for _, item := range page {
			assert.False(t, seen[item.InternalID], "page overlap at internal_id %d", item.InternalID)
			seen[item.InternalID] = true
			assert.Greater(t, item.InternalID, last)
			last = item.InternalID
		}
	}
	assert.Len(t, seen, 25)
}

func TestSQLiteStore_ListItems_Limits(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultMetadataConfig()
	cfg.DefaultPageSize = 5
	cfg.MaxPageSize = 10
	store, err := NewSQLiteStore(filepath.Join(tmpDir, "metadata.db"), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		require.NoError(t, store.CreateItem(ctx, testItem(i)))
	}

	// Zero limit falls back to the default page size
	items, err := store.ListItems(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, items, 5)

	// Oversized limit is capped at the maximum
	items, err = store.ListItems(ctx, 0, 100)
	require.NoError(t, err)
	assert.Len(t, items, 10)

	// Negative arguments are rejected
	_, err = store.ListItems(ctx, -1, 10)
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsValidation(err))

	_, err = store.ListItems(ctx, 0, -1)
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsValidation(err))

	// Offset past the end yields an empty page, not an error
	items, err = store.ListItems(ctx, 100, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSQLiteStore_ListItemsByCategory(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Given: items across two categories
	for i := 0; i < 4; i++ {
		item := testItem(i)
		item.Category = "furniture"
		require.NoError(t, store.CreateItem(ctx, item))
	}
	for i := 4; i < 7; i++ {
		item := testItem(i)
		item.Category = "lighting"
		require.NoError(t, store.CreateItem(ctx, item))
	}

	// When: listing one category
	furniture, err := store.ListItemsByCategory(ctx, "furniture", 0, 10)
	require.NoError(t, err)
	lighting, err := store.ListItemsByCategory(ctx, "lighting", 0, 10)
	require.NoError(t, err)

	// Then: only that category comes back, ascending by internal id
	require.Len(t, furniture, 4)
	require.Len(t, lighting, 3)
	for _, item := range furniture {
		assert.Equal(t, "furniture", item.Category)
	}

	// And: pagination applies within the category
	page, err := store.ListItemsByCategory(ctx, "furniture", 2, 10)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	// And: a blank category is rejected
	_, err = store.ListItemsByCategory(ctx, "  ", 0, 10)
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsValidation(err))

	// And: an unknown category is an empty page, not an error
	empty, err := store.ListItemsByCategory(ctx, "garden", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLiteStore_UpdateItem(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Given: an existing item
	item := testItem(1)
	require.NoError(t, store.CreateItem(ctx, item))
	time.Sleep(10 * time.Millisecond)

	// When: patching only the title and price
	newTitle := "Crimson Sofa"
	newPrice := 459.0
	updated, err := store.UpdateItem(ctx, item.InternalID, ItemPatch{
		Title: &newTitle,
		Price: &newPrice,
	})
	require.NoError(t, err)

	// Then: patched fields changed, the rest did not
	assert.Equal(t, "Crimson Sofa", updated.Title)
	require.NotNil(t, updated.Price)
	assert.Equal(t, 459.0, *updated.Price)
	assert.Equal(t, item.ExternalID, updated.ExternalID)
	assert.Equal(t, item.Category, updated.Category)

	// And: updated_at moved forward while created_at did not
	assert.True(t, updated.UpdatedAt.After(item.CreatedAt))
	assert.Equal(t, item.CreatedAt.UnixNano(), updated.CreatedAt.UnixNano())

	// And: the change is durable
	fetched, err := store.GetItemByInternalID(ctx, item.InternalID)
	require.NoError(t, err)
	assert.Equal(t, "Crimson Sofa", fetched.Title)
}

func TestSQLiteStore_UpdateItem_Errors(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	item := testItem(1)
	require.NoError(t, store.CreateItem(ctx, item))

	// Empty patch is rejected
	_, err := store.UpdateItem(ctx, item.InternalID, ItemPatch{})
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsValidation(err))

	// Unknown item is not found
	title := "X"
	_, err = store.UpdateItem(ctx, 9999, ItemPatch{Title: &title})
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsNotFound(err))

	// A patch that would clear the title is rejected
	empty := ""
	_, err = store.UpdateItem(ctx, item.InternalID, ItemPatch{Title: &empty})
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsValidation(err))

	// And the stored title is unchanged
	fetched, err := store.GetItemByInternalID(ctx, item.InternalID)
	require.NoError(t, err)
	assert.Equal(t, item.Title, fetched.Title)
}

func TestSQLiteStore_DeleteItem(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	item := testItem(1)
	require.NoError(t, store.CreateItem(ctx, item))

	// When: deleting it
	require.NoError(t, store.DeleteItem(ctx, item.InternalID))

	// Then: it is gone
	_, err := store.GetItemByInternalID(ctx, item.InternalID)
	assert.True(t, vitrineerrors.IsNotFound(err))

	// And: deleting again reports not found
	err = store.DeleteItem(ctx, item.InternalID)
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsNotFound(err))
}

func TestSQLiteStore_CategoryCounts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	categories := []string{"sofas", "sofas", "sofas", "tables", "tables", "lamps"}
	for i, cat := range categories {
		item := testItem(i)
		item.Category = cat
		require.NoError(t, store.CreateItem(ctx, item))
	}

	counts, err := store.CategoryCounts(ctx, 10)
	require.NoError(t, err)

	require.Len(t, counts, 3)
	assert.Equal(t, CategoryCount{Category: "sofas", Count: 3}, counts[0])
	assert.Equal(t, CategoryCount{Category: "tables", Count: 2}, counts[1])
	assert.Equal(t, CategoryCount{Category: "lamps", Count: 1}, counts[2])
}

func TestSQLiteStore_SearchEvents(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Given: a logged text search
	topScore := 0.91
	event := &SearchEvent{
		QueryKind:   QueryKindText,
		QueryText:   "red sofa",
		TopScore:    &topScore,
		ResultCount: 3,
		LatencyMS:   42,
		SessionID:   "sess-1",
	}
	require.NoError(t, store.LogSearch(ctx, event))
	assert.Positive(t, event.ID)
	assert.False(t, event.CreatedAt.IsZero())

	// And: a similar-item search without results
	require.NoError(t, store.LogSearch(ctx, &SearchEvent{
		QueryKind:   QueryKindSimilar,
		ReferenceID: "sku-1",
		ResultCount: 0,
		LatencyMS:   7,
	}))

	// When: listing events
	events, err := store.ListSearchEvents(ctx, 10)
	require.NoError(t, err)

	// Then: newest first, fields round-tripped
	require.Len(t, events, 2)
	assert.Equal(t, QueryKindSimilar, events[0].QueryKind)
	assert.Equal(t, "sku-1", events[0].ReferenceID)
	assert.Nil(t, events[0].TopScore)
	assert.Equal(t, QueryKindText, events[1].QueryKind)
	require.NotNil(t, events[1].TopScore)
	assert.Equal(t, 0.91, *events[1].TopScore)
}

func TestSQLiteStore_LogSearch_RejectsUnknownKind(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.LogSearch(context.Background(), &SearchEvent{QueryKind: "voice"})
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsValidation(err))
}

func TestSQLiteStore_SearchEventStats(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Given: two recent searches and one old one
	old := &SearchEvent{QueryKind: QueryKindText, QueryText: "ancient",
		ResultCount: 1, LatencyMS: 100, CreatedAt: time.Now().Add(-2 * time.Hour)}
	require.NoError(t, store.LogSearch(ctx, old))
	require.NoError(t, store.LogSearch(ctx, &SearchEvent{
		QueryKind: QueryKindText, QueryText: "sofa", ResultCount: 4, LatencyMS: 20}))
	require.NoError(t, store.LogSearch(ctx, &SearchEvent{
		QueryKind: QueryKindImage, ResultCount: 0, LatencyMS: 60}))

	// When: aggregating the whole log
	stats, err := store.GetSearchEventStats(ctx, time.Time{})
	require.NoError(t, err)

	// Then: totals cover all three events
	assert.Equal(t, 3, stats.TotalSearches)
	assert.Equal(t, 2, stats.ByKind[QueryKindText])
	assert.Equal(t, 1, stats.ByKind[QueryKindImage])
	assert.Equal(t, 1, stats.ZeroResultSearches)
	assert.InDelta(t, 60.0, stats.AvgLatencyMS, 0.001)

	// And: a cutoff excludes the old event
	recent, err := store.GetSearchEventStats(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, recent.TotalSearches)
}

func TestSQLiteStore_DeadLetters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Given: a saved dead letter
	dl := &DeadLetter{
		TaskID:     "task-abc",
		ExternalID: "sku-9",
		Kind:       "index",
		Attempts:   5,
		LastError:  "embedding service unavailable",
	}
	require.NoError(t, store.SaveDeadLetter(ctx, dl))
	assert.Positive(t, dl.ID)

	// When: fetching and listing
	fetched, err := store.GetDeadLetter(ctx, dl.ID)
	require.NoError(t, err)
	assert.Equal(t, "sku-9", fetched.ExternalID)
	assert.Equal(t, 5, fetched.Attempts)

	letters, err := store.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)

	// Then: deleting it empties the list
	require.NoError(t, store.DeleteDeadLetter(ctx, dl.ID))
	letters, err = store.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, letters)

	// And: a second delete reports not found
	err = store.DeleteDeadLetter(ctx, dl.ID)
	assert.True(t, vitrineerrors.IsNotFound(err))
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "metadata.db")
	ctx := context.Background()

	// Given: a store with one item, closed cleanly
	store1, err := NewSQLiteStore(dbPath, DefaultMetadataConfig())
	require.NoError(t, err)
	item := testItem(1)
	require.NoError(t, store1.CreateItem(ctx, item))
	require.NoError(t, store1.Close())

	// When: reopening the same path
	store2, err := NewSQLiteStore(dbPath, DefaultMetadataConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store2.Close() })

	// Then: the item survived
	fetched, err := store2.GetItemByExternalID(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, item.InternalID, fetched.InternalID)
	assert.Equal(t, item.Title, fetched.Title)
}

func TestSQLiteStore_CloseIdempotent(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	// Operations after close fail cleanly
	_, err := store.CountItems(context.Background())
	require.Error(t, err)
}

func BenchmarkSQLiteStore_GetItemByExternalID(b *testing.B) {
	store, err := NewSQLiteStore(filepath.Join(b.TempDir(), "metadata.db"), DefaultMetadataConfig())
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		if err := store.CreateItem(ctx, testItem(i)); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := store.GetItemByExternalID(ctx, fmt.Sprintf("sku-%d", i%1000)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSQLiteStore_ListItems(b *testing.B) {
	store, err := NewSQLiteStore(filepath.Join(b.TempDir(), "metadata.db"), DefaultMetadataConfig())
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		if err := store.CreateItem(ctx, testItem(i)); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := store.ListItems(ctx, (i%10)*100, 100); err != nil {
			b.Fatal(err)
		}
	}
}
