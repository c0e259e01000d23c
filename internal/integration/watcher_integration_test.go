package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitrine-search/vitrine/internal/feed"
)

const testFeedJSON = `[
  {"external_id": "sku-1", "title": "Red velvet sofa", "description": "A plush three-seat sofa.", "category": "furniture"},
  {"external_id": "sku-2", "title": "Oak dining table", "description": "A solid oak table.", "category": "furniture"}
]`

// startWatcher runs a feed watcher over a drop directory until the test
// ends.
func startWatcher(t *testing.T, s *stack, dir string, opts feed.Options) *feed.Watcher {
	t.Helper()

	loader, err := feed.NewLoader(s.metadata, s.pipe)
	require.NoError(t, err)

	w, err := feed.NewWatcher(loader, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Start(ctx, dir) }()

	return w
}

// waitForReport receives one load report or fails the test.
func waitForReport(t *testing.T, w *feed.Watcher) *feed.FileReport {
	t.Helper()
	select {
	case report := <-w.Reports():
		return report
	case err := <-w.Errors():
		t.Fatalf("watcher reported error instead of load: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a feed load report")
	}
	return nil
}

// waitForDrain blocks until the pipeline has settled every submitted
// task.
func waitForDrain(t *testing.T, s *stack) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stats := s.pipe.Stats()
		settled := stats.Committed + stats.Skipped + stats.DeadLettered
		if stats.Submitted > 0 && settled == stats.Submitted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("pipeline never drained")
}

func TestFeedWatcher_DroppedFileBecomesSearchable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := newStack(t)
	dropDir := t.TempDir()
	w := startWatcher(t, s, dropDir, feed.Options{Debounce: 50 * time.Millisecond})

	// The watch registration races Start; give it a moment.
	time.Sleep(200 * time.Millisecond)

	// When: a producer drops a feed file
	feedPath := filepath.Join(dropDir, "catalog.json")
	require.NoError(t, os.WriteFile(feedPath, []byte(testFeedJSON), 0o644))

	// Then: the file is loaded, indexed and searchable
	report := waitForReport(t, w)
	assert.Equal(t, feedPath, report.Path)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 2, report.Submitted)
	assert.Empty(t, report.Malformed)

	waitForDrain(t, s)
	results := s.searchText(t, "red velvet sofa")
	require.NotEmpty(t, results.Hits)
	assert.Equal(t, "sku-1", results.Hits[0].Item.ExternalID)
}

func TestFeedWatcher_InitialSweepLoadsExistingFiles(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := newStack(t)
	dropDir := t.TempDir()

	// Given: a feed file dropped while no watcher was running
	feedPath := filepath.Join(dropDir, "catalog.json")
	require.NoError(t, os.WriteFile(feedPath, []byte(testFeedJSON), 0o644))

	// When: the watcher starts with the sweep enabled
	w := startWatcher(t, s, dropDir, feed.Options{
		Debounce:     50 * time.Millisecond,
		InitialSweep: true,
	})

	// Then: the existing file is loaded without any new event
	report := waitForReport(t, w)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 2, report.Submitted)
}

func TestFeedWatcher_IgnoresStagingFiles(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := newStack(t)
	dropDir := t.TempDir()
	w := startWatcher(t, s, dropDir, feed.Options{Debounce: 50 * time.Millisecond})
	time.Sleep(200 * time.Millisecond)

	// When: staging files land first, then the real feed
	require.NoError(t, os.WriteFile(filepath.Join(dropDir, "catalog.json.tmp"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dropDir, ".hidden.json"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dropDir, "notes.txt"), []byte("not a feed"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dropDir, "catalog.json"), []byte(testFeedJSON), 0o644))

	// Then: the first and only report is for the real feed file
	report := waitForReport(t, w)
	assert.Equal(t, filepath.Join(dropDir, "catalog.json"), report.Path)
	assert.Equal(t, 2, report.Created)
}

func TestFeedWatcher_RewrittenFileUpdatesItems(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := newStack(t)
	dropDir := t.TempDir()
	w := startWatcher(t, s, dropDir, feed.Options{Debounce: 50 * time.Millisecond})
	time.Sleep(200 * time.Millisecond)

	// Given: an already-loaded feed file
	feedPath := filepath.Join(dropDir, "catalog.json")
	require.NoError(t, os.WriteFile(feedPath, []byte(testFeedJSON), 0o644))
	first := waitForReport(t, w)
	require.Equal(t, 2, first.Created)
	waitForDrain(t, s)

	// When: the producer rewrites it with a changed title
	updated := `[
  {"external_id": "sku-1", "title": "Blue velvet sofa", "description": "A plush three-seat sofa.", "category": "furniture"},
  {"external_id": "sku-2", "title": "Oak dining table", "description": "A solid oak table.", "category": "furniture"}
]`
	require.NoError(t, os.WriteFile(feedPath, []byte(updated), 0o644))

	// Then: the second load updates instead of creating
	second := waitForReport(t, w)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 2, second.Updated)

	item, err := s.metadata.GetItemByExternalID(context.Background(), "sku-1")
	require.NoError(t, err)
	assert.Equal(t, "Blue velvet sofa", item.Title)
}

func TestFeedWatcher_MalformedFeedSurfacesError(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := newStack(t)
	dropDir := t.TempDir()
	w := startWatcher(t, s, dropDir, feed.Options{Debounce: 50 * time.Millisecond})
	time.Sleep(200 * time.Millisecond)

	// When: a file that is not a JSON array lands
	badPath := filepath.Join(dropDir, "broken.json")
	require.NoError(t, os.WriteFile(badPath, []byte(`{"external_id": "sku-1"}`), 0o644))

	// Then: the load error surfaces on the error channel
	select {
	case err := <-w.Errors():
		assert.Contains(t, err.Error(), "JSON array")
	case report := <-w.Reports():
		t.Fatalf("expected an error, got report for %s", report.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the load error")
	}
}
