package ui

import (
	"bytes"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestNewTUIRenderer_ReturnsNilForNonTTY(t *testing.T) {
	// Given: a non-TTY buffer
	buf := &bytes.Buffer{}
	cfg := NewConfig(buf)

	// When: creating TUI renderer
	r, err := NewTUIRenderer(cfg)

	// Then: returns error (can't create TUI for non-TTY)
	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestReindexModel_InitialView(t *testing.T) {
	// Given: a new reindex model with properly initialized tracker
	tracker := NewProgressTracker()
	model := newReindexModel(tracker, "")

	// When: getting initial view
	view := model.View()

	// Then: view contains stage indicators
	assert.Contains(t, view, "Queue")
}

func TestReindexModel_StageIndicators(t *testing.T) {
	// Given: a model at the queueing stage
	tracker := NewProgressTracker()
	model := newReindexModel(tracker, "")

	tracker.SetStage(StageQueueing, 100)
	view := model.View()

	// Then: all stage indicators are shown (short names)
	assert.Contains(t, view, "Queue")
	assert.Contains(t, view, "Index")
	assert.Contains(t, view, "Reconcile")
}

func TestReindexModel_HeaderShowsDataDir(t *testing.T) {
	// Given: a model with a data dir
	tracker := NewProgressTracker()
	model := newReindexModel(tracker, "/srv/catalog/.vitrine")

	// When: rendering view
	view := model.View()

	// Then: header names the run and the data dir
	assert.Contains(t, view, "Vitrine Reindex")
	assert.Contains(t, view, "/srv/catalog/.vitrine")
}

func TestReindexModel_ProgressDisplay(t *testing.T) {
	// Given: a model with progress
	tracker := NewProgressTracker()
	tracker.SetStage(StageIndexing, 100)
	tracker.Update(50, "sku-1042")

	model := newReindexModel(tracker, "")

	// When: rendering view
	view := model.View()

	// Then: progress is shown
	assert.Contains(t, view, "50")
	assert.Contains(t, view, "100")
	assert.Contains(t, view, "items")
}

func TestReindexModel_CurrentItemDisplay(t *testing.T) {
	// Given: a model with a current item
	tracker := NewProgressTracker()
	tracker.SetStage(StageIndexing, 100)
	tracker.Update(1, "sku-blue-sofa-0042")

	model := newReindexModel(tracker, "")

	// When: rendering view
	view := model.View()

	// Then: item identifier is shown
	assert.Contains(t, view, "sku-blue-sofa-0042")
}

func TestReindexModel_ErrorDisplay(t *testing.T) {
	// Given: a model with errors
	tracker := NewProgressTracker()
	tracker.AddError(ErrorEvent{
		Item:   "sku-broken",
		Err:    assert.AnError,
		IsWarn: false,
	})
	tracker.AddError(ErrorEvent{
		Item:   "sku-slow",
		Err:    assert.AnError,
		IsWarn: true,
	})

	model := newReindexModel(tracker, "")

	// When: rendering view
	view := model.View()

	// Then: error count is shown
	assert.Contains(t, view, "1 errors")
	assert.Contains(t, view, "1 warnings")
}

func TestReindexModel_QuitKeys(t *testing.T) {
	// Given: a running model
	tracker := NewProgressTracker()
	model := newReindexModel(tracker, "")

	// When: pressing q
	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})

	// Then: the model quits
	assert.NotNil(t, cmd)
	assert.True(t, model.quitting)
}

func TestReindexModel_CompleteMsgQuits(t *testing.T) {
	// Given: a running model
	tracker := NewProgressTracker()
	model := newReindexModel(tracker, "")

	// When: receiving a completion message
	_, cmd := model.Update(completeMsg(CompletionStats{Items: 10, Committed: 10}))

	// Then: the model marks completion and quits
	assert.True(t, model.complete)
	assert.NotNil(t, cmd)
}

func TestReindexModel_CompletionState(t *testing.T) {
	// Given: a completed model
	tracker := NewProgressTracker()
	tracker.SetStage(StageComplete, 0)

	model := newReindexModel(tracker, "")
	model.complete = true
	model.stats = CompletionStats{
		Items:        100,
		Committed:    98,
		Failed:       2,
		Duration:     3 * time.Second,
		Embedder:     EmbedderInfo{Model: "static-hash-v1", Dimensions: 384},
		DeadLettered: 1,
	}

	// When: rendering view
	view := model.View()

	// Then: shows completion summary
	assert.Contains(t, view, "Reindex Complete")
	assert.Contains(t, view, "98")
	assert.Contains(t, view, "static-hash-v1")
	assert.Contains(t, view, "2 failed")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m 30s"},
		{2 * time.Minute, "2m"},
		{90 * time.Minute, "1h 30m"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDuration(tt.d))
		})
	}
}

func TestTruncateItem_Short(t *testing.T) {
	// Given: a short identifier
	item := "sku-1042"

	// When: truncating
	result := truncateItem(item, 50)

	// Then: unchanged
	assert.Equal(t, item, result)
}

func TestTruncateItem_Long(t *testing.T) {
	// Given: a long identifier
	item := "sku-with-a-very-long-descriptive-external-identifier-0042"

	// When: truncating to 30 chars
	result := truncateItem(item, 30)

	// Then: truncated with ellipsis, keeping the prefix
	assert.LessOrEqual(t, len(result), 30)
	assert.Contains(t, result, "...")
	assert.Contains(t, result, "sku-with")
}

func TestTruncateItem_Empty(t *testing.T) {
	// Given: empty identifier
	// When: truncating
	result := truncateItem("", 50)

	// Then: returns empty
	assert.Equal(t, "", result)
}

func TestTUIRenderer_InterfaceCompliance(t *testing.T) {
	// Ensure TUIRenderer implements Renderer
	var _ Renderer = (*TUIRenderer)(nil)
}
