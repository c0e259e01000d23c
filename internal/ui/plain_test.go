package ui

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainRenderer_UpdateProgress_OutputFormat(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: updating progress
	r.UpdateProgress(ProgressEvent{
		Stage:       StageIndexing,
		Current:     50,
		Total:       100,
		CurrentItem: "sku-1042",
	})

	// Then: output is correctly formatted
	output := buf.String()
	assert.Contains(t, output, "[INDEX]")
	assert.Contains(t, output, "50/100")
	assert.Contains(t, output, "sku-1042")
}

func TestPlainRenderer_UpdateProgress_NoANSICodes(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: rendering progress through all stages
	stages := []Stage{StageQueueing, StageIndexing, StageReconciling, StageComplete}
	for _, stage := range stages {
		r.UpdateProgress(ProgressEvent{
			Stage:   stage,
			Current: 50,
			Total:   100,
			Message: "Processing...",
		})
	}

	// Then: output contains no ANSI escape codes
	output := buf.String()
	assert.NotContains(t, output, "\x1b[", "should not contain ANSI escape codes")
	assert.NotContains(t, output, "\033[", "should not contain ANSI escape codes")
}

func TestPlainRenderer_UpdateProgress_WithMessage(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: updating with message instead of item
	r.UpdateProgress(ProgressEvent{
		Stage:   StageQueueing,
		Current: 100,
		Total:   200,
		Message: "Submitting tasks...",
	})

	// Then: message is shown
	output := buf.String()
	assert.Contains(t, output, "[QUEUE]")
	assert.Contains(t, output, "Submitting tasks...")
}

func TestPlainRenderer_UpdateProgress_ZeroTotal(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: updating with zero total (unknown count)
	r.UpdateProgress(ProgressEvent{
		Stage:   StageQueueing,
		Total:   0,
		Message: "Enumerating catalog...",
	})

	// Then: shows message without count
	output := buf.String()
	assert.Contains(t, output, "[QUEUE]")
	assert.Contains(t, output, "Enumerating catalog...")
	assert.NotContains(t, output, "0/0")
}

func TestPlainRenderer_AddError_Error(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: adding an error
	r.AddError(ErrorEvent{
		Item:   "sku-broken",
		Err:    errors.New("asset fetch timed out"),
		IsWarn: false,
	})

	// Then: error is formatted correctly
	output := buf.String()
	assert.Contains(t, output, "ERROR:")
	assert.Contains(t, output, "sku-broken")
	assert.Contains(t, output, "asset fetch timed out")
}

func TestPlainRenderer_AddError_Warning(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: adding a warning
	r.AddError(ErrorEvent{
		Item:   "sku-stale",
		Err:    errors.New("stale task skipped"),
		IsWarn: true,
	})

	// Then: warning is formatted correctly
	output := buf.String()
	assert.Contains(t, output, "WARN:")
	assert.Contains(t, output, "sku-stale")
	assert.Contains(t, output, "stale task skipped")
}

func TestPlainRenderer_AddError_NoItem(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: adding error without item
	r.AddError(ErrorEvent{
		Err:    errors.New("connection failed"),
		IsWarn: false,
	})

	// Then: error shows without item prefix
	output := buf.String()
	assert.Contains(t, output, "ERROR:")
	assert.Contains(t, output, "connection failed")
}

func TestPlainRenderer_Complete_Basic(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: completing
	r.Complete(CompletionStats{
		Items:     100,
		Committed: 100,
		Duration:  5 * time.Second,
	})

	// Then: summary is shown
	output := buf.String()
	assert.Contains(t, output, "Complete:")
	assert.Contains(t, output, "100 of 100 items committed")
	assert.Contains(t, output, "5s")
	assert.NotContains(t, output, "skipped")
}

func TestPlainRenderer_Complete_WithFailures(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: completing with failures
	r.Complete(CompletionStats{
		Items:        100,
		Committed:    95,
		Skipped:      2,
		Failed:       3,
		DeadLettered: 1,
		Duration:     10 * time.Second,
	})

	// Then: the breakdown is included
	output := buf.String()
	assert.Contains(t, output, "95 of 100 items committed")
	assert.Contains(t, output, "2 skipped")
	assert.Contains(t, output, "3 failed")
	assert.Contains(t, output, "1 dead-lettered")
}

func TestPlainRenderer_Complete_ShowsBackend(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: completing with embedder info
	r.Complete(CompletionStats{
		Items:     10,
		Committed: 10,
		Duration:  time.Second,
		Embedder: EmbedderInfo{
			Model:      "static-hash-v1",
			Dimensions: 384,
		},
	})

	// Then: backend line is shown
	output := buf.String()
	assert.Contains(t, output, "Backend: static-hash-v1 (384 dims)")
}

func TestPlainRenderer_Complete_NoANSICodes(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: completing
	r.Complete(CompletionStats{
		Items:     100,
		Committed: 98,
		Failed:    2,
		Duration:  5 * time.Second,
	})

	// Then: no ANSI codes in output
	output := buf.String()
	assert.NotContains(t, output, "\x1b[")
	assert.NotContains(t, output, "\033[")
}

func TestPlainRenderer_StartStop(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: starting and stopping
	ctx := context.Background()
	err := r.Start(ctx)
	require.NoError(t, err)

	err = r.Stop()
	require.NoError(t, err)
}

func TestPlainRenderer_ThreadSafe(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: concurrent updates
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(n int) {
			r.UpdateProgress(ProgressEvent{
				Stage:   StageIndexing,
				Current: n,
				Total:   100,
			})
			r.AddError(ErrorEvent{
				Item:   "sku-1",
				Err:    errors.New("test"),
				IsWarn: n%2 == 0,
			})
			done <- true
		}(i)
	}

	// Wait for all goroutines
	for i := 0; i < 10; i++ {
		<-done
	}

	// Then: no panic, output is written
	output := buf.String()
	assert.NotEmpty(t, output)
}

func TestPlainRenderer_AllStages(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: going through all stages
	stages := []struct {
		stage Stage
		icon  string
	}{
		{StageQueueing, "QUEUE"},
		{StageIndexing, "INDEX"},
		{StageReconciling, "RECON"},
	}

	for _, s := range stages {
		r.UpdateProgress(ProgressEvent{
			Stage:   s.stage,
			Current: 50,
			Total:   100,
		})
	}

	// Then: all stage icons appear
	output := buf.String()
	for _, s := range stages {
		assert.Contains(t, output, "["+s.icon+"]")
	}
}
