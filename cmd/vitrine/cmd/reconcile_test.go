package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitrine-search/vitrine/internal/config"
)

func TestReconcileCmd_ConsistentCatalog(t *testing.T) {
	// Given: a freshly loaded catalog
	tmpDir := t.TempDir()
	createTestCatalog(t, tmpDir)
	feedPath := writeTestFeed(t, tmpDir)
	chdir(t, tmpDir)

	load := NewRootCmd()
	load.SetOut(new(bytes.Buffer))
	load.SetErr(new(bytes.Buffer))
	load.SetArgs([]string{"index", "--feed", feedPath})
	require.NoError(t, load.Execute())

	// When: reconciling
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"reconcile"})

	err := cmd.Execute()

	// Then: both stores line up with nothing to repair
	require.NoError(t, err, "output: %s", buf.String())
	output := buf.String()
	assert.Contains(t, output, "Reconciliation complete")
	assert.Contains(t, output, "Stores are consistent")
}

func TestReconcileCmd_JSONReport(t *testing.T) {
	// Given: a freshly loaded catalog
	tmpDir := t.TempDir()
	createTestCatalog(t, tmpDir)
	feedPath := writeTestFeed(t, tmpDir)
	chdir(t, tmpDir)

	load := NewRootCmd()
	load.SetOut(new(bytes.Buffer))
	load.SetErr(new(bytes.Buffer))
	load.SetArgs([]string{"index", "--feed", feedPath})
	require.NoError(t, load.Execute())

	// When: reconciling with --json
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"reconcile", "--json"})

	err := cmd.Execute()

	// Then: the report decodes and covers both items
	require.NoError(t, err, "output: %s", buf.String())

	var report struct {
		ItemsChecked   int `json:"items_checked"`
		VectorsChecked int `json:"vectors_checked"`
		Resubmitted    int `json:"resubmitted"`
		Purged         int `json:"purged"`
		Failures       int `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.Equal(t, 2, report.ItemsChecked)
	assert.Zero(t, report.Failures)
}

func TestReconcileCmd_RepairsMissingVectors(t *testing.T) {
	// Given: a loaded catalog whose vector snapshot was removed
	tmpDir := t.TempDir()
	createTestCatalog(t, tmpDir)
	feedPath := writeTestFeed(t, tmpDir)
	chdir(t, tmpDir)

	load := NewRootCmd()
	load.SetOut(new(bytes.Buffer))
	load.SetErr(new(bytes.Buffer))
	load.SetArgs([]string{"index", "--feed", feedPath})
	require.NoError(t, load.Execute())

	require.NoError(t, clearVectorSnapshot(config.NewConfig().VectorsPath(tmpDir)))

	// When: reconciling
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"reconcile"})

	err := cmd.Execute()

	// Then: the missing vectors are resubmitted and re-embedded
	require.NoError(t, err, "output: %s", buf.String())
	assert.Contains(t, buf.String(), "Reconciliation complete")
	assert.NotContains(t, buf.String(), "could not be repaired")
}
