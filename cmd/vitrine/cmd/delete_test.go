package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitrine-search/vitrine/internal/config"
)

func TestDeleteCmd_RemovesItem(t *testing.T) {
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

	// When: deleting one of them
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"delete", "sku-1"})

	err := cmd.Execute()

	// Then: the item is gone from the metadata store
	require.NoError(t, err, "output: %s", buf.String())
	assert.Contains(t, buf.String(), "Deleted sku-1")
	assert.Equal(t, 1, countItems(t, tmpDir))
}

func TestDeleteCmd_UnknownItem(t *testing.T) {
	// Given: an empty catalog
	tmpDir := t.TempDir()
	createTestCatalog(t, tmpDir)
	seedDeadLetters(t, tmpDir, 0)
	chdir(t, tmpDir)

	// When: deleting an id that does not exist
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"delete", "sku-ghost"})

	err := cmd.Execute()

	// Then: the id is named in the error
	require.Error(t, err)
	assert.Contains(t, err.Error(), `item "sku-ghost" not found`)
}

func TestDeleteCmd_RequiresArg(t *testing.T) {
	// When: deleting without an id
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"delete"})

	err := cmd.Execute()

	// Then: cobra enforces the argument
	require.Error(t, err)
}

// countItems reopens the metadata store and counts catalog items.
func countItems(t *testing.T, dir string) int {
	t.Helper()

	cfg := config.NewConfig()
	metadata, err := openMetadata(cfg, dir)
	require.NoError(t, err)
	defer func() { require.NoError(t, metadata.Close()) }()

	count, err := metadata.CountItems(context.Background())
	require.NoError(t, err)
	return count
}
