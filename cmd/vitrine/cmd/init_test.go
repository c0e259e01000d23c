package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitrine-search/vitrine/internal/output"
)

func TestHasVitrineIgnore(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"bare entry", ".vitrine\n", true},
		{"trailing slash", ".vitrine/\n", true},
		{"leading slash", "/.vitrine\n", true},
		{"both slashes", "/.vitrine/\n", true},
		{"among others", "*.log\n.vitrine/\nbuild/\n", true},
		{"indented", "  .vitrine/  \n", true},
		{"commented out", "# .vitrine/\n", false},
		{"similar name", ".vitrine.yaml\n", false},
		{"substring", "my.vitrine/\n", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasVitrineIgnore(tt.content))
		})
	}
}

func TestEnsureGitignore_CreatesFile(t *testing.T) {
	// Given: a directory with no .gitignore
	dir := t.TempDir()

	// When: ensuring the ignore entry
	added, err := ensureGitignore(dir)

	// Then: the file should be created with the entry
	require.NoError(t, err)
	assert.True(t, added, "entry should be reported as added")

	content, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(content), ".vitrine/")
	assert.Contains(t, string(content), "# Vitrine catalog data")
}

func TestEnsureGitignore_AppendsToExisting(t *testing.T) {
	// Given: a .gitignore with unrelated entries
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.log\nbuild/\n"), 0o644))

	// When: ensuring the ignore entry
	added, err := ensureGitignore(dir)

	// Then: existing entries survive and the new one lands at the end
	require.NoError(t, err)
	assert.True(t, added)

	content, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "*.log")
	assert.Contains(t, string(content), "build/")
	assert.Contains(t, string(content), ".vitrine/")
}

func TestEnsureGitignore_AlreadyPresent(t *testing.T) {
	// Given: a .gitignore that already ignores the data directory
	dir := t.TempDir()
	original := "*.log\n.vitrine/\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(original), 0o644))

	// When: ensuring the ignore entry
	added, err := ensureGitignore(dir)

	// Then: nothing should change
	require.NoError(t, err)
	assert.False(t, added, "entry should not be added twice")

	content, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, original, string(content))
}

func TestEnsureGitignore_PreservesCRLF(t *testing.T) {
	// Given: a .gitignore with Windows line endings
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.log\r\n"), 0o644))

	// When: ensuring the ignore entry
	added, err := ensureGitignore(dir)

	// Then: the appended entry should use CRLF too
	require.NoError(t, err)
	assert.True(t, added)

	content, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(content), ".vitrine/\r\n")
	assert.NotContains(t, strings.ReplaceAll(string(content), "\r\n", ""), "\n", "no bare LF should sneak in")
}

func TestGenerateProjectConfig_WritesTemplate(t *testing.T) {
	// Given: a directory with no project config
	dir := t.TempDir()
	buf := new(bytes.Buffer)

	// When: generating the config
	err := generateProjectConfig(output.New(buf), dir, false)

	// Then: the template should be written
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, ".vitrine.yaml"))
	assert.Contains(t, buf.String(), "Created .vitrine.yaml")
}

func TestGenerateProjectConfig_PreservesExisting(t *testing.T) {
	// Given: a hand-edited project config
	dir := t.TempDir()
	custom := "embedder:\n  provider: static\n"
	path := filepath.Join(dir, ".vitrine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(custom), 0o644))
	buf := new(bytes.Buffer)

	// When: generating without force
	err := generateProjectConfig(output.New(buf), dir, false)

	// Then: the file should be untouched
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, custom, string(content))
	assert.Contains(t, buf.String(), "preserved")
}

func TestGenerateProjectConfig_ForceOverwrites(t *testing.T) {
	// Given: a hand-edited project config
	dir := t.TempDir()
	path := filepath.Join(dir, ".vitrine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedder:\n  provider: static\n"), 0o644))

	// When: generating with force
	err := generateProjectConfig(output.New(new(bytes.Buffer)), dir, true)

	// Then: the template should replace it
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "provider: static")
}

func TestInitCmd_EndToEnd(t *testing.T) {
	// Given: an empty project directory
	tmpDir := t.TempDir()
	chdir(t, tmpDir)

	// When: running init offline
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"init", "--offline"})

	err := cmd.Execute()

	// Then: config, data directory, and gitignore entry should exist
	require.NoError(t, err, "output: %s", buf.String())
	assert.FileExists(t, filepath.Join(tmpDir, ".vitrine.yaml"))
	assert.DirExists(t, filepath.Join(tmpDir, ".vitrine"))
	assert.FileExists(t, filepath.Join(tmpDir, ".gitignore"))

	output := buf.String()
	assert.Contains(t, output, "Initializing")
	assert.Contains(t, output, "Next steps")
}

func TestInitCmd_SecondRunPreservesConfig(t *testing.T) {
	// Given: an already-initialized project with a tweaked config
	tmpDir := t.TempDir()
	chdir(t, tmpDir)

	first := NewRootCmd()
	first.SetOut(new(bytes.Buffer))
	first.SetErr(new(bytes.Buffer))
	first.SetArgs([]string{"init", "--offline"})
	require.NoError(t, first.Execute())

	custom := "embedder:\n  provider: static\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".vitrine.yaml"), []byte(custom), 0o644))

	// When: running init again without --force
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"init", "--offline"})

	err := cmd.Execute()

	// Then: the tweak should survive
	require.NoError(t, err, "output: %s", buf.String())
	content, err := os.ReadFile(filepath.Join(tmpDir, ".vitrine.yaml"))
	require.NoError(t, err)
	assert.Equal(t, custom, string(content))
	assert.Contains(t, buf.String(), "preserved")
}
