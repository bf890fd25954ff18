package output

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBundle = "// ==UserScript==\n// @name  Demo\n// ==/UserScript==\n(() => {})();\n"

func TestStdoutWriter_Write(t *testing.T) {
	var buf bytes.Buffer
	w := NewStdoutWriter(&buf)

	require.NoError(t, w.Write([]byte(sampleBundle)))
	assert.Equal(t, sampleBundle, buf.String())
}

func TestStdoutWriter_NilDefault(t *testing.T) {
	w := NewStdoutWriter(nil)
	assert.NotNil(t, w)
}

func TestFileWriter_Write(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo.bundle.user.js")

	w := NewFileWriter(path)
	require.NoError(t, w.Write([]byte(sampleBundle)))

	got, err := os.ReadFile(path) //nolint:gosec // test
	require.NoError(t, err)
	assert.Equal(t, sampleBundle, string(got))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestFileWriter_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dist", "nested", "demo.bundle.user.js")

	w := NewFileWriter(path)
	require.NoError(t, w.Write([]byte("x")))

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestFileWriter_CustomPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.bundle.user.js")

	w := NewFileWriter(path, WithPermissions(0o600))
	require.NoError(t, w.Write([]byte("x")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileWriter_OverwriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo.bundle.user.js")

	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644)) //nolint:gosec // test

	w := NewFileWriter(path)
	require.NoError(t, w.Write([]byte("new")))
	require.NoError(t, w.Write([]byte("newer")))

	got, err := os.ReadFile(path) //nolint:gosec // test
	require.NoError(t, err)
	assert.Equal(t, "newer", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileWriter_Path(t *testing.T) {
	w := NewFileWriter("/tmp/demo.bundle.user.js")
	assert.Equal(t, "/tmp/demo.bundle.user.js", w.Path())
}

func TestFileWriter_InvalidPath(t *testing.T) {
	w := NewFileWriter("/dev/null/impossible/demo.bundle.user.js")
	assert.Error(t, w.Write([]byte("data")))
}
