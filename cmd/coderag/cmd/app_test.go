package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderag/coderag/internal/config"
)

func TestResolveBM25Backend(t *testing.T) {
	// Given: an index directory previously written by the bleve backend
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bleve"), 0o755))

	cfg := config.NewConfig()
	cfg.BM25.Path = dir

	// When: the backend is left to auto-detection
	cfg.BM25.Backend = "auto"

	// Then: detection picks the backend that owns the directory
	assert.Equal(t, "bleve", resolveBM25Backend(cfg))
	cfg.BM25.Backend = ""
	assert.Equal(t, "bleve", resolveBM25Backend(cfg))

	// An explicit setting always wins over detection.
	cfg.BM25.Backend = "okapi"
	assert.Equal(t, "okapi", resolveBM25Backend(cfg))

	// A fresh directory has nothing to detect; the factory default applies.
	cfg.BM25.Backend = ""
	cfg.BM25.Path = t.TempDir()
	assert.Equal(t, "", resolveBM25Backend(cfg))
}
