package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// BM25Backend selects the lexical index implementation.
type BM25Backend string

const (
	// BM25BackendOkapi is the persistent Okapi index (default). Its
	// on-disk format is nodes.json plus documents_map.bin.
	BM25BackendOkapi BM25Backend = "okapi"

	// BM25BackendBleve uses Bleve v2. Single process only due to the
	// BoltDB lock.
	BM25BackendBleve BM25Backend = "bleve"
)

// NewBM25Index creates a BM25Index using the configured backend.
// dir is the index directory; each backend keeps its own files inside.
func NewBM25Index(dir string, cfg BM25Config, backend string, logger *slog.Logger) (BM25Index, error) {
	switch backend {
	case string(BM25BackendOkapi), "":
		return NewOkapiIndex(dir, cfg, logger)
	case string(BM25BackendBleve):
		return NewBleveIndex(dir, logger)
	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: okapi, bleve)", backend)
	}
}

// DetectBM25Backend inspects an index directory and reports which
// backend created it, or empty when no index exists.
func DetectBM25Backend(dir string) BM25Backend {
	if dirExists(filepath.Join(dir, "bleve")) {
		return BM25BackendBleve
	}
	if fileExists(filepath.Join(dir, documentsFileName)) {
		return BM25BackendOkapi
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
