package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	cerr "github.com/coderag/coderag/internal/errors"
)

// Embedded index file names inside the vector directory.
const (
	graphFileName    = "vectors.hnsw"
	vectorMetaName   = "vectors.meta"
	payloadsFileName = "payloads.json"
)

// ErrDimensionMismatch reports a vector of the wrong size.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// EmbeddedVectorIndex is a pure-Go vector index over an HNSW graph,
// used when no external vector store is reachable and in tests.
// Deletions are lazy: nodes stay in the graph but lose their ID
// mapping and stop appearing in results.
type EmbeddedVectorIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dir   string
	dims  int

	idMap    map[string]uint64
	keyMap   map[uint64]string
	payloads map[string]map[string]any
	contents map[string]string
	nextKey  uint64

	closed bool
}

var _ VectorIndex = (*EmbeddedVectorIndex)(nil)

// embeddedMetadata is the persisted ID-mapping state.
type embeddedMetadata struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
}

// NewEmbeddedVectorIndex opens an embedded index at dir, loading any
// persisted state. Empty dir keeps everything in memory.
func NewEmbeddedVectorIndex(dir string, dims int) (*EmbeddedVectorIndex, error) {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	s := &EmbeddedVectorIndex{
		graph:    graph,
		dir:      dir,
		dims:     dims,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		payloads: make(map[string]map[string]any),
		contents: make(map[string]string),
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, cerr.New(cerr.ErrCodeIndexWrite, "failed to create vector directory", err)
		}
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// EnsureCollection fixes the vector dimension. Creating an already
// existing collection is a no-op and never truncates.
func (s *EmbeddedVectorIndex) EnsureCollection(ctx context.Context, name string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cerr.InternalError("vector index is closed", nil)
	}
	if s.dims == 0 {
		s.dims = dim
		return nil
	}
	if s.dims != dim {
		return cerr.ValidationError(
			fmt.Sprintf("collection exists with dimension %d, requested %d", s.dims, dim), nil)
	}
	return nil
}

// Upsert inserts or replaces records. Replacement is lazy: the old
// graph node is orphaned and the new vector gets a fresh key.
func (s *EmbeddedVectorIndex) Upsert(ctx context.Context, records []*VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cerr.InternalError("vector index is closed", nil)
	}

	for _, rec := range records {
		if s.dims != 0 && len(rec.Vector) != s.dims {
			return ErrDimensionMismatch{Expected: s.dims, Got: len(rec.Vector)}
		}
	}
	if s.dims == 0 && len(records) > 0 {
		s.dims = len(records[0].Vector)
	}

	for _, rec := range records {
		if existing, ok := s.idMap[rec.ID]; ok {
			delete(s.keyMap, existing)
			delete(s.idMap, rec.ID)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(rec.Vector))
		copy(vec, rec.Vector)
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[rec.ID] = key
		s.keyMap[key] = rec.ID

		payload := rec.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		s.payloads[rec.ID] = payload
		if content, ok := payload["content"].(string); ok {
			s.contents[rec.ID] = content
		}
	}

	return s.persistLocked()
}

// Search returns up to k results by cosine similarity, post-filtered.
// The graph is over-fetched so strict filters still fill k.
func (s *EmbeddedVectorIndex) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]*RetrievalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, cerr.ValidationError(fmt.Sprintf("k must be positive, got %d", k), nil)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, cerr.InternalError("vector index is closed", nil)
	}
	if len(s.idMap) == 0 {
		return nil, nil
	}
	if s.dims != 0 && len(vector) != s.dims {
		return nil, ErrDimensionMismatch{Expected: s.dims, Got: len(vector)}
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeVectorInPlace(query)

	fetch := k * 3
	if fetch < 50 {
		fetch = 50
	}

	nodes := s.graph.Search(query, fetch)

	results := make([]*RetrievalResult, 0, k)
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			// Lazily deleted node.
			continue
		}
		payload := s.payloads[id]
		if !filter.Empty() && !filter.Matches(payload) {
			continue
		}

		distance := s.graph.Distance(query, node.Value)
		results = append(results, &RetrievalResult{
			ID:       id,
			Content:  s.contents[id],
			Score:    distanceToScore(distance),
			Source:   SourceVector,
			Metadata: payload,
			FilePath: payloadString(payload, "file_path"),
		})
		if len(results) >= k {
			break
		}
	}
	return results, nil
}

// DeleteByFilter lazily removes all records whose payload matches.
func (s *EmbeddedVectorIndex) DeleteByFilter(ctx context.Context, filter Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, cerr.InternalError("vector index is closed", nil)
	}

	var doomed []string
	for id, payload := range s.payloads {
		if filter.Matches(payload) {
			doomed = append(doomed, id)
		}
	}
	for _, id := range doomed {
		if key, ok := s.idMap[id]; ok {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
		delete(s.payloads, id)
		delete(s.contents, id)
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	if err := s.persistLocked(); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

// Count returns the number of live records matching the filter.
func (s *EmbeddedVectorIndex) Count(ctx context.Context, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, cerr.InternalError("vector index is closed", nil)
	}
	if filter.Empty() {
		return len(s.idMap), nil
	}
	n := 0
	for id := range s.idMap {
		if filter.Matches(s.payloads[id]) {
			n++
		}
	}
	return n, nil
}

// Scroll pages through matching records in id order.
func (s *EmbeddedVectorIndex) Scroll(ctx context.Context, filter Filter, offset, limit int) ([]*RetrievalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, cerr.InternalError("vector index is closed", nil)
	}

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		if filter.Empty() || filter.Matches(s.payloads[id]) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}

	results := make([]*RetrievalResult, 0, end-offset)
	for _, id := range ids[offset:end] {
		payload := s.payloads[id]
		results = append(results, &RetrievalResult{
			ID:       id,
			Content:  s.contents[id],
			Source:   SourceVector,
			Metadata: payload,
			FilePath: payloadString(payload, "file_path"),
		})
	}
	return results, nil
}

// Close persists state and releases the graph.
func (s *EmbeddedVectorIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.persistLocked()
	s.closed = true
	s.graph = nil
	return err
}

// persistLocked writes the graph, ID mappings, and payloads. Callers
// hold the write lock. In-memory indexes skip persistence.
func (s *EmbeddedVectorIndex) persistLocked() error {
	if s.dir == "" {
		return nil
	}

	graphPath := filepath.Join(s.dir, graphFileName)
	tmpPath := graphPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to create graph file", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to export graph", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to close graph file", err)
	}
	if err := os.Rename(tmpPath, graphPath); err != nil {
		os.Remove(tmpPath)
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to rename graph file", err)
	}

	metaPath := filepath.Join(s.dir, vectorMetaName)
	tmpMeta := metaPath + ".tmp"
	metaFile, err := os.Create(tmpMeta)
	if err != nil {
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to create metadata file", err)
	}
	meta := embeddedMetadata{IDMap: s.idMap, NextKey: s.nextKey, Dimensions: s.dims}
	if err := gob.NewEncoder(metaFile).Encode(meta); err != nil {
		metaFile.Close()
		os.Remove(tmpMeta)
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to encode metadata", err)
	}
	if err := metaFile.Close(); err != nil {
		os.Remove(tmpMeta)
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to close metadata file", err)
	}
	if err := os.Rename(tmpMeta, metaPath); err != nil {
		os.Remove(tmpMeta)
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to rename metadata file", err)
	}

	payloadData, err := json.Marshal(struct {
		Payloads map[string]map[string]any `json:"payloads"`
		Contents map[string]string         `json:"contents"`
	}{s.payloads, s.contents})
	if err != nil {
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to marshal payloads", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, payloadsFileName), payloadData, 0o644); err != nil {
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to write payloads", err)
	}
	return nil
}

// load restores persisted state. A missing graph file means a fresh
// index.
func (s *EmbeddedVectorIndex) load() error {
	metaPath := filepath.Join(s.dir, vectorMetaName)
	metaFile, err := os.Open(metaPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return cerr.New(cerr.ErrCodeIndexRead, "failed to open metadata file", err)
	}
	defer metaFile.Close()

	var meta embeddedMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return cerr.New(cerr.ErrCodeIndexCorrupt, "vector metadata is corrupt", err)
	}
	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	if meta.Dimensions != 0 {
		s.dims = meta.Dimensions
	}
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}

	graphFile, err := os.Open(filepath.Join(s.dir, graphFileName))
	if err != nil {
		return cerr.New(cerr.ErrCodeIndexRead, "failed to open graph file", err)
	}
	defer graphFile.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(graphFile)); err != nil {
		return cerr.New(cerr.ErrCodeIndexCorrupt, "graph file is corrupt", err)
	}

	payloadData, err := os.ReadFile(filepath.Join(s.dir, payloadsFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return cerr.New(cerr.ErrCodeIndexRead, "failed to read payloads", err)
	}
	var stored struct {
		Payloads map[string]map[string]any `json:"payloads"`
		Contents map[string]string         `json:"contents"`
	}
	if err := json.Unmarshal(payloadData, &stored); err != nil {
		return cerr.New(cerr.ErrCodeIndexCorrupt, "payloads file is corrupt", err)
	}
	s.payloads = stored.Payloads
	s.contents = stored.Contents
	if s.payloads == nil {
		s.payloads = make(map[string]map[string]any)
	}
	if s.contents == nil {
		s.contents = make(map[string]string)
	}
	return nil
}

// normalizeVectorInPlace scales a vector to unit length.
func normalizeVectorInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// distanceToScore converts cosine distance to a similarity score in
// [0,1], clipping negatives.
func distanceToScore(distance float32) float64 {
	score := 1 - float64(distance)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
