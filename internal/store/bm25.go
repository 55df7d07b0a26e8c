package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/renameio"

	cerr "github.com/coderag/coderag/internal/errors"
	"github.com/coderag/coderag/internal/tokenize"
)

// Index file names inside the BM25 directory.
const (
	nodesFileName     = "nodes.json"
	documentsFileName = "documents_map.bin"
	lockFileName      = "index.lock"
)

// BM25Config tunes the Okapi scoring function.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2).
	K1 float64
	// B is the length normalization parameter (default: 0.75).
	B float64
	// MinTokenLength filters short tokens (default: 2).
	MinTokenLength int
}

// DefaultBM25Config returns the standard Okapi parameters.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		MinTokenLength: 2,
	}
}

// documentEntry is the persisted per-document state: the token stream
// the retriever scores over plus the raw content for results.
type documentEntry struct {
	Tokens  []string
	Content string
}

// OkapiIndex is the persistent lexical index. Mutations are serialized
// by a single-writer lock and re-persist atomically; reads score
// against an immutable retriever snapshot rebuilt after each mutating
// batch.
type OkapiIndex struct {
	cfg       BM25Config
	path      string
	tokenizer *tokenize.Tokenizer
	logger    *slog.Logger
	fileLock  *flock.Flock

	mu        sync.RWMutex
	nodes     map[string]*BM25Node
	documents map[string]*documentEntry
	retriever *okapiRetriever
	closed    bool
}

var _ BM25Index = (*OkapiIndex)(nil)

// NewOkapiIndex opens the index at dir, loading persisted state when
// present. The directory is locked against other processes for the
// lifetime of the index.
func NewOkapiIndex(dir string, cfg BM25Config, logger *slog.Logger) (*OkapiIndex, error) {
	if cfg.K1 <= 0 {
		return nil, cerr.ValidationError(fmt.Sprintf("bm25 k1 must be positive, got %g", cfg.K1), nil)
	}
	if cfg.B < 0 || cfg.B > 1 {
		return nil, cerr.ValidationError(fmt.Sprintf("bm25 b must be in [0,1], got %g", cfg.B), nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cerr.New(cerr.ErrCodeIndexWrite, "failed to create index directory", err)
	}

	fl := flock.New(filepath.Join(dir, lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, cerr.New(cerr.ErrCodeIndexLocked, "failed to acquire index lock", err)
	}
	if !locked {
		return nil, cerr.New(cerr.ErrCodeIndexLocked,
			fmt.Sprintf("index at %s is locked by another process", dir), nil)
	}

	idx := &OkapiIndex{
		cfg:       cfg,
		path:      dir,
		tokenizer: tokenize.New(tokenize.WithMinTokenLength(cfg.MinTokenLength)),
		logger:    logger,
		fileLock:  fl,
		nodes:     make(map[string]*BM25Node),
		documents: make(map[string]*documentEntry),
	}

	if err := idx.load(); err != nil {
		// Persistence read failures start empty with a warning.
		logger.Warn("bm25_index_load_failed", "path", dir, "error", err)
		idx.nodes = make(map[string]*BM25Node)
		idx.documents = make(map[string]*documentEntry)
	}
	idx.retriever = buildRetriever(idx.documents, cfg)

	return idx, nil
}

// Add indexes nodes, replacing existing nodes with the same IDs.
// The retriever snapshot is rebuilt once per batch.
func (idx *OkapiIndex) Add(ctx context.Context, nodes []*BM25Node) error {
	if len(nodes) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return cerr.InternalError("index is closed", nil)
	}

	for _, node := range nodes {
		if node.ID == "" {
			return cerr.ValidationError("bm25 node missing id", nil)
		}
		tokens := idx.tokenizer.Tokenize(node.EnhancedText)
		if len(tokens) == 0 {
			// Minimal fallback so the document remains findable by id.
			idx.logger.Warn("bm25_empty_token_stream", "id", node.ID)
			tokens = []string{node.ID}
		}
		idx.nodes[node.ID] = node
		idx.documents[node.ID] = &documentEntry{Tokens: tokens, Content: node.Content}
	}

	idx.retriever = buildRetriever(idx.documents, idx.cfg)
	return idx.persistLocked()
}

// Search returns up to k results ranked by BM25 score.
func (idx *OkapiIndex) Search(ctx context.Context, query string, k int, filter Filter) ([]*RetrievalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, cerr.ValidationError(fmt.Sprintf("k must be positive, got %d", k), nil)
	}

	idx.mu.RLock()
	retriever := idx.retriever
	closed := idx.closed
	idx.mu.RUnlock()

	if closed {
		return nil, cerr.InternalError("index is closed", nil)
	}

	tokens := idx.tokenizer.Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	scored := retriever.score(tokens)

	results := make([]*RetrievalResult, 0, k)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, s := range scored {
		node, ok := idx.nodes[s.id]
		if !ok {
			continue
		}
		if !filter.Empty() && !filter.Matches(node.Metadata.PayloadMap()) {
			continue
		}
		content := node.Content
		if content == "" {
			content = node.EnhancedText
		}
		results = append(results, &RetrievalResult{
			ID:       s.id,
			Content:  content,
			Score:    s.score,
			Source:   SourceBM25,
			Metadata: node.Metadata.PayloadMap(),
			FilePath: node.Metadata.FilePath,
		})
		if len(results) >= k {
			break
		}
	}
	return results, nil
}

// Delete removes nodes by ID. Missing IDs are ignored.
func (idx *OkapiIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return cerr.InternalError("index is closed", nil)
	}

	removed := false
	for _, id := range ids {
		if _, ok := idx.nodes[id]; ok {
			delete(idx.nodes, id)
			delete(idx.documents, id)
			removed = true
		}
	}
	if !removed {
		return nil
	}

	idx.retriever = buildRetriever(idx.documents, idx.cfg)
	return idx.persistLocked()
}

// DeleteByFilter removes all nodes matching the filter.
func (idx *OkapiIndex) DeleteByFilter(ctx context.Context, filter Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return 0, cerr.InternalError("index is closed", nil)
	}

	var doomed []string
	for id, node := range idx.nodes {
		if filter.Matches(node.Metadata.PayloadMap()) {
			doomed = append(doomed, id)
		}
	}
	for _, id := range doomed {
		delete(idx.nodes, id)
		delete(idx.documents, id)
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	idx.retriever = buildRetriever(idx.documents, idx.cfg)
	if err := idx.persistLocked(); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

// Count returns the number of indexed nodes.
func (idx *OkapiIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

// Close persists state and releases the directory lock.
func (idx *OkapiIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	idx.closed = true

	err := idx.persistLocked()
	if unlockErr := idx.fileLock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}

// persistLocked writes both index files atomically. Callers hold the
// write lock.
func (idx *OkapiIndex) persistLocked() error {
	nodes := make([]*BM25Node, 0, len(idx.nodes))
	for _, n := range idx.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	nodeData, err := json.Marshal(nodes)
	if err != nil {
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to marshal nodes", err)
	}

	var docBuf bytes.Buffer
	if err := gob.NewEncoder(&docBuf).Encode(idx.documents); err != nil {
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to encode documents map", err)
	}

	if err := renameio.WriteFile(filepath.Join(idx.path, nodesFileName), nodeData, 0o644); err != nil {
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to write nodes file", err)
	}
	if err := renameio.WriteFile(filepath.Join(idx.path, documentsFileName), docBuf.Bytes(), 0o644); err != nil {
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to write documents map", err)
	}
	return nil
}

// load reads persisted state. Missing files mean a fresh index.
func (idx *OkapiIndex) load() error {
	nodePath := filepath.Join(idx.path, nodesFileName)
	nodeData, err := os.ReadFile(nodePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return cerr.New(cerr.ErrCodeIndexRead, "failed to read nodes file", err)
	}

	var nodes []*BM25Node
	if err := json.Unmarshal(nodeData, &nodes); err != nil {
		return cerr.New(cerr.ErrCodeIndexCorrupt, "nodes file is corrupt", err)
	}
	for _, n := range nodes {
		idx.nodes[n.ID] = n
	}

	docData, err := os.ReadFile(filepath.Join(idx.path, documentsFileName))
	if os.IsNotExist(err) {
		// Rebuild token streams from the nodes themselves.
		for id, n := range idx.nodes {
			idx.documents[id] = &documentEntry{
				Tokens:  idx.tokenizer.Tokenize(n.EnhancedText),
				Content: n.Content,
			}
		}
		return nil
	}
	if err != nil {
		return cerr.New(cerr.ErrCodeIndexRead, "failed to read documents map", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(docData)).Decode(&idx.documents); err != nil {
		return cerr.New(cerr.ErrCodeIndexCorrupt, "documents map is corrupt", err)
	}
	return nil
}

// scoredDoc pairs a document with its BM25 score.
type scoredDoc struct {
	id    string
	score float64
}

// okapiRetriever is an immutable scoring snapshot over the document
// set. It is rebuilt wholesale after each mutating batch so concurrent
// readers always see a consistent index.
type okapiRetriever struct {
	cfg       BM25Config
	termFreqs map[string]map[string]int // doc id -> term -> count
	docLens   map[string]int
	docFreq   map[string]int // term -> number of docs containing it
	avgDocLen float64
	ids       []string // sorted for deterministic iteration
}

func buildRetriever(documents map[string]*documentEntry, cfg BM25Config) *okapiRetriever {
	r := &okapiRetriever{
		cfg:       cfg,
		termFreqs: make(map[string]map[string]int, len(documents)),
		docLens:   make(map[string]int, len(documents)),
		docFreq:   make(map[string]int),
	}

	var totalLen int
	for id, doc := range documents {
		tf := make(map[string]int)
		for _, tok := range doc.Tokens {
			tf[tok]++
		}
		r.termFreqs[id] = tf
		r.docLens[id] = len(doc.Tokens)
		totalLen += len(doc.Tokens)
		for term := range tf {
			r.docFreq[term]++
		}
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)

	if len(documents) > 0 {
		r.avgDocLen = float64(totalLen) / float64(len(documents))
	}
	return r
}

// score ranks every document against the query tokens, descending by
// score with ties broken by id.
func (r *okapiRetriever) score(queryTokens []string) []scoredDoc {
	n := float64(len(r.ids))
	if n == 0 {
		return nil
	}

	var out []scoredDoc
	for _, id := range r.ids {
		tf := r.termFreqs[id]
		dl := float64(r.docLens[id])

		var s float64
		for _, term := range queryTokens {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			df := float64(r.docFreq[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := 1 - r.cfg.B + r.cfg.B*dl/r.avgDocLen
			s += idf * (f * (r.cfg.K1 + 1)) / (f + r.cfg.K1*norm)
		}
		if s > 0 {
			out = append(out, scoredDoc{id: id, score: s})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	return out
}
