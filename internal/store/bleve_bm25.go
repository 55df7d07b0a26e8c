package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/porter"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/google/renameio"

	cerr "github.com/coderag/coderag/internal/errors"
	"github.com/coderag/coderag/internal/tokenize"
)

const (
	// CodeTokenizerName is the registered name of the code tokenizer.
	CodeTokenizerName = "code_tokenizer"

	// CodeStopFilterName is the registered name of the stop word filter.
	CodeStopFilterName = "code_stop"

	// CodeAnalyzerName is the registered name of the full analyzer.
	CodeAnalyzerName = "code_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(CodeTokenizerName, codeTokenizerConstructor)
	_ = registry.RegisterTokenFilter(CodeStopFilterName, codeStopFilterConstructor)
}

// BleveIndex is the bleve-backed lexical index. Bleve owns text
// persistence; node metadata lives in a sidecar nodes.json so filters
// and result reconstruction work without a schema mapping.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	dir    string
	nodes  map[string]*BM25Node
	logger *slog.Logger
	closed bool
}

var _ BM25Index = (*BleveIndex)(nil)

// bleveDocument is the indexed document shape.
type bleveDocument struct {
	EnhancedText string `json:"enhanced_text"`
}

// NewBleveIndex opens or creates a bleve index under dir. An empty dir
// creates an in-memory index for tests.
func NewBleveIndex(dir string, logger *slog.Logger) (*BleveIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}

	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, cerr.New(cerr.ErrCodeIndexWrite, "failed to create index mapping", err)
	}

	var idx bleve.Index
	if dir == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return nil, cerr.New(cerr.ErrCodeIndexWrite, "failed to create index directory", mkErr)
		}
		blevePath := filepath.Join(dir, "bleve")
		idx, err = bleve.Open(blevePath)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(blevePath, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			logger.Warn("bm25_index_corrupted", "path", blevePath, "error", err)
			if removeErr := os.RemoveAll(blevePath); removeErr != nil {
				return nil, cerr.New(cerr.ErrCodeIndexCorrupt,
					"index corrupted and cannot be cleared", removeErr)
			}
			idx, err = bleve.New(blevePath, indexMapping)
		}
	}
	if err != nil {
		return nil, cerr.New(cerr.ErrCodeIndexRead, "failed to open index", err)
	}

	b := &BleveIndex{
		index:  idx,
		dir:    dir,
		nodes:  make(map[string]*BM25Node),
		logger: logger,
	}
	if dir != "" {
		if loadErr := b.loadNodes(); loadErr != nil {
			logger.Warn("bm25_nodes_load_failed", "path", dir, "error", loadErr)
			b.nodes = make(map[string]*BM25Node)
		}
	}
	return b, nil
}

// isCorruptionError reports whether an open failure indicates index
// corruption rather than a transient problem.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(CodeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": CodeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			CodeStopFilterName,
			porter.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = CodeAnalyzerName
	return indexMapping, nil
}

// Add indexes nodes in a single batch.
func (b *BleveIndex) Add(ctx context.Context, nodes []*BM25Node) error {
	if len(nodes) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return cerr.InternalError("index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, node := range nodes {
		if node.ID == "" {
			return cerr.ValidationError("bm25 node missing id", nil)
		}
		if err := batch.Index(node.ID, bleveDocument{EnhancedText: node.EnhancedText}); err != nil {
			return cerr.New(cerr.ErrCodeIndexWrite,
				fmt.Sprintf("failed to index document %s", node.ID), err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to execute batch", err)
	}

	for _, node := range nodes {
		b.nodes[node.ID] = node
	}
	return b.persistNodesLocked()
}

// Search returns up to k results ranked by bleve's BM25 scoring.
func (b *BleveIndex) Search(ctx context.Context, query string, k int, filter Filter) ([]*RetrievalResult, error) {
	if k <= 0 {
		return nil, cerr.ValidationError(fmt.Sprintf("k must be positive, got %d", k), nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, cerr.InternalError("index is closed", nil)
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("enhanced_text")

	// Over-fetch so post-filtering still fills k.
	req := bleve.NewSearchRequest(matchQuery)
	req.Size = k * 3
	if req.Size < 50 {
		req.Size = 50
	}

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		b.logger.Error("bm25_search_failed", "error", err)
		return nil, nil
	}

	results := make([]*RetrievalResult, 0, k)
	for _, hit := range res.Hits {
		node, ok := b.nodes[hit.ID]
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
			ID:       hit.ID,
			Content:  content,
			Score:    hit.Score,
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

// Delete removes documents by ID.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return cerr.InternalError("index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
		delete(b.nodes, id)
	}
	if err := b.index.Batch(batch); err != nil {
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to delete documents", err)
	}
	return b.persistNodesLocked()
}

// DeleteByFilter removes all documents whose metadata matches.
func (b *BleveIndex) DeleteByFilter(ctx context.Context, filter Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, cerr.InternalError("index is closed", nil)
	}

	var doomed []string
	for id, node := range b.nodes {
		if filter.Matches(node.Metadata.PayloadMap()) {
			doomed = append(doomed, id)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	batch := b.index.NewBatch()
	for _, id := range doomed {
		batch.Delete(id)
		delete(b.nodes, id)
	}
	if err := b.index.Batch(batch); err != nil {
		return 0, cerr.New(cerr.ErrCodeIndexWrite, "failed to delete documents", err)
	}
	if err := b.persistNodesLocked(); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

// Count returns the number of indexed nodes.
func (b *BleveIndex) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.nodes)
}

// Close closes the underlying bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

func (b *BleveIndex) persistNodesLocked() error {
	if b.dir == "" {
		return nil
	}
	nodes := make([]*BM25Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		nodes = append(nodes, n)
	}
	data, err := json.Marshal(nodes)
	if err != nil {
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to marshal nodes", err)
	}
	if err := renameio.WriteFile(filepath.Join(b.dir, nodesFileName), data, 0o644); err != nil {
		return cerr.New(cerr.ErrCodeIndexWrite, "failed to write nodes file", err)
	}
	return nil
}

func (b *BleveIndex) loadNodes() error {
	data, err := os.ReadFile(filepath.Join(b.dir, nodesFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return cerr.New(cerr.ErrCodeIndexRead, "failed to read nodes file", err)
	}
	var nodes []*BM25Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return cerr.New(cerr.ErrCodeIndexCorrupt, "nodes file is corrupt", err)
	}
	for _, n := range nodes {
		b.nodes[n.ID] = n
	}
	return nil
}

// rawTokenizer feeds bleve unstemmed, unfiltered splits. The filter
// chain handles lowercasing, stopwords, and stemming.
var rawTokenizer = tokenize.New(
	tokenize.WithStemming(false),
	tokenize.WithStopWords(nil),
	tokenize.WithMinTokenLength(2),
)

func codeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveCodeTokenizer{}, nil
}

// bleveCodeTokenizer adapts the code-aware splitter to bleve's
// tokenizer contract.
type bleveCodeTokenizer struct{}

func (t *bleveCodeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := rawTokenizer.Tokenize(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return result
}

func codeStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveCodeStopFilter{
		stopWords: tokenize.BuildStopWordMap(tokenize.DefaultStopWords()),
	}, nil
}

type bleveCodeStopFilter struct {
	stopWords map[string]struct{}
}

func (f *bleveCodeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[strings.ToLower(string(token.Term))]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
