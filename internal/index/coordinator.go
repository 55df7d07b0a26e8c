// Package index coordinates chunk ingestion: enrichment, embedding,
// and the dual write into the vector and BM25 indexes.
package index

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/coderag/coderag/internal/embed"
	"github.com/coderag/coderag/internal/enrich"
	cerr "github.com/coderag/coderag/internal/errors"
	"github.com/coderag/coderag/internal/store"
)

// DefaultBatchSize is the ingestion batch size. One batch is in flight
// at a time.
const DefaultBatchSize = 100

// Coordinator owns the indexing path. Both indexes are keyed by the
// chunk id; consistency across them is eventual, re-established by the
// next upsert of the same id.
type Coordinator struct {
	builder    *enrich.Builder
	embedder   embed.Embedder
	vector     store.VectorIndex
	bm25       store.BM25Index
	collection string
	logger     *slog.Logger
	batchSize  int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBatchSize overrides the ingestion batch size.
func WithBatchSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// NewCoordinator builds the ingestion coordinator.
func NewCoordinator(embedder embed.Embedder, vector store.VectorIndex, bm25 store.BM25Index, collection string, opts ...Option) *Coordinator {
	c := &Coordinator{
		builder:    enrich.NewBuilder(),
		embedder:   embedder,
		vector:     vector,
		bm25:       bm25,
		collection: collection,
		logger:     slog.Default(),
		batchSize:  DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats summarizes one ingestion call.
type Stats struct {
	Indexed int `json:"inserted"`
	Skipped int `json:"skipped"`
	Batches int `json:"batches"`
}

// Upsert enriches and indexes the chunks in batches. Invalid chunks
// are skipped with a warning; a write failure aborts the remaining
// batches and surfaces.
func (c *Coordinator) Upsert(ctx context.Context, chunks []*store.Chunk) (*Stats, error) {
	if err := c.vector.EnsureCollection(ctx, c.collection, c.embedder.Dimensions()); err != nil {
		return nil, err
	}

	stats := &Stats{}
	valid := make([]*store.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if err := chunk.Validate(); err != nil {
			c.logger.Warn("chunk_rejected", "chunk_id", chunk.ID, "error", err)
			stats.Skipped++
			continue
		}
		valid = append(valid, chunk)
	}

	for start := 0; start < len(valid); start += c.batchSize {
		end := min(start+c.batchSize, len(valid))
		if err := c.indexBatch(ctx, valid[start:end]); err != nil {
			return stats, err
		}
		stats.Indexed += end - start
		stats.Batches++
	}

	c.logger.Info("chunks_indexed",
		"indexed", stats.Indexed, "skipped", stats.Skipped, "batches", stats.Batches)
	return stats, nil
}

// indexBatch enriches one batch and writes both indexes in parallel.
func (c *Coordinator) indexBatch(ctx context.Context, chunks []*store.Chunk) error {
	enhanced, err := c.builder.BuildAll(chunks)
	if err != nil {
		return err
	}

	nodes := make([]*store.BM25Node, len(enhanced))
	texts := make([]string, len(enhanced))
	for i, ec := range enhanced {
		nodes[i] = c.builder.BuildNode(ec)
		texts[i] = ec.EnhancedContent
	}

	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return cerr.New(cerr.ErrCodeEmbeddingUnavailable, "failed to embed batch", err)
	}
	if len(vectors) != len(enhanced) {
		return cerr.InternalError("embedding batch size mismatch", nil)
	}

	records := make([]*store.VectorRecord, len(enhanced))
	for i, ec := range enhanced {
		payload := ec.Chunk.Metadata.PayloadMap()
		payload["content"] = ec.Chunk.Content
		records[i] = &store.VectorRecord{
			ID:      ec.Chunk.ID,
			Vector:  vectors[i],
			Payload: payload,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.vector.Upsert(gctx, records) })
	g.Go(func() error { return c.bm25.Add(gctx, nodes) })
	return g.Wait()
}

// ReindexFile drops every document for the file path from both
// indexes, then ingests the replacement chunks.
func (c *Coordinator) ReindexFile(ctx context.Context, filePath string, chunks []*store.Chunk) (*Stats, error) {
	if _, err := c.DeleteByFilter(ctx, store.Eq("file_path", filePath)); err != nil {
		return nil, err
	}
	return c.Upsert(ctx, chunks)
}

// DeleteByFilter removes matching documents from both indexes and
// returns the larger of the two counts.
func (c *Coordinator) DeleteByFilter(ctx context.Context, filter store.Filter) (int, error) {
	var vecCount, bmCount int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := c.vector.DeleteByFilter(gctx, filter)
		vecCount = n
		return err
	})
	g.Go(func() error {
		n, err := c.bm25.DeleteByFilter(gctx, filter)
		bmCount = n
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return max(vecCount, bmCount), nil
}
