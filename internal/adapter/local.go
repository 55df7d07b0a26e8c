package adapter

import (
	"context"
	"strings"

	"github.com/coderag/coderag/internal/embed"
	"github.com/coderag/coderag/internal/search"
	"github.com/coderag/coderag/internal/store"
)

// LocalAdapter wraps the in-process hybrid engine behind the adapter
// contract so evaluation can compare it against remote backends on
// equal footing.
type LocalAdapter struct {
	name   string
	engine *search.Engine
}

var _ Adapter = (*LocalAdapter)(nil)

// NewLocalAdapter builds an adapter over the hybrid engine.
func NewLocalAdapter(name string, engine *search.Engine) *LocalAdapter {
	if name == "" {
		name = TypeLocal
	}
	return &LocalAdapter{name: name, engine: engine}
}

func (a *LocalAdapter) Name() string { return a.name }

func (a *LocalAdapter) Retrieve(ctx context.Context, query string, k int) ([]*store.RetrievalResult, error) {
	resp, err := a.engine.Retrieve(ctx, search.Request{Query: query, K: k})
	if err != nil {
		return nil, err
	}
	results := make([]*store.RetrievalResult, 0, len(resp.Results))
	for _, fr := range resp.Results {
		results = append(results, &store.RetrievalResult{
			ID:       fr.ID,
			Content:  fr.Content,
			Score:    fr.CombinedScore,
			Source:   store.SourceHybrid,
			Metadata: fr.Metadata,
			FilePath: fr.FilePath,
		})
	}
	return results, nil
}

func (a *LocalAdapter) HealthCheck(ctx context.Context) bool { return a.engine != nil }

func (a *LocalAdapter) Close() error { return nil }

// VectorOnlyAdapter bypasses fusion and queries the dense leg alone.
// Used for evaluation ablations.
type VectorOnlyAdapter struct {
	name     string
	embedder embed.Embedder
	index    store.VectorIndex
}

var _ Adapter = (*VectorOnlyAdapter)(nil)

// NewVectorOnlyAdapter builds a dense-leg ablation adapter.
func NewVectorOnlyAdapter(name string, embedder embed.Embedder, index store.VectorIndex) *VectorOnlyAdapter {
	if name == "" {
		name = TypeVectorOnly
	}
	return &VectorOnlyAdapter{name: name, embedder: embedder, index: index}
}

func (a *VectorOnlyAdapter) Name() string { return a.name }

func (a *VectorOnlyAdapter) Retrieve(ctx context.Context, query string, k int) ([]*store.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	vec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return a.index.Search(ctx, vec, k, store.Filter{})
}

func (a *VectorOnlyAdapter) HealthCheck(ctx context.Context) bool {
	return a.embedder.Available(ctx)
}

func (a *VectorOnlyAdapter) Close() error { return nil }

// BM25OnlyAdapter bypasses fusion and queries the lexical leg alone.
type BM25OnlyAdapter struct {
	name  string
	index store.BM25Index
}

var _ Adapter = (*BM25OnlyAdapter)(nil)

// NewBM25OnlyAdapter builds a lexical-leg ablation adapter.
func NewBM25OnlyAdapter(name string, index store.BM25Index) *BM25OnlyAdapter {
	if name == "" {
		name = TypeBM25Only
	}
	return &BM25OnlyAdapter{name: name, index: index}
}

func (a *BM25OnlyAdapter) Name() string { return a.name }

func (a *BM25OnlyAdapter) Retrieve(ctx context.Context, query string, k int) ([]*store.RetrievalResult, error) {
	return a.index.Search(ctx, query, k, store.Filter{})
}

func (a *BM25OnlyAdapter) HealthCheck(ctx context.Context) bool { return a.index != nil }

func (a *BM25OnlyAdapter) Close() error { return nil }
