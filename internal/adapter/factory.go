package adapter

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/coderag/coderag/internal/embed"
	cerr "github.com/coderag/coderag/internal/errors"
	"github.com/coderag/coderag/internal/search"
	"github.com/coderag/coderag/internal/store"
)

// Deps carries the in-process components local adapter variants need.
// Remote variants ignore it.
type Deps struct {
	Engine   *search.Engine
	Embedder embed.Embedder
	Vector   store.VectorIndex
	BM25     store.BM25Index
	Logger   *slog.Logger
}

// Builder constructs an adapter from its configuration.
type Builder func(cfg Config, deps Deps) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Builder{}
)

// Register installs a builder for a custom adapter type. Registering
// an existing type replaces it; call at program start.
func Register(adapterType string, builder Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[adapterType] = builder
}

// New builds the adapter selected by cfg.Type.
func New(cfg Config, deps Deps) (Adapter, error) {
	switch cfg.Type {
	case TypeMock:
		return NewMockAdapter(cfg.Name), nil

	case TypeHTTP:
		if cfg.BaseURL == "" {
			return nil, cerr.ValidationError("http adapter requires base_url", nil)
		}
		return NewHTTPAdapter(cfg), nil

	case TypeBearer:
		if cfg.BaseURL == "" || cfg.Bearer.AuthURL == "" {
			return nil, cerr.ValidationError("bearer adapter requires base_url and auth_url", nil)
		}
		return NewBearerAdapter(cfg, deps.Logger), nil

	case TypeLocal:
		if deps.Engine == nil {
			return nil, cerr.ValidationError("local adapter requires a retrieval engine", nil)
		}
		return NewLocalAdapter(cfg.Name, deps.Engine), nil

	case TypeVectorOnly:
		if deps.Embedder == nil || deps.Vector == nil {
			return nil, cerr.ValidationError("vector_only adapter requires an embedder and a vector index", nil)
		}
		return NewVectorOnlyAdapter(cfg.Name, deps.Embedder, deps.Vector), nil

	case TypeBM25Only:
		if deps.BM25 == nil {
			return nil, cerr.ValidationError("bm25_only adapter requires a bm25 index", nil)
		}
		return NewBM25OnlyAdapter(cfg.Name, deps.BM25), nil
	}

	registryMu.RLock()
	builder, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if ok {
		return builder(cfg, deps)
	}

	return nil, cerr.New(cerr.ErrCodeUnknownAdapter,
		fmt.Sprintf("unknown adapter type %q", cfg.Type), nil)
}
