package cmd

import (
	"log/slog"

	"github.com/coderag/coderag/internal/adapter"
	"github.com/coderag/coderag/internal/config"
	"github.com/coderag/coderag/internal/embed"
	"github.com/coderag/coderag/internal/index"
	"github.com/coderag/coderag/internal/logging"
	"github.com/coderag/coderag/internal/search"
	"github.com/coderag/coderag/internal/store"
)

// app bundles the assembled components for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	embedder embed.Embedder
	vector   store.VectorIndex
	bm25     store.BM25Index
	engine   *search.Engine
	coord    *index.Coordinator

	cleanups []func()
}

// newApp assembles the full local stack from configuration.
func newApp(cfg *config.Config) (*app, error) {
	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.FilePath,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: true,
	}
	if debugMode {
		logCfg.Level = "debug"
	}
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}
	a.cleanups = append(a.cleanups, logCleanup)

	a.embedder = buildEmbedder(cfg)

	a.vector, err = buildVectorIndex(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cleanups = append(a.cleanups, func() { _ = a.vector.Close() })

	a.bm25, err = store.NewBM25Index(cfg.BM25.Path, store.BM25Config{
		K1:             cfg.BM25.K1,
		B:              cfg.BM25.B,
		MinTokenLength: cfg.BM25.MinTokenLength,
	}, resolveBM25Backend(cfg), logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cleanups = append(a.cleanups, func() { _ = a.bm25.Close() })

	a.engine = search.NewEngine(a.embedder, a.vector, a.bm25,
		search.WithEngineTimeout(cfg.Retrieval.Timeout),
		search.WithMaxResults(cfg.Retrieval.MinLegFetch),
		search.WithLogger(logger))

	a.coord = index.NewCoordinator(a.embedder, a.vector, a.bm25,
		cfg.Vector.Collection, index.WithLogger(logger))

	return a, nil
}

// Close tears components down in reverse construction order.
func (a *app) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
}

// adapterDeps exposes the local stack to adapter construction.
func (a *app) adapterDeps() adapter.Deps {
	return adapter.Deps{
		Engine:   a.engine,
		Embedder: a.embedder,
		Vector:   a.vector,
		BM25:     a.bm25,
		Logger:   a.logger,
	}
}

// adapterConfig bridges the flat YAML adapter block onto the adapter
// layer's per-variant config.
func adapterConfig(cfg *config.Config) adapter.Config {
	return adapter.Config{
		Type:       cfg.Adapter.Type,
		BaseURL:    cfg.Adapter.BaseURL,
		Timeout:    cfg.Adapter.Timeout,
		MaxRetries: cfg.Adapter.MaxRetries,
		Bearer: adapter.BearerConfig{
			AuthURL:            cfg.Adapter.AuthURL,
			Username:           cfg.Adapter.Username,
			Password:           cfg.Adapter.Password,
			KnowledgeIDs:       cfg.Adapter.KnowledgeIDs,
			Threshold:          cfg.Adapter.Threshold,
			LegacyPathFallback: cfg.Adapter.LegacyPathFallback,
		},
	}
}

// buildEmbedder selects the embedding client. An empty base URL falls
// back to deterministic static embeddings for offline use.
func buildEmbedder(cfg *config.Config) embed.Embedder {
	if cfg.Embedding.BaseURL == "" {
		return embed.NewStaticEmbedder()
	}
	var inner embed.Embedder = embed.NewHTTPEmbedder(cfg.Embedding.BaseURL,
		embed.WithTimeout(cfg.Embedding.Timeout),
		embed.WithDimensions(cfg.Vector.Dimensions))
	if cfg.Embedding.CacheSize > 0 {
		inner = embed.NewCachedEmbedder(inner, cfg.Embedding.CacheSize)
	}
	return inner
}

// resolveBM25Backend prefers the configured backend; "auto" (or an
// unset value) lets an existing index directory decide so a
// bleve-built index is not reopened with the okapi default.
func resolveBM25Backend(cfg *config.Config) string {
	if cfg.BM25.Backend != "" && cfg.BM25.Backend != "auto" {
		return cfg.BM25.Backend
	}
	return string(store.DetectBM25Backend(cfg.BM25.Path))
}

func buildVectorIndex(cfg *config.Config) (store.VectorIndex, error) {
	if cfg.Vector.Backend == "embedded" {
		return store.NewEmbeddedVectorIndex(cfg.Vector.Path, cfg.Vector.Dimensions)
	}
	return store.NewQdrantIndex(cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection)
}
