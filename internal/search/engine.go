package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coderag/coderag/internal/embed"
	cerr "github.com/coderag/coderag/internal/errors"
	"github.com/coderag/coderag/internal/store"
)

// Engine defaults.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxResults = 50
	DefaultTopK       = 10
)

// Request is one retrieval call.
type Request struct {
	Query string
	K     int

	// Strategy selects the fusion method; empty means weighted.
	Strategy     string
	VectorWeight float64
	BM25Weight   float64
	RRFConstant  int

	Filter store.Filter
}

// Timings reports wall time spent per leg and overall, in milliseconds.
type Timings struct {
	VectorLegMS int64 `json:"vector_leg_ms"`
	BM25LegMS   int64 `json:"bm25_leg_ms"`
	TotalMS     int64 `json:"total_ms"`
}

// Response carries the fused results plus per-leg timings and health.
type Response struct {
	Results       []*FusedResult `json:"results"`
	Timings       Timings        `json:"timings_ms"`
	VectorLegUsed bool           `json:"vector_leg_used"`
	BM25LegUsed   bool           `json:"bm25_leg_used"`
}

// Engine runs the two retrieval legs in parallel and fuses them.
type Engine struct {
	embedder embed.Embedder
	vector   store.VectorIndex
	bm25     store.BM25Index
	logger   *slog.Logger

	timeout    time.Duration
	maxResults int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineTimeout bounds each retrieve call end to end.
func WithEngineTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// WithMaxResults sets the per-leg over-fetch floor.
func WithMaxResults(n int) EngineOption {
	return func(e *Engine) { e.maxResults = n }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine builds a hybrid engine over the given legs.
func NewEngine(embedder embed.Embedder, vector store.VectorIndex, bm25 store.BM25Index, opts ...EngineOption) *Engine {
	e := &Engine{
		embedder:   embedder,
		vector:     vector,
		bm25:       bm25,
		logger:     slog.Default(),
		timeout:    DefaultTimeout,
		maxResults: DefaultMaxResults,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// legResult captures one leg's outcome without failing the group.
type legResult struct {
	results []*store.RetrievalResult
	err     error
	took    time.Duration
}

// Retrieve runs both legs under a shared deadline. A failed or
// timed-out leg degrades the response to the other leg's results; an
// error surfaces only when both legs produced nothing.
func (e *Engine) Retrieve(ctx context.Context, req Request) (*Response, error) {
	req = applyDefaults(req)
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return &Response{Results: []*FusedResult{}}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	legFetch := req.K
	if legFetch < e.maxResults {
		legFetch = e.maxResults
	}

	var vecLeg, bm25Leg legResult
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		legStart := time.Now()
		vecLeg.results, vecLeg.err = e.vectorSearch(gctx, req.Query, legFetch, req.Filter)
		vecLeg.took = time.Since(legStart)
		return nil
	})
	g.Go(func() error {
		legStart := time.Now()
		bm25Leg.results, bm25Leg.err = e.bm25.Search(gctx, req.Query, legFetch, req.Filter)
		bm25Leg.took = time.Since(legStart)
		return nil
	})
	_ = g.Wait()

	if vecLeg.err != nil {
		e.logger.Warn("vector_leg_failed", "error", vecLeg.err, "query_len", len(req.Query))
	}
	if bm25Leg.err != nil {
		e.logger.Warn("bm25_leg_failed", "error", bm25Leg.err, "query_len", len(req.Query))
	}

	if vecLeg.err != nil && bm25Leg.err != nil {
		if errors.Is(vecLeg.err, context.DeadlineExceeded) && errors.Is(bm25Leg.err, context.DeadlineExceeded) {
			return nil, cerr.DeadlineError("retrieval deadline exceeded with no partial progress",
				errors.Join(vecLeg.err, bm25Leg.err))
		}
		return nil, cerr.DependencyError(cerr.ErrCodeVectorUnavailable,
			"all retrieval legs failed", errors.Join(vecLeg.err, bm25Leg.err))
	}

	var fused []*FusedResult
	switch req.Strategy {
	case StrategyRRF:
		fused = RRFFusion(vecLeg.results, bm25Leg.results, req.RRFConstant, req.K)
	default:
		fused = WeightedFusion(vecLeg.results, bm25Leg.results, req.VectorWeight, req.BM25Weight, req.K)
	}

	return &Response{
		Results: fused,
		Timings: Timings{
			VectorLegMS: vecLeg.took.Milliseconds(),
			BM25LegMS:   bm25Leg.took.Milliseconds(),
			TotalMS:     time.Since(start).Milliseconds(),
		},
		VectorLegUsed: vecLeg.err == nil,
		BM25LegUsed:   bm25Leg.err == nil,
	}, nil
}

// vectorSearch embeds the query then searches the dense index.
func (e *Engine) vectorSearch(ctx context.Context, query string, k int, filter store.Filter) ([]*store.RetrievalResult, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return e.vector.Search(ctx, vec, k, filter)
}

func applyDefaults(req Request) Request {
	if req.K <= 0 {
		req.K = DefaultTopK
	}
	if req.Strategy == "" {
		req.Strategy = StrategyWeighted
	}
	if req.VectorWeight == 0 && req.BM25Weight == 0 {
		req.VectorWeight = DefaultVectorWeight
		req.BM25Weight = DefaultBM25Weight
	}
	if req.RRFConstant <= 0 {
		req.RRFConstant = DefaultRRFConstant
	}
	return req
}
