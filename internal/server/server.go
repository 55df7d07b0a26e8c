// Package server exposes the retrieval, indexing, and evaluation
// operations over HTTP.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coderag/coderag/internal/adapter"
	cerr "github.com/coderag/coderag/internal/errors"
	"github.com/coderag/coderag/internal/eval"
	"github.com/coderag/coderag/internal/index"
	"github.com/coderag/coderag/internal/search"
	"github.com/coderag/coderag/internal/store"
)

// Server wires the HTTP handlers to the in-process components.
type Server struct {
	engine *search.Engine
	coord  *index.Coordinator
	deps   adapter.Deps
	runLog *eval.RunLog
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRunLog attaches the evaluation run log.
func WithRunLog(log *eval.RunLog) Option {
	return func(s *Server) { s.runLog = log }
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New builds a server over the engine and coordinator. deps supplies
// the components adapters built per evaluation request can borrow.
func New(engine *search.Engine, coord *index.Coordinator, deps adapter.Deps, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		coord:  coord,
		deps:   deps,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.deps.Engine == nil {
		s.deps.Engine = engine
	}
	if s.deps.Logger == nil {
		s.deps.Logger = s.logger
	}
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.handleHealthz)
	r.POST("/search/retrieve", s.handleRetrieve)
	r.POST("/index/upsert", s.handleUpsert)
	r.DELETE("/index/by-filter", s.handleDeleteByFilter)
	r.POST("/evaluate", s.handleEvaluate)
	r.GET("/runs", s.handleListRuns)
	return r
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http_request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

type retrieveRequest struct {
	Query        string       `json:"query"`
	K            int          `json:"k"`
	Strategy     string       `json:"strategy"`
	VectorWeight float64      `json:"vector_weight"`
	BM25Weight   float64      `json:"bm25_weight"`
	RRFConstant  int          `json:"rrf_constant"`
	Filter       store.Filter `json:"filter"`
}

func (s *Server) handleRetrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, cerr.ValidationError("invalid retrieve request body", err))
		return
	}

	resp, err := s.engine.Retrieve(c.Request.Context(), search.Request{
		Query:        req.Query,
		K:            req.K,
		Strategy:     req.Strategy,
		VectorWeight: req.VectorWeight,
		BM25Weight:   req.BM25Weight,
		RRFConstant:  req.RRFConstant,
		Filter:       req.Filter,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type upsertRequest struct {
	Chunks []*store.Chunk `json:"chunks"`
}

func (s *Server) handleUpsert(c *gin.Context) {
	var req upsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, cerr.ValidationError("invalid upsert request body", err))
		return
	}
	if len(req.Chunks) == 0 {
		s.abortWithError(c, cerr.ValidationError("upsert requires at least one chunk", nil))
		return
	}

	stats, err := s.coord.Upsert(c.Request.Context(), req.Chunks)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleDeleteByFilter(c *gin.Context) {
	var filter store.Filter
	if err := c.ShouldBindJSON(&filter); err != nil {
		s.abortWithError(c, cerr.ValidationError("invalid filter body", err))
		return
	}
	if filter.Empty() {
		s.abortWithError(c, cerr.New(cerr.ErrCodeInvalidFilter,
			"delete requires a non-empty filter", nil))
		return
	}

	deleted, err := s.coord.DeleteByFilter(c.Request.Context(), filter)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

type evaluateRequest struct {
	DatasetDir                 string         `json:"dataset_dir"`
	Adapter                    adapter.Config `json:"adapter"`
	KValues                    []int          `json:"k_values"`
	Metrics                    []string       `json:"metrics"`
	Parallelism                int            `json:"parallelism"`
	ConvertFilepathToClasspath *bool          `json:"convert_filepath_to_classpath"`
	IgnoreMethodNames          *bool          `json:"ignore_method_names"`
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, cerr.ValidationError("invalid evaluate request body", err))
		return
	}
	if req.DatasetDir == "" {
		s.abortWithError(c, cerr.ValidationError("evaluate requires dataset_dir", nil))
		return
	}

	ds, err := eval.LoadDataset(req.DatasetDir)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	if req.Adapter.Type == "" {
		req.Adapter.Type = adapter.TypeLocal
	}
	backend, err := adapter.New(req.Adapter, s.deps)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	defer backend.Close()

	norm := eval.NormalizeOptionsFromDataset(ds)
	if req.ConvertFilepathToClasspath != nil {
		norm.ConvertFilepathToClasspath = *req.ConvertFilepathToClasspath
	}
	if req.IgnoreMethodNames != nil {
		norm.IgnoreMethodNames = *req.IgnoreMethodNames
	}

	runnerOpts := []eval.RunnerOption{eval.WithRunnerLogger(s.logger)}
	if s.runLog != nil {
		runnerOpts = append(runnerOpts, eval.WithRunLog(s.runLog))
	}
	runner := eval.NewRunner(backend, runnerOpts...)

	report, err := runner.Run(c.Request.Context(), ds, eval.Options{
		KValues:     req.KValues,
		Metrics:     req.Metrics,
		Normalize:   norm,
		Parallelism: req.Parallelism,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.runLog == nil {
		s.abortWithError(c, cerr.New(cerr.ErrCodeRunLogWrite, "run log is not configured", nil))
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
			s.abortWithError(c, cerr.ValidationError("invalid limit", err))
			return
		}
	}
	records, err := s.runLog.List(c.Request.Context(), limit)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": records})
}

func (s *Server) handleHealthz(c *gin.Context) {
	checks := gin.H{"engine": s.engine != nil}
	healthy := s.engine != nil
	if s.deps.Embedder != nil {
		ok := s.deps.Embedder.Available(c.Request.Context())
		checks["embedder"] = ok
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"healthy": healthy, "checks": checks})
}

// abortWithError maps structured errors onto HTTP statuses.
func (s *Server) abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request_failed", "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": err.Error(),
		"code":  cerr.GetCode(err),
	})
}

func statusFor(err error) int {
	switch cerr.GetCode(err) {
	case cerr.ErrCodeUnknownAdapter, cerr.ErrCodeDatasetRead:
		return http.StatusNotFound
	case cerr.ErrCodeInvalidDataset, cerr.ErrCodeInvalidMetricArgs:
		return http.StatusUnprocessableEntity
	case cerr.ErrCodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	}
	switch cerr.GetCategory(err) {
	case cerr.CategoryValidation:
		return http.StatusBadRequest
	case cerr.CategoryDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
