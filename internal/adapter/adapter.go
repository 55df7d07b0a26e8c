// Package adapter presents a uniform retrieval contract over
// heterogeneous backends: the local hybrid engine, generic HTTP
// services, bearer-authenticated services, and a deterministic mock.
package adapter

import (
	"context"
	"time"

	"github.com/coderag/coderag/internal/store"
)

// Adapter is the uniform retrieval contract consumed by evaluation
// and the HTTP surface.
type Adapter interface {
	// Name identifies the adapter for run records and logs.
	Name() string

	// Retrieve returns up to k ranked results for the query.
	Retrieve(ctx context.Context, query string, k int) ([]*store.RetrievalResult, error)

	// HealthCheck reports whether the backend is reachable.
	HealthCheck(ctx context.Context) bool

	// Close releases backend resources (connection pools, indexes).
	Close() error
}

// Adapter type discriminants. The set is closed; Register extends it
// at program start.
const (
	TypeMock       = "mock"
	TypeHTTP       = "http"
	TypeBearer     = "bearer"
	TypeLocal      = "local"
	TypeVectorOnly = "vector_only"
	TypeBM25Only   = "bm25_only"
)

// Config is the per-variant adapter configuration.
type Config struct {
	// Type selects the adapter variant.
	Type string `yaml:"type" json:"type"`

	// Name overrides the reported adapter name.
	Name string `yaml:"name" json:"name"`

	// BaseURL is the retrieval endpoint for HTTP variants.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Timeout bounds one backend call.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MaxRetries is the retry budget for transport and 5xx failures.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// HTTP configures the generic HTTP variant.
	HTTP HTTPFieldConfig `yaml:"http" json:"http"`

	// Bearer configures the bearer-auth variant.
	Bearer BearerConfig `yaml:"bearer" json:"bearer"`
}

// HTTPFieldConfig maps the generic HTTP adapter onto an arbitrary
// JSON request/response shape.
type HTTPFieldConfig struct {
	// QueryField and KField name the request body fields.
	QueryField string `yaml:"query_field" json:"query_field"`
	KField     string `yaml:"k_field" json:"k_field"`

	// Extras are additional fixed request fields.
	Extras map[string]any `yaml:"extras" json:"extras"`

	// Response extraction paths, dotted for nesting.
	ResultsField  string `yaml:"results_field" json:"results_field"`
	IDField       string `yaml:"id_field" json:"id_field"`
	ContentField  string `yaml:"content_field" json:"content_field"`
	ScoreField    string `yaml:"score_field" json:"score_field"`
	FilePathField string `yaml:"filepath_field" json:"filepath_field"`
}

// BearerConfig configures the bearer-auth variant.
type BearerConfig struct {
	// AuthURL is the token endpoint.
	AuthURL  string `yaml:"auth_url" json:"auth_url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`

	// KnowledgeIDs narrows retrieval to specific knowledge bases.
	KnowledgeIDs []int `yaml:"knowledge_ids" json:"knowledge_ids"`

	// Threshold is the backend-side similarity cutoff.
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// LegacyPathFallback derives a path for bare .java file names by
	// prepending the legacy controller directory.
	LegacyPathFallback bool `yaml:"legacy_path_fallback" json:"legacy_path_fallback"`
}

// Defaults preserving the legacy backend behavior.
var (
	DefaultKnowledgeIDs = []int{28}
	DefaultThreshold    = 0.8
)

// DefaultTimeout bounds adapter calls when unconfigured.
const DefaultTimeout = 30 * time.Second
