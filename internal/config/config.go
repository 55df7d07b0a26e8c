// Package config loads and validates coderag configuration.
//
// Configuration is resolved in three layers, later layers winning:
//  1. Built-in defaults (NewConfig)
//  2. YAML file (coderag.yaml in the working directory, or an explicit path)
//  3. Environment variables (CODERAG_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete coderag configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	BM25      BM25Config      `yaml:"bm25" json:"bm25"`
	Vector    VectorConfig    `yaml:"vector" json:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Adapter   AdapterConfig   `yaml:"adapter" json:"adapter"`
	Eval      EvalConfig      `yaml:"eval" json:"eval"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// RetrievalConfig configures hybrid search and fusion.
type RetrievalConfig struct {
	// Strategy selects the fusion method: "weighted" or "rrf".
	Strategy string `yaml:"strategy" json:"strategy"`

	// VectorWeight is the weight for the vector leg in weighted fusion.
	// Must sum to 1.0 with BM25Weight.
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`

	// BM25Weight is the weight for the keyword leg in weighted fusion.
	BM25Weight float64 `yaml:"bm25_weight" json:"bm25_weight"`

	// RRFConstant is the reciprocal-rank-fusion smoothing parameter k.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// TopK is the default number of fused results to return.
	TopK int `yaml:"top_k" json:"top_k"`

	// Oversample is the per-leg over-fetch multiplier. Each leg fetches
	// max(TopK*Oversample, MinLegFetch) candidates before fusion.
	Oversample int `yaml:"oversample" json:"oversample"`

	// MinLegFetch is the floor on per-leg candidate counts.
	MinLegFetch int `yaml:"min_leg_fetch" json:"min_leg_fetch"`

	// Timeout bounds a single retrieve call end to end.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// BM25Config configures the keyword index.
type BM25Config struct {
	// Backend selects the index backend: "okapi" (persistent, default),
	// "bleve", or "auto" to detect what an existing index directory
	// holds.
	Backend string `yaml:"backend" json:"backend"`

	// Path is the directory holding index files.
	Path string `yaml:"path" json:"path"`

	// K1 is the term-frequency saturation parameter.
	K1 float64 `yaml:"k1" json:"k1"`

	// B is the length-normalization parameter.
	B float64 `yaml:"b" json:"b"`

	// MinTokenLength drops tokens shorter than this after splitting.
	MinTokenLength int `yaml:"min_token_length" json:"min_token_length"`
}

// VectorConfig configures the dense index.
type VectorConfig struct {
	// Backend selects the vector backend: "qdrant" (default) or "embedded".
	Backend string `yaml:"backend" json:"backend"`

	// Host and Port locate the qdrant gRPC endpoint.
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// Collection is the qdrant collection name.
	Collection string `yaml:"collection" json:"collection"`

	// Dimensions is the embedding vector size.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// Path is the storage directory for the embedded backend.
	Path string `yaml:"path" json:"path"`
}

// EmbeddingConfig configures the embedding service client.
type EmbeddingConfig struct {
	// BaseURL is the embedding service endpoint.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Timeout bounds a single embed call.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// BatchSize is the number of texts per bulk embed request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// CacheSize is the LRU cache capacity in entries. 0 disables caching.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// AdapterConfig configures an external retrieval backend.
type AdapterConfig struct {
	// Type selects the adapter: "local", "http", "bearer", or "mock".
	Type string `yaml:"type" json:"type"`

	// BaseURL is the backend search endpoint.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// AuthURL is the token endpoint for bearer-authenticated backends.
	AuthURL  string `yaml:"auth_url" json:"auth_url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`

	// KnowledgeIDs narrows queries to specific knowledge bases.
	KnowledgeIDs []int `yaml:"knowledge_ids" json:"knowledge_ids"`

	// Threshold is the backend-side similarity cutoff.
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// Timeout bounds a single backend call.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MaxRetries is the retry budget for transport and 5xx failures.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// LegacyPathFallback derives file paths from result names when the
	// backend omits path metadata.
	LegacyPathFallback bool `yaml:"legacy_path_fallback" json:"legacy_path_fallback"`
}

// EvalConfig configures the evaluation pipeline.
type EvalConfig struct {
	// TopK is the cutoff for rank metrics.
	TopK int `yaml:"top_k" json:"top_k"`

	// Parallelism is the number of questions evaluated concurrently.
	// 1 means sequential.
	Parallelism int `yaml:"parallelism" json:"parallelism"`

	// RunLogPath is the SQLite database recording evaluation runs.
	RunLogPath string `yaml:"run_log_path" json:"run_log_path"`

	// ReportDir is where JSON reports are written.
	ReportDir string `yaml:"report_dir" json:"report_dir"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int    `yaml:"port" json:"port"`
	Mode string `yaml:"mode" json:"mode"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// ConfigFileName is the per-project configuration file.
const ConfigFileName = "coderag.yaml"

// NewConfig returns a Config with all defaults applied.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Retrieval: RetrievalConfig{
			Strategy:     "weighted",
			VectorWeight: 0.7,
			BM25Weight:   0.3,
			RRFConstant:  60,
			TopK:         10,
			Oversample:   3,
			MinLegFetch:  50,
			Timeout:      30 * time.Second,
		},
		BM25: BM25Config{
			Backend:        "okapi",
			Path:           ".coderag/bm25",
			K1:             1.2,
			B:              0.75,
			MinTokenLength: 2,
		},
		Vector: VectorConfig{
			Backend:    "qdrant",
			Host:       "localhost",
			Port:       6334,
			Collection: "coderag_chunks",
			Dimensions: 768,
			Path:       ".coderag/vectors",
		},
		Embedding: EmbeddingConfig{
			BaseURL:   "http://localhost:8080",
			Timeout:   30 * time.Second,
			BatchSize: 32,
			CacheSize: 1000,
		},
		Adapter: AdapterConfig{
			Type:         "local",
			KnowledgeIDs: []int{28},
			Threshold:    0.8,
			Timeout:      30 * time.Second,
			MaxRetries:   2,
		},
		Eval: EvalConfig{
			TopK:        10,
			Parallelism: 1,
			RunLogPath:  ".coderag/runs.db",
			ReportDir:   ".coderag/reports",
		},
		Server: ServerConfig{
			Port: 8642,
			Mode: "release",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// Load builds configuration for the given directory: defaults, then
// coderag.yaml if present, then environment overrides.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile builds configuration from an explicit YAML path plus
// environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies CODERAG_* environment variables.
// Env vars have the highest priority.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CODERAG_FUSION_STRATEGY"); v != "" {
		c.Retrieval.Strategy = v
	}
	if v := os.Getenv("CODERAG_VECTOR_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retrieval.VectorWeight = f
		}
	}
	if v := os.Getenv("CODERAG_BM25_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retrieval.BM25Weight = f
		}
	}
	if v := os.Getenv("CODERAG_RRF_CONSTANT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retrieval.RRFConstant = n
		}
	}
	if v := os.Getenv("CODERAG_BM25_BACKEND"); v != "" {
		c.BM25.Backend = v
	}
	if v := os.Getenv("CODERAG_BM25_PATH"); v != "" {
		c.BM25.Path = v
	}
	if v := os.Getenv("CODERAG_VECTOR_BACKEND"); v != "" {
		c.Vector.Backend = v
	}
	if v := os.Getenv("CODERAG_QDRANT_HOST"); v != "" {
		c.Vector.Host = v
	}
	if v := os.Getenv("CODERAG_QDRANT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Vector.Port = n
		}
	}
	if v := os.Getenv("CODERAG_EMBEDDING_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("CODERAG_ADAPTER_TYPE"); v != "" {
		c.Adapter.Type = v
	}
	if v := os.Getenv("CODERAG_ADAPTER_URL"); v != "" {
		c.Adapter.BaseURL = v
	}
	if v := os.Getenv("CODERAG_ADAPTER_USERNAME"); v != "" {
		c.Adapter.Username = v
	}
	if v := os.Getenv("CODERAG_ADAPTER_PASSWORD"); v != "" {
		c.Adapter.Password = v
	}
	if v := os.Getenv("CODERAG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CODERAG_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	switch c.Retrieval.Strategy {
	case "weighted", "rrf":
	default:
		return fmt.Errorf("invalid fusion strategy %q (want weighted or rrf)", c.Retrieval.Strategy)
	}

	sum := c.Retrieval.VectorWeight + c.Retrieval.BM25Weight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("fusion weights must sum to 1.0, got %.3f", sum)
	}
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.BM25Weight < 0 {
		return fmt.Errorf("fusion weights must be non-negative")
	}
	if c.Retrieval.RRFConstant <= 0 {
		return fmt.Errorf("rrf_constant must be positive, got %d", c.Retrieval.RRFConstant)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.Retrieval.TopK)
	}

	switch c.BM25.Backend {
	case "okapi", "bleve", "auto", "":
	default:
		return fmt.Errorf("invalid bm25 backend %q (want okapi, bleve, or auto)", c.BM25.Backend)
	}
	if c.BM25.K1 <= 0 {
		return fmt.Errorf("bm25 k1 must be positive, got %g", c.BM25.K1)
	}
	if c.BM25.B < 0 || c.BM25.B > 1 {
		return fmt.Errorf("bm25 b must be in [0,1], got %g", c.BM25.B)
	}

	switch c.Vector.Backend {
	case "qdrant", "embedded":
	default:
		return fmt.Errorf("invalid vector backend %q (want qdrant or embedded)", c.Vector.Backend)
	}
	if c.Vector.Dimensions <= 0 {
		return fmt.Errorf("vector dimensions must be positive, got %d", c.Vector.Dimensions)
	}

	switch c.Adapter.Type {
	case "local", "http", "bearer", "mock", "vector_only", "bm25_only":
	default:
		return fmt.Errorf("invalid adapter type %q", c.Adapter.Type)
	}
	if c.Adapter.Threshold < 0 || c.Adapter.Threshold > 1 {
		return fmt.Errorf("adapter threshold must be in [0,1], got %g", c.Adapter.Threshold)
	}

	if c.Eval.TopK <= 0 {
		return fmt.Errorf("eval top_k must be positive, got %d", c.Eval.TopK)
	}
	if c.Eval.Parallelism <= 0 {
		return fmt.Errorf("eval parallelism must be positive, got %d", c.Eval.Parallelism)
	}

	if level := strings.ToLower(c.Logging.Level); level != "debug" && level != "info" &&
		level != "warn" && level != "warning" && level != "error" {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}

	return nil
}
