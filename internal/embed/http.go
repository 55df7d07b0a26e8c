package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	cerr "github.com/coderag/coderag/internal/errors"
)

// Embedding service endpoints.
const (
	embedPath     = "/embedding/embed"
	embedBulkPath = "/embedding/embed/bulk"
)

// HTTPEmbedder calls the embedding service over HTTP. The client and
// its connection pool are per-instance; Close tears the pool down.
type HTTPEmbedder struct {
	baseURL   string
	model     string
	dims      int
	client    *http.Client
	transport *http.Transport
	timeout   time.Duration
	retry     cerr.RetryConfig
}

var _ Embedder = (*HTTPEmbedder)(nil)

// HTTPOption configures an HTTPEmbedder.
type HTTPOption func(*HTTPEmbedder)

// WithTimeout bounds each embed request.
func WithTimeout(d time.Duration) HTTPOption {
	return func(e *HTTPEmbedder) { e.timeout = d }
}

// WithDimensions declares the expected embedding dimension.
func WithDimensions(dims int) HTTPOption {
	return func(e *HTTPEmbedder) { e.dims = dims }
}

// WithModelName sets the reported model identifier.
func WithModelName(name string) HTTPOption {
	return func(e *HTTPEmbedder) { e.model = name }
}

// WithRetryConfig replaces the default retry policy.
func WithRetryConfig(cfg cerr.RetryConfig) HTTPOption {
	return func(e *HTTPEmbedder) { e.retry = cfg }
}

// NewHTTPEmbedder creates an embedder against the given base URL.
func NewHTTPEmbedder(baseURL string, opts ...HTTPOption) *HTTPEmbedder {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	e := &HTTPEmbedder{
		baseURL: baseURL,
		model:   "remote",
		dims:    DefaultDimensions,
		// No client-level timeout: per-request context deadlines control
		// cancellation so callers can extend budgets.
		client:    &http.Client{Transport: transport},
		transport: transport,
		timeout:   30 * time.Second,
		retry:     cerr.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.retry.ShouldRetry = cerr.IsRetryable
	return e
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type embedBulkRequest struct {
	Texts []string `json:"texts"`
}

type embedBulkResponse struct {
	Embeddings []embedResponse `json:"embeddings"`
}

// Embed generates an embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return cerr.RetryWithResult(ctx, e.retry, func() ([]float32, error) {
		var resp embedResponse
		if err := e.post(ctx, embedPath, embedRequest{Text: text}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Embedding) == 0 {
			return nil, cerr.DependencyError(cerr.ErrCodeEmbeddingUnavailable,
				"embedding service returned empty vector", nil)
		}
		return resp.Embedding, nil
	})
}

// EmbedBatch generates embeddings via the bulk endpoint.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return cerr.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
		var resp embedBulkResponse
		if err := e.post(ctx, embedBulkPath, embedBulkRequest{Texts: texts}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, cerr.DependencyError(cerr.ErrCodeEmbeddingUnavailable,
				fmt.Sprintf("embedding service returned %d vectors for %d texts",
					len(resp.Embeddings), len(texts)), nil)
		}
		out := make([][]float32, len(resp.Embeddings))
		for i, item := range resp.Embeddings {
			out[i] = item.Embedding
		}
		return out, nil
	})
}

// post issues one JSON request. Transport failures and 5xx responses
// come back retryable; 4xx do not.
func (e *HTTPEmbedder) post(ctx context.Context, path string, body, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return cerr.InternalError("failed to marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return cerr.InternalError("failed to build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil && ctx.Err() == nil {
			return cerr.DependencyError(cerr.ErrCodeEmbeddingUnavailable,
				"embedding request timed out", err)
		}
		return cerr.DependencyError(cerr.ErrCodeEmbeddingUnavailable,
			"embedding request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return cerr.DependencyError(cerr.ErrCodeEmbeddingUnavailable,
			"failed to read embedding response", err)
	}

	if resp.StatusCode >= 500 {
		return cerr.DependencyError(cerr.ErrCodeEmbeddingUnavailable,
			fmt.Sprintf("embedding service returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return cerr.ValidationError(
			fmt.Sprintf("embedding service rejected request with %d", resp.StatusCode), nil)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return cerr.DependencyError(cerr.ErrCodeEmbeddingUnavailable,
			"failed to decode embedding response", err)
	}
	return nil
}

// Dimensions returns the embedding dimension.
func (e *HTTPEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *HTTPEmbedder) ModelName() string { return e.model }

// Available probes the service with a tiny embed call.
func (e *HTTPEmbedder) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var resp embedResponse
	return e.post(probeCtx, embedPath, embedRequest{Text: "ping"}, &resp) == nil
}

// Close shuts down the connection pool.
func (e *HTTPEmbedder) Close() error {
	e.transport.CloseIdleConnections()
	return nil
}
