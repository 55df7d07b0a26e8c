package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	cerr "github.com/coderag/coderag/internal/errors"
	"github.com/coderag/coderag/internal/store"
)

// HTTPAdapter talks to an arbitrary JSON retrieval service. The request
// body shape and the response extraction paths are configured per
// deployment, so one adapter covers the usual REST variations.
type HTTPAdapter struct {
	name      string
	baseURL   string
	fields    HTTPFieldConfig
	client    *http.Client
	transport *http.Transport
	timeout   time.Duration
	retry     cerr.RetryConfig
}

var _ Adapter = (*HTTPAdapter)(nil)

// NewHTTPAdapter builds a generic HTTP adapter. Unset field names fall
// back to the common query/k/results/id/content/score convention.
func NewHTTPAdapter(cfg Config) *HTTPAdapter {
	fields := cfg.HTTP
	if fields.QueryField == "" {
		fields.QueryField = "query"
	}
	if fields.KField == "" {
		fields.KField = "k"
	}
	if fields.ResultsField == "" {
		fields.ResultsField = "results"
	}
	if fields.IDField == "" {
		fields.IDField = "id"
	}
	if fields.ContentField == "" {
		fields.ContentField = "content"
	}
	if fields.ScoreField == "" {
		fields.ScoreField = "score"
	}

	name := cfg.Name
	if name == "" {
		name = TypeHTTP
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	retry := cerr.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}
	retry.ShouldRetry = cerr.IsRetryable

	return &HTTPAdapter{
		name:      name,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		fields:    fields,
		client:    &http.Client{Transport: transport},
		transport: transport,
		timeout:   timeout,
		retry:     retry,
	}
}

func (a *HTTPAdapter) Name() string { return a.name }

// Retrieve posts the query and maps the configured response paths onto
// retrieval results. Transport failures and 5xx responses retry; 4xx
// surface immediately.
func (a *HTTPAdapter) Retrieve(ctx context.Context, query string, k int) ([]*store.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}

	body := map[string]any{
		a.fields.QueryField: query,
		a.fields.KField:     k,
	}
	for key, value := range a.fields.Extras {
		body[key] = value
	}

	return cerr.RetryWithResult(ctx, a.retry, func() ([]*store.RetrievalResult, error) {
		raw, err := a.post(ctx, a.baseURL, body)
		if err != nil {
			return nil, err
		}
		return a.extractResults(raw, k)
	})
}

// HealthCheck issues a one-result probe.
func (a *HTTPAdapter) HealthCheck(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := a.post(probeCtx, a.baseURL, map[string]any{
		a.fields.QueryField: "ping",
		a.fields.KField:     1,
	})
	return err == nil
}

func (a *HTTPAdapter) Close() error {
	a.transport.CloseIdleConnections()
	return nil
}

func (a *HTTPAdapter) post(ctx context.Context, url string, body any) (map[string]any, error) {
	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, cerr.InternalError("failed to marshal retrieval request", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, cerr.InternalError("failed to build retrieval request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil && ctx.Err() == nil {
			return nil, cerr.DependencyError(cerr.ErrCodeAdapterUnavailable,
				"retrieval request timed out", err)
		}
		return nil, cerr.DependencyError(cerr.ErrCodeAdapterUnavailable,
			"retrieval request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cerr.DependencyError(cerr.ErrCodeAdapterUnavailable,
			"failed to read retrieval response", err)
	}

	if resp.StatusCode >= 500 {
		return nil, cerr.DependencyError(cerr.ErrCodeAdapterUnavailable,
			fmt.Sprintf("retrieval service returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, cerr.ValidationError(
			fmt.Sprintf("retrieval service rejected request with %d", resp.StatusCode), nil)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, cerr.DependencyError(cerr.ErrCodeAdapterUnavailable,
			"failed to decode retrieval response", err)
	}
	return out, nil
}

// extractResults walks the configured dotted paths over the decoded
// response. Items missing an id or content are skipped rather than
// failing the whole call.
func (a *HTTPAdapter) extractResults(raw map[string]any, k int) ([]*store.RetrievalResult, error) {
	listVal := lookupPath(raw, a.fields.ResultsField)
	if listVal == nil {
		return nil, cerr.DependencyError(cerr.ErrCodeAdapterUnavailable,
			fmt.Sprintf("response has no %q field", a.fields.ResultsField), nil)
	}
	items, ok := listVal.([]any)
	if !ok {
		return nil, cerr.DependencyError(cerr.ErrCodeAdapterUnavailable,
			fmt.Sprintf("response field %q is not a list", a.fields.ResultsField), nil)
	}

	results := make([]*store.RetrievalResult, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := stringAt(obj, a.fields.IDField)
		content := stringAt(obj, a.fields.ContentField)
		if id == "" && content == "" {
			continue
		}
		if id == "" {
			id = fmt.Sprintf("%s-result-%d", a.name, i)
		}
		results = append(results, &store.RetrievalResult{
			ID:       id,
			Content:  content,
			Score:    floatAt(obj, a.fields.ScoreField),
			Source:   a.name,
			FilePath: stringAt(obj, a.fields.FilePathField),
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// lookupPath resolves a dotted path like "data.results" against nested
// JSON objects. A nil return means the path does not resolve.
func lookupPath(obj map[string]any, path string) any {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	var current any = obj
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

func stringAt(obj map[string]any, path string) string {
	switch v := lookupPath(obj, path).(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return ""
	}
}

func floatAt(obj map[string]any, path string) float64 {
	switch v := lookupPath(obj, path).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
