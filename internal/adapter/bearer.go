package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	cerr "github.com/coderag/coderag/internal/errors"
	"github.com/coderag/coderag/internal/store"
)

// legacyControllerPrefix is prepended to bare .java file names when the
// backend omits the repository path. This mirrors a quirk of the legacy
// knowledge-base service and is only active with LegacyPathFallback.
const legacyControllerPrefix = "src/main/java/com/skax/library/controller/"

// BearerAdapter retrieves from a bearer-authenticated knowledge-base
// service: a form-encoded auth endpoint issues tokens, and the
// retrieval endpoint expects an Authorization header. A 401 triggers
// exactly one re-authentication, serialized across goroutines.
type BearerAdapter struct {
	name      string
	baseURL   string
	authURL   string
	bearer    BearerConfig
	client    *http.Client
	transport *http.Transport
	timeout   time.Duration
	retry     cerr.RetryConfig
	logger    *slog.Logger

	mu        sync.Mutex
	token     string
	tokenType string
}

var _ Adapter = (*BearerAdapter)(nil)

// NewBearerAdapter builds a bearer-auth adapter.
func NewBearerAdapter(cfg Config, logger *slog.Logger) *BearerAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	bearer := cfg.Bearer
	if len(bearer.KnowledgeIDs) == 0 {
		bearer.KnowledgeIDs = DefaultKnowledgeIDs
	}
	if bearer.Threshold <= 0 {
		bearer.Threshold = DefaultThreshold
	}

	name := cfg.Name
	if name == "" {
		name = TypeBearer
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

	return &BearerAdapter{
		name:      name,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		authURL:   bearer.AuthURL,
		bearer:    bearer,
		client:    &http.Client{Transport: transport},
		transport: transport,
		timeout:   timeout,
		retry:     retry,
		logger:    logger,
	}
}

func (a *BearerAdapter) Name() string { return a.name }

type bearerAuthResponse struct {
	StatusCode  int    `json:"statusCode"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type bearerRetrievalRequest struct {
	IDs     []int                `json:"ids"`
	Payload bearerRequestPayload `json:"payload"`
}

type bearerRequestPayload struct {
	K         int     `json:"k"`
	Query     string  `json:"query"`
	Threshold float64 `json:"threshold"`
}

type bearerRetrievalResponse struct {
	Results []bearerResultItem `json:"results"`
}

type bearerResultItem struct {
	Content string           `json:"content"`
	Score   float64          `json:"score"`
	Meta    bearerResultMeta `json:"meta"`
}

type bearerResultMeta struct {
	DocID    string `json:"doc_id"`
	FileName string `json:"file_name"`
}

// Retrieve issues the retrieval POST, re-authenticating once on 401.
// Transport failures and 5xx retry with backoff; 4xx never retry.
func (a *BearerAdapter) Retrieve(ctx context.Context, query string, k int) ([]*store.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}

	return cerr.RetryWithResult(ctx, a.retry, func() ([]*store.RetrievalResult, error) {
		return a.retrieveOnce(ctx, query, k)
	})
}

// retrieveOnce is one logical attempt: request with the current token,
// and on 401 refresh the token exactly once and repeat the request.
func (a *BearerAdapter) retrieveOnce(ctx context.Context, query string, k int) ([]*store.RetrievalResult, error) {
	token, tokenType, err := a.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	results, status, err := a.postRetrieval(ctx, query, k, tokenType, token)
	if status != http.StatusUnauthorized {
		return results, err
	}

	a.logger.Info("bearer_token_rejected", "adapter", a.name)
	token, tokenType, err = a.refreshToken(ctx, token)
	if err != nil {
		return nil, err
	}

	results, status, err = a.postRetrieval(ctx, query, k, tokenType, token)
	if status == http.StatusUnauthorized {
		return nil, cerr.AuthError("retrieval rejected after re-authentication", err)
	}
	return results, err
}

// currentToken returns the cached token, authenticating lazily on the
// first call.
func (a *BearerAdapter) currentToken(ctx context.Context) (token, tokenType string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token == "" {
		if err := a.authenticateLocked(ctx); err != nil {
			return "", "", err
		}
	}
	return a.token, a.tokenType, nil
}

// refreshToken replaces a rejected token. Concurrent callers holding
// the same stale token wait on the mutex; whichever enters first
// re-authenticates and the rest reuse its result, so a 401 storm costs
// one auth call.
func (a *BearerAdapter) refreshToken(ctx context.Context, stale string) (token, tokenType string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && a.token != stale {
		return a.token, a.tokenType, nil
	}
	a.token = ""
	if err := a.authenticateLocked(ctx); err != nil {
		return "", "", err
	}
	return a.token, a.tokenType, nil
}

// authenticateLocked posts the form-encoded credentials. Caller holds
// the mutex.
func (a *BearerAdapter) authenticateLocked(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("username", a.bearer.Username)
	form.Set("password", a.bearer.Password)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.authURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return cerr.InternalError("failed to build auth request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return cerr.DependencyError(cerr.ErrCodeAdapterUnavailable, "auth request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return cerr.DependencyError(cerr.ErrCodeAdapterUnavailable, "failed to read auth response", err)
	}
	if resp.StatusCode >= 500 {
		return cerr.DependencyError(cerr.ErrCodeAdapterUnavailable,
			fmt.Sprintf("auth service returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return cerr.AuthError(fmt.Sprintf("auth service rejected credentials with %d", resp.StatusCode), nil)
	}

	var auth bearerAuthResponse
	if err := json.Unmarshal(data, &auth); err != nil {
		return cerr.DependencyError(cerr.ErrCodeAdapterUnavailable, "failed to decode auth response", err)
	}
	if auth.StatusCode != 0 && auth.StatusCode != http.StatusOK {
		return cerr.AuthError(fmt.Sprintf("auth service returned status %d", auth.StatusCode), nil)
	}
	if auth.AccessToken == "" {
		return cerr.AuthError("auth service returned empty token", nil)
	}

	a.token = auth.AccessToken
	a.tokenType = auth.TokenType
	if a.tokenType == "" {
		a.tokenType = "Bearer"
	}
	a.logger.Info("bearer_token_obtained", "adapter", a.name)
	return nil
}

// postRetrieval issues one retrieval request. The HTTP status is
// returned alongside so the caller can distinguish the 401 path.
func (a *BearerAdapter) postRetrieval(ctx context.Context, query string, k int, tokenType, token string) ([]*store.RetrievalResult, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body := bearerRetrievalRequest{
		IDs: a.bearer.KnowledgeIDs,
		Payload: bearerRequestPayload{
			K:         k,
			Query:     query,
			Threshold: a.bearer.Threshold,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, cerr.InternalError("failed to marshal retrieval request", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, cerr.InternalError("failed to build retrieval request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", tokenType+" "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil && ctx.Err() == nil {
			return nil, 0, cerr.DependencyError(cerr.ErrCodeAdapterUnavailable,
				"retrieval request timed out", err)
		}
		return nil, 0, cerr.DependencyError(cerr.ErrCodeAdapterUnavailable,
			"retrieval request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, cerr.DependencyError(cerr.ErrCodeAdapterUnavailable,
			"failed to read retrieval response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, resp.StatusCode, cerr.AuthError("retrieval returned 401", nil)
	case resp.StatusCode >= 500:
		return nil, resp.StatusCode, cerr.DependencyError(cerr.ErrCodeAdapterUnavailable,
			fmt.Sprintf("retrieval service returned %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, resp.StatusCode, cerr.ValidationError(
			fmt.Sprintf("retrieval service rejected request with %d", resp.StatusCode), nil)
	}

	var parsed bearerRetrievalResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, resp.StatusCode, cerr.DependencyError(cerr.ErrCodeAdapterUnavailable,
			"failed to decode retrieval response", err)
	}

	results := make([]*store.RetrievalResult, 0, len(parsed.Results))
	for i, item := range parsed.Results {
		id := item.Meta.DocID
		if id == "" {
			id = item.Meta.FileName
		}
		if id == "" {
			id = fmt.Sprintf("%s-result-%d", a.name, i)
		}
		results = append(results, &store.RetrievalResult{
			ID:       id,
			Content:  item.Content,
			Score:    item.Score,
			Source:   a.name,
			FilePath: a.resolveFilePath(item.Meta.FileName),
			Metadata: map[string]any{"file_name": item.Meta.FileName},
		})
		if len(results) == k {
			break
		}
	}
	return results, resp.StatusCode, nil
}

// resolveFilePath maps the backend's file_name onto a repository path.
// Bare .java names get the legacy controller directory when the
// fallback is enabled.
func (a *BearerAdapter) resolveFilePath(fileName string) string {
	if fileName == "" {
		return ""
	}
	if !a.bearer.LegacyPathFallback {
		return fileName
	}
	if !strings.ContainsRune(fileName, '/') && path.Ext(fileName) == ".java" {
		return legacyControllerPrefix + fileName
	}
	return fileName
}

// HealthCheck probes the auth endpoint.
func (a *BearerAdapter) HealthCheck(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, a.authURL, nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

func (a *BearerAdapter) Close() error {
	a.transport.CloseIdleConnections()
	return nil
}
