package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerr "github.com/coderag/coderag/internal/errors"
	"github.com/coderag/coderag/internal/store"
)

// fastRetry keeps backoff delays out of the test runtime.
func fastRetry() cerr.RetryConfig {
	return cerr.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		ShouldRetry:  cerr.IsRetryable,
	}
}

func TestMockAdapter_Deterministic(t *testing.T) {
	m := NewMockAdapter("")

	first, err := m.Retrieve(context.Background(), "order controller", 5)
	require.NoError(t, err)
	second, err := m.Retrieve(context.Background(), "order controller", 5)
	require.NoError(t, err)

	require.Len(t, first, 5)
	assert.Equal(t, first, second)

	other, err := m.Retrieve(context.Background(), "payment service", 5)
	require.NoError(t, err)
	assert.NotEqual(t, first[0].ID, other[0].ID)

	// Strictly decreasing scores.
	for i := 1; i < len(first); i++ {
		assert.Greater(t, first[i-1].Score, first[i].Score)
	}
	assert.True(t, m.HealthCheck(context.Background()))
	assert.NoError(t, m.Close())
}

func TestHTTPAdapter_MapsConfiguredFields(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"hits": []map[string]any{
					{"doc_id": "A", "text": "class OrderController", "relevance": 0.9, "path": "a/OrderController.java"},
					{"doc_id": "B", "text": "class PaymentService", "relevance": 0.5, "path": "b/PaymentService.java"},
				},
			},
		})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(Config{
		Type:    TypeHTTP,
		BaseURL: srv.URL,
		HTTP: HTTPFieldConfig{
			QueryField:    "q",
			KField:        "top_k",
			Extras:        map[string]any{"collection": "library"},
			ResultsField:  "data.hits",
			IDField:       "doc_id",
			ContentField:  "text",
			ScoreField:    "relevance",
			FilePathField: "path",
		},
	})
	defer a.Close()

	results, err := a.Retrieve(context.Background(), "order", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "order", gotBody["q"])
	assert.Equal(t, float64(10), gotBody["top_k"])
	assert.Equal(t, "library", gotBody["collection"])

	assert.Equal(t, "A", results[0].ID)
	assert.Equal(t, "class OrderController", results[0].Content)
	assert.InDelta(t, 0.9, results[0].Score, 1e-9)
	assert.Equal(t, "a/OrderController.java", results[0].FilePath)
	assert.Equal(t, TypeHTTP, results[0].Source)
}

func TestHTTPAdapter_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"id": "A", "content": "ok", "score": 1.0}},
		})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(Config{Type: TypeHTTP, BaseURL: srv.URL})
	a.retry = fastRetry()
	defer a.Close()

	results, err := a.Retrieve(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPAdapter_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(Config{Type: TypeHTTP, BaseURL: srv.URL})
	a.retry = fastRetry()
	defer a.Close()

	_, err := a.Retrieve(context.Background(), "q", 5)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, cerr.ErrCodeInvalidInput, cerr.GetCode(err))
}

func TestHTTPAdapter_EmptyQueryShortCircuits(t *testing.T) {
	a := NewHTTPAdapter(Config{Type: TypeHTTP, BaseURL: "http://127.0.0.1:1"})
	defer a.Close()

	results, err := a.Retrieve(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHTTPAdapter_TruncatesToK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits := make([]map[string]any, 10)
		for i := range hits {
			hits[i] = map[string]any{"id": string(rune('a' + i)), "content": "x", "score": 1.0}
		}
		json.NewEncoder(w).Encode(map[string]any{"results": hits})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(Config{Type: TypeHTTP, BaseURL: srv.URL})
	defer a.Close()

	results, err := a.Retrieve(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestLookupPath(t *testing.T) {
	obj := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": 1.5}},
		"s": "str",
	}
	assert.Equal(t, 1.5, lookupPath(obj, "a.b.c"))
	assert.Equal(t, "str", lookupPath(obj, "s"))
	assert.Nil(t, lookupPath(obj, "a.missing"))
	assert.Nil(t, lookupPath(obj, "s.deeper"))
	assert.Nil(t, lookupPath(obj, ""))
}

func TestBM25OnlyAdapter_DelegatesToIndex(t *testing.T) {
	idx := &stubBM25Index{results: []*store.RetrievalResult{
		{ID: "B", Content: "b", Score: 5, Source: store.SourceBM25},
	}}
	a := NewBM25OnlyAdapter("", idx)

	results, err := a.Retrieve(context.Background(), "query", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "B", results[0].ID)
	assert.Equal(t, TypeBM25Only, a.Name())
}

func TestFactory_BuildsKnownTypes(t *testing.T) {
	a, err := New(Config{Type: TypeMock}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, TypeMock, a.Name())

	a, err = New(Config{Type: TypeHTTP, BaseURL: "http://localhost:9"}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, TypeHTTP, a.Name())

	a, err = New(Config{Type: TypeBM25Only}, Deps{BM25: &stubBM25Index{}})
	require.NoError(t, err)
	assert.Equal(t, TypeBM25Only, a.Name())
}

func TestFactory_RejectsIncompleteConfig(t *testing.T) {
	_, err := New(Config{Type: TypeHTTP}, Deps{})
	require.Error(t, err)

	_, err = New(Config{Type: TypeBearer, BaseURL: "http://x"}, Deps{})
	require.Error(t, err)

	_, err = New(Config{Type: TypeLocal}, Deps{})
	require.Error(t, err)
}

func TestFactory_UnknownTypeAndRegister(t *testing.T) {
	_, err := New(Config{Type: "carrier_pigeon"}, Deps{})
	require.Error(t, err)
	assert.Equal(t, cerr.ErrCodeUnknownAdapter, cerr.GetCode(err))

	Register("custom_stub", func(cfg Config, deps Deps) (Adapter, error) {
		return NewMockAdapter("custom_stub"), nil
	})
	a, err := New(Config{Type: "custom_stub"}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, "custom_stub", a.Name())
}

// stubBM25Index is a canned BM25Index for adapter wiring tests.
type stubBM25Index struct {
	results []*store.RetrievalResult
}

func (s *stubBM25Index) Add(ctx context.Context, nodes []*store.BM25Node) error { return nil }
func (s *stubBM25Index) Search(ctx context.Context, query string, k int, filter store.Filter) ([]*store.RetrievalResult, error) {
	return s.results, nil
}
func (s *stubBM25Index) Delete(ctx context.Context, ids []string) error { return nil }
func (s *stubBM25Index) DeleteByFilter(ctx context.Context, filter store.Filter) (int, error) {
	return 0, nil
}
func (s *stubBM25Index) Count() int   { return len(s.results) }
func (s *stubBM25Index) Close() error { return nil }
