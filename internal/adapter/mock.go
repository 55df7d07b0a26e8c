package adapter

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/coderag/coderag/internal/store"
)

// MockAdapter produces deterministic synthetic results. The same query
// always yields the same ranked list, which keeps evaluation runs and
// wiring tests reproducible without a backend.
type MockAdapter struct {
	name string
}

var _ Adapter = (*MockAdapter)(nil)

// NewMockAdapter builds a mock adapter.
func NewMockAdapter(name string) *MockAdapter {
	if name == "" {
		name = TypeMock
	}
	return &MockAdapter{name: name}
}

func (m *MockAdapter) Name() string { return m.name }

// Retrieve derives k results from a hash of the query. Scores decay
// from 1.0 so downstream ordering checks see a strict ranking.
func (m *MockAdapter) Retrieve(ctx context.Context, query string, k int) ([]*store.RetrievalResult, error) {
	if k <= 0 {
		k = 10
	}
	h := fnv.New64a()
	h.Write([]byte(query))
	seed := h.Sum64()

	results := make([]*store.RetrievalResult, 0, k)
	for i := 0; i < k; i++ {
		docNum := (seed + uint64(i)*2654435761) % 1000
		id := fmt.Sprintf("mock-doc-%03d", docNum)
		results = append(results, &store.RetrievalResult{
			ID:       id,
			Content:  fmt.Sprintf("synthetic result %d for %q", i+1, query),
			Score:    1.0 - float64(i)*(1.0/float64(k+1)),
			Source:   m.name,
			FilePath: fmt.Sprintf("mock/Doc%03d.java", docNum),
		})
	}
	return results, nil
}

func (m *MockAdapter) HealthCheck(ctx context.Context) bool { return true }

func (m *MockAdapter) Close() error { return nil }
