package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(values ...float32) []float32 { return values }

func testRecords() []*VectorRecord {
	return []*VectorRecord{
		{
			ID:     "v1",
			Vector: vec(1, 0, 0),
			Payload: map[string]any{
				"content":   "class OrderController {}",
				"file_path": "src/OrderController.java",
				"code_type": "class",
			},
		},
		{
			ID:     "v2",
			Vector: vec(0, 1, 0),
			Payload: map[string]any{
				"content":   "class PaymentService {}",
				"file_path": "src/PaymentService.java",
				"code_type": "class",
			},
		},
		{
			ID:     "v3",
			Vector: vec(0.9, 0.1, 0),
			Payload: map[string]any{
				"content":   "interface UserRepository {}",
				"file_path": "src/UserRepository.java",
				"code_type": "interface",
			},
		},
	}
}

func newEmbedded(t *testing.T) *EmbeddedVectorIndex {
	t.Helper()
	s, err := NewEmbeddedVectorIndex("", 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEmbedded_SearchOrdersByCosine(t *testing.T) {
	s := newEmbedded(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, testRecords()))

	results, err := s.Search(ctx, vec(1, 0, 0), 2, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "v1", results[0].ID)
	assert.Equal(t, "v3", results[1].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Equal(t, SourceVector, results[0].Source)
	assert.Equal(t, "class OrderController {}", results[0].Content)
}

func TestEmbedded_UpsertTwiceKeepsCountAndLatestPayload(t *testing.T) {
	s := newEmbedded(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, testRecords()))

	updated := &VectorRecord{
		ID:     "v1",
		Vector: vec(0, 0, 1),
		Payload: map[string]any{
			"content":   "class OrderControllerV2 {}",
			"file_path": "src/OrderController.java",
			"code_type": "class",
		},
	}
	require.NoError(t, s.Upsert(ctx, []*VectorRecord{updated}))

	n, err := s.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results, err := s.Search(ctx, vec(0, 0, 1), 1, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v1", results[0].ID)
	assert.Equal(t, "class OrderControllerV2 {}", results[0].Content)
}

func TestEmbedded_FilteredSearch(t *testing.T) {
	s := newEmbedded(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, testRecords()))

	results, err := s.Search(ctx, vec(1, 0, 0), 10, Eq("code_type", "interface"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v3", results[0].ID)

	results, err = s.Search(ctx, vec(1, 0, 0), 10, Eq("nonexistent", "x"))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEmbedded_DeleteByFilter(t *testing.T) {
	s := newEmbedded(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, testRecords()))

	deleted, err := s.DeleteByFilter(ctx, Eq("file_path", "src/PaymentService.java"))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	n, err := s.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := s.Search(ctx, vec(0, 1, 0), 10, Eq("file_path", "src/PaymentService.java"))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEmbedded_EnsureCollection(t *testing.T) {
	s, err := NewEmbeddedVectorIndex("", 0)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, "chunks", 3))
	// Idempotent with the same dimension.
	require.NoError(t, s.EnsureCollection(ctx, "chunks", 3))
	// Conflicting dimension is rejected.
	assert.Error(t, s.EnsureCollection(ctx, "chunks", 8))
}

func TestEmbedded_DimensionMismatch(t *testing.T) {
	s := newEmbedded(t)
	ctx := context.Background()

	err := s.Upsert(ctx, []*VectorRecord{{ID: "bad", Vector: vec(1, 0)}})
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})
}

func TestEmbedded_PersistenceReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewEmbeddedVectorIndex(dir, 3)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, testRecords()))
	require.NoError(t, s.Close())

	reopened, err := NewEmbeddedVectorIndex(dir, 0)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results, err := reopened.Search(ctx, vec(1, 0, 0), 1, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v1", results[0].ID)
}

func TestEmbedded_Scroll(t *testing.T) {
	s := newEmbedded(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, testRecords()))

	page1, err := s.Scroll(ctx, Filter{}, 0, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)

	page2, err := s.Scroll(ctx, Filter{}, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)

	assert.Equal(t, []string{"v1", "v2"}, []string{page1[0].ID, page1[1].ID})
	assert.Equal(t, "v3", page2[0].ID)

	empty, err := s.Scroll(ctx, Filter{}, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEmbedded_EmptyIndexSearch(t *testing.T) {
	s := newEmbedded(t)
	results, err := s.Search(context.Background(), vec(1, 0, 0), 5, Filter{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDistanceToScore_Clipping(t *testing.T) {
	assert.Equal(t, 0.0, distanceToScore(1.5))
	assert.Equal(t, 1.0, distanceToScore(0))
	assert.InDelta(t, 0.5, distanceToScore(0.5), 1e-9)
}
