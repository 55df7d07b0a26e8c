package store

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestIndex(t *testing.T) *OkapiIndex {
	t.Helper()
	idx, err := NewOkapiIndex(t.TempDir(), DefaultBM25Config(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func testNodes() []*BM25Node {
	return []*BM25Node{
		{
			ID:           "n1",
			EnhancedText: "OrderController getOrderById order controller OrderController OrderController",
			Content:      "public class OrderController {}",
			Metadata: ChunkMetadata{
				FilePath: "src/main/java/com/acme/OrderController.java",
				Language: LangJava, CodeType: CodeTypeClass,
				Name: "OrderController", LineStart: 1, LineEnd: 20,
			},
		},
		{
			ID:           "n2",
			EnhancedText: "PaymentService processPayment payment service refund",
			Content:      "public class PaymentService {}",
			Metadata: ChunkMetadata{
				FilePath: "src/main/java/com/acme/PaymentService.java",
				Language: LangJava, CodeType: CodeTypeClass,
				Name: "PaymentService", LineStart: 1, LineEnd: 30,
			},
		},
		{
			ID:           "n3",
			EnhancedText: "UserRepository findUserByEmail user repository query database",
			Content:      "public interface UserRepository {}",
			Metadata: ChunkMetadata{
				FilePath: "src/main/java/com/acme/UserRepository.java",
				Language: LangJava, CodeType: CodeTypeInterface,
				Name: "UserRepository", LineStart: 1, LineEnd: 15,
			},
		},
	}
}

func TestOkapiIndex_RoundTrip(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, testNodes()))
	assert.Equal(t, 3, idx.Count())

	results, err := idx.Search(ctx, "OrderController", 10, Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "n1", results[0].ID)
	assert.Equal(t, SourceBM25, results[0].Source)
	assert.Greater(t, results[0].Score, 0.0)
	assert.Equal(t, "public class OrderController {}", results[0].Content)
}

func TestOkapiIndex_EmptyQuery(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, testNodes()))

	for _, q := range []string{"", "   ", "!!!"} {
		results, err := idx.Search(ctx, q, 10, Filter{})
		require.NoError(t, err)
		assert.Empty(t, results)
	}
}

func TestOkapiIndex_PersistenceReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	idx, err := NewOkapiIndex(dir, DefaultBM25Config(), discardLogger())
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, testNodes()))
	require.NoError(t, idx.Close())

	reopened, err := NewOkapiIndex(dir, DefaultBM25Config(), discardLogger())
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 3, reopened.Count())
	results, err := reopened.Search(ctx, "payment refund", 5, Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "n2", results[0].ID)
}

func TestOkapiIndex_EmptyPersistAndReload(t *testing.T) {
	dir := t.TempDir()

	idx, err := NewOkapiIndex(dir, DefaultBM25Config(), discardLogger())
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	reopened, err := NewOkapiIndex(dir, DefaultBM25Config(), discardLogger())
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 0, reopened.Count())
}

func TestOkapiIndex_Delete(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, testNodes()))

	require.NoError(t, idx.Delete(ctx, []string{"n1", "missing"}))
	assert.Equal(t, 2, idx.Count())

	results, err := idx.Search(ctx, "OrderController", 10, Filter{})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "n1", r.ID)
	}
}

func TestOkapiIndex_DeleteByFilterExhaustive(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, testNodes()))

	filter := Eq("file_path", "src/main/java/com/acme/PaymentService.java")
	deleted, err := idx.DeleteByFilter(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	results, err := idx.Search(ctx, "payment service", 10, filter)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestOkapiIndex_FilteredSearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, testNodes()))

	results, err := idx.Search(ctx, "user repository controller service",
		10, Eq("code_type", CodeTypeInterface))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "n3", results[0].ID)

	// Unknown filter field matches nothing.
	results, err = idx.Search(ctx, "user repository", 10, Eq("no_such_field", "x"))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestOkapiIndex_UpdateReplacesDocument(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, testNodes()))

	updated := testNodes()[0]
	updated.EnhancedText = "InvoiceGenerator createInvoice invoice"
	require.NoError(t, idx.Add(ctx, []*BM25Node{updated}))
	assert.Equal(t, 3, idx.Count())

	results, err := idx.Search(ctx, "InvoiceGenerator", 10, Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "n1", results[0].ID)
}

func TestOkapiIndex_SecondOpenFailsWhileLocked(t *testing.T) {
	dir := t.TempDir()
	idx, err := NewOkapiIndex(dir, DefaultBM25Config(), discardLogger())
	require.NoError(t, err)
	defer idx.Close()

	_, err = NewOkapiIndex(dir, DefaultBM25Config(), discardLogger())
	require.Error(t, err)
}

func TestOkapiIndex_RejectsBadConfig(t *testing.T) {
	_, err := NewOkapiIndex(t.TempDir(), BM25Config{K1: 0, B: 0.75}, discardLogger())
	assert.Error(t, err)

	_, err = NewOkapiIndex(t.TempDir(), BM25Config{K1: 1.2, B: 1.5}, discardLogger())
	assert.Error(t, err)
}

func TestOkapiRetriever_RanksRarerTermsHigher(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	nodes := []*BM25Node{
		{ID: "common1", EnhancedText: "widget widget gadget", Metadata: ChunkMetadata{LineStart: 1, LineEnd: 1}},
		{ID: "common2", EnhancedText: "widget gadget gadget", Metadata: ChunkMetadata{LineStart: 1, LineEnd: 1}},
		{ID: "rare", EnhancedText: "widget sprocket", Metadata: ChunkMetadata{LineStart: 1, LineEnd: 1}},
	}
	require.NoError(t, idx.Add(ctx, nodes))

	results, err := idx.Search(ctx, "sprocket", 10, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "rare", results[0].ID)
}

func TestBleveIndex_PersistenceReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	idx, err := NewBleveIndex(dir, discardLogger())
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, testNodes()))
	require.NoError(t, idx.Close())

	// The sidecar lands complete or not at all; a successful save
	// leaves no partial temp files behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var sawNodes bool
	for _, e := range entries {
		if e.Name() == nodesFileName {
			sawNodes = true
		}
		assert.False(t, strings.HasPrefix(e.Name(), "."+nodesFileName),
			"leftover temp file %s", e.Name())
	}
	assert.True(t, sawNodes, "nodes sidecar should exist")

	reopened, err := NewBleveIndex(dir, discardLogger())
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 3, reopened.Count())
	results, err := reopened.Search(ctx, "payment refund", 5, Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "n2", results[0].ID)
}

func TestBM25Factory(t *testing.T) {
	idx, err := NewBM25Index(t.TempDir(), DefaultBM25Config(), "okapi", discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &OkapiIndex{}, idx)
	require.NoError(t, idx.Close())

	_, err = NewBM25Index(t.TempDir(), DefaultBM25Config(), "lucene", discardLogger())
	assert.Error(t, err)
}

func TestDetectBM25Backend(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, BM25Backend(""), DetectBM25Backend(dir))

	idx, err := NewOkapiIndex(dir, DefaultBM25Config(), discardLogger())
	require.NoError(t, err)
	require.NoError(t, idx.Add(context.Background(), testNodes()[:1]))
	require.NoError(t, idx.Close())

	assert.Equal(t, BM25BackendOkapi, DetectBM25Backend(dir))
}
