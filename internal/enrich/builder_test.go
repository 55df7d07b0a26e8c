package enrich

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderag/coderag/internal/store"
)

func sampleChunk() *store.Chunk {
	return &store.Chunk{
		ID: "c1",
		Content: `@RestController
public class OrderController extends BaseController {
    public OrderResponse getOrderById(Long orderId) {
        return orderService.findOrder(orderId);
    }
}`,
		Metadata: store.ChunkMetadata{
			FilePath:    "src/main/java/com/acme/order/OrderController.java",
			Language:    store.LangJava,
			CodeType:    store.CodeTypeClass,
			Name:        "OrderController",
			LineStart:   1,
			LineEnd:     6,
			Namespace:   "com.acme.order",
			Modifiers:   []string{"public"},
			Annotations: []string{"@RestController"},
			Extends:     "BaseController",
		},
	}
}

func TestBuild_EnhancedContentHeader(t *testing.T) {
	b := NewBuilder()
	ec, err := b.Build(sampleChunk())
	require.NoError(t, err)

	header, _, found := strings.Cut(ec.EnhancedContent, "\n\n")
	require.True(t, found)
	assert.Contains(t, header, "class OrderController")
	assert.Contains(t, header, "package com.acme.order")
	assert.Contains(t, header, "Extends BaseController")
	assert.Contains(t, ec.EnhancedContent, "getOrderById")
}

func TestBuild_SearchKeywords(t *testing.T) {
	b := NewBuilder()
	ec, err := b.Build(sampleChunk())
	require.NoError(t, err)

	assert.Contains(t, ec.SearchKeywords, "ordercontroller")
	assert.Contains(t, ec.SearchKeywords, "order")
	assert.Contains(t, ec.SearchKeywords, "controller")
	assert.Contains(t, ec.SearchKeywords, "restcontroller")
	assert.Contains(t, ec.SearchKeywords, "acme")
	assert.Contains(t, ec.SearchKeywords, "basecontroller")

	// Deduplicated.
	seen := map[string]int{}
	for _, kw := range ec.SearchKeywords {
		seen[kw]++
	}
	for kw, n := range seen {
		assert.Equal(t, 1, n, "keyword %q duplicated", kw)
	}
}

func TestBuild_SemanticTags(t *testing.T) {
	b := NewBuilder()

	chunk := sampleChunk()
	chunk.Metadata.CodeType = store.CodeTypeMethod
	chunk.Metadata.Name = "getOrderById"
	ec, err := b.Build(chunk)
	require.NoError(t, err)

	assert.Contains(t, ec.SemanticTags, "type:method")
	assert.Contains(t, ec.SemanticTags, "lang:java")
	assert.Contains(t, ec.SemanticTags, "access:public")
	assert.Contains(t, ec.SemanticTags, "scope:instance")
	assert.Contains(t, ec.SemanticTags, "purpose:getter")
}

func TestInferPurpose(t *testing.T) {
	tests := []struct {
		name string
		meta store.ChunkMetadata
		want string
	}{
		{"getter", store.ChunkMetadata{Name: "getUser"}, "getter"},
		{"setter", store.ChunkMetadata{Name: "setName"}, "setter"},
		{"predicate is", store.ChunkMetadata{Name: "isActive"}, "predicate"},
		{"predicate has", store.ChunkMetadata{Name: "hasPermission"}, "predicate"},
		{"test prefix", store.ChunkMetadata{Name: "testCreateOrder"}, "test"},
		{"test path", store.ChunkMetadata{Name: "createOrder", FilePath: "src/test/java/A.java"}, "test"},
		{"not a setter", store.ChunkMetadata{Name: "settle"}, ""},
		{"plain", store.ChunkMetadata{Name: "processPayment"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inferPurpose(tt.meta))
		})
	}
}

func TestBuild_RejectsInvalidChunk(t *testing.T) {
	b := NewBuilder()
	chunk := sampleChunk()
	chunk.Metadata.LineStart = 0

	_, err := b.Build(chunk)
	assert.Error(t, err)
}

func TestBuildEnhancedText_Boosting(t *testing.T) {
	b := NewBuilder()
	ec, err := b.Build(sampleChunk())
	require.NoError(t, err)

	text := b.BuildEnhancedText(ec)

	// Name appears at least three extra times beyond the content itself.
	assert.GreaterOrEqual(t, strings.Count(text, "OrderController"), 4)
	// Important keywords are doubled.
	assert.GreaterOrEqual(t, strings.Count(text, "RestController"), 2)
	// Raw content is preserved.
	assert.Contains(t, text, "orderService.findOrder(orderId)")
}

func TestExtractImportantKeywords(t *testing.T) {
	content := `@Service
public class PaymentService {
    public void processRefund(String txn) {}
}`
	got := extractImportantKeywords(content)
	assert.Contains(t, got, "PaymentService")
	assert.Contains(t, got, "processRefund")
	assert.Contains(t, got, "Service")
}

func TestBuildNode(t *testing.T) {
	b := NewBuilder()
	ec, err := b.Build(sampleChunk())
	require.NoError(t, err)

	node := b.BuildNode(ec)
	assert.Equal(t, ec.ID, node.ID)
	assert.Equal(t, ec.Metadata, node.Metadata)
	assert.NotEmpty(t, node.EnhancedText)
}
