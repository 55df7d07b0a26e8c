// Package store provides the persistence layer: the BM25 lexical index
// and the vector index backends, plus the shared data model flowing
// between enrichment, indexing, and retrieval.
package store

import (
	"context"
	"fmt"
	"reflect"
)

// Languages accepted for indexed chunks.
const (
	LangPython     = "python"
	LangJava       = "java"
	LangJavaScript = "javascript"
	LangTypeScript = "typescript"
)

// Code fragment kinds.
const (
	CodeTypeClass     = "class"
	CodeTypeMethod    = "method"
	CodeTypeFunction  = "function"
	CodeTypeInterface = "interface"
	CodeTypeEnum      = "enum"
	CodeTypeModule    = "module"
)

// Parameter is a typed parameter of a method or function.
type Parameter struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ChunkMetadata describes where a code fragment came from and what it is.
type ChunkMetadata struct {
	FilePath    string      `json:"file_path"`
	Language    string      `json:"language"`
	CodeType    string      `json:"code_type"`
	Name        string      `json:"name"`
	LineStart   int         `json:"line_start"`
	LineEnd     int         `json:"line_end"`
	Namespace   string      `json:"namespace,omitempty"`
	ParentClass string      `json:"parent_class,omitempty"`
	Modifiers   []string    `json:"modifiers,omitempty"`
	Annotations []string    `json:"annotations,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty"`
	ReturnType  string      `json:"return_type,omitempty"`
	Extends     string      `json:"extends,omitempty"`
	Implements  []string    `json:"implements,omitempty"`
	Keywords    []string    `json:"keywords,omitempty"`
}

// Chunk is the immutable input unit: one code fragment plus metadata.
type Chunk struct {
	ID       string        `json:"id"`
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Validate checks the chunk invariants.
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("chunk missing id")
	}
	if c.Metadata.LineStart < 1 || c.Metadata.LineEnd < c.Metadata.LineStart {
		return fmt.Errorf("chunk %s: invalid line range %d-%d",
			c.ID, c.Metadata.LineStart, c.Metadata.LineEnd)
	}
	return nil
}

// PayloadMap flattens the metadata into the payload form used by
// filter matching and vector payloads.
func (m ChunkMetadata) PayloadMap() map[string]any {
	p := map[string]any{
		"file_path":  m.FilePath,
		"language":   m.Language,
		"code_type":  m.CodeType,
		"name":       m.Name,
		"line_start": m.LineStart,
		"line_end":   m.LineEnd,
	}
	if m.Namespace != "" {
		p["namespace"] = m.Namespace
	}
	if m.ParentClass != "" {
		p["parent_class"] = m.ParentClass
	}
	return p
}

// Relationships links a chunk to its structural neighbors.
type Relationships struct {
	Parent       string   `json:"parent,omitempty"`
	Extends      string   `json:"extends,omitempty"`
	Implements   []string `json:"implements,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Namespace    string   `json:"namespace,omitempty"`
}

// EnhancedChunk is the document-builder output: the chunk plus derived
// retrieval aids.
type EnhancedChunk struct {
	Chunk
	EnhancedContent string        `json:"enhanced_content"`
	SearchKeywords  []string      `json:"search_keywords"`
	SemanticTags    []string      `json:"semantic_tags"`
	Relationships   Relationships `json:"relationships"`
}

// BM25Node is one lexical index entry. EnhancedText is the boosted
// string actually indexed: content, then split identifiers, then
// important keywords repeated for gain. Content is the raw fragment,
// kept for result reconstruction.
type BM25Node struct {
	ID           string        `json:"id"`
	EnhancedText string        `json:"enhanced_text"`
	Content      string        `json:"content,omitempty"`
	Metadata     ChunkMetadata `json:"metadata"`
}

// VectorRecord is one dense index entry. Payload carries the chunk
// metadata plus content for result reconstruction.
type VectorRecord struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Result sources.
const (
	SourceVector = "vector"
	SourceBM25   = "bm25"
	SourceHybrid = "hybrid"
)

// RetrievalResult is a single ranked hit from any retrieval source.
type RetrievalResult struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
	FilePath string         `json:"file_path,omitempty"`
}

// Condition is a single filter clause: field equals Value, or field is
// any of AnyOf. Exactly one of the two is set.
type Condition struct {
	Field string `json:"field"`
	Value any    `json:"value,omitempty"`
	AnyOf []any  `json:"any_of,omitempty"`
}

// Filter is an AND-of-conditions over payload fields.
type Filter struct {
	Must []Condition `json:"must,omitempty"`
}

// Eq builds an equality filter on a single field.
func Eq(field string, value any) Filter {
	return Filter{Must: []Condition{{Field: field, Value: value}}}
}

// AnyOf builds a membership filter on a single field.
func AnyOf(field string, values ...any) Filter {
	return Filter{Must: []Condition{{Field: field, AnyOf: values}}}
}

// And appends conditions to the filter.
func (f Filter) And(conds ...Condition) Filter {
	f.Must = append(f.Must, conds...)
	return f
}

// Empty reports whether the filter has no conditions.
func (f Filter) Empty() bool {
	return len(f.Must) == 0
}

// Matches evaluates the filter against a payload map. A condition on a
// field absent from the payload never matches.
func (f Filter) Matches(payload map[string]any) bool {
	for _, c := range f.Must {
		v, ok := payload[c.Field]
		if !ok {
			return false
		}
		if c.AnyOf != nil {
			found := false
			for _, want := range c.AnyOf {
				if scalarEqual(v, want) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if !scalarEqual(v, c.Value) {
			return false
		}
	}
	return true
}

// scalarEqual compares payload scalars loosely: numeric values compare
// by magnitude regardless of concrete type (JSON decoding yields
// float64 where writers used int). Non-comparable values such as
// decoded JSON arrays never match; interface equality would panic on
// them.
func scalarEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	if !comparableValue(a) || !comparableValue(b) {
		return false
	}
	return a == b
}

func comparableValue(v any) bool {
	if v == nil {
		return true
	}
	return reflect.TypeOf(v).Comparable()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// BM25Index is the lexical index contract.
type BM25Index interface {
	// Add indexes nodes, replacing any existing nodes with the same IDs.
	Add(ctx context.Context, nodes []*BM25Node) error

	// Search returns up to k results ranked by BM25 score, post-filtered
	// by the given filter. An empty query yields an empty result.
	Search(ctx context.Context, query string, k int, filter Filter) ([]*RetrievalResult, error)

	// Delete removes nodes by ID. Missing IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// DeleteByFilter removes all nodes matching the filter and returns
	// the number removed.
	DeleteByFilter(ctx context.Context, filter Filter) (int, error)

	// Count returns the number of indexed nodes.
	Count() int

	// Close persists pending state and releases resources.
	Close() error
}

// VectorIndex is the dense index contract.
type VectorIndex interface {
	// EnsureCollection idempotently creates the collection with the given
	// dimension and cosine distance. It never truncates existing data.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// Upsert inserts or replaces records by ID.
	Upsert(ctx context.Context, records []*VectorRecord) error

	// Search returns up to k results by cosine similarity, post-filtered.
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]*RetrievalResult, error)

	// DeleteByFilter removes matching records and returns the count.
	DeleteByFilter(ctx context.Context, filter Filter) (int, error)

	// Count returns the number of records matching the filter.
	Count(ctx context.Context, filter Filter) (int, error)

	// Scroll pages through records matching the filter.
	Scroll(ctx context.Context, filter Filter, offset, limit int) ([]*RetrievalResult, error)

	// Close releases resources.
	Close() error
}
