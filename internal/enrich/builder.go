// Package enrich turns raw chunks into enhanced documents ready for
// indexing: a prose context header for embedding, derived search
// keywords and semantic tags, and the boosted text the lexical index
// stores.
package enrich

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/coderag/coderag/internal/store"
	"github.com/coderag/coderag/internal/tokenize"
)

// Builder produces EnhancedChunks and BM25Nodes from chunks.
type Builder struct {
	tokenizer *tokenize.Tokenizer
}

// NewBuilder returns a Builder. The tokenizer is used only for
// identifier splitting in keyword derivation, so stemming is off.
func NewBuilder() *Builder {
	return &Builder{
		tokenizer: tokenize.New(tokenize.WithStemming(false)),
	}
}

// Build enriches a single chunk.
func (b *Builder) Build(chunk *store.Chunk) (*store.EnhancedChunk, error) {
	if err := chunk.Validate(); err != nil {
		return nil, err
	}

	ec := &store.EnhancedChunk{
		Chunk:           *chunk,
		EnhancedContent: b.buildEnhancedContent(chunk),
		SearchKeywords:  b.buildSearchKeywords(chunk),
		SemanticTags:    buildSemanticTags(chunk),
		Relationships:   buildRelationships(chunk),
	}
	return ec, nil
}

// BuildAll enriches a batch, returning the first validation error.
func (b *Builder) BuildAll(chunks []*store.Chunk) ([]*store.EnhancedChunk, error) {
	out := make([]*store.EnhancedChunk, 0, len(chunks))
	for _, c := range chunks {
		ec, err := b.Build(c)
		if err != nil {
			return nil, err
		}
		out = append(out, ec)
	}
	return out, nil
}

// buildEnhancedContent prepends a prose context header to the code so
// the embedding sees structural facts stated in natural language.
func (b *Builder) buildEnhancedContent(chunk *store.Chunk) string {
	m := chunk.Metadata
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s %s", m.CodeType, m.Name))
	if m.ParentClass != "" {
		sb.WriteString(fmt.Sprintf(" in class %s", m.ParentClass))
	}
	if m.Namespace != "" {
		sb.WriteString(fmt.Sprintf(" (package %s)", m.Namespace))
	}
	sb.WriteString(fmt.Sprintf(", %s, %s", m.Language, m.FilePath))
	if m.Extends != "" {
		sb.WriteString(fmt.Sprintf(". Extends %s", m.Extends))
	}
	if len(m.Implements) > 0 {
		sb.WriteString(fmt.Sprintf(". Implements %s", strings.Join(m.Implements, ", ")))
	}
	if len(m.Parameters) > 0 {
		parts := make([]string, 0, len(m.Parameters))
		for _, p := range m.Parameters {
			if p.Type != "" {
				parts = append(parts, fmt.Sprintf("%s %s", p.Type, p.Name))
			} else {
				parts = append(parts, p.Name)
			}
		}
		sb.WriteString(fmt.Sprintf(". Parameters: %s", strings.Join(parts, ", ")))
	}
	if m.ReturnType != "" {
		sb.WriteString(fmt.Sprintf(". Returns %s", m.ReturnType))
	}
	sb.WriteString("\n\n")
	sb.WriteString(chunk.Content)
	return sb.String()
}

// buildSearchKeywords derives a deduplicated keyword set from the
// chunk name, types, annotations, modifiers, and namespace.
func (b *Builder) buildSearchKeywords(chunk *store.Chunk) []string {
	m := chunk.Metadata
	seen := make(map[string]struct{})
	var keywords []string

	add := func(terms ...string) {
		for _, term := range terms {
			lower := strings.ToLower(strings.TrimSpace(term))
			if lower == "" {
				continue
			}
			if _, ok := seen[lower]; ok {
				continue
			}
			seen[lower] = struct{}{}
			keywords = append(keywords, lower)
		}
	}

	add(m.Name)
	add(b.tokenizer.Tokenize(m.Name)...)
	for _, p := range m.Parameters {
		add(p.Type)
		add(b.tokenizer.Tokenize(p.Type)...)
	}
	add(m.ReturnType)
	for _, a := range m.Annotations {
		add(strings.TrimPrefix(a, "@"))
	}
	add(m.Modifiers...)
	add(strings.Split(m.Namespace, ".")...)
	add(m.ParentClass)
	add(m.Extends)
	add(m.Implements...)
	add(m.Keywords...)

	return keywords
}

// buildSemanticTags derives coarse labels used for filtering and
// display.
func buildSemanticTags(chunk *store.Chunk) []string {
	m := chunk.Metadata
	tags := []string{
		"type:" + m.CodeType,
		"lang:" + m.Language,
	}

	static := false
	for _, mod := range m.Modifiers {
		switch mod {
		case "public", "private", "protected":
			tags = append(tags, "access:"+mod)
		case "static":
			static = true
		}
	}
	if m.CodeType == store.CodeTypeMethod || m.CodeType == store.CodeTypeFunction {
		if static {
			tags = append(tags, "scope:static")
		} else {
			tags = append(tags, "scope:instance")
		}
	}

	if purpose := inferPurpose(m); purpose != "" {
		tags = append(tags, "purpose:"+purpose)
	}
	return tags
}

// inferPurpose guesses what a method is for from its name and location.
func inferPurpose(m store.ChunkMetadata) string {
	name := m.Name
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "test") || strings.Contains(m.FilePath, "/test/"):
		return "test"
	case strings.HasPrefix(name, "get") && followedByUpper(name, 3):
		return "getter"
	case strings.HasPrefix(name, "set") && followedByUpper(name, 3):
		return "setter"
	case strings.HasPrefix(name, "is") && followedByUpper(name, 2),
		strings.HasPrefix(name, "has") && followedByUpper(name, 3),
		strings.HasPrefix(name, "can") && followedByUpper(name, 3):
		return "predicate"
	}
	return ""
}

// followedByUpper reports whether the rune at byte offset i exists and
// is uppercase. Keeps "settle" from reading as a setter.
func followedByUpper(s string, i int) bool {
	if len(s) <= i {
		return false
	}
	return unicode.IsUpper(rune(s[i]))
}

func buildRelationships(chunk *store.Chunk) store.Relationships {
	m := chunk.Metadata
	var deps []string
	for _, p := range m.Parameters {
		if p.Type != "" && !isBuiltinType(p.Type) {
			deps = append(deps, p.Type)
		}
	}
	if m.ReturnType != "" && !isBuiltinType(m.ReturnType) {
		deps = append(deps, m.ReturnType)
	}
	return store.Relationships{
		Parent:       m.ParentClass,
		Extends:      m.Extends,
		Implements:   m.Implements,
		Dependencies: deps,
		Namespace:    m.Namespace,
	}
}

var builtinTypes = map[string]struct{}{
	"void": {}, "int": {}, "long": {}, "short": {}, "byte": {},
	"float": {}, "double": {}, "boolean": {}, "char": {},
	"string": {}, "number": {}, "object": {}, "any": {},
	"str": {}, "bool": {}, "dict": {}, "list": {}, "tuple": {},
}

func isBuiltinType(t string) bool {
	_, ok := builtinTypes[strings.ToLower(t)]
	return ok
}
