package enrich

import (
	"regexp"
	"strings"

	"github.com/coderag/coderag/internal/store"
)

// Patterns extracting structurally important identifiers from source.
var (
	classDeclRegex  = regexp.MustCompile(`\bclass\s+(\w+)`)
	callableRegex   = regexp.MustCompile(`(\w+)\s*\(`)
	annotationRegex = regexp.MustCompile(`@(\w+)`)
)

// structuralSuffixes mark framework-role identifiers worth boosting.
var structuralSuffixes = []string{
	"Controller", "Service", "Repository", "Component",
	"Entity", "DTO", "Interface",
}

// BuildNode converts an enhanced chunk into the lexical index entry.
func (b *Builder) BuildNode(ec *store.EnhancedChunk) *store.BM25Node {
	return &store.BM25Node{
		ID:           ec.ID,
		EnhancedText: b.BuildEnhancedText(ec),
		Content:      ec.Content,
		Metadata:     ec.Metadata,
	}
}

// BuildEnhancedText assembles the indexed string: the raw content,
// the content with identifiers split on case and underscore
// boundaries, and important keywords repeated for term-frequency gain.
// The chunk name gets the strongest boost.
func (b *Builder) BuildEnhancedText(ec *store.EnhancedChunk) string {
	var parts []string

	parts = append(parts, ec.Content)
	parts = append(parts, strings.Join(b.tokenizer.Tokenize(ec.Content), " "))

	important := extractImportantKeywords(ec.Content)
	if len(important) > 0 {
		boosted := strings.Join(important, " ")
		parts = append(parts, boosted, boosted)
	}

	if name := ec.Metadata.Name; name != "" {
		parts = append(parts, name, name, name)
	}

	parts = append(parts, ec.SearchKeywords...)
	parts = append(parts, metadataTerms(ec.Metadata)...)
	parts = append(parts, ec.SemanticTags...)

	return strings.Join(parts, " ")
}

// extractImportantKeywords pulls declared class names, callable names,
// annotations, and framework-role identifiers out of source text.
func extractImportantKeywords(content string) []string {
	seen := make(map[string]struct{})
	var keywords []string

	add := func(kw string) {
		if kw == "" {
			return
		}
		if _, ok := seen[kw]; ok {
			return
		}
		seen[kw] = struct{}{}
		keywords = append(keywords, kw)
	}

	for _, m := range classDeclRegex.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range callableRegex.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range annotationRegex.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, word := range strings.Fields(content) {
		for _, suffix := range structuralSuffixes {
			if strings.HasSuffix(word, suffix) && word != suffix {
				add(strings.Trim(word, "(){};,."))
				break
			}
		}
	}

	return keywords
}

// metadataTerms flattens the structural metadata into plain terms.
func metadataTerms(m store.ChunkMetadata) []string {
	var terms []string
	for _, p := range m.Parameters {
		if p.Type != "" {
			terms = append(terms, p.Type)
		}
	}
	if m.ReturnType != "" {
		terms = append(terms, m.ReturnType)
	}
	if m.ParentClass != "" {
		terms = append(terms, m.ParentClass)
	}
	if m.Extends != "" {
		terms = append(terms, m.Extends)
	}
	terms = append(terms, m.Implements...)
	for _, a := range m.Annotations {
		terms = append(terms, strings.TrimPrefix(a, "@"))
	}
	terms = append(terms, m.Keywords...)
	return terms
}
