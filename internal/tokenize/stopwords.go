package tokenize

import "strings"

// englishStopWords are common English words carrying no retrieval signal.
var englishStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by",
	"do", "does", "from", "had", "has", "have", "he", "her", "his",
	"in", "into", "is", "it", "its", "of", "on", "or", "our",
	"she", "so", "that", "the", "their", "them", "then", "there",
	"these", "they", "to", "was", "we", "were", "what", "when",
	"where", "which", "who", "will", "with", "you", "your",
}

// codeStopWords are language keywords too frequent in source code to
// discriminate between documents. Structural words like "class",
// "function", "def", "interface", and "controller" are deliberately
// absent: they carry retrieval signal.
var codeStopWords = []string{
	"public", "private", "protected", "static", "final", "void",
	"extends", "implements", "import", "package",
	"if", "else", "for", "while", "try", "catch", "throw", "throws",
	"new", "this", "super", "return",
	"const", "let", "var", "async", "await",
	"true", "false", "null", "undefined", "none",
}

// DefaultStopWords returns the combined English and code stoplist.
func DefaultStopWords() []string {
	out := make([]string, 0, len(englishStopWords)+len(codeStopWords))
	out = append(out, englishStopWords...)
	out = append(out, codeStopWords...)
	return out
}

// BuildStopWordMap converts a stoplist to a set for lookup.
func BuildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}
