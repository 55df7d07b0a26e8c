// Package tokenize implements the code-aware tokenizer shared by the
// lexical index and query path. It splits identifiers on case and
// underscore boundaries, filters stopwords and short tokens, and
// applies Porter stemming.
package tokenize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/blevesearch/go-porterstemmer"
)

// fallbackTokenLimit caps the fallback token stream.
const fallbackTokenLimit = 50

// wordRegex extracts alphanumeric runs for the fallback path.
var wordRegex = regexp.MustCompile(`\w+`)

// Tokenizer maps text to a lowercase token sequence. It holds no
// mutable state after construction, so a single instance is safe for
// concurrent use.
type Tokenizer struct {
	stopWords      map[string]struct{}
	minTokenLength int
	stemming       bool
}

// Option configures a Tokenizer.
type Option func(*Tokenizer)

// WithStopWords replaces the default stoplist.
func WithStopWords(words []string) Option {
	return func(t *Tokenizer) {
		t.stopWords = BuildStopWordMap(words)
	}
}

// WithMinTokenLength sets the minimum surviving token length.
func WithMinTokenLength(n int) Option {
	return func(t *Tokenizer) {
		t.minTokenLength = n
	}
}

// WithStemming enables or disables Porter stemming.
func WithStemming(enabled bool) Option {
	return func(t *Tokenizer) {
		t.stemming = enabled
	}
}

// New returns a Tokenizer with the default stoplist, minimum token
// length 2, and stemming enabled.
func New(opts ...Option) *Tokenizer {
	t := &Tokenizer{
		stopWords:      BuildStopWordMap(DefaultStopWords()),
		minTokenLength: 2,
		stemming:       true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tokenize converts text to the token sequence used for indexing and
// querying. Identical input always yields identical output. It never
// panics: any failure in the main pipeline degrades to a regex word
// extraction capped at 50 tokens.
//
// Case splitting breaks on lowercase-to-uppercase transitions and
// additionally at the end of an uppercase acronym run, so
// parseHTTPRequest yields parse/http/request rather than
// parse/httprequest. Both index and query text pass through the same
// rule, so the extra boundary cannot cause a mismatch.
func (t *Tokenizer) Tokenize(text string) (tokens []string) {
	defer func() {
		if r := recover(); r != nil {
			tokens = t.fallback(text)
		}
	}()
	return t.tokenize(text)
}

func (t *Tokenizer) tokenize(text string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		t.emit(&tokens, current.String())
		current.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			// Boundary before an uppercase rune when the previous rune is
			// lowercase, or when it starts a new word after an acronym
			// (parseHTTPRequest -> parse HTTP Request).
			if i > 0 {
				prevIsLower := unicode.IsLower(runes[i-1])
				nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if prevIsLower || (unicode.IsUpper(runes[i-1]) && nextIsLower) {
					flush()
				}
			}
			current.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		default:
			// Underscores and all other non-alphanumerics are separators.
			flush()
		}
	}
	flush()

	return tokens
}

// emit lowercases, filters, stems, and appends a raw token.
func (t *Tokenizer) emit(tokens *[]string, raw string) {
	lower := strings.ToLower(raw)
	if len(lower) < t.minTokenLength {
		return
	}
	if _, stop := t.stopWords[lower]; stop {
		return
	}
	if t.stemming {
		lower = porterstemmer.StemString(lower)
	}
	*tokens = append(*tokens, lower)
}

// fallback is the degraded path: plain word extraction with the same
// filters, truncated to a fixed limit.
func (t *Tokenizer) fallback(text string) []string {
	words := wordRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		lower := strings.ToLower(w)
		if len(lower) < t.minTokenLength {
			continue
		}
		if _, stop := t.stopWords[lower]; stop {
			continue
		}
		tokens = append(tokens, lower)
		if len(tokens) >= fallbackTokenLimit {
			break
		}
	}
	return tokens
}
