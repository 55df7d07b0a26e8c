package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/coderag/coderag/internal/tokenize"

	cerr "github.com/coderag/coderag/internal/errors"
)

// StaticDimensions is the embedding dimension of the static embedder.
const StaticDimensions = 256

// StaticEmbedder generates hash-based embeddings with no network or
// model dependency. Deterministic and fast, with reduced semantic
// quality; used for offline operation and tests.
type StaticEmbedder struct {
	mu        sync.RWMutex
	tokenizer *tokenize.Tokenizer
	closed    bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{
		tokenizer: tokenize.New(tokenize.WithStemming(false)),
	}
}

// Embed generates a deterministic embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, cerr.InternalError("embedder is closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, StaticDimensions)
	if strings.TrimSpace(text) == "" {
		return vec, nil
	}

	tokens := e.tokenizer.Tokenize(text)
	for _, token := range tokens {
		// Each token lights up a few hash-derived positions.
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		for probe := 0; probe < 3; probe++ {
			idx := int((sum >> (probe * 16)) % StaticDimensions)
			sign := float32(1)
			if (sum>>(probe*16+8))&1 == 1 {
				sign = -1
			}
			vec[idx] += sign
		}
	}

	return normalizeVector(vec), nil
}

// EmbedBatch embeds each text independently.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int { return StaticDimensions }

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string { return "static" }

// Available always reports true while open.
func (e *StaticEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
