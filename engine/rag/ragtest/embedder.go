// Package ragtest provides deterministic collaborators for engine tests.
package ragtest

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/compozy/pagerag/engine/rag"
)

// DefaultDimension is the vector length produced by NewEmbedder.
const DefaultDimension = 256

// Embedder is a bag-of-words embedder. Every distinct lowercase word gets its own
// vector slot in first-seen order, so texts sharing words score higher.
type Embedder struct {
	mu         sync.Mutex
	dim        int
	vocab      map[string]int
	docCalls   int
	queryCalls int
	embedded   []string
	// Err, when set, is returned by every call.
	Err error
}

// NewEmbedder returns an embedder producing DefaultDimension vectors.
func NewEmbedder() *Embedder {
	return NewEmbedderWithDimension(DefaultDimension)
}

// NewEmbedderWithDimension returns an embedder producing dim-length vectors.
func NewEmbedderWithDimension(dim int) *Embedder {
	return &Embedder{dim: dim, vocab: make(map[string]int)}
}

// ProviderName identifies the stub in provider errors.
func (e *Embedder) ProviderName() string {
	return "ragtest"
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.docCalls++
	if err := e.check(ctx); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.vectorLocked(text)
	}
	e.embedded = append(e.embedded, texts...)
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queryCalls++
	if err := e.check(ctx); err != nil {
		return nil, err
	}
	return e.vectorLocked(text), nil
}

// Vector returns the embedding for text without counting a call.
func (e *Embedder) Vector(text string) []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vectorLocked(text)
}

// DocumentCalls returns how many EmbedDocuments calls were made.
func (e *Embedder) DocumentCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.docCalls
}

// QueryCalls returns how many EmbedQuery calls were made.
func (e *Embedder) QueryCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queryCalls
}

// Embedded returns every text sent through EmbedDocuments, in order.
func (e *Embedder) Embedded() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.embedded))
	copy(out, e.embedded)
	return out
}

func (e *Embedder) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.Err
}

func (e *Embedder) vectorLocked(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, word := range Words(text) {
		slot, ok := e.vocab[word]
		if !ok {
			slot = len(e.vocab) % e.dim
			e.vocab[word] = slot
		}
		vec[slot]++
	}
	return vec
}

// Words splits text into lowercase letter and digit runs.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Pages builds pages numbered from 1.
func Pages(texts ...string) []rag.Page {
	out := make([]rag.Page, len(texts))
	for i, text := range texts {
		out[i] = rag.Page{Number: i + 1, Text: text}
	}
	return out
}
