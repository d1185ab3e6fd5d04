package rag

import "math"

// Page is one page of extracted document text. Page numbers are 1-indexed.
type Page struct {
	Number int    `json:"pageNumber"`
	Text   string `json:"text"`
}

// Embedding is a vector that is either present or absent. The zero value is absent.
type Embedding struct {
	values []float32
}

// EmbeddingOf returns a present embedding holding a copy of vec.
// An empty vector yields an absent embedding.
func EmbeddingOf(vec []float32) Embedding {
	if len(vec) == 0 {
		return Embedding{}
	}
	return Embedding{values: cloneVector(vec)}
}

// NoEmbedding returns an absent embedding.
func NoEmbedding() Embedding {
	return Embedding{}
}

// Present reports whether a vector is attached.
func (e Embedding) Present() bool {
	return len(e.values) > 0
}

// Dimension returns the vector length, zero when absent.
func (e Embedding) Dimension() int {
	return len(e.values)
}

// Vector returns a copy of the vector, nil when absent.
func (e Embedding) Vector() []float32 {
	return cloneVector(e.values)
}

// View exposes the underlying vector without copying. Callers must not mutate it.
func (e Embedding) View() []float32 {
	return e.values
}

// Chunk is a single-page slice of document text plus its position metadata.
// StartIndex and EndIndex count runes within the page text.
type Chunk struct {
	Text       string
	PageNumber int
	ChunkIndex int
	StartIndex int
	EndIndex   int
	Embedding  Embedding
}

// ScoredChunk is a chunk ranked against a query.
type ScoredChunk struct {
	Chunk         Chunk
	Score         float64
	TokenEstimate int
}

// Source attributes a claim to the chunk it most likely came from.
type Source struct {
	Text       string
	PageNumber int
	ChunkIndex int
	Score      float64
}

// State describes whether an index can serve queries.
type State string

const (
	StateEmpty             State = "empty"
	StatePartiallyEmbedded State = "partially_embedded"
	StateFullyEmbedded     State = "fully_embedded"
)

func cloneVector(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}

// NonFinite returns the position of the first NaN or infinite value in vec, or -1.
func NonFinite(vec []float32) int {
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return i
		}
	}
	return -1
}
