package index

import (
	"fmt"
	"math"
	"sort"

	"github.com/compozy/pagerag/engine/rag"
)

// Cosine returns the cosine similarity of a and b. Zero-length or zero-norm vectors score 0.
func Cosine(a []float32, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("index: cosine: dimension mismatch %d != %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Scan scores every chunk against vec and returns them ordered by score descending,
// ties broken by ascending chunkIndex. The index must be fully embedded.
func (x *Index) Scan(vec []float32) ([]rag.ScoredChunk, error) {
	if !x.Ready() {
		return nil, &rag.NotReadyError{Missing: x.missing, Total: len(x.chunks)}
	}
	if len(x.chunks) == 0 {
		return []rag.ScoredChunk{}, nil
	}
	if len(vec) != x.dimension {
		return nil, &rag.EmbeddingProviderError{
			Kind:     rag.KindInvalidResponse,
			Batch:    rag.QueryBatch,
			Attempts: 1,
			Err:      fmt.Errorf("query vector has dimension %d, index has %d", len(vec), x.dimension),
		}
	}
	if at := rag.NonFinite(vec); at >= 0 {
		return nil, &rag.EmbeddingProviderError{
			Kind:     rag.KindInvalidResponse,
			Batch:    rag.QueryBatch,
			Attempts: 1,
			Err:      fmt.Errorf("query vector has a non-finite value at %d", at),
		}
	}
	scored := make([]rag.ScoredChunk, len(x.chunks))
	for i := range x.chunks {
		score, err := Cosine(vec, x.chunks[i].Embedding.View())
		if err != nil {
			return nil, err
		}
		scored[i] = rag.ScoredChunk{Chunk: x.chunks[i], Score: score}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.ChunkIndex < scored[j].Chunk.ChunkIndex
	})
	return scored, nil
}

// TopK returns the k best matches for vec.
func (x *Index) TopK(vec []float32, k int) ([]rag.ScoredChunk, error) {
	scored, err := x.Scan(vec)
	if err != nil {
		return nil, err
	}
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}
