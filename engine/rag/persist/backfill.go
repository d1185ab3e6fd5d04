package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/compozy/pagerag/engine/rag"
	"github.com/compozy/pagerag/engine/rag/embedder"
	"github.com/compozy/pagerag/engine/rag/index"
	"github.com/compozy/pagerag/pkg/logger"
)

// Backfill embeds exactly the chunks that lack a vector, in one embedder call, and fills
// them in place. It returns how many chunks were filled. A fully embedded index is left
// untouched with no embedder call. Callers re-persist the index afterwards.
func Backfill(ctx context.Context, idx *index.Index, emb embedder.Embedder) (int, error) {
	if idx == nil {
		return 0, errors.New("persist: backfill: index is required")
	}
	missing := idx.Missing()
	if len(missing) == 0 {
		return 0, nil
	}
	if emb == nil {
		return 0, errors.New("persist: backfill: embedder is required")
	}
	texts := make([]string, len(missing))
	for i, pos := range missing {
		texts[i] = idx.Chunk(pos).Text
	}
	start := time.Now()
	vectors, err := emb.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("persist: backfill: %w", err)
	}
	if err := checkBackfillVectors(idx, vectors, len(missing)); err != nil {
		return 0, fmt.Errorf("persist: backfill: %w", err)
	}
	for i, pos := range missing {
		if err := idx.SetEmbedding(pos, vectors[i]); err != nil {
			return i, fmt.Errorf("persist: backfill: %w", err)
		}
	}
	rag.RecordBackfill(ctx, len(missing))
	logger.FromContext(ctx).Info(
		"Backfilled chunk embeddings",
		"filled", len(missing),
		"chunks", idx.Len(),
		"duration_seconds", time.Since(start).Seconds(),
	)
	return len(missing), nil
}

// checkBackfillVectors validates the whole response before any chunk is mutated.
func checkBackfillVectors(idx *index.Index, vectors [][]float32, want int) error {
	if len(vectors) != want {
		return &rag.EmbeddingProviderError{
			Kind:     rag.KindInvalidResponse,
			Attempts: 1,
			Err:      fmt.Errorf("received %d embeddings for %d chunks", len(vectors), want),
		}
	}
	dim := idx.Dimension()
	for i := range vectors {
		if len(vectors[i]) == 0 {
			return &rag.EmbeddingProviderError{
				Kind:     rag.KindInvalidResponse,
				Attempts: 1,
				Err:      fmt.Errorf("embedding %d is empty", i),
			}
		}
		if at := rag.NonFinite(vectors[i]); at >= 0 {
			return &rag.EmbeddingProviderError{
				Kind:     rag.KindInvalidResponse,
				Attempts: 1,
				Err:      fmt.Errorf("embedding %d has a non-finite value at %d", i, at),
			}
		}
		if dim == 0 {
			dim = len(vectors[i])
		}
		if len(vectors[i]) != dim {
			return &rag.EmbeddingProviderError{
				Kind:     rag.KindInvalidResponse,
				Attempts: 1,
				Err:      fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(vectors[i]), dim),
			}
		}
	}
	return nil
}
