package index

import (
	"fmt"
	"sort"
	"strings"

	"github.com/compozy/pagerag/engine/rag"
)

const opBuild = "build index"

// Index holds a document's chunks in chunkIndex order plus a page lookup.
// It is owned by a single request and is not safe for concurrent mutation.
type Index struct {
	chunks    []rag.Chunk
	pages     map[int][]int
	dimension int
	missing   int
}

// Build assembles an index from chunks already in chunkIndex order.
func Build(chunks []rag.Chunk) (*Index, error) {
	idx := &Index{
		chunks: make([]rag.Chunk, len(chunks)),
		pages:  make(map[int][]int),
	}
	for i := range chunks {
		c := chunks[i]
		if err := validateChunk(i, &c); err != nil {
			return nil, err
		}
		if i > 0 && c.ChunkIndex <= chunks[i-1].ChunkIndex {
			return nil, rag.NewValidationError(opBuild, i, "chunkIndex", fmt.Sprintf(
				"must be strictly increasing, got %d after %d", c.ChunkIndex, chunks[i-1].ChunkIndex,
			))
		}
		if c.Embedding.Present() {
			if idx.dimension == 0 {
				idx.dimension = c.Embedding.Dimension()
			} else if c.Embedding.Dimension() != idx.dimension {
				return nil, rag.NewValidationError(opBuild, i, "embedding", fmt.Sprintf(
					"dimension %d differs from index dimension %d", c.Embedding.Dimension(), idx.dimension,
				))
			}
		} else {
			idx.missing++
		}
		idx.chunks[i] = c
		idx.pages[c.PageNumber] = append(idx.pages[c.PageNumber], i)
	}
	return idx, nil
}

func validateChunk(pos int, c *rag.Chunk) error {
	switch {
	case strings.TrimSpace(c.Text) == "":
		return rag.NewValidationError(opBuild, pos, "text", "must not be empty")
	case c.PageNumber <= 0:
		return rag.NewValidationError(opBuild, pos, "pageNumber", fmt.Sprintf("must be positive, got %d", c.PageNumber))
	case c.ChunkIndex < 0:
		return rag.NewValidationError(opBuild, pos, "chunkIndex", fmt.Sprintf("must not be negative, got %d", c.ChunkIndex))
	case c.StartIndex < 0 || c.StartIndex >= c.EndIndex:
		return rag.NewValidationError(opBuild, pos, "startIndex", fmt.Sprintf(
			"offsets [%d, %d) are not a valid range", c.StartIndex, c.EndIndex,
		))
	case rag.NonFinite(c.Embedding.View()) >= 0:
		return rag.NewValidationError(opBuild, pos, "embedding", "must contain only finite values")
	}
	return nil
}

// Len returns the number of chunks.
func (x *Index) Len() int {
	return len(x.chunks)
}

// Chunk returns the chunk at position pos.
func (x *Index) Chunk(pos int) rag.Chunk {
	return x.chunks[pos]
}

// Chunks returns a copy of all chunks in order.
func (x *Index) Chunks() []rag.Chunk {
	out := make([]rag.Chunk, len(x.chunks))
	copy(out, x.chunks)
	return out
}

// Page returns the chunks that belong to page number n, in order.
func (x *Index) Page(n int) []rag.Chunk {
	positions := x.pages[n]
	out := make([]rag.Chunk, 0, len(positions))
	for _, pos := range positions {
		out = append(out, x.chunks[pos])
	}
	return out
}

// Pages returns the page numbers present in the index, ascending.
func (x *Index) Pages() []int {
	out := make([]int, 0, len(x.pages))
	for n := range x.pages {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Dimension returns the shared embedding dimension, zero when no chunk is embedded.
func (x *Index) Dimension() int {
	return x.dimension
}

// State reports whether the index can serve queries.
func (x *Index) State() rag.State {
	switch {
	case len(x.chunks) == 0:
		return rag.StateEmpty
	case x.missing > 0:
		return rag.StatePartiallyEmbedded
	default:
		return rag.StateFullyEmbedded
	}
}

// Ready reports whether every chunk carries an embedding.
func (x *Index) Ready() bool {
	return x.missing == 0
}

// Missing returns the positions of chunks without an embedding.
func (x *Index) Missing() []int {
	if x.missing == 0 {
		return nil
	}
	out := make([]int, 0, x.missing)
	for i := range x.chunks {
		if !x.chunks[i].Embedding.Present() {
			out = append(out, i)
		}
	}
	return out
}

// SetEmbedding fills the embedding of the chunk at pos. A present embedding is never
// replaced and the vector must match the index dimension.
func (x *Index) SetEmbedding(pos int, vec []float32) error {
	const op = "set embedding"
	if pos < 0 || pos >= len(x.chunks) {
		return rag.NewValidationError(op, pos, "", fmt.Sprintf("position out of range [0, %d)", len(x.chunks)))
	}
	if x.chunks[pos].Embedding.Present() {
		return rag.NewValidationError(op, pos, "embedding", "already present")
	}
	if len(vec) == 0 {
		return rag.NewValidationError(op, pos, "embedding", "vector is empty")
	}
	if rag.NonFinite(vec) >= 0 {
		return rag.NewValidationError(op, pos, "embedding", "must contain only finite values")
	}
	if x.dimension != 0 && len(vec) != x.dimension {
		return rag.NewValidationError(op, pos, "embedding", fmt.Sprintf(
			"dimension %d differs from index dimension %d", len(vec), x.dimension,
		))
	}
	x.chunks[pos].Embedding = rag.EmbeddingOf(vec)
	x.dimension = len(vec)
	x.missing--
	return nil
}
