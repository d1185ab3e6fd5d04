package persist_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/pagerag/engine/rag"
	"github.com/compozy/pagerag/engine/rag/chunk"
	"github.com/compozy/pagerag/engine/rag/index"
	"github.com/compozy/pagerag/engine/rag/persist"
	"github.com/compozy/pagerag/engine/rag/ragtest"
	"github.com/compozy/pagerag/engine/rag/retriever"
)

const (
	rentPage  = "The monthly rent is $1500, due on the 1st."
	petsPage  = "Pets are not allowed without written consent."
	noisePage = "Residents must keep hallways clear of bicycles and boxes."
)

func buildIndex(t *testing.T, emb *ragtest.Embedder, embed bool, pages ...string) *index.Index {
	t.Helper()
	chunker, err := chunk.NewChunker(chunk.DefaultSettings())
	require.NoError(t, err)
	chunks, err := chunker.Split(ragtest.Pages(pages...))
	require.NoError(t, err)
	if embed {
		for i := range chunks {
			chunks[i].Embedding = rag.EmbeddingOf(emb.Vector(chunks[i].Text))
		}
	}
	idx, err := index.Build(chunks)
	require.NoError(t, err)
	return idx
}

func roundTrip(t *testing.T, idx *index.Index) *index.Index {
	t.Helper()
	data, err := persist.Marshal(persist.Serialize(idx))
	require.NoError(t, err)
	records, err := persist.Unmarshal(data)
	require.NoError(t, err)
	rebuilt, err := persist.Rebuild(records)
	require.NoError(t, err)
	return rebuilt
}

func TestSerialize(t *testing.T) {
	t.Run("Should emit one record per chunk in order", func(t *testing.T) {
		emb := ragtest.NewEmbedder()
		idx := buildIndex(t, emb, true, rentPage, petsPage)
		records := persist.Serialize(idx)
		require.Len(t, records, 2)
		for i := range records {
			c := idx.Chunk(i)
			assert.Equal(t, c.Text, records[i].Text)
			assert.Equal(t, c.PageNumber, records[i].PageNumber)
			assert.Equal(t, c.Embedding.Vector(), records[i].Embedding)
			require.NotNil(t, records[i].ChunkIndex)
			assert.Equal(t, c.ChunkIndex, *records[i].ChunkIndex)
		}
	})

	t.Run("Should omit embeddings that are absent", func(t *testing.T) {
		idx := buildIndex(t, ragtest.NewEmbedder(), false, rentPage)
		records := persist.Serialize(idx)
		require.Len(t, records, 1)
		assert.False(t, records[0].HasEmbedding())
		data, err := persist.Marshal(records)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "embedding")
	})

	t.Run("Should serialize an empty index as an empty array", func(t *testing.T) {
		idx, err := index.Build(nil)
		require.NoError(t, err)
		data, err := persist.Marshal(persist.Serialize(idx))
		require.NoError(t, err)
		assert.JSONEq(t, "[]", string(data))
	})
}

func TestRoundTrip(t *testing.T) {
	t.Run("Should preserve retrieval results across a round trip", func(t *testing.T) {
		emb := ragtest.NewEmbedder()
		idx := buildIndex(t, emb, true, rentPage, petsPage, noisePage)
		rebuilt := roundTrip(t, idx)
		assert.Equal(t, idx.Chunks(), rebuilt.Chunks())
		svc, err := retriever.NewService(emb)
		require.NoError(t, err)
		for _, query := range []string{"What is the rent?", "Are pets allowed?", "bicycles in hallways"} {
			before, err := svc.Retrieve(t.Context(), idx, query, 3)
			require.NoError(t, err)
			after, err := svc.Retrieve(t.Context(), rebuilt, query, 3)
			require.NoError(t, err)
			require.Len(t, after, len(before))
			for i := range before {
				assert.Equal(t, before[i].Chunk.ChunkIndex, after[i].Chunk.ChunkIndex)
				assert.Equal(t, before[i].Chunk.PageNumber, after[i].Chunk.PageNumber)
				assert.InDelta(t, before[i].Score, after[i].Score, 1e-9)
			}
		}
	})

	t.Run("Should keep partially embedded state", func(t *testing.T) {
		emb := ragtest.NewEmbedder()
		idx := buildIndex(t, emb, true, rentPage, petsPage)
		records := persist.Serialize(idx)
		records[1].Embedding = nil
		rebuilt, err := persist.Rebuild(records)
		require.NoError(t, err)
		assert.Equal(t, rag.StatePartiallyEmbedded, rebuilt.State())
		assert.Equal(t, []int{1}, rebuilt.Missing())
	})
}

func TestUnmarshal(t *testing.T) {
	t.Run("Should accept legacy records without positions", func(t *testing.T) {
		data := []byte(`[
			{"text": "First clause.", "pageNumber": 1},
			{"text": "Second clause.", "pageNumber": 2, "chunkIndex": "1", "embedding": null}
		]`)
		records, err := persist.Unmarshal(data)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Nil(t, records[0].ChunkIndex)
		require.NotNil(t, records[1].ChunkIndex)
		assert.Equal(t, 1, *records[1].ChunkIndex)
		assert.Equal(t, 2, records[1].PageNumber)
		idx, err := persist.Rebuild(records)
		require.NoError(t, err)
		assert.Equal(t, 0, idx.Chunk(0).ChunkIndex)
		assert.Equal(t, 1, idx.Chunk(1).ChunkIndex)
		assert.Equal(t, 0, idx.Chunk(1).StartIndex)
		assert.Equal(t, len("Second clause."), idx.Chunk(1).EndIndex)
		assert.Equal(t, rag.StatePartiallyEmbedded, idx.State())
	})

	t.Run("Should treat null as no records", func(t *testing.T) {
		records, err := persist.Unmarshal([]byte("null"))
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("Should reject malformed payloads", func(t *testing.T) {
		cases := map[string]string{
			"not json":         `[{"text": `,
			"object payload":   `{"text": "x", "pageNumber": 1}`,
			"record not obj":   `["text"]`,
			"missing text":     `[{"pageNumber": 1}]`,
			"blank text":       `[{"text": "  ", "pageNumber": 1}]`,
			"text not string":  `[{"text": 4, "pageNumber": 1}]`,
			"missing page":     `[{"text": "x"}]`,
			"page not numeric": `[{"text": "x", "pageNumber": "two"}]`,
			"page as string":   `[{"text": "x", "pageNumber": "2"}]`,
			"page fractional":  `[{"text": "x", "pageNumber": 1.5}]`,
			"page zero":        `[{"text": "x", "pageNumber": 0}]`,
			"embedding string": `[{"text": "x", "pageNumber": 1, "embedding": "0.1,0.2"}]`,
			"embedding mixed":  `[{"text": "x", "pageNumber": 1, "embedding": [0.1, "a"]}]`,
			"chunk index bool": `[{"text": "x", "pageNumber": 1, "chunkIndex": true}]`,
		}
		for name, payload := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := persist.Unmarshal([]byte(payload))
				assert.ErrorIs(t, err, rag.ErrValidation)
			})
		}
	})

	t.Run("Should report the offending record position", func(t *testing.T) {
		_, err := persist.Unmarshal([]byte(`[{"text": "ok", "pageNumber": 1}, {"pageNumber": 2}]`))
		var vErr *rag.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, 1, vErr.Position)
		assert.Equal(t, "text", vErr.Field)
	})
}

func TestRebuild(t *testing.T) {
	t.Run("Should reject a record without text", func(t *testing.T) {
		_, err := persist.Rebuild([]persist.Record{
			{Text: rentPage, PageNumber: 1},
			{Text: "", PageNumber: 2},
		})
		var vErr *rag.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, 1, vErr.Position)
		assert.Equal(t, "text", vErr.Field)
	})

	t.Run("Should reject a non-positive page number", func(t *testing.T) {
		_, err := persist.Rebuild([]persist.Record{{Text: rentPage, PageNumber: 0}})
		assert.ErrorIs(t, err, rag.ErrValidation)
	})

	t.Run("Should reject half-stored offsets", func(t *testing.T) {
		start := 3
		_, err := persist.Rebuild([]persist.Record{{Text: rentPage, PageNumber: 1, StartIndex: &start}})
		assert.ErrorIs(t, err, rag.ErrValidation)
	})

	t.Run("Should reject offsets that disagree with the text length", func(t *testing.T) {
		start, end := 0, 10
		_, err := persist.Rebuild([]persist.Record{{Text: rentPage, PageNumber: 1, StartIndex: &start, EndIndex: &end}})
		require.ErrorIs(t, err, rag.ErrValidation)
		var vErr *rag.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, 0, vErr.Position)
		assert.Equal(t, "endIndex", vErr.Field)
	})

	t.Run("Should accept offsets inside the page that match the text length", func(t *testing.T) {
		start, end := 100, 100+len([]rune(petsPage))
		idx, err := persist.Rebuild([]persist.Record{{Text: petsPage, PageNumber: 3, StartIndex: &start, EndIndex: &end}})
		require.NoError(t, err)
		assert.Equal(t, 100, idx.Chunk(0).StartIndex)
	})

	t.Run("Should reject mixed embedding dimensions", func(t *testing.T) {
		_, err := persist.Rebuild([]persist.Record{
			{Text: rentPage, PageNumber: 1, Embedding: []float32{1, 0}},
			{Text: petsPage, PageNumber: 2, Embedding: []float32{1, 0, 0}},
		})
		assert.Error(t, err)
	})

	t.Run("Should order chunks by stored chunk index", func(t *testing.T) {
		zero, one := 0, 1
		idx, err := persist.Rebuild([]persist.Record{
			{Text: petsPage, PageNumber: 2, ChunkIndex: &one},
			{Text: rentPage, PageNumber: 1, ChunkIndex: &zero},
		})
		require.NoError(t, err)
		assert.Equal(t, rentPage, idx.Chunk(0).Text)
		assert.Equal(t, petsPage, idx.Chunk(1).Text)
	})

	t.Run("Should rebuild an empty record set", func(t *testing.T) {
		idx, err := persist.Rebuild(nil)
		require.NoError(t, err)
		assert.Zero(t, idx.Len())
		assert.Equal(t, rag.StateEmpty, idx.State())
	})
}

func TestBackfill(t *testing.T) {
	t.Run("Should embed every missing chunk and make the index queryable", func(t *testing.T) {
		emb := ragtest.NewEmbedder()
		idx := buildIndex(t, emb, false, rentPage, petsPage, noisePage)
		svc, err := retriever.NewService(emb)
		require.NoError(t, err)
		_, err = svc.Retrieve(t.Context(), idx, "rent", 1)
		require.ErrorIs(t, err, rag.ErrNotReady)

		filled, err := persist.Backfill(t.Context(), idx, emb)
		require.NoError(t, err)
		assert.Equal(t, 3, filled)
		assert.Equal(t, 1, emb.DocumentCalls())
		assert.True(t, idx.Ready())

		results, err := svc.Retrieve(t.Context(), idx, "What is the rent?", 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, 1, results[0].Chunk.PageNumber)
	})

	t.Run("Should only embed chunks that lack a vector", func(t *testing.T) {
		emb := ragtest.NewEmbedder()
		idx := buildIndex(t, emb, true, rentPage, petsPage, noisePage)
		records := persist.Serialize(idx)
		records[1].Embedding = nil
		partial, err := persist.Rebuild(records)
		require.NoError(t, err)

		filled, err := persist.Backfill(t.Context(), partial, emb)
		require.NoError(t, err)
		assert.Equal(t, 1, filled)
		assert.Equal(t, []string{petsPage}, emb.Embedded())
		assert.Equal(t, idx.Chunks(), partial.Chunks())
	})

	t.Run("Should do nothing on a fully embedded index", func(t *testing.T) {
		emb := ragtest.NewEmbedder()
		idx := buildIndex(t, emb, true, rentPage, petsPage)
		filled, err := persist.Backfill(t.Context(), idx, emb)
		require.NoError(t, err)
		assert.Zero(t, filled)
		assert.Zero(t, emb.DocumentCalls())

		filled, err = persist.Backfill(t.Context(), idx, emb)
		require.NoError(t, err)
		assert.Zero(t, filled)
		assert.Zero(t, emb.DocumentCalls())
	})

	t.Run("Should leave the index untouched when embedding fails", func(t *testing.T) {
		emb := ragtest.NewEmbedder()
		idx := buildIndex(t, emb, false, rentPage, petsPage)
		cause := errors.New("provider down")
		emb.Err = cause
		filled, err := persist.Backfill(t.Context(), idx, emb)
		assert.ErrorIs(t, err, cause)
		assert.Zero(t, filled)
		assert.Len(t, idx.Missing(), 2)
	})

	t.Run("Should reject vectors that do not match the index dimension", func(t *testing.T) {
		docs := ragtest.NewEmbedder()
		idx := buildIndex(t, docs, true, rentPage, petsPage)
		records := persist.Serialize(idx)
		records[0].Embedding = nil
		partial, err := persist.Rebuild(records)
		require.NoError(t, err)

		filled, err := persist.Backfill(t.Context(), partial, ragtest.NewEmbedderWithDimension(8))
		var pErr *rag.EmbeddingProviderError
		require.ErrorAs(t, err, &pErr)
		assert.Equal(t, rag.KindInvalidResponse, pErr.Kind)
		assert.Zero(t, filled)
		assert.Equal(t, []int{0}, partial.Missing())
	})

	t.Run("Should reject non-finite vectors before filling anything", func(t *testing.T) {
		idx := buildIndex(t, ragtest.NewEmbedder(), false, rentPage, petsPage)
		filled, err := persist.Backfill(t.Context(), idx, nanEmbedder{})
		var pErr *rag.EmbeddingProviderError
		require.ErrorAs(t, err, &pErr)
		assert.Equal(t, rag.KindInvalidResponse, pErr.Kind)
		assert.Zero(t, filled)
		assert.Len(t, idx.Missing(), 2)
	})

	t.Run("Should require an index", func(t *testing.T) {
		_, err := persist.Backfill(t.Context(), nil, ragtest.NewEmbedder())
		assert.Error(t, err)
	})
}

type nanEmbedder struct{}

func (nanEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{float32(math.NaN()), 1}
	}
	return out, nil
}

func (nanEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{float32(math.NaN()), 1}, nil
}
