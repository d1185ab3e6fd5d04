package uc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/compozy/pagerag/engine/rag"
	"github.com/compozy/pagerag/engine/rag/chunk"
	"github.com/compozy/pagerag/engine/rag/embedder"
	"github.com/compozy/pagerag/engine/rag/index"
	"github.com/compozy/pagerag/engine/rag/persist"
	"github.com/compozy/pagerag/engine/rag/store"
	"github.com/compozy/pagerag/pkg/logger"
)

type IngestInput struct {
	DocumentID string
	Pages      []rag.Page
	// SkipEmbedding builds a partially embedded index that a later Prepare backfills.
	SkipEmbedding bool
}

type IngestOutput struct {
	Index   *index.Index
	Records []persist.Record
}

// Ingest chunks pages, embeds the chunks and persists the resulting records.
type Ingest struct {
	chunker  *chunk.Chunker
	embedder embedder.Embedder
	store    store.Store
}

// NewIngest wires an ingest use case. A nil store skips persistence.
func NewIngest(chunker *chunk.Chunker, emb embedder.Embedder, st store.Store) *Ingest {
	return &Ingest{chunker: chunker, embedder: emb, store: st}
}

func (uc *Ingest) Execute(ctx context.Context, in *IngestInput) (*IngestOutput, error) {
	if in == nil {
		return nil, ErrInvalidInput
	}
	if uc.chunker == nil {
		return nil, ErrChunkerMissing
	}
	docID := strings.TrimSpace(in.DocumentID)
	if uc.store != nil && docID == "" {
		return nil, ErrDocumentMissing
	}
	if !in.SkipEmbedding && uc.embedder == nil {
		return nil, ErrEmbedderRequired
	}
	start := time.Now()
	chunks, err := uc.chunker.Split(in.Pages)
	if err != nil {
		return nil, err
	}
	rag.RecordChunks(ctx, len(chunks))
	idx, err := index.Build(chunks)
	if err != nil {
		return nil, err
	}
	if !in.SkipEmbedding {
		if err := uc.embed(ctx, idx); err != nil {
			return nil, err
		}
	}
	records := persist.Serialize(idx)
	if uc.store != nil {
		if err := uc.store.Save(ctx, docID, records); err != nil {
			return nil, fmt.Errorf("ingest: save %q: %w", docID, err)
		}
	}
	logger.FromContext(ctx).Info(
		"Document ingested",
		"document_id", docID,
		"pages", len(in.Pages),
		"chunks", idx.Len(),
		"state", idx.State(),
		"persisted", uc.store != nil,
		"duration_seconds", time.Since(start).Seconds(),
	)
	return &IngestOutput{Index: idx, Records: records}, nil
}

// embed fills every chunk in input order. Any failure discards the whole index.
func (uc *Ingest) embed(ctx context.Context, idx *index.Index) error {
	if idx.Len() == 0 {
		return nil
	}
	texts := make([]string, idx.Len())
	for i := range texts {
		texts[i] = idx.Chunk(i).Text
	}
	vectors, err := uc.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("ingest: embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("ingest: embed chunks: %w", &rag.EmbeddingProviderError{
			Kind:     rag.KindInvalidResponse,
			Attempts: 1,
			Err:      fmt.Errorf("received %d embeddings for %d chunks", len(vectors), len(texts)),
		})
	}
	for i := range vectors {
		if err := idx.SetEmbedding(i, vectors[i]); err != nil {
			return fmt.Errorf("ingest: embed chunks: %w", err)
		}
	}
	return nil
}
