package uc

import (
	"context"
	"fmt"
	"strings"

	"github.com/compozy/pagerag/engine/rag/embedder"
	"github.com/compozy/pagerag/engine/rag/index"
	"github.com/compozy/pagerag/engine/rag/persist"
	"github.com/compozy/pagerag/engine/rag/store"
	"github.com/compozy/pagerag/pkg/logger"
)

type PrepareOutput struct {
	Index      *index.Index
	Backfilled int
}

// Prepare loads a stored document and makes its index queryable, embedding any chunks
// persisted without a vector.
type Prepare struct {
	store    store.Store
	embedder embedder.Embedder
}

func NewPrepare(st store.Store, emb embedder.Embedder) *Prepare {
	return &Prepare{store: st, embedder: emb}
}

func (uc *Prepare) Execute(ctx context.Context, documentID string) (*PrepareOutput, error) {
	if uc.store == nil {
		return nil, ErrStoreMissing
	}
	docID := strings.TrimSpace(documentID)
	if docID == "" {
		return nil, ErrDocumentMissing
	}
	records, err := uc.store.Load(ctx, docID)
	if err != nil {
		return nil, err
	}
	idx, err := persist.Rebuild(records)
	if err != nil {
		return nil, fmt.Errorf("prepare %q: %w", docID, err)
	}
	if idx.Ready() {
		return &PrepareOutput{Index: idx}, nil
	}
	if uc.embedder == nil {
		return nil, ErrEmbedderRequired
	}
	filled, err := persist.Backfill(ctx, idx, uc.embedder)
	if err != nil {
		return nil, fmt.Errorf("prepare %q: %w", docID, err)
	}
	if err := uc.store.Save(ctx, docID, persist.Serialize(idx)); err != nil {
		return nil, fmt.Errorf("prepare %q: save backfilled records: %w", docID, err)
	}
	logger.FromContext(ctx).Info("Document prepared", "document_id", docID, "chunks", idx.Len(), "backfilled", filled)
	return &PrepareOutput{Index: idx, Backfilled: filled}, nil
}
