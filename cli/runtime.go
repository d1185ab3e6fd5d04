package cli

import (
	"context"
	"fmt"

	"github.com/compozy/pagerag/engine/rag"
	"github.com/compozy/pagerag/engine/rag/chunk"
	"github.com/compozy/pagerag/engine/rag/embedder"
	"github.com/compozy/pagerag/engine/rag/index"
	"github.com/compozy/pagerag/engine/rag/retriever"
	"github.com/compozy/pagerag/engine/rag/store"
	"github.com/compozy/pagerag/engine/rag/uc"
	"github.com/compozy/pagerag/pkg/config"
	"github.com/compozy/pagerag/pkg/logger"
)

// embedderFactory builds the provider-backed embedder for commands.
var embedderFactory = func(ctx context.Context, cfg *config.EmbedderConfig) (embedder.Embedder, error) {
	batcher, err := embedder.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return batcher, nil
}

// runtime bundles the collaborators a command needs for one invocation.
type runtime struct {
	cfg      *config.Config
	embedder embedder.Embedder
	store    store.Store
}

func newRuntime(ctx context.Context, needEmbedder bool) (*runtime, error) {
	cfg := config.FromContext(ctx)
	rt := &runtime{cfg: cfg}
	storeCfg := store.ConfigFromApp(&cfg.Store)
	if storeCfg == nil {
		return nil, uc.ErrStoreMissing
	}
	st, err := store.New(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	rt.store = st
	if needEmbedder {
		emb, err := embedderFactory(ctx, &cfg.Embedder)
		if err != nil {
			rt.close(ctx)
			return nil, fmt.Errorf("init embedder: %w", err)
		}
		rt.embedder = emb
	}
	return rt, nil
}

func (rt *runtime) close(ctx context.Context) {
	if rt.store == nil {
		return
	}
	if err := rt.store.Close(ctx); err != nil {
		logger.FromContext(ctx).Warn("Failed to close document store", "error", err)
	}
}

func (rt *runtime) chunker() (*chunk.Chunker, error) {
	return chunk.NewChunker(chunk.SettingsFromDefaults(rag.DefaultsFromConfig(rt.cfg)))
}

func (rt *runtime) retriever() (*retriever.Service, error) {
	defaults := rag.DefaultsFromConfig(rt.cfg)
	return retriever.NewService(
		rt.embedder,
		retriever.WithMinSourceScore(defaults.MinSourceScore),
		retriever.WithTokenEstimator(retriever.NewTokenEstimator(rt.cfg.Embedder.Model)),
	)
}

// prepare loads a stored document and backfills missing embeddings.
func (rt *runtime) prepare(ctx context.Context, documentID string) (*index.Index, error) {
	out, err := uc.NewPrepare(rt.store, rt.embedder).Execute(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return out.Index, nil
}
