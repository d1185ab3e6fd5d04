package embedder

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/compozy/pagerag/engine/rag"
	"github.com/compozy/pagerag/pkg/logger"
)

// Batcher splits inputs into bounded batches, embeds up to Concurrency batches at once,
// retries transient failures and reassembles vectors in input order. A call either
// returns one vector per input or fails as a whole.
type Batcher struct {
	inner    Embedder
	policy   BatchPolicy
	provider string
}

// NewBatcher wraps inner with the given policy. Non-positive values fall back to defaults.
func NewBatcher(inner Embedder, policy BatchPolicy) *Batcher {
	provider := "embedder"
	if named, ok := inner.(Named); ok && named.ProviderName() != "" {
		provider = named.ProviderName()
	}
	return &Batcher{inner: inner, policy: policy.sanitized(), provider: provider}
}

// Policy returns the effective batch policy.
func (b *Batcher) Policy() BatchPolicy {
	return b.policy
}

// ProviderName reports the wrapped provider.
func (b *Batcher) ProviderName() string {
	return b.provider
}

type batchRange struct {
	index int
	lo    int
	hi    int
}

func (b *Batcher) partition(n int) []batchRange {
	size := b.policy.BatchSize
	out := make([]batchRange, 0, (n+size-1)/size)
	for lo := 0; lo < n; lo += size {
		out = append(out, batchRange{index: len(out), lo: lo, hi: min(lo+size, n)})
	}
	return out
}

// EmbedDocuments embeds texts and returns vectors in input order.
func (b *Batcher) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	batches := b.partition(len(texts))
	results := make([][]float32, len(texts))
	sem := make(chan struct{}, b.policy.Concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for _, br := range batches {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return b.providerError(gctx, br.index, 0, gctx.Err())
			}
			vectors, err := b.embedBatch(gctx, br.index, texts[br.lo:br.hi])
			if err != nil {
				return err
			}
			copy(results[br.lo:br.hi], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := b.checkDimensions(results, batches); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug(
		"embedded documents",
		"provider", b.provider,
		"texts", len(texts),
		"batches", len(batches),
	)
	return results, nil
}

// EmbedQuery embeds a single query under the same retry policy.
func (b *Batcher) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	attempts, err := b.withRetry(ctx, rag.QueryBatch, func(ctx context.Context) error {
		out, err := b.inner.EmbedQuery(ctx, text)
		if err != nil {
			return err
		}
		if len(out) == 0 {
			return invalidResponse("provider returned an empty query vector")
		}
		if at := rag.NonFinite(out); at >= 0 {
			return invalidResponse(fmt.Sprintf("query vector has a non-finite value at %d", at))
		}
		if b.policy.Dimension > 0 && len(out) != b.policy.Dimension {
			return invalidResponse(fmt.Sprintf(
				"query vector has dimension %d, expected %d", len(out), b.policy.Dimension,
			))
		}
		vector = out
		return nil
	})
	if err != nil {
		return nil, b.providerError(ctx, rag.QueryBatch, attempts, err)
	}
	return vector, nil
}

func (b *Batcher) embedBatch(ctx context.Context, batch int, texts []string) ([][]float32, error) {
	var vectors [][]float32
	attempts, err := b.withRetry(ctx, batch, func(ctx context.Context) error {
		out, err := b.inner.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
		if err := validateBatch(out, len(texts)); err != nil {
			return err
		}
		vectors = out
		return nil
	})
	if err != nil {
		return nil, b.providerError(ctx, batch, attempts, err)
	}
	return vectors, nil
}

// withRetry runs call until it succeeds, fails with a non-transient error, or the retry
// budget is spent. It returns the number of attempts made.
func (b *Batcher) withRetry(ctx context.Context, batch int, call func(context.Context) error) (int, error) {
	backoff := retry.NewExponential(b.policy.Backoff)
	backoff = retry.WithCappedDuration(b.policy.MaxBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(b.policy.MaxRetries), backoff) // #nosec G115 -- sanitized non-negative
	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := call(ctx)
		if err == nil {
			return nil
		}
		kind := Categorize(err)
		if ctx.Err() != nil || !kind.Transient() {
			return err
		}
		if attempts <= b.policy.MaxRetries {
			rag.RecordEmbeddingRetry(ctx, kind)
			logger.FromContext(ctx).Warn(
				"embedding call failed, retrying",
				"provider", b.provider,
				"batch", batch,
				"attempt", attempts,
				"error_type", kind,
				"error", err,
			)
		}
		return retry.RetryableError(err)
	})
	return attempts, err
}

func (b *Batcher) providerError(ctx context.Context, batch int, attempts int, err error) error {
	kind := Categorize(err)
	if ctx.Err() != nil {
		kind = rag.KindCanceled
	}
	cause := err
	var providerErr *rag.EmbeddingProviderError
	if errors.As(err, &providerErr) && providerErr.Err != nil {
		cause = providerErr.Err
	}
	return &rag.EmbeddingProviderError{
		Provider: b.provider,
		Kind:     kind,
		Batch:    batch,
		Attempts: attempts,
		Err:      cause,
	}
}

func (b *Batcher) checkDimensions(vectors [][]float32, batches []batchRange) error {
	want := b.policy.Dimension
	if want == 0 {
		want = len(vectors[0])
	}
	for _, br := range batches {
		for i := br.lo; i < br.hi; i++ {
			if len(vectors[i]) != want {
				return &rag.EmbeddingProviderError{
					Provider: b.provider,
					Kind:     rag.KindInvalidResponse,
					Batch:    br.index,
					Attempts: 1,
					Err:      fmt.Errorf("vector %d has dimension %d, expected %d", i, len(vectors[i]), want),
				}
			}
		}
	}
	return nil
}

func validateBatch(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return invalidResponse(fmt.Sprintf("received %d embeddings for %d texts", len(vectors), want))
	}
	for i := range vectors {
		if len(vectors[i]) == 0 {
			return invalidResponse(fmt.Sprintf("embedding %d is empty", i))
		}
		if at := rag.NonFinite(vectors[i]); at >= 0 {
			return invalidResponse(fmt.Sprintf("embedding %d has a non-finite value at %d", i, at))
		}
	}
	return nil
}

func invalidResponse(msg string) error {
	return &rag.EmbeddingProviderError{Kind: rag.KindInvalidResponse, Err: errors.New(msg)}
}
