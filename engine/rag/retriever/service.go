package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/compozy/pagerag/engine/rag"
	"github.com/compozy/pagerag/engine/rag/embedder"
	"github.com/compozy/pagerag/engine/rag/index"
	"github.com/compozy/pagerag/engine/rag/tokens"
	"github.com/compozy/pagerag/pkg/logger"
)

const (
	opRetrieve     = "retrieve"
	opFindSource   = "find source"
	opBuildContext = "build context"
)

// TokenEstimator sizes retrieved text for downstream prompt budgets.
type TokenEstimator interface {
	EstimateTokens(ctx context.Context, text string) int
}

type tiktokenEstimator struct {
	estimator *tokens.Estimator
}

func (e tiktokenEstimator) EstimateTokens(_ context.Context, text string) int {
	return e.estimator.Count(text)
}

// NewTokenEstimator returns an estimator backed by the tiktoken encoding for model.
// Unknown or unloadable models fall back to a rune heuristic.
func NewTokenEstimator(model string) TokenEstimator {
	est, err := tokens.ForModel(model)
	if err != nil {
		return tiktokenEstimator{}
	}
	return tiktokenEstimator{estimator: est}
}

// Option customizes a Service.
type Option func(*Service)

// WithMinSourceScore sets the lowest score FindSource accepts.
func WithMinSourceScore(score float64) Option {
	return func(s *Service) {
		s.minSourceScore = score
	}
}

// WithTokenEstimator replaces the token estimator.
func WithTokenEstimator(estimator TokenEstimator) Option {
	return func(s *Service) {
		if estimator != nil {
			s.estimator = estimator
		}
	}
}

// Service ranks index chunks against queries and assembles prompt context.
type Service struct {
	embedder       embedder.Embedder
	estimator      TokenEstimator
	minSourceScore float64
	tracer         trace.Tracer
}

// NewService builds a retriever around emb.
func NewService(emb embedder.Embedder, opts ...Option) (*Service, error) {
	if emb == nil {
		return nil, errors.New("retriever: embedder is required")
	}
	s := &Service{
		embedder:       emb,
		estimator:      tiktokenEstimator{},
		minSourceScore: rag.DefaultDefaults().MinSourceScore,
		tracer:         otel.Tracer("pagerag.rag.retriever"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MinSourceScore returns the FindSource acceptance threshold.
func (s *Service) MinSourceScore() float64 {
	return s.minSourceScore
}

// EstimateTokens estimates the token count of text.
func (s *Service) EstimateTokens(ctx context.Context, text string) int {
	return s.estimator.EstimateTokens(ctx, text)
}

// Retrieve embeds query and returns the k best chunks, most relevant first.
// An empty index yields an empty result without calling the embedder.
func (s *Service) Retrieve(
	ctx context.Context,
	idx *index.Index,
	query string,
	k int,
) (results []rag.ScoredChunk, err error) {
	if err := validateRetrieveInput(opRetrieve, idx, k); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, rag.NewValidationError(opRetrieve, rag.NoPosition, "query", "must not be blank")
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "pagerag.rag.retriever.retrieve", trace.WithAttributes(
		attribute.Int("top_k", k),
		attribute.Int("chunks", idx.Len()),
	))
	defer s.finish(ctx, opRetrieve, span, start, &results, &err)

	if idx.Len() == 0 {
		return []rag.ScoredChunk{}, nil
	}
	if !idx.Ready() {
		missing := len(idx.Missing())
		return nil, &rag.NotReadyError{Missing: missing, Total: idx.Len()}
	}
	vector, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.rank(ctx, idx, vector, k)
}

// RetrieveByVector ranks chunks against a caller-supplied query vector.
func (s *Service) RetrieveByVector(
	ctx context.Context,
	idx *index.Index,
	vector []float32,
	k int,
) ([]rag.ScoredChunk, error) {
	if err := validateRetrieveInput(opRetrieve, idx, k); err != nil {
		return nil, err
	}
	return s.rank(ctx, idx, vector, k)
}

// FindSource attributes claim to its best-matching chunk. A best match scoring below
// the configured threshold yields ErrNoConfidentSource.
func (s *Service) FindSource(ctx context.Context, idx *index.Index, claim string) (*rag.Source, error) {
	if idx == nil {
		return nil, rag.NewValidationError(opFindSource, rag.NoPosition, "index", "is required")
	}
	if idx.Len() == 0 {
		return nil, &rag.EmptyIndexError{Op: opFindSource}
	}
	results, err := s.Retrieve(ctx, idx, claim, 1)
	if err != nil {
		return nil, err
	}
	best := results[0]
	if best.Score < s.minSourceScore {
		return nil, fmt.Errorf(
			"%w: best match on page %d scored %.4f, threshold %.4f",
			rag.ErrNoConfidentSource,
			best.Chunk.PageNumber,
			best.Score,
			s.minSourceScore,
		)
	}
	return &rag.Source{
		Text:       best.Chunk.Text,
		PageNumber: best.Chunk.PageNumber,
		ChunkIndex: best.Chunk.ChunkIndex,
		Score:      best.Score,
	}, nil
}

// BuildContext retrieves the top k chunks and formats them as page-annotated blocks
// in relevance order. The output is not length-capped.
func (s *Service) BuildContext(ctx context.Context, idx *index.Index, query string, k int) (string, error) {
	results, err := s.Retrieve(ctx, idx, query, k)
	if err != nil {
		return "", fmt.Errorf("retriever: %s: %w", opBuildContext, err)
	}
	return FormatContext(results), nil
}

// FormatContext renders chunks as "[Page N]\n<text>" blocks separated by a blank line.
func FormatContext(results []rag.ScoredChunk) string {
	var b strings.Builder
	for i := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[Page %d]\n%s", results[i].Chunk.PageNumber, results[i].Chunk.Text)
	}
	return b.String()
}

func validateRetrieveInput(op string, idx *index.Index, k int) error {
	if idx == nil {
		return rag.NewValidationError(op, rag.NoPosition, "index", "is required")
	}
	if k <= 0 {
		return rag.NewValidationError(op, rag.NoPosition, "k", fmt.Sprintf("must be positive, got %d", k))
	}
	return nil
}

func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, error) {
	spanCtx, span := s.tracer.Start(ctx, "pagerag.rag.retriever.embed_query")
	defer span.End()
	vector, err := s.embedder.EmbedQuery(spanCtx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("dimension", len(vector)))
	return vector, nil
}

func (s *Service) rank(ctx context.Context, idx *index.Index, vector []float32, k int) ([]rag.ScoredChunk, error) {
	_, span := s.tracer.Start(ctx, "pagerag.rag.retriever.scan", trace.WithAttributes(
		attribute.Int("chunks", idx.Len()),
		attribute.Int("top_k", k),
	))
	defer span.End()
	results, err := idx.TopK(vector, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	for i := range results {
		results[i].TokenEstimate = s.estimator.EstimateTokens(ctx, results[i].Chunk.Text)
	}
	return results, nil
}

func (s *Service) finish(
	ctx context.Context,
	op string,
	span trace.Span,
	start time.Time,
	results *[]rag.ScoredChunk,
	runErr *error,
) {
	duration := time.Since(start)
	log := logger.FromContext(ctx)
	if runErr != nil && *runErr != nil {
		err := *runErr
		outcome := "error"
		if errors.Is(err, rag.ErrNotReady) {
			outcome = "not_ready"
		}
		rag.RecordQuery(ctx, op, outcome, duration)
		log.Error("Retrieval failed", "operation", op, "error", err, "duration_seconds", duration.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return
	}
	total := 0
	if results != nil {
		total = len(*results)
	}
	outcome := "success"
	if total == 0 {
		outcome = "empty"
	}
	rag.RecordQuery(ctx, op, outcome, duration)
	log.Debug("Retrieval finished", "operation", op, "results", total, "duration_seconds", duration.Seconds())
	span.SetAttributes(attribute.Int("results", total))
	span.End()
}
