package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/embeddings/cybertron"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/googleai/vertex"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/compozy/pagerag/engine/rag"
	"github.com/compozy/pagerag/engine/rag/tokens"
	"github.com/compozy/pagerag/pkg/logger"
)

// Adapter wraps a langchaingo embedder and maps provider failures onto typed errors.
type Adapter struct {
	provider  Provider
	model     string
	dimension int
	batchSize int
	impl      embeddings.Embedder

	tokensOnce sync.Once
	estimator  *tokens.Estimator
}

var (
	errMissingConfig    = errors.New("embedder config is required")
	errMissingProvider  = errors.New("embedder provider is required")
	errMissingModel     = errors.New("embedder model is required")
	errInvalidDimension = errors.New("embedder dimension cannot be negative")
	errInvalidBatchSize = errors.New("embedder batch size must be greater than zero")
)

// New constructs a provider-backed adapter.
func New(ctx context.Context, cfg *Config) (*Adapter, error) {
	if cfg == nil {
		return nil, errMissingConfig
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	options := []embeddings.Option{
		embeddings.WithBatchSize(cfg.BatchSize),
		embeddings.WithStripNewLines(cfg.StripNewLines),
	}
	impl, err := buildProviderEmbedder(ctx, cfg, options...)
	if err != nil {
		return nil, err
	}
	return newAdapter(cfg, impl), nil
}

// Wrap constructs an adapter around an existing langchaingo embedder.
func Wrap(cfg *Config, impl embeddings.Embedder) (*Adapter, error) {
	if cfg == nil {
		return nil, errMissingConfig
	}
	if impl == nil {
		return nil, fmt.Errorf("embedder %q: implementation is required", cfg.Provider)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return newAdapter(cfg, impl), nil
}

func newAdapter(cfg *Config, impl embeddings.Embedder) *Adapter {
	return &Adapter{
		provider:  cfg.Provider,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		impl:      impl,
	}
}

// ProviderName returns the configured provider.
func (a *Adapter) ProviderName() string {
	return string(a.provider)
}

// Model returns the configured model name.
func (a *Adapter) Model() string {
	return a.model
}

// Dimension returns the configured vector dimension, zero when unknown.
func (a *Adapter) Dimension() int {
	return a.dimension
}

// BatchSize returns the configured batch size.
func (a *Adapter) BatchSize() int {
	return a.batchSize
}

// EmbedDocuments sends texts to the provider in one call.
func (a *Adapter) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	start := time.Now()
	vectors, err := a.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, a.fail(ctx, 0, err)
	}
	if len(vectors) != len(texts) {
		return nil, a.fail(ctx, 0, &rag.EmbeddingProviderError{
			Kind: rag.KindInvalidResponse,
			Err:  fmt.Errorf("received %d embeddings for %d texts", len(vectors), len(texts)),
		})
	}
	rag.RecordEmbeddingBatch(ctx, string(a.provider), a.model, time.Since(start), a.tokens(ctx).CountAll(texts))
	return vectors, nil
}

// EmbedQuery embeds a single query text.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vector, err := a.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, a.fail(ctx, rag.QueryBatch, err)
	}
	rag.RecordEmbeddingBatch(ctx, string(a.provider), a.model, time.Since(start), a.tokens(ctx).Count(text))
	return vector, nil
}

func (a *Adapter) tokens(ctx context.Context) *tokens.Estimator {
	a.tokensOnce.Do(func() {
		estimator, err := tokens.ForModel(a.model)
		if err != nil {
			logger.FromContext(ctx).
				Warn("failed to load tokenizer, using approximate counts", "provider", a.provider, "model", a.model, "error", err)
			return
		}
		a.estimator = estimator
	})
	return a.estimator
}

func (a *Adapter) fail(ctx context.Context, batch int, err error) error {
	kind := Categorize(err)
	if ctx.Err() != nil {
		kind = rag.KindCanceled
	}
	rag.RecordEmbeddingError(ctx, string(a.provider), a.model, kind)
	cause := err
	var providerErr *rag.EmbeddingProviderError
	if errors.As(err, &providerErr) && providerErr.Err != nil {
		cause = providerErr.Err
	}
	return &rag.EmbeddingProviderError{
		Provider: string(a.provider),
		Kind:     kind,
		Batch:    batch,
		Attempts: 1,
		Err:      cause,
	}
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(string(cfg.Provider)) == "" {
		return errMissingProvider
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("embedder %q: %w", cfg.Provider, errMissingModel)
	}
	if cfg.Dimension < 0 {
		return fmt.Errorf("embedder %q: %w", cfg.Provider, errInvalidDimension)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("embedder %q: %w", cfg.Provider, errInvalidBatchSize)
	}
	return nil
}

func buildProviderEmbedder(
	ctx context.Context,
	cfg *Config,
	options ...embeddings.Option,
) (embeddings.Embedder, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return buildOpenAIEmbedder(cfg, options...)
	case ProviderVertex:
		return buildVertexEmbedder(ctx, cfg, options...)
	case ProviderLocal:
		return buildLocalEmbedder(cfg, options...)
	default:
		return nil, fmt.Errorf("embedder: provider %q is not supported", cfg.Provider)
	}
}

func buildOpenAIEmbedder(cfg *Config, opts ...embeddings.Option) (embeddings.Embedder, error) {
	openaiOpts := []openai.Option{
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		openaiOpts = append(openaiOpts, openai.WithToken(cfg.APIKey))
	}
	if baseURL := lookupString(cfg.Options, "base_url"); baseURL != "" {
		openaiOpts = append(openaiOpts, openai.WithBaseURL(baseURL))
	}
	client, err := openai.New(openaiOpts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to initialize openai client: %w", cfg.Provider, err)
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to construct openai embedder: %w", cfg.Provider, err)
	}
	return embedder, nil
}

func buildVertexEmbedder(
	ctx context.Context,
	cfg *Config,
	opts ...embeddings.Option,
) (embeddings.Embedder, error) {
	vertexOpts := []googleai.Option{
		googleai.WithDefaultEmbeddingModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		vertexOpts = append(vertexOpts, googleai.WithAPIKey(cfg.APIKey))
	}
	if project := lookupString(cfg.Options, "project_id"); project != "" {
		vertexOpts = append(vertexOpts, googleai.WithCloudProject(project))
	}
	if location := lookupString(cfg.Options, "location"); location != "" {
		vertexOpts = append(vertexOpts, googleai.WithCloudLocation(location))
	}
	client, err := vertex.New(ctx, vertexOpts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to initialize vertex client: %w", cfg.Provider, err)
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to construct vertex embedder: %w", cfg.Provider, err)
	}
	return embedder, nil
}

func buildLocalEmbedder(cfg *Config, opts ...embeddings.Option) (embeddings.Embedder, error) {
	cybertronOpts := []cybertron.Option{cybertron.WithModel(cfg.Model)}
	if dir := lookupString(cfg.Options, "models_dir"); dir != "" {
		cybertronOpts = append(cybertronOpts, cybertron.WithModelsDir(dir))
	}
	client, err := cybertron.NewCybertron(cybertronOpts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to initialize local embedder: %w", cfg.Provider, err)
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to construct local embedder: %w", cfg.Provider, err)
	}
	return embedder, nil
}

func lookupString(options map[string]any, key string) string {
	if len(options) == 0 {
		return ""
	}
	if v, ok := options[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
