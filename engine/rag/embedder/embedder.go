package embedder

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/compozy/pagerag/engine/rag"
	appconfig "github.com/compozy/pagerag/pkg/config"
)

// Embedder turns texts into fixed-dimension vectors, one per input and in input order.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Named is implemented by embedders that can report their provider for error attribution.
type Named interface {
	ProviderName() string
}

// Provider identifies an embedding backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderVertex Provider = "vertex"
	ProviderLocal  Provider = "local"
)

// Config describes a provider-backed embedder.
type Config struct {
	Provider      Provider
	Model         string
	APIKey        string
	Dimension     int
	BatchSize     int
	StripNewLines bool
	Options       map[string]any
}

// ConfigFromApp maps application configuration onto an adapter config.
func ConfigFromApp(cfg *appconfig.EmbedderConfig) *Config {
	if cfg == nil {
		return nil
	}
	return &Config{
		Provider:      Provider(strings.ToLower(strings.TrimSpace(cfg.Provider))),
		Model:         strings.TrimSpace(cfg.Model),
		APIKey:        cfg.APIKey.Value(),
		Dimension:     cfg.Dimension,
		BatchSize:     cfg.BatchSize,
		StripNewLines: cfg.StripNewLines,
		Options:       cfg.Options,
	}
}

// NewFromConfig builds the provider adapter and wraps it in a Batcher configured from cfg.
func NewFromConfig(ctx context.Context, cfg *appconfig.EmbedderConfig) (*Batcher, error) {
	adapter, err := New(ctx, ConfigFromApp(cfg))
	if err != nil {
		return nil, err
	}
	return NewBatcher(adapter, PolicyFromConfig(cfg)), nil
}

// Categorize maps a provider error onto an error kind. Typed provider errors keep their
// kind; everything else is classified from the error text.
func Categorize(err error) rag.ErrorKind {
	if err == nil {
		return rag.KindServerError
	}
	var providerErr *rag.EmbeddingProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return rag.KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return rag.KindServerError
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "429"), strings.Contains(lower, "quota"):
		return rag.KindRateLimit
	case strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "forbidden"),
		strings.Contains(lower, "auth"),
		strings.Contains(lower, "401"),
		strings.Contains(lower, "403"):
		return rag.KindAuth
	case strings.Contains(lower, "invalid"),
		strings.Contains(lower, "bad request"),
		strings.Contains(lower, "422"),
		strings.Contains(lower, "400"):
		return rag.KindInvalidInput
	default:
		return rag.KindServerError
	}
}

// BatchPolicy bounds how texts are sent to the provider.
type BatchPolicy struct {
	BatchSize   int
	Concurrency int
	MaxRetries  int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	// Dimension, when positive, is the vector length every response must have.
	Dimension int
}

// DefaultBatchPolicy returns the policy derived from the built-in configuration.
func DefaultBatchPolicy() BatchPolicy {
	return PolicyFromConfig(&appconfig.Default().Embedder)
}

// PolicyFromConfig maps embedder configuration onto a batch policy.
func PolicyFromConfig(cfg *appconfig.EmbedderConfig) BatchPolicy {
	if cfg == nil {
		return DefaultBatchPolicy()
	}
	return BatchPolicy{
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.Concurrency,
		MaxRetries:  cfg.MaxRetries,
		Backoff:     cfg.Backoff,
		MaxBackoff:  cfg.MaxBackoff,
		Dimension:   cfg.Dimension,
	}
}

const (
	fallbackBatchSize   = 32
	fallbackConcurrency = 4
	fallbackBackoff     = 200 * time.Millisecond
)

func (p BatchPolicy) sanitized() BatchPolicy {
	out := p
	if out.BatchSize <= 0 {
		out.BatchSize = fallbackBatchSize
	}
	if out.Concurrency <= 0 {
		out.Concurrency = fallbackConcurrency
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.Backoff <= 0 {
		out.Backoff = fallbackBackoff
	}
	if out.MaxBackoff < out.Backoff {
		out.MaxBackoff = out.Backoff
	}
	if out.Dimension < 0 {
		out.Dimension = 0
	}
	return out
}
