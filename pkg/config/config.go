package config

import (
	"context"
	"time"
)

// Config represents the complete configuration for the retrieval engine and its collaborators.
// It provides type-safe access to all configuration values with validation.
type Config struct {
	RAG      RAGConfig      `koanf:"rag"      validate:"required"`
	Embedder EmbedderConfig `koanf:"embedder" validate:"required"`
	Store    StoreConfig    `koanf:"store"`
	Runtime  RuntimeConfig  `koanf:"runtime"`
}

// RAGConfig contains chunking and retrieval defaults.
type RAGConfig struct {
	ChunkSize      int     `koanf:"chunk_size"       env:"RAG_CHUNK_SIZE"       validate:"min=1"`
	ChunkOverlap   int     `koanf:"chunk_overlap"    env:"RAG_CHUNK_OVERLAP"    validate:"min=0,ltfield=ChunkSize"`
	MinChunkSize   int     `koanf:"min_chunk_size"   env:"RAG_MIN_CHUNK_SIZE"   validate:"min=0,ltefield=ChunkSize"`
	TopK           int     `koanf:"top_k"            env:"RAG_TOP_K"            validate:"min=1,max=50"`
	MinSourceScore float64 `koanf:"min_source_score" env:"RAG_MIN_SOURCE_SCORE" validate:"min=-1,max=1"`
}

// EmbedderConfig describes the embedding provider and the batching policy applied to it.
type EmbedderConfig struct {
	Provider      string          `koanf:"provider"       env:"EMBEDDER_PROVIDER"       validate:"required,oneof=openai vertex local"`
	Model         string          `koanf:"model"          env:"EMBEDDER_MODEL"          validate:"required"`
	APIKey        SensitiveString `koanf:"api_key"        env:"EMBEDDER_API_KEY"                                                      sensitive:"true"`
	Dimension     int             `koanf:"dimension"      env:"EMBEDDER_DIMENSION"      validate:"min=0"`
	BatchSize     int             `koanf:"batch_size"     env:"EMBEDDER_BATCH_SIZE"     validate:"min=1,max=2048"`
	Concurrency   int             `koanf:"concurrency"    env:"EMBEDDER_CONCURRENCY"    validate:"min=1,max=64"`
	MaxRetries    int             `koanf:"max_retries"    env:"EMBEDDER_MAX_RETRIES"    validate:"min=0,max=10"`
	Backoff       time.Duration   `koanf:"backoff"        env:"EMBEDDER_BACKOFF"`
	MaxBackoff    time.Duration   `koanf:"max_backoff"    env:"EMBEDDER_MAX_BACKOFF"`
	StripNewLines bool            `koanf:"strip_newlines" env:"EMBEDDER_STRIP_NEWLINES"`
	Options       map[string]any  `koanf:"options"`
}

// StoreConfig selects the document store used to hold serialized chunk records.
type StoreConfig struct {
	Provider string          `koanf:"provider" env:"STORE_PROVIDER" validate:"omitempty,oneof=filesystem redis postgres"`
	Path     string          `koanf:"path"     env:"STORE_PATH"`
	DSN      SensitiveString `koanf:"dsn"      env:"STORE_DSN"                                                         sensitive:"true"`
	Prefix   string          `koanf:"prefix"   env:"STORE_PREFIX"`
	Table    string          `koanf:"table"    env:"STORE_TABLE"`
	TTL      time.Duration   `koanf:"ttl"      env:"STORE_TTL"`
}

// RuntimeConfig contains process-level behavior.
type RuntimeConfig struct {
	LogLevel  string `koanf:"log_level"  env:"LOG_LEVEL"  validate:"omitempty,oneof=debug info warn error disabled"`
	LogJSON   bool   `koanf:"log_json"   env:"LOG_JSON"`
	LogSource bool   `koanf:"log_source" env:"LOG_SOURCE"`
}

// Service defines the configuration loading contract.
type Service interface {
	// Load loads configuration from the specified sources.
	Load(ctx context.Context, sources ...Source) (*Config, error)
	// Validate validates the configuration.
	Validate(config *Config) error
	// GetSource returns the source type for a given configuration key.
	GetSource(key string) SourceType
}

// Source represents a configuration source.
type Source interface {
	// Load reads configuration from the source.
	Load() (map[string]any, error)
	// Type returns the source type identifier.
	Type() SourceType
}

// SourceType identifies the type of configuration source.
type SourceType string

const (
	SourceCLI     SourceType = "cli"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceDefault SourceType = "default"
)

// Metadata contains metadata about configuration sources.
type Metadata struct {
	Sources  map[string]SourceType `json:"sources"`
	LoadedAt time.Time             `json:"loaded_at"`
}

// Load is a convenience wrapper loading defaults and environment only.
func Load() (*Config, error) {
	service := NewService()
	return service.Load(context.Background())
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		RAG: RAGConfig{
			ChunkSize:      1000,
			ChunkOverlap:   200,
			MinChunkSize:   100,
			TopK:           4,
			MinSourceScore: 0.2,
		},
		Embedder: EmbedderConfig{
			Provider:      "openai",
			Model:         "text-embedding-3-small",
			Dimension:     0,
			BatchSize:     32,
			Concurrency:   4,
			MaxRetries:    3,
			Backoff:       200 * time.Millisecond,
			MaxBackoff:    2 * time.Second,
			StripNewLines: true,
		},
		Store: StoreConfig{
			Provider: "filesystem",
			Path:     ".pagerag/documents",
			Prefix:   "pagerag:chunks",
			Table:    "document_chunks",
		},
		Runtime: RuntimeConfig{
			LogLevel: "info",
		},
	}
}
