package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/compozy/pagerag/engine/rag/persist"
	appconfig "github.com/compozy/pagerag/pkg/config"
)

// Provider enumerates supported document store backends.
type Provider string

const (
	ProviderFilesystem Provider = "filesystem"
	ProviderRedis      Provider = "redis"
	ProviderPostgres   Provider = "postgres"
)

const (
	defaultPrefix     = "pagerag:chunks"
	defaultTable      = "document_chunks"
	maxDocumentIDSize = 256
)

var (
	// ErrNotFound is returned by Load when no records exist for a document.
	ErrNotFound = errors.New("store: document not found")

	errMissingProvider = errors.New("store: provider is required")
	errMissingDSN      = errors.New("store: dsn is required")
	errMissingPath     = errors.New("store: path is required")
)

// Store persists the chunk records of one document under its identifier.
// Records are written as a whole; partial updates are not supported.
type Store interface {
	Save(ctx context.Context, documentID string, records []persist.Record) error
	Load(ctx context.Context, documentID string) ([]persist.Record, error)
	Delete(ctx context.Context, documentID string) error
	Close(ctx context.Context) error
}

// Config captures connection details for a document store.
type Config struct {
	Provider Provider
	Path     string
	DSN      string
	Prefix   string
	Table    string
	TTL      time.Duration
}

// ConfigFromApp maps application configuration onto a store config. It returns nil when
// no provider is configured.
func ConfigFromApp(cfg *appconfig.StoreConfig) *Config {
	if cfg == nil || strings.TrimSpace(cfg.Provider) == "" {
		return nil
	}
	return &Config{
		Provider: Provider(strings.ToLower(strings.TrimSpace(cfg.Provider))),
		Path:     strings.TrimSpace(cfg.Path),
		DSN:      strings.TrimSpace(cfg.DSN.Value()),
		Prefix:   strings.TrimSpace(cfg.Prefix),
		Table:    strings.TrimSpace(cfg.Table),
		TTL:      cfg.TTL,
	}
}

// New instantiates a document store backed by the requested provider.
func New(ctx context.Context, cfg *Config) (Store, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case ProviderFilesystem:
		return newFileStore(cfg)
	case ProviderRedis:
		return newRedisStore(ctx, cfg)
	case ProviderPostgres:
		return newPostgresStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("store: provider %q is not supported", cfg.Provider)
	}
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("store: config is required")
	}
	cfg.Path = strings.TrimSpace(cfg.Path)
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	if strings.TrimSpace(string(cfg.Provider)) == "" {
		return errMissingProvider
	}
	switch cfg.Provider {
	case ProviderRedis, ProviderPostgres:
		if cfg.DSN == "" {
			return fmt.Errorf("store %q: %w", cfg.Provider, errMissingDSN)
		}
	case ProviderFilesystem:
		if cfg.Path == "" {
			return fmt.Errorf("store %q: %w", cfg.Provider, errMissingPath)
		}
	}
	if cfg.TTL < 0 {
		return fmt.Errorf("store %q: ttl must be non-negative", cfg.Provider)
	}
	return nil
}

// validateDocumentID accepts identifiers that are safe as file names, redis keys and
// SQL parameters alike.
func validateDocumentID(id string) error {
	if id == "" || strings.TrimSpace(id) != id {
		return errors.New("store: document id must be non-empty without surrounding spaces")
	}
	if len(id) > maxDocumentIDSize {
		return fmt.Errorf("store: document id exceeds %d bytes", maxDocumentIDSize)
	}
	if id == "." || id == ".." {
		return fmt.Errorf("store: document id %q is reserved", id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return fmt.Errorf("store: document id %q contains %q", id, r)
		}
	}
	return nil
}

func fallbackString(value string, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
