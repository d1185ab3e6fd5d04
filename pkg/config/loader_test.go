package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	data       map[string]any
	sourceType SourceType
}

func (m *mockSource) Load() (map[string]any, error) {
	return m.data, nil
}

func (m *mockSource) Type() SourceType {
	return m.sourceType
}

func TestLoader_Load(t *testing.T) {
	t.Run("Should load default configuration when no sources provided", func(t *testing.T) {
		cfg, err := NewService().Load(context.Background())
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, 1000, cfg.RAG.ChunkSize)
		assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
		assert.Equal(t, 100, cfg.RAG.MinChunkSize)
		assert.Equal(t, 32, cfg.Embedder.BatchSize)
		assert.Equal(t, 200*time.Millisecond, cfg.Embedder.Backoff)
		assert.Equal(t, "filesystem", cfg.Store.Provider)
	})

	t.Run("Should apply sources in precedence order", func(t *testing.T) {
		service := NewService()
		yamlSource := &mockSource{
			data: map[string]any{
				"rag": map[string]any{
					"chunk_size": 600,
					"top_k":      6,
				},
			},
			sourceType: SourceYAML,
		}
		cliSource := &mockSource{
			data: map[string]any{
				"rag": map[string]any{
					"chunk_size": 800,
				},
			},
			sourceType: SourceCLI,
		}
		cfg, err := service.Load(context.Background(), yamlSource, cliSource)
		require.NoError(t, err)
		assert.Equal(t, 800, cfg.RAG.ChunkSize)
		assert.Equal(t, 6, cfg.RAG.TopK)
		assert.Equal(t, SourceCLI, service.GetSource("rag.chunk_size"))
		assert.Equal(t, SourceYAML, service.GetSource("rag.top_k"))
		assert.Equal(t, SourceDefault, service.GetSource("rag.chunk_overlap"))
	})

	t.Run("Should apply environment variables last", func(t *testing.T) {
		t.Setenv("EMBEDDER_BATCH_SIZE", "16")
		t.Setenv("EMBEDDER_BACKOFF", "50ms")
		t.Setenv("EMBEDDER_API_KEY", "sk-test")
		service := NewService()
		cliSource := &mockSource{
			data:       map[string]any{"embedder": map[string]any{"batch_size": 64}},
			sourceType: SourceCLI,
		}
		cfg, err := service.Load(context.Background(), cliSource)
		require.NoError(t, err)
		assert.Equal(t, 16, cfg.Embedder.BatchSize)
		assert.Equal(t, 50*time.Millisecond, cfg.Embedder.Backoff)
		assert.Equal(t, "sk-test", cfg.Embedder.APIKey.Value())
		assert.Equal(t, SourceEnv, service.GetSource("embedder.batch_size"))
	})

	t.Run("Should reject overlap that is not smaller than chunk size", func(t *testing.T) {
		source := &mockSource{
			data:       map[string]any{"rag": map[string]any{"chunk_size": 100, "chunk_overlap": 100}},
			sourceType: SourceYAML,
		}
		_, err := NewService().Load(context.Background(), source)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation failed")
	})

	t.Run("Should reject backoff larger than max backoff", func(t *testing.T) {
		source := &mockSource{
			data: map[string]any{"embedder": map[string]any{
				"backoff":     "5s",
				"max_backoff": "1s",
			}},
			sourceType: SourceYAML,
		}
		_, err := NewService().Load(context.Background(), source)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_backoff")
	})

	t.Run("Should require a dsn for network stores", func(t *testing.T) {
		for _, provider := range []string{"postgres", "redis"} {
			source := &mockSource{
				data:       map[string]any{"store": map[string]any{"provider": provider}},
				sourceType: SourceYAML,
			}
			_, err := NewService().Load(context.Background(), source)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "dsn is required for the "+provider)
		}
	})
}

func TestYAMLProvider(t *testing.T) {
	t.Run("Should load nested values from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pagerag.yaml")
		content := []byte("rag:\n  chunk_size: 700\nembedder:\n  provider: local\n  model: all-MiniLM\n  options:\n    models_dir: /tmp/models\n")
		require.NoError(t, os.WriteFile(path, content, 0o600))
		cfg, err := NewService().Load(context.Background(), NewYAMLProvider(path))
		require.NoError(t, err)
		assert.Equal(t, 700, cfg.RAG.ChunkSize)
		assert.Equal(t, "local", cfg.Embedder.Provider)
		assert.Equal(t, "/tmp/models", cfg.Embedder.Options["models_dir"])
	})

	t.Run("Should treat a missing file as empty", func(t *testing.T) {
		data, err := NewYAMLProvider(filepath.Join(t.TempDir(), "missing.yaml")).Load()
		require.NoError(t, err)
		assert.Empty(t, data)
	})
}

func TestCLIProvider(t *testing.T) {
	t.Run("Should map known flags and ignore unknown ones", func(t *testing.T) {
		data, err := NewCLIProvider(map[string]any{"top-k": 9, "unknown": true}).Load()
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"rag": map[string]any{"top_k": 9}}, data)
	})
}

func TestSensitiveString(t *testing.T) {
	t.Run("Should redact secrets when serialized", func(t *testing.T) {
		cfg := Default()
		cfg.Embedder.APIKey = "sk-secret"
		out, err := json.Marshal(cfg.Embedder)
		require.NoError(t, err)
		assert.NotContains(t, string(out), "sk-secret")
		assert.Contains(t, string(out), redacted)
	})

	t.Run("Should flag sensitive config paths", func(t *testing.T) {
		assert.True(t, IsSensitiveConfigPath("embedder.api_key"))
		assert.True(t, IsSensitiveConfigPath("store.dsn"))
		assert.False(t, IsSensitiveConfigPath("embedder.model"))
	})
}

func TestContext(t *testing.T) {
	t.Run("Should return attached config or defaults", func(t *testing.T) {
		cfg := Default()
		cfg.RAG.TopK = 11
		ctx := ContextWithConfig(context.Background(), cfg)
		assert.Equal(t, 11, FromContext(ctx).RAG.TopK)
		assert.Equal(t, 4, FromContext(context.Background()).RAG.TopK)
	})
}

func TestConfig_Lookup(t *testing.T) {
	t.Run("Should resolve values by koanf path", func(t *testing.T) {
		cfg := Default()
		value, ok := cfg.Lookup("rag.top_k")
		require.True(t, ok)
		assert.Equal(t, 4, value)
		value, ok = cfg.Lookup("embedder.backoff")
		require.True(t, ok)
		assert.Equal(t, 200*time.Millisecond, value)
	})

	t.Run("Should report unknown paths", func(t *testing.T) {
		cfg := Default()
		_, ok := cfg.Lookup("rag.unknown")
		assert.False(t, ok)
		_, ok = cfg.Lookup("rag.top_k.deeper")
		assert.False(t, ok)
		var nilCfg *Config
		_, ok = nilCfg.Lookup("rag.top_k")
		assert.False(t, ok)
	})
}
