package rag

import (
	"context"

	appconfig "github.com/compozy/pagerag/pkg/config"
)

const (
	maxRetrievalTopK = 50
	MinScoreFloor    = -1.0
	MaxScoreCeiling  = 1.0
)

var builtinDefaults = computeBuiltinDefaults()

// Defaults captures the chunking and retrieval settings shared by the engine packages.
type Defaults struct {
	ChunkSize      int
	ChunkOverlap   int
	MinChunkSize   int
	TopK           int
	MinSourceScore float64
}

// DefaultDefaults returns the built-in defaults used when no configuration override is supplied.
func DefaultDefaults() Defaults {
	return builtinDefaults
}

// DefaultsFromContext retrieves defaults using the application configuration stored in context.
func DefaultsFromContext(ctx context.Context) Defaults {
	return DefaultsFromConfig(appconfig.FromContext(ctx))
}

// DefaultsFromConfig builds Defaults from the application configuration.
// Invalid values fall back to the built-in defaults.
func DefaultsFromConfig(cfg *appconfig.Config) Defaults {
	if cfg == nil {
		return builtinDefaults
	}
	return sanitizeDefaults(defaultsFromRAGConfig(&cfg.RAG), builtinDefaults)
}

func defaultsFromRAGConfig(cfg *appconfig.RAGConfig) Defaults {
	return Defaults{
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		MinChunkSize:   cfg.MinChunkSize,
		TopK:           cfg.TopK,
		MinSourceScore: cfg.MinSourceScore,
	}
}

func computeBuiltinDefaults() Defaults {
	raw := defaultsFromRAGConfig(&appconfig.Default().RAG)
	return sanitizeDefaults(raw, raw)
}

func sanitizeDefaults(in Defaults, fallback Defaults) Defaults {
	out := in
	if out.ChunkSize <= 0 {
		out.ChunkSize = fallback.ChunkSize
	}
	if out.ChunkSize <= 0 {
		out.ChunkSize = 1
	}
	if out.ChunkOverlap < 0 || out.ChunkOverlap >= out.ChunkSize {
		out.ChunkOverlap = validOverlap(fallback.ChunkOverlap, out.ChunkSize)
	}
	if out.MinChunkSize < 0 || out.MinChunkSize > out.ChunkSize {
		out.MinChunkSize = clampInt(fallback.MinChunkSize, 0, out.ChunkSize)
	}
	if out.TopK < 1 || out.TopK > maxRetrievalTopK {
		out.TopK = clampInt(fallback.TopK, 1, maxRetrievalTopK)
	}
	if out.MinSourceScore < MinScoreFloor || out.MinSourceScore > MaxScoreCeiling {
		out.MinSourceScore = clampFloat(fallback.MinSourceScore, MinScoreFloor, MaxScoreCeiling)
	}
	return out
}

func clampInt(value int, lower int, upper int) int {
	if value < lower {
		return lower
	}
	if value > upper {
		return upper
	}
	return value
}

func clampFloat(value float64, lower float64, upper float64) float64 {
	if value < lower {
		return lower
	}
	if value > upper {
		return upper
	}
	return value
}

func validOverlap(overlap int, chunkSize int) int {
	if chunkSize <= 0 || overlap < 0 {
		return 0
	}
	if overlap >= chunkSize {
		return chunkSize - 1
	}
	return overlap
}
