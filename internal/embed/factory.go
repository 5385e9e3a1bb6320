package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/bg073/jarvis-rag/internal/config"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses the Ollama HTTP API.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings.
	ProviderStatic ProviderType = "static"
)

// NewEmbedder creates the embedder described by cfg, wrapped in an LRU
// cache unless cfg.CacheSize is 0. An explicitly selected provider that
// is unreachable is an error; there is no silent fallback.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	var embedder Embedder

	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderStatic:
		embedder = NewStaticEmbedder(cfg.Dimensions)

	case ProviderOllama, "":
		oc := DefaultOllamaConfig()
		if cfg.OllamaHost != "" {
			oc.Host = cfg.OllamaHost
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		oc.Dimensions = cfg.Dimensions
		if cfg.BatchSize > 0 {
			oc.BatchSize = cfg.BatchSize
		}
		oc.Timeout = config.Duration(cfg.Timeout, DefaultTimeout)
		oc.RequestsPerSecond = cfg.RequestsPerSecond

		e, err := NewOllamaEmbedder(ctx, oc)
		if err != nil {
			return nil, fmt.Errorf("ollama unavailable: %w", err)
		}
		embedder = e

	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize)
	}
	return embedder, nil
}

// NewModelFromConfig returns a lazily constructed Model for cfg.
func NewModelFromConfig(cfg config.EmbeddingsConfig) *Model {
	return NewModel(func(ctx context.Context) (Embedder, error) {
		return NewEmbedder(ctx, cfg)
	})
}
