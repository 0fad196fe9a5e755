package embedders

import (
	"context"
	"fmt"

	"github.com/renalworks/nefro/pkg/config"
	"github.com/renalworks/nefro/pkg/registry"
)

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	Dimension() int

	ModelName() string

	Close() error
}

type Registry struct {
	*registry.BaseRegistry[Embedder]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Embedder](),
	}
}

func (r *Registry) RegisterEmbedder(name string, embedder Embedder) error {
	if name == "" {
		return fmt.Errorf("embedder name cannot be empty")
	}
	if embedder == nil {
		return fmt.Errorf("embedder cannot be nil")
	}
	return r.Register(name, embedder)
}

// CreateFromConfig builds the configured embedder, wrapping it in the
// two-tier cache when a cache directory is configured.
func CreateFromConfig(cfg *config.EmbedderProviderConfig) (Embedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder config cannot be nil")
	}

	var embedder Embedder
	var err error
	switch cfg.Type {
	case "openai":
		embedder, err = NewOpenAIEmbedderFromConfig(cfg)
	case "ollama":
		embedder, err = NewOllamaEmbedderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder type: %s (supported: openai, ollama)", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheDir != "" {
		return NewCachedEmbedder(embedder, cfg.CacheDir, cfg.CacheSize)
	}
	return embedder, nil
}
