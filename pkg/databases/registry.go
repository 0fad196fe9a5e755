package databases

import (
	"context"
	"fmt"

	"github.com/renalworks/nefro/pkg/config"
)

// Point is one vector record to upsert.
type Point struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// Match is one nearest-neighbor result.
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Provider is the uniform interface over vector stores. Namespaces map to
// collections (qdrant, chromem) or index namespaces (pinecone).
type Provider interface {
	Upsert(ctx context.Context, namespace string, points []Point) error

	// Query returns the topK nearest matches by cosine similarity.
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]Match, error)

	Ping(ctx context.Context) error

	Close() error
}

// NewProviderFromConfig constructs the configured vector store provider.
func NewProviderFromConfig(cfg *config.VectorStoreConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vector store config cannot be nil")
	}

	switch cfg.Type {
	case "qdrant":
		return NewQdrantProviderFromConfig(cfg)
	case "pinecone":
		return NewPineconeProviderFromConfig(cfg)
	case "chromem":
		return NewChromemProviderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported vector store type: %s (supported: qdrant, pinecone, chromem)", cfg.Type)
	}
}
