package databases

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/renalworks/nefro/pkg/config"
)

type pineconeProvider struct {
	client    *pinecone.Client
	indexName string
}

func NewPineconeProviderFromConfig(cfg *config.VectorStoreConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}
	if cfg.IndexName == "" {
		return nil, fmt.Errorf("index name is required for Pinecone")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	return &pineconeProvider{client: client, indexName: cfg.IndexName}, nil
}

// connect opens an IndexConnection scoped to the given namespace.
func (db *pineconeProvider) connect(ctx context.Context, namespace string) (*pinecone.IndexConnection, error) {
	index, err := db.client.DescribeIndex(ctx, db.indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe index %s: %w", db.indexName, err)
	}

	conn, err := db.client.Index(pinecone.NewIndexConnParams{
		Host:      index.Host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}
	return conn, nil
}

func (db *pineconeProvider) Upsert(ctx context.Context, namespace string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	conn, err := db.connect(ctx, namespace)
	if err != nil {
		return err
	}
	defer conn.Close()

	vectors := make([]*pinecone.Vector, 0, len(points))
	for _, p := range points {
		var metadata *pinecone.Metadata
		if len(p.Metadata) > 0 {
			metadata, err = structpb.NewStruct(p.Metadata)
			if err != nil {
				return fmt.Errorf("failed to convert metadata: %w", err)
			}
		}
		vectors = append(vectors, &pinecone.Vector{
			Id:       p.ID,
			Values:   p.Vector,
			Metadata: metadata,
		})
	}

	if _, err := conn.UpsertVectors(ctx, vectors); err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}
	return nil
}

func (db *pineconeProvider) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]Match, error) {
	conn, err := db.connect(ctx, namespace)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var metadataFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		metadataFilter, err = structpb.NewStruct(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  metadataFilter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query Pinecone: %w", err)
	}

	matches := make([]Match, 0, len(resp.Matches))
	for _, scored := range resp.Matches {
		if scored.Vector == nil {
			continue
		}
		metadata := make(map[string]any)
		if scored.Vector.Metadata != nil {
			metadata = scored.Vector.Metadata.AsMap()
		}
		matches = append(matches, Match{
			ID:       scored.Vector.Id,
			Score:    float64(scored.Score),
			Metadata: metadata,
		})
	}
	return matches, nil
}

func (db *pineconeProvider) Ping(ctx context.Context) error {
	_, err := db.client.DescribeIndex(ctx, db.indexName)
	return err
}

func (db *pineconeProvider) Close() error {
	return nil
}
