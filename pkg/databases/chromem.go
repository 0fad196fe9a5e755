package databases

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/renalworks/nefro/pkg/config"
)

// chromemProvider is an in-process vector store used for development and
// tests. Vectors are supplied externally, so the collection embedding
// function is never invoked.
type chromemProvider struct {
	db          *chromem.DB
	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

func NewChromemProviderFromConfig(cfg *config.VectorStoreConfig) (Provider, error) {
	var db *chromem.DB
	var err error
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem database: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &chromemProvider{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (db *chromemProvider) collection(namespace string) (*chromem.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if col, ok := db.collections[namespace]; ok {
		return col, nil
	}

	col, err := db.db.GetOrCreateCollection(namespace, nil, func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embeddings must be supplied externally")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", namespace, err)
	}
	db.collections[namespace] = col
	return col, nil
}

func (db *chromemProvider) Upsert(ctx context.Context, namespace string, points []Point) error {
	col, err := db.collection(namespace)
	if err != nil {
		return err
	}

	for _, p := range points {
		metadata := make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			metadata[k] = fmt.Sprintf("%v", v)
		}
		err := col.AddDocument(ctx, chromem.Document{
			ID:        p.ID,
			Metadata:  metadata,
			Embedding: p.Vector,
		})
		if err != nil {
			return fmt.Errorf("failed to add document %s: %w", p.ID, err)
		}
	}
	return nil
}

func (db *chromemProvider) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]Match, error) {
	col, err := db.collection(namespace)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection size.
	count := col.Count()
	if count == 0 {
		return []Match{}, nil
	}
	if topK > count {
		topK = count
	}

	where := make(map[string]string, len(filter))
	for k, v := range filter {
		where[k] = fmt.Sprintf("%v", v)
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", namespace, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		metadata := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		matches = append(matches, Match{
			ID:       r.ID,
			Score:    float64(r.Similarity),
			Metadata: metadata,
		})
	}
	return matches, nil
}

func (db *chromemProvider) Ping(ctx context.Context) error {
	return nil
}

func (db *chromemProvider) Close() error {
	return nil
}
