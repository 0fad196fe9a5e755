package docstore

import (
	"context"
	"fmt"
)

// Document is one record of a logical collection (hospitals, welfare
// programs, medical Q&A). Fields holds the opaque payload; Score is the
// text-search relevance when produced by TextSearch.
type Document struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Fields     map[string]any `json:"fields,omitempty"`
	Score      float64        `json:"score,omitempty"`
}

// Store is the abstract document store consumed by the retrieval engine.
// Implementations must index the title-like and content-like fields of each
// collection for text search.
type Store interface {
	// TextSearch runs a full-text query over the collection's indexed fields
	// and returns documents with a relevance score, best first.
	TextSearch(ctx context.Context, collection, query string, filters map[string]any, limit int) ([]Document, error)

	// FilterScan returns documents matching the structured filters, ordered
	// by document ID for deterministic fallback ranking.
	FilterScan(ctx context.Context, collection string, filters map[string]any, limit int) ([]Document, error)

	// Get fetches one document by ID.
	Get(ctx context.Context, collection, id string) (*Document, error)

	// GetMany hydrates documents for a set of IDs, preserving input order.
	// Missing IDs are skipped.
	GetMany(ctx context.Context, collection string, ids []string) ([]Document, error)

	// Upsert inserts or replaces a document.
	Upsert(ctx context.Context, doc Document) error

	// Delete removes a document.
	Delete(ctx context.Context, collection, id string) error

	// Ping verifies connectivity for health supervision.
	Ping(ctx context.Context) error

	Close() error
}

// StoreError is the component-scoped error for document store operations.
type StoreError struct {
	Operation  string
	Collection string
	Message    string
	Err        error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[DocumentStore:%s] %s (collection: %s): %v", e.Operation, e.Message, e.Collection, e.Err)
	}
	return fmt.Sprintf("[DocumentStore:%s] %s (collection: %s)", e.Operation, e.Message, e.Collection)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func newStoreError(operation, collection, message string, err error) *StoreError {
	return &StoreError{Operation: operation, Collection: collection, Message: message, Err: err}
}
