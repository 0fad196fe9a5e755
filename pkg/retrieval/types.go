package retrieval

import "github.com/renalworks/nefro/pkg/docstore"

// SemanticStatus reports the outcome of the semantic branch of a search.
type SemanticStatus string

const (
	// SemanticSuccess means the vector store answered and at least one
	// match survived structured filtering (or there were no matches).
	SemanticSuccess SemanticStatus = "success"

	// SemanticPartial means the vector store returned matches but every
	// one was removed by structured filtering.
	SemanticPartial SemanticStatus = "partial"

	// SemanticFailed means the vector layer was unreachable or the query
	// could not be embedded.
	SemanticFailed SemanticStatus = "failed"
)

// SearchResult is one merged hit. Either the hybrid score combines the
// normalized keyword and semantic scores, or the document came only from
// the structured fallback and carries a small order-based score; never both.
type SearchResult struct {
	DocID         string            `json:"doc_id"`
	Payload       docstore.Document `json:"payload"`
	KeywordScore  float64           `json:"keyword_score"`
	SemanticScore float64           `json:"semantic_score"`
	FallbackOrder int               `json:"fallback_order"` // -1 when not from fallback
	HybridScore   float64           `json:"hybrid_score"`
}
