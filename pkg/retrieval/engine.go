package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/renalworks/nefro/pkg/config"
	"github.com/renalworks/nefro/pkg/databases"
	"github.com/renalworks/nefro/pkg/docstore"
	"github.com/renalworks/nefro/pkg/embedders"
	"github.com/renalworks/nefro/pkg/logger"
)

// Engine merges keyword and semantic search over one document collection.
// The keyword branch queries the full-text index, the semantic branch embeds
// the query and hits the vector store, and a structured fallback scan fills
// in when both under-produce.
type Engine struct {
	store    docstore.Store
	vector   databases.Provider
	embedder embedders.Embedder

	keywordWeight  float64
	semanticWeight float64
	overfetch      int
	fallbackFetch  int

	cache  *queryCache
	logger *slog.Logger
}

func NewEngine(store docstore.Store, vector databases.Provider, embedder embedders.Embedder, cfg *config.RetrievalConfig) *Engine {
	return &Engine{
		store:          store,
		vector:         vector,
		embedder:       embedder,
		keywordWeight:  cfg.KeywordWeight,
		semanticWeight: cfg.SemanticWeight,
		overfetch:      cfg.SemanticOverfetch,
		fallbackFetch:  cfg.FallbackFetch,
		cache:          newQueryCache(cfg.CacheSize, time.Duration(cfg.CacheTTL)*time.Second),
		logger:         logger.GetLogger(),
	}
}

// Search returns up to limit results ranked by hybrid score, plus the
// status of the semantic branch. A failed semantic branch degrades the
// search instead of failing it; the search errors only when every branch
// is unavailable.
func (e *Engine) Search(ctx context.Context, collection, query string, filters map[string]any, limit int) ([]SearchResult, SemanticStatus, error) {
	if limit <= 0 {
		return []SearchResult{}, SemanticSuccess, nil
	}

	key := cacheKey("search", collection, query, filters, limit)
	if results, status, ok := e.cache.get(key); ok {
		return results, status, nil
	}

	var (
		keywordDocs  []docstore.Document
		keywordErr   error
		semanticDocs []docstore.Document
		semStatus    SemanticStatus
	)

	var g errgroup.Group
	g.Go(func() error {
		keywordDocs, keywordErr = e.store.TextSearch(ctx, collection, query, filters, limit)
		return nil
	})
	g.Go(func() error {
		semanticDocs, semStatus = e.semanticSearch(ctx, collection, query, filters, limit)
		return nil
	})
	g.Wait()

	if keywordErr != nil {
		if semStatus == SemanticFailed {
			return nil, SemanticFailed, fmt.Errorf("search unavailable for collection %s: %w", collection, keywordErr)
		}
		e.logger.Warn("keyword search failed, continuing with semantic results",
			"collection", collection, "error", keywordErr)
		keywordDocs = nil
	}
	if semStatus != SemanticSuccess {
		e.logger.Warn("semantic search degraded",
			"collection", collection, "status", string(semStatus))
	}

	merged := e.merge(keywordDocs, semanticDocs)

	if len(merged) < limit {
		fallbackDocs, err := e.store.FilterScan(ctx, collection, filters, e.fallbackFetch*limit)
		if err != nil {
			e.logger.Warn("fallback scan failed", "collection", collection, "error", err)
		} else {
			merged = appendFallback(merged, fallbackDocs)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].HybridScore != merged[j].HybridScore {
			return merged[i].HybridScore > merged[j].HybridScore
		}
		return merged[i].DocID < merged[j].DocID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}

	e.cache.put(key, merged, semStatus)
	return merged, semStatus, nil
}

// semanticSearch embeds the query, overfetches nearest neighbors and
// hydrates them from the document store. Structured filters are applied
// after hydration because the vector store cannot enforce them precisely.
func (e *Engine) semanticSearch(ctx context.Context, collection, query string, filters map[string]any, limit int) ([]docstore.Document, SemanticStatus) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.logger.Warn("query embedding failed", "collection", collection, "error", err)
		return nil, SemanticFailed
	}

	matches, err := e.vector.Query(ctx, collection, vec, e.overfetch*limit, nil)
	if err != nil {
		e.logger.Warn("vector query failed", "collection", collection, "error", err)
		return nil, SemanticFailed
	}
	if len(matches) == 0 {
		return nil, SemanticSuccess
	}

	ids := make([]string, 0, len(matches))
	scores := make(map[string]float64, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
		scores[m.ID] = m.Score
	}

	docs, err := e.store.GetMany(ctx, collection, ids)
	if err != nil {
		e.logger.Warn("semantic hydration failed", "collection", collection, "error", err)
		return nil, SemanticFailed
	}

	filtered := make([]docstore.Document, 0, len(docs))
	for _, doc := range docs {
		if !docstore.MatchesFilters(doc, filters) {
			continue
		}
		doc.Score = scores[doc.ID]
		filtered = append(filtered, doc)
	}

	if len(filtered) == 0 {
		return nil, SemanticPartial
	}
	return filtered, SemanticSuccess
}

// merge normalizes each stream by its own maximum and combines scores per
// unique document id.
func (e *Engine) merge(keywordDocs, semanticDocs []docstore.Document) []SearchResult {
	maxKeyword := maxScore(keywordDocs)
	maxSemantic := maxScore(semanticDocs)

	byID := make(map[string]*SearchResult)
	order := make([]string, 0, len(keywordDocs)+len(semanticDocs))

	for _, doc := range keywordDocs {
		score := normalize(doc.Score, maxKeyword)
		byID[doc.ID] = &SearchResult{
			DocID:         doc.ID,
			Payload:       doc,
			KeywordScore:  score,
			FallbackOrder: -1,
		}
		order = append(order, doc.ID)
	}
	for _, doc := range semanticDocs {
		score := normalize(doc.Score, maxSemantic)
		if r, ok := byID[doc.ID]; ok {
			r.SemanticScore = score
			continue
		}
		byID[doc.ID] = &SearchResult{
			DocID:         doc.ID,
			Payload:       doc,
			SemanticScore: score,
			FallbackOrder: -1,
		}
		order = append(order, doc.ID)
	}

	results := make([]SearchResult, 0, len(order))
	for _, id := range order {
		r := byID[id]
		r.HybridScore = e.keywordWeight*r.KeywordScore + e.semanticWeight*r.SemanticScore
		results = append(results, *r)
	}
	return results
}

// appendFallback adds fallback-only documents with a small score derived
// from their scan position so they rank after every hybrid hit.
func appendFallback(merged []SearchResult, fallbackDocs []docstore.Document) []SearchResult {
	seen := make(map[string]struct{}, len(merged))
	for _, r := range merged {
		seen[r.DocID] = struct{}{}
	}

	for i, doc := range fallbackDocs {
		if _, ok := seen[doc.ID]; ok {
			continue
		}
		merged = append(merged, SearchResult{
			DocID:         doc.ID,
			Payload:       doc,
			FallbackOrder: i,
			HybridScore:   fallbackScore(i),
		})
	}
	return merged
}

func fallbackScore(order int) float64 {
	return 0.001 / float64(1+order)
}

func maxScore(docs []docstore.Document) float64 {
	max := 0.0
	for _, doc := range docs {
		if doc.Score > max {
			max = doc.Score
		}
	}
	return max
}

func normalize(score, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return score / max
}

// IndexDocument writes a document to both stores: the full record into the
// document store and its embedding into the vector store under the
// collection namespace.
func (e *Engine) IndexDocument(ctx context.Context, doc docstore.Document) error {
	if err := e.store.Upsert(ctx, doc); err != nil {
		return err
	}

	vec, err := e.embedder.Embed(ctx, doc.Title+"\n"+doc.Content)
	if err != nil {
		return fmt.Errorf("failed to embed document %s: %w", doc.ID, err)
	}

	metadata := map[string]any{"title": doc.Title}
	for k, v := range doc.Fields {
		metadata[k] = v
	}
	return e.vector.Upsert(ctx, doc.Collection, []databases.Point{{
		ID:       doc.ID,
		Vector:   vec,
		Metadata: metadata,
	}})
}

// CacheStats exposes query cache counters.
func (e *Engine) CacheStats() QueryCacheStats {
	return e.cache.stats()
}

func cacheKey(method, collection, query string, filters map[string]any, limit int) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%d", method, collection, strings.ToLower(strings.TrimSpace(query)), limit)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, filters[k])
	}
	return b.String()
}
