package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalworks/nefro/pkg/config"
	"github.com/renalworks/nefro/pkg/databases"
	"github.com/renalworks/nefro/pkg/docstore"
)

type fakeStore struct {
	textDocs  []docstore.Document
	textErr   error
	textCalls int

	scanDocs  []docstore.Document
	scanErr   error
	scanCalls int
	scanLimit int

	byID         map[string]docstore.Document
	getManyCalls int
}

func (f *fakeStore) TextSearch(ctx context.Context, collection, query string, filters map[string]any, limit int) ([]docstore.Document, error) {
	f.textCalls++
	return f.textDocs, f.textErr
}

func (f *fakeStore) FilterScan(ctx context.Context, collection string, filters map[string]any, limit int) ([]docstore.Document, error) {
	f.scanCalls++
	f.scanLimit = limit
	return f.scanDocs, f.scanErr
}

func (f *fakeStore) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	doc, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (f *fakeStore) GetMany(ctx context.Context, collection string, ids []string) ([]docstore.Document, error) {
	f.getManyCalls++
	docs := make([]docstore.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := f.byID[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (f *fakeStore) Upsert(ctx context.Context, doc docstore.Document) error { return nil }
func (f *fakeStore) Delete(ctx context.Context, collection, id string) error { return nil }
func (f *fakeStore) Ping(ctx context.Context) error                          { return nil }
func (f *fakeStore) Close() error                                            { return nil }

type fakeVector struct {
	matches []databases.Match
	err     error
	queries int
	topK    int
}

func (f *fakeVector) Upsert(ctx context.Context, namespace string, points []databases.Point) error {
	return nil
}

func (f *fakeVector) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]databases.Match, error) {
	f.queries++
	f.topK = topK
	return f.matches, f.err
}

func (f *fakeVector) Ping(ctx context.Context) error { return nil }
func (f *fakeVector) Close() error                   { return nil }

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) Dimension() int    { return 3 }
func (f *fakeEmbedder) ModelName() string { return "fake" }
func (f *fakeEmbedder) Close() error      { return nil }

func newTestEngine(store *fakeStore, vector *fakeVector, emb *fakeEmbedder) *Engine {
	return NewEngine(store, vector, emb, &config.RetrievalConfig{
		KeywordWeight:     0.4,
		SemanticWeight:    0.6,
		SemanticOverfetch: 3,
		FallbackFetch:     2,
		CacheSize:         16,
		CacheTTL:          60,
	})
}

func doc(id, title string, score float64) docstore.Document {
	return docstore.Document{ID: id, Title: title, Score: score}
}

func TestEngine_HybridMergeMath(t *testing.T) {
	store := &fakeStore{
		textDocs: []docstore.Document{doc("k1", "low potassium diet", 2.0), doc("k2", "sodium guide", 1.0)},
		byID: map[string]docstore.Document{
			"k1": doc("k1", "low potassium diet", 0),
			"s1": doc("s1", "phosphorus binders", 0),
		},
	}
	vector := &fakeVector{matches: []databases.Match{
		{ID: "k1", Score: 0.8},
		{ID: "s1", Score: 0.4},
	}}
	e := newTestEngine(store, vector, &fakeEmbedder{})

	results, status, err := e.Search(context.Background(), "medical_qa", "potassium", nil, 3)
	require.NoError(t, err)
	assert.Equal(t, SemanticSuccess, status)
	require.Len(t, results, 3)

	// Each stream is normalized by its own maximum before weighting.
	assert.Equal(t, "k1", results[0].DocID)
	assert.InDelta(t, 0.4*1.0+0.6*1.0, results[0].HybridScore, 1e-9)
	assert.Equal(t, "s1", results[1].DocID)
	assert.InDelta(t, 0.6*0.5, results[1].HybridScore, 1e-9)
	assert.Equal(t, "k2", results[2].DocID)
	assert.InDelta(t, 0.4*0.5, results[2].HybridScore, 1e-9)

	assert.Equal(t, 9, vector.topK, "semantic branch overfetches")
}

func TestEngine_ZeroLimitIssuesNoCalls(t *testing.T) {
	store := &fakeStore{}
	vector := &fakeVector{}
	emb := &fakeEmbedder{}
	e := newTestEngine(store, vector, emb)

	results, status, err := e.Search(context.Background(), "medical_qa", "anything", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, SemanticSuccess, status)
	assert.Zero(t, store.textCalls)
	assert.Zero(t, vector.queries)
	assert.Zero(t, emb.calls)
}

func TestEngine_VectorDownDegradesToKeyword(t *testing.T) {
	store := &fakeStore{
		textDocs: []docstore.Document{doc("k1", "diet", 1.5), doc("k2", "sodium", 1.0)},
	}
	vector := &fakeVector{err: errors.New("connection refused")}
	e := newTestEngine(store, vector, &fakeEmbedder{})

	results, status, err := e.Search(context.Background(), "medical_qa", "diet", nil, 2)
	require.NoError(t, err, "a degraded semantic branch must not fail the search")
	assert.Equal(t, SemanticFailed, status)
	require.Len(t, results, 2)
	assert.Equal(t, "k1", results[0].DocID)
}

func TestEngine_KeywordDownContinuesWithSemantic(t *testing.T) {
	store := &fakeStore{
		textErr: errors.New("fts index gone"),
		byID:    map[string]docstore.Document{"s1": doc("s1", "transplant research", 0)},
	}
	vector := &fakeVector{matches: []databases.Match{{ID: "s1", Score: 0.9}}}
	e := newTestEngine(store, vector, &fakeEmbedder{})

	results, status, err := e.Search(context.Background(), "medical_qa", "transplant", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, SemanticSuccess, status)
	require.Len(t, results, 1)
	assert.Equal(t, "s1", results[0].DocID)
}

func TestEngine_BothBranchesDownErrors(t *testing.T) {
	store := &fakeStore{textErr: errors.New("fts index gone")}
	vector := &fakeVector{err: errors.New("connection refused")}
	e := newTestEngine(store, vector, &fakeEmbedder{})

	_, status, err := e.Search(context.Background(), "medical_qa", "anything", nil, 2)
	require.Error(t, err)
	assert.Equal(t, SemanticFailed, status)
}

func TestEngine_AllSemanticHitsFilteredIsPartial(t *testing.T) {
	store := &fakeStore{
		textDocs: []docstore.Document{doc("k1", "dialysis guide", 1.0)},
		byID: map[string]docstore.Document{
			"s1": {ID: "s1", Title: "clinic info", Fields: map[string]any{"audience": "staff"}},
		},
	}
	vector := &fakeVector{matches: []databases.Match{{ID: "s1", Score: 0.9}}}
	e := newTestEngine(store, vector, &fakeEmbedder{})

	results, status, err := e.Search(context.Background(), "medical_qa", "dialysis",
		map[string]any{"audience": "patient"}, 1)
	require.NoError(t, err)
	assert.Equal(t, SemanticPartial, status)
	require.Len(t, results, 1)
	assert.Equal(t, "k1", results[0].DocID, "keyword hits survive a partial semantic branch")
}

func TestEngine_FallbackFillsAndRanksLast(t *testing.T) {
	store := &fakeStore{
		textDocs: []docstore.Document{doc("k1", "diet", 1.0)},
		scanDocs: []docstore.Document{
			doc("k1", "diet", 0), // already present, skipped
			doc("f1", "general info", 0),
			doc("f2", "more info", 0),
		},
	}
	vector := &fakeVector{} // no matches
	e := newTestEngine(store, vector, &fakeEmbedder{})

	results, status, err := e.Search(context.Background(), "medical_qa", "diet", nil, 3)
	require.NoError(t, err)
	assert.Equal(t, SemanticSuccess, status)
	require.Len(t, results, 3)

	assert.Equal(t, "k1", results[0].DocID)
	assert.Equal(t, -1, results[0].FallbackOrder)
	assert.Equal(t, "f1", results[1].DocID)
	assert.Equal(t, 1, results[1].FallbackOrder)
	assert.Equal(t, "f2", results[2].DocID)
	assert.Greater(t, results[0].HybridScore, results[1].HybridScore,
		"every hybrid hit outranks every fallback document")
	assert.Greater(t, results[1].HybridScore, results[2].HybridScore,
		"fallback documents keep their scan order")
	assert.Equal(t, 6, store.scanLimit)
}

func TestEngine_CacheHitSkipsBackends(t *testing.T) {
	store := &fakeStore{textDocs: []docstore.Document{doc("k1", "diet", 1.0)}}
	vector := &fakeVector{}
	emb := &fakeEmbedder{}
	e := newTestEngine(store, vector, emb)

	first, _, err := e.Search(context.Background(), "medical_qa", "Diet", nil, 1)
	require.NoError(t, err)

	// The cache key normalizes case and whitespace.
	cached, _, err := e.Search(context.Background(), "medical_qa", "  DIET ", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, first, cached)
	assert.Equal(t, 1, emb.calls, "embedding is not recomputed on a cache hit")

	stats := e.CacheStats()
	assert.GreaterOrEqual(t, stats.Hits, uint64(1))
}

func TestEngine_CacheKeyFilterOrderIndependent(t *testing.T) {
	a := cacheKey("search", "medical_qa", "diet", map[string]any{"a": 1, "b": 2}, 5)
	b := cacheKey("search", "medical_qa", " DIET ", map[string]any{"b": 2, "a": 1}, 5)
	assert.Equal(t, a, b)

	c := cacheKey("search", "medical_qa", "diet", map[string]any{"a": 1}, 5)
	assert.NotEqual(t, a, c)
}
