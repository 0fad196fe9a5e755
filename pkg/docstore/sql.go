package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/renalworks/nefro/pkg/config"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	createDocumentsTableSQL = `
CREATE TABLE IF NOT EXISTS documents (
    collection VARCHAR(255) NOT NULL,
    doc_id VARCHAR(255) NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    fields TEXT,
    PRIMARY KEY (collection, doc_id)
);

CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
`

	createSQLiteFTSSQL = `
CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
    collection UNINDEXED,
    doc_id UNINDEXED,
    title,
    content
);
`

	createPostgresFTSSQL = `
CREATE INDEX IF NOT EXISTS idx_documents_fts ON documents
USING GIN (to_tsvector('simple', title || ' ' || content));
`
)

// SQLStore implements Store over SQLite (FTS5) or Postgres (tsvector).
// Connect attempts are serialized by a per-store mutex; the pool is bounded
// by min/max idle and open connections.
type SQLStore struct {
	db      *sql.DB
	dialect string
	mu      sync.Mutex
}

// NewSQLStore opens the configured database, bounds its pool and
// initializes the schema.
func NewSQLStore(cfg *config.DocumentStoreConfig) (*SQLStore, error) {
	driver := cfg.Driver
	dsn := cfg.DSN
	if driver == "sqlite" {
		driver = "sqlite3"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, newStoreError("NewSQLStore", "", "failed to open database", err)
	}

	db.SetMaxIdleConns(cfg.MinPool)
	db.SetMaxOpenConns(cfg.MaxPool)

	s := &SQLStore{db: db, dialect: cfg.Driver}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(createDocumentsTableSQL); err != nil {
		return newStoreError("initSchema", "", "failed to create documents table", err)
	}

	ftsSQL := createSQLiteFTSSQL
	if s.dialect == "postgres" {
		ftsSQL = createPostgresFTSSQL
	}
	if _, err := s.db.Exec(ftsSQL); err != nil {
		return newStoreError("initSchema", "", "failed to create text index", err)
	}
	return nil
}

func (s *SQLStore) TextSearch(ctx context.Context, collection, query string, filters map[string]any, limit int) ([]Document, error) {
	if limit <= 0 {
		return []Document{}, nil
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []Document{}, nil
	}

	var rows *sql.Rows
	var err error
	if s.dialect == "postgres" {
		rows, err = s.db.QueryContext(ctx, `
SELECT d.doc_id, d.title, d.content, d.fields,
       ts_rank(to_tsvector('simple', d.title || ' ' || d.content), plainto_tsquery('simple', $1)) AS rank
FROM documents d
WHERE d.collection = $2
  AND to_tsvector('simple', d.title || ' ' || d.content) @@ plainto_tsquery('simple', $1)
ORDER BY rank DESC
LIMIT $3`, query, collection, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
SELECT f.doc_id, d.title, d.content, d.fields, -bm25(documents_fts) AS rank
FROM documents_fts f
JOIN documents d ON d.collection = f.collection AND d.doc_id = f.doc_id
WHERE documents_fts MATCH ? AND f.collection = ?
ORDER BY rank DESC
LIMIT ?`, ftsQuery(query), collection, limit)
	}
	if err != nil {
		return nil, newStoreError("TextSearch", collection, "text query failed", err)
	}
	defer rows.Close()

	docs, err := s.scanDocuments(rows, collection)
	if err != nil {
		return nil, err
	}
	return applyFilters(docs, filters), nil
}

func (s *SQLStore) FilterScan(ctx context.Context, collection string, filters map[string]any, limit int) ([]Document, error) {
	if limit <= 0 {
		return []Document{}, nil
	}

	// Filters are matched in memory against the JSON fields so both dialects
	// behave identically. The scan is bounded but generous because filters
	// discard rows after the fact.
	fetch := limit * 10
	placeholder := "?"
	if s.dialect == "postgres" {
		placeholder = "$1"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT doc_id, title, content, fields, 0 AS rank
FROM documents
WHERE collection = %s
ORDER BY doc_id
LIMIT %d`, placeholder, fetch), collection)
	if err != nil {
		return nil, newStoreError("FilterScan", collection, "filter scan failed", err)
	}
	defer rows.Close()

	docs, err := s.scanDocuments(rows, collection)
	if err != nil {
		return nil, err
	}

	docs = applyFilters(docs, filters)
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *SQLStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	q := `SELECT doc_id, title, content, fields FROM documents WHERE collection = ? AND doc_id = ?`
	if s.dialect == "postgres" {
		q = `SELECT doc_id, title, content, fields FROM documents WHERE collection = $1 AND doc_id = $2`
	}

	var doc Document
	var fieldsJSON sql.NullString
	err := s.db.QueryRowContext(ctx, q, collection, id).Scan(&doc.ID, &doc.Title, &doc.Content, &fieldsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, newStoreError("Get", collection, fmt.Sprintf("failed to fetch %s", id), err)
	}

	doc.Collection = collection
	doc.Fields = decodeFields(fieldsJSON)
	return &doc, nil
}

func (s *SQLStore) GetMany(ctx context.Context, collection string, ids []string) ([]Document, error) {
	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.Get(ctx, collection, id)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			docs = append(docs, *doc)
		}
	}
	return docs, nil
}

func (s *SQLStore) Upsert(ctx context.Context, doc Document) error {
	if doc.ID == "" || doc.Collection == "" {
		return newStoreError("Upsert", doc.Collection, "document ID and collection are required", nil)
	}

	fieldsJSON, err := json.Marshal(doc.Fields)
	if err != nil {
		return newStoreError("Upsert", doc.Collection, "failed to encode fields", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newStoreError("Upsert", doc.Collection, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if s.dialect == "postgres" {
		_, err = tx.ExecContext(ctx, `
INSERT INTO documents (collection, doc_id, title, content, fields)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (collection, doc_id)
DO UPDATE SET title = EXCLUDED.title, content = EXCLUDED.content, fields = EXCLUDED.fields`,
			doc.Collection, doc.ID, doc.Title, doc.Content, string(fieldsJSON))
		if err != nil {
			return newStoreError("Upsert", doc.Collection, "insert failed", err)
		}
	} else {
		_, err = tx.ExecContext(ctx, `
INSERT OR REPLACE INTO documents (collection, doc_id, title, content, fields)
VALUES (?, ?, ?, ?, ?)`,
			doc.Collection, doc.ID, doc.Title, doc.Content, string(fieldsJSON))
		if err != nil {
			return newStoreError("Upsert", doc.Collection, "insert failed", err)
		}
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM documents_fts WHERE collection = ? AND doc_id = ?`,
			doc.Collection, doc.ID); err != nil {
			return newStoreError("Upsert", doc.Collection, "fts cleanup failed", err)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO documents_fts (collection, doc_id, title, content) VALUES (?, ?, ?, ?)`,
			doc.Collection, doc.ID, doc.Title, doc.Content); err != nil {
			return newStoreError("Upsert", doc.Collection, "fts insert failed", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return newStoreError("Upsert", doc.Collection, "commit failed", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dialect == "postgres" {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = $1 AND doc_id = $2`, collection, id)
		if err != nil {
			return newStoreError("Delete", collection, fmt.Sprintf("failed to delete %s", id), err)
		}
		return nil
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND doc_id = ?`, collection, id); err != nil {
		return newStoreError("Delete", collection, fmt.Sprintf("failed to delete %s", id), err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents_fts WHERE collection = ? AND doc_id = ?`, collection, id); err != nil {
		return newStoreError("Delete", collection, "fts cleanup failed", err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) scanDocuments(rows *sql.Rows, collection string) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var doc Document
		var fieldsJSON sql.NullString
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &fieldsJSON, &doc.Score); err != nil {
			return nil, newStoreError("scan", collection, "row scan failed", err)
		}
		doc.Collection = collection
		doc.Fields = decodeFields(fieldsJSON)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, newStoreError("scan", collection, "row iteration failed", err)
	}
	return docs, nil
}

func decodeFields(fieldsJSON sql.NullString) map[string]any {
	if !fieldsJSON.Valid || fieldsJSON.String == "" {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(fieldsJSON.String), &fields); err != nil {
		return nil
	}
	return fields
}

// applyFilters matches documents against structured predicates in memory.
// Values compare loosely through string formatting because JSON round-trips
// numbers as float64.
func applyFilters(docs []Document, filters map[string]any) []Document {
	if len(filters) == 0 {
		return docs
	}

	filtered := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if MatchesFilters(doc, filters) {
			filtered = append(filtered, doc)
		}
	}
	return filtered
}

// MatchesFilters reports whether a document satisfies every predicate.
func MatchesFilters(doc Document, filters map[string]any) bool {
	for key, want := range filters {
		got, ok := doc.Fields[key]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

// ftsQuery quotes each term so FTS5 treats punctuation-bearing input
// literally instead of as query syntax.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, ``)+`"`)
	}
	return strings.Join(quoted, " ")
}
