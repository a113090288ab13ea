// Package pgstore keeps chunk embeddings in PostgreSQL with the pgvector
// extension.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/brunobiangulo/hybridrag/catalog"
)

// DefaultTable is the chunk table name used when none is configured.
const DefaultTable = "hybridrag_chunks"

var tableRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,50}$`)

// Store is a pgvector-backed chunk index.
type Store struct {
	db     *sql.DB
	chunks string
	pages  string
	dim    int
}

// Open connects to dsn and creates the extension and tables when missing.
func Open(ctx context.Context, dsn, table string, dim int) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dim)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &Store{
		db:     db,
		chunks: pq.QuoteIdentifier(table),
		pages:  pq.QuoteIdentifier(table + "_pages"),
		dim:    dim,
	}
	if err := s.createSchema(ctx, table); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema(ctx context.Context, table string) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			url TEXT PRIMARY KEY,
			title TEXT,
			content_hash TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.pages),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			page_url TEXT NOT NULL REFERENCES %s(url) ON DELETE CASCADE,
			content TEXT NOT NULL,
			chunk_type TEXT NOT NULL,
			position INTEGER NOT NULL,
			embedding vector(%d) NOT NULL
		)`, s.chunks, s.pages, s.dim),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (page_url)",
			pq.QuoteIdentifier(table+"_page_idx"), s.chunks),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)",
			pq.QuoteIdentifier(table+"_embedding_idx"), s.chunks),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating pgvector schema: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// PageHash returns the stored content hash for url.
func (s *Store) PageHash(ctx context.Context, url string) (string, bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT content_hash FROM %s WHERE url = $1", s.pages), url).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// ReplacePage swaps the chunks stored for page in one transaction.
func (s *Store) ReplacePage(ctx context.Context, page catalog.PageRecord, chunks []catalog.EmbeddedChunk) error {
	if page.URL == "" {
		return fmt.Errorf("page url is required")
	}
	for i, c := range chunks {
		if len(c.Embedding) != s.dim {
			return fmt.Errorf("chunk %d: embedding has %d dimensions, want %d", i, len(c.Embedding), s.dim)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (url, title, content_hash) VALUES ($1, $2, $3)
		ON CONFLICT (url) DO UPDATE SET
			title = EXCLUDED.title,
			content_hash = EXCLUDED.content_hash,
			updated_at = now()
	`, s.pages), page.URL, page.Title, page.Hash); err != nil {
		return fmt.Errorf("upserting page: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE page_url = $1", s.chunks), page.URL); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (page_url, content, chunk_type, position, embedding) VALUES ($1, $2, $3, $4, $5)", s.chunks))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, page.URL, c.Chunk.Text, string(c.Chunk.Type), c.Position,
			pgvector.NewVector(c.Embedding)); err != nil {
			return fmt.Errorf("inserting chunk: %w", err)
		}
	}
	return tx.Commit()
}

// DeletePage removes a page and its chunks.
func (s *Store) DeletePage(ctx context.Context, url string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE url = $1", s.pages), url)
	return err
}

// VectorSearch returns the k chunks nearest to embedding by cosine
// distance, most similar first.
func (s *Store) VectorSearch(ctx context.Context, embedding []float32, k int) ([]catalog.Chunk, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("query embedding has %d dimensions, want %d", len(embedding), s.dim)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT content, chunk_type, page_url, 1 - (embedding <=> $1) AS similarity
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, s.chunks), pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close()

	var results []catalog.Chunk
	for rows.Next() {
		var c catalog.Chunk
		var chunkType string
		if err := rows.Scan(&c.Text, &chunkType, &c.SourceURL, &c.Score); err != nil {
			return nil, err
		}
		c.Type = catalog.ChunkType(chunkType)
		results = append(results, c)
	}
	return results, rows.Err()
}

// Counts returns the number of stored pages and chunks.
func (s *Store) Counts(ctx context.Context) (pages, chunks int, err error) {
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT (SELECT COUNT(*) FROM %s), (SELECT COUNT(*) FROM %s)", s.pages, s.chunks)).Scan(&pages, &chunks)
	return pages, chunks, err
}
