// Package store persists pages, chunk embeddings, the entity graph and the
// query log in a single SQLite database with the sqlite-vec extension.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/hybridrag/catalog"
)

func init() {
	sqlite_vec.Auto()
}

// ErrDimensionMismatch is returned when an embedding does not match the
// index dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Page represents a row in the pages table.
type Page struct {
	ID        int64  `json:"id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Hash      string `json:"content_hash"`
	Chunks    int    `json:"chunks"`
	UpdatedAt string `json:"updated_at"`
}

// Store wraps the SQLite database for all hybridrag persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", embeddingDim)
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Page operations ---

// PageHash returns the stored content hash for url.
func (s *Store) PageHash(ctx context.Context, url string) (string, bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, "SELECT content_hash FROM pages WHERE url = ?", url).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// ReplacePage upserts the page row and swaps its chunks and embeddings for
// the given set in one transaction.
func (s *Store) ReplacePage(ctx context.Context, page catalog.PageRecord, chunks []catalog.EmbeddedChunk) error {
	if page.URL == "" {
		return fmt.Errorf("page url is required")
	}
	for i, c := range chunks {
		if len(c.Embedding) != s.embeddingDim {
			return fmt.Errorf("chunk %d: %w: got %d, want %d", i, ErrDimensionMismatch, len(c.Embedding), s.embeddingDim)
		}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pages (url, title, content_hash)
			VALUES (?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET
				title = excluded.title,
				content_hash = excluded.content_hash,
				updated_at = CURRENT_TIMESTAMP
		`, page.URL, page.Title, page.Hash); err != nil {
			return fmt.Errorf("upserting page: %w", err)
		}

		// LastInsertId is stale after the UPDATE branch of an upsert.
		var pageID int64
		if err := tx.QueryRowContext(ctx, "SELECT id FROM pages WHERE url = ?", page.URL).Scan(&pageID); err != nil {
			return err
		}

		if err := deletePageChunks(ctx, tx, pageID); err != nil {
			return err
		}

		chunkStmt, err := tx.PrepareContext(ctx,
			"INSERT INTO chunks (page_id, content, chunk_type, position) VALUES (?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer chunkStmt.Close()

		vecStmt, err := tx.PrepareContext(ctx,
			"INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer vecStmt.Close()

		for _, c := range chunks {
			res, err := chunkStmt.ExecContext(ctx, pageID, c.Chunk.Text, string(c.Chunk.Type), c.Position)
			if err != nil {
				return fmt.Errorf("inserting chunk: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if _, err := vecStmt.ExecContext(ctx, id, serializeFloat32(c.Embedding)); err != nil {
				return fmt.Errorf("inserting embedding: %w", err)
			}
		}
		return nil
	})
}

// DeletePage removes a page with its chunks and embeddings.
func (s *Store) DeletePage(ctx context.Context, url string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var pageID int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM pages WHERE url = ?", url).Scan(&pageID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := deletePageChunks(ctx, tx, pageID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM pages WHERE id = ?", pageID)
		return err
	})
}

// ListPages returns every ingested page ordered by URL.
func (s *Store) ListPages(ctx context.Context) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.url, COALESCE(p.title, ''), p.content_hash, p.updated_at,
			(SELECT COUNT(*) FROM chunks c WHERE c.page_id = p.id)
		FROM pages p ORDER BY p.url
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.URL, &p.Title, &p.Hash, &p.UpdatedAt, &p.Chunks); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// vec0 tables do not take part in foreign key cascades.
func deletePageChunks(ctx context.Context, tx *sql.Tx, pageID int64) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM vec_chunks WHERE chunk_id IN (SELECT id FROM chunks WHERE page_id = ?)", pageID); err != nil {
		return fmt.Errorf("deleting embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE page_id = ?", pageID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

// --- Embedding operations ---

// VectorSearch performs a KNN search returning the top-k nearest chunks,
// most similar first.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int) ([]catalog.Chunk, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(queryEmbedding) != s.embeddingDim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(queryEmbedding), s.embeddingDim)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.distance, c.content, c.chunk_type, p.url
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_id
		JOIN pages p ON p.id = c.page_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []catalog.Chunk
	for rows.Next() {
		var c catalog.Chunk
		var distance float64
		var chunkType string
		if err := rows.Scan(&distance, &c.Text, &chunkType, &c.SourceURL); err != nil {
			return nil, err
		}
		c.Type = catalog.ChunkType(chunkType)
		// Cosine distance to similarity.
		c.Score = 1.0 - distance
		results = append(results, c)
	}
	return results, rows.Err()
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
