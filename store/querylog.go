package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// QueryLog represents a row in the query_log table.
type QueryLog struct {
	ID             int64         `json:"id"`
	RequestID      string        `json:"request_id"`
	Query          string        `json:"query"`
	Entity         string        `json:"entity"`
	Answer         string        `json:"answer"`
	Sources        []string      `json:"sources"`
	ModelUsed      string        `json:"model_used"`
	DirectMatches  int           `json:"direct_matches"`
	ConnectedNodes int           `json:"connected_nodes"`
	VectorResults  int           `json:"vector_results"`
	Degraded       bool          `json:"degraded"`
	Elapsed        time.Duration `json:"elapsed"`
	CreatedAt      string        `json:"created_at"`
}

// LogQuery writes an entry to the query audit log.
func (s *Store) LogQuery(ctx context.Context, q QueryLog) error {
	if q.Sources == nil {
		q.Sources = []string{}
	}
	sourcesJSON, _ := json.Marshal(q.Sources)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_log (request_id, query, entity, answer, sources, model_used, direct_matches, connected_nodes, vector_results, degraded, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, q.RequestID, q.Query, q.Entity, q.Answer, string(sourcesJSON), q.ModelUsed, q.DirectMatches, q.ConnectedNodes,
		q.VectorResults, q.Degraded, q.Elapsed.Milliseconds())
	return err
}

// RecentQueries returns up to n log entries, newest first.
func (s *Store) RecentQueries(ctx context.Context, n int) ([]QueryLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(request_id, ''), query, COALESCE(entity, ''), COALESCE(answer, ''), COALESCE(sources, '[]'),
			COALESCE(model_used, ''), direct_matches, connected_nodes, vector_results,
			degraded, elapsed_ms, created_at
		FROM query_log ORDER BY id DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []QueryLog
	for rows.Next() {
		var q QueryLog
		var sources string
		var elapsedMs int64
		if err := rows.Scan(&q.ID, &q.RequestID, &q.Query, &q.Entity, &q.Answer, &sources, &q.ModelUsed,
			&q.DirectMatches, &q.ConnectedNodes, &q.VectorResults, &q.Degraded, &elapsedMs, &q.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(sources), &q.Sources); err != nil {
			q.Sources = []string{}
		}
		q.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		logs = append(logs, q)
	}
	return logs, rows.Err()
}

// DBStats holds counts of key database objects.
type DBStats struct {
	Pages      int `json:"pages"`
	Chunks     int `json:"chunks"`
	Embeddings int `json:"embeddings"`
	Nodes      int `json:"nodes"`
	Edges      int `json:"edges"`
	Queries    int `json:"queries"`
}

// DBStats returns row counts for every table.
func (s *Store) DBStats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM pages", &stats.Pages},
		{"SELECT COUNT(*) FROM chunks", &stats.Chunks},
		{"SELECT COUNT(*) FROM vec_chunks", &stats.Embeddings},
		{"SELECT COUNT(*) FROM nodes", &stats.Nodes},
		{"SELECT COUNT(*) FROM edges", &stats.Edges},
		{"SELECT COUNT(*) FROM query_log", &stats.Queries},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}
