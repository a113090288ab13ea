package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/brunobiangulo/hybridrag/graph"
)

// --- Graph operations ---

// MergeNode creates the node if needed and adds label to its label set.
func (s *Store) MergeNode(ctx context.Context, name, label string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("node name is required")
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := ensureNode(ctx, tx, name); err != nil {
			return err
		}
		if label == "" {
			return nil
		}

		var raw string
		if err := tx.QueryRowContext(ctx, "SELECT labels FROM nodes WHERE name = ?", name).Scan(&raw); err != nil {
			return err
		}
		labels := decodeLabels(raw)
		if slices.Contains(labels, label) {
			return nil
		}
		labels = append(labels, label)
		data, err := json.Marshal(labels)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "UPDATE nodes SET labels = ? WHERE name = ?", string(data), name)
		return err
	})
}

// MergeEdge creates a relationship between two nodes, creating unlabelled
// nodes for names not seen before. Duplicate edges are ignored.
func (s *Store) MergeEdge(ctx context.Context, source, relation, target string) error {
	source, target = strings.TrimSpace(source), strings.TrimSpace(target)
	if source == "" || target == "" || relation == "" {
		return fmt.Errorf("edge requires source, relation and target")
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		srcID, err := ensureNode(ctx, tx, source)
		if err != nil {
			return err
		}
		dstID, err := ensureNode(ctx, tx, target)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO edges (source_id, target_id, relation_type) VALUES (?, ?, ?)
			ON CONFLICT(source_id, target_id, relation_type) DO NOTHING
		`, srcID, dstID, relation)
		return err
	})
}

// Clear deletes every node and edge.
func (s *Store) Clear(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM edges"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM nodes")
		return err
	})
}

// SearchNodes returns nodes whose name contains term, case-insensitively,
// ordered by name.
func (s *Store) SearchNodes(ctx context.Context, term string, limit int) ([]graph.Node, error) {
	folded := strings.ToLower(strings.TrimSpace(term))
	if folded == "" || limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, labels FROM nodes
		WHERE instr(name_folded, ?) > 0
		ORDER BY name
		LIMIT ?
	`, folded, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []graph.Node
	for rows.Next() {
		var n graph.Node
		var raw string
		if err := rows.Scan(&n.Name, &raw); err != nil {
			return nil, err
		}
		n.Labels = decodeLabels(raw)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// NeighborEdges returns the relationships touching any node whose name
// contains term. Edges are undirected and reported from the matched node.
func (s *Store) NeighborEdges(ctx context.Context, term string, limit int) ([]graph.Edge, error) {
	folded := strings.ToLower(strings.TrimSpace(term))
	if folded == "" || limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.name, e.relation_type, m.name, m.labels
		FROM edges e
		JOIN nodes n ON n.id = e.source_id
		JOIN nodes m ON m.id = e.target_id
		WHERE instr(n.name_folded, ?) > 0
		UNION ALL
		SELECT n.name, e.relation_type, m.name, m.labels
		FROM edges e
		JOIN nodes n ON n.id = e.target_id
		JOIN nodes m ON m.id = e.source_id
		WHERE instr(n.name_folded, ?) > 0
		ORDER BY 1, 2, 3
		LIMIT ?
	`, folded, folded, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []graph.Edge
	for rows.Next() {
		var e graph.Edge
		var raw string
		if err := rows.Scan(&e.Source, &e.RelationType, &e.Target, &raw); err != nil {
			return nil, err
		}
		e.TargetLabels = decodeLabels(raw)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func ensureNode(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (name, name_folded, labels) VALUES (?, ?, '[]')
		ON CONFLICT(name) DO NOTHING
	`, name, strings.ToLower(name)); err != nil {
		return 0, fmt.Errorf("merging node %q: %w", name, err)
	}
	var id int64
	err := tx.QueryRowContext(ctx, "SELECT id FROM nodes WHERE name = ?", name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("node %q vanished after merge", name)
	}
	return id, err
}

func decodeLabels(raw string) []string {
	var labels []string
	if raw == "" {
		return labels
	}
	if err := json.Unmarshal([]byte(raw), &labels); err != nil {
		return nil
	}
	return labels
}
