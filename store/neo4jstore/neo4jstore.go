// Package neo4jstore serves the entity graph from a Neo4j database.
package neo4jstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/brunobiangulo/hybridrag/graph"
)

// Config holds the connection settings.
type Config struct {
	URI      string `json:"uri" yaml:"uri" mapstructure:"uri"`
	User     string `json:"user" yaml:"user" mapstructure:"user"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`
	Database string `json:"database" yaml:"database" mapstructure:"database"`
}

// Labels and relation types are spliced into Cypher, so they must be plain
// identifiers.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store implements graph reads and writes over a Neo4j driver.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// Open connects to Neo4j and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j at %s: %w", cfg.URI, err)
	}
	return &Store{driver: driver, database: cfg.Database}, nil
}

// Close releases the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// SearchNodes returns nodes whose name contains term, case-insensitively.
func (s *Store) SearchNodes(ctx context.Context, term string, limit int) ([]graph.Node, error) {
	term = strings.TrimSpace(term)
	if term == "" || limit <= 0 {
		return nil, nil
	}
	query := `
		MATCH (n)
		WHERE n.name IS NOT NULL AND toLower(n.name) CONTAINS toLower($entity)
		RETURN n.name AS name, labels(n) AS labels
		ORDER BY name
		LIMIT $limit
	`
	var nodes []graph.Node
	err := s.read(ctx, query, map[string]any{"entity": term, "limit": int64(limit)}, func(rec *neo4j.Record) {
		nodes = append(nodes, graph.Node{
			Name:   getString(rec, "name"),
			Labels: getStrings(rec, "labels"),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("searching nodes: %w", err)
	}
	return nodes, nil
}

// NeighborEdges returns relationships in either direction from nodes whose
// name contains term.
func (s *Store) NeighborEdges(ctx context.Context, term string, limit int) ([]graph.Edge, error) {
	term = strings.TrimSpace(term)
	if term == "" || limit <= 0 {
		return nil, nil
	}
	query := `
		MATCH (n)-[r]-(m)
		WHERE n.name IS NOT NULL AND toLower(n.name) CONTAINS toLower($entity)
		RETURN n.name AS source, type(r) AS relation, m.name AS target, labels(m) AS labels
		ORDER BY source, relation, target
		LIMIT $limit
	`
	var edges []graph.Edge
	err := s.read(ctx, query, map[string]any{"entity": term, "limit": int64(limit)}, func(rec *neo4j.Record) {
		edges = append(edges, graph.Edge{
			Source:       getString(rec, "source"),
			RelationType: getString(rec, "relation"),
			Target:       getString(rec, "target"),
			TargetLabels: getStrings(rec, "labels"),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("fetching neighbor edges: %w", err)
	}
	return edges, nil
}

// MergeNode creates the node if needed and adds label to it.
func (s *Store) MergeNode(ctx context.Context, name, label string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("node name is required")
	}
	query := "MERGE (n {name: $name})"
	if label != "" {
		if !identRe.MatchString(label) {
			return fmt.Errorf("invalid node label %q", label)
		}
		query += " SET n:" + label
	}
	return s.write(ctx, query, map[string]any{"name": name})
}

// MergeEdge creates a relationship between two named nodes.
func (s *Store) MergeEdge(ctx context.Context, source, relation, target string) error {
	source, target = strings.TrimSpace(source), strings.TrimSpace(target)
	if source == "" || target == "" {
		return fmt.Errorf("edge requires source and target")
	}
	if !identRe.MatchString(relation) {
		return fmt.Errorf("invalid relation type %q", relation)
	}
	query := fmt.Sprintf(`
		MERGE (a {name: $source})
		MERGE (b {name: $target})
		MERGE (a)-[:%s]->(b)
	`, relation)
	return s.write(ctx, query, map[string]any{"source": source, "target": target})
}

// Clear deletes every node and relationship.
func (s *Store) Clear(ctx context.Context) error {
	return s.write(ctx, "MATCH (n) DETACH DELETE n", nil)
}

// Counts returns the number of nodes and relationships.
func (s *Store) Counts(ctx context.Context) (nodes, edges int, err error) {
	err = s.read(ctx, `
		CALL { MATCH (n) RETURN count(n) AS nodes }
		CALL { MATCH ()-[r]->() RETURN count(r) AS edges }
		RETURN nodes, edges
	`, nil, func(rec *neo4j.Record) {
		nodes = getInt(rec, "nodes")
		edges = getInt(rec, "edges")
	})
	return nodes, edges, err
}

func (s *Store) read(ctx context.Context, query string, params map[string]any, each func(*neo4j.Record)) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: s.database})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return err
	}
	for result.Next(ctx) {
		each(result.Record())
	}
	return result.Err()
}

func (s *Store) write(ctx context.Context, query string, params map[string]any) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: s.database})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

func getString(rec *neo4j.Record, key string) string {
	val, ok := rec.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getStrings(rec *neo4j.Record, key string) []string {
	val, ok := rec.Get(key)
	if !ok || val == nil {
		return nil
	}
	items, ok := val.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func getInt(rec *neo4j.Record, key string) int {
	val, ok := rec.Get(key)
	if !ok || val == nil {
		return 0
	}
	if n, ok := val.(int64); ok {
		return int(n)
	}
	return 0
}
