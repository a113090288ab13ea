package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brunobiangulo/hybridrag/graph"
)

// Default caps on graph lookups.
const (
	DefaultMaxDirect    = 5
	DefaultMaxConnected = 10
)

// GraphStore is the read side of a graph store. Both lookups match node
// names by case-insensitive substring and honor limit.
type GraphStore interface {
	SearchNodes(ctx context.Context, term string, limit int) ([]graph.Node, error)
	NeighborEdges(ctx context.Context, term string, limit int) ([]graph.Edge, error)
}

// GraphRetriever looks an entity up in the graph store.
type GraphRetriever struct {
	store        GraphStore
	maxDirect    int
	maxConnected int
}

// NewGraphRetriever creates a retriever capped at maxDirect direct matches
// and maxConnected edges. Caps outside 1..default fall back to the default.
func NewGraphRetriever(s GraphStore, maxDirect, maxConnected int) *GraphRetriever {
	if maxDirect <= 0 || maxDirect > DefaultMaxDirect {
		maxDirect = DefaultMaxDirect
	}
	if maxConnected <= 0 || maxConnected > DefaultMaxConnected {
		maxConnected = DefaultMaxConnected
	}
	return &GraphRetriever{store: s, maxDirect: maxDirect, maxConnected: maxConnected}
}

// Query returns direct matches and one-hop edges for entity. Store errors
// are logged and yield an empty result.
func (r *GraphRetriever) Query(ctx context.Context, entity string) graph.Result {
	res, err := r.query(ctx, entity)
	if err != nil {
		slog.Warn("retrieval: graph source unavailable", "entity", entity, "error", err)
		return graph.Result{}
	}
	return res
}

func (r *GraphRetriever) query(ctx context.Context, entity string) (res graph.Result, err error) {
	if r == nil || r.store == nil || entity == "" {
		return graph.Result{}, nil
	}
	defer func() {
		if p := recover(); p != nil {
			res, err = graph.Result{}, fmt.Errorf("graph store panic: %v", p)
		}
	}()

	nodes, err := r.store.SearchNodes(ctx, entity, r.maxDirect)
	if err != nil {
		return graph.Result{}, fmt.Errorf("searching nodes: %w", err)
	}
	edges, err := r.store.NeighborEdges(ctx, entity, r.maxConnected)
	if err != nil {
		return graph.Result{}, fmt.Errorf("neighbor edges: %w", err)
	}

	if len(nodes) > r.maxDirect {
		nodes = nodes[:r.maxDirect]
	}
	if len(edges) > r.maxConnected {
		edges = edges[:r.maxConnected]
	}
	return graph.Result{DirectMatches: nodes, ConnectedNodes: edges}, nil
}
