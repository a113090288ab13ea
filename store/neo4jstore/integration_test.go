//go:build integration

package neo4jstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/hybridrag/graph"
)

// Runs against a live server named by NEO4J_TEST_URI. The database is
// cleared.
func TestNeo4jRoundTrip(t *testing.T) {
	uri := os.Getenv("NEO4J_TEST_URI")
	if uri == "" {
		t.Skip("NEO4J_TEST_URI not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, Config{
		URI:      uri,
		User:     os.Getenv("NEO4J_TEST_USER"),
		Password: os.Getenv("NEO4J_TEST_PASSWORD"),
	})
	require.NoError(t, err)
	defer s.Close(ctx)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.MergeNode(ctx, "Chocolate Cake", graph.LabelRecipe))
	require.NoError(t, s.MergeNode(ctx, "Flour", graph.LabelIngredient))
	require.NoError(t, s.MergeEdge(ctx, "Chocolate Cake", graph.RelHasIngredient, "Flour"))
	require.NoError(t, s.MergeEdge(ctx, "Chocolate Cake", graph.RelHasIngredient, "Flour"))

	nodes, err := s.SearchNodes(ctx, "chocolate", 5)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, graph.LabelRecipe, nodes[0].PrimaryLabel())

	edges, err := s.NeighborEdges(ctx, "FLOUR", 5)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "Flour", edges[0].Source)
	assert.Equal(t, "Chocolate Cake", edges[0].Target)

	n, e, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, e)
}
