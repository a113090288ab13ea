//go:build cgo

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/brunobiangulo/hybridrag/catalog"
	"github.com/brunobiangulo/hybridrag/graph"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("schema version = %d, want %d", v, len(migrations))
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	s, err := New(filepath.Join(dir, "test.db"), 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestNewRejectsBadDimension(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "x.db"), 0); err == nil {
		t.Fatal("expected error for zero dimension")
	}
}

func TestReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MergeNode(ctx, "KitKat", graph.LabelRecipe); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = New(dbPath, 4)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer s.Close()
	nodes, err := s.SearchNodes(ctx, "kitkat", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected node to survive reopen, got %v", nodes)
	}
}

// ---------------------------------------------------------------------------
// Pages and vectors
// ---------------------------------------------------------------------------

func embedded(text, url string, pos int, vec ...float32) catalog.EmbeddedChunk {
	return catalog.EmbeddedChunk{
		Chunk:     catalog.Chunk{Text: text, SourceURL: url, Type: catalog.ChunkParagraph},
		Position:  pos,
		Embedding: vec,
	}
}

func TestReplacePageAndVectorSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	page := catalog.PageRecord{URL: "https://example.com/kitkat", Title: "KitKat", Hash: "h1"}
	err := s.ReplacePage(ctx, page, []catalog.EmbeddedChunk{
		embedded("KitKat is a wafer bar.", page.URL, 0, 1, 0, 0, 0),
		embedded("Smarties are candy coated.", page.URL, 1, 0, 1, 0, 0),
		embedded("Aero is bubbly chocolate.", page.URL, 2, 0, 0, 1, 0),
	})
	if err != nil {
		t.Fatalf("replace page: %v", err)
	}

	results, err := s.VectorSearch(ctx, []float32{0.9, 0.1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Text != "KitKat is a wafer bar." {
		t.Errorf("nearest = %q, want the KitKat chunk", results[0].Text)
	}
	if results[0].SourceURL != page.URL {
		t.Errorf("source = %q", results[0].SourceURL)
	}
	if results[0].Type != catalog.ChunkParagraph {
		t.Errorf("type = %q", results[0].Type)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("results not ordered by similarity: %v", results)
	}
	if results[0].Score < 0.9 {
		t.Errorf("expected high similarity for near-identical vector, got %f", results[0].Score)
	}
}

func TestReplacePageSwapsChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	page := catalog.PageRecord{URL: "https://example.com/p", Hash: "h1"}

	if err := s.ReplacePage(ctx, page, []catalog.EmbeddedChunk{
		embedded("old one", page.URL, 0, 1, 0, 0, 0),
		embedded("old two", page.URL, 1, 0, 1, 0, 0),
	}); err != nil {
		t.Fatal(err)
	}
	page.Hash = "h2"
	if err := s.ReplacePage(ctx, page, []catalog.EmbeddedChunk{
		embedded("new", page.URL, 0, 1, 0, 0, 0),
	}); err != nil {
		t.Fatal(err)
	}

	stats, err := s.DBStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Pages != 1 || stats.Chunks != 1 || stats.Embeddings != 1 {
		t.Errorf("stats after replace = %+v, want 1 page, 1 chunk, 1 embedding", stats)
	}

	hash, ok, err := s.PageHash(ctx, page.URL)
	if err != nil || !ok || hash != "h2" {
		t.Errorf("PageHash = %q, %v, %v; want h2", hash, ok, err)
	}

	results, err := s.VectorSearch(ctx, []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Text != "new" {
		t.Errorf("expected only the new chunk, got %v", results)
	}
}

func TestReplacePageRejectsWrongDimension(t *testing.T) {
	s := newTestStore(t)
	err := s.ReplacePage(context.Background(), catalog.PageRecord{URL: "u", Hash: "h"},
		[]catalog.EmbeddedChunk{embedded("x", "u", 0, 1, 2)})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, ok, _ := s.PageHash(context.Background(), "u"); ok {
		t.Error("page should not be written when validation fails")
	}
}

func TestPageHashNotFound(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.PageHash(context.Background(), "https://missing")
	if err != nil || ok {
		t.Fatalf("expected not found without error, got ok=%v err=%v", ok, err)
	}
}

func TestDeletePageAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, u := range []string{"https://b", "https://a"} {
		if err := s.ReplacePage(ctx, catalog.PageRecord{URL: u, Hash: "h"},
			[]catalog.EmbeddedChunk{embedded("t", u, 0, 1, 1, 0, 0)}); err != nil {
			t.Fatal(err)
		}
	}

	pages, err := s.ListPages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 || pages[0].URL != "https://a" || pages[0].Chunks != 1 {
		t.Fatalf("unexpected pages: %+v", pages)
	}

	if err := s.DeletePage(ctx, "https://a"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePage(ctx, "https://never"); err != nil {
		t.Fatalf("deleting a missing page should be a no-op: %v", err)
	}
	stats, _ := s.DBStats(ctx)
	if stats.Pages != 1 || stats.Embeddings != 1 {
		t.Errorf("stats after delete = %+v", stats)
	}
}

func TestVectorSearchEdgeCases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.VectorSearch(ctx, []float32{1, 0, 0, 0}, 0)
	if err != nil || res != nil {
		t.Errorf("k=0 should return nothing, got %v %v", res, err)
	}
	res, err = s.VectorSearch(ctx, []float32{1, 0, 0, 0}, 3)
	if err != nil || len(res) != 0 {
		t.Errorf("empty index should return nothing, got %v %v", res, err)
	}
	if _, err := s.VectorSearch(ctx, []float32{1, 0}, 3); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Graph
// ---------------------------------------------------------------------------

func seedGraph(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	for _, n := range []struct{ name, label string }{
		{"Chocolate Cake", graph.LabelRecipe},
		{"Chocolate Chip Cookies", graph.LabelRecipe},
		{"Flour", graph.LabelIngredient},
		{"Cocoa", graph.LabelIngredient},
		{"Dessert", graph.LabelCategory},
	} {
		if err := s.MergeNode(ctx, n.name, n.label); err != nil {
			t.Fatalf("merge node %s: %v", n.name, err)
		}
	}
	for _, e := range [][3]string{
		{"Chocolate Cake", graph.RelHasIngredient, "Flour"},
		{"Chocolate Cake", graph.RelHasIngredient, "Cocoa"},
		{"Chocolate Cake", graph.RelBelongsToCategory, "Dessert"},
		{"Chocolate Chip Cookies", graph.RelHasIngredient, "Flour"},
	} {
		if err := s.MergeEdge(ctx, e[0], e[1], e[2]); err != nil {
			t.Fatalf("merge edge %v: %v", e, err)
		}
	}
}

func TestSearchNodes(t *testing.T) {
	s := newTestStore(t)
	seedGraph(t, s)
	ctx := context.Background()

	nodes, err := s.SearchNodes(ctx, "CHOCOLATE", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 matches, got %v", nodes)
	}
	if nodes[0].Name != "Chocolate Cake" || nodes[0].PrimaryLabel() != graph.LabelRecipe {
		t.Errorf("first match = %+v", nodes[0])
	}

	nodes, _ = s.SearchNodes(ctx, "chocolate", 1)
	if len(nodes) != 1 {
		t.Errorf("limit not applied: %v", nodes)
	}

	nodes, _ = s.SearchNodes(ctx, "  ", 10)
	if len(nodes) != 0 {
		t.Errorf("blank term should match nothing, got %v", nodes)
	}
}

func TestSearchNodesUnicodeFold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.MergeNode(ctx, "Crème Brûlée", graph.LabelRecipe); err != nil {
		t.Fatal(err)
	}
	nodes, err := s.SearchNodes(ctx, "CRÈME", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected unicode case-insensitive match, got %v", nodes)
	}
}

func TestNeighborEdgesBothDirections(t *testing.T) {
	s := newTestStore(t)
	seedGraph(t, s)
	ctx := context.Background()

	edges, err := s.NeighborEdges(ctx, "Flour", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected 2 incoming edges for Flour, got %v", edges)
	}
	for _, e := range edges {
		if e.Source != "Flour" {
			t.Errorf("edge should be reported from the matched node: %+v", e)
		}
		if e.RelationType != graph.RelHasIngredient || e.TargetLabel() != graph.LabelRecipe {
			t.Errorf("unexpected edge %+v", e)
		}
	}

	edges, _ = s.NeighborEdges(ctx, "chocolate cake", 10)
	if len(edges) != 3 {
		t.Fatalf("expected 3 outgoing edges, got %v", edges)
	}
	if edges[0].RelationType != graph.RelBelongsToCategory || edges[0].Target != "Dessert" {
		t.Errorf("edges not ordered: %v", edges)
	}

	edges, _ = s.NeighborEdges(ctx, "chocolate", 2)
	if len(edges) != 2 {
		t.Errorf("limit not applied: %v", edges)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	seedGraph(t, s)
	seedGraph(t, s)
	ctx := context.Background()

	if err := s.MergeNode(ctx, "Flour", graph.LabelCategory); err != nil {
		t.Fatal(err)
	}
	nodes, _ := s.SearchNodes(ctx, "flour", 5)
	if len(nodes) != 1 || len(nodes[0].Labels) != 2 || nodes[0].PrimaryLabel() != graph.LabelIngredient {
		t.Errorf("labels should accumulate in order: %+v", nodes)
	}

	stats, _ := s.DBStats(ctx)
	if stats.Nodes != 5 || stats.Edges != 4 {
		t.Errorf("stats = %+v, want 5 nodes and 4 edges", stats)
	}
}

func TestMergeEdgeCreatesUnlabelledNodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.MergeEdge(ctx, "Aero", "MADE_BY", "Nestlé"); err != nil {
		t.Fatal(err)
	}
	nodes, _ := s.SearchNodes(ctx, "nestlé", 5)
	if len(nodes) != 1 || nodes[0].PrimaryLabel() != "Entity" {
		t.Errorf("expected an unlabelled node, got %+v", nodes)
	}
	if err := s.MergeEdge(ctx, "", "X", "y"); err == nil {
		t.Error("expected error for empty source")
	}
	if err := s.MergeNode(ctx, " ", graph.LabelRecipe); err == nil {
		t.Error("expected error for blank node name")
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	seedGraph(t, s)
	ctx := context.Background()
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	stats, _ := s.DBStats(ctx)
	if stats.Nodes != 0 || stats.Edges != 0 {
		t.Errorf("graph not cleared: %+v", stats)
	}
}

// ---------------------------------------------------------------------------
// Query log
// ---------------------------------------------------------------------------

func TestLogQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.LogQuery(ctx, QueryLog{
		RequestID:     "req-1",
		Query:         "Tell me about 'KitKat'",
		Entity:        "KitKat",
		Answer:        "A wafer bar.",
		Sources:       []string{"https://example.com/kitkat"},
		ModelUsed:     "gpt-4o-mini",
		DirectMatches: 1,
		VectorResults: 3,
		Elapsed:       1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("log query: %v", err)
	}
	if err := s.LogQuery(ctx, QueryLog{Query: "second", Degraded: true}); err != nil {
		t.Fatal(err)
	}

	logs, err := s.RecentQueries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(logs))
	}
	if logs[0].Query != "second" || !logs[0].Degraded || len(logs[0].Sources) != 0 {
		t.Errorf("newest entry = %+v", logs[0])
	}
	first := logs[1]
	if first.RequestID != "req-1" || logs[0].RequestID != "" {
		t.Errorf("request ids = %q, %q", first.RequestID, logs[0].RequestID)
	}
	if first.Entity != "KitKat" || first.VectorResults != 3 || first.Elapsed != 1500*time.Millisecond {
		t.Errorf("oldest entry = %+v", first)
	}
	if len(first.Sources) != 1 || first.Sources[0] != "https://example.com/kitkat" {
		t.Errorf("sources = %v", first.Sources)
	}
}
