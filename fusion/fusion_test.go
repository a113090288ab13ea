package fusion

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/brunobiangulo/hybridrag/catalog"
	"github.com/brunobiangulo/hybridrag/graph"
)

func cakeGraph() graph.Result {
	return graph.Result{
		DirectMatches: []graph.Node{
			{Name: "Chocolate Cake", Labels: []string{"Recipe"}},
			{Name: "Chocolate Chips", Labels: []string{"Ingredient", "Product"}},
		},
		ConnectedNodes: []graph.Edge{
			{Source: "Chocolate Cake", RelationType: "HAS_INGREDIENT", Target: "Cocoa", TargetLabels: []string{"Ingredient"}},
			{Source: "Chocolate Cake", RelationType: "BELONGS_TO_CATEGORY", Target: "Desserts", TargetLabels: []string{"Category"}},
		},
	}
}

func chunks(texts ...string) []catalog.Chunk {
	out := make([]catalog.Chunk, len(texts))
	for i, t := range texts {
		out[i] = catalog.Chunk{Text: t, SourceURL: fmt.Sprintf("https://www.madewithnestle.ca/p/%d", i), Type: catalog.ChunkParagraph}
	}
	return out
}

func TestFuseSingleDirectMatch(t *testing.T) {
	g := graph.Result{DirectMatches: []graph.Node{{Name: "Chocolate Cake", Labels: []string{"Recipe"}}}}
	got := Fuse(g, nil, DefaultMaxChars).String()
	assert.Equal(t, "Direct matches found:\n  - Recipe: Chocolate Cake", got)
}

func TestFuseEmpty(t *testing.T) {
	c := Fuse(graph.Result{}, nil, DefaultMaxChars)
	assert.Equal(t, "", c.String())
	assert.True(t, c.Empty())
	assert.Equal(t, []string{}, c.Sources())

	// Blank chunks do not count as content.
	assert.True(t, Fuse(graph.Result{}, chunks("  ", "\n"), 100).Empty())
}

func TestFuseFullLayout(t *testing.T) {
	got := Fuse(cakeGraph(), chunks("Chocolate cake is a dessert.", "Bake at 350F."), 0).String()
	want := "Direct matches found:\n" +
		"  - Recipe: Chocolate Cake\n" +
		"  - Ingredient: Chocolate Chips\n" +
		"\n" +
		"Related information:\n" +
		"  - Chocolate Cake Has ingredient Cocoa (Ingredient)\n" +
		"  - Chocolate Cake Belongs to category Desserts (Category)\n" +
		"\n" +
		"Chocolate cake is a dessert.\n" +
		"\n" +
		"Bake at 350F."
	assert.Equal(t, want, got)
}

func TestFuseConnectedOnly(t *testing.T) {
	g := graph.Result{ConnectedNodes: []graph.Edge{{Source: "Aero", RelationType: "MADE_BY", Target: "Nestlé"}}}
	assert.Equal(t, "Related information:\n  - Aero Made by Nestlé (Entity)", Fuse(g, nil, 0).String())
}

func TestFuseVectorOnly(t *testing.T) {
	assert.Equal(t, "one\n\ntwo", Fuse(graph.Result{}, chunks(" one ", "two\n"), 0).String())
}

func TestFuseSectionHeaders(t *testing.T) {
	g := graph.Result{DirectMatches: []graph.Node{{Name: "KitKat", Labels: []string{"Product"}}}}
	got := Fuser{SectionHeaders: true}.Fuse(g, chunks("Wafer bar.")).String()
	assert.Equal(t, "Graph Knowledge:\nDirect matches found:\n  - Product: KitKat\n\nText Knowledge:\nWafer bar.", got)
}

func TestFuseDropsVectorChunksFirst(t *testing.T) {
	g := cakeGraph()
	graphOnly := Fuse(g, nil, 0).String()
	all := chunks("first chunk", "second chunk", "third chunk")

	// Room for the graph block and the first chunk only.
	budget := utf8.RuneCountInString(graphOnly) + len("\n\nfirst chunk")
	c := Fuse(g, all, budget)
	assert.Equal(t, graphOnly+"\n\nfirst chunk", c.String())
	assert.Len(t, c.Chunks(), 1)
	assert.Equal(t, 2, c.Dropped())
	assert.Equal(t, []string{"https://www.madewithnestle.ca/p/0"}, c.Sources())

	// Exactly the graph block: every chunk goes, graph untouched.
	c = Fuse(g, all, utf8.RuneCountInString(graphOnly))
	assert.Equal(t, graphOnly, c.String())
	assert.Empty(t, c.Chunks())
}

func TestFuseTruncatesConnectedBeforeDirect(t *testing.T) {
	g := cakeGraph()
	directOnly := Fuse(graph.Result{DirectMatches: g.DirectMatches}, nil, 0).String()

	c := Fuse(g, chunks("text"), utf8.RuneCountInString(directOnly))
	assert.Equal(t, directOnly, c.String())

	// One related line still fits.
	oneEdge := Fuse(graph.Result{DirectMatches: g.DirectMatches, ConnectedNodes: g.ConnectedNodes[:1]}, nil, 0).String()
	c = Fuse(g, nil, utf8.RuneCountInString(oneEdge)+3)
	assert.Equal(t, oneEdge, c.String())

	// Below the direct block, direct lines are dropped from the end.
	c = Fuse(g, nil, len("Direct matches found:\n  - Recipe: Chocolate Cake"))
	assert.Equal(t, "Direct matches found:\n  - Recipe: Chocolate Cake", c.String())

	c = Fuse(g, nil, 5)
	assert.Equal(t, "", c.String())
}

func TestFuseNeverExceedsBudget(t *testing.T) {
	g := cakeGraph()
	all := chunks(strings.Repeat("crème brûlée ", 40), "short", strings.Repeat("x", 300), "tail")
	for budget := 1; budget < 1200; budget += 7 {
		c := Fuse(g, all, budget)
		out := c.String()
		assert.LessOrEqual(t, utf8.RuneCountInString(out), budget, "budget %d", budget)

		// Graph lines are never cut: every rendered line is a whole line.
		full := Fuse(g, all, 0).String()
		for _, line := range strings.Split(out, "\n") {
			assert.Contains(t, strings.Split(full, "\n"), line)
		}

		// While any chunk survives, the graph block is intact.
		if len(c.Chunks()) > 0 {
			assert.True(t, strings.HasPrefix(out, Fuse(g, nil, 0).String()))
		}
	}
}

func TestFuseKeepsGraphLinesWhole(t *testing.T) {
	g := graph.Result{DirectMatches: []graph.Node{{Name: "Multi\nLine Cake", Labels: []string{"Recipe"}}}}
	assert.Equal(t, "Direct matches found:\n  - Recipe: Multi Line Cake", Fuse(g, nil, 0).String())
}

func TestSourcesDeduplicated(t *testing.T) {
	cs := []catalog.Chunk{
		{Text: "a", SourceURL: "https://x/1"},
		{Text: "b", SourceURL: "https://x/2"},
		{Text: "c", SourceURL: "https://x/1"},
		{Text: "d"},
	}
	assert.Equal(t, []string{"https://x/1", "https://x/2"}, Fuse(graph.Result{}, cs, 0).Sources())
}

func TestHumanizeRelation(t *testing.T) {
	tests := map[string]string{
		"HAS_INGREDIENT":      "Has ingredient",
		"BELONGS_TO_CATEGORY": "Belongs to category",
		"made_by":             "Made by",
		"X":                   "X",
		"":                    "",
		"élaboré_par":         "Élaboré par",
	}
	for in, want := range tests {
		assert.Equal(t, want, HumanizeRelation(in), in)
	}
}
