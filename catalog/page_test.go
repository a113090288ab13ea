package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mixedDump = `[
  {
    "url": "https://www.madewithnestle.ca/recipe/chocolate-cake",
    "headings": [{"type": "h1", "text": "Chocolate Cake Recipe"}, "Desserts"],
    "paragraphs": ["Ingredients: - flour - sugar", {"text": "Bake for 30 minutes."}],
    "list_items": [{"text": "2 cups flour"}, "1 cup sugar"],
    "tables": [{"headers": ["Nutrient", "Amount"], "rows": [["Calories", "250"]]}],
    "links": [{"text": "Home", "href": "https://www.madewithnestle.ca/"}]
  }
]`

func TestDecodePagesNormalizesMixedEntries(t *testing.T) {
	pages, err := DecodePages(strings.NewReader(mixedDump))
	require.NoError(t, err)
	require.Len(t, pages, 1)

	p := pages[0]
	assert.Equal(t, "https://www.madewithnestle.ca/recipe/chocolate-cake", p.URL)
	assert.Equal(t, []Heading{{Type: "h1", Text: "Chocolate Cake Recipe"}, {Type: "heading", Text: "Desserts"}}, p.Headings)
	assert.Equal(t, []TextBlock{{Text: "Ingredients: - flour - sugar"}, {Text: "Bake for 30 minutes."}}, p.Paragraphs)
	assert.Equal(t, []TextBlock{{Text: "2 cups flour"}, {Text: "1 cup sugar"}}, p.ListItems)
	require.Len(t, p.Tables, 1)
	assert.Equal(t, [][]string{{"Calories", "250"}}, p.Tables[0].Rows)
	assert.False(t, p.IsEmpty())
}

func TestDecodePagesSingleObject(t *testing.T) {
	pages, err := DecodePages(strings.NewReader(`{"url": "https://example.com", "paragraphs": ["x"]}`))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "x", pages[0].Paragraphs[0].Text)
}

func TestDecodePagesRejectsGarbage(t *testing.T) {
	_, err := DecodePages(strings.NewReader(`[{"paragraphs": [42]}]`))
	assert.Error(t, err)
}

func TestLoadPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.json")
	require.NoError(t, os.WriteFile(path, []byte(mixedDump), 0o644))

	pages, err := LoadPages(path)
	require.NoError(t, err)
	assert.Len(t, pages, 1)

	_, err = LoadPages(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestPageIsEmpty(t *testing.T) {
	assert.True(t, Page{URL: "u", Paragraphs: []TextBlock{{Text: "  "}}}.IsEmpty())
	assert.False(t, Page{URL: "u", Tables: []Table{{Headers: []string{"a"}}}}.IsEmpty())
}

func TestChunkTypeValid(t *testing.T) {
	for _, ct := range []ChunkType{ChunkHeading, ChunkParagraph, ChunkListItem, ChunkTable} {
		assert.True(t, ct.Valid(), ct)
	}
	assert.False(t, ChunkType("image").Valid())
}
