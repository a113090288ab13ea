package ingest

import (
	"strings"

	"github.com/brunobiangulo/hybridrag/catalog"
)

// Document is one page element rendered as text, ready for splitting.
type Document struct {
	Text      string
	SourceURL string
	Type      catalog.ChunkType
}

// Documents renders a page into documents: headings as "<type>: <text>",
// paragraphs and list items verbatim, and tables as header and row lines.
// Blank elements are dropped.
func Documents(p catalog.Page) []Document {
	var docs []Document
	add := func(text string, t catalog.ChunkType) {
		if strings.TrimSpace(text) == "" {
			return
		}
		docs = append(docs, Document{Text: text, SourceURL: p.URL, Type: t})
	}

	for _, h := range p.Headings {
		if strings.TrimSpace(h.Text) == "" {
			continue
		}
		add(h.Type+": "+h.Text, catalog.ChunkHeading)
	}
	for _, b := range p.Paragraphs {
		add(b.Text, catalog.ChunkParagraph)
	}
	for _, b := range p.ListItems {
		add(b.Text, catalog.ChunkListItem)
	}
	for _, t := range p.Tables {
		add(RenderTable(t), catalog.ChunkTable)
	}
	return docs
}

// RenderTable flattens a table to a "Headers:" line and one "Row:" line
// per row.
func RenderTable(t catalog.Table) string {
	var sb strings.Builder
	if len(t.Headers) > 0 {
		sb.WriteString("Headers: ")
		sb.WriteString(strings.Join(t.Headers, " | "))
		sb.WriteString("\n")
	}
	for _, row := range t.Rows {
		sb.WriteString("Row: ")
		sb.WriteString(strings.Join(row, " | "))
		sb.WriteString("\n")
	}
	return sb.String()
}
