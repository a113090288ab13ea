package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"

	"github.com/brunobiangulo/hybridrag/catalog"
)

// PDFParser extracts one page per PDF page.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) ([]catalog.Page, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	totalPages := reader.NumPage()
	pages := make([]catalog.Page, 0, totalPages)

	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pg := reader.Page(i)
		if pg.V.IsNull() {
			continue
		}

		text, err := pg.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		page := splitPDFPage(text)
		page.URL = FileURL(path, fmt.Sprintf("page=%d", i))
		page.Title = title
		pages = append(pages, page)
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no extractable text in PDF")
	}
	return pages, nil
}

// splitPDFPage classifies lines of extracted text: heading-like lines
// become h2 headings, bullet lines list items, and the rest paragraphs.
func splitPDFPage(text string) catalog.Page {
	var page catalog.Page
	var para []string
	flush := func() {
		if len(para) > 0 {
			page.Paragraphs = append(page.Paragraphs, catalog.TextBlock{Text: strings.Join(para, " ")})
			para = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case isLikelyHeading(trimmed):
			flush()
			page.Headings = append(page.Headings, catalog.Heading{Type: "h2", Text: trimmed})
		case isListLine(trimmed):
			flush()
			if item := strings.TrimSpace(strings.TrimLeft(trimmed, "-*•")); item != "" {
				page.ListItems = append(page.ListItems, catalog.TextBlock{Text: item})
			}
		default:
			para = append(para, trimmed)
		}
	}
	flush()
	return page
}

// isLikelyHeading matches short all-caps lines and recipe section labels
// such as "Ingredients" or "Directions:".
func isLikelyHeading(line string) bool {
	if len(line) > 80 {
		return false
	}
	hasLetter := false
	for _, r := range line {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return false
	}
	if len(line) > 2 && line == strings.ToUpper(line) {
		return true
	}
	lower := strings.ToLower(strings.TrimSuffix(line, ":"))
	switch lower {
	case "ingredients", "directions", "instructions", "method", "preparation", "nutrition", "nutrition facts":
		return true
	}
	return strings.HasPrefix(lower, "how to make ") || strings.HasPrefix(lower, "how to prepare ")
}
