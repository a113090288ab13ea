package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brunobiangulo/hybridrag/catalog"
)

// TextParser handles plain text and markdown files. Markdown "#" lines
// become headings and "-", "*" or "•" lines become list items.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md", "markdown"} }

func (p *TextParser) Parse(ctx context.Context, path string) ([]catalog.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}
	page := ParseText(string(data))
	page.URL = FileURL(path, "")
	if page.Title == "" {
		page.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return []catalog.Page{page}, nil
}

// ParseText splits text into headings, list items and blank-line separated
// paragraphs. The first top-level heading becomes the title.
func ParseText(text string) catalog.Page {
	var page catalog.Page
	var para []string
	flush := func() {
		if len(para) > 0 {
			page.Paragraphs = append(page.Paragraphs, catalog.TextBlock{Text: strings.Join(para, "\n")})
			para = nil
		}
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "#"):
			flush()
			level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
			heading := strings.TrimSpace(trimmed[level:])
			if heading == "" {
				continue
			}
			level = min(level, 6)
			page.Headings = append(page.Headings, catalog.Heading{Type: fmt.Sprintf("h%d", level), Text: heading})
			if level == 1 && page.Title == "" {
				page.Title = heading
			}
		case isListLine(trimmed):
			flush()
			item := strings.TrimSpace(strings.TrimLeft(trimmed, "-*•"))
			if item != "" {
				page.ListItems = append(page.ListItems, catalog.TextBlock{Text: item})
			}
		default:
			para = append(para, trimmed)
		}
	}
	flush()
	return page
}

func isListLine(s string) bool {
	for _, marker := range []string{"- ", "* ", "•"} {
		if strings.HasPrefix(s, marker) {
			return true
		}
	}
	return false
}
