package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/hybridrag/catalog"
)

// XLSXParser turns every non-empty sheet into a page holding one table,
// using the first row as headers.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) ([]catalog.Page, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var pages []catalog.Page
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		rows = dropBlankRows(rows)
		if len(rows) == 0 {
			continue
		}

		pages = append(pages, catalog.Page{
			URL:      FileURL(path, "sheet="+sheet),
			Title:    sheet,
			Headings: []catalog.Heading{{Type: "h1", Text: sheet}},
			Tables:   []catalog.Table{{Headers: rows[0], Rows: rows[1:]}},
		})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no data found in XLSX")
	}
	return pages, nil
}

func dropBlankRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		if strings.TrimSpace(strings.Join(row, "")) != "" {
			out = append(out, row)
		}
	}
	return out
}
