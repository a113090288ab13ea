// Package parser reads catalog content from files into pages: crawler JSON
// dumps, PDF recipe books, spreadsheets and plain text or markdown.
package parser

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"

	"github.com/brunobiangulo/hybridrag/catalog"
)

// ErrUnsupportedFormat is returned for file extensions with no parser.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Parser can parse a specific file format into pages.
type Parser interface {
	Parse(ctx context.Context, path string) ([]catalog.Page, error)
	SupportedFormats() []string
}

// FileURL is the source URL recorded for pages read from a local file.
// fragment, when set, names the PDF page or sheet.
func FileURL(path, fragment string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), Fragment: fragment}
	return u.String()
}
