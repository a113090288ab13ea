package parser

import (
	"context"

	"github.com/brunobiangulo/hybridrag/catalog"
)

// JSONParser reads crawler page dumps.
type JSONParser struct{}

func (p *JSONParser) SupportedFormats() []string { return []string{"json"} }

func (p *JSONParser) Parse(ctx context.Context, path string) ([]catalog.Page, error) {
	return catalog.LoadPages(path)
}
