// Package catalog defines the page records produced by the site crawler
// and the retrieved text chunks derived from them.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Page is one crawled catalog page. Crawlers emit paragraphs and list
// items either as bare strings or as {"text": ...} objects; both decode
// into the same normalized shape here.
type Page struct {
	URL        string      `json:"url"`
	Title      string      `json:"title,omitempty"`
	Headings   []Heading   `json:"headings,omitempty"`
	Paragraphs []TextBlock `json:"paragraphs,omitempty"`
	ListItems  []TextBlock `json:"list_items,omitempty"`
	Tables     []Table     `json:"tables,omitempty"`
	Links      []Link      `json:"links,omitempty"`
	Images     []Image     `json:"images,omitempty"`
}

// Heading is an h1..h6 element.
type Heading struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// UnmarshalJSON accepts either a string or a {"type", "text"} object.
func (h *Heading) UnmarshalJSON(data []byte) error {
	if s, ok, err := decodeString(data); ok || err != nil {
		*h = Heading{Type: "heading", Text: s}
		return err
	}
	type plain Heading
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding heading: %w", err)
	}
	*h = Heading(p)
	if h.Type == "" {
		h.Type = "heading"
	}
	return nil
}

// TextBlock is a paragraph or list item.
type TextBlock struct {
	Text string `json:"text"`
}

// UnmarshalJSON accepts either a string or a {"text": ...} object.
func (b *TextBlock) UnmarshalJSON(data []byte) error {
	if s, ok, err := decodeString(data); ok || err != nil {
		b.Text = s
		return err
	}
	type plain TextBlock
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding text block: %w", err)
	}
	*b = TextBlock(p)
	return nil
}

// Table is an HTML table flattened to headers and string rows.
type Table struct {
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows,omitempty"`
}

// Link is an anchor found on the page.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Image is an img element found on the page.
type Image struct {
	Alt string `json:"alt"`
	Src string `json:"src"`
}

func decodeString(data []byte) (string, bool, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '"' {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", true, err
	}
	return s, true, nil
}

// DecodePages reads a JSON array of pages, or a single page object.
func DecodePages(r io.Reader) ([]Page, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading pages: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '{' {
		var p Page
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decoding page: %w", err)
		}
		return []Page{p}, nil
	}
	var pages []Page
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("decoding pages: %w", err)
	}
	return pages, nil
}

// LoadPages reads a page dump written by the crawler.
func LoadPages(path string) ([]Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodePages(f)
}

// IsEmpty reports whether the page carries no text at all.
func (p Page) IsEmpty() bool {
	for _, h := range p.Headings {
		if strings.TrimSpace(h.Text) != "" {
			return false
		}
	}
	for _, b := range append(append([]TextBlock{}, p.Paragraphs...), p.ListItems...) {
		if strings.TrimSpace(b.Text) != "" {
			return false
		}
	}
	for _, t := range p.Tables {
		if len(t.Headers) > 0 || len(t.Rows) > 0 {
			return false
		}
	}
	return true
}
