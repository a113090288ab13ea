// Package fusion merges graph and vector retrieval results into one
// bounded, deterministically formatted context.
package fusion

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/brunobiangulo/hybridrag/catalog"
	"github.com/brunobiangulo/hybridrag/graph"
)

// DefaultMaxChars is the context budget used when none is configured.
const DefaultMaxChars = 8000

const (
	directHeader    = "Direct matches found:"
	connectedHeader = "Related information:"
	graphSection    = "Graph Knowledge:"
	textSection     = "Text Knowledge:"
)

// Fuser formats retrieval results.
type Fuser struct {
	// MaxChars bounds the rendered context in runes. Zero or negative
	// means unbounded.
	MaxChars int

	// SectionHeaders prefixes the graph and text blocks with
	// "Graph Knowledge:" and "Text Knowledge:".
	SectionHeaders bool
}

// Context is a fused context. Its rendering is fixed by the lines and
// chunks that survived truncation.
type Context struct {
	direct    []string
	connected []string
	chunks    []catalog.Chunk
	headers   bool
	dropped   int
}

// Fuse formats g and chunks with the default budget and no section headers.
func Fuse(g graph.Result, chunks []catalog.Chunk, maxChars int) *Context {
	return Fuser{MaxChars: maxChars}.Fuse(g, chunks)
}

// Fuse renders the graph block first and the vector block second. When the
// result is over budget it drops whole vector chunks from the end, then
// related-information lines from the end, then direct-match lines from the
// end, until it fits.
func (f Fuser) Fuse(g graph.Result, chunks []catalog.Chunk) *Context {
	c := &Context{headers: f.SectionHeaders}
	for _, n := range g.DirectMatches {
		c.direct = append(c.direct, "  - "+oneLine(n.PrimaryLabel())+": "+oneLine(n.Name))
	}
	for _, e := range g.ConnectedNodes {
		c.connected = append(c.connected, "  - "+oneLine(e.Source)+" "+HumanizeRelation(e.RelationType)+" "+
			oneLine(e.Target)+" ("+oneLine(e.TargetLabel())+")")
	}
	for _, ch := range chunks {
		ch.Text = strings.TrimSpace(ch.Text)
		if ch.Text != "" {
			c.chunks = append(c.chunks, ch)
		}
	}

	if f.MaxChars <= 0 {
		return c
	}
	for c.length() > f.MaxChars && len(c.chunks) > 0 {
		c.chunks = c.chunks[:len(c.chunks)-1]
		c.dropped++
	}
	for c.length() > f.MaxChars && len(c.connected) > 0 {
		c.connected = c.connected[:len(c.connected)-1]
		c.dropped++
	}
	for c.length() > f.MaxChars && len(c.direct) > 0 {
		c.direct = c.direct[:len(c.direct)-1]
		c.dropped++
	}
	return c
}

// String renders the context. It is empty when both sources were empty.
func (c *Context) String() string {
	if c == nil {
		return ""
	}
	var blocks []string
	if g := c.graphBlock(); g != "" {
		if c.headers {
			g = graphSection + "\n" + g
		}
		blocks = append(blocks, g)
	}
	if v := c.vectorBlock(); v != "" {
		if c.headers {
			v = textSection + "\n" + v
		}
		blocks = append(blocks, v)
	}
	return strings.Join(blocks, "\n\n")
}

// Empty reports whether the rendered context is empty.
func (c *Context) Empty() bool {
	return c == nil || (len(c.direct) == 0 && len(c.connected) == 0 && len(c.chunks) == 0)
}

// Chunks returns the vector chunks kept in the context.
func (c *Context) Chunks() []catalog.Chunk {
	if c == nil {
		return nil
	}
	return c.chunks
}

// Dropped is the number of chunks and lines removed to fit the budget.
func (c *Context) Dropped() int {
	if c == nil {
		return 0
	}
	return c.dropped
}

// Sources returns the distinct source URLs of the kept chunks in order.
func (c *Context) Sources() []string {
	sources := []string{}
	if c == nil {
		return sources
	}
	seen := make(map[string]bool)
	for _, ch := range c.chunks {
		if ch.SourceURL == "" || seen[ch.SourceURL] {
			continue
		}
		seen[ch.SourceURL] = true
		sources = append(sources, ch.SourceURL)
	}
	return sources
}

func (c *Context) graphBlock() string {
	var lines []string
	if len(c.direct) > 0 {
		lines = append(lines, directHeader)
		lines = append(lines, c.direct...)
	}
	if len(c.connected) > 0 {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, connectedHeader)
		lines = append(lines, c.connected...)
	}
	return strings.Join(lines, "\n")
}

func (c *Context) vectorBlock() string {
	texts := make([]string, len(c.chunks))
	for i, ch := range c.chunks {
		texts[i] = ch.Text
	}
	return strings.Join(texts, "\n\n")
}

func (c *Context) length() int {
	return utf8.RuneCountInString(c.String())
}

// HumanizeRelation turns HAS_INGREDIENT into "Has ingredient".
func HumanizeRelation(rel string) string {
	s := strings.ToLower(strings.ReplaceAll(oneLine(rel), "_", " "))
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return ""
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// oneLine keeps graph lines atomic when names carry line breaks.
func oneLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}
