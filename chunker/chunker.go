// Package chunker splits document text into overlapping chunks, trying
// coarse separators first and falling back to finer ones.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried in order: paragraphs, lines, sentences,
// words, and finally single characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Config controls the chunking behaviour. Sizes are in characters.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// Chunker splits text into chunks of at most ChunkSize characters.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1500
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 5
	}
	if len(cfg.Separators) == 0 {
		cfg.Separators = DefaultSeparators
	}
	return &Chunker{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Split breaks text into trimmed, non-empty chunks. Consecutive chunks cut
// from the same run share up to ChunkOverlap characters.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return c.split(text, c.cfg.Separators)
}

func (c *Chunker) split(text string, separators []string) []string {
	// Pick the first separator present in the text; "" always matches.
	sep := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = splitRunes(text)
	} else {
		pieces = strings.Split(text, sep)
	}

	var out, pending []string
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if runeLen(p) < c.cfg.ChunkSize {
			pending = append(pending, p)
			continue
		}
		if len(pending) > 0 {
			out = append(out, c.merge(pending, sep)...)
			pending = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, c.split(p, rest)...)
		}
	}
	if len(pending) > 0 {
		out = append(out, c.merge(pending, sep)...)
	}
	return out
}

// merge packs pieces into chunks joined by sep, carrying the tail of each
// chunk into the next as overlap.
func (c *Chunker) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)
	var chunks, window []string
	total := 0

	joinedLen := func(n int) int {
		if len(window) == 0 {
			return n
		}
		return total + sepLen + n
	}

	for _, p := range pieces {
		n := runeLen(p)
		if joinedLen(n) > c.cfg.ChunkSize && len(window) > 0 {
			if doc := strings.TrimSpace(strings.Join(window, sep)); doc != "" {
				chunks = append(chunks, doc)
			}
			// Shrink the window to the overlap, and further if the next
			// piece still would not fit.
			for len(window) > 0 && (total > c.cfg.ChunkOverlap || joinedLen(n) > c.cfg.ChunkSize) {
				total -= runeLen(window[0])
				if len(window) > 1 {
					total -= sepLen
				}
				window = window[1:]
			}
		}
		if len(window) > 0 {
			total += sepLen
		}
		window = append(window, p)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(window, sep)); doc != "" {
		chunks = append(chunks, doc)
	}
	return chunks
}

func splitRunes(s string) []string {
	out := make([]string, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
