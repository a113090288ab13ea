package catalog

// ChunkType classifies the page element a chunk was cut from.
type ChunkType string

const (
	ChunkHeading   ChunkType = "heading"
	ChunkParagraph ChunkType = "paragraph"
	ChunkListItem  ChunkType = "list_item"
	ChunkTable     ChunkType = "table"
)

// Valid reports whether t is one of the known chunk types.
func (t ChunkType) Valid() bool {
	switch t {
	case ChunkHeading, ChunkParagraph, ChunkListItem, ChunkTable:
		return true
	}
	return false
}

// Chunk is a retrieved unit of text with its source metadata.
type Chunk struct {
	Text      string    `json:"text"`
	SourceURL string    `json:"source"`
	Type      ChunkType `json:"type"`
	Score     float64   `json:"score,omitempty"`
}
