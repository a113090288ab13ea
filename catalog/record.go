package catalog

import (
	"crypto/sha256"
	"encoding/hex"
)

// PageRecord identifies an ingested page and the hash of its content.
type PageRecord struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Hash  string `json:"content_hash"`
}

// EmbeddedChunk is a chunk ready to be written to a vector index.
type EmbeddedChunk struct {
	Chunk     Chunk
	Position  int
	Embedding []float32
}

// ContentHash returns the hex SHA-256 of the given documents in order.
func ContentHash(docs []string) string {
	h := sha256.New()
	for _, d := range docs {
		h.Write([]byte(d))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
