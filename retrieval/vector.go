package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brunobiangulo/hybridrag/catalog"
)

// DefaultTopK is the number of chunks fetched when no k is given.
const DefaultTopK = 5

// VectorSearcher runs a top-k similarity search for free text.
type VectorSearcher interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]catalog.Chunk, error)
}

// VectorRetriever fetches passages similar to the raw question.
type VectorRetriever struct {
	searcher VectorSearcher
	k        int
}

// NewVectorRetriever creates a retriever returning k chunks by default.
func NewVectorRetriever(s VectorSearcher, k int) *VectorRetriever {
	if k <= 0 {
		k = DefaultTopK
	}
	return &VectorRetriever{searcher: s, k: k}
}

// Query returns at most k chunks in the searcher's similarity order; k <= 0
// uses the retriever default. Errors are logged and yield no chunks.
func (r *VectorRetriever) Query(ctx context.Context, question string, k int) []catalog.Chunk {
	chunks, err := r.query(ctx, question, k)
	if err != nil {
		slog.Warn("retrieval: vector source unavailable", "error", err)
		return nil
	}
	return chunks
}

func (r *VectorRetriever) query(ctx context.Context, question string, k int) (chunks []catalog.Chunk, err error) {
	if r == nil || r.searcher == nil || question == "" {
		return nil, nil
	}
	if k <= 0 {
		k = r.k
	}
	defer func() {
		if p := recover(); p != nil {
			chunks, err = nil, fmt.Errorf("vector store panic: %v", p)
		}
	}()

	chunks, err = r.searcher.SimilaritySearch(ctx, question, k)
	if err != nil {
		return nil, err
	}
	if len(chunks) > k {
		chunks = chunks[:k]
	}
	return chunks, nil
}

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is a nearest-neighbor index over chunk embeddings.
type VectorIndex interface {
	VectorSearch(ctx context.Context, embedding []float32, k int) ([]catalog.Chunk, error)
}

// EmbeddingSearcher adapts an embedder and an index into a VectorSearcher.
type EmbeddingSearcher struct {
	Embedder Embedder
	Index    VectorIndex
}

// SimilaritySearch embeds query and returns its k nearest chunks.
func (s EmbeddingSearcher) SimilaritySearch(ctx context.Context, query string, k int) ([]catalog.Chunk, error) {
	embeddings, err := s.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return s.Index.VectorSearch(ctx, embeddings[0], k)
}
