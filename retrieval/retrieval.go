package retrieval

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/hybridrag/catalog"
	"github.com/brunobiangulo/hybridrag/graph"
)

var tracer = otel.Tracer("github.com/brunobiangulo/hybridrag/retrieval")

// Result is everything retrieved for one question.
type Result struct {
	Entity string          `json:"entity"`
	Graph  graph.Result    `json:"graph"`
	Chunks []catalog.Chunk `json:"chunks"`
	Trace  SearchTrace     `json:"trace"`
}

// Empty reports whether neither source returned anything.
func (r *Result) Empty() bool {
	return r.Graph.Empty() && len(r.Chunks) == 0
}

// SearchTrace records what each source did for a question.
type SearchTrace struct {
	DirectMatches  int    `json:"direct_matches"`
	ConnectedNodes int    `json:"connected_nodes"`
	VectorResults  int    `json:"vector_results"`
	GraphError     string `json:"graph_error,omitempty"`
	VectorError    string `json:"vector_error,omitempty"`
	GraphMs        int64  `json:"graph_ms"`
	VectorMs       int64  `json:"vector_ms"`
	ElapsedMs      int64  `json:"elapsed_ms"`
}

// Engine runs graph and vector retrieval for a question.
type Engine struct {
	graph  *GraphRetriever
	vector *VectorRetriever
}

// New creates a retrieval engine. Either retriever may be nil, in which
// case that source always comes back empty.
func New(g *GraphRetriever, v *VectorRetriever) *Engine {
	return &Engine{graph: g, vector: v}
}

// Search extracts the entity, then queries the graph with the entity and
// the vector store with the raw question concurrently. Source failures are
// soft: the failing source contributes nothing. The only error returned is
// the context's, when it ends before both sources finish.
func (e *Engine) Search(ctx context.Context, question string, k int) (*Result, error) {
	start := time.Now()
	res := &Result{Entity: ExtractEntity(question)}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ctx, span := tracer.Start(gctx, "retrieval.graph")
		defer span.End()
		t := time.Now()
		gr, err := e.graph.query(ctx, res.Entity)
		if err != nil {
			slog.Warn("retrieval: graph source unavailable", "entity", res.Entity, "error", err)
			res.Trace.GraphError = err.Error()
			span.RecordError(err)
			gr = graph.Result{}
		}
		res.Graph = gr
		res.Trace.GraphMs = time.Since(t).Milliseconds()
		span.SetAttributes(
			attribute.String("entity", res.Entity),
			attribute.Int("direct_matches", len(gr.DirectMatches)),
			attribute.Int("connected_nodes", len(gr.ConnectedNodes)),
		)
		return nil
	})

	g.Go(func() error {
		ctx, span := tracer.Start(gctx, "retrieval.vector")
		defer span.End()
		t := time.Now()
		chunks, err := e.vector.query(ctx, question, k)
		if err != nil {
			slog.Warn("retrieval: vector source unavailable", "error", err)
			res.Trace.VectorError = err.Error()
			span.RecordError(err)
			chunks = nil
		}
		res.Chunks = chunks
		res.Trace.VectorMs = time.Since(t).Milliseconds()
		span.SetAttributes(attribute.Int("results", len(chunks)))
		return nil
	})

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Trace.DirectMatches = len(res.Graph.DirectMatches)
	res.Trace.ConnectedNodes = len(res.Graph.ConnectedNodes)
	res.Trace.VectorResults = len(res.Chunks)
	res.Trace.ElapsedMs = time.Since(start).Milliseconds()

	slog.Debug("retrieval: search complete",
		"entity", res.Entity,
		"direct", res.Trace.DirectMatches, "connected", res.Trace.ConnectedNodes,
		"chunks", res.Trace.VectorResults,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}
