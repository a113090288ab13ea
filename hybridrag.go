// Package hybridrag answers catalog questions from two sources at once: an
// entity graph and a vector index of page chunks. Their results are fused
// into one bounded context and handed to a chat model, with a template
// answer whenever the model cannot be used.
package hybridrag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/brunobiangulo/hybridrag/catalog"
	"github.com/brunobiangulo/hybridrag/fusion"
	"github.com/brunobiangulo/hybridrag/graph"
	"github.com/brunobiangulo/hybridrag/ingest"
	"github.com/brunobiangulo/hybridrag/llm"
	"github.com/brunobiangulo/hybridrag/parser"
	"github.com/brunobiangulo/hybridrag/retrieval"
	"github.com/brunobiangulo/hybridrag/store"
	"github.com/brunobiangulo/hybridrag/store/neo4jstore"
	"github.com/brunobiangulo/hybridrag/store/pgstore"
	"github.com/brunobiangulo/hybridrag/synthesis"
)

var tracer = otel.Tracer("github.com/brunobiangulo/hybridrag")

// Engine is the main entry point for the hybrid retrieval engine.
type Engine interface {
	// Ask answers a question from the graph and vector sources. Source
	// failures and an unusable model degrade the answer instead of
	// failing; an error means the question was blank, the context ended
	// or the pipeline panicked.
	Ask(ctx context.Context, question string, opts ...AskOption) (*Answer, error)

	// IngestFile parses a catalog export and embeds its pages.
	IngestFile(ctx context.Context, path string, opts ...IngestOption) (*IngestReport, error)

	// IngestPages chunks, embeds and stores pages. Unchanged pages are
	// skipped unless WithForce is given.
	IngestPages(ctx context.Context, pages []catalog.Page, opts ...IngestOption) (*IngestReport, error)

	// LoadGraph extracts recipe entities from pages into the graph store,
	// optionally clearing it first.
	LoadGraph(ctx context.Context, pages []catalog.Page, clear bool) (*GraphReport, error)

	// LoadGraphFile parses a catalog export and loads it into the graph.
	LoadGraphFile(ctx context.Context, path string, clear bool) (*GraphReport, error)

	// Stats returns row counts from every configured store.
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the engine.
	Close() error
}

// Answer represents the result of a question.
type Answer struct {
	Text             string                 `json:"text"`
	Sources          []string               `json:"sources"`
	Degraded         bool                   `json:"degraded"`
	Entity           string                 `json:"entity"`
	ModelUsed        string                 `json:"model_used,omitempty"`
	FallbackReason   string                 `json:"fallback_reason,omitempty"`
	RequestID        string                 `json:"request_id"`
	RetrievalTrace   *retrieval.SearchTrace `json:"retrieval_trace,omitempty"`
	PromptTokens     int                    `json:"prompt_tokens,omitempty"`
	CompletionTokens int                    `json:"completion_tokens,omitempty"`
	Elapsed          time.Duration          `json:"elapsed"`
}

// IngestReport summarizes an ingestion run.
type IngestReport = ingest.Report

// GraphReport summarizes a graph load.
type GraphReport = graph.Report

// Stats holds row counts across the configured stores.
type Stats struct {
	store.DBStats
	GraphBackend   string `json:"graph_backend"`
	VectorBackend  string `json:"vector_backend"`
	ModelAvailable bool   `json:"model_available"`
}

// AskOption configures a single question.
type AskOption func(*askOptions)

type askOptions struct {
	topK      int
	requestID string
}

// WithTopK overrides the number of chunks fetched from the vector source.
func WithTopK(k int) AskOption {
	return func(o *askOptions) { o.topK = k }
}

// WithRequestID tags the answer and its query log entry. A random ID is
// generated when none is given.
func WithRequestID(id string) AskOption {
	return func(o *askOptions) { o.requestID = id }
}

// IngestOption configures ingestion behavior.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	force bool
}

// WithForce re-embeds pages even if their content hash hasn't changed.
func WithForce() IngestOption {
	return func(o *ingestOptions) { o.force = true }
}

// Embedder produces one embedding per input text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// QueryLogger records answered questions.
type QueryLogger interface {
	LogQuery(ctx context.Context, q store.QueryLog) error
}

// Backends are the stores and models an engine runs on. Nil fields
// disable the matching capability: no Graph means an empty graph source,
// no Vector or Embedder means an empty vector source and no ingestion,
// no Chat means template answers.
type Backends struct {
	Graph       retrieval.GraphStore
	GraphWriter graph.Writer
	Vector      retrieval.VectorIndex
	Sink        ingest.Sink
	Embedder    Embedder
	Chat        synthesis.Chatter
	Log         QueryLogger

	// Searcher replaces the Embedder and Vector pair for question lookups.
	Searcher retrieval.VectorSearcher
}

// dbStatser is implemented by the SQLite store.
type dbStatser interface {
	DBStats(ctx context.Context) (*store.DBStats, error)
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	retriever *retrieval.Engine
	fuser     fusion.Fuser
	synth     *synthesis.Synthesizer
	parsers   *parser.Registry

	graphWriter graph.Writer
	sink        ingest.Sink
	embedder    Embedder
	log         QueryLogger

	statFns []func(context.Context, *Stats) error
	closers []func() error
	closed  atomic.Bool
}

// New opens the SQLite store and any external backends named in cfg, then
// creates the model providers. A chat provider without a usable credential
// is not an error: the engine answers with the fallback template.
func New(cfg Config) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	b := Backends{Graph: s, GraphWriter: s, Vector: s, Sink: s}
	if cfg.LogQueries {
		b.Log = s
	}
	closers := []func() error{s.Close}
	statFns := []func(context.Context, *Stats) error{sqliteStats(s)}
	fail := func(err error) (Engine, error) {
		closeAll(closers)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.GraphBackend == BackendNeo4j {
		ns, err := neo4jstore.Open(ctx, cfg.Neo4j)
		if err != nil {
			return fail(fmt.Errorf("opening neo4j: %w", err))
		}
		b.Graph, b.GraphWriter = ns, ns
		closers = append(closers, func() error { return ns.Close(context.Background()) })
		statFns = append(statFns, func(ctx context.Context, st *Stats) error {
			nodes, edges, err := ns.Counts(ctx)
			st.Nodes, st.Edges = nodes, edges
			return err
		})
	}

	if cfg.VectorBackend == BackendPgvector {
		ps, err := pgstore.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.Table, cfg.EmbeddingDim)
		if err != nil {
			return fail(fmt.Errorf("opening pgvector: %w", err))
		}
		b.Vector, b.Sink = ps, ps
		closers = append(closers, ps.Close)
		statFns = append(statFns, func(ctx context.Context, st *Stats) error {
			pages, chunks, err := ps.Counts(ctx)
			st.Pages, st.Chunks, st.Embeddings = pages, chunks, chunks
			return err
		})
	}

	if cfg.Embedding.Provider != "" {
		p, err := llm.NewProvider(cfg.Embedding.toLLM(cfg.EmbedRetries))
		if err != nil {
			return fail(fmt.Errorf("creating embedding provider: %w", err))
		}
		b.Embedder = p
	} else {
		slog.Warn("hybridrag: no embedding provider configured, vector source disabled")
	}

	if chat := chatModel(cfg.Chat); chat != nil {
		b.Chat = chat
	}

	e := newEngine(cfg, b)
	e.closers = closers
	e.statFns = statFns

	slog.Info("hybridrag: engine ready",
		"db", cfg.resolveDBPath(),
		"graph_backend", cfg.GraphBackend, "vector_backend", cfg.VectorBackend,
		"model_available", e.synth.ModelAvailable())
	return e, nil
}

// NewWithBackends creates an engine over caller-supplied backends. The
// engine does not close them.
func NewWithBackends(cfg Config, b Backends) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	e := newEngine(cfg, b)
	if st, ok := b.Log.(dbStatser); ok {
		e.statFns = append(e.statFns, sqliteStats(st))
	}
	return e, nil
}

func newEngine(cfg Config, b Backends) *engine {
	var graphR *retrieval.GraphRetriever
	if b.Graph != nil {
		graphR = retrieval.NewGraphRetriever(b.Graph, cfg.MaxDirectMatches, cfg.MaxConnected)
	}

	searcher := b.Searcher
	if searcher == nil && b.Embedder != nil && b.Vector != nil {
		searcher = retrieval.EmbeddingSearcher{Embedder: b.Embedder, Index: b.Vector}
	}
	var vectorR *retrieval.VectorRetriever
	if searcher != nil {
		vectorR = retrieval.NewVectorRetriever(searcher, cfg.TopK)
	}

	return &engine{
		cfg:       cfg,
		retriever: retrieval.New(graphR, vectorR),
		fuser:     fusion.Fuser{MaxChars: cfg.MaxContextChars, SectionHeaders: cfg.SectionHeaders},
		synth: synthesis.New(b.Chat, synthesis.Config{
			Timeout: cfg.AnswerTimeout,
		}),
		parsers:     parser.NewRegistry(),
		graphWriter: b.GraphWriter,
		sink:        b.Sink,
		embedder:    b.Embedder,
		log:         b.Log,
	}
}

// chatModel returns the chat provider, or nil when answers must use the
// fallback template.
func chatModel(c LLMConfig) synthesis.Chatter {
	if c.Provider == "" {
		slog.Info("hybridrag: no chat provider configured, answers use the fallback template")
		return nil
	}
	lc := c.toLLM(0)
	if !lc.HasUsableCredential() {
		slog.Warn("hybridrag: chat credential missing or malformed, answers use the fallback template",
			"provider", c.Provider)
		return nil
	}
	p, err := llm.NewProvider(lc)
	if err != nil {
		slog.Warn("hybridrag: chat provider unavailable, answers use the fallback template",
			"provider", c.Provider, "error", err)
		return nil
	}
	return p
}

// Ask runs entity extraction, concurrent graph and vector retrieval,
// fusion and synthesis.
func (e *engine) Ask(ctx context.Context, question string, opts ...AskOption) (ans *Answer, err error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if e.closed.Load() {
		return nil, ErrStoreClosed
	}

	o := askOptions{topK: e.cfg.TopK}
	for _, opt := range opts {
		opt(&o)
	}
	if o.requestID == "" {
		o.requestID = uuid.NewString()
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "hybridrag.Ask")
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			ans, err = nil, fmt.Errorf("hybridrag: answering %q: panic: %v", question, p)
			span.RecordError(err)
			slog.Error("hybridrag: ask panicked", "request_id", o.requestID, "panic", p)
		}
	}()

	res, err := e.retriever.Search(ctx, question, o.topK)
	if err != nil {
		return nil, err
	}

	fc := e.fuser.Fuse(res.Graph, res.Chunks)
	if n := fc.Dropped(); n > 0 {
		slog.Debug("hybridrag: context truncated", "request_id", o.requestID, "dropped", n)
	}

	syn := e.synth.Answer(ctx, question, fc)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trace := res.Trace
	ans = &Answer{
		Text:             syn.Text,
		Sources:          syn.Sources,
		Degraded:         syn.Degraded,
		Entity:           res.Entity,
		ModelUsed:        syn.ModelUsed,
		FallbackReason:   syn.FallbackReason,
		RequestID:        o.requestID,
		RetrievalTrace:   &trace,
		PromptTokens:     syn.PromptTokens,
		CompletionTokens: syn.CompletionTokens,
		Elapsed:          time.Since(start),
	}

	span.SetAttributes(
		attribute.String("entity", ans.Entity),
		attribute.Int("sources", len(ans.Sources)),
		attribute.Bool("degraded", ans.Degraded),
	)

	e.logQuery(ctx, question, ans)

	slog.Info("hybridrag: question answered",
		"request_id", ans.RequestID, "entity", ans.Entity,
		"direct", trace.DirectMatches, "connected", trace.ConnectedNodes, "chunks", trace.VectorResults,
		"degraded", ans.Degraded, "elapsed", ans.Elapsed.Round(time.Millisecond))
	return ans, nil
}

func (e *engine) logQuery(ctx context.Context, question string, ans *Answer) {
	if e.log == nil {
		return
	}
	entry := store.QueryLog{
		RequestID: ans.RequestID,
		Query:     question,
		Answer:    ans.Text,
		Entity:    ans.Entity,
		Sources:   ans.Sources,
		ModelUsed: ans.ModelUsed,
		Degraded:  ans.Degraded,
		Elapsed:   ans.Elapsed,
	}
	if t := ans.RetrievalTrace; t != nil {
		entry.DirectMatches = t.DirectMatches
		entry.ConnectedNodes = t.ConnectedNodes
		entry.VectorResults = t.VectorResults
	}
	if err := e.log.LogQuery(ctx, entry); err != nil {
		slog.Warn("hybridrag: failed to log query", "request_id", ans.RequestID, "error", err)
	}
}

func (e *engine) IngestFile(ctx context.Context, path string, opts ...IngestOption) (*IngestReport, error) {
	pages, err := e.parseFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return e.IngestPages(ctx, pages, opts...)
}

func (e *engine) IngestPages(ctx context.Context, pages []catalog.Page, opts ...IngestOption) (*IngestReport, error) {
	if e.closed.Load() {
		return nil, ErrStoreClosed
	}
	if e.sink == nil || e.embedder == nil {
		return nil, fmt.Errorf("%w: ingestion needs an embedding provider and a vector store", ErrModelUnavailable)
	}

	var o ingestOptions
	for _, opt := range opts {
		opt(&o)
	}

	p, err := ingest.New(e.sink, e.embedder, ingest.Config{
		ChunkSize:    e.cfg.ChunkSize,
		ChunkOverlap: e.cfg.ChunkOverlap,
		BatchSize:    e.cfg.EmbedBatchSize,
		Workers:      e.cfg.EmbedWorkers,
		Force:        o.force,
	})
	if err != nil {
		return nil, err
	}
	defer p.Release()

	report, err := p.Ingest(ctx, pages)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		return report, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return report, nil
}

func (e *engine) LoadGraph(ctx context.Context, pages []catalog.Page, clear bool) (*GraphReport, error) {
	if e.closed.Load() {
		return nil, ErrStoreClosed
	}
	if e.graphWriter == nil {
		return nil, fmt.Errorf("%w: no graph store configured", ErrGraphBuildFailed)
	}
	report, err := graph.NewBuilder(e.graphWriter).Build(ctx, pages, clear)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		return report, fmt.Errorf("%w: %w", ErrGraphBuildFailed, err)
	}
	return report, nil
}

func (e *engine) LoadGraphFile(ctx context.Context, path string, clear bool) (*GraphReport, error) {
	pages, err := e.parseFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return e.LoadGraph(ctx, pages, clear)
}

func (e *engine) parseFile(ctx context.Context, path string) ([]catalog.Page, error) {
	if e.closed.Load() {
		return nil, ErrStoreClosed
	}
	pages, err := e.parsers.ParseFile(ctx, path)
	switch {
	case errors.Is(err, parser.ErrUnsupportedFormat):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrParsingFailed, err)
	}
	slog.Debug("hybridrag: parsed file", "path", path, "pages", len(pages))
	return pages, nil
}

func (e *engine) Stats(ctx context.Context) (*Stats, error) {
	if e.closed.Load() {
		return nil, ErrStoreClosed
	}
	st := &Stats{
		GraphBackend:   e.cfg.GraphBackend,
		VectorBackend:  e.cfg.VectorBackend,
		ModelAvailable: e.synth.ModelAvailable(),
	}
	for _, fn := range e.statFns {
		if err := fn(ctx, st); err != nil {
			return nil, fmt.Errorf("collecting stats: %w", err)
		}
	}
	return st, nil
}

func (e *engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	return closeAll(e.closers)
}

func sqliteStats(s dbStatser) func(context.Context, *Stats) error {
	return func(ctx context.Context, st *Stats) error {
		db, err := s.DBStats(ctx)
		if err != nil {
			return err
		}
		st.DBStats = *db
		return nil
	}
}

// closeAll closes in reverse order of opening.
func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
