// Package ingest turns crawled catalog pages into embedded chunks and
// writes them to a vector index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/brunobiangulo/hybridrag/catalog"
	"github.com/brunobiangulo/hybridrag/chunker"
)

// Sink is the vector index side of ingestion.
type Sink interface {
	PageHash(ctx context.Context, url string) (string, bool, error)
	ReplacePage(ctx context.Context, page catalog.PageRecord, chunks []catalog.EmbeddedChunk) error
}

// Embedder produces one embedding per input text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config controls ingestion.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int  // texts per embedding call
	Workers      int  // concurrent embedding calls
	Force        bool // re-embed pages whose content hash is unchanged
}

// Report summarizes an ingestion run.
type Report struct {
	Pages     int           `json:"pages"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Documents int           `json:"documents"`
	Chunks    int           `json:"chunks"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Pipeline ingests pages. It is safe to call Ingest sequentially; the
// worker pool is shared across calls.
type Pipeline struct {
	sink     Sink
	embedder Embedder
	chunker  *chunker.Chunker
	cfg      Config
	pool     *ants.Pool
}

// New creates a pipeline. Call Release when done.
func New(sink Sink, embedder Embedder, cfg Config) (*Pipeline, error) {
	if sink == nil {
		return nil, errors.New("ingest: sink is required")
	}
	if embedder == nil {
		return nil, errors.New("ingest: embedder is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("creating embedding pool: %w", err)
	}

	return &Pipeline{
		sink:     sink,
		embedder: embedder,
		chunker:  chunker.New(chunker.Config{ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap}),
		cfg:      cfg,
		pool:     pool,
	}, nil
}

// Release stops the worker pool.
func (p *Pipeline) Release() {
	p.pool.Release()
}

// Ingest chunks, embeds and stores every page. Pages whose content hash is
// unchanged are skipped unless Force is set. A failing page is logged and
// counted; Ingest returns an error only when every non-skipped page failed
// or the context ended.
func (p *Pipeline) Ingest(ctx context.Context, pages []catalog.Page) (*Report, error) {
	start := time.Now()
	report := &Report{}
	var firstErr error

	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			report.Elapsed = time.Since(start)
			return report, err
		}
		report.Pages++

		docs, chunks, skipped, err := p.ingestPage(ctx, page)
		switch {
		case err != nil:
			report.Failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", page.URL, err)
			}
			slog.Warn("ingest: page failed", "url", page.URL, "error", err)
			continue
		case skipped:
			report.Skipped++
			slog.Debug("ingest: page unchanged, skipping", "url", page.URL)
			continue
		}

		report.Documents += docs
		report.Chunks += chunks
		slog.Debug("ingest: page stored",
			"progress", fmt.Sprintf("%d/%d", i+1, len(pages)), "url", page.URL,
			"documents", docs, "chunks", chunks)
	}

	report.Elapsed = time.Since(start)
	slog.Info("ingest: complete",
		"pages", report.Pages, "skipped", report.Skipped, "failed", report.Failed,
		"documents", report.Documents, "chunks", report.Chunks,
		"elapsed", report.Elapsed.Round(time.Millisecond))

	if report.Failed > 0 && report.Failed == report.Pages-report.Skipped {
		return report, fmt.Errorf("ingest: all %d pages failed; first error: %w", report.Failed, firstErr)
	}
	return report, nil
}

func (p *Pipeline) ingestPage(ctx context.Context, page catalog.Page) (docs, chunks int, skipped bool, err error) {
	if page.URL == "" {
		return 0, 0, false, errors.New("page has no url")
	}

	documents := Documents(page)
	var pieces []catalog.Chunk
	for _, d := range documents {
		for _, text := range p.chunker.Split(d.Text) {
			pieces = append(pieces, catalog.Chunk{Text: text, SourceURL: d.SourceURL, Type: d.Type})
		}
	}

	texts := make([]string, len(pieces))
	for i, c := range pieces {
		texts[i] = c.Text
	}
	hash := catalog.ContentHash(append([]string{page.Title}, texts...))

	if !p.cfg.Force {
		old, found, err := p.sink.PageHash(ctx, page.URL)
		if err != nil {
			return 0, 0, false, fmt.Errorf("reading page hash: %w", err)
		}
		if found && old == hash {
			return 0, 0, true, nil
		}
	}

	embeddings, err := p.embedAll(ctx, texts)
	if err != nil {
		return 0, 0, false, err
	}

	embedded := make([]catalog.EmbeddedChunk, len(pieces))
	for i, c := range pieces {
		embedded[i] = catalog.EmbeddedChunk{Chunk: c, Position: i, Embedding: embeddings[i]}
	}

	record := catalog.PageRecord{URL: page.URL, Title: page.Title, Hash: hash}
	if err := p.sink.ReplacePage(ctx, record, embedded); err != nil {
		return 0, 0, false, fmt.Errorf("storing page: %w", err)
	}
	return len(documents), len(pieces), false, nil
}

// embedAll embeds texts in batches spread over the worker pool, keeping
// input order.
func (p *Pipeline) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for lo := 0; lo < len(texts); lo += p.cfg.BatchSize {
		hi := min(lo+p.cfg.BatchSize, len(texts))
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vecs, err := p.embedder.Embed(ctx, texts[lo:hi])
			if err != nil {
				fail(fmt.Errorf("embedding batch %d-%d: %w", lo, hi, err))
				return
			}
			if len(vecs) != hi-lo {
				fail(fmt.Errorf("embedding batch %d-%d: got %d vectors", lo, hi, len(vecs)))
				return
			}
			copy(out[lo:hi], vecs)
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submitting embedding batch: %w", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
