// Package executor runs a query against every chunk of the store in
// parallel and merges the per-chunk winners into the global top k.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/embedder"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/tracing"
)

// ChunkSource provides the aligned chunks to search. *store.VectorStore
// implements it.
type ChunkSource interface {
	Chunks() []store.Chunk
}

// SearchResult is one ranked code sample.
type SearchResult = ranker.Candidate

// Response describes a completed search.
type Response struct {
	Query    string         `json:"query"`
	K        int            `json:"k"`
	Tokens   []int          `json:"-"`
	Results  []SearchResult `json:"results"`
	Chunks   int            `json:"chunks"`
	Duration time.Duration  `json:"-"`
}

// Options tunes a Coordinator. Zero values pick defaults.
type Options struct {
	// Workers bounds how many chunks are scored at once. Defaults to
	// GOMAXPROCS.
	Workers int
	Metrics *metrics.Metrics
}

// Coordinator is safe for concurrent use; searches share the read-only
// store and embedder.
type Coordinator struct {
	source   ChunkSource
	encoder  *query.Encoder
	embedder embedder.Embedder
	workers  int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(source ChunkSource, encoder *query.Encoder, emb embedder.Embedder, opts Options) *Coordinator {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Coordinator{
		source:   source,
		encoder:  encoder,
		embedder: emb,
		workers:  workers,
		metrics:  opts.Metrics,
		logger:   logger.WithComponent("search-coordinator"),
	}
}

// Search returns the k code samples most similar to text, best first.
func (c *Coordinator) Search(ctx context.Context, text string, k int) ([]SearchResult, error) {
	resp, err := c.Execute(ctx, text, k)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Execute is Search with the details of the run. Equal scores are ordered
// by chunk index and then by row index. Any failing chunk fails the whole
// search; partial results are never returned.
func (c *Coordinator) Execute(ctx context.Context, text string, k int) (*Response, error) {
	start := time.Now()
	resp := &Response{Query: text, K: k, Results: []SearchResult{}}
	if k <= 0 {
		return resp, nil
	}
	chunks := c.source.Chunks()
	resp.Chunks = len(chunks)
	if len(chunks) == 0 {
		return resp, nil
	}

	ids, vec, err := c.encode(ctx, text)
	if err != nil {
		return nil, err
	}
	resp.Tokens = ids

	partials, err := c.fanOut(ctx, vec, chunks, k)
	if err != nil {
		return nil, err
	}

	_, mergeSpan := tracing.StartChildSpan(ctx, "merge")
	resp.Results = merger.Merge(partials, k)
	mergeSpan.SetAttr("results", len(resp.Results))
	mergeSpan.End()

	resp.Duration = time.Since(start)
	log := c.logger
	if id := logger.RequestID(ctx); id != "" {
		log = log.With("request_id", id)
	}
	log.Debug("search executed",
		"query", text,
		"k", k,
		"chunks", len(chunks),
		"results", len(resp.Results),
		"duration", resp.Duration,
	)
	return resp, nil
}

func (c *Coordinator) encode(ctx context.Context, text string) ([]int, []float32, error) {
	ctx, span := tracing.StartChildSpan(ctx, "encode")
	defer span.End()

	ids, err := c.encoder.Encode(text)
	if err != nil {
		return nil, nil, err
	}
	raw, err := c.embedder.EncodeText(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, apperrors.Wrapf(apperrors.ErrTimeout, ctx.Err(), "encoding query")
		}
		if errors.Is(err, apperrors.ErrEncoding) {
			return nil, nil, err
		}
		return nil, nil, apperrors.Wrapf(apperrors.ErrEncoding, err, "encoding query")
	}
	vec, ok := embedder.Normalize(raw)
	if !ok {
		return nil, nil, fmt.Errorf("%w: query %q encodes to a zero vector", apperrors.ErrEncoding, text)
	}
	span.SetAttr("model", c.embedder.ModelName())
	span.SetAttr("dim", len(vec))
	return ids, vec, nil
}

// fanOut scores every chunk on a bounded pool. Each unit writes only its
// own slot of the result slice, and Wait is the single barrier.
func (c *Coordinator) fanOut(ctx context.Context, vec []float32, chunks []store.Chunk, k int) ([][]ranker.Candidate, error) {
	ctx, span := tracing.StartChildSpan(ctx, "fan_out")
	defer span.End()
	span.SetAttr("chunks", len(chunks))
	span.SetAttr("workers", c.workers)

	partials := make([][]ranker.Candidate, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			cands, err := ranker.SearchChunk(vec, chunk.Vectors, chunk.Codebase, k)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", chunk.Index, err)
			}
			for j := range cands {
				cands[j].Chunk = chunk.Index
			}
			partials[i] = cands
			if c.metrics != nil {
				c.metrics.ChunkScoreDuration.Observe(time.Since(start).Seconds())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Wrapf(apperrors.ErrTimeout, ctx.Err(), "searching %d chunks", len(chunks))
		}
		return nil, err
	}
	return partials, nil
}
