// Package indexer computes the code vectors of the corpus offline. Every
// sample of the use data is encoded with the model's code encoder,
// L2-normalised and written in corpus order as one vecfile matrix.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/embedder"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/store/vecfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/metrics"
)

type Options struct {
	// BatchSize is the number of samples per unit of work.
	BatchSize int
	// Parallel bounds how many batches are encoded at once.
	Parallel int
	Metrics  *metrics.Metrics
}

type Representer struct {
	emb    embedder.Embedder
	opts   Options
	logger *slog.Logger
}

func New(emb embedder.Embedder, opts Options) *Representer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.Parallel <= 0 {
		opts.Parallel = runtime.GOMAXPROCS(0)
	}
	return &Representer{
		emb:    emb,
		opts:   opts,
		logger: logger.WithComponent("repr"),
	}
}

// Encode returns one unit vector per sample, in sample order. A sample whose
// code vector has zero norm is stored as a zero row, which scores 0 against
// every query.
func (r *Representer) Encode(ctx context.Context, samples []Sample) (vecfile.Matrix, error) {
	dim := r.emb.Dimension()
	if dim <= 0 {
		return vecfile.Matrix{}, fmt.Errorf("%w: embedder %s reports dimension %d", apperrors.ErrConfiguration, r.emb.ModelName(), dim)
	}
	out := vecfile.NewMatrix(len(samples), dim)

	batches := (len(samples) + r.opts.BatchSize - 1) / r.opts.BatchSize
	degenerate := make([]int, batches)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallel)
	for b := 0; b < batches; b++ {
		lo := b * r.opts.BatchSize
		hi := min(lo+r.opts.BatchSize, len(samples))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return apperrors.Wrapf(apperrors.ErrTimeout, err, "encoding code vectors")
				}
				s := samples[i]
				vec, err := r.emb.EncodeCode(gctx, s.Name, s.API, s.Tokens)
				if err != nil {
					return apperrors.Wrapf(apperrors.ErrEncoding, err, "encoding sample %d", i)
				}
				if len(vec) != dim {
					return fmt.Errorf("%w: sample %d encoded to %d values, want %d", apperrors.ErrConfiguration, i, len(vec), dim)
				}
				unit, ok := embedder.Normalize(vec)
				if !ok {
					degenerate[b]++
					continue
				}
				copy(out.Row(i), unit)
			}
			if r.opts.Metrics != nil {
				r.opts.Metrics.CodeVectorsEncoded.Add(float64(hi - lo))
			}
			r.logger.Info("batch encoded",
				"batch", b+1,
				"batches", batches,
				"rows", hi-lo,
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return vecfile.Matrix{}, err
	}

	zero := 0
	for _, n := range degenerate {
		zero += n
	}
	if zero > 0 {
		r.logger.Warn("samples with zero-norm code vectors", "count", zero)
	}
	r.logger.Info("code vectors encoded",
		"rows", len(samples),
		"dim", dim,
		"duration", time.Since(start),
	)
	return out, nil
}

// Run reads the use data, encodes it and writes the vectors to outPath. It
// returns the number of vectors written.
func (r *Representer) Run(ctx context.Context, usePath, outPath string, v Vocabs, l Lengths) (int, error) {
	samples, err := LoadSamples(usePath, v, l)
	if err != nil {
		return 0, err
	}
	r.logger.Info("use data loaded", "path", usePath, "samples", len(samples))

	m, err := r.Encode(ctx, samples)
	if err != nil {
		return 0, err
	}
	if err := vecfile.Write(outPath, m); err != nil {
		return 0, err
	}
	r.logger.Info("code vectors written", "path", outPath, "rows", m.Rows)
	return m.Rows, nil
}
