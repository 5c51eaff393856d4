package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/embedder"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/vocab"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/resilience"
)

// setup loads the config, installs the logger and returns a context that is
// cancelled on SIGINT or SIGTERM.
func setup(configPath string) (*config.Config, context.Context, context.CancelFunc, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return cfg, ctx, stop, nil
}

// startMetrics serves Prometheus metrics when enabled. The returned stop
// function is always safe to call.
func startMetrics(cfg *config.Config) (*metrics.Metrics, func()) {
	m := metrics.New()
	if !cfg.Metrics.Enabled {
		return m, func() {}
	}
	shutdown := metrics.StartServer(cfg.Metrics.Port)
	return m, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}
	}
}

// buildEmbedder connects to the model server when one is configured and
// otherwise loads the checkpoint from the workdir.
func buildEmbedder(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (embedder.Embedder, error) {
	var emb embedder.Embedder
	if cfg.Model.EmbedURL != "" {
		client, err := embedder.NewClient(ctx, embedder.ClientConfig{
			BaseURL: cfg.Model.EmbedURL,
			Model:   cfg.Model.Name,
			Epoch:   cfg.Model.Epoch,
			Timeout: cfg.Search.Timeout,
			Retry: resilience.RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     2 * time.Second,
			},
			Breaker: resilience.CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
			Metrics: m,
		})
		if err != nil {
			return nil, err
		}
		emb = client
	} else {
		ck, err := embedder.LoadCheckpoint(cfg.Data.Workdir, cfg.Model.Name, cfg.Model.Epoch)
		if err != nil {
			return nil, err
		}
		pooled, err := embedder.NewPooledModel(cfg.Model.Name, ck)
		if err != nil {
			return nil, err
		}
		emb = pooled
	}
	if cfg.Model.Serialize {
		emb = embedder.NewSerialized(emb)
	}
	slog.Info("embedding model ready",
		"model", emb.ModelName(),
		"epoch", cfg.Model.Epoch,
		"dimension", emb.Dimension(),
		"remote", cfg.Model.EmbedURL != "",
	)
	return emb, nil
}

func loadQueryEncoder(cfg *config.Config) (*query.Encoder, error) {
	v, err := vocab.Load(cfg.Path(cfg.Vocab.Desc), cfg.Vocab.TopDescs)
	if err != nil {
		return nil, err
	}
	slog.Info("description vocabulary loaded", "tokens", v.Size())
	return query.NewEncoder(v, cfg.Lengths.Desc), nil
}

// loadStore reads the code vectors and the codebase. Both are needed before
// any search runs.
func loadStore(cfg *config.Config, m *metrics.Metrics) (*store.VectorStore, error) {
	s, err := store.New(cfg.Search.ChunkSize)
	if err != nil {
		return nil, err
	}
	if err := s.LoadVectors(cfg.Path(cfg.Data.Codevecs)); err != nil {
		return nil, err
	}
	if err := s.LoadCodebase(cfg.Path(cfg.Data.Codebase)); err != nil {
		return nil, err
	}
	stats := s.Stats()
	m.ChunksLoaded.Set(float64(stats.Chunks))
	m.CorpusRows.Set(float64(stats.Rows))
	return s, nil
}

// buildCoordinator wires the query path: description vocabulary, model and
// corpus.
func buildCoordinator(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*executor.Coordinator, *store.VectorStore, embedder.Embedder, error) {
	enc, err := loadQueryEncoder(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	emb, err := buildEmbedder(ctx, cfg, m)
	if err != nil {
		return nil, nil, nil, err
	}
	s, err := loadStore(cfg, m)
	if err != nil {
		return nil, nil, nil, err
	}
	if s.Dimension() != emb.Dimension() {
		return nil, nil, nil, fmt.Errorf("%w: code vectors have dimension %d but model %s produces %d",
			apperrors.ErrConfiguration, s.Dimension(), emb.ModelName(), emb.Dimension())
	}
	coord := executor.New(s, enc, emb, executor.Options{Workers: cfg.Search.Workers, Metrics: m})
	return coord, s, emb, nil
}
