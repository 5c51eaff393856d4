package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/analytics/querylog"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/redis"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctx, stop, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting search service", "port", cfg.Server.Port, "model", cfg.Model.Name, "epoch", cfg.Model.Epoch)
	m, stopMetrics := startMetrics(cfg)
	defer stopMetrics()

	coord, vectors, emb, err := buildCoordinator(ctx, cfg, m)
	if err != nil {
		return err
	}
	checker := health.NewChecker()
	checker.Register("index", health.Ready(vectors.Loaded, "code vectors not loaded"))
	checker.Register("embedder", func(context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%s dim=%d", emb.ModelName(), emb.Dimension())}
	})

	queryCache, closeCache := buildCache(ctx, cfg, m, checker)
	defer closeCache()

	var queryLog *querylog.Store
	if cfg.Postgres.Enabled {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, query log disabled", "error", err)
		} else {
			defer db.Close()
			queryLog = querylog.NewStore(db)
			if err := queryLog.Migrate(ctx); err != nil {
				return err
			}
			checker.RegisterOptional("postgres", health.Ping(db.Ping))
			slog.Info("query log enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		}
	}

	aggregator := analytics.NewAggregator()
	sinks := analytics.MultiSink{aggregator}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		sinks = append(sinks, analytics.NewKafkaSink(producer))
		slog.Info("search events published to kafka", "topic", producer.Topic())
	} else if queryLog != nil {
		sinks = append(sinks, queryLog)
	}
	collector := analytics.NewCollector(sinks, cfg.Analytics.BufferSize, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
	collector.Start(ctx)

	opts := handler.Options{
		DefaultK: cfg.Search.DefaultK,
		MaxK:     cfg.Search.MaxK,
		Timeout:  cfg.Search.Timeout,
		Cache:    queryCache,
		Tracker:  collector,
		Metrics:  m,
	}
	if queryLog != nil {
		opts.QueryLog = queryLog
	}
	h := handler.New(coord, vectors, opts)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /api/v1/analytics", analytics.NewHandler(aggregator).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      buildChain(ctx, mux, cfg, m),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	err = runServer(ctx, server, cfg.Server.ShutdownTimeout)
	collector.Close()
	slog.Info("search service stopped", "analytics_dropped", collector.Dropped())
	return err
}

// buildChain wraps mux, outermost first: request id, CORS, metrics, rate
// limit, timeout.
func buildChain(ctx context.Context, mux http.Handler, cfg *config.Config, m *metrics.Metrics) http.Handler {
	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.CORS(middleware.DefaultCORSConfig()),
		middleware.Metrics(m),
	}
	if cfg.Server.RateLimit > 0 {
		limiter := middleware.NewLimiter(cfg.Server.RateLimit, time.Minute)
		limiter.StartSweeper(ctx)
		mws = append(mws, middleware.RateLimit(limiter))
	}
	if cfg.Server.WriteTimeout > 0 {
		mws = append(mws, middleware.Timeout(cfg.Server.WriteTimeout))
	}
	return middleware.Chain(mux, mws...)
}

// buildCache prefers Redis and falls back to the in-process cache. A nil
// cache means result caching is off.
func buildCache(ctx context.Context, cfg *config.Config, m *metrics.Metrics, checker *health.Checker) (*cache.QueryCache, func()) {
	cacheCfg := cache.Config{TTL: cfg.Redis.CacheTTL, Model: cfg.Model.Name, Epoch: cfg.Model.Epoch}
	if cfg.Redis.Enabled {
		client, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err == nil {
			checker.RegisterOptional("redis", health.Ping(client.Ping))
			slog.Info("search cache enabled", "backend", "redis", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
			return cache.New(client, cacheCfg, m), func() { client.Close() }
		}
		slog.Warn("redis unavailable, falling back to local cache", "error", err)
	}
	if cfg.Redis.LocalSize <= 0 {
		slog.Info("search cache disabled")
		return nil, func() {}
	}
	slog.Info("search cache enabled", "backend", "local", "size", cfg.Redis.LocalSize, "ttl", cfg.Redis.CacheTTL)
	return cache.New(cache.NewLocalBackend(cfg.Redis.LocalSize, cfg.Redis.CacheTTL), cacheCfg, m), func() {}
}

// runServer serves until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, server *http.Server, shutdownTimeout time.Duration) error {
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving %s: %w", server.Addr, err)
	}
	return nil
}
