package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/analytics/querylog"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/postgres"
)

func newAnalyticsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Consume search events from Kafka and serve aggregated stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctx, stop, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer stop()
			return runAnalytics(ctx, cfg)
		},
	}
}

func runAnalytics(ctx context.Context, cfg *config.Config) error {
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("%w: analytics worker needs kafka.enabled", apperrors.ErrConfiguration)
	}
	slog.Info("starting analytics worker", "port", cfg.Analytics.Port, "topic", cfg.Kafka.Topic)
	m, stopMetrics := startMetrics(cfg)
	defer stopMetrics()

	aggregator := analytics.NewAggregator()
	sinks := analytics.MultiSink{aggregator}
	checker := health.NewChecker()

	if cfg.Postgres.Enabled {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()
		store := querylog.NewStore(db)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		sinks = append(sinks, store)
		store.StartPeriodicSnapshots(ctx, aggregator, cfg.Analytics.SnapshotInterval)
		checker.Register("postgres", health.Ping(db.Ping))
	}

	consumer := kafka.NewConsumer(cfg.Kafka, func(ctx context.Context, key, value []byte) error {
		event, err := kafka.DecodeJSON[analytics.SearchEvent](value)
		if err != nil {
			slog.Error("skipping undecodable search event", "key", string(key), "error", err)
			return nil
		}
		return sinks.PublishBatch(ctx, []analytics.SearchEvent{event})
	})
	defer consumer.Close()
	checker.Register("kafka", func(context.Context) health.ComponentHealth {
		processed, failed := consumer.Counts()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("processed=%d failed=%d", processed, failed),
		}
	})
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analytics.NewHandler(aggregator).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Analytics.Port),
		Handler:      middleware.Chain(mux, middleware.RequestID, middleware.Metrics(m)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return runServer(ctx, server, cfg.Server.ShutdownTimeout)
}
