// Package querylog persists search events and periodic stats snapshots in
// PostgreSQL.
package querylog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/analytics"
	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS search_queries (
    id          BIGSERIAL PRIMARY KEY,
    request_id  TEXT NOT NULL DEFAULT '',
    query       TEXT NOT NULL,
    tokens      TEXT[] NOT NULL DEFAULT '{}',
    k           INTEGER NOT NULL,
    returned    INTEGER NOT NULL,
    chunks      INTEGER NOT NULL,
    latency_ms  BIGINT NOT NULL,
    cache_hit   BOOLEAN NOT NULL,
    top_score   DOUBLE PRECISION NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    searched_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS search_queries_searched_at ON search_queries (searched_at DESC);
CREATE TABLE IF NOT EXISTS analytics_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    data        JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// Store writes one row per search event. It implements analytics.Sink.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: logger.WithComponent("query-log"),
	}
}

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schema); err != nil {
		return apperrors.Wrapf(apperrors.ErrStorage, err, "migrating query log")
	}
	return nil
}

// PublishBatch inserts events in one transaction; either all rows land or
// none do.
func (s *Store) PublishBatch(ctx context.Context, events []analytics.SearchEvent) error {
	if len(events) == 0 {
		return nil
	}
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO search_queries
			    (request_id, query, tokens, k, returned, chunks, latency_ms, cache_hit, top_score, error, searched_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range events {
			if _, err := stmt.ExecContext(ctx, insertArgs(e)...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrStorage, err, "writing %d query log rows", len(events))
	}
	s.logger.Debug("query log batch written", "rows", len(events))
	return nil
}

func insertArgs(e analytics.SearchEvent) []any {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	tokens := e.Tokens
	if tokens == nil {
		tokens = []string{}
	}
	return []any{
		e.RequestID, e.Query, pq.Array(tokens), e.K, e.Returned, e.Chunks,
		e.LatencyMs, e.CacheHit, e.TopScore, e.Error, ts.UTC(),
	}
}

// Recent returns the latest logged searches, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]analytics.SearchEvent, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT request_id, query, tokens, k, returned, chunks, latency_ms, cache_hit, top_score, error, searched_at
		FROM search_queries ORDER BY searched_at DESC, id DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrStorage, err, "listing recent queries")
	}
	defer rows.Close()

	var events []analytics.SearchEvent
	for rows.Next() {
		var e analytics.SearchEvent
		if err := rows.Scan(&e.RequestID, &e.Query, pq.Array(&e.Tokens), &e.K, &e.Returned,
			&e.Chunks, &e.LatencyMs, &e.CacheHit, &e.TopScore, &e.Error, &e.Timestamp); err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrStorage, err, "scanning query row")
		}
		e.Type = analytics.EventSearch
		if e.Error != "" {
			e.Type = analytics.EventSearchError
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// TopQueries returns the most frequent successful queries since the given
// time, grouped case-insensitively.
func (s *Store) TopQueries(ctx context.Context, since time.Time, limit int) ([]analytics.QueryCount, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT lower(query) AS q, count(*) AS n
		FROM search_queries
		WHERE searched_at >= $1 AND error = ''
		GROUP BY q ORDER BY n DESC, q ASC LIMIT $2`, since.UTC(), clampLimit(limit))
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrStorage, err, "querying top queries")
	}
	defer rows.Close()

	var out []analytics.QueryCount
	for rows.Next() {
		var qc analytics.QueryCount
		if err := rows.Scan(&qc.Query, &qc.Count); err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrStorage, err, "scanning top query row")
		}
		out = append(out, qc)
	}
	return out, rows.Err()
}

func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	if _, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO analytics_snapshots (data, captured_at) VALUES ($1, $2)`,
		data, time.Now().UTC(),
	); err != nil {
		return apperrors.Wrapf(apperrors.ErrStorage, err, "saving analytics snapshot")
	}
	s.logger.Info("analytics snapshot saved", "total_searches", stats.TotalSearches)
	return nil
}

// LatestSnapshot returns nil, nil when no snapshot has been saved.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data FROM analytics_snapshots ORDER BY captured_at DESC LIMIT 1`,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrStorage, err, "querying latest snapshot")
	}
	var stats analytics.AggregatedStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &stats, nil
}

// StartPeriodicSnapshots saves agg's stats every interval and once more
// when ctx ends. A non-positive interval disables snapshots.
func (s *Store) StartPeriodicSnapshots(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.SaveSnapshot(ctx, agg.Stats()); err != nil {
					s.logger.Error("periodic snapshot failed", "error", err)
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.SaveSnapshot(shutdownCtx, agg.Stats()); err != nil {
					s.logger.Error("final snapshot failed", "error", err)
				}
				cancel()
				return
			}
		}
	}()
	s.logger.Info("periodic snapshots started", "interval", interval)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
