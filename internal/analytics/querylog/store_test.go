package querylog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/postgres"
)

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 20, clampLimit(0))
	assert.Equal(t, 20, clampLimit(-5))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, 1000, clampLimit(5000))
}

func TestInsertArgsDefaults(t *testing.T) {
	args := insertArgs(analytics.SearchEvent{Query: "read file", K: 10})
	require.Len(t, args, 11)
	assert.Equal(t, "read file", args[1])
	ts, ok := args[10].(time.Time)
	require.True(t, ok)
	assert.False(t, ts.IsZero())
	assert.Equal(t, time.UTC, ts.Location())
}

// TestStoreAgainstPostgres runs only when CS_POSTGRES_HOST points at a
// disposable database.
func TestStoreAgainstPostgres(t *testing.T) {
	host := os.Getenv("CS_POSTGRES_HOST")
	if host == "" {
		t.Skip("CS_POSTGRES_HOST not set")
	}
	cfg := config.PostgresConfig{
		Host: host, Port: 5432, Database: "codesearch", User: "codesearch",
		Password: os.Getenv("CS_POSTGRES_PASSWORD"), SSLMode: "disable",
		MaxOpenConns: 2, MaxIdleConns: 1, ConnMaxLifetime: time.Minute,
	}
	ctx := context.Background()
	db, err := postgres.New(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	require.NoError(t, s.Migrate(ctx))
	_, err = db.DB.ExecContext(ctx, `TRUNCATE search_queries`)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, s.PublishBatch(ctx, []analytics.SearchEvent{
		{Type: analytics.EventSearch, Query: "Read File", Tokens: []string{"read", "file"}, K: 5, Returned: 5, Timestamp: now},
		{Type: analytics.EventSearch, Query: "read file", Tokens: []string{"read", "file"}, K: 5, Returned: 5, Timestamp: now},
		{Type: analytics.EventSearchError, Query: "x", Error: "encoding error", Timestamp: now},
	}))

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	top, err := s.TopQueries(ctx, now.Add(-time.Minute), 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, analytics.QueryCount{Query: "read file", Count: 2}, top[0])
}
