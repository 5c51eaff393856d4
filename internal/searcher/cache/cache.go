// Package cache memoises search results in Redis. The corpus and model are
// immutable while the service runs, so entries only leave through their TTL
// or an explicit Invalidate.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/redis"
)

const keyPrefix = "search:"

// Backend is the key-value store behind the cache. *pkgredis.Client
// implements it; a missing key must be reported with an error for which
// pkgredis.IsNilError is true.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Entry is what gets cached for a query.
type Entry struct {
	Results []ranker.Candidate `json:"results"`
	Chunks  int                `json:"chunks"`
}

// Config scopes keys to one model checkpoint.
type Config struct {
	TTL   time.Duration
	Model string
	Epoch int
}

type QueryCache struct {
	backend Backend
	cfg     Config
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache over backend. m may be nil.
func New(backend Backend, cfg Config, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		backend: backend,
		cfg:     cfg,
		metrics: m,
		logger:  logger.WithComponent("query-cache"),
	}
}

// Get looks query up. Backend failures are logged and reported as misses.
func (c *QueryCache) Get(ctx context.Context, q string, k int) (*Entry, bool) {
	key := c.Key(q, k)
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "query", q, "key", key)
	return &entry, true
}

func (c *QueryCache) Set(ctx context.Context, q string, k int, entry *Entry) {
	key := c.Key(q, k)
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.cfg.TTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached entry for (q, k) or computes and stores
// it. Concurrent misses for the same key share one computation. The bool
// reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	q string,
	k int,
	computeFn func() (*Entry, error),
) (*Entry, bool, error) {
	if entry, ok := c.Get(ctx, q, k); ok {
		return entry, true, nil
	}
	key := c.Key(q, k)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		entry, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(context.WithoutCancel(ctx), q, k, entry)
		return entry, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*Entry), false, nil
}

// Invalidate drops every search entry, for every model.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Key derives the cache key of a query. Queries that tokenize identically
// share a key.
func (c *QueryCache) Key(q string, k int) string {
	raw := fmt.Sprintf("%s|%d|%s|k=%d", c.cfg.Model, c.cfg.Epoch, strings.Join(query.Tokenize(q), " "), k)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
