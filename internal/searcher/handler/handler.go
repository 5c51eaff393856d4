// Package handler exposes the search coordinator over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/tracing"
)

type Searcher interface {
	Execute(ctx context.Context, text string, k int) (*executor.Response, error)
}

type Index interface {
	Loaded() bool
	Stats() store.Stats
}

type Tracker interface {
	Track(event analytics.SearchEvent)
}

type QueryLog interface {
	TopQueries(ctx context.Context, since time.Time, limit int) ([]analytics.QueryCount, error)
}

// Options wires the optional collaborators. Nil fields are disabled.
type Options struct {
	DefaultK int
	MaxK     int
	Timeout  time.Duration
	Cache    *cache.QueryCache
	Tracker  Tracker
	QueryLog QueryLog
	Metrics  *metrics.Metrics
}

type Handler struct {
	searcher Searcher
	index    Index
	opts     Options
	logger   *slog.Logger
}

func New(searcher Searcher, index Index, opts Options) *Handler {
	if opts.DefaultK <= 0 {
		opts.DefaultK = 10
	}
	if opts.MaxK < opts.DefaultK {
		opts.MaxK = opts.DefaultK
	}
	return &Handler{
		searcher: searcher,
		index:    index,
		opts:     opts,
		logger:   logger.WithComponent("search-handler"),
	}
}

// Register adds the search API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/index", h.IndexStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /api/v1/queries/top", h.TopQueries)
}

type resultView struct {
	Score float64 `json:"score"`
	Code  string  `json:"code"`
}

type searchResponse struct {
	Query     string       `json:"query"`
	K         int          `json:"k"`
	Results   []resultView `json:"results"`
	Chunks    int          `json:"chunks"`
	CacheHit  bool         `json:"cache_hit"`
	LatencyMs int64        `json:"latency_ms"`
}

// Search serves GET /api/v1/search?q=<text>&k=<n>.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'q' is required"))
		return
	}
	k, err := h.parseK(r.URL.Query().Get("k"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !h.index.Loaded() {
		h.writeError(w, apperrors.New(apperrors.ErrNotReady, http.StatusServiceUnavailable, "code vectors are not loaded"))
		return
	}

	ctx, span := tracing.StartSpan(ctx, "search", logger.RequestID(ctx))
	searchCtx := ctx
	if h.opts.Cache != nil {
		// A cached search is shared with concurrent callers of the same key,
		// so it outlives this request's cancellation and is bounded by the
		// search timeout alone.
		searchCtx = context.WithoutCancel(ctx)
	}
	compute := func() (*cache.Entry, error) {
		var entry *cache.Entry
		err := resilience.WithTimeout(searchCtx, h.opts.Timeout, "search", func(ctx context.Context) error {
			resp, err := h.searcher.Execute(ctx, q, k)
			if err != nil {
				return err
			}
			entry = &cache.Entry{Results: resp.Results, Chunks: resp.Chunks}
			return nil
		})
		return entry, err
	}

	var entry *cache.Entry
	cacheHit := false
	if h.opts.Cache != nil {
		entry, cacheHit, err = h.opts.Cache.GetOrCompute(ctx, q, k, compute)
	} else {
		entry, err = compute()
	}
	span.SetAttr("cache_hit", cacheHit)
	span.End()
	span.Log(ctx, log)

	latency := time.Since(start)
	if err != nil {
		log.Error("search failed", "query", q, "k", k, "error", err)
		h.record(q, k, nil, cacheHit, latency, err, logger.RequestID(ctx))
		h.writeError(w, err)
		return
	}

	log.Info("search completed",
		"query", q,
		"k", k,
		"returned", len(entry.Results),
		"chunks", entry.Chunks,
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	h.record(q, k, entry, cacheHit, latency, nil, logger.RequestID(ctx))

	resp := searchResponse{
		Query:     q,
		K:         k,
		Results:   make([]resultView, len(entry.Results)),
		Chunks:    entry.Chunks,
		CacheHit:  cacheHit,
		LatencyMs: latency.Milliseconds(),
	}
	for i, c := range entry.Results {
		resp.Results[i] = resultView{Score: c.Score, Code: c.Code}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// parseK applies the default for an absent k and clamps large values to
// MaxK.
func (h *Handler) parseK(raw string) (int, error) {
	if raw == "" {
		return h.opts.DefaultK, nil
	}
	k, err := strconv.Atoi(raw)
	if err != nil || k < 1 {
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "k must be a positive integer, got %q", raw)
	}
	return min(k, h.opts.MaxK), nil
}

func (h *Handler) record(q string, k int, entry *cache.Entry, cacheHit bool, latency time.Duration, searchErr error, requestID string) {
	event := analytics.SearchEvent{
		Type:      analytics.EventSearch,
		Query:     q,
		Tokens:    query.Tokenize(q),
		K:         k,
		LatencyMs: latency.Milliseconds(),
		CacheHit:  cacheHit,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
	resultType := "miss"
	switch {
	case searchErr != nil:
		event.Type = analytics.EventSearchError
		event.Error = searchErr.Error()
		resultType = "error"
	case len(entry.Results) == 0:
		event.Chunks = entry.Chunks
		resultType = "zero_result"
	default:
		event.Returned = len(entry.Results)
		event.Chunks = entry.Chunks
		event.TopScore = entry.Results[0].Score
		if cacheHit {
			resultType = "hit"
		}
	}

	if m := h.opts.Metrics; m != nil {
		m.SearchQueriesTotal.WithLabelValues(resultType).Inc()
		status := "miss"
		if cacheHit {
			status = "hit"
		}
		m.SearchLatency.WithLabelValues(status).Observe(latency.Seconds())
		m.SearchResultsCount.Observe(float64(event.Returned))
	}
	if h.opts.Tracker != nil {
		h.opts.Tracker.Track(event)
	}
}

func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.index.Stats())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.opts.Cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.opts.Cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.opts.Cache == nil {
		h.writeError(w, apperrors.New(apperrors.ErrNotReady, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}
	deleted, err := h.opts.Cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

// TopQueries serves GET /api/v1/queries/top?limit=<n>&window=<duration>.
func (h *Handler) TopQueries(w http.ResponseWriter, r *http.Request) {
	if h.opts.QueryLog == nil {
		h.writeError(w, apperrors.New(apperrors.ErrNotReady, http.StatusServiceUnavailable, "query log is disabled"))
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer, got %q", raw))
			return
		}
		limit = n
	}
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			h.writeError(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "window must be a positive duration, got %q", raw))
			return
		}
		window = d
	}
	top, err := h.opts.QueryLog.TopQueries(r.Context(), time.Now().Add(-window), limit)
	if err != nil {
		h.logger.Error("top queries failed", "error", err)
		h.writeError(w, err)
		return
	}
	if top == nil {
		top = []analytics.QueryCount{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"window": window.String(), "queries": top})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to a status. Internal failures are not echoed to the
// client.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	} else if status == http.StatusInternalServerError {
		message = "search failed"
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
