// Package tracing records a tree of timed spans for one request through the
// context, and logs the finished tree at debug level.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration
	Children  []*Span
	Attrs     map[string]any
	mu        sync.Mutex
}

// StartSpan begins a root span.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	span := newSpan(name, traceID)
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChildSpan begins a span under the one in ctx. Without a parent the
// span is still usable but belongs to no tree.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	var traceID string
	if parent != nil {
		traceID = parent.TraceID
	}
	child := newSpan(name, traceID)
	if parent != nil {
		parent.mu.Lock()
		parent.Children = append(parent.Children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, child), child
}

func newSpan(name, traceID string) *Span {
	return &Span{
		Name:      name,
		TraceID:   traceID,
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
}

func (s *Span) End() {
	s.mu.Lock()
	s.Duration = time.Since(s.StartTime)
	s.mu.Unlock()
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.Attrs[key] = value
	s.mu.Unlock()
}

func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

// Timings flattens the tree into name/duration pairs keyed by slash-joined
// path, e.g. "search/fan_out".
func (s *Span) Timings() map[string]time.Duration {
	out := make(map[string]time.Duration)
	s.walk("", func(path string, span *Span) {
		out[path] = span.Duration
	})
	return out
}

// Log writes one debug record per span to l.
func (s *Span) Log(ctx context.Context, l *slog.Logger) {
	if !l.Enabled(ctx, slog.LevelDebug) {
		return
	}
	s.walk("", func(path string, span *Span) {
		span.mu.Lock()
		attrs := []any{"trace_id", span.TraceID, "span", path, "duration_ms", span.Duration.Milliseconds()}
		for k, v := range span.Attrs {
			attrs = append(attrs, k, v)
		}
		span.mu.Unlock()
		l.DebugContext(ctx, "span", attrs...)
	})
}

func (s *Span) walk(prefix string, fn func(path string, span *Span)) {
	path := s.Name
	if prefix != "" {
		path = prefix + "/" + s.Name
	}
	fn(path, s)
	s.mu.Lock()
	children := append([]*Span(nil), s.Children...)
	s.mu.Unlock()
	for _, child := range children {
		child.walk(path, fn)
	}
}
