package analytics

import "time"

type EventType string

const (
	EventSearch      EventType = "search"
	EventSearchError EventType = "search_error"
)

// SearchEvent describes one served search.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Tokens    []string  `json:"tokens"`
	K         int       `json:"k"`
	Returned  int       `json:"returned"`
	Chunks    int       `json:"chunks"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	TopScore  float64   `json:"top_score"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// ZeroResult reports a successful search that returned nothing.
func (e SearchEvent) ZeroResult() bool {
	return e.Type == EventSearch && e.Returned == 0
}
