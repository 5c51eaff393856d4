// Package embedder maps token id sequences to dense vectors. The description
// side encodes queries at search time; the code side encodes the corpus
// offline.
package embedder

import (
	"context"
	"math"
	"sync"
)

// Embedder is a trained joint embedding model.
type Embedder interface {
	// EncodeText embeds a padded description id sequence.
	EncodeText(ctx context.Context, desc []int) ([]float32, error)
	// EncodeCode embeds the padded method name, API sequence and body tokens
	// of one code sample.
	EncodeCode(ctx context.Context, name, api, tokens []int) ([]float32, error)
	Dimension() int
	ModelName() string
}

// Normalize returns vec scaled to unit L2 norm. ok is false when vec has
// zero norm (or is not finite), in which case vec is returned unchanged.
func Normalize(vec []float32) (out []float32, ok bool) {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	n := math.Sqrt(sum)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return vec, false
	}
	out = make([]float32, len(vec))
	for i, x := range vec {
		out[i] = float32(float64(x) / n)
	}
	return out, true
}

// Serialized wraps an Embedder whose runtime is not safe for concurrent use.
type Serialized struct {
	mu    sync.Mutex
	inner Embedder
}

func NewSerialized(inner Embedder) *Serialized {
	return &Serialized{inner: inner}
}

func (s *Serialized) EncodeText(ctx context.Context, desc []int) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.EncodeText(ctx, desc)
}

func (s *Serialized) EncodeCode(ctx context.Context, name, api, tokens []int) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.EncodeCode(ctx, name, api, tokens)
}

func (s *Serialized) Dimension() int {
	return s.inner.Dimension()
}

func (s *Serialized) ModelName() string {
	return s.inner.ModelName()
}
