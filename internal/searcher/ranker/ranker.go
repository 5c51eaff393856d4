// Package ranker scores one chunk of code vectors against a query vector and
// selects its best rows.
package ranker

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/store/vecfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
)

// Candidate is a scored row of a chunk.
type Candidate struct {
	Chunk int     `json:"chunk"`
	Row   int     `json:"row"`
	Score float64 `json:"score"`
	Code  string  `json:"code"`
}

// Better is the total order used for every selection and merge: higher score
// first, then lower chunk index, then lower row index.
func Better(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Chunk != b.Chunk {
		return a.Chunk < b.Chunk
	}
	return a.Row < b.Row
}

// SearchChunk returns the min(k, rows) rows of vectors with the highest
// cosine similarity to query, unordered. The inputs are only read, so
// disjoint chunks may be searched concurrently.
func SearchChunk(query []float32, vectors vecfile.Matrix, codebase []string, k int) ([]Candidate, error) {
	if vectors.Rows != len(codebase) {
		return nil, fmt.Errorf("%w: chunk has %d vectors but %d code lines",
			apperrors.ErrConfiguration, vectors.Rows, len(codebase))
	}
	if k <= 0 || vectors.Rows == 0 {
		return []Candidate{}, nil
	}
	if vectors.Dim != len(query) {
		return nil, fmt.Errorf("%w: query dimension %d does not match code vector dimension %d",
			apperrors.ErrConfiguration, len(query), vectors.Dim)
	}

	scores := Cosine(query, vectors)
	candidates := make([]Candidate, len(scores))
	for i, s := range scores {
		candidates[i] = Candidate{Row: i, Score: s}
	}
	k = min(k, len(candidates))
	selectTop(candidates, k)
	top := candidates[:k:k]
	for i := range top {
		top[i].Code = codebase[top[i].Row]
	}
	return top, nil
}

// Cosine computes the cosine similarity between query and every row of m.
// Rows with zero norm score 0. NaN scores are mapped to -Inf so that the
// result keeps a total order.
func Cosine(query []float32, m vecfile.Matrix) []float64 {
	qNorm := norm(query)
	scores := make([]float64, m.Rows)
	for i := range scores {
		row := m.Row(i)
		var dot, rNorm float64
		for j, v := range row {
			dot += float64(query[j]) * float64(v)
			rNorm += float64(v) * float64(v)
		}
		denom := qNorm * math.Sqrt(rNorm)
		switch {
		case denom == 0:
			scores[i] = 0
		case math.IsNaN(dot / denom):
			scores[i] = math.Inf(-1)
		default:
			scores[i] = dot / denom
		}
	}
	return scores
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// selectTop reorders c so its first k entries are the k best under Better.
// Quickselect with a random pivot, expected linear time.
func selectTop(c []Candidate, k int) {
	if k <= 0 || k >= len(c) {
		return
	}
	lo, hi := 0, len(c)-1
	for lo < hi {
		p := partition(c, lo, hi, lo+rand.IntN(hi-lo+1))
		switch {
		case p == k-1:
			return
		case p < k-1:
			lo = p + 1
		default:
			hi = p - 1
		}
	}
}

func partition(c []Candidate, lo, hi, pivot int) int {
	c[pivot], c[hi] = c[hi], c[pivot]
	store := lo
	for i := lo; i < hi; i++ {
		if Better(c[i], c[hi]) {
			c[store], c[i] = c[i], c[store]
			store++
		}
	}
	c[store], c[hi] = c[hi], c[store]
	return store
}
