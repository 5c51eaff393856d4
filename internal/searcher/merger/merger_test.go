package merger

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/searcher/ranker"
)

func TestMergeAgainstBruteForce(t *testing.T) {
	partials := [][]ranker.Candidate{
		{{Chunk: 0, Row: 0, Score: 0.9}, {Chunk: 0, Row: 1, Score: 0.1}},
		{{Chunk: 1, Row: 0, Score: 0.5}, {Chunk: 1, Row: 1, Score: 0.95}},
		{{Chunk: 2, Row: 0, Score: 0.3}, {Chunk: 2, Row: 1, Score: 0.7}},
	}
	var all []ranker.Candidate
	for _, p := range partials {
		all = append(all, p...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })

	for k := 1; k <= 6; k++ {
		assert.Equal(t, all[:k], Merge(partials, k), "k=%d", k)
	}
}

func TestMergeTieBreak(t *testing.T) {
	partials := [][]ranker.Candidate{
		{{Chunk: 0, Row: 3, Score: 0.5}},
		{{Chunk: 1, Row: 0, Score: 0.5}, {Chunk: 1, Row: 1, Score: 0.5}},
		{{Chunk: 2, Row: 0, Score: 0.8}},
	}
	got := Merge(partials, 3)
	assert.Equal(t, []ranker.Candidate{
		{Chunk: 2, Row: 0, Score: 0.8},
		{Chunk: 0, Row: 3, Score: 0.5},
		{Chunk: 1, Row: 0, Score: 0.5},
	}, got)
}

func TestMergeDegenerate(t *testing.T) {
	partials := [][]ranker.Candidate{{{Row: 0, Score: 1}}, {}, nil}

	assert.Empty(t, Merge(partials, 0))
	assert.Empty(t, Merge(nil, 10))
	assert.Len(t, Merge(partials, 1000), 1)
}
