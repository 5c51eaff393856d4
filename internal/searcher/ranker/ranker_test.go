package ranker

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/store/vecfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
)

func matrix(rows ...[]float32) vecfile.Matrix {
	m := vecfile.NewMatrix(len(rows), len(rows[0]))
	for i, r := range rows {
		copy(m.Row(i), r)
	}
	return m
}

func codes(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("code%d", i)
	}
	return out
}

func rows(cands []Candidate) []int {
	out := make([]int, len(cands))
	for i, c := range cands {
		out[i] = c.Row
	}
	sort.Ints(out)
	return out
}

func TestSearchChunkTopK(t *testing.T) {
	m := matrix(
		[]float32{1, 0},
		[]float32{0, 1},
		[]float32{0.8, 0.6},
		[]float32{-1, 0},
		[]float32{0.6, 0.8},
	)
	got, err := SearchChunk([]float32{1, 0}, m, codes(5), 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, rows(got))
	for _, c := range got {
		assert.Equal(t, fmt.Sprintf("code%d", c.Row), c.Code)
	}
}

func TestSearchChunkKLargerThanRows(t *testing.T) {
	m := matrix([]float32{1, 0}, []float32{0, 1})
	got, err := SearchChunk([]float32{1, 1}, m, codes(2), 200)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, rows(got))
}

func TestSearchChunkDegenerate(t *testing.T) {
	m := matrix([]float32{1, 0})

	got, err := SearchChunk([]float32{1, 0}, m, codes(1), 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = SearchChunk([]float32{1, 0}, vecfile.NewMatrix(0, 2), nil, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchChunkTiesPreferLowerRow(t *testing.T) {
	m := matrix([]float32{1, 0}, []float32{1, 0}, []float32{1, 0}, []float32{0, 1})
	for i := 0; i < 20; i++ {
		got, err := SearchChunk([]float32{1, 0}, m, codes(4), 2)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1}, rows(got))
	}
}

func TestSearchChunkMismatch(t *testing.T) {
	m := matrix([]float32{1, 0, 0})

	_, err := SearchChunk([]float32{1, 0}, m, codes(1), 1)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)

	_, err = SearchChunk([]float32{1, 0, 0}, m, codes(2), 1)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestCosineZeroRow(t *testing.T) {
	scores := Cosine([]float32{3, 4}, matrix([]float32{0, 0}, []float32{6, 8}))
	assert.Equal(t, 0.0, scores[0])
	assert.InDelta(t, 1.0, scores[1], 1e-9)
}

func TestSelectTopMatchesSort(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 50; trial++ {
		n := 1 + r.IntN(200)
		k := 1 + r.IntN(n)
		c := make([]Candidate, n)
		for i := range c {
			// Few distinct scores so that ties are common.
			c[i] = Candidate{Row: i, Score: float64(r.IntN(10))}
		}
		want := append([]Candidate(nil), c...)
		sort.Slice(want, func(i, j int) bool { return Better(want[i], want[j]) })

		selectTop(c, k)
		got := c[:k]
		sort.Slice(got, func(i, j int) bool { return Better(got[i], got[j]) })
		assert.Equal(t, want[:k], got, "n=%d k=%d", n, k)
	}
}

func BenchmarkSearchChunk(b *testing.B) {
	const n, dim = 20000, 64
	m := vecfile.NewMatrix(n, dim)
	r := rand.New(rand.NewPCG(3, 4))
	for i := range m.Data {
		m.Data[i] = r.Float32()*2 - 1
	}
	q := m.Row(17)
	code := codes(n)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := SearchChunk(q, m, code, 10); err != nil {
			b.Fatal(err)
		}
	}
}
