// Package merger combines per-chunk candidates into the global top k.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/searcher/ranker"
)

// Merge returns the k best candidates across all partial results, best first.
// Ordering follows ranker.Better, so equal scores are broken by chunk index
// and then by row index.
func Merge(partials [][]ranker.Candidate, k int) []ranker.Candidate {
	if k <= 0 {
		return []ranker.Candidate{}
	}
	h := &candidateHeap{}
	heap.Init(h)
	for _, results := range partials {
		for _, c := range results {
			if h.Len() < k {
				heap.Push(h, c)
				continue
			}
			if ranker.Better(c, (*h)[0]) {
				(*h)[0] = c
				heap.Fix(h, 0)
			}
		}
	}
	result := make([]ranker.Candidate, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(ranker.Candidate)
	}
	return result
}

// candidateHeap is a min-heap: the root is the worst kept candidate.
type candidateHeap []ranker.Candidate

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool {
	return ranker.Better(h[j], h[i])
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x interface{}) {
	*h = append(*h, x.(ranker.Candidate))
}

func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
