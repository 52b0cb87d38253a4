package hnsw

import "container/heap"

// candidate is one (slot, distance) pair ordered with the tie-break rule
// every comparison in the graph core uses: compare (distance, slot_id)
// lexicographically so equal distances still produce a reproducible order.
type candidate struct {
	slot uint32
	dist float64
}

func less(a, b candidate) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.slot < b.slot
}

// candidateMinHeap pops the closest candidate first. Used as the beam
// search frontier: the next unexpanded candidate to visit.
type candidateMinHeap []candidate

func (h candidateMinHeap) Len() int            { return len(h) }
func (h candidateMinHeap) Less(i, j int) bool  { return less(h[i], h[j]) }
func (h candidateMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateMinHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candidateMinHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// candidateMaxHeap pops the farthest candidate first. Used as the bounded
// result set during beam search: when it exceeds its width, the farthest
// entry is evicted.
type candidateMaxHeap []candidate

func (h candidateMaxHeap) Len() int           { return len(h) }
func (h candidateMaxHeap) Less(i, j int) bool { return less(h[j], h[i]) }
func (h candidateMaxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateMaxHeap) Push(x interface{}) {
	*h = append(*h, x.(candidate))
}
func (h *candidateMaxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func pushMin(h *candidateMinHeap, c candidate) { heap.Push(h, c) }
func popMin(h *candidateMinHeap) candidate     { return heap.Pop(h).(candidate) }

func pushMax(h *candidateMaxHeap, c candidate) { heap.Push(h, c) }
func popMax(h *candidateMaxHeap) candidate     { return heap.Pop(h).(candidate) }

// peekMax returns the farthest entry in h without removing it.
func peekMax(h candidateMaxHeap) candidate { return h[0] }

// sortedAscending drains a max-heap copy into closest-first order without
// mutating h.
func sortedAscending(h candidateMaxHeap) []candidate {
	cp := append(candidateMaxHeap(nil), h...)
	out := make([]candidate, len(cp))
	for i := len(cp) - 1; i >= 0; i-- {
		out[i] = popMax(&cp)
	}
	return out
}
