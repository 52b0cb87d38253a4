package hnsw

import "sync"

// visitedList is an epoch-tagged mark array: marks[slot] == epoch means
// slot has been visited during the current borrow. Bumping epoch instead
// of zeroing marks makes "clear between queries" O(1).
type visitedList struct {
	epoch uint64
	marks []uint64
}

func (v *visitedList) reset(capacity uint32) {
	if uint32(len(v.marks)) < capacity {
		grown := make([]uint64, capacity)
		copy(grown, v.marks)
		v.marks = grown
	}
	v.epoch++
	if v.epoch == 0 {
		// Wrapped after ~2^64 borrows; the one case a real clear is
		// needed.
		for i := range v.marks {
			v.marks[i] = 0
		}
		v.epoch = 1
	}
}

func (v *visitedList) visit(slot uint32) {
	v.marks[slot] = v.epoch
}

func (v *visitedList) isVisited(slot uint32) bool {
	return slot < uint32(len(v.marks)) && v.marks[slot] == v.epoch
}

// visitedPool is the free-list of epoch buffers shared by every
// concurrent query and insertion. Borrowed via [visitedPool.acquire],
// which returns a release func that callers must defer immediately so the
// buffer is returned on every exit path, including a panic or early
// return on error.
type visitedPool struct {
	mu   sync.Mutex
	free []*visitedList
}

func newVisitedPool() *visitedPool {
	return &visitedPool{}
}

func (p *visitedPool) acquire(capacity uint32) (*visitedList, func()) {
	p.mu.Lock()
	var v *visitedList
	if n := len(p.free); n > 0 {
		v = p.free[n-1]
		p.free = p.free[:n-1]
	}
	p.mu.Unlock()

	if v == nil {
		v = &visitedList{}
	}
	v.reset(capacity)

	release := func() {
		p.mu.Lock()
		p.free = append(p.free, v)
		p.mu.Unlock()
	}
	return v, release
}
