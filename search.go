package hnsw

import (
	"fmt"

	"github.com/calvinalkan/hnswindex/space"
)

// Filter decides whether a label survives into the final k-NN result set.
// Applied only after the beam search closes, per the boundary contract:
// the beam itself is not filter-aware.
type Filter func(label uint64) bool

// AllowDenyFilter builds a [Filter] implementing the boundary's allow/deny
// list semantics: (allow empty OR label in allow) AND (label not in deny).
// A nil or empty allow set means "no allow restriction".
func AllowDenyFilter(allow, deny map[uint64]struct{}) Filter {
	return func(label uint64) bool {
		if len(allow) > 0 {
			if _, ok := allow[label]; !ok {
				return false
			}
		}
		if len(deny) > 0 {
			if _, ok := deny[label]; ok {
				return false
			}
		}
		return true
	}
}

// Knn returns up to k labels closest to query, closest-first, alongside
// their distances. filter may be nil to accept every live label. Uses the
// index's current runtime ef (see [Index.SetEf]); ef < k is permitted and
// may yield fewer than k results; no entries are fabricated to pad the
// result.
func (idx *Index[E]) Knn(query []E, k int, filter Filter) ([]uint64, []float64, error) {
	if k <= 0 {
		return nil, nil, wrap(fmt.Errorf("%w: k must be > 0", ErrInvalidArgument), withOp("Knn"))
	}
	if len(query) != idx.dim {
		return nil, nil, wrap(fmt.Errorf("%w: query has %d elements, want %d", ErrInvalidArgument, len(query), idx.dim), withOp("Knn"))
	}

	q := append([]E(nil), query...)
	if idx.opts.Space == space.InnerProduct {
		if ok := idx.sp.Normalize(q); !ok {
			return nil, nil, wrap(fmt.Errorf("%w: zero-norm query under cosine space", ErrInvalidArgument), withOp("Knn"))
		}
	}

	idx.structural.RLock()
	defer idx.structural.RUnlock()

	idx.entryMu.Lock()
	ep := idx.entry
	idx.entryMu.Unlock()

	if !ep.valid {
		return nil, nil, nil
	}

	cur := candidate{slot: ep.slot, dist: idx.sp.Distance(q, idx.arena.Vector(ep.slot))}
	for layer := ep.level; layer >= 1; layer-- {
		cur = idx.greedySearchLayer(q, cur, int(layer))
	}

	ef := idx.GetEf()
	width := ef
	if k > width {
		width = k
	}

	results, release := idx.beamSearchLayer(q, []candidate{cur}, 0, width, noExclusion)
	defer release()

	ascending := sortedAscending(results)

	ids := make([]uint64, 0, k)
	dists := make([]float64, 0, k)
	for _, c := range ascending {
		if len(ids) >= k {
			break
		}
		if idx.arena.Tombstoned(c.slot) {
			continue
		}
		label := idx.arena.Label(c.slot)
		if filter != nil && !filter(label) {
			continue
		}
		ids = append(ids, label)
		dists = append(dists, c.dist)
	}

	return ids, dists, nil
}

// noExclusion is passed to beamSearchLayer for queries, which have no
// "self" slot to exclude the way insertion excludes the slot being
// inserted. It is out of range for any real slot id.
const noExclusion = ^uint32(0)
