package hnsw

import (
	"fmt"
	"math"
	"sort"

	"github.com/calvinalkan/hnswindex/space"
)

// Add inserts vec under label, or updates the vector for an existing live
// label in place. If replaceDeleted is true and the index allows it, a
// tombstoned slot is reused instead of growing the arena.
//
// This implements add_point's full procedure: update-degrade for an
// existing live label, tombstone reuse, level sampling, greedy descent
// down to the insertion level, per-layer beam search, heuristic neighbor
// selection, bidirectional linking with capacity enforcement, and
// entry-point promotion.
func (idx *Index[E]) Add(vec []E, label uint64, replaceDeleted bool) error {
	if len(vec) != idx.dim {
		return wrap(fmt.Errorf("%w: vector has %d elements, want %d", ErrInvalidArgument, len(vec), idx.dim), withOp("Add"), withLabel(label))
	}
	if replaceDeleted && !idx.opts.AllowReplaceDeleted {
		return wrap(fmt.Errorf("%w: replace_deleted not enabled for this index", ErrInvalidArgument), withOp("Add"), withLabel(label))
	}

	stored := append([]E(nil), vec...)
	var original []E
	if idx.opts.StoreOriginal {
		original = append([]E(nil), vec...)
	}
	if idx.opts.Space == space.InnerProduct {
		if ok := idx.sp.Normalize(stored); !ok {
			return wrap(fmt.Errorf("%w: zero-norm vector under cosine space", ErrInvalidArgument), withOp("Add"), withLabel(label))
		}
	}

	idx.structural.RLock()
	defer idx.structural.RUnlock()

	if slot, ok := idx.labels.Lookup(label); ok && !idx.arena.Tombstoned(slot) {
		return idx.updateInPlace(slot, stored, original)
	}

	if replaceDeleted {
		if slot, ok := idx.popTombstone(); ok {
			// The reused slot keeps the level from its previous life:
			// other slots may still hold edges to it at any layer up to
			// that level (tombstones are not pruned from neighbor lists),
			// and lowering the level would leave those edges pointing at a
			// slot that no longer participates in their layer. Its
			// neighborhood is repaired the same way an in-place update
			// repairs one.
			level := idx.arena.Level(slot)
			formerNeighbors := idx.formerNeighborSeed(slot, level)
			idx.removeBackEdges(slot, level)

			// Write the slot's new contents before touching the label
			// directory, so the new label never resolves to a half-written
			// slot; clear the tombstone only after the directory swap, so
			// the old label stops resolving before the slot turns live.
			oldLabel := idx.arena.Label(slot)
			idx.arena.SetVector(slot, stored)
			if idx.opts.StoreOriginal {
				idx.arena.SetOriginal(slot, original)
			}
			idx.arena.SetLabel(slot, label)
			idx.labels.ReplaceTombstoned(oldLabel, label, slot)
			idx.arena.MarkReused(slot)
			return idx.linkExistingSlot(slot, level, stored, formerNeighbors)
		}
	}

	slot, ok := idx.arena.Alloc()
	if !ok {
		return wrap(ErrCapacityExceeded, withOp("Add"), withLabel(label))
	}
	idx.arena.SetVector(slot, stored)
	if idx.opts.StoreOriginal {
		idx.arena.SetOriginal(slot, original)
	}
	idx.arena.SetLabel(slot, label)
	idx.labels.Insert(label, slot)
	level := idx.sampleLevel()
	return idx.linkNewSlot(slot, level, stored)
}

func (idx *Index[E]) updateInPlace(slot uint32, stored, original []E) error {
	level := idx.arena.Level(slot)
	formerNeighbors := idx.formerNeighborSeed(slot, level)
	idx.removeBackEdges(slot, level)
	idx.arena.SetVector(slot, stored)
	if idx.opts.StoreOriginal {
		idx.arena.SetOriginal(slot, original)
	}
	return idx.linkExistingSlot(slot, level, stored, formerNeighbors)
}

// formerNeighborSeed collects slot's current neighbors across every layer it
// participates in, before removeBackEdges clears them. If slot is the
// current global entry point, updating it in place would otherwise have no
// other slot to seed the search from (beamSearchLayer excludes slot itself),
// leaving it newly isolated with the entry point still pointing at it. The
// former neighbors give link somewhere else to start from in that case.
func (idx *Index[E]) formerNeighborSeed(slot uint32, level int32) []uint32 {
	seen := make(map[uint32]bool)
	var seed []uint32
	for layer := level; layer >= 0; layer-- {
		for _, nb := range idx.arena.Neighbors(slot, int(layer)) {
			if !seen[nb] {
				seen[nb] = true
				seed = append(seed, nb)
			}
		}
	}
	return seed
}

// removeBackEdges strips slot out of every neighbor's list across all of
// slot's layers and clears slot's own lists, in preparation for
// re-running the insertion procedure against its preserved level.
func (idx *Index[E]) removeBackEdges(slot uint32, level int32) {
	for layer := int32(0); layer <= level; layer++ {
		neighbors := idx.arena.Neighbors(slot, int(layer))
		if len(neighbors) == 0 {
			continue
		}
		unlock := idx.locks.lockSlotsAscending(neighbors)
		for _, nb := range neighbors {
			filtered := removeID(idx.arena.Neighbors(nb, int(layer)), slot)
			idx.arena.SetNeighbors(nb, int(layer), filtered)
		}
		unlock()
	}
	idx.clearSlotLinks(slot)
}

func (idx *Index[E]) clearSlotLinks(slot uint32) {
	maxLevel := idx.arena.Level(slot)
	if maxLevel < 0 {
		maxLevel = 0
	}
	for layer := int32(0); layer <= maxLevel; layer++ {
		idx.arena.SetNeighbors(slot, int(layer), nil)
	}
}

func removeID(ids []uint32, target uint32) []uint32 {
	out := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// linkNewSlot runs steps 4-8 of add_point for a freshly allocated slot;
// level sampling has already happened and the caller supplies level.
// Reused tombstones go through linkExistingSlot instead.
func (idx *Index[E]) linkNewSlot(slot uint32, level int32, query []E) error {
	idx.arena.SetLevel(slot, level)
	return idx.link(slot, level, query, nil)
}

// linkExistingSlot re-runs steps 5-8 for an update, preserving level.
// selfSeed is used in place of the entry point when slot is itself the
// current entry point; see formerNeighborSeed.
func (idx *Index[E]) linkExistingSlot(slot uint32, level int32, query []E, selfSeed []uint32) error {
	idx.arena.SetLevel(slot, level)
	return idx.link(slot, level, query, selfSeed)
}

func (idx *Index[E]) link(slot uint32, level int32, query []E, selfSeed []uint32) error {
	idx.entryMu.Lock()
	ep := idx.entry
	idx.entryMu.Unlock()

	if !ep.valid {
		idx.promote(slot, level)
		return nil
	}

	selfUpdate := ep.slot == slot

	var entries []candidate
	if !selfUpdate {
		cur := candidate{slot: ep.slot, dist: idx.sp.Distance(query, idx.arena.Vector(ep.slot))}
		for layer := ep.level; layer > level; layer-- {
			cur = idx.greedySearchLayer(query, cur, int(layer))
		}
		entries = []candidate{cur}
	}

	top := level
	if ep.level < top {
		top = ep.level
	}

	for layer := top; layer >= 0; layer-- {
		mLayer := idx.maxM
		if layer == 0 {
			mLayer = idx.maxM0
		}

		layerEntries := entries
		if selfUpdate {
			// slot is the entry point being updated in place: descending
			// from the entry would start (and immediately dead-end) at the
			// slot itself, which beamSearchLayer excludes. Seed from its
			// former neighbors instead, restricted to those that actually
			// participate at this layer so no link ever points at a slot
			// below its own top layer.
			for _, nb := range selfSeed {
				if idx.arena.Level(nb) >= layer {
					layerEntries = append(layerEntries, candidate{slot: nb, dist: idx.sp.Distance(query, idx.arena.Vector(nb))})
				}
			}
		}

		w, release := idx.beamSearchLayer(query, layerEntries, int(layer), idx.opts.EfConstruction, slot)
		ascending := sortedAscending(w)
		release()

		chosen := idx.selectNeighborsHeuristic(query, ascending, mLayer)
		idx.linkBidirectional(slot, chosen, int(layer), mLayer)

		entries = ascending
	}

	if level > ep.level {
		idx.promote(slot, level)
	}

	return nil
}

// promote installs (slot, level) as the entry point if level is still
// higher than the current entry point's level at the time of the
// compare-and-set (re-checked under the dedicated entry-point mutex, since
// another insert may have promoted past this one between the read at the
// top of link and now).
func (idx *Index[E]) promote(slot uint32, level int32) {
	idx.entryMu.Lock()
	defer idx.entryMu.Unlock()
	if !idx.entry.valid || level > idx.entry.level {
		idx.entry = entryPoint{slot: slot, level: level, valid: true}
	}
}

func (idx *Index[E]) greedySearchLayer(query []E, cur candidate, layer int) candidate {
	for {
		improved := false
		for _, nb := range idx.arena.Neighbors(cur.slot, layer) {
			d := idx.sp.Distance(query, idx.arena.Vector(nb))
			c := candidate{slot: nb, dist: d}
			if less(c, cur) {
				cur = c
				improved = true
			}
		}
		if !improved {
			return cur
		}
	}
}

// beamSearchLayer runs best-first search bounded to width ef, starting
// from entries. excludeSlot is skipped as a candidate: insertion passes the
// slot being linked so it never links to itself, and queries pass
// noExclusion, which matches no slot. Returns the bounded max-heap of results and a
// release func for the borrowed visited-list that callers must invoke once
// they're done reading the heap.
func (idx *Index[E]) beamSearchLayer(query []E, entries []candidate, layer int, ef int, excludeSlot uint32) (candidateMaxHeap, func()) {
	visited, release := idx.pool.acquire(idx.arena.Capacity())

	var frontier candidateMinHeap
	var results candidateMaxHeap

	for _, e := range entries {
		if e.slot == excludeSlot || visited.isVisited(e.slot) {
			continue
		}
		visited.visit(e.slot)
		pushMin(&frontier, e)
		pushMax(&results, e)
	}

	for frontier.Len() > 0 {
		c := popMin(&frontier)
		if results.Len() >= ef && less(peekMax(results), c) {
			break
		}

		for _, nb := range idx.arena.Neighbors(c.slot, layer) {
			if nb == excludeSlot || visited.isVisited(nb) {
				continue
			}
			visited.visit(nb)

			d := idx.sp.Distance(query, idx.arena.Vector(nb))
			cand := candidate{slot: nb, dist: d}

			if results.Len() < ef {
				pushMax(&results, cand)
				pushMin(&frontier, cand)
			} else if less(cand, peekMax(results)) {
				popMax(&results)
				pushMax(&results, cand)
				pushMin(&frontier, cand)
			}
		}
	}

	return results, release
}

// selectNeighborsHeuristic picks up to m ids from candidates (must already
// be sorted ascending by distance to query) using the diversity-preserving
// rule: a candidate c is kept only if it is strictly closer to query than
// it is to every already-selected neighbor.
func (idx *Index[E]) selectNeighborsHeuristic(query []E, candidates []candidate, m int) []uint32 {
	selected := make([]candidate, 0, m)

	for _, c := range candidates {
		if len(selected) >= m {
			break
		}

		good := true
		for _, s := range selected {
			dcs := idx.sp.Distance(idx.arena.Vector(c.slot), idx.arena.Vector(s.slot))
			if dcs <= c.dist {
				good = false
				break
			}
		}
		if good {
			selected = append(selected, c)
		}
	}

	ids := make([]uint32, len(selected))
	for i, c := range selected {
		ids[i] = c.slot
	}
	return ids
}

// linkBidirectional installs slot -> chosen at layer, then for every
// chosen neighbor adds the back-edge that neighbor -> slot and, if its
// list now exceeds mLayer, prunes it with the same heuristic rule against
// its own vector.
func (idx *Index[E]) linkBidirectional(slot uint32, chosen []uint32, layer int, mLayer int) {
	toLock := append([]uint32{slot}, chosen...)
	unlock := idx.locks.lockSlotsAscending(toLock)
	defer unlock()

	idx.arena.SetNeighbors(slot, layer, chosen)

	for _, s := range chosen {
		merged := append(append([]uint32(nil), idx.arena.Neighbors(s, layer)...), slot)
		if len(merged) <= mLayer {
			idx.arena.SetNeighbors(s, layer, merged)
			continue
		}

		sv := idx.arena.Vector(s)
		cands := make([]candidate, len(merged))
		for i, id := range merged {
			cands[i] = candidate{slot: id, dist: idx.sp.Distance(sv, idx.arena.Vector(id))}
		}
		sort.Slice(cands, func(i, j int) bool { return less(cands[i], cands[j]) })

		pruned := idx.selectNeighborsHeuristic(sv, cands, mLayer)
		idx.arena.SetNeighbors(s, layer, pruned)
	}
}

func (idx *Index[E]) sampleLevel() int32 {
	idx.rngMu.Lock()
	u := idx.rng.Float64()
	idx.rngMu.Unlock()

	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	}
	return int32(math.Floor(-math.Log(u) * idx.mL))
}

// popTombstone pops slots off the free list until it finds one still
// tombstoned (a slot may have been revived by UnmarkDeleted after being
// pushed here) or the list is exhausted.
func (idx *Index[E]) popTombstone() (uint32, bool) {
	idx.tombMu.Lock()
	defer idx.tombMu.Unlock()

	for len(idx.tombstones) > 0 {
		slot := idx.tombstones[len(idx.tombstones)-1]
		idx.tombstones = idx.tombstones[:len(idx.tombstones)-1]
		if idx.arena.Tombstoned(slot) {
			return slot, true
		}
	}
	return 0, false
}

func (idx *Index[E]) pushTombstone(slot uint32) {
	idx.tombMu.Lock()
	defer idx.tombMu.Unlock()
	idx.tombstones = append(idx.tombstones, slot)
}
