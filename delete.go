package hnsw

// MarkDeleted tombstones label's slot. Idempotent: calling it again on an
// already-tombstoned label is a no-op. If the tombstoned slot was the
// current entry point, a replacement is selected before this call returns
// by scanning tombstone-free slots at the entry level, decrementing the
// level and repeating until one is found or the graph is empty.
func (idx *Index[E]) MarkDeleted(label uint64) error {
	idx.structural.RLock()
	defer idx.structural.RUnlock()

	slot, ok := idx.labels.Lookup(label)
	if !ok {
		return wrap(ErrLabelNotFound, withOp("MarkDeleted"), withLabel(label))
	}
	if idx.arena.Tombstoned(slot) {
		return nil
	}

	idx.arena.SetTombstone(slot, true)
	idx.pushTombstone(slot)

	idx.entryMu.Lock()
	if idx.entry.valid && idx.entry.slot == slot {
		idx.replaceEntryLocked()
	}
	idx.entryMu.Unlock()

	return nil
}

// replaceEntryLocked scans for a new entry point after the current one was
// tombstoned. Caller must hold entryMu.
func (idx *Index[E]) replaceEntryLocked() {
	for level := idx.entry.level; level >= 0; level-- {
		found := false
		idx.arena.EachSlot(func(slot uint32) {
			if found || idx.arena.Tombstoned(slot) {
				return
			}
			if idx.arena.Level(slot) >= level {
				idx.entry = entryPoint{slot: slot, level: idx.arena.Level(slot), valid: true}
				found = true
			}
		})
		if found {
			return
		}
	}
	idx.entry = entryPoint{valid: false}
}

// UnmarkDeleted clears label's tombstone bit if set. Returns
// ErrLabelNotFound if the label is unknown; a label that is not tombstoned
// stays live.
func (idx *Index[E]) UnmarkDeleted(label uint64) error {
	idx.structural.RLock()
	defer idx.structural.RUnlock()

	slot, ok := idx.labels.Lookup(label)
	if !ok {
		return wrap(ErrLabelNotFound, withOp("UnmarkDeleted"), withLabel(label))
	}

	idx.arena.SetTombstone(slot, false)

	// A revived slot may out-level the current entry if the original entry
	// was deleted earlier and replaced by a lower-level slot; promoting it
	// back makes its upper layers reachable again.
	idx.entryMu.Lock()
	if !idx.entry.valid || idx.arena.Level(slot) > idx.entry.level {
		idx.entry = entryPoint{slot: slot, level: idx.arena.Level(slot), valid: true}
	}
	idx.entryMu.Unlock()

	return nil
}
