// Package labeldir implements the bidirectional label-to-slot directory
// used by the graph core's insertion and deletion paths.
//
// Reads are lock-free via the backing [sync.Map]; the mutations that must
// be atomic with respect to each other (a tombstone-reuse swap retargeting
// one label's slot while removing the label that previously owned it) take
// the directory's dedicated mutex: a sync.Map for the fast read path plus
// a companion mutex for the handful of operations that must see a
// consistent view across more than one key.
package labeldir

import "sync"

// Directory maps caller-chosen labels to internal slot ids.
type Directory struct {
	mu sync.Mutex
	m  sync.Map // map[uint64]uint32
}

// New returns an empty label directory.
func New() *Directory {
	return &Directory{}
}

// Lookup returns the slot owning label, if any. Lock-free.
func (d *Directory) Lookup(label uint64) (slot uint32, ok bool) {
	v, found := d.m.Load(label)
	if !found {
		return 0, false
	}
	return v.(uint32), true
}

// Insert binds label to slot, replacing any existing binding for label.
// The tombstone-reuse path uses [Directory.ReplaceTombstoned] instead, which
// also drops the reused slot's old label.
func (d *Directory) Insert(label uint64, slot uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m.Store(label, slot)
}

// Erase removes label's binding, if any.
func (d *Directory) Erase(label uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m.Delete(label)
}

// ReplaceTombstoned atomically removes oldLabel's binding (the label that
// owned the slot being reused) and installs newLabel -> slot. Used by
// add_point's replace_deleted path so the old label stops resolving and the
// new label starts resolving to the same slot in one critical section, per
// the label-directory invariant that lookup is always consistent with
// tombstone state.
func (d *Directory) ReplaceTombstoned(oldLabel uint64, newLabel uint64, slot uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// oldLabel may since have been re-added on a fresh slot; that binding
	// belongs to a live slot and stays.
	if cur, ok := d.m.Load(oldLabel); ok && cur.(uint32) == slot {
		d.m.Delete(oldLabel)
	}
	d.m.Store(newLabel, slot)
}

// Range calls fn for every (label, slot) pair. fn must not mutate the
// directory. Used by persistence to serialize the directory region.
func (d *Directory) Range(fn func(label uint64, slot uint32)) {
	d.m.Range(func(k, v any) bool {
		fn(k.(uint64), v.(uint32))
		return true
	})
}

// Len returns the number of bound labels.
func (d *Directory) Len() int {
	n := 0
	d.m.Range(func(_, _ any) bool { n++; return true })
	return n
}
