// Package hnsw implements a Hierarchical Navigable Small World vector
// index: an in-memory multi-layer proximity graph with concurrent
// insertion, deletion, and filtered k-nearest-neighbor search, plus a
// two-mode persistence layer.
package hnsw

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/calvinalkan/hnswindex/internal/arena"
	"github.com/calvinalkan/hnswindex/internal/fs"
	"github.com/calvinalkan/hnswindex/internal/labeldir"
	"github.com/calvinalkan/hnswindex/space"
)

// entryPoint is the single (slot, level) pair describing the top of the
// graph. The zero value (valid=false) means the graph is empty.
type entryPoint struct {
	slot  uint32
	level int32
	valid bool
}

// Index is an HNSW vector index over elements of type E.
type Index[E space.Float] struct {
	opts  Options
	sp    space.Space[E]
	mL    float64 // level-sampling constant, 1/ln(M)
	dim   int
	maxM0 int
	maxM  int

	arena  *arena.Arena[E]
	labels *labeldir.Directory
	locks  *slotLocks
	pool   *visitedPool

	// structural is held exclusively by Resize, Save and PersistDirty;
	// every other operation holds it for reading only, so concurrent
	// inserts/deletes/queries never block each other on it. Entry-point
	// promotion does not take it exclusively: entry changes are serialized
	// by entryMu alone.
	structural sync.RWMutex

	entryMu sync.Mutex
	entry   entryPoint

	// tombstones is the free list of tombstoned slots eligible for reuse,
	// guarded by tombMu. Popping a slot and the later label-directory swap
	// in replace_deleted are separate critical sections; popTombstone skips
	// entries whose slot is no longer tombstoned.
	tombMu     sync.Mutex
	tombstones []uint32

	rngMu sync.Mutex
	rng   *rand.Rand

	efMu sync.Mutex
	ef   int

	fsys fs.FS

	closeOnce sync.Once
	closed    bool

	persist *persistentBackend[E] // nil unless opts.Mode == Persistent
}

// New creates and initializes a new index. This is the Go rendering of the
// boundary's separate create(space, dim) and init(capacity, ...) calls,
// combined into one fallible constructor since Go has no uninitialized
// zero-value-but-not-ready object lifecycle worth modeling separately.
func New[E space.Float](opts Options) (*Index[E], error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	idx := newIndex[E](opts)

	if opts.Mode == Persistent {
		backend, err := newPersistentBackend[E](idx, opts.Path, true)
		if err != nil {
			return nil, wrap(err, withOp("Init"))
		}
		idx.persist = backend
	}

	return idx, nil
}

func newIndex[E space.Float](opts Options) *Index[E] {
	maxM := opts.M
	maxM0 := 2 * opts.M

	idx := &Index[E]{
		opts:   opts,
		sp:     space.New[E](opts.Space, opts.Dim),
		mL:     1 / logM(opts.M),
		dim:    opts.Dim,
		maxM0:  maxM0,
		maxM:   maxM,
		arena:  arena.New[E](opts.Dim, int(opts.Capacity), maxM0, maxM, opts.StoreOriginal),
		labels: labeldir.New(),
		locks:  newSlotLocks(opts.Capacity),
		pool:   newVisitedPool(),
		rng:    rand.New(rand.NewSource(int64(opts.Seed))),
		ef:     opts.EfSearch,
		fsys:   fs.NewReal(),
		entry:  entryPoint{valid: false},
	}
	return idx
}

func logM(m int) float64 {
	return math.Log(float64(m))
}

// Len returns the number of live (non-tombstoned) slots.
func (idx *Index[E]) Len() int {
	idx.structural.RLock()
	defer idx.structural.RUnlock()

	n := 0
	idx.arena.EachSlot(func(slot uint32) {
		if !idx.arena.Tombstoned(slot) {
			n++
		}
	})
	return n
}

// Capacity returns the current slot capacity.
func (idx *Index[E]) Capacity() uint32 {
	return idx.arena.Capacity()
}

// GetEf returns the current runtime search beam width.
func (idx *Index[E]) GetEf() int {
	idx.efMu.Lock()
	defer idx.efMu.Unlock()
	return idx.ef
}

// SetEf changes the runtime search beam width. ef must be >= 1.
func (idx *Index[E]) SetEf(ef int) error {
	if ef < 1 {
		return wrap(fmt.Errorf("%w: ef must be >= 1", ErrInvalidArgument), withOp("SetEf"))
	}
	idx.efMu.Lock()
	defer idx.efMu.Unlock()
	idx.ef = ef
	return nil
}

// Resize grows the index's slot capacity. Shrinking returns
// ErrInvalidArgument. Exclusive with every other operation.
func (idx *Index[E]) Resize(newCapacity uint32) error {
	idx.structural.Lock()
	defer idx.structural.Unlock()

	if newCapacity < idx.arena.Capacity() {
		return wrap(fmt.Errorf("%w: shrink not supported", ErrInvalidArgument), withOp("Resize"))
	}

	if err := idx.arena.Resize(newCapacity); err != nil {
		return wrap(fmt.Errorf("%w: %v", ErrInvalidArgument, err), withOp("Resize"))
	}
	idx.locks.grow(newCapacity)
	return nil
}

// Get returns the stored vector for label: the original pre-normalization
// copy if StoreOriginal is enabled, otherwise the (possibly normalized)
// stored vector. Returns ErrLabelNotFound or ErrLabelDeleted.
func (idx *Index[E]) Get(label uint64) ([]E, error) {
	idx.structural.RLock()
	defer idx.structural.RUnlock()

	slot, ok := idx.labels.Lookup(label)
	if !ok {
		return nil, wrap(ErrLabelNotFound, withOp("Get"), withLabel(label))
	}
	if idx.arena.Tombstoned(slot) {
		return nil, wrap(ErrLabelDeleted, withOp("Get"), withLabel(label))
	}

	lock := idx.locks.get(slot)
	lock.RLock()
	defer lock.RUnlock()

	var src []E
	if idx.opts.StoreOriginal {
		src = idx.arena.Original(slot)
	} else {
		src = idx.arena.Vector(slot)
	}
	out := make([]E, len(src))
	copy(out, src)
	return out, nil
}

// Close releases any resources held by persistent-mode backends (the
// cross-process lock and open file handles). Idempotent.
func (idx *Index[E]) Close() error {
	var err error
	idx.closeOnce.Do(func() {
		idx.closed = true
		if idx.persist != nil {
			err = idx.persist.close()
		}
	})
	return err
}
