package hnsw

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Every fallible operation wraps one of these in an
// [*Error] so callers can test with [errors.Is] instead of string matching.
var (
	// ErrCapacityExceeded is returned by Add when the index is full and
	// replace_deleted was not requested.
	ErrCapacityExceeded = errors.New("hnsw: capacity exceeded")

	// ErrLabelNotFound is returned by Get, MarkDeleted, and UnmarkDeleted
	// for a label with no slot, live or tombstoned.
	ErrLabelNotFound = errors.New("hnsw: label not found")

	// ErrLabelDeleted is returned by Get for a tombstoned label.
	ErrLabelDeleted = errors.New("hnsw: label deleted")

	// ErrInvalidArgument covers dimension mismatches, zero-norm vectors
	// under cosine, ef < 1, k = 0, an unknown space kind, and shrinking
	// resize.
	ErrInvalidArgument = errors.New("hnsw: invalid argument")

	// ErrAlreadyInitialized is the error kind for initializing an index
	// twice. No operation in this package returns it: [New], [Open] and
	// [LoadSnapshot] each return a fully initialized index.
	ErrAlreadyInitialized = errors.New("hnsw: already initialized")

	// ErrNotInitialized is the error kind for using an index before it is
	// initialized. No operation in this package returns it, for the same
	// reason as [ErrAlreadyInitialized].
	ErrNotInitialized = errors.New("hnsw: not initialized")

	// ErrIO covers persistence I/O failures: a missing or unreadable file,
	// a failed write, a failed lock acquisition, and an unsupported format
	// version. A truncated header, a bad magic number, or a header checksum
	// mismatch is reported as [ErrCorruption], not ErrIO.
	ErrIO = errors.New("hnsw: io error")

	// ErrCorruption is returned when an on-disk invariant is violated at
	// load time, e.g. a neighbor id referencing an out-of-range slot.
	ErrCorruption = errors.New("hnsw: corruption detected")
)

// Error attaches operation and label context to one of the sentinel kinds
// above without losing the ability to unwrap to it.
type Error struct {
	// Op is the boundary operation that failed, e.g. "Add", "Knn".
	Op string

	// Label is the label involved, if any. HasLabel reports whether it is
	// set; 0 is itself a valid label, so the zero value alone says nothing.
	Label    uint64
	HasLabel bool

	Err error
}

func (e *Error) Error() string {
	if e.HasLabel {
		return fmt.Sprintf("hnsw: %s(label=%d): %v", e.Op, e.Label, e.Err)
	}
	return fmt.Sprintf("hnsw: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type errOpt func(*Error)

func withOp(op string) errOpt {
	return func(e *Error) { e.Op = op }
}

func withLabel(label uint64) errOpt {
	return func(e *Error) { e.Label, e.HasLabel = label, true }
}

// wrap attaches context to err, producing an [*Error]. If err is already an
// [*Error], its existing context is inherited rather than double-wrapped:
// a fresh wrap only overrides fields the options explicitly set.
func wrap(err error, opts ...errOpt) error {
	if err == nil {
		return nil
	}

	e := &Error{Err: err}

	var existing *Error
	if errors.As(err, &existing) {
		e.Op = existing.Op
		e.Label, e.HasLabel = existing.Label, existing.HasLabel
		e.Err = existing.Err
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}
