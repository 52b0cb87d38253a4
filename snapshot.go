package hnsw

import (
	"fmt"

	"github.com/calvinalkan/hnswindex/internal/diskformat"
	"github.com/calvinalkan/hnswindex/internal/fs"
	"github.com/calvinalkan/hnswindex/space"
)

// Save writes the entire index to a single file at path, atomically (via
// internal/fs.Real.WriteFileAtomic, itself backed by
// github.com/natefinch/atomic). This is snapshot-mode persistence: an
// empty index saves and loads back as an empty index with no entry point.
//
// Save holds the structural lock exclusively while serializing, so the
// written image is a consistent point-in-time state even with concurrent
// inserts and deletes in flight.
func (idx *Index[E]) Save(path string) error {
	idx.structural.Lock()
	defer idx.structural.Unlock()

	body, bodyOffsets := idx.encodeBody()
	header := idx.encodeHeader(bodyOffsets)
	headerBytes := diskformat.Encode(header)

	out := make([]byte, 0, len(headerBytes)+len(body))
	out = append(out, headerBytes...)
	out = append(out, body...)

	if err := idx.fsys.WriteFileAtomic(path, out, 0o644); err != nil {
		return wrap(fmt.Errorf("%w: %v", ErrIO, err), withOp("Save"))
	}
	return nil
}

// LoadSnapshot opens a single-file snapshot written by [Index.Save].
// Dim, M, EfConstruction, Capacity, and Seed are always taken from the
// file; a nonzero opts.Dim that differs from the file's is rejected with
// ErrInvalidArgument. AllowReplaceDeleted, StoreOriginal, and the cosine
// flag are likewise taken from the file's own flags since they describe
// the persisted data's shape, not a runtime preference.
func LoadSnapshot[E space.Float](path string, opts Options) (*Index[E], error) {
	real := fs.NewReal()
	data, err := real.ReadFile(path)
	if err != nil {
		return nil, wrap(fmt.Errorf("%w: %v", ErrIO, err), withOp("Load"))
	}

	return loadFromBytes[E](data, opts)
}

func loadFromBytes[E space.Float](data []byte, opts Options) (*Index[E], error) {
	if len(data) < diskformat.HeaderSize {
		return nil, wrap(fmt.Errorf("%w: file too small", ErrCorruption), withOp("Load"))
	}
	headerBytes := data[:diskformat.HeaderSize]
	if !diskformat.ValidateCRC(headerBytes) {
		return nil, wrap(fmt.Errorf("%w: header checksum mismatch", ErrCorruption), withOp("Load"))
	}

	h := diskformat.Decode(headerBytes)
	if h.Magic != diskformat.Magic {
		return nil, wrap(fmt.Errorf("%w: bad magic", ErrCorruption), withOp("Load"))
	}
	if h.Version != diskformat.Version {
		return nil, wrap(fmt.Errorf("%w: unsupported version %d", ErrIO, h.Version), withOp("Load"))
	}
	if uint32(opts.Dim) != 0 && uint32(opts.Dim) != h.Dim {
		return nil, wrap(fmt.Errorf("%w: dim mismatch: file has %d, opts has %d", ErrInvalidArgument, h.Dim, opts.Dim), withOp("Load"))
	}

	merged := opts
	merged.Dim = int(h.Dim)
	merged.M = int(h.M)
	merged.EfConstruction = int(h.EfConstruction)
	merged.Capacity = uint32(h.Capacity)
	merged.Seed = h.Seed
	merged.StoreOriginal = h.Flags&diskformat.FlagStoreOriginal != 0
	merged.AllowReplaceDeleted = h.Flags&diskformat.FlagAllowReplaceDelet != 0
	if h.Flags&diskformat.FlagCosineNormalized != 0 {
		merged.Space = space.InnerProduct
	} else {
		merged.Space = space.L2
	}
	merged.setDefaults()
	if merged.EfSearch == 0 {
		merged.EfSearch = merged.EfConstruction
	}

	idx := newIndex[E](merged)

	if h.ElementCount > uint64(idx.arena.Capacity()) {
		if err := idx.arena.Resize(uint32(h.ElementCount)); err != nil {
			return nil, wrap(fmt.Errorf("%w: %v", ErrCorruption, err), withOp("Load"))
		}
		idx.locks.grow(uint32(h.ElementCount))
	}

	if err := decodeInto[E](idx, h, data[diskformat.HeaderSize:]); err != nil {
		return nil, wrap(err, withOp("Load"))
	}

	return idx, nil
}
