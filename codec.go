package hnsw

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/calvinalkan/hnswindex/internal/diskformat"
	"github.com/calvinalkan/hnswindex/space"
)

// writeElem appends v's little-endian bytes to buf. E is constrained to
// float32/float64 by [space.Float]; the concrete width is resolved once
// per call via a type switch on the boxed value, the only way to recover
// which concrete width a generic float type parameter has at encode time.
func writeElem[E space.Float](buf *bytes.Buffer, v E) {
	switch x := any(v).(type) {
	case float32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(x))
		buf.Write(b[:])
	case float64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(x))
		buf.Write(b[:])
	}
}

// readElem reads one element of width matching E from r, advancing r by
// that many bytes.
func readElem[E space.Float](r *bytes.Reader) (E, error) {
	var zero E
	switch any(zero).(type) {
	case float32:
		var b [4]byte
		if _, err := r.Read(b[:]); err != nil {
			return zero, err
		}
		bits := binary.LittleEndian.Uint32(b[:])
		return E(math.Float32frombits(bits)), nil
	default:
		var b [8]byte
		if _, err := r.Read(b[:]); err != nil {
			return zero, err
		}
		bits := binary.LittleEndian.Uint64(b[:])
		return E(math.Float64frombits(bits)), nil
	}
}

func writeVector[E space.Float](buf *bytes.Buffer, v []E) {
	for _, x := range v {
		writeElem(buf, x)
	}
}

func readVector[E space.Float](r *bytes.Reader, dim int) ([]E, error) {
	out := make([]E, dim)
	for i := range out {
		e, err := readElem[E](r)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// encodeBody serializes every region after the header: slot-level bitmap +
// levels, tombstone bitmap, layer-0 block, higher-layer blocks, label
// directory, and (if enabled) original vectors. Returns the body bytes and
// the byte offset of each region relative to the start of the body.
func (idx *Index[E]) encodeBody() (body []byte, offsets [6]uint64) {
	var buf bytes.Buffer
	hw := idx.arena.HighWater()

	offsets[0] = uint64(buf.Len())
	for slot := uint32(0); slot < hw; slot++ {
		buf.WriteByte(1) // allocated bitmap: dense allocation, always 1 below HighWater
	}
	for slot := uint32(0); slot < hw; slot++ {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(idx.arena.Level(slot)))
		buf.Write(b[:])
	}

	offsets[1] = uint64(buf.Len())
	for slot := uint32(0); slot < hw; slot++ {
		if idx.arena.Tombstoned(slot) {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}

	offsets[2] = uint64(buf.Len())
	for slot := uint32(0); slot < hw; slot++ {
		neighbors := idx.arena.Neighbors(slot, 0)
		var cnt [4]byte
		binary.LittleEndian.PutUint32(cnt[:], uint32(len(neighbors)))
		buf.Write(cnt[:])
		for _, id := range neighbors {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], id)
			buf.Write(b[:])
		}
		writeVector(&buf, idx.arena.Vector(slot))
		var lb [8]byte
		binary.LittleEndian.PutUint64(lb[:], idx.arena.Label(slot))
		buf.Write(lb[:])
	}

	offsets[3] = uint64(buf.Len())
	var higher []uint32
	for slot := uint32(0); slot < hw; slot++ {
		if idx.arena.Level(slot) > 0 {
			higher = append(higher, slot)
		}
	}
	var hc [4]byte
	binary.LittleEndian.PutUint32(hc[:], uint32(len(higher)))
	buf.Write(hc[:])
	for _, slot := range higher {
		level := idx.arena.Level(slot)
		var sb [4]byte
		binary.LittleEndian.PutUint32(sb[:], slot)
		buf.Write(sb[:])
		var lv [4]byte
		binary.LittleEndian.PutUint32(lv[:], uint32(level))
		buf.Write(lv[:])
		for layer := int32(1); layer <= level; layer++ {
			ids := idx.arena.Neighbors(slot, int(layer))
			var cnt [4]byte
			binary.LittleEndian.PutUint32(cnt[:], uint32(len(ids)))
			buf.Write(cnt[:])
			for _, id := range ids {
				var b [4]byte
				binary.LittleEndian.PutUint32(b[:], id)
				buf.Write(b[:])
			}
		}
	}

	offsets[4] = uint64(buf.Len())
	var labelPairs [][2]uint64
	idx.labels.Range(func(label uint64, slot uint32) {
		labelPairs = append(labelPairs, [2]uint64{label, uint64(slot)})
	})
	// The backing map iterates in arbitrary order; sort so the same index
	// state always serializes to the same bytes (a reloaded index must
	// re-save byte-identically).
	sort.Slice(labelPairs, func(i, j int) bool { return labelPairs[i][0] < labelPairs[j][0] })
	var lc [4]byte
	binary.LittleEndian.PutUint32(lc[:], uint32(len(labelPairs)))
	buf.Write(lc[:])
	for _, p := range labelPairs {
		var lb [8]byte
		binary.LittleEndian.PutUint64(lb[:], p[0])
		buf.Write(lb[:])
		var sb [4]byte
		binary.LittleEndian.PutUint32(sb[:], uint32(p[1]))
		buf.Write(sb[:])
	}

	offsets[5] = 0
	if idx.opts.StoreOriginal {
		offsets[5] = uint64(buf.Len())
		for slot := uint32(0); slot < hw; slot++ {
			writeVector(&buf, idx.arena.Original(slot))
		}
	}

	return buf.Bytes(), offsets
}

// encodeHeader builds the fixed header describing the current in-memory
// state, with region offsets relative to the start of the file (i.e.
// diskformat.HeaderSize + the body-relative offset).
func (idx *Index[E]) encodeHeader(bodyOffsets [6]uint64) diskformat.Header {
	idx.entryMu.Lock()
	ep := idx.entry
	idx.entryMu.Unlock()

	enterSlot := int64(-1)
	enterLevel := int32(-1)
	if ep.valid {
		enterSlot = int64(ep.slot)
		enterLevel = ep.level
	}

	var flags uint32
	if idx.opts.Space == space.InnerProduct {
		flags |= diskformat.FlagCosineNormalized
	}
	if idx.opts.StoreOriginal {
		flags |= diskformat.FlagStoreOriginal
	}
	if idx.opts.AllowReplaceDeleted {
		flags |= diskformat.FlagAllowReplaceDelet
	}

	base := uint64(diskformat.HeaderSize)
	h := diskformat.Header{
		Magic:          diskformat.Magic,
		Version:        diskformat.Version,
		Dim:            uint32(idx.dim),
		M:              uint32(idx.maxM),
		EfConstruction: uint32(idx.opts.EfConstruction),
		Capacity:       uint64(idx.arena.Capacity()),
		ElementCount:   uint64(idx.arena.HighWater()),
		EnterSlot:      enterSlot,
		EnterLevel:     enterLevel,
		Seed:           idx.opts.Seed,
		Flags:          flags,
		Region1Offset:  base + bodyOffsets[0],
		Region2Offset:  base + bodyOffsets[1],
		Region3Offset:  base + bodyOffsets[2],
		Region4Offset:  base + bodyOffsets[3],
		Region5Offset:  base + bodyOffsets[4],
	}
	if idx.opts.StoreOriginal {
		h.Region6Offset = base + bodyOffsets[5]
	}
	return h
}

// decodeInto populates a freshly constructed index from a full file image
// (header already validated by the caller).
func decodeInto[E space.Float](idx *Index[E], h diskformat.Header, body []byte) error {
	hw := uint32(h.ElementCount)
	base := uint64(diskformat.HeaderSize)

	// Restore the allocation high-water mark first: Alloc is what bumps
	// HighWater and it also zeroes each slot's level as a fresh-slot
	// invariant, so this must run before region 1 overwrites levels with
	// their decoded values, not after.
	for i := uint32(0); i < hw; i++ {
		idx.arena.Alloc()
	}

	r := bytes.NewReader(body)

	// Region 1: allocated bitmap + levels.
	if _, err := r.Seek(int64(h.Region1Offset-base), 0); err != nil {
		return err
	}
	if _, err := r.Seek(int64(hw), 1); err != nil { // skip bitmap bytes
		return err
	}
	for slot := uint32(0); slot < hw; slot++ {
		var b [4]byte
		if _, err := r.Read(b[:]); err != nil {
			return err
		}
		idx.arena.SetLevel(slot, int32(binary.LittleEndian.Uint32(b[:])))
	}

	// Region 2: tombstone bitmap.
	if _, err := r.Seek(int64(h.Region2Offset-base), 0); err != nil {
		return err
	}
	for slot := uint32(0); slot < hw; slot++ {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b == 1 {
			idx.arena.SetTombstone(slot, true)
			idx.tombstones = append(idx.tombstones, slot)
		}
	}

	// Region 3: layer-0 block.
	if _, err := r.Seek(int64(h.Region3Offset-base), 0); err != nil {
		return err
	}
	for slot := uint32(0); slot < hw; slot++ {
		var cnt [4]byte
		if _, err := r.Read(cnt[:]); err != nil {
			return err
		}
		n := binary.LittleEndian.Uint32(cnt[:])
		ids := make([]uint32, n)
		for i := range ids {
			var b [4]byte
			if _, err := r.Read(b[:]); err != nil {
				return err
			}
			ids[i] = binary.LittleEndian.Uint32(b[:])
			if ids[i] >= hw {
				return fmt.Errorf("%w: neighbor %d out of range (element_count=%d)", ErrCorruption, ids[i], hw)
			}
		}
		idx.arena.SetNeighbors(slot, 0, ids)

		vec, err := readVector[E](r, idx.dim)
		if err != nil {
			return err
		}
		idx.arena.SetVector(slot, vec)

		var lb [8]byte
		if _, err := r.Read(lb[:]); err != nil {
			return err
		}
		label := binary.LittleEndian.Uint64(lb[:])
		idx.arena.SetLabel(slot, label)
	}

	// Region 4: higher-layer blocks.
	if _, err := r.Seek(int64(h.Region4Offset-base), 0); err != nil {
		return err
	}
	var hc [4]byte
	if _, err := r.Read(hc[:]); err != nil {
		return err
	}
	numHigher := binary.LittleEndian.Uint32(hc[:])
	for i := uint32(0); i < numHigher; i++ {
		var sb [4]byte
		if _, err := r.Read(sb[:]); err != nil {
			return err
		}
		slot := binary.LittleEndian.Uint32(sb[:])
		if slot >= hw {
			return fmt.Errorf("%w: higher-layer slot %d out of range (element_count=%d)", ErrCorruption, slot, hw)
		}

		var lv [4]byte
		if _, err := r.Read(lv[:]); err != nil {
			return err
		}
		level := int32(binary.LittleEndian.Uint32(lv[:]))

		for layer := int32(1); layer <= level; layer++ {
			var cnt [4]byte
			if _, err := r.Read(cnt[:]); err != nil {
				return err
			}
			n := binary.LittleEndian.Uint32(cnt[:])
			ids := make([]uint32, n)
			for j := range ids {
				var b [4]byte
				if _, err := r.Read(b[:]); err != nil {
					return err
				}
				ids[j] = binary.LittleEndian.Uint32(b[:])
				if ids[j] >= hw {
					return fmt.Errorf("%w: neighbor %d out of range (element_count=%d)", ErrCorruption, ids[j], hw)
				}
			}
			idx.arena.SetNeighbors(slot, int(layer), ids)
		}
	}

	// Region 5: label directory.
	if _, err := r.Seek(int64(h.Region5Offset-base), 0); err != nil {
		return err
	}
	var lc [4]byte
	if _, err := r.Read(lc[:]); err != nil {
		return err
	}
	numLabels := binary.LittleEndian.Uint32(lc[:])
	for i := uint32(0); i < numLabels; i++ {
		var lb [8]byte
		if _, err := r.Read(lb[:]); err != nil {
			return err
		}
		label := binary.LittleEndian.Uint64(lb[:])
		var sb [4]byte
		if _, err := r.Read(sb[:]); err != nil {
			return err
		}
		slot := binary.LittleEndian.Uint32(sb[:])
		idx.labels.Insert(label, slot)
	}

	// Region 6: original vectors, if present.
	if h.Flags&diskformat.FlagStoreOriginal != 0 && h.Region6Offset != 0 {
		if _, err := r.Seek(int64(h.Region6Offset-base), 0); err != nil {
			return err
		}
		for slot := uint32(0); slot < hw; slot++ {
			vec, err := readVector[E](r, idx.dim)
			if err != nil {
				return err
			}
			idx.arena.SetOriginal(slot, vec)
		}
	}

	if h.EnterSlot >= 0 {
		idx.entry = entryPoint{slot: uint32(h.EnterSlot), level: h.EnterLevel, valid: true}
	}

	return nil
}
