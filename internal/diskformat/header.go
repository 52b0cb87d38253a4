// Package diskformat encodes and decodes the fixed-size header shared by
// both persistence modes (snapshot and persistent): magic, version,
// geometry, counts, entry point, seed, flags, then per-region byte offsets
// and a trailing CRC32C over the rest of the header.
//
// The encode/decode pair is hand-written with explicit byte offsets rather
// than routed through encoding/gob or reflection, so the layout stays
// stable and auditable across versions.
package diskformat

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	// Magic identifies an HNSW index file.
	Magic = uint32(0x484e5331) // "HNS1"

	// Version is the current on-disk format version.
	Version = uint32(1)

	// HeaderSize is the fixed header size in bytes.
	HeaderSize = 128
)

// Flag bits packed into Header.Flags.
const (
	FlagCosineNormalized  uint32 = 1 << 0
	FlagStoreOriginal     uint32 = 1 << 1
	FlagAllowReplaceDelet uint32 = 1 << 2
)

// Field offsets, bytes from the start of the header.
const (
	offMagic          = 0x00 // uint32
	offVersion        = 0x04 // uint32
	offDim            = 0x08 // uint32
	offM              = 0x0C // uint32
	offEfConstruction = 0x10 // uint32
	offCapacity       = 0x14 // uint64 (note: not 8-aligned by design; see decode/encode, which use byte slices not struct casts)
	offElementCount   = 0x1C // uint64
	offEnterSlot      = 0x24 // int64
	offEnterLevel     = 0x2C // int32
	offSeed           = 0x30 // uint64
	offFlags          = 0x38 // uint32
	offRegion1Offset  = 0x3C // uint64 - slot-level bitmap + level vector
	offRegion2Offset  = 0x44 // uint64 - tombstone bitmap
	offRegion3Offset  = 0x4C // uint64 - layer-0 block
	offRegion4Offset  = 0x54 // uint64 - higher-layer blocks
	offRegion5Offset  = 0x5C // uint64 - label directory
	offRegion6Offset  = 0x64 // uint64 - original vectors (0 if absent)
	offHeaderCRC32C   = 0x6C // uint32
	offReservedStart  = 0x70 // reserved through HeaderSize-1
)

// Header is the decoded form of the fixed on-disk header.
type Header struct {
	Magic          uint32
	Version        uint32
	Dim            uint32
	M              uint32
	EfConstruction uint32
	Capacity       uint64
	ElementCount   uint64
	EnterSlot      int64 // -1 means no entry point
	EnterLevel     int32
	Seed           uint64
	Flags          uint32

	Region1Offset uint64
	Region2Offset uint64
	Region3Offset uint64
	Region4Offset uint64
	Region5Offset uint64
	Region6Offset uint64

	HeaderCRC32C uint32
}

// Encode serializes h into a HeaderSize-byte buffer with the CRC computed
// and stored.
func Encode(h Header) []byte {
	buf := make([]byte, HeaderSize)

	binary.LittleEndian.PutUint32(buf[offMagic:], h.Magic)
	binary.LittleEndian.PutUint32(buf[offVersion:], h.Version)
	binary.LittleEndian.PutUint32(buf[offDim:], h.Dim)
	binary.LittleEndian.PutUint32(buf[offM:], h.M)
	binary.LittleEndian.PutUint32(buf[offEfConstruction:], h.EfConstruction)
	binary.LittleEndian.PutUint64(buf[offCapacity:], h.Capacity)
	binary.LittleEndian.PutUint64(buf[offElementCount:], h.ElementCount)
	binary.LittleEndian.PutUint64(buf[offEnterSlot:], uint64(h.EnterSlot))
	binary.LittleEndian.PutUint32(buf[offEnterLevel:], uint32(h.EnterLevel))
	binary.LittleEndian.PutUint64(buf[offSeed:], h.Seed)
	binary.LittleEndian.PutUint32(buf[offFlags:], h.Flags)
	binary.LittleEndian.PutUint64(buf[offRegion1Offset:], h.Region1Offset)
	binary.LittleEndian.PutUint64(buf[offRegion2Offset:], h.Region2Offset)
	binary.LittleEndian.PutUint64(buf[offRegion3Offset:], h.Region3Offset)
	binary.LittleEndian.PutUint64(buf[offRegion4Offset:], h.Region4Offset)
	binary.LittleEndian.PutUint64(buf[offRegion5Offset:], h.Region5Offset)
	binary.LittleEndian.PutUint64(buf[offRegion6Offset:], h.Region6Offset)

	crc := ComputeCRC(buf)
	binary.LittleEndian.PutUint32(buf[offHeaderCRC32C:], crc)

	return buf
}

// Decode parses a HeaderSize-byte buffer into a Header. It does not
// validate the CRC; callers should call [ValidateCRC] first.
func Decode(buf []byte) Header {
	var h Header

	h.Magic = binary.LittleEndian.Uint32(buf[offMagic:])
	h.Version = binary.LittleEndian.Uint32(buf[offVersion:])
	h.Dim = binary.LittleEndian.Uint32(buf[offDim:])
	h.M = binary.LittleEndian.Uint32(buf[offM:])
	h.EfConstruction = binary.LittleEndian.Uint32(buf[offEfConstruction:])
	h.Capacity = binary.LittleEndian.Uint64(buf[offCapacity:])
	h.ElementCount = binary.LittleEndian.Uint64(buf[offElementCount:])
	h.EnterSlot = int64(binary.LittleEndian.Uint64(buf[offEnterSlot:]))
	h.EnterLevel = int32(binary.LittleEndian.Uint32(buf[offEnterLevel:]))
	h.Seed = binary.LittleEndian.Uint64(buf[offSeed:])
	h.Flags = binary.LittleEndian.Uint32(buf[offFlags:])
	h.Region1Offset = binary.LittleEndian.Uint64(buf[offRegion1Offset:])
	h.Region2Offset = binary.LittleEndian.Uint64(buf[offRegion2Offset:])
	h.Region3Offset = binary.LittleEndian.Uint64(buf[offRegion3Offset:])
	h.Region4Offset = binary.LittleEndian.Uint64(buf[offRegion4Offset:])
	h.Region5Offset = binary.LittleEndian.Uint64(buf[offRegion5Offset:])
	h.Region6Offset = binary.LittleEndian.Uint64(buf[offRegion6Offset:])
	h.HeaderCRC32C = binary.LittleEndian.Uint32(buf[offHeaderCRC32C:])

	return h
}

// ComputeCRC returns the CRC32-C checksum of buf with the CRC field itself
// treated as zero.
func ComputeCRC(buf []byte) uint32 {
	tmp := make([]byte, HeaderSize)
	copy(tmp, buf)
	for i := offHeaderCRC32C; i < offHeaderCRC32C+4; i++ {
		tmp[i] = 0
	}
	return crc32.Checksum(tmp, crc32.MakeTable(crc32.Castagnoli))
}

// ValidateCRC reports whether buf's stored CRC matches its computed CRC.
func ValidateCRC(buf []byte) bool {
	if len(buf) < HeaderSize {
		return false
	}
	stored := binary.LittleEndian.Uint32(buf[offHeaderCRC32C:])
	return stored == ComputeCRC(buf)
}
