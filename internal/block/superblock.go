package block

import (
	"encoding/binary"
	"fmt"
)

// Description page layout — page 0 of every file the block manager opens.
// Grounded on tinySQL's pager/superblock.go; generalized to carry the
// engine's major/minor version pair and an allocation-size field instead
// of a fixed page size.
const (
	magic             = "ARCHENGN"
	MinMajor, MinMinor = 1, 0
	MaxMajor, MaxMinor = 1, 0
	CurrentMajor       = 1
	CurrentMinor       = 0
)

const (
	offMagic       = 0
	offMajor       = 8
	offMinor       = 12
	offAllocSize   = 16
	offFreeListOff = 20
	offFreeListLen = 24
	offFileSize    = 28
	offCkptLSN     = 36
	offCkptRoot    = 44
	offCkptRootLen = 44 // 4-byte length prefix; root bytes follow at offCkptRoot+4
	descSize       = 256
)

// Description is the parsed contents of the description page.
type Description struct {
	Major, Minor int
	AllocSize    uint32
	FreeListOff  uint32
	FreeListLen  uint32
	FileSize     uint64
	CheckpointLSN uint64
	CheckpointRoot []byte // encoded CheckpointCookie, variable length
}

// MarshalDescription writes d into a fresh allocSize-byte buffer.
func MarshalDescription(d *Description, allocSize int) []byte {
	buf := make([]byte, allocSize)
	copy(buf[offMagic:], magic)
	binary.LittleEndian.PutUint32(buf[offMajor:], uint32(d.Major))
	binary.LittleEndian.PutUint32(buf[offMinor:], uint32(d.Minor))
	binary.LittleEndian.PutUint32(buf[offAllocSize:], d.AllocSize)
	binary.LittleEndian.PutUint32(buf[offFreeListOff:], d.FreeListOff)
	binary.LittleEndian.PutUint32(buf[offFreeListLen:], d.FreeListLen)
	binary.LittleEndian.PutUint64(buf[offFileSize:], d.FileSize)
	binary.LittleEndian.PutUint64(buf[offCkptLSN:], d.CheckpointLSN)
	binary.LittleEndian.PutUint32(buf[offCkptRootLen:], uint32(len(d.CheckpointRoot)))
	copy(buf[offCkptRoot+4:], d.CheckpointRoot)
	return buf
}

// UnmarshalDescription parses and validates a description page, refusing
// files whose version is outside the supported [min, max] range.
func UnmarshalDescription(buf []byte) (*Description, error) {
	if len(buf) < descSize {
		return nil, fmt.Errorf("block: description page too short (%d bytes)", len(buf))
	}
	if string(buf[offMagic:offMagic+8]) != magic {
		return nil, fmt.Errorf("block: bad magic %q", buf[offMagic:offMagic+8])
	}
	d := &Description{
		Major:        int(binary.LittleEndian.Uint32(buf[offMajor:])),
		Minor:        int(binary.LittleEndian.Uint32(buf[offMinor:])),
		AllocSize:    binary.LittleEndian.Uint32(buf[offAllocSize:]),
		FreeListOff:  binary.LittleEndian.Uint32(buf[offFreeListOff:]),
		FreeListLen:  binary.LittleEndian.Uint32(buf[offFreeListLen:]),
		FileSize:     binary.LittleEndian.Uint64(buf[offFileSize:]),
		CheckpointLSN: binary.LittleEndian.Uint64(buf[offCkptLSN:]),
	}
	rootLen := binary.LittleEndian.Uint32(buf[offCkptRootLen:])
	if int(offCkptRoot+4+rootLen) > len(buf) {
		return nil, fmt.Errorf("block: checkpoint root length out of range")
	}
	if rootLen > 0 {
		d.CheckpointRoot = append([]byte(nil), buf[offCkptRoot+4:offCkptRoot+4+int(rootLen)]...)
	}
	if (d.Major < MinMajor) || (d.Major == MinMajor && d.Minor < MinMinor) ||
		(d.Major > MaxMajor) || (d.Major == MaxMajor && d.Minor > MaxMinor) {
		return nil, fmt.Errorf("%w: file version %d.%d outside supported range [%d.%d, %d.%d]",
			ErrVersionMismatch, d.Major, d.Minor, MinMajor, MinMinor, MaxMajor, MaxMinor)
	}
	return d, nil
}

// NewDescription returns the description for a freshly created file.
func NewDescription(allocSize uint32) *Description {
	return &Description{
		Major:     CurrentMajor,
		Minor:     CurrentMinor,
		AllocSize: allocSize,
		FileSize:  uint64(allocSize), // the description page itself
	}
}
