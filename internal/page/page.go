// Package page implements the on-disk page-image format shared by every
// tree in the engine: the fixed page header, the cell codec, and the
// slotted-directory layout cells live in.
//
// Layout of one page image:
//
//	[0:32)   PageHeader   (type, flags, checksum, entry count / record no.)
//	[32:34)  CellCount    uint16 — number of directory slots
//	[34:36)  FreeEnd      uint16 — byte offset where the next cell is appended
//	[36:36+4*CellCount)   Slot directory, 4 bytes/slot (offset uint16, length uint16)
//	... free space ...
//	[FreeEnd:PageSize)    Cell bodies, growing downward from the end of the page
//
// This is the same physical trick tinySQL's pager/slotted_page.go and
// pager/btree_page.go use (records grow down, slots grow up); here it is
// generalized to the several page types the engine distinguishes instead
// of tinySQL's plain internal/leaf split.
package page

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Type identifies the kind of data stored in a page.
type Type uint8

const (
	TypeRowInternal Type = iota + 1
	TypeRowLeaf
	TypeColInternal
	TypeColFixedLeaf
	TypeColVariableLeaf
	TypeOverflow
	TypeBlockManagerDesc
)

func (t Type) String() string {
	switch t {
	case TypeRowInternal:
		return "row-internal"
	case TypeRowLeaf:
		return "row-leaf"
	case TypeColInternal:
		return "col-internal"
	case TypeColFixedLeaf:
		return "col-fixed-leaf"
	case TypeColVariableLeaf:
		return "col-variable-leaf"
	case TypeOverflow:
		return "overflow"
	case TypeBlockManagerDesc:
		return "block-manager-desc"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

// Flags is a bitmask of optional page properties.
type Flags uint16

const (
	FlagCompressed Flags = 1 << iota
	FlagEncrypted
	FlagHasLookasideUpdates
	FlagEmptyValuesAll
	FlagEmptyValuesNone
)

const (
	// HeaderSize is the size in bytes of the common page header.
	HeaderSize = 32

	// dirHdrOff is the offset of the slotted directory header (CellCount,
	// FreeEnd) immediately following the page header.
	dirHdrOff   = HeaderSize
	dirHdrSize  = 4
	dirStartOff = dirHdrOff + dirHdrSize
	slotSize    = 4

	DefaultPageSize = 8192
	MinPageSize     = 4096
	MaxPageSize     = 65536
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Header is the fixed 32-byte header at the start of every page image.
//
//	[0]     Type       (1 byte)
//	[1:3]   Flags      (2 bytes LE)
//	[3:11]  RecNoOrOOB (8 bytes LE) — record number for column trees, 0 otherwise
//	[11:15] EntryCount (4 bytes LE) — leaf entry count, or data length for overflow/desc
//	[15:19] Checksum   (4 bytes LE) — CRC32-C over the page with this field zeroed
//	[19:32] Reserved   (13 bytes, must be zero)
type Header struct {
	Type       Type
	Flags      Flags
	RecNoOrOOB uint64
	EntryCount uint32
	Checksum   uint32
}

// MarshalHeader writes h into the first HeaderSize bytes of buf.
func MarshalHeader(h *Header, buf []byte) {
	if len(buf) < HeaderSize {
		panic("page: buffer too small for header")
	}
	buf[0] = byte(h.Type)
	binary.LittleEndian.PutUint16(buf[1:3], uint16(h.Flags))
	binary.LittleEndian.PutUint64(buf[3:11], h.RecNoOrOOB)
	binary.LittleEndian.PutUint32(buf[11:15], h.EntryCount)
	binary.LittleEndian.PutUint32(buf[15:19], h.Checksum)
	for i := 19; i < HeaderSize; i++ {
		buf[i] = 0
	}
}

// UnmarshalHeader parses the first HeaderSize bytes of buf.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("page: short buffer (%d bytes) for header", len(buf))
	}
	h := Header{
		Type:       Type(buf[0]),
		Flags:      Flags(binary.LittleEndian.Uint16(buf[1:3])),
		RecNoOrOOB: binary.LittleEndian.Uint64(buf[3:11]),
		EntryCount: binary.LittleEndian.Uint32(buf[11:15]),
		Checksum:   binary.LittleEndian.Uint32(buf[15:19]),
	}
	for i := 19; i < HeaderSize; i++ {
		if buf[i] != 0 {
			return Header{}, fmt.Errorf("page: non-zero reserved byte %d", i)
		}
	}
	return h, nil
}

// ComputeChecksum computes the CRC32-C of page with the checksum field
// (bytes 15:19) treated as zero.
func ComputeChecksum(buf []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(buf[:15])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(buf[19:])
	return h.Sum32()
}

// SetChecksum computes and stores the checksum.
func SetChecksum(buf []byte) {
	binary.LittleEndian.PutUint32(buf[15:19], ComputeChecksum(buf))
}

// VerifyChecksum reports an error if the stored checksum does not match.
func VerifyChecksum(buf []byte) error {
	stored := binary.LittleEndian.Uint32(buf[15:19])
	got := ComputeChecksum(buf)
	if stored != got {
		return fmt.Errorf("page: checksum mismatch: stored=%08x computed=%08x", stored, got)
	}
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// Slotted directory
// ───────────────────────────────────────────────────────────────────────────

// Slot is one directory entry: the offset and length of a cell body.
type Slot struct {
	Offset uint16
	Length uint16
}

// Image is a decoded view over a raw page buffer, giving directory-level
// access to its cells. It does not interpret cell contents — btree.Page
// builds the typed in-memory representation on top of this.
type Image struct {
	Buf []byte
}

// New initializes buf as an empty page image of the given type.
func New(buf []byte, t Type) *Image {
	h := &Header{Type: t}
	MarshalHeader(h, buf)
	binary.LittleEndian.PutUint16(buf[dirHdrOff:], 0)
	binary.LittleEndian.PutUint16(buf[dirHdrOff+2:], uint16(len(buf)))
	return &Image{Buf: buf}
}

// Wrap views an existing buffer as a page image without reinitializing it.
func Wrap(buf []byte) *Image { return &Image{Buf: buf} }

func (p *Image) SlotCount() int {
	return int(binary.LittleEndian.Uint16(p.Buf[dirHdrOff:]))
}

func (p *Image) setSlotCount(n int) {
	binary.LittleEndian.PutUint16(p.Buf[dirHdrOff:], uint16(n))
}

// FreeEnd is the byte offset of the start of the last-written cell.
func (p *Image) FreeEnd() int {
	return int(binary.LittleEndian.Uint16(p.Buf[dirHdrOff+2:]))
}

func (p *Image) setFreeEnd(off int) {
	binary.LittleEndian.PutUint16(p.Buf[dirHdrOff+2:], uint16(off))
}

func (p *Image) dirEnd() int { return dirStartOff + p.SlotCount()*slotSize }

// FreeSpace returns the bytes available for one more cell plus its slot.
func (p *Image) FreeSpace() int {
	return p.FreeEnd() - p.dirEnd() - slotSize
}

func (p *Image) GetSlot(i int) Slot {
	off := dirStartOff + i*slotSize
	return Slot{
		Offset: binary.LittleEndian.Uint16(p.Buf[off:]),
		Length: binary.LittleEndian.Uint16(p.Buf[off+2:]),
	}
}

func (p *Image) setSlot(i int, s Slot) {
	off := dirStartOff + i*slotSize
	binary.LittleEndian.PutUint16(p.Buf[off:], s.Offset)
	binary.LittleEndian.PutUint16(p.Buf[off+2:], s.Length)
}

// Cell returns the raw bytes of the i-th cell, or nil for a deleted slot.
func (p *Image) Cell(i int) []byte {
	s := p.GetSlot(i)
	if s.Offset == 0 && s.Length == 0 {
		return nil
	}
	return p.Buf[s.Offset : s.Offset+s.Length]
}

// Append writes data as a new cell at the end of the directory.
func (p *Image) Append(data []byte) (int, error) {
	if p.FreeSpace() < len(data) {
		return -1, fmt.Errorf("page: full (need %d, have %d)", len(data), p.FreeSpace())
	}
	end := p.FreeEnd() - len(data)
	copy(p.Buf[end:], data)
	p.setFreeEnd(end)
	idx := p.SlotCount()
	p.setSlot(idx, Slot{Offset: uint16(end), Length: uint16(len(data))})
	p.setSlotCount(idx + 1)
	return idx, nil
}

// InsertAt inserts data at directory position pos, shifting later slots.
func (p *Image) InsertAt(pos int, data []byte) error {
	if p.FreeSpace() < len(data) {
		return fmt.Errorf("page: full (need %d, have %d)", len(data), p.FreeSpace())
	}
	end := p.FreeEnd() - len(data)
	copy(p.Buf[end:], data)
	p.setFreeEnd(end)

	sc := p.SlotCount()
	p.setSlotCount(sc + 1)
	for i := sc; i > pos; i-- {
		p.setSlot(i, p.GetSlot(i-1))
	}
	p.setSlot(pos, Slot{Offset: uint16(end), Length: uint16(len(data))})
	return nil
}

// DeleteAt tombstones the slot at pos, shifting later slots left.
func (p *Image) DeleteAt(pos int) error {
	sc := p.SlotCount()
	if pos < 0 || pos >= sc {
		return fmt.Errorf("page: slot %d out of range [0,%d)", pos, sc)
	}
	for i := pos; i < sc-1; i++ {
		p.setSlot(i, p.GetSlot(i+1))
	}
	p.setSlot(sc-1, Slot{})
	p.setSlotCount(sc - 1)
	return nil
}

// ReplaceAt overwrites the cell at pos, appending fresh space if the new
// value does not fit in the old slot.
func (p *Image) ReplaceAt(pos int, data []byte) error {
	old := p.GetSlot(pos)
	if int(old.Length) >= len(data) {
		copy(p.Buf[old.Offset:], data)
		for j := int(old.Offset) + len(data); j < int(old.Offset)+int(old.Length); j++ {
			p.Buf[j] = 0
		}
		p.setSlot(pos, Slot{Offset: old.Offset, Length: uint16(len(data))})
		return nil
	}
	if p.FreeSpace()+slotSize < len(data) {
		return fmt.Errorf("page: full on replace (need %d)", len(data))
	}
	end := p.FreeEnd() - len(data)
	copy(p.Buf[end:], data)
	p.setFreeEnd(end)
	p.setSlot(pos, Slot{Offset: uint16(end), Length: uint16(len(data))})
	return nil
}

// Compact removes tombstone gaps, preserving slot order.
func (p *Image) Compact() {
	sc := p.SlotCount()
	type live struct {
		slot int
		data []byte
	}
	var keep []live
	for i := 0; i < sc; i++ {
		if c := p.Cell(i); c != nil {
			keep = append(keep, live{slot: i, data: append([]byte(nil), c...)})
		}
	}
	p.setFreeEnd(len(p.Buf))
	for _, k := range keep {
		end := p.FreeEnd() - len(k.data)
		copy(p.Buf[end:], k.data)
		p.setFreeEnd(end)
		p.setSlot(k.slot, Slot{Offset: uint16(end), Length: uint16(len(k.data))})
	}
}

// LiveCount returns the number of non-tombstoned slots.
func (p *Image) LiveCount() int {
	n := 0
	for i := 0; i < p.SlotCount(); i++ {
		if p.Cell(i) != nil {
			n++
		}
	}
	return n
}
