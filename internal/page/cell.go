package page

import (
	"encoding/binary"
	"fmt"
)

// CellKind tags the variant stored in one directory slot: the on-disk
// cell is a length-prefixed tagged union, and this enumerates its
// variants.
type CellKind uint8

const (
	CellKey CellKind = iota + 1
	CellShortKey
	CellPrefixKey
	CellValue
	CellShortValue
	CellValueCopy
	CellDeleted
	CellOverflowKey
	CellOverflowValue
	CellOverflowRemoved
	CellAddressInternal
	CellAddressLeaf
	CellAddressLeafNoOverflow
	CellAddressDeleted
)

func (k CellKind) String() string {
	names := [...]string{"", "key", "short-key", "prefix-key", "value", "short-value",
		"value-copy", "deleted", "overflow-key", "overflow-value", "overflow-removed",
		"address-internal", "address-leaf", "address-leaf-no-overflow", "address-deleted"}
	if int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("cell(0x%02x)", uint8(k))
}

// LegalForPageType reports whether kind may legally appear on a page of
// the given type, used by the structural verifier in §4.2.1.
func LegalForPageType(kind CellKind, t Type) bool {
	switch t {
	case TypeRowInternal:
		switch kind {
		case CellKey, CellShortKey, CellPrefixKey, CellOverflowKey,
			CellAddressInternal, CellAddressLeaf, CellAddressLeafNoOverflow, CellAddressDeleted:
			return true
		}
	case TypeRowLeaf:
		switch kind {
		case CellKey, CellShortKey, CellPrefixKey, CellOverflowKey,
			CellValue, CellShortValue, CellValueCopy, CellDeleted, CellOverflowValue, CellOverflowRemoved:
			return true
		}
	case TypeColInternal:
		switch kind {
		case CellAddressInternal, CellAddressLeaf, CellAddressLeafNoOverflow, CellAddressDeleted:
			return true
		}
	case TypeColVariableLeaf:
		switch kind {
		case CellValue, CellShortValue, CellValueCopy, CellDeleted, CellOverflowValue, CellOverflowRemoved:
			return true
		}
	case TypeColFixedLeaf:
		return false // fixed leaves carry a raw bit-slab, not cells
	case TypeOverflow, TypeBlockManagerDesc:
		return false
	}
	return false
}

// Cell is the decoded form of one tagged-union directory entry.
type Cell struct {
	Kind           CellKind
	Key            []byte
	Value          []byte
	RLECount       uint32 // run-length for column-variable value runs; 0/1 = no run
	OverflowPageNo uint64 // address cookie payload for overflow-* / address-* kinds
	PrefixLen      uint16 // bytes shared with the previous on-page key (row pages)
}

// Encode serializes a cell as [kind:1] followed by a per-kind payload:
// prefix keys add [prefix:2]; keys carry [keylen:uvarint][key] (plus
// [overflow:uvarint] for overflow keys); values carry [rle:uvarint]
// [vallen:uvarint][value]. Unused fields per kind are omitted entirely
// rather than zero-padded, to keep short cells short.
func Encode(c Cell) []byte {
	buf := make([]byte, 0, 16+len(c.Key)+len(c.Value))
	buf = append(buf, byte(c.Kind))
	switch c.Kind {
	case CellPrefixKey:
		var pl [2]byte
		binary.LittleEndian.PutUint16(pl[:], c.PrefixLen)
		buf = append(buf, pl[:]...)
		buf = appendUvarint(buf, uint64(len(c.Key)))
		buf = append(buf, c.Key...)
	case CellKey, CellShortKey, CellOverflowKey:
		buf = appendUvarint(buf, uint64(len(c.Key)))
		buf = append(buf, c.Key...)
		if c.Kind == CellOverflowKey {
			buf = appendUvarint(buf, c.OverflowPageNo)
		}
	case CellValue, CellShortValue:
		if c.RLECount > 1 {
			buf = appendUvarint(buf, uint64(c.RLECount))
		} else {
			buf = appendUvarint(buf, 0)
		}
		buf = appendUvarint(buf, uint64(len(c.Value)))
		buf = append(buf, c.Value...)
	case CellValueCopy:
		buf = appendUvarint(buf, c.OverflowPageNo) // slot index being copied
	case CellOverflowValue:
		buf = appendUvarint(buf, uint64(len(c.Value))) // total logical size
		buf = appendUvarint(buf, c.OverflowPageNo)
	case CellDeleted, CellOverflowRemoved:
		// no payload
	case CellAddressInternal, CellAddressLeaf, CellAddressLeafNoOverflow:
		buf = appendUvarint(buf, uint64(len(c.Key))) // separator key, may be empty
		buf = append(buf, c.Key...)
		buf = appendUvarint(buf, c.OverflowPageNo) // child address cookie id
	case CellAddressDeleted:
		buf = appendUvarint(buf, uint64(len(c.Key)))
		buf = append(buf, c.Key...)
	}
	return buf
}

// Decode parses a cell previously produced by Encode.
func Decode(buf []byte) (Cell, error) {
	if len(buf) < 1 {
		return Cell{}, fmt.Errorf("page: empty cell")
	}
	c := Cell{Kind: CellKind(buf[0])}
	r := buf[1:]
	var n int
	switch c.Kind {
	case CellPrefixKey:
		if len(r) < 2 {
			return Cell{}, fmt.Errorf("page: short prefix-key cell")
		}
		c.PrefixLen = binary.LittleEndian.Uint16(r[:2])
		r = r[2:]
		kl, m := uvarint(r)
		r = r[m:]
		if uint64(len(r)) < kl {
			return Cell{}, fmt.Errorf("page: truncated key")
		}
		c.Key = append([]byte(nil), r[:kl]...)
	case CellKey, CellShortKey, CellOverflowKey:
		kl, m := uvarint(r)
		r = r[m:]
		if uint64(len(r)) < kl {
			return Cell{}, fmt.Errorf("page: truncated key")
		}
		c.Key = append([]byte(nil), r[:kl]...)
		r = r[kl:]
		if c.Kind == CellOverflowKey {
			c.OverflowPageNo, n = uvarint(r)
			_ = n
		}
	case CellValue, CellShortValue:
		rle, m := uvarint(r)
		r = r[m:]
		if rle > 1 {
			c.RLECount = uint32(rle)
		}
		vl, m2 := uvarint(r)
		r = r[m2:]
		if uint64(len(r)) < vl {
			return Cell{}, fmt.Errorf("page: truncated value")
		}
		c.Value = append([]byte(nil), r[:vl]...)
	case CellValueCopy:
		c.OverflowPageNo, _ = uvarint(r)
	case CellOverflowValue:
		vl, m := uvarint(r)
		r = r[m:]
		c.Value = make([]byte, vl) // placeholder length marker, no bytes stored inline
		c.OverflowPageNo, _ = uvarint(r)
	case CellDeleted, CellOverflowRemoved:
		// nothing to parse
	case CellAddressInternal, CellAddressLeaf, CellAddressLeafNoOverflow, CellAddressDeleted:
		kl, m := uvarint(r)
		r = r[m:]
		if uint64(len(r)) < kl {
			return Cell{}, fmt.Errorf("page: truncated address key")
		}
		c.Key = append([]byte(nil), r[:kl]...)
		r = r[kl:]
		if c.Kind != CellAddressDeleted {
			c.OverflowPageNo, _ = uvarint(r)
		}
	default:
		return Cell{}, fmt.Errorf("page: unknown cell kind 0x%02x", buf[0])
	}
	return c, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func uvarint(buf []byte) (uint64, int) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, 1
	}
	return v, n
}
