// Package block implements the block manager: mapping a file into
// allocation-size-aligned extents, address-cookie encode/decode,
// page-image read/write with checksums, and checkpoint anchoring.
//
// Grounded on tinySQL's pager/pager.go (file + buffer-pool owner),
// pager/superblock.go (description page) and pager/freelist.go (free
// extent chain), generalized from tinySQL's fixed-size page allocator to
// an opaque, variable-length address cookie.
package block

import (
	"encoding/binary"
	"fmt"
)

// MaxCookieLen is the upper bound on an encoded address cookie: an
// opaque byte string bounded at 255 bytes.
const MaxCookieLen = 255

// Cookie identifies a block extent: file offset, size, and checksum, all
// varint-encoded so small files produce small cookies.
type Cookie struct {
	Offset   uint64
	Size     uint32
	Checksum uint32
}

// IsZero reports whether c is the null cookie (no extent referenced).
func (c Cookie) IsZero() bool { return c.Offset == 0 && c.Size == 0 }

// Encode serializes a cookie as three length-self-describing varints.
func (c Cookie) Encode() []byte {
	buf := make([]byte, 0, 20)
	buf = appendUvarint(buf, c.Offset)
	buf = appendUvarint(buf, uint64(c.Size))
	buf = appendUvarint(buf, uint64(c.Checksum))
	if len(buf) > MaxCookieLen {
		panic("block: address cookie exceeds MaxCookieLen")
	}
	return buf
}

// DecodeCookie parses a cookie previously produced by Encode.
func DecodeCookie(buf []byte) (Cookie, error) {
	off, n := binary.Uvarint(buf)
	if n <= 0 {
		return Cookie{}, fmt.Errorf("block: malformed cookie (offset)")
	}
	buf = buf[n:]
	size, n := binary.Uvarint(buf)
	if n <= 0 {
		return Cookie{}, fmt.Errorf("block: malformed cookie (size)")
	}
	buf = buf[n:]
	sum, n := binary.Uvarint(buf)
	if n <= 0 {
		return Cookie{}, fmt.Errorf("block: malformed cookie (checksum)")
	}
	return Cookie{Offset: off, Size: uint32(size), Checksum: uint32(sum)}, nil
}

// CheckpointCookie anchors a checkpoint: a root address plus the four
// extent lists a checkpoint must record (alloc, avail, discard,
// free-after-checkpoint).
type CheckpointCookie struct {
	Root           Cookie
	Alloc          []Extent
	Avail          []Extent
	Discard        []Extent
	FreeAfterCkpt  []Extent
	FileSize       uint64
	CheckpointSize uint64
}

// Extent is a contiguous run of allocation units.
type Extent struct {
	Offset uint64
	Size   uint64
}

// Encode serializes a checkpoint cookie as the file size, the checkpoint
// size, the length-prefixed root address, and then the four
// count-prefixed extent lists.
func (c CheckpointCookie) Encode() []byte {
	var buf []byte
	buf = appendUvarint(buf, c.FileSize)
	buf = appendUvarint(buf, c.CheckpointSize)
	root := c.Root.Encode()
	buf = appendUvarint(buf, uint64(len(root)))
	buf = append(buf, root...)
	for _, list := range [][]Extent{c.Alloc, c.Avail, c.Discard, c.FreeAfterCkpt} {
		buf = appendUvarint(buf, uint64(len(list)))
		for _, e := range list {
			buf = appendUvarint(buf, e.Offset)
			buf = appendUvarint(buf, e.Size)
		}
	}
	return buf
}

// DecodeCheckpointCookie parses a checkpoint cookie, validating each
// extent-list count against the remaining buffer before trusting it.
func DecodeCheckpointCookie(buf []byte) (CheckpointCookie, error) {
	var c CheckpointCookie
	rd := buf
	take := func() (uint64, error) {
		v, n := binary.Uvarint(rd)
		if n <= 0 {
			return 0, fmt.Errorf("block: malformed checkpoint cookie")
		}
		rd = rd[n:]
		return v, nil
	}

	var err error
	if c.FileSize, err = take(); err != nil {
		return c, err
	}
	if c.CheckpointSize, err = take(); err != nil {
		return c, err
	}
	rootLen, err := take()
	if err != nil {
		return c, err
	}
	if uint64(len(rd)) < rootLen {
		return c, fmt.Errorf("block: truncated checkpoint root")
	}
	c.Root, err = DecodeCookie(rd[:rootLen])
	if err != nil {
		return c, err
	}
	rd = rd[rootLen:]

	lists := make([][]Extent, 4)
	for i := range lists {
		n, err := take()
		if err != nil {
			return c, err
		}
		// Each extent needs at least two bytes (two one-byte varints).
		if n > uint64(len(rd))/2 {
			return c, fmt.Errorf("block: checkpoint cookie extent count %d exceeds remaining buffer", n)
		}
		list := make([]Extent, n)
		for j := range list {
			off, err := take()
			if err != nil {
				return c, err
			}
			sz, err := take()
			if err != nil {
				return c, err
			}
			list[j] = Extent{Offset: off, Size: sz}
		}
		lists[i] = list
	}
	c.Alloc, c.Avail, c.Discard, c.FreeAfterCkpt = lists[0], lists[1], lists[2], lists[3]
	return c, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}
