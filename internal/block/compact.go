package block

import "fmt"

// CompactSession drives online compaction: relocating extents from the
// tail of the file into free space nearer the front. Grounded on
// tinySQL's free-list coalescing in pager/freelist.go, extended here to
// a relocate-into-freed-space pattern. The file itself is not truncated.
type CompactSession struct {
	m *Manager
}

// CompactStart begins an online compaction session. Returns ErrReadOnly
// if the handle has been switched to the read-only method table.
func (m *Manager) CompactStart() (*CompactSession, error) {
	if m.readOnly {
		return nil, ErrReadOnly
	}
	return &CompactSession{m: m}, nil
}

// Relocate moves the extent at cookie to the lowest available free
// extent strictly below its current offset, returning the new cookie.
// If no such free extent exists, cookie is returned unchanged.
func (cs *CompactSession) Relocate(cookie Cookie) (Cookie, error) {
	cs.m.mu.Lock()
	defer cs.m.mu.Unlock()

	var bestIdx = -1
	all := cs.m.free.extents
	for i, e := range all {
		if e.Offset < cookie.Offset && e.Size >= uint64(cookie.Size) {
			if bestIdx == -1 || e.Offset < all[bestIdx].Offset {
				bestIdx = i
			}
		}
	}
	if bestIdx == -1 {
		return cookie, nil
	}

	buf := make([]byte, cookie.Size)
	if _, err := cs.m.file.ReadAt(buf, int64(cookie.Offset)); err != nil {
		return Cookie{}, fmt.Errorf("block: compact read: %w", err)
	}

	target := all[bestIdx]
	if _, err := cs.m.file.WriteAt(buf, int64(target.Offset)); err != nil {
		return Cookie{}, fmt.Errorf("block: compact write: %w", err)
	}

	need := uint64(cookie.Size)
	if target.Size == need {
		cs.m.free.extents = append(cs.m.free.extents[:bestIdx], cs.m.free.extents[bestIdx+1:]...)
	} else {
		cs.m.free.extents[bestIdx] = Extent{Offset: target.Offset + need, Size: target.Size - need}
	}
	cs.m.pendingFree = append(cs.m.pendingFree, Extent{Offset: cookie.Offset, Size: need})

	return Cookie{Offset: target.Offset, Size: cookie.Size, Checksum: cookie.Checksum}, nil
}

// End finishes the compaction session and does nothing else. A relocated
// extent's old space joins the free list at the next Checkpoint; neither
// End nor Checkpoint truncates the file or lowers FileSize.
func (cs *CompactSession) End() error { return nil }
