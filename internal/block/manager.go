package block

import (
	"fmt"
	"hash/crc32"
	"os"
	"sync"
)

// DefaultAllocSize is the extent-alignment unit used when none is given
// to Open, matching the default page size the page package defines.
const DefaultAllocSize = 8192

// Config configures Open.
type Config struct {
	AllocSize uint32 // extent alignment unit; 0 means DefaultAllocSize
	ReadOnly  bool
}

// Manager owns one backing file: the description page, the free-extent
// list, and the read/write path that pads every extent to AllocSize and
// stamps it with a checksum. Grounded on tinySQL's pager/pager.go, whose
// Pager plays the equivalent role for a fixed-size PageID space; Manager
// generalizes that to the expanded cookie-addressed extent space.
type Manager struct {
	mu          sync.RWMutex
	file        *os.File
	path        string
	allocSize   uint32
	readOnly    bool
	desc        *Description
	free        *FreeList
	pendingFree []Extent // freed since the last Checkpoint, not yet reusable
	fileSize    uint64
	closed      bool
}

// Open opens or creates the backing file at path.
func Open(path string, cfg Config) (*Manager, error) {
	allocSize := cfg.AllocSize
	if allocSize == 0 {
		allocSize = DefaultAllocSize
	}

	flags := os.O_RDWR | os.O_CREATE
	if cfg.ReadOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("block: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("block: stat %s: %w", path, err)
	}

	m := &Manager{
		file:      f,
		path:      path,
		allocSize: allocSize,
		readOnly:  cfg.ReadOnly,
		free:      NewFreeList(),
	}

	if fi.Size() == 0 {
		if cfg.ReadOnly {
			f.Close()
			return nil, fmt.Errorf("%w: cannot create %s read-only", ErrReadOnly, path)
		}
		m.desc = NewDescription(allocSize)
		m.fileSize = uint64(allocSize)
		if err := m.writeDescription(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		buf := make([]byte, descSize)
		if _, err := f.ReadAt(buf, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("block: read description page: %w", err)
		}
		desc, err := UnmarshalDescription(buf)
		if err != nil {
			f.Close()
			return nil, err
		}
		m.desc = desc
		m.allocSize = desc.AllocSize
		m.fileSize = desc.FileSize
		if len(desc.CheckpointRoot) > 0 {
			ckpt, err := DecodeCheckpointCookie(desc.CheckpointRoot)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("block: decode checkpoint: %w", err)
			}
			m.free.LoadFrom(ckpt.FreeAfterCkpt)
		}
	}

	return m, nil
}

func (m *Manager) writeDescription() error {
	buf := MarshalDescription(m.desc, int(m.allocSize))
	if _, err := m.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("block: write description page: %w", err)
	}
	return nil
}

// extentSize returns the smallest multiple of allocSize that holds n bytes.
func (m *Manager) extentSize(n int) uint64 {
	as := uint64(m.allocSize)
	return ((uint64(n) + as - 1) / as) * as
}

// WriteSize returns the padded on-disk size required for n bytes.
func (m *Manager) WriteSize(n int) uint64 {
	return m.extentSize(n)
}

// Read reads the extent named by cookie, verifying its checksum.
// Returns ErrAddressOutOfRange if the cookie references past EOF and
// ErrCorrupt on checksum mismatch.
func (m *Manager) Read(cookie Cookie) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("block: manager closed")
	}
	if cookie.Offset+uint64(cookie.Size) > m.fileSize {
		return nil, fmt.Errorf("%w: offset %d size %d file size %d",
			ErrAddressOutOfRange, cookie.Offset, cookie.Size, m.fileSize)
	}
	buf := make([]byte, cookie.Size)
	if _, err := m.file.ReadAt(buf, int64(cookie.Offset)); err != nil {
		return nil, fmt.Errorf("block: read extent at %d: %w", cookie.Offset, err)
	}
	if cookie.Checksum != 0 {
		if sum := crc32.Checksum(buf, crc32.MakeTable(crc32.Castagnoli)); sum != cookie.Checksum {
			return nil, fmt.Errorf("%w: checksum mismatch at offset %d", ErrCorrupt, cookie.Offset)
		}
	}
	return buf, nil
}

// Write writes buffer at a newly or freely allocated extent, padding it
// to an allocation-size multiple, and returns the address cookie.
// dataChecksum controls whether the full buffer participates in the
// returned checksum (false is for known-immutable data that only needs
// a header-level checksum, such as reconciled clean pages rewritten
// identically at checkpoint).
func (m *Manager) Write(buf []byte, dataChecksum bool) (Cookie, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly {
		return Cookie{}, ErrReadOnly
	}
	if m.closed {
		return Cookie{}, fmt.Errorf("block: manager closed")
	}

	size := m.extentSize(len(buf))
	padded := make([]byte, size)
	copy(padded, buf)

	ext, ok := m.free.Alloc(size)
	if !ok {
		ext = Extent{Offset: m.fileSize, Size: size}
		m.fileSize += size
	}

	if _, err := m.file.WriteAt(padded, int64(ext.Offset)); err != nil {
		return Cookie{}, fmt.Errorf("block: write extent at %d: %w", ext.Offset, err)
	}

	var sum uint32
	if dataChecksum {
		sum = crc32.Checksum(padded, crc32.MakeTable(crc32.Castagnoli))
	} else {
		sum = crc32.Checksum(padded[:min(len(buf), len(padded))], crc32.MakeTable(crc32.Castagnoli))
	}

	return Cookie{Offset: ext.Offset, Size: uint32(size), Checksum: sum}, nil
}

// Free returns cookie's extent to the free list. It becomes available
// for reuse only after the next successful Checkpoint, matching the
// delayed-reclaim contract: callers must not rely on immediate reuse.
func (m *Manager) Free(cookie Cookie) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly {
		return ErrReadOnly
	}
	m.pendingFree = append(m.pendingFree, Extent{Offset: cookie.Offset, Size: uint64(cookie.Size)})
	return nil
}

// Checkpoint records the current allocation state under root and
// persists the extent lists the checkpoint cookie carries: avail,
// discard and free-after-checkpoint are filled in; the alloc list is
// written empty. lsn is the WAL sequence number
// up to which the checkpointed data is durable; recovery uses it (via
// CheckpointLSN) to skip already-checkpointed log records for this file.
// After Checkpoint returns, the extents freed since the prior checkpoint
// become available for reuse.
func (m *Manager) Checkpoint(root Cookie, lsn uint64) (CheckpointCookie, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly {
		return CheckpointCookie{}, ErrReadOnly
	}

	for _, e := range m.pendingFree {
		m.free.Free(e)
	}
	discard := m.pendingFree
	m.pendingFree = nil

	ckpt := CheckpointCookie{
		Root:          root,
		Avail:         m.free.All(),
		Discard:       discard,
		FreeAfterCkpt: m.free.All(),
		FileSize:      m.fileSize,
	}
	encoded := ckpt.Encode()
	ckpt.CheckpointSize = uint64(len(encoded))

	m.desc.CheckpointRoot = encoded
	m.desc.FileSize = m.fileSize
	m.desc.CheckpointLSN = lsn
	if err := m.writeDescription(); err != nil {
		return CheckpointCookie{}, err
	}
	if err := m.file.Sync(); err != nil {
		return CheckpointCookie{}, fmt.Errorf("block: sync after checkpoint: %w", err)
	}
	return ckpt, nil
}

// CheckpointLSN returns the WAL sequence number recorded by the most
// recent Checkpoint, or 0 if the file has never been checkpointed.
func (m *Manager) CheckpointLSN() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.desc.CheckpointLSN
}

// CheckpointLoad decodes the checkpoint recorded by the most recent
// Checkpoint and returns the root cookie it anchored. It does not
// rebuild the live extent set; Open loads the free list from the same
// checkpoint's free-after-checkpoint list.
func (m *Manager) CheckpointLoad() (Cookie, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.desc.CheckpointRoot) == 0 {
		return Cookie{}, ErrNotFound
	}
	ckpt, err := DecodeCheckpointCookie(m.desc.CheckpointRoot)
	if err != nil {
		return Cookie{}, err
	}
	return ckpt.Root, nil
}

// Sync flushes the backing file. async requests a non-blocking variant;
// this implementation has no async I/O path, so async is honored on a
// best-effort basis and still calls through to the OS.
func (m *Manager) Sync(async bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("block: sync: %w", err)
	}
	return nil
}

// Close releases the backing file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.file.Close()
}

// AllocSize reports the extent alignment unit this manager was opened with.
func (m *Manager) AllocSize() uint32 { return m.allocSize }

// ReadOnly reports whether this handle rejects mutators.
func (m *Manager) ReadOnly() bool { return m.readOnly }
