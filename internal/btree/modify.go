package btree

import "bytes"

// Txn is the minimal view Modify needs of a transaction: its ID
// (allocated lazily by the caller on first write) and an op-log it
// appends to for WAL emission.
type Txn interface {
	ID() uint64
	LogOp(op any)
}

// ModifyResult reports what Modify did, so the caller can decide whether
// a forced-eviction check or a log record is warranted.
type ModifyResult struct {
	Update  *UpdateRecord
	Insert  *InsertRecord
	WasInsert bool
}

// Modify installs a write into a leaf page without ever taking a
// tree-wide lock: it acquires no more than the page's own modifyState
// mutex, the serialized-install protocol's equivalent of "acquire the
// per-page lock, re-check the list head has not diverged, link and
// publish."
func Modify(p *Page, txn Txn, key []byte, value []byte, tombstone bool) ModifyResult {
	m := p.ensureModify()

	res := SearchLeafRow(p, key)

	update := &UpdateRecord{TxnID: txn.ID(), Size: uint32(len(value)), Value: value, Tombstone: tombstone}

	m.mu.Lock()
	defer m.mu.Unlock()

	if res.Compare == 0 && res.Insert == nil {
		// Existing on-page key: splice the new update at the head of that
		// slot's update list. Re-derive the head under the lock rather than
		// trusting the pre-lock search, so a concurrent installer cannot be
		// silently overwritten.
		head := m.updateHeads[res.Slot]
		update.Next = head
		m.updateHeads[res.Slot] = update
		p.MarkDirty()
		return ModifyResult{Update: update}
	}

	if res.Insert != nil {
		// Existing key already inserted by a concurrent writer and not yet
		// reconciled onto the page: splice onto its update list.
		update.Next = res.Insert.UpdateHead
		res.Insert.UpdateHead = update
		p.MarkDirty()
		return ModifyResult{Update: update}
	}

	// Brand-new key: allocate an insert record and splice it into the
	// page's skiplist.
	ins := &InsertRecord{Key: append([]byte(nil), key...), UpdateHead: update}
	less := func(a, b *InsertRecord) bool { return bytes.Compare(a.Key, b.Key) < 0 }
	m.inserts.Insert(less, ins)
	p.MarkDirty()
	return ModifyResult{Update: update, Insert: ins, WasInsert: true}
}

// ModifyColumnVariable installs a write against a column-variable leaf
// keyed by record number rather than application key, mirroring Modify's
// three-way branch (existing on-page slot, existing not-yet-reconciled
// insert, brand-new insert) with SearchColumnVariable standing in for
// SearchLeafRow and InsertRecord.RecNo standing in for InsertRecord.Key.
func ModifyColumnVariable(p *Page, txn Txn, recno uint64, value []byte, tombstone bool) ModifyResult {
	m := p.ensureModify()

	slot, found := SearchColumnVariable(p, recno)

	update := &UpdateRecord{TxnID: txn.ID(), Size: uint32(len(value)), Value: value, Tombstone: tombstone}

	m.mu.Lock()
	defer m.mu.Unlock()

	if found {
		head := m.updateHeads[slot]
		update.Next = head
		m.updateHeads[slot] = update
		p.MarkDirty()
		return ModifyResult{Update: update}
	}

	for _, ins := range m.inserts.All() {
		if ins.RecNo == recno {
			update.Next = ins.UpdateHead
			ins.UpdateHead = update
			p.MarkDirty()
			return ModifyResult{Update: update}
		}
	}

	ins := &InsertRecord{RecNo: recno, UpdateHead: update}
	less := func(a, b *InsertRecord) bool { return a.RecNo < b.RecNo }
	m.inserts.Insert(less, ins)
	p.MarkDirty()
	return ModifyResult{Update: update, Insert: ins, WasInsert: true}
}

// ModifyColumnFixed installs a write to a column-fixed leaf's bit slab.
// Column-fixed values are stored in place rather than through an update
// list, since there is no variable-length payload to chain.
func ModifyColumnFixed(p *Page, recno uint64, value byte) {
	off, ok := SearchColumnFixed(p, recno)
	if !ok || int(off) >= len(p.bitSlab) {
		return
	}
	p.mu.Lock()
	p.bitSlab[off] = value
	p.mu.Unlock()
	p.MarkDirty()
}
