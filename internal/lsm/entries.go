package lsm

import (
	"bytes"
	"sort"

	"github.com/bitbased/archengine-sub001/internal/btree"
)

// Entry is one materialized (key, value) pair read out of a chunk's
// tree, the unit flush and merge operate on.
type Entry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Entries walks every leaf of tr in key order, resolving each page's
// on-page cells against its not-yet-reconciled update/insert lists the
// same way Reconcile's materialize step does, keeping only the version
// visible to the given snapshot. Used by flush (to write a chunk's
// in-memory content out as a clean sorted run) and merge (to fold
// several chunks' entries together).
func Entries(tr *btree.Tree, visible btree.Visible) ([]Entry, error) {
	var out []Entry
	if err := walk(tr, tr.Root(), visible, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func walk(tr *btree.Tree, ref *btree.Ref, visible btree.Visible, out *[]Entry) error {
	p, err := tr.Resolve(ref)
	if err != nil {
		return err
	}
	if p.Children != nil {
		for _, child := range p.Children {
			if err := walk(tr, child, visible, out); err != nil {
				return err
			}
		}
		return nil
	}
	return leafEntries(p, visible, out)
}

func leafEntries(p *btree.Page, visible btree.Visible, out *[]Entry) error {
	type kv struct {
		key   []byte
		value []byte
		tomb  bool
		ok    bool
	}
	merged := make(map[string]kv, len(p.Cells))
	order := make([][]byte, 0, len(p.Cells))

	for _, c := range p.Cells {
		order = append(order, c.Key)
		merged[string(c.Key)] = kv{key: c.Key, value: c.Value, ok: true}
	}

	for i, c := range p.Cells {
		head := p.UpdateHead(i)
		if head == nil {
			continue
		}
		val, ok, tomb := btree.VisibleValue(head, visible)
		if ok {
			merged[string(c.Key)] = kv{key: c.Key, value: val, tomb: tomb, ok: true}
		}
	}

	for _, ins := range p.InsertedEntries() {
		val, ok, tomb := btree.VisibleValue(ins.UpdateHead, visible)
		if !ok {
			continue
		}
		if _, exists := merged[string(ins.Key)]; !exists {
			order = append(order, ins.Key)
		}
		merged[string(ins.Key)] = kv{key: ins.Key, value: val, tomb: tomb, ok: true}
	}

	sort.Slice(order, func(i, j int) bool { return bytes.Compare(order[i], order[j]) < 0 })

	for _, k := range order {
		v := merged[string(k)]
		*out = append(*out, Entry{Key: v.key, Value: v.value, Tombstone: v.tomb})
	}
	return nil
}
