package txn

import "sort"

// Snapshot is the immutable view a reader uses to decide which
// updates are visible. It is grounded on tinySQL's TxContext's
// ReadSnapshot field, generalized from a single timestamp comparison
// to the spec's sorted concurrent-id array so visibility never needs
// a shared commit-log lookup.
type Snapshot struct {
	OwnerID         ID
	Min             ID // snap_min: smallest id considered concurrent
	Max             ID // snap_max: the most recently allocated id at snapshot time
	IDs             []ID // sorted, the concurrently-running ids captured at snapshot time
	ReadUncommitted bool
}

// Visible reports whether an update written by writer is visible to
// this snapshot:
//
//	writer == owner (my own writes), or
//	writer < snap_min (committed before my snapshot began), or
//	writer <= snap_max AND writer not in the snapshot array (committed
//	  before my snapshot and not concurrent with it).
func (s Snapshot) Visible(writer ID) bool {
	if writer == Aborted {
		return false
	}
	if s.ReadUncommitted {
		return true
	}
	if writer == s.OwnerID {
		return true
	}
	if writer < s.Min {
		return true
	}
	if writer <= s.Max && !s.contains(writer) {
		return true
	}
	return false
}

func (s Snapshot) contains(id ID) bool {
	i := sort.Search(len(s.IDs), func(i int) bool { return s.IDs[i] >= id })
	return i < len(s.IDs) && s.IDs[i] == id
}
