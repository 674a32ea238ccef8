package conn

import (
	"errors"
	"fmt"

	"github.com/bitbased/archengine-sub001/internal/block"
	"github.com/bitbased/archengine-sub001/internal/btree"
	"github.com/bitbased/archengine-sub001/internal/meta"
	"github.com/bitbased/archengine-sub001/internal/txn"
)

// replayTxn stands in for a real transaction during recovery replay: its
// ID is always txn.None (0), which every snapshot treats as already
// committed and visible to every future reader, and its op log is
// discarded since a replayed write must never itself be logged again.
type replayTxn struct{}

func (replayTxn) ID() uint64   { return uint64(txn.None) }
func (replayTxn) LogOp(op any) {}

// recoveryApplier implements txn.Applier against a Connection: it
// resolves a WAL record's numeric file id to the data handle it belongs
// to (via the metadata store, which the metadata recovery pass repopulates
// before the data pass begins) and replays the record's row or column
// operation directly against that handle's tree.
type recoveryApplier struct {
	c *Connection
}

func alwaysVisible(uint64) bool { return true }

// resolveURI finds the uri whose FileConfig.ID matches fileID by scanning
// every entry currently visible in the metadata tree. The metadata tree
// reflects the latest recovered state once the metadata pass has replayed
// its RecCommit records, which Recover guarantees happens before the data
// pass calls this.
func (a *recoveryApplier) resolveURI(fileID uint64) (string, bool) {
	entries, err := a.c.meta.All(btree.Visible(alwaysVisible))
	if err != nil {
		return "", false
	}
	for uri, raw := range entries {
		fc, err := meta.DecodeFileConfig(raw)
		if err != nil {
			continue
		}
		if fc.ID == fileID {
			return uri, true
		}
	}
	return "", false
}

// CheckpointLSN reports the last LSN fileID was checkpointed at, so
// Recover can skip operations a checkpoint already made durable.
func (a *recoveryApplier) CheckpointLSN(fileID uint64) (uint64, bool) {
	if fileID == metaFileID {
		return a.c.metaBM.CheckpointLSN(), true
	}
	uri, ok := a.resolveURI(fileID)
	if !ok {
		return 0, false // file id unknown: dropped since its last checkpoint
	}
	h, err := a.c.getHandle(uri)
	if err != nil || h.BM == nil {
		return 0, false
	}
	return h.BM.CheckpointLSN(), true
}

// ApplyOp replays one WAL operation record against the metadata tree or a
// data handle's tree, using replayTxn so the replay itself never tries to
// log a new WAL record.
func (a *recoveryApplier) ApplyOp(op txn.OpRecord) error {
	if op.FileID == metaFileID {
		return a.applyMetaOp(op)
	}
	uri, ok := a.resolveURI(op.FileID)
	if !ok {
		return nil // the file was dropped; nothing left to replay it into
	}
	h, err := a.c.getHandle(uri)
	if err != nil {
		return fmt.Errorf("conn: recovery: open handle for %s: %w", uri, err)
	}
	return a.applyDataOp(h, op)
}

func (a *recoveryApplier) applyMetaOp(op txn.OpRecord) error {
	switch op.Kind {
	case txn.OpRowPut:
		return a.c.meta.Put(replayTxn{}, string(op.Keys), string(op.Value))
	case txn.OpRowRemove:
		return a.c.meta.Drop(replayTxn{}, string(op.Keys))
	default:
		return nil
	}
}

func (a *recoveryApplier) applyDataOp(h *DataHandle, op txn.OpRecord) error {
	if h.Tree == nil {
		return nil // an LSM handle's own write path is replayed via its chunk files, not the WAL
	}
	rt := replayTxn{}
	switch op.Kind {
	case txn.OpRowPut:
		return h.Tree.Put(rt, op.Keys, op.Value)
	case txn.OpRowRemove:
		if err := h.Tree.Remove(rt, op.Keys); err != nil && !errors.Is(err, btree.ErrNotFound) {
			return err
		}
		return nil
	case txn.OpColPut:
		return h.Tree.PutColumnVariableAt(rt, op.Recno, op.Value)
	case txn.OpColRemove:
		if err := h.Tree.RemoveColumnVariable(rt, op.Recno); err != nil && !errors.Is(err, btree.ErrNotFound) {
			return err
		}
		return nil
	default:
		return nil
	}
}

// restoreFileIDWatermark advances the metadata store's file-id allocator
// past every id recovery found in use, so a newly created table or LSM
// tree never collides with one recovered from the log.
func (c *Connection) restoreFileIDWatermark() error {
	entries, err := c.meta.All(btree.Visible(alwaysVisible))
	if err != nil {
		return fmt.Errorf("conn: scan metadata for file-id watermark: %w", err)
	}
	var maxID uint64
	for _, raw := range entries {
		fc, err := meta.DecodeFileConfig(raw)
		if err != nil {
			continue
		}
		if fc.ID > maxID {
			maxID = fc.ID
		}
	}
	c.meta.RestoreFileIDWatermark(maxID)
	return nil
}

// checkpointTree reconciles h's root page (if it has unwritten updates)
// and records the resulting cookie as the file's durable checkpoint,
// stamped with the WAL's current write_lsn so a future Recover knows
// everything at or before this LSN is already on disk.
func (c *Connection) checkpointTree(h *DataHandle) error {
	root := h.Tree.Root()
	if root.State() == btree.StateMem && root.Page().Dirty() {
		res, err := btree.Reconcile(root.Page(), h.BM, h.ID, btree.VisibilityErr, btree.Visible(alwaysVisible), nil, h.Tree.PageSize())
		if err != nil {
			return fmt.Errorf("conn: reconcile %s: %w", h.URI, err)
		}
		switch res.Kind {
		case btree.ResultReplace:
			root.PublishDisk(res.Cookie)
		case btree.ResultEmpty:
			// An empty tree checkpoints to the zero cookie: CheckpointLoad
			// on reopen treats that the same as "never checkpointed".
			root.PublishDisk(block.Cookie{})
		case btree.ResultMultiBlock:
			// No internal-page growth path exists to install the split
			// sub-pages under a parent; leave the page resident so the
			// next checkpoint attempt (after a future split lands) retries.
			c.log.Warn("conn: checkpoint skipped, root page needs a multi-block split", "uri", h.URI)
			return nil
		}
	}
	if _, err := h.BM.Checkpoint(h.Tree.Root().Addr(), c.wal.WriteLSN()); err != nil {
		return fmt.Errorf("conn: checkpoint %s: %w", h.URI, err)
	}
	return nil
}

// checkpointMeta checkpoints the metadata file itself and records a WAL
// checkpoint marker for it, advancing the metadata recovery start point
// so a future Recover's metadata pass has less to replay.
func (c *Connection) checkpointMeta() error {
	root := c.meta.Root()
	if root.State() == btree.StateMem && root.Page().Dirty() {
		res, err := btree.Reconcile(root.Page(), c.metaBM, metaFileID, btree.VisibilityErr, btree.Visible(alwaysVisible), nil, c.meta.PageSize())
		if err != nil {
			return fmt.Errorf("conn: reconcile metadata tree: %w", err)
		}
		if res.Kind == btree.ResultReplace {
			root.PublishDisk(res.Cookie)
		}
	}
	lsn, err := c.wal.AppendCheckpoint(metaFileID)
	if err != nil {
		return fmt.Errorf("conn: append metadata checkpoint record: %w", err)
	}
	if _, err := c.metaBM.Checkpoint(c.meta.Root().Addr(), lsn); err != nil {
		return fmt.Errorf("conn: checkpoint metadata file: %w", err)
	}
	return nil
}
