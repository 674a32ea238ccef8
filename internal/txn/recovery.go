package txn

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
)

// Applier is what a recovery pass replays operations against. A file
// reports MaxLSN as its checkpoint LSN to opt out of recovery
// entirely (its last checkpoint ran with logging disabled).
type Applier interface {
	ApplyOp(op OpRecord) error
	CheckpointLSN(fileID uint64) (lsn uint64, known bool)
}

// Recover runs the spec's two-pass replay: a metadata pass that
// replays only MetadataFileID operations and tracks the latest
// checkpoint's LSN, then a data pass from that LSN replaying every
// other known file, skipping file ids the applier no longer knows
// (dropped) or whose LSN precedes that file's own checkpoint.
// Grounded on storage/wal_advanced.go's Recover, split from its
// single committed-transaction replay loop into the spec's
// metadata-then-data pass structure.
func Recover(path string, applier Applier) (recoveredOps int, err error) {
	mainStart, n1, err := recoverMetadata(path, applier)
	if err != nil {
		return n1, fmt.Errorf("txn: metadata recovery pass: %w", err)
	}
	n2, err := recoverData(path, mainStart, applier)
	if err != nil {
		return n1 + n2, fmt.Errorf("txn: data recovery pass: %w", err)
	}
	return n1 + n2, nil
}

func recoverMetadata(path string, applier Applier) (mainRecoveryStart uint64, applied int, err error) {
	metaCkpt, known := applier.CheckpointLSN(MetadataFileID)
	if known && metaCkpt == MaxLSN {
		return 0, 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	defer f.Close()

	dec := gob.NewDecoder(f)
	pending := make(map[uint64][]OpRecord)
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			break // truncated tail: stop, do not fail the whole recovery
		}
		if err := verifyChecksum(rec); err != nil {
			break
		}
		switch rec.Type {
		case RecCommit:
			if rec.LSN < metaCkpt {
				continue
			}
			var metaOps []OpRecord
			for _, op := range rec.Ops {
				if op.FileID == MetadataFileID {
					metaOps = append(metaOps, op)
				}
			}
			if len(metaOps) > 0 {
				pending[rec.TxnID] = append(pending[rec.TxnID], metaOps...)
			}
		case RecAbort:
			delete(pending, rec.TxnID)
		case RecCheckpoint:
			if rec.FileID == MetadataFileID {
				mainRecoveryStart = rec.LSN
			}
		}
	}
	for _, ops := range pending {
		for _, op := range ops {
			if err := applier.ApplyOp(op); err != nil {
				return mainRecoveryStart, applied, err
			}
			applied++
		}
	}
	return mainRecoveryStart, applied, nil
}

func recoverData(path string, mainRecoveryStart uint64, applier Applier) (applied int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	dec := gob.NewDecoder(f)
	pending := make(map[uint64][]OpRecord)
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			break
		}
		if rec.LSN < mainRecoveryStart {
			continue
		}
		if err := verifyChecksum(rec); err != nil {
			break
		}
		switch rec.Type {
		case RecCommit:
			var dataOps []OpRecord
			for _, op := range rec.Ops {
				if op.FileID == MetadataFileID {
					continue
				}
				ckpt, known := applier.CheckpointLSN(op.FileID)
				if !known {
					continue // file was dropped
				}
				if ckpt == MaxLSN || rec.LSN < ckpt {
					continue
				}
				dataOps = append(dataOps, op)
			}
			if len(dataOps) > 0 {
				pending[rec.TxnID] = append(pending[rec.TxnID], dataOps...)
			}
		case RecAbort:
			delete(pending, rec.TxnID)
		}
	}
	for _, ops := range pending {
		for _, op := range ops {
			if err := applier.ApplyOp(op); err != nil {
				return applied, err
			}
			applied++
		}
	}
	return applied, nil
}

func verifyChecksum(rec Record) error {
	got := rec.Checksum
	want := checksumRecord(Record{
		Magic: rec.Magic, PrevChecksum: rec.PrevChecksum, Type: rec.Type,
		LSN: rec.LSN, TxnID: rec.TxnID, FileID: rec.FileID, Ops: rec.Ops,
	})
	if got != want {
		return fmt.Errorf("txn: checksum mismatch at LSN %d", rec.LSN)
	}
	return nil
}
