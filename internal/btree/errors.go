package btree

import "errors"

var (
	ErrNotFound = errors.New("key not found")
	ErrBusy     = errors.New("ref busy")
	ErrRestart  = errors.New("descent must restart from parent")
	ErrNoMore   = errors.New("no more entries")
)
