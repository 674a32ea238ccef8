package block

import "errors"

// Error kinds the block manager surfaces across its API.
var (
	ErrNotFound          = errors.New("not found")
	ErrCorrupt           = errors.New("corrupt block")
	ErrAddressOutOfRange = errors.New("address out of range")
	ErrReadOnly          = errors.New("read only")
	ErrVersionMismatch   = errors.New("version mismatch")
	ErrOutOfSpace        = errors.New("out of space")
	ErrPanic             = errors.New("panic: connection unusable")
)
