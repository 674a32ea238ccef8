package conn

import "errors"

// Error kinds surfaced across the connection/session API, matching the
// small enum the spec carries across every layer: NotFound bubbles
// straight up from internal/btree (btree.ErrNotFound), Busy and Panic
// are this package's own. No DuplicateKey error is defined.
var (
	ErrBusy   = errors.New("conn: resource busy")
	ErrClosed = errors.New("conn: connection closed")
	ErrPanic  = errors.New("conn: panic: connection unusable")
)
