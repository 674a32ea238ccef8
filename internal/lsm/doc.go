// Package lsm layers a log-structured merge tree of chunks — each
// chunk a self-contained internal/btree tree — under one ordered key
// space, so high write volume can be absorbed into small in-memory
// trees and reconciled down to disk and merged in the background
// instead of every write touching one shared tree.
//
// The background worker shape (trigger channels drained by a small
// fixed goroutine pool, a ticker forcing periodic passes even with no
// explicit trigger) is grounded on dd0wney-graphdb's pkg/lsm/lsm.go
// LSMStorage.flushWorker/compactionWorker, generalized from two
// single-purpose workers into the spec's three priority work queues
// (switch/application/manager) drained by a worker pool coordinated
// with golang.org/x/sync/errgroup.
package lsm
