// Package dberrors defines the error taxonomy shared across the bucket list
// storage engine. Callers compare against these with errors.Is; wrapping
// with fmt.Errorf("...: %w", err) at each layer preserves the sentinel.
package dberrors

import "errors"

var (
	// ErrBatchInvariantViolated means the ledger-txn collaborator handed the
	// engine a batch where a key appears in more than one of init/live/dead,
	// or AddBatch was called for a ledger other than lastClosed+1. An init
	// key that is already live in the bucket list is not checked for. Fatal
	// for the ledger close in progress; the ledger must not advance.
	ErrBatchInvariantViolated = errors.New("bucketnode: batch invariant violated")

	// ErrMergeAborted means a merge was cancelled by cooperative shutdown.
	// Transient: the persisted archive state lets the merge restart.
	ErrMergeAborted = errors.New("bucketnode: merge aborted")

	// ErrBucketCorrupt means a bucket file's content hash does not match its
	// name, or a read failed to parse a record. Fatal; requires external
	// repair from a history archive.
	ErrBucketCorrupt = errors.New("bucketnode: bucket corrupt")

	// ErrIoError wraps an underlying disk failure. I/O operations are not
	// retried; the first failure is returned.
	ErrIoError = errors.New("bucketnode: io error")

	// ErrProtocolViolation means an INIT or META entry was observed at a
	// protocol version below the gate that introduced them.
	ErrProtocolViolation = errors.New("bucketnode: protocol violation")

	// ErrNotFound marks a lookup of something that does not exist. The
	// manager's GetBucketByHash does not return it: an unknown hash with no
	// file on disk surfaces as ErrIoError from opening the missing file.
	ErrNotFound = errors.New("bucketnode: not found")

	// ErrClosed means the component has already been shut down.
	ErrClosed = errors.New("bucketnode: closed")
)
