// Package gridcore is the root package: it declares the error kinds from
// §7 and hosts Engine, the embeddable init/run/shutdown lifecycle that
// wires the page store, WAL, page memory, B+Tree, partition map,
// transaction coordinator, and vacuum workers together.
package gridcore

import (
	"fmt"

	"github.com/cuemby/gridcore/pkg/pageid"
	"github.com/cuemby/gridcore/pkg/walpointer"
)

// ConfigurationError reports an invalid configuration value discovered
// at startup (bad page size, missing required path).
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// StorageError reports a page store I/O failure: read/write/fsync,
// alignment, or short read. It carries the offending page reference.
type StorageError struct {
	Page PageRef
	Op   string
	Err  error
}

// PageRef names the page a StorageError was about.
type PageRef struct {
	PageId pageid.PageId
	Path   string
	Offset int64
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s on page %v (path=%s offset=%d): %v", e.Op, e.Page.PageId, e.Page.Path, e.Page.Offset, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WALError reports a WAL framing, CRC, or truncation failure. It carries
// the WAL pointer where the failure was detected.
type WALError struct {
	Pointer walpointer.Pointer
	Reason  string
	Err     error
}

func (e *WALError) Error() string {
	return fmt.Sprintf("wal error at %v: %s: %v", e.Pointer, e.Reason, e.Err)
}

func (e *WALError) Unwrap() error { return e.Err }

// SerializationError reports a protocol or version tag mismatch.
type SerializationError struct {
	What string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error: %s: %v", e.What, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// PartitionStateError reports an illegal partition state transition or
// reservation operation (reserve on EVICTED, double-remove of a
// reservation, invalid transition).
type PartitionStateError struct {
	PartId uint32
	Op     string
	Reason string
}

func (e *PartitionStateError) Error() string {
	return fmt.Sprintf("partition %d: %s: %s", e.PartId, e.Op, e.Reason)
}

// LockConflictError is retryable; it carries the conflicting transaction
// and key.
type LockConflictError struct {
	Key         string
	ConflictXid string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("lock conflict on key %q held by tx %s", e.Key, e.ConflictXid)
}

// TxTimeoutError is non-retryable for the transaction that hit it, but
// retryable for the client that issued it.
type TxTimeoutError struct {
	Xid     string
	Elapsed string
}

func (e *TxTimeoutError) Error() string {
	return fmt.Sprintf("transaction %s timed out after %s", e.Xid, e.Elapsed)
}

// TxDeadlockError describes a transaction aborted as the victim of a
// waits-for cycle. txn.Coordinator.DetectDeadlocks rolls its victims back
// and reports them by xid; it does not construct this error.
type TxDeadlockError struct {
	Xid   string
	Cycle []string
}

func (e *TxDeadlockError) Error() string {
	return fmt.Sprintf("transaction %s aborted: deadlock cycle %v", e.Xid, e.Cycle)
}

// AffinityUnavailableError reports that no nodes own the cache for the
// requested topology version.
type AffinityUnavailableError struct {
	CacheName       string
	TopologyVersion int64
}

func (e *AffinityUnavailableError) Error() string {
	return fmt.Sprintf("affinity unavailable: cache %q has no owners at topology version %d", e.CacheName, e.TopologyVersion)
}

// InternalError marks a fatal assertion failure. The node is expected to
// flush its WAL and abort when one of these is observed.
type InternalError struct {
	Assertion string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal assertion failed: %s", e.Assertion)
}
