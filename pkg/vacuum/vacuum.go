// Package vacuum implements §4.I's MVCC vacuum: one worker per task
// drawn from a shared pool, each consuming (partition, cleanupVersion)
// tasks that scan a partition's rows in key order and batch-delete
// obsolete versions under the checkpoint read lock.
package vacuum

import (
	"context"

	"github.com/cuemby/gridcore/pkg/pageid"
)

// Task is one unit of vacuum work: clean partition up to cleanupVersion.
type Task struct {
	Partition      uint32
	CleanupVersion int64
}

// VersionedRow is one row as seen by a vacuum scan: enough MVCC
// metadata to decide whether it is obsolete, without vacuum needing to
// know the storage engine's on-page layout.
type VersionedRow struct {
	Key              []byte
	Link             pageid.Link
	RowVersion       int64
	NewerCommitted   int64 // 0 if no newer committed version exists
	CreatorAborted   bool
}

// Obsolete reports whether row qualifies for cleanup at cleanupVersion
// (§4.I step 3): a row whose creating transaction aborted always
// qualifies; any other row qualifies when its own version and the newer
// committed version that superseded it are both at or before the
// watermark.
func (r VersionedRow) Obsolete(cleanupVersion int64) bool {
	if r.CreatorAborted {
		return true
	}
	if r.RowVersion > cleanupVersion {
		return false
	}
	return r.NewerCommitted > 0 && r.NewerCommitted <= cleanupVersion
}

// Cursor scans a partition's rows in key order.
type Cursor interface {
	Next() (VersionedRow, bool, error)
}

// CheckpointLocker is the subset of pagemem.Cache vacuum needs: the
// shared side of the checkpoint read lock, held for the duration of
// each cleanup batch (the §9 design note: vacuum must always hold it
// around batched cleanup, never skip it for a "small" batch).
type CheckpointLocker interface {
	AcquireCheckpointReadLock() func()
}

// Source is everything vacuum needs from the partition/storage layers:
// reservation, a key-ordered cursor, and batched deletion through F/E.
type Source interface {
	Reserve(partition uint32) (release func(), ok bool)
	PartitionOwned(partition uint32) bool
	Cursor(ctx context.Context, partition uint32) (Cursor, error)
	DeleteBatch(ctx context.Context, partition uint32, links []pageid.Link) error
}
