// Package pagestore implements the file-backed fixed-size page store
// (§4.B): allocation, read/write with CRC verification, fsync, and
// tag-gated truncation for partition re-creation. An optional direct-I/O
// variant (direct.go) bypasses the page cache using aligned buffers.
package pagestore

import "github.com/cuemby/gridcore/pkg/pageid"

// Stats are exposed to pkg/metrics.
type Stats struct {
	PagesAllocated uint64
	PagesWritten   uint64
	PagesRead      uint64
	CRCFailures    uint64
}

// Store is the contract every page store implementation (buffered or
// direct I/O) satisfies.
type Store interface {
	// Allocate returns a fresh PageId for the given flag, backed by a
	// monotonic per-(flag, partition) counter.
	Allocate(flag pageid.Flag, partition uint16) (pageid.PageId, error)

	// Read fills buf (which must be exactly PageSize bytes) from disk.
	// CRC is verified unless keepChecksum is true (used when replaying
	// a page whose CRC will be recomputed after the delta is applied).
	Read(id pageid.PageId, buf []byte, keepChecksum bool) error

	// Write persists buf at id's derived offset, gated by tag: a write
	// whose tag is less than or equal to the partition's current
	// truncation watermark is silently discarded.
	Write(id pageid.PageId, buf []byte, tag int64) error

	// Truncate bumps every partition's truncation watermark to tag,
	// discarding any pending writes with tag <= the new watermark. Used
	// when a partition is deleted and about to be re-created.
	Truncate(tag int64) error

	// Sync forces all dirty file buffers to stable storage.
	Sync() error

	// Stop closes the store's open files. If cleanFiles is set, the
	// backing files are also removed from disk.
	Stop(cleanFiles bool) error

	Stats() Stats

	// PageSize returns the fixed page size this store was configured
	// with.
	PageSize() int
}
