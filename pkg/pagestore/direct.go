//go:build linux

package pagestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/cuemby/gridcore/pkg/gridcore"
	"github.com/cuemby/gridcore/pkg/metrics"
	"github.com/cuemby/gridcore/pkg/pageid"
)

// DirectStore is the O_DIRECT variant of the page store (§4.B). Buffers
// passed to Read/Write must be aligned to the filesystem block size, and
// pageSize must be a multiple of that block size. Read and Write copy an
// unaligned caller buffer through a pooled aligned bounce buffer (the
// scratch pool, filled by alignedBuffer).
type DirectStore struct {
	dir       string
	pageSize  int
	blockSize int

	filesMu sync.Mutex
	files   map[uint16]*directPartitionFile

	countersMu sync.Mutex
	counters   map[counterKey]uint64

	scratch sync.Pool

	reads, writes, crcFailures, allocated atomic.Uint64
}

type directPartitionFile struct {
	mu         sync.Mutex
	fd         int
	truncateAt int64
}

// NewDirectStore opens a direct-I/O page store. blockSize is the
// filesystem's required alignment (commonly 512 or 4096); pageSize must
// be a positive multiple of it.
func NewDirectStore(dir string, pageSize, blockSize int) (*DirectStore, error) {
	if blockSize <= 0 || pageSize%blockSize != 0 {
		return nil, &gridcore.ConfigurationError{Field: "pageSize", Reason: "must be a multiple of blockSize for direct I/O"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &gridcore.ConfigurationError{Field: "dir", Reason: err.Error()}
	}
	s := &DirectStore{
		dir:       dir,
		pageSize:  pageSize,
		blockSize: blockSize,
		files:     make(map[uint16]*directPartitionFile),
		counters:  make(map[counterKey]uint64),
	}
	s.scratch.New = func() any {
		return alignedBuffer(pageSize, blockSize)
	}
	return s, nil
}

func (s *DirectStore) PageSize() int { return s.pageSize }

func (s *DirectStore) pathFor(partition uint16) string {
	if partition == pageid.IndexPartition {
		return filepath.Join(s.dir, "index.bin")
	}
	return filepath.Join(s.dir, fmt.Sprintf("part-%d.bin", partition))
}

func (s *DirectStore) fileFor(partition uint16) (*directPartitionFile, error) {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()

	if pf, ok := s.files[partition]; ok {
		return pf, nil
	}
	fd, err := unix.Open(s.pathFor(partition), unix.O_RDWR|unix.O_CREAT|unix.O_DIRECT, 0o600)
	if err != nil {
		return nil, &gridcore.StorageError{Page: gridcore.PageRef{Path: s.pathFor(partition)}, Op: "open", Err: err}
	}
	pf := &directPartitionFile{fd: fd, truncateAt: -1}
	s.files[partition] = pf
	return pf, nil
}

// isAligned reports whether buf's address and length satisfy O_DIRECT's
// alignment requirement.
func isAligned(buf []byte, blockSize int) bool {
	if len(buf)%blockSize != 0 {
		return false
	}
	return uintptrOf(buf)%uintptr(blockSize) == 0
}

func (s *DirectStore) Allocate(flag pageid.Flag, partition uint16) (pageid.PageId, error) {
	s.countersMu.Lock()
	key := counterKey{flag: flag, partition: partition}
	idx := s.counters[key]
	s.counters[key] = idx + 1
	s.countersMu.Unlock()

	s.allocated.Add(1)
	return pageid.New(flag, partition, idx), nil
}

func (s *DirectStore) offsetOf(id pageid.PageId) int64 {
	return int64(id.Index()) * int64(s.pageSize)
}

func (s *DirectStore) Read(id pageid.PageId, buf []byte, keepChecksum bool) error {
	if len(buf) != s.pageSize {
		return &gridcore.StorageError{Page: gridcore.PageRef{PageId: id}, Op: "read", Err: fmt.Errorf("buffer size %d != page size %d", len(buf), s.pageSize)}
	}
	pf, err := s.fileFor(id.PartId())
	if err != nil {
		return err
	}
	offset := s.offsetOf(id)

	target := buf
	bounce := !isAligned(buf, s.blockSize)
	if bounce {
		target = s.scratch.Get().([]byte)
		defer s.scratch.Put(target) //nolint:staticcheck // pooled regardless of error path
	}

	pf.mu.Lock()
	n, err := unix.Pread(pf.fd, target, offset)
	pf.mu.Unlock()

	if err != nil {
		return &gridcore.StorageError{Page: gridcore.PageRef{PageId: id, Offset: offset}, Op: "read", Err: err}
	}
	if n != s.pageSize {
		return &gridcore.StorageError{Page: gridcore.PageRef{PageId: id, Offset: offset}, Op: "read", Err: fmt.Errorf("short read: got %d bytes, want %d", n, s.pageSize)}
	}
	if bounce {
		copy(buf, target)
	}

	s.reads.Add(1)
	metrics.PageStoreReads.Inc()

	if !keepChecksum && !VerifyCRC(buf) {
		s.crcFailures.Add(1)
		metrics.PageStoreCRCFailures.Inc()
		return &gridcore.StorageError{Page: gridcore.PageRef{PageId: id, Offset: offset}, Op: "read", Err: fmt.Errorf("CRC mismatch")}
	}
	return nil
}

func (s *DirectStore) Write(id pageid.PageId, buf []byte, tag int64) error {
	if len(buf) != s.pageSize {
		return &gridcore.StorageError{Page: gridcore.PageRef{PageId: id}, Op: "write", Err: fmt.Errorf("buffer size %d != page size %d", len(buf), s.pageSize)}
	}
	pf, err := s.fileFor(id.PartId())
	if err != nil {
		return err
	}
	offset := s.offsetOf(id)

	source := buf
	if !isAligned(buf, s.blockSize) {
		scratch := s.scratch.Get().([]byte)
		copy(scratch, buf)
		source = scratch
		defer s.scratch.Put(scratch)
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if tag <= pf.truncateAt {
		return nil
	}
	if _, err := unix.Pwrite(pf.fd, source, offset); err != nil {
		return &gridcore.StorageError{Page: gridcore.PageRef{PageId: id, Offset: offset}, Op: "write", Err: err}
	}

	s.writes.Add(1)
	metrics.PageStoreWrites.Inc()
	return nil
}

func (s *DirectStore) Truncate(tag int64) error {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	for _, pf := range s.files {
		pf.mu.Lock()
		if tag > pf.truncateAt {
			pf.truncateAt = tag
		}
		pf.mu.Unlock()
	}
	return nil
}

func (s *DirectStore) Sync() error {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	for partition, pf := range s.files {
		pf.mu.Lock()
		err := unix.Fsync(pf.fd)
		pf.mu.Unlock()
		if err != nil {
			return &gridcore.StorageError{Page: gridcore.PageRef{Path: s.pathFor(partition)}, Op: "fsync", Err: err}
		}
	}
	return nil
}

func (s *DirectStore) Stop(cleanFiles bool) error {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	for partition, pf := range s.files {
		path := s.pathFor(partition)
		if err := unix.Close(pf.fd); err != nil {
			return &gridcore.StorageError{Page: gridcore.PageRef{Path: path}, Op: "close", Err: err}
		}
		if cleanFiles {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return &gridcore.StorageError{Page: gridcore.PageRef{Path: path}, Op: "remove", Err: err}
			}
		}
	}
	s.files = make(map[uint16]*directPartitionFile)
	return nil
}

func (s *DirectStore) Stats() Stats {
	return Stats{
		PagesAllocated: s.allocated.Load(),
		PagesWritten:   s.writes.Load(),
		PagesRead:      s.reads.Load(),
		CRCFailures:    s.crcFailures.Load(),
	}
}
