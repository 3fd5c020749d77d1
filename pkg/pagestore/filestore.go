package pagestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cuemby/gridcore/pkg/gridcore"
	"github.com/cuemby/gridcore/pkg/log"
	"github.com/cuemby/gridcore/pkg/metrics"
	"github.com/cuemby/gridcore/pkg/pageid"
)

type counterKey struct {
	flag      pageid.Flag
	partition uint16
}

type partitionFile struct {
	mu         sync.Mutex
	file       *os.File
	truncateAt int64 // writes with tag <= truncateAt are discarded
}

// FileStore is the buffered (non direct-I/O) file page store.
type FileStore struct {
	dir      string
	pageSize int

	countersMu sync.Mutex
	counters   map[counterKey]uint64

	filesMu sync.Mutex
	files   map[uint16]*partitionFile

	reads, writes, crcFailures, allocated atomic.Uint64
}

// NewFileStore opens a buffered page store rooted at dir, which holds one
// file per partition (part-<N>.bin) plus index.bin for the reserved
// index partition, per §6.
func NewFileStore(dir string, pageSize int) (*FileStore, error) {
	if pageSize <= HeaderSize {
		return nil, &gridcore.ConfigurationError{Field: "pageSize", Reason: "must exceed header size"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &gridcore.ConfigurationError{Field: "dir", Reason: err.Error()}
	}
	return &FileStore{
		dir:      dir,
		pageSize: pageSize,
		counters: make(map[counterKey]uint64),
		files:    make(map[uint16]*partitionFile),
	}, nil
}

func (s *FileStore) PageSize() int { return s.pageSize }

func (s *FileStore) pathFor(partition uint16) string {
	if partition == pageid.IndexPartition {
		return filepath.Join(s.dir, "index.bin")
	}
	return filepath.Join(s.dir, fmt.Sprintf("part-%d.bin", partition))
}

func (s *FileStore) fileFor(partition uint16) (*partitionFile, error) {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()

	if pf, ok := s.files[partition]; ok {
		return pf, nil
	}
	f, err := os.OpenFile(s.pathFor(partition), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, &gridcore.StorageError{
			Page: gridcore.PageRef{Path: s.pathFor(partition)},
			Op:   "open",
			Err:  err,
		}
	}
	pf := &partitionFile{file: f, truncateAt: -1}
	s.files[partition] = pf
	return pf, nil
}

// Allocate increments the (flag, partition) counter and returns a
// well-formed PageId.
func (s *FileStore) Allocate(flag pageid.Flag, partition uint16) (pageid.PageId, error) {
	s.countersMu.Lock()
	key := counterKey{flag: flag, partition: partition}
	idx := s.counters[key]
	s.counters[key] = idx + 1
	s.countersMu.Unlock()

	s.allocated.Add(1)
	return pageid.New(flag, partition, idx), nil
}

func (s *FileStore) offsetOf(id pageid.PageId) int64 {
	return int64(id.Index()) * int64(s.pageSize)
}

// Read fills buf from disk at id's derived offset.
func (s *FileStore) Read(id pageid.PageId, buf []byte, keepChecksum bool) error {
	if len(buf) != s.pageSize {
		return &gridcore.StorageError{Page: gridcore.PageRef{PageId: id}, Op: "read", Err: fmt.Errorf("buffer size %d != page size %d", len(buf), s.pageSize)}
	}
	pf, err := s.fileFor(id.PartId())
	if err != nil {
		return err
	}
	offset := s.offsetOf(id)

	pf.mu.Lock()
	n, err := pf.file.ReadAt(buf, offset)
	pf.mu.Unlock()

	if err != nil {
		return &gridcore.StorageError{Page: gridcore.PageRef{PageId: id, Offset: offset}, Op: "read", Err: err}
	}
	if n != s.pageSize {
		return &gridcore.StorageError{Page: gridcore.PageRef{PageId: id, Offset: offset}, Op: "read", Err: fmt.Errorf("short read: got %d bytes, want %d", n, s.pageSize)}
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

// Write persists buf at id's derived offset, unless tag is stale.
func (s *FileStore) Write(id pageid.PageId, buf []byte, tag int64) error {
	if len(buf) != s.pageSize {
		return &gridcore.StorageError{Page: gridcore.PageRef{PageId: id}, Op: "write", Err: fmt.Errorf("buffer size %d != page size %d", len(buf), s.pageSize)}
	}
	pf, err := s.fileFor(id.PartId())
	if err != nil {
		return err
	}
	offset := s.offsetOf(id)

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if tag <= pf.truncateAt {
		log.WithComponent("pagestore").Debug().
			Int64("tag", tag).Int64("truncateAt", pf.truncateAt).
			Msg("discarding stale page write")
		return nil
	}

	if _, err := pf.file.WriteAt(buf, offset); err != nil {
		return &gridcore.StorageError{Page: gridcore.PageRef{PageId: id, Offset: offset}, Op: "write", Err: err}
	}

	s.writes.Add(1)
	metrics.PageStoreWrites.Inc()
	return nil
}

// Truncate bumps every known partition's truncation watermark.
func (s *FileStore) Truncate(tag int64) error {
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

// Sync forces all open files to stable storage.
func (s *FileStore) Sync() error {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()

	for partition, pf := range s.files {
		pf.mu.Lock()
		err := pf.file.Sync()
		pf.mu.Unlock()
		if err != nil {
			return &gridcore.StorageError{Page: gridcore.PageRef{Path: s.pathFor(partition)}, Op: "fsync", Err: err}
		}
	}
	return nil
}

// Stop closes all open files, optionally deleting them.
func (s *FileStore) Stop(cleanFiles bool) error {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()

	for partition, pf := range s.files {
		pf.mu.Lock()
		err := pf.file.Close()
		path := s.pathFor(partition)
		pf.mu.Unlock()
		if err != nil {
			return &gridcore.StorageError{Page: gridcore.PageRef{Path: path}, Op: "close", Err: err}
		}
		if cleanFiles {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return &gridcore.StorageError{Page: gridcore.PageRef{Path: path}, Op: "remove", Err: err}
			}
		}
	}
	s.files = make(map[uint16]*partitionFile)
	return nil
}

func (s *FileStore) Stats() Stats {
	return Stats{
		PagesAllocated: s.allocated.Load(),
		PagesWritten:   s.writes.Load(),
		PagesRead:      s.reads.Load(),
		CRCFailures:    s.crcFailures.Load(),
	}
}
