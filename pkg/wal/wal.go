package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/gridcore/pkg/gridcore"
	"github.com/cuemby/gridcore/pkg/log"
	"github.com/cuemby/gridcore/pkg/metrics"
	"github.com/cuemby/gridcore/pkg/walpointer"
)

// frameHeaderSize is typeTag:u8 | length:i32, the crc:u32 trailer follows
// the payload (§6: "typeTag:u8 | length:i32 | payload... | crc:u32").
const frameHeaderSize = 1 + 4
const frameTrailerSize = 4

// segmentSuffix names WAL segment files as wal-<index>.log, matching the
// FileIndex half of a walpointer.Pointer.
const segmentSuffix = ".log"

// decoder turns a raw payload into a concrete Record.
type decoder func(payload []byte) (Record, error)

var registry = map[RecordType]decoder{
	RecordTypeCheckpoint: func(p []byte) (Record, error) { return decodeCheckpointRecord(p) },
	RecordTypeTxMarker:   func(p []byte) (Record, error) { return decodeTxMarkerRecord(p) },
	RecordTypeDataRecord: func(p []byte) (Record, error) { return decodeDataRecord(p) },
}

// RegisterDecoder lets callers outside this package (pkg/rowstore,
// pkg/btree) teach the registry how to decode their page-delta record
// types without this package importing them.
func RegisterDecoder(t RecordType, d decoder) {
	registry[t] = d
}

// Manager appends records to a sequence of segment files and replays them
// back. It serializes appends behind a single mutex: the WAL is the
// system's durability bottleneck by design, and every record needs a
// total order to assign WAL pointers against.
type Manager struct {
	mu          sync.Mutex
	dir         string
	segmentSize int64

	active      *os.File
	activeIndex int32
	activeOff   int32

	logger zerolog.Logger
}

// Config configures segment sizing; the manager creates dir if absent.
type Config struct {
	Dir         string
	SegmentSize int64
}

// Open opens or creates the WAL directory, resuming at the highest
// existing segment.
func Open(cfg Config) (*Manager, error) {
	if cfg.SegmentSize <= 0 {
		return nil, &gridcore.ConfigurationError{Field: "wal.SegmentSize", Reason: "must be positive"}
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, &gridcore.ConfigurationError{Field: "wal.Dir", Reason: err.Error()}
	}

	m := &Manager{
		dir:         cfg.Dir,
		segmentSize: cfg.SegmentSize,
		logger:      log.WithComponent("wal"),
	}

	idx, off, err := latestSegment(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if err := m.openSegment(idx, off); err != nil {
		return nil, err
	}
	return m, nil
}

func latestSegment(dir string) (int32, int32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, &gridcore.ConfigurationError{Field: "wal.Dir", Reason: err.Error()}
	}
	var best int32 = -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var idx int32
		if _, err := fmt.Sscanf(e.Name(), "wal-%d"+segmentSuffix, &idx); err != nil {
			continue
		}
		if idx > best {
			best = idx
		}
	}
	if best < 0 {
		return 0, 0, nil
	}
	info, err := os.Stat(segmentPath(dir, best))
	if err != nil {
		return 0, 0, &gridcore.WALError{Reason: "stat segment", Err: err}
	}
	return best, int32(info.Size()), nil
}

func segmentPath(dir string, idx int32) string {
	return filepath.Join(dir, fmt.Sprintf("wal-%d%s", idx, segmentSuffix))
}

func (m *Manager) openSegment(idx, off int32) error {
	f, err := os.OpenFile(segmentPath(m.dir, idx), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return &gridcore.WALError{Reason: "open segment", Err: err}
	}
	if m.active != nil {
		m.active.Close()
	}
	m.active = f
	m.activeIndex = idx
	m.activeOff = off
	return nil
}

// Log appends record to the active segment, rolling over to a new one if
// it would not fit, and returns the pointer the record was written at.
func (m *Manager) Log(record Record) (walpointer.Pointer, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.WALAppendDuration)

	payload := record.MarshalPayload()
	frame := make([]byte, frameHeaderSize+len(payload)+frameTrailerSize)
	frame[0] = byte(record.Type())
	binary.BigEndian.PutUint32(frame[1:5], uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)
	crc := crc32.ChecksumIEEE(frame[:frameHeaderSize+len(payload)])
	binary.BigEndian.PutUint32(frame[len(frame)-4:], crc)

	m.mu.Lock()
	defer m.mu.Unlock()

	if int64(m.activeOff)+int64(len(frame)) > m.segmentSize {
		if err := m.rollover(); err != nil {
			return walpointer.Zero, err
		}
	}

	n, err := m.active.WriteAt(frame, int64(m.activeOff))
	if err != nil {
		return walpointer.Zero, &gridcore.WALError{Reason: "append", Err: err}
	}
	ptr := walpointer.Pointer{FileIndex: m.activeIndex, FileOffset: m.activeOff, Length: int32(n)}
	m.activeOff += int32(n)

	metrics.WALBytesWritten.Add(float64(n))
	return ptr, nil
}

// rollover produces the next segment's first pointer, (idx+1, 0, len),
// per §4.C.
func (m *Manager) rollover() error {
	if err := m.active.Sync(); err != nil {
		return &gridcore.WALError{Reason: "sync before rollover", Err: err}
	}
	nextIdx := m.activeIndex + 1
	if err := m.openSegment(nextIdx, 0); err != nil {
		return err
	}
	metrics.WALSegmentRollovers.Inc()
	m.logger.Debug().Int32("segment", nextIdx).Msg("wal segment rollover")
	return nil
}

// Sync fsyncs the active segment.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.active.Sync(); err != nil {
		return &gridcore.WALError{Reason: "sync", Err: err}
	}
	return nil
}

// Close releases the active segment file handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.Close()
}

// Iterator replays records starting at a given pointer in file order.
type Iterator struct {
	dir     string
	idx     int32
	off     int32
	segment *os.File
}

// Replay opens an iterator positioned at from. Passing walpointer.Zero
// starts at the beginning of the log.
func (m *Manager) Replay(from walpointer.Pointer) (*Iterator, error) {
	it := &Iterator{dir: m.dir, idx: from.FileIndex, off: from.FileOffset}
	if err := it.openCurrent(); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *Iterator) openCurrent() error {
	f, err := os.Open(segmentPath(it.dir, it.idx))
	if os.IsNotExist(err) {
		it.segment = nil
		return nil
	}
	if err != nil {
		return &gridcore.WALError{Reason: "open segment for replay", Err: err}
	}
	if it.segment != nil {
		it.segment.Close()
	}
	it.segment = f
	return nil
}

// Next decodes the next record, advancing the iterator. It returns
// (nil, walpointer.Zero, nil) when replay reaches the end of the log.
func (it *Iterator) Next() (Record, walpointer.Pointer, error) {
	if it.segment == nil {
		return nil, walpointer.Zero, nil
	}

	head := make([]byte, frameHeaderSize)
	n, err := it.segment.ReadAt(head, int64(it.off))
	if n < frameHeaderSize {
		// exhausted this segment; try rolling to the next one
		it.idx++
		it.off = 0
		if err := it.openCurrent(); err != nil {
			return nil, walpointer.Zero, err
		}
		if it.segment == nil {
			return nil, walpointer.Zero, nil
		}
		return it.Next()
	}
	if err != nil {
		return nil, walpointer.Zero, &gridcore.WALError{Reason: "read frame header", Err: err}
	}

	typ := RecordType(head[0])
	payloadLen := binary.BigEndian.Uint32(head[1:5])
	frameLen := frameHeaderSize + int(payloadLen) + frameTrailerSize

	frame := make([]byte, frameLen)
	if _, err := it.segment.ReadAt(frame, int64(it.off)); err != nil {
		return nil, walpointer.Zero, &gridcore.WALError{Reason: "read frame body", Err: err}
	}

	wantCRC := binary.BigEndian.Uint32(frame[frameLen-4:])
	gotCRC := crc32.ChecksumIEEE(frame[:frameLen-4])
	if wantCRC != gotCRC {
		return nil, walpointer.Zero, &gridcore.WALError{
			Pointer: walpointer.Pointer{FileIndex: it.idx, FileOffset: it.off, Length: int32(frameLen)},
			Reason:  "crc mismatch",
		}
	}

	decode, ok := registry[typ]
	if !ok {
		return nil, walpointer.Zero, &gridcore.WALError{Reason: fmt.Sprintf("unknown record type %d", typ)}
	}
	record, err := decode(frame[frameHeaderSize : frameHeaderSize+int(payloadLen)])
	if err != nil {
		return nil, walpointer.Zero, &gridcore.WALError{Reason: "decode record", Err: err}
	}

	ptr := walpointer.Pointer{FileIndex: it.idx, FileOffset: it.off, Length: int32(frameLen)}
	it.off += int32(frameLen)
	return record, ptr, nil
}

// Close releases the iterator's open segment handle, if any.
func (it *Iterator) Close() error {
	if it.segment == nil {
		return nil
	}
	return it.segment.Close()
}
