// Package wal implements the append-only write-ahead log (§4.C): typed,
// CRC-framed records with a WAL pointer returned from each append, and a
// replay iterator used both for crash recovery and as the apply path for
// B+Tree/row-store mutations.
package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/gridcore/pkg/pageid"
	"github.com/cuemby/gridcore/pkg/walpointer"
)

// RecordType tags the variant of a WAL record. Record kinds are a tagged
// sum (§9) rather than a class hierarchy: one Go type per kind, a small
// registry maps tag -> decoder.
type RecordType uint8

const (
	RecordTypeDataPageInsert RecordType = 1
	RecordTypeDataPageUpdate RecordType = 2
	RecordTypeDataPageRemove RecordType = 3
	RecordTypeInitNewPage    RecordType = 4
	RecordTypeCheckpoint     RecordType = 5
	RecordTypeTxMarker       RecordType = 6
	RecordTypeDataRecord     RecordType = 7
)

func (t RecordType) String() string {
	switch t {
	case RecordTypeDataPageInsert:
		return "DATA_PAGE_INSERT_RECORD"
	case RecordTypeDataPageUpdate:
		return "DATA_PAGE_UPDATE_RECORD"
	case RecordTypeDataPageRemove:
		return "DATA_PAGE_REMOVE_RECORD"
	case RecordTypeInitNewPage:
		return "INIT_NEW_PAGE_RECORD"
	case RecordTypeCheckpoint:
		return "CHECKPOINT_RECORD"
	case RecordTypeTxMarker:
		return "TX_MARKER_RECORD"
	case RecordTypeDataRecord:
		return "DATA_RECORD"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Record is satisfied by every WAL record variant.
type Record interface {
	Type() RecordType
	// LogicalSize estimates the in-memory footprint of the record,
	// used by callers (e.g. checkpointing) that budget memory rather
	// than page counts.
	LogicalSize() int
	// MarshalPayload encodes the record's type-specific fields (not
	// including the shared typeTag/length/crc frame, which the WAL
	// manager adds).
	MarshalPayload() []byte
}

// PageDeltaRecord is a Record that mutates exactly one page and knows how
// to apply itself to that page's bytes during replay.
type PageDeltaRecord interface {
	Record
	GroupId() uint32
	PageId() pageid.PageId
	// Apply materializes the delta onto page, which must be exactly one
	// page in length and already loaded from disk.
	Apply(page []byte) error
}

// PayloadRef is either an inline byte payload or a WAL pointer to a
// previously logged DataRecord from which the payload can be re-read
// during replay -- the "inline or reference" choice §4.C describes for
// data-page insert/update/remove deltas.
type PayloadRef struct {
	Inline []byte
	Ref    *walpointer.Pointer
}

func (p PayloadRef) encode() []byte {
	if p.Ref != nil {
		buf := make([]byte, 1+12)
		buf[0] = 1
		binary.BigEndian.PutUint32(buf[1:5], uint32(p.Ref.FileIndex))
		binary.BigEndian.PutUint32(buf[5:9], uint32(p.Ref.FileOffset))
		binary.BigEndian.PutUint32(buf[9:13], uint32(p.Ref.Length))
		return buf
	}
	buf := make([]byte, 1+4+len(p.Inline))
	buf[0] = 0
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(p.Inline)))
	copy(buf[5:], p.Inline)
	return buf
}

func decodePayloadRef(buf []byte) (PayloadRef, int, error) {
	if len(buf) < 1 {
		return PayloadRef{}, 0, fmt.Errorf("wal: truncated payload ref")
	}
	switch buf[0] {
	case 1:
		if len(buf) < 13 {
			return PayloadRef{}, 0, fmt.Errorf("wal: truncated payload ref pointer")
		}
		ptr := walpointer.Pointer{
			FileIndex:  int32(binary.BigEndian.Uint32(buf[1:5])),
			FileOffset: int32(binary.BigEndian.Uint32(buf[5:9])),
			Length:     int32(binary.BigEndian.Uint32(buf[9:13])),
		}
		return PayloadRef{Ref: &ptr}, 13, nil
	case 0:
		if len(buf) < 5 {
			return PayloadRef{}, 0, fmt.Errorf("wal: truncated inline payload length")
		}
		n := int(binary.BigEndian.Uint32(buf[1:5]))
		if len(buf) < 5+n {
			return PayloadRef{}, 0, fmt.Errorf("wal: truncated inline payload body")
		}
		inline := make([]byte, n)
		copy(inline, buf[5:5+n])
		return PayloadRef{Inline: inline}, 5 + n, nil
	default:
		return PayloadRef{}, 0, fmt.Errorf("wal: unknown payload ref tag %d", buf[0])
	}
}
