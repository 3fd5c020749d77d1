package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/gridcore/pkg/pageid"
	"github.com/cuemby/gridcore/pkg/pagestore"
)

// item directory layout within a data page body, shared by the apply
// helpers below: a fixed-size slot table growing from the page's high
// end, each slot holding (offset:u16, length:u16). pkg/rowstore owns the
// authoritative layout; these helpers only need enough of it to apply a
// delta during replay without re-running B+Tree/row-store logic.
const slotEntrySize = 4

func slotTableOffset(pageSize int, itemId uint16) int {
	return pageSize - int(itemId+1)*slotEntrySize
}

// DataPageInsertRecord inserts a new row fragment at itemId on a data
// page. Payload must be non-empty; the open question in §9 ("is a
// zero-length payload a valid no-op?") is resolved here as an error.
type DataPageInsertRecord struct {
	Grp     uint32
	Pid     pageid.PageId
	ItemId  uint16
	Payload PayloadRef
}

// NewDataPageInsertRecord validates and constructs an insert delta.
func NewDataPageInsertRecord(grp uint32, pid pageid.PageId, itemId uint16, payload PayloadRef) (*DataPageInsertRecord, error) {
	if payload.Ref == nil && len(payload.Inline) == 0 {
		return nil, fmt.Errorf("wal: data page insert with zero-length payload is not a valid no-op")
	}
	return &DataPageInsertRecord{Grp: grp, Pid: pid, ItemId: itemId, Payload: payload}, nil
}

func (r *DataPageInsertRecord) Type() RecordType    { return RecordTypeDataPageInsert }
func (r *DataPageInsertRecord) GroupId() uint32     { return r.Grp }
func (r *DataPageInsertRecord) PageId() pageid.PageId { return r.Pid }
func (r *DataPageInsertRecord) LogicalSize() int {
	return 4 + 8 + 2 + len(r.Payload.Inline) + 16
}

func (r *DataPageInsertRecord) MarshalPayload() []byte {
	head := make([]byte, 4+8+2)
	binary.BigEndian.PutUint32(head[0:4], r.Grp)
	binary.BigEndian.PutUint64(head[4:12], uint64(r.Pid))
	binary.BigEndian.PutUint16(head[12:14], r.ItemId)
	return append(head, r.Payload.encode()...)
}

// Apply requires the caller to have already resolved r.Payload.Ref to
// inline bytes via the data-record apply path (see Resolve).
func (r *DataPageInsertRecord) Apply(page []byte) error {
	return applyRowBytes(page, r.ItemId, r.Payload.Inline)
}

// DataPageUpdateRecord overwrites an existing row fragment in place.
type DataPageUpdateRecord struct {
	Grp     uint32
	Pid     pageid.PageId
	ItemId  uint16
	Payload PayloadRef
}

func NewDataPageUpdateRecord(grp uint32, pid pageid.PageId, itemId uint16, payload PayloadRef) (*DataPageUpdateRecord, error) {
	if payload.Ref == nil && len(payload.Inline) == 0 {
		return nil, fmt.Errorf("wal: data page update with zero-length payload is not a valid no-op")
	}
	return &DataPageUpdateRecord{Grp: grp, Pid: pid, ItemId: itemId, Payload: payload}, nil
}

func (r *DataPageUpdateRecord) Type() RecordType      { return RecordTypeDataPageUpdate }
func (r *DataPageUpdateRecord) GroupId() uint32       { return r.Grp }
func (r *DataPageUpdateRecord) PageId() pageid.PageId { return r.Pid }
func (r *DataPageUpdateRecord) LogicalSize() int {
	return 4 + 8 + 2 + len(r.Payload.Inline) + 16
}

func (r *DataPageUpdateRecord) MarshalPayload() []byte {
	head := make([]byte, 4+8+2)
	binary.BigEndian.PutUint32(head[0:4], r.Grp)
	binary.BigEndian.PutUint64(head[4:12], uint64(r.Pid))
	binary.BigEndian.PutUint16(head[12:14], r.ItemId)
	return append(head, r.Payload.encode()...)
}

func (r *DataPageUpdateRecord) Apply(page []byte) error {
	return applyRowBytes(page, r.ItemId, r.Payload.Inline)
}

// DataPageRemoveRecord removes a row fragment's slot entry.
type DataPageRemoveRecord struct {
	Grp    uint32
	Pid    pageid.PageId
	ItemId uint16
}

func (r *DataPageRemoveRecord) Type() RecordType      { return RecordTypeDataPageRemove }
func (r *DataPageRemoveRecord) GroupId() uint32       { return r.Grp }
func (r *DataPageRemoveRecord) PageId() pageid.PageId { return r.Pid }
func (r *DataPageRemoveRecord) LogicalSize() int      { return 4 + 8 + 2 }

func (r *DataPageRemoveRecord) MarshalPayload() []byte {
	buf := make([]byte, 4+8+2)
	binary.BigEndian.PutUint32(buf[0:4], r.Grp)
	binary.BigEndian.PutUint64(buf[4:12], uint64(r.Pid))
	binary.BigEndian.PutUint16(buf[12:14], r.ItemId)
	return buf
}

func (r *DataPageRemoveRecord) Apply(page []byte) error {
	off := slotTableOffset(len(page), r.ItemId)
	if off < 0 || off+slotEntrySize > len(page) {
		return fmt.Errorf("wal: remove delta itemId %d out of range", r.ItemId)
	}
	binary.BigEndian.PutUint16(page[off:], 0)
	binary.BigEndian.PutUint16(page[off+2:], 0)
	return nil
}

// InitNewPageRecord (re)initializes a page's header and empty body --
// used both for fresh data pages and for B+Tree split/merge targets.
type InitNewPageRecord struct {
	Grp      uint32
	Pid      pageid.PageId
	PageType pagestore.PageType
}

func (r *InitNewPageRecord) Type() RecordType      { return RecordTypeInitNewPage }
func (r *InitNewPageRecord) GroupId() uint32       { return r.Grp }
func (r *InitNewPageRecord) PageId() pageid.PageId { return r.Pid }
func (r *InitNewPageRecord) LogicalSize() int      { return 4 + 8 + 2 }

func (r *InitNewPageRecord) MarshalPayload() []byte {
	buf := make([]byte, 4+8+2)
	binary.BigEndian.PutUint32(buf[0:4], r.Grp)
	binary.BigEndian.PutUint64(buf[4:12], uint64(r.Pid))
	binary.BigEndian.PutUint16(buf[12:14], uint16(r.PageType))
	return buf
}

func (r *InitNewPageRecord) Apply(page []byte) error {
	for i := range page {
		page[i] = 0
	}
	pagestore.WriteHeader(page, r.PageType, 1, r.Pid)
	return nil
}

// applyRowBytes writes payload into the page's item directory slot for
// itemId, following the §6 layout: slot table grows from the high end,
// payload bytes grow from the low end. It is a minimal re-implementation
// sufficient for WAL replay; pkg/rowstore owns the full free-space
// bookkeeping used on the live write path.
func applyRowBytes(page []byte, itemId uint16, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("wal: cannot apply zero-length row payload")
	}
	slotOff := slotTableOffset(len(page), itemId)
	if slotOff < pagestore.HeaderSize {
		return fmt.Errorf("wal: item directory overflow for itemId %d", itemId)
	}

	existingOff := binary.BigEndian.Uint16(page[slotOff:])
	existingLen := binary.BigEndian.Uint16(page[slotOff+2:])

	var payloadOff int
	if existingOff != 0 && int(existingLen) == len(payload) {
		payloadOff = int(existingOff)
	} else {
		payloadOff = nextFreeOffset(page, slotOff)
		if payloadOff+len(payload) > slotOff {
			return fmt.Errorf("wal: insufficient free space applying delta to itemId %d", itemId)
		}
	}

	copy(page[payloadOff:], payload)
	binary.BigEndian.PutUint16(page[slotOff:], uint16(payloadOff))
	binary.BigEndian.PutUint16(page[slotOff+2:], uint16(len(payload)))
	return nil
}

// nextFreeOffset scans existing slots to find the first byte past the
// last allocated payload, growing up from the header.
func nextFreeOffset(page []byte, slotLimit int) int {
	maxEnd := pagestore.HeaderSize
	for off := len(page) - slotEntrySize; off >= slotLimit; off -= slotEntrySize {
		payloadOff := int(binary.BigEndian.Uint16(page[off:]))
		payloadLen := int(binary.BigEndian.Uint16(page[off+2:]))
		if payloadOff == 0 {
			continue
		}
		if end := payloadOff + payloadLen; end > maxEnd {
			maxEnd = end
		}
	}
	return maxEnd
}

func decodeDataPageHead(buf []byte) (grp uint32, pid pageid.PageId, itemId uint16, rest []byte, err error) {
	if len(buf) < 14 {
		return 0, 0, 0, nil, fmt.Errorf("wal: truncated data page delta head")
	}
	grp = binary.BigEndian.Uint32(buf[0:4])
	pid = pageid.PageId(binary.BigEndian.Uint64(buf[4:12]))
	itemId = binary.BigEndian.Uint16(buf[12:14])
	return grp, pid, itemId, buf[14:], nil
}

func decodeDataPageInsertRecord(buf []byte) (Record, error) {
	grp, pid, itemId, rest, err := decodeDataPageHead(buf)
	if err != nil {
		return nil, err
	}
	payload, _, err := decodePayloadRef(rest)
	if err != nil {
		return nil, err
	}
	return &DataPageInsertRecord{Grp: grp, Pid: pid, ItemId: itemId, Payload: payload}, nil
}

func decodeDataPageUpdateRecord(buf []byte) (Record, error) {
	grp, pid, itemId, rest, err := decodeDataPageHead(buf)
	if err != nil {
		return nil, err
	}
	payload, _, err := decodePayloadRef(rest)
	if err != nil {
		return nil, err
	}
	return &DataPageUpdateRecord{Grp: grp, Pid: pid, ItemId: itemId, Payload: payload}, nil
}

func decodeDataPageRemoveRecord(buf []byte) (Record, error) {
	grp, pid, itemId, _, err := decodeDataPageHead(buf)
	if err != nil {
		return nil, err
	}
	return &DataPageRemoveRecord{Grp: grp, Pid: pid, ItemId: itemId}, nil
}

func decodeInitNewPageRecord(buf []byte) (Record, error) {
	grp, pid, itemId, _, err := decodeDataPageHead(buf)
	if err != nil {
		return nil, err
	}
	return &InitNewPageRecord{Grp: grp, Pid: pid, PageType: pagestore.PageType(itemId)}, nil
}

func init() {
	registry[RecordTypeDataPageInsert] = decodeDataPageInsertRecord
	registry[RecordTypeDataPageUpdate] = decodeDataPageUpdateRecord
	registry[RecordTypeDataPageRemove] = decodeDataPageRemoveRecord
	registry[RecordTypeInitNewPage] = decodeInitNewPageRecord
}
