package btree

import (
	"encoding/binary"

	"github.com/cuemby/gridcore/pkg/pageid"
	"github.com/cuemby/gridcore/pkg/wal"
)

// leafDelta (below) is the WAL-logged page delta for every B+Tree leaf
// mutation; it re-uses wal.Record's MarshalPayload/Apply
// contract so replay can reconstruct a leaf page's entry list exactly as
// the live write path produced it, without depending on pkg/rowstore.

const deltaRecordType wal.RecordType = 32

func init() {
	wal.RegisterDecoder(deltaRecordType, decodeLeafDelta)
}

// leafDelta replaces a leaf page's entire entry list in one shot. The
// B+Tree keeps each leaf within one page (a leaf whose entries no longer
// encode into a page is split) so logging
// the whole entry list per mutation is cheap and, unlike a byte-range
// delta, trivially idempotent on replay.
type leafDelta struct {
	grp     uint32
	pid     pageid.PageId
	next    pageid.PageId
	entries []leafEntry
}

func (d *leafDelta) Type() wal.RecordType { return deltaRecordType }
func (d *leafDelta) GroupId() uint32      { return d.grp }
func (d *leafDelta) PageId() pageid.PageId { return d.pid }

func (d *leafDelta) LogicalSize() int {
	n := 4 + 8 + 8 + 2
	for _, e := range d.entries {
		n += 2 + len(e.key) + 8
	}
	return n
}

func (d *leafDelta) MarshalPayload() []byte {
	buf := make([]byte, 4+8+8+2)
	binary.BigEndian.PutUint32(buf[0:4], d.grp)
	binary.BigEndian.PutUint64(buf[4:12], uint64(d.pid))
	binary.BigEndian.PutUint64(buf[12:20], uint64(d.next))
	binary.BigEndian.PutUint16(buf[20:22], uint16(len(d.entries)))
	for _, e := range d.entries {
		entryBuf := make([]byte, 2+len(e.key)+8)
		binary.BigEndian.PutUint16(entryBuf[0:2], uint16(len(e.key)))
		copy(entryBuf[2:], e.key)
		binary.BigEndian.PutUint64(entryBuf[2+len(e.key):], uint64(e.link))
		buf = append(buf, entryBuf...)
	}
	return buf
}

func (d *leafDelta) Apply(page []byte) error {
	return encodeLeafPage(page, d.grp, d.pid, d.next, d.entries)
}

func decodeLeafDelta(buf []byte) (wal.Record, error) {
	if len(buf) < 22 {
		return nil, errShortBuffer("leaf delta header")
	}
	grp := binary.BigEndian.Uint32(buf[0:4])
	pid := pageid.PageId(binary.BigEndian.Uint64(buf[4:12]))
	next := pageid.PageId(binary.BigEndian.Uint64(buf[12:20]))
	n := int(binary.BigEndian.Uint16(buf[20:22]))
	buf = buf[22:]

	entries := make([]leafEntry, 0, n)
	for i := 0; i < n; i++ {
		if len(buf) < 2 {
			return nil, errShortBuffer("leaf delta entry length")
		}
		keyLen := int(binary.BigEndian.Uint16(buf[0:2]))
		buf = buf[2:]
		if len(buf) < keyLen+8 {
			return nil, errShortBuffer("leaf delta entry body")
		}
		key := make([]byte, keyLen)
		copy(key, buf[:keyLen])
		link := pageid.Link(binary.BigEndian.Uint64(buf[keyLen : keyLen+8]))
		entries = append(entries, leafEntry{key: key, link: link})
		buf = buf[keyLen+8:]
	}
	return &leafDelta{grp: grp, pid: pid, next: next, entries: entries}, nil
}
