package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/gridcore/pkg/pageid"
	"github.com/cuemby/gridcore/pkg/pagestore"
)

// leaf page body layout, starting at pagestore.HeaderSize:
//
//	next:u64 (sibling leaf page id, 0 = none)
//	count:u16
//	count * { keyLen:u16, key bytes, link:u64 }
//
// inner page body layout:
//
//	leftmost:u64 (child page id)
//	count:u16
//	count * { keyLen:u16, key bytes, link:u64, child:u64 }
//
// Every key is capped at the tree's inline size (§4.E): the B+Tree never
// stores a full key, only the comparable prefix, and breaks ties between
// equal prefixes using the entry's row link. This is what makes the
// index usable for non-unique keys without a variable-size key problem.

type leafEntry struct {
	key  []byte
	link pageid.Link
}

type innerEntry struct {
	key   []byte
	link  pageid.Link
	child pageid.PageId
}

func errShortBuffer(what string) error {
	return fmt.Errorf("btree: short buffer decoding %s", what)
}

func encodeLeafPage(page []byte, grp uint32, pid pageid.PageId, next pageid.PageId, entries []leafEntry) error {
	pagestore.WriteHeader(page, pagestore.PageTypeBTreeLeaf, 1, pid)
	off := pagestore.HeaderSize
	binary.BigEndian.PutUint64(page[off:], uint64(next))
	off += 8
	binary.BigEndian.PutUint16(page[off:], uint16(len(entries)))
	off += 2
	for _, e := range entries {
		need := 2 + len(e.key) + 8
		if off+need > len(page) {
			return fmt.Errorf("btree: leaf page overflow encoding %d entries", len(entries))
		}
		binary.BigEndian.PutUint16(page[off:], uint16(len(e.key)))
		off += 2
		copy(page[off:], e.key)
		off += len(e.key)
		binary.BigEndian.PutUint64(page[off:], uint64(e.link))
		off += 8
	}
	pagestore.WriteHeader(page, pagestore.PageTypeBTreeLeaf, 1, pid)
	return nil
}

func decodeLeafPage(page []byte) (next pageid.PageId, entries []leafEntry, err error) {
	off := pagestore.HeaderSize
	if off+10 > len(page) {
		return 0, nil, errShortBuffer("leaf page header")
	}
	next = pageid.PageId(binary.BigEndian.Uint64(page[off:]))
	off += 8
	count := int(binary.BigEndian.Uint16(page[off:]))
	off += 2
	entries = make([]leafEntry, 0, count)
	for i := 0; i < count; i++ {
		if off+2 > len(page) {
			return 0, nil, errShortBuffer("leaf entry length")
		}
		keyLen := int(binary.BigEndian.Uint16(page[off:]))
		off += 2
		if off+keyLen+8 > len(page) {
			return 0, nil, errShortBuffer("leaf entry body")
		}
		key := make([]byte, keyLen)
		copy(key, page[off:off+keyLen])
		off += keyLen
		link := pageid.Link(binary.BigEndian.Uint64(page[off:]))
		off += 8
		entries = append(entries, leafEntry{key: key, link: link})
	}
	return next, entries, nil
}

func encodeInnerPage(page []byte, pid pageid.PageId, leftmost pageid.PageId, entries []innerEntry) error {
	pagestore.WriteHeader(page, pagestore.PageTypeBTreeInner, 1, pid)
	off := pagestore.HeaderSize
	binary.BigEndian.PutUint64(page[off:], uint64(leftmost))
	off += 8
	binary.BigEndian.PutUint16(page[off:], uint16(len(entries)))
	off += 2
	for _, e := range entries {
		need := 2 + len(e.key) + 8 + 8
		if off+need > len(page) {
			return fmt.Errorf("btree: inner page overflow encoding %d entries", len(entries))
		}
		binary.BigEndian.PutUint16(page[off:], uint16(len(e.key)))
		off += 2
		copy(page[off:], e.key)
		off += len(e.key)
		binary.BigEndian.PutUint64(page[off:], uint64(e.link))
		off += 8
		binary.BigEndian.PutUint64(page[off:], uint64(e.child))
		off += 8
	}
	pagestore.WriteHeader(page, pagestore.PageTypeBTreeInner, 1, pid)
	return nil
}

func decodeInnerPage(page []byte) (leftmost pageid.PageId, entries []innerEntry, err error) {
	off := pagestore.HeaderSize
	if off+10 > len(page) {
		return 0, nil, errShortBuffer("inner page header")
	}
	leftmost = pageid.PageId(binary.BigEndian.Uint64(page[off:]))
	off += 8
	count := int(binary.BigEndian.Uint16(page[off:]))
	off += 2
	entries = make([]innerEntry, 0, count)
	for i := 0; i < count; i++ {
		if off+2 > len(page) {
			return 0, nil, errShortBuffer("inner entry length")
		}
		keyLen := int(binary.BigEndian.Uint16(page[off:]))
		off += 2
		if off+keyLen+16 > len(page) {
			return 0, nil, errShortBuffer("inner entry body")
		}
		key := make([]byte, keyLen)
		copy(key, page[off:off+keyLen])
		off += keyLen
		link := pageid.Link(binary.BigEndian.Uint64(page[off:]))
		off += 8
		child := pageid.PageId(binary.BigEndian.Uint64(page[off:]))
		off += 8
		entries = append(entries, innerEntry{key: key, link: link, child: child})
	}
	return leftmost, entries, nil
}
