// Package btree implements the generic on-page B+Tree (§4.E): an
// inline-size key policy (only a bounded prefix of each key is ever
// stored on a page) with link-based tie-break for keys whose inline
// prefixes collide, backing both primary row indexes and secondary
// (non-unique) indexes.
package btree

import (
	"bytes"

	"github.com/cuemby/gridcore/pkg/gridcore"
	"github.com/cuemby/gridcore/pkg/pagemem"
	"github.com/cuemby/gridcore/pkg/pageid"
	"github.com/cuemby/gridcore/pkg/pagestore"
	"github.com/cuemby/gridcore/pkg/wal"
)

// Comparator orders two (already inline-truncated) keys.
type Comparator func(a, b []byte) int

// ByteComparator is bytes.Compare, the default ordering for raw keys.
func ByteComparator(a, b []byte) int { return bytes.Compare(a, b) }

// Tree is one B+Tree instance, rooted at a single page within a cache
// group. A gridcore deployment has one Tree per index (primary row
// index plus one per secondary index).
type Tree struct {
	cache      *pagemem.Cache
	store      pagestore.Store
	walMgr     *wal.Manager
	grp        uint32
	partition  uint16
	inlineSize int
	cmp        Comparator

	metaPageId pageid.PageId
	rootPageId pageid.PageId
}

// Open loads an existing tree rooted at metaPageId, or creates a fresh
// one (allocating a meta page and an empty root leaf) if metaPageId is
// the zero value.
func Open(cache *pagemem.Cache, store pagestore.Store, walMgr *wal.Manager, grp uint32, partition uint16, inlineSize int, cmp Comparator, metaPageId pageid.PageId) (*Tree, error) {
	if inlineSize <= 0 {
		return nil, &gridcore.ConfigurationError{Field: "btree.inlineSize", Reason: "must be positive"}
	}
	if cmp == nil {
		cmp = ByteComparator
	}
	t := &Tree{cache: cache, store: store, walMgr: walMgr, grp: grp, partition: partition, inlineSize: inlineSize, cmp: cmp}

	if metaPageId == 0 {
		rootId, err := store.Allocate(pageid.FlagIndex, pageid.IndexPartition)
		if err != nil {
			return nil, err
		}
		if err := t.initLeaf(rootId, 0); err != nil {
			return nil, err
		}
		metaId, err := store.Allocate(pageid.FlagIndex, pageid.IndexPartition)
		if err != nil {
			return nil, err
		}
		if err := t.writeMeta(metaId, rootId); err != nil {
			return nil, err
		}
		t.metaPageId = metaId
		t.rootPageId = rootId
		return t, nil
	}

	t.metaPageId = metaPageId
	root, err := t.readMeta(metaPageId)
	if err != nil {
		return nil, err
	}
	t.rootPageId = root
	return t, nil
}

func (t *Tree) initLeaf(id pageid.PageId, next pageid.PageId) error {
	buf := make([]byte, t.store.PageSize())
	if err := encodeLeafPage(buf, t.grp, id, next, nil); err != nil {
		return err
	}
	return t.store.Write(id, buf, 0)
}

func (t *Tree) writeMeta(metaId, rootId pageid.PageId) error {
	buf := make([]byte, t.store.PageSize())
	pagestore.WriteHeader(buf, pagestore.PageTypeBTreeMeta, 1, metaId)
	off := pagestore.HeaderSize
	be := func(v uint64) []byte {
		b := make([]byte, 8)
		for i := 7; i >= 0; i-- {
			b[i] = byte(v)
			v >>= 8
		}
		return b
	}
	copy(buf[off:], be(uint64(rootId)))
	return t.store.Write(metaId, buf, 0)
}

func (t *Tree) readMeta(metaId pageid.PageId) (pageid.PageId, error) {
	buf := make([]byte, t.store.PageSize())
	if err := t.store.Read(metaId, buf, false); err != nil {
		return 0, err
	}
	off := pagestore.HeaderSize
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(buf[off+i])
	}
	return pageid.PageId(v), nil
}

func (t *Tree) truncate(key []byte) []byte {
	if len(key) <= t.inlineSize {
		return key
	}
	return key[:t.inlineSize]
}

// entryLess orders two (key, link) pairs: by key first, then by link to
// break ties between colliding inline prefixes.
func (t *Tree) entryLess(aKey []byte, aLink pageid.Link, bKey []byte, bLink pageid.Link) bool {
	if c := t.cmp(aKey, bKey); c != 0 {
		return c < 0
	}
	return aLink.Compare(bLink) < 0
}

// Put inserts (key, link); duplicate keys are permitted (non-unique
// indexes rely on this), ordered by link among themselves.
func (t *Tree) Put(key []byte, link pageid.Link) error {
	release := t.cache.AcquireCheckpointReadLock()
	defer release()

	key = t.truncate(key)
	splitKey, splitLink, newRight, split, err := t.putRec(t.rootPageId, leafEntry{key: key, link: link})
	if err != nil {
		return err
	}
	if split {
		return t.growRoot(splitKey, splitLink, newRight)
	}
	return nil
}

// growRoot creates a new inner root when the old root split, matching
// the classic B+Tree "grow at the top" behavior.
func (t *Tree) growRoot(splitKey []byte, splitLink pageid.Link, newRight pageid.PageId) error {
	newRootId, err := t.store.Allocate(pageid.FlagIndex, pageid.IndexPartition)
	if err != nil {
		return err
	}
	buf := make([]byte, t.store.PageSize())
	if err := encodeInnerPage(buf, newRootId, t.rootPageId, []innerEntry{{key: splitKey, link: splitLink, child: newRight}}); err != nil {
		return err
	}
	if err := t.store.Write(newRootId, buf, 0); err != nil {
		return err
	}
	if err := t.writeMeta(t.metaPageId, newRootId); err != nil {
		return err
	}
	t.rootPageId = newRootId
	return nil
}

func (t *Tree) putRec(pid pageid.PageId, entry leafEntry) (splitKey []byte, splitLink pageid.Link, newRight pageid.PageId, split bool, err error) {
	h, err := t.cache.Acquire(pid, true)
	if err != nil {
		return nil, 0, 0, false, err
	}
	pageType, _, _ := pagestore.ReadHeader(h.Buf())

	if pageType == pagestore.PageTypeBTreeLeaf {
		defer h.Release()
		return t.putLeaf(h, pid, entry)
	}

	leftmost, entries, err := decodeInnerPage(h.Buf())
	h.Release()
	if err != nil {
		return nil, 0, 0, false, err
	}

	child := leftmost
	for _, e := range entries {
		if t.entryLess(entry.key, entry.link, e.key, e.link) {
			break
		}
		child = e.child
	}

	childSplitKey, childSplitLink, childNewRight, childSplit, err := t.putRec(child, entry)
	if err != nil || !childSplit {
		return nil, 0, 0, false, err
	}

	return t.insertInnerEntry(pid, innerEntry{key: childSplitKey, link: childSplitLink, child: childNewRight})
}

func (t *Tree) putLeaf(h *pagemem.Handle, pid pageid.PageId, entry leafEntry) ([]byte, pageid.Link, pageid.PageId, bool, error) {
	next, entries, err := decodeLeafPage(h.Buf())
	if err != nil {
		return nil, 0, 0, false, err
	}

	idx := 0
	for idx < len(entries) && t.entryLess(entries[idx].key, entries[idx].link, entry.key, entry.link) {
		idx++
	}
	entries = append(entries, leafEntry{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = entry

	buf := h.Buf()
	if err := encodeLeafPage(buf, t.grp, pid, next, entries); err == nil {
		h.MarkDirty()
		if t.walMgr != nil {
			t.walMgr.Log(&leafDelta{grp: t.grp, pid: pid, next: next, entries: entries})
		}
		return nil, 0, 0, false, nil
	}

	return t.splitLeaf(pid, next, entries)
}

func (t *Tree) splitLeaf(pid, next pageid.PageId, entries []leafEntry) ([]byte, pageid.Link, pageid.PageId, bool, error) {
	mid := len(entries) / 2
	left, right := entries[:mid], entries[mid:]

	rightId, err := t.store.Allocate(pageid.FlagIndex, pageid.IndexPartition)
	if err != nil {
		return nil, 0, 0, false, err
	}

	rightBuf := make([]byte, t.store.PageSize())
	if err := encodeLeafPage(rightBuf, t.grp, rightId, next, right); err != nil {
		return nil, 0, 0, false, err
	}
	if err := t.store.Write(rightId, rightBuf, 0); err != nil {
		return nil, 0, 0, false, err
	}
	if t.walMgr != nil {
		t.walMgr.Log(&leafDelta{grp: t.grp, pid: rightId, next: next, entries: right})
	}

	h, err := t.cache.Acquire(pid, true)
	if err != nil {
		return nil, 0, 0, false, err
	}
	if err := encodeLeafPage(h.Buf(), t.grp, pid, rightId, left); err != nil {
		h.Release()
		return nil, 0, 0, false, err
	}
	h.MarkDirty()
	if t.walMgr != nil {
		t.walMgr.Log(&leafDelta{grp: t.grp, pid: pid, next: rightId, entries: left})
	}
	h.Release()

	return right[0].key, right[0].link, rightId, true, nil
}

func (t *Tree) insertInnerEntry(pid pageid.PageId, newEntry innerEntry) ([]byte, pageid.Link, pageid.PageId, bool, error) {
	buf := make([]byte, t.store.PageSize())
	if err := t.store.Read(pid, buf, false); err != nil {
		return nil, 0, 0, false, err
	}
	leftmost, entries, err := decodeInnerPage(buf)
	if err != nil {
		return nil, 0, 0, false, err
	}

	idx := 0
	for idx < len(entries) && t.entryLess(entries[idx].key, entries[idx].link, newEntry.key, newEntry.link) {
		idx++
	}
	entries = append(entries, innerEntry{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = newEntry

	if err := encodeInnerPage(buf, pid, leftmost, entries); err == nil {
		return nil, 0, 0, false, t.store.Write(pid, buf, 0)
	}

	mid := len(entries) / 2
	promoted := entries[mid]
	left, right := entries[:mid], entries[mid+1:]

	rightId, err := t.store.Allocate(pageid.FlagIndex, pageid.IndexPartition)
	if err != nil {
		return nil, 0, 0, false, err
	}
	rightBuf := make([]byte, t.store.PageSize())
	if err := encodeInnerPage(rightBuf, rightId, promoted.child, right); err != nil {
		return nil, 0, 0, false, err
	}
	if err := t.store.Write(rightId, rightBuf, 0); err != nil {
		return nil, 0, 0, false, err
	}

	leftBuf := make([]byte, t.store.PageSize())
	if err := encodeInnerPage(leftBuf, pid, leftmost, left); err != nil {
		return nil, 0, 0, false, err
	}
	if err := t.store.Write(pid, leftBuf, 0); err != nil {
		return nil, 0, 0, false, err
	}

	return promoted.key, promoted.link, rightId, true, nil
}

// Find returns all links whose key's inline prefix equals the (truncated)
// search key, in link order.
func (t *Tree) Find(key []byte) ([]pageid.Link, error) {
	key = t.truncate(key)
	pid := t.rootPageId
	for {
		buf := make([]byte, t.store.PageSize())
		if err := t.store.Read(pid, buf, false); err != nil {
			return nil, err
		}
		pageType, _, _ := pagestore.ReadHeader(buf)
		if pageType == pagestore.PageTypeBTreeLeaf {
			_, entries, err := decodeLeafPage(buf)
			if err != nil {
				return nil, err
			}
			var out []pageid.Link
			for _, e := range entries {
				if t.cmp(e.key, key) == 0 {
					out = append(out, e.link)
				}
			}
			return out, nil
		}
		leftmost, entries, err := decodeInnerPage(buf)
		if err != nil {
			return nil, err
		}
		pid = leftmost
		for _, e := range entries {
			if t.cmp(key, e.key) < 0 {
				break
			}
			pid = e.child
		}
	}
}

// Remove deletes the first entry matching (key, link) exactly.
func (t *Tree) Remove(key []byte, link pageid.Link) (bool, error) {
	release := t.cache.AcquireCheckpointReadLock()
	defer release()

	key = t.truncate(key)
	pid := t.leafFor(key)
	if pid == 0 {
		return false, nil
	}

	h, err := t.cache.Acquire(pid, true)
	if err != nil {
		return false, err
	}
	defer h.Release()

	next, entries, err := decodeLeafPage(h.Buf())
	if err != nil {
		return false, err
	}
	for i, e := range entries {
		if t.cmp(e.key, key) == 0 && e.link == link {
			entries = append(entries[:i], entries[i+1:]...)
			if err := encodeLeafPage(h.Buf(), t.grp, pid, next, entries); err != nil {
				return false, err
			}
			h.MarkDirty()
			if t.walMgr != nil {
				t.walMgr.Log(&leafDelta{grp: t.grp, pid: pid, next: next, entries: entries})
			}
			return true, nil
		}
	}
	return false, nil
}

func (t *Tree) leafFor(key []byte) pageid.PageId {
	pid := t.rootPageId
	for {
		buf := make([]byte, t.store.PageSize())
		if err := t.store.Read(pid, buf, false); err != nil {
			return 0
		}
		pageType, _, _ := pagestore.ReadHeader(buf)
		if pageType == pagestore.PageTypeBTreeLeaf {
			return pid
		}
		leftmost, entries, err := decodeInnerPage(buf)
		if err != nil {
			return 0
		}
		pid = leftmost
		for _, e := range entries {
			if t.cmp(key, e.key) < 0 {
				break
			}
			pid = e.child
		}
	}
}
