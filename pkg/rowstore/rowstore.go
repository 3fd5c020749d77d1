// Package rowstore implements fragmented row storage on top of data
// pages (§4.F): rows too large for one page are split into a chain of
// fragments linked by row link, a per-group free-list picks pages with
// enough spare room for new rows, and updates either rewrite a row's
// fragments in place or fall back to remove-then-reinsert when the new
// value no longer fits.
package rowstore

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cuemby/gridcore/pkg/gridcore"
	"github.com/cuemby/gridcore/pkg/pagemem"
	"github.com/cuemby/gridcore/pkg/pageid"
	"github.com/cuemby/gridcore/pkg/pagestore"
	"github.com/cuemby/gridcore/pkg/wal"
)

const (
	slotEntrySize  = 4 // offset:u16, length:u16
	fragHeaderSize = 8 // next fragment link, 0 = terminal
)

func slotTableOffset(pageSize int, itemId uint16) int {
	return pageSize - int(itemId+1)*slotEntrySize
}

// RowStore owns one cache group's data pages within a partition.
type RowStore struct {
	store     pagestore.Store
	cache     *pagemem.Cache
	walMgr    *wal.Manager
	grp       uint32
	partition uint16

	mu       sync.Mutex
	freeList map[pageid.PageId]int // pageId -> last-known free byte count
}

// New creates a row store writing data pages through cache (and, if
// non-nil, logging fragment mutations to walMgr).
func New(store pagestore.Store, cache *pagemem.Cache, walMgr *wal.Manager, grp uint32, partition uint16) (*RowStore, error) {
	if cache == nil {
		return nil, &gridcore.ConfigurationError{Field: "rowstore.cache", Reason: "must not be nil"}
	}
	return &RowStore{
		store:     store,
		cache:     cache,
		walMgr:    walMgr,
		grp:       grp,
		partition: partition,
		freeList:  make(map[pageid.PageId]int),
	}, nil
}

// Insert writes data as a chain of fragments and returns the link to its
// head fragment.
func (rs *RowStore) Insert(data []byte) (pageid.Link, error) {
	release := rs.cache.AcquireCheckpointReadLock()
	defer release()

	var headLink pageid.Link
	var prevPid pageid.PageId
	var prevItem uint16
	havePrev := false

	remaining := data
	for {
		chunkCap := rs.store.PageSize() - pagestore.HeaderSize - slotEntrySize - fragHeaderSize
		chunk := remaining
		terminal := true
		if len(chunk) > chunkCap {
			chunk = remaining[:chunkCap]
			terminal = false
		}

		pid, itemId, err := rs.allocateSlot(len(chunk) + fragHeaderSize)
		if err != nil {
			return 0, err
		}
		link := pageid.NewLink(pid, itemId)
		if !havePrev {
			headLink = link
		} else {
			if err := rs.setFragmentNext(prevPid, prevItem, link); err != nil {
				return 0, err
			}
		}

		if err := rs.writeFragment(pid, itemId, 0, chunk); err != nil {
			return 0, err
		}

		prevPid, prevItem, havePrev = pid, itemId, true
		remaining = remaining[len(chunk):]
		if terminal {
			break
		}
	}
	return headLink, nil
}

// Get reassembles a row by following its fragment chain.
func (rs *RowStore) Get(link pageid.Link) ([]byte, error) {
	var out []byte
	pid, itemId := link.PageId(rs.partition), link.ItemId()
	for {
		buf := make([]byte, rs.store.PageSize())
		if err := rs.store.Read(pid, buf, false); err != nil {
			return nil, err
		}
		next, chunk, err := readFragment(buf, itemId)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		if next == 0 {
			return out, nil
		}
		pid, itemId = next.PageId(rs.partition), next.ItemId()
	}
}

// Update rewrites a row's contents. If the new fragment chain has the
// same length as the old one, each fragment is rewritten in place;
// otherwise the old chain is removed and data is reinserted fresh,
// yielding a new link.
func (rs *RowStore) Update(link pageid.Link, data []byte) (pageid.Link, error) {
	oldLinks, err := rs.chainLinks(link)
	if err != nil {
		return 0, err
	}

	chunkCap := rs.store.PageSize() - pagestore.HeaderSize - slotEntrySize - fragHeaderSize
	newChunkCount := (len(data) + chunkCap - 1) / chunkCap
	if newChunkCount == 0 {
		newChunkCount = 1
	}

	if newChunkCount != len(oldLinks) {
		if err := rs.Remove(link); err != nil {
			return 0, err
		}
		return rs.Insert(data)
	}

	release := rs.cache.AcquireCheckpointReadLock()
	defer release()

	remaining := data
	for i, l := range oldLinks {
		chunk := remaining
		if i < len(oldLinks)-1 {
			chunk = remaining[:chunkCap]
		}
		var next pageid.Link
		if i < len(oldLinks)-1 {
			next = oldLinks[i+1]
		}
		if err := rs.writeFragment(l.PageId(rs.partition), l.ItemId(), next, chunk); err != nil {
			return 0, err
		}
		remaining = remaining[len(chunk):]
	}
	return link, nil
}

// Remove frees every fragment slot in a row's chain.
func (rs *RowStore) Remove(link pageid.Link) error {
	release := rs.cache.AcquireCheckpointReadLock()
	defer release()

	links, err := rs.chainLinks(link)
	if err != nil {
		return err
	}
	for _, l := range links {
		pid, itemId := l.PageId(rs.partition), l.ItemId()
		h, err := rs.cache.Acquire(pid, true)
		if err != nil {
			return err
		}
		off := slotTableOffset(len(h.Buf()), itemId)
		binary.BigEndian.PutUint16(h.Buf()[off:], 0)
		binary.BigEndian.PutUint16(h.Buf()[off+2:], 0)
		h.MarkDirty()
		h.Release()

		rs.mu.Lock()
		rs.freeList[pid] = rs.freeList[pid] + slotEntrySize
		rs.mu.Unlock()
	}
	return nil
}

func (rs *RowStore) chainLinks(link pageid.Link) ([]pageid.Link, error) {
	var links []pageid.Link
	pid, itemId := link.PageId(rs.partition), link.ItemId()
	for {
		l := pageid.NewLink(pid, itemId)
		links = append(links, l)
		buf := make([]byte, rs.store.PageSize())
		if err := rs.store.Read(pid, buf, false); err != nil {
			return nil, err
		}
		next, _, err := readFragment(buf, itemId)
		if err != nil {
			return nil, err
		}
		if next == 0 {
			return links, nil
		}
		pid, itemId = next.PageId(rs.partition), next.ItemId()
	}
}

// allocateSlot finds a page in the free-list with enough room for
// neededBytes, or allocates a fresh one; it returns the page and the
// next free itemId on it.
func (rs *RowStore) allocateSlot(neededBytes int) (pageid.PageId, uint16, error) {
	rs.mu.Lock()
	for pid, free := range rs.freeList {
		if free >= neededBytes+slotEntrySize {
			rs.mu.Unlock()
			itemId, err := rs.nextItemId(pid)
			if err != nil {
				return 0, 0, err
			}
			return pid, itemId, nil
		}
	}
	rs.mu.Unlock()

	pid, err := rs.store.Allocate(pageid.FlagData, rs.partition)
	if err != nil {
		return 0, 0, err
	}
	buf := make([]byte, rs.store.PageSize())
	pagestore.WriteHeader(buf, pagestore.PageTypeData, 1, pid)
	if err := rs.store.Write(pid, buf, 0); err != nil {
		return 0, 0, err
	}
	rs.mu.Lock()
	rs.freeList[pid] = rs.store.PageSize() - pagestore.HeaderSize
	rs.mu.Unlock()
	return pid, 0, nil
}

func (rs *RowStore) nextItemId(pid pageid.PageId) (uint16, error) {
	buf := make([]byte, rs.store.PageSize())
	if err := rs.store.Read(pid, buf, false); err != nil {
		return 0, err
	}
	for itemId := uint16(0); ; itemId++ {
		off := slotTableOffset(len(buf), itemId)
		if off < pagestore.HeaderSize {
			return 0, fmt.Errorf("rowstore: page %v has no free item slots", pid)
		}
		offset := binary.BigEndian.Uint16(buf[off:])
		if offset == 0 {
			return itemId, nil
		}
	}
}

func (rs *RowStore) writeFragment(pid pageid.PageId, itemId uint16, next pageid.Link, chunk []byte) error {
	h, err := rs.cache.Acquire(pid, true)
	if err != nil {
		return err
	}
	defer h.Release()

	buf := h.Buf()
	slotOff := slotTableOffset(len(buf), itemId)
	if slotOff < pagestore.HeaderSize {
		return fmt.Errorf("rowstore: item directory overflow for itemId %d", itemId)
	}

	payload := make([]byte, fragHeaderSize+len(chunk))
	binary.BigEndian.PutUint64(payload, uint64(next))
	copy(payload[fragHeaderSize:], chunk)

	payloadOff := nextFreeOffset(buf, slotOff)
	if payloadOff+len(payload) > slotOff {
		return fmt.Errorf("rowstore: insufficient free space for fragment on page %v", pid)
	}
	copy(buf[payloadOff:], payload)
	binary.BigEndian.PutUint16(buf[slotOff:], uint16(payloadOff))
	binary.BigEndian.PutUint16(buf[slotOff+2:], uint16(len(payload)))
	h.MarkDirty()

	if rs.walMgr != nil {
		rec, err := wal.NewDataPageUpdateRecord(rs.grp, pid, itemId, wal.PayloadRef{Inline: payload})
		if err == nil {
			rs.walMgr.Log(rec)
		}
	}

	rs.mu.Lock()
	rs.freeList[pid] = slotOff - nextFreeOffset(buf, slotOff)
	rs.mu.Unlock()
	return nil
}

func (rs *RowStore) setFragmentNext(pid pageid.PageId, itemId uint16, next pageid.Link) error {
	h, err := rs.cache.Acquire(pid, true)
	if err != nil {
		return err
	}
	defer h.Release()

	buf := h.Buf()
	off := slotTableOffset(len(buf), itemId)
	payloadOff := binary.BigEndian.Uint16(buf[off:])
	binary.BigEndian.PutUint64(buf[payloadOff:], uint64(next))
	h.MarkDirty()
	return nil
}

func readFragment(page []byte, itemId uint16) (pageid.Link, []byte, error) {
	off := slotTableOffset(len(page), itemId)
	if off < pagestore.HeaderSize {
		return 0, nil, fmt.Errorf("rowstore: itemId %d out of range", itemId)
	}
	payloadOff := binary.BigEndian.Uint16(page[off:])
	payloadLen := binary.BigEndian.Uint16(page[off+2:])
	if payloadOff == 0 {
		return 0, nil, fmt.Errorf("rowstore: itemId %d is empty", itemId)
	}
	payload := page[payloadOff : payloadOff+payloadLen]
	next := pageid.Link(binary.BigEndian.Uint64(payload))
	chunk := make([]byte, len(payload)-fragHeaderSize)
	copy(chunk, payload[fragHeaderSize:])
	return next, chunk, nil
}

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
