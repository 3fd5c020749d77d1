// Package pagemem implements the resident page cache (§4.D): per-page
// read/write latches, dirty-page tracking, a clock eviction policy bounded
// by a configured frame count, and the checkpoint read lock that every
// mutating operation holds while a checkpoint is not in progress.
package pagemem

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/gridcore/pkg/gridcore"
	"github.com/cuemby/gridcore/pkg/log"
	"github.com/cuemby/gridcore/pkg/metrics"
	"github.com/cuemby/gridcore/pkg/pageid"
	"github.com/cuemby/gridcore/pkg/pagestore"
)

// frame is one resident page: its bytes, a read/write latch guarding
// concurrent access to those bytes, and the bookkeeping the clock
// algorithm and checkpointer need.
type frame struct {
	id         pageid.PageId
	latch      sync.RWMutex
	buf        []byte
	dirty      atomic.Bool
	referenced atomic.Bool
	pinCount   atomic.Int32
}

// Cache is the resident page cache sitting in front of a pagestore.Store.
type Cache struct {
	store    pagestore.Store
	pageSize int
	capacity int

	mu     sync.Mutex
	frames map[pageid.PageId]*frame
	clock  []pageid.PageId
	hand   int

	// checkpointLock is the "checkpoint read lock" (§4.D): normal page
	// mutators hold it for reading so arbitrarily many can proceed
	// concurrently; Checkpoint holds it for writing so no mutator can
	// dirty a page mid-flush.
	checkpointLock sync.RWMutex
}

// New creates a cache of capacity resident frames backed by store.
func New(store pagestore.Store, capacity int) (*Cache, error) {
	if capacity <= 0 {
		return nil, &gridcore.ConfigurationError{Field: "pagemem.capacity", Reason: "must be positive"}
	}
	return &Cache{
		store:    store,
		pageSize: store.PageSize(),
		capacity: capacity,
		frames:   make(map[pageid.PageId]*frame, capacity),
	}, nil
}

// Handle is a pinned, latched reference to a resident page. Callers must
// call Release when done.
type Handle struct {
	cache     *Cache
	frame     *frame
	exclusive bool
}

// Buf returns the page's bytes. Valid only while the handle is held.
func (h *Handle) Buf() []byte { return h.frame.buf }

// MarkDirty flags the page as needing to be written back on the next
// checkpoint. Only valid on a handle acquired exclusively.
func (h *Handle) MarkDirty() {
	h.frame.dirty.Store(true)
}

// Release unpins and unlatches the page.
func (h *Handle) Release() {
	if h.exclusive {
		h.frame.latch.Unlock()
	} else {
		h.frame.latch.RUnlock()
	}
	h.frame.pinCount.Add(-1)
}

// AcquireCheckpointReadLock takes the shared side of the checkpoint read
// lock; callers hold it for the duration of a single mutating operation
// (e.g. one B+Tree insert) and release it before returning to the caller.
func (c *Cache) AcquireCheckpointReadLock() func() {
	c.checkpointLock.RLock()
	return c.checkpointLock.RUnlock
}

// Acquire pins and latches id, loading it from the page store on a miss
// and evicting a victim frame if the cache is at capacity. exclusive
// takes the page's write latch; otherwise its read latch.
func (c *Cache) Acquire(id pageid.PageId, exclusive bool) (*Handle, error) {
	f, err := c.resident(id)
	if err != nil {
		return nil, err
	}
	f.referenced.Store(true)
	f.pinCount.Add(1)
	if exclusive {
		f.latch.Lock()
	} else {
		f.latch.RLock()
	}
	return &Handle{cache: c, frame: f, exclusive: exclusive}, nil
}

func (c *Cache) resident(id pageid.PageId) (*frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.frames[id]; ok {
		metrics.PageCacheHits.Inc()
		return f, nil
	}
	metrics.PageCacheMisses.Inc()

	if len(c.frames) >= c.capacity {
		if err := c.evictLocked(); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, c.pageSize)
	if err := c.store.Read(id, buf, false); err != nil {
		return nil, err
	}

	f := &frame{id: id, buf: buf}
	c.frames[id] = f
	c.clock = append(c.clock, id)
	metrics.PagesResident.Set(float64(len(c.frames)))
	return f, nil
}

// evictLocked runs one pass of the clock algorithm, starting from the
// current hand, looking for an unpinned frame with its reference bit
// clear. Dirty victims are flushed before eviction. Caller must hold c.mu.
func (c *Cache) evictLocked() error {
	if len(c.clock) == 0 {
		return &gridcore.InternalError{Assertion: "pagemem: evict called on empty cache"}
	}

	for scanned := 0; scanned < 2*len(c.clock); scanned++ {
		idx := c.hand % len(c.clock)
		id := c.clock[idx]
		f := c.frames[id]

		if f.pinCount.Load() > 0 {
			c.hand++
			continue
		}
		if f.referenced.Load() {
			f.referenced.Store(false)
			c.hand++
			continue
		}

		if f.dirty.Load() {
			pageType, version, pid := pagestore.ReadHeader(f.buf)
			pagestore.WriteHeader(f.buf, pageType, version, pid)
			if err := c.store.Write(id, f.buf, 0); err != nil {
				return err
			}
			f.dirty.Store(false)
		}

		delete(c.frames, id)
		c.clock = append(c.clock[:idx], c.clock[idx+1:]...)
		if c.hand > idx {
			c.hand--
		}
		metrics.PagesResident.Set(float64(len(c.frames)))
		return nil
	}
	return &gridcore.InternalError{Assertion: "pagemem: no evictable frame found (all pinned)"}
}

// Checkpoint takes the exclusive side of the checkpoint read lock,
// flushes every dirty resident page to the store, and fsyncs it.
func (c *Cache) Checkpoint() error {
	c.checkpointLock.Lock()
	defer c.checkpointLock.Unlock()

	c.mu.Lock()
	dirtyCount := 0
	var flushErr error
	for id, f := range c.frames {
		f.latch.Lock()
		if f.dirty.Load() {
			pageType, version, pid := pagestore.ReadHeader(f.buf)
			pagestore.WriteHeader(f.buf, pageType, version, pid)
			if err := c.store.Write(id, f.buf, 0); err != nil {
				flushErr = err
				f.latch.Unlock()
				break
			}
			f.dirty.Store(false)
			dirtyCount++
		}
		f.latch.Unlock()
	}
	c.mu.Unlock()

	if flushErr != nil {
		return flushErr
	}

	metrics.PagesDirty.Set(0)
	log.WithComponent("pagemem").Debug().Int("flushed", dirtyCount).Msg("checkpoint flushed dirty pages")
	return c.store.Sync()
}

// Resident reports how many pages are currently cached, for tests and
// metrics collection.
func (c *Cache) Resident() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}
