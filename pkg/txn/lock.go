package txn

import (
	"sync"

	"github.com/cuemby/gridcore/pkg/gridcore"
)

// LockTable grants exclusive, reentrant per-key locks keyed by xid:
// a transaction that already holds a key's lock is granted it again
// (reentrant locking, §4.H "locks carry the originator's xid so
// reentrant locking is allowed"). A conflicting request fails
// immediately with a retryable LockConflictError and records a
// wait-for edge so deadlock detection can see it.
type LockTable struct {
	mu       sync.Mutex
	holders  map[string]string // key -> holding xid
	waitFor  *WaitForGraph
}

// NewLockTable creates an empty lock table reporting waits into graph.
func NewLockTable(graph *WaitForGraph) *LockTable {
	return &LockTable{holders: make(map[string]string), waitFor: graph}
}

// Acquire locks key for xid, or returns a LockConflictError naming the
// current holder if it is held by a different transaction.
func (t *LockTable) Acquire(xid, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if holder, ok := t.holders[key]; ok {
		if holder == xid {
			return nil
		}
		t.waitFor.AddEdge(xid, holder, key)
		return &gridcore.LockConflictError{Key: key, ConflictXid: holder}
	}
	t.holders[key] = xid
	return nil
}

// AcquireAll locks every key in order, releasing everything already
// acquired if any key conflicts. Write-set order is the caller's
// responsibility (§4.H: "acquires locks at primaries in write-set
// order"), since a stable order across the whole set is what prevents
// lock-ordering deadlocks between two transactions with overlapping
// write sets.
func (t *LockTable) AcquireAll(xid string, keys []string) error {
	acquired := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := t.Acquire(xid, key); err != nil {
			t.ReleaseAll(xid, acquired)
			return err
		}
		acquired = append(acquired, key)
	}
	t.waitFor.RemoveWaiter(xid)
	return nil
}

// Release drops xid's lock on key, if it holds it.
func (t *LockTable) Release(xid, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.holders[key] == xid {
		delete(t.holders, key)
	}
}

// ReleaseAll drops every key in keys that xid holds.
func (t *LockTable) ReleaseAll(xid string, keys []string) {
	for _, key := range keys {
		t.Release(xid, key)
	}
}
