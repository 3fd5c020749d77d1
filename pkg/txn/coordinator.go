package txn

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/gridcore/pkg/gridcore"
	"github.com/cuemby/gridcore/pkg/metrics"
)

// Isolation selects the prepare protocol a transaction uses.
type Isolation uint8

const (
	Pessimistic Isolation = iota
	Optimistic
)

// PrimaryReply is what one primary returns from a (pessimistic) lock
// acquisition or (optimistic) conflict check.
type PrimaryReply struct {
	Primary       string
	DhtVersion    int64
	EntryVersion  int64
	RetryHint     bool
}

// Primary abstracts one write-set participant so Coordinator can run
// against either a real pkg/rpc-backed remote primary or an in-process
// fake in tests.
type Primary interface {
	// Lock acquires a pessimistic lock for xid on key, verifying
	// dhtVersion against the primary's own view.
	Lock(ctx context.Context, xid, key string, dhtVersion int64) (PrimaryReply, error)
	// CheckConflict performs the optimistic prepare-time conflict check.
	CheckConflict(ctx context.Context, xid, key string, dhtVersion int64) (PrimaryReply, error)
	// Apply commits writeVersion's writes through the primary's F/E
	// path and replicates to its backups.
	Apply(ctx context.Context, xid string, writeVersion int64) error
	// Unlock releases any lock xid holds on key.
	Unlock(xid, key string)
}

// WriteOp is one write in a transaction's write-set.
type WriteOp struct {
	Key        string
	Primary    string
	DhtVersion int64
}

// Tx is one transaction's coordinator-side state.
type Tx struct {
	Xid       string
	Isolation Isolation

	mu           sync.Mutex
	state        State
	writeVersion int64
	writes       []WriteOp
	backoff      *Backoff

	remapCount int
	maxRemaps  int
}

// State returns the transaction's current state.
func (tx *Tx) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Coordinator drives transactions through prepare/commit/rollback
// against a set of named primaries (§4.H).
type Coordinator struct {
	locks    *LockTable
	waitFor  *WaitForGraph
	primaries map[string]Primary

	maxRemaps int

	mu   sync.Mutex
	txns map[string]*Tx
}

// Config configures a Coordinator.
type Config struct {
	// MaxRemaps bounds optimistic re-prepare attempts before the tx
	// fails with a budget-exhausted error (§4.H).
	MaxRemaps int
}

// NewCoordinator creates a Coordinator over the given primaries, keyed
// by the primary name used in WriteOp.Primary.
func NewCoordinator(cfg Config, primaries map[string]Primary) *Coordinator {
	maxRemaps := cfg.MaxRemaps
	if maxRemaps <= 0 {
		maxRemaps = 3
	}
	graph := NewWaitForGraph()
	return &Coordinator{
		locks:     NewLockTable(graph),
		waitFor:   graph,
		primaries: primaries,
		maxRemaps: maxRemaps,
		txns:      make(map[string]*Tx),
	}
}

// Begin starts a new transaction with the given isolation and overall
// deadline.
func (c *Coordinator) Begin(isolation Isolation, deadline time.Time) *Tx {
	tx := &Tx{
		Xid:       uuid.NewString(),
		Isolation: isolation,
		state:     StateActive,
		backoff:   NewBackoff(10*time.Millisecond, 2.0, 2*time.Second, deadline),
		maxRemaps: c.maxRemaps,
	}
	c.mu.Lock()
	c.txns[tx.Xid] = tx
	c.mu.Unlock()
	return tx
}

// Prepare runs the prepare protocol for tx's write-set, pessimistic or
// optimistic per tx.Isolation.
func (c *Coordinator) Prepare(ctx context.Context, tx *Tx, writes []WriteOp) error {
	tx.mu.Lock()
	if err := transitionTo(&tx.state, tx.Xid, StatePreparing); err != nil {
		tx.mu.Unlock()
		return err
	}
	tx.writes = writes
	tx.mu.Unlock()

	var err error
	if tx.Isolation == Pessimistic {
		err = c.preparePessimistic(ctx, tx)
	} else {
		err = c.prepareOptimistic(ctx, tx)
	}
	if err != nil {
		return err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	return transitionTo(&tx.state, tx.Xid, StatePrepared)
}

// preparePessimistic acquires locks at every primary in write-set
// order, then verifies DHT version consistency.
func (c *Coordinator) preparePessimistic(ctx context.Context, tx *Tx) error {
	keys := make([]string, len(tx.writes))
	byKey := make(map[string]WriteOp, len(tx.writes))
	for i, w := range tx.writes {
		keys[i] = w.Key
		byKey[w.Key] = w
	}
	sort.Strings(keys)

	if err := c.locks.AcquireAll(tx.Xid, keys); err != nil {
		return err
	}

	for _, key := range keys {
		w := byKey[key]
		p, ok := c.primaries[w.Primary]
		if !ok {
			c.locks.ReleaseAll(tx.Xid, keys)
			return &gridcore.InternalError{Assertion: "txn " + tx.Xid + ": unknown primary " + w.Primary}
		}
		reply, err := p.Lock(ctx, tx.Xid, key, w.DhtVersion)
		if err != nil || reply.DhtVersion != w.DhtVersion {
			c.locks.ReleaseAll(tx.Xid, keys)
			for _, k2 := range keys {
				if p2, ok := c.primaries[byKey[k2].Primary]; ok {
					p2.Unlock(tx.Xid, k2)
				}
			}
			if err != nil {
				return err
			}
			return &gridcore.LockConflictError{Key: key, ConflictXid: "dht-version-mismatch"}
		}
	}
	return nil
}

// prepareOptimistic performs conflict checks against current versions
// without a pre-lock phase, re-mapping and re-preparing up to
// tx.maxRemaps times on conflict.
func (c *Coordinator) prepareOptimistic(ctx context.Context, tx *Tx) error {
	for {
		conflict := false
		for _, w := range tx.writes {
			p, ok := c.primaries[w.Primary]
			if !ok {
				return &gridcore.InternalError{Assertion: "txn " + tx.Xid + ": unknown primary " + w.Primary}
			}
			reply, err := p.CheckConflict(ctx, tx.Xid, w.Key, w.DhtVersion)
			if err != nil {
				return err
			}
			if reply.RetryHint {
				conflict = true
				break
			}
		}
		if !conflict {
			return nil
		}

		tx.mu.Lock()
		tx.remapCount++
		exceeded := tx.remapCount > tx.maxRemaps
		tx.mu.Unlock()
		if exceeded {
			return &gridcore.TxTimeoutError{Xid: tx.Xid, Elapsed: "remap budget exhausted"}
		}
		if _, err := tx.backoff.Next(tx.Xid, time.Now()); err != nil {
			return err
		}
	}
}

// CanOnePhaseCommit reports whether tx's write-set qualifies for fused
// prepare+commit: exactly one primary and nothing else holding its
// locks across multiple primaries (§4.H invariant).
func CanOnePhaseCommit(writes []WriteOp) bool {
	if len(writes) == 0 {
		return false
	}
	first := writes[0].Primary
	for _, w := range writes[1:] {
		if w.Primary != first {
			return false
		}
	}
	return true
}

// Commit commits a PREPARED transaction: COMMIT(writeVersion) to every
// primary in the write-set, applied through F/E and replicated to
// backups.
func (c *Coordinator) Commit(ctx context.Context, tx *Tx, writeVersion int64) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TxCommitDuration)

	tx.mu.Lock()
	if err := transitionTo(&tx.state, tx.Xid, StateCommitting); err != nil {
		tx.mu.Unlock()
		return err
	}
	tx.writeVersion = writeVersion
	writes := tx.writes
	tx.mu.Unlock()

	if CanOnePhaseCommit(writes) {
		metrics.TxOnePhaseCommits.Inc()
	}

	seen := map[string]bool{}
	for _, w := range writes {
		if seen[w.Primary] {
			continue
		}
		seen[w.Primary] = true
		p, ok := c.primaries[w.Primary]
		if !ok {
			return &gridcore.InternalError{Assertion: "txn " + tx.Xid + ": unknown primary " + w.Primary}
		}
		if err := p.Apply(ctx, tx.Xid, writeVersion); err != nil {
			return err
		}
	}

	if tx.Isolation == Pessimistic {
		c.releaseLocks(tx)
	}
	c.waitFor.RemoveWaiter(tx.Xid)
	metrics.TxCommitted.Inc()

	tx.mu.Lock()
	defer tx.mu.Unlock()
	return transitionTo(&tx.state, tx.Xid, StateCommitted)
}

// Rollback releases locks and discards tentative writes from any
// pre-commit state.
func (c *Coordinator) Rollback(tx *Tx) error {
	tx.mu.Lock()
	if err := transitionTo(&tx.state, tx.Xid, StateRollingBack); err != nil {
		tx.mu.Unlock()
		return err
	}
	tx.mu.Unlock()

	c.releaseLocks(tx)
	c.waitFor.RemoveWaiter(tx.Xid)
	metrics.TxRolledBack.Inc()

	tx.mu.Lock()
	defer tx.mu.Unlock()
	return transitionTo(&tx.state, tx.Xid, StateRolledBack)
}

func (c *Coordinator) releaseLocks(tx *Tx) {
	tx.mu.Lock()
	writes := tx.writes
	tx.mu.Unlock()

	for _, w := range writes {
		c.locks.Release(tx.Xid, w.Key)
		if p, ok := c.primaries[w.Primary]; ok {
			p.Unlock(tx.Xid, w.Key)
		}
	}
}

// DetectDeadlocks probes the waits-for graph from every active
// transaction, rolls back one participant per cycle found, and returns
// the xids aborted this way.
func (c *Coordinator) DetectDeadlocks() []string {
	c.mu.Lock()
	xids := make([]string, 0, len(c.txns))
	txByXid := make(map[string]*Tx, len(c.txns))
	for xid, tx := range c.txns {
		xids = append(xids, xid)
		txByXid[xid] = tx
	}
	c.mu.Unlock()

	aborted := map[string]bool{}
	var result []string
	for _, xid := range xids {
		if aborted[xid] {
			continue
		}
		cycle := c.waitFor.DetectCycle(xid)
		if cycle == nil {
			continue
		}
		victim := cycle[len(cycle)-1]
		aborted[victim] = true
		result = append(result, victim)
		metrics.TxDeadlocksDetected.Inc()
		if vtx, ok := txByXid[victim]; ok {
			_ = c.Rollback(vtx)
		}
	}
	return result
}
