// Package partition implements the per-partition lifecycle state machine
// and affinity layer (§4.G): MOVING/OWNING/RENTING/EVICTED transitions
// with atomic reservation counting, a rendezvous-hashing affinity
// function, a singleflight-coalesced affinity cache, and eviction
// bookkeeping.
package partition

import (
	"sync/atomic"

	"github.com/cuemby/gridcore/pkg/gridcore"
)

// State is a partition's position in its lifecycle.
type State uint8

const (
	// StateMoving is set while a partition's data is being streamed in
	// during rebalance; it cannot yet serve reads.
	StateMoving State = iota + 1
	// StateOwning is the partition's steady-state: this node holds a
	// full, authoritative copy and serves reads/writes for it.
	StateOwning
	// StateRenting means this node no longer owns the partition (the
	// affinity function moved it elsewhere) but is still holding it
	// until in-flight reservations drain.
	StateRenting
	// StateEvicted is terminal: the partition's pages have been (or are
	// about to be) freed. No new reservations are accepted.
	StateEvicted
)

func (s State) String() string {
	switch s {
	case StateMoving:
		return "MOVING"
	case StateOwning:
		return "OWNING"
	case StateRenting:
		return "RENTING"
	case StateEvicted:
		return "EVICTED"
	default:
		return "UNKNOWN"
	}
}

// legalTransitions enumerates the state machine's edges (§4.G): a
// partition moves from MOVING to OWNING once rebalance completes, from
// OWNING to RENTING once affinity moves it away, from RENTING to
// EVICTED once reservations drain, or straight from MOVING to EVICTED if
// a rebalance is cancelled before it finished.
var legalTransitions = map[State]map[State]bool{
	StateMoving:  {StateOwning: true, StateEvicted: true},
	StateOwning:  {StateRenting: true},
	StateRenting: {StateEvicted: true},
	StateEvicted: {},
}

const (
	stateBits  = 8
	stateShift = 56
	stateMask  = uint64(1)<<stateBits - 1
	reservMask = uint64(1)<<stateShift - 1
)

func pack(state State, reservations uint64) uint64 {
	return uint64(state)<<stateShift | (reservations & reservMask)
}

func unpack(word uint64) (State, uint64) {
	return State(word >> stateShift & stateMask), word & reservMask
}

// Partition tracks one partition's lifecycle state and reservation count
// in a single atomic word, so a reservation attempt and a state read are
// never torn apart by a concurrent state transition.
type Partition struct {
	id   uint32
	word atomic.Uint64
}

// New creates a partition in StateMoving with zero reservations.
func New(id uint32) *Partition {
	p := &Partition{id: id}
	p.word.Store(pack(StateMoving, 0))
	return p
}

// ID returns the partition's id.
func (p *Partition) ID() uint32 { return p.id }

// State returns the current lifecycle state.
func (p *Partition) State() State {
	state, _ := unpack(p.word.Load())
	return state
}

// Reservations returns the current reservation count.
func (p *Partition) Reservations() uint64 {
	_, reservations := unpack(p.word.Load())
	return reservations
}

// TransitionTo moves the partition to a new state, failing if the edge
// is not legal for the current state.
func (p *Partition) TransitionTo(to State) error {
	for {
		old := p.word.Load()
		from, reservations := unpack(old)
		if !legalTransitions[from][to] {
			return &gridcore.PartitionStateError{PartId: p.id, Op: "transition", Reason: "illegal " + from.String() + " -> " + to.String()}
		}
		next := pack(to, reservations)
		if p.word.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// ReservationGuard releases a reservation taken by TryReserve exactly
// once; calling Release twice is a programming error the caller must
// avoid (mirrors the "no double-remove" invariant in §4.G).
type ReservationGuard struct {
	p *Partition
}

// Release decrements the partition's reservation count. Draining the
// last reservation on a RENTING partition transitions it straight to
// EVICTED as part of the same CAS, so eviction never waits on a
// separate caller-driven sweep.
func (g ReservationGuard) Release() {
	for {
		old := g.p.word.Load()
		state, reservations := unpack(old)
		if reservations == 0 {
			return
		}
		reservations--
		next := pack(state, reservations)
		if state == StateRenting && reservations == 0 {
			next = pack(StateEvicted, 0)
		}
		if g.p.word.CompareAndSwap(old, next) {
			return
		}
	}
}

// TryReserve increments the reservation count unless the partition is
// EVICTED, in which case it fails: an evicted partition's pages may
// already be gone, so no new reader/writer may attach to it.
func (p *Partition) TryReserve() (ReservationGuard, error) {
	for {
		old := p.word.Load()
		state, reservations := unpack(old)
		if state == StateEvicted {
			return ReservationGuard{}, &gridcore.PartitionStateError{PartId: p.id, Op: "reserve", Reason: "partition is evicted"}
		}
		next := pack(state, reservations+1)
		if p.word.CompareAndSwap(old, next) {
			return ReservationGuard{p: p}, nil
		}
	}
}

// ReadyForEviction reports whether a RENTING partition has drained all
// its reservations and can legally transition to EVICTED.
func (p *Partition) ReadyForEviction() bool {
	state, reservations := unpack(p.word.Load())
	return state == StateRenting && reservations == 0
}
