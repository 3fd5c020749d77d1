package partition

import (
	"sync"

	"github.com/cuemby/gridcore/pkg/gridcore"
	"github.com/cuemby/gridcore/pkg/metrics"
)

// Map owns every partition a node currently knows about for one cache
// group, plus the eviction history and a deferred-delete queue: a
// partition that reaches EVICTED is not freed synchronously (a reader
// that reserved it a moment before the transition is still draining),
// it is pushed here and reclaimed by a background sweep once drained.
type Map struct {
	mu         sync.RWMutex
	partitions map[uint32]*Partition
	history    *EvictionHistory

	deferredMu sync.Mutex
	deferred   []*Partition
}

// NewMap creates an empty partition map with the given eviction history
// capacity.
func NewMap(historyCapacity int) *Map {
	return &Map{
		partitions: make(map[uint32]*Partition),
		history:    NewEvictionHistory(historyCapacity),
	}
}

// Create registers a new partition in StateMoving.
func (m *Map) Create(id uint32) *Partition {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := New(id)
	m.partitions[id] = p
	m.updateMetricsLocked()
	return p
}

// Get returns the partition for id, if known.
func (m *Map) Get(id uint32) (*Partition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.partitions[id]
	return p, ok
}

// Reserve reserves id for the duration of an operation; it fails if the
// partition is unknown or evicted.
func (m *Map) Reserve(id uint32) (ReservationGuard, error) {
	p, ok := m.Get(id)
	if !ok {
		return ReservationGuard{}, &gridcore.PartitionStateError{PartId: id, Op: "reserve", Reason: "no such partition"}
	}
	return p.TryReserve()
}

// StartRenting transitions id from OWNING to RENTING, e.g. because
// affinity moved it to another node.
func (m *Map) StartRenting(id uint32) error {
	p, ok := m.Get(id)
	if !ok {
		return &gridcore.PartitionStateError{PartId: id, Op: "rent", Reason: "no such partition"}
	}
	return p.TransitionTo(StateRenting)
}

// SweepDeferred moves every RENTING partition that has drained its
// reservations to EVICTED, records it in the eviction history, and
// queues it for reclamation.
func (m *Map) SweepDeferred(topologyVersion int64) []*Partition {
	m.mu.RLock()
	var candidates []*Partition
	for _, p := range m.partitions {
		if p.ReadyForEviction() {
			candidates = append(candidates, p)
		}
	}
	m.mu.RUnlock()

	var evicted []*Partition
	for _, p := range candidates {
		if err := p.TransitionTo(StateEvicted); err != nil {
			continue
		}
		m.history.Record(p.ID(), topologyVersion)
		evicted = append(evicted, p)
	}

	if len(evicted) > 0 {
		m.deferredMu.Lock()
		m.deferred = append(m.deferred, evicted...)
		m.deferredMu.Unlock()
	}

	m.mu.Lock()
	m.updateMetricsLocked()
	m.mu.Unlock()
	return evicted
}

// DrainDeferred removes and returns every partition queued for
// reclamation since the last call, so the caller can free its pages.
func (m *Map) DrainDeferred() []*Partition {
	m.deferredMu.Lock()
	defer m.deferredMu.Unlock()
	drained := m.deferred
	m.deferred = nil
	return drained
}

// History exposes the eviction history for diagnostics.
func (m *Map) History() *EvictionHistory { return m.history }

func (m *Map) updateMetricsLocked() {
	counts := map[State]int{}
	for _, p := range m.partitions {
		counts[p.State()]++
	}
	for _, s := range []State{StateMoving, StateOwning, StateRenting, StateEvicted} {
		metrics.PartitionsByState.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}
