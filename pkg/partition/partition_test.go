package partition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLegalStateTransitions(t *testing.T) {
	p := New(1)
	require.Equal(t, StateMoving, p.State())

	require.NoError(t, p.TransitionTo(StateOwning))
	require.NoError(t, p.TransitionTo(StateRenting))
	require.NoError(t, p.TransitionTo(StateEvicted))
}

func TestIllegalTransitionRejected(t *testing.T) {
	p := New(1)
	require.NoError(t, p.TransitionTo(StateOwning))

	err := p.TransitionTo(StateMoving)
	require.Error(t, err)
}

func TestReservationPreventsEvictionTransition(t *testing.T) {
	p := New(1)
	require.NoError(t, p.TransitionTo(StateOwning))
	require.NoError(t, p.TransitionTo(StateRenting))

	guard, err := p.TryReserve()
	require.NoError(t, err)
	require.False(t, p.ReadyForEviction())

	guard.Release()
	require.Equal(t, StateEvicted, p.State(), "draining the last reservation on a RENTING partition must evict it synchronously")
}

func TestReleaseEvictsOnlyOnLastReservation(t *testing.T) {
	p := New(1)
	require.NoError(t, p.TransitionTo(StateOwning))
	require.NoError(t, p.TransitionTo(StateRenting))

	first, err := p.TryReserve()
	require.NoError(t, err)
	second, err := p.TryReserve()
	require.NoError(t, err)

	first.Release()
	require.Equal(t, StateRenting, p.State())
	require.Equal(t, uint64(1), p.Reservations())

	second.Release()
	require.Equal(t, StateEvicted, p.State())
}

func TestReserveFailsOnEvictedPartition(t *testing.T) {
	p := New(1)
	require.NoError(t, p.TransitionTo(StateOwning))
	require.NoError(t, p.TransitionTo(StateRenting))
	require.NoError(t, p.TransitionTo(StateEvicted))

	_, err := p.TryReserve()
	require.Error(t, err)
}

func TestAffinityAssignsEveryPartitionToDistinctOwners(t *testing.T) {
	aff := NewAffinity(16, 1)
	assignment := aff.AssignPartitions([]string{"n1", "n2", "n3"}, 1)

	require.Len(t, assignment, 16)
	for part, owners := range assignment {
		require.LessOrEqual(t, len(owners), 2, "partition %d", part)
		require.NotEqual(t, owners[0], owners[len(owners)-1], "primary and sole backup must differ when more owners are available")
	}
}

func TestAffinityCacheCoalescesAndAgesOut(t *testing.T) {
	aff := NewAffinity(8, 0)
	cache := NewAffinityCache(aff)

	nodes := []string{"n1", "n2"}
	a1, err := cache.Get("orders", 1, nodes)
	require.NoError(t, err)

	a2, err := cache.Get("orders", 1, nodes)
	require.NoError(t, err)
	require.Equal(t, a1, a2)
	require.Equal(t, 1, cache.Size())

	for v := int64(2); v <= 13; v++ {
		_, err := cache.Get("orders", v, nodes)
		require.NoError(t, err)
	}
	// version 1 is now 12 versions behind version 13: beyond maxTopologyDrift
	require.Less(t, cache.Size(), 13)
}

func TestAffinityUnavailableWithNoNodes(t *testing.T) {
	aff := NewAffinity(4, 0)
	cache := NewAffinityCache(aff)

	_, err := cache.Get("orders", 1, nil)
	require.Error(t, err)
}

func TestEvictionHistoryWrapsAtCapacity(t *testing.T) {
	h := NewEvictionHistory(3)
	h.Record(1, 10)
	h.Record(2, 11)
	h.Record(3, 12)
	h.Record(4, 13)

	recent := h.Recent()
	require.Len(t, recent, 3)
	require.Equal(t, uint32(2), recent[0].PartID)
	require.Equal(t, uint32(4), recent[2].PartID)
}

func TestMapSweepDeferredMovesDrainedPartitionsToEvicted(t *testing.T) {
	m := NewMap(8)
	p := m.Create(5)
	require.NoError(t, p.TransitionTo(StateOwning))
	require.NoError(t, p.TransitionTo(StateRenting))

	evicted := m.SweepDeferred(1)
	require.Len(t, evicted, 1)
	require.Equal(t, StateEvicted, p.State())

	drained := m.DrainDeferred()
	require.Len(t, drained, 1)
	require.Empty(t, m.DrainDeferred())
}
