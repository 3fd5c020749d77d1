package clustermeta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNodeRoundTrip(t *testing.T) {
	store := openTestStore(t)

	node := &NodeRecord{ID: "n1", Address: "10.0.0.1:7000", JoinedAt: time.Now()}
	require.NoError(t, store.CreateNode(node))

	got, err := store.GetNode("n1")
	require.NoError(t, err)
	require.Equal(t, node.Address, got.Address)

	nodes, err := store.ListNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	require.NoError(t, store.DeleteNode("n1"))
	_, err = store.GetNode("n1")
	require.Error(t, err)
}

func TestCacheConfigRoundTrip(t *testing.T) {
	store := openTestStore(t)

	cfg := &CacheConfig{Name: "orders", PartitionCount: 1024, BackupCount: 1}
	require.NoError(t, store.SaveCacheConfig(cfg))

	got, err := store.GetCacheConfig("orders")
	require.NoError(t, err)
	require.Equal(t, 1024, got.PartitionCount)

	cfgs, err := store.ListCacheConfigs()
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
}

func TestAffinitySnapshotVersionPruning(t *testing.T) {
	store := openTestStore(t)

	for v := int64(10); v < 20; v++ {
		require.NoError(t, store.SaveAffinitySnapshot(&AffinitySnapshot{
			CacheName:       "orders",
			TopologyVersion: v,
			Assignment:      map[int][]string{0: {"n1", "n2"}},
		}))
	}

	require.NoError(t, store.DeleteAffinitySnapshotsBefore("orders", 15))

	_, err := store.LoadAffinitySnapshot("orders", 12)
	require.Error(t, err)

	snap, err := store.LoadAffinitySnapshot("orders", 17)
	require.NoError(t, err)
	require.Equal(t, int64(17), snap.TopologyVersion)
}
