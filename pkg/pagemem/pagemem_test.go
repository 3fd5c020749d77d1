package pagemem

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/gridcore/pkg/pageid"
	"github.com/cuemby/gridcore/pkg/pagestore"
)

func newTestStore(t *testing.T) pagestore.Store {
	t.Helper()
	store, err := pagestore.NewFileStore(t.TempDir(), 4096)
	require.NoError(t, err)
	t.Cleanup(func() { store.Stop(false) })
	return store
}

func TestAcquireLoadsFromStoreOnMiss(t *testing.T) {
	store := newTestStore(t)
	id, err := store.Allocate(pageid.FlagData, 1)
	require.NoError(t, err)

	buf := make([]byte, 4096)
	pagestore.WriteHeader(buf, pagestore.PageTypeData, 1, id)
	require.NoError(t, store.Write(id, buf, 1))

	cache, err := New(store, 4)
	require.NoError(t, err)

	h, err := cache.Acquire(id, false)
	require.NoError(t, err)
	require.Equal(t, buf, h.Buf())
	h.Release()

	require.Equal(t, 1, cache.Resident())
}

func TestMarkDirtyThenCheckpointFlushes(t *testing.T) {
	store := newTestStore(t)
	id, err := store.Allocate(pageid.FlagData, 1)
	require.NoError(t, err)

	initial := make([]byte, 4096)
	pagestore.WriteHeader(initial, pagestore.PageTypeData, 1, id)
	require.NoError(t, store.Write(id, initial, 1))

	cache, err := New(store, 4)
	require.NoError(t, err)

	h, err := cache.Acquire(id, true)
	require.NoError(t, err)
	copy(h.Buf()[pagestore.HeaderSize:], []byte("dirty-write"))
	h.MarkDirty()
	h.Release()

	require.NoError(t, cache.Checkpoint())

	readBack := make([]byte, 4096)
	require.NoError(t, store.Read(id, readBack, false))
	require.Equal(t, []byte("dirty-write"), readBack[pagestore.HeaderSize:pagestore.HeaderSize+len("dirty-write")])
}

func TestEvictionRespectsCapacity(t *testing.T) {
	store := newTestStore(t)

	var ids []pageid.PageId
	for i := 0; i < 5; i++ {
		id, err := store.Allocate(pageid.FlagData, 1)
		require.NoError(t, err)
		buf := make([]byte, 4096)
		pagestore.WriteHeader(buf, pagestore.PageTypeData, 1, id)
		require.NoError(t, store.Write(id, buf, 1))
		ids = append(ids, id)
	}

	cache, err := New(store, 2)
	require.NoError(t, err)

	for _, id := range ids {
		h, err := cache.Acquire(id, false)
		require.NoError(t, err)
		h.Release()
		require.LessOrEqual(t, cache.Resident(), 2)
	}
}

func TestCheckpointReadLockSerializesAgainstCheckpoint(t *testing.T) {
	store := newTestStore(t)
	cache, err := New(store, 2)
	require.NoError(t, err)

	release := cache.AcquireCheckpointReadLock()
	release()

	require.NoError(t, cache.Checkpoint())
}
