package btree

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/gridcore/pkg/pagemem"
	"github.com/cuemby/gridcore/pkg/pageid"
	"github.com/cuemby/gridcore/pkg/pagestore"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	store, err := pagestore.NewFileStore(t.TempDir(), 4096)
	require.NoError(t, err)
	t.Cleanup(func() { store.Stop(false) })

	cache, err := pagemem.New(store, 64)
	require.NoError(t, err)

	tree, err := Open(cache, store, nil, 1, 0, 8, ByteComparator, 0)
	require.NoError(t, err)
	return tree
}

func keyFor(i int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(i))
	return b
}

func TestPutAndFindSingleEntry(t *testing.T) {
	tree := newTestTree(t)

	link := pageid.NewLink(pageid.New(pageid.FlagData, 0, 1), 0)
	require.NoError(t, tree.Put(keyFor(42), link))

	found, err := tree.Find(keyFor(42))
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, link, found[0])

	found, err = tree.Find(keyFor(43))
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestPutCausesLeafAndRootSplits(t *testing.T) {
	tree := newTestTree(t)

	const n = 400
	for i := 0; i < n; i++ {
		link := pageid.NewLink(pageid.New(pageid.FlagData, 0, uint64(i)), 0)
		require.NoError(t, tree.Put(keyFor(i), link))
	}

	for i := 0; i < n; i++ {
		found, err := tree.Find(keyFor(i))
		require.NoError(t, err)
		require.Lenf(t, found, 1, "key %d", i)
	}
}

func TestCursorRangeScanIsOrdered(t *testing.T) {
	tree := newTestTree(t)

	const n = 300
	for i := n - 1; i >= 0; i-- {
		link := pageid.NewLink(pageid.New(pageid.FlagData, 0, uint64(i)), 0)
		require.NoError(t, tree.Put(keyFor(i), link))
	}

	cur, err := tree.FindAll(keyFor(100), keyFor(200))
	require.NoError(t, err)

	var got []int
	for {
		row, ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, int(binary.BigEndian.Uint64(row.Key)))
	}

	require.Len(t, got, 101)
	for i, v := range got {
		require.Equal(t, 100+i, v)
	}
}

func TestRemoveDeletesExactEntry(t *testing.T) {
	tree := newTestTree(t)

	link := pageid.NewLink(pageid.New(pageid.FlagData, 0, 7), 0)
	require.NoError(t, tree.Put(keyFor(5), link))

	removed, err := tree.Remove(keyFor(5), link)
	require.NoError(t, err)
	require.True(t, removed)

	found, err := tree.Find(keyFor(5))
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestNonUniqueKeysOrderedByLink(t *testing.T) {
	tree := newTestTree(t)

	linkA := pageid.NewLink(pageid.New(pageid.FlagData, 0, 1), 0)
	linkB := pageid.NewLink(pageid.New(pageid.FlagData, 0, 2), 0)
	require.NoError(t, tree.Put(keyFor(1), linkA))
	require.NoError(t, tree.Put(keyFor(1), linkB))

	found, err := tree.Find(keyFor(1))
	require.NoError(t, err)
	require.Len(t, found, 2)
}
