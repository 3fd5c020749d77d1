package rowstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/gridcore/pkg/pagemem"
	"github.com/cuemby/gridcore/pkg/pagestore"
)

func newTestRowStore(t *testing.T) *RowStore {
	t.Helper()
	store, err := pagestore.NewFileStore(t.TempDir(), 4096)
	require.NoError(t, err)
	t.Cleanup(func() { store.Stop(false) })

	cache, err := pagemem.New(store, 64)
	require.NoError(t, err)

	rs, err := New(store, cache, nil, 1, 0)
	require.NoError(t, err)
	return rs
}

func TestInsertAndGetSmallRow(t *testing.T) {
	rs := newTestRowStore(t)

	link, err := rs.Insert([]byte("hello world"))
	require.NoError(t, err)

	got, err := rs.Get(link)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)
}

func TestInsertFragmentsLargeRow(t *testing.T) {
	rs := newTestRowStore(t)

	big := bytes.Repeat([]byte("x"), 10000)
	link, err := rs.Insert(big)
	require.NoError(t, err)

	got, err := rs.Get(link)
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestUpdateInPlaceSameSize(t *testing.T) {
	rs := newTestRowStore(t)

	link, err := rs.Insert([]byte("original"))
	require.NoError(t, err)

	newLink, err := rs.Update(link, []byte("replaced"))
	require.NoError(t, err)
	require.Equal(t, link, newLink, "same-size update should rewrite in place")

	got, err := rs.Get(newLink)
	require.NoError(t, err)
	require.Equal(t, []byte("replaced"), got)
}

func TestUpdateGrowingRowReinserts(t *testing.T) {
	rs := newTestRowStore(t)

	link, err := rs.Insert([]byte("short"))
	require.NoError(t, err)

	big := bytes.Repeat([]byte("y"), 10000)
	newLink, err := rs.Update(link, big)
	require.NoError(t, err)

	got, err := rs.Get(newLink)
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestRemoveFreesSlot(t *testing.T) {
	rs := newTestRowStore(t)

	link, err := rs.Insert([]byte("to be removed"))
	require.NoError(t, err)

	require.NoError(t, rs.Remove(link))

	_, err = rs.Get(link)
	require.Error(t, err)
}
