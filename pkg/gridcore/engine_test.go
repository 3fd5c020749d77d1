package gridcore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/gridcore/pkg/vacuum"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := New(Options{
		StorageDir:      filepath.Join(dir, "pages"),
		PageSize:        4096,
		WALDir:          filepath.Join(dir, "wal"),
		WALSegmentSize:  1 << 20,
		CacheCapacity:   64,
		PartitionCount:  16,
		BackupCount:     1,
		HistoryCapacity: 32,
		MaxRemaps:       3,
		VacuumWorkers:   2,
		VacuumBatchSize: 8,
		NodeID:          "node-test",
		TopologyBind:    "127.0.0.1:0",
		TopologyDir:     filepath.Join(dir, "topology"),
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func TestPutGetRoundTrips(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.OwnPartition(1))
	require.NoError(t, e.Put(ctx, 1, []byte("k1"), []byte("v1")))

	val, ok, err := e.Get(ctx, 1, []byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), val)
}

func TestGetOnUnownedPartitionFails(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Get(context.Background(), 99, []byte("k"))
	require.Error(t, err)
}

func TestPutOverwriteReturnsLatestValue(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.OwnPartition(2))

	require.NoError(t, e.Put(ctx, 2, []byte("k"), []byte("first")))
	require.NoError(t, e.Put(ctx, 2, []byte("k"), []byte("second")))

	val, ok, err := e.Get(ctx, 2, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("second"), val)
}

func TestDeleteRemovesKeyAndMarksVersionObsolete(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.OwnPartition(3))

	require.NoError(t, e.Put(ctx, 3, []byte("k"), []byte("v")))
	require.NoError(t, e.Delete(ctx, 3, []byte("k")))

	_, ok, err := e.Get(ctx, 3, []byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunVacuumCleansOverwrittenVersions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.OwnPartition(4))

	require.NoError(t, e.Put(ctx, 4, []byte("k"), []byte("v1")))
	require.NoError(t, e.Put(ctx, 4, []byte("k"), []byte("v2")))

	results, err := e.RunVacuum(ctx, vacuum.Task{Partition: 4, CleanupVersion: e.nextVersion})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 1, results[0].Cleaned)
}

func TestMetricsSnapshotReportsOwnedPartitions(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.OwnPartition(5))

	snap := e.MetricsSnapshot()
	require.Equal(t, int64(1), snap.TopologyVersion)
	require.Equal(t, 1, snap.PartitionsByState["OWNING"])
}
