package topology

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/gridcore/pkg/clustermeta"
)

func newBootstrappedManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Config{
		NodeID:   "node-1",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, m.Bootstrap())
	t.Cleanup(func() { _ = m.Shutdown() })

	require.Eventually(t, m.IsLeader, 2*time.Second, 10*time.Millisecond, "single-node cluster must elect itself leader")
	return m
}

func TestBootstrapElectsSelfLeader(t *testing.T) {
	m := newBootstrappedManager(t)
	require.True(t, m.IsLeader())
	require.EqualValues(t, 1, m.TopologyVersion())
}

func TestJoinNodeReplicatesAndBumpsVersion(t *testing.T) {
	m := newBootstrappedManager(t)

	require.NoError(t, m.JoinNode(clustermeta.NodeRecord{ID: "n2", Addr: "127.0.0.1:7001"}))
	require.EqualValues(t, 2, m.TopologyVersion())

	nodes, err := m.Nodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, "n2", nodes[0].ID)
}

func TestLeaveNodeRemovesMembershipAndBumpsVersion(t *testing.T) {
	m := newBootstrappedManager(t)

	require.NoError(t, m.JoinNode(clustermeta.NodeRecord{ID: "n2", Addr: "127.0.0.1:7001"}))
	require.NoError(t, m.LeaveNode("n2"))
	require.EqualValues(t, 3, m.TopologyVersion())

	nodes, err := m.Nodes()
	require.NoError(t, err)
	require.Empty(t, nodes)
}

func TestAdvanceTopologyBumpsVersionWithoutMembershipChange(t *testing.T) {
	m := newBootstrappedManager(t)

	require.NoError(t, m.AdvanceTopology())
	require.NoError(t, m.AdvanceTopology())
	require.EqualValues(t, 3, m.TopologyVersion())

	nodes, err := m.Nodes()
	require.NoError(t, err)
	require.Empty(t, nodes)
}
