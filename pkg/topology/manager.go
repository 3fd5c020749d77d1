package topology

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/cuemby/gridcore/pkg/clustermeta"
	"github.com/cuemby/gridcore/pkg/gridcore"
	"github.com/cuemby/gridcore/pkg/log"
	"github.com/cuemby/gridcore/pkg/metrics"
)

// Config configures a Manager.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Manager runs the raft group that replicates cluster membership and
// the topology version across nodes.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft          *raft.Raft
	fsm           *FSM
	store         clustermeta.Store
	transportAddr raft.ServerAddress
}

// New creates a Manager backed by a fresh clustermeta BoltStore under
// cfg.DataDir.
func New(cfg Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, &gridcore.ConfigurationError{Field: "topology.DataDir", Reason: err.Error()}
	}

	store, err := clustermeta.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	return &Manager{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      NewFSM(store),
		store:    store,
	}, nil
}

func (m *Manager) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (m *Manager) startRaft(config *raft.Config) error {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return fmt.Errorf("topology: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("topology: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("topology: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("topology: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("topology: create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("topology: create raft: %w", err)
	}
	m.raft = r
	m.transportAddr = transport.LocalAddr()
	return nil
}

// Bootstrap starts a brand new single-node cluster.
func (m *Manager) Bootstrap() error {
	config := m.raftConfig()
	if err := m.startRaft(config); err != nil {
		return err
	}

	future := m.raft.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: config.LocalID, Address: m.transportAddr}},
	})
	if err := future.Error(); err != nil {
		return fmt.Errorf("topology: bootstrap cluster: %w", err)
	}

	log.WithComponent("topology").Info().Str("node_id", m.nodeID).Msg("bootstrapped single-node topology cluster")
	return nil
}

// Join starts raft for a node that will join an existing cluster via
// the leader's AddVoter call; the caller is expected to contact the
// leader out of band (e.g. over pkg/rpc) to request admission.
func (m *Manager) Join() error {
	return m.startRaft(m.raftConfig())
}

// JoinNode replicates a new node's membership record. Must be called on
// the leader.
func (m *Manager) JoinNode(node clustermeta.NodeRecord) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	return m.apply(Command{Op: opJoinNode, Data: data})
}

// LeaveNode removes a node's membership record. Must be called on the
// leader.
func (m *Manager) LeaveNode(nodeID string) error {
	data, err := json.Marshal(nodeID)
	if err != nil {
		return err
	}
	return m.apply(Command{Op: opLeaveNode, Data: data})
}

// AdvanceTopology bumps the topology version without a membership
// change, e.g. after an administrator forces a rebalance.
func (m *Manager) AdvanceTopology() error {
	return m.apply(Command{Op: opAdvanceTopology})
}

func (m *Manager) apply(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("topology: apply %s: %w", cmd.Op, err)
	}
	if err, ok := future.Response().(error); ok && err != nil {
		return fmt.Errorf("topology: %s: %w", cmd.Op, err)
	}
	metrics.TopologyVersion.Set(float64(m.fsm.TopologyVersion()))
	return nil
}

// IsLeader reports whether this node currently holds raft leadership.
func (m *Manager) IsLeader() bool {
	return m.raft.State() == raft.Leader
}

// TopologyVersion returns the locally-applied topology version.
func (m *Manager) TopologyVersion() int64 {
	return m.fsm.TopologyVersion()
}

// Nodes returns the current membership view.
func (m *Manager) Nodes() ([]*clustermeta.NodeRecord, error) {
	return m.store.ListNodes()
}

// Shutdown stops raft and closes the metadata store.
func (m *Manager) Shutdown() error {
	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return err
		}
	}
	return m.store.Close()
}
