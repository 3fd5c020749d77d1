// Package topology tracks cluster membership and the topology version
// (§4.G/§5) using raft for consensus: every node join, leave, or
// explicit topology bump is a replicated log entry, so every node
// computes affinity against the same membership view. It is deliberately
// kept off the transactional data path -- it answers "who is in the
// cluster, and as of which version", nothing about partition contents.
package topology

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/cuemby/gridcore/pkg/clustermeta"
)

// Command is one replicated membership operation.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opJoinNode         = "join_node"
	opLeaveNode        = "leave_node"
	opAdvanceTopology  = "advance_topology"
)

// FSM is the raft finite state machine backing cluster membership.
type FSM struct {
	mu              sync.RWMutex
	store           clustermeta.Store
	topologyVersion int64
}

// NewFSM creates an FSM persisting node records through store.
func NewFSM(store clustermeta.Store) *FSM {
	return &FSM{store: store, topologyVersion: 1}
}

// TopologyVersion returns the current, locally-applied topology version.
func (f *FSM) TopologyVersion() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.topologyVersion
}

// Apply applies one committed raft log entry.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("topology: unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opJoinNode:
		var node clustermeta.NodeRecord
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		if err := f.store.CreateNode(&node); err != nil {
			return err
		}
		f.topologyVersion++
		return nil

	case opLeaveNode:
		var nodeID string
		if err := json.Unmarshal(cmd.Data, &nodeID); err != nil {
			return err
		}
		if err := f.store.DeleteNode(nodeID); err != nil {
			return err
		}
		f.topologyVersion++
		return nil

	case opAdvanceTopology:
		f.topologyVersion++
		return nil

	default:
		return fmt.Errorf("topology: unknown command %q", cmd.Op)
	}
}

// Snapshot captures the current membership and topology version.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	nodes, err := f.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("topology: list nodes: %w", err)
	}
	return &fsmSnapshot{Nodes: nodes, TopologyVersion: f.topologyVersion}, nil
}

// Restore replaces local state with a previously captured snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap fsmSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("topology: decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, node := range snap.Nodes {
		if err := f.store.CreateNode(node); err != nil {
			return fmt.Errorf("topology: restore node %s: %w", node.ID, err)
		}
	}
	f.topologyVersion = snap.TopologyVersion
	return nil
}

type fsmSnapshot struct {
	Nodes           []*clustermeta.NodeRecord
	TopologyVersion int64
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}
